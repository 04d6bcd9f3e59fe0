package export

import (
	"context"
	"errors"
	"fmt"
	"image"
	"log/slog"
	"time"

	"github.com/hashicorp/go-multierror"

	"github.com/gbgbgb8/tesla-x-cam/internal/ffmpeg"
	"github.com/gbgbgb8/tesla-x-cam/internal/layout"
)

// FrameSource yields the frame of one stream at a seeked position.
type FrameSource interface {
	Seek(ctx context.Context, at time.Duration) error
	Frame() image.Image
	Close() error
}

// SourceOpener opens a stream decoded at width x height and fps.
type SourceOpener interface {
	Open(ctx context.Context, s Stream, width, height, fps int) (FrameSource, error)
}

// DecoderOpener opens streams with ffmpeg raw-frame decoders.
type DecoderOpener struct {
	Runner *ffmpeg.Runner
}

func (o DecoderOpener) Open(ctx context.Context, s Stream, width, height, fps int) (FrameSource, error) {
	if o.Runner == nil {
		return nil, errors.New("ffmpeg not configured")
	}
	d, err := o.Runner.NewDecoder(ffmpeg.DecoderConfig{Path: s.Locator, Width: width, Height: height, FPS: fps})
	if err != nil {
		return nil, err
	}
	return d, nil
}

type CompositeConfig struct {
	FPS              int
	Pacing           Pacing
	SeekTimeout      time.Duration
	FrameLoopTimeout time.Duration
	PreserveAspect   bool
	Labels           bool
	Clock            Clock
}

// CompositeStrategy draws every visible stream onto a Surface frame by frame
// and records the result through a Sink.
type CompositeStrategy struct {
	opener  SourceOpener
	newSink SinkFactory
	cfg     CompositeConfig
	logger  *slog.Logger
}

func NewCompositeStrategy(opener SourceOpener, newSink SinkFactory, cfg CompositeConfig, logger *slog.Logger) *CompositeStrategy {
	if cfg.FPS <= 0 {
		cfg.FPS = 30
	}
	if cfg.Pacing == "" {
		cfg.Pacing = PacingFast
	}
	if cfg.SeekTimeout <= 0 {
		cfg.SeekTimeout = 10 * time.Second
	}
	if cfg.FrameLoopTimeout <= 0 {
		cfg.FrameLoopTimeout = 30 * time.Minute
	}
	if cfg.Clock == nil {
		cfg.Clock = RealClock
	}
	return &CompositeStrategy{opener: opener, newSink: newSink, cfg: cfg, logger: logger}
}

func (s *CompositeStrategy) Name() string         { return "composite" }
func (s *CompositeStrategy) Container() Container { return ContainerWebM }
func (s *CompositeStrategy) WorkState() State     { return StateCompositing }

func (s *CompositeStrategy) Execute(ctx context.Context, job *Job, dst string) (int, error) {
	fp, err := job.Policy.Plan(job.Visible, s.cfg.FPS)
	if err != nil {
		return 0, err
	}
	job.SetProgress(0, fp.Frames)

	spec := job.Spec()
	plan := job.Plan()
	rects := targets(job.Visible, plan, s.cfg.PreserveAspect)

	surface := NewSurface(spec.Width, spec.Height)
	defer surface.Release()

	sources, err := s.openSources(ctx, job.Visible, rects)
	defer s.closeSources(job.ID, sources)
	if err != nil {
		return 0, err
	}

	sink := s.newSink(spec.Width, spec.Height, s.cfg.FPS)
	asm, err := NewAssembler(dst)
	if err != nil {
		return 0, newError(KindSinkFailure, err)
	}
	asmDone := make(chan error, 1)
	go func() { asmDone <- asm.Consume(sink.Chunks()) }()

	stopped := false
	defer func() {
		if !stopped {
			sink.Abort()
			<-asmDone
		}
	}()

	if err := sink.Start(ctx); err != nil {
		return 0, newError(KindSinkFailure, err)
	}

	loopCtx, cancel := context.WithTimeout(ctx, s.cfg.FrameLoopTimeout)
	defer cancel()

	if err := s.frameLoop(loopCtx, job, fp, surface, sources, plan, rects, sink); err != nil {
		var e *Error
		switch {
		case errors.As(err, &e):
			return 0, e
		case ctx.Err() != nil:
			return 0, newError(KindCancelled, ctx.Err())
		case errors.Is(err, context.DeadlineExceeded):
			return 0, errorf(KindTimeout, "frame loop exceeded %s: %w", s.cfg.FrameLoopTimeout, err)
		}
		return 0, asError(err)
	}

	if err := job.Transition(StateFinalizing); err != nil {
		return 0, err
	}

	stopped = true
	var result *multierror.Error
	if err := sink.Stop(); err != nil {
		result = multierror.Append(result, err)
	}
	if err := <-asmDone; err != nil {
		result = multierror.Append(result, err)
	}
	if err := result.ErrorOrNil(); err != nil {
		return 0, newError(KindSinkFailure, err)
	}

	s.logger.Debug("composite finished", "job_id", job.ID, "frames", fp.Frames, "bytes", asm.Bytes())
	return fp.Frames, nil
}

func (s *CompositeStrategy) openSources(ctx context.Context, vs VisibleSet, rects []layout.Rect) ([]FrameSource, error) {
	sources := make([]FrameSource, 0, len(vs))
	for i, st := range vs {
		src, err := s.opener.Open(ctx, st, rects[i].W, rects[i].H, s.cfg.FPS)
		if err != nil {
			return sources, errorf(KindSourceFailure, "open %s stream: %w", st.Camera, err)
		}
		sources = append(sources, src)
	}
	return sources, nil
}

func (s *CompositeStrategy) closeSources(jobID string, sources []FrameSource) {
	var result *multierror.Error
	for _, src := range sources {
		if err := src.Close(); err != nil {
			result = multierror.Append(result, err)
		}
	}
	if err := result.ErrorOrNil(); err != nil {
		s.logger.Warn("failed to release frame sources", "job_id", jobID, "error", err)
	}
}

// frameLoop renders fp.Frames frames. Every frame redraws all panes in
// visible-set order.
func (s *CompositeStrategy) frameLoop(ctx context.Context, job *Job, fp FramePlan, surface *Surface,
	sources []FrameSource, plan, rects []layout.Rect, sink Sink) error {

	var pace *pacer
	if s.cfg.Pacing == PacingRealtime {
		pace = newPacer(s.cfg.Clock, fp.FPS)
	}

	for i := 0; i < fp.Frames; i++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		at := fp.At(i)

		surface.Clear()
		for k, src := range sources {
			if err := s.seek(ctx, src, at); err != nil {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				if errors.Is(err, context.DeadlineExceeded) {
					return errorf(KindSeekTimeout, "%s stream at %s: no frame within %s", job.Visible[k].Camera, at, s.cfg.SeekTimeout)
				}
				return errorf(KindSourceFailure, "%s stream at %s: %w", job.Visible[k].Camera, at, err)
			}
			surface.Draw(src.Frame(), rects[k])
			if s.cfg.Labels {
				surface.Label(job.Visible[k].Camera, plan[k])
			}
		}

		if err := sink.WriteFrame(surface.Image()); err != nil {
			return newError(KindSinkFailure, fmt.Errorf("frame %d: %w", i, err))
		}
		job.SetProgress(i+1, fp.Frames)

		if pace != nil {
			if err := pace.wait(ctx, i); err != nil {
				return err
			}
		}
	}
	return nil
}

func (s *CompositeStrategy) seek(ctx context.Context, src FrameSource, at time.Duration) error {
	seekCtx, cancel := context.WithTimeout(ctx, s.cfg.SeekTimeout)
	defer cancel()
	return src.Seek(seekCtx, at)
}
