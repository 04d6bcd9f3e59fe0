package export

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/hashicorp/go-multierror"

	"github.com/gbgbgb8/tesla-x-cam/internal/ffmpeg"
)

type TranscodeConfig struct {
	FPS            int
	Timeout        time.Duration
	PreserveAspect bool
}

// TranscodeStrategy stages every visible stream into the transcoder and
// composes them in a single ffmpeg invocation.
type TranscodeStrategy struct {
	tc     Transcoder
	cfg    TranscodeConfig
	logger *slog.Logger
}

func NewTranscodeStrategy(tc Transcoder, cfg TranscodeConfig, logger *slog.Logger) *TranscodeStrategy {
	if cfg.FPS <= 0 {
		cfg.FPS = 30
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Minute
	}
	return &TranscodeStrategy{tc: tc, cfg: cfg, logger: logger}
}

// Close releases the transcoder's work area when it has one.
func (s *TranscodeStrategy) Close() error {
	if c, ok := s.tc.(io.Closer); ok {
		return c.Close()
	}
	return nil
}

func (s *TranscodeStrategy) Name() string         { return "transcode" }
func (s *TranscodeStrategy) Container() Container { return ContainerMP4 }
func (s *TranscodeStrategy) WorkState() State     { return StateStaging }

func (s *TranscodeStrategy) Execute(ctx context.Context, job *Job, dst string) (frames int, err error) {
	if err := s.tc.Init(ctx); err != nil {
		return 0, newError(KindTranscoderInitFailed, err)
	}

	staged := make([]string, 0, len(job.Visible)+1)
	defer func() {
		var result *multierror.Error
		for _, name := range append(staged, transcodeOutput) {
			if rmErr := s.tc.Remove(name); rmErr != nil {
				result = multierror.Append(result, fmt.Errorf("remove %s: %w", name, rmErr))
			}
		}
		if cleanupErr := result.ErrorOrNil(); cleanupErr != nil {
			s.logger.Warn("sandbox cleanup incomplete", "job_id", job.ID, "error", cleanupErr)
		}
	}()

	for i, st := range job.Visible {
		name := stagedName(i)
		staged = append(staged, name)
		if err := s.stage(name, st.Locator); err != nil {
			return 0, newError(KindTranscoderInvocationFailed, err)
		}
	}

	total := 0
	if fp, err := job.Policy.Plan(job.Visible, s.cfg.FPS); err == nil {
		total = fp.Frames
	} else if job.Policy.Kind != PolicyShortest {
		return 0, err
	}
	job.SetProgress(0, total)

	_, known := job.Visible.MinDuration()
	args := TranscodeArgs{
		Inputs:         staged,
		Plan:           job.Plan(),
		Policy:         job.Policy,
		Frames:         total,
		DurationsKnown: known,
		FPS:            s.cfg.FPS,
		PreserveAspect: s.cfg.PreserveAspect,
	}.Build()

	runCtx, cancel := context.WithTimeout(ctx, s.cfg.Timeout)
	defer cancel()

	var lastFrame int
	err = s.tc.Run(runCtx, args, func(p ffmpeg.Progress) {
		lastFrame = p.Frame
		job.SetProgress(lastFrame, total)
	})
	if err != nil {
		if ctx.Err() != nil {
			return 0, newError(KindCancelled, ctx.Err())
		}
		if errors.Is(runCtx.Err(), context.DeadlineExceeded) {
			err = fmt.Errorf("watchdog fired after %s: %w", s.cfg.Timeout, runCtx.Err())
		}
		return 0, newError(KindTranscoderInvocationFailed, err)
	}

	if err := job.Transition(StateFinalizing); err != nil {
		return 0, err
	}
	if err := s.readBack(dst); err != nil {
		return 0, newError(KindTranscoderInvocationFailed, err)
	}

	if lastFrame == 0 {
		lastFrame = total
	}
	return lastFrame, nil
}

func (s *TranscodeStrategy) stage(name, locator string) error {
	f, err := os.Open(locator)
	if err != nil {
		return fmt.Errorf("open stream: %w", err)
	}
	defer f.Close()
	return s.tc.WriteFile(name, f)
}

func (s *TranscodeStrategy) readBack(dst string) error {
	rc, err := s.tc.ReadFile(transcodeOutput)
	if err != nil {
		return fmt.Errorf("read output: %w", err)
	}
	defer rc.Close()

	out, err := os.Create(dst)
	if err != nil {
		return fmt.Errorf("create artifact: %w", err)
	}
	if _, err := io.Copy(out, rc); err != nil {
		out.Close()
		return fmt.Errorf("copy output: %w", err)
	}
	return out.Close()
}
