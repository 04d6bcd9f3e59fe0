package export

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/gbgbgb8/tesla-x-cam/internal/layout"
)

// Strategy produces the artifact for a validated job.
type Strategy interface {
	Name() string
	Container() Container
	// WorkState is the state the job enters while the strategy runs.
	WorkState() State
	// Execute writes the artifact to dst and returns the frame count.
	// It may move the job to finalizing itself.
	Execute(ctx context.Context, job *Job, dst string) (int, error)
}

type PipelineConfig struct {
	// ArtifactRoot holds one directory per job.
	ArtifactRoot        string
	OriginalUsesPrimary bool
}

// Pipeline validates a job and runs it through one strategy.
type Pipeline struct {
	strategy Strategy
	cfg      PipelineConfig
	logger   *slog.Logger
}

func NewPipeline(strategy Strategy, cfg PipelineConfig, logger *slog.Logger) *Pipeline {
	return &Pipeline{strategy: strategy, cfg: cfg, logger: logger}
}

func (p *Pipeline) StrategyName() string { return p.strategy.Name() }

// Close releases resources the strategy holds between jobs.
func (p *Pipeline) Close() error {
	if c, ok := p.strategy.(io.Closer); ok {
		return c.Close()
	}
	return nil
}

// ArtifactRoot holds one directory per job.
func (p *Pipeline) ArtifactRoot() string { return p.cfg.ArtifactRoot }

// ArtifactDir is where job id's artifact lives.
func (p *Pipeline) ArtifactDir(id string) string {
	return filepath.Join(p.cfg.ArtifactRoot, id)
}

// Run drives job to delivered or failed. Every failure comes back as an
// *Error annotated with the failing stage, the format and the pane count.
func (p *Pipeline) Run(ctx context.Context, job *Job) (*Artifact, error) {
	if err := p.Prepare(ctx, job); err != nil {
		return nil, err
	}
	return p.Execute(ctx, job)
}

// Prepare validates job and resolves its canvas and layout plan. It touches
// no transcoder or sink, so callers may run it synchronously.
func (p *Pipeline) Prepare(ctx context.Context, job *Job) error {
	if err := p.validate(ctx, job); err != nil {
		return p.failJob(ctx, job, err)
	}
	return nil
}

// Execute runs a prepared job through the strategy.
func (p *Pipeline) Execute(ctx context.Context, job *Job) (*Artifact, error) {
	if st := job.State(); st != StateValidating {
		return nil, p.failJob(ctx, job, fmt.Errorf("%w: execute from %s", ErrIllegalTransition, st))
	}
	art, err := p.execute(ctx, job)
	if err != nil {
		return nil, p.failJob(ctx, job, err)
	}
	if err := job.deliver(art); err != nil {
		return nil, err
	}
	return art, nil
}

func (p *Pipeline) failJob(ctx context.Context, job *Job, err error) *Error {
	e := p.annotate(ctx, job, err)
	job.fail(e)
	return e
}

func (p *Pipeline) validate(ctx context.Context, job *Job) error {
	if err := job.Transition(StateValidating); err != nil {
		return err
	}
	if len(job.Visible) == 0 {
		return newError(KindNoVisibleStreams, nil)
	}

	spec, err := ResolveOutputSpec(job.Format, &job.Visible[0], p.cfg.OriginalUsesPrimary)
	if err != nil {
		return err
	}
	plan, err := layout.Compute(len(job.Visible), spec.Width, spec.Height)
	if err != nil {
		if errors.Is(err, layout.ErrUnsupportedPaneCount) {
			return newError(KindUnsupportedPaneCount, err)
		}
		return newError(KindInvalidFormat, err)
	}
	if err := job.Policy.Validate(); err != nil {
		return err
	}
	job.setPlan(spec, plan)
	return ctx.Err()
}

func (p *Pipeline) execute(ctx context.Context, job *Job) (*Artifact, error) {
	spec := job.Spec()
	dir := p.ArtifactDir(job.ID)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, newError(KindSinkFailure, fmt.Errorf("create artifact dir: %w", err))
	}

	container := p.strategy.Container()
	dst := filepath.Join(dir, ArtifactName(job.Format, container))

	if err := job.Transition(p.strategy.WorkState()); err != nil {
		p.removeDir(job.ID, dir)
		return nil, err
	}
	frames, err := p.strategy.Execute(ctx, job, dst)
	if err != nil {
		p.removeDir(job.ID, dir)
		return nil, err
	}

	if job.State() != StateFinalizing {
		if err := job.Transition(StateFinalizing); err != nil {
			p.removeDir(job.ID, dir)
			return nil, err
		}
	}

	info, err := os.Stat(dst)
	if err != nil {
		p.removeDir(job.ID, dir)
		return nil, newError(KindSinkFailure, fmt.Errorf("artifact missing: %w", err))
	}

	return &Artifact{
		Name:     filepath.Base(dst),
		MIMEType: container.MIMEType,
		Path:     dst,
		Size:     info.Size(),
		Width:    spec.Width,
		Height:   spec.Height,
		Frames:   frames,
	}, nil
}

// removeDir deletes a partial artifact. Failure is logged, not returned, so
// the original error reaches the caller.
func (p *Pipeline) removeDir(jobID, dir string) {
	if err := os.RemoveAll(dir); err != nil {
		p.logger.Warn("failed to remove partial artifact", "job_id", jobID, "error", err)
	}
}

func (p *Pipeline) annotate(ctx context.Context, job *Job, err error) *Error {
	e := asError(err)
	if ctx.Err() != nil && e.Kind != KindCancelled && e.Kind != KindTimeout {
		e = &Error{Kind: KindCancelled, Err: err}
	}
	if e.Stage == "" {
		e.Stage = job.State()
	}
	e.Format = job.Format
	e.PaneCount = len(job.Visible)
	return e
}
