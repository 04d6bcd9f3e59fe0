package export

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"
	"github.com/hashicorp/go-multierror"
)

var (
	ErrExportBusy     = errors.New("an export is already running")
	ErrExportNotFound = errors.New("export not found")
)

// Request describes one export. OutputDir, when set, receives a copy of the
// delivered artifact.
type Request struct {
	Visible   VisibleSet
	Format    FormatTag
	Policy    StopPolicy
	OutputDir string
}

// Manager runs at most one export at a time in the background and keeps
// its history in a Repository.
type Manager struct {
	pipeline *Pipeline
	repo     Repository
	notifier Notifier
	logger   *slog.Logger

	mu     sync.Mutex
	active *Job
	last   *Job
	cancel context.CancelFunc
	done   chan struct{}
}

// NewManager wires a manager. repo and notifier may be nil.
func NewManager(pipeline *Pipeline, repo Repository, notifier Notifier, logger *slog.Logger) *Manager {
	return &Manager{
		pipeline: pipeline,
		repo:     repo,
		notifier: notifier,
		logger:   logger.With("component", "export"),
	}
}

// Start validates req synchronously and runs the rest of the export in the
// background. Validation failures return the failed job together with an
// *Error; a busy manager returns ErrExportBusy and no job.
func (m *Manager) Start(req Request) (*Job, error) {
	if req.OutputDir != "" {
		if err := ValidateOutputDir(req.OutputDir); err != nil {
			return nil, err
		}
	}

	m.mu.Lock()
	if m.active != nil {
		m.mu.Unlock()
		return nil, ErrExportBusy
	}
	job := NewJob(req.Visible, req.Format, req.Policy)
	job.Strategy = m.pipeline.StrategyName()
	job.onChange = m.persist

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	m.active, m.cancel, m.done = job, cancel, done
	m.mu.Unlock()

	if err := m.pipeline.Prepare(ctx, job); err != nil {
		m.release(job)
		cancel()
		m.finish(job, nil, err, "")
		close(done)
		return job, err
	}

	m.logger.Info("export started", "export_id", job.ID, "format", job.Format,
		"strategy", job.Strategy, "policy", job.Policy.String(), "panes", len(job.Visible))

	go func() {
		defer close(done)
		defer cancel()
		art, err := m.pipeline.Execute(ctx, job)
		m.release(job)
		m.finish(job, art, err, req.OutputDir)
	}()
	return job, nil
}

func (m *Manager) release(job *Job) {
	m.mu.Lock()
	m.active, m.cancel, m.last = nil, nil, job
	m.mu.Unlock()
}

// finish logs the outcome once, persists it and emits the terminal notice.
func (m *Manager) finish(job *Job, art *Artifact, err error, outputDir string) {
	logger := m.logger.With("export_id", job.ID, "format", job.Format, "panes", len(job.Visible))

	if err != nil {
		var e *Error
		if errors.As(err, &e) {
			logger.Error("export failed", "kind", e.Kind, "stage", e.Stage, "error", e.Err)
		} else {
			logger.Error("export failed", "error", err)
		}
	} else {
		logger.Info("export delivered", "artifact", art.Name, "size", humanize.Bytes(uint64(art.Size)),
			"frames", art.Frames, "elapsed", time.Since(job.CreatedAt).Round(time.Millisecond))
		if outputDir != "" {
			if dst, copyErr := copyArtifact(art, outputDir); copyErr != nil {
				logger.Warn("failed to copy artifact", "dir", outputDir, "error", copyErr)
			} else {
				logger.Info("artifact copied", "path", dst)
			}
		}
	}

	st := job.Status()
	m.save(st)
	if m.notifier != nil {
		m.notifier.Notify(NoticeFor(st))
	}
}

func (m *Manager) persist(job *Job) {
	m.save(job.Status())
}

func (m *Manager) save(st Status) {
	if m.repo == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := m.repo.SaveExport(ctx, st); err != nil {
		m.logger.Warn("failed to persist export", "export_id", st.ID, "state", st.State, "error", err)
	}
}

// Cancel stops export id. Cancelling a finished export is a no-op.
func (m *Manager) Cancel(ctx context.Context, id string) error {
	m.mu.Lock()
	if m.active != nil && m.active.ID == id {
		m.cancel()
		m.mu.Unlock()
		m.logger.Info("export cancel requested", "export_id", id)
		return nil
	}
	m.mu.Unlock()

	if _, err := m.Get(ctx, id); err != nil {
		return err
	}
	return nil
}

// Active returns the running job, if any.
func (m *Manager) Active() *Job {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.active
}

// Wait blocks until the running export, if any, has finished.
func (m *Manager) Wait(ctx context.Context) error {
	m.mu.Lock()
	done := m.done
	m.mu.Unlock()
	if done == nil {
		return nil
	}
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Shutdown cancels the running export, waits for it to unwind and releases
// the strategy's work area.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.mu.Lock()
	if m.cancel != nil {
		m.cancel()
	}
	m.mu.Unlock()
	if err := m.Wait(ctx); err != nil {
		return err
	}
	return m.pipeline.Close()
}

// Recover removes artifact directories that belong to no delivered export:
// partial output of exports interrupted by a restart, and directories whose
// record is gone. It must run before the first Start.
func (m *Manager) Recover(ctx context.Context) (int, error) {
	if m.repo == nil {
		return 0, nil
	}
	root := m.pipeline.ArtifactRoot()
	entries, err := os.ReadDir(root)
	if errors.Is(err, os.ErrNotExist) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}

	var errs error
	removed := 0
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		if _, err := uuid.Parse(e.Name()); err != nil {
			continue
		}
		st, err := m.repo.GetExport(ctx, e.Name())
		if err != nil {
			errs = multierror.Append(errs, err)
			continue
		}
		if st != nil && st.State == StateDelivered {
			continue
		}
		if err := os.RemoveAll(filepath.Join(root, e.Name())); err != nil {
			errs = multierror.Append(errs, err)
			continue
		}
		removed++
		m.logger.Info("removed stale export output", "export_id", e.Name())
	}
	return removed, errs
}

func (m *Manager) Get(ctx context.Context, id string) (*Status, error) {
	m.mu.Lock()
	for _, j := range []*Job{m.active, m.last} {
		if j != nil && j.ID == id {
			m.mu.Unlock()
			st := j.Status()
			return &st, nil
		}
	}
	m.mu.Unlock()

	if m.repo == nil {
		return nil, ErrExportNotFound
	}
	st, err := m.repo.GetExport(ctx, id)
	if err != nil {
		return nil, err
	}
	if st == nil {
		return nil, ErrExportNotFound
	}
	return st, nil
}

// List returns recent exports, newest first, with the running one live.
func (m *Manager) List(ctx context.Context, limit int) ([]*Status, error) {
	var out []*Status
	if m.repo != nil {
		var err error
		if out, err = m.repo.ListExports(ctx, limit); err != nil {
			return nil, err
		}
	}
	if active := m.Active(); active != nil {
		st := active.Status()
		for i, s := range out {
			if s.ID == st.ID {
				out[i] = &st
				return out, nil
			}
		}
		out = append([]*Status{&st}, out...)
	}
	return out, nil
}

// Artifact returns the delivered artifact of export id.
func (m *Manager) Artifact(ctx context.Context, id string) (*Artifact, error) {
	st, err := m.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if st.State != StateDelivered || st.Artifact == nil {
		return nil, fmt.Errorf("%w: export %s is %s", ErrExportNotFound, id, st.State)
	}
	return st.Artifact, nil
}

// Delete removes a finished export and its artifact.
func (m *Manager) Delete(ctx context.Context, id string) error {
	if active := m.Active(); active != nil && active.ID == id {
		return ErrExportBusy
	}
	if _, err := m.Get(ctx, id); err != nil {
		return err
	}
	if err := os.RemoveAll(m.pipeline.ArtifactDir(id)); err != nil {
		return fmt.Errorf("remove artifact: %w", err)
	}

	m.mu.Lock()
	if m.last != nil && m.last.ID == id {
		m.last = nil
	}
	m.mu.Unlock()

	if m.repo == nil {
		return nil
	}
	return m.repo.DeleteExport(ctx, id)
}

// copyArtifact copies art into dir without overwriting existing files.
func copyArtifact(art *Artifact, dir string) (string, error) {
	src, err := os.Open(art.Path)
	if err != nil {
		return "", err
	}
	defer src.Close()

	ext := filepath.Ext(art.Name)
	base := strings.TrimSuffix(art.Name, ext)
	for n := 0; n < 100; n++ {
		name := art.Name
		if n > 0 {
			name = fmt.Sprintf("%s (%d)%s", base, n, ext)
		}
		dst := filepath.Join(dir, name)
		out, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0644)
		if errors.Is(err, os.ErrExist) {
			continue
		}
		if err != nil {
			return "", err
		}
		if _, err := io.Copy(out, src); err != nil {
			out.Close()
			os.Remove(dst)
			return "", err
		}
		return dst, out.Close()
	}
	return "", fmt.Errorf("no free file name for %s in %s", art.Name, dir)
}
