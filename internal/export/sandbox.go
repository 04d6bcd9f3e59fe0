package export

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/gbgbgb8/tesla-x-cam/internal/ffmpeg"
)

// Transcoder is the external media engine with a private file area.
// Names passed to it are bare file names inside that area.
type Transcoder interface {
	// Init prepares the engine. It is idempotent and safe to call
	// concurrently; a failed Init is retried by the next call.
	Init(ctx context.Context) error
	WriteFile(name string, r io.Reader) error
	Run(ctx context.Context, args []string, progress func(ffmpeg.Progress)) error
	ReadFile(name string) (io.ReadCloser, error)
	Remove(name string) error
}

// CommandRunner runs one ffmpeg invocation. *ffmpeg.Runner implements it.
type CommandRunner interface {
	Run(ctx context.Context, args []string, opts ffmpeg.RunOptions) (ffmpeg.RunResult, error)
}

// CapabilityChecker reports the encoders ffmpeg was built with.
// *ffmpeg.CachedDoctor implements it.
type CapabilityChecker interface {
	Get(ctx context.Context) (*ffmpeg.Capabilities, error)
}

const sandboxPrefix = "sandbox-"

// SandboxTranscoder runs ffmpeg inside a private working directory created
// under root on first Init. root belongs to one transcoder; sandboxes left
// there by an earlier process are removed when a new one is created.
type SandboxTranscoder struct {
	runner CommandRunner
	caps   CapabilityChecker
	root   string
	logger *slog.Logger

	mu  sync.Mutex
	dir string
}

func NewSandboxTranscoder(runner CommandRunner, caps CapabilityChecker, root string, logger *slog.Logger) *SandboxTranscoder {
	return &SandboxTranscoder{runner: runner, caps: caps, root: root, logger: logger}
}

func (t *SandboxTranscoder) Init(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.dir != "" {
		return nil
	}
	if t.runner == nil {
		return errors.New("ffmpeg not configured")
	}

	if t.caps != nil {
		caps, err := t.caps.Get(ctx)
		if err != nil {
			return fmt.Errorf("probe ffmpeg: %w", err)
		}
		if !caps.CanTranscode() {
			return errors.New("ffmpeg has no libx264 encoder")
		}
	}

	if err := os.MkdirAll(t.root, 0755); err != nil {
		return fmt.Errorf("create sandbox root: %w", err)
	}
	t.sweep()
	dir, err := os.MkdirTemp(t.root, sandboxPrefix+"*")
	if err != nil {
		return fmt.Errorf("create sandbox: %w", err)
	}
	t.dir = dir
	t.logger.Info("transcoder initialized", "sandbox", dir)
	return nil
}

// sweep removes stale sandboxes under root. Called with mu held and no
// sandbox of our own.
func (t *SandboxTranscoder) sweep() {
	stale, err := filepath.Glob(filepath.Join(t.root, sandboxPrefix+"*"))
	if err != nil {
		return
	}
	for _, dir := range stale {
		if err := os.RemoveAll(dir); err != nil {
			t.logger.Warn("failed to remove stale sandbox", "sandbox", dir, "error", err)
			continue
		}
		t.logger.Info("removed stale sandbox", "sandbox", dir)
	}
}

func (t *SandboxTranscoder) path(name string) (string, error) {
	t.mu.Lock()
	dir := t.dir
	t.mu.Unlock()
	if dir == "" {
		return "", errors.New("transcoder not initialized")
	}
	if name == "" || name != filepath.Base(name) || strings.HasPrefix(name, ".") {
		return "", fmt.Errorf("invalid sandbox file name %q", name)
	}
	return filepath.Join(dir, name), nil
}

func (t *SandboxTranscoder) WriteFile(name string, r io.Reader) error {
	p, err := t.path(name)
	if err != nil {
		return err
	}
	f, err := os.Create(p)
	if err != nil {
		return err
	}
	if _, err := io.Copy(f, r); err != nil {
		f.Close()
		os.Remove(p)
		return fmt.Errorf("stage %s: %w", name, err)
	}
	return f.Close()
}

func (t *SandboxTranscoder) Run(ctx context.Context, args []string, progress func(ffmpeg.Progress)) error {
	t.mu.Lock()
	dir := t.dir
	t.mu.Unlock()
	if dir == "" {
		return errors.New("transcoder not initialized")
	}

	result, err := t.runner.Run(ctx, args, ffmpeg.RunOptions{Dir: dir, Progress: progress})
	if err != nil {
		return err
	}
	if !result.IsSuccess() {
		return fmt.Errorf("ffmpeg exited with code %d: %s", result.ExitCode, result.StderrTail)
	}
	t.logger.Debug("transcode finished", "duration", result.Duration)
	return nil
}

func (t *SandboxTranscoder) ReadFile(name string) (io.ReadCloser, error) {
	p, err := t.path(name)
	if err != nil {
		return nil, err
	}
	return os.Open(p)
}

// Remove deletes a sandbox file. A missing file is not an error.
func (t *SandboxTranscoder) Remove(name string) error {
	p, err := t.path(name)
	if err != nil {
		return err
	}
	if err := os.Remove(p); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

// Files lists what is currently in the sandbox.
func (t *SandboxTranscoder) Files() ([]string, error) {
	t.mu.Lock()
	dir := t.dir
	t.mu.Unlock()
	if dir == "" {
		return nil, nil
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		names = append(names, e.Name())
	}
	sort.Strings(names)
	return names, nil
}

// Close removes the sandbox. A later Init creates a new one.
func (t *SandboxTranscoder) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.dir == "" {
		return nil
	}
	err := os.RemoveAll(t.dir)
	t.dir = ""
	return err
}
