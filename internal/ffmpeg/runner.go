package ffmpeg

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

const (
	maxStderrBytes = 8 * 1024 // 8 KB tail of stderr kept for diagnostics
)

// Config holds the runner's configuration.
type Config struct {
	FFmpegPath    string // name or path of the ffmpeg binary
	FFprobePath   string // name or path of the ffprobe binary; optional
	DoctorTimeout time.Duration
	ProbeTimeout  time.Duration
	Logger        *slog.Logger
	DebugPaths    bool // if true, log full file paths; otherwise sanitise
}

// DefaultConfig returns production-ready defaults.
func DefaultConfig(logger *slog.Logger) Config {
	return Config{
		FFmpegPath:    "ffmpeg",
		FFprobePath:   "ffprobe",
		DoctorTimeout: 15 * time.Second,
		ProbeTimeout:  30 * time.Second,
		Logger:        logger,
	}
}

// Runner executes ffmpeg and ffprobe. It is the single place the agent
// spawns media subprocesses.
type Runner struct {
	cfg     Config
	ffmpeg  string
	ffprobe string
}

// New creates a Runner, resolving binary paths. ffprobe is optional;
// Probe fails when it is missing.
func New(cfg Config) (*Runner, error) {
	if cfg.Logger == nil {
		cfg.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	ffmpegBin, err := exec.LookPath(cfg.FFmpegPath)
	if err != nil {
		return nil, fmt.Errorf("ffmpeg not found (%q): %w", cfg.FFmpegPath, err)
	}
	ffprobeBin := ""
	if cfg.FFprobePath != "" {
		if p, err := exec.LookPath(cfg.FFprobePath); err == nil {
			ffprobeBin = p
		} else {
			cfg.Logger.Warn("ffprobe not found, probing disabled", "ffprobe", cfg.FFprobePath)
		}
	}

	cfg.Logger.Info("ffmpeg runner initialised", "ffmpeg", ffmpegBin, "ffprobe", ffprobeBin)
	return &Runner{cfg: cfg, ffmpeg: ffmpegBin, ffprobe: ffprobeBin}, nil
}

// FFmpegPath returns the resolved ffmpeg binary.
func (r *Runner) FFmpegPath() string { return r.ffmpeg }

// RunOptions tunes a single ffmpeg invocation.
type RunOptions struct {
	Dir      string         // working directory; relative file names resolve here
	Stdout   io.Writer      // defaults to io.Discard
	Progress func(Progress) // called once per -progress block when set
}

// Run executes ffmpeg with the given arguments. The returned error is
// non-nil only when the process could not be started or ctx ended;
// otherwise the caller inspects RunResult.
func (r *Runner) Run(ctx context.Context, args []string, opts RunOptions) (RunResult, error) {
	start := time.Now()

	base := []string{"-hide_banner", "-nostdin", "-loglevel", "error"}
	if opts.Progress != nil {
		base = append(base, "-progress", "pipe:2", "-nostats")
	}
	cmdArgs := append(base, args...)

	cmd := exec.CommandContext(ctx, r.ffmpeg, cmdArgs...)
	cmd.Dir = opts.Dir

	tail := newTailBuffer(maxStderrBytes)
	if opts.Progress != nil {
		cmd.Stderr = io.MultiWriter(tail, &progressWriter{fn: opts.Progress})
	} else {
		cmd.Stderr = tail
	}
	if opts.Stdout != nil {
		cmd.Stdout = opts.Stdout
	} else {
		cmd.Stdout = io.Discard
	}

	r.cfg.Logger.Debug("executing ffmpeg", "args", cmdArgs, "dir", r.safePath(opts.Dir))

	err := cmd.Run()
	elapsed := time.Since(start)

	exitCode := 0
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			exitCode = exitErr.ExitCode()
		} else {
			exitCode = -1
		}
	}

	result := RunResult{ExitCode: exitCode, StderrTail: tail.Tail(), Duration: elapsed}

	if ctxErr := ctx.Err(); ctxErr != nil {
		r.cfg.Logger.Warn("ffmpeg interrupted", "duration_ms", elapsed.Milliseconds(), "error", ctxErr)
		return result, ctxErr
	}
	if exitCode == -1 {
		return result, fmt.Errorf("start ffmpeg: %w", err)
	}

	if exitCode != 0 {
		r.cfg.Logger.Warn("ffmpeg command failed",
			"exit_code", exitCode,
			"duration_ms", elapsed.Milliseconds(),
			"stderr_tail", truncate(result.StderrTail, 512),
		)
	} else {
		r.cfg.Logger.Info("ffmpeg command succeeded", "duration_ms", elapsed.Milliseconds())
	}
	return result, nil
}

// Doctor checks the ffmpeg build for the encoders the exports need.
func (r *Runner) Doctor(ctx context.Context) (*Capabilities, error) {
	ctx, cancel := context.WithTimeout(ctx, r.cfg.DoctorTimeout)
	defer cancel()

	var version bytes.Buffer
	res, err := r.Run(ctx, []string{"-version"}, RunOptions{Stdout: &version})
	if err != nil {
		return nil, err
	}
	if !res.IsSuccess() {
		return nil, fmt.Errorf("ffmpeg -version exited %d: %s", res.ExitCode, res.StderrTail)
	}

	var encoders bytes.Buffer
	res, err = r.Run(ctx, []string{"-encoders"}, RunOptions{Stdout: &encoders})
	if err != nil {
		return nil, err
	}
	if !res.IsSuccess() {
		return nil, fmt.Errorf("ffmpeg -encoders exited %d: %s", res.ExitCode, res.StderrTail)
	}

	caps := &Capabilities{
		FFmpegVersion:    parseVersion(version.String()),
		FFprobeAvailable: r.ffprobe != "",
		Encoders:         parseEncoders(encoders.String()),
		ProbedAt:         time.Now(),
	}
	caps.HasH264 = caps.Encoders["libx264"]
	caps.HasVP8 = caps.Encoders["libvpx"]

	r.cfg.Logger.Info("ffmpeg doctor complete",
		"version", caps.FFmpegVersion,
		"h264", caps.HasH264,
		"vp8", caps.HasVP8,
		"ffprobe", caps.FFprobeAvailable,
	)
	return caps, nil
}

// Thumbnail writes a single scaled frame taken at offset into outPath.
func (r *Runner) Thumbnail(ctx context.Context, inPath, outPath string, offset time.Duration) error {
	if err := os.MkdirAll(filepath.Dir(outPath), 0755); err != nil {
		return fmt.Errorf("cannot create thumbnail dir: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, r.cfg.ProbeTimeout)
	defer cancel()

	res, err := r.Run(ctx, []string{
		"-ss", formatSeconds(offset),
		"-i", inPath,
		"-frames:v", "1",
		"-vf", "scale=320:-2",
		"-y", outPath,
	}, RunOptions{})
	if err != nil {
		return err
	}
	if !res.IsSuccess() {
		return fmt.Errorf("thumbnail exited %d: %s", res.ExitCode, truncate(res.StderrTail, 512))
	}
	return nil
}

func (r *Runner) safePath(path string) string {
	if r.cfg.DebugPaths || path == "" {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Base(path)
	}
	if strings.HasPrefix(path, home) {
		return "~" + path[len(home):]
	}
	return filepath.Base(path)
}

func parseVersion(out string) string {
	line, _, _ := strings.Cut(out, "\n")
	fields := strings.Fields(line)
	if len(fields) >= 3 && fields[0] == "ffmpeg" && fields[1] == "version" {
		return fields[2]
	}
	return strings.TrimSpace(line)
}

// parseEncoders reads `ffmpeg -encoders` output. Encoder lines start with
// a six-character flag column followed by the encoder name.
func parseEncoders(out string) map[string]bool {
	encoders := make(map[string]bool)
	inList := false
	sc := bufio.NewScanner(strings.NewReader(out))
	for sc.Scan() {
		line := sc.Text()
		if strings.HasPrefix(strings.TrimSpace(line), "------") {
			inList = true
			continue
		}
		if !inList {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) < 2 || len(fields[0]) != 6 {
			continue
		}
		encoders[fields[1]] = true
	}
	return encoders
}

func formatSeconds(d time.Duration) string {
	return fmt.Sprintf("%.3f", d.Seconds())
}

func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return "..." + s[len(s)-maxLen:]
}

// tailBuffer keeps the last limit bytes written to it. exec copies stderr
// from its own goroutine, so reads are guarded.
type tailBuffer struct {
	mu    sync.Mutex
	buf   bytes.Buffer
	limit int
}

func newTailBuffer(limit int) *tailBuffer {
	return &tailBuffer{limit: limit}
}

func (tb *tailBuffer) Write(p []byte) (int, error) {
	tb.mu.Lock()
	defer tb.mu.Unlock()
	n := len(p)
	tb.buf.Write(p)
	if tb.buf.Len() > tb.limit {
		b := tb.buf.Bytes()
		tail := append([]byte(nil), b[len(b)-tb.limit:]...)
		tb.buf.Reset()
		tb.buf.Write(tail)
	}
	return n, nil
}

// Tail returns the bytes currently held.
func (tb *tailBuffer) Tail() string {
	tb.mu.Lock()
	defer tb.mu.Unlock()
	return tb.buf.String()
}

func (tb *tailBuffer) Reset() {
	tb.mu.Lock()
	tb.buf.Reset()
	tb.mu.Unlock()
}
