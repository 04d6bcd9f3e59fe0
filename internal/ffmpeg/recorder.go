package ffmpeg

import (
	"context"
	"errors"
	"fmt"
	"image"
	"io"
	"os/exec"
	"strconv"
	"sync"
)

const (
	defaultChunkSize   = 64 * 1024
	defaultChunkBuffer = 16
)

// RecorderConfig describes a raw RGBA frame stream and its encode.
type RecorderConfig struct {
	Width   int
	Height  int
	FPS     int
	Codec   string // ffmpeg encoder, default libvpx
	Bitrate string // default 4M
	Format  string // container, default webm

	ChunkSize   int // bytes per emitted chunk
	ChunkBuffer int // capacity of the chunk channel
}

// Recorder pipes raw frames into an ffmpeg encoder and emits the encoded
// container as chunks on a bounded channel. The channel is closed when the
// encoder's output ends, after Stop or Abort.
type Recorder struct {
	bin string
	cfg RecorderConfig

	mu       sync.Mutex
	cmd      *exec.Cmd
	stdin    io.WriteCloser
	stderr   *tailBuffer
	chunks   chan []byte
	readErr  error
	readDone chan struct{}
	abort    chan struct{}
	started  bool
	stopped  bool
}

// NewRecorder prepares a recorder; nothing runs until Start.
func (r *Runner) NewRecorder(cfg RecorderConfig) *Recorder {
	if cfg.Codec == "" {
		cfg.Codec = "libvpx"
	}
	if cfg.Bitrate == "" {
		cfg.Bitrate = "4M"
	}
	if cfg.Format == "" {
		cfg.Format = "webm"
	}
	if cfg.ChunkSize <= 0 {
		cfg.ChunkSize = defaultChunkSize
	}
	if cfg.ChunkBuffer <= 0 {
		cfg.ChunkBuffer = defaultChunkBuffer
	}
	return &Recorder{
		bin:      r.ffmpeg,
		cfg:      cfg,
		stderr:   newTailBuffer(maxStderrBytes),
		chunks:   make(chan []byte, cfg.ChunkBuffer),
		readDone: make(chan struct{}),
		abort:    make(chan struct{}),
	}
}

// Args returns the encoder argument list.
func (rec *Recorder) Args() []string {
	return []string{
		"-hide_banner", "-loglevel", "error",
		"-f", "rawvideo",
		"-pix_fmt", "rgba",
		"-s", fmt.Sprintf("%dx%d", rec.cfg.Width, rec.cfg.Height),
		"-r", strconv.Itoa(rec.cfg.FPS),
		"-i", "pipe:0",
		"-an",
		"-c:v", rec.cfg.Codec,
		"-b:v", rec.cfg.Bitrate,
		"-deadline", "realtime",
		"-cpu-used", "8",
		"-pix_fmt", "yuv420p",
		"-f", rec.cfg.Format,
		"pipe:1",
	}
}

// Start launches the encoder. It must be called before the first frame.
func (rec *Recorder) Start(ctx context.Context) error {
	rec.mu.Lock()
	defer rec.mu.Unlock()
	if rec.started {
		return errors.New("recorder already started")
	}

	cmd := exec.CommandContext(ctx, rec.bin, rec.Args()...)
	cmd.Stderr = rec.stderr
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return fmt.Errorf("recorder stdin: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("recorder stdout: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("start recorder: %w", err)
	}

	rec.cmd = cmd
	rec.stdin = stdin
	rec.started = true
	go rec.pump(stdout)
	return nil
}

// Started reports whether the encoder is running and not yet stopped.
func (rec *Recorder) Started() bool {
	rec.mu.Lock()
	defer rec.mu.Unlock()
	return rec.started && !rec.stopped
}

// Chunks delivers encoded output. It is closed when the encoder's output ends.
func (rec *Recorder) Chunks() <-chan []byte { return rec.chunks }

// WriteFrame feeds one frame. Its bounds must match the configured size.
func (rec *Recorder) WriteFrame(frame *image.RGBA) error {
	b := frame.Bounds()
	if b.Dx() != rec.cfg.Width || b.Dy() != rec.cfg.Height {
		return fmt.Errorf("frame is %dx%d, recorder expects %dx%d", b.Dx(), b.Dy(), rec.cfg.Width, rec.cfg.Height)
	}
	rec.mu.Lock()
	stdin, ok := rec.stdin, rec.started && !rec.stopped
	rec.mu.Unlock()
	if !ok {
		return errors.New("recorder not running")
	}

	row := rec.cfg.Width * 4
	if frame.Stride == row {
		_, err := stdin.Write(frame.Pix[:row*rec.cfg.Height])
		return rec.writeErr(err)
	}
	for y := 0; y < rec.cfg.Height; y++ {
		off := y * frame.Stride
		if _, err := stdin.Write(frame.Pix[off : off+row]); err != nil {
			return rec.writeErr(err)
		}
	}
	return nil
}

// Stop closes the frame input and waits for the encoder to flush and exit.
// Chunks must be drained concurrently or Stop blocks.
func (rec *Recorder) Stop() error {
	rec.mu.Lock()
	if !rec.started || rec.stopped {
		rec.mu.Unlock()
		return nil
	}
	rec.stopped = true
	rec.mu.Unlock()

	closeErr := rec.stdin.Close()
	<-rec.readDone
	waitErr := rec.cmd.Wait()

	if waitErr != nil {
		return fmt.Errorf("encoder exited: %w: %s", waitErr, truncate(rec.stderr.Tail(), 512))
	}
	if rec.readErr != nil {
		return fmt.Errorf("read encoder output: %w", rec.readErr)
	}
	if closeErr != nil {
		return fmt.Errorf("close encoder input: %w", closeErr)
	}
	return nil
}

// Abort kills the encoder without flushing. Safe to call at any time and
// more than once.
func (rec *Recorder) Abort() {
	rec.mu.Lock()
	select {
	case <-rec.abort:
		rec.mu.Unlock()
		return
	default:
		close(rec.abort)
	}
	started, stopped := rec.started, rec.stopped
	rec.stopped = true
	rec.mu.Unlock()

	if !started {
		close(rec.chunks)
		return
	}
	if rec.cmd.Process != nil {
		_ = rec.cmd.Process.Kill()
	}
	if !stopped {
		_ = rec.stdin.Close()
		<-rec.readDone
		_ = rec.cmd.Wait()
	}
}

func (rec *Recorder) pump(stdout io.Reader) {
	defer close(rec.readDone)
	defer close(rec.chunks)

	for {
		buf := make([]byte, rec.cfg.ChunkSize)
		n, err := io.ReadFull(stdout, buf)
		if n > 0 {
			select {
			case rec.chunks <- buf[:n]:
			case <-rec.abort:
				return
			}
		}
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			return
		}
		if err != nil {
			rec.readErr = err
			return
		}
	}
}

func (rec *Recorder) writeErr(err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("write frame: %w: %s", err, truncate(rec.stderr.Tail(), 256))
}
