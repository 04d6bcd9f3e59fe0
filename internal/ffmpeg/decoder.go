package ffmpeg

import (
	"context"
	"errors"
	"fmt"
	"image"
	"io"
	"math"
	"os/exec"
	"time"
)

// maxForwardDecode bounds how far ahead a Seek reads frames before it
// restarts the decoder at the target instead.
const maxForwardDecode = 5 * time.Second

// DecoderConfig describes one raw-frame decode of a video file.
type DecoderConfig struct {
	Path   string
	Width  int // output frame width; frames are scaled to exactly this size
	Height int
	FPS    int
}

// Decoder streams a video file as fixed-rate RGBA frames through an ffmpeg
// pipe. Seek positions it on the frame covering a time offset; forward seeks
// read through frames, backward or distant seeks restart the process.
type Decoder struct {
	bin string
	cfg DecoderConfig

	cmd    *exec.Cmd
	stdout io.ReadCloser
	stderr *tailBuffer

	frame   *image.RGBA
	scratch []byte // next frame; swapped into frame only when complete
	base  time.Duration // offset the running process started at
	index int           // frame index (relative to base) held in frame; -1 for none
	eof   bool
	held  bool // frame holds decoded pixels from some earlier read
}

// NewDecoder prepares a decoder; the subprocess starts on the first Seek.
func (r *Runner) NewDecoder(cfg DecoderConfig) (*Decoder, error) {
	if cfg.Width <= 0 || cfg.Height <= 0 || cfg.FPS <= 0 {
		return nil, fmt.Errorf("invalid decoder geometry %dx%d@%d", cfg.Width, cfg.Height, cfg.FPS)
	}
	return &Decoder{
		bin:   r.ffmpeg,
		cfg:   cfg,
		frame:   image.NewRGBA(image.Rect(0, 0, cfg.Width, cfg.Height)),
		scratch: make([]byte, cfg.Width*cfg.Height*4),
		index:   -1,
	}, nil
}

// Frame returns the frame at the last seeked position. The image is reused
// across seeks and must not be retained.
func (d *Decoder) Frame() image.Image { return d.frame }

// Seek positions the decoder at the frame covering at, blocking until that
// frame is decoded or ctx ends. Past the end of the file the last frame is held.
func (d *Decoder) Seek(ctx context.Context, at time.Duration) error {
	if at < 0 {
		at = 0
	}
	if d.cmd != nil && d.eof && at >= d.position() {
		return nil
	}
	want := d.frameIndex(at - d.base)
	if d.cmd == nil || at < d.base || want < d.index || at-d.position() > maxForwardDecode {
		if err := d.restart(at); err != nil {
			return err
		}
		want = 0
	}
	if d.eof || want == d.index {
		return nil
	}

	done := make(chan error, 1)
	go func() { done <- d.advance(want) }()

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		d.kill()
		<-done
		d.cmd = nil
		return ctx.Err()
	}
}

// Close stops the decode process. It is safe to call more than once.
func (d *Decoder) Close() error {
	d.kill()
	d.cmd = nil
	return nil
}

func (d *Decoder) frameIndex(offset time.Duration) int {
	return int(math.Floor(offset.Seconds()*float64(d.cfg.FPS) + 1e-9))
}

func (d *Decoder) position() time.Duration {
	if d.index < 0 {
		return d.base
	}
	return d.base + time.Duration(float64(d.index)/float64(d.cfg.FPS)*float64(time.Second))
}

func (d *Decoder) restart(at time.Duration) error {
	d.kill()

	args := []string{
		"-hide_banner", "-nostdin", "-loglevel", "error",
		"-ss", formatSeconds(at),
		"-i", d.cfg.Path,
		"-an",
		"-vf", fmt.Sprintf("fps=%d,scale=%d:%d", d.cfg.FPS, d.cfg.Width, d.cfg.Height),
		"-pix_fmt", "rgba",
		"-f", "rawvideo",
		"pipe:1",
	}
	cmd := exec.Command(d.bin, args...)
	d.stderr = newTailBuffer(maxStderrBytes)
	cmd.Stderr = d.stderr
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("decoder stdout: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("start decoder: %w", err)
	}

	d.cmd = cmd
	d.stdout = stdout
	d.base = at
	d.index = -1
	d.eof = false
	return nil
}

func (d *Decoder) advance(want int) error {
	for d.index < want {
		_, err := io.ReadFull(d.stdout, d.scratch)
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			// A trailing partial frame is dropped; the last whole one is held.
			if d.index < 0 && !d.held {
				return fmt.Errorf("decoder produced no frames at %ss: %s", formatSeconds(d.base), truncate(d.stderr.Tail(), 256))
			}
			d.eof = true
			return nil
		}
		if err != nil {
			return fmt.Errorf("read frame: %w", err)
		}
		d.frame.Pix, d.scratch = d.scratch, d.frame.Pix
		d.index++
		d.held = true
	}
	return nil
}

func (d *Decoder) kill() {
	if d.cmd == nil || d.cmd.Process == nil {
		return
	}
	_ = d.cmd.Process.Kill()
	_ = d.cmd.Wait()
}
