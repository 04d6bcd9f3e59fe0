package export

import (
	"context"
	"fmt"
	"image"
	"os"

	"github.com/gbgbgb8/tesla-x-cam/internal/ffmpeg"
)

// Sink encodes composed frames. Encoded bytes arrive on Chunks, which is
// closed once the encoder output ends after Stop or Abort.
type Sink interface {
	Start(ctx context.Context) error
	WriteFrame(frame *image.RGBA) error
	Chunks() <-chan []byte
	Stop() error
	Abort()
}

// SinkFactory creates a sink for a width x height canvas at fps.
type SinkFactory func(width, height, fps int) Sink

// RecorderSinks builds VP8 WebM sinks backed by ffmpeg.
func RecorderSinks(r *ffmpeg.Runner) SinkFactory {
	return func(width, height, fps int) Sink {
		return r.NewRecorder(ffmpeg.RecorderConfig{Width: width, Height: height, FPS: fps})
	}
}

// Assembler collects sink chunks into the artifact file.
type Assembler struct {
	path  string
	f     *os.File
	bytes int64
}

func NewAssembler(path string) (*Assembler, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("create artifact: %w", err)
	}
	return &Assembler{path: path, f: f}, nil
}

// Consume writes every chunk until ch closes, then finalizes the file. After
// a write error it keeps draining so the producer never blocks.
func (a *Assembler) Consume(ch <-chan []byte) error {
	var writeErr error
	for chunk := range ch {
		if writeErr != nil {
			continue
		}
		n, err := a.f.Write(chunk)
		a.bytes += int64(n)
		if err != nil {
			writeErr = fmt.Errorf("write artifact: %w", err)
		}
	}

	if err := a.f.Sync(); err != nil && writeErr == nil {
		writeErr = fmt.Errorf("sync artifact: %w", err)
	}
	if err := a.f.Close(); err != nil && writeErr == nil {
		writeErr = fmt.Errorf("close artifact: %w", err)
	}
	return writeErr
}

// Bytes reports how much has been written so far.
func (a *Assembler) Bytes() int64 { return a.bytes }
