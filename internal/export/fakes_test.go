package export

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/color"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/gbgbgb8/tesla-x-cam/internal/ffmpeg"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

var testCameras = []string{"front", "back", "left", "right"}

// writeStreams creates n small files and a visible set pointing at them.
func writeStreams(t *testing.T, n int, duration time.Duration) VisibleSet {
	t.Helper()
	dir := t.TempDir()
	vs := make(VisibleSet, n)
	for i := range vs {
		path := filepath.Join(dir, fmt.Sprintf("clip-%d.mp4", i))
		require.NoError(t, os.WriteFile(path, []byte(fmt.Sprintf("clip %d", i)), 0644))
		vs[i] = Stream{
			Index:    i,
			Camera:   testCameras[i%len(testCameras)],
			Locator:  path,
			Width:    1280,
			Height:   960,
			Duration: duration,
		}
	}
	return vs
}

type fakeTranscoder struct {
	mu        sync.Mutex
	initCalls int
	initErr   error
	runErr    error
	block     bool
	files     map[string][]byte
	removed   []string
	runArgs   [][]string
}

func newFakeTranscoder() *fakeTranscoder {
	return &fakeTranscoder{files: make(map[string][]byte)}
}

func (f *fakeTranscoder) Init(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.initCalls++
	return f.initErr
}

func (f *fakeTranscoder) WriteFile(name string, r io.Reader) error {
	data, err := io.ReadAll(r)
	if err != nil {
		return err
	}
	f.mu.Lock()
	f.files[name] = data
	f.mu.Unlock()
	return nil
}

func (f *fakeTranscoder) Run(ctx context.Context, args []string, progress func(ffmpeg.Progress)) error {
	f.mu.Lock()
	f.runArgs = append(f.runArgs, args)
	block, runErr := f.block, f.runErr
	f.mu.Unlock()

	if block {
		<-ctx.Done()
		return ctx.Err()
	}
	if runErr != nil {
		return runErr
	}
	if progress != nil {
		progress(ffmpeg.Progress{Frame: 42})
	}
	f.mu.Lock()
	f.files[transcodeOutput] = []byte("mp4data")
	f.mu.Unlock()
	return nil
}

func (f *fakeTranscoder) ReadFile(name string) (io.ReadCloser, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	data, ok := f.files[name]
	if !ok {
		return nil, os.ErrNotExist
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

func (f *fakeTranscoder) Remove(name string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.files, name)
	f.removed = append(f.removed, name)
	return nil
}

func (f *fakeTranscoder) fileCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.files)
}

type fakeSink struct {
	mu        sync.Mutex
	startErr  error
	writeErr  error
	started   bool
	stopped   bool
	aborted   bool
	frames    int
	last      *image.RGBA
	chunks    chan []byte
	closeOnce sync.Once
}

func newFakeSink() *fakeSink {
	return &fakeSink{chunks: make(chan []byte, 4)}
}

func (s *fakeSink) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.startErr != nil {
		return s.startErr
	}
	s.started = true
	return nil
}

func (s *fakeSink) WriteFrame(frame *image.RGBA) error {
	s.mu.Lock()
	if !s.started {
		s.mu.Unlock()
		return errors.New("sink not started")
	}
	if s.writeErr != nil {
		s.mu.Unlock()
		return s.writeErr
	}
	s.frames++
	s.last = image.NewRGBA(frame.Bounds())
	copy(s.last.Pix, frame.Pix)
	n := s.frames
	s.mu.Unlock()

	s.chunks <- []byte{byte(n)}
	return nil
}

func (s *fakeSink) Chunks() <-chan []byte { return s.chunks }

func (s *fakeSink) Stop() error {
	s.mu.Lock()
	s.stopped = true
	s.mu.Unlock()
	s.closeOnce.Do(func() { close(s.chunks) })
	return nil
}

func (s *fakeSink) Abort() {
	s.mu.Lock()
	s.aborted = true
	s.mu.Unlock()
	s.closeOnce.Do(func() { close(s.chunks) })
}

type fakeSource struct {
	mu      sync.Mutex
	color   color.RGBA
	width   int
	height  int
	block   bool
	seekErr error
	seeks   []time.Duration
	closed  bool
}

func (s *fakeSource) Seek(ctx context.Context, at time.Duration) error {
	if s.block {
		<-ctx.Done()
		return ctx.Err()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.seeks = append(s.seeks, at)
	return s.seekErr
}

func (s *fakeSource) Frame() image.Image {
	img := image.NewRGBA(image.Rect(0, 0, s.width, s.height))
	for i := 0; i < len(img.Pix); i += 4 {
		img.Pix[i], img.Pix[i+1], img.Pix[i+2], img.Pix[i+3] = s.color.R, s.color.G, s.color.B, s.color.A
	}
	return img
}

func (s *fakeSource) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

func (s *fakeSource) seekLog() []time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]time.Duration(nil), s.seeks...)
}

func (s *fakeSource) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// fakeOpener hands out sources[i] for stream index i.
type fakeOpener struct {
	sources []*fakeSource
	openErr error
}

func (o *fakeOpener) Open(ctx context.Context, s Stream, width, height, fps int) (FrameSource, error) {
	if o.openErr != nil {
		return nil, o.openErr
	}
	src := o.sources[s.Index]
	src.width, src.height = width, height
	return src, nil
}

type fakeClock struct {
	mu     sync.Mutex
	now    time.Time
	sleeps []time.Duration
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Sleep(ctx context.Context, d time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sleeps = append(c.sleeps, d)
	c.now = c.now.Add(d)
	return ctx.Err()
}

type noticeRecorder struct {
	mu      sync.Mutex
	notices []Notice
}

func (r *noticeRecorder) Notify(n Notice) {
	r.mu.Lock()
	r.notices = append(r.notices, n)
	r.mu.Unlock()
}

func (r *noticeRecorder) all() []Notice {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Notice(nil), r.notices...)
}
