package export

import (
	"context"
	"errors"
	"image/color"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gbgbgb8/tesla-x-cam/internal/layout"
)

var (
	red  = color.RGBA{255, 0, 0, 255}
	blue = color.RGBA{0, 0, 255, 255}
)

func newTranscodePipeline(t *testing.T, tc Transcoder, cfg TranscodeConfig) *Pipeline {
	t.Helper()
	strategy := NewTranscodeStrategy(tc, cfg, testLogger())
	return NewPipeline(strategy, PipelineConfig{ArtifactRoot: t.TempDir()}, testLogger())
}

func newCompositePipeline(t *testing.T, opener SourceOpener, sink *fakeSink, cfg CompositeConfig) *Pipeline {
	t.Helper()
	sinks := func(w, h, fps int) Sink { return sink }
	strategy := NewCompositeStrategy(opener, sinks, cfg, testLogger())
	return NewPipeline(strategy, PipelineConfig{ArtifactRoot: t.TempDir()}, testLogger())
}

func assertNoArtifactDir(t *testing.T, p *Pipeline, job *Job) {
	t.Helper()
	_, err := os.Stat(p.ArtifactDir(job.ID))
	assert.True(t, os.IsNotExist(err), "partial artifact dir should be removed")
}

func TestPipeline_NoVisibleStreams(t *testing.T) {
	tc := newFakeTranscoder()
	p := newTranscodePipeline(t, tc, TranscodeConfig{})
	job := NewJob(nil, FormatLandscape, StopPolicy{Kind: PolicyShortest})

	art, err := p.Run(context.Background(), job)
	require.Nil(t, art)
	require.ErrorIs(t, err, ErrNoVisibleStreams)
	assert.Equal(t, KindNoVisibleStreams, KindOf(err))
	assert.Zero(t, tc.initCalls, "transcoder must not be touched")
	assert.Equal(t, StateFailed, job.State())

	var e *Error
	require.ErrorAs(t, err, &e)
	assert.Equal(t, StateValidating, e.Stage)
	assert.Equal(t, FormatLandscape, e.Format)
	assert.Zero(t, e.PaneCount)
}

func TestPipeline_UnsupportedPaneCount(t *testing.T) {
	tc := newFakeTranscoder()
	p := newTranscodePipeline(t, tc, TranscodeConfig{})
	job := NewJob(writeStreams(t, 5, time.Second), FormatLandscape, StopPolicy{Kind: PolicyShortest})

	_, err := p.Run(context.Background(), job)
	require.ErrorIs(t, err, ErrUnsupportedPaneCount)
	require.ErrorIs(t, err, layout.ErrUnsupportedPaneCount)
	assert.Zero(t, tc.initCalls)

	var e *Error
	require.ErrorAs(t, err, &e)
	assert.Equal(t, 5, e.PaneCount)
}

func TestPipeline_InvalidFormat(t *testing.T) {
	p := newTranscodePipeline(t, newFakeTranscoder(), TranscodeConfig{})
	job := NewJob(writeStreams(t, 1, time.Second), FormatTag("panorama"), StopPolicy{Kind: PolicyShortest})

	_, err := p.Run(context.Background(), job)
	require.ErrorIs(t, err, ErrInvalidFormat)
}

func TestPipeline_InvalidRange(t *testing.T) {
	p := newTranscodePipeline(t, newFakeTranscoder(), TranscodeConfig{})
	policy := StopPolicy{Kind: PolicyRange, Start: 5 * time.Second, End: 2 * time.Second}
	job := NewJob(writeStreams(t, 2, 10*time.Second), FormatLandscape, policy)

	_, err := p.Run(context.Background(), job)
	require.ErrorIs(t, err, ErrInvalidTimeRange)
}

func TestPipeline_RunTwiceRejected(t *testing.T) {
	p := newTranscodePipeline(t, newFakeTranscoder(), TranscodeConfig{})
	job := NewJob(writeStreams(t, 1, time.Second), FormatLandscape, StopPolicy{Kind: PolicyShortest})

	_, err := p.Run(context.Background(), job)
	require.NoError(t, err)
	_, err = p.Run(context.Background(), job)
	require.ErrorIs(t, err, ErrIllegalTransition)
	assert.Equal(t, StateDelivered, job.State())
}

func TestTranscode_Delivers(t *testing.T) {
	tc := newFakeTranscoder()
	p := newTranscodePipeline(t, tc, TranscodeConfig{PreserveAspect: true})
	job := NewJob(writeStreams(t, 4, 3*time.Second), FormatLandscape, StopPolicy{Kind: PolicyShortest})

	art, err := p.Run(context.Background(), job)
	require.NoError(t, err)

	assert.Equal(t, "tesla_cam_export_landscape.mp4", art.Name)
	assert.Equal(t, "video/mp4", art.MIMEType)
	assert.Equal(t, 1280, art.Width)
	assert.Equal(t, 720, art.Height)
	assert.Equal(t, 42, art.Frames)
	assert.Equal(t, StateDelivered, job.State())

	data, err := os.ReadFile(art.Path)
	require.NoError(t, err)
	assert.Equal(t, "mp4data", string(data))

	assert.Zero(t, tc.fileCount(), "sandbox should be empty after export")
	require.Len(t, tc.runArgs, 1)
	args := tc.runArgs[0]
	assert.Contains(t, args, "input3.mp4")
	assert.Contains(t, args, "-filter_complex")
	assert.Equal(t, "output.mp4", args[len(args)-1])
}

func TestTranscode_FrameBudgetFollowsShortestStream(t *testing.T) {
	tc := newFakeTranscoder()
	p := newTranscodePipeline(t, tc, TranscodeConfig{FPS: 30})
	vs := writeStreams(t, 2, 2*time.Second)
	vs[1].Duration = 5 * time.Second
	job := NewJob(vs, FormatLandscape, StopPolicy{Kind: PolicyFrames, Frames: 300})

	_, err := p.Run(context.Background(), job)
	require.NoError(t, err)

	require.Len(t, tc.runArgs, 1)
	args := tc.runArgs[0]
	for i, a := range args {
		if a == "-frames:v" {
			require.Less(t, i+1, len(args))
			assert.Equal(t, "60", args[i+1])
		}
	}
	assert.Contains(t, args, "-frames:v")
	assert.Contains(t, strings.Join(args, " "), "shortest=1")
	assert.Equal(t, 60, job.Status().FramesTotal)
}

func TestTranscode_InitFailureIsRetried(t *testing.T) {
	tc := newFakeTranscoder()
	tc.initErr = errors.New("engine missing")
	p := newTranscodePipeline(t, tc, TranscodeConfig{})

	job := NewJob(writeStreams(t, 2, time.Second), FormatSquare, StopPolicy{Kind: PolicyShortest})
	_, err := p.Run(context.Background(), job)
	require.ErrorIs(t, err, ErrTranscoderInitFailed)
	assertNoArtifactDir(t, p, job)

	var e *Error
	require.ErrorAs(t, err, &e)
	assert.Equal(t, StateStaging, e.Stage)

	tc.initErr = nil
	job = NewJob(writeStreams(t, 2, time.Second), FormatSquare, StopPolicy{Kind: PolicyShortest})
	_, err = p.Run(context.Background(), job)
	require.NoError(t, err)
	assert.Equal(t, 2, tc.initCalls)
}

func TestTranscode_InvocationFailureCleansSandbox(t *testing.T) {
	tc := newFakeTranscoder()
	tc.runErr = errors.New("ffmpeg exited with code 1")
	p := newTranscodePipeline(t, tc, TranscodeConfig{})
	job := NewJob(writeStreams(t, 3, time.Second), FormatPortrait, StopPolicy{Kind: PolicyShortest})

	_, err := p.Run(context.Background(), job)
	require.ErrorIs(t, err, ErrTranscoderInvocationFailed)
	assert.Zero(t, tc.fileCount())
	assert.ElementsMatch(t, []string{"input0.mp4", "input1.mp4", "input2.mp4", "output.mp4"}, tc.removed)
	assertNoArtifactDir(t, p, job)
}

func TestTranscode_Watchdog(t *testing.T) {
	tc := newFakeTranscoder()
	tc.block = true
	p := newTranscodePipeline(t, tc, TranscodeConfig{Timeout: 20 * time.Millisecond})
	job := NewJob(writeStreams(t, 1, time.Second), FormatLandscape, StopPolicy{Kind: PolicyShortest})

	_, err := p.Run(context.Background(), job)
	require.ErrorIs(t, err, ErrTranscoderInvocationFailed)
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestTranscode_Cancelled(t *testing.T) {
	tc := newFakeTranscoder()
	tc.block = true
	p := newTranscodePipeline(t, tc, TranscodeConfig{})
	job := NewJob(writeStreams(t, 1, time.Second), FormatLandscape, StopPolicy{Kind: PolicyShortest})

	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(20*time.Millisecond, cancel)

	_, err := p.Run(ctx, job)
	require.ErrorIs(t, err, ErrCancelled)
	assert.Equal(t, StateFailed, job.State())
	assert.Zero(t, tc.fileCount())
}

func TestTranscode_RangePolicyOutOfBounds(t *testing.T) {
	tc := newFakeTranscoder()
	p := newTranscodePipeline(t, tc, TranscodeConfig{})
	policy := StopPolicy{Kind: PolicyRange, Start: 5 * time.Second, End: 8 * time.Second}
	job := NewJob(writeStreams(t, 2, 2*time.Second), FormatLandscape, policy)

	_, err := p.Run(context.Background(), job)
	require.ErrorIs(t, err, ErrInvalidTimeRange)
	assert.Empty(t, tc.runArgs, "transcoder should not run")
	assert.Zero(t, tc.fileCount())
}

func TestComposite_DrawsPanesInOrder(t *testing.T) {
	sources := []*fakeSource{{color: red}, {color: blue}}
	sink := newFakeSink()
	p := newCompositePipeline(t, &fakeOpener{sources: sources}, sink, CompositeConfig{FPS: 10})
	job := NewJob(writeStreams(t, 2, time.Second), FormatLandscape, StopPolicy{Kind: PolicyShortest})

	art, err := p.Run(context.Background(), job)
	require.NoError(t, err)

	assert.Equal(t, "tesla_cam_export_landscape.webm", art.Name)
	assert.Equal(t, "video/webm", art.MIMEType)
	assert.Equal(t, 10, art.Frames)
	assert.EqualValues(t, 10, art.Size, "one chunk byte per frame")
	assert.Equal(t, 10, sink.frames)
	assert.True(t, sink.stopped)
	assert.False(t, sink.aborted)

	assert.Equal(t, red, sink.last.RGBAAt(320, 360), "pane 0 is the left column")
	assert.Equal(t, blue, sink.last.RGBAAt(960, 360), "pane 1 is the right column")

	seeks := sources[0].seekLog()
	require.Len(t, seeks, 10)
	assert.Equal(t, time.Duration(0), seeks[0])
	assert.Equal(t, 900*time.Millisecond, seeks[9])
	for _, src := range sources {
		assert.True(t, src.isClosed())
	}
}

func TestComposite_PreserveAspectLetterboxes(t *testing.T) {
	sources := []*fakeSource{{color: red}}
	sink := newFakeSink()
	p := newCompositePipeline(t, &fakeOpener{sources: sources}, sink, CompositeConfig{FPS: 5, PreserveAspect: true})
	job := NewJob(writeStreams(t, 1, time.Second), FormatLandscape, StopPolicy{Kind: PolicyShortest})

	_, err := p.Run(context.Background(), job)
	require.NoError(t, err)

	// A 4:3 stream on a 16:9 canvas is pillarboxed.
	assert.Equal(t, 960, sources[0].width)
	assert.Equal(t, 720, sources[0].height)
	assert.Equal(t, color.RGBA{0, 0, 0, 255}, sink.last.RGBAAt(50, 360))
	assert.Equal(t, red, sink.last.RGBAAt(640, 360))
}

func TestComposite_RangePolicy(t *testing.T) {
	sources := []*fakeSource{{color: red}}
	sink := newFakeSink()
	p := newCompositePipeline(t, &fakeOpener{sources: sources}, sink, CompositeConfig{FPS: 10})
	policy := StopPolicy{Kind: PolicyRange, Start: 500 * time.Millisecond, End: 800 * time.Millisecond}
	job := NewJob(writeStreams(t, 1, 2*time.Second), FormatSquare, policy)

	art, err := p.Run(context.Background(), job)
	require.NoError(t, err)
	assert.Equal(t, 3, art.Frames)
	assert.Equal(t, []time.Duration{500 * time.Millisecond, 600 * time.Millisecond, 700 * time.Millisecond}, sources[0].seekLog())
}

func TestComposite_SeekTimeout(t *testing.T) {
	sources := []*fakeSource{{color: red}, {color: blue, block: true}}
	sink := newFakeSink()
	p := newCompositePipeline(t, &fakeOpener{sources: sources}, sink, CompositeConfig{FPS: 10, SeekTimeout: 20 * time.Millisecond})
	job := NewJob(writeStreams(t, 2, time.Second), FormatLandscape, StopPolicy{Kind: PolicyShortest})

	_, err := p.Run(context.Background(), job)
	require.ErrorIs(t, err, ErrSeekTimeout)

	var e *Error
	require.ErrorAs(t, err, &e)
	assert.Equal(t, StateCompositing, e.Stage)
	assert.True(t, sink.aborted)
	assert.False(t, sink.stopped)
	for _, src := range sources {
		assert.True(t, src.isClosed())
	}
	assertNoArtifactDir(t, p, job)
}

func TestComposite_SinkStartFailure(t *testing.T) {
	sources := []*fakeSource{{color: red}}
	sink := newFakeSink()
	sink.startErr = errors.New("encoder missing")
	p := newCompositePipeline(t, &fakeOpener{sources: sources}, sink, CompositeConfig{FPS: 10})
	job := NewJob(writeStreams(t, 1, time.Second), FormatLandscape, StopPolicy{Kind: PolicyShortest})

	_, err := p.Run(context.Background(), job)
	require.ErrorIs(t, err, ErrSinkFailure)
	assert.True(t, sink.aborted)
	assert.Zero(t, sink.frames)
	assert.True(t, sources[0].isClosed())
}

func TestComposite_SourceFailure(t *testing.T) {
	sink := newFakeSink()
	opener := &fakeOpener{openErr: errors.New("no such file")}
	p := newCompositePipeline(t, opener, sink, CompositeConfig{FPS: 10})
	job := NewJob(writeStreams(t, 1, time.Second), FormatLandscape, StopPolicy{Kind: PolicyShortest})

	_, err := p.Run(context.Background(), job)
	require.ErrorIs(t, err, ErrSourceFailure)
	assert.False(t, sink.started)
}

func TestComposite_UnknownDurations(t *testing.T) {
	sink := newFakeSink()
	p := newCompositePipeline(t, &fakeOpener{sources: []*fakeSource{{color: red}}}, sink, CompositeConfig{FPS: 10})
	job := NewJob(writeStreams(t, 1, 0), FormatLandscape, StopPolicy{Kind: PolicyShortest})

	_, err := p.Run(context.Background(), job)
	require.ErrorIs(t, err, ErrInvalidTimeRange)
	assert.False(t, sink.started)
}

func TestComposite_RealtimePacing(t *testing.T) {
	clock := &fakeClock{now: time.Unix(1700000000, 0)}
	sources := []*fakeSource{{color: red}}
	sink := newFakeSink()
	cfg := CompositeConfig{FPS: 10, Pacing: PacingRealtime, Clock: clock}
	p := newCompositePipeline(t, &fakeOpener{sources: sources}, sink, cfg)
	job := NewJob(writeStreams(t, 1, 500*time.Millisecond), FormatLandscape, StopPolicy{Kind: PolicyShortest})

	_, err := p.Run(context.Background(), job)
	require.NoError(t, err)
	require.Len(t, clock.sleeps, 5)
	for _, d := range clock.sleeps {
		assert.Equal(t, 100*time.Millisecond, d)
	}
}

func TestComposite_FrameLoopTimeout(t *testing.T) {
	sources := []*fakeSource{{color: red}}
	sink := newFakeSink()
	cfg := CompositeConfig{FPS: 10, Pacing: PacingRealtime, FrameLoopTimeout: 30 * time.Millisecond}
	p := newCompositePipeline(t, &fakeOpener{sources: sources}, sink, cfg)
	job := NewJob(writeStreams(t, 1, 10*time.Second), FormatLandscape, StopPolicy{Kind: PolicyShortest})

	_, err := p.Run(context.Background(), job)
	require.ErrorIs(t, err, ErrTimeout)
	assert.True(t, sink.aborted)
}

func TestComposite_Cancelled(t *testing.T) {
	sources := []*fakeSource{{color: red}}
	sink := newFakeSink()
	cfg := CompositeConfig{FPS: 10, Pacing: PacingRealtime}
	p := newCompositePipeline(t, &fakeOpener{sources: sources}, sink, cfg)
	job := NewJob(writeStreams(t, 1, 10*time.Second), FormatLandscape, StopPolicy{Kind: PolicyShortest})

	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(30*time.Millisecond, cancel)

	_, err := p.Run(ctx, job)
	require.ErrorIs(t, err, ErrCancelled)
	assert.Equal(t, KindCancelled, KindOf(err))
	assertNoArtifactDir(t, p, job)
}
