package export

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gbgbgb8/tesla-x-cam/internal/ffmpeg"
)

// fakeRunner writes the last argument as the output file inside opts.Dir.
type fakeRunner struct {
	exitCode int
	dirs     []string
}

func (f *fakeRunner) Run(ctx context.Context, args []string, opts ffmpeg.RunOptions) (ffmpeg.RunResult, error) {
	f.dirs = append(f.dirs, opts.Dir)
	if f.exitCode != 0 {
		return ffmpeg.RunResult{ExitCode: f.exitCode, StderrTail: "Invalid data found when processing input"}, nil
	}
	out := filepath.Join(opts.Dir, args[len(args)-1])
	if err := os.WriteFile(out, []byte("mp4data"), 0644); err != nil {
		return ffmpeg.RunResult{}, err
	}
	if opts.Progress != nil {
		opts.Progress(ffmpeg.Progress{Frame: 30, Done: true})
	}
	return ffmpeg.RunResult{Duration: time.Millisecond}, nil
}

type staticCaps struct {
	caps *ffmpeg.Capabilities
}

func (s staticCaps) Get(ctx context.Context) (*ffmpeg.Capabilities, error) {
	return s.caps, nil
}

func TestSandboxTranscoder_InitOnce(t *testing.T) {
	root := t.TempDir()
	tc := NewSandboxTranscoder(&fakeRunner{}, staticCaps{&ffmpeg.Capabilities{HasH264: true}}, root, testLogger())

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, tc.Init(context.Background()))
		}()
	}
	wg.Wait()

	entries, err := os.ReadDir(root)
	require.NoError(t, err)
	assert.Len(t, entries, 1, "concurrent Init must create one sandbox")

	require.NoError(t, tc.Close())
	entries, _ = os.ReadDir(root)
	assert.Empty(t, entries)
}

func TestSandboxTranscoder_RequiresH264(t *testing.T) {
	tc := NewSandboxTranscoder(&fakeRunner{}, staticCaps{&ffmpeg.Capabilities{HasVP8: true}}, t.TempDir(), testLogger())
	err := tc.Init(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "libx264")
}

func TestSandboxTranscoder_RejectsPaths(t *testing.T) {
	tc := NewSandboxTranscoder(&fakeRunner{}, nil, t.TempDir(), testLogger())
	require.Error(t, tc.WriteFile("input0.mp4", strings.NewReader("x")), "not initialized")

	require.NoError(t, tc.Init(context.Background()))
	for _, name := range []string{"../escape.mp4", "sub/input.mp4", ".hidden", ""} {
		assert.Error(t, tc.WriteFile(name, strings.NewReader("x")), name)
	}
}

func TestSandboxTranscoder_RoundTrip(t *testing.T) {
	runner := &fakeRunner{}
	tc := NewSandboxTranscoder(runner, nil, t.TempDir(), testLogger())
	require.NoError(t, tc.Init(context.Background()))

	require.NoError(t, tc.WriteFile("input0.mp4", strings.NewReader("clip")))
	require.NoError(t, tc.Run(context.Background(), []string{"-i", "input0.mp4", "output.mp4"}, nil))

	rc, err := tc.ReadFile("output.mp4")
	require.NoError(t, err)
	data, _ := io.ReadAll(rc)
	rc.Close()
	assert.Equal(t, "mp4data", string(data))

	files, err := tc.Files()
	require.NoError(t, err)
	assert.Equal(t, []string{"input0.mp4", "output.mp4"}, files)

	require.NoError(t, tc.Remove("input0.mp4"))
	require.NoError(t, tc.Remove("output.mp4"))
	require.NoError(t, tc.Remove("output.mp4"), "removing a missing file is not an error")
}

func TestSandboxTranscoder_NonZeroExit(t *testing.T) {
	tc := NewSandboxTranscoder(&fakeRunner{exitCode: 1}, nil, t.TempDir(), testLogger())
	require.NoError(t, tc.Init(context.Background()))

	err := tc.Run(context.Background(), []string{"output.mp4"}, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "code 1")
}

func TestTranscode_WithSandboxLeavesNothingBehind(t *testing.T) {
	tc := NewSandboxTranscoder(&fakeRunner{}, nil, t.TempDir(), testLogger())
	p := newTranscodePipeline(t, tc, TranscodeConfig{})
	job := NewJob(writeStreams(t, 2, time.Second), FormatPortrait, StopPolicy{Kind: PolicyShortest})

	art, err := p.Run(context.Background(), job)
	require.NoError(t, err)
	assert.Equal(t, 30, art.Frames)
	assert.Equal(t, 720, art.Width)
	assert.Equal(t, 1280, art.Height)

	files, err := tc.Files()
	require.NoError(t, err)
	assert.Empty(t, files)
}

func TestSandboxTranscoder_InitRemovesStaleSandboxes(t *testing.T) {
	root := t.TempDir()
	caps := staticCaps{&ffmpeg.Capabilities{HasH264: true}}

	crashed := NewSandboxTranscoder(&fakeRunner{}, caps, root, testLogger())
	require.NoError(t, crashed.Init(context.Background()))
	require.NoError(t, crashed.WriteFile("input0.mp4", strings.NewReader("staged clip")))

	keep := filepath.Join(root, "notes")
	require.NoError(t, os.Mkdir(keep, 0755))

	restarted := NewSandboxTranscoder(&fakeRunner{}, caps, root, testLogger())
	require.NoError(t, restarted.Init(context.Background()))

	sandboxes, err := filepath.Glob(filepath.Join(root, "sandbox-*"))
	require.NoError(t, err)
	assert.Len(t, sandboxes, 1, "only the new sandbox remains")

	staged, err := filepath.Glob(filepath.Join(root, "sandbox-*", "*"))
	require.NoError(t, err)
	assert.Empty(t, staged)
	assert.DirExists(t, keep)
}

func TestManager_ShutdownRemovesSandbox(t *testing.T) {
	root := t.TempDir()
	tc := NewSandboxTranscoder(&fakeRunner{}, nil, root, testLogger())
	m, _, _ := newTestManager(t, tc)

	_, err := m.Start(Request{
		Visible: writeStreams(t, 1, time.Second),
		Format:  FormatLandscape,
		Policy:  StopPolicy{Kind: PolicyShortest},
	})
	require.NoError(t, err)
	waitDone(t, m)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, m.Shutdown(ctx))

	entries, err := os.ReadDir(root)
	require.NoError(t, err)
	assert.Empty(t, entries)
}
