package main

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeClips(t *testing.T, dir string, names ...string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(dir, 0o755))
	for _, n := range names {
		require.NoError(t, os.WriteFile(filepath.Join(dir, n), []byte("x"), 0o644))
	}
}

func TestScanFolder(t *testing.T) {
	root := t.TempDir()
	writeClips(t, filepath.Join(root, "RecentClips"),
		"2024-03-09_18-21-41-front.mp4",
		"2024-03-09_18-21-41-back.mp4",
		"2024-03-09_18-22-41-front.mp4",
		"2024-03-09_18-22-41-back.mp4",
		"2024-03-09_18-22-41-left_repeater.mp4",
		"2024-03-09_18-22-41-right_repeater.mp4",
		"notes.txt",
		"random.mp4",
	)
	writeClips(t, filepath.Join(root, ".Trashes"), "2024-03-09_18-23-41-front.mp4")

	sets, err := scanFolder(root)
	require.NoError(t, err)
	require.Len(t, sets, 2)
	assert.Equal(t, "2024-03-09_18-21-41", sets[0].Key)
	assert.Len(t, sets[1].Clips, 4)

	latest, err := pickSet(sets, "")
	require.NoError(t, err)
	assert.Equal(t, "2024-03-09_18-22-41", latest.Key)

	first, err := pickSet(sets, "2024-03-09_18-21-41")
	require.NoError(t, err)
	assert.Len(t, first.Clips, 2)

	_, err = pickSet(sets, "2020-01-01_00-00-00")
	assert.ErrorContains(t, err, "not found")

	_, err = pickSet(nil, "")
	assert.Error(t, err)
}

func TestPaneState(t *testing.T) {
	st, err := paneState(nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"front", "back", "left", "right"}, st.VisibleCameras())

	st, err = paneState([]string{"left", "front"})
	require.NoError(t, err)
	assert.Equal(t, []string{"left", "front"}, st.VisibleCameras())

	_, err = paneState([]string{"roof"})
	assert.Error(t, err)
}

func TestLayoutCommand(t *testing.T) {
	t.Setenv("TESLACAM_DATA_DIR", t.TempDir())

	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetArgs([]string{"layout", "3", "--format", "square"})
	require.NoError(t, rootCmd.Execute())
	assert.Contains(t, out.String(), "square")
	assert.Contains(t, out.String(), "2:")

	rootCmd.SetArgs([]string{"layout", "5"})
	assert.Error(t, rootCmd.Execute())
}
