package export

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNameComponent(t *testing.T) {
	for _, tt := range []struct {
		in   string
		max  int
		want string
	}{
		{"landscape", 32, "landscape"},
		{" Portrait ", 32, "portrait"},
		{"../../etc/passwd", 32, "etc_passwd"},
		{"a\nb\x00c", 32, "a_b_c"},
		{"left_repeater-2", 32, "left_repeater-2"},
		{"abcdefghij", 4, "abcd"},
		{"abc def", 4, "abc"},
		{"<<>>", 32, ""},
	} {
		assert.Equal(t, tt.want, NameComponent(tt.in, tt.max), "input %q", tt.in)
	}
}

func TestArtifactName_StaysInDirectory(t *testing.T) {
	name := ArtifactName(FormatTag("../square"), ContainerWebM)
	assert.Equal(t, "tesla_cam_export_square.webm", name)
	assert.Equal(t, name, filepath.Base(name))
}

func TestValidateOutputDir(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "export.mp4")
	assert.NoError(t, os.WriteFile(file, []byte("x"), 0o644))

	assert.NoError(t, ValidateOutputDir(dir))

	for _, bad := range []string{
		"",
		"   ",
		"exports",
		dir + "/../" + filepath.Base(dir),
		dir + "/",
		filepath.Join(dir, "missing"),
		file,
	} {
		assert.Error(t, ValidateOutputDir(bad), "dir %q", bad)
	}

	entries, err := os.ReadDir(dir)
	assert.NoError(t, err)
	assert.Len(t, entries, 1, "writability probe must not leave files behind")
}
