package export

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// NameComponent reduces s to a lower-case file name component of at most
// maxLen bytes. Runs of anything but letters, digits, '-' and '_' collapse
// to one '_'.
func NameComponent(s string, maxLen int) string {
	var b strings.Builder
	sep := false
	for _, r := range strings.ToLower(strings.TrimSpace(s)) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '-', r == '_':
			b.WriteRune(r)
			sep = false
		case !sep && b.Len() > 0:
			b.WriteByte('_')
			sep = true
		}
	}
	out := strings.TrimRight(b.String(), "_")
	if maxLen > 0 && len(out) > maxLen {
		out = strings.TrimRight(out[:maxLen], "_")
	}
	return out
}

// ValidateOutputDir checks a caller-chosen copy destination: an absolute,
// clean path to an existing directory the agent can write to.
func ValidateOutputDir(dir string) error {
	if strings.TrimSpace(dir) == "" {
		return errors.New("output_dir is required")
	}
	if !filepath.IsAbs(dir) {
		return errors.New("output_dir must be an absolute path")
	}
	if filepath.Clean(dir) != dir {
		return errors.New("output_dir must be a clean path")
	}

	info, err := os.Stat(dir)
	if errors.Is(err, os.ErrNotExist) {
		return errors.New("output_dir does not exist")
	}
	if err != nil {
		return fmt.Errorf("invalid output_dir: %w", err)
	}
	if !info.IsDir() {
		return errors.New("output_dir is not a directory")
	}

	probe, err := os.CreateTemp(dir, ".teslacam-*")
	if err != nil {
		return errors.New("output_dir is not writable")
	}
	probe.Close()
	os.Remove(probe.Name())
	return nil
}
