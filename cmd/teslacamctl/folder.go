package main

import (
	"fmt"
	"io/fs"
	"path/filepath"
	"strings"

	"github.com/gbgbgb8/tesla-x-cam/internal/catalog"
	"github.com/gbgbgb8/tesla-x-cam/internal/viewer"
)

// scanFolder groups the dashcam files under root into clip sets without
// touching the agent database.
func scanFolder(root string) ([]*catalog.ClipSet, error) {
	var clips []*catalog.Clip
	err := filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if p != root && strings.HasPrefix(d.Name(), ".") {
				return fs.SkipDir
			}
			return nil
		}
		if !catalog.IsVideoFile(p) {
			return nil
		}
		camera, at, ok := catalog.ParseClipName(p)
		if !ok {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		clips = append(clips, &catalog.Clip{
			Path:       p,
			Filename:   d.Name(),
			Camera:     camera,
			CapturedAt: at,
			Size:       info.Size(),
			Mtime:      info.ModTime(),
		})
		return nil
	})
	if err != nil {
		return nil, err
	}
	return catalog.GroupSets(clips), nil
}

// pickSet returns the set named key, or the latest set when key is empty.
func pickSet(sets []*catalog.ClipSet, key string) (*catalog.ClipSet, error) {
	if key == "" {
		if set := catalog.LatestSet(sets); set != nil {
			return set, nil
		}
		return nil, fmt.Errorf("no clip sets found")
	}
	for _, set := range sets {
		if set.Key == key {
			return set, nil
		}
	}
	return nil, fmt.Errorf("clip set %q not found", key)
}

// paneState shows cameras in the given order and hides the rest. An empty
// list keeps the default panes.
func paneState(cameras []string) (*viewer.State, error) {
	st := viewer.NewState()
	if len(cameras) == 0 {
		return st, nil
	}
	for _, cam := range catalog.Cameras {
		if err := st.SetVisible(cam, false); err != nil {
			return nil, err
		}
	}
	for i, cam := range cameras {
		if err := st.SetVisible(cam, true); err != nil {
			return nil, err
		}
		if err := st.Move(cam, i); err != nil {
			return nil, err
		}
	}
	return st, nil
}
