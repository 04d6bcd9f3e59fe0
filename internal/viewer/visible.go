package viewer

import (
	"github.com/gbgbgb8/tesla-x-cam/internal/catalog"
	"github.com/gbgbgb8/tesla-x-cam/internal/export"
)

// VisibleSet builds the export input from a pane snapshot. Visible panes
// whose camera has no clip in set are skipped; indices follow the result.
func VisibleSet(panes []Pane, set *catalog.ClipSet) export.VisibleSet {
	if set == nil {
		return nil
	}
	var vs export.VisibleSet
	for _, p := range panes {
		if !p.Visible {
			continue
		}
		clip := set.Clip(p.Camera)
		if clip == nil {
			continue
		}
		vs = append(vs, export.Stream{
			Index:    len(vs),
			Camera:   p.Camera,
			Locator:  clip.Path,
			Width:    clip.Width,
			Height:   clip.Height,
			Duration: clip.Duration(),
			Position: p.Position,
		})
	}
	return vs
}

// Request builds an export request from the stored panes of set.
func (s *Store) Request(set *catalog.ClipSet, format export.FormatTag, policy export.StopPolicy) export.Request {
	return export.Request{
		Visible: VisibleSet(s.Snapshot(set.Key), set),
		Format:  format,
		Policy:  policy,
	}
}
