package catalog

import (
	"path/filepath"
	"sort"
	"strings"
	"time"
)

// Camera names, in default pane order.
const (
	CameraFront = "front"
	CameraBack  = "back"
	CameraLeft  = "left"
	CameraRight = "right"
)

// Cameras lists every camera in default pane order.
var Cameras = []string{CameraFront, CameraBack, CameraLeft, CameraRight}

// SetKeyLayout is the timestamp prefix dashcam files share within one set.
const SetKeyLayout = "2006-01-02_15-04-05"

var cameraAliases = map[string]string{
	"front":          CameraFront,
	"back":           CameraBack,
	"left":           CameraLeft,
	"left_repeater":  CameraLeft,
	"right":          CameraRight,
	"right_repeater": CameraRight,
}

// ParseClipName reads a dashcam file name such as
// "2024-03-09_18-22-41-left_repeater.mp4". Timestamps are local time.
func ParseClipName(name string) (camera string, capturedAt time.Time, ok bool) {
	base := strings.TrimSuffix(filepath.Base(name), filepath.Ext(name))
	if len(base) < len(SetKeyLayout)+2 || base[len(SetKeyLayout)] != '-' {
		return "", time.Time{}, false
	}

	ts, err := time.ParseInLocation(SetKeyLayout, base[:len(SetKeyLayout)], time.Local)
	if err != nil {
		return "", time.Time{}, false
	}
	cam, known := cameraAliases[strings.ToLower(base[len(SetKeyLayout)+1:])]
	if !known {
		return "", time.Time{}, false
	}
	return cam, ts, true
}

// ClipSet groups the per-camera clips recorded at one timestamp.
type ClipSet struct {
	Key        string    `json:"key"`
	CapturedAt time.Time `json:"captured_at"`
	Clips      []*Clip   `json:"clips"` // camera order, missing cameras omitted
}

// Clip returns the set's clip for camera, or nil.
func (s *ClipSet) Clip(camera string) *Clip {
	if i := s.index(camera); i >= 0 {
		return s.Clips[i]
	}
	return nil
}

func (s *ClipSet) index(camera string) int {
	for i, c := range s.Clips {
		if c.Camera == camera {
			return i
		}
	}
	return -1
}

// Complete reports whether every camera is present.
func (s *ClipSet) Complete() bool {
	for _, cam := range Cameras {
		if s.Clip(cam) == nil {
			return false
		}
	}
	return true
}

// SetKey formats the key for a capture timestamp.
func SetKey(t time.Time) string {
	return t.Format(SetKeyLayout)
}

// GroupSets groups dashcam clips by timestamp, oldest first. Clips without
// a parsed camera and timestamp are skipped; if a camera repeats within a
// set the newest file (by mtime) wins.
func GroupSets(clips []*Clip) []*ClipSet {
	byKey := make(map[string]*ClipSet)
	for _, c := range clips {
		if c.Camera == "" || c.CapturedAt.IsZero() {
			continue
		}
		key := SetKey(c.CapturedAt)
		set, ok := byKey[key]
		if !ok {
			set = &ClipSet{Key: key, CapturedAt: c.CapturedAt}
			byKey[key] = set
		}
		if i := set.index(c.Camera); i >= 0 {
			if c.Mtime.After(set.Clips[i].Mtime) {
				set.Clips[i] = c
			}
			continue
		}
		set.Clips = append(set.Clips, c)
	}

	sets := make([]*ClipSet, 0, len(byKey))
	for _, set := range byKey {
		sort.SliceStable(set.Clips, func(i, j int) bool {
			return cameraRank(set.Clips[i].Camera) < cameraRank(set.Clips[j].Camera)
		})
		sets = append(sets, set)
	}
	sort.Slice(sets, func(i, j int) bool { return sets[i].CapturedAt.Before(sets[j].CapturedAt) })
	return sets
}

// LatestSet picks the newest complete set, falling back to the newest set
// of any size. Returns nil for no sets.
func LatestSet(sets []*ClipSet) *ClipSet {
	for i := len(sets) - 1; i >= 0; i-- {
		if sets[i].Complete() {
			return sets[i]
		}
	}
	if len(sets) == 0 {
		return nil
	}
	return sets[len(sets)-1]
}

// TimeRange is the span a source's dashcam clips cover.
type TimeRange struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

// SetsRange spans the first set's timestamp to the end of the last set,
// extended by its longest probed clip. ok is false for no sets.
func SetsRange(sets []*ClipSet) (TimeRange, bool) {
	if len(sets) == 0 {
		return TimeRange{}, false
	}
	last := sets[len(sets)-1]
	end := last.CapturedAt
	var longest time.Duration
	for _, c := range last.Clips {
		if d := c.Duration(); d > longest {
			longest = d
		}
	}
	return TimeRange{Start: sets[0].CapturedAt, End: end.Add(longest)}, true
}

func cameraRank(camera string) int {
	for i, c := range Cameras {
		if c == camera {
			return i
		}
	}
	return len(Cameras)
}
