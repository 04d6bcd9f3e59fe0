package export

import (
	"time"

	"github.com/gbgbgb8/tesla-x-cam/internal/layout"
)

// Stream is one visible camera pane as seen at export time.
type Stream struct {
	Index    int           `json:"index"`
	Camera   string        `json:"camera"`
	Locator  string        `json:"locator"`
	Width    int           `json:"width"`
	Height   int           `json:"height"`
	Duration time.Duration `json:"duration"`
	Position time.Duration `json:"position"`
}

// VisibleSet is the ordered list of streams to export. Entry i is drawn
// into rectangle i of the layout plan.
type VisibleSet []Stream

// MinDuration returns the shortest stream duration. ok is false when the
// set is empty or any duration is unknown.
func (vs VisibleSet) MinDuration() (d time.Duration, ok bool) {
	if len(vs) == 0 {
		return 0, false
	}
	for i, s := range vs {
		if s.Duration <= 0 {
			return 0, false
		}
		if i == 0 || s.Duration < d {
			d = s.Duration
		}
	}
	return d, true
}

func (vs VisibleSet) Cameras() []string {
	out := make([]string, len(vs))
	for i, s := range vs {
		out[i] = s.Camera
	}
	return out
}

// Clone copies the set so later viewer changes cannot reach a running job.
func (vs VisibleSet) Clone() VisibleSet {
	if vs == nil {
		return nil
	}
	out := make(VisibleSet, len(vs))
	copy(out, vs)
	return out
}

// targets returns where each stream's pixels land inside its pane.
func targets(vs VisibleSet, plan []layout.Rect, preserveAspect bool) []layout.Rect {
	out := make([]layout.Rect, len(plan))
	for i, r := range plan {
		if preserveAspect && i < len(vs) {
			out[i] = r.Fit(vs[i].Width, vs[i].Height)
		} else {
			out[i] = r
		}
	}
	return out
}
