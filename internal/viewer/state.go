// Package viewer holds the per-clip-set viewer state: which camera panes are
// shown, in what order, and the shared playback position.
package viewer

import (
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/gbgbgb8/tesla-x-cam/internal/catalog"
)

var (
	ErrUnknownCamera = errors.New("unknown camera")
	ErrInvalidOrder  = errors.New("order must list every camera exactly once")
	ErrInvalidSeek   = errors.New("position must not be negative")
)

// Pane is one camera slot in the viewer grid.
type Pane struct {
	Camera   string        `json:"camera"`
	Visible  bool          `json:"visible"`
	Position time.Duration `json:"position"`
	Playing  bool          `json:"playing"`
}

// State is the viewer state of one clip set. It is not safe for concurrent
// use; Store serializes access.
type State struct {
	panes     []Pane
	position  time.Duration
	playing   bool
	updatedAt time.Time
}

// NewState returns every camera visible in the default order.
func NewState() *State {
	s := &State{updatedAt: time.Now().UTC()}
	for _, cam := range catalog.Cameras {
		s.panes = append(s.panes, Pane{Camera: cam, Visible: true})
	}
	return s
}

func (s *State) index(camera string) int {
	return slices.IndexFunc(s.panes, func(p Pane) bool { return p.Camera == camera })
}

func (s *State) touch() {
	s.updatedAt = time.Now().UTC()
}

func (s *State) SetVisible(camera string, visible bool) error {
	i := s.index(camera)
	if i < 0 {
		return fmt.Errorf("%w: %q", ErrUnknownCamera, camera)
	}
	s.panes[i].Visible = visible
	s.touch()
	return nil
}

// Reorder replaces the pane order. order must be a permutation of the
// current cameras.
func (s *State) Reorder(order []string) error {
	if len(order) != len(s.panes) {
		return ErrInvalidOrder
	}
	next := make([]Pane, 0, len(order))
	for _, cam := range order {
		i := s.index(cam)
		if i < 0 {
			return fmt.Errorf("%w: %q", ErrUnknownCamera, cam)
		}
		if slices.ContainsFunc(next, func(p Pane) bool { return p.Camera == cam }) {
			return ErrInvalidOrder
		}
		next = append(next, s.panes[i])
	}
	s.panes = next
	s.touch()
	return nil
}

// Move puts camera at index, shifting the panes in between.
func (s *State) Move(camera string, index int) error {
	i := s.index(camera)
	if i < 0 {
		return fmt.Errorf("%w: %q", ErrUnknownCamera, camera)
	}
	index = max(0, min(index, len(s.panes)-1))
	p := s.panes[i]
	s.panes = slices.Delete(s.panes, i, i+1)
	s.panes = slices.Insert(s.panes, index, p)
	s.touch()
	return nil
}

// Play, Pause and Seek act on every pane at once.

func (s *State) Play() {
	s.playing = true
	for i := range s.panes {
		s.panes[i].Playing = true
	}
	s.touch()
}

func (s *State) Pause() {
	s.playing = false
	for i := range s.panes {
		s.panes[i].Playing = false
	}
	s.touch()
}

func (s *State) Seek(pos time.Duration) error {
	if pos < 0 {
		return ErrInvalidSeek
	}
	s.position = pos
	for i := range s.panes {
		s.panes[i].Position = pos
	}
	s.touch()
	return nil
}

// Snapshot returns a copy of the panes in display order.
func (s *State) Snapshot() []Pane {
	return slices.Clone(s.panes)
}

// VisibleCameras lists the visible cameras in display order.
func (s *State) VisibleCameras() []string {
	var out []string
	for _, p := range s.panes {
		if p.Visible {
			out = append(out, p.Camera)
		}
	}
	return out
}

// View is the JSON form of a State.
type View struct {
	Set       string        `json:"set"`
	Panes     []Pane        `json:"panes"`
	Position  time.Duration `json:"position"`
	Playing   bool          `json:"playing"`
	UpdatedAt time.Time     `json:"updated_at"`
}

func (s *State) View(set string) View {
	return View{
		Set:       set,
		Panes:     s.Snapshot(),
		Position:  s.position,
		Playing:   s.playing,
		UpdatedAt: s.updatedAt,
	}
}
