// Package layout computes pane rectangles for the composited export canvas.
//
// Splits always give floor(n/2) pixels to the left/top cell and the rest to
// the right/bottom cell, so odd canvas sizes still tile exactly.
package layout

import (
	"errors"
	"fmt"
)

// MaxPanes is the largest pane count the engine can tile.
const MaxPanes = 4

var (
	ErrUnsupportedPaneCount = errors.New("unsupported pane count")
	ErrInvalidCanvas        = errors.New("canvas dimensions must be positive")
)

// UnsupportedPaneCountError carries the pane count that could not be tiled.
type UnsupportedPaneCountError struct {
	Count int
}

func (e *UnsupportedPaneCountError) Error() string {
	return fmt.Sprintf("unsupported pane count %d (want 1-%d)", e.Count, MaxPanes)
}

func (e *UnsupportedPaneCountError) Is(target error) bool {
	return target == ErrUnsupportedPaneCount
}

type Rect struct {
	X int `json:"x"`
	Y int `json:"y"`
	W int `json:"w"`
	H int `json:"h"`
}

func (r Rect) Area() int {
	return r.W * r.H
}

func (r Rect) Empty() bool {
	return r.W <= 0 || r.H <= 0
}

// Intersect returns the overlapping region of r and o, or a zero Rect.
func (r Rect) Intersect(o Rect) Rect {
	x0, y0 := max(r.X, o.X), max(r.Y, o.Y)
	x1, y1 := min(r.X+r.W, o.X+o.W), min(r.Y+r.H, o.Y+o.H)
	if x1 <= x0 || y1 <= y0 {
		return Rect{}
	}
	return Rect{X: x0, Y: y0, W: x1 - x0, H: y1 - y0}
}

// Fit returns the largest sub-rectangle of r with the aspect ratio of a
// srcW x srcH source, centered inside r. A source with unknown size fills r.
func (r Rect) Fit(srcW, srcH int) Rect {
	if srcW <= 0 || srcH <= 0 || r.Empty() {
		return r
	}
	w, h := r.W, r.W*srcH/srcW
	if h > r.H {
		w, h = r.H*srcW/srcH, r.H
	}
	w, h = max(w, 1), max(h, 1)
	return Rect{X: r.X + (r.W-w)/2, Y: r.Y + (r.H-h)/2, W: w, H: h}
}

func (r Rect) String() string {
	return fmt.Sprintf("%dx%d+%d+%d", r.W, r.H, r.X, r.Y)
}

// Compute returns exactly paneCount rectangles tiling a width x height
// canvas. Rectangle i belongs to pane i.
func Compute(paneCount, width, height int) ([]Rect, error) {
	if paneCount < 1 || paneCount > MaxPanes {
		return nil, &UnsupportedPaneCountError{Count: paneCount}
	}
	if width <= 0 || height <= 0 {
		return nil, fmt.Errorf("%w: %dx%d", ErrInvalidCanvas, width, height)
	}

	left, right := split(width)
	top, bottom := split(height)

	switch paneCount {
	case 1:
		return []Rect{{0, 0, width, height}}, nil
	case 2:
		return []Rect{
			{0, 0, left, height},
			{left, 0, right, height},
		}, nil
	case 3:
		return []Rect{
			{0, 0, width, top},
			{0, top, left, bottom},
			{left, top, right, bottom},
		}, nil
	default:
		return []Rect{
			{0, 0, left, top},
			{left, 0, right, top},
			{0, top, left, bottom},
			{left, top, right, bottom},
		}, nil
	}
}

func split(n int) (int, int) {
	first := n / 2
	return first, n - first
}
