package playback

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

var (
	ErrInvalidRange  = errors.New("invalid range format")
	ErrUnsatisfiable = errors.New("range not satisfiable")
)

// Range is an inclusive byte span of a file of Size bytes.
type Range struct {
	Start int64
	End   int64
	Size  int64
}

func (r Range) ContentLength() int64 {
	return r.End - r.Start + 1
}

// ContentRange is the Content-Range value for a partial response.
func (r Range) ContentRange() string {
	return fmt.Sprintf("bytes %d-%d/%d", r.Start, r.End, r.Size)
}

// UnsatisfiedRange is the Content-Range value sent with a 416.
func UnsatisfiedRange(size int64) string {
	return fmt.Sprintf("bytes */%d", size)
}

// ParseRange reads a Range header against a file of size bytes. ok is
// false when the header is empty. Only the first span of a multi-range
// request is honored; players seeking in a clip or an export never send
// more than one.
func ParseRange(header string, size int64) (r Range, ok bool, err error) {
	if header == "" {
		return Range{}, false, nil
	}

	spec, found := strings.CutPrefix(header, "bytes=")
	if !found {
		return Range{}, false, ErrInvalidRange
	}
	spec, _, _ = strings.Cut(spec, ",")

	first, last, found := strings.Cut(strings.TrimSpace(spec), "-")
	if !found {
		return Range{}, false, ErrInvalidRange
	}

	r.Size = size
	switch {
	case first == "":
		n, err := strconv.ParseInt(last, 10, 64)
		if err != nil || n <= 0 {
			return Range{}, false, ErrInvalidRange
		}
		r.Start, r.End = max(size-n, 0), size-1
	default:
		if r.Start, err = strconv.ParseInt(first, 10, 64); err != nil || r.Start < 0 {
			return Range{}, false, ErrInvalidRange
		}
		r.End = size - 1
		if last != "" {
			end, err := strconv.ParseInt(last, 10, 64)
			if err != nil {
				return Range{}, false, ErrInvalidRange
			}
			r.End = min(end, size-1)
			if end < r.Start {
				return Range{}, false, ErrUnsatisfiable
			}
		}
	}

	if r.Start >= size || r.End < r.Start {
		return Range{}, false, ErrUnsatisfiable
	}
	return r, true, nil
}
