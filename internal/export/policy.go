package export

import (
	"fmt"
	"math"
	"time"
)

type PolicyKind string

const (
	PolicyShortest PolicyKind = "shortest"
	PolicyRange    PolicyKind = "range"
	PolicyFrames   PolicyKind = "frames"
)

func ParsePolicyKind(s string) (PolicyKind, error) {
	switch k := PolicyKind(s); k {
	case PolicyShortest, PolicyRange, PolicyFrames:
		return k, nil
	case "":
		return PolicyShortest, nil
	}
	return "", errorf(KindInvalidTimeRange, "unknown stop policy %q", s)
}

// StopPolicy decides how many frames an export covers and where it starts.
type StopPolicy struct {
	Kind   PolicyKind    `json:"kind"`
	Start  time.Duration `json:"start,omitempty"`
	End    time.Duration `json:"end,omitempty"`
	Frames int           `json:"frames,omitempty"`
}

func (p StopPolicy) String() string {
	switch p.Kind {
	case PolicyRange:
		return fmt.Sprintf("range[%s,%s)", p.Start, p.End)
	case PolicyFrames:
		return fmt.Sprintf("frames(%d)", p.Frames)
	}
	return string(p.Kind)
}

// Validate checks the policy on its own, without stream durations.
func (p StopPolicy) Validate() error {
	switch p.Kind {
	case PolicyShortest:
		return nil
	case PolicyRange:
		if p.Start < 0 || p.End <= p.Start {
			return errorf(KindInvalidTimeRange, "range [%s, %s) is empty", p.Start, p.End)
		}
		return nil
	case PolicyFrames:
		if p.Frames <= 0 {
			return errorf(KindInvalidTimeRange, "frame budget %d must be positive", p.Frames)
		}
		return nil
	}
	return errorf(KindInvalidTimeRange, "unknown stop policy %q", p.Kind)
}

// FramePlan is a policy resolved against a visible set.
type FramePlan struct {
	Start  time.Duration
	Frames int
	FPS    int
}

// At returns the stream time of frame i.
func (fp FramePlan) At(i int) time.Duration {
	return fp.Start + time.Duration(i)*time.Second/time.Duration(fp.FPS)
}

func (fp FramePlan) Duration() time.Duration {
	return time.Duration(fp.Frames) * time.Second / time.Duration(fp.FPS)
}

// Plan resolves the policy for the composite frame loop. Shortest needs every
// duration to be known; range and frames clamp to the shortest stream when
// durations are known.
func (p StopPolicy) Plan(vs VisibleSet, fps int) (FramePlan, error) {
	if fps <= 0 {
		return FramePlan{}, errorf(KindInvalidTimeRange, "fps %d must be positive", fps)
	}
	if err := p.Validate(); err != nil {
		return FramePlan{}, err
	}
	minDur, known := vs.MinDuration()
	fp := FramePlan{FPS: fps}

	switch p.Kind {
	case PolicyShortest:
		if !known {
			return FramePlan{}, errorf(KindInvalidTimeRange, "stream durations unknown")
		}
		fp.Frames = frameCount(minDur, fps)
	case PolicyRange:
		end := p.End
		if known && end > minDur {
			end = minDur
		}
		if p.Start >= end {
			return FramePlan{}, errorf(KindInvalidTimeRange, "range [%s, %s) lies past the shortest stream", p.Start, p.End)
		}
		fp.Start = p.Start
		fp.Frames = frameCount(end-p.Start, fps)
	case PolicyFrames:
		fp.Frames = p.Frames
		if known {
			fp.Frames = min(fp.Frames, frameCount(minDur, fps))
		}
	}

	if fp.Frames <= 0 {
		return FramePlan{}, errorf(KindInvalidTimeRange, "policy %s yields no frames", p)
	}
	return fp, nil
}

func frameCount(d time.Duration, fps int) int {
	return int(math.Floor(d.Seconds()*float64(fps) + 1e-9))
}
