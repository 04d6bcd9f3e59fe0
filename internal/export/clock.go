package export

import (
	"context"
	"fmt"
	"time"
)

// Pacing selects how the composite frame loop is timed.
type Pacing string

const (
	// PacingFast renders frames as quickly as the sources decode.
	PacingFast Pacing = "fast"
	// PacingRealtime holds each frame for one tick of the output rate.
	PacingRealtime Pacing = "realtime"
)

func ParsePacing(s string) (Pacing, error) {
	switch p := Pacing(s); p {
	case PacingFast, PacingRealtime:
		return p, nil
	case "":
		return PacingFast, nil
	}
	return "", fmt.Errorf("unknown pacing %q", s)
}

// Clock is the time source for frame pacing.
type Clock interface {
	Now() time.Time
	// Sleep waits for d or until ctx ends, returning ctx's error in the latter case.
	Sleep(ctx context.Context, d time.Duration) error
}

type realClock struct{}

// RealClock is the wall clock.
var RealClock Clock = realClock{}

func (realClock) Now() time.Time { return time.Now() }

func (realClock) Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// pacer schedules frame i at start + i*interval so slow frames do not
// accumulate drift.
type pacer struct {
	clock    Clock
	start    time.Time
	interval time.Duration
}

func newPacer(clock Clock, fps int) *pacer {
	return &pacer{clock: clock, start: clock.Now(), interval: time.Second / time.Duration(fps)}
}

func (p *pacer) wait(ctx context.Context, frame int) error {
	due := p.start.Add(time.Duration(frame+1) * p.interval)
	return p.clock.Sleep(ctx, due.Sub(p.clock.Now()))
}
