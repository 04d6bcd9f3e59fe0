package export

import (
	"context"
	"errors"
	"fmt"
)

// Kind classifies why an export failed.
type Kind string

const (
	KindNoVisibleStreams           Kind = "no_visible_streams"
	KindInvalidFormat              Kind = "invalid_format"
	KindUnsupportedPaneCount       Kind = "unsupported_pane_count"
	KindTranscoderInitFailed       Kind = "transcoder_init_failed"
	KindTranscoderInvocationFailed Kind = "transcoder_invocation_failed"
	KindSinkFailure                Kind = "sink_failure"
	KindSeekTimeout                Kind = "seek_timeout"
	KindSourceFailure              Kind = "source_failure"
	KindInvalidTimeRange           Kind = "invalid_time_range"
	KindCancelled                  Kind = "cancelled"
	KindTimeout                    Kind = "timeout"
)

var (
	ErrNoVisibleStreams           = errors.New("no visible streams")
	ErrInvalidFormat              = errors.New("invalid export format")
	ErrUnsupportedPaneCount       = errors.New("unsupported pane count")
	ErrTranscoderInitFailed       = errors.New("transcoder init failed")
	ErrTranscoderInvocationFailed = errors.New("transcoder invocation failed")
	ErrSinkFailure                = errors.New("recording sink failed")
	ErrSeekTimeout                = errors.New("seek timed out")
	ErrSourceFailure              = errors.New("stream decode failed")
	ErrInvalidTimeRange           = errors.New("invalid time range")
	ErrCancelled                  = errors.New("export cancelled")
	ErrTimeout                    = errors.New("export timed out")
)

var kindSentinels = map[Kind]error{
	KindNoVisibleStreams:           ErrNoVisibleStreams,
	KindInvalidFormat:              ErrInvalidFormat,
	KindUnsupportedPaneCount:       ErrUnsupportedPaneCount,
	KindTranscoderInitFailed:       ErrTranscoderInitFailed,
	KindTranscoderInvocationFailed: ErrTranscoderInvocationFailed,
	KindSinkFailure:                ErrSinkFailure,
	KindSeekTimeout:                ErrSeekTimeout,
	KindSourceFailure:              ErrSourceFailure,
	KindInvalidTimeRange:           ErrInvalidTimeRange,
	KindCancelled:                  ErrCancelled,
	KindTimeout:                    ErrTimeout,
}

// Error is the single error type the pipeline returns. Stage, Format and
// PaneCount are filled in by the pipeline as the error leaves it.
type Error struct {
	Kind      Kind
	Stage     State
	Format    FormatTag
	PaneCount int
	Err       error
}

func (e *Error) Error() string {
	msg := string(e.Kind)
	if sentinel, ok := kindSentinels[e.Kind]; ok {
		msg = sentinel.Error()
	}
	if e.Stage != "" {
		msg = fmt.Sprintf("%s (stage %s)", msg, e.Stage)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches the sentinel of e's kind, so errors.Is(err, ErrSinkFailure)
// holds for any sink failure.
func (e *Error) Is(target error) bool {
	return target == kindSentinels[e.Kind]
}

func newError(kind Kind, err error) *Error {
	return &Error{Kind: kind, Err: err}
}

func errorf(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Err: fmt.Errorf(format, args...)}
}

// KindOf reports the kind of err. Bare context errors map to Cancelled and
// Timeout; anything else unclassified reports "".
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	switch {
	case errors.Is(err, context.Canceled):
		return KindCancelled
	case errors.Is(err, context.DeadlineExceeded):
		return KindTimeout
	}
	return ""
}

// asError converts any error into an *Error, classifying context errors.
func asError(err error) *Error {
	var e *Error
	if errors.As(err, &e) {
		return e
	}
	kind := KindOf(err)
	if kind == "" {
		kind = KindSinkFailure
	}
	return newError(kind, err)
}
