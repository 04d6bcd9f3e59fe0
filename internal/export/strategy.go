package export

import (
	"fmt"
	"log/slog"

	"github.com/gbgbgb8/tesla-x-cam/internal/config"
	"github.com/gbgbgb8/tesla-x-cam/internal/ffmpeg"
)

// NewStrategy builds the export strategy named by s.Strategy. Transcode
// work files live under workDir. A nil runner yields a strategy whose jobs
// fail with TranscoderInitFailed or SourceFailure.
func NewStrategy(runner *ffmpeg.Runner, doctor *ffmpeg.CachedDoctor, s config.ExportSettings, workDir string, logger *slog.Logger) (Strategy, error) {
	switch s.Strategy {
	case "", "transcode":
		var (
			cr   CommandRunner
			caps CapabilityChecker
		)
		if runner != nil {
			cr = runner
		}
		if doctor != nil {
			caps = doctor
		}
		tc := NewSandboxTranscoder(cr, caps, workDir, logger)
		return NewTranscodeStrategy(tc, TranscodeConfig{
			FPS:            s.FPS,
			Timeout:        s.TranscodeTimeout,
			PreserveAspect: s.PreserveAspect,
		}, logger), nil
	case "composite":
		pacing, err := ParsePacing(s.Pacing)
		if err != nil {
			return nil, err
		}
		return NewCompositeStrategy(DecoderOpener{Runner: runner}, RecorderSinks(runner), CompositeConfig{
			FPS:              s.FPS,
			Pacing:           pacing,
			SeekTimeout:      s.SeekTimeout,
			FrameLoopTimeout: s.FrameLoopTimeout,
			PreserveAspect:   s.PreserveAspect,
			Labels:           s.CameraLabels,
		}, logger), nil
	}
	return nil, fmt.Errorf("unknown export strategy %q", s.Strategy)
}

// Defaults is the request-level configuration front ends apply when a
// caller leaves format or stop policy unset.
type Defaults struct {
	Format      FormatTag
	Policy      PolicyKind
	FrameBudget int
}

// DefaultsFrom reads the request defaults from s.
func DefaultsFrom(s config.ExportSettings) (Defaults, error) {
	kind, err := ParsePolicyKind(s.StopPolicy)
	if err != nil {
		return Defaults{}, err
	}
	return Defaults{Format: FormatLandscape, Policy: kind, FrameBudget: s.FrameBudget}, nil
}
