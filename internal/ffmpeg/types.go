// Package ffmpeg runs the ffmpeg and ffprobe binaries as subprocesses:
// capability probing, media probing, thumbnails, batch transcodes, and
// streaming raw-frame decode/encode for frame-by-frame compositing.
package ffmpeg

import "time"

// Capabilities reports what the installed ffmpeg build can do.
type Capabilities struct {
	FFmpegVersion    string          `json:"ffmpeg_version"`
	FFprobeAvailable bool            `json:"ffprobe_available"`
	Encoders         map[string]bool `json:"encoders"`

	HasH264  bool      `json:"has_h264"`
	HasVP8   bool      `json:"has_vp8"`
	ProbedAt time.Time `json:"probed_at"`
}

// CanTranscode reports whether the H.264 batch export can run.
func (c *Capabilities) CanTranscode() bool { return c != nil && c.HasH264 }

// CanComposite reports whether the WebM frame export can run.
func (c *Capabilities) CanComposite() bool { return c != nil && c.HasVP8 }

// RunResult is the structured outcome of executing an ffmpeg subprocess.
type RunResult struct {
	ExitCode   int           `json:"exit_code"`
	StderrTail string        `json:"stderr_tail,omitempty"` // last N bytes of stderr
	Duration   time.Duration `json:"duration"`
}

// IsSuccess returns true when the subprocess exited cleanly.
func (r RunResult) IsSuccess() bool { return r.ExitCode == 0 }

// Progress is one block of `-progress` output.
type Progress struct {
	Frame   int           `json:"frame"`
	FPS     float64       `json:"fps"`
	OutTime time.Duration `json:"out_time"`
	Speed   string        `json:"speed,omitempty"`
	Done    bool          `json:"done"`
}

// ProbeResult is the subset of ffprobe output the agent uses.
type ProbeResult struct {
	Duration  time.Duration `json:"duration"`
	Width     int           `json:"width"`
	Height    int           `json:"height"`
	Codec     string        `json:"codec"`
	Bitrate   int64         `json:"bitrate"`
	FrameRate float64       `json:"frame_rate"`
}
