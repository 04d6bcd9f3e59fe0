package export

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/gbgbgb8/tesla-x-cam/internal/layout"
)

const transcodeOutput = "output.mp4"

// stagedName is the sandbox file name for input i.
func stagedName(i int) string {
	return fmt.Sprintf("input%d.mp4", i)
}

// FilterGraph builds the -filter_complex graph that scales input i into
// plan[i] and stacks the panes onto a black canvas. The graph always ends
// in the [outv] label.
func FilterGraph(plan []layout.Rect, preserveAspect, shortest bool) string {
	var b strings.Builder
	for i, r := range plan {
		if i > 0 {
			b.WriteByte(';')
		}
		label := fmt.Sprintf("[v%d]", i)
		if len(plan) == 1 {
			label = "[outv]"
		}
		fmt.Fprintf(&b, "[%d:v]", i)
		if preserveAspect {
			fmt.Fprintf(&b, "scale=%d:%d:force_original_aspect_ratio=decrease,pad=%d:%d:(ow-iw)/2:(oh-ih)/2:color=black",
				r.W, r.H, r.W, r.H)
		} else {
			fmt.Fprintf(&b, "scale=%d:%d", r.W, r.H)
		}
		b.WriteString(",setsar=1")
		b.WriteString(label)
	}
	if len(plan) == 1 {
		return b.String()
	}

	b.WriteByte(';')
	layouts := make([]string, len(plan))
	for i, r := range plan {
		fmt.Fprintf(&b, "[v%d]", i)
		layouts[i] = fmt.Sprintf("%d_%d", r.X, r.Y)
	}
	fmt.Fprintf(&b, "xstack=inputs=%d:layout=%s:fill=black", len(plan), strings.Join(layouts, "|"))
	if shortest {
		b.WriteString(":shortest=1")
	}
	b.WriteString("[outv]")
	return b.String()
}

// TranscodeArgs is everything needed to build one transcoder invocation.
type TranscodeArgs struct {
	Inputs         []string
	Plan           []layout.Rect
	Policy         StopPolicy
	// Frames is the planned frame count. For a frame budget it replaces
	// Policy.Frames, which is only the requested upper bound.
	Frames int
	// DurationsKnown ends a frame budget with the shortest input as well.
	DurationsKnown bool
	FPS            int
	PreserveAspect bool
	Output         string
}

// Build returns the ffmpeg argument list. Range policies seek every input
// with -ss/-t; frame budgets cap the output with -frames:v.
func (a TranscodeArgs) Build() []string {
	fps := a.FPS
	if fps <= 0 {
		fps = 30
	}
	out := a.Output
	if out == "" {
		out = transcodeOutput
	}

	var args []string
	for _, in := range a.Inputs {
		if a.Policy.Kind == PolicyRange {
			args = append(args,
				"-ss", seconds(a.Policy.Start.Seconds()),
				"-t", seconds((a.Policy.End - a.Policy.Start).Seconds()))
		}
		args = append(args, "-i", in)
	}

	shortest := a.Policy.Kind != PolicyFrames || a.DurationsKnown
	args = append(args,
		"-filter_complex", FilterGraph(a.Plan, a.PreserveAspect, shortest),
		"-map", "[outv]",
		"-c:v", "libx264",
		"-preset", "slow",
		"-crf", "22",
		"-profile:v", "high",
		"-pix_fmt", "yuv420p",
		"-r", strconv.Itoa(fps),
	)
	if a.Policy.Kind == PolicyFrames {
		frames := a.Policy.Frames
		if a.Frames > 0 && a.Frames < frames {
			frames = a.Frames
		}
		args = append(args, "-frames:v", strconv.Itoa(frames))
	}
	args = append(args, "-movflags", "+faststart", "-y", out)
	return args
}

func seconds(s float64) string {
	return strconv.FormatFloat(s, 'f', 3, 64)
}
