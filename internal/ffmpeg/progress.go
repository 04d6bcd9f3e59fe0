package ffmpeg

import (
	"bytes"
	"strconv"
	"strings"
	"time"
)

// progressWriter parses `-progress pipe:2` key=value lines as they arrive
// and reports one Progress per block. Non-progress stderr lines are ignored.
type progressWriter struct {
	fn      func(Progress)
	partial []byte
	cur     Progress
}

func (pw *progressWriter) Write(p []byte) (int, error) {
	pw.partial = append(pw.partial, p...)
	for {
		i := bytes.IndexByte(pw.partial, '\n')
		if i < 0 {
			break
		}
		pw.line(strings.TrimSpace(string(pw.partial[:i])))
		pw.partial = pw.partial[i+1:]
	}
	return len(p), nil
}

func (pw *progressWriter) line(line string) {
	key, value, ok := strings.Cut(line, "=")
	if !ok {
		return
	}
	value = strings.TrimSpace(value)
	switch key {
	case "frame":
		pw.cur.Frame, _ = strconv.Atoi(value)
	case "fps":
		pw.cur.FPS, _ = strconv.ParseFloat(value, 64)
	case "out_time_us", "out_time_ms":
		// Both keys carry microseconds.
		if us, err := strconv.ParseInt(value, 10, 64); err == nil {
			pw.cur.OutTime = time.Duration(us) * time.Microsecond
		}
	case "speed":
		pw.cur.Speed = value
	case "progress":
		pw.cur.Done = value == "end"
		if pw.fn != nil {
			pw.fn(pw.cur)
		}
		pw.cur = Progress{}
	}
}
