package export

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/dustin/go-humanize"
)

// Notice is the one user-facing message an export produces when it ends.
type Notice struct {
	JobID    string    `json:"job_id"`
	Level    string    `json:"level"`
	Title    string    `json:"title"`
	Message  string    `json:"message"`
	Kind     Kind      `json:"kind,omitempty"`
	Artifact *Artifact `json:"artifact,omitempty"`
	At       time.Time `json:"at"`
}

type Notifier interface {
	Notify(n Notice)
}

// NotifierFunc adapts a function to Notifier.
type NotifierFunc func(Notice)

func (f NotifierFunc) Notify(n Notice) { f(n) }

// MultiNotifier fans a notice out to every non-nil notifier.
type MultiNotifier []Notifier

func (m MultiNotifier) Notify(n Notice) {
	for _, nf := range m {
		if nf != nil {
			nf.Notify(n)
		}
	}
}

// NoticeBoard keeps the most recent notice for polling front ends.
type NoticeBoard struct {
	mu   sync.RWMutex
	last *Notice
}

func (b *NoticeBoard) Notify(n Notice) {
	b.mu.Lock()
	b.last = &n
	b.mu.Unlock()
}

func (b *NoticeBoard) Last() *Notice {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.last == nil {
		return nil
	}
	n := *b.last
	return &n
}

var kindMessages = map[Kind]string{
	KindNoVisibleStreams:           "Select at least one camera to export.",
	KindInvalidFormat:              "That export format is not supported.",
	KindUnsupportedPaneCount:       "Exports support one to four cameras.",
	KindTranscoderInitFailed:       "The video engine could not be started.",
	KindTranscoderInvocationFailed: "The video engine failed while exporting.",
	KindSinkFailure:                "Recording the export failed.",
	KindSeekTimeout:                "A camera stream stopped responding.",
	KindSourceFailure:              "A camera stream could not be decoded.",
	KindInvalidTimeRange:           "The selected time range contains no video.",
	KindCancelled:                  "The export was cancelled.",
	KindTimeout:                    "The export took too long and was stopped.",
}

// NoticeFor builds the terminal notice for a finished job.
func NoticeFor(st Status) Notice {
	n := Notice{JobID: st.ID, At: time.Now().UTC()}
	if st.State == StateDelivered && st.Artifact != nil {
		n.Level = "info"
		n.Title = "Export ready"
		n.Message = fmt.Sprintf("%s (%s, %dx%d)", st.Artifact.Name,
			humanize.Bytes(uint64(st.Artifact.Size)), st.Artifact.Width, st.Artifact.Height)
		n.Artifact = st.Artifact
		return n
	}

	n.Level = "error"
	n.Title = "Export failed"
	n.Kind = st.ErrorKind
	if msg, ok := kindMessages[st.ErrorKind]; ok {
		n.Message = msg
	} else {
		n.Message = st.Error
	}
	if st.ErrorKind == KindCancelled {
		n.Level = "warn"
		n.Title = "Export cancelled"
	}
	return n
}

// LogNotifier writes notices to a logger.
type LogNotifier struct {
	Logger *slog.Logger
}

func (l LogNotifier) Notify(n Notice) {
	l.Logger.Info("export notice", "job_id", n.JobID, "level", n.Level, "title", n.Title, "message", n.Message)
}
