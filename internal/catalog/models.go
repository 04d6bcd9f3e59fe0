package catalog

import (
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
)

type Source struct {
	ID            string    `json:"id"`
	Type          string    `json:"type"`
	Path          string    `json:"path"`
	DisplayName   string    `json:"display_name"`
	DriveNickname string    `json:"drive_nickname,omitempty"`
	Present       bool      `json:"present"`
	CreatedAt     time.Time `json:"created_at"`
}

// Clip is one video file from one camera.
type Clip struct {
	ID          string    `json:"id"`
	SourceID    string    `json:"source_id"`
	Path        string    `json:"path"`
	Filename    string    `json:"filename"`
	Camera      string    `json:"camera,omitempty"`
	CapturedAt  time.Time `json:"captured_at,omitempty"`
	Size        int64     `json:"size"`
	Mtime       time.Time `json:"mtime"`
	Fingerprint string    `json:"fingerprint"`
	Width       int       `json:"width"`
	Height      int       `json:"height"`
	DurationMs  int64     `json:"duration_ms"`
	CreatedAt   time.Time `json:"created_at"`
}

// Duration returns the probed clip length, zero when not yet probed.
func (c *Clip) Duration() time.Duration {
	return time.Duration(c.DurationMs) * time.Millisecond
}

// Probed reports whether media metadata has been filled in.
func (c *Clip) Probed() bool {
	return c.Width > 0 && c.Height > 0
}

const (
	JobTypeScan      = "scan"
	JobTypeProbe     = "probe"
	JobTypeThumbnail = "thumbnail"

	JobStatusPending   = "pending"
	JobStatusRunning   = "running"
	JobStatusCompleted = "completed"
	JobStatusFailed    = "failed"
)

type Job struct {
	ID        string    `json:"id"`
	Type      string    `json:"type"`
	Status    string    `json:"status"`
	SourceID  string    `json:"source_id,omitempty"`
	ClipID    string    `json:"clip_id,omitempty"`
	Progress  int       `json:"progress"`
	Error     string    `json:"error,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

type ConfigEntry struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

var VideoExtensions = map[string]bool{
	".mp4": true,
	".mov": true,
	".mkv": true,
}

func NewID() string {
	return uuid.NewString()
}

func IsVideoFile(filename string) bool {
	return VideoExtensions[strings.ToLower(filepath.Ext(filename))]
}
