package api

import (
	"time"

	"github.com/gbgbgb8/tesla-x-cam/internal/catalog"
	"github.com/gbgbgb8/tesla-x-cam/internal/export"
	"github.com/gbgbgb8/tesla-x-cam/internal/layout"
)

type HealthResponse struct {
	Status   string `json:"status"`
	Version  string `json:"version"`
	UptimeS  int64  `json:"uptime_s"`
	DeviceID string `json:"device_id"`
}

type StatusResponse struct {
	State        string                `json:"state"`
	LastError    string                `json:"last_error,omitempty"`
	SourcesCount int                   `json:"sources_count"`
	ClipsCount   int                   `json:"clips_count"`
	JobsRunning  int                   `json:"jobs_running"`
	ActiveJob    *JobResponse          `json:"active_job,omitempty"`
	ActiveExport *export.Status        `json:"active_export,omitempty"`
	LastNotice   *export.Notice        `json:"last_notice,omitempty"`
	FFmpeg       *FFmpegStatusResponse `json:"ffmpeg,omitempty"`
}

type FFmpegStatusResponse struct {
	Version      string `json:"version"`
	HasH264      bool   `json:"has_h264"`
	HasVP8       bool   `json:"has_vp8"`
	CanTranscode bool   `json:"can_transcode"`
	CanComposite bool   `json:"can_composite"`
	LastProbeAt  string `json:"last_probe_at,omitempty"`
}

type AddFolderRequest struct {
	Path        string `json:"path"`
	DisplayName string `json:"display_name,omitempty"`
}

type AddFolderResponse struct {
	SourceID string `json:"source_id"`
}

type SourceResponse struct {
	ID            string `json:"id"`
	Type          string `json:"type"`
	Path          string `json:"path"`
	DisplayName   string `json:"display_name"`
	DriveNickname string `json:"drive_nickname,omitempty"`
	Present       bool   `json:"present"`
	CreatedAt     string `json:"created_at"`
}

type SourcesResponse struct {
	Sources []SourceResponse `json:"sources"`
}

type ScanRequest struct {
	SourceID string `json:"source_id,omitempty"`
}

type ScanResponse struct {
	JobID string `json:"job_id"`
}

type JobResponse struct {
	ID        string `json:"id"`
	Type      string `json:"type"`
	Status    string `json:"status"`
	SourceID  string `json:"source_id,omitempty"`
	ClipID    string `json:"clip_id,omitempty"`
	Progress  int    `json:"progress"`
	Error     string `json:"error,omitempty"`
	CreatedAt string `json:"created_at"`
	UpdatedAt string `json:"updated_at"`
}

type JobsResponse struct {
	Jobs []JobResponse `json:"jobs"`
}

type ClipResponse struct {
	ID         string `json:"id"`
	SourceID   string `json:"source_id"`
	Path       string `json:"path"`
	Filename   string `json:"filename"`
	Camera     string `json:"camera,omitempty"`
	CapturedAt string `json:"captured_at,omitempty"`
	Size       int64  `json:"size"`
	Width      int    `json:"width,omitempty"`
	Height     int    `json:"height,omitempty"`
	DurationMs int64  `json:"duration_ms,omitempty"`
	CreatedAt  string `json:"created_at"`
}

type ClipsResponse struct {
	Clips []ClipResponse `json:"clips"`
}

type ClipSetResponse struct {
	Key        string         `json:"key"`
	CapturedAt string         `json:"captured_at"`
	Complete   bool           `json:"complete"`
	Cameras    []string       `json:"cameras"`
	Clips      []ClipResponse `json:"clips"`
}

type ClipSetsResponse struct {
	Sets []ClipSetResponse `json:"sets"`
}

type RangeResponse struct {
	Start      string `json:"start"`
	End        string `json:"end"`
	DurationMs int64  `json:"duration_ms"`
}

// ViewerUpdateRequest changes pane order and visibility in one call.
// Order, when set, must name every camera once.
type ViewerUpdateRequest struct {
	Order   []string        `json:"order,omitempty"`
	Visible map[string]bool `json:"visible,omitempty"`
}

type SeekRequest struct {
	PositionMs int64 `json:"position_ms"`
}

type MoveRequest struct {
	Camera string `json:"camera"`
	Index  int    `json:"index"`
}

type StopPolicyRequest struct {
	Kind    string `json:"kind"`
	StartMs int64  `json:"start_ms,omitempty"`
	EndMs   int64  `json:"end_ms,omitempty"`
	Frames  int    `json:"frames,omitempty"`
}

type ExportRequest struct {
	SourceID   string             `json:"source_id,omitempty"`
	Set        string             `json:"set,omitempty"`
	Format     string             `json:"format,omitempty"`
	StopPolicy *StopPolicyRequest `json:"stop_policy,omitempty"`
	OutputDir  string             `json:"output_dir,omitempty"`
}

type ExportsResponse struct {
	Exports []*export.Status `json:"exports"`
}

type LayoutResponse struct {
	Format string        `json:"format"`
	Width  int           `json:"width"`
	Height int           `json:"height"`
	Panes  int           `json:"panes"`
	Rects  []layout.Rect `json:"rects"`
}

type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
}

func SourceToResponse(s *catalog.Source) SourceResponse {
	return SourceResponse{
		ID:            s.ID,
		Type:          s.Type,
		Path:          s.Path,
		DisplayName:   s.DisplayName,
		DriveNickname: s.DriveNickname,
		Present:       s.Present,
		CreatedAt:     s.CreatedAt.Format(time.RFC3339),
	}
}

func JobToResponse(j *catalog.Job) JobResponse {
	return JobResponse{
		ID:        j.ID,
		Type:      j.Type,
		Status:    j.Status,
		SourceID:  j.SourceID,
		ClipID:    j.ClipID,
		Progress:  j.Progress,
		Error:     j.Error,
		CreatedAt: j.CreatedAt.Format(time.RFC3339),
		UpdatedAt: j.UpdatedAt.Format(time.RFC3339),
	}
}

func ClipToResponse(c *catalog.Clip) ClipResponse {
	resp := ClipResponse{
		ID:         c.ID,
		SourceID:   c.SourceID,
		Path:       c.Path,
		Filename:   c.Filename,
		Camera:     c.Camera,
		Size:       c.Size,
		Width:      c.Width,
		Height:     c.Height,
		DurationMs: c.DurationMs,
		CreatedAt:  c.CreatedAt.Format(time.RFC3339),
	}
	if !c.CapturedAt.IsZero() {
		resp.CapturedAt = c.CapturedAt.Format(time.RFC3339)
	}
	return resp
}

func ClipSetToResponse(s *catalog.ClipSet) ClipSetResponse {
	resp := ClipSetResponse{
		Key:        s.Key,
		CapturedAt: s.CapturedAt.Format(time.RFC3339),
		Complete:   s.Complete(),
		Cameras:    make([]string, len(s.Clips)),
		Clips:      make([]ClipResponse, len(s.Clips)),
	}
	for i, c := range s.Clips {
		resp.Cameras[i] = c.Camera
		resp.Clips[i] = ClipToResponse(c)
	}
	return resp
}

func RangeToResponse(tr catalog.TimeRange) RangeResponse {
	return RangeResponse{
		Start:      tr.Start.Format(time.RFC3339),
		End:        tr.End.Format(time.RFC3339),
		DurationMs: tr.End.Sub(tr.Start).Milliseconds(),
	}
}

// Policy converts the request form into a stop policy.
func (p *StopPolicyRequest) Policy() (export.StopPolicy, error) {
	kind, err := export.ParsePolicyKind(p.Kind)
	if err != nil {
		return export.StopPolicy{}, err
	}
	return export.StopPolicy{
		Kind:   kind,
		Start:  time.Duration(p.StartMs) * time.Millisecond,
		End:    time.Duration(p.EndMs) * time.Millisecond,
		Frames: p.Frames,
	}, nil
}
