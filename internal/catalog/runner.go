package catalog

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync/atomic"
	"time"

	"github.com/gbgbgb8/tesla-x-cam/internal/ffmpeg"
)

// thumbnailOffset skips the first second, which is often black on dashcams.
const thumbnailOffset = time.Second

// Thumbnailer renders a still frame. *ffmpeg.Runner implements it.
type Thumbnailer interface {
	Thumbnail(ctx context.Context, inPath, outPath string, offset time.Duration) error
}

type Runner struct {
	service      *Service
	repo         Repository
	thumbs       Thumbnailer
	doctor       *ffmpeg.CachedDoctor
	thumbDir     string
	logger       *slog.Logger
	pollInterval time.Duration
	running      atomic.Bool
	paused       atomic.Bool
}

func NewRunner(service *Service, repo Repository, thumbs Thumbnailer, doctor *ffmpeg.CachedDoctor, thumbDir string, logger *slog.Logger) *Runner {
	return &Runner{
		service:      service,
		repo:         repo,
		thumbs:       thumbs,
		doctor:       doctor,
		thumbDir:     thumbDir,
		logger:       logger,
		pollInterval: 5 * time.Second,
	}
}

// ThumbnailPath is where a clip's thumbnail is written.
func (r *Runner) ThumbnailPath(clipID string) string {
	return filepath.Join(r.thumbDir, clipID+".jpg")
}

func (r *Runner) Start(ctx context.Context) {
	if r.running.Swap(true) {
		return
	}

	r.logger.Info("job runner started")

	ticker := time.NewTicker(r.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			r.logger.Info("job runner stopping")
			r.running.Store(false)
			return
		case <-ticker.C:
			for !r.paused.Load() && ctx.Err() == nil && r.processNextJob(ctx) {
			}
		}
	}
}

func (r *Runner) Pause() {
	r.paused.Store(true)
	r.logger.Info("job runner paused")
}

func (r *Runner) Resume() {
	r.paused.Store(false)
	r.logger.Info("job runner resumed")
}

func (r *Runner) IsPaused() bool {
	return r.paused.Load()
}

func (r *Runner) IsRunning() bool {
	return r.running.Load()
}

// processNextJob runs the oldest pending job and reports whether one ran.
func (r *Runner) processNextJob(ctx context.Context) bool {
	jobs, err := r.repo.ListPendingJobs(ctx)
	if err != nil {
		r.logger.Error("failed to list pending jobs", "error", err)
		return false
	}

	if len(jobs) == 0 {
		return false
	}

	job := jobs[0]
	r.logger.Info("processing job", "job_id", job.ID, "type", job.Type)

	switch job.Type {
	case JobTypeScan:
		source, err := r.repo.GetSource(ctx, job.SourceID)
		if err != nil || source == nil {
			r.repo.UpdateJobStatus(ctx, job.ID, JobStatusFailed, "source not found")
			return true
		}

		if err := r.service.ExecuteScan(ctx, job.ID, source.ID, source.Path); err != nil {
			r.logger.Error("scan failed", "job_id", job.ID, "error", err)
		}

	case JobTypeProbe:
		r.processProbeJob(ctx, job)

	case JobTypeThumbnail:
		r.processThumbnailJob(ctx, job)

	default:
		r.logger.Warn("unknown job type", "type", job.Type)
		r.repo.UpdateJobStatus(ctx, job.ID, JobStatusFailed, "unknown job type")
	}
	return true
}

func (r *Runner) processProbeJob(ctx context.Context, job *Job) {
	if r.service.prober == nil {
		r.repo.UpdateJobStatus(ctx, job.ID, JobStatusFailed, "prober not configured")
		return
	}

	r.repo.UpdateJobStatus(ctx, job.ID, JobStatusRunning, "")

	clip, err := r.service.ProbeClip(ctx, job.ClipID)
	if err != nil {
		r.repo.UpdateJobStatus(ctx, job.ID, JobStatusFailed, fmt.Sprintf("probe failed: %v", err))
		return
	}

	r.repo.UpdateJobProgress(ctx, job.ID, 100)
	r.repo.UpdateJobStatus(ctx, job.ID, JobStatusCompleted, "")
	r.logger.Info("probe job completed", "job_id", job.ID, "clip_id", clip.ID,
		"width", clip.Width, "height", clip.Height, "duration_ms", clip.DurationMs)
}

func (r *Runner) processThumbnailJob(ctx context.Context, job *Job) {
	if r.thumbs == nil || r.doctor == nil {
		r.repo.UpdateJobStatus(ctx, job.ID, JobStatusFailed, "ffmpeg not configured")
		return
	}

	clip, err := r.repo.GetClip(ctx, job.ClipID)
	if err != nil || clip == nil {
		r.repo.UpdateJobStatus(ctx, job.ID, JobStatusFailed, "clip not found")
		return
	}

	r.repo.UpdateJobStatus(ctx, job.ID, JobStatusRunning, "")

	if _, err := r.doctor.Get(ctx); err != nil {
		r.repo.UpdateJobStatus(ctx, job.ID, JobStatusFailed, fmt.Sprintf("doctor probe failed: %v", err))
		return
	}

	offset := thumbnailOffset
	if d := clip.Duration(); d > 0 && d <= offset {
		offset = 0
	}
	if err := r.thumbs.Thumbnail(ctx, clip.Path, r.ThumbnailPath(clip.ID), offset); err != nil {
		r.repo.UpdateJobStatus(ctx, job.ID, JobStatusFailed, truncateStr(fmt.Sprintf("thumbnail failed: %v", err), 512))
		return
	}

	r.repo.UpdateJobProgress(ctx, job.ID, 100)
	r.repo.UpdateJobStatus(ctx, job.ID, JobStatusCompleted, "")
	r.logger.Info("thumbnail job completed", "job_id", job.ID, "clip_id", clip.ID)
}

func truncateStr(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[len(s)-maxLen:]
}

func (r *Runner) GetActiveJobCount(ctx context.Context) int {
	jobs, err := r.repo.ListJobs(ctx, 100)
	if err != nil {
		return 0
	}
	count := 0
	for _, j := range jobs {
		if j.Status == JobStatusRunning {
			count++
		}
	}
	return count
}
