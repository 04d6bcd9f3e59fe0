package catalog

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/gbgbgb8/tesla-x-cam/internal/ffmpeg"
)

const fingerprintSize = 64 * 1024

var (
	ErrSourceNotFound = errors.New("source not found")
	ErrClipNotFound   = errors.New("clip not found")
	ErrSetNotFound    = errors.New("clip set not found")
	ErrNoProber       = errors.New("media prober not configured")
)

// Prober fills in media metadata for a clip. *ffmpeg.Runner implements it.
type Prober interface {
	Probe(ctx context.Context, path string) (*ffmpeg.ProbeResult, error)
}

type CatalogService interface {
	AddFolder(ctx context.Context, path, displayName string) (*Source, error)
	RemoveSource(ctx context.Context, id string) error
	GetSources(ctx context.Context) ([]*Source, error)
	GetSource(ctx context.Context, id string) (*Source, error)
	GetClips(ctx context.Context, sourceID string) ([]*Clip, error)
	GetClip(ctx context.Context, id string) (*Clip, error)
	CountClips(ctx context.Context) (int, error)
	ScanSource(ctx context.Context, sourceID string) (*Job, error)
	ExecuteScan(ctx context.Context, jobID, sourceID, path string) error
	ClipSets(ctx context.Context, sourceID string) ([]*ClipSet, error)
	ClipSet(ctx context.Context, sourceID, key string) (*ClipSet, error)
	LatestSet(ctx context.Context, sourceID string) (*ClipSet, error)
	TimeRange(ctx context.Context, sourceID string) (TimeRange, error)
	EnsureProbed(ctx context.Context, set *ClipSet) error
}

type Service struct {
	repo   Repository
	prober Prober
	logger *slog.Logger
}

func NewService(repo Repository, logger *slog.Logger) *Service {
	return &Service{repo: repo, logger: logger}
}

// WithProber sets the media prober used by probe jobs and EnsureProbed.
func (s *Service) WithProber(p Prober) *Service {
	s.prober = p
	return s
}

func (s *Service) AddFolder(ctx context.Context, path, displayName string) (*Source, error) {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("invalid path: %w", err)
	}

	info, err := os.Stat(absPath)
	if err != nil {
		return nil, fmt.Errorf("path does not exist: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("path is not a directory")
	}

	existing, err := s.repo.GetSourceByPath(ctx, absPath)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return existing, nil
	}

	if displayName == "" {
		displayName = filepath.Base(absPath)
	}

	source := &Source{
		ID:          NewID(),
		Type:        "folder",
		Path:        absPath,
		DisplayName: displayName,
		Present:     true,
		CreatedAt:   time.Now(),
	}

	if err := s.repo.CreateSource(ctx, source); err != nil {
		return nil, err
	}

	if s.logger != nil {
		s.logger.Info("folder added", "source_id", source.ID, "path", absPath)
	}
	return source, nil
}

func (s *Service) RemoveSource(ctx context.Context, id string) error {
	if err := s.repo.DeleteClipsBySource(ctx, id); err != nil {
		return err
	}
	return s.repo.DeleteSource(ctx, id)
}

func (s *Service) GetSources(ctx context.Context) ([]*Source, error) {
	return s.repo.ListSources(ctx)
}

func (s *Service) GetSource(ctx context.Context, id string) (*Source, error) {
	return s.repo.GetSource(ctx, id)
}

func (s *Service) GetClips(ctx context.Context, sourceID string) ([]*Clip, error) {
	return s.repo.GetClipsBySource(ctx, sourceID)
}

func (s *Service) GetClip(ctx context.Context, id string) (*Clip, error) {
	return s.repo.GetClip(ctx, id)
}

func (s *Service) CountClips(ctx context.Context) (int, error) {
	return s.repo.CountClips(ctx)
}

// ClipSets groups a source's dashcam clips by timestamp, oldest first.
func (s *Service) ClipSets(ctx context.Context, sourceID string) ([]*ClipSet, error) {
	clips, err := s.repo.GetClipsBySource(ctx, sourceID)
	if err != nil {
		return nil, err
	}
	return GroupSets(clips), nil
}

// ClipSet returns one set by key.
func (s *Service) ClipSet(ctx context.Context, sourceID, key string) (*ClipSet, error) {
	sets, err := s.ClipSets(ctx, sourceID)
	if err != nil {
		return nil, err
	}
	for _, set := range sets {
		if set.Key == key {
			return set, nil
		}
	}
	return nil, ErrSetNotFound
}

// LatestSet returns the newest complete set of a source.
func (s *Service) LatestSet(ctx context.Context, sourceID string) (*ClipSet, error) {
	sets, err := s.ClipSets(ctx, sourceID)
	if err != nil {
		return nil, err
	}
	set := LatestSet(sets)
	if set == nil {
		return nil, ErrSetNotFound
	}
	return set, nil
}

// TimeRange reports the span a source's clips cover.
func (s *Service) TimeRange(ctx context.Context, sourceID string) (TimeRange, error) {
	sets, err := s.ClipSets(ctx, sourceID)
	if err != nil {
		return TimeRange{}, err
	}
	tr, ok := SetsRange(sets)
	if !ok {
		return TimeRange{}, ErrSetNotFound
	}
	return tr, nil
}

// EnsureProbed probes every clip in the set that lacks media metadata and
// persists the result, updating the set's clips in place.
func (s *Service) EnsureProbed(ctx context.Context, set *ClipSet) error {
	for _, c := range set.Clips {
		if c.Probed() {
			continue
		}
		if err := s.probeClip(ctx, c); err != nil {
			return fmt.Errorf("probe %s: %w", c.Filename, err)
		}
	}
	return nil
}

// ProbeClip fills media metadata for one stored clip.
func (s *Service) ProbeClip(ctx context.Context, clipID string) (*Clip, error) {
	c, err := s.repo.GetClip(ctx, clipID)
	if err != nil {
		return nil, err
	}
	if c == nil {
		return nil, ErrClipNotFound
	}
	if err := s.probeClip(ctx, c); err != nil {
		return nil, err
	}
	return c, nil
}

func (s *Service) probeClip(ctx context.Context, c *Clip) error {
	if s.prober == nil {
		return ErrNoProber
	}
	res, err := s.prober.Probe(ctx, c.Path)
	if err != nil {
		return err
	}
	c.Width = res.Width
	c.Height = res.Height
	c.DurationMs = res.Duration.Milliseconds()
	return s.repo.UpdateClipMedia(ctx, c.ID, c.Width, c.Height, c.DurationMs)
}

func (s *Service) ScanSource(ctx context.Context, sourceID string) (*Job, error) {
	source, err := s.repo.GetSource(ctx, sourceID)
	if err != nil {
		return nil, err
	}
	if source == nil {
		return nil, ErrSourceNotFound
	}

	job := newJob(JobTypeScan, sourceID, "")
	if err := s.repo.CreateJob(ctx, job); err != nil {
		return nil, err
	}

	if s.logger != nil {
		s.logger.Info("scan job created", "job_id", job.ID, "source_id", sourceID)
	}
	return job, nil
}

func (s *Service) ExecuteScan(ctx context.Context, jobID, sourceID, path string) error {
	s.repo.UpdateJobStatus(ctx, jobID, JobStatusRunning, "")
	if s.logger != nil {
		s.logger.Info("starting scan", "job_id", jobID, "path", path)
	}

	if _, err := os.Stat(path); err != nil {
		s.repo.UpdateSourcePresent(ctx, sourceID, false)
		s.repo.UpdateJobStatus(ctx, jobID, JobStatusFailed, "source folder missing")
		return fmt.Errorf("source folder missing: %w", err)
	}
	s.repo.UpdateSourcePresent(ctx, sourceID, true)

	var files []string
	err := filepath.WalkDir(path, func(p string, d os.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if d.IsDir() && p != path && strings.HasPrefix(d.Name(), ".") {
			return filepath.SkipDir
		}
		if !d.IsDir() && IsVideoFile(d.Name()) {
			files = append(files, p)
		}
		return nil
	})
	if err != nil {
		s.repo.UpdateJobStatus(ctx, jobID, JobStatusFailed, err.Error())
		return err
	}

	total := len(files)
	if s.logger != nil {
		s.logger.Info("found video files", "count", total)
	}

	for i, filePath := range files {
		select {
		case <-ctx.Done():
			s.repo.UpdateJobStatus(context.Background(), jobID, JobStatusFailed, "cancelled")
			return ctx.Err()
		default:
		}

		if err := s.processFile(ctx, sourceID, filePath); err != nil {
			if s.logger != nil {
				s.logger.Warn("failed to process file", "path", filePath, "error", err)
			}
		}

		progress := 0
		if total > 0 {
			progress = (i + 1) * 100 / total
		}
		s.repo.UpdateJobProgress(ctx, jobID, progress)
	}

	s.repo.UpdateJobStatus(ctx, jobID, JobStatusCompleted, "")
	if s.logger != nil {
		s.logger.Info("scan completed", "job_id", jobID, "files_processed", total)
	}

	s.createFollowUpJobs(ctx, sourceID)
	return nil
}

// createFollowUpJobs queues probe jobs for unprobed clips and thumbnail
// jobs for front-camera clips, skipping clips that already have one.
func (s *Service) createFollowUpJobs(ctx context.Context, sourceID string) {
	clips, err := s.repo.GetClipsBySource(ctx, sourceID)
	if err != nil {
		if s.logger != nil {
			s.logger.Error("failed to list clips for job creation", "source_id", sourceID, "error", err)
		}
		return
	}

	existingJobs, err := s.repo.ListJobs(ctx, 10000)
	if err != nil {
		if s.logger != nil {
			s.logger.Error("failed to list existing jobs", "error", err)
		}
		return
	}

	queued := make(map[string]bool)
	for _, j := range existingJobs {
		if j.ClipID != "" && j.Status != JobStatusFailed {
			queued[j.Type+":"+j.ClipID] = true
		}
	}

	created := 0
	for _, c := range clips {
		var types []string
		if !c.Probed() {
			types = append(types, JobTypeProbe)
		}
		if c.Camera == CameraFront {
			types = append(types, JobTypeThumbnail)
		}
		for _, typ := range types {
			if queued[typ+":"+c.ID] {
				continue
			}
			if err := s.repo.CreateJob(ctx, newJob(typ, sourceID, c.ID)); err != nil {
				if s.logger != nil {
					s.logger.Warn("failed to create job", "type", typ, "clip_id", c.ID, "error", err)
				}
				continue
			}
			created++
		}
	}

	if s.logger != nil {
		s.logger.Info("created follow-up jobs", "source_id", sourceID, "count", created)
	}
}

func (s *Service) processFile(ctx context.Context, sourceID, path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return err
	}

	fingerprint, err := computeFingerprint(path)
	if err != nil {
		return err
	}

	clip := &Clip{
		ID:          NewID(),
		SourceID:    sourceID,
		Path:        path,
		Filename:    filepath.Base(path),
		Size:        info.Size(),
		Mtime:       info.ModTime(),
		Fingerprint: fingerprint,
		CreatedAt:   time.Now(),
	}
	if camera, capturedAt, ok := ParseClipName(clip.Filename); ok {
		clip.Camera = camera
		clip.CapturedAt = capturedAt
	}

	return s.repo.UpsertClip(ctx, clip)
}

func newJob(typ, sourceID, clipID string) *Job {
	now := time.Now()
	return &Job{
		ID:        NewID(),
		Type:      typ,
		Status:    JobStatusPending,
		SourceID:  sourceID,
		ClipID:    clipID,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

func computeFingerprint(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	h := sha256.New()
	lr := io.LimitReader(f, fingerprintSize)
	if _, err := io.Copy(h, lr); err != nil {
		return "", err
	}

	return hex.EncodeToString(h.Sum(nil)), nil
}
