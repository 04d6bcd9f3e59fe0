package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/gbgbgb8/tesla-x-cam/internal/catalog"
	"github.com/gbgbgb8/tesla-x-cam/internal/config"
)

func NewRouter(cfg ServerConfig) *chi.Mux {
	r := chi.NewRouter()

	r.Use(RequestIDMiddleware())
	r.Use(RecoveryMiddleware(cfg.Logger))
	r.Use(LoggingMiddleware(cfg.Logger))
	r.Use(CORSAllowlist())

	r.Get("/health", healthHandler(cfg))

	r.Group(func(r chi.Router) {
		r.Use(LoopbackGuard())

		r.Get("/playback/clip", playbackHandler(cfg))
		r.Head("/playback/clip", playbackHandler(cfg))
		r.Get("/clips/{id}/thumbnail", thumbnailHandler(cfg))
		r.Get("/exports/{id}/download", downloadExportHandler(cfg))
		r.Head("/exports/{id}/download", downloadExportHandler(cfg))
	})

	r.Group(func(r chi.Router) {
		r.Use(AuthMiddleware(cfg.Repository, cfg.Logger))

		r.Get("/status", statusHandler(cfg))
		r.Get("/sources", listSourcesHandler(cfg))
		r.Post("/sources/folders", addFolderHandler(cfg))
		r.Delete("/sources/{id}", deleteSourceHandler(cfg))
		r.Get("/sources/{id}/clips", listClipsHandler(cfg))
		r.Get("/sources/{id}/sets", listSetsHandler(cfg))
		r.Get("/sources/{id}/range", rangeHandler(cfg))
		r.Post("/scan", scanHandler(cfg))
		r.Get("/jobs", listJobsHandler(cfg))
		r.Get("/jobs/{id}", getJobHandler(cfg))

		r.Get("/viewer/{set}", getViewerHandler(cfg))
		r.Put("/viewer/{set}", updateViewerHandler(cfg))
		r.Post("/viewer/{set}/move", moveViewerHandler(cfg))
		r.Post("/viewer/{set}/play", playViewerHandler(cfg))
		r.Post("/viewer/{set}/pause", pauseViewerHandler(cfg))
		r.Post("/viewer/{set}/seek", seekViewerHandler(cfg))

		r.Get("/layout", layoutHandler(cfg))
		r.Post("/exports", startExportHandler(cfg))
		r.Get("/exports", listExportsHandler(cfg))
		r.Get("/exports/{id}", getExportHandler(cfg))
		r.Delete("/exports/{id}", deleteExportHandler(cfg))
		r.Post("/exports/{id}/cancel", cancelExportHandler(cfg))
	})

	return r
}

func healthHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		uptime := int64(time.Since(cfg.StartTime).Seconds())
		WriteJSON(w, http.StatusOK, HealthResponse{
			Status:   "ok",
			Version:  config.Version,
			UptimeS:  uptime,
			DeviceID: cfg.DeviceID,
		})
	}
}

func statusHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		sources, _ := cfg.CatalogService.GetSources(ctx)
		clipsCount, _ := cfg.CatalogService.CountClips(ctx)
		jobs, _ := cfg.Repository.ListJobs(ctx, 10)

		state := "idle"
		var activeJob *JobResponse
		jobsRunning := 0
		lastError := ""

		if cfg.Runner != nil && cfg.Runner.IsPaused() {
			state = "paused"
		}

		for _, j := range jobs {
			if j.Status == catalog.JobStatusRunning {
				state = "indexing"
				resp := JobToResponse(j)
				activeJob = &resp
				jobsRunning++
			}
			if j.Status == catalog.JobStatusFailed && lastError == "" {
				lastError = j.Error
			}
		}

		resp := StatusResponse{
			SourcesCount: len(sources),
			ClipsCount:   clipsCount,
			JobsRunning:  jobsRunning,
			ActiveJob:    activeJob,
		}

		if cfg.Exports != nil {
			if job := cfg.Exports.Active(); job != nil {
				st := job.Status()
				resp.ActiveExport = &st
				state = "exporting"
			}
		}
		if cfg.Notices != nil {
			resp.LastNotice = cfg.Notices.Last()
			if n := resp.LastNotice; n != nil && n.Level == "error" && lastError == "" {
				lastError = n.Message
			}
		}

		if lastError != "" && state == "idle" {
			state = "error"
		}
		resp.State = state
		resp.LastError = lastError

		// Peek rather than Get: status must not block on an ffmpeg probe.
		if cfg.Doctor != nil {
			if caps := cfg.Doctor.Peek(); caps != nil {
				fs := &FFmpegStatusResponse{
					Version:      caps.FFmpegVersion,
					HasH264:      caps.HasH264,
					HasVP8:       caps.HasVP8,
					CanTranscode: caps.CanTranscode(),
					CanComposite: caps.CanComposite(),
				}
				if !caps.ProbedAt.IsZero() {
					fs.LastProbeAt = caps.ProbedAt.Format(time.RFC3339)
				}
				resp.FFmpeg = fs
			}
		}

		WriteJSON(w, http.StatusOK, resp)
	}
}

func listSourcesHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sources, err := cfg.CatalogService.GetSources(r.Context())
		if err != nil {
			WriteError(w, http.StatusInternalServerError, "failed to list sources", "INTERNAL_ERROR")
			return
		}

		resp := SourcesResponse{Sources: make([]SourceResponse, len(sources))}
		for i, s := range sources {
			resp.Sources[i] = SourceToResponse(s)
		}
		WriteJSON(w, http.StatusOK, resp)
	}
}

func addFolderHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req AddFolderRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			WriteError(w, http.StatusBadRequest, "invalid request body", "BAD_REQUEST")
			return
		}

		if req.Path == "" {
			WriteError(w, http.StatusBadRequest, "path is required", "BAD_REQUEST")
			return
		}

		source, err := cfg.CatalogService.AddFolder(r.Context(), req.Path, req.DisplayName)
		if err != nil {
			WriteError(w, http.StatusBadRequest, err.Error(), "BAD_REQUEST")
			return
		}

		WriteJSON(w, http.StatusCreated, AddFolderResponse{SourceID: source.ID})
	}
}

func deleteSourceHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		if id == "" {
			WriteError(w, http.StatusBadRequest, "source id required", "BAD_REQUEST")
			return
		}

		if err := cfg.CatalogService.RemoveSource(r.Context(), id); err != nil {
			if errors.Is(err, catalog.ErrSourceNotFound) {
				WriteError(w, http.StatusNotFound, "source not found", "NOT_FOUND")
				return
			}
			WriteError(w, http.StatusInternalServerError, err.Error(), "INTERNAL_ERROR")
			return
		}

		w.WriteHeader(http.StatusNoContent)
	}
}

func listClipsHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sourceID := chi.URLParam(r, "id")
		if sourceID == "" {
			WriteError(w, http.StatusBadRequest, "source id required", "BAD_REQUEST")
			return
		}

		clips, err := cfg.CatalogService.GetClips(r.Context(), sourceID)
		if err != nil {
			WriteError(w, http.StatusInternalServerError, err.Error(), "INTERNAL_ERROR")
			return
		}

		resp := ClipsResponse{Clips: make([]ClipResponse, len(clips))}
		for i, c := range clips {
			resp.Clips[i] = ClipToResponse(c)
		}
		WriteJSON(w, http.StatusOK, resp)
	}
}

func listSetsHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sets, err := cfg.CatalogService.ClipSets(r.Context(), chi.URLParam(r, "id"))
		if err != nil {
			WriteError(w, http.StatusInternalServerError, err.Error(), "INTERNAL_ERROR")
			return
		}

		resp := ClipSetsResponse{Sets: make([]ClipSetResponse, len(sets))}
		for i, s := range sets {
			resp.Sets[i] = ClipSetToResponse(s)
		}
		WriteJSON(w, http.StatusOK, resp)
	}
}

func rangeHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		tr, err := cfg.CatalogService.TimeRange(r.Context(), chi.URLParam(r, "id"))
		if errors.Is(err, catalog.ErrSetNotFound) {
			WriteError(w, http.StatusNotFound, "source has no dashcam clips", "NOT_FOUND")
			return
		}
		if err != nil {
			WriteError(w, http.StatusInternalServerError, err.Error(), "INTERNAL_ERROR")
			return
		}
		WriteJSON(w, http.StatusOK, RangeToResponse(tr))
	}
}

func scanHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req ScanRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			WriteError(w, http.StatusBadRequest, "invalid request body", "BAD_REQUEST")
			return
		}

		if req.SourceID == "" {
			id, ok := defaultSourceID(w, r, cfg)
			if !ok {
				return
			}
			req.SourceID = id
		}

		job, err := cfg.CatalogService.ScanSource(r.Context(), req.SourceID)
		if err != nil {
			WriteError(w, http.StatusBadRequest, err.Error(), "BAD_REQUEST")
			return
		}

		WriteJSON(w, http.StatusAccepted, ScanResponse{JobID: job.ID})
	}
}

// defaultSourceID picks the first configured source, writing the error
// response itself when there is none.
func defaultSourceID(w http.ResponseWriter, r *http.Request, cfg ServerConfig) (string, bool) {
	sources, err := cfg.CatalogService.GetSources(r.Context())
	if err != nil {
		WriteError(w, http.StatusInternalServerError, err.Error(), "INTERNAL_ERROR")
		return "", false
	}
	if len(sources) == 0 {
		WriteError(w, http.StatusBadRequest, "no sources configured", "BAD_REQUEST")
		return "", false
	}
	return sources[0].ID, true
}

func listJobsHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		jobs, err := cfg.Repository.ListJobs(r.Context(), 50)
		if err != nil {
			WriteError(w, http.StatusInternalServerError, "failed to list jobs", "INTERNAL_ERROR")
			return
		}

		resp := JobsResponse{Jobs: make([]JobResponse, len(jobs))}
		for i, j := range jobs {
			resp.Jobs[i] = JobToResponse(j)
		}
		WriteJSON(w, http.StatusOK, resp)
	}
}

func getJobHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		if id == "" {
			WriteError(w, http.StatusBadRequest, "job id required", "BAD_REQUEST")
			return
		}

		job, err := cfg.Repository.GetJob(r.Context(), id)
		if err != nil {
			WriteError(w, http.StatusInternalServerError, err.Error(), "INTERNAL_ERROR")
			return
		}
		if job == nil {
			WriteError(w, http.StatusNotFound, "job not found", "NOT_FOUND")
			return
		}

		WriteJSON(w, http.StatusOK, JobToResponse(job))
	}
}

func playbackHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		clipID := r.URL.Query().Get("clip_id")
		if clipID == "" {
			WriteError(w, http.StatusBadRequest, "clip_id is required", "BAD_REQUEST")
			return
		}

		clip, err := cfg.CatalogService.GetClip(r.Context(), clipID)
		if err != nil {
			WriteError(w, http.StatusInternalServerError, err.Error(), "INTERNAL_ERROR")
			return
		}
		if clip == nil {
			WriteError(w, http.StatusNotFound, "clip not found", "NOT_FOUND")
			return
		}

		source, _ := cfg.CatalogService.GetSource(r.Context(), clip.SourceID)
		if source != nil && !source.Present {
			WriteError(w, http.StatusNotFound,
				"clip not available - drive '"+source.DriveNickname+"' is disconnected",
				"DRIVE_DISCONNECTED")
			return
		}

		if err := cfg.PlaybackServer.ServeFile(w, r, clip.Path); err != nil {
			cfg.Logger.Error("playback error", "error", err, "clip_id", clipID)
		}
	}
}

func thumbnailHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if cfg.Runner == nil {
			WriteError(w, http.StatusNotFound, "thumbnails are not available", "NOT_FOUND")
			return
		}
		// Resolve through the catalog so the id never reaches the filesystem
		// unchecked.
		clip, err := cfg.CatalogService.GetClip(r.Context(), chi.URLParam(r, "id"))
		if err != nil {
			WriteError(w, http.StatusInternalServerError, err.Error(), "INTERNAL_ERROR")
			return
		}
		if clip == nil {
			WriteError(w, http.StatusNotFound, "clip not found", "NOT_FOUND")
			return
		}
		if err := cfg.PlaybackServer.ServeFile(w, r, cfg.Runner.ThumbnailPath(clip.ID)); err != nil {
			cfg.Logger.Error("thumbnail error", "error", err, "clip_id", clip.ID)
		}
	}
}
