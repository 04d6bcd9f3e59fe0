package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/gbgbgb8/tesla-x-cam/internal/catalog"
	"github.com/gbgbgb8/tesla-x-cam/internal/export"
	"github.com/gbgbgb8/tesla-x-cam/internal/layout"
)

const defaultExportListLimit = 50

func startExportHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		var req ExportRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
			WriteError(w, http.StatusBadRequest, "invalid request body", "BAD_REQUEST")
			return
		}

		format := cfg.ExportDefaults.Format
		if format == "" {
			format = export.FormatLandscape
		}
		if req.Format != "" {
			tag, err := export.ParseFormat(req.Format)
			if err != nil {
				writeExportError(w, err)
				return
			}
			format = tag
		}

		policy, err := exportPolicy(cfg.ExportDefaults, req.StopPolicy)
		if err != nil {
			writeExportError(w, err)
			return
		}

		if req.OutputDir != "" {
			if err := export.ValidateOutputDir(req.OutputDir); err != nil {
				WriteError(w, http.StatusBadRequest, err.Error(), "BAD_REQUEST")
				return
			}
		}

		if req.SourceID == "" {
			id, ok := defaultSourceID(w, r, cfg)
			if !ok {
				return
			}
			req.SourceID = id
		}

		set, err := resolveSet(ctx, cfg.CatalogService, req.SourceID, req.Set)
		if errors.Is(err, catalog.ErrSetNotFound) {
			WriteError(w, http.StatusNotFound, "clip set not found", "NOT_FOUND")
			return
		}
		if err != nil {
			WriteError(w, http.StatusInternalServerError, err.Error(), "INTERNAL_ERROR")
			return
		}

		// Unprobed clips still export; the pipeline reports missing
		// durations against the stop policy.
		if err := cfg.CatalogService.EnsureProbed(ctx, set); err != nil {
			cfg.Logger.Warn("probe before export failed", "set", set.Key, "error", err)
		}

		exportReq := cfg.Viewer.Request(set, format, policy)
		exportReq.OutputDir = req.OutputDir
		job, err := cfg.Exports.Start(exportReq)
		if err != nil {
			writeExportError(w, err)
			return
		}

		WriteJSON(w, http.StatusAccepted, job.Status())
	}
}

func resolveSet(ctx context.Context, svc catalog.CatalogService, sourceID, key string) (*catalog.ClipSet, error) {
	if key == "" {
		return svc.LatestSet(ctx, sourceID)
	}
	return svc.ClipSet(ctx, sourceID, key)
}

// exportPolicy applies the configured defaults to an optional request
// policy. A frames policy without a budget takes the configured one.
func exportPolicy(defaults export.Defaults, req *StopPolicyRequest) (export.StopPolicy, error) {
	p := export.StopPolicy{Kind: defaults.Policy}
	if req != nil {
		var err error
		if p, err = req.Policy(); err != nil {
			return p, err
		}
		if req.Kind == "" && defaults.Policy != "" {
			p.Kind = defaults.Policy
		}
	}
	if p.Kind == "" {
		p.Kind = export.PolicyShortest
	}
	if p.Kind == export.PolicyFrames && p.Frames == 0 {
		p.Frames = defaults.FrameBudget
	}
	return p, nil
}

func listExportsHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		limit := defaultExportListLimit
		if v := r.URL.Query().Get("limit"); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil || n < 1 {
				WriteError(w, http.StatusBadRequest, "limit must be a positive integer", "BAD_REQUEST")
				return
			}
			limit = n
		}

		list, err := cfg.Exports.List(r.Context(), limit)
		if err != nil {
			WriteError(w, http.StatusInternalServerError, "failed to list exports", "INTERNAL_ERROR")
			return
		}
		if list == nil {
			list = []*export.Status{}
		}
		WriteJSON(w, http.StatusOK, ExportsResponse{Exports: list})
	}
}

func getExportHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		st, err := cfg.Exports.Get(r.Context(), chi.URLParam(r, "id"))
		if err != nil {
			writeExportError(w, err)
			return
		}
		WriteJSON(w, http.StatusOK, st)
	}
}

func cancelExportHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := cfg.Exports.Cancel(r.Context(), chi.URLParam(r, "id")); err != nil {
			writeExportError(w, err)
			return
		}
		w.WriteHeader(http.StatusAccepted)
	}
}

func deleteExportHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := cfg.Exports.Delete(r.Context(), chi.URLParam(r, "id")); err != nil {
			writeExportError(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

func downloadExportHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		art, err := cfg.Exports.Artifact(r.Context(), id)
		if err != nil {
			writeExportError(w, err)
			return
		}
		if err := cfg.PlaybackServer.ServeAttachment(w, r, art.Path, art.Name, art.MIMEType); err != nil {
			cfg.Logger.Error("download error", "error", err, "export_id", id)
		}
	}
}

func layoutHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()

		panes, err := strconv.Atoi(q.Get("panes"))
		if err != nil {
			WriteError(w, http.StatusBadRequest, "panes must be an integer", "BAD_REQUEST")
			return
		}

		format := cfg.ExportDefaults.Format
		if format == "" {
			format = export.FormatLandscape
		}
		if v := q.Get("format"); v != "" {
			if format, err = export.ParseFormat(v); err != nil {
				writeExportError(w, err)
				return
			}
		}

		spec, err := export.ResolveOutputSpec(format, nil, false)
		if err != nil {
			writeExportError(w, err)
			return
		}
		rects, err := layout.Compute(panes, spec.Width, spec.Height)
		if err != nil {
			WriteError(w, http.StatusBadRequest, err.Error(), "UNSUPPORTED_PANE_COUNT")
			return
		}

		WriteJSON(w, http.StatusOK, LayoutResponse{
			Format: string(format),
			Width:  spec.Width,
			Height: spec.Height,
			Panes:  panes,
			Rects:  rects,
		})
	}
}

// writeExportError maps manager and pipeline errors onto HTTP responses.
// Export error kinds become upper-case codes, e.g. NO_VISIBLE_STREAMS.
func writeExportError(w http.ResponseWriter, err error) {
	var e *export.Error
	switch {
	case errors.Is(err, export.ErrExportBusy):
		WriteError(w, http.StatusConflict, err.Error(), "EXPORT_BUSY")
	case errors.Is(err, export.ErrExportNotFound):
		WriteError(w, http.StatusNotFound, err.Error(), "NOT_FOUND")
	case errors.As(err, &e):
		status := http.StatusInternalServerError
		switch e.Kind {
		case export.KindNoVisibleStreams, export.KindInvalidFormat,
			export.KindUnsupportedPaneCount, export.KindInvalidTimeRange:
			status = http.StatusBadRequest
		}
		WriteError(w, status, err.Error(), strings.ToUpper(string(e.Kind)))
	default:
		WriteError(w, http.StatusInternalServerError, err.Error(), "INTERNAL_ERROR")
	}
}
