package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/gbgbgb8/tesla-x-cam/internal/viewer"
)

func getViewerHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		WriteJSON(w, http.StatusOK, cfg.Viewer.View(chi.URLParam(r, "set")))
	}
}

func updateViewerHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req ViewerUpdateRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			WriteError(w, http.StatusBadRequest, "invalid request body", "BAD_REQUEST")
			return
		}

		applyViewer(w, cfg, chi.URLParam(r, "set"), func(s *viewer.State) error {
			if len(req.Order) > 0 {
				if err := s.Reorder(req.Order); err != nil {
					return err
				}
			}
			for cam, visible := range req.Visible {
				if err := s.SetVisible(cam, visible); err != nil {
					return err
				}
			}
			return nil
		})
	}
}

func moveViewerHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req MoveRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			WriteError(w, http.StatusBadRequest, "invalid request body", "BAD_REQUEST")
			return
		}
		applyViewer(w, cfg, chi.URLParam(r, "set"), func(s *viewer.State) error {
			return s.Move(req.Camera, req.Index)
		})
	}
}

func playViewerHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		applyViewer(w, cfg, chi.URLParam(r, "set"), func(s *viewer.State) error {
			s.Play()
			return nil
		})
	}
}

func pauseViewerHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		applyViewer(w, cfg, chi.URLParam(r, "set"), func(s *viewer.State) error {
			s.Pause()
			return nil
		})
	}
}

func seekViewerHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req SeekRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			WriteError(w, http.StatusBadRequest, "invalid request body", "BAD_REQUEST")
			return
		}
		applyViewer(w, cfg, chi.URLParam(r, "set"), func(s *viewer.State) error {
			return s.Seek(time.Duration(req.PositionMs) * time.Millisecond)
		})
	}
}

func applyViewer(w http.ResponseWriter, cfg ServerConfig, set string, fn func(*viewer.State) error) {
	view, err := cfg.Viewer.Update(set, fn)
	if err != nil {
		switch {
		case errors.Is(err, viewer.ErrUnknownCamera):
			WriteError(w, http.StatusBadRequest, err.Error(), "UNKNOWN_CAMERA")
		case errors.Is(err, viewer.ErrInvalidOrder), errors.Is(err, viewer.ErrInvalidSeek):
			WriteError(w, http.StatusBadRequest, err.Error(), "BAD_REQUEST")
		default:
			WriteError(w, http.StatusInternalServerError, err.Error(), "INTERNAL_ERROR")
		}
		return
	}
	WriteJSON(w, http.StatusOK, view)
}
