package api

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gbgbgb8/tesla-x-cam/internal/catalog"
	"github.com/gbgbgb8/tesla-x-cam/internal/export"
	"github.com/gbgbgb8/tesla-x-cam/internal/ffmpeg"
	"github.com/gbgbgb8/tesla-x-cam/internal/playback"
	"github.com/gbgbgb8/tesla-x-cam/internal/viewer"
)

type Server struct {
	httpServer *http.Server
	logger     *slog.Logger
}

// Exporter is the export surface the API drives. *export.Manager
// implements it.
type Exporter interface {
	Start(req export.Request) (*export.Job, error)
	Cancel(ctx context.Context, id string) error
	Active() *export.Job
	Get(ctx context.Context, id string) (*export.Status, error)
	List(ctx context.Context, limit int) ([]*export.Status, error)
	Artifact(ctx context.Context, id string) (*export.Artifact, error)
	Delete(ctx context.Context, id string) error
}

type ServerConfig struct {
	Port           int
	CatalogService catalog.CatalogService
	PlaybackServer playback.PlaybackService
	Repository     catalog.Repository
	Runner         *catalog.Runner
	Doctor         *ffmpeg.CachedDoctor
	Exports        Exporter
	Viewer         *viewer.Store
	Notices        *export.NoticeBoard
	ExportDefaults export.Defaults
	Logger         *slog.Logger
	StartTime      time.Time
	DeviceID       string
}

func NewServer(cfg ServerConfig) *Server {
	router := NewRouter(cfg)

	return &Server{
		httpServer: &http.Server{
			Addr:         fmt.Sprintf("127.0.0.1:%d", cfg.Port),
			Handler:      router,
			ReadTimeout:  15 * time.Second,
			WriteTimeout: 0,
			IdleTimeout:  60 * time.Second,
		},
		logger: cfg.Logger,
	}
}

func (s *Server) Start() error {
	s.logger.Info("starting HTTP server", "addr", s.httpServer.Addr)
	err := s.httpServer.ListenAndServe()
	if err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down HTTP server")
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) Addr() string {
	return s.httpServer.Addr
}
