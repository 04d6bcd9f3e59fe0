package main

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/gbgbgb8/tesla-x-cam/internal/api"
	"github.com/gbgbgb8/tesla-x-cam/internal/catalog"
	"github.com/gbgbgb8/tesla-x-cam/internal/config"
	"github.com/gbgbgb8/tesla-x-cam/internal/db"
	"github.com/gbgbgb8/tesla-x-cam/internal/export"
	"github.com/gbgbgb8/tesla-x-cam/internal/ffmpeg"
	"github.com/gbgbgb8/tesla-x-cam/internal/logging"
	"github.com/gbgbgb8/tesla-x-cam/internal/playback"
	"github.com/gbgbgb8/tesla-x-cam/internal/ui"
	"github.com/gbgbgb8/tesla-x-cam/internal/viewer"
	"github.com/gbgbgb8/tesla-x-cam/internal/watcher"
)

func main() {
	if err := run(); err != nil {
		log.Fatalf("fatal error: %v", err)
	}
}

func run() error {
	startTime := time.Now()

	cfg, err := config.New()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	for _, dir := range []string{cfg.DataDir(), cfg.CacheDir(), cfg.ExportsDir()} {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create %s: %w", dir, err)
		}
	}

	logger := logging.NewLogger(cfg.LogLevel())
	logger.Info("starting teslacam agent", "version", config.Version, "data_dir", cfg.DataDir())

	database, err := db.New(cfg.DBPath(), logger)
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	defer database.Close()

	repo := catalog.NewRepository(database.Conn())

	deviceID, err := ensureDeviceID(repo)
	if err != nil {
		return fmt.Errorf("failed to ensure device ID: %w", err)
	}

	authToken, err := ensureAuthToken(repo)
	if err != nil {
		return fmt.Errorf("failed to ensure auth token: %w", err)
	}

	fmt.Println()
	fmt.Println("╔═══════════════════════════════════════════════════════════╗")
	fmt.Printf("║                  TESLACAM AGENT v%-24s ║\n", config.Version)
	fmt.Println("╠═══════════════════════════════════════════════════════════╣")
	fmt.Printf("║  API URL:    http://127.0.0.1:%-27d ║\n", cfg.Port())
	fmt.Printf("║  Auth Token: %-45s ║\n", authToken)
	fmt.Printf("║  Device ID:  %-45s ║\n", deviceID[:16]+"...")
	fmt.Println("╚═══════════════════════════════════════════════════════════╝")
	fmt.Println()

	ffCfg := ffmpeg.DefaultConfig(logging.WithComponent(logger, "ffmpeg"))
	ffCfg.FFmpegPath = cfg.FFmpegPath()
	ffCfg.FFprobePath = cfg.FFprobePath()
	ffCfg.DoctorTimeout = cfg.DoctorTimeout()
	ffCfg.ProbeTimeout = cfg.ProbeTimeout()

	catalogSvc := catalog.NewService(repo, logger)
	playbackSvc := playback.NewServer(logger)

	var (
		ffRunner *ffmpeg.Runner
		doctor   *ffmpeg.CachedDoctor
		thumbs   catalog.Thumbnailer
	)
	if r, err := ffmpeg.New(ffCfg); err != nil {
		logger.Warn("ffmpeg unavailable, probing and exports disabled", "error", err)
	} else {
		ffRunner = r
		thumbs = r
		catalogSvc.WithProber(r)
		doctor = ffmpeg.NewCachedDoctor(r, logger)

		initCtx, initCancel := context.WithTimeout(context.Background(), cfg.DoctorTimeout())
		if caps, err := doctor.Refresh(initCtx); err != nil {
			logger.Warn("initial doctor probe failed", "error", err)
		} else {
			logger.Info("ffmpeg capabilities detected",
				"version", caps.FFmpegVersion,
				"h264", caps.HasH264,
				"vp8", caps.HasVP8,
			)
		}
		initCancel()
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	runner := catalog.NewRunner(catalogSvc, repo, thumbs, doctor, filepath.Join(cfg.CacheDir(), "thumbnails"), logger)
	go runner.Start(ctx)

	settings := cfg.Export()
	strategy, err := export.NewStrategy(ffRunner, doctor, settings, filepath.Join(cfg.CacheDir(), "transcode"), logging.WithComponent(logger, "export"))
	if err != nil {
		return fmt.Errorf("failed to build export strategy: %w", err)
	}
	defaults, err := export.DefaultsFrom(settings)
	if err != nil {
		return fmt.Errorf("invalid export defaults: %w", err)
	}
	pipeline := export.NewPipeline(strategy, export.PipelineConfig{
		ArtifactRoot:        cfg.ExportsDir(),
		OriginalUsesPrimary: settings.OriginalUsesPrimary,
	}, logger)

	notices := &export.NoticeBoard{}
	notifiers := export.MultiNotifier{notices, export.LogNotifier{Logger: logger}}

	// Assigned before the API starts, so no export can finish earlier.
	var tray *ui.Tray
	if !cfg.Headless() {
		notifiers = append(notifiers, export.NotifierFunc(func(n export.Notice) { tray.Notify(n) }))
	}

	exports := export.NewManager(pipeline, export.NewRepository(database.Conn()), notifiers, logger)
	viewers := viewer.NewStore()

	if n, err := exports.Recover(ctx); err != nil {
		logger.Warn("failed to clean up interrupted exports", "error", err)
	} else if n > 0 {
		logger.Info("cleaned up interrupted exports", "count", n)
	}

	logger.Info("export pipeline ready", "strategy", pipeline.StrategyName(), "stop_policy", defaults.Policy)

	quitCh := make(chan struct{})

	if !cfg.Headless() {
		tray = ui.NewTray(ui.TrayConfig{
			CatalogService: catalogSvc,
			Runner:         runner,
			Exports:        exports,
			Logger:         logger,
			OnExportLatest: func() error {
				return exportLatest(ctx, catalogSvc, viewers, exports, defaults, logger)
			},
			OnQuit: func() {
				close(quitCh)
			},
		})
	}

	apiServer := api.NewServer(api.ServerConfig{
		Port:           cfg.Port(),
		CatalogService: catalogSvc,
		PlaybackServer: playbackSvc,
		Repository:     repo,
		Runner:         runner,
		Doctor:         doctor,
		Exports:        exports,
		Viewer:         viewers,
		Notices:        notices,
		ExportDefaults: defaults,
		Logger:         logger,
		StartTime:      startTime,
		DeviceID:       deviceID,
	})

	go func() {
		if err := apiServer.Start(); err != nil {
			logger.Error("HTTP server error", "error", err)
		}
	}()

	fsWatcher, rescanner := startWatcher(ctx, catalogSvc, logger)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		select {
		case sig := <-sigCh:
			logger.Info("received shutdown signal", "signal", sig)
			close(quitCh)
		case <-quitCh:
		}
	}()

	if tray == nil {
		logger.Info("running in headless mode (no system tray)")
	} else {
		go tray.Run()
	}

	<-quitCh

	logger.Info("initiating graceful shutdown")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := exports.Shutdown(shutdownCtx); err != nil {
		logger.Error("failed to stop export", "error", err)
	}
	cancel()

	if rescanner != nil {
		rescanner.Close()
	}
	if fsWatcher != nil {
		if err := fsWatcher.Stop(); err != nil {
			logger.Error("failed to stop watcher", "error", err)
		}
	}

	if err := apiServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("failed to shutdown HTTP server", "error", err)
	}

	logger.Info("shutdown complete")
	return nil
}

// startWatcher queues rescans when files change under the registered
// sources. Folders added later are picked up on the next start.
func startWatcher(ctx context.Context, svc *catalog.Service, logger *slog.Logger) (*watcher.FSWatcher, *watcher.Rescanner) {
	sources, err := svc.GetSources(ctx)
	if err != nil {
		logger.Warn("failed to list sources for watching", "error", err)
		return nil, nil
	}

	fsWatcher, err := watcher.NewFSWatcher(logger)
	if err != nil {
		logger.Warn("file watcher unavailable", "error", err)
		return nil, nil
	}
	rescanner := watcher.NewRescanner(svc, watcher.DefaultDebounce, logger)
	fsWatcher.OnChange(rescanner.Handle)

	for _, src := range sources {
		if !src.Present {
			continue
		}
		if err := fsWatcher.Watch(ctx, src.Path); err != nil {
			logger.Warn("failed to watch source", "source_id", src.ID, "error", err)
			continue
		}
		rescanner.Add(src.Path, src.ID)
	}
	return fsWatcher, rescanner
}

// exportLatest exports the newest clip set of the first source with the
// viewer's current panes.
func exportLatest(ctx context.Context, svc *catalog.Service, viewers *viewer.Store, exports *export.Manager, defaults export.Defaults, logger *slog.Logger) error {
	sources, err := svc.GetSources(ctx)
	if err != nil {
		return err
	}
	if len(sources) == 0 {
		return fmt.Errorf("no TeslaCam folder added")
	}

	set, err := svc.LatestSet(ctx, sources[0].ID)
	if err != nil {
		return err
	}
	if err := svc.EnsureProbed(ctx, set); err != nil {
		logger.Warn("probe before export failed", "set", set.Key, "error", err)
	}

	policy := export.StopPolicy{Kind: defaults.Policy}
	if policy.Kind == export.PolicyFrames {
		policy.Frames = defaults.FrameBudget
	}
	if policy.Kind == export.PolicyRange {
		policy.Kind = export.PolicyShortest
	}

	_, err = exports.Start(viewers.Request(set, export.FormatLandscape, policy))
	return err
}

func ensureDeviceID(repo catalog.Repository) (string, error) {
	ctx := context.Background()

	existing, err := repo.GetConfig(ctx, "device_id")
	if err == nil && existing != "" {
		return existing, nil
	}

	idBytes := make([]byte, 16)
	if _, err := rand.Read(idBytes); err != nil {
		return "", err
	}
	deviceID := hex.EncodeToString(idBytes)

	if err := repo.SetConfig(ctx, "device_id", deviceID); err != nil {
		return "", err
	}

	return deviceID, nil
}

func ensureAuthToken(repo catalog.Repository) (string, error) {
	ctx := context.Background()

	existing, err := repo.GetConfig(ctx, "auth_token")
	if err == nil && existing != "" {
		return existing, nil
	}

	tokenBytes := make([]byte, 32)
	if _, err := rand.Read(tokenBytes); err != nil {
		return "", err
	}
	token := hex.EncodeToString(tokenBytes)

	if err := repo.SetConfig(ctx, "auth_token", token); err != nil {
		return "", err
	}

	return token, nil
}
