package ui

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/getlantern/systray"

	"github.com/gbgbgb8/tesla-x-cam/internal/catalog"
	"github.com/gbgbgb8/tesla-x-cam/internal/export"
)

const progressInterval = time.Second

// ExportControl is the part of the export manager the tray drives.
type ExportControl interface {
	Active() *export.Job
	Cancel(ctx context.Context, id string) error
}

type Tray struct {
	catalogSvc catalog.CatalogService
	runner     *catalog.Runner
	exports    ExportControl
	logger     *slog.Logger

	statusItem  *systray.MenuItem
	sourcesItem *systray.MenuItem
	exportItem  *systray.MenuItem
	cancelItem  *systray.MenuItem
	pauseItem   *systray.MenuItem

	mu     sync.Mutex
	notice string

	onExportLatest func() error
	onQuit         func()
}

type TrayConfig struct {
	CatalogService catalog.CatalogService
	Runner         *catalog.Runner
	Exports        ExportControl
	Logger         *slog.Logger
	OnExportLatest func() error
	OnQuit         func()
}

func NewTray(cfg TrayConfig) *Tray {
	return &Tray{
		catalogSvc:     cfg.CatalogService,
		runner:         cfg.Runner,
		exports:        cfg.Exports,
		logger:         cfg.Logger,
		onExportLatest: cfg.OnExportLatest,
		onQuit:         cfg.OnQuit,
	}
}

func (t *Tray) Run() {
	systray.Run(t.onReady, t.onExit)
}

func (t *Tray) onReady() {
	systray.SetIcon(iconBytes)
	systray.SetTitle("TeslaCam")
	systray.SetTooltip("TeslaCam Agent")

	t.mu.Lock()
	t.statusItem = systray.AddMenuItem("Status: Idle", "Current agent status")
	t.statusItem.Disable()

	t.sourcesItem = systray.AddMenuItem("Sources: 0", "Connected TeslaCam folders")
	t.sourcesItem.Disable()

	t.exportItem = systray.AddMenuItem("Export: none", "Current export")
	t.exportItem.Disable()

	systray.AddSeparator()

	exportLatest := systray.AddMenuItem("Export latest (landscape)", "Export the newest clip set")
	t.cancelItem = systray.AddMenuItem("Cancel export", "Stop the running export")
	t.cancelItem.Disable()

	t.pauseItem = systray.AddMenuItem("Pause scanning", "Pause catalog jobs")

	systray.AddSeparator()

	quitItem := systray.AddMenuItem("Quit", "Quit TeslaCam Agent")
	t.mu.Unlock()

	if t.catalogSvc != nil {
		if sources, err := t.catalogSvc.GetSources(context.Background()); err == nil {
			t.UpdateSourcesCount(len(sources))
		}
	}

	done := make(chan struct{})
	go t.pollExport(done)

	go func() {
		for {
			select {
			case <-exportLatest.ClickedCh:
				t.handleExportLatest()
			case <-t.cancelItem.ClickedCh:
				t.handleCancel()
			case <-t.pauseItem.ClickedCh:
				t.togglePause()
			case <-quitItem.ClickedCh:
				t.logger.Info("quit requested from tray")
				close(done)
				if t.onQuit != nil {
					t.onQuit()
				}
				systray.Quit()
				return
			}
		}
	}()

	t.logger.Info("system tray ready")
}

func (t *Tray) onExit() {
	t.logger.Info("system tray exiting")
}

func (t *Tray) pollExport(done <-chan struct{}) {
	ticker := time.NewTicker(progressInterval)
	defer ticker.Stop()
	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			t.refreshExport()
		}
	}
}

func (t *Tray) refreshExport() {
	var st *export.Status
	if t.exports != nil {
		if job := t.exports.Active(); job != nil {
			s := job.Status()
			st = &s
		}
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if t.exportItem == nil {
		return
	}
	t.exportItem.SetTitle(exportLine(st, t.notice))
	if st != nil {
		t.cancelItem.Enable()
	} else {
		t.cancelItem.Disable()
	}
}

// exportLine renders the export menu entry: progress while a job runs,
// otherwise the last notice.
func exportLine(st *export.Status, notice string) string {
	if st == nil {
		if notice != "" {
			return notice
		}
		return "Export: none"
	}
	if st.FramesTotal > 0 {
		pct := st.FramesDone * 100 / st.FramesTotal
		return fmt.Sprintf("Export: %s %d%% (%d/%d frames)", st.State, pct, st.FramesDone, st.FramesTotal)
	}
	return fmt.Sprintf("Export: %s", st.State)
}

// Notify shows the final notice of an export. Tray implements
// export.Notifier.
func (t *Tray) Notify(n export.Notice) {
	line := n.Title
	if n.Message != "" {
		line += ": " + n.Message
	}
	t.mu.Lock()
	t.notice = line
	t.mu.Unlock()
	t.refreshExport()
}

func (t *Tray) handleExportLatest() {
	if t.onExportLatest == nil {
		return
	}
	if err := t.onExportLatest(); err != nil {
		t.logger.Error("export from tray failed", "error", err)
		t.Notify(export.Notice{Title: "Export failed", Message: err.Error()})
		return
	}
	t.refreshExport()
}

func (t *Tray) handleCancel() {
	if t.exports == nil {
		return
	}
	job := t.exports.Active()
	if job == nil {
		return
	}
	if err := t.exports.Cancel(context.Background(), job.ID); err != nil {
		t.logger.Warn("cancel from tray failed", "export_id", job.ID, "error", err)
	}
}

func (t *Tray) togglePause() {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.runner == nil {
		return
	}

	if t.runner.IsPaused() {
		t.runner.Resume()
		t.pauseItem.SetTitle("Pause scanning")
		t.statusItem.SetTitle("Status: Idle")
	} else {
		t.runner.Pause()
		t.pauseItem.SetTitle("Resume scanning")
		t.statusItem.SetTitle("Status: Paused")
	}
}

func (t *Tray) UpdateStatus(status string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.statusItem == nil || (t.runner != nil && t.runner.IsPaused()) {
		return
	}
	t.statusItem.SetTitle("Status: " + status)
}

func (t *Tray) UpdateSourcesCount(count int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.sourcesItem != nil {
		t.sourcesItem.SetTitle(fmt.Sprintf("Sources: %d", count))
	}
}

func (t *Tray) Quit() {
	systray.Quit()
}
