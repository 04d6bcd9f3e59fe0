package watcher

import (
	"context"
	"log/slog"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/gbgbgb8/tesla-x-cam/internal/catalog"
)

const DefaultDebounce = 3 * time.Second

// Scanner queues a scan job for a source. catalog.CatalogService
// implements it.
type Scanner interface {
	ScanSource(ctx context.Context, sourceID string) (*catalog.Job, error)
}

// Rescanner turns file events into at most one scan per source per
// debounce window. The dashcam writes four files per minute, so one scan
// covers the whole burst.
type Rescanner struct {
	scanner  Scanner
	debounce time.Duration
	logger   *slog.Logger

	mu      sync.Mutex
	roots   map[string]string // cleaned root path -> source id
	pending map[string]*time.Timer
	closed  bool
}

func NewRescanner(scanner Scanner, debounce time.Duration, logger *slog.Logger) *Rescanner {
	if debounce <= 0 {
		debounce = DefaultDebounce
	}
	return &Rescanner{
		scanner:  scanner,
		debounce: debounce,
		logger:   logger.With("component", "rescan"),
		roots:    make(map[string]string),
		pending:  make(map[string]*time.Timer),
	}
}

// Add maps events under root to sourceID.
func (r *Rescanner) Add(root, sourceID string) {
	r.mu.Lock()
	r.roots[filepath.Clean(root)] = sourceID
	r.mu.Unlock()
}

// Handle is a Watcher callback.
func (r *Rescanner) Handle(path string, event EventType) {
	if event != EventDelete && !catalog.IsVideoFile(path) && filepath.Ext(path) != "" {
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return
	}
	id := r.sourceFor(path)
	if id == "" {
		return
	}
	if t, ok := r.pending[id]; ok {
		t.Reset(r.debounce)
		return
	}
	r.pending[id] = time.AfterFunc(r.debounce, func() { r.fire(id) })
}

// sourceFor returns the source whose root is the longest prefix of path.
func (r *Rescanner) sourceFor(path string) string {
	path = filepath.Clean(path)
	best, id := -1, ""
	for root, sid := range r.roots {
		if path != root && !strings.HasPrefix(path, root+string(filepath.Separator)) {
			continue
		}
		if len(root) > best {
			best, id = len(root), sid
		}
	}
	return id
}

func (r *Rescanner) fire(sourceID string) {
	r.mu.Lock()
	delete(r.pending, sourceID)
	closed := r.closed
	r.mu.Unlock()
	if closed {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	job, err := r.scanner.ScanSource(ctx, sourceID)
	if err != nil {
		r.logger.Warn("queue rescan failed", "source_id", sourceID, "error", err)
		return
	}
	r.logger.Info("rescan queued", "source_id", sourceID, "job_id", job.ID)
}

// Close drops pending rescans.
func (r *Rescanner) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closed = true
	for id, t := range r.pending {
		t.Stop()
		delete(r.pending, id)
	}
}
