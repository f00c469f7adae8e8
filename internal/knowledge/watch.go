package knowledge

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// ErrWatcherFailed indicates the filesystem watcher failed to initialize.
var ErrWatcherFailed = errors.New("failed to initialize filesystem watcher")

// defaultDebounce absorbs the burst of events an editor save produces.
const defaultDebounce = 500 * time.Millisecond

// Watcher re-ingests the disease CSV whenever it changes on disk.
type Watcher struct {
	path     string
	ingester *Ingester
	logger   *zap.Logger
	debounce time.Duration
	watcher  *fsnotify.Watcher

	stopOnce sync.Once
	stop     chan struct{}
	done     chan struct{}

	// runs receives the stats of every completed re-ingestion.
	runs chan IngestStats
}

// NewWatcher watches path. The parent directory is watched so atomic
// renames by editors are noticed.
func NewWatcher(path string, ingester *Ingester, logger *zap.Logger) (*Watcher, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolving %s: %w", path, err)
	}

	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrWatcherFailed, err)
	}
	if err := fw.Add(filepath.Dir(abs)); err != nil {
		_ = fw.Close()
		return nil, fmt.Errorf("watching %s: %w", filepath.Dir(abs), err)
	}

	return &Watcher{
		path:     abs,
		ingester: ingester,
		logger:   logger,
		debounce: defaultDebounce,
		watcher:  fw,
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
		runs:     make(chan IngestStats, 4),
	}, nil
}

// Runs delivers stats of completed re-ingestions. Slow readers miss runs.
func (w *Watcher) Runs() <-chan IngestStats {
	return w.runs
}

// Start processes events in the background until ctx is done or Stop is
// called.
func (w *Watcher) Start(ctx context.Context) {
	go w.loop(ctx)
}

// Stop ends the loop and releases the watcher.
func (w *Watcher) Stop() {
	w.stopOnce.Do(func() {
		close(w.stop)
		_ = w.watcher.Close()
	})
	<-w.done
}

func (w *Watcher) loop(ctx context.Context) {
	defer close(w.done)

	var timer *time.Timer
	var fire <-chan time.Time
	for {
		select {
		case <-w.stop:
			return
		case <-ctx.Done():
			return
		case ev, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(ev.Name) != w.path || !ev.Has(fsnotify.Write|fsnotify.Create|fsnotify.Rename) {
				continue
			}
			if timer == nil {
				timer = time.NewTimer(w.debounce)
			} else {
				timer.Reset(w.debounce)
			}
			fire = timer.C
		case <-fire:
			fire = nil
			w.reload(ctx)
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Warn("knowledge watcher error", zap.Error(err))
		}
	}
}

func (w *Watcher) reload(ctx context.Context) {
	f, err := os.Open(w.path)
	if err != nil {
		w.logger.Warn("knowledge source unreadable", zap.String("path", w.path), zap.Error(err))
		return
	}
	defer f.Close()

	stats, err := w.ingester.Ingest(ctx, f, IngestOptions{Replace: true})
	if err != nil {
		w.logger.Error("knowledge re-ingestion failed", zap.String("path", w.path), zap.Error(err))
		return
	}
	select {
	case w.runs <- stats:
	default:
	}
}
