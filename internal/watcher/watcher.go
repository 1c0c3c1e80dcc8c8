// Package watcher re-ingests the manual when a supported file in a watched
// directory is created or written.
package watcher

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/54b3r/manualqa-go/internal/ingestion"
)

// DefaultDebounce is the quiet period after the last event for a path before
// it is ingested.
const DefaultDebounce = 2 * time.Second

// Ingester ingests one file from disk.
type Ingester interface {
	IngestFile(ctx context.Context, path string, progress ingestion.Progress) (*ingestion.Report, error)
}

// Config configures a Watcher.
type Config struct {
	// Dir is the directory to watch. Required.
	Dir string
	// UploadDir is the ingestion scratch directory. It must differ from Dir,
	// otherwise every staged upload would trigger another ingestion.
	UploadDir string
	// Debounce defaults to DefaultDebounce if zero.
	Debounce time.Duration
	// OnResult is called after every ingestion attempt. Optional.
	OnResult func(path string, report *ingestion.Report, err error)
}

// Watcher turns filesystem events into debounced ingestions.
type Watcher struct {
	fs       *fsnotify.Watcher
	ing      Ingester
	dir      string
	debounce time.Duration
	onResult func(string, *ingestion.Report, error)
	log      *slog.Logger

	mu     sync.Mutex
	timers map[string]*time.Timer
	closed bool
	wg     sync.WaitGroup
}

// New validates cfg and starts watching cfg.Dir. Call Run to process events.
func New(cfg Config, ing Ingester, log *slog.Logger) (*Watcher, error) {
	if ing == nil {
		return nil, fmt.Errorf("watcher: ingester must not be nil")
	}
	if cfg.Dir == "" {
		return nil, fmt.Errorf("watcher: directory is required")
	}
	dir, err := filepath.Abs(cfg.Dir)
	if err != nil {
		return nil, fmt.Errorf("watcher: resolving %s: %w", cfg.Dir, err)
	}
	if cfg.UploadDir != "" {
		upload, err := filepath.Abs(cfg.UploadDir)
		if err != nil {
			return nil, fmt.Errorf("watcher: resolving %s: %w", cfg.UploadDir, err)
		}
		if upload == dir {
			return nil, fmt.Errorf("watcher: watch dir %s must not be the upload dir", dir)
		}
	}
	info, err := os.Stat(dir)
	if err != nil {
		return nil, fmt.Errorf("watcher: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("watcher: %s is not a directory", dir)
	}

	if cfg.Debounce <= 0 {
		cfg.Debounce = DefaultDebounce
	}
	if log == nil {
		log = slog.Default()
	}

	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("watcher: %w", err)
	}
	if err := fw.Add(dir); err != nil {
		_ = fw.Close()
		return nil, fmt.Errorf("watcher: adding %s: %w", dir, err)
	}

	return &Watcher{
		fs:       fw,
		ing:      ing,
		dir:      dir,
		debounce: cfg.Debounce,
		onResult: cfg.OnResult,
		log:      log,
		timers:   make(map[string]*time.Timer),
	}, nil
}

// Dir returns the absolute watched directory.
func (w *Watcher) Dir() string { return w.dir }

// Run processes events until ctx is cancelled, then stops pending timers,
// waits for in-flight ingestions and closes the watcher.
func (w *Watcher) Run(ctx context.Context) error {
	defer w.shutdown()
	w.log.Info("watcher: watching manual directory", slog.String("dir", w.dir))

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-w.fs.Events:
			if !ok {
				return nil
			}
			if !event.Has(fsnotify.Create) && !event.Has(fsnotify.Write) {
				continue
			}
			if !ingestion.IsSupported(event.Name) {
				continue
			}
			w.schedule(ctx, event.Name)
		case err, ok := <-w.fs.Errors:
			if !ok {
				return nil
			}
			w.log.Warn("watcher: fsnotify error", slog.Any("error", err))
		}
	}
}

// schedule (re)starts the debounce timer for path.
func (w *Watcher) schedule(ctx context.Context, path string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if t, ok := w.timers[path]; ok {
		t.Reset(w.debounce)
		return
	}
	w.timers[path] = time.AfterFunc(w.debounce, func() {
		w.mu.Lock()
		delete(w.timers, path)
		if w.closed {
			w.mu.Unlock()
			return
		}
		w.wg.Add(1)
		w.mu.Unlock()
		defer w.wg.Done()
		w.ingest(ctx, path)
	})
}

func (w *Watcher) ingest(ctx context.Context, path string) {
	if ctx.Err() != nil {
		return
	}
	report, err := w.ing.IngestFile(ctx, path, nil)
	if err != nil {
		level := slog.LevelError
		if errors.Is(err, os.ErrNotExist) {
			level = slog.LevelWarn
		}
		w.log.Log(ctx, level, "watcher: ingestion failed", slog.String("path", path), slog.Any("error", err))
	} else {
		w.log.Info("watcher: manual re-ingested",
			slog.String("path", path),
			slog.Int("passages", report.Passages),
		)
	}
	if w.onResult != nil {
		w.onResult(path, report, err)
	}
}

func (w *Watcher) shutdown() {
	w.mu.Lock()
	w.closed = true
	for path, t := range w.timers {
		t.Stop()
		delete(w.timers, path)
	}
	w.mu.Unlock()
	w.wg.Wait()
	if err := w.fs.Close(); err != nil {
		w.log.Warn("watcher: close failed", slog.Any("error", err))
	}
}
