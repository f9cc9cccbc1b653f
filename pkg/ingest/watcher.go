package ingest

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Watcher re-ingests files when the configured roots change. Rapid event
// bursts for the same path are coalesced by the configured debounce window.
type Watcher struct {
	service  Watched
	fsw      *fsnotify.Watcher
	roots    []string
	debounce time.Duration
	opts     Options
	log      *slog.Logger

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
}

// Watched is the pipeline surface the watcher needs.
type Watched interface {
	IngestPath(ctx context.Context, pathOrURL string, opts Options) (*IngestionReport, error)
}

// NewWatcher builds a watcher over the given roots. Ingestions run with the
// supplied options (tags, collection, user).
func NewWatcher(service Watched, roots []string, debounce time.Duration, opts Options, log *slog.Logger) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if debounce <= 0 {
		debounce = 2 * time.Second
	}
	if log == nil {
		log = slog.Default()
	}
	return &Watcher{
		service:  service,
		fsw:      fsw,
		roots:    roots,
		debounce: debounce,
		opts:     opts,
		log:      log,
	}, nil
}

// Start registers the roots (and their subdirectories) and begins
// processing events until the context ends or Stop is called.
func (w *Watcher) Start(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.running {
		return nil
	}

	for _, root := range w.roots {
		if err := w.addTree(root); err != nil {
			return err
		}
	}

	ctx, w.cancel = context.WithCancel(ctx)
	w.running = true
	go w.loop(ctx)

	w.log.Info("watching ingestion roots", "roots", w.roots, "debounce", w.debounce)
	return nil
}

// Stop shuts the watcher down.
func (w *Watcher) Stop() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if !w.running {
		return nil
	}
	w.cancel()
	w.running = false
	return w.fsw.Close()
}

func (w *Watcher) addTree(root string) error {
	return filepath.WalkDir(root, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if err := w.fsw.Add(path); err != nil {
				w.log.Warn("watching directory failed", "path", path, "error", err)
			}
		}
		return nil
	})
}

func (w *Watcher) loop(ctx context.Context) {
	pending := make(map[string]fsnotify.Event)
	var pendingMu sync.Mutex
	var timer *time.Timer

	flush := func() {
		pendingMu.Lock()
		events := pending
		pending = make(map[string]fsnotify.Event)
		pendingMu.Unlock()

		for _, event := range events {
			w.handle(ctx, event)
		}
	}

	for {
		select {
		case <-ctx.Done():
			if timer != nil {
				timer.Stop()
			}
			return

		case event, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			if event.Op&fsnotify.Chmod == fsnotify.Chmod {
				continue
			}

			pendingMu.Lock()
			pending[event.Name] = event
			pendingMu.Unlock()

			if timer != nil {
				timer.Stop()
			}
			timer = time.AfterFunc(w.debounce, flush)

		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			w.log.Error("watcher error", "error", err)
		}
	}
}

func (w *Watcher) handle(ctx context.Context, event fsnotify.Event) {
	path := event.Name

	switch {
	case event.Op&fsnotify.Create == fsnotify.Create:
		info, err := os.Stat(path)
		if err != nil {
			return
		}
		if info.IsDir() {
			// New subdirectory; watch it too.
			if err := w.fsw.Add(path); err != nil {
				w.log.Warn("watching new directory failed", "path", path, "error", err)
			}
			return
		}
		w.reingest(ctx, path)

	case event.Op&fsnotify.Write == fsnotify.Write:
		if info, err := os.Stat(path); err != nil || info.IsDir() {
			return
		}
		w.reingest(ctx, path)

	case event.Op&fsnotify.Remove == fsnotify.Remove, event.Op&fsnotify.Rename == fsnotify.Rename:
		// Vector store rows are replaced on re-ingest, not on removal.
		w.log.Info("watched file removed", "path", path)
	}
}

func (w *Watcher) reingest(ctx context.Context, path string) {
	report, err := w.service.IngestPath(ctx, path, w.opts)
	if err != nil {
		w.log.Error("watched re-ingestion failed", "path", path, "error", err)
		return
	}
	if len(report.Errors) > 0 {
		w.log.Warn("watched re-ingestion finished with errors", "path", path, "errors", report.Errors)
		return
	}
	w.log.Info("re-ingested watched file", "path", path, "chunks", report.TotalChunks)
}
