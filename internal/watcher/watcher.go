// Package watcher feeds drop-zone files to the ingest pipeline. It
// reacts to create and write events for recognised extensions, hashes
// each file, and hands it to the coordinator. A .pause sentinel at the
// watch root suspends dispatch without stopping the event stream;
// removing it rescans the drop zone so paused drops are picked up.
package watcher

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"github.com/hsn0918/memex/internal/detect"
	"github.com/hsn0918/memex/internal/store"
)

const (
	// MaxConcurrentIngests bounds in-flight file ingests.
	MaxConcurrentIngests = 10
	// PauseSentinel suspends dispatch while it exists at the watch root.
	PauseSentinel = ".pause"
)

// Handler ingests one dropped file identified by its content hash.
type Handler func(ctx context.Context, path, fingerprint string) error

// Watcher monitors one drop-zone directory.
type Watcher struct {
	root    string
	handler Handler
	logger  *zap.Logger
	sem     *semaphore.Weighted
	wg      sync.WaitGroup
}

func New(root string, handler Handler, logger *zap.Logger) *Watcher {
	return &Watcher{
		root:    root,
		handler: handler,
		logger:  logger,
		sem:     semaphore.NewWeighted(MaxConcurrentIngests),
	}
}

// Run watches the drop zone until the context is cancelled. Files
// already present are ingested before event processing starts, so a
// restart catches anything dropped while the process was down.
func (w *Watcher) Run(ctx context.Context) error {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("watcher: %w", err)
	}
	defer fw.Close()

	if err := fw.Add(w.root); err != nil {
		return fmt.Errorf("watch %s: %w", w.root, err)
	}
	w.logger.Info("drop zone watcher started", zap.String("root", w.root))

	w.ScanExisting(ctx)

	for {
		select {
		case <-ctx.Done():
			w.wg.Wait()
			return ctx.Err()
		case ev, ok := <-fw.Events:
			if !ok {
				w.wg.Wait()
				return nil
			}
			w.handleEvent(ctx, ev)
		case err, ok := <-fw.Errors:
			if !ok {
				w.wg.Wait()
				return nil
			}
			w.logger.Warn("watch error", zap.Error(err))
		}
	}
}

// ScanExisting dispatches every recognised file already in the drop
// zone. Dedup makes re-scanning previously ingested files harmless.
func (w *Watcher) ScanExisting(ctx context.Context) {
	if w.paused() {
		w.logger.Info("watcher paused, skipping startup scan")
		return
	}

	entries, err := os.ReadDir(w.root)
	if err != nil {
		w.logger.Error("startup scan failed", zap.String("root", w.root), zap.Error(err))
		return
	}
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		path := filepath.Join(w.root, entry.Name())
		if !detect.WatchedExtension(path) {
			continue
		}
		w.dispatch(ctx, path)
	}
}

func (w *Watcher) handleEvent(ctx context.Context, ev fsnotify.Event) {
	if filepath.Base(ev.Name) == PauseSentinel {
		// Removing the sentinel resumes intake. Files dropped while
		// paused produced no dispatch, so rescan the directory; dedup
		// makes re-scanning anything already ingested harmless.
		if ev.Op.Has(fsnotify.Remove) || ev.Op.Has(fsnotify.Rename) {
			w.logger.Info("watcher resumed, rescanning drop zone")
			w.ScanExisting(ctx)
		}
		return
	}
	if !ev.Op.Has(fsnotify.Create) && !ev.Op.Has(fsnotify.Write) {
		return
	}
	if !detect.WatchedExtension(ev.Name) {
		return
	}
	if w.paused() {
		w.logger.Info("watcher paused, dropping event", zap.String("path", ev.Name))
		return
	}
	w.dispatch(ctx, ev.Name)
}

// dispatch runs the handler on its own goroutine, bounded by the
// ingest semaphore. Acquisition blocks the event loop once the bound
// is hit, which throttles bulk drops instead of buffering them.
func (w *Watcher) dispatch(ctx context.Context, path string) {
	if err := w.sem.Acquire(ctx, 1); err != nil {
		return
	}
	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		defer w.sem.Release(1)
		w.ingest(ctx, path)
	}()
}

func (w *Watcher) ingest(ctx context.Context, path string) {
	info, err := os.Stat(path)
	if err != nil || info.IsDir() {
		// Gone or replaced by a directory between event and handling.
		return
	}

	fingerprint, err := detect.Fingerprint(path)
	if err != nil {
		w.logger.Error("fingerprint failed", zap.String("path", path), zap.Error(err))
		return
	}
	w.logger.Info("file detected",
		zap.String("path", path),
		zap.String("fingerprint", fingerprint[:8]))

	err = w.handler(ctx, path, fingerprint)
	switch {
	case err == nil:
	case errors.Is(err, store.ErrDuplicate):
		w.logger.Info("duplicate file skipped", zap.String("path", path))
	default:
		w.logger.Error("ingest failed", zap.String("path", path), zap.Error(err))
	}
}

func (w *Watcher) paused() bool {
	_, err := os.Stat(filepath.Join(w.root, PauseSentinel))
	return err == nil
}
