package config

import (
	"context"
	"sync/atomic"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// Reloadable holds a hot-reloadable value behind an atomic pointer, so
// readers never block on a writer and a writer never blocks a reader
// (§9: "Mutable containers shared across handlers... copy-on-write for
// configuration tables").
type Reloadable[T any] struct {
	v atomic.Pointer[T]
}

// NewReloadable creates a Reloadable seeded with initial.
func NewReloadable[T any](initial *T) *Reloadable[T] {
	r := &Reloadable[T]{}
	r.v.Store(initial)
	return r
}

// Get returns the current value. Safe to call concurrently with Set.
func (r *Reloadable[T]) Get() *T { return r.v.Load() }

// Set atomically replaces the current value.
func (r *Reloadable[T]) Set(v *T) { r.v.Store(v) }

// Watcher watches one file on disk and invokes reload whenever it
// changes, only swapping the Reloadable if reload succeeds — an invalid
// file on disk leaves the previous, already-validated value in place
// (§6: "Hot-reload supported only for: routing rules, privacy rules,
// endpoint catalog, policy caps").
type Watcher struct {
	path    string
	log     *zap.Logger
	reload  func() error
	watcher *fsnotify.Watcher
}

// NewWatcher creates a Watcher for path. reload is called once
// synchronously to perform the initial load, then again on every write
// event. reload is responsible for parsing, validating, and Set()-ing the
// relevant Reloadable; NewWatcher does not know the payload type.
func NewWatcher(path string, log *zap.Logger, reload func() error) (*Watcher, error) {
	if log == nil {
		log = zap.NewNop()
	}
	if err := reload(); err != nil {
		return nil, err
	}
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := fw.Add(path); err != nil {
		fw.Close()
		return nil, err
	}
	return &Watcher{path: path, log: log.Named("hotreload"), reload: reload, watcher: fw}, nil
}

// Run blocks, reloading on every write/create event, until ctx is
// cancelled. Invalid reloads are logged, not fatal.
func (w *Watcher) Run(ctx context.Context) {
	defer w.watcher.Close()
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			if err := w.reload(); err != nil {
				w.log.Warn("hot-reload failed, keeping previous value",
					zap.String("path", w.path), zap.Error(err))
				continue
			}
			w.log.Info("hot-reloaded", zap.String("path", w.path))
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.log.Warn("watcher error", zap.String("path", w.path), zap.Error(err))
		}
	}
}
