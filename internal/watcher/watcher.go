// Package watcher monitors the durable store file so an out-of-band
// deletion (a user wiping the data directory) is noticed and the store
// reopened instead of every subsequent write failing.
package watcher

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog/log"
)

// StoreWatcher watches the store file's parent directory (fsnotify
// cannot watch a path that may stop existing) and calls onGone when the
// file disappears. Deletions are debounced so a delete-and-recreate in
// quick succession does not trigger a spurious reopen.
type StoreWatcher struct {
	storePath string
	parent    string
	onGone    func()
	fsw       *fsnotify.Watcher
	ctx       context.Context
	cancel    context.CancelFunc
	debounce  time.Duration

	mu      sync.Mutex
	running bool
}

// New creates a watcher for the store file at storePath. onGone runs
// when the file is deleted.
func New(storePath string, onGone func()) (*StoreWatcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &StoreWatcher{
		storePath: filepath.Clean(storePath),
		parent:    filepath.Dir(storePath),
		onGone:    onGone,
		fsw:       fsw,
		ctx:       ctx,
		cancel:    cancel,
		debounce:  100 * time.Millisecond,
	}, nil
}

// Start begins watching. Safe to call once; subsequent calls no-op.
func (w *StoreWatcher) Start() error {
	w.mu.Lock()
	if w.running {
		w.mu.Unlock()
		return nil
	}
	w.running = true
	w.mu.Unlock()

	if err := w.watchParent(); err != nil {
		log.Warn().Err(err).Str("path", w.parent).Msg("Could not watch store directory")
	}
	go w.loop()
	return nil
}

// Stop halts the watcher.
func (w *StoreWatcher) Stop() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if !w.running {
		return nil
	}
	w.running = false
	w.cancel()
	return w.fsw.Close()
}

func (w *StoreWatcher) watchParent() error {
	if _, err := os.Stat(w.parent); err != nil {
		return err
	}
	return w.fsw.Add(w.parent)
}

func (w *StoreWatcher) loop() {
	var (
		pending *time.Timer
	)
	stopPending := func() {
		if pending != nil {
			pending.Stop()
		}
	}

	for {
		select {
		case <-w.ctx.Done():
			stopPending()
			return

		case event, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			name := filepath.Clean(event.Name)

			if event.Op&fsnotify.Remove != 0 && (name == w.storePath || name == w.parent) {
				log.Info().Str("path", name).Msg("Store file removed")
				stopPending()
				pending = time.AfterFunc(w.debounce, w.handleGone)
				continue
			}
			// Store recreated before the debounce fired.
			if event.Op&fsnotify.Create != 0 && name == w.storePath {
				stopPending()
			}
			// Parent came back: re-establish the watch.
			if event.Op&fsnotify.Create != 0 && name == w.parent {
				_ = w.watchParent()
			}

		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			log.Error().Err(err).Msg("Store watcher error")
		}
	}
}

func (w *StoreWatcher) handleGone() {
	log.Warn().Str("path", w.storePath).Msg("Reopening store after deletion")
	if w.onGone != nil {
		w.onGone()
	}
	// The parent may have been recreated along with the store.
	go func() {
		time.Sleep(500 * time.Millisecond)
		if err := w.watchParent(); err != nil {
			log.Warn().Err(err).Str("path", w.parent).Msg("Could not re-watch store directory")
		}
	}()
}
