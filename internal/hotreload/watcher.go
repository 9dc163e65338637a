package hotreload

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// Watcher watches config files. Editors often replace a file through a
// rename, which drops a watch held on the file itself, so the parent
// directory is watched and events are filtered by file name.
type Watcher struct {
	watcher    *fsnotify.Watcher
	logger     *zap.Logger
	targets    map[string]struct{}
	dirs       map[string]int
	events     chan Event
	ctx        context.Context
	cancel     context.CancelFunc
	wg         sync.WaitGroup
	mu         sync.RWMutex
	isWatching bool
}

// Event represents a change to a watched file.
type Event struct {
	Path string
	Op   fsnotify.Op
}

// NewWatcher creates a new file watcher.
func NewWatcher(logger *zap.Logger) (*Watcher, error) {
	fsWatcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create watcher: %w", err)
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &Watcher{
		watcher: fsWatcher,
		logger:  logger,
		targets: make(map[string]struct{}),
		dirs:    make(map[string]int),
		events:  make(chan Event, 100),
		ctx:     ctx,
		cancel:  cancel,
	}, nil
}

// Add starts watching a file.
func (w *Watcher) Add(path string) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	absPath, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("failed to get absolute path: %w", err)
	}
	if _, ok := w.targets[absPath]; ok {
		return nil
	}

	dir := filepath.Dir(absPath)
	if w.dirs[dir] == 0 {
		if err := w.watcher.Add(dir); err != nil {
			return fmt.Errorf("failed to watch directory %s: %w", dir, err)
		}
	}
	w.dirs[dir]++
	w.targets[absPath] = struct{}{}

	w.logger.Debug("Added watch path", zap.String("path", absPath))
	return nil
}

// Remove stops watching a file.
func (w *Watcher) Remove(path string) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	absPath, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("failed to get absolute path: %w", err)
	}
	if _, ok := w.targets[absPath]; !ok {
		return fmt.Errorf("path %s is not watched", absPath)
	}
	delete(w.targets, absPath)

	dir := filepath.Dir(absPath)
	w.dirs[dir]--
	if w.dirs[dir] <= 0 {
		delete(w.dirs, dir)
		if err := w.watcher.Remove(dir); err != nil {
			return fmt.Errorf("failed to remove directory %s: %w", dir, err)
		}
	}

	w.logger.Debug("Removed watch path", zap.String("path", absPath))
	return nil
}

// Events returns the channel of changes to watched files.
func (w *Watcher) Events() <-chan Event {
	return w.events
}

// Start begins watching for file system events.
func (w *Watcher) Start() {
	w.mu.Lock()
	if w.isWatching {
		w.mu.Unlock()
		return
	}
	w.isWatching = true
	w.mu.Unlock()

	w.wg.Add(1)
	go w.watch()
	w.logger.Info("File watcher started")
}

// Stop stops watching and closes the events channel. A watcher that was
// never started is closed as well.
func (w *Watcher) Stop() {
	w.mu.Lock()
	if w.ctx.Err() != nil {
		w.mu.Unlock()
		return
	}
	w.isWatching = false
	w.mu.Unlock()

	w.cancel()
	w.wg.Wait()
	close(w.events)
	if err := w.watcher.Close(); err != nil {
		w.logger.Error("Failed to close file watcher", zap.Error(err))
	}
	w.logger.Info("File watcher stopped")
}

func (w *Watcher) watch() {
	defer w.wg.Done()

	for {
		select {
		case <-w.ctx.Done():
			return
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if !w.relevant(event) {
				continue
			}

			w.logger.Debug("File system event",
				zap.String("path", event.Name),
				zap.String("operation", event.Op.String()))

			select {
			case w.events <- Event{Path: event.Name, Op: event.Op}:
			case <-w.ctx.Done():
				return
			}

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Error("Watcher error", zap.Error(err))
		}
	}
}

// relevant reports whether the event touches a watched file in a way that
// can change its contents.
func (w *Watcher) relevant(event fsnotify.Event) bool {
	if shouldSkipEvent(event.Name) {
		return false
	}
	if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
		return false
	}

	absPath, err := filepath.Abs(event.Name)
	if err != nil {
		return false
	}

	w.mu.RLock()
	defer w.mu.RUnlock()
	_, ok := w.targets[absPath]
	return ok
}

// shouldSkipEvent filters editor swap and backup files.
func shouldSkipEvent(path string) bool {
	base := filepath.Base(path)
	if base == "" || base == "." {
		return true
	}
	ext := filepath.Ext(path)
	return ext == ".tmp" || ext == ".swp" || base[0] == '.' || base[0] == '~'
}

// IsWatching returns whether the watcher is currently active.
func (w *Watcher) IsWatching() bool {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.isWatching
}
