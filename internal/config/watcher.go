package config

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// ReloadFunc rebuilds whatever a watched path feeds.
type ReloadFunc func() error

type watchTarget struct {
	name    string
	dir     string
	file    string // empty when the whole directory is watched
	handler ReloadFunc
}

// DirWatcher triggers debounced reloads when watched template, component or
// catalog files change.
type DirWatcher struct {
	watcher  *fsnotify.Watcher
	debounce time.Duration
	logger   *zap.Logger

	mu      sync.Mutex
	targets []watchTarget
	timers  map[int]*time.Timer
	started bool
	stopCh  chan struct{}
	wg      sync.WaitGroup
}

// NewDirWatcher creates a watcher. Events for a target within debounce of
// each other collapse into one reload.
func NewDirWatcher(debounce time.Duration, logger *zap.Logger) (*DirWatcher, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if debounce <= 0 {
		debounce = 250 * time.Millisecond
	}
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create file watcher: %w", err)
	}
	return &DirWatcher{
		watcher:  w,
		debounce: debounce,
		logger:   logger,
		timers:   make(map[int]*time.Timer),
		stopCh:   make(chan struct{}),
	}, nil
}

// Watch registers handler for path, which may be a directory or a single file.
// Directories are watched recursively, including subdirectories created later.
func (dw *DirWatcher) Watch(name, path string, handler ReloadFunc) error {
	info, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("watch %s: %w", name, err)
	}

	target := watchTarget{name: name, handler: handler}
	abs, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("watch %s: %w", name, err)
	}
	if info.IsDir() {
		target.dir = abs
	} else {
		target.dir = filepath.Dir(abs)
		target.file = filepath.Base(abs)
	}

	if target.file == "" {
		err = dw.addTree(target.dir)
	} else {
		err = dw.watcher.Add(target.dir)
	}
	if err != nil {
		return fmt.Errorf("failed to watch %s: %w", target.dir, err)
	}

	dw.mu.Lock()
	dw.targets = append(dw.targets, target)
	dw.mu.Unlock()

	dw.logger.Info("Watching for changes",
		zap.String("name", name),
		zap.String("path", abs),
	)
	return nil
}

// Start begins processing events.
func (dw *DirWatcher) Start() {
	dw.mu.Lock()
	defer dw.mu.Unlock()
	if dw.started {
		return
	}
	dw.started = true
	dw.wg.Add(1)
	go dw.watchLoop()
}

// Stop stops the watcher and cancels pending reloads.
func (dw *DirWatcher) Stop() error {
	dw.mu.Lock()
	if !dw.started {
		dw.mu.Unlock()
		return dw.watcher.Close()
	}
	dw.started = false
	close(dw.stopCh)
	for _, t := range dw.timers {
		t.Stop()
	}
	dw.mu.Unlock()

	err := dw.watcher.Close()
	dw.wg.Wait()
	return err
}

func (dw *DirWatcher) watchLoop() {
	defer dw.wg.Done()
	defer func() {
		if r := recover(); r != nil {
			dw.logger.Error("Watch loop panicked", zap.Any("panic", r))
		}
	}()

	for {
		select {
		case <-dw.stopCh:
			return
		case event, ok := <-dw.watcher.Events:
			if !ok {
				return
			}
			dw.handleEvent(event)
		case err, ok := <-dw.watcher.Errors:
			if !ok {
				return
			}
			dw.logger.Error("File watcher error", zap.Error(err))
		}
	}
}

// addTree watches root and every directory below it.
func (dw *DirWatcher) addTree(root string) error {
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			return nil
		}
		return dw.watcher.Add(path)
	})
}

func (dw *DirWatcher) handleEvent(event fsnotify.Event) {
	if event.Op == fsnotify.Chmod {
		return
	}
	if event.Has(fsnotify.Create) {
		if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
			dw.handleNewDir(event.Name)
			return
		}
	}
	if !isWatchedFile(event.Name) {
		return
	}

	dir := filepath.Dir(event.Name)
	base := filepath.Base(event.Name)

	dw.mu.Lock()
	defer dw.mu.Unlock()
	if !dw.started {
		return
	}

	for i, t := range dw.targets {
		if !t.covers(dir, base) {
			continue
		}
		dw.logger.Debug("File system event",
			zap.String("name", t.name),
			zap.String("file", base),
			zap.String("op", event.Op.String()),
		)
		dw.schedule(i)
	}
}

// handleNewDir starts watching a directory created under a recursive target
// and reloads that target, since files may have landed before the watch.
func (dw *DirWatcher) handleNewDir(path string) {
	dw.mu.Lock()
	defer dw.mu.Unlock()
	if !dw.started {
		return
	}

	for i, t := range dw.targets {
		if t.file != "" || !t.covers(filepath.Dir(path), "") {
			continue
		}
		if err := dw.addTree(path); err != nil {
			dw.logger.Warn("Failed to watch new directory",
				zap.String("name", t.name),
				zap.String("path", path),
				zap.Error(err),
			)
		}
		dw.schedule(i)
	}
}

// covers reports whether a file named base in dir belongs to the target.
func (t watchTarget) covers(dir, base string) bool {
	if t.file != "" {
		return dir == t.dir && base == t.file
	}
	return dir == t.dir || strings.HasPrefix(dir, t.dir+string(filepath.Separator))
}

// schedule must be called with dw.mu held.
func (dw *DirWatcher) schedule(i int) {
	if timer, ok := dw.timers[i]; ok {
		timer.Reset(dw.debounce)
		return
	}
	target := dw.targets[i]
	dw.timers[i] = time.AfterFunc(dw.debounce, func() {
		dw.mu.Lock()
		delete(dw.timers, i)
		running := dw.started
		dw.mu.Unlock()
		if !running {
			return
		}

		if err := target.handler(); err != nil {
			dw.logger.Error("Reload failed, keeping previous state",
				zap.String("name", target.name),
				zap.Error(err),
			)
			return
		}
		dw.logger.Info("Reloaded", zap.String("name", target.name))
	})
}

func isWatchedFile(name string) bool {
	switch filepath.Ext(name) {
	case ".yaml", ".yml", ".md", ".json":
		return true
	}
	return false
}
