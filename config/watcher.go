// 配置文件变更监听器实现。
//
// 基于 fsnotify 监听配置文件所在目录，防抖后触发配置重载回调。
package config

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// ErrWatcherRunning 由重复的 Start 返回
var ErrWatcherRunning = errors.New("watcher already running")

// --- 文件监听器类型定义 ---

// FileWatcher watches configuration files for changes. It watches the
// parent directories so editors that replace the file by rename are seen.
type FileWatcher struct {
	mu sync.RWMutex

	paths         []string
	debounceDelay time.Duration

	running bool
	watcher *fsnotify.Watcher
	cancel  context.CancelFunc
	done    chan struct{}

	callbacks []func(event FileEvent)
	logger    *zap.Logger
}

// FileEvent represents a file change event
type FileEvent struct {
	Path      string    `json:"path"`
	Op        FileOp    `json:"op"`
	Timestamp time.Time `json:"timestamp"`
}

// FileOp represents file operation types
type FileOp int

const (
	FileOpCreate FileOp = iota
	FileOpWrite
	FileOpRemove
	FileOpRename
	FileOpChmod
)

// String returns the string representation of FileOp
func (op FileOp) String() string {
	switch op {
	case FileOpCreate:
		return "CREATE"
	case FileOpWrite:
		return "WRITE"
	case FileOpRemove:
		return "REMOVE"
	case FileOpRename:
		return "RENAME"
	case FileOpChmod:
		return "CHMOD"
	default:
		return "UNKNOWN"
	}
}

func fileOpFrom(op fsnotify.Op) FileOp {
	switch {
	case op.Has(fsnotify.Create):
		return FileOpCreate
	case op.Has(fsnotify.Write):
		return FileOpWrite
	case op.Has(fsnotify.Remove):
		return FileOpRemove
	case op.Has(fsnotify.Rename):
		return FileOpRename
	default:
		return FileOpChmod
	}
}

// --- 文件监听器选项 ---

// WatcherOption configures the FileWatcher
type WatcherOption func(*FileWatcher)

// WithDebounceDelay sets the debounce delay for file events
func WithDebounceDelay(d time.Duration) WatcherOption {
	return func(w *FileWatcher) {
		if d > 0 {
			w.debounceDelay = d
		}
	}
}

// WithWatcherLogger sets the logger for the watcher
func WithWatcherLogger(logger *zap.Logger) WatcherOption {
	return func(w *FileWatcher) {
		if logger != nil {
			w.logger = logger
		}
	}
}

// --- 文件监听器实现 ---

// NewFileWatcher creates a new file watcher. Missing files are allowed and
// reported with FileOpCreate once they appear.
func NewFileWatcher(paths []string, opts ...WatcherOption) (*FileWatcher, error) {
	w := &FileWatcher{
		debounceDelay: 100 * time.Millisecond,
		logger:        zap.NewNop(),
	}
	for _, opt := range opts {
		opt(w)
	}
	w.logger = w.logger.With(zap.String("component", "config_watcher"))

	for _, path := range paths {
		abs, err := filepath.Abs(path)
		if err != nil {
			return nil, fmt.Errorf("failed to resolve path %s: %w", path, err)
		}
		if _, err := os.Stat(abs); err != nil {
			if !os.IsNotExist(err) {
				return nil, fmt.Errorf("failed to stat path %s: %w", path, err)
			}
			w.logger.Warn("config file does not exist, will watch for creation", zap.String("path", abs))
		}
		if !slices.Contains(w.paths, abs) {
			w.paths = append(w.paths, abs)
		}
	}
	return w, nil
}

// OnChange registers a callback for file change events
func (w *FileWatcher) OnChange(callback func(FileEvent)) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.callbacks = append(w.callbacks, callback)
}

// Start begins watching until ctx is done or Stop is called.
func (w *FileWatcher) Start(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.running {
		return ErrWatcherRunning
	}

	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create fsnotify watcher: %w", err)
	}
	for _, dir := range w.dirsLocked() {
		if err := fw.Add(dir); err != nil {
			_ = fw.Close()
			return fmt.Errorf("watch %s: %w", dir, err)
		}
	}

	ctx, cancel := context.WithCancel(ctx)
	w.watcher = fw
	w.cancel = cancel
	w.done = make(chan struct{})
	w.running = true
	go w.loop(ctx, fw, w.done)

	w.logger.Info("file watcher started",
		zap.Strings("paths", w.paths),
		zap.Duration("debounce_delay", w.debounceDelay))
	return nil
}

// Stop stops the file watcher and waits for the event loop to exit.
func (w *FileWatcher) Stop() error {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return nil
	}
	w.running = false
	cancel, done, fw := w.cancel, w.done, w.watcher
	w.mu.Unlock()

	cancel()
	<-done
	w.logger.Info("file watcher stopped")
	return fw.Close()
}

func (w *FileWatcher) dirsLocked() []string {
	var dirs []string
	for _, p := range w.paths {
		d := filepath.Dir(p)
		if !slices.Contains(dirs, d) {
			dirs = append(dirs, d)
		}
	}
	return dirs
}

func (w *FileWatcher) watches(path string) bool {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return slices.Contains(w.paths, path)
}

// loop collects events per path and dispatches them after debounceDelay of
// quiet.
func (w *FileWatcher) loop(ctx context.Context, fw *fsnotify.Watcher, done chan struct{}) {
	defer close(done)

	pending := make(map[string]FileEvent)
	timer := time.NewTimer(time.Hour)
	timer.Stop()
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return

		case ev, ok := <-fw.Events:
			if !ok {
				return
			}
			path := filepath.Clean(ev.Name)
			if !w.watches(path) {
				continue
			}
			pending[path] = FileEvent{Path: path, Op: fileOpFrom(ev.Op), Timestamp: time.Now()}
			timer.Reset(w.debounceDelay)

		case err, ok := <-fw.Errors:
			if !ok {
				return
			}
			w.logger.Warn("file watcher error", zap.Error(err))

		case <-timer.C:
			w.mu.RLock()
			callbacks := slices.Clone(w.callbacks)
			w.mu.RUnlock()

			for _, evt := range pending {
				w.logger.Debug("dispatching file event",
					zap.String("path", evt.Path),
					zap.String("op", evt.Op.String()))
				for _, cb := range callbacks {
					cb(evt)
				}
			}
			clear(pending)
		}
	}
}

// AddPath adds a new path to watch
func (w *FileWatcher) AddPath(path string) error {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("failed to resolve path: %w", err)
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	if slices.Contains(w.paths, absPath) {
		return nil
	}
	w.paths = append(w.paths, absPath)
	if w.running {
		if err := w.watcher.Add(filepath.Dir(absPath)); err != nil {
			return fmt.Errorf("watch %s: %w", absPath, err)
		}
	}
	w.logger.Info("added path to watcher", zap.String("path", absPath))
	return nil
}

// RemovePath removes a path from watching. The directory stays watched.
func (w *FileWatcher) RemovePath(path string) error {
	absPath, _ := filepath.Abs(path)

	w.mu.Lock()
	defer w.mu.Unlock()
	i := slices.Index(w.paths, absPath)
	if i < 0 {
		return fmt.Errorf("path not found: %s", path)
	}
	w.paths = slices.Delete(w.paths, i, i+1)
	w.logger.Info("removed path from watcher", zap.String("path", absPath))
	return nil
}

// Paths returns the list of watched paths
func (w *FileWatcher) Paths() []string {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return slices.Clone(w.paths)
}

// IsRunning returns whether the watcher is running
func (w *FileWatcher) IsRunning() bool {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.running
}
