package config

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// DefaultReloadDebounce coalesces the burst of events editors emit on save.
const DefaultReloadDebounce = 250 * time.Millisecond

// Watcher reloads the configuration when the user or project config file
// changes. Directories are watched rather than files so that editors that
// save by rename are still seen.
type Watcher struct {
	projectDir string
	fsw        *fsnotify.Watcher
	files      map[string]struct{}
	debounce   time.Duration
	onChange   func(*Config)
	logger     *slog.Logger

	mu     sync.Mutex
	timer  *time.Timer
	closed bool
}

// WatcherOption configures a Watcher.
type WatcherOption func(*Watcher)

// WithReloadDebounce sets the quiet period before a reload.
func WithReloadDebounce(d time.Duration) WatcherOption {
	return func(w *Watcher) {
		if d > 0 {
			w.debounce = d
		}
	}
}

// WithWatcherLogger sets the logger for reload outcomes.
func WithWatcherLogger(l *slog.Logger) WatcherOption {
	return func(w *Watcher) {
		if l != nil {
			w.logger = l
		}
	}
}

// NewWatcher watches the config files that Load(projectDir) reads. onChange
// receives each successfully loaded and validated configuration; invalid
// edits are logged and skipped.
func NewWatcher(projectDir string, onChange func(*Config), opts ...WatcherOption) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create config watcher: %w", err)
	}

	w := &Watcher{
		projectDir: projectDir,
		fsw:        fsw,
		files:      make(map[string]struct{}),
		debounce:   DefaultReloadDebounce,
		onChange:   onChange,
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(w)
	}

	watched := 0
	userPath := GetUserConfigPath()
	candidates := []string{userPath}
	if projectDir != "" {
		candidates = append(candidates,
			filepath.Join(projectDir, ProjectConfigName),
			filepath.Join(projectDir, ProjectConfigAltName))
	}
	dirs := make(map[string]struct{})
	for _, p := range candidates {
		abs, err := filepath.Abs(p)
		if err != nil {
			continue
		}
		w.files[abs] = struct{}{}
		dir := filepath.Dir(abs)
		if _, ok := dirs[dir]; ok || !dirExists(dir) {
			continue
		}
		if err := fsw.Add(dir); err != nil {
			w.logger.Warn("config_watch_failed", slog.String("dir", dir), slog.String("error", err.Error()))
			continue
		}
		dirs[dir] = struct{}{}
		watched++
	}
	if watched == 0 {
		_ = fsw.Close()
		return nil, fmt.Errorf("no config directory to watch")
	}
	return w, nil
}

// Run dispatches file events until ctx is done or the watcher is closed.
func (w *Watcher) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			_ = w.Close()
			return ctx.Err()
		case event, ok := <-w.fsw.Events:
			if !ok {
				return nil
			}
			w.handle(event)
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return nil
			}
			w.logger.Warn("config_watch_error", slog.String("error", err.Error()))
		}
	}
}

func (w *Watcher) handle(event fsnotify.Event) {
	abs, err := filepath.Abs(event.Name)
	if err != nil {
		return
	}
	if _, ok := w.files[abs]; !ok {
		return
	}
	if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) &&
		!event.Has(fsnotify.Rename) && !event.Has(fsnotify.Remove) {
		return
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return
	}
	if w.timer != nil {
		w.timer.Stop()
	}
	w.timer = time.AfterFunc(w.debounce, w.reload)
}

func (w *Watcher) reload() {
	w.mu.Lock()
	closed := w.closed
	w.mu.Unlock()
	if closed {
		return
	}

	cfg, err := Load(w.projectDir)
	if err != nil {
		w.logger.Warn("config_reload_failed", slog.String("error", err.Error()))
		return
	}
	w.logger.Info("config_reloaded", slog.String("project_dir", w.projectDir))
	if w.onChange != nil {
		w.onChange(cfg)
	}
}

// Close stops watching. It is safe to call more than once.
func (w *Watcher) Close() error {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return nil
	}
	w.closed = true
	if w.timer != nil {
		w.timer.Stop()
	}
	w.mu.Unlock()
	return w.fsw.Close()
}
