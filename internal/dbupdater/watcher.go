// ABOUTME: Rule file watcher that reloads signatures when a local rule file changes
// ABOUTME: Watches parent directories so editor rename-and-replace saves are seen

package dbupdater

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// DefaultWatchDebounce collapses bursts of writes into one reload.
const DefaultWatchDebounce = 500 * time.Millisecond

// RuleWatcherConfig configures the rule file watcher.
type RuleWatcherConfig struct {
	// Paths are the rule files to watch.
	Paths []string

	// Debounce is the quiet period after the last event. Zero means
	// DefaultWatchDebounce.
	Debounce time.Duration

	// OnChange runs on the watcher goroutine, one call at a time.
	OnChange func(ctx context.Context)

	Logger *slog.Logger
}

// RuleWatcher calls OnChange after any watched file is written, created,
// renamed or removed.
type RuleWatcher struct {
	config  RuleWatcherConfig
	logger  *slog.Logger
	watcher *fsnotify.Watcher
	files   map[string]struct{}

	stopOnce sync.Once
	stopCh   chan struct{}
	wg       sync.WaitGroup
}

// NewRuleWatcher creates a watcher for cfg.Paths. Call Start to begin.
func NewRuleWatcher(cfg RuleWatcherConfig) (*RuleWatcher, error) {
	if len(cfg.Paths) == 0 {
		return nil, errors.New("no rule files to watch")
	}
	if cfg.OnChange == nil {
		return nil, errors.New("OnChange is required")
	}
	if cfg.Debounce <= 0 {
		cfg.Debounce = DefaultWatchDebounce
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("creating file watcher: %w", err)
	}

	files := make(map[string]struct{}, len(cfg.Paths))
	dirs := make(map[string]struct{})
	for _, p := range cfg.Paths {
		abs, err := filepath.Abs(p)
		if err != nil {
			_ = fw.Close()
			return nil, fmt.Errorf("resolving %s: %w", p, err)
		}
		files[abs] = struct{}{}
		dirs[filepath.Dir(abs)] = struct{}{}
	}
	for dir := range dirs {
		if err := fw.Add(dir); err != nil {
			_ = fw.Close()
			return nil, fmt.Errorf("watching %s: %w", dir, err)
		}
	}

	return &RuleWatcher{
		config:  cfg,
		logger:  cfg.Logger.With(slog.String("component", "rule_watcher")),
		watcher: fw,
		files:   files,
		stopCh:  make(chan struct{}),
	}, nil
}

// Start launches the event loop.
func (w *RuleWatcher) Start(ctx context.Context) {
	w.wg.Add(1)
	go w.loop(ctx)
	w.logger.Info("watching rule files", slog.Int("files", len(w.files)))
}

// Stop ends the event loop and releases the watcher.
func (w *RuleWatcher) Stop() {
	w.stopOnce.Do(func() {
		close(w.stopCh)
		w.wg.Wait()
		_ = w.watcher.Close()
	})
}

func (w *RuleWatcher) loop(ctx context.Context) {
	defer w.wg.Done()

	var (
		timer *time.Timer
		fire  <-chan time.Time
	)
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case <-w.stopCh:
			return
		case ev, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if !w.relevant(ev) {
				continue
			}
			w.logger.Debug("rule file changed",
				slog.String("path", ev.Name),
				slog.String("op", ev.Op.String()),
			)
			if timer == nil {
				timer = time.NewTimer(w.config.Debounce)
			} else {
				timer.Reset(w.config.Debounce)
			}
			fire = timer.C
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Warn("file watcher error", slog.Any("error", err))
		case <-fire:
			fire = nil
			w.config.OnChange(ctx)
		}
	}
}

func (w *RuleWatcher) relevant(ev fsnotify.Event) bool {
	if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) &&
		!ev.Has(fsnotify.Rename) && !ev.Has(fsnotify.Remove) {
		return false
	}
	abs, err := filepath.Abs(ev.Name)
	if err != nil {
		return false
	}
	_, ok := w.files[abs]
	return ok
}
