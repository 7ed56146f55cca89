package config

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"

	"github.com/virtuaplant/virtuaplant/pkg/attack"
)

// DefaultReloadDelay debounces bursts of file events into one reload.
const DefaultReloadDelay = 500 * time.Millisecond

// ApplyFunc installs a freshly loaded scenario list.
type ApplyFunc func([]attack.Scenario) error

// ScenarioWatcher loads the scenario scripts of a directory and reloads them
// when they change. A reload that fails leaves the previously applied
// scenarios in place.
type ScenarioWatcher struct {
	loader *ScriptLoader
	dir    string
	apply  ApplyFunc
	delay  time.Duration
	logger zerolog.Logger

	mu      sync.Mutex
	watcher *fsnotify.Watcher
	done    chan struct{}
}

// NewScenarioWatcher creates a watcher for dir. A zero delay uses
// DefaultReloadDelay.
func NewScenarioWatcher(loader *ScriptLoader, dir string, delay time.Duration, apply ApplyFunc, logger zerolog.Logger) *ScenarioWatcher {
	if delay <= 0 {
		delay = DefaultReloadDelay
	}
	return &ScenarioWatcher{
		loader: loader,
		dir:    dir,
		apply:  apply,
		delay:  delay,
		logger: logger.With().Str("component", "scenario-watcher").Str("dir", dir).Logger(),
	}
}

// Reload loads the directory once and applies the result.
func (w *ScenarioWatcher) Reload(ctx context.Context) error {
	list, err := w.loader.LoadDir(ctx, w.dir)
	if err != nil {
		return err
	}
	if err := w.apply(list); err != nil {
		return fmt.Errorf("failed to apply scenarios: %w", err)
	}
	w.logger.Info().Int("scenarios", len(list)).Msg("Scenarios loaded")
	return nil
}

// Start performs the initial load and then watches the directory until ctx
// ends or Close is called. An initial load failure is returned.
func (w *ScenarioWatcher) Start(ctx context.Context) error {
	if err := w.Reload(ctx); err != nil {
		return err
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}
	if err := watcher.Add(w.dir); err != nil {
		_ = watcher.Close()
		return fmt.Errorf("failed to watch %s: %w", w.dir, err)
	}

	w.mu.Lock()
	w.watcher = watcher
	w.done = make(chan struct{})
	w.mu.Unlock()

	go w.processEvents(ctx, watcher, w.done)

	w.logger.Info().Msg("Started watching scenario scripts")
	return nil
}

// processEvents processes file system events and triggers reloads.
func (w *ScenarioWatcher) processEvents(ctx context.Context, watcher *fsnotify.Watcher, done chan struct{}) {
	defer close(done)

	var (
		timer   *time.Timer
		pending <-chan time.Time
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

		case event, ok := <-watcher.Events:
			if !ok {
				return
			}
			if filepath.Ext(event.Name) != ScenarioExt {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) &&
				!event.Has(fsnotify.Remove) && !event.Has(fsnotify.Rename) {
				continue
			}

			w.logger.Debug().
				Str("file", event.Name).
				Str("op", event.Op.String()).
				Msg("Scenario script changed")

			if timer == nil {
				timer = time.NewTimer(w.delay)
			} else {
				timer.Reset(w.delay)
			}
			pending = timer.C

		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			w.logger.Error().Err(err).Msg("Watcher error")

		case <-pending:
			pending = nil
			if err := w.Reload(ctx); err != nil {
				w.logger.Error().Err(err).Msg("Scenario reload failed, keeping previous scenarios")
			}
		}
	}
}

// Close stops watching and waits for the event loop to exit.
func (w *ScenarioWatcher) Close() error {
	w.mu.Lock()
	watcher, done := w.watcher, w.done
	w.watcher = nil
	w.mu.Unlock()

	if watcher == nil {
		return nil
	}
	err := watcher.Close()
	<-done
	return err
}
