package config

import (
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Watcher watches the policy file for changes.
type Watcher struct {
	policyPath string
	watcher    *fsnotify.Watcher
	onChange   func(*Policy)
	logger     *slog.Logger
	stop       chan struct{}
	wg         sync.WaitGroup
}

// NewWatcher creates a new policy file watcher.
func NewWatcher(policyPath string, logger *slog.Logger, onChange func(*Policy)) *Watcher {
	return &Watcher{
		policyPath: policyPath,
		onChange:   onChange,
		logger:     logger.With("component", "policy_watcher"),
		stop:       make(chan struct{}),
	}
}

// Start begins watching the policy file.
func (w *Watcher) Start() error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	w.watcher = watcher

	// Watch the directory to handle editors that rename files
	dir := filepath.Dir(w.policyPath)
	if err := watcher.Add(dir); err != nil {
		_ = watcher.Close()
		return err
	}

	w.wg.Add(1)
	go w.loop()

	return nil
}

// Stop stops watching the policy file.
func (w *Watcher) Stop() {
	close(w.stop)
	w.wg.Wait()
	if w.watcher != nil {
		_ = w.watcher.Close()
	}
}

func (w *Watcher) loop() {
	defer w.wg.Done()

	var debounceTimer *time.Timer
	var debounceCh <-chan time.Time

	policyFileName := filepath.Base(w.policyPath)

	for {
		select {
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}

			if filepath.Base(event.Name) != policyFileName {
				continue
			}

			// Only trigger on write or create (editors may delete and recreate)
			if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}

			// Debounce rapid changes (editors often write multiple times)
			if debounceTimer != nil {
				debounceTimer.Stop()
			}
			debounceTimer = time.NewTimer(100 * time.Millisecond)
			debounceCh = debounceTimer.C

		case <-debounceCh:
			debounceCh = nil
			debounceTimer = nil

			pol, err := LoadPolicy(w.policyPath)
			if err != nil {
				w.logger.Error("policy reload failed", "error", err)
				continue
			}
			w.logger.Info("policy reloaded", "path", w.policyPath)
			w.onChange(pol)

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Error("policy watcher error", "error", err)

		case <-w.stop:
			if debounceTimer != nil {
				debounceTimer.Stop()
			}
			return
		}
	}
}
