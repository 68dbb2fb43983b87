package sandbox

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

const reapInterval = 30 * time.Second

// Reaper destroys sandboxes that have been idle longer than the
// configured timeout. Sandboxes are kept warm after their generation
// finishes so the user can iterate; the reaper is what eventually
// reclaims them.
type Reaper struct {
	provider Provider
	// idleTimeout is read per sweep so policy reloads take effect
	// without a restart. Zero disables reaping for that sweep.
	idleTimeout  func() time.Duration
	logger       *slog.Logger
	mu           sync.Mutex
	running      bool
	stopChan     chan struct{}
	wg           sync.WaitGroup
	shutdownOnce sync.Once
}

// NewReaper creates a reaper. idleTimeout supplies the current idle
// cutoff on each sweep.
func NewReaper(provider Provider, idleTimeout func() time.Duration, logger *slog.Logger) *Reaper {
	return &Reaper{
		provider:    provider,
		idleTimeout: idleTimeout,
		logger:      logger.With("component", "sandbox_reaper"),
		stopChan:    make(chan struct{}),
	}
}

// Start begins the reap loop. Called on application startup.
func (r *Reaper) Start(ctx context.Context) {
	r.mu.Lock()
	if r.running {
		r.mu.Unlock()
		return
	}
	r.running = true
	r.mu.Unlock()

	r.wg.Add(1)
	go r.loop(ctx)
	r.logger.Info("sandbox reaper started", "idle_timeout", r.idleTimeout())
}

// Shutdown gracefully stops the reaper.
func (r *Reaper) Shutdown(ctx context.Context) error {
	var err error
	r.shutdownOnce.Do(func() {
		close(r.stopChan)

		done := make(chan struct{})
		go func() {
			r.wg.Wait()
			close(done)
		}()

		select {
		case <-done:
		case <-ctx.Done():
			err = fmt.Errorf("reaper shutdown timeout exceeded")
		}
	})
	return err
}

func (r *Reaper) loop(ctx context.Context) {
	defer r.wg.Done()

	ticker := time.NewTicker(reapInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-r.stopChan:
			return
		case <-ticker.C:
			r.ReapOnce(ctx)
		}
	}
}

// ReapOnce destroys every sandbox idle past the timeout. Exported so
// tests can drive it without the ticker.
func (r *Reaper) ReapOnce(ctx context.Context) {
	idle := r.idleTimeout()
	if idle <= 0 {
		return
	}
	sandboxes, err := r.provider.List(ctx)
	if err != nil {
		r.logger.Error("failed to list sandboxes", "error", err)
		return
	}
	cutoff := time.Now().Add(-idle)
	for _, sb := range sandboxes {
		if sb.Status == StatusDestroyed || sb.LastActiveAt.After(cutoff) {
			continue
		}
		if err := r.provider.Destroy(ctx, sb.ID); err != nil {
			r.logger.Error("failed to reap idle sandbox", "sandbox_id", sb.ID, "error", err)
			continue
		}
		r.logger.Info("reaped idle sandbox",
			"sandbox_id", sb.ID,
			"project_id", sb.ProjectID,
			"idle_for", time.Since(sb.LastActiveAt).Round(time.Second))
	}
}
