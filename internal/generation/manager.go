package generation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/liveforge-dev/liveforge/internal/events"
	"github.com/liveforge-dev/liveforge/internal/model"
	"github.com/liveforge-dev/liveforge/internal/sandbox"
	"github.com/liveforge-dev/liveforge/internal/store"
)

// ErrClosed is returned by Start after the manager has shut down.
var ErrClosed = errors.New("generation manager is closed")

// Snapshot is the UI-facing view of a generation published on every
// progress change.
type Snapshot struct {
	GenerationID string       `json:"generationId"`
	SandboxID    string       `json:"sandboxId,omitempty"`
	Status       string       `json:"status"`
	Reason       string       `json:"reason,omitempty"`
	Cards        []UpdateCard `json:"cards"`
}

// Manager owns the per-session generation state machines. It is an
// explicit, injectable registry: tests build isolated instances and
// Close tears everything down.
type Manager struct {
	store     *store.Store
	provider  sandbox.Provider
	executor  *Executor
	broker    *events.Broker
	logger    *slog.Logger
	queueSize func() int

	mu     sync.Mutex
	runs   map[string]*Run
	closed bool
	wg     sync.WaitGroup
}

// NewManager wires a generation manager. queueSize supplies the
// current bounded-queue capacity for new runs.
func NewManager(st *store.Store, provider sandbox.Provider, executor *Executor, broker *events.Broker, queueSize func() int, logger *slog.Logger) *Manager {
	return &Manager{
		store:     st,
		provider:  provider,
		executor:  executor,
		broker:    broker,
		logger:    logger.With("component", "generation_manager"),
		queueSize: queueSize,
		runs:      make(map[string]*Run),
	}
}

// Run is the handle for one in-flight generation. The planner feeds it
// events through Push; the worker goroutine consumes them in order.
type Run struct {
	GenerationID string

	projectID string
	userID    string
	manager   *Manager

	events chan Event
	cancel context.CancelFunc
	done   chan struct{}

	// streamMu orders Push against CloseStream: the channel is only
	// closed while no Push is in flight, so a send can never hit a
	// closed channel.
	streamMu     sync.Mutex
	streamClosed bool

	mu        sync.Mutex
	sandboxID string
	status    string
	reason    string
	artifacts []*Artifact
	byID      map[string]*Artifact
}

// MarkStaleOnStartup reclassifies every persisted generation still
// marked running (or pending) as failed/interrupted: a running
// generation cannot have survived a process restart. Must run once,
// synchronously, before the process accepts new generation requests.
// Returns the number of generations reclassified.
func (m *Manager) MarkStaleOnStartup(ctx context.Context) (int, error) {
	ids, err := m.store.ListRunningGenerations(ctx)
	if err != nil {
		return 0, fmt.Errorf("list stale generations: %w", err)
	}
	marked := 0
	for _, id := range ids {
		m.mu.Lock()
		_, live := m.runs[id]
		m.mu.Unlock()
		if live {
			continue
		}
		if err := m.store.UpdateGenerationStatus(ctx, id, model.GenerationStatusFailed, model.ReasonInterrupted); err != nil {
			return marked, fmt.Errorf("mark generation %s interrupted: %w", id, err)
		}
		m.logger.Warn("marked stale generation as failed", "generation_id", id)
		marked++
	}
	return marked, nil
}

// Start creates a generation record and launches its worker. The
// returned Run accepts the planner's action stream via Push and
// CloseStream.
func (m *Manager) Start(ctx context.Context, projectID, userID string) (*Run, error) {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil, ErrClosed
	}
	m.mu.Unlock()

	generationID, err := m.store.CreateGeneration(ctx, projectID, userID)
	if err != nil {
		return nil, err
	}

	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	r := &Run{
		GenerationID: generationID,
		projectID:    projectID,
		userID:       userID,
		manager:      m,
		events:       make(chan Event, m.queueSize()),
		cancel:       cancel,
		done:         make(chan struct{}),
		status:       model.GenerationStatusPending,
		byID:         make(map[string]*Artifact),
	}

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		cancel()
		return nil, ErrClosed
	}
	m.runs[generationID] = r
	m.wg.Add(1)
	m.mu.Unlock()

	go func() {
		defer m.wg.Done()
		r.loop(runCtx)
	}()

	m.logger.Info("generation started",
		"generation_id", generationID, "project_id", projectID, "user_id", userID)
	return r, nil
}

// Cancel signals cancellation to an in-flight generation after
// verifying the caller owns it. Returns false, not an error, when no
// matching active generation exists or the caller is not the owner.
func (m *Manager) Cancel(ctx context.Context, generationID, userID string) (bool, error) {
	owner, err := m.store.IsOwner(ctx, generationID, userID)
	if err != nil {
		return false, err
	}
	if !owner {
		return false, nil
	}

	m.mu.Lock()
	r, ok := m.runs[generationID]
	m.mu.Unlock()
	if !ok {
		return false, nil
	}

	r.markCancelling()
	r.cancel()
	m.logger.Info("generation cancelled", "generation_id", generationID, "user_id", userID)
	return true, nil
}

// Active returns the number of in-flight generations.
func (m *Manager) Active() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.runs)
}

// Get returns the active run for a generation id, if any.
func (m *Manager) Get(generationID string) (*Run, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.runs[generationID]
	return r, ok
}

// Close cancels all in-flight runs and waits for their workers to
// drain, bounded by ctx.
func (m *Manager) Close(ctx context.Context) error {
	m.mu.Lock()
	m.closed = true
	for _, r := range m.runs {
		r.cancel()
	}
	m.mu.Unlock()

	drained := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(drained)
	}()
	select {
	case <-drained:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("generation manager shutdown timeout exceeded")
	}
}

func (m *Manager) unregister(generationID string) {
	m.mu.Lock()
	delete(m.runs, generationID)
	m.mu.Unlock()
}

// ----------------------------------------------------------------------------
// Run
// ----------------------------------------------------------------------------

// Push appends one planner event to the run's queue. Blocks when the
// queue is full (backpressure) until the manager catches up, ctx ends,
// or the run finishes.
func (r *Run) Push(ctx context.Context, ev Event) error {
	if err := ev.Validate(); err != nil {
		return err
	}
	r.streamMu.Lock()
	defer r.streamMu.Unlock()
	if r.streamClosed {
		return fmt.Errorf("generation %s is no longer accepting actions", r.GenerationID)
	}
	select {
	case r.events <- ev:
		return nil
	case <-r.done:
		return fmt.Errorf("generation %s is no longer accepting actions", r.GenerationID)
	case <-ctx.Done():
		return ctx.Err()
	}
}

// CloseStream marks the end of the planner's output. Idempotent. A
// CloseStream racing a blocked Push waits for that Push to land first;
// end-of-stream must follow every accepted event.
func (r *Run) CloseStream() {
	r.streamMu.Lock()
	defer r.streamMu.Unlock()
	if r.streamClosed {
		return
	}
	r.streamClosed = true
	close(r.events)
}

// Done is closed when the run reaches a terminal status.
func (r *Run) Done() <-chan struct{} {
	return r.done
}

// Snapshot returns the current UI-facing view of the run.
func (r *Run) Snapshot() Snapshot {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.snapshotLocked()
}

// SandboxID returns the sandbox the run executes in, once acquired.
func (r *Run) SandboxID() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.sandboxID
}

func (r *Run) snapshotLocked() Snapshot {
	cards := make([]UpdateCard, 0, len(r.artifacts))
	for _, art := range r.artifacts {
		cards = append(cards, BuildCard(art))
	}
	return Snapshot{
		GenerationID: r.GenerationID,
		SandboxID:    r.sandboxID,
		Status:       r.status,
		Reason:       r.reason,
		Cards:        cards,
	}
}

func (r *Run) markCancelling() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.status == model.GenerationStatusPending || r.status == model.GenerationStatusRunning {
		r.status = model.GenerationStatusCancelled
	}
}

// publish pushes the current snapshot to the run's event topic.
func (r *Run) publish() {
	r.manager.broker.Publish("generation:"+r.GenerationID, r.Snapshot())
}

// loop is the single worker for this generation. All artifact and
// action state mutation happens here; actions within an artifact
// execute strictly in source order because there is exactly one
// consumer of the queue.
func (r *Run) loop(ctx context.Context) {
	m := r.manager
	defer m.unregister(r.GenerationID)
	defer close(r.done)

	sb, err := m.provider.Create(ctx, r.projectID)
	if err != nil {
		reason := fmt.Sprintf("sandbox provisioning failed: %v", err)
		if ctx.Err() != nil {
			r.finish(model.GenerationStatusCancelled, "")
			return
		}
		m.logger.Error("sandbox provisioning failed",
			"generation_id", r.GenerationID, "error", err)
		r.finish(model.GenerationStatusFailed, reason)
		return
	}

	r.mu.Lock()
	r.sandboxID = sb.ID
	r.status = model.GenerationStatusRunning
	r.mu.Unlock()

	if err := m.store.SetGenerationSandbox(ctx, r.GenerationID, sb.ID); err != nil {
		m.logger.Error("failed to record sandbox id", "generation_id", r.GenerationID, "error", err)
	}
	r.persistStatus(model.GenerationStatusRunning, "")
	r.publish()

	for {
		select {
		case <-ctx.Done():
			r.finish(model.GenerationStatusCancelled, "")
			return
		case ev, ok := <-r.events:
			if !ok {
				r.closeRemainingArtifacts()
				r.finish(model.GenerationStatusCompleted, "")
				return
			}
			if fatal := r.handleEvent(ctx, sb, ev); fatal != nil {
				if ctx.Err() != nil {
					r.finish(model.GenerationStatusCancelled, "")
					return
				}
				r.finish(model.GenerationStatusFailed, fatal.Error())
				return
			}
		}
	}
}

// handleEvent applies one planner event: appending and executing an
// action, or closing an artifact. Returns a non-nil error only for
// generation-fatal failures.
func (r *Run) handleEvent(ctx context.Context, sb *sandbox.Sandbox, ev Event) error {
	r.mu.Lock()
	art, ok := r.byID[ev.ArtifactID]
	if !ok {
		art = &Artifact{ID: ev.ArtifactID, Title: ev.Title, Status: ArtifactStreaming}
		r.byID[ev.ArtifactID] = art
		r.artifacts = append(r.artifacts, art)
	}
	if ev.Title != "" && art.Title == "" {
		art.Title = ev.Title
	}

	if art.Closed {
		// Close marks that no further actions follow for this artifact.
		// A planner that keeps streaming against it is misbehaving; drop
		// the event rather than reopen the artifact.
		r.mu.Unlock()
		if !ev.Close {
			r.manager.logger.Warn("dropping action for closed artifact",
				"generation_id", r.GenerationID, "artifact_id", ev.ArtifactID)
		}
		return nil
	}

	if ev.Close {
		art.Closed = true
		r.finalizeArtifactLocked(art)
		r.mu.Unlock()

		// Artifact boundary: refresh the persisted record here rather
		// than per action, to bound write amplification.
		r.persistStatus(model.GenerationStatusRunning, "")
		r.publish()
		return nil
	}

	state := &ActionState{Action: *ev.Action, Status: ActionPending}
	art.Actions = append(art.Actions, state)
	art.CurrentActionIndex = len(art.Actions) - 1
	art.Status = ArtifactExecuting
	state.Status = ActionRunning
	r.mu.Unlock()
	r.publish()

	outcome := r.manager.executor.Execute(ctx, sb, *ev.Action)

	r.mu.Lock()
	state.Status = outcome.Status
	state.Output = outcome.Output
	state.Error = outcome.Error
	if outcome.FileCreated {
		art.FilesCreated++
	}
	if outcome.FileModified {
		art.FilesModified++
		if art.PreviousFiles == nil {
			art.PreviousFiles = make(map[string]string)
		}
		if _, seen := art.PreviousFiles[ev.Action.FilePath]; !seen && outcome.PreviousContent != nil {
			art.PreviousFiles[ev.Action.FilePath] = *outcome.PreviousContent
		}
	}
	if state.Status == ActionError {
		art.Status = ArtifactError
	}
	r.mu.Unlock()
	r.publish()

	return outcome.Fatal
}

// finalizeArtifactLocked settles an artifact's terminal status once it
// is closed. Caller holds r.mu.
func (r *Run) finalizeArtifactLocked(art *Artifact) {
	if art.Status == ArtifactError {
		return
	}
	for _, state := range art.Actions {
		if state.Status == ActionError {
			art.Status = ArtifactError
			return
		}
	}
	art.Status = ArtifactCompleted
}

// closeRemainingArtifacts settles artifacts the planner never closed
// explicitly before the stream ended.
func (r *Run) closeRemainingArtifacts() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, art := range r.artifacts {
		if !art.Closed {
			art.Closed = true
			r.finalizeArtifactLocked(art)
		}
	}
}

// finish records the terminal status in memory and in the store, then
// publishes the final snapshot. The sandbox is deliberately left
// running: it stays warm for iterative edits and the idle reaper
// destroys it later.
func (r *Run) finish(status, reason string) {
	r.mu.Lock()
	// A cancel that raced the natural end of the stream keeps the
	// cancelled status.
	if r.status == model.GenerationStatusCancelled && status == model.GenerationStatusCompleted {
		status = model.GenerationStatusCancelled
	}
	r.status = status
	r.reason = reason
	r.mu.Unlock()

	r.persistStatus(status, reason)
	r.publish()
	r.manager.logger.Info("generation finished",
		"generation_id", r.GenerationID, "status", status, "reason", reason)
}

func (r *Run) persistStatus(status, reason string) {
	// Persistence must survive run-context cancellation.
	ctx := context.Background()
	if err := r.manager.store.UpdateGenerationStatus(ctx, r.GenerationID, status, reason); err != nil {
		r.manager.logger.Error("failed to persist generation status",
			"generation_id", r.GenerationID, "status", status, "error", err)
	}
}
