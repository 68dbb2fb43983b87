package generation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/liveforge-dev/liveforge/internal/filetree"
	"github.com/liveforge-dev/liveforge/internal/sandbox"
)

// Outcome is the result of executing one action. The manager applies
// it to the ActionState and artifact counters under its own lock, so
// the executor never touches shared state mid-flight.
type Outcome struct {
	Status ActionStatus
	Output string
	Error  string

	// File-action bookkeeping.
	FileCreated  bool
	FileModified bool
	// PreviousContent is the prior content of a modified file, for
	// diffing. Nil unless FileModified.
	PreviousContent *string

	// Fatal is non-nil when the failure aborts the whole generation:
	// cancellation or an unreachable runtime. Action-level failures are
	// reported through Status/Error instead.
	Fatal error
}

// Executor interprets one action at a time against a sandbox.
type Executor struct {
	provider sandbox.Provider
	tree     *filetree.Synchronizer
	logger   *slog.Logger

	// execTimeout is read per call so policy reloads take effect on the
	// next action.
	execTimeout func() time.Duration
}

// NewExecutor creates an executor. execTimeout supplies the current
// shell timeout bound.
func NewExecutor(provider sandbox.Provider, tree *filetree.Synchronizer, execTimeout func() time.Duration, logger *slog.Logger) *Executor {
	return &Executor{
		provider:    provider,
		tree:        tree,
		logger:      logger.With("component", "action_executor"),
		execTimeout: execTimeout,
	}
}

// Execute runs one action against the sandbox and returns its outcome.
func (e *Executor) Execute(ctx context.Context, sb *sandbox.Sandbox, action Action) Outcome {
	e.provider.Touch(sb.ID)

	var out Outcome
	switch action.Type {
	case ActionFile:
		out = e.executeFile(ctx, sb, action)
	case ActionShell:
		out = e.executeShell(ctx, sb, action)
	case ActionStart:
		out = e.executeStart(ctx, sb, action)
	default:
		return Outcome{Status: ActionError, Error: fmt.Sprintf("unknown action type %q", action.Type)}
	}

	if out.Fatal == nil {
		return out
	}
	// Normalize fatal outcomes: cancellation and substrate failure both
	// leave the action in error state.
	out.Status = ActionError
	if ctx.Err() != nil {
		out.Fatal = ctx.Err()
		out.Error = "cancelled"
	} else {
		out.Error = out.Fatal.Error()
	}
	return out
}

func (e *Executor) executeFile(ctx context.Context, sb *sandbox.Sandbox, action Action) Outcome {
	path := action.FilePath

	prior, readErr := e.provider.ReadFile(ctx, sb.ContainerID, path)
	existed := readErr == nil
	if readErr != nil && !sandbox.IsNotFound(readErr) {
		return fatalOrActionError(readErr)
	}

	if err := e.provider.WriteFile(ctx, sb.ContainerID, path, []byte(action.Content)); err != nil {
		return fatalOrActionError(err)
	}

	out := Outcome{Status: ActionCompleted}
	if existed && string(prior) != action.Content {
		out.FileModified = true
		priorStr := string(prior)
		out.PreviousContent = &priorStr
	} else {
		out.FileCreated = true
	}

	e.tree.RecordWrite(sb.ID, path, string(prior), existed)
	e.tree.Invalidate(sb.ID)

	e.logger.Debug("file written", "sandbox_id", sb.ID, "path", path, "existed", existed)
	return out
}

func (e *Executor) executeShell(ctx context.Context, sb *sandbox.Sandbox, action Action) Outcome {
	res, err := e.provider.Exec(ctx, sb.ContainerID, action.Command,
		sandbox.ExecOptions{Timeout: e.execTimeout()})

	var out Outcome
	if res != nil {
		out.Output = res.Stdout
	}
	switch {
	case err == nil:
	case sandbox.IsTimedOut(err):
		out.Status = ActionError
		out.Error = err.Error()
		return out
	default:
		fatal := fatalOrActionError(err)
		fatal.Output = out.Output
		return fatal
	}

	if res.ExitCode != 0 {
		out.Status = ActionError
		out.Error = strings.TrimSpace(res.Stderr)
		if out.Error == "" {
			out.Error = fmt.Sprintf("command exited with code %d", res.ExitCode)
		}
		return out
	}
	out.Status = ActionCompleted
	return out
}

func (e *Executor) executeStart(ctx context.Context, sb *sandbox.Sandbox, action Action) Outcome {
	res, err := e.provider.StartDetached(ctx, sb.ContainerID, action.Command)
	if err != nil {
		return fatalOrActionError(err)
	}
	// Launching succeeded; missing readiness is only a UI signal.
	if !res.Ready {
		e.logger.Info("dev server launched but preview port not observed",
			"sandbox_id", sb.ID, "command", action.Command)
	}
	return Outcome{Status: ActionCompleted, Output: res.Output}
}

// fatalOrActionError decides whether err aborts the generation or is
// contained to this action.
func fatalOrActionError(err error) Outcome {
	if sandbox.IsRuntimeUnavailable(err) || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return Outcome{Status: ActionError, Fatal: err}
	}
	return Outcome{Status: ActionError, Error: err.Error()}
}
