package sandbox

import (
	"context"
	"io"
	"sync"
	"time"
)

// ShellStream is a bidirectional byte stream bound to an interactive
// shell process inside a container. Closing it releases the process.
type ShellStream interface {
	io.ReadWriteCloser

	// Resize adjusts the pseudo-terminal dimensions.
	Resize(ctx context.Context, cols, rows uint) error
}

// ExecOptions controls a single command execution.
type ExecOptions struct {
	// Timeout bounds the command's wall-clock time. Zero means the
	// provider's default. On expiry the result has ExitCode -1 and the
	// returned error has KindTimedOut.
	Timeout time.Duration

	// WorkDir overrides the sandbox workspace directory for this command.
	WorkDir string

	// Env contains additional environment variables in KEY=VALUE form.
	Env []string
}

// StartResult describes a detached long-running process launch.
type StartResult struct {
	// Ready is true when the process bound its preview port within the
	// readiness grace period. Absence of readiness is a best-effort
	// signal for the UI, not a failure.
	Ready bool

	// Output is whatever the process wrote before the grace period
	// elapsed, for display.
	Output string
}

// Provider is the sandbox lifecycle manager: container creation, exec
// and file-transfer primitives, and teardown.
//
// Concurrent Exec calls against the same container are serialized (one
// in-flight command per container); calls against different containers
// run independently. The same lock is shared with the terminal bridge
// via ExecLocker.
type Provider interface {
	// Create provisions a sandbox for the project. Returns an error of
	// KindProvisionFailed if the runtime cannot allocate resources.
	Create(ctx context.Context, projectID string) (*Sandbox, error)

	// Get returns the sandbox with the given id.
	Get(ctx context.Context, sandboxID string) (*Sandbox, error)

	// List returns all live sandboxes.
	List(ctx context.Context) ([]*Sandbox, error)

	// Exec runs a command inside the container and blocks until it
	// completes or times out.
	Exec(ctx context.Context, containerID, command string, opts ExecOptions) (*ExecResult, error)

	// StartDetached launches a long-running process (dev server) without
	// waiting for exit, then probes the preview port for readiness until
	// the grace period elapses.
	StartDetached(ctx context.Context, containerID, command string) (*StartResult, error)

	// ReadFile returns the content of a file inside the container.
	// Returns KindNotFound if the path does not exist.
	ReadFile(ctx context.Context, containerID, path string) ([]byte, error)

	// WriteFile writes content to a path inside the container, creating
	// parent directories as needed.
	WriteFile(ctx context.Context, containerID, path string, content []byte) error

	// ListFiles walks the workspace directory and returns a depth-bounded
	// file tree rooted at path.
	ListFiles(ctx context.Context, containerID, path string) ([]FileEntry, error)

	// Destroy stops and removes the container. Idempotent: destroying an
	// already-destroyed sandbox is a no-op.
	Destroy(ctx context.Context, sandboxID string) error

	// Touch records activity on a sandbox so the idle reaper leaves it
	// alone.
	Touch(sandboxID string)

	// OpenShell binds an interactive shell process inside the container
	// to a bidirectional byte stream for the terminal bridge.
	OpenShell(ctx context.Context, containerID string, cols, rows uint) (ShellStream, error)

	// ExecLocker returns the per-container mutex that serializes command
	// execution. The terminal bridge holds it while forwarding
	// interactive input so terminal commands never interleave with
	// generation execs.
	ExecLocker(containerID string) sync.Locker
}
