// Package sandbox defines the sandbox lifecycle contract: the types,
// errors, and Provider interface that the generation engine and the
// terminal bridge use to talk to the container runtime.
package sandbox

import "time"

// Status is the lifecycle state of a sandbox.
type Status string

const (
	StatusCreating  Status = "creating"
	StatusRunning   Status = "running"
	StatusStopped   Status = "stopped"
	StatusDestroyed Status = "destroyed"
)

// Terminal reports whether the status admits no further transitions.
func (s Status) Terminal() bool {
	return s == StatusDestroyed
}

// Sandbox is an isolated execution environment hosting one project's
// live filesystem and processes. ContainerID is empty until the
// underlying container has been provisioned.
type Sandbox struct {
	ID           string    `json:"id"`
	ProjectID    string    `json:"projectId"`
	ContainerID  string    `json:"containerId,omitempty"`
	Status       Status    `json:"status"`
	PreviewPort  int       `json:"previewPort,omitempty"`
	CreatedAt    time.Time `json:"createdAt"`
	LastActiveAt time.Time `json:"lastActiveAt"`
}

// ExecResult is the outcome of one shell execution inside a sandbox.
// ExitCode is -1 when the command timed out or was cancelled before
// the runtime reported an exit status.
type ExecResult struct {
	Stdout   string `json:"stdout"`
	Stderr   string `json:"stderr"`
	ExitCode int    `json:"exitCode"`
}

// FileEntry is a node in the workspace file tree.
type FileEntry struct {
	Name     string      `json:"name"`
	Path     string      `json:"path"`
	Type     string      `json:"type"` // "file" or "directory"
	Children []FileEntry `json:"children,omitempty"`
}
