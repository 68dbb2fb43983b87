// Package generation implements the generation engine: it consumes a
// stream of planner-produced actions, executes them against a sandbox
// in order, and aggregates progress into UI-facing update cards.
package generation

import "fmt"

// ActionType discriminates the action union.
type ActionType string

const (
	// ActionFile writes a file into the sandbox workspace.
	ActionFile ActionType = "file"
	// ActionShell runs a shell command and waits for it.
	ActionShell ActionType = "shell"
	// ActionStart launches a long-running process without waiting.
	ActionStart ActionType = "start"
)

// Action is one unit of planner-directed change. Immutable once
// produced; the engine only consumes it. FilePath/Content are set for
// file actions, Command for shell and start actions.
type Action struct {
	Type     ActionType `json:"type"`
	FilePath string     `json:"filePath,omitempty"`
	Content  string     `json:"content,omitempty"`
	Command  string     `json:"command,omitempty"`
}

// Validate checks that the action carries the fields its type needs.
func (a Action) Validate() error {
	switch a.Type {
	case ActionFile:
		if a.FilePath == "" {
			return fmt.Errorf("file action requires filePath")
		}
	case ActionShell, ActionStart:
		if a.Command == "" {
			return fmt.Errorf("%s action requires command", a.Type)
		}
	default:
		return fmt.Errorf("unknown action type %q", a.Type)
	}
	return nil
}

// ActionStatus is the execution state of one action.
type ActionStatus string

const (
	ActionPending   ActionStatus = "pending"
	ActionRunning   ActionStatus = "running"
	ActionCompleted ActionStatus = "completed"
	ActionError     ActionStatus = "error"
)

// Terminal reports whether the status admits no further transitions.
func (s ActionStatus) Terminal() bool {
	return s == ActionCompleted || s == ActionError
}

// ActionState tracks one action through execution. Created when the
// manager dequeues the action, mutated only by the executor, terminal
// at completed or error.
type ActionState struct {
	Action Action       `json:"action"`
	Status ActionStatus `json:"status"`
	Output string       `json:"output,omitempty"`
	Error  string       `json:"error,omitempty"`
}

// ArtifactStatus is the aggregate state of one artifact.
type ArtifactStatus string

const (
	ArtifactStreaming ArtifactStatus = "streaming"
	ArtifactExecuting ArtifactStatus = "executing"
	ArtifactCompleted ArtifactStatus = "completed"
	ArtifactError     ArtifactStatus = "error"
)

// Artifact is a named, ordered group of actions representing one
// coherent unit of planner output. Closed marks that no further
// actions will be appended.
type Artifact struct {
	ID     string         `json:"id"`
	Title  string         `json:"title,omitempty"`
	Status ArtifactStatus `json:"status"`
	Closed bool           `json:"closed"`

	// Actions in submission order. CurrentActionIndex is the index of
	// the action currently executing (or about to).
	Actions            []*ActionState `json:"actions"`
	CurrentActionIndex int            `json:"currentActionIndex"`

	FilesCreated  int `json:"filesCreated"`
	FilesModified int `json:"filesModified"`

	// PreviousFiles maps path to prior content for files this artifact
	// overwrote, for diffing in the UI.
	PreviousFiles map[string]string `json:"previousFiles,omitempty"`
}

// Event is one element of the planner-to-manager stream: an action
// appended to an artifact, or the artifact's closed marker.
type Event struct {
	ArtifactID string  `json:"artifactId"`
	Title      string  `json:"title,omitempty"`
	Action     *Action `json:"action,omitempty"`
	Close      bool    `json:"close,omitempty"`
}

// Validate checks the event shape.
func (e Event) Validate() error {
	if e.ArtifactID == "" {
		return fmt.Errorf("event requires artifactId")
	}
	if e.Action == nil && !e.Close {
		return fmt.Errorf("event carries neither an action nor a close marker")
	}
	if e.Action != nil {
		return e.Action.Validate()
	}
	return nil
}
