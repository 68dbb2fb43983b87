package generation

import (
	"fmt"
	"path"
)

// SubtaskStatus is the UI state of one update-card subtask.
type SubtaskStatus string

const (
	SubtaskStreaming SubtaskStatus = "streaming"
	SubtaskCompleted SubtaskStatus = "completed"
)

// UpdateCardSubtask is the UI projection of one action.
type UpdateCardSubtask struct {
	Label  string        `json:"label"`
	Status SubtaskStatus `json:"status"`
	Error  string        `json:"error,omitempty"`
}

// UpdateCard is the UI projection of one artifact: derived, never
// authoritative, rebuildable from the ActionState history at any time.
type UpdateCard struct {
	ArtifactID    string              `json:"artifactId"`
	Title         string              `json:"title,omitempty"`
	Status        ArtifactStatus      `json:"status"`
	Subtasks      []UpdateCardSubtask `json:"subtasks"`
	FilesCreated  int                 `json:"filesCreated"`
	FilesModified int                 `json:"filesModified"`
	PreviousFiles map[string]string   `json:"previousFiles,omitempty"`
}

// BuildCard projects an artifact into its update card. Pure with
// respect to the sandbox: it only reads artifact and action state.
func BuildCard(art *Artifact) UpdateCard {
	card := UpdateCard{
		ArtifactID:    art.ID,
		Title:         art.Title,
		Status:        cardStatus(art),
		Subtasks:      make([]UpdateCardSubtask, 0, len(art.Actions)),
		FilesCreated:  art.FilesCreated,
		FilesModified: art.FilesModified,
		PreviousFiles: art.PreviousFiles,
	}
	for _, state := range art.Actions {
		sub := UpdateCardSubtask{
			Label:  subtaskLabel(state.Action),
			Status: SubtaskStreaming,
		}
		if state.Status.Terminal() {
			sub.Status = SubtaskCompleted
			sub.Error = state.Error
		}
		card.Subtasks = append(card.Subtasks, sub)
	}
	return card
}

// cardStatus derives the overall card status: error wins, completed
// requires the artifact closed with every action terminal, executing
// means work is in flight, streaming means the planner is still
// emitting.
func cardStatus(art *Artifact) ArtifactStatus {
	if art.Status == ArtifactError {
		return ArtifactError
	}
	allTerminal := true
	anyStarted := false
	for _, state := range art.Actions {
		if !state.Status.Terminal() {
			allTerminal = false
		}
		if state.Status != ActionPending {
			anyStarted = true
		}
	}
	if art.Closed && allTerminal {
		return ArtifactCompleted
	}
	if anyStarted {
		return ArtifactExecuting
	}
	return ArtifactStreaming
}

func subtaskLabel(a Action) string {
	switch a.Type {
	case ActionFile:
		return fmt.Sprintf("Writing %s", path.Base(a.FilePath))
	case ActionShell:
		return fmt.Sprintf("Running %s", a.Command)
	case ActionStart:
		return fmt.Sprintf("Starting %s", a.Command)
	default:
		return string(a.Type)
	}
}
