package generation

import "testing"

func TestBuildCardLabels(t *testing.T) {
	art := &Artifact{
		ID:    "a1",
		Title: "Landing page",
		Actions: []*ActionState{
			{Action: Action{Type: ActionFile, FilePath: "/workspace/src/index.html"}, Status: ActionCompleted},
			{Action: Action{Type: ActionShell, Command: "npm install"}, Status: ActionCompleted},
			{Action: Action{Type: ActionStart, Command: "npm run dev"}, Status: ActionRunning},
		},
	}
	card := BuildCard(art)

	want := []string{"Writing index.html", "Running npm install", "Starting npm run dev"}
	if len(card.Subtasks) != len(want) {
		t.Fatalf("expected %d subtasks, got %d", len(want), len(card.Subtasks))
	}
	for i, label := range want {
		if card.Subtasks[i].Label != label {
			t.Errorf("subtask %d: label %q, want %q", i, card.Subtasks[i].Label, label)
		}
	}
	if card.Subtasks[0].Status != SubtaskCompleted {
		t.Errorf("terminal action should project as completed")
	}
	if card.Subtasks[2].Status != SubtaskStreaming {
		t.Errorf("running action should project as streaming")
	}
}

func TestCardStatusDerivation(t *testing.T) {
	cases := []struct {
		name string
		art  *Artifact
		want ArtifactStatus
	}{
		{
			name: "empty open artifact is streaming",
			art:  &Artifact{ID: "a"},
			want: ArtifactStreaming,
		},
		{
			name: "pending actions only is streaming",
			art: &Artifact{ID: "a", Actions: []*ActionState{
				{Status: ActionPending},
			}},
			want: ArtifactStreaming,
		},
		{
			name: "running action is executing",
			art: &Artifact{ID: "a", Actions: []*ActionState{
				{Status: ActionCompleted},
				{Status: ActionRunning},
			}},
			want: ArtifactExecuting,
		},
		{
			name: "all terminal but not closed is executing",
			art: &Artifact{ID: "a", Actions: []*ActionState{
				{Status: ActionCompleted},
			}},
			want: ArtifactExecuting,
		},
		{
			name: "closed with all terminal is completed",
			art: &Artifact{ID: "a", Closed: true, Actions: []*ActionState{
				{Status: ActionCompleted},
				{Status: ActionCompleted},
			}},
			want: ArtifactCompleted,
		},
		{
			name: "error status wins",
			art: &Artifact{ID: "a", Status: ArtifactError, Closed: true, Actions: []*ActionState{
				{Status: ActionError},
			}},
			want: ArtifactError,
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := cardStatus(tc.art); got != tc.want {
				t.Errorf("cardStatus = %s, want %s", got, tc.want)
			}
		})
	}
}

func TestBuildCardCarriesFileCounters(t *testing.T) {
	art := &Artifact{
		ID:            "a1",
		FilesCreated:  3,
		FilesModified: 2,
		PreviousFiles: map[string]string{"/workspace/app.js": "old"},
	}
	card := BuildCard(art)
	if card.FilesCreated != 3 || card.FilesModified != 2 {
		t.Errorf("counters not carried: %d / %d", card.FilesCreated, card.FilesModified)
	}
	if card.PreviousFiles["/workspace/app.js"] != "old" {
		t.Errorf("previous files not carried")
	}
}
