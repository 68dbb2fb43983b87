package store

import (
	"context"
	"errors"
	"testing"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/liveforge-dev/liveforge/internal/model"
)

func setupStore(t *testing.T) *Store {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		t.Fatalf("failed to create test database: %v", err)
	}
	if err := db.AutoMigrate(model.AllModels()...); err != nil {
		t.Fatalf("failed to migrate test database: %v", err)
	}
	return New(db)
}

func TestCreateAndGetGeneration(t *testing.T) {
	s := setupStore(t)
	ctx := context.Background()

	id, err := s.CreateGeneration(ctx, "proj-1", "alice")
	if err != nil {
		t.Fatalf("create failed: %v", err)
	}
	gen, err := s.GetGeneration(ctx, id)
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if gen.ProjectID != "proj-1" || gen.UserID != "alice" {
		t.Errorf("unexpected record %+v", gen)
	}
	if gen.Status != model.GenerationStatusPending {
		t.Errorf("new generation should be pending, got %s", gen.Status)
	}
}

func TestGetMissingGeneration(t *testing.T) {
	s := setupStore(t)
	if _, err := s.GetGeneration(context.Background(), "nope"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestUpdateGenerationStatus(t *testing.T) {
	s := setupStore(t)
	ctx := context.Background()

	id, err := s.CreateGeneration(ctx, "proj-1", "alice")
	if err != nil {
		t.Fatalf("create failed: %v", err)
	}
	if err := s.UpdateGenerationStatus(ctx, id, model.GenerationStatusFailed, "boom"); err != nil {
		t.Fatalf("update failed: %v", err)
	}
	gen, err := s.GetGeneration(ctx, id)
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if gen.Status != model.GenerationStatusFailed || gen.Reason != "boom" {
		t.Errorf("unexpected record %+v", gen)
	}

	if err := s.UpdateGenerationStatus(ctx, "nope", model.GenerationStatusFailed, ""); !errors.Is(err, ErrNotFound) {
		t.Errorf("updating a missing row should be ErrNotFound, got %v", err)
	}
}

func TestSetGenerationSandbox(t *testing.T) {
	s := setupStore(t)
	ctx := context.Background()

	id, err := s.CreateGeneration(ctx, "proj-1", "alice")
	if err != nil {
		t.Fatalf("create failed: %v", err)
	}
	if err := s.SetGenerationSandbox(ctx, id, "sbx-42"); err != nil {
		t.Fatalf("set sandbox failed: %v", err)
	}
	gen, err := s.GetGeneration(ctx, id)
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if gen.SandboxID != "sbx-42" {
		t.Errorf("sandbox id not recorded: %+v", gen)
	}
}

func TestListRunningGenerations(t *testing.T) {
	s := setupStore(t)
	ctx := context.Background()

	pending, _ := s.CreateGeneration(ctx, "proj-1", "alice")
	running, _ := s.CreateGeneration(ctx, "proj-1", "alice")
	done, _ := s.CreateGeneration(ctx, "proj-1", "alice")
	if err := s.UpdateGenerationStatus(ctx, running, model.GenerationStatusRunning, ""); err != nil {
		t.Fatalf("update failed: %v", err)
	}
	if err := s.UpdateGenerationStatus(ctx, done, model.GenerationStatusCompleted, ""); err != nil {
		t.Fatalf("update failed: %v", err)
	}

	ids, err := s.ListRunningGenerations(ctx)
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if len(ids) != 2 {
		t.Fatalf("expected pending and running, got %v", ids)
	}
	seen := map[string]bool{}
	for _, id := range ids {
		seen[id] = true
	}
	if !seen[pending] || !seen[running] || seen[done] {
		t.Errorf("wrong id set: %v", ids)
	}
}

func TestIsOwner(t *testing.T) {
	s := setupStore(t)
	ctx := context.Background()

	id, err := s.CreateGeneration(ctx, "proj-1", "alice")
	if err != nil {
		t.Fatalf("create failed: %v", err)
	}

	cases := []struct {
		generationID, userID string
		want                 bool
	}{
		{id, "alice", true},
		{id, "mallory", false},
		{"nope", "alice", false},
	}
	for _, tc := range cases {
		got, err := s.IsOwner(ctx, tc.generationID, tc.userID)
		if err != nil {
			t.Fatalf("IsOwner(%s, %s) error: %v", tc.generationID, tc.userID, err)
		}
		if got != tc.want {
			t.Errorf("IsOwner(%s, %s) = %v, want %v", tc.generationID, tc.userID, got, tc.want)
		}
	}
}
