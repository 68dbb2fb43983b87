// Package store provides data access for persisted generation records.
package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/liveforge-dev/liveforge/internal/model"
)

// ErrNotFound is returned when a record does not exist.
var ErrNotFound = errors.New("record not found")

// Store wraps a gorm DB with generation-record operations. Reads may
// go to a separate pool when the database layer provides one.
type Store struct {
	db   *gorm.DB
	read *gorm.DB
}

// New creates a store over a single database handle.
func New(db *gorm.DB) *Store {
	return &Store{db: db, read: db}
}

// NewSplit creates a store with separate write and read pools.
func NewSplit(write, read *gorm.DB) *Store {
	return &Store{db: write, read: read}
}

// DB exposes the underlying handle for tests.
func (s *Store) DB() *gorm.DB {
	return s.db
}

// CreateGeneration persists a new generation record in pending status
// and returns its id.
func (s *Store) CreateGeneration(ctx context.Context, projectID, userID string) (string, error) {
	gen := &model.Generation{
		ID:        uuid.NewString(),
		ProjectID: projectID,
		UserID:    userID,
		Status:    model.GenerationStatusPending,
		StartedAt: time.Now(),
	}
	if err := s.db.WithContext(ctx).Create(gen).Error; err != nil {
		return "", fmt.Errorf("create generation: %w", err)
	}
	return gen.ID, nil
}

// GetGeneration returns the generation with the given id.
func (s *Store) GetGeneration(ctx context.Context, id string) (*model.Generation, error) {
	var gen model.Generation
	err := s.read.WithContext(ctx).First(&gen, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get generation: %w", err)
	}
	return &gen, nil
}

// UpdateGenerationStatus sets the status (and optional reason) of a
// generation.
func (s *Store) UpdateGenerationStatus(ctx context.Context, id, status, reason string) error {
	updates := map[string]any{"status": status, "reason": reason}
	res := s.db.WithContext(ctx).Model(&model.Generation{}).Where("id = ?", id).Updates(updates)
	if res.Error != nil {
		return fmt.Errorf("update generation status: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// SetGenerationSandbox records which sandbox a generation runs in.
func (s *Store) SetGenerationSandbox(ctx context.Context, id, sandboxID string) error {
	res := s.db.WithContext(ctx).Model(&model.Generation{}).Where("id = ?", id).
		Update("sandbox_id", sandboxID)
	if res.Error != nil {
		return fmt.Errorf("set generation sandbox: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// ListRunningGenerations returns the ids of all generations persisted
// as running or pending. Used at startup for stale reconciliation.
func (s *Store) ListRunningGenerations(ctx context.Context) ([]string, error) {
	var ids []string
	err := s.read.WithContext(ctx).Model(&model.Generation{}).
		Where("status IN ?", []string{model.GenerationStatusRunning, model.GenerationStatusPending}).
		Pluck("id", &ids).Error
	if err != nil {
		return nil, fmt.Errorf("list running generations: %w", err)
	}
	return ids, nil
}

// IsOwner reports whether the user owns the generation. A missing
// record is simply "not the owner", never an error: ownership checks
// are predicates, not exceptional conditions.
func (s *Store) IsOwner(ctx context.Context, generationID, userID string) (bool, error) {
	var count int64
	err := s.read.WithContext(ctx).Model(&model.Generation{}).
		Where("id = ? AND user_id = ?", generationID, userID).
		Count(&count).Error
	if err != nil {
		return false, fmt.Errorf("check generation owner: %w", err)
	}
	return count > 0, nil
}
