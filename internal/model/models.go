// Package model defines the persisted database models.
package model

import (
	"time"
)

// Generation statuses.
const (
	GenerationStatusPending   = "pending"
	GenerationStatusRunning   = "running"
	GenerationStatusCompleted = "completed"
	GenerationStatusCancelled = "cancelled"
	GenerationStatusFailed    = "failed"
)

// ReasonInterrupted marks generations that were running when the
// process died and were reclassified at startup.
const ReasonInterrupted = "interrupted"

// Generation is the persisted record of one end-to-end generation
// session. It survives process restarts; the in-memory run state is a
// cache reconciled against it at startup.
type Generation struct {
	ID        string `gorm:"primaryKey"`
	ProjectID string `gorm:"index;not null"`
	UserID    string `gorm:"index;not null"`
	SandboxID string
	Status    string `gorm:"index;not null"`
	Reason    string
	StartedAt time.Time
	UpdatedAt time.Time
}

// AllModels returns every model for AutoMigrate.
func AllModels() []any {
	return []any{
		&Generation{},
	}
}
