// internal/repository/interfaces.go
package repository

import (
	"context"
	"errors"

	"github.com/google/uuid"

	"serial-bridge/internal/model"
)

// ErrNotFound is returned when a record does not exist
var ErrNotFound = errors.New("record not found")

// SettingsRepository stores named settings profiles
type SettingsRepository interface {
	List(ctx context.Context) ([]*model.SettingsProfile, error)
	Get(ctx context.Context, name string) (*model.SettingsProfile, error)
	// Save creates or replaces the profile and stamps UpdatedAt
	Save(ctx context.Context, profile *model.SettingsProfile) error
	Delete(ctx context.Context, name string) error
}

// SessionRepository stores the connection session history
type SessionRepository interface {
	// Save creates or replaces the record with the same ID
	Save(ctx context.Context, record *model.SessionRecord) error
	Get(ctx context.Context, id uuid.UUID) (*model.SessionRecord, error)
	// List returns the newest records first
	List(ctx context.Context, limit int) ([]*model.SessionRecord, error)
}
