// internal/repository/settings_repository.go
package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"serial-bridge/internal/database"
	"serial-bridge/internal/model"
)

// settingsRepository implements SettingsRepository on postgres
type settingsRepository struct {
	db     *database.DB
	logger *zap.Logger
}

// NewSettingsRepository creates a new settings repository
func NewSettingsRepository(db *database.DB, logger *zap.Logger) SettingsRepository {
	return &settingsRepository{
		db:     db,
		logger: logger,
	}
}

// List returns all profiles ordered by name
func (r *settingsRepository) List(ctx context.Context) ([]*model.SettingsProfile, error) {
	query := `SELECT name, settings, updated_at FROM settings_profiles ORDER BY name`

	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list settings profiles: %w", err)
	}
	defer rows.Close()

	profiles := []*model.SettingsProfile{}
	for rows.Next() {
		profile := &model.SettingsProfile{}
		if err := rows.Scan(&profile.Name, &profile.Settings, &profile.UpdatedAt); err != nil {
			r.logger.Error("Failed to scan settings profile", zap.Error(err))
			continue
		}
		profiles = append(profiles, profile)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate settings profiles: %w", err)
	}
	return profiles, nil
}

// Get retrieves a profile by name
func (r *settingsRepository) Get(ctx context.Context, name string) (*model.SettingsProfile, error) {
	query := `SELECT name, settings, updated_at FROM settings_profiles WHERE name = $1`

	profile := &model.SettingsProfile{}
	err := r.db.QueryRowContext(ctx, query, name).Scan(&profile.Name, &profile.Settings, &profile.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("settings profile %q: %w", name, ErrNotFound)
		}
		r.logger.Error("Failed to get settings profile", zap.Error(err), zap.String("name", name))
		return nil, fmt.Errorf("failed to get settings profile: %w", err)
	}

	return profile, nil
}

// Save upserts a profile
func (r *settingsRepository) Save(ctx context.Context, profile *model.SettingsProfile) error {
	query := `
		INSERT INTO settings_profiles (name, settings, updated_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (name) DO UPDATE SET
			settings = EXCLUDED.settings,
			updated_at = EXCLUDED.updated_at
	`

	profile.UpdatedAt = time.Now().UTC()
	if _, err := r.db.ExecContext(ctx, query, profile.Name, profile.Settings, profile.UpdatedAt); err != nil {
		r.logger.Error("Failed to save settings profile", zap.Error(err), zap.String("name", profile.Name))
		return fmt.Errorf("failed to save settings profile: %w", err)
	}

	r.logger.Info("Settings profile saved", zap.String("name", profile.Name))
	return nil
}

// Delete removes a profile
func (r *settingsRepository) Delete(ctx context.Context, name string) error {
	query := `DELETE FROM settings_profiles WHERE name = $1`

	result, err := r.db.ExecContext(ctx, query, name)
	if err != nil {
		r.logger.Error("Failed to delete settings profile", zap.Error(err), zap.String("name", name))
		return fmt.Errorf("failed to delete settings profile: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return fmt.Errorf("settings profile %q: %w", name, ErrNotFound)
	}

	r.logger.Info("Settings profile deleted", zap.String("name", name))
	return nil
}
