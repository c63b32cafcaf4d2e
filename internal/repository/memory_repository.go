// internal/repository/memory_repository.go
package repository

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"serial-bridge/internal/model"
)

// memorySettingsRepository keeps profiles in process memory. Used when the
// database is disabled.
type memorySettingsRepository struct {
	mu       sync.RWMutex
	profiles map[string]model.SettingsProfile
}

// NewMemorySettingsRepository creates an empty in-memory settings repository
func NewMemorySettingsRepository() SettingsRepository {
	return &memorySettingsRepository{profiles: make(map[string]model.SettingsProfile)}
}

func (r *memorySettingsRepository) List(ctx context.Context) ([]*model.SettingsProfile, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	profiles := make([]*model.SettingsProfile, 0, len(r.profiles))
	for _, p := range r.profiles {
		profile := p
		profiles = append(profiles, &profile)
	}
	sort.Slice(profiles, func(i, j int) bool { return profiles[i].Name < profiles[j].Name })
	return profiles, nil
}

func (r *memorySettingsRepository) Get(ctx context.Context, name string) (*model.SettingsProfile, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	profile, ok := r.profiles[name]
	if !ok {
		return nil, fmt.Errorf("settings profile %q: %w", name, ErrNotFound)
	}
	return &profile, nil
}

func (r *memorySettingsRepository) Save(ctx context.Context, profile *model.SettingsProfile) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	profile.UpdatedAt = time.Now().UTC()
	r.profiles[profile.Name] = *profile
	return nil
}

func (r *memorySettingsRepository) Delete(ctx context.Context, name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.profiles[name]; !ok {
		return fmt.Errorf("settings profile %q: %w", name, ErrNotFound)
	}
	delete(r.profiles, name)
	return nil
}

// memorySessionRepository keeps the newest session records in memory
type memorySessionRepository struct {
	mu      sync.RWMutex
	records map[uuid.UUID]model.SessionRecord
	limit   int
}

// NewMemorySessionRepository creates an in-memory session repository that
// retains at most limit records
func NewMemorySessionRepository(limit int) SessionRepository {
	if limit <= 0 {
		limit = 100
	}
	return &memorySessionRepository{
		records: make(map[uuid.UUID]model.SessionRecord),
		limit:   limit,
	}
}

func (r *memorySessionRepository) Save(ctx context.Context, record *model.SessionRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.records[record.ID] = *record
	if len(r.records) > r.limit {
		oldest := r.sortedLocked()[len(r.records)-1]
		delete(r.records, oldest.ID)
	}
	return nil
}

func (r *memorySessionRepository) Get(ctx context.Context, id uuid.UUID) (*model.SessionRecord, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	record, ok := r.records[id]
	if !ok {
		return nil, fmt.Errorf("session %s: %w", id, ErrNotFound)
	}
	return &record, nil
}

func (r *memorySessionRepository) List(ctx context.Context, limit int) ([]*model.SessionRecord, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	sorted := r.sortedLocked()
	if limit > 0 && len(sorted) > limit {
		sorted = sorted[:limit]
	}
	return sorted, nil
}

// sortedLocked returns copies newest first
func (r *memorySessionRepository) sortedLocked() []*model.SessionRecord {
	out := make([]*model.SessionRecord, 0, len(r.records))
	for _, rec := range r.records {
		record := rec
		out = append(out, &record)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].OpenedAt.After(out[j].OpenedAt) })
	return out
}
