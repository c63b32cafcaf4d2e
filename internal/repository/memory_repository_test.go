package repository

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"serial-bridge/internal/model"
)

func TestMemorySettingsRepository(t *testing.T) {
	ctx := context.Background()
	repo := NewMemorySettingsRepository()

	_, err := repo.Get(ctx, "esp32")
	assert.ErrorIs(t, err, ErrNotFound)

	profile := &model.SettingsProfile{Name: "esp32"}
	profile.Settings.BaudRate = 115200
	require.NoError(t, repo.Save(ctx, profile))
	assert.False(t, profile.UpdatedAt.IsZero())
	require.NoError(t, repo.Save(ctx, &model.SettingsProfile{Name: "avr"}))

	got, err := repo.Get(ctx, "esp32")
	require.NoError(t, err)
	assert.Equal(t, 115200, got.Settings.BaudRate)

	list, err := repo.List(ctx)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "avr", list[0].Name)

	require.NoError(t, repo.Delete(ctx, "avr"))
	assert.ErrorIs(t, repo.Delete(ctx, "avr"), ErrNotFound)
}

func TestMemorySessionRepositoryKeepsNewest(t *testing.T) {
	ctx := context.Background()
	repo := NewMemorySessionRepository(2)

	base := time.Now()
	ids := make([]uuid.UUID, 3)
	for i := range ids {
		ids[i] = uuid.New()
		require.NoError(t, repo.Save(ctx, &model.SessionRecord{
			ID:       ids[i],
			Port:     "/dev/ttyUSB0",
			State:    model.StateActive,
			OpenedAt: base.Add(time.Duration(i) * time.Second),
		}))
	}

	_, err := repo.Get(ctx, ids[0])
	assert.ErrorIs(t, err, ErrNotFound)

	list, err := repo.List(ctx, 10)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, ids[2], list[0].ID)
	assert.Equal(t, ids[1], list[1].ID)

	record, err := repo.Get(ctx, ids[2])
	require.NoError(t, err)
	record.Finish(record.OpenedAt.Add(2*time.Second), "disconnect requested", model.SessionCounters{BytesIn: 100})
	record.State = model.StateClosed
	require.NoError(t, repo.Save(ctx, record))

	updated, err := repo.Get(ctx, ids[2])
	require.NoError(t, err)
	assert.Equal(t, model.StateClosed, updated.State)
	assert.Equal(t, "50", updated.Throughput.String())
}
