// internal/repository/session_repository.go
package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"serial-bridge/internal/database"
	"serial-bridge/internal/model"
)

const sessionColumns = `
	id, port, settings, state, opened_at, active_at, closed_at, close_reason,
	bytes_in, bytes_out, bytes_dropped, lines_in, throughput_bps
`

// sessionRepository implements SessionRepository on postgres
type sessionRepository struct {
	db     *database.DB
	logger *zap.Logger
}

// NewSessionRepository creates a new session repository
func NewSessionRepository(db *database.DB, logger *zap.Logger) SessionRepository {
	return &sessionRepository{
		db:     db,
		logger: logger,
	}
}

// Save upserts a session record
func (r *sessionRepository) Save(ctx context.Context, record *model.SessionRecord) error {
	query := `
		INSERT INTO bridge_sessions (` + sessionColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		ON CONFLICT (id) DO UPDATE SET
			state = EXCLUDED.state,
			active_at = EXCLUDED.active_at,
			closed_at = EXCLUDED.closed_at,
			close_reason = EXCLUDED.close_reason,
			bytes_in = EXCLUDED.bytes_in,
			bytes_out = EXCLUDED.bytes_out,
			bytes_dropped = EXCLUDED.bytes_dropped,
			lines_in = EXCLUDED.lines_in,
			throughput_bps = EXCLUDED.throughput_bps
	`

	_, err := r.db.ExecContext(ctx, query,
		record.ID, record.Port, record.Settings, record.State,
		record.OpenedAt, record.ActiveAt, record.ClosedAt, record.CloseReason,
		record.BytesIn, record.BytesOut, record.BytesDropped, record.LinesIn,
		record.Throughput,
	)
	if err != nil {
		r.logger.Error("Failed to save session", zap.Error(err), zap.String("session_id", record.ID.String()))
		return fmt.Errorf("failed to save session: %w", err)
	}

	r.logger.Debug("Session saved",
		zap.String("session_id", record.ID.String()),
		zap.String("state", string(record.State)),
	)
	return nil
}

// Get retrieves a session by ID
func (r *sessionRepository) Get(ctx context.Context, id uuid.UUID) (*model.SessionRecord, error) {
	query := `SELECT ` + sessionColumns + ` FROM bridge_sessions WHERE id = $1`

	record, err := scanSession(r.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("session %s: %w", id, ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get session: %w", err)
	}
	return record, nil
}

// List returns the most recent sessions
func (r *sessionRepository) List(ctx context.Context, limit int) ([]*model.SessionRecord, error) {
	query := `SELECT ` + sessionColumns + ` FROM bridge_sessions ORDER BY opened_at DESC LIMIT $1`

	rows, err := r.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list sessions: %w", err)
	}
	defer rows.Close()

	records := []*model.SessionRecord{}
	for rows.Next() {
		record, err := scanSession(rows)
		if err != nil {
			r.logger.Error("Failed to scan session", zap.Error(err))
			continue
		}
		records = append(records, record)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate sessions: %w", err)
	}
	return records, nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanSession(row rowScanner) (*model.SessionRecord, error) {
	record := &model.SessionRecord{}
	err := row.Scan(
		&record.ID, &record.Port, &record.Settings, &record.State,
		&record.OpenedAt, &record.ActiveAt, &record.ClosedAt, &record.CloseReason,
		&record.BytesIn, &record.BytesOut, &record.BytesDropped, &record.LinesIn,
		&record.Throughput,
	)
	if err != nil {
		return nil, err
	}
	return record, nil
}
