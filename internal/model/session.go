// internal/model/session.go
package model

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// SessionCounters are the per-session traffic counters
type SessionCounters struct {
	BytesIn      int64 `json:"bytes_in" db:"bytes_in"`
	BytesOut     int64 `json:"bytes_out" db:"bytes_out"`
	BytesDropped int64 `json:"bytes_dropped" db:"bytes_dropped"`
	LinesIn      int64 `json:"lines_in" db:"lines_in"`
}

// SessionRecord is the history entry of one connection attempt
type SessionRecord struct {
	ID          uuid.UUID       `json:"id" db:"id"`
	Port        string          `json:"port" db:"port"`
	Settings    Settings        `json:"settings" db:"settings"`
	State       ConnectionState `json:"state" db:"state"`
	OpenedAt    time.Time       `json:"opened_at" db:"opened_at"`
	ActiveAt    *time.Time      `json:"active_at,omitempty" db:"active_at"`
	ClosedAt    *time.Time      `json:"closed_at,omitempty" db:"closed_at"`
	CloseReason *string         `json:"close_reason,omitempty" db:"close_reason"`
	Throughput  decimal.Decimal `json:"throughput_bps" db:"throughput_bps"`
	SessionCounters
}

// Finish stamps the closing fields and computes inbound throughput in bytes per second
func (r *SessionRecord) Finish(closedAt time.Time, reason string, counters SessionCounters) {
	r.ClosedAt = &closedAt
	r.CloseReason = &reason
	r.SessionCounters = counters
	r.Throughput = Throughput(counters.BytesIn, closedAt.Sub(r.OpenedAt))
}

// Throughput returns bytes per second rounded to two decimals
func Throughput(bytes int64, elapsed time.Duration) decimal.Decimal {
	if elapsed <= 0 {
		return decimal.Zero
	}
	return decimal.NewFromInt(bytes).
		Div(decimal.NewFromFloat(elapsed.Seconds())).
		Round(2)
}

// SettingsProfile is a named, persisted settings object
type SettingsProfile struct {
	Name      string    `json:"name" db:"name"`
	Settings  Settings  `json:"settings" db:"settings"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}
