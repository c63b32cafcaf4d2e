// internal/model/event.go
package model

import (
	"time"

	"github.com/google/uuid"
)

// ConnectionState is the lifecycle state of the bridge
type ConnectionState string

const (
	StateIdle     ConnectionState = "idle"
	StateOpening  ConnectionState = "opening"
	StateSettling ConnectionState = "settling"
	StateActive   ConnectionState = "active"
	StateError    ConnectionState = "error"
	StateClosed   ConnectionState = "closed"
)

// IsLive reports whether a session owns a port handle in this state
func (s ConnectionState) IsLive() bool {
	return s == StateOpening || s == StateSettling || s == StateActive
}

// LineKind classifies a terminal line
type LineKind string

const (
	LineIncoming LineKind = "incoming"
	LineOutgoing LineKind = "outgoing"
	LineStatus   LineKind = "status"
)

// TerminalLine is one immutable entry of the terminal sequence
type TerminalLine struct {
	Seq       uint64    `json:"seq"`
	SessionID uuid.UUID `json:"session_id"`
	Kind      LineKind  `json:"kind"`
	Text      string    `json:"text"`
	Timestamp time.Time `json:"timestamp"`
}

// StatusKind is the consumer-facing connection status
type StatusKind string

const (
	StatusConnected    StatusKind = "connected"
	StatusDisconnected StatusKind = "disconnected"
	StatusError        StatusKind = "error"
)

// Status is a connection status change
type Status struct {
	Kind   StatusKind `json:"kind"`
	Detail string     `json:"detail,omitempty"`
}

// EventKind identifies relay events
type EventKind string

const (
	EventLineAppended  EventKind = "line_appended"
	EventStatusChanged EventKind = "status_changed"
)

// Event is what relay subscribers receive. Lines is set for line events
// (possibly a coalesced batch), Status for status events. Status events also
// carry a snapshot of the session at the time of the change.
type Event struct {
	Kind      EventKind      `json:"kind"`
	SessionID uuid.UUID      `json:"session_id"`
	Lines     []TerminalLine `json:"lines,omitempty"`
	Status    *Status        `json:"status,omitempty"`
	Session   *SessionRecord `json:"session,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}
