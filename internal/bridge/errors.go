// internal/bridge/errors.go
package bridge

import (
	"errors"
	"fmt"

	"github.com/google/uuid"
)

var (
	// ErrGateUsed is returned when arming a gate a second time
	ErrGateUsed = errors.New("quiet period gate already armed")
	// ErrRelayStopped is returned by relay operations after Stop
	ErrRelayStopped = errors.New("event relay stopped")
)

// ConnectError is returned when opening the port or applying its parameters fails
type ConnectError struct {
	Port string
	Err  error
}

func (e *ConnectError) Error() string {
	return fmt.Sprintf("failed to connect to %s: %v", e.Port, e.Err)
}

func (e *ConnectError) Unwrap() error {
	return e.Err
}

// IOError is a read or write failure that ended a session
type IOError struct {
	SessionID uuid.UUID
	Err       error
}

func (e *IOError) Error() string {
	return fmt.Sprintf("session %s: %v", e.SessionID, e.Err)
}

func (e *IOError) Unwrap() error {
	return e.Err
}

// ValidationError is a local input error. Nothing reaches the transport.
type ValidationError struct {
	Field string
	Err   error
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("validation failed: %v", e.Err)
	}
	return fmt.Sprintf("invalid %s: %v", e.Field, e.Err)
}

func (e *ValidationError) Unwrap() error {
	return e.Err
}
