// internal/protocol/protocol.go
package protocol

import (
	"errors"
	"time"

	"go.bug.st/serial"
)

var (
	// ErrTransportClosed is returned when the transport is used after Close
	ErrTransportClosed = errors.New("serial transport closed")
	// ErrWriteQueueFull is reported when outbound data cannot be queued
	ErrWriteQueueFull = errors.New("serial write queue full")
	// ErrNotStarted is returned when writing before Start
	ErrNotStarted = errors.New("serial transport not started")
)

// Port is the subset of the driver's port handle used by the transport
type Port interface {
	Read(p []byte) (int, error)
	Write(p []byte) (int, error)
	Close() error
	SetDTR(dtr bool) error
	SetRTS(rts bool) error
	SetReadTimeout(t time.Duration) error
	ResetInputBuffer() error
}

// PortOpener opens a named port with the given mode
type PortOpener func(name string, mode *serial.Mode) (Port, error)

// OpenSerialPort opens a real port through go.bug.st/serial
func OpenSerialPort(name string, mode *serial.Mode) (Port, error) {
	return serial.Open(name, mode)
}

// ProtocolStats provides protocol-level statistics
type ProtocolStats struct {
	BytesWritten   int64         `json:"bytes_written"`
	BytesRead      int64         `json:"bytes_read"`
	OperationCount int64         `json:"operation_count"`
	ErrorCount     int64         `json:"error_count"`
	LastActivity   time.Time     `json:"last_activity"`
	AverageLatency time.Duration `json:"average_latency"`
	IsConnected    bool          `json:"is_connected"`
}
