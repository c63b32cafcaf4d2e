// internal/protocol/serial_transport.go
package protocol

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"go.bug.st/serial"
	"go.uber.org/zap"

	"serial-bridge/internal/model"
)

// TransportOptions tune the transport workers
type TransportOptions struct {
	ReadTimeout    time.Duration
	ReadBufferSize int
	WriteQueueSize int
	Opener         PortOpener
}

// DefaultTransportOptions returns the options used when none are configured
func DefaultTransportOptions() TransportOptions {
	return TransportOptions{
		ReadTimeout:    100 * time.Millisecond,
		ReadBufferSize: 4096,
		WriteQueueSize: 64,
		Opener:         OpenSerialPort,
	}
}

// SerialTransport owns the port handle of one session. Reads run on a
// dedicated worker; writes are queued to a second worker. Both report
// failures through the same error callback, at most once.
type SerialTransport struct {
	name   string
	config model.ConnectionConfig
	opts   TransportOptions
	logger *zap.Logger

	mutex   sync.RWMutex
	port    Port
	isOpen  bool
	started bool
	stats   *ProtocolStats

	writes    chan []byte
	done      chan struct{}
	wg        sync.WaitGroup
	closeOnce sync.Once
	errOnce   sync.Once
	onError   func(error)
}

// NewSerialTransport creates a transport for the named port. The connection
// config is copied and stays fixed for the transport's lifetime.
func NewSerialTransport(name string, config model.ConnectionConfig, opts TransportOptions, logger *zap.Logger) *SerialTransport {
	defaults := DefaultTransportOptions()
	if opts.ReadTimeout <= 0 {
		opts.ReadTimeout = defaults.ReadTimeout
	}
	if opts.ReadBufferSize <= 0 {
		opts.ReadBufferSize = defaults.ReadBufferSize
	}
	if opts.WriteQueueSize <= 0 {
		opts.WriteQueueSize = defaults.WriteQueueSize
	}
	if opts.Opener == nil {
		opts.Opener = defaults.Opener
	}

	return &SerialTransport{
		name:   name,
		config: config,
		opts:   opts,
		logger: logger.With(
			zap.String("protocol", "serial"),
			zap.String("port", name),
		),
		stats: &ProtocolStats{},
		done:  make(chan struct{}),
	}
}

// Mode builds the driver mode for a connection config
func Mode(config model.ConnectionConfig) *serial.Mode {
	mode := &serial.Mode{
		BaudRate: config.BaudRate,
		DataBits: config.DataBits,
		StopBits: serial.OneStopBit,
		// Keep the reset lines low from the very first moment where the driver allows it
		InitialStatusBits: &serial.ModemOutputBits{DTR: false, RTS: false},
	}

	if config.StopBits == 2 {
		mode.StopBits = serial.TwoStopBits
	}

	switch config.Parity {
	case model.ParityOdd:
		mode.Parity = serial.OddParity
	case model.ParityEven:
		mode.Parity = serial.EvenParity
	default:
		mode.Parity = serial.NoParity
	}

	return mode
}

// Open opens the port, applies parameters and forces DTR and RTS low
func (st *SerialTransport) Open(ctx context.Context) error {
	st.mutex.Lock()
	defer st.mutex.Unlock()

	if st.isOpen {
		return nil
	}
	select {
	case <-st.done:
		return ErrTransportClosed
	case <-ctx.Done():
		return ctx.Err()
	default:
	}

	st.logger.Info("Opening serial port",
		zap.Int("baud_rate", st.config.BaudRate),
		zap.Int("data_bits", st.config.DataBits),
		zap.Int("stop_bits", st.config.StopBits),
		zap.String("parity", string(st.config.Parity)),
	)

	port, err := st.opts.Opener(st.name, Mode(st.config))
	if err != nil {
		st.logger.Error("Failed to open serial port", zap.Error(err))
		return fmt.Errorf("failed to open serial port: %w", err)
	}

	// Reset suppression: a high DTR/RTS edge resets most USB-serial boards
	if err := port.SetDTR(false); err != nil {
		port.Close()
		return fmt.Errorf("failed to clear DTR: %w", err)
	}
	if err := port.SetRTS(false); err != nil {
		port.Close()
		return fmt.Errorf("failed to clear RTS: %w", err)
	}

	if err := port.SetReadTimeout(st.opts.ReadTimeout); err != nil {
		port.Close()
		return fmt.Errorf("failed to set read timeout: %w", err)
	}

	if err := port.ResetInputBuffer(); err != nil {
		st.logger.Warn("Failed to reset input buffer", zap.Error(err))
	}

	st.port = port
	st.isOpen = true
	st.stats.IsConnected = true
	st.stats.LastActivity = time.Now()

	st.logger.Info("Serial port opened successfully")
	return nil
}

// Start launches the read and write workers. onData receives each chunk read
// from the port; onError receives the first read or write failure.
func (st *SerialTransport) Start(onData func([]byte), onError func(error)) error {
	st.mutex.Lock()
	defer st.mutex.Unlock()

	if !st.isOpen || st.port == nil {
		return ErrTransportClosed
	}
	if st.started {
		return nil
	}

	st.started = true
	st.onError = onError
	st.writes = make(chan []byte, st.opts.WriteQueueSize)

	st.wg.Add(2)
	go st.readLoop(st.port, onData)
	go st.writeLoop(st.port, st.writes)

	return nil
}

// readLoop performs blocking reads until the transport is closed
func (st *SerialTransport) readLoop(port Port, onData func([]byte)) {
	defer st.wg.Done()

	buffer := make([]byte, st.opts.ReadBufferSize)
	for {
		select {
		case <-st.done:
			return
		default:
		}

		n, err := port.Read(buffer)

		// A close raced the read: whatever arrived is discarded
		select {
		case <-st.done:
			return
		default:
		}

		if err != nil && !errors.Is(err, io.EOF) {
			st.reportError(fmt.Errorf("failed to read from serial port: %w", err))
			return
		}
		if n == 0 {
			// read timeout
			continue
		}

		chunk := make([]byte, n)
		copy(chunk, buffer[:n])

		st.mutex.Lock()
		st.stats.BytesRead += int64(n)
		st.stats.OperationCount++
		st.stats.LastActivity = time.Now()
		st.mutex.Unlock()

		onData(chunk)
	}
}

// writeLoop drains the write queue in order
func (st *SerialTransport) writeLoop(port Port, writes <-chan []byte) {
	defer st.wg.Done()

	for {
		select {
		case <-st.done:
			return
		case data := <-writes:
			startTime := time.Now()
			n, err := port.Write(data)
			if err == nil && n != len(data) {
				err = fmt.Errorf("incomplete write: wrote %d of %d bytes", n, len(data))
			}
			if err != nil {
				st.reportError(fmt.Errorf("failed to write to serial port: %w", err))
				return
			}

			st.mutex.Lock()
			st.stats.BytesWritten += int64(n)
			st.stats.OperationCount++
			st.stats.LastActivity = time.Now()
			st.updateAverageLatency(time.Since(startTime))
			st.mutex.Unlock()

			st.logger.Debug("Serial write completed", zap.Int("bytes", n))
		}
	}
}

// Write queues data for transmission and returns immediately. Failures,
// including a full queue, surface through the error callback.
func (st *SerialTransport) Write(data []byte) {
	st.mutex.RLock()
	writes := st.writes
	started := st.started
	st.mutex.RUnlock()

	if !started {
		st.reportError(ErrNotStarted)
		return
	}

	payload := append([]byte(nil), data...)
	select {
	case <-st.done:
	case writes <- payload:
	default:
		st.reportError(ErrWriteQueueFull)
	}
}

// reportError forwards the first failure and counts every one
func (st *SerialTransport) reportError(err error) {
	select {
	case <-st.done:
		// failures after close are expected noise
		return
	default:
	}

	st.mutex.Lock()
	st.stats.ErrorCount++
	onError := st.onError
	st.mutex.Unlock()

	st.logger.Error("Serial I/O error", zap.Error(err))
	st.errOnce.Do(func() {
		if onError != nil {
			onError(err)
		}
	})
}

// Close stops both workers and then releases the OS handle. Safe to call
// more than once and from any goroutine except the workers themselves.
func (st *SerialTransport) Close() error {
	var closeErr error

	st.closeOnce.Do(func() {
		close(st.done)
		st.wg.Wait()

		st.mutex.Lock()
		defer st.mutex.Unlock()

		if st.port != nil {
			if err := st.port.Close(); err != nil {
				st.logger.Error("Failed to close serial port", zap.Error(err))
				closeErr = fmt.Errorf("failed to close serial port: %w", err)
			}
		}

		st.port = nil
		st.isOpen = false
		st.stats.IsConnected = false

		st.logger.Info("Serial port closed")
	})

	return closeErr
}

// IsOpen returns whether the port handle is held
func (st *SerialTransport) IsOpen() bool {
	st.mutex.RLock()
	defer st.mutex.RUnlock()
	return st.isOpen && st.port != nil
}

// Name returns the port name
func (st *SerialTransport) Name() string {
	return st.name
}

// Stats returns a copy of the protocol statistics
func (st *SerialTransport) Stats() ProtocolStats {
	st.mutex.RLock()
	defer st.mutex.RUnlock()
	return *st.stats
}

// updateAverageLatency updates the running average latency
func (st *SerialTransport) updateAverageLatency(newLatency time.Duration) {
	if st.stats.AverageLatency == 0 {
		st.stats.AverageLatency = newLatency
	} else {
		st.stats.AverageLatency = (st.stats.AverageLatency + newLatency) / 2
	}
}
