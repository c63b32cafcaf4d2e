// Package prototest provides an in-memory serial port for tests.
package prototest

import (
	"errors"
	"sync"
	"time"

	"go.bug.st/serial"

	"serial-bridge/internal/protocol"
)

// ErrPortClosed is returned by a FakePort after Close
var ErrPortClosed = errors.New("fake port closed")

// FakePort is a protocol.Port backed by channels
type FakePort struct {
	mu          sync.Mutex
	incoming    chan []byte
	pending     []byte
	readErr     error
	writeErr    error
	written     []byte
	writes      int
	readTimeout time.Duration
	dtr, rts    *bool
	closed      bool
	closeCalls  int
	mode        *serial.Mode
	name        string
}

// NewFakePort creates an open fake port
func NewFakePort() *FakePort {
	return &FakePort{
		incoming:    make(chan []byte, 1024),
		readTimeout: 10 * time.Millisecond,
	}
}

// Opener returns a PortOpener handing out this port
func (p *FakePort) Opener() protocol.PortOpener {
	return func(name string, mode *serial.Mode) (protocol.Port, error) {
		p.mu.Lock()
		defer p.mu.Unlock()
		p.name = name
		p.mode = mode
		return p, nil
	}
}

// FailingOpener returns a PortOpener that always fails with err
func FailingOpener(err error) protocol.PortOpener {
	return func(string, *serial.Mode) (protocol.Port, error) {
		return nil, err
	}
}

// Inject queues bytes to be returned by Read
func (p *FakePort) Inject(data []byte) {
	p.incoming <- append([]byte(nil), data...)
}

// FailReads makes the next Read return err
func (p *FakePort) FailReads(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.readErr = err
}

// FailWrites makes every Write return err
func (p *FakePort) FailWrites(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.writeErr = err
}

func (p *FakePort) Read(b []byte) (int, error) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return 0, ErrPortClosed
	}
	if p.readErr != nil {
		err := p.readErr
		p.mu.Unlock()
		return 0, err
	}
	if len(p.pending) > 0 {
		n := copy(b, p.pending)
		p.pending = p.pending[n:]
		p.mu.Unlock()
		return n, nil
	}
	timeout := p.readTimeout
	p.mu.Unlock()

	select {
	case data := <-p.incoming:
		n := copy(b, data)
		if n < len(data) {
			p.mu.Lock()
			p.pending = append(p.pending, data[n:]...)
			p.mu.Unlock()
		}
		return n, nil
	case <-time.After(timeout):
		p.mu.Lock()
		err := p.readErr
		p.mu.Unlock()
		return 0, err
	}
}

func (p *FakePort) Write(b []byte) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return 0, ErrPortClosed
	}
	if p.writeErr != nil {
		return 0, p.writeErr
	}
	p.written = append(p.written, b...)
	p.writes++
	return len(b), nil
}

func (p *FakePort) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	p.closeCalls++
	return nil
}

func (p *FakePort) SetDTR(dtr bool) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.dtr = &dtr
	return nil
}

func (p *FakePort) SetRTS(rts bool) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.rts = &rts
	return nil
}

func (p *FakePort) SetReadTimeout(t time.Duration) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if t > 0 {
		p.readTimeout = t
	}
	return nil
}

func (p *FakePort) ResetInputBuffer() error {
	return nil
}

// Written returns everything written so far
func (p *FakePort) Written() []byte {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]byte(nil), p.written...)
}

// WriteCount returns the number of successful Write calls
func (p *FakePort) WriteCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.writes
}

// ControlLines reports the last DTR/RTS values and whether they were set at all
func (p *FakePort) ControlLines() (dtr, rts, set bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.dtr == nil || p.rts == nil {
		return false, false, false
	}
	return *p.dtr, *p.rts, true
}

// Closed reports whether Close was called
func (p *FakePort) Closed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed
}

// CloseCalls returns how many times Close was called
func (p *FakePort) CloseCalls() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closeCalls
}

// Mode returns the mode the port was opened with
func (p *FakePort) Mode() *serial.Mode {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.mode
}

// Name returns the name the port was opened with
func (p *FakePort) Name() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.name
}
