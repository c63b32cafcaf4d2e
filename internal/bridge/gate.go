// internal/bridge/gate.go
package bridge

import (
	"sync"
	"time"
)

// Verdict is the gate's decision for one inbound chunk
type Verdict int

const (
	Dropped Verdict = iota
	Forwarded
)

func (v Verdict) String() string {
	if v == Forwarded {
		return "forwarded"
	}
	return "dropped"
}

type gateState int

const (
	gateIdle gateState = iota
	gateSettling
	gateOpen
	gateInert
)

// QuietPeriodGate drops all inbound data for a warm-up window after the link
// opens. Each gate is armed once; a new connection gets a new gate.
type QuietPeriodGate struct {
	mu       sync.Mutex
	duration time.Duration
	state    gateState
	timer    *time.Timer

	droppedChunks int64
	droppedBytes  int64
}

// NewQuietPeriodGate creates an unarmed gate
func NewQuietPeriodGate(duration time.Duration) *QuietPeriodGate {
	return &QuietPeriodGate{duration: duration}
}

// Configure sets the quiet period. It has no effect once armed.
func (g *QuietPeriodGate) Configure(duration time.Duration) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.state == gateIdle {
		g.duration = duration
	}
}

// Arm starts the quiet period. When it elapses, isOpen is consulted and, if
// the connection is still open, ready is called exactly once. Both callbacks
// run on the timer goroutine without the gate lock held. A Cancel racing the
// elapse may still see ready called, so ready must check its own session.
func (g *QuietPeriodGate) Arm(isOpen func() bool, ready func()) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.state != gateIdle {
		return ErrGateUsed
	}

	g.state = gateSettling
	g.timer = time.AfterFunc(g.duration, func() {
		g.elapse(isOpen, ready)
	})
	return nil
}

func (g *QuietPeriodGate) elapse(isOpen func() bool, ready func()) {
	g.mu.Lock()
	if g.state != gateSettling {
		g.mu.Unlock()
		return
	}
	g.mu.Unlock()

	open := isOpen()

	g.mu.Lock()
	if g.state != gateSettling {
		g.mu.Unlock()
		return
	}
	if !open {
		g.state = gateInert
		g.mu.Unlock()
		return
	}
	g.state = gateOpen
	g.mu.Unlock()

	ready()
}

// OnData classifies an inbound chunk. Everything before the gate opens is
// dropped and never replayed.
func (g *QuietPeriodGate) OnData(chunk []byte) Verdict {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.state == gateOpen {
		return Forwarded
	}
	g.droppedChunks++
	g.droppedBytes += int64(len(chunk))
	return Dropped
}

// Cancel stops the timer and makes the gate inert
func (g *QuietPeriodGate) Cancel() {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.timer != nil {
		g.timer.Stop()
	}
	g.state = gateInert
}

// IsOpen reports whether the quiet period elapsed with the link open
func (g *QuietPeriodGate) IsOpen() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.state == gateOpen
}

// Dropped returns the number of chunks and bytes discarded so far
func (g *QuietPeriodGate) Dropped() (chunks, bytes int64) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.droppedChunks, g.droppedBytes
}
