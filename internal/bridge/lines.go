// internal/bridge/lines.go
package bridge

import (
	"sync"

	"serial-bridge/internal/model"
)

// LineBuffer is the capacity-bounded terminal line sequence. The oldest
// entries are evicted on overflow. Sequence numbers keep increasing across
// evictions and Clear.
type LineBuffer struct {
	mu       sync.RWMutex
	items    []model.TerminalLine
	capacity int
	head     int // oldest entry
	size     int
	nextSeq  uint64
	evicted  int64
}

// NewLineBuffer creates an empty buffer. Capacity below one is raised to one.
func NewLineBuffer(capacity int) *LineBuffer {
	if capacity <= 0 {
		capacity = 1
	}
	return &LineBuffer{
		items:    make([]model.TerminalLine, capacity),
		capacity: capacity,
		nextSeq:  1,
	}
}

// Append stamps sequence numbers on lines, stores them and returns the
// stamped copies
func (lb *LineBuffer) Append(lines []model.TerminalLine) []model.TerminalLine {
	lb.mu.Lock()
	defer lb.mu.Unlock()

	stamped := make([]model.TerminalLine, len(lines))
	for i, line := range lines {
		line.Seq = lb.nextSeq
		lb.nextSeq++
		stamped[i] = line

		tail := (lb.head + lb.size) % lb.capacity
		lb.items[tail] = line
		if lb.size == lb.capacity {
			lb.head = (lb.head + 1) % lb.capacity
			lb.evicted++
		} else {
			lb.size++
		}
	}
	return stamped
}

// Since returns the retained lines with a sequence number above seq, oldest first
func (lb *LineBuffer) Since(seq uint64) []model.TerminalLine {
	lb.mu.RLock()
	defer lb.mu.RUnlock()

	out := make([]model.TerminalLine, 0, lb.size)
	for i := 0; i < lb.size; i++ {
		line := lb.items[(lb.head+i)%lb.capacity]
		if line.Seq > seq {
			out = append(out, line)
		}
	}
	return out
}

// Snapshot returns all retained lines
func (lb *LineBuffer) Snapshot() []model.TerminalLine {
	return lb.Since(0)
}

// Len returns the number of retained lines
func (lb *LineBuffer) Len() int {
	lb.mu.RLock()
	defer lb.mu.RUnlock()
	return lb.size
}

// Capacity returns the maximum number of retained lines
func (lb *LineBuffer) Capacity() int {
	lb.mu.RLock()
	defer lb.mu.RUnlock()
	return lb.capacity
}

// Evicted returns how many lines were pushed out by overflow
func (lb *LineBuffer) Evicted() int64 {
	lb.mu.RLock()
	defer lb.mu.RUnlock()
	return lb.evicted
}

// SetCapacity resizes the buffer, keeping the newest lines
func (lb *LineBuffer) SetCapacity(capacity int) {
	if capacity <= 0 {
		capacity = 1
	}

	lb.mu.Lock()
	defer lb.mu.Unlock()

	if capacity == lb.capacity {
		return
	}

	keep := lb.size
	if keep > capacity {
		lb.evicted += int64(keep - capacity)
		keep = capacity
	}

	items := make([]model.TerminalLine, capacity)
	start := lb.size - keep
	for i := 0; i < keep; i++ {
		items[i] = lb.items[(lb.head+start+i)%lb.capacity]
	}

	lb.items = items
	lb.capacity = capacity
	lb.head = 0
	lb.size = keep
}

// Clear drops all retained lines
func (lb *LineBuffer) Clear() {
	lb.mu.Lock()
	defer lb.mu.Unlock()

	lb.items = make([]model.TerminalLine, lb.capacity)
	lb.head = 0
	lb.size = 0
}
