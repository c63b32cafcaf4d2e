package bridge

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"serial-bridge/internal/model"
)

func makeLines(prefix string, n int) []model.TerminalLine {
	lines := make([]model.TerminalLine, n)
	for i := range lines {
		lines[i] = model.TerminalLine{Kind: model.LineIncoming, Text: fmt.Sprintf("%s%d", prefix, i)}
	}
	return lines
}

func texts(lines []model.TerminalLine) []string {
	out := make([]string, len(lines))
	for i, l := range lines {
		out[i] = l.Text
	}
	return out
}

func TestLineBufferEvictsOldest(t *testing.T) {
	lb := NewLineBuffer(3)

	stamped := lb.Append(makeLines("a", 2))
	assert.Equal(t, uint64(1), stamped[0].Seq)
	assert.Equal(t, uint64(2), stamped[1].Seq)

	lb.Append(makeLines("b", 3))
	assert.Equal(t, 3, lb.Len())
	assert.Equal(t, []string{"b0", "b1", "b2"}, texts(lb.Snapshot()))
	assert.Equal(t, int64(2), lb.Evicted())

	for i, line := range lb.Snapshot() {
		assert.Equal(t, uint64(3+i), line.Seq)
	}
}

func TestLineBufferNeverExceedsCapacity(t *testing.T) {
	lb := NewLineBuffer(7)
	for i := 0; i < 50; i++ {
		lb.Append(makeLines("x", i%5+1))
		require.LessOrEqual(t, lb.Len(), 7)
	}

	snap := lb.Snapshot()
	for i := 1; i < len(snap); i++ {
		assert.Equal(t, snap[i-1].Seq+1, snap[i].Seq)
	}
}

func TestLineBufferSince(t *testing.T) {
	lb := NewLineBuffer(10)
	lb.Append(makeLines("l", 5))

	assert.Equal(t, []string{"l3", "l4"}, texts(lb.Since(3)))
	assert.Empty(t, lb.Since(5))
	assert.Len(t, lb.Since(0), 5)
}

func TestLineBufferSetCapacity(t *testing.T) {
	lb := NewLineBuffer(5)
	lb.Append(makeLines("l", 5))

	lb.SetCapacity(2)
	assert.Equal(t, 2, lb.Capacity())
	assert.Equal(t, []string{"l3", "l4"}, texts(lb.Snapshot()))
	assert.Equal(t, int64(3), lb.Evicted())

	lb.SetCapacity(4)
	lb.Append(makeLines("m", 3))
	assert.Equal(t, []string{"l4", "m0", "m1", "m2"}, texts(lb.Snapshot()))
}

func TestLineBufferClearKeepsSequence(t *testing.T) {
	lb := NewLineBuffer(5)
	lb.Append(makeLines("l", 3))
	lb.Clear()
	assert.Zero(t, lb.Len())

	stamped := lb.Append(makeLines("n", 1))
	assert.Equal(t, uint64(4), stamped[0].Seq)
}
