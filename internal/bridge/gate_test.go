package bridge

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGateDropsWhileSettling(t *testing.T) {
	g := NewQuietPeriodGate(time.Hour)
	require.NoError(t, g.Arm(func() bool { return true }, func() {}))
	defer g.Cancel()

	for i := 0; i < 10; i++ {
		assert.Equal(t, Dropped, g.OnData([]byte("flood")))
	}
	chunks, bytes := g.Dropped()
	assert.Equal(t, int64(10), chunks)
	assert.Equal(t, int64(50), bytes)
	assert.False(t, g.IsOpen())
}

func TestGateReadyFiresOnce(t *testing.T) {
	var ready atomic.Int32
	g := NewQuietPeriodGate(20 * time.Millisecond)
	require.NoError(t, g.Arm(func() bool { return true }, func() { ready.Add(1) }))

	require.Eventually(t, g.IsOpen, time.Second, 5*time.Millisecond)
	time.Sleep(40 * time.Millisecond)
	assert.Equal(t, int32(1), ready.Load())
	assert.Equal(t, Forwarded, g.OnData([]byte("ready\n")))
}

func TestGateCancelSuppressesReady(t *testing.T) {
	var ready atomic.Int32
	g := NewQuietPeriodGate(20 * time.Millisecond)
	require.NoError(t, g.Arm(func() bool { return true }, func() { ready.Add(1) }))
	g.Cancel()

	time.Sleep(60 * time.Millisecond)
	assert.Zero(t, ready.Load())
	assert.False(t, g.IsOpen())
	assert.Equal(t, Dropped, g.OnData([]byte("late")))
}

func TestGateClosedConnectionStaysInert(t *testing.T) {
	var ready atomic.Int32
	var checked atomic.Bool
	g := NewQuietPeriodGate(10 * time.Millisecond)
	require.NoError(t, g.Arm(func() bool {
		checked.Store(true)
		return false
	}, func() { ready.Add(1) }))

	require.Eventually(t, checked.Load, time.Second, 5*time.Millisecond)
	time.Sleep(20 * time.Millisecond)
	assert.Zero(t, ready.Load())
	assert.False(t, g.IsOpen())
}

func TestGateNeverRearms(t *testing.T) {
	g := NewQuietPeriodGate(time.Hour)
	require.NoError(t, g.Arm(func() bool { return true }, func() {}))
	assert.ErrorIs(t, g.Arm(func() bool { return true }, func() {}), ErrGateUsed)

	g.Cancel()
	assert.ErrorIs(t, g.Arm(func() bool { return true }, func() {}), ErrGateUsed)
}

func TestGateConfigureBeforeArm(t *testing.T) {
	var ready atomic.Int32
	g := NewQuietPeriodGate(time.Hour)
	g.Configure(10 * time.Millisecond)
	require.NoError(t, g.Arm(func() bool { return true }, func() { ready.Add(1) }))

	require.Eventually(t, func() bool { return ready.Load() == 1 }, time.Second, 5*time.Millisecond)

	// no effect once armed
	g.Configure(time.Hour)
	assert.True(t, g.IsOpen())
}

func TestVerdictString(t *testing.T) {
	assert.Equal(t, "dropped", Dropped.String())
	assert.Equal(t, "forwarded", Forwarded.String())
}
