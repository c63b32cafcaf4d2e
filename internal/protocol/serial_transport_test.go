package protocol_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.bug.st/serial"
	"go.uber.org/zap"

	"serial-bridge/internal/model"
	"serial-bridge/internal/protocol"
	"serial-bridge/internal/protocol/prototest"
)

var testConfig = model.ConnectionConfig{
	BaudRate:           115200,
	DataBits:           8,
	StopBits:           1,
	Parity:             model.ParityNone,
	QuietPeriodSeconds: 1,
}

func newTransport(port *prototest.FakePort, queue int) *protocol.SerialTransport {
	return protocol.NewSerialTransport("/dev/ttyUSB0", testConfig, protocol.TransportOptions{
		ReadTimeout:    5 * time.Millisecond,
		WriteQueueSize: queue,
		Opener:         port.Opener(),
	}, zap.NewNop())
}

type collector struct {
	mu   sync.Mutex
	data []byte
	errs []error
}

func (c *collector) onData(b []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.data = append(c.data, b...)
}

func (c *collector) onError(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.errs = append(c.errs, err)
}

func (c *collector) snapshot() ([]byte, []error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]byte(nil), c.data...), append([]error(nil), c.errs...)
}

func TestModeMapping(t *testing.T) {
	mode := protocol.Mode(model.ConnectionConfig{BaudRate: 9600, DataBits: 7, StopBits: 2, Parity: model.ParityEven})
	assert.Equal(t, 9600, mode.BaudRate)
	assert.Equal(t, 7, mode.DataBits)
	assert.Equal(t, serial.TwoStopBits, mode.StopBits)
	assert.Equal(t, serial.EvenParity, mode.Parity)
	require.NotNil(t, mode.InitialStatusBits)
	assert.False(t, mode.InitialStatusBits.DTR)
	assert.False(t, mode.InitialStatusBits.RTS)

	mode = protocol.Mode(testConfig)
	assert.Equal(t, serial.OneStopBit, mode.StopBits)
	assert.Equal(t, serial.NoParity, mode.Parity)
}

func TestOpenForcesControlLinesLow(t *testing.T) {
	port := prototest.NewFakePort()
	tr := newTransport(port, 4)

	require.NoError(t, tr.Open(context.Background()))
	defer tr.Close()

	dtr, rts, set := port.ControlLines()
	assert.True(t, set)
	assert.False(t, dtr)
	assert.False(t, rts)
	assert.True(t, tr.IsOpen())
	assert.Equal(t, "/dev/ttyUSB0", port.Name())
}

func TestOpenFailure(t *testing.T) {
	tr := protocol.NewSerialTransport("/dev/missing", testConfig, protocol.TransportOptions{
		Opener: prototest.FailingOpener(errors.New("no such device")),
	}, zap.NewNop())

	err := tr.Open(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no such device")
	assert.False(t, tr.IsOpen())
	assert.NoError(t, tr.Close())
}

func TestReadAndWrite(t *testing.T) {
	port := prototest.NewFakePort()
	tr := newTransport(port, 4)
	require.NoError(t, tr.Open(context.Background()))

	c := &collector{}
	require.NoError(t, tr.Start(c.onData, c.onError))

	port.Inject([]byte("hello "))
	port.Inject([]byte("world"))
	tr.Write([]byte("AT\r\n"))

	require.Eventually(t, func() bool {
		data, _ := c.snapshot()
		return string(data) == "hello world"
	}, time.Second, 5*time.Millisecond)
	require.Eventually(t, func() bool {
		return string(port.Written()) == "AT\r\n"
	}, time.Second, 5*time.Millisecond)

	require.NoError(t, tr.Close())
	assert.True(t, port.Closed())

	stats := tr.Stats()
	assert.Equal(t, int64(11), stats.BytesRead)
	assert.Equal(t, int64(4), stats.BytesWritten)
	assert.False(t, stats.IsConnected)
}

func TestReadErrorReportedOnce(t *testing.T) {
	port := prototest.NewFakePort()
	tr := newTransport(port, 4)
	require.NoError(t, tr.Open(context.Background()))

	c := &collector{}
	require.NoError(t, tr.Start(c.onData, c.onError))

	port.FailWrites(errors.New("write broke"))
	port.FailReads(errors.New("device unplugged"))
	tr.Write([]byte("x"))

	require.Eventually(t, func() bool {
		_, errs := c.snapshot()
		return len(errs) == 1
	}, time.Second, 5*time.Millisecond)

	time.Sleep(20 * time.Millisecond)
	_, errs := c.snapshot()
	assert.Len(t, errs, 1)

	require.NoError(t, tr.Close())
}

func TestCloseIsIdempotent(t *testing.T) {
	port := prototest.NewFakePort()
	tr := newTransport(port, 4)
	require.NoError(t, tr.Open(context.Background()))
	require.NoError(t, tr.Start(func([]byte) {}, func(error) {}))

	require.NoError(t, tr.Close())
	require.NoError(t, tr.Close())
	assert.Equal(t, 1, port.CloseCalls())
	assert.False(t, tr.IsOpen())
	assert.ErrorIs(t, tr.Open(context.Background()), protocol.ErrTransportClosed)
}

func TestWriteAfterCloseIsSilent(t *testing.T) {
	port := prototest.NewFakePort()
	tr := newTransport(port, 1)
	require.NoError(t, tr.Open(context.Background()))

	c := &collector{}
	require.NoError(t, tr.Start(c.onData, c.onError))
	require.NoError(t, tr.Close())

	tr.Write([]byte("late"))
	_, errs := c.snapshot()
	assert.Empty(t, errs)
	assert.Empty(t, port.Written())
}
