package bridge

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"serial-bridge/internal/model"
	"serial-bridge/internal/protocol"
	"serial-bridge/internal/protocol/prototest"
)

const testQuietUnit = 50 * time.Millisecond

func testSettings() model.Settings {
	return model.Settings{
		ConnectionConfig: model.ConnectionConfig{
			BaudRate:           115200,
			DataBits:           8,
			StopBits:           1,
			Parity:             model.ParityNone,
			QuietPeriodSeconds: 2,
		},
		DisplayPrefs: model.DisplayPrefs{
			Charset:            "UTF-8",
			DisplayMode:        model.DisplayModeText,
			InputMode:          model.InputModeText,
			Newline:            model.NewlineCRLF,
			MaxLines:           100,
			MaxLineBytes:       0,
			LocalEcho:          true,
			AnnounceDisconnect: true,
		},
	}
}

type harness struct {
	t      *testing.T
	relay  *EventRelay
	bridge *Bridge
	events <-chan model.Event

	mu       sync.Mutex
	ports    []*prototest.FakePort
	openFail error
}

func newHarness(t *testing.T) *harness {
	t.Helper()

	h := &harness{t: t}
	h.relay = NewEventRelay(RelayOptions{SubscriberBuffer: 256}, zap.NewNop())
	events, unsubscribe := h.relay.Subscribe(256)
	h.events = events
	h.relay.Start()
	t.Cleanup(h.relay.Stop)
	t.Cleanup(unsubscribe)

	h.bridge = New(h.relay, zap.NewNop(),
		WithQuietPeriodUnit(testQuietUnit),
		WithTransportFactory(h.factory),
	)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = h.bridge.Close(ctx)
	})
	return h
}

func (h *harness) factory(port string, config model.ConnectionConfig, logger *zap.Logger) Transport {
	h.mu.Lock()
	defer h.mu.Unlock()

	fp := prototest.NewFakePort()
	h.ports = append(h.ports, fp)
	opener := fp.Opener()
	if h.openFail != nil {
		opener = prototest.FailingOpener(h.openFail)
	}
	return protocol.NewSerialTransport(port, config, protocol.TransportOptions{
		ReadTimeout: 2 * time.Millisecond,
		Opener:      opener,
	}, logger)
}

func (h *harness) port(i int) *prototest.FakePort {
	h.mu.Lock()
	defer h.mu.Unlock()
	require.Greater(h.t, len(h.ports), i)
	return h.ports[i]
}

func (h *harness) connect(settings model.Settings) {
	h.t.Helper()
	require.NoError(h.t, h.bridge.Connect(context.Background(), "/dev/ttyUSB0", settings))
}

func (h *harness) waitState(state model.ConnectionState) {
	h.t.Helper()
	require.Eventually(h.t, func() bool { return h.bridge.State() == state }, 2*time.Second, 5*time.Millisecond,
		"expected state %s, got %s", state, h.bridge.State())
}

func (h *harness) lines() []model.TerminalLine {
	h.t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(h.t, h.relay.Flush(ctx))
	return h.relay.Lines(0)
}

func (h *harness) statuses() []model.Status {
	h.t.Helper()
	h.lines()
	var out []model.Status
	for _, ev := range collect(h.events) {
		if ev.Status != nil {
			out = append(out, *ev.Status)
		}
	}
	return out
}

func filterLines(lines []model.TerminalLine, kind model.LineKind) []string {
	var out []string
	for _, l := range lines {
		if l.Kind == kind {
			out = append(out, l.Text)
		}
	}
	return out
}

func TestEndToEndQuietPeriod(t *testing.T) {
	h := newHarness(t)
	h.connect(testSettings())
	assert.Equal(t, model.StateSettling, h.bridge.State())

	flood := bytes.Repeat([]byte("boot diag 0123456789\r\n"), 50)
	port := h.port(0)
	for i := 0; i < len(flood); i += 64 {
		end := i + 64
		if end > len(flood) {
			end = len(flood)
		}
		port.Inject(flood[i:end])
	}

	require.Eventually(t, func() bool {
		return h.bridge.Snapshot().Counters.BytesDropped == int64(len(flood))
	}, time.Second, 2*time.Millisecond)
	assert.Equal(t, model.StateSettling, h.bridge.State())

	h.waitState(model.StateActive)
	port.Inject([]byte("ready\n"))

	require.Eventually(t, func() bool {
		return len(filterLines(h.lines(), model.LineIncoming)) > 0
	}, time.Second, 5*time.Millisecond)

	lines := h.lines()
	assert.Equal(t, []string{"Connected"}, filterLines(lines, model.LineStatus))
	assert.Equal(t, []string{"ready"}, filterLines(lines, model.LineIncoming))
	assert.Equal(t, []model.Status{{Kind: model.StatusConnected}}, h.statuses())

	snap := h.bridge.Snapshot()
	assert.Equal(t, int64(1), snap.Counters.LinesIn)
	require.NotNil(t, snap.ActiveAt)
}

func TestConnectForcesControlLinesLow(t *testing.T) {
	h := newHarness(t)
	h.connect(testSettings())

	dtr, rts, set := h.port(0).ControlLines()
	assert.True(t, set)
	assert.False(t, dtr)
	assert.False(t, rts)
	mode := h.port(0).Mode()
	require.NotNil(t, mode)
	assert.Equal(t, 115200, mode.BaudRate)
}

func TestSendIgnoredUnlessActive(t *testing.T) {
	h := newHarness(t)

	assert.NoError(t, h.bridge.Send("before", model.InputModeText))

	h.connect(testSettings())
	assert.NoError(t, h.bridge.Send("settling", model.InputModeText))
	assert.NoError(t, h.bridge.Send("ABC", model.InputModeHex))

	h.waitState(model.StateActive)
	require.NoError(t, h.bridge.Disconnect())
	assert.NoError(t, h.bridge.Send("after", model.InputModeText))

	assert.Empty(t, h.port(0).Written())
	assert.Empty(t, filterLines(h.lines(), model.LineOutgoing))
}

func TestSendHexInput(t *testing.T) {
	h := newHarness(t)
	h.connect(testSettings())
	h.waitState(model.StateActive)

	err := h.bridge.Send("ABC", model.InputModeHex)
	var validationErr *ValidationError
	require.ErrorAs(t, err, &validationErr)

	require.NoError(t, h.bridge.Send("0A0D", model.InputModeHex))
	require.Eventually(t, func() bool {
		return bytes.Equal(h.port(0).Written(), []byte{0x0A, 0x0D, '\r', '\n'})
	}, time.Second, 5*time.Millisecond)

	assert.Equal(t, []string{"0A 0D"}, filterLines(h.lines(), model.LineOutgoing))
	assert.Equal(t, 1, h.port(0).WriteCount())
}

func TestSendTextUsesSessionDefaults(t *testing.T) {
	h := newHarness(t)
	settings := testSettings()
	settings.Newline = model.NewlineLF
	settings.LocalEcho = false
	h.connect(settings)
	h.waitState(model.StateActive)

	require.NoError(t, h.bridge.Send("AT+GMR", ""))
	require.Eventually(t, func() bool {
		return string(h.port(0).Written()) == "AT+GMR\n"
	}, time.Second, 5*time.Millisecond)
	assert.Empty(t, filterLines(h.lines(), model.LineOutgoing))
	assert.Equal(t, int64(7), h.bridge.Snapshot().Counters.BytesOut)
}

func TestDisconnectDuringSettling(t *testing.T) {
	h := newHarness(t)
	h.connect(testSettings())
	require.NoError(t, h.bridge.Disconnect())

	time.Sleep(4 * testQuietUnit)
	assert.Equal(t, model.StateClosed, h.bridge.State())
	assert.True(t, h.port(0).Closed())

	lines := h.lines()
	assert.NotContains(t, filterLines(lines, model.LineStatus), "Connected")
	assert.Equal(t, []model.Status{{Kind: model.StatusDisconnected, Detail: "disconnect requested"}}, h.statuses())
}

func TestDisconnectAnnounces(t *testing.T) {
	h := newHarness(t)
	h.connect(testSettings())
	h.waitState(model.StateActive)

	require.NoError(t, h.bridge.Disconnect())
	require.NoError(t, h.bridge.Disconnect())

	assert.Equal(t, model.StateClosed, h.bridge.State())
	assert.Equal(t, 1, h.port(0).CloseCalls())
	assert.Equal(t, []string{"Connected", "Disconnected"}, filterLines(h.lines(), model.LineStatus))
}

func TestDisconnectSilentWhenAnnounceDisabled(t *testing.T) {
	h := newHarness(t)
	settings := testSettings()
	settings.AnnounceDisconnect = false
	h.connect(settings)
	h.waitState(model.StateActive)

	require.NoError(t, h.bridge.Disconnect())
	assert.Equal(t, []string{"Connected"}, filterLines(h.lines(), model.LineStatus))

	statuses := h.statuses()
	require.Len(t, statuses, 2)
	assert.Equal(t, model.StatusDisconnected, statuses[1].Kind)
}

func TestIOErrorClosesSessionOnce(t *testing.T) {
	h := newHarness(t)
	h.connect(testSettings())
	h.waitState(model.StateActive)

	port := h.port(0)
	port.FailWrites(errors.New("write failed"))
	port.FailReads(errors.New("device unplugged"))
	require.NoError(t, h.bridge.Send("ping", model.InputModeText))

	h.waitState(model.StateClosed)
	require.Eventually(t, port.Closed, time.Second, 5*time.Millisecond)

	var lost []string
	for _, text := range filterLines(h.lines(), model.LineStatus) {
		if strings.HasPrefix(text, "Connection lost: ") {
			lost = append(lost, text)
		}
	}
	assert.Len(t, lost, 1)

	statuses := h.statuses()
	require.Len(t, statuses, 2)
	assert.Equal(t, model.StatusConnected, statuses[0].Kind)
	assert.Equal(t, model.StatusError, statuses[1].Kind)

	assert.NoError(t, h.bridge.Send("after", model.InputModeText))
	assert.NoError(t, h.bridge.Disconnect())
}

func TestConnectFailureReturnsToIdle(t *testing.T) {
	h := newHarness(t)
	h.openFail = errors.New("permission denied")

	err := h.bridge.Connect(context.Background(), "/dev/ttyUSB0", testSettings())
	var connErr *ConnectError
	require.ErrorAs(t, err, &connErr)
	assert.Equal(t, "/dev/ttyUSB0", connErr.Port)
	assert.Equal(t, model.StateIdle, h.bridge.State())

	assert.Equal(t, []string{"Connection failed: failed to open serial port: permission denied"},
		filterLines(h.lines(), model.LineStatus))
	statuses := h.statuses()
	require.Len(t, statuses, 1)
	assert.Equal(t, model.StatusError, statuses[0].Kind)

	h.mu.Lock()
	h.openFail = nil
	h.mu.Unlock()
	h.connect(testSettings())
	h.waitState(model.StateActive)
}

func TestConnectValidation(t *testing.T) {
	h := newHarness(t)

	var validationErr *ValidationError
	err := h.bridge.Connect(context.Background(), "", testSettings())
	require.ErrorAs(t, err, &validationErr)
	assert.Equal(t, "port", validationErr.Field)

	settings := testSettings()
	settings.DataBits = 9
	err = h.bridge.Connect(context.Background(), "/dev/ttyUSB0", settings)
	require.ErrorAs(t, err, &validationErr)
	assert.Equal(t, "data_bits", validationErr.Field)

	settings = testSettings()
	settings.Charset = "klingon"
	err = h.bridge.Connect(context.Background(), "/dev/ttyUSB0", settings)
	require.ErrorAs(t, err, &validationErr)
	assert.Equal(t, "charset", validationErr.Field)

	assert.Equal(t, model.StateIdle, h.bridge.State())
}

func TestReconnectResetsFramerAndDiscardsStaleSession(t *testing.T) {
	h := newHarness(t)
	h.connect(testSettings())
	h.waitState(model.StateActive)

	h.port(0).Inject([]byte("partial"))
	require.Eventually(t, func() bool {
		return h.bridge.Snapshot().Counters.BytesIn == int64(len("partial"))
	}, time.Second, 2*time.Millisecond)

	h.bridge.mu.Lock()
	stale := h.bridge.sess
	h.bridge.mu.Unlock()

	h.connect(testSettings())
	assert.True(t, h.port(0).Closed())
	h.waitState(model.StateActive)

	h.bridge.handleData(stale, []byte("stale\n"))
	h.bridge.handleIOError(stale, errors.New("late failure"))
	assert.Equal(t, model.StateActive, h.bridge.State())

	h.port(1).Inject([]byte("tail\n"))
	require.Eventually(t, func() bool {
		return len(filterLines(h.lines(), model.LineIncoming)) > 0
	}, time.Second, 5*time.Millisecond)

	assert.Equal(t, []string{"tail"}, filterLines(h.lines(), model.LineIncoming))

	statuses := h.statuses()
	kinds := make([]model.StatusKind, len(statuses))
	for i, st := range statuses {
		kinds[i] = st.Kind
	}
	assert.Equal(t, []model.StatusKind{
		model.StatusConnected,
		model.StatusDisconnected,
		model.StatusConnected,
	}, kinds)
}

func TestStatusEventsCarrySessionRecord(t *testing.T) {
	h := newHarness(t)
	h.connect(testSettings())
	h.waitState(model.StateActive)
	require.NoError(t, h.bridge.Disconnect())
	h.lines()

	var records []*model.SessionRecord
	for _, ev := range collect(h.events) {
		if ev.Kind == model.EventStatusChanged {
			records = append(records, ev.Session)
		}
	}
	require.Len(t, records, 2)
	require.NotNil(t, records[0])
	assert.Equal(t, model.StateActive, records[0].State)
	assert.Nil(t, records[0].ClosedAt)

	closed := records[1]
	require.NotNil(t, closed)
	assert.Equal(t, model.StateClosed, closed.State)
	require.NotNil(t, closed.ClosedAt)
	require.NotNil(t, closed.CloseReason)
	assert.Equal(t, "disconnect requested", *closed.CloseReason)
	assert.Equal(t, "/dev/ttyUSB0", closed.Port)
}
