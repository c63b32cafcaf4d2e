package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"serial-bridge/internal/bridge"
	"serial-bridge/internal/config"
	"serial-bridge/internal/discovery"
	"serial-bridge/internal/model"
	"serial-bridge/internal/protocol"
	"serial-bridge/internal/protocol/prototest"
	"serial-bridge/internal/repository"
)

type stubPorts struct {
	ports []discovery.PortInfo
	err   error
}

func (s stubPorts) ListPorts(ctx context.Context) ([]discovery.PortInfo, error) {
	return s.ports, s.err
}

func testConfig() *config.Config {
	return &config.Config{
		Serial: config.SerialConfig{DefaultPort: "/dev/ttyACM0"},
		Relay:  config.RelayConfig{MaxPendingLines: 100, SubscriberBuffer: 64},
		Terminal: model.Settings{
			ConnectionConfig: model.ConnectionConfig{
				BaudRate:           115200,
				DataBits:           8,
				StopBits:           1,
				Parity:             model.ParityNone,
				QuietPeriodSeconds: 1,
			},
			DisplayPrefs: model.DisplayPrefs{
				Charset:            "UTF-8",
				DisplayMode:        model.DisplayModeText,
				InputMode:          model.InputModeText,
				Newline:            model.NewlineLF,
				MaxLines:           50,
				LocalEcho:          true,
				AnnounceDisconnect: true,
			},
		},
	}
}

type fixture struct {
	svc      *BridgeService
	sessions repository.SessionRepository
	settings repository.SettingsRepository
	port     *prototest.FakePort
	opened   []string
}

// slowSessions delays every Save and remembers the requested list limits
type slowSessions struct {
	repository.SessionRepository
	delay time.Duration

	mu     sync.Mutex
	limits []int
}

func (s *slowSessions) Save(ctx context.Context, record *model.SessionRecord) error {
	time.Sleep(s.delay)
	return s.SessionRepository.Save(ctx, record)
}

func (s *slowSessions) List(ctx context.Context, limit int) ([]*model.SessionRecord, error) {
	s.mu.Lock()
	s.limits = append(s.limits, limit)
	s.mu.Unlock()
	return s.SessionRepository.List(ctx, limit)
}

func newFixture(t *testing.T) *fixture {
	return newFixtureWithSessions(t, repository.NewMemorySessionRepository(10))
}

func newFixtureWithSessions(t *testing.T, sessions repository.SessionRepository) *fixture {
	t.Helper()

	f := &fixture{
		sessions: sessions,
		settings: repository.NewMemorySettingsRepository(),
		port:     prototest.NewFakePort(),
	}

	cfg := testConfig()
	relay := bridge.NewEventRelay(bridge.RelayOptions{
		MaxPendingLines:  cfg.Relay.MaxPendingLines,
		SubscriberBuffer: cfg.Relay.SubscriberBuffer,
	}, zap.NewNop())
	relay.Start()
	t.Cleanup(relay.Stop)

	b := bridge.New(relay, zap.NewNop(),
		bridge.WithQuietPeriodUnit(20*time.Millisecond),
		bridge.WithTransportFactory(func(port string, c model.ConnectionConfig, logger *zap.Logger) bridge.Transport {
			f.opened = append(f.opened, port)
			return protocol.NewSerialTransport(port, c, protocol.TransportOptions{
				ReadTimeout: 2 * time.Millisecond,
				Opener:      f.port.Opener(),
			}, logger)
		}),
	)

	f.svc = NewBridgeService(b, relay, f.settings, f.sessions,
		stubPorts{ports: []discovery.PortInfo{{Name: "/dev/ttyUSB0", IsUSB: true}}},
		cfg, zap.NewNop())
	f.svc.Start()
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = f.svc.Shutdown(ctx)
	})
	return f
}

func TestResolveSettingsLayers(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	profile := f.svc.Defaults()
	profile.BaudRate = 9600
	profile.Newline = model.NewlineCRLF
	require.NoError(t, f.settings.Save(ctx, &model.SettingsProfile{Name: "avr", Settings: profile}))

	settings, err := f.svc.ResolveSettings(ctx, "avr", json.RawMessage(`{"newline":"CR","local_echo":false}`))
	require.NoError(t, err)
	assert.Equal(t, 9600, settings.BaudRate)
	assert.Equal(t, model.NewlineCR, settings.Newline)
	assert.False(t, settings.LocalEcho)
	assert.Equal(t, "UTF-8", settings.Charset)

	_, err = f.svc.ResolveSettings(ctx, "missing", nil)
	assert.ErrorIs(t, err, repository.ErrNotFound)

	_, err = f.svc.ResolveSettings(ctx, "", json.RawMessage(`{"baud_rate":"fast"}`))
	var verr *bridge.ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "settings", verr.Field)
}

func TestConnectUsesDefaultPort(t *testing.T) {
	f := newFixture(t)

	snap, err := f.svc.Connect(context.Background(), &ConnectRequest{})
	require.NoError(t, err)
	assert.Equal(t, "/dev/ttyACM0", snap.Port)
	assert.True(t, snap.State.IsLive())
	assert.Equal(t, []string{"/dev/ttyACM0"}, f.opened)
}

func TestConnectRejectsInvalidOverrides(t *testing.T) {
	f := newFixture(t)

	_, err := f.svc.Connect(context.Background(), &ConnectRequest{
		Port:     "/dev/ttyUSB0",
		Settings: json.RawMessage(`{"data_bits":9}`),
	})
	var verr *bridge.ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "data_bits", verr.Field)
	assert.Empty(t, f.opened)
}

func TestSessionHistoryRecorded(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.Connect(ctx, &ConnectRequest{Port: "/dev/ttyUSB0"})
	require.NoError(t, err)

	f.port.Inject([]byte("boot ok\n"))
	require.Eventually(t, func() bool {
		return f.svc.Status().State == model.StateActive
	}, 2*time.Second, 5*time.Millisecond)

	require.NoError(t, f.svc.Disconnect())

	require.Eventually(t, func() bool {
		records, err := f.svc.Sessions(ctx, 10)
		return err == nil && len(records) == 1 && records[0].ClosedAt != nil
	}, 2*time.Second, 5*time.Millisecond)

	records, err := f.svc.Sessions(ctx, 0)
	require.NoError(t, err)
	record := records[0]
	assert.Equal(t, "/dev/ttyUSB0", record.Port)
	assert.Equal(t, model.StateClosed, record.State)
	require.NotNil(t, record.ActiveAt)
	require.NotNil(t, record.CloseReason)
	assert.Equal(t, "disconnect requested", *record.CloseReason)
	assert.EqualValues(t, 8, record.BytesIn)
}

func TestSendAndLines(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.Connect(ctx, &ConnectRequest{Port: "/dev/ttyUSB0"})
	require.NoError(t, err)
	f.port.Inject([]byte("hi\n"))
	require.Eventually(t, func() bool {
		return f.svc.Status().State == model.StateActive
	}, 2*time.Second, 5*time.Millisecond)

	require.NoError(t, f.svc.Send(&SendRequest{Text: "AT"}))
	require.Eventually(t, func() bool {
		return string(f.port.Written()) == "AT\n"
	}, time.Second, 5*time.Millisecond)

	require.NoError(t, f.svc.relay.Flush(ctx))
	var outgoing []string
	for _, line := range f.svc.Lines(0) {
		if line.Kind == model.LineOutgoing {
			outgoing = append(outgoing, line.Text)
		}
	}
	assert.Equal(t, []string{"AT"}, outgoing)

	require.NoError(t, f.svc.ClearLines(ctx))
	assert.Empty(t, f.svc.Lines(0))
}

func TestSaveProfileValidation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.SaveProfile(ctx, " ", nil)
	var verr *bridge.ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "name", verr.Field)

	_, err = f.svc.SaveProfile(ctx, "bad", json.RawMessage(`{"parity":"mark"}`))
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "parity", verr.Field)

	profile, err := f.svc.SaveProfile(ctx, "slow", json.RawMessage(`{"baud_rate":9600}`))
	require.NoError(t, err)
	assert.Equal(t, 9600, profile.Settings.BaudRate)
	assert.Equal(t, model.NewlineLF, profile.Settings.Newline)

	profiles, err := f.svc.ListProfiles(ctx)
	require.NoError(t, err)
	require.Len(t, profiles, 1)

	require.NoError(t, f.svc.DeleteProfile(ctx, "slow"))
	_, err = f.svc.GetProfile(ctx, "slow")
	assert.True(t, errors.Is(err, repository.ErrNotFound))
}

func TestListPorts(t *testing.T) {
	f := newFixture(t)

	ports, err := f.svc.ListPorts(context.Background())
	require.NoError(t, err)
	require.Len(t, ports, 1)
	assert.Equal(t, "/dev/ttyUSB0", ports[0].Name)
}

func waitActive(t *testing.T, f *fixture) {
	t.Helper()
	require.Eventually(t, func() bool {
		return f.svc.Status().State == model.StateActive
	}, 2*time.Second, 5*time.Millisecond)
}

func TestSessionHistoryKeepsFinalRecordUnderLoad(t *testing.T) {
	store := &slowSessions{SessionRepository: repository.NewMemorySessionRepository(10), delay: 250 * time.Millisecond}
	f := newFixtureWithSessions(t, store)
	ctx := context.Background()

	_, err := f.svc.Connect(ctx, &ConnectRequest{Port: "/dev/ttyUSB0"})
	require.NoError(t, err)
	f.port.Inject([]byte("boot\n"))
	waitActive(t, f)

	for i := 0; i < 20; i++ {
		var flood strings.Builder
		for j := 0; j < 20; j++ {
			fmt.Fprintf(&flood, "line %d-%d\n", i, j)
		}
		f.port.Inject([]byte(flood.String()))
	}
	require.NoError(t, f.svc.Disconnect())

	require.Eventually(t, func() bool {
		records, err := f.sessions.List(ctx, 10)
		return err == nil && len(records) == 1 && records[0].ClosedAt != nil
	}, 5*time.Second, 10*time.Millisecond)

	records, err := f.sessions.List(ctx, 10)
	require.NoError(t, err)
	assert.Equal(t, model.StateClosed, records[0].State)
	require.NotNil(t, records[0].CloseReason)
	assert.Equal(t, "disconnect requested", *records[0].CloseReason)
}

func TestShutdownRecordsFinalSession(t *testing.T) {
	store := &slowSessions{SessionRepository: repository.NewMemorySessionRepository(10), delay: 50 * time.Millisecond}
	f := newFixtureWithSessions(t, store)
	ctx := context.Background()

	_, err := f.svc.Connect(ctx, &ConnectRequest{Port: "/dev/ttyUSB0"})
	require.NoError(t, err)
	f.port.Inject([]byte("boot\n"))
	waitActive(t, f)

	shutdownCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	require.NoError(t, f.svc.Shutdown(shutdownCtx))

	records, err := f.sessions.List(ctx, 10)
	require.NoError(t, err)
	require.Len(t, records, 1)
	require.NotNil(t, records[0].ClosedAt)
	require.NotNil(t, records[0].CloseReason)
	assert.Equal(t, "bridge shutting down", *records[0].CloseReason)
}

func TestSessionsLimitBounds(t *testing.T) {
	store := &slowSessions{SessionRepository: repository.NewMemorySessionRepository(10)}
	f := newFixtureWithSessions(t, store)
	ctx := context.Background()

	for _, limit := range []int{0, -3, 20, 500, 501, 10000} {
		_, err := f.svc.Sessions(ctx, limit)
		require.NoError(t, err)
	}

	store.mu.Lock()
	defer store.mu.Unlock()
	assert.Equal(t, []int{50, 50, 20, 500, 500, 500}, store.limits)
}
