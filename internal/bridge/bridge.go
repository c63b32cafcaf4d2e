// internal/bridge/bridge.go
package bridge

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"serial-bridge/internal/framing"
	"serial-bridge/internal/model"
	"serial-bridge/internal/protocol"
	"serial-bridge/internal/utils"
)

// Status line texts
const (
	lineConnected    = "Connected"
	lineDisconnected = "Disconnected"
)

// Transport is the port handle of one session
type Transport interface {
	Open(ctx context.Context) error
	Start(onData func([]byte), onError func(error)) error
	Write(data []byte)
	Close() error
	IsOpen() bool
	Stats() protocol.ProtocolStats
}

// TransportFactory creates the transport for a connect attempt
type TransportFactory func(port string, config model.ConnectionConfig, logger *zap.Logger) Transport

// Option configures a Bridge
type Option func(*Bridge)

// WithTransportFactory replaces the serial transport
func WithTransportFactory(factory TransportFactory) Option {
	return func(b *Bridge) {
		b.factory = factory
	}
}

// WithSerialOptions tunes the default serial transport
func WithSerialOptions(opts protocol.TransportOptions) Option {
	return func(b *Bridge) {
		b.serialOpts = opts
	}
}

// WithQuietPeriodUnit sets the duration of one quiet period step
func WithQuietPeriodUnit(unit time.Duration) Option {
	return func(b *Bridge) {
		if unit > 0 {
			b.quietUnit = unit
		}
	}
}

type session struct {
	id        uuid.UUID
	port      string
	settings  model.Settings
	transport Transport
	gate      *QuietPeriodGate
	framer    *framing.ByteFramer
	log       *utils.SessionLogger
	openedAt  time.Time
	activeAt  *time.Time
	counters  model.SessionCounters
	released  chan struct{}
}

// Snapshot is a point-in-time view of the bridge
type Snapshot struct {
	State     model.ConnectionState   `json:"state"`
	SessionID *uuid.UUID              `json:"session_id,omitempty"`
	Port      string                  `json:"port,omitempty"`
	Settings  *model.Settings         `json:"settings,omitempty"`
	OpenedAt  *time.Time              `json:"opened_at,omitempty"`
	ActiveAt  *time.Time              `json:"active_at,omitempty"`
	Counters  model.SessionCounters   `json:"counters"`
	Transport *protocol.ProtocolStats `json:"transport,omitempty"`
	Relay     RelayStats              `json:"relay"`
}

// Bridge is the connection state machine. It owns at most one session at a
// time and is the only component that decides to tear a session down.
type Bridge struct {
	relay      *EventRelay
	logger     *zap.Logger
	factory    TransportFactory
	serialOpts protocol.TransportOptions
	quietUnit  time.Duration

	// opMu serializes Connect and Disconnect; mu guards everything below.
	// Relay publishes happen under mu so relay order is transition order.
	opMu    sync.Mutex
	mu      sync.Mutex
	state   model.ConnectionState
	sess    *session
	release chan struct{}
}

// New creates an idle bridge publishing to relay
func New(relay *EventRelay, logger *zap.Logger, opts ...Option) *Bridge {
	b := &Bridge{
		relay:      relay,
		logger:     logger.With(zap.String("component", "bridge")),
		serialOpts: protocol.DefaultTransportOptions(),
		quietUnit:  time.Second,
		state:      model.StateIdle,
	}
	for _, opt := range opts {
		opt(b)
	}

	if b.factory == nil {
		serialOpts := b.serialOpts
		b.factory = func(port string, config model.ConnectionConfig, logger *zap.Logger) Transport {
			return protocol.NewSerialTransport(port, config, serialOpts, logger)
		}
	}
	return b
}

// Connect opens port with settings frozen for the session. It returns once the
// port is open and the quiet period is armed; the session becomes active
// later. A live session is torn down first.
func (b *Bridge) Connect(ctx context.Context, port string, settings model.Settings) error {
	if port == "" {
		return &ValidationError{Field: "port", Err: errors.New("is required")}
	}
	if err := settings.Validate(); err != nil {
		return newValidationError(err)
	}
	decoder, err := framing.NewDecoder(settings.DisplayMode, settings.Charset)
	if err != nil {
		return &ValidationError{Field: "charset", Err: err}
	}

	b.opMu.Lock()
	defer b.opMu.Unlock()

	if err := b.disconnect("superseded by a new connection"); err != nil {
		b.logger.Warn("Failed to release previous session cleanly", zap.Error(err))
	}
	if err := b.awaitRelease(ctx); err != nil {
		return &ConnectError{Port: port, Err: err}
	}

	sess := b.newSession(port, settings, decoder)

	b.mu.Lock()
	if b.state == model.StateClosed || b.state == model.StateError {
		b.transition(sess, model.StateIdle, nil)
	}
	b.sess = sess
	b.transition(sess, model.StateOpening, nil)
	b.relay.SetCapacity(settings.MaxLines)
	b.mu.Unlock()

	if err := sess.transport.Open(ctx); err != nil {
		return b.failConnect(sess, err)
	}

	b.mu.Lock()
	err = sess.transport.Start(
		func(chunk []byte) { b.handleData(sess, chunk) },
		func(err error) { go b.handleIOError(sess, err) },
	)
	if err != nil {
		b.mu.Unlock()
		return b.failConnect(sess, err)
	}

	b.transition(sess, model.StateSettling, nil)
	quiet := time.Duration(settings.QuietPeriodSeconds) * b.quietUnit
	sess.gate.Configure(quiet)
	if err := sess.gate.Arm(sess.transport.IsOpen, func() { b.handleReady(sess) }); err != nil {
		b.mu.Unlock()
		return b.failConnect(sess, err)
	}
	b.mu.Unlock()

	sess.log.LogConnection("open", true, nil)
	sess.log.Debug("Quiet period armed", zap.Duration("quiet_period", quiet))
	return nil
}

// failConnect reports a failed connect attempt and returns to Idle
func (b *Bridge) failConnect(sess *session, cause error) error {
	if err := sess.transport.Close(); err != nil {
		sess.log.Warn("Failed to release port after connect failure", zap.Error(err))
	}
	connErr := &ConnectError{Port: sess.port, Err: cause}

	b.mu.Lock()
	sess.gate.Cancel()
	b.publishLine(sess, model.LineStatus, "Connection failed: "+cause.Error())
	b.transition(sess, model.StateError, connErr)
	b.publishStatus(sess, model.Status{Kind: model.StatusError, Detail: cause.Error()}, "connect failed")
	b.transition(sess, model.StateIdle, nil)
	b.detach(sess)
	b.mu.Unlock()

	close(sess.released)
	sess.log.LogConnection("open", false, cause)
	return connErr
}

// Disconnect closes the live session, if any. The quiet period timer and the
// transport workers are stopped before the OS handle is released.
func (b *Bridge) Disconnect() error {
	b.opMu.Lock()
	defer b.opMu.Unlock()
	return b.disconnect("disconnect requested")
}

// disconnect requires opMu
func (b *Bridge) disconnect(reason string) error {
	b.mu.Lock()
	sess := b.sess
	if sess == nil || !b.state.IsLive() {
		b.mu.Unlock()
		return nil
	}

	sess.gate.Cancel()
	if sess.settings.AnnounceDisconnect {
		b.publishLine(sess, model.LineStatus, lineDisconnected)
	}
	b.transition(sess, model.StateClosed, nil)
	b.publishStatus(sess, model.Status{Kind: model.StatusDisconnected, Detail: reason}, reason)
	b.detach(sess)
	counters := sess.counters
	b.mu.Unlock()

	err := sess.transport.Close()
	close(sess.released)

	sess.log.LogConnection("close", err == nil, err)
	sess.log.LogTraffic(counters.BytesIn, counters.BytesOut, counters.BytesDropped, counters.LinesIn, time.Since(sess.openedAt))
	if err != nil {
		return fmt.Errorf("failed to release port %s: %w", sess.port, err)
	}
	return nil
}

// Send transmits text on the active session. Outside the Active state it does
// nothing. Hex input that does not parse fails with a ValidationError and
// nothing is written. An empty mode uses the session's input mode.
func (b *Bridge) Send(text string, mode model.InputMode) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	sess := b.sess
	if sess == nil || b.state != model.StateActive {
		return nil
	}
	if mode == "" {
		mode = sess.settings.InputMode
	}

	payload, err := framing.EncodeOutbound(text, mode, sess.settings.Newline)
	if err != nil {
		return &ValidationError{Field: "input", Err: err}
	}

	if sess.settings.LocalEcho {
		echo := text
		if mode == model.InputModeHex {
			echo = framing.RenderHex(payload[:len(payload)-len(sess.settings.Newline.Bytes())])
		}
		if echo != "" {
			b.publishLine(sess, model.LineOutgoing, echo)
		}
	}

	sess.counters.BytesOut += int64(len(payload))
	sess.transport.Write(payload)
	return nil
}

// State returns the current connection state
func (b *Bridge) State() model.ConnectionState {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Snapshot returns the state and the live session's details
func (b *Bridge) Snapshot() Snapshot {
	b.mu.Lock()
	snap := Snapshot{State: b.state}
	sess := b.sess
	if sess != nil {
		id := sess.id
		settings := sess.settings
		openedAt := sess.openedAt
		snap.SessionID = &id
		snap.Port = sess.port
		snap.Settings = &settings
		snap.OpenedAt = &openedAt
		snap.ActiveAt = sess.activeAt
		snap.Counters = sess.counters
	}
	b.mu.Unlock()

	if sess != nil {
		stats := sess.transport.Stats()
		snap.Transport = &stats
	}
	snap.Relay = b.relay.Stats()
	return snap
}

// Close disconnects and waits for any pending port release
func (b *Bridge) Close(ctx context.Context) error {
	b.opMu.Lock()
	defer b.opMu.Unlock()

	err := b.disconnect("bridge shutting down")
	if waitErr := b.awaitRelease(ctx); waitErr != nil && err == nil {
		err = waitErr
	}
	return err
}

func (b *Bridge) newSession(port string, settings model.Settings, decoder *framing.Decoder) *session {
	id := uuid.New()
	log := utils.NewSessionLogger(b.logger, id.String(), port)
	return &session{
		id:        id,
		port:      port,
		settings:  settings,
		transport: b.factory(port, settings.ConnectionConfig, log.Logger),
		gate:      NewQuietPeriodGate(0),
		framer:    framing.NewByteFramer(decoder, settings.MaxLineBytes),
		log:       log,
		openedAt:  time.Now(),
		released:  make(chan struct{}),
	}
}

// handleData runs on the session's read worker
func (b *Bridge) handleData(sess *session, chunk []byte) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.sess != sess {
		return
	}

	n := int64(len(chunk))
	sess.counters.BytesIn += n

	if sess.gate.OnData(chunk) == Dropped {
		sess.counters.BytesDropped += n
		chunks, bytes := sess.gate.Dropped()
		sess.log.LogDropped("quiet period", chunks, bytes)
		return
	}

	// The gate opened but its ready callback has not run yet
	if b.state == model.StateSettling {
		b.activate(sess)
	}
	if b.state != model.StateActive {
		return
	}

	texts := sess.framer.Feed(chunk)
	if len(texts) == 0 {
		return
	}
	sess.counters.LinesIn += int64(len(texts))

	now := time.Now()
	lines := make([]model.TerminalLine, len(texts))
	for i, text := range texts {
		lines[i] = model.TerminalLine{SessionID: sess.id, Kind: model.LineIncoming, Text: text, Timestamp: now}
	}
	b.relay.PublishLines(sess.id, lines)
}

// handleReady runs on the gate's timer goroutine
func (b *Bridge) handleReady(sess *session) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.sess != sess || b.state != model.StateSettling {
		return
	}
	b.activate(sess)
}

// activate requires mu
func (b *Bridge) activate(sess *session) {
	now := time.Now()
	sess.activeAt = &now
	b.transition(sess, model.StateActive, nil)
	b.publishLine(sess, model.LineStatus, lineConnected)
	b.publishStatus(sess, model.Status{Kind: model.StatusConnected}, "")

	chunks, bytes := sess.gate.Dropped()
	if chunks > 0 {
		sess.log.Info("Quiet period discarded inbound data",
			zap.Int64("chunks", chunks),
			zap.Int64("bytes", bytes),
		)
	}
}

// handleIOError is dispatched on its own goroutine by the transport's error callback
func (b *Bridge) handleIOError(sess *session, cause error) {
	b.mu.Lock()
	if b.sess != sess || !b.state.IsLive() {
		b.mu.Unlock()
		sess.log.Debug("Suppressed I/O error from closed session", zap.Error(cause))
		return
	}

	ioErr := &IOError{SessionID: sess.id, Err: cause}
	sess.gate.Cancel()
	b.publishLine(sess, model.LineStatus, "Connection lost: "+cause.Error())
	b.transition(sess, model.StateError, ioErr)
	b.publishStatus(sess, model.Status{Kind: model.StatusError, Detail: cause.Error()}, "io error: "+cause.Error())
	b.transition(sess, model.StateClosed, nil)
	b.detach(sess)
	counters := sess.counters
	b.mu.Unlock()

	if err := sess.transport.Close(); err != nil {
		sess.log.Warn("Failed to release port after I/O error", zap.Error(err))
	}
	close(sess.released)
	sess.log.LogTraffic(counters.BytesIn, counters.BytesOut, counters.BytesDropped, counters.LinesIn, time.Since(sess.openedAt))
}

// detach requires mu. The session's port may still be releasing; the next
// Connect waits for it.
func (b *Bridge) detach(sess *session) {
	if b.sess == sess {
		b.sess = nil
	}
	sess.framer.Reset()
	b.release = sess.released
}

func (b *Bridge) awaitRelease(ctx context.Context) error {
	b.mu.Lock()
	release := b.release
	b.mu.Unlock()

	if release == nil {
		return nil
	}
	select {
	case <-release:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("waiting for previous port release: %w", ctx.Err())
	}
}

// transition requires mu
func (b *Bridge) transition(sess *session, to model.ConnectionState, err error) {
	from := b.state
	b.state = to
	sess.log.LogTransition(string(from), string(to), err)
}

// publishLine requires mu
func (b *Bridge) publishLine(sess *session, kind model.LineKind, text string) {
	b.relay.PublishLines(sess.id, []model.TerminalLine{{
		SessionID: sess.id,
		Kind:      kind,
		Text:      text,
		Timestamp: time.Now(),
	}})
}

// publishStatus requires mu. A non-empty closeReason marks the session finished.
func (b *Bridge) publishStatus(sess *session, status model.Status, closeReason string) {
	record := model.SessionRecord{
		ID:              sess.id,
		Port:            sess.port,
		Settings:        sess.settings,
		State:           b.state,
		OpenedAt:        sess.openedAt,
		ActiveAt:        sess.activeAt,
		SessionCounters: sess.counters,
	}
	if closeReason != "" {
		record.Finish(time.Now(), closeReason, sess.counters)
	}
	b.relay.PublishStatus(sess.id, status, &record)
}

func newValidationError(err error) error {
	var fieldErr *model.FieldError
	if errors.As(err, &fieldErr) {
		return &ValidationError{Field: fieldErr.Field, Err: errors.New(fieldErr.Message)}
	}
	return &ValidationError{Err: err}
}
