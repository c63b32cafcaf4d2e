// internal/service/bridge_service.go
package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"serial-bridge/internal/bridge"
	"serial-bridge/internal/config"
	"serial-bridge/internal/discovery"
	"serial-bridge/internal/model"
	"serial-bridge/internal/repository"
	"serial-bridge/internal/utils"
)

const (
	defaultSessionLimit = 50
	maxSessionLimit     = 500
)

// ConnectRequest selects a port and settings. Settings are resolved as
// defaults, then the named profile, then the fields present in Settings.
type ConnectRequest struct {
	Port     string          `json:"port"`
	Profile  string          `json:"profile,omitempty"`
	Settings json.RawMessage `json:"settings,omitempty" swaggertype:"object"`
}

// SendRequest is one line of user input
type SendRequest struct {
	Text string          `json:"text"`
	Mode model.InputMode `json:"mode,omitempty"`
}

// BridgeService wires the bridge to the settings store and session history
type BridgeService struct {
	bridge       *bridge.Bridge
	relay        *bridge.EventRelay
	settingsRepo repository.SettingsRepository
	sessionRepo  repository.SessionRepository
	ports        discovery.PortLister
	config       *config.Config
	logger       *utils.ServiceLogger

	mu          sync.Mutex
	unsubscribe func()
	done        chan struct{}
}

// NewBridgeService creates a new bridge service instance
func NewBridgeService(
	b *bridge.Bridge,
	relay *bridge.EventRelay,
	settingsRepo repository.SettingsRepository,
	sessionRepo repository.SessionRepository,
	ports discovery.PortLister,
	config *config.Config,
	logger *zap.Logger,
) *BridgeService {
	return &BridgeService{
		bridge:       b,
		relay:        relay,
		settingsRepo: settingsRepo,
		sessionRepo:  sessionRepo,
		ports:        ports,
		config:       config,
		logger:       utils.NewServiceLogger(logger, "bridge-service"),
	}
}

// Start begins recording session history from relay status events
func (s *BridgeService) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.unsubscribe != nil {
		return
	}

	events, unsubscribe := s.relay.Subscribe(s.config.Relay.SubscriberBuffer)
	s.unsubscribe = unsubscribe
	s.done = make(chan struct{})
	go s.recordSessions(events, s.done)
}

// Stop stops recording session history
func (s *BridgeService) Stop() {
	s.mu.Lock()
	unsubscribe, done := s.unsubscribe, s.done
	s.unsubscribe = nil
	s.mu.Unlock()

	if unsubscribe == nil {
		return
	}
	unsubscribe()
	<-done
}

func (s *BridgeService) recordSessions(events <-chan model.Event, done chan struct{}) {
	defer close(done)

	for ev := range events {
		if ev.Kind != model.EventStatusChanged || ev.Session == nil {
			continue
		}

		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := s.sessionRepo.Save(ctx, ev.Session); err != nil {
			s.logger.Error("Failed to record session",
				zap.String("session_id", ev.SessionID.String()),
				zap.Error(err),
			)
		}
		cancel()
	}
}

// Defaults returns the configured default settings
func (s *BridgeService) Defaults() model.Settings {
	return s.config.Terminal
}

// ResolveSettings layers defaults, an optional profile and optional overrides
func (s *BridgeService) ResolveSettings(ctx context.Context, profile string, overrides json.RawMessage) (model.Settings, error) {
	settings := s.Defaults()

	if profile != "" {
		p, err := s.settingsRepo.Get(ctx, profile)
		if err != nil {
			return model.Settings{}, err
		}
		settings = p.Settings
	}

	if len(overrides) > 0 && string(overrides) != "null" {
		if err := json.Unmarshal(overrides, &settings); err != nil {
			return model.Settings{}, &bridge.ValidationError{Field: "settings", Err: err}
		}
	}

	return settings, nil
}

// Connect resolves settings and opens the port
func (s *BridgeService) Connect(ctx context.Context, req *ConnectRequest) (bridge.Snapshot, error) {
	settings, err := s.ResolveSettings(ctx, req.Profile, req.Settings)
	if err != nil {
		return bridge.Snapshot{}, err
	}

	port := strings.TrimSpace(req.Port)
	if port == "" {
		port = s.config.Serial.DefaultPort
	}

	startTime := time.Now()
	if err := s.bridge.Connect(ctx, port, settings); err != nil {
		s.logger.Warn("Connect failed", zap.String("port", port), zap.Error(err))
		return bridge.Snapshot{}, err
	}

	s.logger.Info("Port connected",
		zap.String("port", port),
		zap.String("profile", req.Profile),
		zap.Duration("duration", time.Since(startTime)),
	)
	return s.bridge.Snapshot(), nil
}

// Disconnect closes the live session
func (s *BridgeService) Disconnect() error {
	return s.bridge.Disconnect()
}

// Send forwards user input to the bridge
func (s *BridgeService) Send(req *SendRequest) error {
	return s.bridge.Send(req.Text, req.Mode)
}

// Status returns the bridge snapshot
func (s *BridgeService) Status() bridge.Snapshot {
	return s.bridge.Snapshot()
}

// Lines returns retained terminal lines after the given sequence number
func (s *BridgeService) Lines(since uint64) []model.TerminalLine {
	return s.relay.Lines(since)
}

// ClearLines empties the terminal line buffer
func (s *BridgeService) ClearLines(ctx context.Context) error {
	return s.relay.Clear(ctx)
}

// Subscribe registers a relay subscriber
func (s *BridgeService) Subscribe(buffer int) (<-chan model.Event, func()) {
	return s.relay.Subscribe(buffer)
}

// ListPorts lists the serial ports visible to the host
func (s *BridgeService) ListPorts(ctx context.Context) ([]discovery.PortInfo, error) {
	return s.ports.ListPorts(ctx)
}

// ListProfiles returns all stored settings profiles
func (s *BridgeService) ListProfiles(ctx context.Context) ([]*model.SettingsProfile, error) {
	return s.settingsRepo.List(ctx)
}

// GetProfile returns one settings profile
func (s *BridgeService) GetProfile(ctx context.Context, name string) (*model.SettingsProfile, error) {
	return s.settingsRepo.Get(ctx, name)
}

// SaveProfile validates and stores a settings profile. Fields missing from
// raw keep their default values.
func (s *BridgeService) SaveProfile(ctx context.Context, name string, raw json.RawMessage) (*model.SettingsProfile, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, &bridge.ValidationError{Field: "name", Err: errors.New("is required")}
	}

	settings, err := s.ResolveSettings(ctx, "", raw)
	if err != nil {
		return nil, err
	}
	if err := settings.Validate(); err != nil {
		var fieldErr *model.FieldError
		if errors.As(err, &fieldErr) {
			return nil, &bridge.ValidationError{Field: fieldErr.Field, Err: errors.New(fieldErr.Message)}
		}
		return nil, &bridge.ValidationError{Err: err}
	}

	profile := &model.SettingsProfile{Name: name, Settings: settings}
	if err := s.settingsRepo.Save(ctx, profile); err != nil {
		return nil, fmt.Errorf("failed to save profile: %w", err)
	}

	s.logger.Info("Settings profile saved", zap.String("name", name))
	return profile, nil
}

// DeleteProfile removes a settings profile
func (s *BridgeService) DeleteProfile(ctx context.Context, name string) error {
	return s.settingsRepo.Delete(ctx, name)
}

// Sessions returns the newest session records
func (s *BridgeService) Sessions(ctx context.Context, limit int) ([]*model.SessionRecord, error) {
	switch {
	case limit <= 0:
		limit = defaultSessionLimit
	case limit > maxSessionLimit:
		limit = maxSessionLimit
	}
	return s.sessionRepo.List(ctx, limit)
}

// Shutdown disconnects the bridge, stops the relay and waits for session
// history to record the final status events
func (s *BridgeService) Shutdown(ctx context.Context) error {
	err := s.bridge.Close(ctx)
	s.relay.Stop()

	s.mu.Lock()
	done := s.done
	s.mu.Unlock()
	if done != nil {
		select {
		case <-done:
		case <-ctx.Done():
			if err == nil {
				err = fmt.Errorf("waiting for session history: %w", ctx.Err())
			}
		}
	}

	s.Stop()
	return err
}
