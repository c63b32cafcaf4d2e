// cmd/server/main.go
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	_ "serial-bridge/docs"
	"serial-bridge/internal/bridge"
	"serial-bridge/internal/config"
	"serial-bridge/internal/database"
	"serial-bridge/internal/discovery"
	"serial-bridge/internal/protocol"
	"serial-bridge/internal/repository"
	"serial-bridge/internal/routes"
	"serial-bridge/internal/service"
	"serial-bridge/internal/utils"
)

// sessionHistoryLimit bounds in-memory session history
const sessionHistoryLimit = 200

// Application represents the main application
type Application struct {
	config   *config.Config
	logger   *zap.Logger
	server   *http.Server
	router   *routes.Router
	database *database.DB

	// Bridge core
	relay  *bridge.EventRelay
	bridge *bridge.Bridge

	// Services
	bridgeService *service.BridgeService

	// Repositories
	settingsRepo repository.SettingsRepository
	sessionRepo  repository.SessionRepository
}

// @title Serial Bridge API
// @version 1.0.0
// @description Host-side bridge between a USB serial device and terminal clients

// @license.name MIT
// @license.url https://opensource.org/licenses/MIT

// @host localhost:8085
// @BasePath /api/v1
func main() {
	configPath := flag.String("config", "", "path to config file")
	migrateCmd := flag.String("migrate", "", "run a migration command (up, down, version) and exit")
	flag.Parse()

	if *migrateCmd != "" {
		if err := runMigration(*configPath, *migrateCmd); err != nil {
			fmt.Printf("Migration failed: %v\n", err)
			os.Exit(1)
		}
		return
	}

	app, err := NewApplication(*configPath)
	if err != nil {
		fmt.Printf("Failed to initialize application: %v\n", err)
		os.Exit(1)
	}

	if err := app.Start(); err != nil {
		app.logger.Fatal("Failed to start application", zap.Error(err))
	}
}

// NewApplication creates a new application instance
func NewApplication(configPath string) (*Application, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	logger, err := utils.NewLogger(&cfg.Logging)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}

	serviceLogger := utils.NewServiceLogger(logger, cfg.App.Name)
	serviceLogger.LogServiceStart(cfg.App.Version, cfg)

	app := &Application{
		config: cfg,
		logger: logger,
	}

	if err := app.initializeDatabase(); err != nil {
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}

	app.initializeRepositories()
	app.initializeBridge()
	app.initializeServices()
	app.initializeServer()

	return app, nil
}

// initializeDatabase connects to postgres and runs migrations when enabled
func (app *Application) initializeDatabase() error {
	if !app.config.Database.Enabled {
		app.logger.Info("Database disabled, using in-memory storage")
		return nil
	}

	db, err := database.NewConnection(&app.config.Database, app.logger)
	if err != nil {
		return fmt.Errorf("failed to create database connection: %w", err)
	}
	app.database = db

	if app.config.Database.AutoMigrate {
		migrator := database.NewMigrator(&app.config.Database, app.logger)
		if err := migrator.Up(); err != nil {
			return fmt.Errorf("failed to run database migrations: %w", err)
		}
	}

	app.logger.Info("Database initialized successfully")
	return nil
}

// runMigration executes a single migration command against the configured
// database
func runMigration(configPath, command string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	logger, err := utils.NewLogger(&cfg.Logging)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer utils.CloseLogger(logger)

	migrator := database.NewMigrator(&cfg.Database, logger)
	switch command {
	case "up":
		return migrator.Up()
	case "down":
		return migrator.Down()
	case "version":
		version, dirty, err := migrator.Version()
		if err != nil {
			return err
		}
		fmt.Printf("version=%d dirty=%t\n", version, dirty)
		return nil
	default:
		return fmt.Errorf("unknown migration command %q", command)
	}
}

// initializeRepositories creates repository instances
func (app *Application) initializeRepositories() {
	if app.database != nil {
		app.settingsRepo = repository.NewSettingsRepository(app.database, app.logger)
		app.sessionRepo = repository.NewSessionRepository(app.database, app.logger)
	} else {
		app.settingsRepo = repository.NewMemorySettingsRepository()
		app.sessionRepo = repository.NewMemorySessionRepository(sessionHistoryLimit)
	}

	app.logger.Info("Repositories initialized successfully")
}

// initializeBridge creates the event relay and the connection state machine
func (app *Application) initializeBridge() {
	relayOpts := bridge.DefaultRelayOptions()
	relayOpts.Capacity = app.config.Terminal.MaxLines
	relayOpts.MaxPendingLines = app.config.Relay.MaxPendingLines
	relayOpts.SubscriberBuffer = app.config.Relay.SubscriberBuffer

	app.relay = bridge.NewEventRelay(relayOpts, app.logger)
	app.relay.Start()

	app.bridge = bridge.New(app.relay, app.logger,
		bridge.WithSerialOptions(protocol.TransportOptions{
			ReadTimeout:    app.config.Serial.ReadTimeout,
			ReadBufferSize: app.config.Serial.ReadBufferSize,
			WriteQueueSize: app.config.Serial.WriteQueueSize,
		}),
	)

	app.logger.Info("Bridge initialized successfully",
		zap.Int("line_capacity", relayOpts.Capacity),
		zap.Int("max_pending_lines", relayOpts.MaxPendingLines),
	)
}

// initializeServices creates service instances
func (app *Application) initializeServices() {
	app.bridgeService = service.NewBridgeService(
		app.bridge,
		app.relay,
		app.settingsRepo,
		app.sessionRepo,
		discovery.NewScanner(app.logger),
		app.config,
		app.logger,
	)
	app.bridgeService.Start()

	app.logger.Info("Services initialized successfully")
}

// initializeServer sets up HTTP server
func (app *Application) initializeServer() {
	app.router = routes.NewRouter(app.config, app.logger, app.database, app.bridgeService)

	app.server = &http.Server{
		Addr:         app.config.GetServerAddr(),
		Handler:      app.router.SetupRouter(),
		ReadTimeout:  app.config.Server.ReadTimeout,
		WriteTimeout: app.config.Server.WriteTimeout,
		IdleTimeout:  app.config.Server.IdleTimeout,
	}

	app.logger.Info("HTTP server initialized", zap.String("address", app.server.Addr))
}

// Start runs the HTTP server and blocks until a shutdown signal arrives
func (app *Application) Start() error {
	go func() {
		app.logger.Info("Starting HTTP server",
			zap.String("address", app.server.Addr),
		)

		var err error
		if app.config.Server.TLS.Enabled {
			err = app.server.ListenAndServeTLS(
				app.config.Server.TLS.CertFile,
				app.config.Server.TLS.KeyFile,
			)
		} else {
			err = app.server.ListenAndServe()
		}

		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			app.logger.Fatal("Failed to start HTTP server", zap.Error(err))
		}
	}()

	app.waitForShutdown()
	return nil
}

// waitForShutdown waits for shutdown signal and performs graceful shutdown
func (app *Application) waitForShutdown() {
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	sig := <-quit
	app.logger.Info("Received shutdown signal", zap.String("signal", sig.String()))

	app.shutdown()
}

// shutdown releases the port before stopping the relay so the final status
// events reach session history
func (app *Application) shutdown() {
	serviceLogger := utils.NewServiceLogger(app.logger, app.config.App.Name)
	serviceLogger.LogServiceStop("shutdown signal received")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	app.router.Close()
	if err := app.server.Shutdown(ctx); err != nil {
		app.logger.Error("HTTP server shutdown error", zap.Error(err))
	} else {
		app.logger.Info("HTTP server stopped")
	}

	if err := app.bridgeService.Shutdown(ctx); err != nil {
		app.logger.Error("Bridge shutdown error", zap.Error(err))
	} else {
		app.logger.Info("Bridge stopped")
	}
	app.relay.Stop()

	if app.database != nil {
		if err := app.database.Close(); err != nil {
			app.logger.Error("Database close error", zap.Error(err))
		} else {
			app.logger.Info("Database connection closed")
		}
	}

	app.logger.Info("Application shutdown completed")

	if err := utils.CloseLogger(app.logger); err != nil {
		fmt.Printf("Logger close error: %v\n", err)
	}
}
