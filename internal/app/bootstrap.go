package app

import (
	"errors"
	"fmt"
	"io"
	"os"

	"m365gate/internal/config"
	"m365gate/pkg/logging"
)

// ErrInvalidConfig wraps every configuration validation failure.
var ErrInvalidConfig = errors.New("invalid configuration")

// Application bootstraps and runs the gateway.
//
// Initialization happens in two phases:
//  1. NewApplication loads and validates configuration, sets up logging and
//     builds every component.
//  2. Run serves HTTP until the context is cancelled or a termination
//     signal arrives, then shuts down gracefully.
//
// Example usage:
//
//	cfg := app.NewConfig(false, "/etc/m365gate")
//	application, err := app.NewApplication(cfg)
//	if err != nil {
//	    return fmt.Errorf("failed to create application: %w", err)
//	}
//	return application.Run(ctx)
type Application struct {
	config   *Config
	gateway  config.Config
	services *Services
}

// NewApplication performs the bootstrap sequence:
//
//  1. Loads config.yaml from cfg.ConfigPath (defaults when empty) and
//     applies environment overrides
//  2. Applies command-line overrides and validates the result
//  3. Configures logging from the effective log level
//  4. Initializes all services
func NewApplication(cfg *Config) (*Application, error) {
	// Log to stdout at info until the configured level is known.
	logging.InitForCLI(logging.LevelInfo, logOutput(cfg))

	gw, err := LoadGatewayConfig(cfg)
	if err != nil {
		logging.Error("Bootstrap", err, "Failed to load configuration")
		return nil, err
	}

	level := logging.ParseLevel(gw.LogLevel)
	if cfg.Debug {
		level = logging.LevelDebug
	}
	logging.InitForCLI(level, logOutput(cfg))

	services, err := InitializeServices(gw, cfg.Version)
	if err != nil {
		logging.Error("Bootstrap", err, "Failed to initialize services")
		return nil, fmt.Errorf("failed to initialize services: %w", err)
	}

	return &Application{
		config:   cfg,
		gateway:  gw,
		services: services,
	}, nil
}

// LoadGatewayConfig resolves the effective gateway configuration for cfg.
func LoadGatewayConfig(cfg *Config) (config.Config, error) {
	gw, err := config.LoadConfig(cfg.ConfigPath)
	if err != nil {
		return config.Config{}, fmt.Errorf("failed to load configuration from %s: %w", cfg.ConfigPath, err)
	}
	applyOverrides(&gw, cfg)
	if err := gw.Validate(); err != nil {
		return config.Config{}, fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}
	return gw, nil
}

func applyOverrides(gw *config.Config, cfg *Config) {
	if cfg.Port != 0 {
		gw.Server.Port = cfg.Port
	}
	if cfg.Mode != "" {
		gw.Mode = cfg.Mode
	}
	if cfg.Debug {
		gw.LogLevel = "debug"
	}
}

func logOutput(cfg *Config) io.Writer {
	if cfg.Silent {
		return io.Discard
	}
	return os.Stdout
}

// GatewayConfig returns the effective configuration.
func (a *Application) GatewayConfig() config.Config { return a.gateway }

// Services exposes the initialized components.
func (a *Application) Services() *Services { return a.services }
