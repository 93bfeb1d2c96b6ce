package app

import (
	"fmt"
	"io"
	"os"

	"platformctl/internal/config"
	"platformctl/internal/containerizer"
	"platformctl/pkg/logging"
)

// Application is the main application structure that bootstraps and runs
// platformctl
type Application struct {
	config     *Config
	components *Components
}

// Option adjusts how the application is built.
type Option func(*options)

type options struct {
	compose containerizer.ComposeRuntime
}

// WithComposeRuntime replaces the docker compose CLI runtime.
func WithComposeRuntime(rt containerizer.ComposeRuntime) Option {
	return func(o *options) { o.compose = rt }
}

// NewApplication loads the configuration, initializes logging and builds all
// components.
func NewApplication(cfg *Config, opts ...Option) (*Application, error) {
	var o options
	for _, opt := range opts {
		opt(&o)
	}
	if cfg.Out == nil {
		cfg.Out = os.Stdout
	}

	// CLI logging until the configured level is known
	logging.InitForCLI(levelFor(cfg.Debug, ""), os.Stderr)

	platformCfg, err := config.LoadConfig(cfg.ConfigPath)
	if err != nil {
		logging.Error("Bootstrap", err, "Failed to load platform configuration")
		return nil, fmt.Errorf("failed to load platform configuration: %w", err)
	}
	cfg.Platform = &platformCfg

	logging.InitForCLI(levelFor(cfg.Debug, platformCfg.Platform.LogLevel), logOutput(cfg))
	logging.Debug("Bootstrap", "Loaded configuration with root %s and %d services", platformCfg.Platform.RootDir, len(platformCfg.Services))

	return &Application{
		config:     cfg,
		components: InitializeComponents(platformCfg, o.compose),
	}, nil
}

// Components exposes the constructed collaborators.
func (a *Application) Components() *Components {
	return a.components
}

// PlatformConfig returns the loaded configuration.
func (a *Application) PlatformConfig() config.PlatformConfig {
	return *a.config.Platform
}

func levelFor(debug bool, configured string) logging.LogLevel {
	if debug {
		return logging.LevelDebug
	}
	if configured == "" {
		return logging.LevelInfo
	}
	return logging.ParseLevel(configured)
}

// logOutput keeps log lines off stdout so summaries and JSON stay clean.
func logOutput(cfg *Config) io.Writer {
	if cfg.Out == os.Stdout {
		return os.Stderr
	}
	return cfg.Out
}
