package app

import (
	"io"
	"os"

	"platformctl/internal/config"
)

// Config holds the application configuration
type Config struct {
	// ConfigPath selects a single configuration file instead of the
	// user/project layers.
	ConfigPath string

	// Debug settings
	Debug bool

	// UI mode for `up`
	TUI bool

	// Out receives summaries and CLI logs.
	Out io.Writer

	// Platform configuration, filled by NewApplication
	Platform *config.PlatformConfig
}

// NewConfig creates a new application configuration
func NewConfig(configPath string, debug, tui bool) *Config {
	return &Config{
		ConfigPath: configPath,
		Debug:      debug,
		TUI:        tui,
		Out:        os.Stdout,
	}
}
