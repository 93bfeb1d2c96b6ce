package config

import "time"

// RootPlaceholder is substituted with the platform root in commands and paths.
const RootPlaceholder = "{root}"

const (
	defaultServiceHost        = "localhost"
	defaultHealthAttempts     = 30
	defaultHealthInterval     = 2 * time.Second
	defaultHealthTimeout      = 5 * time.Second
	defaultGracePeriod        = 10 * time.Second
	defaultCleanupConcurrency = 4
	defaultAPIPort            = 8095
)

// GetDefaultConfig returns the built-in configuration layer.
// By default: network preflight on, no services, no cleanup policies and
// notifications off.
func GetDefaultConfig() PlatformConfig {
	return PlatformConfig{
		Platform: PlatformSettings{
			Name:     "platform",
			Version:  "dev",
			StateDir: "state",
			LogLevel: "info",
		},
		Network: NetworkCheck{
			Enabled:  true,
			Targets:  []string{"1.1.1.1:53", "8.8.8.8:53"},
			Attempts: 3,
			Interval: 2 * time.Second,
			Timeout:  3 * time.Second,
		},
		Services: []ServiceDefinition{},
		Cleanup: CleanupConfig{
			Enabled:     true,
			Concurrency: defaultCleanupConcurrency,
			Policies:    []CleanupPolicy{},
		},
		Notifications: NotificationConfig{
			Enabled:          false,
			Source:           "platformctl",
			RetryAttempts:    3,
			RetryDelay:       2 * time.Second,
			Timeout:          10 * time.Second,
			BreakerThreshold: 10,
			BreakerCooldown:  60 * time.Second,
			FlushTimeout:     15 * time.Second,
		},
		API: APIConfig{
			Host: "localhost",
			Port: defaultAPIPort,
		},
	}
}

// applyServiceDefaults fills the zero-valued fields of a service definition.
func applyServiceDefaults(svc ServiceDefinition) ServiceDefinition {
	if svc.Host == "" {
		svc.Host = defaultServiceHost
	}
	if svc.Kind == "" {
		svc.Kind = svc.EffectiveKind()
	}
	if svc.HealthCheck.Attempts == 0 {
		svc.HealthCheck.Attempts = defaultHealthAttempts
	}
	if svc.HealthCheck.Interval == 0 {
		svc.HealthCheck.Interval = defaultHealthInterval
	}
	if svc.HealthCheck.Timeout == 0 {
		svc.HealthCheck.Timeout = defaultHealthTimeout
	}
	if svc.GracePeriod == 0 {
		svc.GracePeriod = defaultGracePeriod
	}
	return svc
}
