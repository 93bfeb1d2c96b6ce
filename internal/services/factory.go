package services

import "platformctl/internal/config"

// New builds the supervisor variant for a definition.
func New(def config.ServiceDefinition, deps Deps) Service {
	switch def.EffectiveKind() {
	case config.KindCompose:
		return NewComposeService(def, deps)
	case config.KindProcess:
		return NewProcessService(def, deps)
	default:
		return NewExternalService(def, deps)
	}
}

// NewAll builds supervisors for every enabled service, keeping config order.
func NewAll(cfg config.PlatformConfig, deps Deps) []Service {
	defs := cfg.EnabledServices()
	out := make([]Service, 0, len(defs))
	for _, def := range defs {
		out = append(out, New(def, deps))
	}
	return out
}

// DepsFromConfig fills the path fields of deps from the configuration.
func DepsFromConfig(cfg config.PlatformConfig, deps Deps) Deps {
	deps.RootDir = cfg.Platform.RootDir
	deps.LogDir = cfg.LogDir()
	deps.PIDDir = cfg.PIDDir()
	return deps
}
