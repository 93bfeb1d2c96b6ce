package config

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"

	"gopkg.in/yaml.v3"
)

// For mocking in tests
var osUserHomeDir = os.UserHomeDir
var osGetwd = os.Getwd

const (
	userConfigDir    = ".config/platformctl"
	projectConfigDir = ".platformctl"
	configFileName   = "config.yaml"
)

// LoadConfig loads the platform configuration. With an explicit path only that
// file is layered on top of the defaults; otherwise the user and project files
// are layered in turn. The result is finalized and validated.
func LoadConfig(explicitPath string) (PlatformConfig, error) {
	config := GetDefaultConfig()

	if explicitPath != "" {
		overlay, err := os.ReadFile(explicitPath)
		if err != nil {
			return PlatformConfig{}, fmt.Errorf("error reading config %s: %w", explicitPath, err)
		}
		config, err = applyLayer(config, overlay)
		if err != nil {
			return PlatformConfig{}, fmt.Errorf("error loading config from %s: %w", explicitPath, err)
		}
		return finalize(config, filepath.Dir(explicitPath))
	}

	userConfigPath, err := getUserConfigPath()
	if err != nil {
		// user config is optional
		fmt.Fprintf(os.Stderr, "Warning: Could not determine user config path: %v\n", err)
	} else if config, err = layerFile(config, userConfigPath); err != nil {
		return PlatformConfig{}, fmt.Errorf("error loading user config from %s: %w", userConfigPath, err)
	}

	projectConfigPath, err := getProjectConfigPath()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Warning: Could not determine project config path: %v\n", err)
	} else if config, err = layerFile(config, projectConfigPath); err != nil {
		return PlatformConfig{}, fmt.Errorf("error loading project config from %s: %w", projectConfigPath, err)
	}

	wd, err := osGetwd()
	if err != nil {
		return PlatformConfig{}, fmt.Errorf("error determining working directory: %w", err)
	}
	return finalize(config, wd)
}

var getUserConfigPath = func() (string, error) {
	homeDir, err := osUserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(homeDir, userConfigDir, configFileName), nil
}

var getProjectConfigPath = func() (string, error) {
	wd, err := osGetwd()
	if err != nil {
		return "", err
	}
	return filepath.Join(wd, projectConfigDir, configFileName), nil
}

// layerFile applies the file at path when it exists.
func layerFile(base PlatformConfig, path string) (PlatformConfig, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return base, nil
	}
	if err != nil {
		return base, err
	}
	return applyLayer(base, data)
}

// applyLayer decodes an overlay on top of base. Scalars and sections present in
// the overlay replace the base values; services merge by name and cleanup
// policies by path.
func applyLayer(base PlatformConfig, data []byte) (PlatformConfig, error) {
	merged := base
	merged.Network.Targets = append([]string(nil), base.Network.Targets...)
	merged.Services = nil
	merged.Cleanup.Policies = nil

	if err := yaml.Unmarshal([]byte(expandEnv(string(data))), &merged); err != nil {
		return base, err
	}

	merged.Services = mergeServices(base.Services, merged.Services)
	merged.Cleanup.Policies = mergePolicies(base.Cleanup.Policies, merged.Cleanup.Policies)
	return merged, nil
}

func mergeServices(base, overlay []ServiceDefinition) []ServiceDefinition {
	out := append([]ServiceDefinition(nil), base...)
	index := make(map[string]int, len(out))
	for i, svc := range out {
		index[svc.Name] = i
	}
	for _, svc := range overlay {
		if i, ok := index[svc.Name]; ok {
			out[i] = svc
			continue
		}
		index[svc.Name] = len(out)
		out = append(out, svc)
	}
	return out
}

func mergePolicies(base, overlay []CleanupPolicy) []CleanupPolicy {
	out := append([]CleanupPolicy(nil), base...)
	index := make(map[string]int, len(out))
	for i, p := range out {
		index[p.Path] = i
	}
	for _, p := range overlay {
		if i, ok := index[p.Path]; ok {
			out[i] = p
			continue
		}
		index[p.Path] = len(out)
		out = append(out, p)
	}
	return out
}

// finalize resolves the root directory, fills service defaults and validates.
func finalize(config PlatformConfig, baseDir string) (PlatformConfig, error) {
	if config.Platform.RootDir == "" {
		config.Platform.RootDir = baseDir
	}
	if !filepath.IsAbs(config.Platform.RootDir) {
		abs, err := filepath.Abs(filepath.Join(baseDir, config.Platform.RootDir))
		if err != nil {
			return PlatformConfig{}, fmt.Errorf("error resolving root directory: %w", err)
		}
		config.Platform.RootDir = abs
	}
	for i := range config.Services {
		config.Services[i] = applyServiceDefaults(config.Services[i])
	}
	if config.Cleanup.Concurrency == 0 {
		config.Cleanup.Concurrency = defaultCleanupConcurrency
	}
	if err := Validate(config); err != nil {
		return PlatformConfig{}, err
	}
	return config, nil
}

var envPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)(:-([^}]*))?\}`)

// expandEnv replaces ${VAR} and ${VAR:-default}. Unset variables without a
// default expand to the empty string.
func expandEnv(s string) string {
	return envPattern.ReplaceAllStringFunc(s, func(match string) string {
		groups := envPattern.FindStringSubmatch(match)
		if value, ok := os.LookupEnv(groups[1]); ok && value != "" {
			return value
		}
		return groups[3]
	})
}

// GetUserConfigDir returns the user configuration directory path
func GetUserConfigDir() (string, error) {
	homeDir, err := osUserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(homeDir, userConfigDir), nil
}
