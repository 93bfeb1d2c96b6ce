// Package config provides configuration management for platformctl.
//
// Configuration is loaded from YAML files and merged in layers, with later
// layers overriding earlier ones:
//
//  1. Default configuration (compiled into the binary)
//  2. User configuration (~/.config/platformctl/config.yaml)
//  3. Project configuration (./.platformctl/config.yaml)
//
// Passing an explicit file (--config) skips the layering and loads that file
// on top of the defaults only.
//
// # Configuration Structure
//
//	platform:
//	  name: "home-lab"
//	  version: "2.3.0"
//	  rootDir: "/opt/platform"
//	  stateDir: "state"            # relative to rootDir
//
//	network:
//	  enabled: true
//	  targets: ["1.1.1.1:53"]
//	  attempts: 5
//	  interval: 2s
//
//	services:
//	  - name: "ollama"
//	    tier: "external"
//	    port: 11434
//	    healthPath: "/api/tags"
//	    command: "ollama serve"
//	  - name: "api"
//	    tier: "core"
//	    port: 9001
//	    healthPath: "/health"
//	    command: "{root}/bin/api --port 9001"
//	    gracePeriod: 15s
//	    healthCheck:
//	      attempts: 30
//	      interval: 2s
//	      timeout: 5s
//	  - name: "grafana"
//	    tier: "container"
//	    port: 3000
//	    composeFile: "{root}/stacks/monitoring/docker-compose.yml"
//	  - name: "router"
//	    tier: "infrastructure"
//	    kind: "external"          # probed only, never started
//	    host: "192.168.1.1"
//	    port: 443
//
//	cleanup:
//	  enabled: true
//	  policies:
//	    - path: "logs"
//	      retentionDays: 30
//	      patterns: ["*.log", "**/*.log.gz"]
//	      maxSizeMB: 500
//	      enabled: true
//
//	notifications:
//	  enabled: true
//	  webhookURL: "https://hooks.example.com/platform"
//	  retryAttempts: 3
//	  retryDelay: 2s
//
// # Service Kinds
//
// A service is one of three kinds. When kind is omitted it is inferred:
// composeFile set means "compose", command set means "process", otherwise
// "external" (probed but never started or stopped).
//
// # Placeholders and Environment Variables
//
// Commands and compose file paths may contain {root}, which is replaced with
// the platform root directory. All string values support ${VAR} and
// ${VAR:-default} expansion from the environment at load time.
package config
