// Package config handles configuration loading for wai-gateway.
//
// # Overview
//
// Configuration is loaded from YAML or TOML files with environment variable
// expansion. Files ending in .toml are decoded as TOML; anything else is YAML.
// Missing values fall back to defaults before validation runs.
//
// # Configuration File
//
// Default locations (in order):
//
//  1. Path from the --config flag
//  2. Path from WAI_CONFIG environment variable
//  3. $XDG_CONFIG_HOME/wai/gateway.yaml (~/.config/wai/gateway.yaml)
//
// # Environment Variable Expansion
//
// Configuration values can reference environment variables:
//
//	model:
//	  api_key: "${ANTHROPIC_API_KEY}"
//
// Syntax: ${VAR_NAME}. Unset variables expand to the empty string. An empty
// model.api_key is also filled from ANTHROPIC_API_KEY directly.
//
// # Duration Parsing
//
// Duration values use Go's time.ParseDuration syntax:
//
//	sessions:
//	  timeout: "1h"
//	  cleanup_interval: "5m"
//
// Supported units: ns, us, ms, s, m, h
//
// # Configuration Sections
//
// Server settings:
//
//	server:
//	  grpc_addr: "0.0.0.0:50051"  # gRPC health
//	  http_addr: "0.0.0.0:8080"   # API, metrics and MCP
//	  allowed_origins: ["http://localhost:3000"]
//
// Records and sessions:
//
//	records:
//	  root: "./outputs"
//	  watch: true
//	sessions:
//	  backend: "sqlite"           # memory, sqlite, redis
//	  path: "./wai-sessions.db"
//
// Conversation loop:
//
//	conversation:
//	  max_iterations: 10
//	  history_window: 10
//
// Logging:
//
//	logging:
//	  level: "info"   # debug, info, warn, error
//	  format: "text"  # text, json
//
// See Example for a complete file.
//
// # Usage
//
//	cfg, err := config.Load(config.DefaultPath())
//	if err != nil {
//	    log.Fatal(err)
//	}
package config
