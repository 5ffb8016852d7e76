// Package config handles configuration loading for learn-assistant.
//
// # Overview
//
// Configuration is loaded from YAML files with environment variable expansion.
// The package provides validation and sensible defaults.
//
// # Configuration File
//
// Default locations (in order):
//
//  1. Path from LEARN_ASSISTANT_CONFIG environment variable
//  2. ./config.yaml (current directory)
//  3. ~/.config/learn-assistant/config.yaml
//
// # Environment Variable Expansion
//
// Configuration values can reference environment variables:
//
//	auth:
//	  jwt_secret: "${LEARN_ASSISTANT_JWT_SECRET}"
//
// Syntax: ${VAR_NAME}
//
// # Duration Parsing
//
// Duration values use Go's time.ParseDuration syntax:
//
//	mcp:
//	  session_lifetime: "1h"
//	  heartbeat_interval: "30s"
//
// Supported units: ns, us, ms, s, m, h
//
// # Configuration Sections
//
// Server settings:
//
//	server:
//	  http_addr: "0.0.0.0:8080"
//
// Database:
//
//	database:
//	  path: "/var/lib/learn-assistant/learn.db"
//
// Authentication:
//
//	auth:
//	  jwt_secret: "${LEARN_ASSISTANT_JWT_SECRET}"
//	  token_ttl: "168h"
//
// Embedding and chat providers (OpenAI-compatible):
//
//	embedding:
//	  base_url: "https://api.openai.com/v1"
//	  api_key: "${OPENAI_API_KEY}"
//	  model: "text-embedding-3-small"
//
//	chat:
//	  base_url: "https://api.deepseek.com/v1"
//	  api_key: "${DEEPSEEK_API_KEY}"
//	  model: "deepseek-chat"
//
// Logging:
//
//	logging:
//	  level: "info"   # debug, info, warn, error
//	  format: "text"  # text, json
package config
