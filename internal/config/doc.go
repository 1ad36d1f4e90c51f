// Package config handles configuration loading for vault-gateway.
//
// # Configuration File
//
// Location, in order:
//
//  1. Path from the VAULT_CONFIG environment variable
//  2. $XDG_CONFIG_HOME/vault-gateway/gateway.yaml (~/.config when unset)
//
// A file ending in .toml is read as TOML; anything else as YAML. Before the
// file is read, a .env file (VAULT_ENV_FILE, default ./.env) is loaded into
// the environment if present.
//
// # Environment Variable Expansion
//
// Configuration values can reference environment variables:
//
//	auth:
//	  jwt_secret: "${VAULT_JWT_SECRET}"
//	database:
//	  driver: postgres
//	  dsn: "${DATABASE_URL}"
//
// # Example
//
//	server:
//	  http_addr: "0.0.0.0:8080"
//	database:
//	  driver: sqlite
//	  path: "./vault.db"
//	scheduler:
//	  tick_period: "1m"
//	  workers: 4
//	  notify_timeout: "5s"
//	push:
//	  ping_interval: "30s"
//	cors:
//	  allowed_origins: ["https://app.example.com"]
//	logging:
//	  level: info
//	  format: json
//
// Durations are Go duration strings. Everything except secrets has a default.
package config
