// ABOUTME: Configuration loading and parsing for vault-gateway
// ABOUTME: Supports YAML or TOML files with .env loading, env var expansion, defaults and duration parsing

package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Database drivers
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// minJWTSecretLength mirrors the HS256 secret floor enforced by the auth package.
const minJWTSecretLength = 32

// Config represents the complete vault-gateway configuration
type Config struct {
	Server    ServerConfig    `yaml:"server" toml:"server"`
	Tailscale TailscaleConfig `yaml:"tailscale" toml:"tailscale"`
	Database  DatabaseConfig  `yaml:"database" toml:"database"`
	Auth      AuthConfig      `yaml:"auth" toml:"auth"`
	Scheduler SchedulerConfig `yaml:"scheduler" toml:"scheduler"`
	Push      PushConfig      `yaml:"push" toml:"push"`
	CORS      CORSConfig      `yaml:"cors" toml:"cors"`
	Logging   LoggingConfig   `yaml:"logging" toml:"logging"`
}

// ServerConfig holds server address configuration
type ServerConfig struct {
	HTTPAddr string `yaml:"http_addr" toml:"http_addr"`
}

// TailscaleConfig holds Tailscale tsnet configuration
type TailscaleConfig struct {
	Enabled   bool   `yaml:"enabled" toml:"enabled"`
	Hostname  string `yaml:"hostname" toml:"hostname"`
	AuthKey   string `yaml:"auth_key" toml:"auth_key"`
	StateDir  string `yaml:"state_dir" toml:"state_dir"`
	Ephemeral bool   `yaml:"ephemeral" toml:"ephemeral"`
	Funnel    bool   `yaml:"funnel" toml:"funnel"` // public HTTPS via Funnel
}

// DatabaseConfig selects and locates the vault store
type DatabaseConfig struct {
	Driver string `yaml:"driver" toml:"driver"` // "sqlite" (default) or "postgres"
	Path   string `yaml:"path" toml:"path"`     // sqlite file
	DSN    string `yaml:"dsn" toml:"dsn"`       // postgres connection string
}

// AuthConfig holds authentication configuration
type AuthConfig struct {
	JWTSecret string        `yaml:"jwt_secret" toml:"jwt_secret"`
	TokenTTL  time.Duration `yaml:"-" toml:"-"`

	TokenTTLRaw string `yaml:"token_ttl" toml:"token_ttl"`
}

// SchedulerConfig tunes the delivery scheduler
type SchedulerConfig struct {
	TickPeriod    time.Duration `yaml:"-" toml:"-"`
	NotifyTimeout time.Duration `yaml:"-" toml:"-"`
	DedupeTTL     time.Duration `yaml:"-" toml:"-"`
	ShutdownGrace time.Duration `yaml:"-" toml:"-"`
	Workers       int           `yaml:"workers" toml:"workers"`
	BatchSize     int           `yaml:"batch_size" toml:"batch_size"`

	// Raw string values for unmarshaling
	TickPeriodRaw    string `yaml:"tick_period" toml:"tick_period"`
	NotifyTimeoutRaw string `yaml:"notify_timeout" toml:"notify_timeout"`
	DedupeTTLRaw     string `yaml:"dedupe_ttl" toml:"dedupe_ttl"`
	ShutdownGraceRaw string `yaml:"shutdown_grace" toml:"shutdown_grace"`
}

// PushConfig tunes the websocket and SSE transports
type PushConfig struct {
	WriteTimeout    time.Duration `yaml:"-" toml:"-"`
	PingInterval    time.Duration `yaml:"-" toml:"-"`
	RegisterTimeout time.Duration `yaml:"-" toml:"-"`
	SSEHeartbeat    time.Duration `yaml:"-" toml:"-"`
	OutboxSize      int           `yaml:"outbox_size" toml:"outbox_size"`

	WriteTimeoutRaw    string `yaml:"write_timeout" toml:"write_timeout"`
	PingIntervalRaw    string `yaml:"ping_interval" toml:"ping_interval"`
	RegisterTimeoutRaw string `yaml:"register_timeout" toml:"register_timeout"`
	SSEHeartbeatRaw    string `yaml:"sse_heartbeat" toml:"sse_heartbeat"`
}

// CORSConfig lists browser origins allowed to call the API
type CORSConfig struct {
	AllowedOrigins []string `yaml:"allowed_origins" toml:"allowed_origins"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level" toml:"level"`
	Format string `yaml:"format" toml:"format"`
}

// Load reads a configuration file from the given path and returns a parsed Config.
// Files ending in .toml are parsed as TOML, everything else as YAML.
// Environment variables in the format ${VAR_NAME} are expanded.
// Duration strings are parsed into time.Duration values.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	// Expand environment variables in the raw content
	expanded := expandEnvVars(string(data))

	var cfg Config
	if strings.EqualFold(filepath.Ext(path), ".toml") {
		if _, err := toml.Decode(expanded, &cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	} else if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	if err := parseDurations(&cfg); err != nil {
		return nil, fmt.Errorf("parsing durations: %w", err)
	}

	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return &cfg, nil
}

// LoadDotEnv loads KEY=VALUE pairs from path into the environment without
// overriding variables that are already set. A missing file is not an error.
func LoadDotEnv(path string) error {
	if path == "" {
		path = ".env"
	}
	if _, err := os.Stat(path); errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		return fmt.Errorf("loading %s: %w", path, err)
	}
	return nil
}

// DefaultPath returns the config file location: $VAULT_CONFIG if set,
// otherwise gateway.yaml under the XDG config directory.
func DefaultPath() string {
	if p := os.Getenv("VAULT_CONFIG"); p != "" {
		return p
	}
	dir := os.Getenv("XDG_CONFIG_HOME")
	if dir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return "gateway.yaml"
		}
		dir = filepath.Join(home, ".config")
	}
	return filepath.Join(dir, "vault-gateway", "gateway.yaml")
}

var envVarPattern = regexp.MustCompile(`\$\{([^}]+)\}`)

// expandEnvVars replaces ${VAR_NAME} patterns with the corresponding environment variable values.
// If the environment variable is not set, it is replaced with an empty string.
func expandEnvVars(s string) string {
	return envVarPattern.ReplaceAllStringFunc(s, func(match string) string {
		return os.Getenv(envVarPattern.FindStringSubmatch(match)[1])
	})
}

// applyDefaults fills in everything an empty config leaves unset.
func (c *Config) applyDefaults() {
	if c.Server.HTTPAddr == "" && !c.Tailscale.Enabled {
		c.Server.HTTPAddr = "0.0.0.0:8080"
	}
	if c.Database.Driver == "" {
		c.Database.Driver = DriverSQLite
	}
	if c.Database.Driver == DriverSQLite && c.Database.Path == "" {
		c.Database.Path = "./vault.db"
	}
	if c.Auth.TokenTTL == 0 {
		c.Auth.TokenTTL = 24 * time.Hour
	}

	s := &c.Scheduler
	if s.TickPeriod == 0 {
		s.TickPeriod = time.Minute
	}
	if s.NotifyTimeout == 0 {
		s.NotifyTimeout = 5 * time.Second
	}
	if s.DedupeTTL == 0 {
		s.DedupeTTL = 10 * time.Minute
	}
	if s.ShutdownGrace == 0 {
		s.ShutdownGrace = 10 * time.Second
	}
	if s.Workers == 0 {
		s.Workers = 4
	}
	if s.BatchSize == 0 {
		s.BatchSize = 500
	}

	p := &c.Push
	if p.WriteTimeout == 0 {
		p.WriteTimeout = 10 * time.Second
	}
	if p.PingInterval == 0 {
		p.PingInterval = 30 * time.Second
	}
	if p.RegisterTimeout == 0 {
		p.RegisterTimeout = 10 * time.Second
	}
	if p.SSEHeartbeat == 0 {
		p.SSEHeartbeat = 30 * time.Second
	}
	if p.OutboxSize == 0 {
		p.OutboxSize = 16
	}

	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "text"
	}
}

// Validate checks that all required configuration fields are present and valid.
// Returns an error describing the first validation failure encountered.
func (c *Config) Validate() error {
	if !c.Tailscale.Enabled && c.Server.HTTPAddr == "" {
		return fmt.Errorf("server.http_addr is required (or enable tailscale)")
	}

	if c.Tailscale.Enabled && c.Tailscale.Hostname == "" {
		return fmt.Errorf("tailscale.hostname is required when tailscale is enabled")
	}

	switch c.Database.Driver {
	case DriverSQLite:
		if c.Database.Path == "" {
			return fmt.Errorf("database.path is required for the sqlite driver")
		}
	case DriverPostgres:
		if c.Database.DSN == "" {
			return fmt.Errorf("database.dsn is required for the postgres driver")
		}
	default:
		return fmt.Errorf("database.driver must be %q or %q, got %q", DriverSQLite, DriverPostgres, c.Database.Driver)
	}

	if c.Auth.JWTSecret != "" && len(c.Auth.JWTSecret) < minJWTSecretLength {
		return fmt.Errorf("auth.jwt_secret must be at least %d bytes", minJWTSecretLength)
	}

	if c.Scheduler.TickPeriod < time.Second {
		return fmt.Errorf("scheduler.tick_period must be at least 1s, got %s", c.Scheduler.TickPeriod)
	}
	if c.Scheduler.Workers < 1 {
		return fmt.Errorf("scheduler.workers must be positive")
	}
	if c.Scheduler.BatchSize < 1 {
		return fmt.Errorf("scheduler.batch_size must be positive")
	}
	if c.Scheduler.NotifyTimeout >= c.Scheduler.TickPeriod {
		return fmt.Errorf("scheduler.notify_timeout (%s) must be shorter than scheduler.tick_period (%s)",
			c.Scheduler.NotifyTimeout, c.Scheduler.TickPeriod)
	}

	if c.Push.OutboxSize < 1 {
		return fmt.Errorf("push.outbox_size must be positive")
	}

	switch c.Logging.Format {
	case "text", "json":
	default:
		return fmt.Errorf("logging.format must be \"text\" or \"json\", got %q", c.Logging.Format)
	}

	return nil
}

// parseDurations converts the raw duration strings into time.Duration values
func parseDurations(cfg *Config) error {
	fields := []struct {
		name string
		raw  string
		dst  *time.Duration
	}{
		{"auth.token_ttl", cfg.Auth.TokenTTLRaw, &cfg.Auth.TokenTTL},
		{"scheduler.tick_period", cfg.Scheduler.TickPeriodRaw, &cfg.Scheduler.TickPeriod},
		{"scheduler.notify_timeout", cfg.Scheduler.NotifyTimeoutRaw, &cfg.Scheduler.NotifyTimeout},
		{"scheduler.dedupe_ttl", cfg.Scheduler.DedupeTTLRaw, &cfg.Scheduler.DedupeTTL},
		{"scheduler.shutdown_grace", cfg.Scheduler.ShutdownGraceRaw, &cfg.Scheduler.ShutdownGrace},
		{"push.write_timeout", cfg.Push.WriteTimeoutRaw, &cfg.Push.WriteTimeout},
		{"push.ping_interval", cfg.Push.PingIntervalRaw, &cfg.Push.PingInterval},
		{"push.register_timeout", cfg.Push.RegisterTimeoutRaw, &cfg.Push.RegisterTimeout},
		{"push.sse_heartbeat", cfg.Push.SSEHeartbeatRaw, &cfg.Push.SSEHeartbeat},
	}

	for _, f := range fields {
		if f.raw == "" {
			continue
		}
		d, err := time.ParseDuration(f.raw)
		if err != nil {
			return fmt.Errorf("parsing %s %q: %w", f.name, f.raw, err)
		}
		*f.dst = d
	}
	return nil
}
