// ABOUTME: Configuration loading and parsing for wai-gateway
// ABOUTME: Supports YAML or TOML files with environment variable expansion and duration parsing

package config

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"
)

// Session store backends.
const (
	BackendMemory = "memory"
	BackendSQLite = "sqlite"
	BackendRedis  = "redis"
)

// Defaults applied by Load when a field is left empty.
const (
	DefaultGRPCAddr        = "0.0.0.0:50051"
	DefaultHTTPAddr        = "0.0.0.0:8080"
	DefaultRecordsRoot     = "./outputs"
	DefaultCacheTTL        = 5 * time.Minute
	DefaultCacheSize       = 256
	DefaultSessionTimeout  = time.Hour
	DefaultMaxHistory      = 100
	DefaultCleanupInterval = 5 * time.Minute
	DefaultMaxIterations   = 10
	DefaultHistoryWindow   = 10
	DefaultToolTimeout     = 30 * time.Second
	DefaultModelTimeout    = 2 * time.Minute
	DefaultMaxTokens       = 4096
)

// Config represents the complete wai-gateway configuration
type Config struct {
	Server       ServerConfig       `yaml:"server" toml:"server"`
	Tailscale    TailscaleConfig    `yaml:"tailscale" toml:"tailscale"`
	Model        ModelConfig        `yaml:"model" toml:"model"`
	Records      RecordsConfig      `yaml:"records" toml:"records"`
	Sessions     SessionsConfig     `yaml:"sessions" toml:"sessions"`
	Conversation ConversationConfig `yaml:"conversation" toml:"conversation"`
	Logging      LoggingConfig      `yaml:"logging" toml:"logging"`
	Metrics      MetricsConfig      `yaml:"metrics" toml:"metrics"`
	MCP          MCPConfig          `yaml:"mcp" toml:"mcp"`
}

// ServerConfig holds server address configuration
type ServerConfig struct {
	GRPCAddr       string   `yaml:"grpc_addr" toml:"grpc_addr"`
	HTTPAddr       string   `yaml:"http_addr" toml:"http_addr"`
	AllowedOrigins []string `yaml:"allowed_origins" toml:"allowed_origins"`
}

// TailscaleConfig holds Tailscale tsnet configuration
type TailscaleConfig struct {
	Enabled   bool   `yaml:"enabled" toml:"enabled"`
	Hostname  string `yaml:"hostname" toml:"hostname"`
	AuthKey   string `yaml:"auth_key" toml:"auth_key"`
	StateDir  string `yaml:"state_dir" toml:"state_dir"`
	Ephemeral bool   `yaml:"ephemeral" toml:"ephemeral"`
	HTTPS     bool   `yaml:"https" toml:"https"`
	CertFile  string `yaml:"cert_file" toml:"cert_file"` // TLS cert file (generate via: tailscale cert <hostname>)
	KeyFile   string `yaml:"key_file" toml:"key_file"`
	Funnel    bool   `yaml:"funnel" toml:"funnel"` // Enable public Funnel (implies HTTPS)
}

// ModelConfig holds language model settings
type ModelConfig struct {
	APIKey            string        `yaml:"api_key" toml:"api_key"`
	Name              string        `yaml:"name" toml:"name"`
	RequestsPerMinute float64       `yaml:"requests_per_minute" toml:"requests_per_minute"`
	Timeout           time.Duration `yaml:"-" toml:"-"`

	TimeoutRaw string `yaml:"timeout" toml:"timeout"`
}

// RecordsConfig points at the processed application tree
type RecordsConfig struct {
	Root      string        `yaml:"root" toml:"root"`
	CacheSize int           `yaml:"cache_size" toml:"cache_size"`
	Watch     bool          `yaml:"watch" toml:"watch"`
	CacheTTL  time.Duration `yaml:"-" toml:"-"`

	CacheTTLRaw string `yaml:"cache_ttl" toml:"cache_ttl"`
}

// SessionsConfig selects and tunes the session store
type SessionsConfig struct {
	Backend         string        `yaml:"backend" toml:"backend"`
	Path            string        `yaml:"path" toml:"path"`
	RedisURL        string        `yaml:"redis_url" toml:"redis_url"`
	RedisPrefix     string        `yaml:"redis_prefix" toml:"redis_prefix"`
	MaxHistory      int           `yaml:"max_history" toml:"max_history"`
	DistributedLock bool          `yaml:"distributed_lock" toml:"distributed_lock"`
	Timeout         time.Duration `yaml:"-" toml:"-"`
	CleanupInterval time.Duration `yaml:"-" toml:"-"`

	// Raw string values for unmarshaling
	TimeoutRaw         string `yaml:"timeout" toml:"timeout"`
	CleanupIntervalRaw string `yaml:"cleanup_interval" toml:"cleanup_interval"`
}

// ConversationConfig bounds the tool-calling loop
type ConversationConfig struct {
	MaxIterations int           `yaml:"max_iterations" toml:"max_iterations"`
	HistoryWindow int           `yaml:"history_window" toml:"history_window"`
	MaxTokens     int           `yaml:"max_tokens" toml:"max_tokens"`
	ToolWorkers   int           `yaml:"tool_workers" toml:"tool_workers"`
	ToolTimeout   time.Duration `yaml:"-" toml:"-"`
	LockTTL       time.Duration `yaml:"-" toml:"-"`

	ToolTimeoutRaw string `yaml:"tool_timeout" toml:"tool_timeout"`
	LockTTLRaw     string `yaml:"lock_ttl" toml:"lock_ttl"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level" toml:"level"`
	Format string `yaml:"format" toml:"format"`
}

// MetricsConfig holds metrics endpoint configuration
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled" toml:"enabled"`
	Path    string `yaml:"path" toml:"path"`
}

// MCPConfig controls the MCP endpoint on the HTTP server
type MCPConfig struct {
	Enabled bool   `yaml:"enabled" toml:"enabled"`
	Path    string `yaml:"path" toml:"path"`
}

// DefaultPath resolves the config file location: the WAI_CONFIG environment
// variable, then $XDG_CONFIG_HOME/wai/gateway.yaml, then ~/.config/wai/gateway.yaml.
func DefaultPath() string {
	if p := os.Getenv("WAI_CONFIG"); p != "" {
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
	return filepath.Join(dir, "wai", "gateway.yaml")
}

// Load reads a configuration file from the given path and returns a parsed Config.
// Files ending in .toml are decoded as TOML, everything else as YAML.
// Environment variables in the format ${VAR_NAME} are expanded.
// Duration strings are parsed into time.Duration values.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}
	return Parse(data, strings.EqualFold(filepath.Ext(path), ".toml"))
}

// Parse decodes raw configuration content. It expands, decodes, applies
// defaults and validates in that order.
func Parse(data []byte, isTOML bool) (*Config, error) {
	expanded := expandEnvVars(string(data))

	var cfg Config
	if isTOML {
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

var envVarPattern = regexp.MustCompile(`\$\{([^}]+)\}`)

// expandEnvVars replaces ${VAR_NAME} patterns with the corresponding environment variable values.
// If the environment variable is not set, it is replaced with an empty string.
func expandEnvVars(s string) string {
	return envVarPattern.ReplaceAllStringFunc(s, func(match string) string {
		varName := envVarPattern.FindStringSubmatch(match)[1]
		return os.Getenv(varName)
	})
}

func (c *Config) applyDefaults() {
	if !c.Tailscale.Enabled {
		if c.Server.GRPCAddr == "" {
			c.Server.GRPCAddr = DefaultGRPCAddr
		}
		if c.Server.HTTPAddr == "" {
			c.Server.HTTPAddr = DefaultHTTPAddr
		}
	}

	if c.Model.APIKey == "" {
		c.Model.APIKey = os.Getenv("ANTHROPIC_API_KEY")
	}
	if c.Model.Timeout == 0 {
		c.Model.Timeout = DefaultModelTimeout
	}

	if c.Records.Root == "" {
		c.Records.Root = DefaultRecordsRoot
	}
	if c.Records.CacheTTL == 0 {
		c.Records.CacheTTL = DefaultCacheTTL
	}
	if c.Records.CacheSize == 0 {
		c.Records.CacheSize = DefaultCacheSize
	}

	if c.Sessions.Backend == "" {
		c.Sessions.Backend = BackendMemory
	}
	if c.Sessions.Timeout == 0 {
		c.Sessions.Timeout = DefaultSessionTimeout
	}
	if c.Sessions.MaxHistory == 0 {
		c.Sessions.MaxHistory = DefaultMaxHistory
	}
	if c.Sessions.CleanupInterval == 0 {
		c.Sessions.CleanupInterval = DefaultCleanupInterval
	}

	if c.Conversation.MaxIterations == 0 {
		c.Conversation.MaxIterations = DefaultMaxIterations
	}
	if c.Conversation.HistoryWindow == 0 {
		c.Conversation.HistoryWindow = DefaultHistoryWindow
	}
	if c.Conversation.MaxTokens == 0 {
		c.Conversation.MaxTokens = DefaultMaxTokens
	}
	if c.Conversation.ToolTimeout == 0 {
		c.Conversation.ToolTimeout = DefaultToolTimeout
	}

	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "text"
	}
	if c.Metrics.Path == "" {
		c.Metrics.Path = "/metrics"
	}
	if c.MCP.Path == "" {
		c.MCP.Path = "/mcp"
	}
}

// Validate checks that all required configuration fields are present and valid.
// Returns an error describing the first validation failure encountered.
func (c *Config) Validate() error {
	// Server addresses are required unless Tailscale is enabled
	if !c.Tailscale.Enabled {
		if c.Server.GRPCAddr == "" {
			return fmt.Errorf("server.grpc_addr is required (or enable tailscale)")
		}
		if c.Server.HTTPAddr == "" {
			return fmt.Errorf("server.http_addr is required (or enable tailscale)")
		}
	}

	// Tailscale requires a hostname
	if c.Tailscale.Enabled && c.Tailscale.Hostname == "" {
		return fmt.Errorf("tailscale.hostname is required when tailscale is enabled")
	}

	if (c.Tailscale.CertFile == "") != (c.Tailscale.KeyFile == "") {
		return fmt.Errorf("tailscale.cert_file and tailscale.key_file must be set together")
	}

	if c.Records.Root == "" {
		return fmt.Errorf("records.root is required")
	}

	switch c.Sessions.Backend {
	case BackendMemory:
	case BackendSQLite:
		if c.Sessions.Path == "" {
			return fmt.Errorf("sessions.path is required for the sqlite backend")
		}
	case BackendRedis:
		if c.Sessions.RedisURL == "" {
			return fmt.Errorf("sessions.redis_url is required for the redis backend")
		}
	default:
		return fmt.Errorf("sessions.backend %q is not one of memory, sqlite, redis", c.Sessions.Backend)
	}
	if c.Sessions.DistributedLock && c.Sessions.Backend != BackendRedis {
		return fmt.Errorf("sessions.distributed_lock requires the redis backend")
	}

	if c.Conversation.MaxIterations < 1 {
		return fmt.Errorf("conversation.max_iterations must be at least 1")
	}
	if c.Conversation.HistoryWindow < 0 {
		return fmt.Errorf("conversation.history_window must not be negative")
	}

	switch c.Logging.Format {
	case "text", "json":
	default:
		return fmt.Errorf("logging.format %q is not one of text, json", c.Logging.Format)
	}

	for name, p := range map[string]string{"metrics.path": c.Metrics.Path, "mcp.path": c.MCP.Path} {
		if !strings.HasPrefix(p, "/") {
			return fmt.Errorf("%s must start with /", name)
		}
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
		{"model.timeout", cfg.Model.TimeoutRaw, &cfg.Model.Timeout},
		{"records.cache_ttl", cfg.Records.CacheTTLRaw, &cfg.Records.CacheTTL},
		{"sessions.timeout", cfg.Sessions.TimeoutRaw, &cfg.Sessions.Timeout},
		{"sessions.cleanup_interval", cfg.Sessions.CleanupIntervalRaw, &cfg.Sessions.CleanupInterval},
		{"conversation.tool_timeout", cfg.Conversation.ToolTimeoutRaw, &cfg.Conversation.ToolTimeout},
		{"conversation.lock_ttl", cfg.Conversation.LockTTLRaw, &cfg.Conversation.LockTTL},
	}
	for _, f := range fields {
		if f.raw == "" {
			continue
		}
		d, err := time.ParseDuration(f.raw)
		if err != nil {
			return fmt.Errorf("parsing %s %q: %w", f.name, f.raw, err)
		}
		if d < 0 {
			return fmt.Errorf("parsing %s %q: must not be negative", f.name, f.raw)
		}
		*f.dst = d
	}
	return nil
}
