// ABOUTME: Configuration loading and parsing for the jarvisp gateway
// ABOUTME: Supports YAML or TOML files with env var expansion, env overrides and duration parsing

package config

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"
)

// Defaults applied to fields left empty.
const (
	DefaultHTTPAddr       = "0.0.0.0:8080"
	DefaultWriteTimeout   = 60 * time.Second
	DefaultDatabasePath   = "./jarvisp.db"
	DefaultMetricsPath    = "/metrics"
	DefaultWhatsAppAPIURL = "https://graph.facebook.com/v21.0"
	DefaultSendTimeout    = 10 * time.Second
	DefaultGenTimeout     = 20 * time.Second
	DefaultTokenValidity  = time.Hour
	DefaultHistoryLimit   = 20
	DefaultISPCubeTimeout = 30 * time.Second
	DefaultDedupeTTL      = 24 * time.Hour
	DefaultDedupeMaxSize  = 100_000
	DefaultEventTimeout   = 45 * time.Second

	minJWTSecretLength = 32
)

// Database drivers
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// Generation providers
const (
	ProviderGemini = "gemini"
	ProviderOpenAI = "openai"
)

// Dedupe backends
const (
	DedupeMemory = "memory"
	DedupeRedis  = "redis"
)

// Config represents the complete jarvisp configuration
type Config struct {
	Server     ServerConfig     `yaml:"server" toml:"server"`
	Database   DatabaseConfig   `yaml:"database" toml:"database"`
	Logging    LoggingConfig    `yaml:"logging" toml:"logging"`
	Metrics    MetricsConfig    `yaml:"metrics" toml:"metrics"`
	Auth       AuthConfig       `yaml:"auth" toml:"auth"`
	WhatsApp   WhatsAppConfig   `yaml:"whatsapp" toml:"whatsapp"`
	Generation GenerationConfig `yaml:"generation" toml:"generation"`
	ISPCube    ISPCubeConfig    `yaml:"ispcube" toml:"ispcube"`
	Dedupe     DedupeConfig     `yaml:"dedupe" toml:"dedupe"`
	Pipeline   PipelineConfig   `yaml:"pipeline" toml:"pipeline"`
}

// ServerConfig holds the HTTP listener configuration
type ServerConfig struct {
	HTTPAddr     string        `yaml:"http_addr" toml:"http_addr" env:"JARVISP_HTTP_ADDR"`
	WriteTimeout time.Duration `yaml:"-" toml:"-"`

	WriteTimeoutRaw string `yaml:"write_timeout" toml:"write_timeout"`
}

// DatabaseConfig selects the store backend
type DatabaseConfig struct {
	Driver string `yaml:"driver" toml:"driver" env:"JARVISP_DB_DRIVER"`
	Path   string `yaml:"path" toml:"path" env:"JARVISP_DB_PATH"`
	DSN    string `yaml:"dsn" toml:"dsn" env:"JARVISP_DB_DSN"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level" toml:"level" env:"JARVISP_LOG_LEVEL"`
	Format string `yaml:"format" toml:"format" env:"JARVISP_LOG_FORMAT"`
}

// MetricsConfig holds metrics endpoint configuration
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled" toml:"enabled"`
	Path    string `yaml:"path" toml:"path"`
}

// AuthConfig holds admin API authentication configuration
type AuthConfig struct {
	JWTSecret string `yaml:"jwt_secret" toml:"jwt_secret" env:"JARVISP_JWT_SECRET"`
}

// WhatsAppConfig holds Cloud API credentials and webhook secrets
type WhatsAppConfig struct {
	APIURL      string        `yaml:"api_url" toml:"api_url"`
	AccessToken string        `yaml:"access_token" toml:"access_token" env:"WHATSAPP_ACCESS_TOKEN"`
	VerifyToken string        `yaml:"verify_token" toml:"verify_token" env:"WHATSAPP_VERIFY_TOKEN"`
	AppSecret   string        `yaml:"app_secret" toml:"app_secret" env:"WHATSAPP_APP_SECRET"`
	SendTimeout time.Duration `yaml:"-" toml:"-"`

	SendTimeoutRaw string `yaml:"send_timeout" toml:"send_timeout"`
}

// GenerationConfig selects and configures the reply generation backend
type GenerationConfig struct {
	Provider      string        `yaml:"provider" toml:"provider" env:"JARVISP_GENERATION_PROVIDER"`
	BaseURL       string        `yaml:"base_url" toml:"base_url"`
	APIKey        string        `yaml:"api_key" toml:"api_key" env:"JARVISP_GENERATION_API_KEY"`
	Model         string        `yaml:"model" toml:"model" env:"JARVISP_GENERATION_MODEL"`
	HistoryLimit  int           `yaml:"history_limit" toml:"history_limit"`
	OAuth         OAuthConfig   `yaml:"oauth" toml:"oauth"`
	Timeout       time.Duration `yaml:"-" toml:"-"`
	TokenValidity time.Duration `yaml:"-" toml:"-"`

	TimeoutRaw       string `yaml:"timeout" toml:"timeout"`
	TokenValidityRaw string `yaml:"token_validity" toml:"token_validity"`
}

// OAuthConfig holds client credentials for backends that use OAuth2
type OAuthConfig struct {
	TokenURL     string   `yaml:"token_url" toml:"token_url"`
	ClientID     string   `yaml:"client_id" toml:"client_id"`
	ClientSecret string   `yaml:"client_secret" toml:"client_secret" env:"JARVISP_OAUTH_CLIENT_SECRET"`
	Scopes       []string `yaml:"scopes" toml:"scopes"`
}

// ISPCubeConfig holds settings shared by every ISPCube credential.
// Credentials themselves live in the database.
type ISPCubeConfig struct {
	Timeout time.Duration `yaml:"-" toml:"-"`

	TimeoutRaw string `yaml:"timeout" toml:"timeout"`
}

// DedupeConfig selects where delivered event ids are remembered
type DedupeConfig struct {
	Backend     string        `yaml:"backend" toml:"backend" env:"JARVISP_DEDUPE_BACKEND"`
	MaxSize     int           `yaml:"max_size" toml:"max_size"`
	RedisAddr   string        `yaml:"redis_addr" toml:"redis_addr" env:"JARVISP_REDIS_ADDR"`
	RedisPrefix string        `yaml:"redis_prefix" toml:"redis_prefix"`
	TTL         time.Duration `yaml:"-" toml:"-"`

	TTLRaw string `yaml:"ttl" toml:"ttl"`
}

// PipelineConfig holds inbound event processing settings
type PipelineConfig struct {
	EventTimeout time.Duration `yaml:"-" toml:"-"`
	// ActivateOnReply moves new conversations to bot_active after the first delivered reply.
	ActivateOnReply bool `yaml:"activate_on_reply" toml:"activate_on_reply"`

	EventTimeoutRaw string `yaml:"event_timeout" toml:"event_timeout"`
}

// Load reads a configuration file from the given path and returns a parsed Config.
// Files ending in .toml are decoded as TOML, everything else as YAML.
// ${VAR_NAME} references are expanded before decoding and tagged environment
// variables override file values afterwards.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	expanded := expandEnvVars(string(data))

	var cfg Config
	if strings.EqualFold(filepath.Ext(path), ".toml") {
		if _, err := toml.Decode(expanded, &cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	} else {
		if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	}

	if err := env.Parse(&cfg); err != nil {
		return nil, fmt.Errorf("applying environment overrides: %w", err)
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
		return os.Getenv(envVarPattern.FindStringSubmatch(match)[1])
	})
}

func (c *Config) applyDefaults() {
	if c.Server.HTTPAddr == "" {
		c.Server.HTTPAddr = DefaultHTTPAddr
	}
	if c.Server.WriteTimeout == 0 {
		c.Server.WriteTimeout = DefaultWriteTimeout
	}
	if c.Database.Driver == "" {
		c.Database.Driver = DriverSQLite
	}
	if c.Database.Driver == DriverSQLite && c.Database.Path == "" {
		c.Database.Path = DefaultDatabasePath
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "text"
	}
	if c.Metrics.Path == "" {
		c.Metrics.Path = DefaultMetricsPath
	}
	if c.WhatsApp.APIURL == "" {
		c.WhatsApp.APIURL = DefaultWhatsAppAPIURL
	}
	if c.WhatsApp.SendTimeout == 0 {
		c.WhatsApp.SendTimeout = DefaultSendTimeout
	}
	if c.Generation.Provider == "" {
		c.Generation.Provider = ProviderGemini
	}
	if c.Generation.Timeout == 0 {
		c.Generation.Timeout = DefaultGenTimeout
	}
	if c.Generation.TokenValidity == 0 {
		c.Generation.TokenValidity = DefaultTokenValidity
	}
	if c.Generation.HistoryLimit <= 0 {
		c.Generation.HistoryLimit = DefaultHistoryLimit
	}
	if c.ISPCube.Timeout == 0 {
		c.ISPCube.Timeout = DefaultISPCubeTimeout
	}
	if c.Dedupe.Backend == "" {
		c.Dedupe.Backend = DedupeMemory
	}
	if c.Dedupe.TTL == 0 {
		c.Dedupe.TTL = DefaultDedupeTTL
	}
	if c.Dedupe.MaxSize <= 0 {
		c.Dedupe.MaxSize = DefaultDedupeMaxSize
	}
	if c.Pipeline.EventTimeout == 0 {
		c.Pipeline.EventTimeout = DefaultEventTimeout
	}
}

// Validate checks that all required configuration fields are present and valid.
// Returns an error describing the first validation failure encountered.
func (c *Config) Validate() error {
	if c.Server.HTTPAddr == "" {
		return fmt.Errorf("server.http_addr is required")
	}

	switch c.Database.Driver {
	case DriverSQLite:
		if c.Database.Path == "" {
			return fmt.Errorf("database.path is required for sqlite")
		}
	case DriverPostgres:
		if c.Database.DSN == "" {
			return fmt.Errorf("database.dsn is required for postgres")
		}
	default:
		return fmt.Errorf("database.driver must be %q or %q, got %q", DriverSQLite, DriverPostgres, c.Database.Driver)
	}

	if c.Auth.JWTSecret != "" && len(c.Auth.JWTSecret) < minJWTSecretLength {
		return fmt.Errorf("auth.jwt_secret must be at least %d bytes", minJWTSecretLength)
	}

	if c.WhatsApp.VerifyToken == "" {
		return fmt.Errorf("whatsapp.verify_token is required")
	}
	if c.WhatsApp.AccessToken == "" {
		return fmt.Errorf("whatsapp.access_token is required")
	}

	switch c.Generation.Provider {
	case ProviderGemini:
		if c.Generation.APIKey == "" && c.Generation.OAuth.ClientID == "" {
			return fmt.Errorf("generation.api_key or generation.oauth.client_id is required for gemini")
		}
		if c.Generation.OAuth.ClientID != "" && c.Generation.OAuth.TokenURL == "" {
			return fmt.Errorf("generation.oauth.token_url is required with oauth client credentials")
		}
	case ProviderOpenAI:
		if c.Generation.APIKey == "" {
			return fmt.Errorf("generation.api_key is required for openai")
		}
	default:
		return fmt.Errorf("generation.provider must be %q or %q, got %q", ProviderGemini, ProviderOpenAI, c.Generation.Provider)
	}

	switch c.Dedupe.Backend {
	case DedupeMemory:
	case DedupeRedis:
		if c.Dedupe.RedisAddr == "" {
			return fmt.Errorf("dedupe.redis_addr is required for the redis backend")
		}
	default:
		return fmt.Errorf("dedupe.backend must be %q or %q, got %q", DedupeMemory, DedupeRedis, c.Dedupe.Backend)
	}

	if c.WhatsApp.SendTimeout >= c.Pipeline.EventTimeout {
		return fmt.Errorf("whatsapp.send_timeout (%s) must be shorter than pipeline.event_timeout (%s)",
			c.WhatsApp.SendTimeout, c.Pipeline.EventTimeout)
	}
	if c.Generation.Timeout >= c.Pipeline.EventTimeout {
		return fmt.Errorf("generation.timeout (%s) must be shorter than pipeline.event_timeout (%s)",
			c.Generation.Timeout, c.Pipeline.EventTimeout)
	}
	if sum := c.Generation.Timeout + c.WhatsApp.SendTimeout; sum >= c.Pipeline.EventTimeout {
		return fmt.Errorf("generation.timeout + whatsapp.send_timeout (%s) must be shorter than pipeline.event_timeout (%s)",
			sum, c.Pipeline.EventTimeout)
	}
	if c.Server.WriteTimeout <= c.Pipeline.EventTimeout {
		return fmt.Errorf("server.write_timeout (%s) must be longer than pipeline.event_timeout (%s)",
			c.Server.WriteTimeout, c.Pipeline.EventTimeout)
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
		{"server.write_timeout", cfg.Server.WriteTimeoutRaw, &cfg.Server.WriteTimeout},
		{"whatsapp.send_timeout", cfg.WhatsApp.SendTimeoutRaw, &cfg.WhatsApp.SendTimeout},
		{"generation.timeout", cfg.Generation.TimeoutRaw, &cfg.Generation.Timeout},
		{"generation.token_validity", cfg.Generation.TokenValidityRaw, &cfg.Generation.TokenValidity},
		{"ispcube.timeout", cfg.ISPCube.TimeoutRaw, &cfg.ISPCube.Timeout},
		{"dedupe.ttl", cfg.Dedupe.TTLRaw, &cfg.Dedupe.TTL},
		{"pipeline.event_timeout", cfg.Pipeline.EventTimeoutRaw, &cfg.Pipeline.EventTimeout},
	}

	for _, f := range fields {
		if f.raw == "" {
			continue
		}
		d, err := time.ParseDuration(f.raw)
		if err != nil {
			return fmt.Errorf("parsing %s %q: %w", f.name, f.raw, err)
		}
		if d <= 0 {
			return fmt.Errorf("%s must be positive, got %q", f.name, f.raw)
		}
		*f.dst = d
	}
	return nil
}
