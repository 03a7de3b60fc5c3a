// ABOUTME: Configuration loading and parsing for ambivo-gpt
// ABOUTME: Layers defaults, an optional YAML or TOML file, .env, and AMBIVO_* environment overrides

package config

import (
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config represents the complete ambivo-gpt configuration
type Config struct {
	Server    ServerConfig    `yaml:"server" toml:"server"`
	Tailscale TailscaleConfig `yaml:"tailscale" toml:"tailscale"`
	CRM       CRMConfig       `yaml:"crm" toml:"crm"`
	Query     QueryConfig     `yaml:"query" toml:"query"`
	Plugin    PluginConfig    `yaml:"plugin" toml:"plugin"`
	Logging   LoggingConfig   `yaml:"logging" toml:"logging"`
}

// ServerConfig holds the inbound HTTP surface settings
type ServerConfig struct {
	HTTPAddr string `yaml:"http_addr" toml:"http_addr"`
	// PublicURL is advertised in the OpenAPI servers list and plugin manifest
	PublicURL string `yaml:"public_url" toml:"public_url"`
}

// TailscaleConfig holds Tailscale tsnet configuration
type TailscaleConfig struct {
	Enabled   bool   `yaml:"enabled" toml:"enabled"`
	Hostname  string `yaml:"hostname" toml:"hostname"`
	AuthKey   string `yaml:"auth_key" toml:"auth_key"`
	StateDir  string `yaml:"state_dir" toml:"state_dir"`
	Ephemeral bool   `yaml:"ephemeral" toml:"ephemeral"`
	HTTPS     bool   `yaml:"https" toml:"https"`   // Serve HTTPS with tailnet certs
	Funnel    bool   `yaml:"funnel" toml:"funnel"` // Enable public Funnel (implies HTTPS)
}

// CRMConfig holds the outbound forwarder settings
type CRMConfig struct {
	BaseURL    string `yaml:"base_url" toml:"base_url"`
	AuthToken  string `yaml:"auth_token" toml:"auth_token"`
	MaxRetries int    `yaml:"max_retries" toml:"max_retries"`

	Timeout         time.Duration `yaml:"-" toml:"-"`
	RetryBackoff    time.Duration `yaml:"-" toml:"-"`
	RetryBackoffMax time.Duration `yaml:"-" toml:"-"`

	// Raw string values for YAML/TOML unmarshaling
	TimeoutRaw         string `yaml:"timeout" toml:"timeout"`
	RetryBackoffRaw    string `yaml:"retry_backoff" toml:"retry_backoff"`
	RetryBackoffMaxRaw string `yaml:"retry_backoff_max" toml:"retry_backoff_max"`
}

// QueryConfig holds request validation bounds
type QueryConfig struct {
	MinLength int `yaml:"min_length" toml:"min_length"`
	MaxLength int `yaml:"max_length" toml:"max_length"`
}

// PluginConfig overrides plugin manifest contact details
type PluginConfig struct {
	ContactEmail string `yaml:"contact_email" toml:"contact_email"`
	LogoURL      string `yaml:"logo_url" toml:"logo_url"`
	LegalInfoURL string `yaml:"legal_info_url" toml:"legal_info_url"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level" toml:"level"`
	Format string `yaml:"format" toml:"format"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			HTTPAddr:  "0.0.0.0:8080",
			PublicURL: "https://gpt.ambivo.com",
		},
		Tailscale: TailscaleConfig{
			Hostname: "ambivo-gpt",
		},
		CRM: CRMConfig{
			BaseURL:         "https://goferapi.ambivo.com",
			MaxRetries:      3,
			Timeout:         30 * time.Second,
			RetryBackoff:    250 * time.Millisecond,
			RetryBackoffMax: 2 * time.Second,
		},
		Query: QueryConfig{
			MinLength: 1,
			MaxLength: 1000,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// Resolve builds the effective configuration: defaults, then the file at
// path (skipped when path is empty), then environment overrides. A .env file
// in the working directory is loaded into the environment first; variables
// already set are not replaced.
func Resolve(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("loading .env: %w", err)
	}

	cfg := Default()
	if path != "" {
		if err := cfg.loadFile(path); err != nil {
			return nil, err
		}
	}

	if err := cfg.ApplyEnv(os.LookupEnv); err != nil {
		return nil, fmt.Errorf("applying environment: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}
	return cfg, nil
}

// Load reads a configuration file on top of the defaults and validates it.
// Environment variables in the format ${VAR_NAME} are expanded.
// Duration strings are parsed into time.Duration values.
func Load(path string) (*Config, error) {
	cfg := Default()
	if err := cfg.loadFile(path); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}
	return cfg, nil
}

func (c *Config) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("reading config file: %w", err)
	}

	// Expand environment variables in the raw content
	expanded := expandEnvVars(string(data))

	switch strings.ToLower(filepath.Ext(path)) {
	case ".toml":
		if _, err := toml.Decode(expanded, c); err != nil {
			return fmt.Errorf("parsing config file: %w", err)
		}
	default:
		if err := yaml.Unmarshal([]byte(expanded), c); err != nil {
			return fmt.Errorf("parsing config file: %w", err)
		}
	}

	if err := parseDurations(c); err != nil {
		return fmt.Errorf("parsing durations: %w", err)
	}
	return nil
}

// DefaultPath returns the config file to use when none is given on the
// command line: $AMBIVO_GPT_CONFIG, else $XDG_CONFIG_HOME/ambivo-gpt/gateway.yaml
// (or ~/.config/...) if that file exists, else "".
func DefaultPath() string {
	if p := os.Getenv("AMBIVO_GPT_CONFIG"); p != "" {
		return p
	}
	dir := os.Getenv("XDG_CONFIG_HOME")
	if dir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return ""
		}
		dir = filepath.Join(home, ".config")
	}
	p := filepath.Join(dir, "ambivo-gpt", "gateway.yaml")
	if _, err := os.Stat(p); err != nil {
		return ""
	}
	return p
}

// envVarPattern matches ${VAR_NAME}.
var envVarPattern = regexp.MustCompile(`\$\{([^}]+)\}`)

// expandEnvVars replaces ${VAR_NAME} patterns with the corresponding environment variable values.
// If the environment variable is not set, it is replaced with an empty string.
func expandEnvVars(s string) string {
	return envVarPattern.ReplaceAllStringFunc(s, func(match string) string {
		return os.Getenv(envVarPattern.FindStringSubmatch(match)[1])
	})
}

// ApplyEnv overrides fields from AMBIVO_* variables found through lookup.
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) error {
	str := func(key string, dst *string) {
		if v, ok := lookup(key); ok && strings.TrimSpace(v) != "" {
			*dst = strings.TrimSpace(v)
		}
	}

	str("AMBIVO_BASE_URL", &c.CRM.BaseURL)
	str("AMBIVO_AUTH_TOKEN", &c.CRM.AuthToken)
	str("AMBIVO_HTTP_ADDR", &c.Server.HTTPAddr)
	str("AMBIVO_PUBLIC_URL", &c.Server.PublicURL)
	str("AMBIVO_LOG_LEVEL", &c.Logging.Level)
	str("AMBIVO_LOG_FORMAT", &c.Logging.Format)

	if v, ok := lookup("AMBIVO_TIMEOUT"); ok && strings.TrimSpace(v) != "" {
		d, err := parseSeconds(strings.TrimSpace(v))
		if err != nil {
			return fmt.Errorf("AMBIVO_TIMEOUT: %w", err)
		}
		c.CRM.Timeout = d
	}

	if v, ok := lookup("AMBIVO_MAX_RETRIES"); ok && strings.TrimSpace(v) != "" {
		n, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil {
			return fmt.Errorf("AMBIVO_MAX_RETRIES: %w", err)
		}
		c.CRM.MaxRetries = n
	}

	return nil
}

// parseSeconds accepts a bare number of seconds ("30", "2.5") or a Go
// duration string ("30s", "1m").
func parseSeconds(s string) (time.Duration, error) {
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		return time.Duration(f * float64(time.Second)), nil
	}
	return time.ParseDuration(s)
}

// Validate checks that all required configuration fields are present and valid.
// Returns an error describing the first validation failure encountered.
func (c *Config) Validate() error {
	// Server address is required unless Tailscale is enabled
	if !c.Tailscale.Enabled && c.Server.HTTPAddr == "" {
		return fmt.Errorf("server.http_addr is required (or enable tailscale)")
	}

	// Tailscale requires a hostname
	if c.Tailscale.Enabled && c.Tailscale.Hostname == "" {
		return fmt.Errorf("tailscale.hostname is required when tailscale is enabled")
	}

	if err := validateURL("server.public_url", c.Server.PublicURL); err != nil {
		return err
	}
	if err := validateURL("crm.base_url", c.CRM.BaseURL); err != nil {
		return err
	}

	if c.CRM.Timeout <= 0 {
		return fmt.Errorf("crm.timeout must be positive")
	}
	if c.CRM.MaxRetries < 0 {
		return fmt.Errorf("crm.max_retries must not be negative")
	}
	if c.CRM.RetryBackoff < 0 || c.CRM.RetryBackoffMax < 0 {
		return fmt.Errorf("crm retry backoff must not be negative")
	}

	if c.Query.MinLength < 0 {
		return fmt.Errorf("query.min_length must not be negative")
	}
	if c.Query.MaxLength < 0 {
		return fmt.Errorf("query.max_length must not be negative (0 disables the limit)")
	}
	if c.Query.MaxLength > 0 && c.Query.MaxLength < c.Query.MinLength {
		return fmt.Errorf("query.max_length (%d) is less than query.min_length (%d)", c.Query.MaxLength, c.Query.MinLength)
	}

	switch strings.ToLower(c.Logging.Format) {
	case "", "text", "json":
	default:
		return fmt.Errorf("logging.format must be text or json, got %q", c.Logging.Format)
	}

	return nil
}

func validateURL(field, raw string) error {
	if raw == "" {
		return fmt.Errorf("%s is required", field)
	}
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("%s: %w", field, err)
	}
	if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("%s must be an absolute http(s) URL, got %q", field, raw)
	}
	return nil
}

// parseDurations converts the raw duration strings into time.Duration values
func parseDurations(cfg *Config) error {
	var err error

	if cfg.CRM.TimeoutRaw != "" {
		cfg.CRM.Timeout, err = parseSeconds(cfg.CRM.TimeoutRaw)
		if err != nil {
			return fmt.Errorf("parsing timeout %q: %w", cfg.CRM.TimeoutRaw, err)
		}
	}

	if cfg.CRM.RetryBackoffRaw != "" {
		cfg.CRM.RetryBackoff, err = time.ParseDuration(cfg.CRM.RetryBackoffRaw)
		if err != nil {
			return fmt.Errorf("parsing retry_backoff %q: %w", cfg.CRM.RetryBackoffRaw, err)
		}
	}

	if cfg.CRM.RetryBackoffMaxRaw != "" {
		cfg.CRM.RetryBackoffMax, err = time.ParseDuration(cfg.CRM.RetryBackoffMaxRaw)
		if err != nil {
			return fmt.Errorf("parsing retry_backoff_max %q: %w", cfg.CRM.RetryBackoffMaxRaw, err)
		}
	}

	return nil
}
