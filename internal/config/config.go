// ABOUTME: Configuration loading and parsing for chatd
// ABOUTME: Supports YAML files with environment variable expansion and duration parsing

package config

import (
	"fmt"
	"os"
	"regexp"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the complete chatd configuration
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Database  DatabaseConfig  `yaml:"database"`
	Auth      AuthConfig      `yaml:"auth"`
	Blob      BlobConfig      `yaml:"blob"`
	Directory DirectoryConfig `yaml:"directory"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// ServerConfig holds server address configuration
type ServerConfig struct {
	HTTPAddr string `yaml:"http_addr"`
}

// DatabaseConfig holds database configuration
type DatabaseConfig struct {
	Path string `yaml:"path"`
}

// AuthConfig holds identity bridge and token configuration
type AuthConfig struct {
	// JWTSecret verifies principal tokens issued by the identity bridge
	JWTSecret string `yaml:"jwt_secret"`
	// BridgeURL is the external identity bridge endpoint (session -> token exchange)
	BridgeURL string `yaml:"bridge_url"`

	BridgeTimeout time.Duration `yaml:"-"`

	// Raw string value for YAML unmarshaling
	BridgeTimeoutRaw string `yaml:"bridge_timeout"`
}

// BlobConfig holds attachment storage configuration
type BlobConfig struct {
	// Dir is the root directory attachments are written under
	Dir string `yaml:"dir"`
	// BaseURL is prepended to blob paths to form retrieval URLs
	BaseURL string `yaml:"base_url"`
}

// DirectoryConfig holds the external user directory endpoint configuration
type DirectoryConfig struct {
	URL string `yaml:"url"`

	SyncInterval time.Duration `yaml:"-"`

	// Raw string value for YAML unmarshaling
	SyncIntervalRaw string `yaml:"sync_interval"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Load reads a configuration file from the given path and returns a parsed Config.
// Environment variables in the format ${VAR_NAME} are expanded.
// Duration strings are parsed into time.Duration values.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	// Expand environment variables in the raw YAML content
	expandedData := expandEnvVars(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(expandedData), &cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	// Parse duration fields
	if err := parseDurations(&cfg); err != nil {
		return nil, fmt.Errorf("parsing durations: %w", err)
	}

	// Validate required fields
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return &cfg, nil
}

// expandEnvVars replaces ${VAR_NAME} patterns with the corresponding environment variable values.
// If the environment variable is not set, it is replaced with an empty string.
func expandEnvVars(s string) string {
	// Match ${VAR_NAME} pattern
	re := regexp.MustCompile(`\$\{([^}]+)\}`)

	return re.ReplaceAllStringFunc(s, func(match string) string {
		// Extract variable name from ${VAR_NAME}
		varName := re.FindStringSubmatch(match)[1]
		return os.Getenv(varName)
	})
}

// Validate checks that all required configuration fields are present and valid.
// Returns an error describing the first validation failure encountered.
func (c *Config) Validate() error {
	if c.Server.HTTPAddr == "" {
		return fmt.Errorf("server.http_addr is required")
	}

	if c.Database.Path == "" {
		return fmt.Errorf("database.path is required")
	}

	if c.Auth.JWTSecret == "" {
		return fmt.Errorf("auth.jwt_secret is required")
	}

	if c.Auth.BridgeURL == "" {
		return fmt.Errorf("auth.bridge_url is required")
	}

	if c.Blob.Dir == "" {
		return fmt.Errorf("blob.dir is required")
	}

	return nil
}

// parseDurations converts the raw duration strings into time.Duration values
func parseDurations(cfg *Config) error {
	var err error

	if cfg.Auth.BridgeTimeoutRaw != "" {
		cfg.Auth.BridgeTimeout, err = time.ParseDuration(cfg.Auth.BridgeTimeoutRaw)
		if err != nil {
			return fmt.Errorf("parsing bridge_timeout %q: %w", cfg.Auth.BridgeTimeoutRaw, err)
		}
	}

	if cfg.Directory.SyncIntervalRaw != "" {
		cfg.Directory.SyncInterval, err = time.ParseDuration(cfg.Directory.SyncIntervalRaw)
		if err != nil {
			return fmt.Errorf("parsing sync_interval %q: %w", cfg.Directory.SyncIntervalRaw, err)
		}
	}

	return nil
}
