// Package config loads application configuration. Sources are applied in
// order, later ones winning: built-in defaults, an optional YAML file, an
// optional .env file, then environment variables.
package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"regexp"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config holds the application configuration
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Gemini    GeminiConfig    `yaml:"gemini"`
	RateLimit RateLimitConfig `yaml:"rate_limit"`
	Auth      AuthConfig      `yaml:"auth"`
	Logging   LogConfig       `yaml:"logging"`
	Audit     AuditConfig     `yaml:"audit"`
	Metrics   MetricsConfig   `yaml:"metrics"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Port string `yaml:"port"`
	// BodySizeLimit uses Echo's size syntax, e.g. "10M".
	BodySizeLimit  string   `yaml:"body_size_limit"`
	AllowedOrigins []string `yaml:"allowed_origins"`
	// RequireAuth rejects generation requests without a valid session token.
	// When false such callers share the "anonymous" identity.
	RequireAuth bool `yaml:"require_auth"`
}

// GeminiConfig holds provider settings
type GeminiConfig struct {
	APIKey  string        `yaml:"api_key"`
	BaseURL string        `yaml:"base_url"`
	Model   string        `yaml:"model"`
	Timeout time.Duration `yaml:"timeout"`
}

// RateLimitConfig selects the limiter backend and the per-pool policies
type RateLimitConfig struct {
	// Backend is "memory" or "redis"
	Backend    string       `yaml:"backend"`
	RedisURL   string       `yaml:"redis_url"`
	KeyPrefix  string       `yaml:"key_prefix"`
	Login      PolicyConfig `yaml:"login"`
	Generation PolicyConfig `yaml:"generation"`
}

// PolicyConfig is a fixed-window limit
type PolicyConfig struct {
	Limit  int           `yaml:"limit"`
	Window time.Duration `yaml:"window"`
}

// AuthConfig holds login settings
type AuthConfig struct {
	// Users maps username to bcrypt hash
	Users    map[string]string `yaml:"users"`
	TokenTTL time.Duration     `yaml:"token_ttl"`
}

// LogConfig holds application log settings
type LogConfig struct {
	// Format is "pretty" or "json"
	Format string `yaml:"format"`
	// Level is debug, info, warn or error
	Level string `yaml:"level"`
}

// AuditConfig holds audit log settings
type AuditConfig struct {
	Enabled          bool          `yaml:"enabled"`
	StorageType      string        `yaml:"storage_type"`
	SQLitePath       string        `yaml:"sqlite_path"`
	PostgresURL      string        `yaml:"postgres_url"`
	PostgresMaxConns int           `yaml:"postgres_max_conns"`
	MongoDBURL       string        `yaml:"mongodb_url"`
	MongoDBDatabase  string        `yaml:"mongodb_database"`
	BufferSize       int           `yaml:"buffer_size"`
	FlushInterval    time.Duration `yaml:"flush_interval"`
	RetentionDays    int           `yaml:"retention_days"`
}

// MetricsConfig holds Prometheus settings
type MetricsConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Endpoint string `yaml:"endpoint"`
}

// defaultConfigPaths are tried in order when no path is given.
var defaultConfigPaths = []string{"config.yaml", "config/config.yaml"}

// Load builds the configuration. path may be empty, in which case the
// default locations are tried and a missing file is not an error.
func Load(path string) (*Config, error) {
	if _, err := os.Stat(".env"); err == nil {
		// godotenv never overrides variables already set in the environment.
		if err := godotenv.Load(".env"); err != nil {
			return nil, fmt.Errorf("failed to load .env: %w", err)
		}
	}

	cfg := buildDefaultConfig()

	file, err := resolveConfigPath(path)
	if err != nil {
		return nil, err
	}
	if file != "" {
		if err := applyYAMLFile(cfg, file); err != nil {
			return nil, err
		}
	}

	if err := applyEnvOverrides(cfg); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func resolveConfigPath(path string) (string, error) {
	if path != "" {
		if _, err := os.Stat(path); err != nil {
			return "", fmt.Errorf("config file: %w", err)
		}
		return path, nil
	}
	for _, candidate := range defaultConfigPaths {
		if _, err := os.Stat(candidate); err == nil {
			return candidate, nil
		}
	}
	return "", nil
}

func applyYAMLFile(cfg *Config, path string) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}

	dec := yaml.NewDecoder(strings.NewReader(expandString(string(raw))))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	return nil
}

// Default returns the built-in configuration, before any file or
// environment overrides.
func Default() *Config {
	return buildDefaultConfig()
}

func buildDefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Port:           "8080",
			BodySizeLimit:  "10M",
			AllowedOrigins: []string{"http://localhost:5173"},
		},
		Gemini: GeminiConfig{
			BaseURL: "https://generativelanguage.googleapis.com/v1beta",
			Model:   "gemini-2.0-flash",
			Timeout: 60 * time.Second,
		},
		RateLimit: RateLimitConfig{
			Backend:    "memory",
			KeyPrefix:  "replyguard:ratelimit:",
			Login:      PolicyConfig{Limit: 10, Window: 24 * time.Hour},
			Generation: PolicyConfig{Limit: 4, Window: time.Minute},
		},
		Auth: AuthConfig{
			Users:    map[string]string{},
			TokenTTL: 24 * time.Hour,
		},
		Logging: LogConfig{
			Format: "json",
			Level:  "info",
		},
		Audit: AuditConfig{
			StorageType:      "sqlite",
			SQLitePath:       "data/replyguard.db",
			PostgresMaxConns: 10,
			MongoDBDatabase:  "replyguard",
			BufferSize:       1000,
			FlushInterval:    5 * time.Second,
			RetentionDays:    30,
		},
		Metrics: MetricsConfig{
			Endpoint: "/metrics",
		},
	}
}

// placeholderPattern matches ${VAR} and ${VAR:-default}.
var placeholderPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)(:-([^}]*))?\}`)

// expandString replaces ${VAR} with the variable's value and ${VAR:-default}
// with the value or default when the variable is unset or empty. ${VAR}
// with no value and no default is left untouched.
func expandString(s string) string {
	if !strings.Contains(s, "${") {
		return s
	}
	return placeholderPattern.ReplaceAllStringFunc(s, func(match string) string {
		groups := placeholderPattern.FindStringSubmatch(match)
		name, hasDefault, def := groups[1], groups[2] != "", groups[3]

		if value := os.Getenv(name); value != "" {
			return value
		}
		if hasDefault {
			return def
		}
		return match
	})
}
