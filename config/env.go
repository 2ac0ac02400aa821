package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// applyEnvOverrides overlays environment variables onto cfg.
func applyEnvOverrides(cfg *Config) error {
	envString("PORT", &cfg.Server.Port)
	envString("BODY_SIZE_LIMIT", &cfg.Server.BodySizeLimit)
	envList("CORS_ALLOWED_ORIGINS", &cfg.Server.AllowedOrigins)

	envString("GEMINI_API_KEY", &cfg.Gemini.APIKey)
	envString("GEMINI_BASE_URL", &cfg.Gemini.BaseURL)
	envString("GEMINI_MODEL", &cfg.Gemini.Model)

	envString("RATE_LIMIT_BACKEND", &cfg.RateLimit.Backend)
	envString("REDIS_URL", &cfg.RateLimit.RedisURL)
	envString("RATE_LIMIT_KEY_PREFIX", &cfg.RateLimit.KeyPrefix)

	envString("LOG_FORMAT", &cfg.Logging.Format)
	envString("LOG_LEVEL", &cfg.Logging.Level)

	envString("AUDIT_STORAGE_TYPE", &cfg.Audit.StorageType)
	envString("AUDIT_SQLITE_PATH", &cfg.Audit.SQLitePath)
	envString("AUDIT_POSTGRES_URL", &cfg.Audit.PostgresURL)
	envString("AUDIT_MONGODB_URL", &cfg.Audit.MongoDBURL)
	envString("AUDIT_MONGODB_DATABASE", &cfg.Audit.MongoDBDatabase)

	envString("METRICS_ENDPOINT", &cfg.Metrics.Endpoint)

	if v := os.Getenv("AUTH_USERS"); v != "" {
		users, err := parseUsers(v)
		if err != nil {
			return fmt.Errorf("AUTH_USERS: %w", err)
		}
		cfg.Auth.Users = users
	}

	bools := []struct {
		key string
		dst *bool
	}{
		{"REQUIRE_AUTH", &cfg.Server.RequireAuth},
		{"AUDIT_ENABLED", &cfg.Audit.Enabled},
		{"METRICS_ENABLED", &cfg.Metrics.Enabled},
	}
	for _, b := range bools {
		if err := envBool(b.key, b.dst); err != nil {
			return err
		}
	}

	ints := []struct {
		key string
		dst *int
	}{
		{"RATE_LIMIT_LOGIN_LIMIT", &cfg.RateLimit.Login.Limit},
		{"RATE_LIMIT_GENERATION_LIMIT", &cfg.RateLimit.Generation.Limit},
		{"AUDIT_POSTGRES_MAX_CONNS", &cfg.Audit.PostgresMaxConns},
		{"AUDIT_BUFFER_SIZE", &cfg.Audit.BufferSize},
		{"AUDIT_RETENTION_DAYS", &cfg.Audit.RetentionDays},
	}
	for _, i := range ints {
		if err := envInt(i.key, i.dst); err != nil {
			return err
		}
	}

	durations := []struct {
		key string
		dst *time.Duration
	}{
		{"GEMINI_TIMEOUT", &cfg.Gemini.Timeout},
		{"RATE_LIMIT_LOGIN_WINDOW", &cfg.RateLimit.Login.Window},
		{"RATE_LIMIT_GENERATION_WINDOW", &cfg.RateLimit.Generation.Window},
		{"AUTH_TOKEN_TTL", &cfg.Auth.TokenTTL},
		{"AUDIT_FLUSH_INTERVAL", &cfg.Audit.FlushInterval},
	}
	for _, d := range durations {
		if err := envDuration(d.key, d.dst); err != nil {
			return err
		}
	}

	return nil
}

func envString(key string, dst *string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func envList(key string, dst *[]string) {
	v := os.Getenv(key)
	if v == "" {
		return
	}
	var out []string
	for _, item := range strings.Split(v, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	*dst = out
}

func envBool(key string, dst *bool) error {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return fmt.Errorf("%s: invalid boolean %q", key, v)
	}
	*dst = b
	return nil
}

func envInt(key string, dst *int) error {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fmt.Errorf("%s: invalid integer %q", key, v)
	}
	*dst = n
	return nil
}

// envDuration accepts plain integers as seconds or Go duration strings ("10m", "1h30m").
func envDuration(key string, dst *time.Duration) error {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	if secs, err := strconv.Atoi(v); err == nil {
		*dst = time.Duration(secs) * time.Second
		return nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fmt.Errorf("%s: invalid duration %q", key, v)
	}
	*dst = d
	return nil
}

// parseUsers parses "user:hash,user:hash". Bcrypt hashes contain neither
// ':' nor ',', so the first ':' separates the name.
func parseUsers(v string) (map[string]string, error) {
	users := make(map[string]string)
	for _, pair := range strings.Split(v, ",") {
		pair = strings.TrimSpace(pair)
		if pair == "" {
			continue
		}
		name, hash, ok := strings.Cut(pair, ":")
		if !ok || name == "" || hash == "" {
			return nil, fmt.Errorf("expected user:hash, got %q", pair)
		}
		users[name] = hash
	}
	return users, nil
}
