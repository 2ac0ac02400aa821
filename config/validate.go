package config

import (
	"errors"
	"fmt"
	"strings"
)

// Validate checks the configuration for values the application cannot run with.
func (c *Config) Validate() error {
	var errs []error

	if c.Server.Port == "" {
		errs = append(errs, errors.New("server.port is required"))
	}

	for name, p := range map[string]PolicyConfig{
		"login":      c.RateLimit.Login,
		"generation": c.RateLimit.Generation,
	} {
		if p.Limit <= 0 {
			errs = append(errs, fmt.Errorf("rate_limit.%s.limit must be positive", name))
		}
		if p.Window <= 0 {
			errs = append(errs, fmt.Errorf("rate_limit.%s.window must be positive", name))
		}
	}

	switch c.RateLimit.Backend {
	case "memory":
	case "redis":
		if c.RateLimit.RedisURL == "" {
			errs = append(errs, errors.New("rate_limit.redis_url is required for the redis backend"))
		}
	default:
		errs = append(errs, fmt.Errorf("rate_limit.backend must be memory or redis, got %q", c.RateLimit.Backend))
	}

	switch strings.ToLower(c.Logging.Format) {
	case "json", "pretty":
	default:
		errs = append(errs, fmt.Errorf("logging.format must be json or pretty, got %q", c.Logging.Format))
	}

	switch strings.ToLower(c.Logging.Level) {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, fmt.Errorf("logging.level must be debug, info, warn or error, got %q", c.Logging.Level))
	}

	if c.Audit.Enabled {
		switch c.Audit.StorageType {
		case "sqlite":
		case "postgresql":
			if c.Audit.PostgresURL == "" {
				errs = append(errs, errors.New("audit.postgres_url is required for postgresql storage"))
			}
		case "mongodb":
			if c.Audit.MongoDBURL == "" {
				errs = append(errs, errors.New("audit.mongodb_url is required for mongodb storage"))
			}
		default:
			errs = append(errs, fmt.Errorf("audit.storage_type must be sqlite, postgresql or mongodb, got %q", c.Audit.StorageType))
		}
	}

	if c.Metrics.Enabled && !strings.HasPrefix(c.Metrics.Endpoint, "/") {
		errs = append(errs, fmt.Errorf("metrics.endpoint must start with '/', got %q", c.Metrics.Endpoint))
	}

	return errors.Join(errs...)
}
