// Package app wires replyguard's components together and owns their lifecycle.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"replyguard/config"
	"replyguard/internal/auditlog"
	"replyguard/internal/auth"
	"replyguard/internal/core"
	"replyguard/internal/httpclient"
	"replyguard/internal/masking"
	"replyguard/internal/observability"
	"replyguard/internal/pipeline"
	"replyguard/internal/providers/gemini"
	"replyguard/internal/ratelimit"
	"replyguard/internal/server"
)

// sessionSweepInterval is how often expired session tokens are dropped.
const sessionSweepInterval = 10 * time.Minute

// App represents the main application with all its dependencies.
type App struct {
	config   *config.Config
	limiter  *ratelimit.Registry
	redis    *redis.Client
	audit    *auditlog.Result
	sessions *auth.SessionStore
	service  *pipeline.Service
	server   *server.Server

	stopSweep chan struct{}
	sweepDone chan struct{}

	shutdownMu sync.Mutex
	shutdown   bool
}

// Options overrides collaborators, mainly for tests.
type Options struct {
	// Completer replaces the Gemini provider.
	Completer core.Completer
	// Registerer receives the metrics. A fresh registry is used when nil.
	Registerer prometheus.Registerer
	// Gatherer serves the metrics endpoint. Required when Registerer is set.
	Gatherer prometheus.Gatherer
}

// New creates a new App with all dependencies initialized.
// The caller must call Shutdown to release resources.
func New(ctx context.Context, cfg *config.Config, opts Options) (*App, error) {
	if cfg == nil {
		return nil, fmt.Errorf("app config is required")
	}

	app := &App{config: cfg}

	reg, gatherer := opts.Registerer, opts.Gatherer
	if reg == nil {
		r := prometheus.NewRegistry()
		r.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
		reg, gatherer = r, r
	}
	metrics := observability.NewMetrics(reg)

	limiter, err := app.buildLimiter(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize rate limiter: %w", err)
	}
	limiter.SetHooks(metrics)
	app.limiter = limiter

	auditResult, err := auditlog.New(ctx, cfg.Audit)
	if err != nil {
		closeErr := app.closeLimiter()
		if closeErr != nil {
			return nil, fmt.Errorf("failed to initialize audit logging: %w (also: limiter close error: %v)", err, closeErr)
		}
		return nil, fmt.Errorf("failed to initialize audit logging: %w", err)
	}
	app.audit = auditResult

	authn, err := auth.NewStaticAuthenticator(cfg.Auth.Users)
	if err != nil {
		closeErr := errors.Join(app.audit.Close(), app.closeLimiter())
		if closeErr != nil {
			return nil, fmt.Errorf("failed to initialize authentication: %w (also: close error: %v)", err, closeErr)
		}
		return nil, fmt.Errorf("failed to initialize authentication: %w", err)
	}
	app.sessions = auth.NewSessionStore(cfg.Auth.TokenTTL)

	completer, model := opts.Completer, cfg.Gemini.Model
	if completer == nil {
		completer, model = buildGemini(cfg.Gemini)
	}

	app.service, err = pipeline.New(pipeline.Deps{
		Limiter:   limiter,
		Completer: completer,
		Model:     model,
		Masker:    masking.NewMasker(masking.DefaultPatterns(), metrics),
		Auth:      authn,
		Sessions:  app.sessions,
		Audit:     auditResult.Logger,
		Metrics:   metrics,
	})
	if err != nil {
		closeErr := errors.Join(app.audit.Close(), app.closeLimiter())
		if closeErr != nil {
			return nil, fmt.Errorf("failed to build pipeline: %w (also: close error: %v)", err, closeErr)
		}
		return nil, fmt.Errorf("failed to build pipeline: %w", err)
	}

	app.server = server.New(app.service, &server.Config{
		BodySizeLimit:   cfg.Server.BodySizeLimit,
		AllowedOrigins:  cfg.Server.AllowedOrigins,
		RequireAuth:     cfg.Server.RequireAuth,
		MetricsEnabled:  cfg.Metrics.Enabled,
		MetricsEndpoint: cfg.Metrics.Endpoint,
		MetricsHandler:  promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}),
	})

	app.stopSweep = make(chan struct{})
	app.sweepDone = make(chan struct{})
	go app.sweepSessions(sessionSweepInterval)

	app.logStartupInfo(authn.Len())
	return app, nil
}

func (a *App) buildLimiter(ctx context.Context) (*ratelimit.Registry, error) {
	rl := a.config.RateLimit
	login := ratelimit.Policy{Limit: rl.Login.Limit, Window: rl.Login.Window}
	generation := ratelimit.Policy{Limit: rl.Generation.Limit, Window: rl.Generation.Window}

	switch rl.Backend {
	case "redis":
		client, err := ratelimit.NewRedisClient(ctx, rl.RedisURL)
		if err != nil {
			return nil, err
		}
		a.redis = client
		return ratelimit.NewRedisRegistry(client, login, generation, rl.KeyPrefix), nil
	default:
		return ratelimit.NewMemoryRegistry(login, generation), nil
	}
}

func buildGemini(cfg config.GeminiConfig) (*gemini.Provider, string) {
	httpCfg := httpclient.DefaultConfig()
	if cfg.Timeout > 0 {
		httpCfg = httpCfg.WithTimeout(cfg.Timeout)
	}

	opts := []gemini.Option{gemini.WithHTTPClient(httpclient.NewHTTPClient(&httpCfg))}
	if cfg.BaseURL != "" {
		opts = append(opts, gemini.WithBaseURL(cfg.BaseURL))
	}
	if cfg.Model != "" {
		opts = append(opts, gemini.WithModel(cfg.Model))
	}

	p := gemini.New(cfg.APIKey, opts...)
	return p, p.Model()
}

func (a *App) sweepSessions(interval time.Duration) {
	defer close(a.sweepDone)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if n := a.sessions.Sweep(); n > 0 {
				slog.Debug("expired sessions removed", "count", n)
			}
		case <-a.stopSweep:
			return
		}
	}
}

// Service returns the pipeline behind the HTTP server.
func (a *App) Service() *pipeline.Service {
	return a.service
}

// Handler returns the HTTP handler, for tests.
func (a *App) Handler() http.Handler {
	return a.server
}

// Start starts the HTTP server on the given address.
// This is a blocking call that returns when the server stops.
func (a *App) Start(addr string) error {
	if a.server == nil {
		return fmt.Errorf("server is not initialized")
	}
	slog.Info("starting server", "address", addr)
	if err := a.server.Start(addr); err != nil {
		if errors.Is(err, http.ErrServerClosed) {
			slog.Info("server stopped gracefully")
			return nil
		}
		return fmt.Errorf("server failed to start: %w", err)
	}
	return nil
}

// Shutdown gracefully tears down app components in dependency order:
// HTTP server, session sweeper, rate limiter (and its Redis client), then
// the audit log, which flushes pending entries.
//
// Shutdown is idempotent. It attempts every step and returns the joined errors.
func (a *App) Shutdown(ctx context.Context) error {
	a.shutdownMu.Lock()
	if a.shutdown {
		a.shutdownMu.Unlock()
		return nil
	}
	a.shutdown = true
	a.shutdownMu.Unlock()

	slog.Info("shutting down application...")

	var errs []error

	if a.server != nil {
		if err := a.server.Shutdown(ctx); err != nil {
			slog.Error("server shutdown error", "error", err)
			errs = append(errs, fmt.Errorf("server shutdown: %w", err))
		}
	}

	if a.stopSweep != nil {
		close(a.stopSweep)
		<-a.sweepDone
	}

	if err := a.closeLimiter(); err != nil {
		slog.Error("rate limiter close error", "error", err)
		errs = append(errs, fmt.Errorf("rate limiter close: %w", err))
	}

	if a.audit != nil {
		if err := a.audit.Close(); err != nil {
			slog.Error("audit logger close error", "error", err)
			errs = append(errs, fmt.Errorf("audit close: %w", err))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("shutdown errors: %w", errors.Join(errs...))
	}

	slog.Info("application shutdown complete")
	return nil
}

func (a *App) closeLimiter() error {
	var errs []error
	if a.limiter != nil {
		errs = append(errs, a.limiter.Close())
	}
	if a.redis != nil {
		errs = append(errs, a.redis.Close())
		a.redis = nil
	}
	return errors.Join(errs...)
}

// logStartupInfo logs the application configuration on startup.
func (a *App) logStartupInfo(users int) {
	cfg := a.config

	slog.Info("rate limiter configured",
		"backend", cfg.RateLimit.Backend,
		"login_limit", cfg.RateLimit.Login.Limit,
		"login_window", cfg.RateLimit.Login.Window,
		"generation_limit", cfg.RateLimit.Generation.Limit,
		"generation_window", cfg.RateLimit.Generation.Window,
	)

	if cfg.Gemini.APIKey == "" {
		slog.Warn("GEMINI_API_KEY not set - every generation will return a provider error")
	}

	if cfg.Server.RequireAuth {
		slog.Info("authentication required for generation", "users", users)
	} else {
		slog.Info("anonymous generation allowed", "users", users)
	}

	if cfg.Metrics.Enabled {
		slog.Info("prometheus metrics enabled", "endpoint", cfg.Metrics.Endpoint)
	} else {
		slog.Info("prometheus metrics disabled")
	}

	if cfg.Audit.Enabled {
		slog.Info("audit logging enabled",
			"storage_type", cfg.Audit.StorageType,
			"retention_days", cfg.Audit.RetentionDays,
		)
	} else {
		slog.Info("audit logging disabled")
	}
}
