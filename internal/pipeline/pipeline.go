// Package pipeline runs the two rate-gated flows: reply generation
// (limit, mask, prompt, complete, unmask) and login (limit, verify, issue
// a session).
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"replyguard/internal/auditlog"
	"replyguard/internal/auth"
	"replyguard/internal/core"
	"replyguard/internal/masking"
	"replyguard/internal/ratelimit"
)

const (
	// GenerationLimitMessage is shown when the generation pool rejects a request.
	GenerationLimitMessage = "Too many requests. Please try again later."

	// DiagnosticPrefix starts the reply text substituted for a failed provider call.
	DiagnosticPrefix = "Error Processing Request "
)

// Limiter admits or rejects requests per identity.
type Limiter interface {
	Acquire(ctx context.Context, kind ratelimit.Kind, identity string) ratelimit.Decision
	Policy(kind ratelimit.Kind) (ratelimit.Policy, bool)
}

// Metrics receives provider and login outcomes.
type Metrics interface {
	ProviderCall(model, outcome string, elapsed time.Duration)
	Login(outcome string)
}

// Deps are the collaborators of a Service. Limiter and Completer are
// required; the rest have no-op defaults.
type Deps struct {
	Limiter   Limiter
	Completer core.Completer
	// Model labels provider metrics and audit entries.
	Model    string
	Masker   *masking.Masker
	Auth     auth.Authenticator
	Sessions *auth.SessionStore
	Audit    auditlog.Writer
	Metrics  Metrics
}

// Service runs the generation and login flows.
type Service struct {
	limiter   Limiter
	completer core.Completer
	model     string
	masker    *masking.Masker
	auth      auth.Authenticator
	sessions  *auth.SessionStore
	audit     auditlog.Writer
	metrics   Metrics
	now       func() time.Time
}

// New creates a Service.
func New(deps Deps) (*Service, error) {
	if deps.Limiter == nil {
		return nil, errors.New("pipeline: limiter is required")
	}
	if deps.Completer == nil {
		return nil, errors.New("pipeline: completer is required")
	}

	s := &Service{
		limiter:   deps.Limiter,
		completer: deps.Completer,
		model:     deps.Model,
		masker:    deps.Masker,
		auth:      deps.Auth,
		sessions:  deps.Sessions,
		audit:     deps.Audit,
		metrics:   deps.Metrics,
		now:       time.Now,
	}
	if s.masker == nil {
		s.masker = masking.Default()
	}
	if s.sessions == nil {
		s.sessions = auth.NewSessionStore(auth.DefaultTokenTTL)
	}
	if s.audit == nil {
		s.audit = auditlog.NoopLogger{}
	}
	if s.metrics == nil {
		s.metrics = noopMetrics{}
	}
	return s, nil
}

// GenerateReply produces a reply to req.Content without the provider ever
// seeing the sensitive spans in it. The only error it returns is a
// *core.RateLimitError; provider failures come back as a Reply whose text
// starts with DiagnosticPrefix and whose ProviderFailed flag is set.
func (s *Service) GenerateReply(ctx context.Context, req core.GenerationRequest) (*core.Reply, error) {
	start := s.now()
	identity := req.Identity

	// The limiter releases its lock before returning, so nothing is held
	// across the provider call below.
	d := s.limiter.Acquire(ctx, ratelimit.KindGeneration, identity)
	if !d.Allowed {
		slog.InfoContext(ctx, "generation rate limited",
			"request_id", core.GetRequestID(ctx),
			"identity", identity,
			"retry_after", d.RetryAfter,
		)
		s.writeAudit(ctx, start, auditlog.ActionGenerate, identity, auditlog.OutcomeRateLimited, func(e *auditlog.Entry) {
			e.RetryAfterMs = d.RetryAfter.Milliseconds()
		})
		return nil, core.NewRateLimitError(string(ratelimit.KindGeneration), identity, d.RetryAfter, GenerationLimitMessage)
	}

	doc := s.masker.Mask(req.Content)
	prompt := BuildPrompt(doc.MaskedText, req.Tone)

	text, failed := s.complete(ctx, prompt)
	reply := &core.Reply{
		Text:           masking.Unmask(text, doc.Replacements),
		ProviderFailed: failed,
	}

	outcome := auditlog.OutcomeOK
	if failed {
		outcome = auditlog.OutcomeProviderError
	}
	s.writeAudit(ctx, start, auditlog.ActionGenerate, identity, outcome, func(e *auditlog.Entry) {
		e.MaskedSpans = len(doc.Replacements)
		e.Model = s.model
	})

	slog.DebugContext(ctx, "reply generated",
		"request_id", core.GetRequestID(ctx),
		"identity", identity,
		"masked_values", len(doc.Replacements),
		"provider_failed", failed,
	)
	return reply, nil
}

// complete calls the provider once. A failure becomes diagnostic text.
func (s *Service) complete(ctx context.Context, prompt string) (string, bool) {
	callStart := s.now()
	text, err := s.completer.Complete(ctx, prompt)
	elapsed := s.now().Sub(callStart)

	if err != nil {
		s.metrics.ProviderCall(s.model, "error", elapsed)
		slog.WarnContext(ctx, "provider call failed",
			"request_id", core.GetRequestID(ctx),
			"error", err,
		)
		return DiagnosticPrefix + failureMessage(err), true
	}

	s.metrics.ProviderCall(s.model, "ok", elapsed)
	return text, false
}

// failureMessage prefers the provider's own message over the wrapped error text.
func failureMessage(err error) string {
	var gwErr *core.GatewayError
	if errors.As(err, &gwErr) && gwErr.Message != "" {
		return gwErr.Message
	}
	return err.Error()
}

// Login checks the login pool for username, then verifies the password and
// issues a session. It returns a *core.RateLimitError when the pool is
// exhausted and auth.ErrInvalidCredentials when verification fails. Failed
// attempts count against the pool.
func (s *Service) Login(ctx context.Context, username, password string) (*auth.Session, error) {
	start := s.now()

	d := s.limiter.Acquire(ctx, ratelimit.KindLogin, username)
	if !d.Allowed {
		s.metrics.Login(string(auditlog.OutcomeRateLimited))
		s.writeAudit(ctx, start, auditlog.ActionLogin, username, auditlog.OutcomeRateLimited, func(e *auditlog.Entry) {
			e.RetryAfterMs = d.RetryAfter.Milliseconds()
		})
		return nil, core.NewRateLimitError(string(ratelimit.KindLogin), username, d.RetryAfter, s.loginLimitMessage())
	}

	if s.auth == nil {
		s.metrics.Login(string(auditlog.OutcomeInvalidCredentials))
		s.writeAudit(ctx, start, auditlog.ActionLogin, username, auditlog.OutcomeInvalidCredentials, nil)
		return nil, auth.ErrInvalidCredentials
	}

	if err := s.auth.Authenticate(ctx, username, password); err != nil {
		s.metrics.Login(string(auditlog.OutcomeInvalidCredentials))
		s.writeAudit(ctx, start, auditlog.ActionLogin, username, auditlog.OutcomeInvalidCredentials, nil)
		if !errors.Is(err, auth.ErrInvalidCredentials) {
			slog.ErrorContext(ctx, "authentication failed", "request_id", core.GetRequestID(ctx), "error", err)
		}
		return nil, auth.ErrInvalidCredentials
	}

	sess := s.sessions.Issue(username)
	s.metrics.Login(string(auditlog.OutcomeOK))
	s.writeAudit(ctx, start, auditlog.ActionLogin, username, auditlog.OutcomeOK, nil)
	return sess, nil
}

// ResolveIdentity returns the username behind a session token.
func (s *Service) ResolveIdentity(token string) (string, bool) {
	return s.sessions.Resolve(token)
}

func (s *Service) loginLimitMessage() string {
	p, ok := s.limiter.Policy(ratelimit.KindLogin)
	if !ok {
		p = ratelimit.DefaultLoginPolicy
	}
	if p.Window == 24*time.Hour {
		return fmt.Sprintf("Login limit exceeded. Max %d logins per day.", p.Limit)
	}
	return fmt.Sprintf("Login limit exceeded. Max %d logins per %s.", p.Limit, p.Window)
}

func (s *Service) writeAudit(ctx context.Context, start time.Time, action auditlog.Action, identity string, outcome auditlog.Outcome, fill func(*auditlog.Entry)) {
	e := &auditlog.Entry{
		ID:         uuid.NewString(),
		Timestamp:  start,
		DurationNs: s.now().Sub(start).Nanoseconds(),
		Action:     action,
		Identity:   identity,
		Outcome:    outcome,
		RequestID:  core.GetRequestID(ctx),
	}
	if fill != nil {
		fill(e)
	}
	s.audit.Write(e)
}

type noopMetrics struct{}

func (noopMetrics) ProviderCall(string, string, time.Duration) {}
func (noopMetrics) Login(string)                                {}
