package server

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"

	"replyguard/internal/auth"
	"replyguard/internal/core"
)

// IdentityResolver maps a session token to a username.
type IdentityResolver interface {
	ResolveIdentity(token string) (string, bool)
}

// Service is what the handlers need from the pipeline.
type Service interface {
	IdentityResolver
	GenerateReply(ctx context.Context, req core.GenerationRequest) (*core.Reply, error)
	Login(ctx context.Context, username, password string) (*auth.Session, error)
}

// Handler holds the HTTP handlers
type Handler struct {
	svc Service
}

// NewHandler creates a new handler backed by svc
func NewHandler(svc Service) *Handler {
	return &Handler{svc: svc}
}

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type loginFailure struct {
	Message string `json:"message"`
	Status  bool   `json:"status"`
}

// Login handles POST /api/auth/login
func (h *Handler) Login(c echo.Context) error {
	var req loginRequest
	if err := c.Bind(&req); err != nil {
		return handleError(c, core.NewInvalidRequestError("invalid request body", err))
	}

	sess, err := h.svc.Login(c.Request().Context(), req.Username, req.Password)
	if err != nil {
		if errors.Is(err, auth.ErrInvalidCredentials) {
			return c.JSON(http.StatusUnauthorized, loginFailure{Message: "Invalid credentials", Status: false})
		}
		return handleError(c, err)
	}

	return c.JSON(http.StatusOK, sess)
}

// GenerateReply handles POST /api/email/generate. The reply is plain text.
func (h *Handler) GenerateReply(c echo.Context) error {
	var req core.GenerationRequest
	if err := c.Bind(&req); err != nil {
		return handleError(c, core.NewInvalidRequestError("invalid request body", err))
	}

	ctx := c.Request().Context()
	req.Identity = core.GetIdentity(ctx)

	reply, err := h.svc.GenerateReply(ctx, req)
	if err != nil {
		return handleError(c, err)
	}
	return c.String(http.StatusOK, reply.Text)
}

// Health handles GET /health
func (h *Handler) Health(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
}

// handleError converts pipeline errors to HTTP responses. Rate limit
// rejections are plain text with a Retry-After header.
func handleError(c echo.Context, err error) error {
	var rlErr *core.RateLimitError
	if errors.As(err, &rlErr) {
		if secs := rlErr.RetryAfterSeconds(); secs > 0 {
			c.Response().Header().Set("Retry-After", strconv.Itoa(secs))
		}
		gwErr := rlErr.Gateway()
		return c.String(gwErr.HTTPStatusCode(), gwErr.Message)
	}

	var gatewayErr *core.GatewayError
	if errors.As(err, &gatewayErr) {
		return c.JSON(gatewayErr.HTTPStatusCode(), gatewayErr.ToJSON())
	}

	slog.ErrorContext(c.Request().Context(), "unhandled error",
		"request_id", core.GetRequestID(c.Request().Context()),
		"error", err,
	)
	return c.JSON(http.StatusInternalServerError, map[string]interface{}{
		"error": map[string]interface{}{
			"type":    "internal_error",
			"message": "an unexpected error occurred",
		},
	})
}
