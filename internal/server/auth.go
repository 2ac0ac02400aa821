package server

import (
	"net/http"
	"strings"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"replyguard/internal/core"
)

// RequestIDMiddleware reuses the caller's X-Request-ID or generates one,
// echoes it back, and stores it in the request context.
func RequestIDMiddleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			req := c.Request()
			requestID := req.Header.Get(echo.HeaderXRequestID)
			if requestID == "" {
				requestID = uuid.NewString()
				req.Header.Set(echo.HeaderXRequestID, requestID)
			}
			c.Response().Header().Set(echo.HeaderXRequestID, requestID)
			c.SetRequest(req.WithContext(core.WithRequestID(req.Context(), requestID)))
			return next(c)
		}
	}
}

// IdentityMiddleware resolves the Bearer session token into the caller
// identity. Missing or unknown tokens become core.Anonymous unless
// requireAuth is set, in which case they are rejected with 401.
func IdentityMiddleware(resolver IdentityResolver, requireAuth bool) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			identity, ok := resolveBearer(resolver, c.Request().Header.Get(echo.HeaderAuthorization))
			if !ok {
				if requireAuth {
					return c.JSON(http.StatusUnauthorized, core.NewAuthenticationError("", "missing or invalid session token").ToJSON())
				}
				identity = core.Anonymous
			}

			req := c.Request()
			c.SetRequest(req.WithContext(core.WithIdentity(req.Context(), identity)))
			return next(c)
		}
	}
}

func resolveBearer(resolver IdentityResolver, header string) (string, bool) {
	const prefix = "Bearer "
	if resolver == nil || !strings.HasPrefix(header, prefix) {
		return "", false
	}
	token := strings.TrimSpace(strings.TrimPrefix(header, prefix))
	if token == "" {
		return "", false
	}
	return resolver.ResolveIdentity(token)
}
