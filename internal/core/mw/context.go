package mw

import (
	"context"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
)

type contextKey string

// CorrelationIDKey is the context key for the per-request correlation ID.
//
// The teacher's middleware carries a tenant dimension (WithOrgID/WithUserID)
// that this system does not have: spec §1's Non-goals rule out a
// user/identity model beyond a single operator. The context key is
// repurposed to carry a correlation ID instead, so every log line for one
// HTTP request can be tied together without a tenant concept.
const CorrelationIDKey contextKey = "correlation_id"

// WithCorrelationID returns a new context carrying id.
func WithCorrelationID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, CorrelationIDKey, id)
}

// GetCorrelationID extracts the correlation ID from the context, if present.
func GetCorrelationID(ctx context.Context) (string, bool) {
	v, ok := ctx.Value(CorrelationIDKey).(string)
	return v, ok
}

// CorrelationID is an Echo middleware that stamps every request with a
// correlation ID: it reuses an inbound X-Correlation-ID header if present,
// otherwise mints a fresh UUID, and stores it both on the request context
// and the response header.
func CorrelationID() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			id := c.Request().Header.Get("X-Correlation-ID")
			if id == "" {
				id = uuid.NewString()
			}
			c.Response().Header().Set("X-Correlation-ID", id)

			ctx := WithCorrelationID(c.Request().Context(), id)
			c.SetRequest(c.Request().WithContext(ctx))
			return next(c)
		}
	}
}
