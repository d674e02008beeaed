package middleware

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/clinic/clinic/internal/platform/apperr"
)

// RequestTimeout puts a deadline on every request context. The handler
// runs on the request goroutine and observes the deadline through its
// context; storage calls then fail as unavailable. If the deadline has
// passed and nothing was written, the client gets a 503 unavailable body.
// WebSocket paths are exempt.
func RequestTimeout(timeout time.Duration) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if timeout <= 0 || isWebSocket(c.Request()) {
				return next(c)
			}

			ctx, cancel := context.WithTimeout(c.Request().Context(), timeout)
			defer cancel()
			c.SetRequest(c.Request().WithContext(ctx))

			err := next(c)
			if errors.Is(ctx.Err(), context.DeadlineExceeded) && !c.Response().Committed {
				return timeoutError(c)
			}
			return err
		}
	}
}

func isWebSocket(r *http.Request) bool {
	return strings.HasSuffix(r.URL.Path, "/ws") || strings.Contains(r.URL.Path, "/ws/") ||
		strings.EqualFold(r.Header.Get(echo.HeaderUpgrade), "websocket")
}

func timeoutError(c echo.Context) error {
	c.Response().Header().Set("Retry-After", "1")
	return c.JSON(http.StatusServiceUnavailable, apperr.Body{
		Error:   apperr.Kind(apperr.ErrUnavailable),
		Message: "request exceeded the allowed time limit",
	})
}
