package middleware

import (
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"golang.org/x/time/rate"

	"github.com/clinic/clinic/internal/platform/apperr"
	"github.com/clinic/clinic/internal/platform/auth"
)

// RateLimitConfig holds rate limiting configuration.
type RateLimitConfig struct {
	RequestsPerSecond float64
	BurstSize         int
	// ExpiresIn drops idle per-caller limiters. Zero uses echo's default.
	ExpiresIn time.Duration
}

// DefaultRateLimitConfig returns default rate limiting settings.
func DefaultRateLimitConfig() RateLimitConfig {
	return RateLimitConfig{
		RequestsPerSecond: 20,
		BurstSize:         40,
	}
}

// Enabled reports whether the config limits anything at all.
func (cfg RateLimitConfig) Enabled() bool {
	return cfg.RequestsPerSecond > 0 && cfg.BurstSize > 0
}

// retryAfterSeconds is the wait, rounded up, until one token refills.
func (cfg RateLimitConfig) retryAfterSeconds() int {
	if cfg.RequestsPerSecond <= 0 {
		return 1
	}
	return int(math.Max(1, math.Ceil(1/cfg.RequestsPerSecond)))
}

// rateLimitKey buckets authenticated callers by user id and everyone else
// by client address.
func rateLimitKey(c echo.Context) (string, error) {
	if uid := auth.UserIDFromContext(c.Request().Context()); uid != "" {
		return "user:" + uid, nil
	}
	return "ip:" + c.RealIP(), nil
}

// RateLimit returns a per-caller token bucket middleware backed by echo's
// in-memory limiter store. Mount it after authentication so callers are
// keyed by identity.
func RateLimit(cfg RateLimitConfig) echo.MiddlewareFunc {
	if !cfg.Enabled() {
		return func(next echo.HandlerFunc) echo.HandlerFunc { return next }
	}

	limit := strconv.FormatFloat(cfg.RequestsPerSecond, 'f', 0, 64)
	store := echomw.NewRateLimiterMemoryStoreWithConfig(echomw.RateLimiterMemoryStoreConfig{
		Rate:      rate.Limit(cfg.RequestsPerSecond),
		Burst:     cfg.BurstSize,
		ExpiresIn: cfg.ExpiresIn,
	})

	return echomw.RateLimiterWithConfig(echomw.RateLimiterConfig{
		Store: store,
		BeforeFunc: func(c echo.Context) {
			c.Response().Header().Set("X-RateLimit-Limit", limit)
		},
		IdentifierExtractor: rateLimitKey,
		ErrorHandler: func(c echo.Context, err error) error {
			return echo.NewHTTPError(http.StatusForbidden, apperr.Body{
				Error:   "forbidden",
				Message: "caller could not be identified",
			})
		},
		DenyHandler: func(c echo.Context, identifier string, err error) error {
			c.Response().Header().Set("Retry-After", strconv.Itoa(cfg.retryAfterSeconds()))
			c.Response().Header().Set("X-RateLimit-Remaining", "0")
			return echo.NewHTTPError(http.StatusTooManyRequests, apperr.Body{
				Error:   "rate_limited",
				Message: "rate limit exceeded",
			})
		},
	})
}
