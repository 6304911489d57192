package middleware

import (
	"net/http"
	"time"

	"github.com/go-chi/httprate"
)

// RateLimitConfig holds IP-level rate limiting configuration. This outer
// limiter is a blunt per-IP shield; the per-identifier budgets live in the
// service layer.
type RateLimitConfig struct {
	RequestLimit int
	Window       time.Duration
}

// DefaultAuthRateLimit bounds unauthenticated auth endpoints (login,
// forgot-password) per IP.
func DefaultAuthRateLimit() RateLimitConfig {
	return RateLimitConfig{
		RequestLimit: 20,
		Window:       time.Minute,
	}
}

// DefaultAPIRateLimit bounds general API traffic per IP.
func DefaultAPIRateLimit() RateLimitConfig {
	return RateLimitConfig{
		RequestLimit: 120,
		Window:       time.Minute,
	}
}

// RateLimitByIP creates a middleware that rate limits requests by client IP
func RateLimitByIP(config RateLimitConfig) func(next http.Handler) http.Handler {
	return httprate.Limit(
		config.RequestLimit,
		config.Window,
		httprate.WithKeyByRealIP(),
		httprate.WithLimitHandler(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusTooManyRequests)
			w.Write([]byte(`{"error":"rate_limit_exceeded","message":"Too many requests, try again later"}`))
		}),
	)
}
