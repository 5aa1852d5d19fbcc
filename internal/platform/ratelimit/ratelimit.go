// Package ratelimit provides per-client HTTP rate limiting built on httprate.
package ratelimit

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/httprate"
)

// Config holds configuration for the rate limiting middleware.
type Config struct {
	// RequestLimit is the maximum number of requests allowed per window.
	RequestLimit int
	// Window is the sliding window length.
	Window time.Duration
	// KeyFunc extracts the rate limit key from the request. Nil means by IP.
	KeyFunc func(r *http.Request) (string, error)
}

// Limit returns middleware that rejects requests over cfg.RequestLimit per
// cfg.Window with 429 and a Retry-After header. A non-positive
// RequestLimit disables limiting.
func Limit(cfg Config) func(http.Handler) http.Handler {
	if cfg.RequestLimit <= 0 {
		return func(next http.Handler) http.Handler { return next }
	}
	if cfg.Window <= 0 {
		cfg.Window = time.Minute
	}
	keyFunc := cfg.KeyFunc
	if keyFunc == nil {
		keyFunc = httprate.KeyByIP
	}
	retryAfter := strconv.Itoa(int(cfg.Window.Seconds()))

	return httprate.Limit(
		cfg.RequestLimit,
		cfg.Window,
		httprate.WithKeyFuncs(keyFunc),
		httprate.WithLimitHandler(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			w.Header().Set("Retry-After", retryAfter)
			w.WriteHeader(http.StatusTooManyRequests)
			_, _ = w.Write([]byte(`{"error":"rate_limit_exceeded"}`))
		}),
	)
}
