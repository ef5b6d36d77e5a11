package middleware

import (
	"net/http"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

type Config struct {
	Logger *zap.Logger

	// CORS is nil when cross-origin access is disabled.
	CORS *CORSConfig

	RateLimit      rate.Limit
	RateLimitBurst int
	// RateLimitExempt lists path prefixes that bypass the per-host limiter.
	RateLimitExempt []string

	RequestTimeout time.Duration
	// TimeoutExempt lists path prefixes served without RequestTimeout, such
	// as media streaming and the realtime socket.
	TimeoutExempt []string
}

// Chain wraps a handler with, from the outside in: logging, request id,
// panic recovery, CORS, rate limiting and the request timeout. The
// returned stop function releases the limiter's background sweep.
func Chain(config *Config) (wrap func(http.Handler) http.Handler, stop func()) {
	limiter := NewRateLimiter(config.RateLimit, config.RateLimitBurst, config.RateLimitExempt...)

	wrap = func(h http.Handler) http.Handler {
		h = Timeout(config.RequestTimeout, config.TimeoutExempt...)(h)
		h = limiter.Middleware()(h)
		if config.CORS != nil {
			h = CORS(config.CORS)(h)
		}
		h = Recovery(config.Logger)(h)
		h = RequestID(h)
		return Logger(config.Logger)(h)
	}
	return wrap, limiter.Stop
}
