package middleware

import (
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/felixgeelhaar/fortify/ratelimit"

	"github.com/felixgeelhaar/gradebox/internal/api"
	"github.com/felixgeelhaar/gradebox/internal/auth"
)

// RateLimitConfig configures the run rate limiter
type RateLimitConfig struct {
	// Runs allowed per minute for one user.
	RunsPerMinute int
	// Maximum burst size (bucket capacity).
	Burst int
}

// DefaultRateLimitConfig returns sensible defaults
func DefaultRateLimitConfig() RateLimitConfig {
	return RateLimitConfig{
		RunsPerMinute: 30,
		Burst:         10,
	}
}

// RateLimiter bounds requests per user with a token bucket.
type RateLimiter struct {
	limiter  ratelimit.RateLimiter
	interval time.Duration
}

// NewRateLimiter creates a per-user limiter. A non-positive rate falls back
// to the defaults.
func NewRateLimiter(cfg RateLimitConfig) *RateLimiter {
	d := DefaultRateLimitConfig()
	if cfg.RunsPerMinute <= 0 {
		cfg.RunsPerMinute = d.RunsPerMinute
	}
	if cfg.Burst <= 0 {
		cfg.Burst = cfg.RunsPerMinute
	}
	return &RateLimiter{
		limiter: ratelimit.New(&ratelimit.Config{
			Rate:     cfg.RunsPerMinute,
			Burst:    cfg.Burst,
			Interval: time.Minute,
		}),
		interval: time.Minute,
	}
}

// Handler rejects requests over the limit with 429. The key is the user on
// the request context, or the client IP when there is none.
func (rl *RateLimiter) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key, ok := auth.UserFrom(r.Context())
		if !ok {
			key = "ip:" + ClientIP(r)
		}

		if !rl.limiter.Allow(r.Context(), key) {
			slog.Warn("run rate limit exceeded",
				"key", key,
				"path", r.URL.Path,
			)
			api.TooManyRequests(w, r, strconv.Itoa(int(rl.interval.Seconds())))
			return
		}

		next.ServeHTTP(w, r)
	})
}

// Close releases the limiter's background resources.
func (rl *RateLimiter) Close() error {
	return rl.limiter.Close()
}
