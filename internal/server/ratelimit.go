package server

import (
	"context"
	"math"
	"net/http"
	"strconv"
	"time"

	"golang.org/x/time/rate"

	"swap-relay/internal/cache"
)

// visitorTTL bounds how long an idle owner's limiter is kept.
const visitorTTL = 5 * time.Minute

// RateLimit configures the per-owner token bucket. A non-positive
// RequestsPerMinute disables limiting.
type RateLimit struct {
	RequestsPerMinute float64
	Burst             int
}

// RateLimiter throttles requests per authenticated owner.
type RateLimiter struct {
	limit    RateLimit
	visitors *cache.TTLMap[*rate.Limiter]
}

// NewRateLimiter creates a RateLimiter.
func NewRateLimiter(limit RateLimit, opts ...cache.Option) *RateLimiter {
	return &RateLimiter{
		limit:    limit,
		visitors: cache.NewTTLMap[*rate.Limiter](opts...),
	}
}

// Enabled reports whether requests are limited at all.
func (l *RateLimiter) Enabled() bool {
	return l.limit.RequestsPerMinute > 0
}

// Allow consumes one token of owner's bucket.
func (l *RateLimiter) Allow(owner string) bool {
	if !l.Enabled() {
		return true
	}
	return l.obtain(owner).Allow()
}

func (l *RateLimiter) obtain(owner string) *rate.Limiter {
	if limiter, ok := l.visitors.Get(owner); ok {
		return limiter
	}
	burst := l.limit.Burst
	if burst <= 0 {
		burst = 1
	}
	limiter, _ := l.visitors.SetIfAbsent(owner, rate.NewLimiter(rate.Limit(l.limit.RequestsPerMinute/60.0), burst), visitorTTL)
	return limiter
}

// retryAfter is the wait, in whole seconds, until one token is available.
func (l *RateLimiter) retryAfter() int {
	return int(math.Ceil(60.0 / l.limit.RequestsPerMinute))
}

// Middleware rejects requests of owners over their limit with 429.
func (l *RateLimiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		owner, _ := OwnerFromContext(r.Context())
		if !l.Allow(owner) {
			w.Header().Set("Retry-After", strconv.Itoa(l.retryAfter()))
			writeJSON(w, http.StatusTooManyRequests, ErrorBody{Error: ErrorDetail{
				Code:    CodeRateLimited,
				Message: http.StatusText(http.StatusTooManyRequests),
			}})
			return
		}
		next.ServeHTTP(w, r)
	})
}

// Run purges idle owners until ctx is done.
func (l *RateLimiter) Run(ctx context.Context) {
	l.visitors.Run(ctx, visitorTTL)
}
