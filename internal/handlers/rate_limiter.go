package handlers

import (
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/customwear/api/internal/platform/auth"
	"github.com/customwear/api/internal/platform/httpx"
)

const limiterIdleTTL = 10 * time.Minute

type rateLimiter interface {
	Allow(key string) bool
}

// tokenBucketLimiter keeps one token bucket per key and forgets keys idle for longer than
// limiterIdleTTL.
type tokenBucketLimiter struct {
	limit rate.Limit
	burst int
	clock func() time.Time

	mu      sync.Mutex
	buckets map[string]*bucket
	pruned  time.Time
}

type bucket struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

func newTokenBucketLimiter(perMinute int, clock func() time.Time) *tokenBucketLimiter {
	if perMinute <= 0 {
		return nil
	}
	if clock == nil {
		clock = time.Now
	}
	return &tokenBucketLimiter{
		limit:   rate.Limit(float64(perMinute) / 60),
		burst:   perMinute,
		clock:   clock,
		buckets: make(map[string]*bucket),
	}
}

func (l *tokenBucketLimiter) Allow(key string) bool {
	if l == nil {
		return true
	}
	key = strings.TrimSpace(key)
	if key == "" {
		key = "anonymous"
	}
	now := l.clock()

	l.mu.Lock()
	defer l.mu.Unlock()

	b, ok := l.buckets[key]
	if !ok {
		b = &bucket{limiter: rate.NewLimiter(l.limit, l.burst)}
		l.buckets[key] = b
	}
	b.lastSeen = now
	if now.Sub(l.pruned) > limiterIdleTTL {
		l.pruneLocked(now)
	}
	return b.limiter.AllowN(now, 1)
}

func (l *tokenBucketLimiter) pruneLocked(now time.Time) {
	for key, b := range l.buckets {
		if now.Sub(b.lastSeen) > limiterIdleTTL {
			delete(l.buckets, key)
		}
	}
	l.pruned = now
}

// RateLimitOption customises RateLimit.
type RateLimitOption func(*rateLimitConfig)

type rateLimitConfig struct {
	clock func() time.Time
}

// WithRateLimitClock overrides the limiter clock.
func WithRateLimitClock(clock func() time.Time) RateLimitOption {
	return func(cfg *rateLimitConfig) {
		cfg.clock = clock
	}
}

// RateLimit throttles requests per actor. Staff identities draw from a separate, larger
// budget; unauthenticated callers are keyed by remote address. A non-positive limit
// disables that tier.
func RateLimit(defaultPerMinute, staffPerMinute int, opts ...RateLimitOption) func(http.Handler) http.Handler {
	cfg := rateLimitConfig{}
	for _, opt := range opts {
		if opt != nil {
			opt(&cfg)
		}
	}
	var (
		standard rateLimiter = newTokenBucketLimiter(defaultPerMinute, cfg.clock)
		staff    rateLimiter = newTokenBucketLimiter(staffPerMinute, cfg.clock)
	)

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			limiter, key := standard, "ip:"+r.RemoteAddr
			if identity, ok := auth.IdentityFromContext(r.Context()); ok && identity != nil && identity.UID != "" {
				key = "uid:" + identity.UID
				if identity.IsStaff() {
					limiter = staff
				}
			}
			if !limiter.Allow(key) {
				w.Header().Set("Retry-After", strconv.Itoa(1))
				httpx.WriteError(r.Context(), w, httpx.NewError("rate_limited", "too many requests", http.StatusTooManyRequests))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
