package middleware

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/pillara/pillara/internal/platform/auth"
)

type RateLimitConfig struct {
	RequestsPerSecond float64
	BurstSize         int
	// IdleTTL drops buckets that have not been used for this long.
	IdleTTL time.Duration
}

func DefaultRateLimitConfig() RateLimitConfig {
	return RateLimitConfig{
		RequestsPerSecond: 50,
		BurstSize:         100,
		IdleTTL:           10 * time.Minute,
	}
}

type tokenBucket struct {
	tokens     float64
	maxTokens  float64
	refillRate float64 // tokens per second
	lastRefill time.Time
	mu         sync.Mutex
}

func newTokenBucket(rate float64, burst int, now time.Time) *tokenBucket {
	return &tokenBucket{
		tokens:     float64(burst),
		maxTokens:  float64(burst),
		refillRate: rate,
		lastRefill: now,
	}
}

func (b *tokenBucket) allow(now time.Time) (bool, int) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.tokens += now.Sub(b.lastRefill).Seconds() * b.refillRate
	if b.tokens > b.maxTokens {
		b.tokens = b.maxTokens
	}
	b.lastRefill = now

	if b.tokens >= 1 {
		b.tokens--
		return true, 0
	}
	if b.refillRate <= 0 {
		return false, 1
	}
	return false, int((1-b.tokens)/b.refillRate) + 1
}

func (b *tokenBucket) idleSince(now time.Time) time.Duration {
	b.mu.Lock()
	defer b.mu.Unlock()
	return now.Sub(b.lastRefill)
}

type rateLimiterStore struct {
	mu        sync.Mutex
	buckets   map[string]*tokenBucket
	config    RateLimitConfig
	lastSweep time.Time
}

func newRateLimiterStore(cfg RateLimitConfig) *rateLimiterStore {
	return &rateLimiterStore{
		buckets:   make(map[string]*tokenBucket),
		config:    cfg,
		lastSweep: time.Now(),
	}
}

func (s *rateLimiterStore) getBucket(key string, now time.Time) *tokenBucket {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.config.IdleTTL > 0 && now.Sub(s.lastSweep) > s.config.IdleTTL {
		for k, b := range s.buckets {
			if b.idleSince(now) > s.config.IdleTTL {
				delete(s.buckets, k)
			}
		}
		s.lastSweep = now
	}

	bucket, ok := s.buckets[key]
	if !ok {
		bucket = newTokenBucket(s.config.RequestsPerSecond, s.config.BurstSize, now)
		s.buckets[key] = bucket
	}
	return bucket
}

// RateLimit throttles each caller with a token bucket. Requests are keyed by
// the authenticated user when one is resolved, otherwise by client IP.
func RateLimit(cfg RateLimitConfig) echo.MiddlewareFunc {
	store := newRateLimiterStore(cfg)
	limit := strconv.FormatFloat(cfg.RequestsPerSecond, 'f', 0, 64)

	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			key := "ip:" + c.RealIP()
			if uid := auth.CallerID(c); uid != "" {
				key = "user:" + uid
			}

			c.Response().Header().Set("X-RateLimit-Limit", limit)
			ok, retryAfter := store.getBucket(key, time.Now()).allow(time.Now())
			if !ok {
				c.Response().Header().Set("Retry-After", strconv.Itoa(retryAfter))
				c.Response().Header().Set("X-RateLimit-Remaining", "0")
				return echo.NewHTTPError(http.StatusTooManyRequests, map[string]interface{}{
					"kind":    "rate_limited",
					"message": "rate limit exceeded",
				})
			}
			return next(c)
		}
	}
}
