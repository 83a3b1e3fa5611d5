package middleware

import (
	"math"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/labstack/echo/v4"
	"golang.org/x/time/rate"

	"github.com/clinicore/practice/internal/platform/metrics"
	"github.com/clinicore/practice/internal/platform/reqctx"
)

// RateLimitConfig holds rate limiting configuration.
type RateLimitConfig struct {
	RequestsPerSecond float64
	BurstSize         int
	// IdleTTL drops limiters that have not been used for this long.
	IdleTTL time.Duration
}

// DefaultRateLimitConfig returns default rate limiting settings.
func DefaultRateLimitConfig() RateLimitConfig {
	return RateLimitConfig{
		RequestsPerSecond: 100,
		BurstSize:         200,
		IdleTTL:           time.Hour,
	}
}

type limiterEntry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// limiterStore holds one token bucket per key.
type limiterStore struct {
	mu          sync.Mutex
	limiters    map[string]*limiterEntry
	cfg         RateLimitConfig
	now         func() time.Time
	lastCleanup time.Time
}

func newLimiterStore(cfg RateLimitConfig) *limiterStore {
	if cfg.IdleTTL <= 0 {
		cfg.IdleTTL = time.Hour
	}
	return &limiterStore{
		limiters:    make(map[string]*limiterEntry),
		cfg:         cfg,
		now:         time.Now,
		lastCleanup: time.Now(),
	}
}

func (s *limiterStore) get(key string) *rate.Limiter {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	if now.Sub(s.lastCleanup) > s.cfg.IdleTTL {
		for k, e := range s.limiters {
			if now.Sub(e.lastSeen) > s.cfg.IdleTTL {
				delete(s.limiters, k)
			}
		}
		s.lastCleanup = now
	}

	e, ok := s.limiters[key]
	if !ok {
		e = &limiterEntry{limiter: rate.NewLimiter(rate.Limit(s.cfg.RequestsPerSecond), s.cfg.BurstSize)}
		s.limiters[key] = e
	}
	e.lastSeen = now
	return e.limiter
}

// rateLimitKey buckets requests by tenant, so one busy clinic cannot starve
// the others. Requests without a tenant are keyed by client IP.
func rateLimitKey(c echo.Context) string {
	ctx := c.Request().Context()
	if !reqctx.InScope(ctx) {
		return "ip:" + c.RealIP()
	}
	if tid, ok := reqctx.TenantID(ctx); ok {
		return "tenant:" + tid
	}
	return "ip:" + c.RealIP()
}

// RateLimit returns a per-tenant rate limiting middleware. Mount it after
// the tenant middleware.
func RateLimit(cfg RateLimitConfig) echo.MiddlewareFunc {
	store := newLimiterStore(cfg)
	limit := strconv.FormatFloat(cfg.RequestsPerSecond, 'f', 0, 64)

	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			limiter := store.get(rateLimitKey(c))
			c.Response().Header().Set("X-RateLimit-Limit", limit)

			r := limiter.ReserveN(store.now(), 1)
			if !r.OK() {
				return tooManyRequests(c, 1)
			}
			if delay := r.DelayFrom(store.now()); delay > 0 {
				r.CancelAt(store.now())
				return tooManyRequests(c, int(math.Ceil(delay.Seconds())))
			}
			return next(c)
		}
	}
}

func tooManyRequests(c echo.Context, retryAfter int) error {
	if retryAfter < 1 {
		retryAfter = 1
	}
	metrics.RateLimited.Inc()
	c.Response().Header().Set("Retry-After", strconv.Itoa(retryAfter))
	c.Response().Header().Set("X-RateLimit-Remaining", "0")
	return echo.NewHTTPError(http.StatusTooManyRequests, "rate limit exceeded")
}
