package middleware

import (
	"math"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/labstack/echo/v4"
	"golang.org/x/time/rate"

	"github.com/cohort/cohort/internal/platform/auth"
)

// RateLimitConfig bounds how often one caller may hit a route group.
// Queries that run against the clinical database are the expensive ones.
type RateLimitConfig struct {
	RequestsPerSecond float64
	BurstSize         int
}

// DefaultRateLimitConfig is used by RateLimit when given a zero config.
func DefaultRateLimitConfig() RateLimitConfig {
	return RateLimitConfig{RequestsPerSecond: 1, BurstSize: 10}
}

const (
	limiterIdleTTL    = 10 * time.Minute
	limiterSweepEvery = time.Minute
)

type limiterEntry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

type limiterStore struct {
	mu        sync.Mutex
	limiters  map[string]*limiterEntry
	cfg       RateLimitConfig
	idleTTL   time.Duration
	lastSweep time.Time
	now       func() time.Time
}

func newLimiterStore(cfg RateLimitConfig) *limiterStore {
	return &limiterStore{
		limiters: make(map[string]*limiterEntry),
		cfg:      cfg,
		idleTTL:  idleTTL(cfg),
		now:      time.Now,
	}
}

// idleTTL is how long a caller's limiter is kept after its last request. A
// limiter is only dropped once it would have refilled its whole burst, so
// eviction never grants extra requests. Limiters that never refill are kept.
func idleTTL(cfg RateLimitConfig) time.Duration {
	if cfg.RequestsPerSecond <= 0 {
		return 0
	}
	refill := time.Duration(float64(cfg.BurstSize) / cfg.RequestsPerSecond * float64(time.Second))
	if refill > limiterIdleTTL {
		return refill
	}
	return limiterIdleTTL
}

func (s *limiterStore) get(key string) *rate.Limiter {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	if now.Sub(s.lastSweep) >= limiterSweepEvery {
		s.sweep(now)
	}
	e, ok := s.limiters[key]
	if !ok {
		e = &limiterEntry{limiter: rate.NewLimiter(rate.Limit(s.cfg.RequestsPerSecond), s.cfg.BurstSize)}
		s.limiters[key] = e
	}
	e.lastSeen = now
	return e.limiter
}

// sweep drops limiters idle for longer than idleTTL. The caller holds mu.
func (s *limiterStore) sweep(now time.Time) {
	s.lastSweep = now
	if s.idleTTL <= 0 {
		return
	}
	for key, e := range s.limiters {
		if now.Sub(e.lastSeen) > s.idleTTL {
			delete(s.limiters, key)
		}
	}
}

// rateKey is the authenticated user, or the client address when the
// request is anonymous.
func rateKey(c echo.Context) string {
	if uid := auth.UserIDFromContext(c.Request().Context()); uid != "" {
		return "user:" + uid
	}
	return "ip:" + c.RealIP()
}

// RateLimit applies a token bucket per caller. It must run after the auth
// middleware so callers are keyed by user.
func RateLimit(cfg RateLimitConfig) echo.MiddlewareFunc {
	if cfg == (RateLimitConfig{}) {
		cfg = DefaultRateLimitConfig()
	}
	store := newLimiterStore(cfg)
	limit := strconv.FormatFloat(cfg.RequestsPerSecond, 'f', -1, 64)

	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			h := c.Response().Header()
			h.Set("X-RateLimit-Limit", limit)

			r := store.get(rateKey(c)).Reserve()
			if !r.OK() || r.Delay() > 0 {
				delay := r.Delay()
				r.Cancel()
				h.Set("Retry-After", strconv.Itoa(retryAfter(delay)))
				h.Set("X-RateLimit-Remaining", "0")
				return echo.NewHTTPError(http.StatusTooManyRequests, "rate limit exceeded")
			}
			return next(c)
		}
	}
}

// retryAfter rounds d up to whole seconds. A limiter that never refills
// reports one second.
func retryAfter(d time.Duration) int {
	if d <= 0 || d == rate.InfDuration {
		return 1
	}
	return int(math.Ceil(d.Seconds()))
}
