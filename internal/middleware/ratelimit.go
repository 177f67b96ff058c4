package middleware

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"strconv"
	"sync"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/redis/go-redis/v9"

	"github.com/jainabhi1607/loanease/internal/apperror"
)

// rateLimitKeyPrefix namespaces limiter counters in Redis.
const rateLimitKeyPrefix = "ratelimit:"

// RateStore counts hits per key in fixed windows.
type RateStore interface {
	// Hit increments the counter for key, starting a new window of the given
	// length if none is open, and returns the count plus the time left in
	// the current window.
	Hit(ctx context.Context, key string, window time.Duration) (int64, time.Duration, error)
}

// RateLimit returns middleware that allows at most limit requests per client
// IP within each window and answers 429 beyond that. Store failures are
// logged and the request is let through.
func RateLimit(store RateStore, limit int, window time.Duration) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			ip := c.RealIP()
			count, ttl, err := store.Hit(c.Request().Context(), rateLimitKeyPrefix+ip, window)
			if err != nil {
				slog.Warn("rate limiter unavailable, allowing request",
					slog.String("remote_ip", ip),
					slog.Any("error", err),
				)
				return next(c)
			}

			h := c.Response().Header()
			h.Set("X-RateLimit-Limit", strconv.Itoa(limit))
			remaining := int64(limit) - count
			if remaining < 0 {
				remaining = 0
			}
			h.Set("X-RateLimit-Remaining", strconv.FormatInt(remaining, 10))

			if count > int64(limit) {
				h.Set("Retry-After", strconv.Itoa(int(math.Ceil(ttl.Seconds()))))
				return apperror.NewRateLimited("rate limit exceeded, please try again later")
			}
			return next(c)
		}
	}
}

// --- Redis store ---

type redisRateStore struct {
	rdb *redis.Client
}

// NewRedisRateStore returns a RateStore shared by every replica that talks
// to the same Redis.
func NewRedisRateStore(rdb *redis.Client) RateStore {
	return &redisRateStore{rdb: rdb}
}

// Hit runs INCR and PTTL in one transaction. A key without an expiry is
// either new or was left behind by a failed EXPIRE; both get the window.
func (s *redisRateStore) Hit(ctx context.Context, key string, window time.Duration) (int64, time.Duration, error) {
	var incr *redis.IntCmd
	var pttl *redis.DurationCmd
	_, err := s.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		incr = pipe.Incr(ctx, key)
		pttl = pipe.PTTL(ctx, key)
		return nil
	})
	if err != nil {
		return 0, 0, fmt.Errorf("incrementing %s: %w", key, err)
	}

	ttl := pttl.Val()
	if ttl < 0 {
		if err := s.rdb.PExpire(ctx, key, window).Err(); err != nil {
			return 0, 0, fmt.Errorf("setting expiry on %s: %w", key, err)
		}
		ttl = window
	}
	return incr.Val(), ttl, nil
}

// --- In-memory store ---

type memoryWindow struct {
	count int64
	start time.Time
}

// MemoryRateStore keeps counters in process memory. Suitable for a single
// instance and for tests. Expired windows are swept at most once per
// window, on the hit path.
type MemoryRateStore struct {
	mu        sync.Mutex
	windows   map[string]*memoryWindow
	lastSweep time.Time
	now       func() time.Time
}

// NewMemoryRateStore creates an empty in-memory store.
func NewMemoryRateStore() *MemoryRateStore {
	return &MemoryRateStore{
		windows: make(map[string]*memoryWindow),
		now:     time.Now,
	}
}

// Hit implements RateStore.
func (s *MemoryRateStore) Hit(_ context.Context, key string, window time.Duration) (int64, time.Duration, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	if now.Sub(s.lastSweep) > window {
		for k, w := range s.windows {
			if now.Sub(w.start) >= window {
				delete(s.windows, k)
			}
		}
		s.lastSweep = now
	}

	w, ok := s.windows[key]
	if !ok || now.Sub(w.start) >= window {
		w = &memoryWindow{start: now}
		s.windows[key] = w
	}
	w.count++
	return w.count, window - now.Sub(w.start), nil
}

// Len reports how many windows are being tracked.
func (s *MemoryRateStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.windows)
}
