package httpmiddleware

import (
	"context"
	"encoding/json"
	"math"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"
)

// CounterStore counts requests per key within fixed windows. Implementations
// must be safe for concurrent use.
type CounterStore interface {
	// Incr increments the counter for key in the window containing now and
	// returns the new count together with the instant the window resets.
	Incr(ctx context.Context, key string, window time.Duration) (count int64, resetAt time.Time, err error)
}

// RateLimitConfig configures the fixed window rate limiter.
type RateLimitConfig struct {
	// Max is the number of requests allowed per window.
	Max int
	// Window is the fixed window duration.
	Window time.Duration
	// Store counts requests. Defaults to an in-memory store.
	Store CounterStore
	// KeyFunc extracts the limit key from a request. Defaults to client IP.
	KeyFunc func(*http.Request) string
}

// RateLimit returns a middleware enforcing a per-key fixed window limit.
// Responses carry X-RateLimit-Limit, X-RateLimit-Remaining, and
// X-RateLimit-Reset; exceeding the limit yields 429 with a JSON body. A
// failing store lets the request through rather than rejecting traffic.
func RateLimit(ctx context.Context, cfg RateLimitConfig) Middleware {
	if cfg.Store == nil {
		cfg.Store = NewMemoryCounterStore(ctx, cfg.Window)
	}
	if cfg.KeyFunc == nil {
		cfg.KeyFunc = clientIP
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			count, resetAt, err := cfg.Store.Incr(r.Context(), cfg.KeyFunc(r), cfg.Window)
			if err != nil {
				zctx.From(r.Context()).Warn("rate limit store unavailable", zap.Error(err))
				next.ServeHTTP(w, r)
				return
			}

			remaining := int64(cfg.Max) - count
			if remaining < 0 {
				remaining = 0
			}
			w.Header().Set("X-RateLimit-Limit", strconv.Itoa(cfg.Max))
			w.Header().Set("X-RateLimit-Remaining", strconv.FormatInt(remaining, 10))
			w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(resetAt.Unix(), 10))

			if count > int64(cfg.Max) {
				retryAfter := time.Until(resetAt)
				if retryAfter < 0 {
					retryAfter = 0
				}
				w.Header().Set("Retry-After", strconv.Itoa(int(math.Ceil(retryAfter.Seconds()))))
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusTooManyRequests)
				_ = json.NewEncoder(w).Encode(map[string]any{
					"code":    http.StatusTooManyRequests,
					"message": "rate limit exceeded",
				})
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

type memoryCounter struct {
	count       int64
	windowStart time.Time
}

// MemoryCounterStore is a process-local CounterStore.
type MemoryCounterStore struct {
	mu       sync.Mutex
	counters map[string]*memoryCounter
	now      func() time.Time
}

// NewMemoryCounterStore returns an in-memory store and starts a background
// sweep that evicts expired counters until ctx is cancelled.
func NewMemoryCounterStore(ctx context.Context, window time.Duration) *MemoryCounterStore {
	s := &MemoryCounterStore{
		counters: make(map[string]*memoryCounter),
		now:      time.Now,
	}
	go s.sweep(ctx, window)
	return s
}

// Incr implements CounterStore.
func (s *MemoryCounterStore) Incr(_ context.Context, key string, window time.Duration) (int64, time.Time, error) {
	now := s.now()
	start := now.Truncate(window)

	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.counters[key]
	if !ok || c.windowStart.Before(start) {
		c = &memoryCounter{windowStart: start}
		s.counters[key] = c
	}
	c.count++
	return c.count, start.Add(window), nil
}

func (s *MemoryCounterStore) sweep(ctx context.Context, window time.Duration) {
	ticker := time.NewTicker(2 * window)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			cutoff := now.Add(-2 * window)
			s.mu.Lock()
			for key, c := range s.counters {
				if c.windowStart.Before(cutoff) {
					delete(s.counters, key)
				}
			}
			s.mu.Unlock()
		}
	}
}

// clientIP extracts the client address, preferring X-Forwarded-For, then
// X-Real-IP, then the connection's remote address.
func clientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		if i := strings.IndexByte(xff, ','); i > 0 {
			return strings.TrimSpace(xff[:i])
		}
		return strings.TrimSpace(xff)
	}
	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		return xri
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
