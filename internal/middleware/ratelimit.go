package middleware

import (
	"context"
	"fmt"
	"math"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"github.com/thatmoment/server/internal/apperr"
	"github.com/thatmoment/server/internal/logging"
)

// ErrRateLimited is returned to callers that exceed a limit
var ErrRateLimited = apperr.TooManyRequests("RATE_LIMITED", "Too many requests. Please try again later.")

// Limiter decides whether another request for key fits in the current window.
// When it does not, retryAfter tells the caller how long to wait.
type Limiter interface {
	Allow(ctx context.Context, key string) (allowed bool, retryAfter time.Duration, err error)
}

// MemoryLimiter is a per-process sliding window limiter
type MemoryLimiter struct {
	mu       sync.Mutex
	requests map[string][]time.Time
	window   time.Duration
	maxReqs  int
	now      func() time.Time
	stop     chan struct{}
	once     sync.Once
}

// NewMemoryLimiter creates a sliding window limiter and starts its cleanup loop.
// Call Close to stop the loop.
func NewMemoryLimiter(window time.Duration, maxReqs int) *MemoryLimiter {
	rl := &MemoryLimiter{
		requests: make(map[string][]time.Time),
		window:   window,
		maxReqs:  maxReqs,
		now:      time.Now,
		stop:     make(chan struct{}),
	}
	go rl.cleanupLoop(time.Hour)
	return rl
}

// Allow records a request for key if the window has room
func (rl *MemoryLimiter) Allow(_ context.Context, key string) (bool, time.Duration, error) {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	reqs := inWindow(rl.requests[key], now.Add(-rl.window))

	if len(reqs) >= rl.maxReqs {
		rl.requests[key] = reqs
		return false, reqs[0].Add(rl.window).Sub(now), nil
	}

	rl.requests[key] = append(reqs, now)
	return true, 0, nil
}

// Close stops the cleanup loop
func (rl *MemoryLimiter) Close() {
	rl.once.Do(func() { close(rl.stop) })
}

func (rl *MemoryLimiter) cleanupLoop(every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			rl.cleanup()
		case <-rl.stop:
			return
		}
	}
}

// cleanup drops keys whose requests have all left the window
func (rl *MemoryLimiter) cleanup() {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	cutoff := rl.now().Add(-rl.window)
	for key, reqs := range rl.requests {
		if kept := inWindow(reqs, cutoff); len(kept) == 0 {
			delete(rl.requests, key)
		} else {
			rl.requests[key] = kept
		}
	}
}

// inWindow returns the timestamps after cutoff, oldest first
func inWindow(reqs []time.Time, cutoff time.Time) []time.Time {
	i := 0
	for i < len(reqs) && !reqs[i].After(cutoff) {
		i++
	}
	return reqs[i:]
}

// RedisLimiter is a fixed window limiter shared by every instance using the
// same Redis.
type RedisLimiter struct {
	client  redis.Cmdable
	prefix  string
	window  time.Duration
	maxReqs int
}

// NewRedisLimiter creates a Redis backed limiter. Keys are stored under prefix.
func NewRedisLimiter(client redis.Cmdable, prefix string, window time.Duration, maxReqs int) *RedisLimiter {
	return &RedisLimiter{client: client, prefix: prefix, window: window, maxReqs: maxReqs}
}

// Allow counts the request and reports whether the window is still within limit
func (rl *RedisLimiter) Allow(ctx context.Context, key string) (bool, time.Duration, error) {
	key = rl.prefix + key

	count, err := rl.client.Incr(ctx, key).Result()
	if err != nil {
		return false, 0, fmt.Errorf("rate limit incr: %w", err)
	}
	// the first hit opens the window
	if count == 1 {
		if err := rl.client.Expire(ctx, key, rl.window).Err(); err != nil {
			return false, 0, fmt.Errorf("rate limit expire: %w", err)
		}
	}

	if count <= int64(rl.maxReqs) {
		return true, 0, nil
	}

	ttl, err := rl.client.TTL(ctx, key).Result()
	if err != nil || ttl <= 0 {
		// a key left without expiry would block forever
		if ttl == -1 {
			_ = rl.client.Expire(ctx, key, rl.window).Err()
		}
		ttl = rl.window
	}
	return false, ttl, nil
}

// RateLimit rejects requests over limit with 429 and a Retry-After header.
// Limiter errors let the request through.
func RateLimit(limiter Limiter, keyFunc func(*http.Request) string, log logrus.FieldLogger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := keyFunc(r)
			allowed, retryAfter, err := limiter.Allow(r.Context(), key)
			if err != nil {
				log.WithError(err).WithField("key", key).Error("rate limiter unavailable")
				next.ServeHTTP(w, r)
				return
			}
			if !allowed {
				logging.SecurityEvent(log, "rate_limited", logrus.Fields{
					"key":  key,
					"path": r.URL.Path,
				})
				w.Header().Set("Retry-After", strconv.Itoa(retrySeconds(retryAfter)))
				WriteError(w, ErrRateLimited)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

func retrySeconds(d time.Duration) int {
	if d <= 0 {
		return 1
	}
	return int(math.Ceil(d.Seconds()))
}

// RouteIPKey limits each client address separately per route
func RouteIPKey(r *http.Request) string {
	return "route:" + r.URL.Path + ":ip:" + ClientIP(r)
}

// ClientIP returns the host part of RemoteAddr, which chi's RealIP has
// already replaced with the forwarded address when one was sent.
func ClientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
