package middleware

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/thatmoment/server/internal/logging"
)

func newTestRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return mr, client
}

func TestMemoryLimiter_SlidingWindow(t *testing.T) {
	rl := NewMemoryLimiter(time.Minute, 2)
	defer rl.Close()

	now := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	rl.now = func() time.Time { return now }
	ctx := context.Background()

	ok, _, err := rl.Allow(ctx, "k")
	require.NoError(t, err)
	assert.True(t, ok)

	now = now.Add(20 * time.Second)
	ok, _, _ = rl.Allow(ctx, "k")
	assert.True(t, ok)

	now = now.Add(10 * time.Second)
	ok, retry, _ := rl.Allow(ctx, "k")
	assert.False(t, ok)
	assert.Equal(t, 30*time.Second, retry)

	ok, _, _ = rl.Allow(ctx, "other")
	assert.True(t, ok, "keys are limited independently")

	// the first request leaves the window
	now = now.Add(31 * time.Second)
	ok, _, _ = rl.Allow(ctx, "k")
	assert.True(t, ok)
}

func TestMemoryLimiter_Cleanup(t *testing.T) {
	rl := NewMemoryLimiter(time.Minute, 5)
	defer rl.Close()

	now := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	rl.now = func() time.Time { return now }

	_, _, _ = rl.Allow(context.Background(), "stale")
	now = now.Add(2 * time.Minute)
	_, _, _ = rl.Allow(context.Background(), "fresh")

	rl.cleanup()

	rl.mu.Lock()
	defer rl.mu.Unlock()
	assert.NotContains(t, rl.requests, "stale")
	assert.Contains(t, rl.requests, "fresh")
}

func TestRedisLimiter_FixedWindow(t *testing.T) {
	mr, client := newTestRedis(t)
	rl := NewRedisLimiter(client, "rl:", time.Minute, 2)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		ok, _, err := rl.Allow(ctx, "ip:1")
		require.NoError(t, err)
		assert.True(t, ok)
	}

	ok, retry, err := rl.Allow(ctx, "ip:1")
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Greater(t, retry, time.Duration(0))
	assert.LessOrEqual(t, retry, time.Minute)
	assert.True(t, mr.Exists("rl:ip:1"))

	mr.FastForward(time.Minute + time.Second)

	ok, _, err = rl.Allow(ctx, "ip:1")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestRedisLimiter_Unavailable(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr(), MaxRetries: -1})
	defer client.Close()
	mr.Close()

	rl := NewRedisLimiter(client, "rl:", time.Minute, 2)

	_, _, err = rl.Allow(context.Background(), "ip:1")
	assert.Error(t, err)
}

type errLimiter struct{}

func (errLimiter) Allow(context.Context, string) (bool, time.Duration, error) {
	return false, 0, errors.New("redis down")
}

func TestRateLimit_Middleware(t *testing.T) {
	rl := NewMemoryLimiter(time.Minute, 1)
	defer rl.Close()

	h := RateLimit(rl, RouteIPKey, logging.Discard())(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	request := func(path, addr string) *httptest.ResponseRecorder {
		r := httptest.NewRequest(http.MethodPost, path, nil)
		r.RemoteAddr = addr
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, r)
		return rec
	}

	assert.Equal(t, http.StatusOK, request("/login", "198.51.100.1:5000").Code)

	rec := request("/login", "198.51.100.1:5001")
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "60", rec.Header().Get("Retry-After"))
	assert.Equal(t, "RATE_LIMITED", decodeError(t, rec).Code)

	assert.Equal(t, http.StatusOK, request("/register", "198.51.100.1:5002").Code)
	assert.Equal(t, http.StatusOK, request("/login", "198.51.100.2:5000").Code)
}

func TestRateLimit_FailsOpen(t *testing.T) {
	h := RateLimit(errLimiter{}, RouteIPKey, logging.Discard())(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/login", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestClientIP(t *testing.T) {
	tests := []struct {
		remote string
		want   string
	}{
		{"198.51.100.7:5000", "198.51.100.7"},
		{"[2001:db8::1]:443", "2001:db8::1"},
		{"198.51.100.7", "198.51.100.7"},
	}
	for _, tt := range tests {
		r := httptest.NewRequest(http.MethodGet, "/", nil)
		r.RemoteAddr = tt.remote
		assert.Equal(t, tt.want, ClientIP(r), tt.remote)
	}
}
