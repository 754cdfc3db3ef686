package auth

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/thatmoment/server/internal/config"
	"github.com/thatmoment/server/internal/logging"
	"github.com/thatmoment/server/internal/model"
	"github.com/thatmoment/server/internal/repo/memstore"
)

const (
	iphoneUA  = "Mozilla/5.0 (iPhone; CPU iPhone OS 17_0 like Mac OS X)"
	windowsUA = "Mozilla/5.0 (Windows NT 10.0; Win64; x64)"
)

type testClock struct {
	mu sync.Mutex
	t  time.Time
}

func newTestClock() *testClock {
	return &testClock{t: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

// captureSender records delivered codes instead of mailing them
type captureSender struct {
	mu    sync.Mutex
	codes map[string][]string
	err   error
}

func newCaptureSender() *captureSender {
	return &captureSender{codes: map[string][]string{}}
}

func (s *captureSender) Send(_ context.Context, to string, purpose model.CodePurpose, code string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := to + "|" + string(purpose)
	s.codes[key] = append(s.codes[key], code)
	return s.err
}

func (s *captureSender) last(t *testing.T, to string, purpose model.CodePurpose) string {
	t.Helper()
	s.mu.Lock()
	defer s.mu.Unlock()
	codes := s.codes[to+"|"+string(purpose)]
	require.NotEmpty(t, codes, "no %s code sent to %s", purpose, to)
	return codes[len(codes)-1]
}

type harness struct {
	svc    *AuthService
	store  *memstore.Store
	clock  *testClock
	sender *captureSender
}

func testConfig() *config.Config {
	cfg := config.Defaults()
	cfg.StoreDriver = config.StoreDriverMemory
	cfg.JWTSecret = strings.Repeat("s", 32)
	cfg.TokenHashSecret = "token-hash-secret"
	cfg.CodeHashSecret = "code-hash-secret"
	return cfg
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	store := memstore.New()
	sender := newCaptureSender()
	clock := newTestClock()

	svc := New(testConfig(), Stores{
		Users:    store.Users(),
		Codes:    store.Codes(),
		Sessions: store.Sessions(),
		Refresh:  store.RefreshTokens(),
		Tx:       store,
	}, sender, logging.Discard())

	svc.now = clock.Now
	svc.tokens.now = clock.Now
	svc.codes.now = clock.Now
	svc.guard.now = clock.Now
	svc.sessions.now = clock.Now
	svc.rotator.now = clock.Now

	return &harness{svc: svc, store: store, clock: clock, sender: sender}
}

func (h *harness) registerVerified(t *testing.T, email string) {
	t.Helper()
	ctx := context.Background()
	_, err := h.svc.Register(ctx, email)
	require.NoError(t, err)
	require.NoError(t, h.svc.VerifyEmail(ctx, email, h.sender.last(t, email, model.PurposeEmailVerify)))
}

func (h *harness) login(t *testing.T, email, userAgent string) *TokenBundle {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, h.svc.RequestLoginCode(ctx, email))
	bundle, err := h.svc.VerifyLogin(ctx, LoginRequest{
		Email:     email,
		Code:      h.sender.last(t, email, model.PurposeLoginOTP),
		IPAddress: "203.0.113.7",
		UserAgent: userAgent,
	})
	require.NoError(t, err)
	return bundle
}

// wrongCode returns a well-formed code different from code
func wrongCode(code string) string {
	if code == "000000" {
		return "111111"
	}
	return "000000"
}

var errSMTPDown = errors.New("smtp down")
