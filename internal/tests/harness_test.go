package tests

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"github.com/thatmoment/server/internal/auth"
	"github.com/thatmoment/server/internal/config"
	httphandler "github.com/thatmoment/server/internal/http"
	"github.com/thatmoment/server/internal/logging"
	"github.com/thatmoment/server/internal/middleware"
	"github.com/thatmoment/server/internal/model"
	"github.com/thatmoment/server/internal/repo/memstore"
)

const (
	prefix    = "/api/v1/auth"
	iphoneUA  = "Mozilla/5.0 (iPhone; CPU iPhone OS 17_0 like Mac OS X)"
	windowsUA = "Mozilla/5.0 (Windows NT 10.0; Win64; x64)"
)

// inbox stands in for the mail server and keeps the codes sent to each address
type inbox struct {
	mu    sync.Mutex
	codes map[string][]string
}

func (i *inbox) Send(_ context.Context, to string, purpose model.CodePurpose, code string) error {
	i.mu.Lock()
	defer i.mu.Unlock()
	key := to + "|" + string(purpose)
	i.codes[key] = append(i.codes[key], code)
	return nil
}

func (i *inbox) last(t *testing.T, to string, purpose model.CodePurpose) string {
	t.Helper()
	i.mu.Lock()
	defer i.mu.Unlock()
	codes := i.codes[to+"|"+string(purpose)]
	require.NotEmpty(t, codes, "no %s code for %s", purpose, to)
	return codes[len(codes)-1]
}

type testServer struct {
	Server *httptest.Server
	inbox  *inbox
}

func testConfig() *config.Config {
	cfg := config.Defaults()
	cfg.StoreDriver = config.StoreDriverMemory
	cfg.JWTSecret = "test-jwt-secret-at-least-32-characters-long"
	return cfg
}

func memoryStores() auth.Stores {
	store := memstore.New()
	return auth.Stores{
		Users:    store.Users(),
		Codes:    store.Codes(),
		Sessions: store.Sessions(),
		Refresh:  store.RefreshTokens(),
		Tx:       store,
	}
}

func newTestServer(t *testing.T, cfg *config.Config, stores auth.Stores, ping func(context.Context) error) *testServer {
	t.Helper()
	require.NoError(t, cfg.Validate())

	limiter := middleware.NewMemoryLimiter(cfg.RateLimitWindow, cfg.RateLimitMax)
	t.Cleanup(limiter.Close)

	box := &inbox{codes: map[string][]string{}}
	router := httphandler.NewRouter(httphandler.Deps{
		Config:  cfg,
		Auth:    auth.New(cfg, stores, box, logging.Discard()),
		Limiter: limiter,
		Ping:    ping,
		Log:     logging.Discard(),
	})

	server := httptest.NewServer(router)
	t.Cleanup(server.Close)
	return &testServer{Server: server, inbox: box}
}

func newMemoryServer(t *testing.T) *testServer {
	t.Helper()
	return newTestServer(t, testConfig(), memoryStores(), nil)
}

type response struct {
	Status  int
	Body    []byte
	Cookies []*http.Cookie
}

func (r response) decode(t *testing.T, v any) {
	t.Helper()
	require.NoError(t, json.Unmarshal(r.Body, v), "body: %s", r.Body)
}

func (r response) errorCode(t *testing.T) string {
	t.Helper()
	var body errorResponse
	r.decode(t, &body)
	return body.Code
}

type requestOption func(*http.Request)

func withBearer(token string) requestOption {
	return func(r *http.Request) { r.Header.Set("Authorization", "Bearer "+token) }
}

func withUserAgent(ua string) requestOption {
	return func(r *http.Request) { r.Header.Set("User-Agent", ua) }
}

func asWebClient() requestOption {
	return func(r *http.Request) { r.Header.Set("X-Client-Platform", "web") }
}

func withCookies(cookies ...*http.Cookie) requestOption {
	return func(r *http.Request) {
		for _, c := range cookies {
			r.AddCookie(&http.Cookie{Name: c.Name, Value: c.Value})
		}
	}
}

func (s *testServer) do(t *testing.T, method, path string, body any, opts ...requestOption) response {
	t.Helper()
	var reader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(b)
	}

	req, err := http.NewRequest(method, s.Server.URL+path, reader)
	require.NoError(t, err)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for _, opt := range opts {
		opt(req)
	}

	resp, err := s.Server.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return response{Status: resp.StatusCode, Body: raw, Cookies: resp.Cookies()}
}

func (s *testServer) post(t *testing.T, path string, body any, opts ...requestOption) response {
	t.Helper()
	return s.do(t, http.MethodPost, prefix+path, body, opts...)
}

func (s *testServer) get(t *testing.T, path string, opts ...requestOption) response {
	t.Helper()
	return s.do(t, http.MethodGet, prefix+path, nil, opts...)
}

// registerVerified runs register and verify-email for email
func (s *testServer) registerVerified(t *testing.T, email string) {
	t.Helper()
	resp := s.post(t, "/register", map[string]string{"email": email})
	require.Equal(t, http.StatusCreated, resp.Status, "register: %s", resp.Body)

	resp = s.post(t, "/verify-email", map[string]string{
		"email": email,
		"code":  s.inbox.last(t, email, model.PurposeEmailVerify),
	})
	require.Equal(t, http.StatusOK, resp.Status, "verify-email: %s", resp.Body)
}

// login requests a login code and exchanges it for tokens
func (s *testServer) login(t *testing.T, email string, opts ...requestOption) (tokenResponse, response) {
	t.Helper()
	resp := s.post(t, "/login", map[string]string{"email": email})
	require.Equal(t, http.StatusOK, resp.Status, "login: %s", resp.Body)

	resp = s.post(t, "/login/verify", map[string]string{
		"email": email,
		"code":  s.inbox.last(t, email, model.PurposeLoginOTP),
	}, opts...)
	require.Equal(t, http.StatusOK, resp.Status, "login/verify: %s", resp.Body)

	var tokens tokenResponse
	resp.decode(t, &tokens)
	return tokens, resp
}

func (s *testServer) sessions(t *testing.T, access string) []sessionResponse {
	t.Helper()
	resp := s.get(t, "/sessions", withBearer(access))
	require.Equal(t, http.StatusOK, resp.Status, "sessions: %s", resp.Body)
	var body struct {
		Sessions []sessionResponse `json:"sessions"`
	}
	resp.decode(t, &body)
	return body.Sessions
}

func wrongCode(code string) string {
	if code == "000000" {
		return "111111"
	}
	return "000000"
}

func uniqueEmail(name string) string {
	return strings.ToLower(name) + "-" + uuid.NewString()[:8] + "@example.com"
}

// tokenResponse matches the login/verify and refresh bodies
type tokenResponse struct {
	AccessToken  string    `json:"accessToken"`
	RefreshToken string    `json:"refreshToken"`
	ExpiresIn    int64     `json:"expiresIn"`
	TokenType    string    `json:"tokenType"`
	UserID       uuid.UUID `json:"userId"`
	Email        string    `json:"email"`
	SessionID    uuid.UUID `json:"sessionId"`
}

// sessionResponse matches one entry of GET /sessions
type sessionResponse struct {
	ID             uuid.UUID `json:"id"`
	DeviceName     string    `json:"deviceName"`
	Platform       string    `json:"platform"`
	IPAddress      string    `json:"ipAddress"`
	LastActivityAt time.Time `json:"lastActivityAt"`
	CreatedAt      time.Time `json:"createdAt"`
	Current        bool      `json:"current"`
}

// errorResponse matches error JSON body
type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

func jsonBody(v any) io.Reader {
	b, _ := json.Marshal(v)
	return bytes.NewReader(b)
}
