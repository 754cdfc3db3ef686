package middleware

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/thatmoment/server/internal/auth"
	"github.com/thatmoment/server/internal/logging"
)

type stubAuthenticator struct {
	principal *auth.Principal
	err       error
	got       string
}

func (s *stubAuthenticator) Authenticate(_ context.Context, raw string) (*auth.Principal, error) {
	s.got = raw
	return s.principal, s.err
}

func serveAuthenticated(t *testing.T, authn Authenticator, r *http.Request) (*httptest.ResponseRecorder, *auth.Principal) {
	t.Helper()
	var seen *auth.Principal
	h := Authenticate(authn, logging.Discard())(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		p, ok := PrincipalFrom(r.Context())
		require.True(t, ok)
		seen = p
		w.WriteHeader(http.StatusNoContent)
	}))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, r)
	return rec, seen
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) errorBody {
	t.Helper()
	var body errorBody
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
	return body
}

func TestAuthenticate_BearerHeader(t *testing.T) {
	want := &auth.Principal{UserID: uuid.New(), SessionID: uuid.New(), Email: "a@example.com"}
	authn := &stubAuthenticator{principal: want}

	r := httptest.NewRequest(http.MethodGet, "/me", nil)
	r.Header.Set("Authorization", "Bearer tok-123")
	rec, seen := serveAuthenticated(t, authn, r)

	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "tok-123", authn.got)
	assert.Equal(t, want, seen)
}

func TestAuthenticate_CookieFallback(t *testing.T) {
	authn := &stubAuthenticator{principal: &auth.Principal{UserID: uuid.New()}}

	r := httptest.NewRequest(http.MethodGet, "/me", nil)
	r.AddCookie(&http.Cookie{Name: AccessTokenCookie, Value: "cookie-tok"})
	rec, _ := serveAuthenticated(t, authn, r)

	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "cookie-tok", authn.got)
}

func TestAuthenticate_MissingToken(t *testing.T) {
	tests := []struct {
		name   string
		header string
	}{
		{"no header", ""},
		{"wrong scheme", "Basic dXNlcjpwYXNz"},
		{"empty bearer", "Bearer   "},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			authn := &stubAuthenticator{}
			r := httptest.NewRequest(http.MethodGet, "/me", nil)
			if tt.header != "" {
				r.Header.Set("Authorization", tt.header)
			}
			rec, _ := serveAuthenticated(t, authn, r)

			assert.Equal(t, http.StatusUnauthorized, rec.Code)
			assert.Equal(t, "AUTH_REQUIRED", decodeError(t, rec).Code)
			assert.Empty(t, authn.got)
		})
	}
}

func TestAuthenticate_RejectedToken(t *testing.T) {
	authn := &stubAuthenticator{err: auth.ErrAccessTokenExpired}

	r := httptest.NewRequest(http.MethodGet, "/me", nil)
	r.Header.Set("Authorization", "Bearer stale")
	rec, _ := serveAuthenticated(t, authn, r)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "TOKEN_EXPIRED", decodeError(t, rec).Code)
}

func TestAuthenticate_InternalErrorHidden(t *testing.T) {
	authn := &stubAuthenticator{err: errors.New("connection reset")}

	r := httptest.NewRequest(http.MethodGet, "/me", nil)
	r.Header.Set("Authorization", "Bearer tok")
	rec, _ := serveAuthenticated(t, authn, r)

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	body := decodeError(t, rec)
	assert.Equal(t, "INTERNAL_ERROR", body.Code)
	assert.NotContains(t, body.Error, "connection reset")
}

func TestPrincipalFrom_Empty(t *testing.T) {
	_, ok := PrincipalFrom(context.Background())
	assert.False(t, ok)
}
