package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/sirupsen/logrus"
	"github.com/thatmoment/server/internal/apperr"
	"github.com/thatmoment/server/internal/auth"
)

// Cookie names used by the web transport
const (
	AccessTokenCookie  = "accessToken"
	RefreshTokenCookie = "refreshToken"
)

type contextKey string

const principalKey contextKey = "principal"

// Authenticator resolves an access token to the calling principal
type Authenticator interface {
	Authenticate(ctx context.Context, rawAccess string) (*auth.Principal, error)
}

// Authenticate requires a valid access token, taken from the Authorization
// header or, failing that, from the access token cookie. The resolved
// principal is attached to the request context.
func Authenticate(authn Authenticator, log logrus.FieldLogger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token, ok := accessToken(r)
			if !ok {
				WriteError(w, auth.ErrAuthRequired)
				return
			}

			principal, err := authn.Authenticate(r.Context(), token)
			if err != nil {
				appErr := apperr.From(err)
				if appErr.Kind == apperr.KindInternal {
					log.WithError(err).WithField("path", r.URL.Path).Error("authentication failed")
				}
				WriteError(w, appErr)
				return
			}

			next.ServeHTTP(w, r.WithContext(WithPrincipal(r.Context(), principal)))
		})
	}
}

func accessToken(r *http.Request) (string, bool) {
	if header := r.Header.Get("Authorization"); header != "" {
		scheme, token, found := strings.Cut(header, " ")
		if !found || !strings.EqualFold(scheme, "Bearer") {
			return "", false
		}
		token = strings.TrimSpace(token)
		return token, token != ""
	}

	if c, err := r.Cookie(AccessTokenCookie); err == nil && c.Value != "" {
		return c.Value, true
	}
	return "", false
}

// WithPrincipal returns a context carrying p
func WithPrincipal(ctx context.Context, p *auth.Principal) context.Context {
	return context.WithValue(ctx, principalKey, p)
}

// PrincipalFrom returns the principal attached by Authenticate
func PrincipalFrom(ctx context.Context) (*auth.Principal, bool) {
	p, ok := ctx.Value(principalKey).(*auth.Principal)
	return p, ok && p != nil
}
