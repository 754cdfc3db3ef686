package handlers

import (
	"net/http"
	"time"

	"github.com/thatmoment/server/internal/middleware"
)

// platformHeader selects the token transport. Browsers send "web" and get
// cookies; every other client gets tokens in the body.
const (
	platformHeader = "X-Client-Platform"
	platformWeb    = "web"
)

// CookieConfig controls the web token transport
type CookieConfig struct {
	Secure      bool
	SameSite    http.SameSite
	RefreshPath string
	AccessTTL   time.Duration
	RefreshTTL  time.Duration
}

// ParseSameSite maps the configured name to its cookie mode
func ParseSameSite(name string) http.SameSite {
	switch name {
	case "Lax":
		return http.SameSiteLaxMode
	case "None":
		return http.SameSiteNoneMode
	default:
		return http.SameSiteStrictMode
	}
}

func isWebClient(r *http.Request) bool {
	return r.Header.Get(platformHeader) == platformWeb
}

func (c CookieConfig) setTokens(w http.ResponseWriter, access, refresh string) {
	http.SetCookie(w, c.cookie(middleware.AccessTokenCookie, access, "/", c.AccessTTL))
	http.SetCookie(w, c.cookie(middleware.RefreshTokenCookie, refresh, c.RefreshPath, c.RefreshTTL))
}

func (c CookieConfig) clearTokens(w http.ResponseWriter) {
	http.SetCookie(w, c.expired(middleware.AccessTokenCookie, "/"))
	http.SetCookie(w, c.expired(middleware.RefreshTokenCookie, c.RefreshPath))
}

func (c CookieConfig) cookie(name, value, path string, ttl time.Duration) *http.Cookie {
	return &http.Cookie{
		Name:     name,
		Value:    value,
		Path:     path,
		MaxAge:   int(ttl.Seconds()),
		HttpOnly: true,
		Secure:   c.Secure,
		SameSite: c.SameSite,
	}
}

func (c CookieConfig) expired(name, path string) *http.Cookie {
	return &http.Cookie{
		Name:     name,
		Value:    "",
		Path:     path,
		Expires:  time.Unix(0, 0),
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   c.Secure,
		SameSite: c.SameSite,
	}
}
