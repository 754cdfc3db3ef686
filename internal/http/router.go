package http

import (
	"context"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/sirupsen/logrus"
	"github.com/thatmoment/server/internal/auth"
	"github.com/thatmoment/server/internal/config"
	"github.com/thatmoment/server/internal/http/handlers"
	"github.com/thatmoment/server/internal/middleware"
)

// Deps are the collaborators the router serves
type Deps struct {
	Config  *config.Config
	Auth    *auth.AuthService
	Limiter middleware.Limiter
	Ping    func(ctx context.Context) error
	Log     logrus.FieldLogger
}

// NewRouter creates a new HTTP router with all routes configured
func NewRouter(d Deps) *chi.Mux {
	r := chi.NewRouter()

	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(middleware.RequestLogger(d.Log))
	r.Use(chimw.Recoverer)

	r.Get("/health", handlers.NewHealthHandler(d.Ping, d.Log).ServeHTTP)

	authHandler := handlers.NewAuthHandler(d.Auth, handlers.CookieConfig{
		Secure:      d.Config.CookieSecure,
		SameSite:    handlers.ParseSameSite(d.Config.CookieSameSite),
		RefreshPath: d.Config.AuthPathPrefix,
		AccessTTL:   d.Config.AccessTokenTTL,
		RefreshTTL:  d.Config.RefreshTokenTTL,
	}, d.Log)

	r.Route(d.Config.AuthPathPrefix, func(r chi.Router) {
		r.Group(func(r chi.Router) {
			if d.Limiter != nil {
				r.Use(middleware.RateLimit(d.Limiter, middleware.RouteIPKey, d.Log))
			}
			r.Post("/register", authHandler.HandleRegister)
			r.Post("/verify-email", authHandler.HandleVerifyEmail)
			r.Post("/resend-code", authHandler.HandleResendCode)
			r.Post("/login", authHandler.HandleLogin)
			r.Post("/login/verify", authHandler.HandleVerifyLogin)
			r.Post("/refresh", authHandler.HandleRefresh)
		})

		// Protected routes (require valid access token)
		r.Group(func(r chi.Router) {
			r.Use(middleware.Authenticate(d.Auth, d.Log))
			r.Post("/logout", authHandler.HandleLogout)
			r.Get("/sessions", authHandler.HandleSessions)
			r.Get("/me", authHandler.HandleMe)
		})
	})

	return r
}
