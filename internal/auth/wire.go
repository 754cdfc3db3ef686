package auth

import (
	"github.com/sirupsen/logrus"
	"github.com/thatmoment/server/internal/config"
	"github.com/thatmoment/server/internal/db"
	"github.com/thatmoment/server/internal/repo"
)

// Stores bundles the repositories and the unit-of-work runner behind them
type Stores struct {
	Users    repo.UserRepo
	Codes    repo.CodeRepo
	Sessions repo.SessionRepo
	Refresh  repo.RefreshRepo
	Tx       db.TxRunner
}

// New wires every component from configuration
func New(cfg *config.Config, stores Stores, sender EmailSender, log logrus.FieldLogger) *AuthService {
	tokens := NewTokenService(cfg.JWTSecret, cfg.AccessTokenTTL, cfg.RefreshTokenTTL)
	codes := NewCodeManager(stores.Codes, stores.Tx, cfg.CodeHashSecret, CodePolicy{
		EmailVerifyTTL: cfg.EmailCodeTTL,
		LoginTTL:       cfg.LoginCodeTTL,
		MaxAttempts:    cfg.CodeMaxAttempts,
	}, nil, log)
	guard := NewAccountGuard(stores.Users, stores.Tx, LockoutPolicy{
		MaxFailures: cfg.LoginMaxFailures,
		Duration:    cfg.LockoutDuration,
	}, log)

	rotator := NewRefreshTokenRotator(stores.Refresh, tokens, cfg.TokenHashSecret, log)
	sessions := NewSessionRegistry(stores.Sessions, rotator, stores.Tx, log)
	rotator.RevokeSessionsWith(sessions)

	return NewAuthService(stores.Users, stores.Tx, tokens, codes, guard, sessions, rotator, sender, log)
}
