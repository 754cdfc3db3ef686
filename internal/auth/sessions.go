package auth

import (
	"context"
	"errors"
	"fmt"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/thatmoment/server/internal/db"
	"github.com/thatmoment/server/internal/model"
	"github.com/thatmoment/server/internal/repo"
)

// Column limits of the sessions table
const (
	maxDeviceNameLen = 100
	maxPlatformLen   = 50
	maxIPLen         = 64
	maxUserAgentLen  = 500
)

// Revocation reasons stored on sessions
const (
	ReasonLogout     = "User logout"
	ReasonLogoutAll  = "User logout all devices"
	ReasonTokenReuse = "Refresh token reuse detected"
)

// TokenRevoker deactivates refresh tokens when their sessions end
type TokenRevoker interface {
	RevokeSessionTokens(ctx context.Context, sessionID uuid.UUID) error
	RevokeUserTokens(ctx context.Context, userID uuid.UUID) error
}

// OpenParams describes the device a session is opened for
type OpenParams struct {
	UserID     uuid.UUID
	DeviceName string
	Platform   string
	IPAddress  string
	UserAgent  string
}

// SessionRegistry owns device sessions. Revoked sessions never come back.
type SessionRegistry struct {
	sessions repo.SessionRepo
	tokens   TokenRevoker
	tx       db.TxRunner
	now      func() time.Time
	log      logrus.FieldLogger
}

// NewSessionRegistry creates a session registry
func NewSessionRegistry(sessions repo.SessionRepo, tokens TokenRevoker, tx db.TxRunner, log logrus.FieldLogger) *SessionRegistry {
	return &SessionRegistry{
		sessions: sessions,
		tokens:   tokens,
		tx:       tx,
		now:      time.Now,
		log:      log.WithField("component", "sessions"),
	}
}

// Open creates an active session
func (r *SessionRegistry) Open(ctx context.Context, p OpenParams) (model.Session, error) {
	s := model.Session{
		Record:     model.Record{CreatedAt: r.now()},
		UserID:     p.UserID,
		DeviceName: truncate(p.DeviceName, maxDeviceNameLen),
		Platform:   truncate(p.Platform, maxPlatformLen),
		IPAddress:  truncate(p.IPAddress, maxIPLen),
		UserAgent:  truncate(p.UserAgent, maxUserAgentLen),
	}
	if err := r.sessions.Create(ctx, &s); err != nil {
		return model.Session{}, fmt.Errorf("open session: %w", err)
	}

	r.log.WithFields(logrus.Fields{
		"user_id":    s.UserID,
		"session_id": s.ID,
		"platform":   s.Platform,
	}).Info("session opened")
	return s, nil
}

// Touch records activity. Failures are logged; a missing session is a no-op.
func (r *SessionRegistry) Touch(ctx context.Context, sessionID uuid.UUID) {
	if err := r.sessions.Touch(ctx, sessionID, r.now()); err != nil {
		r.log.WithError(err).WithField("session_id", sessionID).Warn("failed to touch session")
	}
}

// GetValid returns the session only if it is active and belongs to userID
func (r *SessionRegistry) GetValid(ctx context.Context, sessionID, userID uuid.UUID) (model.Session, error) {
	s, err := r.sessions.FindActive(ctx, sessionID, userID)
	if errors.Is(err, repo.ErrNotFound) {
		return model.Session{}, ErrSessionInvalid
	}
	if err != nil {
		return model.Session{}, fmt.Errorf("load session: %w", err)
	}
	return s, nil
}

// Revoke ends one session of userID together with its refresh tokens
func (r *SessionRegistry) Revoke(ctx context.Context, sessionID, userID uuid.UUID, reason string) error {
	err := r.tx.RunInTx(ctx, func(ctx context.Context) error {
		ok, err := r.sessions.Revoke(ctx, sessionID, userID, reason, r.now())
		if err != nil {
			return err
		}
		if !ok {
			return ErrSessionNotFound
		}
		return r.tokens.RevokeSessionTokens(ctx, sessionID)
	})
	if err != nil {
		return err
	}

	r.log.WithFields(logrus.Fields{
		"user_id":    userID,
		"session_id": sessionID,
		"reason":     reason,
	}).Info("session revoked")
	return nil
}

// RevokeAll ends every active session of userID and all their refresh tokens
func (r *SessionRegistry) RevokeAll(ctx context.Context, userID uuid.UUID, reason string) (int64, error) {
	var n int64
	err := r.tx.RunInTx(ctx, func(ctx context.Context) error {
		var err error
		n, err = r.sessions.RevokeAllByUser(ctx, userID, reason, r.now())
		if err != nil {
			return err
		}
		return r.tokens.RevokeUserTokens(ctx, userID)
	})
	if err != nil {
		return 0, fmt.Errorf("revoke all sessions: %w", err)
	}

	r.log.WithFields(logrus.Fields{
		"user_id": userID,
		"reason":  reason,
		"count":   n,
	}).Info("sessions revoked")
	return n, nil
}

// ListActive returns active sessions, most recently used first
func (r *SessionRegistry) ListActive(ctx context.Context, userID uuid.UUID) ([]model.Session, error) {
	sessions, err := r.sessions.ListActive(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	return sessions, nil
}

func truncate(s string, limit int) string {
	if len(s) <= limit {
		return s
	}
	for limit > 0 && !utf8.RuneStart(s[limit]) {
		limit--
	}
	return s[:limit]
}
