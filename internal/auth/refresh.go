package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/thatmoment/server/internal/logging"
	"github.com/thatmoment/server/internal/model"
	"github.com/thatmoment/server/internal/repo"
)

// SessionRevoker ends every session of a user. The rotator uses it when a
// consumed refresh token is presented again.
type SessionRevoker interface {
	RevokeAll(ctx context.Context, userID uuid.UUID, reason string) (int64, error)
}

// RefreshTokenRotator enforces single use of refresh tokens. A record moves
// from active to used or revoked and never back.
type RefreshTokenRotator struct {
	tokens   repo.RefreshRepo
	minter   *TokenService
	hashKey  []byte
	sessions SessionRevoker
	now      func() time.Time
	log      logrus.FieldLogger
}

// NewRefreshTokenRotator creates a rotator. Call RevokeSessionsWith before use.
func NewRefreshTokenRotator(tokens repo.RefreshRepo, minter *TokenService, hashKey string, log logrus.FieldLogger) *RefreshTokenRotator {
	return &RefreshTokenRotator{
		tokens:  tokens,
		minter:  minter,
		hashKey: []byte(hashKey),
		now:     time.Now,
		log:     log.WithField("component", "refresh"),
	}
}

// RevokeSessionsWith sets the registry used for reuse lockdown. The registry
// in turn revokes tokens through the rotator, hence the late binding.
func (r *RefreshTokenRotator) RevokeSessionsWith(sessions SessionRevoker) {
	r.sessions = sessions
}

// Issue mints a refresh token for the session and stores its hash
func (r *RefreshTokenRotator) Issue(ctx context.Context, userID, sessionID uuid.UUID) (string, error) {
	raw, err := r.minter.MintRefreshToken(userID, sessionID)
	if err != nil {
		return "", err
	}

	now := r.now()
	record := &model.RefreshToken{
		Record:    model.Record{CreatedAt: now},
		SessionID: sessionID,
		UserID:    userID,
		TokenHash: hashRefreshToken(r.hashKey, raw),
		ExpiresAt: now.Add(r.minter.RefreshTTL()),
	}
	if err := r.tokens.Create(ctx, record); err != nil {
		return "", fmt.Errorf("store refresh token: %w", err)
	}
	return raw, nil
}

// Validate resolves raw to its record. Presenting a consumed token revokes
// every session of its owner and fails with ErrRefreshReused.
func (r *RefreshTokenRotator) Validate(ctx context.Context, raw string) (model.RefreshToken, error) {
	record, err := r.tokens.FindByHash(ctx, hashRefreshToken(r.hashKey, raw))
	if errors.Is(err, repo.ErrNotFound) {
		return model.RefreshToken{}, ErrInvalidRefresh
	}
	if err != nil {
		return model.RefreshToken{}, fmt.Errorf("load refresh token: %w", err)
	}

	switch {
	case record.UsedAt != nil:
		r.HandleReuse(ctx, record)
		return model.RefreshToken{}, ErrRefreshReused
	case !record.IsActive:
		return model.RefreshToken{}, ErrInvalidRefresh
	case record.IsExpired(r.now()):
		return model.RefreshToken{}, ErrRefreshExpired
	}
	return record, nil
}

// Rotate consumes record and issues its successor for the same session. It
// must run inside the caller's unit of work. Losing a race to another
// rotation yields ErrRefreshReused and the caller should call HandleReuse
// once that unit has rolled back; a record revoked in the meantime yields
// ErrInvalidRefresh.
func (r *RefreshTokenRotator) Rotate(ctx context.Context, record model.RefreshToken) (string, error) {
	consumed, err := r.tokens.MarkUsed(ctx, record.ID, r.now())
	if err != nil {
		return "", fmt.Errorf("consume refresh token: %w", err)
	}
	if !consumed {
		return "", r.lostRotation(ctx, record)
	}
	return r.Issue(ctx, record.UserID, record.SessionID)
}

// lostRotation tells a consumed record from one revoked after it was read
func (r *RefreshTokenRotator) lostRotation(ctx context.Context, record model.RefreshToken) error {
	current, err := r.tokens.FindByHash(ctx, record.TokenHash)
	if errors.Is(err, repo.ErrNotFound) {
		return ErrInvalidRefresh
	}
	if err != nil {
		return fmt.Errorf("reload refresh token: %w", err)
	}
	if current.UsedAt != nil {
		return ErrRefreshReused
	}
	return ErrInvalidRefresh
}

// HandleReuse locks the owner out of every session. Errors are logged since
// the caller is already failing the request.
func (r *RefreshTokenRotator) HandleReuse(ctx context.Context, record model.RefreshToken) {
	fields := logrus.Fields{
		"user_id":    record.UserID,
		"session_id": record.SessionID,
	}
	logging.SecurityEvent(r.log, "refresh_token_reuse", fields)

	if r.sessions == nil {
		r.log.WithFields(fields).Error("no session revoker configured")
		return
	}
	if _, err := r.sessions.RevokeAll(ctx, record.UserID, ReasonTokenReuse); err != nil {
		r.log.WithError(err).WithFields(fields).Error("failed to revoke sessions after token reuse")
	}
}

// RevokeSessionTokens deactivates every active token of a session
func (r *RefreshTokenRotator) RevokeSessionTokens(ctx context.Context, sessionID uuid.UUID) error {
	if _, err := r.tokens.RevokeBySession(ctx, sessionID, r.now()); err != nil {
		return fmt.Errorf("revoke session tokens: %w", err)
	}
	return nil
}

// RevokeUserTokens deactivates every active token of a user
func (r *RefreshTokenRotator) RevokeUserTokens(ctx context.Context, userID uuid.UUID) error {
	if _, err := r.tokens.RevokeByUser(ctx, userID, r.now()); err != nil {
		return fmt.Errorf("revoke user tokens: %w", err)
	}
	return nil
}
