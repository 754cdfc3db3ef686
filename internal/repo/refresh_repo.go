package repo

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/thatmoment/server/internal/db"
	"github.com/thatmoment/server/internal/model"
)

// RefreshRepo defines the interface for refresh token repository operations
type RefreshRepo interface {
	Create(ctx context.Context, t *model.RefreshToken) error
	// FindByHash returns the record whatever its state, so consumed tokens stay detectable
	FindByHash(ctx context.Context, tokenHash string) (model.RefreshToken, error)
	// MarkUsed consumes an unused active token. Reports false when another caller got there first.
	MarkUsed(ctx context.Context, id uuid.UUID, at time.Time) (bool, error)
	RevokeBySession(ctx context.Context, sessionID uuid.UUID, at time.Time) (int64, error)
	RevokeByUser(ctx context.Context, userID uuid.UUID, at time.Time) (int64, error)
}

type refreshRepo struct {
	db *sql.DB
}

// NewRefreshRepo creates a new RefreshRepo instance
func NewRefreshRepo(pool *sql.DB) RefreshRepo {
	return &refreshRepo{db: pool}
}

// Create inserts an active refresh token and fills in its ID
func (r *refreshRepo) Create(ctx context.Context, t *model.RefreshToken) error {
	err := db.Conn(ctx, r.db).QueryRowContext(ctx, `
		INSERT INTO refresh_tokens (session_id, user_id, token_hash, expires_at, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $5)
		RETURNING id
	`, t.SessionID, t.UserID, t.TokenHash, t.ExpiresAt, t.CreatedAt).Scan(&t.ID)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicate
		}
		return fmt.Errorf("insert refresh token: %w", err)
	}
	t.IsActive = true
	t.UpdatedAt = t.CreatedAt
	return nil
}

// FindByHash looks up a token record by its hash
func (r *refreshRepo) FindByHash(ctx context.Context, tokenHash string) (model.RefreshToken, error) {
	var t model.RefreshToken
	err := db.Conn(ctx, r.db).QueryRowContext(ctx, `
		SELECT id, session_id, user_id, token_hash, expires_at, is_active, used_at, created_at, updated_at
		FROM refresh_tokens
		WHERE token_hash = $1
	`, tokenHash).Scan(
		&t.ID,
		&t.SessionID,
		&t.UserID,
		&t.TokenHash,
		&t.ExpiresAt,
		&t.IsActive,
		&t.UsedAt,
		&t.CreatedAt,
		&t.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return model.RefreshToken{}, ErrNotFound
		}
		return model.RefreshToken{}, fmt.Errorf("failed to query refresh token: %w", err)
	}
	return t, nil
}

// MarkUsed is a conditional update; exactly one concurrent caller sees true
func (r *refreshRepo) MarkUsed(ctx context.Context, id uuid.UUID, at time.Time) (bool, error) {
	result, err := db.Conn(ctx, r.db).ExecContext(ctx, `
		UPDATE refresh_tokens
		SET used_at = $2, is_active = FALSE, updated_at = $2
		WHERE id = $1 AND used_at IS NULL AND is_active
	`, id, at)
	if err != nil {
		return false, fmt.Errorf("mark refresh token used: %w", err)
	}
	n, _ := result.RowsAffected()
	return n == 1, nil
}

// RevokeBySession deactivates all active tokens of a session
func (r *refreshRepo) RevokeBySession(ctx context.Context, sessionID uuid.UUID, at time.Time) (int64, error) {
	result, err := db.Conn(ctx, r.db).ExecContext(ctx, `
		UPDATE refresh_tokens SET is_active = FALSE, updated_at = $2
		WHERE session_id = $1 AND is_active
	`, sessionID, at)
	if err != nil {
		return 0, fmt.Errorf("revoke session tokens: %w", err)
	}
	n, _ := result.RowsAffected()
	return n, nil
}

// RevokeByUser deactivates all active tokens of a user
func (r *refreshRepo) RevokeByUser(ctx context.Context, userID uuid.UUID, at time.Time) (int64, error) {
	result, err := db.Conn(ctx, r.db).ExecContext(ctx, `
		UPDATE refresh_tokens SET is_active = FALSE, updated_at = $2
		WHERE user_id = $1 AND is_active
	`, userID, at)
	if err != nil {
		return 0, fmt.Errorf("revoke user tokens: %w", err)
	}
	n, _ := result.RowsAffected()
	return n, nil
}
