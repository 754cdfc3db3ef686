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

// CodeRepo defines the interface for verification code repository operations
type CodeRepo interface {
	// LockIssue serializes code issuance for one (user, purpose) pair within the current transaction
	LockIssue(ctx context.Context, userID uuid.UUID, purpose model.CodePurpose) error
	InvalidatePending(ctx context.Context, userID uuid.UUID, purpose model.CodePurpose, now time.Time) (int64, error)
	Create(ctx context.Context, code *model.VerificationCode) error
	FindActiveForUpdate(ctx context.Context, userID uuid.UUID, purpose model.CodePurpose, now time.Time) (model.VerificationCode, error)
	// FindLatest returns the newest unverified code whatever its expiry or attempt count
	FindLatest(ctx context.Context, userID uuid.UUID, purpose model.CodePurpose) (model.VerificationCode, error)
	IncrementAttempt(ctx context.Context, id uuid.UUID, now time.Time) (int, error)
	MarkVerified(ctx context.Context, id uuid.UUID, at time.Time) error
}

type codeRepo struct {
	db *sql.DB
}

// NewCodeRepo creates a new CodeRepo instance
func NewCodeRepo(pool *sql.DB) CodeRepo {
	return &codeRepo{db: pool}
}

// LockIssue takes a transaction-scoped advisory lock keyed on user and purpose
func (r *codeRepo) LockIssue(ctx context.Context, userID uuid.UUID, purpose model.CodePurpose) error {
	_, err := db.Conn(ctx, r.db).ExecContext(ctx,
		`SELECT pg_advisory_xact_lock(hashtext($1))`, userID.String()+":"+string(purpose))
	if err != nil {
		return fmt.Errorf("code issue lock: %w", err)
	}
	return nil
}

// InvalidatePending expires every unverified, unexpired code for the pair
func (r *codeRepo) InvalidatePending(ctx context.Context, userID uuid.UUID, purpose model.CodePurpose, now time.Time) (int64, error) {
	result, err := db.Conn(ctx, r.db).ExecContext(ctx, `
		UPDATE verification_codes
		SET expires_at = $3, updated_at = $3
		WHERE user_id = $1 AND purpose = $2 AND verified_at IS NULL AND expires_at > $3
	`, userID, string(purpose), now)
	if err != nil {
		return 0, fmt.Errorf("invalidate codes: %w", err)
	}
	n, _ := result.RowsAffected()
	return n, nil
}

// Create inserts code and fills in its ID
func (r *codeRepo) Create(ctx context.Context, code *model.VerificationCode) error {
	err := db.Conn(ctx, r.db).QueryRowContext(ctx, `
		INSERT INTO verification_codes (user_id, code_hash, purpose, max_attempts, expires_at, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $6)
		RETURNING id
	`, code.UserID, code.CodeHash, string(code.Purpose), code.MaxAttempts, code.ExpiresAt, code.CreatedAt).Scan(&code.ID)
	if err != nil {
		return fmt.Errorf("insert verification code: %w", err)
	}
	code.UpdatedAt = code.CreatedAt
	return nil
}

const codeColumns = `
	id, user_id, code_hash, purpose, attempt_count, max_attempts,
	expires_at, verified_at, created_at, updated_at`

// FindActiveForUpdate returns the most recent active code and locks its row
func (r *codeRepo) FindActiveForUpdate(ctx context.Context, userID uuid.UUID, purpose model.CodePurpose, now time.Time) (model.VerificationCode, error) {
	query := `SELECT` + codeColumns + `
		FROM verification_codes
		WHERE user_id = $1 AND purpose = $2
		  AND verified_at IS NULL AND expires_at > $3 AND attempt_count < max_attempts
		ORDER BY created_at DESC
		LIMIT 1
		FOR UPDATE`
	return scanCode(db.Conn(ctx, r.db).QueryRowContext(ctx, query, userID, string(purpose), now))
}

// FindLatest returns the newest unverified code for the pair
func (r *codeRepo) FindLatest(ctx context.Context, userID uuid.UUID, purpose model.CodePurpose) (model.VerificationCode, error) {
	query := `SELECT` + codeColumns + `
		FROM verification_codes
		WHERE user_id = $1 AND purpose = $2 AND verified_at IS NULL
		ORDER BY created_at DESC
		LIMIT 1`
	return scanCode(db.Conn(ctx, r.db).QueryRowContext(ctx, query, userID, string(purpose)))
}

func scanCode(row *sql.Row) (model.VerificationCode, error) {
	var c model.VerificationCode
	var purposeStr string
	err := row.Scan(
		&c.ID,
		&c.UserID,
		&c.CodeHash,
		&purposeStr,
		&c.AttemptCount,
		&c.MaxAttempts,
		&c.ExpiresAt,
		&c.VerifiedAt,
		&c.CreatedAt,
		&c.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return model.VerificationCode{}, ErrNotFound
		}
		return model.VerificationCode{}, fmt.Errorf("failed to query verification code: %w", err)
	}
	c.Purpose = model.CodePurpose(purposeStr)
	return c, nil
}

// IncrementAttempt bumps the attempt counter and returns the new value
func (r *codeRepo) IncrementAttempt(ctx context.Context, id uuid.UUID, now time.Time) (int, error) {
	var attempts int
	err := db.Conn(ctx, r.db).QueryRowContext(ctx, `
		UPDATE verification_codes
		SET attempt_count = attempt_count + 1, updated_at = $2
		WHERE id = $1
		RETURNING attempt_count
	`, id, now).Scan(&attempts)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, ErrNotFound
		}
		return 0, fmt.Errorf("increment attempt: %w", err)
	}
	return attempts, nil
}

// MarkVerified consumes the code
func (r *codeRepo) MarkVerified(ctx context.Context, id uuid.UUID, at time.Time) error {
	result, err := db.Conn(ctx, r.db).ExecContext(ctx, `
		UPDATE verification_codes SET verified_at = $2, updated_at = $2
		WHERE id = $1 AND verified_at IS NULL
	`, id, at)
	if err != nil {
		return fmt.Errorf("mark code verified: %w", err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}
