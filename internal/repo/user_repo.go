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

// UserRepo defines the interface for user repository operations
type UserRepo interface {
	Create(ctx context.Context, email string, now time.Time) (model.User, error)
	GetByID(ctx context.Context, id uuid.UUID) (model.User, error)
	GetByIDForUpdate(ctx context.Context, id uuid.UUID) (model.User, error)
	GetByEmail(ctx context.Context, email string) (model.User, error)
	ExistsByEmail(ctx context.Context, email string) (bool, error)
	MarkVerified(ctx context.Context, id uuid.UUID, at time.Time) error
	UpdateLoginState(ctx context.Context, id uuid.UUID, failedCount int, lockedUntil *time.Time, now time.Time) error
}

type userRepo struct {
	db *sql.DB
}

// NewUserRepo creates a new UserRepo instance
func NewUserRepo(pool *sql.DB) UserRepo {
	return &userRepo{db: pool}
}

const userColumns = `
	id, email, password_hash, is_verified, verified_at, is_active,
	failed_login_count, locked_until, created_at, updated_at, deleted_at`

func scanUser(row interface{ Scan(...interface{}) error }) (model.User, error) {
	var u model.User
	err := row.Scan(
		&u.ID,
		&u.Email,
		&u.PasswordHash,
		&u.IsVerified,
		&u.VerifiedAt,
		&u.IsActive,
		&u.FailedLoginCount,
		&u.LockedUntil,
		&u.CreatedAt,
		&u.UpdatedAt,
		&u.DeletedAt,
	)
	return u, err
}

// Create inserts an unverified, active user. ErrDuplicate if the email is taken.
func (r *userRepo) Create(ctx context.Context, email string, now time.Time) (model.User, error) {
	query := `
		INSERT INTO users (email, created_at, updated_at)
		VALUES ($1, $2, $2)
		RETURNING` + userColumns
	u, err := scanUser(db.Conn(ctx, r.db).QueryRowContext(ctx, query, email, now))
	if err != nil {
		if isUniqueViolation(err) {
			return model.User{}, ErrDuplicate
		}
		return model.User{}, fmt.Errorf("failed to insert user: %w", err)
	}
	return u, nil
}

// GetByID retrieves a non-deleted user by ID
func (r *userRepo) GetByID(ctx context.Context, id uuid.UUID) (model.User, error) {
	query := `SELECT` + userColumns + ` FROM users WHERE id = $1 AND deleted_at IS NULL`
	u, err := scanUser(db.Conn(ctx, r.db).QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return model.User{}, ErrNotFound
		}
		return model.User{}, fmt.Errorf("failed to query user: %w", err)
	}
	return u, nil
}

// GetByIDForUpdate retrieves a user and locks the row for the current transaction
func (r *userRepo) GetByIDForUpdate(ctx context.Context, id uuid.UUID) (model.User, error) {
	query := `SELECT` + userColumns + ` FROM users WHERE id = $1 AND deleted_at IS NULL FOR UPDATE`
	u, err := scanUser(db.Conn(ctx, r.db).QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return model.User{}, ErrNotFound
		}
		return model.User{}, fmt.Errorf("failed to query user: %w", err)
	}
	return u, nil
}

// GetByEmail retrieves a non-deleted user by normalized email
func (r *userRepo) GetByEmail(ctx context.Context, email string) (model.User, error) {
	query := `SELECT` + userColumns + ` FROM users WHERE lower(email) = lower($1) AND deleted_at IS NULL`
	u, err := scanUser(db.Conn(ctx, r.db).QueryRowContext(ctx, query, email))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return model.User{}, ErrNotFound
		}
		return model.User{}, fmt.Errorf("failed to query user: %w", err)
	}
	return u, nil
}

// ExistsByEmail reports whether a non-deleted user holds the email
func (r *userRepo) ExistsByEmail(ctx context.Context, email string) (bool, error) {
	var exists bool
	err := db.Conn(ctx, r.db).QueryRowContext(ctx, `
		SELECT EXISTS (SELECT 1 FROM users WHERE lower(email) = lower($1) AND deleted_at IS NULL)
	`, email).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to check email: %w", err)
	}
	return exists, nil
}

// MarkVerified sets the verification flag and timestamp
func (r *userRepo) MarkVerified(ctx context.Context, id uuid.UUID, at time.Time) error {
	result, err := db.Conn(ctx, r.db).ExecContext(ctx, `
		UPDATE users SET is_verified = TRUE, verified_at = $2, updated_at = $2
		WHERE id = $1 AND deleted_at IS NULL
	`, id, at)
	if err != nil {
		return fmt.Errorf("mark verified: %w", err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// UpdateLoginState stores the failed-login counter and lockout window
func (r *userRepo) UpdateLoginState(ctx context.Context, id uuid.UUID, failedCount int, lockedUntil *time.Time, now time.Time) error {
	result, err := db.Conn(ctx, r.db).ExecContext(ctx, `
		UPDATE users SET failed_login_count = $2, locked_until = $3, updated_at = $4
		WHERE id = $1 AND deleted_at IS NULL
	`, id, failedCount, lockedUntil, now)
	if err != nil {
		return fmt.Errorf("update login state: %w", err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}
