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

// SessionRepo defines the interface for session repository operations
type SessionRepo interface {
	Create(ctx context.Context, s *model.Session) error
	FindActive(ctx context.Context, id, userID uuid.UUID) (model.Session, error)
	Touch(ctx context.Context, id uuid.UUID, at time.Time) error
	Revoke(ctx context.Context, id, userID uuid.UUID, reason string, at time.Time) (bool, error)
	RevokeAllByUser(ctx context.Context, userID uuid.UUID, reason string, at time.Time) (int64, error)
	ListActive(ctx context.Context, userID uuid.UUID) ([]model.Session, error)
}

type sessionRepo struct {
	db *sql.DB
}

// NewSessionRepo creates a new SessionRepo instance
func NewSessionRepo(pool *sql.DB) SessionRepo {
	return &sessionRepo{db: pool}
}

const sessionColumns = `
	id, user_id, COALESCE(device_name, ''), COALESCE(platform, ''),
	COALESCE(ip_address, ''), COALESCE(user_agent, ''), is_active,
	last_activity_at, revoked_at, revoked_reason, created_at, updated_at`

func scanSession(row interface{ Scan(...interface{}) error }) (model.Session, error) {
	var s model.Session
	err := row.Scan(
		&s.ID,
		&s.UserID,
		&s.DeviceName,
		&s.Platform,
		&s.IPAddress,
		&s.UserAgent,
		&s.IsActive,
		&s.LastActivityAt,
		&s.RevokedAt,
		&s.RevokedReason,
		&s.CreatedAt,
		&s.UpdatedAt,
	)
	return s, err
}

// Create inserts an active session and fills in its ID
func (r *sessionRepo) Create(ctx context.Context, s *model.Session) error {
	err := db.Conn(ctx, r.db).QueryRowContext(ctx, `
		INSERT INTO sessions (user_id, device_name, platform, ip_address, user_agent,
		                      last_activity_at, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $6, $6)
		RETURNING id
	`, s.UserID, s.DeviceName, s.Platform, s.IPAddress, s.UserAgent, s.CreatedAt).Scan(&s.ID)
	if err != nil {
		return fmt.Errorf("insert session: %w", err)
	}
	s.IsActive = true
	s.LastActivityAt = s.CreatedAt
	s.UpdatedAt = s.CreatedAt
	return nil
}

// FindActive returns the session only when it is active and owned by userID
func (r *sessionRepo) FindActive(ctx context.Context, id, userID uuid.UUID) (model.Session, error) {
	query := `SELECT` + sessionColumns + ` FROM sessions WHERE id = $1 AND user_id = $2 AND is_active`
	s, err := scanSession(db.Conn(ctx, r.db).QueryRowContext(ctx, query, id, userID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return model.Session{}, ErrNotFound
		}
		return model.Session{}, fmt.Errorf("failed to query session: %w", err)
	}
	return s, nil
}

// Touch records activity on an active session
func (r *sessionRepo) Touch(ctx context.Context, id uuid.UUID, at time.Time) error {
	_, err := db.Conn(ctx, r.db).ExecContext(ctx, `
		UPDATE sessions SET last_activity_at = $2, updated_at = $2
		WHERE id = $1 AND is_active
	`, id, at)
	if err != nil {
		return fmt.Errorf("touch session: %w", err)
	}
	return nil
}

// Revoke deactivates one active session of userID. Reports false when nothing matched.
func (r *sessionRepo) Revoke(ctx context.Context, id, userID uuid.UUID, reason string, at time.Time) (bool, error) {
	result, err := db.Conn(ctx, r.db).ExecContext(ctx, `
		UPDATE sessions
		SET is_active = FALSE, revoked_at = $3, revoked_reason = $4, updated_at = $3
		WHERE id = $1 AND user_id = $2 AND is_active
	`, id, userID, at, reason)
	if err != nil {
		return false, fmt.Errorf("revoke session: %w", err)
	}
	n, _ := result.RowsAffected()
	return n > 0, nil
}

// RevokeAllByUser deactivates every active session of userID
func (r *sessionRepo) RevokeAllByUser(ctx context.Context, userID uuid.UUID, reason string, at time.Time) (int64, error) {
	result, err := db.Conn(ctx, r.db).ExecContext(ctx, `
		UPDATE sessions
		SET is_active = FALSE, revoked_at = $2, revoked_reason = $3, updated_at = $2
		WHERE user_id = $1 AND is_active
	`, userID, at, reason)
	if err != nil {
		return 0, fmt.Errorf("revoke sessions: %w", err)
	}
	n, _ := result.RowsAffected()
	return n, nil
}

// ListActive returns active sessions of userID, most recently used first
func (r *sessionRepo) ListActive(ctx context.Context, userID uuid.UUID) ([]model.Session, error) {
	query := `SELECT` + sessionColumns + `
		FROM sessions
		WHERE user_id = $1 AND is_active
		ORDER BY last_activity_at DESC, created_at DESC, id`
	rows, err := db.Conn(ctx, r.db).QueryContext(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to query sessions: %w", err)
	}
	defer rows.Close()

	sessions := []model.Session{}
	for rows.Next() {
		s, err := scanSession(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan session: %w", err)
		}
		sessions = append(sessions, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating sessions: %w", err)
	}
	return sessions, nil
}
