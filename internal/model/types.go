package model

import (
	"time"

	"github.com/google/uuid"
)

// Record holds the identity and audit timestamps shared by every entity
type Record struct {
	ID        uuid.UUID
	CreatedAt time.Time
	UpdatedAt time.Time
}

// SoftDelete marks a row as logically removed
type SoftDelete struct {
	DeletedAt *time.Time
}

// User is the identity anchor. Email is unique among non-deleted users.
type User struct {
	Record
	SoftDelete
	Email            string
	PasswordHash     *string
	IsVerified       bool
	VerifiedAt       *time.Time
	IsActive         bool
	FailedLoginCount int
	LockedUntil      *time.Time
}

// CodePurpose distinguishes the two kinds of one-time codes
type CodePurpose string

const (
	PurposeEmailVerify CodePurpose = "EMAIL_VERIFY"
	PurposeLoginOTP    CodePurpose = "LOGIN_OTP"
)

// Valid reports whether p is a known purpose
func (p CodePurpose) Valid() bool {
	return p == PurposeEmailVerify || p == PurposeLoginOTP
}

// VerificationCode is a single issued one-time code. Only the keyed hash of the
// code is persisted.
type VerificationCode struct {
	Record
	UserID       uuid.UUID
	CodeHash     string
	Purpose      CodePurpose
	AttemptCount int
	MaxAttempts  int
	ExpiresAt    time.Time
	VerifiedAt   *time.Time
}

// IsActive reports whether the code can still be verified at now
func (c *VerificationCode) IsActive(now time.Time) bool {
	return c.VerifiedAt == nil && c.ExpiresAt.After(now) && c.AttemptCount < c.MaxAttempts
}

// Session is one authenticated device binding. Revoked sessions are never reactivated.
type Session struct {
	Record
	UserID         uuid.UUID
	DeviceName     string
	Platform       string
	IPAddress      string
	UserAgent      string
	IsActive       bool
	LastActivityAt time.Time
	RevokedAt      *time.Time
	RevokedReason  *string
}

// RefreshToken is a single-use rotation record. Only the token hash is stored.
type RefreshToken struct {
	Record
	SessionID uuid.UUID
	UserID    uuid.UUID
	TokenHash string
	ExpiresAt time.Time
	IsActive  bool
	UsedAt    *time.Time
}

// IsExpired reports whether the token is past its expiry at now
func (t *RefreshToken) IsExpired(now time.Time) bool {
	return !t.ExpiresAt.After(now)
}
