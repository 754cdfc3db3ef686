package auth

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/thatmoment/server/internal/db"
	"github.com/thatmoment/server/internal/logging"
	"github.com/thatmoment/server/internal/model"
	"github.com/thatmoment/server/internal/repo"
)

// LockoutPolicy escalates repeated login failures into a timed lock
type LockoutPolicy struct {
	MaxFailures int
	Duration    time.Duration
}

// AccountGuard owns the failed-login counter and lockout window
type AccountGuard struct {
	users  repo.UserRepo
	tx     db.TxRunner
	policy LockoutPolicy
	now    func() time.Time
	log    logrus.FieldLogger
}

// NewAccountGuard creates an account guard
func NewAccountGuard(users repo.UserRepo, tx db.TxRunner, policy LockoutPolicy, log logrus.FieldLogger) *AccountGuard {
	return &AccountGuard{
		users:  users,
		tx:     tx,
		policy: policy,
		now:    time.Now,
		log:    log.WithField("component", "guard"),
	}
}

// IsLocked reports whether the lockout window is still open
func (g *AccountGuard) IsLocked(user *model.User) bool {
	return user.LockedUntil != nil && user.LockedUntil.After(g.now())
}

// AssertLoginAllowed rejects suspended, locked and unverified accounts in that order
func (g *AccountGuard) AssertLoginAllowed(user *model.User) error {
	switch {
	case !user.IsActive:
		return ErrAccountSuspended
	case g.IsLocked(user):
		return ErrAccountLocked
	case !user.IsVerified:
		return ErrEmailNotVerified
	}
	return nil
}

// RecordSuccess clears the counter and any lock
func (g *AccountGuard) RecordSuccess(ctx context.Context, user *model.User) error {
	if user.FailedLoginCount == 0 && user.LockedUntil == nil {
		return nil
	}
	if err := g.users.UpdateLoginState(ctx, user.ID, 0, nil, g.now()); err != nil {
		return fmt.Errorf("reset login state: %w", err)
	}
	user.FailedLoginCount = 0
	user.LockedUntil = nil
	return nil
}

// RecordFailure counts one failed login and locks the account once the
// threshold is reached. A lock that has already lapsed starts a fresh count.
func (g *AccountGuard) RecordFailure(ctx context.Context, userID uuid.UUID) (locked bool, err error) {
	err = g.tx.RunInTx(ctx, func(ctx context.Context) error {
		user, err := g.users.GetByIDForUpdate(ctx, userID)
		if err != nil {
			return err
		}

		now := g.now()
		count := user.FailedLoginCount
		if user.LockedUntil != nil && !user.LockedUntil.After(now) {
			count = 0
		}
		count++

		var lockedUntil *time.Time
		if count >= g.policy.MaxFailures {
			until := now.Add(g.policy.Duration)
			lockedUntil = &until
			locked = true
		}
		return g.users.UpdateLoginState(ctx, userID, count, lockedUntil, now)
	})
	if err != nil {
		return false, fmt.Errorf("record login failure: %w", err)
	}

	if locked {
		logging.SecurityEvent(g.log, "account_locked", logrus.Fields{
			"user_id":  userID,
			"duration": g.policy.Duration.String(),
		})
	}
	return locked, nil
}
