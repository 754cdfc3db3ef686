package auth

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/thatmoment/server/internal/logging"
	"github.com/thatmoment/server/internal/model"
	"github.com/thatmoment/server/internal/repo/memstore"
)

func newTestGuard(t *testing.T) (*AccountGuard, *memstore.Store, model.User, *testClock) {
	t.Helper()
	store := memstore.New()
	clock := newTestClock()
	user, err := store.Users().Create(context.Background(), "guard@x.com", clock.Now())
	require.NoError(t, err)

	g := NewAccountGuard(store.Users(), store, LockoutPolicy{MaxFailures: 5, Duration: 30 * time.Minute}, logging.Discard())
	g.now = clock.Now
	return g, store, user, clock
}

func TestAccountGuard_LocksAtThreshold(t *testing.T) {
	g, store, user, clock := newTestGuard(t)
	ctx := context.Background()

	for i := 1; i <= 4; i++ {
		locked, err := g.RecordFailure(ctx, user.ID)
		require.NoError(t, err)
		assert.False(t, locked, "failure %d", i)
	}
	locked, err := g.RecordFailure(ctx, user.ID)
	require.NoError(t, err)
	assert.True(t, locked)

	user, err = store.Users().GetByID(ctx, user.ID)
	require.NoError(t, err)
	assert.True(t, g.IsLocked(&user))

	clock.Advance(30 * time.Minute)
	assert.False(t, g.IsLocked(&user))

	// a lapsed lock starts a fresh count
	locked, err = g.RecordFailure(ctx, user.ID)
	require.NoError(t, err)
	assert.False(t, locked)
	user, err = store.Users().GetByID(ctx, user.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, user.FailedLoginCount)
	assert.Nil(t, user.LockedUntil)
}

func TestAccountGuard_RecordSuccessClears(t *testing.T) {
	g, store, user, _ := newTestGuard(t)
	ctx := context.Background()

	_, err := g.RecordFailure(ctx, user.ID)
	require.NoError(t, err)
	user, err = store.Users().GetByID(ctx, user.ID)
	require.NoError(t, err)

	require.NoError(t, g.RecordSuccess(ctx, &user))
	assert.Zero(t, user.FailedLoginCount)

	stored, err := store.Users().GetByID(ctx, user.ID)
	require.NoError(t, err)
	assert.Zero(t, stored.FailedLoginCount)
}

func TestAccountGuard_AssertLoginAllowedOrder(t *testing.T) {
	g, _, user, clock := newTestGuard(t)
	until := clock.Now().Add(time.Minute)

	assert.ErrorIs(t, g.AssertLoginAllowed(&user), ErrEmailNotVerified)

	user.IsVerified = true
	assert.NoError(t, g.AssertLoginAllowed(&user))

	user.LockedUntil = &until
	assert.ErrorIs(t, g.AssertLoginAllowed(&user), ErrAccountLocked)

	user.IsActive = false
	assert.ErrorIs(t, g.AssertLoginAllowed(&user), ErrAccountSuspended)
}
