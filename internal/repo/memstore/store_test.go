package memstore

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/thatmoment/server/internal/model"
	"github.com/thatmoment/server/internal/repo"
)

var t0 = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func TestUsers_EmailIsCaseInsensitiveAndUnique(t *testing.T) {
	ctx := context.Background()
	users := New().Users()

	u, err := users.Create(ctx, "alice@example.com", t0)
	require.NoError(t, err)
	assert.True(t, u.IsActive)
	assert.False(t, u.IsVerified)

	_, err = users.Create(ctx, "ALICE@example.com", t0)
	assert.ErrorIs(t, err, repo.ErrDuplicate)

	got, err := users.GetByEmail(ctx, "Alice@Example.com")
	require.NoError(t, err)
	assert.Equal(t, u.ID, got.ID)
}

func TestRunInTx_RollsBackOnError(t *testing.T) {
	ctx := context.Background()
	store := New()
	boom := errors.New("boom")

	err := store.RunInTx(ctx, func(ctx context.Context) error {
		_, err := store.Users().Create(ctx, "bob@example.com", t0)
		require.NoError(t, err)
		return boom
	})
	assert.ErrorIs(t, err, boom)

	exists, err := store.Users().ExistsByEmail(ctx, "bob@example.com")
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestRunInTx_NestedJoinsOuter(t *testing.T) {
	ctx := context.Background()
	store := New()

	err := store.RunInTx(ctx, func(ctx context.Context) error {
		return store.RunInTx(ctx, func(ctx context.Context) error {
			_, err := store.Users().Create(ctx, "carol@example.com", t0)
			return err
		})
	})
	require.NoError(t, err)

	exists, _ := store.Users().ExistsByEmail(ctx, "carol@example.com")
	assert.True(t, exists)
}

func TestCodes_FindActivePicksNewest(t *testing.T) {
	ctx := context.Background()
	store := New()
	u, _ := store.Users().Create(ctx, "dave@example.com", t0)
	codes := store.Codes()

	first := &model.VerificationCode{
		Record: model.Record{CreatedAt: t0}, UserID: u.ID, CodeHash: "a",
		Purpose: model.PurposeLoginOTP, MaxAttempts: 3, ExpiresAt: t0.Add(5 * time.Minute),
	}
	second := &model.VerificationCode{
		Record: model.Record{CreatedAt: t0}, UserID: u.ID, CodeHash: "b",
		Purpose: model.PurposeLoginOTP, MaxAttempts: 3, ExpiresAt: t0.Add(5 * time.Minute),
	}
	require.NoError(t, codes.Create(ctx, first))
	require.NoError(t, codes.Create(ctx, second))

	got, err := codes.FindActiveForUpdate(ctx, u.ID, model.PurposeLoginOTP, t0)
	require.NoError(t, err)
	assert.Equal(t, "b", got.CodeHash)

	_, err = codes.FindActiveForUpdate(ctx, u.ID, model.PurposeEmailVerify, t0)
	assert.ErrorIs(t, err, repo.ErrNotFound)
}

func TestRefreshTokens_MarkUsedOnce(t *testing.T) {
	ctx := context.Background()
	tokens := New().RefreshTokens()

	tok := &model.RefreshToken{Record: model.Record{CreatedAt: t0}, TokenHash: "h1", ExpiresAt: t0.Add(time.Hour)}
	require.NoError(t, tokens.Create(ctx, tok))

	ok, err := tokens.MarkUsed(ctx, tok.ID, t0)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = tokens.MarkUsed(ctx, tok.ID, t0)
	require.NoError(t, err)
	assert.False(t, ok)

	got, err := tokens.FindByHash(ctx, "h1")
	require.NoError(t, err)
	assert.NotNil(t, got.UsedAt)
	assert.False(t, got.IsActive)
}

func TestSessions_ListActiveBreaksTies(t *testing.T) {
	ctx := context.Background()
	sessions := New().Sessions()
	userID := uuid.New()

	open := func(created time.Time) model.Session {
		s := model.Session{Record: model.Record{CreatedAt: created}, UserID: userID}
		require.NoError(t, sessions.Create(ctx, &s))
		return s
	}
	oldest := open(t0)
	a := open(t0.Add(time.Minute))
	b := open(t0.Add(time.Minute))

	// same last activity for all three
	for _, s := range []model.Session{oldest, a, b} {
		require.NoError(t, sessions.Touch(ctx, s.ID, t0.Add(5*time.Minute)))
	}

	first, second := a.ID, b.ID
	if second.String() < first.String() {
		first, second = second, first
	}

	for i := 0; i < 5; i++ {
		list, err := sessions.ListActive(ctx, userID)
		require.NoError(t, err)
		require.Len(t, list, 3)
		assert.Equal(t, []uuid.UUID{first, second, oldest.ID}, []uuid.UUID{list[0].ID, list[1].ID, list[2].ID})
	}
}
