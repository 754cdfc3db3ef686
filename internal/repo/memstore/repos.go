package memstore

import (
	"context"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/thatmoment/server/internal/model"
	"github.com/thatmoment/server/internal/repo"
)

var (
	_ repo.UserRepo    = (*Users)(nil)
	_ repo.CodeRepo    = (*Codes)(nil)
	_ repo.SessionRepo = (*Sessions)(nil)
	_ repo.RefreshRepo = (*RefreshTokens)(nil)
)

func timePtr(t time.Time) *time.Time { return &t }

// Users implements repo.UserRepo
type Users struct{ s *Store }

func (r *Users) findByEmail(email string) (model.User, bool) {
	for _, u := range r.s.st.users {
		if u.DeletedAt == nil && strings.EqualFold(u.Email, email) {
			return u, true
		}
	}
	return model.User{}, false
}

func (r *Users) Create(ctx context.Context, email string, now time.Time) (model.User, error) {
	defer r.s.lock(ctx)()
	if _, ok := r.findByEmail(email); ok {
		return model.User{}, repo.ErrDuplicate
	}
	u := model.User{
		Record:   model.Record{ID: uuid.New(), CreatedAt: now, UpdatedAt: now},
		Email:    email,
		IsActive: true,
	}
	r.s.st.users[u.ID] = u
	return u, nil
}

func (r *Users) GetByID(ctx context.Context, id uuid.UUID) (model.User, error) {
	defer r.s.lock(ctx)()
	u, ok := r.s.st.users[id]
	if !ok || u.DeletedAt != nil {
		return model.User{}, repo.ErrNotFound
	}
	return u, nil
}

func (r *Users) GetByIDForUpdate(ctx context.Context, id uuid.UUID) (model.User, error) {
	return r.GetByID(ctx, id)
}

func (r *Users) GetByEmail(ctx context.Context, email string) (model.User, error) {
	defer r.s.lock(ctx)()
	u, ok := r.findByEmail(email)
	if !ok {
		return model.User{}, repo.ErrNotFound
	}
	return u, nil
}

func (r *Users) ExistsByEmail(ctx context.Context, email string) (bool, error) {
	defer r.s.lock(ctx)()
	_, ok := r.findByEmail(email)
	return ok, nil
}

func (r *Users) MarkVerified(ctx context.Context, id uuid.UUID, at time.Time) error {
	defer r.s.lock(ctx)()
	u, ok := r.s.st.users[id]
	if !ok || u.DeletedAt != nil {
		return repo.ErrNotFound
	}
	u.IsVerified = true
	u.VerifiedAt = timePtr(at)
	u.UpdatedAt = at
	r.s.st.users[id] = u
	return nil
}

func (r *Users) UpdateLoginState(ctx context.Context, id uuid.UUID, failedCount int, lockedUntil *time.Time, now time.Time) error {
	defer r.s.lock(ctx)()
	u, ok := r.s.st.users[id]
	if !ok || u.DeletedAt != nil {
		return repo.ErrNotFound
	}
	u.FailedLoginCount = failedCount
	u.LockedUntil = nil
	if lockedUntil != nil {
		u.LockedUntil = timePtr(*lockedUntil)
	}
	u.UpdatedAt = now
	r.s.st.users[id] = u
	return nil
}

// SetActive flips the account's active flag. There is no service operation
// for suspension; this exists for operators and tests.
func (r *Users) SetActive(ctx context.Context, id uuid.UUID, active bool) error {
	defer r.s.lock(ctx)()
	u, ok := r.s.st.users[id]
	if !ok {
		return repo.ErrNotFound
	}
	u.IsActive = active
	r.s.st.users[id] = u
	return nil
}

// Codes implements repo.CodeRepo
type Codes struct{ s *Store }

// LockIssue is a no-op; units of work already run one at a time.
func (r *Codes) LockIssue(context.Context, uuid.UUID, model.CodePurpose) error {
	return nil
}

func (r *Codes) InvalidatePending(ctx context.Context, userID uuid.UUID, purpose model.CodePurpose, now time.Time) (int64, error) {
	defer r.s.lock(ctx)()
	var n int64
	for id, c := range r.s.st.codes {
		if c.UserID == userID && c.Purpose == purpose && c.VerifiedAt == nil && c.ExpiresAt.After(now) {
			c.ExpiresAt = now
			c.UpdatedAt = now
			r.s.st.codes[id] = c
			n++
		}
	}
	return n, nil
}

func (r *Codes) Create(ctx context.Context, code *model.VerificationCode) error {
	defer r.s.lock(ctx)()
	code.ID = uuid.New()
	code.UpdatedAt = code.CreatedAt
	r.s.seq++
	r.s.st.codes[code.ID] = seqCode{VerificationCode: *code, seq: r.s.seq}
	return nil
}

func (r *Codes) FindActiveForUpdate(ctx context.Context, userID uuid.UUID, purpose model.CodePurpose, now time.Time) (model.VerificationCode, error) {
	defer r.s.lock(ctx)()
	var best *seqCode
	for _, c := range r.s.st.codes {
		c := c
		if c.UserID != userID || c.Purpose != purpose || !c.IsActive(now) {
			continue
		}
		if best == nil || newer(c, *best) {
			best = &c
		}
	}
	if best == nil {
		return model.VerificationCode{}, repo.ErrNotFound
	}
	return best.VerificationCode, nil
}

func (r *Codes) FindLatest(ctx context.Context, userID uuid.UUID, purpose model.CodePurpose) (model.VerificationCode, error) {
	defer r.s.lock(ctx)()
	var best *seqCode
	for _, c := range r.s.st.codes {
		c := c
		if c.UserID != userID || c.Purpose != purpose || c.VerifiedAt != nil {
			continue
		}
		if best == nil || newer(c, *best) {
			best = &c
		}
	}
	if best == nil {
		return model.VerificationCode{}, repo.ErrNotFound
	}
	return best.VerificationCode, nil
}

func newer(a, b seqCode) bool {
	return a.CreatedAt.After(b.CreatedAt) || (a.CreatedAt.Equal(b.CreatedAt) && a.seq > b.seq)
}

func (r *Codes) IncrementAttempt(ctx context.Context, id uuid.UUID, now time.Time) (int, error) {
	defer r.s.lock(ctx)()
	c, ok := r.s.st.codes[id]
	if !ok {
		return 0, repo.ErrNotFound
	}
	c.AttemptCount++
	c.UpdatedAt = now
	r.s.st.codes[id] = c
	return c.AttemptCount, nil
}

func (r *Codes) MarkVerified(ctx context.Context, id uuid.UUID, at time.Time) error {
	defer r.s.lock(ctx)()
	c, ok := r.s.st.codes[id]
	if !ok || c.VerifiedAt != nil {
		return repo.ErrNotFound
	}
	c.VerifiedAt = timePtr(at)
	c.UpdatedAt = at
	r.s.st.codes[id] = c
	return nil
}

// Sessions implements repo.SessionRepo
type Sessions struct{ s *Store }

func (r *Sessions) Create(ctx context.Context, s *model.Session) error {
	defer r.s.lock(ctx)()
	s.ID = uuid.New()
	s.IsActive = true
	s.LastActivityAt = s.CreatedAt
	s.UpdatedAt = s.CreatedAt
	r.s.st.sessions[s.ID] = *s
	return nil
}

func (r *Sessions) FindActive(ctx context.Context, id, userID uuid.UUID) (model.Session, error) {
	defer r.s.lock(ctx)()
	s, ok := r.s.st.sessions[id]
	if !ok || !s.IsActive || s.UserID != userID {
		return model.Session{}, repo.ErrNotFound
	}
	return s, nil
}

func (r *Sessions) Touch(ctx context.Context, id uuid.UUID, at time.Time) error {
	defer r.s.lock(ctx)()
	s, ok := r.s.st.sessions[id]
	if ok && s.IsActive {
		s.LastActivityAt = at
		s.UpdatedAt = at
		r.s.st.sessions[id] = s
	}
	return nil
}

func (r *Sessions) revoke(s model.Session, reason string, at time.Time) {
	s.IsActive = false
	s.RevokedAt = timePtr(at)
	s.RevokedReason = &reason
	s.UpdatedAt = at
	r.s.st.sessions[s.ID] = s
}

func (r *Sessions) Revoke(ctx context.Context, id, userID uuid.UUID, reason string, at time.Time) (bool, error) {
	defer r.s.lock(ctx)()
	s, ok := r.s.st.sessions[id]
	if !ok || !s.IsActive || s.UserID != userID {
		return false, nil
	}
	r.revoke(s, reason, at)
	return true, nil
}

func (r *Sessions) RevokeAllByUser(ctx context.Context, userID uuid.UUID, reason string, at time.Time) (int64, error) {
	defer r.s.lock(ctx)()
	var n int64
	for _, s := range r.s.st.sessions {
		if s.UserID == userID && s.IsActive {
			r.revoke(s, reason, at)
			n++
		}
	}
	return n, nil
}

func (r *Sessions) ListActive(ctx context.Context, userID uuid.UUID) ([]model.Session, error) {
	defer r.s.lock(ctx)()
	sessions := []model.Session{}
	for _, s := range r.s.st.sessions {
		if s.UserID == userID && s.IsActive {
			sessions = append(sessions, s)
		}
	}
	sort.Slice(sessions, func(i, j int) bool {
		a, b := sessions[i], sessions[j]
		if !a.LastActivityAt.Equal(b.LastActivityAt) {
			return a.LastActivityAt.After(b.LastActivityAt)
		}
		if !a.CreatedAt.Equal(b.CreatedAt) {
			return a.CreatedAt.After(b.CreatedAt)
		}
		return a.ID.String() < b.ID.String()
	})
	return sessions, nil
}

// RefreshTokens implements repo.RefreshRepo
type RefreshTokens struct{ s *Store }

func (r *RefreshTokens) Create(ctx context.Context, t *model.RefreshToken) error {
	defer r.s.lock(ctx)()
	for _, existing := range r.s.st.tokens {
		if existing.TokenHash == t.TokenHash {
			return repo.ErrDuplicate
		}
	}
	t.ID = uuid.New()
	t.IsActive = true
	t.UpdatedAt = t.CreatedAt
	r.s.st.tokens[t.ID] = *t
	return nil
}

func (r *RefreshTokens) FindByHash(ctx context.Context, tokenHash string) (model.RefreshToken, error) {
	defer r.s.lock(ctx)()
	for _, t := range r.s.st.tokens {
		if t.TokenHash == tokenHash {
			return t, nil
		}
	}
	return model.RefreshToken{}, repo.ErrNotFound
}

func (r *RefreshTokens) MarkUsed(ctx context.Context, id uuid.UUID, at time.Time) (bool, error) {
	defer r.s.lock(ctx)()
	t, ok := r.s.st.tokens[id]
	if !ok || t.UsedAt != nil || !t.IsActive {
		return false, nil
	}
	t.UsedAt = timePtr(at)
	t.IsActive = false
	t.UpdatedAt = at
	r.s.st.tokens[id] = t
	return true, nil
}

func (r *RefreshTokens) revokeWhere(match func(model.RefreshToken) bool, at time.Time) int64 {
	var n int64
	for id, t := range r.s.st.tokens {
		if t.IsActive && match(t) {
			t.IsActive = false
			t.UpdatedAt = at
			r.s.st.tokens[id] = t
			n++
		}
	}
	return n
}

func (r *RefreshTokens) RevokeBySession(ctx context.Context, sessionID uuid.UUID, at time.Time) (int64, error) {
	defer r.s.lock(ctx)()
	return r.revokeWhere(func(t model.RefreshToken) bool { return t.SessionID == sessionID }, at), nil
}

func (r *RefreshTokens) RevokeByUser(ctx context.Context, userID uuid.UUID, at time.Time) (int64, error) {
	defer r.s.lock(ctx)()
	return r.revokeWhere(func(t model.RefreshToken) bool { return t.UserID == userID }, at), nil
}
