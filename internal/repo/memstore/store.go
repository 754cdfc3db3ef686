// Package memstore keeps the repository contracts in process memory. It backs
// the STORE_DRIVER=memory mode and the service-level tests.
package memstore

import (
	"context"
	"sync"

	"github.com/google/uuid"
	"github.com/thatmoment/server/internal/model"
)

type seqCode struct {
	model.VerificationCode
	seq uint64
}

type state struct {
	users    map[uuid.UUID]model.User
	codes    map[uuid.UUID]seqCode
	sessions map[uuid.UUID]model.Session
	tokens   map[uuid.UUID]model.RefreshToken
}

func (s state) clone() state {
	c := state{
		users:    make(map[uuid.UUID]model.User, len(s.users)),
		codes:    make(map[uuid.UUID]seqCode, len(s.codes)),
		sessions: make(map[uuid.UUID]model.Session, len(s.sessions)),
		tokens:   make(map[uuid.UUID]model.RefreshToken, len(s.tokens)),
	}
	for k, v := range s.users {
		c.users[k] = v
	}
	for k, v := range s.codes {
		c.codes[k] = v
	}
	for k, v := range s.sessions {
		c.sessions[k] = v
	}
	for k, v := range s.tokens {
		c.tokens[k] = v
	}
	return c
}

// Store holds all entities. Units of work run one at a time and are rolled
// back to a snapshot when they fail.
type Store struct {
	txMu sync.Mutex

	mu  sync.Mutex
	st  state
	seq uint64
}

// New creates an empty Store
func New() *Store {
	return &Store{st: state{}.clone()}
}

type txMarker struct{}

// RunInTx runs fn exclusively. Nested calls join the outer unit.
func (s *Store) RunInTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if ctx.Value(txMarker{}) != nil {
		return fn(ctx)
	}

	s.txMu.Lock()
	defer s.txMu.Unlock()

	s.mu.Lock()
	snapshot := s.st.clone()
	s.mu.Unlock()

	if err := fn(context.WithValue(ctx, txMarker{}, true)); err != nil {
		s.mu.Lock()
		s.st = snapshot
		s.mu.Unlock()
		return err
	}
	return nil
}

// lock serializes a single repository call. Calls outside a unit of work
// also wait for any running unit so a rollback never discards them.
func (s *Store) lock(ctx context.Context) func() {
	if ctx.Value(txMarker{}) != nil {
		s.mu.Lock()
		return s.mu.Unlock
	}
	s.txMu.Lock()
	s.mu.Lock()
	return func() {
		s.mu.Unlock()
		s.txMu.Unlock()
	}
}

// Users returns the user repository view
func (s *Store) Users() *Users { return &Users{s: s} }

// Codes returns the verification code repository view
func (s *Store) Codes() *Codes { return &Codes{s: s} }

// Sessions returns the session repository view
func (s *Store) Sessions() *Sessions { return &Sessions{s: s} }

// RefreshTokens returns the refresh token repository view
func (s *Store) RefreshTokens() *RefreshTokens { return &RefreshTokens{s: s} }
