package auth

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"io"
	"math/big"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/thatmoment/server/internal/db"
	"github.com/thatmoment/server/internal/model"
	"github.com/thatmoment/server/internal/repo"
)

const (
	codeLength = 6
	codeFloor  = 100000
	codeSpan   = 900000
)

// CodeOutcome is the result of checking a submitted code
type CodeOutcome int

const (
	CodeOK CodeOutcome = iota
	CodeMismatch
	CodeExhausted
	CodeNotFound
)

func (o CodeOutcome) String() string {
	switch o {
	case CodeOK:
		return "ok"
	case CodeMismatch:
		return "mismatch"
	case CodeExhausted:
		return "exhausted"
	default:
		return "not_found"
	}
}

// CodeResult carries the outcome and, for a mismatch, the attempts left
type CodeResult struct {
	Outcome   CodeOutcome
	Remaining int
}

// CodePolicy holds per-purpose lifetimes and the attempt ceiling
type CodePolicy struct {
	EmailVerifyTTL time.Duration
	LoginTTL       time.Duration
	MaxAttempts    int
}

func (p CodePolicy) ttl(purpose model.CodePurpose) time.Duration {
	if purpose == model.PurposeLoginOTP {
		return p.LoginTTL
	}
	return p.EmailVerifyTTL
}

// CodeManager issues and validates one-time codes. Only hashes are stored.
type CodeManager struct {
	codes   repo.CodeRepo
	tx      db.TxRunner
	hashKey []byte
	policy  CodePolicy
	rand    io.Reader
	now     func() time.Time
	log     logrus.FieldLogger
}

// NewCodeManager creates a code manager. A nil rnd uses crypto/rand.
func NewCodeManager(codes repo.CodeRepo, tx db.TxRunner, hashKey string, policy CodePolicy, rnd io.Reader, log logrus.FieldLogger) *CodeManager {
	if rnd == nil {
		rnd = rand.Reader
	}
	return &CodeManager{
		codes:   codes,
		tx:      tx,
		hashKey: []byte(hashKey),
		policy:  policy,
		rand:    rnd,
		now:     time.Now,
		log:     log.WithField("component", "codes"),
	}
}

// Issue supersedes any pending code for (user, purpose) and returns a fresh
// plaintext code for delivery.
func (m *CodeManager) Issue(ctx context.Context, userID uuid.UUID, purpose model.CodePurpose) (string, error) {
	if !purpose.Valid() {
		return "", fmt.Errorf("unknown code purpose %q", purpose)
	}

	code, err := m.generate()
	if err != nil {
		return "", err
	}

	err = m.tx.RunInTx(ctx, func(ctx context.Context) error {
		if err := m.codes.LockIssue(ctx, userID, purpose); err != nil {
			return err
		}

		now := m.now()
		superseded, err := m.codes.InvalidatePending(ctx, userID, purpose, now)
		if err != nil {
			return err
		}

		record := &model.VerificationCode{
			Record:      model.Record{CreatedAt: now},
			UserID:      userID,
			CodeHash:    hashCode(m.hashKey, userID, purpose, code),
			Purpose:     purpose,
			MaxAttempts: m.policy.MaxAttempts,
			ExpiresAt:   now.Add(m.policy.ttl(purpose)),
		}
		if err := m.codes.Create(ctx, record); err != nil {
			return err
		}

		m.log.WithFields(logrus.Fields{
			"user_id":    userID,
			"purpose":    purpose,
			"superseded": superseded,
		}).Debug("verification code issued")
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("issue %s code: %w", purpose, err)
	}
	return code, nil
}

// Validate checks submitted against the newest active code. The row is locked
// for the duration so parallel attempts cannot exceed the ceiling.
func (m *CodeManager) Validate(ctx context.Context, userID uuid.UUID, purpose model.CodePurpose, submitted string) (CodeResult, error) {
	var result CodeResult
	err := m.tx.RunInTx(ctx, func(ctx context.Context) error {
		now := m.now()
		code, err := m.codes.FindActiveForUpdate(ctx, userID, purpose, now)
		if errors.Is(err, repo.ErrNotFound) {
			result, err = m.inactiveOutcome(ctx, userID, purpose, now)
			return err
		}
		if err != nil {
			return err
		}

		if constantTimeEqual(code.CodeHash, hashCode(m.hashKey, userID, purpose, submitted)) {
			result = CodeResult{Outcome: CodeOK}
			return m.codes.MarkVerified(ctx, code.ID, now)
		}

		attempts, err := m.codes.IncrementAttempt(ctx, code.ID, now)
		if err != nil {
			return err
		}
		remaining := code.MaxAttempts - attempts
		if remaining <= 0 {
			result = CodeResult{Outcome: CodeExhausted}
		} else {
			result = CodeResult{Outcome: CodeMismatch, Remaining: remaining}
		}
		return nil
	})
	if err != nil {
		return CodeResult{}, fmt.Errorf("validate %s code: %w", purpose, err)
	}

	m.log.WithFields(logrus.Fields{
		"user_id":   userID,
		"purpose":   purpose,
		"outcome":   result.Outcome.String(),
		"remaining": result.Remaining,
	}).Debug("verification code checked")
	return result, nil
}

// inactiveOutcome tells an exhausted code apart from no code at all
func (m *CodeManager) inactiveOutcome(ctx context.Context, userID uuid.UUID, purpose model.CodePurpose, now time.Time) (CodeResult, error) {
	latest, err := m.codes.FindLatest(ctx, userID, purpose)
	if errors.Is(err, repo.ErrNotFound) {
		return CodeResult{Outcome: CodeNotFound}, nil
	}
	if err != nil {
		return CodeResult{}, err
	}
	if latest.ExpiresAt.After(now) && latest.AttemptCount >= latest.MaxAttempts {
		return CodeResult{Outcome: CodeExhausted}, nil
	}
	return CodeResult{Outcome: CodeNotFound}, nil
}

// generate draws uniformly from 100000..999999
func (m *CodeManager) generate() (string, error) {
	n, err := rand.Int(m.rand, big.NewInt(codeSpan))
	if err != nil {
		return "", fmt.Errorf("generate code: %w", err)
	}
	return fmt.Sprintf("%0*d", codeLength, n.Int64()+codeFloor), nil
}
