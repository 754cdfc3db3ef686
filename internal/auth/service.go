package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/thatmoment/server/internal/db"
	"github.com/thatmoment/server/internal/logging"
	"github.com/thatmoment/server/internal/model"
	"github.com/thatmoment/server/internal/repo"
)

const tokenTypeBearer = "Bearer"

// EmailSender delivers a one-time code for the given purpose
type EmailSender interface {
	Send(ctx context.Context, to string, purpose model.CodePurpose, code string) error
}

// RegisterResult is returned by Register
type RegisterResult struct {
	UserID  uuid.UUID
	Message string
}

// LoginRequest carries the submitted code and the client's device details
type LoginRequest struct {
	Email     string
	Code      string
	IPAddress string
	UserAgent string
}

// TokenBundle is the result of a successful login or refresh
type TokenBundle struct {
	AccessToken  string
	RefreshToken string
	ExpiresIn    int64
	TokenType    string
	UserID       uuid.UUID
	Email        string
	SessionID    uuid.UUID
}

// Principal identifies the caller of an authenticated request
type Principal struct {
	UserID    uuid.UUID
	SessionID uuid.UUID
	Email     string
}

// SessionView is one entry of the caller's session list
type SessionView struct {
	model.Session
	Current bool
}

// AuthService sequences the auth components into the public flows
type AuthService struct {
	users    repo.UserRepo
	tx       db.TxRunner
	tokens   *TokenService
	codes    *CodeManager
	guard    *AccountGuard
	sessions *SessionRegistry
	rotator  *RefreshTokenRotator
	sender   EmailSender
	now      func() time.Time
	log      logrus.FieldLogger
}

// NewAuthService creates the auth service
func NewAuthService(
	users repo.UserRepo,
	tx db.TxRunner,
	tokens *TokenService,
	codes *CodeManager,
	guard *AccountGuard,
	sessions *SessionRegistry,
	rotator *RefreshTokenRotator,
	sender EmailSender,
	log logrus.FieldLogger,
) *AuthService {
	return &AuthService{
		users:    users,
		tx:       tx,
		tokens:   tokens,
		codes:    codes,
		guard:    guard,
		sessions: sessions,
		rotator:  rotator,
		sender:   sender,
		now:      time.Now,
		log:      log.WithField("component", "auth"),
	}
}

// Register creates an unverified account and sends an email verification code
func (s *AuthService) Register(ctx context.Context, email string) (*RegisterResult, error) {
	email, err := NormalizeEmail(email)
	if err != nil {
		return nil, err
	}

	var (
		user model.User
		code string
	)
	err = s.tx.RunInTx(ctx, func(ctx context.Context) error {
		exists, err := s.users.ExistsByEmail(ctx, email)
		if err != nil {
			return err
		}
		if exists {
			return ErrEmailTaken
		}

		user, err = s.users.Create(ctx, email, s.now())
		if errors.Is(err, repo.ErrDuplicate) {
			return ErrEmailTaken
		}
		if err != nil {
			return err
		}

		code, err = s.codes.Issue(ctx, user.ID, model.PurposeEmailVerify)
		return err
	})
	if err != nil {
		return nil, s.fail("register", err, logrus.Fields{"email": logging.MaskEmail(email)})
	}

	s.deliver(ctx, user, model.PurposeEmailVerify, code)
	logging.AuthEvent(s.log, "register", true, logrus.Fields{"user_id": user.ID})
	return &RegisterResult{
		UserID:  user.ID,
		Message: "Registration successful. Verification code sent.",
	}, nil
}

// VerifyEmail proves ownership of the address with an EMAIL_VERIFY code
func (s *AuthService) VerifyEmail(ctx context.Context, email, code string) error {
	if err := CheckCodeFormat(code); err != nil {
		return err
	}
	user, err := s.userByEmail(ctx, email)
	if err != nil {
		return err
	}
	if user.IsVerified {
		return ErrAlreadyVerified
	}

	var result CodeResult
	err = s.tx.RunInTx(ctx, func(ctx context.Context) error {
		var err error
		result, err = s.codes.Validate(ctx, user.ID, model.PurposeEmailVerify, code)
		if err != nil || result.Outcome != CodeOK {
			return err
		}
		return s.users.MarkVerified(ctx, user.ID, s.now())
	})
	if err != nil {
		return s.fail("verify_email", err, logrus.Fields{"user_id": user.ID})
	}

	if err := codeError(result, ErrNoActiveCode); err != nil {
		logging.AuthEvent(s.log, "verify_email", false, logrus.Fields{
			"user_id": user.ID,
			"outcome": result.Outcome.String(),
		})
		return err
	}

	logging.AuthEvent(s.log, "verify_email", true, logrus.Fields{"user_id": user.ID})
	return nil
}

// ResendCode supersedes the pending email verification code with a new one
func (s *AuthService) ResendCode(ctx context.Context, email string) error {
	user, err := s.userByEmail(ctx, email)
	if err != nil {
		return err
	}
	if user.IsVerified {
		return ErrAlreadyVerified
	}

	code, err := s.codes.Issue(ctx, user.ID, model.PurposeEmailVerify)
	if err != nil {
		return s.fail("resend_code", err, logrus.Fields{"user_id": user.ID})
	}
	s.deliver(ctx, user, model.PurposeEmailVerify, code)
	return nil
}

// RequestLoginCode sends a LOGIN_OTP code to an account that may log in
func (s *AuthService) RequestLoginCode(ctx context.Context, email string) error {
	user, err := s.userByEmail(ctx, email)
	if err != nil {
		return err
	}
	if err := s.guard.AssertLoginAllowed(&user); err != nil {
		logging.AuthEvent(s.log, "login_code_request", false, logrus.Fields{
			"user_id": user.ID,
			"reason":  apperrCode(err),
		})
		return err
	}

	code, err := s.codes.Issue(ctx, user.ID, model.PurposeLoginOTP)
	if err != nil {
		return s.fail("login_code_request", err, logrus.Fields{"user_id": user.ID})
	}
	s.deliver(ctx, user, model.PurposeLoginOTP, code)
	return nil
}

// VerifyLogin exchanges a LOGIN_OTP code for a new session and token pair.
// Wrong codes count toward the account lockout.
func (s *AuthService) VerifyLogin(ctx context.Context, req LoginRequest) (*TokenBundle, error) {
	if err := CheckCodeFormat(req.Code); err != nil {
		return nil, err
	}
	user, err := s.userByEmail(ctx, req.Email)
	if err != nil {
		return nil, err
	}
	if err := s.guard.AssertLoginAllowed(&user); err != nil {
		logging.AuthEvent(s.log, "login_verify", false, logrus.Fields{
			"user_id": user.ID,
			"reason":  apperrCode(err),
		})
		return nil, err
	}

	var (
		result  CodeResult
		session model.Session
		refresh string
	)
	err = s.tx.RunInTx(ctx, func(ctx context.Context) error {
		var err error
		result, err = s.codes.Validate(ctx, user.ID, model.PurposeLoginOTP, req.Code)
		if err != nil || result.Outcome != CodeOK {
			return err
		}
		if err := s.guard.RecordSuccess(ctx, &user); err != nil {
			return err
		}

		session, err = s.sessions.Open(ctx, OpenParams{
			UserID:     user.ID,
			DeviceName: DeviceName(req.UserAgent),
			Platform:   Platform(req.UserAgent),
			IPAddress:  req.IPAddress,
			UserAgent:  req.UserAgent,
		})
		if err != nil {
			return err
		}

		refresh, err = s.rotator.Issue(ctx, user.ID, session.ID)
		return err
	})
	if err != nil {
		return nil, s.fail("login_verify", err, logrus.Fields{"user_id": user.ID})
	}

	switch result.Outcome {
	case CodeMismatch, CodeExhausted:
		if _, err := s.guard.RecordFailure(ctx, user.ID); err != nil {
			s.log.WithError(err).WithField("user_id", user.ID).Error("failed to record login failure")
		}
		fallthrough
	case CodeNotFound:
		logging.AuthEvent(s.log, "login_verify", false, logrus.Fields{
			"user_id": user.ID,
			"outcome": result.Outcome.String(),
		})
		return nil, codeError(result, errNoActiveLoginCode)
	}

	bundle, err := s.bundle(user.ID, session.ID, user.Email, refresh)
	if err != nil {
		return nil, s.fail("login_verify", err, logrus.Fields{"user_id": user.ID})
	}
	logging.AuthEvent(s.log, "login_verify", true, logrus.Fields{
		"user_id":    user.ID,
		"session_id": session.ID,
	})
	return bundle, nil
}

// Refresh rotates a refresh token into a new token pair for the same session
func (s *AuthService) Refresh(ctx context.Context, rawRefresh string) (*TokenBundle, error) {
	claims, err := s.tokens.VerifyKind(rawRefresh, KindRefresh)
	switch {
	case errors.Is(err, ErrWrongKind):
		return nil, ErrInvalidTokenType
	case errors.Is(err, ErrTokenExpired):
		return nil, ErrRefreshExpired
	case err != nil:
		return nil, ErrInvalidRefresh
	}

	record, err := s.rotator.Validate(ctx, rawRefresh)
	if err != nil {
		return nil, s.refreshFailure(claims, err)
	}
	if record.UserID != claims.UserID || record.SessionID != claims.SessionID {
		return nil, ErrInvalidRefresh
	}

	var (
		user    model.User
		refresh string
	)
	err = s.tx.RunInTx(ctx, func(ctx context.Context) error {
		if _, err := s.sessions.GetValid(ctx, record.SessionID, record.UserID); err != nil {
			return err
		}

		var err error
		user, err = s.users.GetByID(ctx, record.UserID)
		if errors.Is(err, repo.ErrNotFound) {
			return ErrInvalidRefresh
		}
		if err != nil {
			return err
		}
		if !user.IsActive {
			return ErrAccountSuspended
		}

		refresh, err = s.rotator.Rotate(ctx, record)
		if err != nil {
			return err
		}
		s.sessions.Touch(ctx, record.SessionID)
		return nil
	})
	if errors.Is(err, ErrRefreshReused) {
		s.rotator.HandleReuse(ctx, record)
	}
	if err != nil {
		return nil, s.refreshFailure(claims, err)
	}

	bundle, err := s.bundle(user.ID, record.SessionID, user.Email, refresh)
	if err != nil {
		return nil, s.fail("refresh", err, logrus.Fields{"user_id": user.ID})
	}
	logging.AuthEvent(s.log, "refresh", true, logrus.Fields{
		"user_id":    user.ID,
		"session_id": record.SessionID,
	})
	return bundle, nil
}

// refreshFailure hides reuse behind the generic invalid-token error
func (s *AuthService) refreshFailure(claims *Claims, err error) error {
	fields := logrus.Fields{"user_id": claims.UserID, "session_id": claims.SessionID}
	if errors.Is(err, ErrRefreshReused) {
		fields["reason"] = apperrCode(ErrRefreshReused)
		logging.AuthEvent(s.log, "refresh", false, fields)
		return ErrInvalidRefresh.Wrap(err)
	}
	return s.fail("refresh", err, fields)
}

// Logout ends the caller's session, or every session when allDevices is set
func (s *AuthService) Logout(ctx context.Context, userID, sessionID uuid.UUID, allDevices bool) error {
	fields := logrus.Fields{"user_id": userID, "session_id": sessionID, "all_devices": allDevices}
	if allDevices {
		if _, err := s.sessions.RevokeAll(ctx, userID, ReasonLogoutAll); err != nil {
			return s.fail("logout", err, fields)
		}
	} else if err := s.sessions.Revoke(ctx, sessionID, userID, ReasonLogout); err != nil {
		return s.fail("logout", err, fields)
	}

	logging.AuthEvent(s.log, "logout", true, fields)
	return nil
}

// ListSessions returns the user's active sessions with the caller's own marked
func (s *AuthService) ListSessions(ctx context.Context, userID, currentSessionID uuid.UUID) ([]SessionView, error) {
	sessions, err := s.sessions.ListActive(ctx, userID)
	if err != nil {
		return nil, err
	}
	views := make([]SessionView, 0, len(sessions))
	for _, session := range sessions {
		views = append(views, SessionView{Session: session, Current: session.ID == currentSessionID})
	}
	return views, nil
}

// Me returns the account behind an authenticated principal
func (s *AuthService) Me(ctx context.Context, userID uuid.UUID) (model.User, error) {
	user, err := s.users.GetByID(ctx, userID)
	if errors.Is(err, repo.ErrNotFound) {
		return model.User{}, ErrUserNotFound
	}
	if err != nil {
		return model.User{}, fmt.Errorf("load user: %w", err)
	}
	return user, nil
}

// Authenticate checks an access token and that its session is still active
func (s *AuthService) Authenticate(ctx context.Context, rawAccess string) (*Principal, error) {
	claims, err := s.tokens.VerifyKind(rawAccess, KindAccess)
	switch {
	case errors.Is(err, ErrWrongKind):
		return nil, ErrInvalidTokenType
	case errors.Is(err, ErrTokenExpired):
		return nil, ErrAccessTokenExpired
	case err != nil:
		return nil, ErrInvalidAccessToken
	}

	if _, err := s.sessions.GetValid(ctx, claims.SessionID, claims.UserID); err != nil {
		return nil, err
	}
	return &Principal{UserID: claims.UserID, SessionID: claims.SessionID, Email: claims.Email}, nil
}

func (s *AuthService) userByEmail(ctx context.Context, email string) (model.User, error) {
	email, err := NormalizeEmail(email)
	if err != nil {
		return model.User{}, err
	}
	user, err := s.users.GetByEmail(ctx, email)
	if errors.Is(err, repo.ErrNotFound) {
		return model.User{}, ErrUserNotFound
	}
	if err != nil {
		return model.User{}, fmt.Errorf("load user: %w", err)
	}
	return user, nil
}

func (s *AuthService) bundle(userID, sessionID uuid.UUID, email, refresh string) (*TokenBundle, error) {
	access, err := s.tokens.MintAccessToken(userID, sessionID, email)
	if err != nil {
		return nil, err
	}
	return &TokenBundle{
		AccessToken:  access,
		RefreshToken: refresh,
		ExpiresIn:    int64(s.tokens.AccessTTL().Seconds()),
		TokenType:    tokenTypeBearer,
		UserID:       userID,
		Email:        email,
		SessionID:    sessionID,
	}, nil
}

// deliver sends the code. Delivery failures are logged; the code stays valid
// and can be re-sent.
func (s *AuthService) deliver(ctx context.Context, user model.User, purpose model.CodePurpose, code string) {
	if err := s.sender.Send(ctx, user.Email, purpose, code); err != nil {
		s.log.WithError(err).WithFields(logrus.Fields{
			"user_id": user.ID,
			"purpose": purpose,
		}).Error("failed to send verification code")
	}
}

// fail logs unexpected errors; application errors pass through untouched
func (s *AuthService) fail(op string, err error, fields logrus.Fields) error {
	if apperrCode(err) == "" {
		s.log.WithError(err).WithFields(fields).WithField("op", op).Error("auth operation failed")
		return fmt.Errorf("%s: %w", op, err)
	}
	return err
}

func codeError(result CodeResult, noActive error) error {
	switch result.Outcome {
	case CodeOK:
		return nil
	case CodeMismatch:
		return invalidCode(result.Remaining)
	case CodeExhausted:
		return ErrCodeExhausted
	default:
		return noActive
	}
}
