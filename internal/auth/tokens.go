package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// TokenKind separates access tokens from refresh tokens
type TokenKind string

const (
	KindAccess  TokenKind = "access"
	KindRefresh TokenKind = "refresh"
)

var (
	// ErrTokenExpired means the signature is valid but exp has passed
	ErrTokenExpired = errors.New("token expired")
	// ErrTokenMalformed covers bad signatures, unknown algorithms and unparsable tokens
	ErrTokenMalformed = errors.New("token malformed")
	// ErrWrongKind means a valid token was presented where the other kind is expected
	ErrWrongKind = errors.New("wrong token kind")
)

// Claims is the payload of both token kinds. Email is only set on access tokens.
type Claims struct {
	UserID    uuid.UUID `json:"sub"`
	SessionID uuid.UUID `json:"sessionId"`
	Email     string    `json:"email,omitempty"`
	Kind      TokenKind `json:"kind"`
	jwt.RegisteredClaims
}

// TokenService mints and verifies HS256 tokens. It holds no rotation state.
type TokenService struct {
	secret     []byte
	accessTTL  time.Duration
	refreshTTL time.Duration
	now        func() time.Time
}

// NewTokenService creates a token service
func NewTokenService(secret string, accessTTL, refreshTTL time.Duration) *TokenService {
	return &TokenService{
		secret:     []byte(secret),
		accessTTL:  accessTTL,
		refreshTTL: refreshTTL,
		now:        time.Now,
	}
}

// AccessTTL is the lifetime of access tokens
func (s *TokenService) AccessTTL() time.Duration {
	return s.accessTTL
}

// RefreshTTL is the lifetime of refresh tokens
func (s *TokenService) RefreshTTL() time.Duration {
	return s.refreshTTL
}

// MintAccessToken signs an access token for a session
func (s *TokenService) MintAccessToken(userID, sessionID uuid.UUID, email string) (string, error) {
	return s.sign(&Claims{UserID: userID, SessionID: sessionID, Email: email, Kind: KindAccess}, s.accessTTL)
}

// MintRefreshToken signs a refresh token for a session
func (s *TokenService) MintRefreshToken(userID, sessionID uuid.UUID) (string, error) {
	return s.sign(&Claims{UserID: userID, SessionID: sessionID, Kind: KindRefresh}, s.refreshTTL)
}

func (s *TokenService) sign(claims *Claims, ttl time.Duration) (string, error) {
	now := s.now()
	// jti keeps two tokens minted in the same second distinct, and so their hashes
	claims.RegisteredClaims = jwt.RegisteredClaims{
		ID:        uuid.NewString(),
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
	}

	tokenString, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
	if err != nil {
		return "", fmt.Errorf("failed to sign %s token: %w", claims.Kind, err)
	}
	return tokenString, nil
}

// Verify checks signature and expiry. It knows nothing about rotation state.
func (s *TokenService) Verify(tokenString string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		return s.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(s.now),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrTokenExpired
		}
		return nil, fmt.Errorf("%w: %v", ErrTokenMalformed, err)
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid || claims.UserID == uuid.Nil || claims.SessionID == uuid.Nil {
		return nil, ErrTokenMalformed
	}
	return claims, nil
}

// KindOf verifies the token and returns its kind
func (s *TokenService) KindOf(tokenString string) (TokenKind, error) {
	claims, err := s.Verify(tokenString)
	if err != nil {
		return "", err
	}
	return claims.Kind, nil
}

// VerifyKind verifies the token and rejects it unless it is of kind want
func (s *TokenService) VerifyKind(tokenString string, want TokenKind) (*Claims, error) {
	claims, err := s.Verify(tokenString)
	if err != nil {
		return nil, err
	}
	if claims.Kind != want {
		return nil, ErrWrongKind
	}
	return claims, nil
}
