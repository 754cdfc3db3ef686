package auth

import (
	"errors"
	"fmt"

	"github.com/thatmoment/server/internal/apperr"
)

// Errors returned by the auth flows. Compare with errors.Is; messages may be
// replaced by WithMessage while the code stays stable.
var (
	ErrValidation         = apperr.BadRequest("VALIDATION_ERROR", "Invalid request")
	ErrEmailTaken         = apperr.Conflict("EMAIL_ALREADY_REGISTERED", "Email already registered")
	ErrUserNotFound       = apperr.NotFound("USER_NOT_FOUND", "User not found")
	ErrAlreadyVerified    = apperr.BadRequest("EMAIL_ALREADY_VERIFIED", "Email already verified")
	ErrEmailNotVerified   = apperr.BadRequest("EMAIL_NOT_VERIFIED", "Email not verified. Please verify your email first.")
	ErrAccountSuspended   = apperr.Forbidden("ACCOUNT_SUSPENDED", "Account is suspended")
	ErrAccountLocked      = apperr.Forbidden("ACCOUNT_LOCKED", "Account is temporarily locked. Please try again later.")
	ErrInvalidCode        = apperr.BadRequest("INVALID_CODE", "Invalid code")
	ErrCodeExhausted      = apperr.BadRequest("CODE_EXHAUSTED", "Too many failed attempts. Please request a new code.")
	ErrNoActiveCode       = apperr.BadRequest("NO_ACTIVE_CODE", "No active verification code. Please request a new one.")
	ErrInvalidRefresh     = apperr.Unauthorized("INVALID_REFRESH_TOKEN", "Invalid refresh token")
	ErrRefreshExpired     = apperr.Unauthorized("REFRESH_TOKEN_EXPIRED", "Refresh token expired")
	ErrRefreshReused      = apperr.Unauthorized("TOKEN_REUSE_DETECTED", "Token reuse detected. All sessions revoked.")
	ErrInvalidTokenType   = apperr.Unauthorized("INVALID_TOKEN_TYPE", "Invalid token type")
	ErrSessionInvalid     = apperr.Unauthorized("SESSION_INVALID", "Session not found or expired")
	ErrSessionNotFound    = apperr.NotFound("SESSION_NOT_FOUND", "Session not found")
	ErrAccessTokenExpired = apperr.Unauthorized("TOKEN_EXPIRED", "Access token has expired. Please refresh your token.")
	ErrInvalidAccessToken = apperr.Unauthorized("INVALID_TOKEN", "Invalid access token.")
	ErrAuthRequired       = apperr.Unauthorized("AUTH_REQUIRED", "Authentication required")
)

var errNoActiveLoginCode = ErrNoActiveCode.WithMessage("No active login code. Please request a new one.")

func invalidCode(remaining int) error {
	return ErrInvalidCode.WithMessage(fmt.Sprintf("Invalid code. %d attempts remaining.", remaining))
}

// apperrCode returns the stable code of the first application error in err's chain
func apperrCode(err error) string {
	var appErr *apperr.Error
	if errors.As(err, &appErr) {
		return appErr.Code
	}
	return ""
}
