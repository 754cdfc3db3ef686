package auth

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"

	"github.com/google/uuid"
	"github.com/thatmoment/server/internal/model"
)

// keyedHash returns hex HMAC-SHA256 of parts joined by NUL
func keyedHash(key []byte, parts ...string) string {
	mac := hmac.New(sha256.New, key)
	for i, p := range parts {
		if i > 0 {
			mac.Write([]byte{0})
		}
		mac.Write([]byte(p))
	}
	return hex.EncodeToString(mac.Sum(nil))
}

// hashCode binds a one-time code to its user and purpose
func hashCode(key []byte, userID uuid.UUID, purpose model.CodePurpose, code string) string {
	return keyedHash(key, userID.String(), string(purpose), code)
}

// hashRefreshToken is the stored fingerprint of a raw refresh token
func hashRefreshToken(key []byte, raw string) string {
	return keyedHash(key, raw)
}

func constantTimeEqual(a, b string) bool {
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}
