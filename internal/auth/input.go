package auth

import (
	"net/mail"
	"strings"
)

const maxEmailLen = 254

// NormalizeEmail trims and lower-cases a bare address. Display names and
// anything net/mail rejects fail with ErrValidation.
func NormalizeEmail(email string) (string, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" || len(email) > maxEmailLen {
		return "", ErrValidation.WithMessage("A valid email is required")
	}
	addr, err := mail.ParseAddress(email)
	if err != nil || addr.Address != email {
		return "", ErrValidation.WithMessage("A valid email is required")
	}
	return email, nil
}

// CheckCodeFormat requires exactly six ASCII digits
func CheckCodeFormat(code string) error {
	if len(code) != codeLength {
		return ErrValidation.WithMessage("Code must be 6 digits")
	}
	for i := 0; i < len(code); i++ {
		if code[i] < '0' || code[i] > '9' {
			return ErrValidation.WithMessage("Code must be 6 digits")
		}
	}
	return nil
}
