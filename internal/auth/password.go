package auth

import (
	"errors"

	"golang.org/x/crypto/bcrypt"
)

// ErrPasswordMismatch is returned when an operator password does not match
// the configured hash.
var ErrPasswordMismatch = errors.New("password mismatch")

// HashPassword produces the bcrypt hash stored in AUTH_OPERATOR_PASSWORD_HASH.
// A cost below bcrypt.MinCost falls back to bcrypt.DefaultCost.
func HashPassword(password string, cost int) (string, error) {
	if password == "" {
		return "", errors.New("operator password is empty")
	}
	if cost < bcrypt.MinCost {
		cost = bcrypt.DefaultCost
	}
	hashed, err := bcrypt.GenerateFromPassword([]byte(password), cost)
	if err != nil {
		return "", err
	}
	return string(hashed), nil
}

// ComparePassword checks an operator login attempt. Any bcrypt failure,
// including a malformed hash, is reported as ErrPasswordMismatch.
func ComparePassword(hashed, plain string) error {
	if hashed == "" {
		return ErrPasswordMismatch
	}
	if err := bcrypt.CompareHashAndPassword([]byte(hashed), []byte(plain)); err != nil {
		return ErrPasswordMismatch
	}
	return nil
}
