package identity

import (
	"errors"

	"golang.org/x/crypto/bcrypt"
)

// ErrSecretMismatch is returned by CheckSecret when the secret is wrong.
var ErrSecretMismatch = errors.New("admin secret mismatch")

// HashSecret returns the bcrypt hash stored in ledger.admin_secret_hash.
func HashSecret(secret string) (string, error) {
	if secret == "" {
		return "", errors.New("secret must not be empty")
	}
	h, err := bcrypt.GenerateFromPassword([]byte(secret), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(h), nil
}

// CheckSecret compares secret with a bcrypt hash.
func CheckSecret(hash, secret string) error {
	if hash == "" || secret == "" {
		return ErrSecretMismatch
	}
	if err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(secret)); err != nil {
		return ErrSecretMismatch
	}
	return nil
}
