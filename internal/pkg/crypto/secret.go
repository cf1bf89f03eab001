package crypto

import (
	"crypto/subtle"
	"errors"
	"strings"

	"golang.org/x/crypto/bcrypt"
)

// ErrSecretTooShort indicates a secret below MinSecretLength.
var ErrSecretTooShort = errors.New("secret must be at least 16 characters")

// MinSecretLength is the shortest secret HashSecret accepts.
const MinSecretLength = 16

// HashSecret hashes a plaintext secret with bcrypt for storage in configuration.
func HashSecret(secret string) (string, error) {
	if len(secret) < MinSecretLength {
		return "", ErrSecretTooShort
	}
	hashed, err := bcrypt.GenerateFromPassword([]byte(secret), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(hashed), nil
}

// VerifySecretHash verifies a candidate against a bcrypt hash.
func VerifySecretHash(hash, candidate string) bool {
	if strings.TrimSpace(hash) == "" {
		return false
	}
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(candidate)) == nil
}

// EqualSecrets compares two plaintext secrets in constant time.
func EqualSecrets(expected, candidate string) bool {
	if expected == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(expected), []byte(candidate)) == 1
}
