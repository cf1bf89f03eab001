// Package crypto provides secret generation and hashing for the bearer token.
package crypto

import (
	"crypto/rand"
	"fmt"
)

// SecretLength is the length of generated bearer secrets.
const SecretLength = 48

// secretChars is URL- and header-safe so generated secrets need no quoting.
const secretChars = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789-_"

// GenerateSecret generates a random bearer secret of SecretLength characters.
func GenerateSecret() (string, error) {
	return generateRandomString(SecretLength, secretChars)
}

// generateRandomString generates a random string of the specified length
// using characters from the provided character set. The set must have 64
// characters or fewer, and a power-of-two size to avoid modulo bias.
func generateRandomString(length int, charset string) (string, error) {
	result := make([]byte, length)
	charsetLen := len(charset)

	randomBytes := make([]byte, length)
	if _, err := rand.Read(randomBytes); err != nil {
		return "", fmt.Errorf("failed to generate random bytes: %w", err)
	}

	for i := 0; i < length; i++ {
		result[i] = charset[int(randomBytes[i])%charsetLen]
	}

	return string(result), nil
}
