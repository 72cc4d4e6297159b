package stepup

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"

	"golang.org/x/crypto/bcrypt"

	dErrors "panelbot/pkg/domain-errors"
)

// apiKeyCost is fixed rather than configurable so every stored hash carries
// the same work factor.
const apiKeyCost = 12

// GenerateAPIKey returns a fresh random panel API key.
func GenerateAPIKey() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate api key: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}

// HashAPIKey derives the storable bcrypt hash of an API key.
func HashAPIKey(key string) (string, error) {
	if key == "" {
		return "", dErrors.New(dErrors.CodeInvalidInput, "api key is empty")
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(key), apiKeyCost)
	if err != nil {
		return "", dErrors.Wrap(err, dErrors.CodeInternal, "hash api key")
	}
	return string(hash), nil
}

// VerifyAPIKey reports whether key matches the stored hash.
func VerifyAPIKey(hash, key string) bool {
	if hash == "" || key == "" {
		return false
	}
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(key)) == nil
}
