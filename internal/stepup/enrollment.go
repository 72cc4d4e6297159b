package stepup

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
)

const (
	backupCodeCount  = 10
	backupCodeLength = 8
)

// Enrollment is the material handed to a user starting two-factor setup. The
// plain backup codes are shown exactly once; only their hashes are stored.
type Enrollment struct {
	Secret      string
	URI         string
	BackupCodes []string
}

// BeginEnrollment produces a fresh secret, its provisioning URI, and a new set
// of backup codes. Starting a new enrollment invalidates any prior one once
// the caller persists the returned material.
func (v *TOTPVerifier) BeginEnrollment(account string) (Enrollment, error) {
	secret, err := v.GenerateSecret()
	if err != nil {
		return Enrollment{}, err
	}
	codes, err := GenerateBackupCodes()
	if err != nil {
		return Enrollment{}, err
	}
	return Enrollment{
		Secret:      secret,
		URI:         v.ProvisionURI(secret, account),
		BackupCodes: codes,
	}, nil
}

// GenerateBackupCodes returns ten single-use recovery codes, eight uppercase
// hex characters each.
func GenerateBackupCodes() ([]string, error) {
	codes := make([]string, 0, backupCodeCount)
	for i := 0; i < backupCodeCount; i++ {
		buf := make([]byte, backupCodeLength/2)
		if _, err := rand.Read(buf); err != nil {
			return nil, fmt.Errorf("generate backup code: %w", err)
		}
		codes = append(codes, strings.ToUpper(hex.EncodeToString(buf)))
	}
	return codes, nil
}

// HashBackupCode derives the storable form of a backup code. Codes are
// compared by hash so a leaked user record does not leak usable codes.
func HashBackupCode(code string) string {
	sum := sha256.Sum256([]byte(normalizeBackupCode(code)))
	return hex.EncodeToString(sum[:])
}

// HashBackupCodes hashes a full code set for storage.
func HashBackupCodes(codes []string) []string {
	hashed := make([]string, len(codes))
	for i, c := range codes {
		hashed[i] = HashBackupCode(c)
	}
	return hashed
}

// RedeemBackupCode checks a submitted code against the stored hashes. On a
// match it returns the remaining hashes with the matched one removed, so each
// code is accepted at most once.
func RedeemBackupCode(hashes []string, code string) (remaining []string, ok bool) {
	target := HashBackupCode(code)
	for i, h := range hashes {
		if hmac.Equal([]byte(h), []byte(target)) {
			remaining = make([]string, 0, len(hashes)-1)
			remaining = append(remaining, hashes[:i]...)
			remaining = append(remaining, hashes[i+1:]...)
			return remaining, true
		}
	}
	return hashes, false
}

func normalizeBackupCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}
