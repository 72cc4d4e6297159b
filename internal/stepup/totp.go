package stepup

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha1"
	"crypto/subtle"
	"encoding/base32"
	"encoding/binary"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"panelbot/internal/sentinel"
)

const (
	totpSecretBytes = 20
	totpDigits      = 6
	totpPeriod      = 30 // seconds per time step
)

var base32NoPadding = base32.StdEncoding.WithPadding(base32.NoPadding)

// TOTPVerifier generates and verifies RFC 6238 time-based one-time codes.
// Codes are 6 digits over 30-second steps; verification tolerates a
// configurable number of steps of clock drift in either direction.
type TOTPVerifier struct {
	issuer string
	skew   int
}

// NewTOTPVerifier creates a verifier for the given provisioning issuer.
// skew is the allowed drift in time steps; the gate uses 2 (±60 seconds).
func NewTOTPVerifier(issuer string, skew int) *TOTPVerifier {
	if skew < 0 {
		skew = 0
	}
	return &TOTPVerifier{issuer: issuer, skew: skew}
}

// GenerateSecret produces a new random shared secret, base32 encoded without
// padding as authenticator apps expect.
func (v *TOTPVerifier) GenerateSecret() (string, error) {
	raw := make([]byte, totpSecretBytes)
	if _, err := rand.Read(raw); err != nil {
		return "", err
	}
	return base32NoPadding.EncodeToString(raw), nil
}

// ProvisionURI renders the otpauth:// URI that enrollment surfaces as a
// scannable QR code.
func (v *TOTPVerifier) ProvisionURI(secretBase32, account string) string {
	label := url.PathEscape(v.issuer + ":" + account)

	q := url.Values{}
	q.Set("secret", secretBase32)
	q.Set("issuer", v.issuer)
	q.Set("period", strconv.Itoa(totpPeriod))
	q.Set("digits", strconv.Itoa(totpDigits))
	q.Set("algorithm", "SHA1")

	return "otpauth://totp/" + label + "?" + q.Encode()
}

// VerifyCode checks a submitted code against the stored secret at the given
// time, trying each step within the configured skew. Comparison is constant
// time per candidate step.
func (v *TOTPVerifier) VerifyCode(secretBase32, code string, now time.Time) (bool, error) {
	trimmed := strings.TrimSpace(code)
	if len(trimmed) != totpDigits || !isDigits(trimmed) {
		return false, nil
	}

	secret, err := base32NoPadding.DecodeString(strings.ToUpper(secretBase32))
	if err != nil || len(secret) == 0 {
		return false, sentinel.ErrInvalidInput
	}

	baseCounter := now.Unix() / totpPeriod
	for step := -v.skew; step <= v.skew; step++ {
		counter := baseCounter + int64(step)
		if counter < 0 {
			continue
		}
		candidate := hotpCode(secret, counter)
		if subtle.ConstantTimeCompare([]byte(candidate), []byte(trimmed)) == 1 {
			return true, nil
		}
	}

	return false, nil
}

// CodeAt returns the valid code for a secret at the given time. Used by
// tests and by the enrollment self-check flow.
func (v *TOTPVerifier) CodeAt(secretBase32 string, now time.Time) (string, error) {
	secret, err := base32NoPadding.DecodeString(strings.ToUpper(secretBase32))
	if err != nil || len(secret) == 0 {
		return "", sentinel.ErrInvalidInput
	}
	return hotpCode(secret, now.Unix()/totpPeriod), nil
}

// hotpCode computes the RFC 4226 HOTP value for one counter using HMAC-SHA1
// and dynamic truncation.
func hotpCode(secret []byte, counter int64) string {
	var msg [8]byte
	binary.BigEndian.PutUint64(msg[:], uint64(counter))

	mac := hmac.New(sha1.New, secret)
	_, _ = mac.Write(msg[:])
	sum := mac.Sum(nil)

	offset := sum[len(sum)-1] & 0x0f
	bin := (int(sum[offset])&0x7f)<<24 |
		(int(sum[offset+1])&0xff)<<16 |
		(int(sum[offset+2])&0xff)<<8 |
		(int(sum[offset+3]) & 0xff)

	return fmt.Sprintf("%06d", bin%1000000)
}

func isDigits(s string) bool {
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
