package stepup

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"panelbot/internal/sentinel"
	dErrors "panelbot/pkg/domain-errors"
)

// DefaultTokenTTL bounds how long an operation token remains valid after a
// completed challenge.
const DefaultTokenTTL = 15 * time.Minute

// OperationTokenClaims binds a completed challenge to one user and operation.
// A token for delete-server cannot authorize change-plan.
type OperationTokenClaims struct {
	UserID    string `json:"userId"`
	Operation string `json:"operation"`
	jwt.RegisteredClaims
}

// TokenService issues and validates signed operation tokens. It is fail-closed:
// with no signing key configured, every issue and every validation fails.
type TokenService struct {
	signingKey []byte
	tokenTTL   time.Duration
}

// NewTokenService builds a token service from the shared signing secret. An
// empty secret is accepted at construction so callers can wire the service
// unconditionally; operations will refuse to run until a key is present.
func NewTokenService(signingKey string, tokenTTL time.Duration) *TokenService {
	if tokenTTL <= 0 {
		tokenTTL = DefaultTokenTTL
	}
	return &TokenService{
		signingKey: []byte(signingKey),
		tokenTTL:   tokenTTL,
	}
}

// Issue signs a token proving that userID completed a challenge for operation.
func (s *TokenService) Issue(userID, operation string, now time.Time) (string, error) {
	if len(s.signingKey) == 0 {
		return "", dErrors.New(dErrors.CodeConfiguration, "token signing key is not configured")
	}
	if userID == "" || operation == "" {
		return "", dErrors.New(dErrors.CodeInvalidInput, "user id and operation are required")
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, OperationTokenClaims{
		UserID:    userID,
		Operation: operation,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(now.Add(s.tokenTTL)),
			IssuedAt:  jwt.NewNumericDate(now),
			ID:        uuid.NewString(),
		},
	})

	signed, err := token.SignedString(s.signingKey)
	if err != nil {
		return "", dErrors.Wrap(err, dErrors.CodeInternal, "sign operation token")
	}
	return signed, nil
}

// Validate checks signature, expiry, and the user/operation binding. The
// general-auth operation satisfies any requested operation.
func (s *TokenService) Validate(tokenString, userID, operation string) (*OperationTokenClaims, error) {
	if len(s.signingKey) == 0 {
		return nil, dErrors.New(dErrors.CodeConfiguration, "token signing key is not configured")
	}
	if tokenString == "" {
		return nil, dErrors.New(dErrors.CodeInvalidInput, "empty token")
	}

	parsed, err := jwt.ParseWithClaims(tokenString, &OperationTokenClaims{}, func(token *jwt.Token) (any, error) {
		if token.Method.Alg() != jwt.SigningMethodHS256.Alg() {
			return nil, jwt.ErrTokenUnverifiable
		}
		return s.signingKey, nil
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, dErrors.Wrap(sentinel.ErrExpired, dErrors.CodeInvalidInput, "token expired")
		}
		return nil, dErrors.New(dErrors.CodeInvalidInput, "invalid token")
	}
	if !parsed.Valid {
		return nil, dErrors.New(dErrors.CodeInvalidInput, "invalid token")
	}

	claims, ok := parsed.Claims.(*OperationTokenClaims)
	if !ok {
		return nil, dErrors.New(dErrors.CodeInvalidInput, "invalid token claims")
	}
	if claims.UserID != userID {
		return nil, dErrors.New(dErrors.CodeInvalidInput, "token issued for a different user")
	}
	if claims.Operation != operation && claims.Operation != OperationGeneralAuth {
		return nil, dErrors.New(dErrors.CodeInvalidInput, "token issued for a different operation")
	}
	return claims, nil
}

// TTL reports the configured token lifetime.
func (s *TokenService) TTL() time.Duration {
	return s.tokenTTL
}
