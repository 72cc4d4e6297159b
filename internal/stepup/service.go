// Package stepup implements second-factor challenges for sensitive panel
// operations. A user who has enabled two-factor auth must present a current
// TOTP code or an unused backup code before a sensitive command runs; success
// is remembered as a short-lived session and a signed operation token.
package stepup

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"panelbot/internal/audit"
	"panelbot/internal/metrics"
	rlmodels "panelbot/internal/ratelimit/models"
	"panelbot/internal/sentinel"
	dErrors "panelbot/pkg/domain-errors"
)

// ChallengePrompt is the user-facing message attached to a challenge verdict.
const ChallengePrompt = "Two-factor authentication required. Reply with your 6-digit authenticator code or a backup code to continue."

// sensitiveOperations lists the panel operations that always demand a fresh
// second factor when the caller has two-factor auth enabled.
var sensitiveOperations = map[string]struct{}{
	"create-server":     {},
	"delete-server":     {},
	"change-plan":       {},
	"api-access":        {},
	"security-settings": {},
}

// IsSensitiveOperation reports whether the named operation demands step-up
// authentication.
func IsSensitiveOperation(operation string) bool {
	_, ok := sensitiveOperations[operation]
	return ok
}

// Status is the outcome of a step-up check for one (user, operation) pair.
type Status int

const (
	// StatusNotRequired means the operation needs no second factor for this user.
	StatusNotRequired Status = iota
	// StatusAuthenticated means a live session or valid token already covers it.
	StatusAuthenticated
	// StatusChallengeRequired means the caller must complete a challenge first.
	StatusChallengeRequired
)

// Decision is the result of Check.
type Decision struct {
	Status    Status
	Challenge string
}

// VerifyResult is returned after a successful challenge verification.
type VerifyResult struct {
	Session        Session
	Token          string
	UsedBackupCode bool
}

// Profile is the slice of a user record the authenticator reads.
type Profile struct {
	TwoFactorEnabled bool
	TwoFactorSecret  string
	BackupCodeHashes []string
	APIKeyHash       string
}

// UserDirectory is the user-store contract the authenticator depends on.
type UserDirectory interface {
	TwoFactorProfile(ctx context.Context, userID string) (Profile, error)
	SaveTwoFactorSecret(ctx context.Context, userID, secret string, backupCodeHashes []string) error
	SetTwoFactorEnabled(ctx context.Context, userID string, enabled bool) error
	ReplaceBackupCodes(ctx context.Context, userID string, hashes []string) error
	SaveAPIKeyHash(ctx context.Context, userID, hash string) error
}

// AuthThrottle is the anti-bruteforce budget consumed on failed attempts.
// *service.Limiter satisfies it.
type AuthThrottle interface {
	RecordAuthFailure(ctx context.Context, userID string) (*rlmodels.Result, error)
	AuthFailuresExhausted(ctx context.Context, userID string) (bool, error)
}

// AuditRecorder receives step-up decisions. Recording is best-effort.
type AuditRecorder interface {
	Record(ctx context.Context, event audit.Event)
}

// Authenticator drives the challenge state machine.
// Thread-safe for concurrent use by the admission pipeline.
type Authenticator struct {
	users      UserDirectory
	sessions   SessionStore
	verifier   *TOTPVerifier
	tokens     *TokenService
	throttle   AuthThrottle
	auditor    AuditRecorder
	logger     *slog.Logger
	sessionTTL time.Duration
	now        func() time.Time
}

// Option configures an Authenticator.
type Option func(*Authenticator)

// WithLogger sets the structured logger.
func WithLogger(logger *slog.Logger) Option {
	return func(a *Authenticator) {
		a.logger = logger
	}
}

// WithAuditRecorder sets the security-event recorder.
func WithAuditRecorder(rec AuditRecorder) Option {
	return func(a *Authenticator) {
		a.auditor = rec
	}
}

// WithSessionTTL overrides the default 15-minute session lifetime.
func WithSessionTTL(ttl time.Duration) Option {
	return func(a *Authenticator) {
		a.sessionTTL = ttl
	}
}

// WithClock injects a time source for tests.
func WithClock(now func() time.Time) Option {
	return func(a *Authenticator) {
		a.now = now
	}
}

// New creates an authenticator. All collaborators except the throttle and
// auditor are required.
func New(users UserDirectory, sessions SessionStore, verifier *TOTPVerifier, tokens *TokenService, throttle AuthThrottle, opts ...Option) (*Authenticator, error) {
	if users == nil || sessions == nil || verifier == nil || tokens == nil {
		return nil, errors.New("user directory, session store, verifier, and token service are required")
	}

	a := &Authenticator{
		users:      users,
		sessions:   sessions,
		verifier:   verifier,
		tokens:     tokens,
		throttle:   throttle,
		sessionTTL: DefaultSessionTTL,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a, nil
}

// Requires reports whether the operation demands a second factor for this
// user: the operation must be sensitive and the user must have two-factor
// auth enabled.
func (a *Authenticator) Requires(ctx context.Context, userID, operation string) (bool, error) {
	if !IsSensitiveOperation(operation) {
		return false, nil
	}
	profile, err := a.users.TwoFactorProfile(ctx, userID)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return false, nil
		}
		return false, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load user profile")
	}
	return profile.TwoFactorEnabled, nil
}

// Check resolves the challenge state for one command invocation. An optional
// operation token from the caller counts as proof alongside a live session.
func (a *Authenticator) Check(ctx context.Context, userID, operation, token string) (Decision, error) {
	required, err := a.Requires(ctx, userID, operation)
	if err != nil {
		return Decision{}, err
	}
	if !required {
		return Decision{Status: StatusNotRequired}, nil
	}

	if _, ok, err := a.sessions.Get(ctx, userID, operation); err != nil {
		return Decision{}, dErrors.Wrap(err, dErrors.CodeInternal, "failed to read step-up session")
	} else if ok {
		return Decision{Status: StatusAuthenticated}, nil
	}

	if token != "" {
		if _, err := a.tokens.Validate(token, userID, operation); err == nil {
			return Decision{Status: StatusAuthenticated}, nil
		}
	}

	a.record(ctx, audit.NewEvent(userID, audit.KindTwoFactorChallenge, audit.SeverityLow, map[string]any{
		"operation": operation,
	}))
	return Decision{Status: StatusChallengeRequired, Challenge: ChallengePrompt}, nil
}

// VerifyCode checks a submitted authenticator or backup code. Success creates
// a session and issues an operation token; failure consumes the anti-bruteforce
// budget. Once that budget is exhausted, attempts are rejected outright even
// when the submitted code is valid.
func (a *Authenticator) VerifyCode(ctx context.Context, userID, operation, code string) (*VerifyResult, error) {
	if a.throttle != nil {
		exhausted, err := a.throttle.AuthFailuresExhausted(ctx, userID)
		if err != nil {
			return nil, err
		}
		if exhausted {
			a.record(ctx, audit.NewEvent(userID, audit.KindFailedAuth, audit.SeverityHigh, map[string]any{
				"operation": operation,
				"reason":    "auth failure budget exhausted",
			}))
			return nil, dErrors.New(dErrors.CodeAuthFailureLimit, "too many failed attempts, try again later")
		}
	}

	profile, err := a.users.TwoFactorProfile(ctx, userID)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load user profile")
	}
	if !profile.TwoFactorEnabled || profile.TwoFactorSecret == "" {
		return nil, dErrors.New(dErrors.CodeInvalidInput, "two-factor authentication is not enabled")
	}

	now := a.now()
	usedBackup := false
	ok, err := a.verifier.VerifyCode(profile.TwoFactorSecret, code, now)
	if err != nil && !errors.Is(err, sentinel.ErrInvalidInput) {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to verify code")
	}
	if !ok {
		if remaining, redeemed := RedeemBackupCode(profile.BackupCodeHashes, code); redeemed {
			if err := a.users.ReplaceBackupCodes(ctx, userID, remaining); err != nil {
				return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to consume backup code")
			}
			ok, usedBackup = true, true
		}
	}

	if !ok {
		return nil, a.failedAttempt(ctx, userID, operation)
	}

	session := Session{
		UserID:    userID,
		Operation: operation,
		IssuedAt:  now,
		ExpiresAt: now.Add(a.sessionTTL),
	}
	if err := a.sessions.Put(ctx, session); err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to store step-up session")
	}

	token, err := a.tokens.Issue(userID, operation, now)
	if err != nil && !dErrors.HasCode(err, dErrors.CodeConfiguration) {
		return nil, err
	}

	a.record(ctx, audit.NewEvent(userID, audit.KindTwoFactorVerified, audit.SeverityLow, map[string]any{
		"operation":   operation,
		"backup_code": usedBackup,
	}))
	if a.logger != nil {
		a.logger.InfoContext(ctx, "step-up challenge verified",
			"user_id", userID,
			"operation", operation,
			"backup_code", usedBackup,
		)
	}
	return &VerifyResult{Session: session, Token: token, UsedBackupCode: usedBackup}, nil
}

// failedAttempt burns one point of the anti-bruteforce budget and reports the
// rejection to the caller.
func (a *Authenticator) failedAttempt(ctx context.Context, userID, operation string) error {
	metrics.StepUpFailures.Inc()
	severity := audit.SeverityMedium
	if a.throttle != nil {
		res, err := a.throttle.RecordAuthFailure(ctx, userID)
		if err != nil {
			return err
		}
		if !res.Allowed {
			severity = audit.SeverityHigh
		}
	}

	a.record(ctx, audit.NewEvent(userID, audit.KindFailedAuth, severity, map[string]any{
		"operation": operation,
	}))
	if severity == audit.SeverityHigh {
		return dErrors.New(dErrors.CodeAuthFailureLimit, "too many failed attempts, try again later")
	}
	return dErrors.New(dErrors.CodeInvalidInput, "invalid verification code")
}

// Enroll starts two-factor setup: it stores a fresh secret and hashed backup
// codes but does not enable enforcement. The plain codes in the returned
// enrollment are the only copy.
func (a *Authenticator) Enroll(ctx context.Context, userID, account string) (Enrollment, error) {
	enrollment, err := a.verifier.BeginEnrollment(account)
	if err != nil {
		return Enrollment{}, dErrors.Wrap(err, dErrors.CodeInternal, "failed to generate enrollment")
	}
	if err := a.users.SaveTwoFactorSecret(ctx, userID, enrollment.Secret, HashBackupCodes(enrollment.BackupCodes)); err != nil {
		return Enrollment{}, dErrors.Wrap(err, dErrors.CodeInternal, "failed to store enrollment")
	}

	a.record(ctx, audit.NewEvent(userID, audit.KindTwoFactorSetup, audit.SeverityMedium, map[string]any{
		"stage": "enrolled",
	}))
	return enrollment, nil
}

// Enable turns enforcement on after the user proves possession of the new
// secret with one current code.
func (a *Authenticator) Enable(ctx context.Context, userID, code string) error {
	profile, err := a.users.TwoFactorProfile(ctx, userID)
	if err != nil {
		return dErrors.Wrap(err, dErrors.CodeInternal, "failed to load user profile")
	}
	if profile.TwoFactorSecret == "" {
		return dErrors.New(dErrors.CodeInvalidInput, "no pending enrollment")
	}

	ok, err := a.verifier.VerifyCode(profile.TwoFactorSecret, code, a.now())
	if err != nil && !errors.Is(err, sentinel.ErrInvalidInput) {
		return dErrors.Wrap(err, dErrors.CodeInternal, "failed to verify code")
	}
	if !ok {
		return a.failedAttempt(ctx, userID, "2fa-enable")
	}

	if err := a.users.SetTwoFactorEnabled(ctx, userID, true); err != nil {
		return dErrors.Wrap(err, dErrors.CodeInternal, "failed to enable two-factor auth")
	}
	a.record(ctx, audit.NewEvent(userID, audit.KindTwoFactorSetup, audit.SeverityMedium, map[string]any{
		"stage": "enabled",
	}))
	return nil
}

// IssueAPIKey mints a fresh panel API key, stores its hash, and returns the
// plain key. The returned value is the only copy; re-issuing replaces the
// previous key.
func (a *Authenticator) IssueAPIKey(ctx context.Context, userID string) (string, error) {
	key, err := GenerateAPIKey()
	if err != nil {
		return "", dErrors.Wrap(err, dErrors.CodeInternal, "failed to generate api key")
	}
	hash, err := HashAPIKey(key)
	if err != nil {
		return "", dErrors.Wrap(err, dErrors.CodeInternal, "failed to hash api key")
	}
	if err := a.users.SaveAPIKeyHash(ctx, userID, hash); err != nil {
		return "", dErrors.Wrap(err, dErrors.CodeInternal, "failed to store api key")
	}

	a.record(ctx, audit.NewEvent(userID, audit.KindAPIAccess, audit.SeverityMedium, map[string]any{
		"action": "key_issued",
	}))
	return key, nil
}

// CheckAPIKey verifies a presented panel API key against the stored hash. A
// mismatch counts as a failed authentication attempt.
func (a *Authenticator) CheckAPIKey(ctx context.Context, userID, key string) (bool, error) {
	profile, err := a.users.TwoFactorProfile(ctx, userID)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return false, nil
		}
		return false, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load user profile")
	}
	if profile.APIKeyHash == "" || !VerifyAPIKey(profile.APIKeyHash, key) {
		a.record(ctx, audit.NewEvent(userID, audit.KindAPIAccess, audit.SeverityHigh, map[string]any{
			"action": "key_rejected",
		}))
		return false, nil
	}

	a.record(ctx, audit.NewEvent(userID, audit.KindAPIAccess, audit.SeverityLow, map[string]any{
		"action": "key_accepted",
	}))
	return true, nil
}

// ResetSessions destroys all of a user's live step-up sessions, forcing fresh
// challenges on the next sensitive operation.
func (a *Authenticator) ResetSessions(ctx context.Context, userID string) error {
	if err := a.sessions.Reset(ctx, userID); err != nil {
		return dErrors.Wrap(err, dErrors.CodeInternal, "failed to reset step-up sessions")
	}
	return nil
}

func (a *Authenticator) record(ctx context.Context, event audit.Event) {
	if a.auditor != nil {
		a.auditor.Record(ctx, event)
	}
}
