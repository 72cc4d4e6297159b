package gate

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"panelbot/internal/audit"
	"panelbot/internal/privilege"
	rlservice "panelbot/internal/ratelimit/service"
	"panelbot/internal/ratelimit/store/bucket"
	"panelbot/internal/stepup"
	"panelbot/internal/user"
)

type fakeRoles struct {
	roles       map[string]bool // guild:user:role
	permissions map[string]bool // guild:user:permission
}

func (f *fakeRoles) HasRole(_ context.Context, guildID, userID, roleID string) (bool, error) {
	return f.roles[guildID+":"+userID+":"+roleID], nil
}

func (f *fakeRoles) HasPermission(_ context.Context, guildID, userID, permission string) (bool, error) {
	return f.permissions[guildID+":"+userID+":"+permission], nil
}

type capturingDebugSink struct {
	mu   sync.Mutex
	errs []error
}

func (s *capturingDebugSink) ForwardError(_ context.Context, _, _ string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.errs = append(s.errs, err)
}

func (s *capturingDebugSink) last() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.errs) == 0 {
		return nil
	}
	return s.errs[len(s.errs)-1]
}

type gateFixture struct {
	gate     *Gate
	roles    *fakeRoles
	users    *user.InMemoryStore
	auth     *stepup.Authenticator
	verifier *stepup.TOTPVerifier
	events   *audit.InMemoryStore
	debug    *capturingDebugSink
}

func newGateFixture(t *testing.T) *gateFixture {
	t.Helper()

	store := bucket.NewInMemoryStore()
	limiter, err := rlservice.New(store)
	require.NoError(t, err)

	roles := &fakeRoles{
		roles:       make(map[string]bool),
		permissions: make(map[string]bool),
	}
	evaluator, err := privilege.New(roles, privilege.WithPremiumRole("premium-role"))
	require.NoError(t, err)

	users := user.NewInMemoryStore()
	verifier := stepup.NewTOTPVerifier("PanelBot", 2)
	tokens := stepup.NewTokenService("test-signing-key", 15*time.Minute)
	auth, err := stepup.New(user.NewDirectory(users), stepup.NewInMemorySessionStore(), verifier, tokens, limiter)
	require.NoError(t, err)

	events := audit.NewInMemoryStore()
	auditor, err := audit.NewAuditor(events)
	require.NoError(t, err)

	debug := &capturingDebugSink{}
	g, err := New(limiter, evaluator, auth,
		WithAuditor(auditor),
		WithDebugSink(debug),
	)
	require.NoError(t, err)

	return &gateFixture{gate: g, roles: roles, users: users, auth: auth, verifier: verifier, events: events, debug: debug}
}

// enableTwoFactor enrolls and enables 2FA for a user, returning the secret.
func (f *gateFixture) enableTwoFactor(t *testing.T, userID string) string {
	t.Helper()
	ctx := context.Background()

	enrollment, err := f.auth.Enroll(ctx, userID, userID+"@panel")
	require.NoError(t, err)
	code, err := f.verifier.CodeAt(enrollment.Secret, time.Now())
	require.NoError(t, err)
	require.NoError(t, f.auth.Enable(ctx, userID, code))
	return enrollment.Secret
}

func noopBody(context.Context) error { return nil }

func TestAllowOrdinaryCommand(t *testing.T) {
	f := newGateFixture(t)
	req := Request{
		Command: Command{Name: "server-status", Category: CategoryHosting},
		UserID:  "u1",
		GuildID: "g1",
	}

	var ran bool
	verdict := f.gate.Run(context.Background(), req, func(context.Context) error {
		ran = true
		return nil
	})
	assert.True(t, verdict.Allowed)
	assert.Equal(t, ReasonOk, verdict.Reason)
	assert.True(t, ran)
}

func TestFreeTierRateLimitedOnEleventhCommand(t *testing.T) {
	f := newGateFixture(t)
	req := Request{
		Command: Command{Name: "server-status", Category: CategoryHosting},
		UserID:  "u1",
		GuildID: "g1",
	}

	ctx := context.Background()
	for i := 0; i < 10; i++ {
		verdict := f.gate.Run(ctx, req, noopBody)
		require.True(t, verdict.Allowed, "command %d should pass", i+1)
	}

	verdict := f.gate.Run(ctx, req, noopBody)
	assert.False(t, verdict.Allowed)
	assert.Equal(t, ReasonRateLimited, verdict.Reason)
	assert.Greater(t, verdict.RetryAfterSeconds, 0)
	assert.Equal(t, "Rate limit exceeded. Please try again later.", verdict.Message)
}

func TestPremiumTierGetsHigherAllowance(t *testing.T) {
	f := newGateFixture(t)
	f.roles.roles["g1:u1:premium-role"] = true
	req := Request{
		Command: Command{Name: "server-status", Category: CategoryHosting},
		UserID:  "u1",
		GuildID: "g1",
	}

	ctx := context.Background()
	for i := 0; i < 25; i++ {
		verdict := f.gate.Run(ctx, req, noopBody)
		require.True(t, verdict.Allowed, "command %d should pass", i+1)
	}
	verdict := f.gate.Run(ctx, req, noopBody)
	assert.Equal(t, ReasonRateLimited, verdict.Reason)
}

func TestAdminOnlyDeniedInDM(t *testing.T) {
	f := newGateFixture(t)
	// Global permission state is irrelevant in DMs.
	f.roles.permissions["g1:u1:"+privilege.PermissionAdministrator] = true

	verdict := f.gate.Run(context.Background(), Request{
		Command: Command{Name: "ping-all-nodes", Category: CategoryAdmin, AdminOnly: true},
		UserID:  "u1",
	}, noopBody)
	assert.False(t, verdict.Allowed)
	assert.Equal(t, ReasonPermissionDenied, verdict.Reason)
	assert.Equal(t, NoticePermissionDenied, verdict.Message)
}

func TestAdminOnlyDeniedWithoutPermission(t *testing.T) {
	f := newGateFixture(t)

	verdict := f.gate.Run(context.Background(), Request{
		Command: Command{Name: "ping-all-nodes", Category: CategoryAdmin, AdminOnly: true},
		UserID:  "u1",
		GuildID: "g1",
	}, noopBody)
	assert.Equal(t, ReasonPermissionDenied, verdict.Reason)

	f.roles.permissions["g1:u1:"+privilege.PermissionAdministrator] = true
	verdict = f.gate.Run(context.Background(), Request{
		Command: Command{Name: "ping-all-nodes", Category: CategoryAdmin, AdminOnly: true},
		UserID:  "u1",
		GuildID: "g1",
	}, noopBody)
	assert.True(t, verdict.Allowed)
}

func TestTwoFactorChallengeFlow(t *testing.T) {
	f := newGateFixture(t)
	secret := f.enableTwoFactor(t, "u1")
	ctx := context.Background()

	req := Request{
		Command: Command{Name: "delete-server", Category: CategoryHosting},
		UserID:  "u1",
		GuildID: "g1",
	}

	// No prior session: the gate issues a challenge and the body must not run.
	var ran bool
	verdict := f.gate.Run(ctx, req, func(context.Context) error {
		ran = true
		return nil
	})
	assert.False(t, verdict.Allowed)
	assert.Equal(t, ReasonTwoFactorRequired, verdict.Reason)
	assert.NotEmpty(t, verdict.Challenge)
	assert.False(t, ran)

	// Complete the challenge with the current code.
	code, err := f.verifier.CodeAt(secret, time.Now())
	require.NoError(t, err)
	_, err = f.auth.VerifyCode(ctx, "u1", "delete-server", code)
	require.NoError(t, err)

	// A re-invocation within the session lifetime passes without a challenge.
	verdict = f.gate.Run(ctx, req, noopBody)
	assert.True(t, verdict.Allowed)
}

func TestSensitiveCategoryExecutionIsAudited(t *testing.T) {
	f := newGateFixture(t)
	f.roles.permissions["g1:u1:"+privilege.PermissionAdministrator] = true
	ctx := context.Background()

	verdict := f.gate.Run(ctx, Request{
		Command: Command{Name: "security-settings", Category: CategorySecurity, AdminOnly: true},
		UserID:  "u1",
		GuildID: "g1",
	}, noopBody)
	require.True(t, verdict.Allowed)

	events, err := f.events.ListByUser(ctx, "u1", time.Time{})
	require.NoError(t, err)
	var found bool
	for _, e := range events {
		if e.Kind == audit.KindCommandExecution {
			found = true
			assert.Equal(t, "security-settings", e.Metadata["command"])
		}
	}
	assert.True(t, found, "sensitive execution must be audited")
}

func TestCriticalOperationBudget(t *testing.T) {
	f := newGateFixture(t)
	req := Request{
		Command: Command{Name: "create-server", Category: CategoryHosting, Critical: true},
		UserID:  "u1",
		GuildID: "g1",
	}

	ctx := context.Background()
	for i := 0; i < 3; i++ {
		verdict := f.gate.Run(ctx, req, noopBody)
		require.True(t, verdict.Allowed, "critical operation %d should pass", i+1)
	}
	verdict := f.gate.Run(ctx, req, noopBody)
	assert.Equal(t, ReasonRateLimited, verdict.Reason)
	assert.Greater(t, verdict.RetryAfterSeconds, 0)
}

func TestChallengeDoesNotConsumeCriticalBudget(t *testing.T) {
	f := newGateFixture(t)
	secret := f.enableTwoFactor(t, "u1")
	ctx := context.Background()
	req := Request{
		Command: Command{Name: "delete-server", Category: CategoryHosting, Critical: true},
		UserID:  "u1",
		GuildID: "g1",
	}

	// Unanswered challenges must leave the hourly budget untouched.
	for i := 0; i < 3; i++ {
		verdict := f.gate.Run(ctx, req, noopBody)
		require.Equal(t, ReasonTwoFactorRequired, verdict.Reason, "challenge %d", i+1)
	}

	code, err := f.verifier.CodeAt(secret, time.Now())
	require.NoError(t, err)
	_, err = f.auth.VerifyCode(ctx, "u1", "delete-server", code)
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		verdict := f.gate.Run(ctx, req, noopBody)
		require.True(t, verdict.Allowed, "critical operation %d should pass", i+1)
	}
	verdict := f.gate.Run(ctx, req, noopBody)
	assert.Equal(t, ReasonRateLimited, verdict.Reason)
}

func TestPermissionDenialAuditedAndBudgetUntouched(t *testing.T) {
	f := newGateFixture(t)
	ctx := context.Background()
	req := Request{
		Command: Command{Name: "purge-node", Category: CategoryAdmin, AdminOnly: true, Critical: true},
		UserID:  "u1",
		GuildID: "g1",
	}

	for i := 0; i < 3; i++ {
		verdict := f.gate.Run(ctx, req, noopBody)
		require.Equal(t, ReasonPermissionDenied, verdict.Reason)
	}

	events, err := f.events.ListByUser(ctx, "u1", time.Time{})
	require.NoError(t, err)
	var denials int
	for _, e := range events {
		if e.Kind == audit.KindPermissionDenied {
			denials++
			assert.Equal(t, "purge-node", e.Metadata["command"])
		}
	}
	assert.Equal(t, 3, denials, "every permission denial must be recorded")

	// Once granted, the full critical budget is intact.
	f.roles.permissions["g1:u1:"+privilege.PermissionAdministrator] = true
	for i := 0; i < 3; i++ {
		verdict := f.gate.Run(ctx, req, noopBody)
		require.True(t, verdict.Allowed, "critical operation %d should pass", i+1)
	}
	verdict := f.gate.Run(ctx, req, noopBody)
	assert.Equal(t, ReasonRateLimited, verdict.Reason)
}

func TestPanicContained(t *testing.T) {
	f := newGateFixture(t)

	verdict := f.gate.Run(context.Background(), Request{
		Command: Command{Name: "server-status", Category: CategoryHosting},
		UserID:  "u1",
		GuildID: "g1",
	}, func(context.Context) error {
		panic("boom")
	})
	assert.False(t, verdict.Allowed)
	assert.Equal(t, ReasonError, verdict.Reason)
	assert.Equal(t, NoticeCommandFailed, verdict.Message)

	require.Error(t, f.debug.last())
	assert.Contains(t, f.debug.last().Error(), "boom")
}

func TestBodyErrorForwardedToDebugSink(t *testing.T) {
	f := newGateFixture(t)
	failure := errors.New("panel api returned 502")

	verdict := f.gate.Run(context.Background(), Request{
		Command: Command{Name: "reboot-server", Category: CategoryHosting},
		UserID:  "u1",
		GuildID: "g1",
	}, func(context.Context) error {
		return failure
	})
	assert.Equal(t, ReasonError, verdict.Reason)
	assert.ErrorIs(t, f.debug.last(), failure)
}
