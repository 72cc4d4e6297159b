// Package service implements the rate limiter evaluated on every inbound
// command. Scopes run in order global, guild, then the caller's tier bucket;
// the first scope that rejects wins and later scopes are not consumed. The
// critical-operation and auth-failure scopes are consumed explicitly by the
// callers that need them rather than on every command.
package service

import (
	"context"
	"errors"
	"log/slog"
	"math"
	"time"

	"panelbot/internal/audit"
	"panelbot/internal/ratelimit/config"
	"panelbot/internal/ratelimit/models"
	"panelbot/internal/ratelimit/store/bucket"
	dErrors "panelbot/pkg/domain-errors"
)

// deniedReason is the user-facing reason attached to every rejection.
const deniedReason = "Rate limit exceeded. Please try again later."

// CounterStore is the point-bucket store contract the limiter consumes from.
type CounterStore interface {
	Consume(ctx context.Context, key string, points, capacity int, window time.Duration) (bucket.State, error)
	Peek(ctx context.Context, key string, capacity int) (bucket.State, error)
	Delete(ctx context.Context, key string) error
}

// AuditRecorder receives denial events. Recording is best-effort and must not
// fail the gate decision.
type AuditRecorder interface {
	Record(ctx context.Context, event audit.Event)
}

// Limiter evaluates the scoped buckets for inbound commands.
// Thread-safe for concurrent use by the admission pipeline.
type Limiter struct {
	store   CounterStore
	config  *config.Config
	logger  *slog.Logger
	auditor AuditRecorder
}

// Option configures a Limiter instance.
type Option func(*Limiter)

// WithLogger sets the structured logger for denial logging.
func WithLogger(logger *slog.Logger) Option {
	return func(l *Limiter) {
		l.logger = logger
	}
}

// WithConfig overrides the default scope budgets.
func WithConfig(cfg *config.Config) Option {
	return func(l *Limiter) {
		l.config = cfg
	}
}

// WithAuditRecorder sets the security-event recorder for denials.
func WithAuditRecorder(rec AuditRecorder) Option {
	return func(l *Limiter) {
		l.auditor = rec
	}
}

// New creates a rate limiter backed by the given counter store.
func New(store CounterStore, opts ...Option) (*Limiter, error) {
	if store == nil {
		return nil, errors.New("counter store is required")
	}

	l := &Limiter{
		store:  store,
		config: config.Default(),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l, nil
}

// CheckCommand evaluates the global, guild, and tier scopes for one command.
// It returns the first scope that rejects; a full pass reports the tier
// bucket's remaining allowance.
func (l *Limiter) CheckCommand(ctx context.Context, identity models.Identity) (*models.Result, error) {
	res, err := l.consume(ctx, models.ScopeGlobal, "", l.config.Global)
	if err != nil || !res.Allowed {
		return l.denied(ctx, res, identity, err)
	}

	if identity.InGuild() {
		res, err = l.consume(ctx, models.ScopeGuild, identity.GuildID, l.config.Guild)
		if err != nil || !res.Allowed {
			return l.denied(ctx, res, identity, err)
		}
	}

	if identity.Tier == models.TierPremium {
		res, err = l.consume(ctx, models.ScopePremium, identity.UserID, l.config.Premium)
	} else {
		res, err = l.consume(ctx, models.ScopeUser, identity.UserID, l.config.User)
	}
	if err != nil || !res.Allowed {
		return l.denied(ctx, res, identity, err)
	}

	return res, nil
}

// CheckCriticalOperation consumes from the tight hourly budget reserved for
// destructive operations (server create/delete, plan change).
func (l *Limiter) CheckCriticalOperation(ctx context.Context, userID string) (*models.Result, error) {
	res, err := l.consume(ctx, models.ScopeCritical, userID, l.config.Critical)
	if err != nil || !res.Allowed {
		return l.denied(ctx, res, models.Identity{UserID: userID}, err)
	}
	return res, nil
}

// RecordAuthFailure consumes one point from the anti-bruteforce budget after
// a failed second-factor attempt. The returned result reports whether further
// attempts are now locked out.
func (l *Limiter) RecordAuthFailure(ctx context.Context, userID string) (*models.Result, error) {
	res, err := l.consume(ctx, models.ScopeAuth, userID, l.config.AuthFailure)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to record auth failure")
	}
	if !res.Allowed && l.logger != nil {
		l.logger.WarnContext(ctx, "auth failure budget exhausted",
			"user_id", userID,
			"retry_after", res.RetryAfter,
		)
	}
	return res, nil
}

// AuthFailuresExhausted reports whether the user has already burned the whole
// auth-failure budget, without consuming a point.
func (l *Limiter) AuthFailuresExhausted(ctx context.Context, userID string) (bool, error) {
	key := models.NewKey(models.ScopeAuth, userID).String()
	st, err := l.store.Peek(ctx, key, l.config.AuthFailure.Capacity)
	if err != nil {
		return false, dErrors.Wrap(err, dErrors.CodeInternal, "failed to peek auth failure bucket")
	}
	return st.RemainingPoints <= 0, nil
}

// ResetUserLimit clears both the free and premium buckets for a user.
// Used for support remediation.
func (l *Limiter) ResetUserLimit(ctx context.Context, userID string) error {
	userKey := models.NewKey(models.ScopeUser, userID).String()
	if err := l.store.Delete(ctx, userKey); err != nil {
		return dErrors.Wrap(err, dErrors.CodeInternal, "failed to reset user bucket")
	}
	premiumKey := models.NewKey(models.ScopePremium, userID).String()
	if err := l.store.Delete(ctx, premiumKey); err != nil {
		return dErrors.Wrap(err, dErrors.CodeInternal, "failed to reset premium bucket")
	}
	if l.logger != nil {
		l.logger.InfoContext(ctx, "user rate limit reset", "user_id", userID)
	}
	return nil
}

// UserLimitStatus returns the current state of the user's tier bucket.
// Best-effort zeros are reported when no bucket exists yet.
func (l *Limiter) UserLimitStatus(ctx context.Context, userID string, tier models.Tier) (*models.LimitStatus, error) {
	scope, budget := models.ScopeUser, l.config.User
	if tier == models.TierPremium {
		scope, budget = models.ScopePremium, l.config.Premium
	}

	key := models.NewKey(scope, userID).String()
	st, err := l.store.Peek(ctx, key, budget.Capacity)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to peek user bucket")
	}
	return &models.LimitStatus{
		RemainingPoints: st.RemainingPoints,
		TotalHits:       st.ConsumedPoints,
		MsBeforeReset:   int(st.MsBeforeReset(time.Now())),
	}, nil
}

// consume takes one point from the named scope and maps the bucket state to a
// scope-level result.
func (l *Limiter) consume(ctx context.Context, scope models.Scope, identifier string, budget config.BucketConfig) (*models.Result, error) {
	key := models.NewKey(scope, identifier).String()
	st, err := l.store.Consume(ctx, key, 1, budget.Capacity, budget.Window)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to consume from "+scope.String()+" bucket")
	}

	res := &models.Result{
		Allowed:   st.Success,
		Scope:     scope,
		Limit:     budget.Capacity,
		Remaining: st.RemainingPoints,
		ResetAt:   st.ResetAt,
	}
	if !st.Success {
		res.RetryAfter = ceilSeconds(st.MsBeforeReset(time.Now()))
		res.Reason = deniedReason
	}
	return res, nil
}

// denied finalizes a rejection: logs it and records the security event.
func (l *Limiter) denied(ctx context.Context, res *models.Result, identity models.Identity, err error) (*models.Result, error) {
	if err != nil {
		return nil, err
	}

	if l.logger != nil {
		l.logger.InfoContext(ctx, "rate limit exceeded",
			"scope", res.Scope.String(),
			"user_id", identity.UserID,
			"guild_id", identity.GuildID,
			"retry_after", res.RetryAfter,
		)
	}
	if l.auditor != nil {
		l.auditor.Record(ctx, audit.NewEvent(identity.UserID, audit.KindRateLimitExceeded, audit.SeverityMedium, map[string]any{
			"scope":       res.Scope.String(),
			"guild_id":    identity.GuildID,
			"retry_after": res.RetryAfter,
		}))
	}
	return res, nil
}

// ceilSeconds converts milliseconds-before-reset to whole seconds, rounding up
// so callers never retry early.
func ceilSeconds(ms int64) int {
	return int(math.Ceil(float64(ms) / 1000.0))
}
