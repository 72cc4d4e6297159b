// Package privilege resolves whether a caller may invoke admin-only or
// premium-only commands. It performs no I/O of its own: role and permission
// state is read through the platform-supplied resolver.
package privilege

import (
	"context"
	"log/slog"

	"panelbot/internal/ratelimit/models"
	dErrors "panelbot/pkg/domain-errors"
)

// PermissionAdministrator is the administrator-equivalent permission the admin
// check requires in the current guild context.
const PermissionAdministrator = "administrator"

// Requirements are a command's declared privilege requirements.
type Requirements struct {
	AdminOnly   bool
	PremiumOnly bool
}

// RoleResolver reads already-resolved membership state from the chat platform.
type RoleResolver interface {
	HasRole(ctx context.Context, guildID, userID, roleID string) (bool, error)
	HasPermission(ctx context.Context, guildID, userID, permission string) (bool, error)
}

// Evaluator checks command requirements against the caller's guild membership.
type Evaluator struct {
	roles         RoleResolver
	premiumRoleID string
	logger        *slog.Logger
}

// Option configures an Evaluator instance.
type Option func(*Evaluator)

// WithLogger sets the structured logger for denial logging.
func WithLogger(logger *slog.Logger) Option {
	return func(e *Evaluator) {
		e.logger = logger
	}
}

// WithPremiumRole sets the guild role that marks paying users. When empty,
// every caller resolves to the free tier and premium-only commands are denied.
func WithPremiumRole(roleID string) Option {
	return func(e *Evaluator) {
		e.premiumRoleID = roleID
	}
}

// New creates a privilege evaluator backed by the given role resolver.
func New(roles RoleResolver, opts ...Option) (*Evaluator, error) {
	if roles == nil {
		return nil, dErrors.New(dErrors.CodeInvalidInput, "role resolver is required")
	}
	e := &Evaluator{roles: roles}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

// Evaluate returns nil when the caller satisfies the command's requirements
// and a permission_denied domain error otherwise. Commands invoked outside a
// guild context (direct messages) can never satisfy admin-only or
// premium-only requirements, regardless of the caller's global roles.
func (e *Evaluator) Evaluate(ctx context.Context, req Requirements, identity models.Identity) error {
	if !req.AdminOnly && !req.PremiumOnly {
		return nil
	}

	if !identity.InGuild() {
		e.logDenial(ctx, identity, "privileged command in direct message")
		return dErrors.New(dErrors.CodePermissionDenied, "this command is not available in direct messages")
	}

	if req.AdminOnly {
		ok, err := e.roles.HasPermission(ctx, identity.GuildID, identity.UserID, PermissionAdministrator)
		if err != nil {
			return dErrors.Wrap(err, dErrors.CodeInternal, "failed to resolve permissions")
		}
		if !ok {
			e.logDenial(ctx, identity, "missing administrator permission")
			return dErrors.New(dErrors.CodePermissionDenied, "this command requires administrator permission")
		}
	}

	if req.PremiumOnly {
		tier, err := e.ResolveTier(ctx, identity.GuildID, identity.UserID)
		if err != nil {
			return err
		}
		if tier != models.TierPremium {
			e.logDenial(ctx, identity, "missing premium role")
			return dErrors.New(dErrors.CodePermissionDenied, "this command requires a premium subscription")
		}
	}

	return nil
}

// ResolveTier reports the caller's subscription tier from the premium guild
// role. Callers outside a guild, or deployments without a configured premium
// role, resolve to the free tier.
func (e *Evaluator) ResolveTier(ctx context.Context, guildID, userID string) (models.Tier, error) {
	if guildID == "" || e.premiumRoleID == "" {
		return models.TierFree, nil
	}
	ok, err := e.roles.HasRole(ctx, guildID, userID, e.premiumRoleID)
	if err != nil {
		return models.TierFree, dErrors.Wrap(err, dErrors.CodeInternal, "failed to resolve premium role")
	}
	if ok {
		return models.TierPremium, nil
	}
	return models.TierFree, nil
}

func (e *Evaluator) logDenial(ctx context.Context, identity models.Identity, reason string) {
	if e.logger == nil {
		return
	}
	e.logger.InfoContext(ctx, "permission denied",
		"user_id", identity.UserID,
		"guild_id", identity.GuildID,
		"reason", reason,
	)
}
