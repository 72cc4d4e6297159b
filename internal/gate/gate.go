// Package gate sequences the admission pipeline for every inbound command:
// rate limiting, privilege gating, step-up authentication, then audited
// execution. Any stage may short-circuit with a deny verdict; only a full
// pass reaches the command body.
package gate

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"

	"panelbot/internal/audit"
	"panelbot/internal/metrics"
	"panelbot/internal/privilege"
	rlmodels "panelbot/internal/ratelimit/models"
	"panelbot/internal/stepup"
	dErrors "panelbot/pkg/domain-errors"
)

// RateLimiter is the scoped-bucket limiter consulted first for every command.
type RateLimiter interface {
	CheckCommand(ctx context.Context, identity rlmodels.Identity) (*rlmodels.Result, error)
	CheckCriticalOperation(ctx context.Context, userID string) (*rlmodels.Result, error)
}

// PrivilegeEvaluator resolves admin/premium requirements and the caller tier.
type PrivilegeEvaluator interface {
	Evaluate(ctx context.Context, req privilege.Requirements, identity rlmodels.Identity) error
	ResolveTier(ctx context.Context, guildID, userID string) (rlmodels.Tier, error)
}

// StepUpChecker resolves the second-factor state for sensitive operations.
type StepUpChecker interface {
	Check(ctx context.Context, userID, operation, token string) (stepup.Decision, error)
}

// Auditor records sensitive command executions.
type Auditor interface {
	LogSecurityEvent(ctx context.Context, event audit.Event) error
}

// DebugSink receives raw command errors, stack traces included. Optional.
type DebugSink interface {
	ForwardError(ctx context.Context, commandName, userID string, err error)
}

// Gate is the admission pipeline orchestrator.
// Thread-safe; one instance serves all concurrent interactions.
type Gate struct {
	limiter    RateLimiter
	privileges PrivilegeEvaluator
	stepup     StepUpChecker
	auditor    Auditor
	debug      DebugSink
	logger     *slog.Logger
}

// Option configures a Gate.
type Option func(*Gate)

// WithAuditor enables command_execution auditing for sensitive categories.
func WithAuditor(auditor Auditor) Option {
	return func(g *Gate) {
		g.auditor = auditor
	}
}

// WithDebugSink forwards raw command errors to a debug channel.
func WithDebugSink(sink DebugSink) Option {
	return func(g *Gate) {
		g.debug = sink
	}
}

// WithLogger sets the structured logger.
func WithLogger(logger *slog.Logger) Option {
	return func(g *Gate) {
		g.logger = logger
	}
}

// New creates the gate. The limiter, privilege evaluator, and step-up checker
// are required.
func New(limiter RateLimiter, privileges PrivilegeEvaluator, stepUp StepUpChecker, opts ...Option) (*Gate, error) {
	if limiter == nil || privileges == nil || stepUp == nil {
		return nil, errors.New("rate limiter, privilege evaluator, and step-up checker are required")
	}

	g := &Gate{
		limiter:    limiter,
		privileges: privileges,
		stepup:     stepUp,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g, nil
}

// Admit runs the pre-execution stages for one command. The returned error is
// reserved for collaborator failures; expected denials come back as verdicts.
func (g *Gate) Admit(ctx context.Context, req Request) (Verdict, error) {
	identity := g.resolveIdentity(ctx, req)

	// Stage 1: rate limiting.
	res, err := g.limiter.CheckCommand(ctx, identity)
	if err != nil {
		return Verdict{}, err
	}
	if !res.Allowed {
		return g.verdict(rateLimited(res)), nil
	}

	// Stage 2: privilege gating.
	requirements := privilege.Requirements{
		AdminOnly:   req.Command.AdminOnly,
		PremiumOnly: req.Command.PremiumOnly,
	}
	if err := g.privileges.Evaluate(ctx, requirements, identity); err != nil {
		if dErrors.HasCode(err, dErrors.CodePermissionDenied) {
			g.record(ctx, audit.NewEvent(req.UserID, audit.KindPermissionDenied, audit.SeverityMedium, map[string]any{
				"command":  req.Command.Name,
				"guild_id": req.GuildID,
			}))
			return g.verdict(Verdict{
				Reason:  ReasonPermissionDenied,
				Message: NoticePermissionDenied,
			}), nil
		}
		return Verdict{}, err
	}

	// Stage 3: step-up authentication.
	decision, err := g.stepup.Check(ctx, req.UserID, req.Command.Name, req.Token)
	if err != nil {
		return Verdict{}, err
	}
	if decision.Status == stepup.StatusChallengeRequired {
		metrics.StepUpChallenges.Inc()
		return g.verdict(Verdict{
			Reason:    ReasonTwoFactorRequired,
			Challenge: decision.Challenge,
			Message:   decision.Challenge,
		}), nil
	}

	// The critical-operation budget is consumed only once every earlier stage
	// has passed: a challenge or a permission denial must not burn a point.
	if req.Command.Critical {
		res, err = g.limiter.CheckCriticalOperation(ctx, req.UserID)
		if err != nil {
			return Verdict{}, err
		}
		if !res.Allowed {
			return g.verdict(rateLimited(res)), nil
		}
	}

	// Stage 4: audit sensitive executions before the body runs.
	if req.Command.Category.Sensitive() {
		g.record(ctx, audit.NewEvent(req.UserID, audit.KindCommandExecution, audit.SeverityMedium, map[string]any{
			"command":  req.Command.Name,
			"category": string(req.Command.Category),
			"guild_id": req.GuildID,
		}))
	}

	return g.verdict(allowVerdict()), nil
}

// record logs a gate decision to the auditor, if one is configured. Audit
// failures never alter the verdict.
func (g *Gate) record(ctx context.Context, event audit.Event) {
	if g.auditor == nil {
		return
	}
	if err := g.auditor.LogSecurityEvent(ctx, event); err != nil && g.logger != nil {
		g.logger.ErrorContext(ctx, "failed to audit gate decision",
			"error", err,
			"kind", event.Kind,
			"user_id", event.UserID,
		)
	}
}

// Run admits the command and, on a full pass, executes its body. Panics and
// errors from the body are contained here: the caller sees a generic failure
// notice while the raw error goes to the debug sink.
func (g *Gate) Run(ctx context.Context, req Request, body func(ctx context.Context) error) Verdict {
	verdict, err := g.Admit(ctx, req)
	if err != nil {
		return g.commandFailed(ctx, req, err)
	}
	if !verdict.Allowed {
		return verdict
	}

	if err := g.execute(ctx, body); err != nil {
		return g.commandFailed(ctx, req, err)
	}
	return verdict
}

// execute runs the command body, converting panics into errors.
func (g *Gate) execute(ctx context.Context, body func(ctx context.Context) error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("command panicked: %v\n%s", r, debug.Stack())
		}
	}()
	return body(ctx)
}

// commandFailed produces the generic failure verdict and mirrors the raw
// error to the debug sink.
func (g *Gate) commandFailed(ctx context.Context, req Request, err error) Verdict {
	if g.logger != nil {
		g.logger.ErrorContext(ctx, "command failed",
			"error", err,
			"command", req.Command.Name,
			"user_id", req.UserID,
		)
	}
	if g.debug != nil {
		g.debug.ForwardError(ctx, req.Command.Name, req.UserID, err)
	}
	return g.verdict(Verdict{
		Reason:  ReasonError,
		Message: NoticeCommandFailed,
	})
}

// resolveIdentity builds the rate-limit identity, asking the privilege layer
// for the caller's tier. Resolution failures downgrade to the free tier.
func (g *Gate) resolveIdentity(ctx context.Context, req Request) rlmodels.Identity {
	identity := rlmodels.Identity{
		UserID:  req.UserID,
		GuildID: req.GuildID,
		Tier:    rlmodels.TierFree,
	}
	if req.IsDM() {
		return identity
	}

	tier, err := g.privileges.ResolveTier(ctx, req.GuildID, req.UserID)
	if err != nil {
		if g.logger != nil {
			g.logger.WarnContext(ctx, "tier resolution failed, assuming free tier",
				"error", err,
				"user_id", req.UserID,
			)
		}
		return identity
	}
	identity.Tier = tier
	return identity
}

// verdict finalizes a decision and counts it.
func (g *Gate) verdict(v Verdict) Verdict {
	metrics.GateVerdicts.WithLabelValues(string(v.Reason)).Inc()
	return v
}

func rateLimited(res *rlmodels.Result) Verdict {
	metrics.RateLimitDenials.WithLabelValues(res.Scope.String()).Inc()
	return Verdict{
		Reason:            ReasonRateLimited,
		RetryAfterSeconds: res.RetryAfter,
		Message:           res.Reason,
	}
}
