// Package audit records every gate decision and sensitive command execution
// as an append-only security event, and forwards high-severity events to an
// external alert sink. Alert delivery is fire-and-forget: its failure or
// latency never delays a gate verdict.
package audit

import (
	"context"
	"errors"
	"log/slog"
	"time"

	dErrors "panelbot/pkg/domain-errors"
)

// DefaultAlertThreshold forwards high and critical events to the alert sink.
const DefaultAlertThreshold = SeverityHigh

// suspicionWindow bounds the history considered when scoring activity.
const suspicionWindow = 15 * time.Minute

// Auditor owns the security-event log.
// Thread-safe for concurrent use by the admission pipeline.
type Auditor struct {
	store     Store
	sink      AlertSink
	threshold Severity
	logger    *slog.Logger
}

// AuditorOption configures an Auditor.
type AuditorOption func(*Auditor)

// WithAlertSink enables forwarding of events at or above the threshold.
func WithAlertSink(sink AlertSink) AuditorOption {
	return func(a *Auditor) {
		a.sink = sink
	}
}

// WithAlertThreshold overrides the default high-severity threshold.
func WithAlertThreshold(threshold Severity) AuditorOption {
	return func(a *Auditor) {
		a.threshold = threshold
	}
}

// WithLogger sets the structured logger.
func WithLogger(logger *slog.Logger) AuditorOption {
	return func(a *Auditor) {
		a.logger = logger
	}
}

// NewAuditor creates an auditor over the given event store.
func NewAuditor(store Store, opts ...AuditorOption) (*Auditor, error) {
	if store == nil {
		return nil, errors.New("event store is required")
	}

	a := &Auditor{
		store:     store,
		threshold: DefaultAlertThreshold,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a, nil
}

// LogSecurityEvent appends the event to the log and, when its severity meets
// the threshold and a sink is configured, forwards it asynchronously. The
// returned error reflects only the append; sink failures are logged locally.
func (a *Auditor) LogSecurityEvent(ctx context.Context, event Event) error {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}
	if err := a.store.Append(ctx, event); err != nil {
		return dErrors.Wrap(err, dErrors.CodeInternal, "failed to append security event")
	}

	if a.logger != nil {
		a.logger.InfoContext(ctx, "security event",
			"kind", event.Kind,
			"user_id", event.UserID,
			"severity", event.Severity.String(),
		)
	}

	if a.sink != nil && event.Severity >= a.threshold {
		go a.forward(event)
	}
	return nil
}

// Record is the best-effort form used by the rate limiter and the step-up
// authenticator; append failures are logged and swallowed.
func (a *Auditor) Record(ctx context.Context, event Event) {
	if err := a.LogSecurityEvent(ctx, event); err != nil && a.logger != nil {
		a.logger.ErrorContext(ctx, "failed to record security event",
			"error", err,
			"kind", event.Kind,
			"user_id", event.UserID,
		)
	}
}

// History returns the user's events since the given time, newest first.
func (a *Auditor) History(ctx context.Context, userID string, since time.Time) ([]Event, error) {
	events, err := a.store.ListByUser(ctx, userID, since)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to list security events")
	}
	return events, nil
}

// CheckSuspiciousActivity scores a user's recent activity. The scoring policy
// is intentionally simple so a real anomaly model can replace it without
// changing callers: repeated auth failures and rate-limit hits within the
// window raise the score.
func (a *Auditor) CheckSuspiciousActivity(ctx context.Context, userID string) (SuspicionReport, error) {
	events, err := a.History(ctx, userID, time.Now().Add(-suspicionWindow))
	if err != nil {
		return SuspicionReport{}, err
	}

	var score float64
	for _, event := range events {
		switch event.Kind {
		case KindFailedAuth:
			score += 0.2
		case KindRateLimitExceeded:
			score += 0.1
		}
	}
	if score > 1.0 {
		score = 1.0
	}

	if score > 0.7 {
		report := SuspicionReport{
			Suspicious: true,
			RiskScore:  score,
			Reason:     "repeated authentication failures and rate limit hits",
		}
		a.Record(ctx, NewEvent(userID, KindSuspiciousActivity, SeverityHigh, map[string]any{
			"risk_score": score,
		}))
		return report, nil
	}
	return SuspicionReport{RiskScore: score}, nil
}

// forward delivers one event to the alert sink off the hot path.
func (a *Auditor) forward(event Event) {
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	if err := a.sink.Post(ctx, event); err != nil && a.logger != nil {
		a.logger.Warn("failed to deliver security alert",
			"error", err,
			"kind", event.Kind,
			"user_id", event.UserID,
		)
	}
}
