package audit

import (
	"time"

	"github.com/google/uuid"
)

// Kind classifies a security event. Values match the durable log's vocabulary
// so history queries stay stable across releases.
type Kind string

const (
	KindCommandExecution   Kind = "command_execution"
	KindAPIAccess          Kind = "api_access"
	KindTwoFactorSetup     Kind = "2fa_setup"
	KindTwoFactorChallenge Kind = "2fa_challenge"
	KindTwoFactorVerified  Kind = "2fa_verified"
	KindFailedAuth         Kind = "failed_auth"
	KindRateLimitExceeded  Kind = "rate_limit_exceeded"
	KindPermissionDenied   Kind = "permission_denied"
	KindSuspiciousActivity Kind = "suspicious_activity"
)

// Severity is the risk classification attached to every event. Events at or
// above the auditor's configured threshold are forwarded to the alert sink.
type Severity int

const (
	SeverityLow Severity = iota
	SeverityMedium
	SeverityHigh
	SeverityCritical
)

func (s Severity) String() string {
	switch s {
	case SeverityLow:
		return "low"
	case SeverityMedium:
		return "medium"
	case SeverityHigh:
		return "high"
	case SeverityCritical:
		return "critical"
	}
	return "unknown"
}

// SourceIPHidden is recorded when the chat platform does not expose caller
// addresses.
const SourceIPHidden = "platform-hidden"

// Event is one append-only security event. Events are never mutated after
// creation and are retained for per-user history queries.
type Event struct {
	ID        string         `json:"id"`
	UserID    string         `json:"user_id"`
	Kind      Kind           `json:"kind"`
	SourceIP  string         `json:"source_ip"`
	Severity  Severity       `json:"severity"`
	Timestamp time.Time      `json:"timestamp"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

// NewEvent creates an event with generated ID and current timestamp. The
// source IP defaults to the platform-hidden marker.
func NewEvent(userID string, kind Kind, severity Severity, metadata map[string]any) Event {
	return Event{
		ID:        uuid.NewString(),
		UserID:    userID,
		Kind:      kind,
		SourceIP:  SourceIPHidden,
		Severity:  severity,
		Timestamp: time.Now(),
		Metadata:  metadata,
	}
}

// SuspicionReport is the placeholder contract for anomaly scoring. A real
// model can replace the scorer without changing callers.
type SuspicionReport struct {
	Suspicious bool    `json:"suspicious"`
	RiskScore  float64 `json:"risk_score"`
	Reason     string  `json:"reason,omitempty"`
}
