package gate

// Reason is the outcome classification of one admission decision.
type Reason string

const (
	ReasonOk                Reason = "ok"
	ReasonRateLimited       Reason = "rate_limited"
	ReasonPermissionDenied  Reason = "permission_denied"
	ReasonTwoFactorRequired Reason = "two_factor_required"
	ReasonError             Reason = "error"
)

// User-facing notices. Short and non-leaking; diagnostics go to the debug
// sink only.
const (
	NoticePermissionDenied = "You do not have permission to use this command."
	NoticeCommandFailed    = "Something went wrong while running this command. Please try again later."
)

// Verdict is the single result of admitting (and optionally running) one
// command. Produced fresh per invocation; never persisted.
type Verdict struct {
	Allowed           bool
	Reason            Reason
	RetryAfterSeconds int
	Challenge         string
	// Message is the notice to show the caller on a denial or failure.
	Message string
}

func allowVerdict() Verdict {
	return Verdict{Allowed: true, Reason: ReasonOk}
}
