package models

import (
	"time"
)

// Scope is a rate-limiting dimension. Each inbound command is evaluated
// against the global, guild, and tier scopes in that order; the critical
// and auth-failure scopes are consumed explicitly by callers that need them.
type Scope string

const (
	ScopeGlobal   Scope = "global"
	ScopeGuild    Scope = "guild"
	ScopeUser     Scope = "user"
	ScopePremium  Scope = "premium"
	ScopeCritical Scope = "critical"
	ScopeAuth     Scope = "auth"
)

func (s Scope) IsValid() bool {
	switch s {
	case ScopeGlobal, ScopeGuild, ScopeUser, ScopePremium, ScopeCritical, ScopeAuth:
		return true
	}
	return false
}

func (s Scope) String() string {
	return string(s)
}

// Tier is the caller's subscription tier as resolved by the privilege layer.
type Tier string

const (
	TierFree    Tier = "free"
	TierPremium Tier = "premium"
)

// Result reports the outcome of a single consume on one scoped bucket.
type Result struct {
	Allowed    bool      `json:"allowed"`
	Scope      Scope     `json:"scope"`
	Limit      int       `json:"limit"`
	Remaining  int       `json:"remaining"`
	ResetAt    time.Time `json:"reset_at"`
	RetryAfter int       `json:"retry_after,omitempty"` // seconds, only set when not allowed
	Reason     string    `json:"reason,omitempty"`
}

// LimitStatus is the administrative status view of one user's bucket.
// When no bucket exists yet the zero values are reported.
type LimitStatus struct {
	RemainingPoints int `json:"remaining_points"`
	TotalHits       int `json:"total_hits"`
	MsBeforeReset   int `json:"ms_before_reset"`
}
