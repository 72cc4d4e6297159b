// Package metrics exposes the bot's Prometheus instrumentation.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// GateVerdicts counts admission decisions by outcome.
	GateVerdicts = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "panelbot_gate_verdicts_total",
		Help: "Admission pipeline verdicts by reason",
	}, []string{"reason"})

	// RateLimitDenials counts rejections by scope.
	RateLimitDenials = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "panelbot_rate_limit_denials_total",
		Help: "Rate limit rejections by scope",
	}, []string{"scope"})

	// StepUpChallenges counts issued second-factor challenges.
	StepUpChallenges = promauto.NewCounter(prometheus.CounterOpts{
		Name: "panelbot_stepup_challenges_total",
		Help: "Step-up challenges issued",
	})

	// StepUpFailures counts failed second-factor verifications.
	StepUpFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "panelbot_stepup_failures_total",
		Help: "Failed step-up verification attempts",
	})

	// AlertDeliveries counts webhook alert deliveries by outcome.
	AlertDeliveries = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "panelbot_alert_deliveries_total",
		Help: "Security alert webhook deliveries by outcome",
	}, []string{"outcome"})

	// AuditEventsDropped counts events dropped by the async publisher.
	AuditEventsDropped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "panelbot_audit_events_dropped_total",
		Help: "Audit events dropped because the publish buffer was full",
	})
)
