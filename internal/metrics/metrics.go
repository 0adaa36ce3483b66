// Package metrics exposes Prometheus instrumentation for the remediation
// control plane.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Intake
	AlertsReceivedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "jarvis_alerts_received_total",
			Help: "Total alerts received by status and severity",
		},
		[]string{"status", "severity"},
	)

	DedupHitsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "jarvis_dedup_hits_total",
			Help: "Alerts dropped by the fingerprint cooldown gate",
		},
	)

	SuppressionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "jarvis_suppressions_total",
			Help: "Alerts suppressed by reason (cascade, maintenance, host_offline, cooldown)",
		},
		[]string{"reason"},
	)

	// Planner / attempts
	AttemptsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "jarvis_remediation_attempts_total",
			Help: "Remediation attempts by tier and result",
		},
		[]string{"tier", "result"},
	)

	AttemptDurationSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "jarvis_remediation_attempt_duration_seconds",
			Help:    "Wall-clock duration of remediation attempts",
			Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600},
		},
		[]string{"tier"},
	)

	VerificationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "jarvis_verifications_total",
			Help: "Verification outcomes (verified, failed, unverified)",
		},
		[]string{"outcome"},
	)

	// Executor
	CommandsExecutedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "jarvis_commands_executed_total",
			Help: "Commands executed by class and result",
		},
		[]string{"class", "result"},
	)

	CommandsRejectedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "jarvis_commands_rejected_total",
			Help: "Commands rejected by the validator, by reason",
		},
		[]string{"reason"},
	)

	// Degraded mode
	QueueDepth = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "jarvis_degraded_queue_depth",
			Help: "Alerts currently buffered while persistence is unavailable",
		},
	)

	DegradedMode = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "jarvis_degraded_mode",
			Help: "1 when the service is operating without persistence",
		},
	)

	// Oracle
	OracleRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "jarvis_oracle_requests_total",
			Help: "Reasoning oracle requests by model and result",
		},
		[]string{"model", "result"},
	)

	OracleTokensTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "jarvis_oracle_tokens_total",
			Help: "Oracle token usage by direction",
		},
		[]string{"direction"},
	)

	BreakerState = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "jarvis_oracle_breaker_state",
			Help: "Oracle circuit breaker state (0=closed, 1=half-open, 2=open)",
		},
	)

	// Self-preservation
	HandoffsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "jarvis_handoffs_total",
			Help: "Self-preservation handoffs by target and outcome",
		},
		[]string{"target", "outcome"},
	)

	// Learning
	PatternTierSelections = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "jarvis_pattern_tier_selections_total",
			Help: "Planner tier selections",
		},
		[]string{"tier"},
	)

	// Deprecation counters: consultations of surviving hardcoded tables.
	// Drift toward dynamic discovery is measured by these going flat.
	StaticHintLookupsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "jarvis_static_hint_lookups_total",
			Help: "Consultations of hardcoded hint tables, by table",
		},
		[]string{"table"},
	)

	// Host monitor
	HostStateTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "jarvis_host_state_transitions_total",
			Help: "Host monitor state transitions",
		},
		[]string{"to"},
	)

	// Anomaly loop
	AnomaliesDetectedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "jarvis_anomalies_detected_total",
			Help: "Anomalies detected by severity",
		},
		[]string{"severity"},
	)

	SyntheticAlertsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "jarvis_synthetic_alerts_total",
			Help: "Synthetic alerts promoted into the intake pipeline",
		},
	)

	// Notifier
	NotificationsSentTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "jarvis_notifications_sent_total",
			Help: "Chat notifications sent by severity",
		},
		[]string{"severity"},
	)
)
