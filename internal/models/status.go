package models

import "time"

// Disposition is the structured result the pipeline returns for one alert.
type Disposition string

const (
	DispositionProcessed             Disposition = "processed"
	DispositionDeduplicated          Disposition = "deduplicated"
	DispositionQueued                Disposition = "queued"
	DispositionOverflow              Disposition = "overflow"
	DispositionResolved              Disposition = "resolved"
	DispositionSkippedCascade        Disposition = "skipped_cascade"
	DispositionMaintenanceSuppressed Disposition = "maintenance_suppressed"
	DispositionHostOffline           Disposition = "host_offline"
	DispositionMaxAttempts           Disposition = "max_attempts_reached"
	DispositionCooldownActive        Disposition = "cooldown_active"
	DispositionValidationError       Disposition = "validation_error"
	DispositionHandoffInitiated      Disposition = "handoff_initiated"
)

// ErrorKind classifies failures surfaced by the control plane. These are
// kinds carried on structured outcomes, not Go error types.
type ErrorKind string

const (
	ErrValidation              ErrorKind = "validation_error"
	ErrCommandRejected         ErrorKind = "command_rejected"
	ErrToolInputInvalid        ErrorKind = "tool_input_invalid"
	ErrExecutionTimeout        ErrorKind = "execution_timeout"
	ErrConnection              ErrorKind = "connection_error"
	ErrCommandFailed           ErrorKind = "command_failed"
	ErrVerificationUnverified  ErrorKind = "verification_unverified"
	ErrVerificationFailed      ErrorKind = "verification_failed"
	ErrPersistenceUnavailable  ErrorKind = "persistence_unavailable"
	ErrOracleUnavailable       ErrorKind = "oracle_unavailable"
	ErrOracleRateLimited       ErrorKind = "oracle_rate_limited"
	ErrOrchestratorUnavailable ErrorKind = "orchestrator_unavailable"
	ErrWorkflowNotFound        ErrorKind = "workflow_not_found"
	ErrOrchestratorServer      ErrorKind = "orchestrator_server_error"
	ErrOrchestratorClient      ErrorKind = "orchestrator_client_error"
	ErrHandoffConflict         ErrorKind = "handoff_conflict"
	ErrRestartLoopExceeded     ErrorKind = "restart_loop_exceeded"
)

// RiskTier classifies how dangerous a remediation is.
type RiskTier string

const (
	RiskLow    RiskTier = "low"
	RiskMedium RiskTier = "medium"
	RiskHigh   RiskTier = "high"
)

// CommandResult records a single executed command.
type CommandResult struct {
	Command    string        `json:"command"`
	Stdout     string        `json:"stdout,omitempty"`
	Stderr     string        `json:"stderr,omitempty"`
	ExitCode   int           `json:"exit_code"`
	Host       string        `json:"host"`
	Actionable bool          `json:"actionable,omitempty"`
	Duration   time.Duration `json:"duration"`
}

// Succeeded reports whether the command exited zero.
func (r CommandResult) Succeeded() bool {
	return r.ExitCode == 0
}
