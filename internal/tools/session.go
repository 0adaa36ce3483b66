package tools

import (
	"fmt"
	"sync"

	"github.com/jarvisd/jarvis/internal/models"
	"github.com/jarvisd/jarvis/internal/validator"
)

// Band is the action tier the current confidence score permits. Each band
// includes everything the bands below it allow.
type Band string

const (
	// BandReadOnly (<0.30): file reads, log and metric queries only.
	BandReadOnly Band = "read_only"
	// BandInvestigative (0.30-0.50): diagnostic commands on hosts.
	BandInvestigative Band = "safe_investigative"
	// BandRestart (0.50-0.70): service and container restarts, verified after.
	BandRestart Band = "restart_with_verification"
	// BandPatterns (0.70-0.90): learned remediation sequences.
	BandPatterns Band = "apply_learned_patterns"
	// BandFull (>0.90): full remediation including crash-loop image patching.
	BandFull Band = "full_remediation"
)

// BandFor maps a confidence score onto its action band.
func BandFor(confidence float64) Band {
	switch {
	case confidence < 0.30:
		return BandReadOnly
	case confidence < 0.50:
		return BandInvestigative
	case confidence < 0.70:
		return BandRestart
	case confidence <= 0.90:
		return BandPatterns
	default:
		return BandFull
	}
}

func (b Band) rank() int {
	switch b {
	case BandReadOnly:
		return 0
	case BandInvestigative:
		return 1
	case BandRestart:
		return 2
	case BandPatterns:
		return 3
	case BandFull:
		return 4
	}
	return 0
}

// atLeast reports whether b permits everything min does.
func (b Band) atLeast(min Band) bool { return b.rank() >= min.rank() }

// Recorder receives the results of commands the tools run, so the attempt
// record and any restart handoff carry the full trail.
type Recorder interface {
	RecordCommand(host, command string, result models.CommandResult)
}

// Session carries the per-attempt state the tool handlers share: the target
// host, the evolving confidence score, and mode flags the tools toggle.
type Session struct {
	mu sync.Mutex

	Alert      *models.Alert
	TargetHost string
	SelfHost   string

	confidence         float64
	hypothesisVerified bool
	dockerfileOps      bool
	crashLoop          bool
	handoffActive      bool
	actionableRan      bool
	actionableFailed   bool

	recorder Recorder

	// OnSelfRestart is invoked by initiate_self_restart. The handler
	// serializes state and creates the handoff; the returned string is
	// reported to the model.
	OnSelfRestart func(target, reason string) (string, error)
}

// NewSession builds a session for one remediation attempt.
func NewSession(alert *models.Alert, targetHost, selfHost string, confidence float64, recorder Recorder) *Session {
	return &Session{
		Alert:      alert,
		TargetHost: targetHost,
		SelfHost:   selfHost,
		confidence: confidence,
		recorder:   recorder,
	}
}

// Confidence returns the current confidence score.
func (s *Session) Confidence() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.confidence
}

// Band returns the action band for the current confidence.
func (s *Session) Band() Band { return BandFor(s.Confidence()) }

// UpdateConfidence revises the score. Scores above 0.90 require a verified
// hypothesis first and are otherwise clamped at 0.90.
func (s *Session) UpdateConfidence(score float64) float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	if score < 0 {
		score = 0
	}
	if score > 1 {
		score = 1
	}
	if score > 0.90 && !s.hypothesisVerified {
		score = 0.90
	}
	s.confidence = score
	return score
}

// MarkHypothesisVerified records that verify_hypothesis confirmed the
// working theory, unlocking very-high confidence.
func (s *Session) MarkHypothesisVerified() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.hypothesisVerified = true
}

// HypothesisVerified reports whether verify_hypothesis has confirmed.
func (s *Session) HypothesisVerified() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.hypothesisVerified
}

// EnableDockerfileOps widens the command whitelist to image patch and
// rebuild operations. Only fix_container_crash_loop calls this.
func (s *Session) EnableDockerfileOps() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.dockerfileOps = true
}

// SetCrashLoop marks the attempt as targeting a crash-looping container.
func (s *Session) SetCrashLoop(v bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.crashLoop = v
}

// CrashLoop reports whether the planner flagged a crash loop.
func (s *Session) CrashLoop() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.crashLoop
}

// SetHandoffActive lets commands target the service's own runtime while a
// restart handoff is pending.
func (s *Session) SetHandoffActive(v bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.handoffActive = v
}

// ValidateOptions builds the command-validation options for a host.
func (s *Session) ValidateOptions(host string) validator.Options {
	s.mu.Lock()
	defer s.mu.Unlock()
	return validator.Options{
		TargetHost:    host,
		HandoffActive: s.handoffActive,
		DockerfileOps: s.dockerfileOps,
	}
}

// NoteActionable records that a state-changing action ran and whether it
// succeeded. Verification is only meaningful when actionable work happened
// and none of it failed.
func (s *Session) NoteActionable(succeeded bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.actionableRan = true
	if !succeeded {
		s.actionableFailed = true
	}
}

// ActionableRan reports whether any state-changing action was taken.
func (s *Session) ActionableRan() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.actionableRan
}

// ActionableClean reports whether actionable work ran with zero failures.
func (s *Session) ActionableClean() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.actionableRan && !s.actionableFailed
}

// Record forwards a command result to the attempt recorder, if any.
func (s *Session) Record(host, command string, result models.CommandResult) {
	if s.recorder != nil {
		s.recorder.RecordCommand(host, command, result)
	}
}

// RequireBand returns an error the model can act on when the current
// confidence band does not permit the requested action.
func (s *Session) RequireBand(min Band, action string) error {
	band := s.Band()
	if band.atLeast(min) {
		return nil
	}
	return fmt.Errorf("confidence %.2f (band %s) does not permit %s; gather more evidence or call update_confidence with justification",
		s.Confidence(), band, action)
}
