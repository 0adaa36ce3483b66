// Package planner is the central decision point: for each firing alert it
// picks a tier (cached fix, hint-assisted, full reasoning, or skip), runs
// the remediation, verifies it, and feeds the outcome back into the
// learning store.
package planner

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/jarvisd/jarvis/internal/config"
	"github.com/jarvisd/jarvis/internal/correlator"
	"github.com/jarvisd/jarvis/internal/learning"
	"github.com/jarvisd/jarvis/internal/metrics"
	"github.com/jarvisd/jarvis/internal/models"
	"github.com/jarvisd/jarvis/internal/notifier"
	"github.com/jarvisd/jarvis/internal/oracle"
	"github.com/jarvisd/jarvis/internal/reasoning"
	"github.com/jarvisd/jarvis/internal/store"
	"github.com/jarvisd/jarvis/internal/tools"
	"github.com/jarvisd/jarvis/internal/validator"
	"github.com/jarvisd/jarvis/internal/verifier"
)

// HostChecker reports host reachability. The host monitor satisfies this.
type HostChecker interface {
	IsOnline(host string) bool
}

// RunbookSource serves operator-written runbook text per alert name.
type RunbookSource interface {
	ForAlert(alertName string) string
}

// SelfRestartFunc creates a restart handoff for the reasoning loop's
// initiate_self_restart tool. Self-preservation provides it.
type SelfRestartFunc func(ctx context.Context, rctx *reasoning.Context, target, reason string) (string, error)

// Planner composes the gates and tiers around one alert.
type Planner struct {
	config     *config.Config
	store      *store.Store
	learning   *learning.Store
	correlator *correlator.Correlator
	hosts      HostChecker
	validator  *validator.Validator
	engine     *reasoning.Engine
	verifier   *verifier.Verifier
	notifier   *notifier.Notifier
	toolDeps   tools.Deps
	runbooks   RunbookSource
	restartFn  SelfRestartFunc

	infraSummary string
}

// Options wires the planner's collaborators.
type Options struct {
	Config       *config.Config
	Store        *store.Store
	Learning     *learning.Store
	Correlator   *correlator.Correlator
	Hosts        HostChecker
	Validator    *validator.Validator
	Engine       *reasoning.Engine
	Verifier     *verifier.Verifier
	Notifier     *notifier.Notifier
	ToolDeps     tools.Deps
	Runbooks     RunbookSource
	SelfRestart  SelfRestartFunc
	InfraSummary string
}

// New builds a planner.
func New(opts Options) *Planner {
	return &Planner{
		config:       opts.Config,
		store:        opts.Store,
		learning:     opts.Learning,
		correlator:   opts.Correlator,
		hosts:        opts.Hosts,
		validator:    opts.Validator,
		engine:       opts.Engine,
		verifier:     opts.Verifier,
		notifier:     opts.Notifier,
		toolDeps:     opts.ToolDeps,
		runbooks:     opts.Runbooks,
		restartFn:    opts.SelfRestart,
		infraSummary: opts.InfraSummary,
	}
}

// Outcome is the structured result of handling one alert.
type Outcome struct {
	Disposition models.Disposition        `json:"status"`
	Tier        learning.Tier             `json:"tier,omitempty"`
	ErrorKind   models.ErrorKind          `json:"error_kind,omitempty"`
	RootCause   string                    `json:"root_cause,omitempty"`
	Analysis    string                    `json:"analysis,omitempty"`
	Verified    store.VerificationOutcome `json:"verified,omitempty"`
	AttemptID   int64                     `json:"attempt_id,omitempty"`
}

// Handle runs the full decision pipeline for a firing alert.
func (p *Planner) Handle(ctx context.Context, alert *models.Alert) Outcome {
	host := alert.TargetHost()

	if p.hosts != nil && !p.hosts.IsOnline(host) {
		metrics.SuppressionsTotal.WithLabelValues("host_offline").Inc()
		log.Info().Str("alert", alert.Name).Str("host", host).Msg("Host offline, remediation skipped")
		return Outcome{Disposition: models.DispositionHostOffline}
	}

	if win, err := p.store.ActiveWindowFor(host); err == nil && win != nil {
		if err := p.store.IncrementSuppressed(win.ID); err != nil {
			log.Warn().Err(err).Msg("Failed to count maintenance suppression")
		}
		metrics.SuppressionsTotal.WithLabelValues("maintenance").Inc()
		return Outcome{Disposition: models.DispositionMaintenanceSuppressed}
	}

	if root := p.correlator.SuppressedBy(ctx, alert); root != nil {
		return Outcome{Disposition: models.DispositionSkippedCascade, RootCause: root.Name}
	}

	attempts, err := p.store.CountActionableAttempts(alert.Name, alert.Instance, p.config.AttemptWindow)
	if err != nil {
		return Outcome{Disposition: models.DispositionQueued, ErrorKind: models.ErrPersistenceUnavailable}
	}
	if attempts >= p.config.MaxAttemptsPerAlert {
		reason := fmt.Sprintf("%d remediation attempts in %s exhausted", attempts, p.config.AttemptWindow)
		if p.escalate(ctx, alert, reason) {
			p.recordEscalation(alert, attempts, reason)
		}
		return Outcome{Disposition: models.DispositionMaxAttempts}
	}

	tier, pattern, err := p.learning.TierFor(alert)
	if err != nil {
		log.Warn().Err(err).Str("alert", alert.Name).Msg("Tier lookup failed, using full reasoning")
		tier, pattern = learning.TierFull, nil
	}
	crashLoop := attempts >= p.config.CrashLoopThreshold
	if crashLoop && tier == learning.TierCached {
		// A cached fix that keeps coming back is not a fix.
		tier, pattern = learning.TierFull, nil
	}

	p.correlator.BeginHandling(alert)
	defer p.correlator.EndHandling(alert)

	attemptID, err := p.store.BeginAttempt(alert.Fingerprint, alert.Name, alert.Instance, attempts+1)
	if err != nil {
		return Outcome{Disposition: models.DispositionQueued, ErrorKind: models.ErrPersistenceUnavailable}
	}
	startedAt := time.Now()

	var res attemptResult
	if tier == learning.TierCached {
		res = p.runCached(ctx, alert, pattern)
	} else {
		// Hint tier carries the pattern into the prompt; full tier may
		// still carry a low-confidence pattern as advisory context.
		res = p.runReasoning(ctx, alert, pattern, crashLoop)
	}

	verified := store.VerifiedSkipped
	if res.errKind == "" && res.actionable && res.clean {
		verified = p.verifier.Verify(ctx, alert)
	} else if res.actionable && !res.clean {
		verified = store.VerifiedFailure
	}

	success := attemptSucceeded(res, verified)
	p.learn(alert, tier, pattern, res, verified, success, time.Since(startedAt))

	finalize := store.Attempt{
		Analysis:   res.analysis,
		Commands:   res.commands,
		Actionable: res.actionable,
		Success:    &success,
		Verified:   verified,
		Escalated:  crashLoop,
		RiskTier:   riskFor(res),
		Error:      string(res.errKind),
		StartedAt:  startedAt,
	}
	if err := p.store.FinalizeAttempt(attemptID, finalize); err != nil {
		log.Error().Err(err).Int64("attempt", attemptID).Msg("Failed to finalize attempt")
	}

	metrics.AttemptsTotal.WithLabelValues(string(tier), string(verified)).Inc()
	metrics.AttemptDurationSeconds.WithLabelValues(string(tier)).Observe(time.Since(startedAt).Seconds())

	if res.actionable {
		p.notifier.AttemptOutcome(ctx, alert, string(tier), string(verified), res.analysis)
	}

	out := Outcome{
		Disposition: models.DispositionProcessed,
		Tier:        tier,
		ErrorKind:   res.errKind,
		Analysis:    res.analysis,
		Verified:    verified,
		AttemptID:   attemptID,
	}
	if res.disposition != "" {
		out.Disposition = res.disposition
	}
	return out
}

// Resume continues a remediation that was interrupted by a self-restart
// handoff. The restored context carries the already-executed commands into
// the continuation prompt; verification and learning run as usual.
func (p *Planner) Resume(ctx context.Context, rctx *reasoning.Context) {
	alert := &models.Alert{
		Fingerprint: rctx.AlertFingerprint,
		Name:        rctx.AlertName,
		Instance:    rctx.Instance,
		Labels:      rctx.Labels,
		Status:      models.StatusFiring,
	}
	log.Info().Str("alert", alert.Name).Str("instance", alert.Instance).
		Int("commands", rctx.CommandCount()).Msg("Resuming remediation after restart")

	session := tools.NewSession(alert, rctx.TargetHost, p.config.SelfHost, rctx.Confidence, rctx)
	if p.restartFn != nil {
		session.OnSelfRestart = func(target, reason string) (string, error) {
			return p.restartFn(ctx, rctx, target, reason)
		}
	}
	registry := tools.Build(p.toolDeps, session)

	prompt := reasoning.BuildSystemPrompt(reasoning.PromptInput{
		InfraSummary: p.infraSummary,
		Alert:        alert,
		Hints:        p.hints(alert),
		Runbook:      p.runbook(alert),
		Confidence:   rctx.Confidence,
	})

	startedAt := time.Now()
	result, err := p.engine.Run(ctx, reasoning.Request{
		Alert:    alert,
		Session:  session,
		Registry: registry,
		Context:  rctx,
		System:   prompt,
		Resume:   true,
	})

	res := attemptResult{
		commands:   contextCommands(rctx),
		actionable: session.ActionableRan(),
		clean:      session.ActionableClean(),
	}
	if err != nil {
		res.errKind = oracleErrKind(err)
		res.analysis = rctx.Analysis
	} else {
		res.analysis = result.Analysis
	}

	verified := store.VerifiedSkipped
	if res.errKind == "" && res.actionable && res.clean {
		verified = p.verifier.Verify(ctx, alert)
	} else if res.actionable && !res.clean {
		verified = store.VerifiedFailure
	}
	p.learn(alert, learning.TierFull, nil, res, verified, attemptSucceeded(res, verified), time.Since(startedAt))

	if res.actionable {
		p.notifier.AttemptOutcome(ctx, alert, "resumed", string(verified), res.analysis)
	}
}

type attemptResult struct {
	commands    []models.CommandResult
	analysis    string
	actionable  bool
	clean       bool // no actionable command failed
	errKind     models.ErrorKind
	disposition models.Disposition
}

// runCached executes a learned command sequence directly, no oracle call.
// Diagnostic failures continue the batch; actionable failures halt it.
func (p *Planner) runCached(ctx context.Context, alert *models.Alert, pattern *learning.Pattern) attemptResult {
	res := attemptResult{clean: true, analysis: pattern.CachedReasoning}
	if res.analysis == "" {
		res.analysis = fmt.Sprintf("cached pattern #%d (confidence %.2f)", pattern.ID, pattern.Confidence)
	}
	host := alert.TargetHost()

	for _, raw := range pattern.SolutionCommands {
		command := substitute(raw, alert)
		class, err := p.validator.Validate(command, validator.Options{TargetHost: host})
		if err != nil {
			res.errKind = models.ErrCommandRejected
			res.clean = false
			log.Warn().Err(err).Str("command", command).Msg("Cached pattern command rejected")
			break
		}

		result, runErr := p.run(ctx, host, command, class)
		result.Actionable = class == validator.ClassActionable
		res.commands = append(res.commands, result)
		if class == validator.ClassActionable {
			res.actionable = true
			if runErr != nil || !result.Succeeded() {
				res.clean = false
				res.errKind = errKindFor(runErr)
				break
			}
		}
	}
	return res
}

// runReasoning drives the oracle loop, with the pattern as a hint when one
// qualified.
func (p *Planner) runReasoning(ctx context.Context, alert *models.Alert, pattern *learning.Pattern, crashLoop bool) attemptResult {
	confidence := 0.5
	var similarity float64
	if pattern != nil {
		confidence = pattern.Confidence
		similarity = learning.Similarity(pattern.SymptomFingerprint, alert)
	}

	rctx := reasoning.NewContext(alert, confidence)
	session := tools.NewSession(alert, alert.TargetHost(), p.config.SelfHost, confidence, rctx)
	session.SetCrashLoop(crashLoop)
	if p.restartFn != nil {
		session.OnSelfRestart = func(target, reason string) (string, error) {
			return p.restartFn(ctx, rctx, target, reason)
		}
	}
	registry := tools.Build(p.toolDeps, session)

	prompt := reasoning.BuildSystemPrompt(reasoning.PromptInput{
		InfraSummary: p.infraSummary,
		Alert:        alert,
		Hints:        p.hints(alert),
		Runbook:      p.runbook(alert),
		Pattern:      pattern,
		Similarity:   similarity,
		Confidence:   confidence,
		CrashLoop:    crashLoop,
	})

	result, err := p.engine.Run(ctx, reasoning.Request{
		Alert:    alert,
		Session:  session,
		Registry: registry,
		Context:  rctx,
		System:   prompt,
		Escalate: crashLoop,
	})

	res := attemptResult{
		commands:   contextCommands(rctx),
		actionable: session.ActionableRan(),
		clean:      session.ActionableClean(),
	}
	if err != nil {
		res.errKind = oracleErrKind(err)
		res.analysis = rctx.Analysis
		return res
	}
	res.analysis = result.Analysis
	return res
}

// attemptSucceeded decides the recorded outcome of an actionable run. A
// clean run counts as success unless verification positively failed:
// skipped (verification disabled) and unverified (backend unreachable)
// fall back to exit-code trust.
func attemptSucceeded(res attemptResult, verified store.VerificationOutcome) bool {
	return res.errKind == "" && res.actionable && res.clean &&
		verified != store.VerifiedFailure
}

// learn feeds the outcome back into the pattern store. Success raises
// confidence, verified failure demotes; a run with no actionable work
// teaches nothing.
func (p *Planner) learn(alert *models.Alert, tier learning.Tier, pattern *learning.Pattern, res attemptResult, verified store.VerificationOutcome, success bool, duration time.Duration) {
	switch {
	case success:
		if pattern != nil && tier != learning.TierFull {
			if _, err := p.learning.RecordSuccess(pattern.ID, duration); err != nil {
				log.Warn().Err(err).Msg("Failed to record pattern success")
			}
			return
		}
		// Full-tier success: mint a pattern from what actually ran.
		commands := actionableCommands(res.commands)
		if len(commands) == 0 {
			return
		}
		_, err := p.learning.Upsert(learning.Pattern{
			AlertName:          alert.Name,
			SymptomFingerprint: learning.SymptomFingerprint(alert),
			TargetHost:         alert.TargetHost(),
			SolutionCommands:   commands,
			RiskTier:           models.RiskMedium,
			Source:             learning.SourceReasoned,
			CachedReasoning:    res.analysis,
		})
		if err != nil {
			log.Warn().Err(err).Str("alert", alert.Name).Msg("Failed to learn pattern")
		}
	case verified == store.VerifiedFailure:
		commands := actionableCommands(res.commands)
		if err := p.learning.RecordFailure(alert, commands, string(verified)); err != nil {
			log.Warn().Err(err).Msg("Failed to record failure pattern")
		}
	}
}

// escalate notifies once per escalation cooldown window. Returns whether a
// notification actually went out.
func (p *Planner) escalate(ctx context.Context, alert *models.Alert, reason string) bool {
	active, err := p.store.EscalationActive(alert.Name, alert.Instance, p.config.EscalationCooldown)
	if err == nil && active {
		return false
	}
	if err := p.store.SetEscalation(alert.Name, alert.Instance); err != nil {
		log.Warn().Err(err).Msg("Failed to record escalation cooldown")
	}
	p.notifier.Escalation(ctx, alert, reason)
	return true
}

// recordEscalation leaves a zero-command escalated row in the attempt log,
// so the exhaustion event shows up in the analytics history. The row is
// non-actionable and never counts toward the attempt cap.
func (p *Planner) recordEscalation(alert *models.Alert, attempts int, reason string) {
	id, err := p.store.BeginAttempt(alert.Fingerprint, alert.Name, alert.Instance, attempts+1)
	if err != nil {
		log.Warn().Err(err).Str("alert", alert.Name).Msg("Failed to record escalation attempt")
		return
	}
	if err := p.store.FinalizeAttempt(id, store.Attempt{
		Analysis:  reason,
		Escalated: true,
		Verified:  store.VerifiedSkipped,
		RiskTier:  models.RiskLow,
		Error:     string(models.DispositionMaxAttempts),
		StartedAt: time.Now(),
	}); err != nil {
		log.Warn().Err(err).Int64("attempt", id).Msg("Failed to finalize escalation attempt")
	}
}

func (p *Planner) run(ctx context.Context, host, command string, class validator.Class) (models.CommandResult, error) {
	return p.toolDeps.Runner.Run(ctx, host, command, class)
}

func (p *Planner) hints(alert *models.Alert) []string {
	var hints []string
	if system := alert.Labels[models.LabelSystem]; system != "" {
		hints = append(hints, "system: "+system)
		hints = append(hints, learning.StaticHints(system)...)
	}
	if container := alert.Labels[models.LabelContainer]; container != "" {
		hints = append(hints, "affected container: "+container)
	}
	return hints
}

func (p *Planner) runbook(alert *models.Alert) string {
	if p.runbooks == nil {
		return ""
	}
	return p.runbooks.ForAlert(alert.Name)
}

// substitute expands {{service}}, {{container}}, and {{host}} placeholders
// in stored pattern commands from the alert's labels.
func substitute(command string, alert *models.Alert) string {
	r := strings.NewReplacer(
		"{{service}}", alert.Labels[models.LabelService],
		"{{container}}", alert.Labels[models.LabelContainer],
		"{{host}}", alert.TargetHost(),
	)
	return r.Replace(command)
}

func contextCommands(rctx *reasoning.Context) []models.CommandResult {
	out := make([]models.CommandResult, 0, len(rctx.Commands))
	for _, c := range rctx.Commands {
		out = append(out, models.CommandResult{
			Command:    c.Command,
			Host:       c.Host,
			ExitCode:   c.ExitCode,
			Stdout:     c.Output,
			Actionable: c.Actionable,
		})
	}
	return out
}

// actionableCommands extracts the state-changing commands that succeeded.
// Diagnostics never belong in a minted pattern: a cached replay would
// re-run them as the "solution".
func actionableCommands(commands []models.CommandResult) []string {
	var out []string
	for _, c := range commands {
		if c.Actionable && c.Succeeded() {
			out = append(out, c.Command)
		}
	}
	return out
}

func riskFor(res attemptResult) models.RiskTier {
	if !res.actionable {
		return models.RiskLow
	}
	return models.RiskMedium
}

func errKindFor(err error) models.ErrorKind {
	if err == nil {
		return models.ErrCommandFailed
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return models.ErrExecutionTimeout
	}
	return models.ErrConnection
}

func oracleErrKind(err error) models.ErrorKind {
	switch {
	case errors.Is(err, oracle.ErrRateLimited):
		return models.ErrOracleRateLimited
	case errors.Is(err, oracle.ErrUnavailable):
		return models.ErrOracleUnavailable
	default:
		return models.ErrOracleUnavailable
	}
}
