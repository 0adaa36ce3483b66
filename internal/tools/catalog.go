package tools

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/jarvisd/jarvis/internal/ha"
	"github.com/jarvisd/jarvis/internal/lokiapi"
	"github.com/jarvisd/jarvis/internal/metricsapi"
	"github.com/jarvisd/jarvis/internal/models"
	"github.com/jarvisd/jarvis/internal/orchestrator"
	"github.com/jarvisd/jarvis/internal/oracle"
	"github.com/jarvisd/jarvis/internal/validator"
)

// CommandRunner executes a validated command on a host. The executor
// satisfies this.
type CommandRunner interface {
	Run(ctx context.Context, host, command string, class validator.Class) (models.CommandResult, error)
}

// CommandValidator classifies and gates a command. The validator satisfies
// this.
type CommandValidator interface {
	Validate(command string, opts validator.Options) (validator.Class, error)
}

// MetricsQuerier serves metric history and trend inputs.
type MetricsQuerier interface {
	QueryRange(ctx context.Context, query string, window, step time.Duration) ([]metricsapi.Series, error)
}

// LogQuerier serves recent logs for a target.
type LogQuerier interface {
	QueryTarget(ctx context.Context, queryType, target string, minutes int) ([]lokiapi.Entry, error)
}

// WorkflowRunner triggers orchestrator workflows for complex operations
// the command whitelist cannot express.
type WorkflowRunner interface {
	Configured() bool
	ExecuteWorkflow(ctx context.Context, name string, data map[string]interface{}, wait bool) (string, error)
	ListWorkflows(ctx context.Context) ([]orchestrator.Workflow, error)
}

// AddonSupervisor manages home-automation addons.
type AddonSupervisor interface {
	Configured() bool
	RestartAddon(ctx context.Context, slug string) error
	ReloadAutomations(ctx context.Context) error
	AddonInfoFor(ctx context.Context, slug string) (*ha.AddonInfo, error)
}

// Deps are the backends the catalog binds tools to. Nil fields disable the
// corresponding tools.
type Deps struct {
	Runner     CommandRunner
	Validator  CommandValidator
	Metrics    MetricsQuerier
	Logs       LogQuerier
	Workflows  WorkflowRunner
	Supervisor AddonSupervisor
}

const maxToolOutput = 10 * 1024

// Build assembles the full tool catalog for one attempt. Tools whose
// backend is not configured are omitted so the model never sees them.
func Build(deps Deps, session *Session) *Registry {
	r := NewRegistry()
	c := &catalog{deps: deps, session: session}

	r.Register(oracle.Tool{
		Name:        "read_file",
		Description: "Read a file on a host. Optionally limit to the last N lines.",
		InputSchema: schema(map[string]interface{}{
			"host":  prop("string", "Host to read from"),
			"path":  prop("string", "Absolute file path"),
			"lines": prop("integer", "Return only the last N lines"),
		}, "host", "path"),
	}, c.readFile)

	r.Register(oracle.Tool{
		Name:        "list_directory",
		Description: "List a directory on a host with sizes and timestamps.",
		InputSchema: schema(map[string]interface{}{
			"host": prop("string", "Host to inspect"),
			"path": prop("string", "Absolute directory path"),
		}, "host", "path"),
	}, c.listDirectory)

	r.Register(oracle.Tool{
		Name:        "check_file_age",
		Description: "Report the modification time of a file, e.g. to detect a stale backup.",
		InputSchema: schema(map[string]interface{}{
			"host": prop("string", "Host to inspect"),
			"path": prop("string", "Absolute file path"),
		}, "host", "path"),
	}, c.checkFileAge)

	r.Register(oracle.Tool{
		Name:        "check_crontab",
		Description: "List cron entries on a host, optionally for a specific user.",
		InputSchema: schema(map[string]interface{}{
			"host": prop("string", "Host to inspect"),
			"user": prop("string", "Crontab owner, defaults to the invoking user"),
		}, "host"),
	}, c.checkCrontab)

	r.Register(oracle.Tool{
		Name:        "test_connectivity",
		Description: "Test network reachability from one host to another address.",
		InputSchema: schema(map[string]interface{}{
			"from_host": prop("string", "Host to probe from"),
			"to":        prop("string", "Address or hostname to reach"),
		}, "from_host", "to"),
	}, c.testConnectivity)

	r.Register(oracle.Tool{
		Name: "execute_safe_command",
		Description: "Run a shell command on a host. The command is validated against a " +
			"whitelist; chaining, substitution, and commands touching this service are rejected.",
		InputSchema: schema(map[string]interface{}{
			"host":    prop("string", "Host to run on"),
			"command": prop("string", "The command to execute"),
		}, "host", "command"),
	}, c.executeSafeCommand)

	r.Register(oracle.Tool{
		Name:        "restart_service",
		Description: "Restart a systemd service or docker container on a host.",
		InputSchema: schema(map[string]interface{}{
			"host":      prop("string", "Host the service runs on"),
			"service":   prop("string", "systemd unit name"),
			"container": prop("string", "docker container name (instead of service)"),
		}, "host"),
	}, c.restartService)

	if deps.Metrics != nil {
		r.Register(oracle.Tool{
			Name:        "query_metric_history",
			Description: "Fetch history for a PromQL expression; optionally predict when it reaches a threshold.",
			InputSchema: schema(map[string]interface{}{
				"metric":             prop("string", "PromQL expression"),
				"range":              prop("string", "Lookback window, e.g. 1h, 24h"),
				"predict_exhaustion": prop("number", "Predict time until the metric reaches this value"),
			}, "metric"),
		}, c.queryMetricHistory)
	}

	if deps.Logs != nil {
		r.Register(oracle.Tool{
			Name:        "query_loki_logs",
			Description: "Fetch recent logs for a container, service, or host, or error-level lines for a host.",
			InputSchema: schema(map[string]interface{}{
				"query_type": prop("string", "One of: container, service, host, errors"),
				"target":     prop("string", "Container, unit, or host name"),
				"minutes":    prop("integer", "Lookback in minutes, default 30"),
			}, "query_type", "target"),
		}, c.queryLokiLogs)
	}

	if deps.Workflows != nil && deps.Workflows.Configured() {
		r.Register(oracle.Tool{
			Name:        "execute_n8n_workflow",
			Description: "Trigger an orchestrator workflow for operations outside the command whitelist.",
			InputSchema: schema(map[string]interface{}{
				"workflow_name": prop("string", "Workflow webhook name"),
				"data":          prop("object", "Payload passed to the workflow"),
				"wait":          prop("boolean", "Wait for the workflow to finish"),
			}, "workflow_name"),
		}, c.executeWorkflow)

		r.Register(oracle.Tool{
			Name:        "list_n8n_workflows",
			Description: "List available orchestrator workflows.",
			InputSchema: schema(map[string]interface{}{}),
		}, c.listWorkflows)
	}

	if deps.Supervisor != nil && deps.Supervisor.Configured() {
		r.Register(oracle.Tool{
			Name:        "restart_ha_addon",
			Description: "Restart a home-automation addon by slug.",
			InputSchema: schema(map[string]interface{}{
				"slug": prop("string", "Addon slug"),
			}, "slug"),
		}, c.restartAddon)

		r.Register(oracle.Tool{
			Name:        "reload_ha_automations",
			Description: "Reload home-automation rules without restarting the core.",
			InputSchema: schema(map[string]interface{}{}),
		}, c.reloadAutomations)

		r.Register(oracle.Tool{
			Name:        "get_ha_addon_info",
			Description: "Fetch state and resource usage for a home-automation addon.",
			InputSchema: schema(map[string]interface{}{
				"slug": prop("string", "Addon slug"),
			}, "slug"),
		}, c.addonInfo)
	}

	r.Register(oracle.Tool{
		Name:        "get_container_diagnostics",
		Description: "Inspect a container: state, restart count, recent logs, resource usage.",
		InputSchema: schema(map[string]interface{}{
			"host":      prop("string", "Host the container runs on"),
			"container": prop("string", "Container name"),
		}, "host", "container"),
	}, c.containerDiagnostics)

	r.Register(oracle.Tool{
		Name:        "get_service_dependencies",
		Description: "List the dependency tree of a systemd unit.",
		InputSchema: schema(map[string]interface{}{
			"host":    prop("string", "Host the unit runs on"),
			"service": prop("string", "systemd unit name"),
		}, "host", "service"),
	}, c.serviceDependencies)

	r.Register(oracle.Tool{
		Name:        "get_system_state",
		Description: "Snapshot of a host: uptime, load, memory, disk usage, failed units.",
		InputSchema: schema(map[string]interface{}{
			"host": prop("string", "Host to inspect"),
		}, "host"),
	}, c.systemState)

	r.Register(oracle.Tool{
		Name: "fix_container_crash_loop",
		Description: "Diagnose a crash-looping container and unlock Dockerfile patching and image " +
			"rebuild in its compose directory. Only available when a crash loop was detected.",
		InputSchema: schema(map[string]interface{}{
			"host":        prop("string", "Host the container runs on"),
			"container":   prop("string", "Container name"),
			"compose_dir": prop("string", "Directory holding the compose file and Dockerfile"),
		}, "host", "container", "compose_dir"),
	}, c.fixCrashLoop)

	r.Register(oracle.Tool{
		Name: "update_confidence",
		Description: "Revise the diagnosis confidence score (0.0-1.0) with justification. " +
			"Scores above 0.90 require a prior successful verify_hypothesis call.",
		InputSchema: schema(map[string]interface{}{
			"new":    prop("number", "New confidence score between 0 and 1"),
			"reason": prop("string", "Evidence justifying the change"),
		}, "new", "reason"),
	}, c.updateConfidence)

	r.Register(oracle.Tool{
		Name: "verify_hypothesis",
		Description: "State the working hypothesis and the evidence confirming it. Required " +
			"before confidence may exceed 0.90.",
		InputSchema: schema(map[string]interface{}{
			"hypothesis": prop("string", "The root-cause hypothesis"),
			"evidence":   prop("string", "Concrete observations confirming it"),
		}, "hypothesis", "evidence"),
	}, c.verifyHypothesis)

	r.Register(oracle.Tool{
		Name: "initiate_self_restart",
		Description: "Request a supervised restart of this service or its host via the " +
			"restart handoff. Use when remediation requires touching this service's own runtime.",
		InputSchema: schema(map[string]interface{}{
			"target": prop("string", "One of: self, database, host"),
			"reason": prop("string", "Why the restart is needed"),
		}, "target", "reason"),
	}, c.initiateSelfRestart)

	return r
}

type catalog struct {
	deps    Deps
	session *Session
}

// runDiagnostic executes an internally constructed read-only command,
// bypassing the whitelist but never the recorder.
func (c *catalog) runDiagnostic(ctx context.Context, host, command string) (string, error) {
	result, err := c.deps.Runner.Run(ctx, host, command, validator.ClassDiagnostic)
	c.session.Record(host, command, result)
	if err != nil {
		return "", fmt.Errorf("command failed on %s: %v", host, err)
	}
	return renderResult(result), nil
}

func renderResult(r models.CommandResult) string {
	var b strings.Builder
	out := truncate(r.Stdout, maxToolOutput)
	if out != "" {
		b.WriteString(out)
	}
	if r.Stderr != "" {
		if b.Len() > 0 {
			b.WriteString("\n")
		}
		b.WriteString("stderr: ")
		b.WriteString(truncate(r.Stderr, maxToolOutput/4))
	}
	if r.ExitCode != 0 {
		fmt.Fprintf(&b, "\n(exit code %d)", r.ExitCode)
	}
	if b.Len() == 0 {
		return "(no output)"
	}
	return b.String()
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max] + "\n... (truncated)"
}

func shellQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}

func (c *catalog) readFile(ctx context.Context, in Input) (string, error) {
	host, err := in.Str("host")
	if err != nil {
		return "", err
	}
	path, err := in.Str("path")
	if err != nil {
		return "", err
	}
	cmd := "cat " + shellQuote(path)
	if lines := in.OptInt("lines", 0); lines > 0 {
		cmd = "tail -n " + strconv.Itoa(lines) + " " + shellQuote(path)
	}
	return c.runDiagnostic(ctx, host, cmd)
}

func (c *catalog) listDirectory(ctx context.Context, in Input) (string, error) {
	host, err := in.Str("host")
	if err != nil {
		return "", err
	}
	path, err := in.Str("path")
	if err != nil {
		return "", err
	}
	return c.runDiagnostic(ctx, host, "ls -la "+shellQuote(path))
}

func (c *catalog) checkFileAge(ctx context.Context, in Input) (string, error) {
	host, err := in.Str("host")
	if err != nil {
		return "", err
	}
	path, err := in.Str("path")
	if err != nil {
		return "", err
	}
	return c.runDiagnostic(ctx, host, "stat -c '%y %s %n' "+shellQuote(path))
}

func (c *catalog) checkCrontab(ctx context.Context, in Input) (string, error) {
	host, err := in.Str("host")
	if err != nil {
		return "", err
	}
	cmd := "crontab -l"
	if user := in.OptStr("user", ""); user != "" {
		cmd = "crontab -l -u " + shellQuote(user)
	}
	return c.runDiagnostic(ctx, host, cmd)
}

func (c *catalog) testConnectivity(ctx context.Context, in Input) (string, error) {
	from, err := in.Str("from_host")
	if err != nil {
		return "", err
	}
	to, err := in.Str("to")
	if err != nil {
		return "", err
	}
	return c.runDiagnostic(ctx, from, "ping -c 3 -W 2 "+shellQuote(to))
}

func (c *catalog) executeSafeCommand(ctx context.Context, in Input) (string, error) {
	host, err := in.Str("host")
	if err != nil {
		return "", err
	}
	command, err := in.Str("command")
	if err != nil {
		return "", err
	}

	class, err := c.deps.Validator.Validate(command, c.session.ValidateOptions(host))
	if err != nil {
		return "", err
	}
	if class == validator.ClassActionable {
		if err := c.session.RequireBand(BandRestart, "state-changing commands"); err != nil {
			return "", err
		}
	}

	result, runErr := c.deps.Runner.Run(ctx, host, command, class)
	result.Actionable = class == validator.ClassActionable
	c.session.Record(host, command, result)
	if result.Actionable {
		c.session.NoteActionable(runErr == nil && result.Succeeded())
	}
	if runErr != nil {
		return "", fmt.Errorf("command failed on %s: %v", host, runErr)
	}
	return renderResult(result), nil
}

func (c *catalog) restartService(ctx context.Context, in Input) (string, error) {
	host, err := in.Str("host")
	if err != nil {
		return "", err
	}
	if err := c.session.RequireBand(BandRestart, "restarting services"); err != nil {
		return "", err
	}

	var command string
	if container := in.OptStr("container", ""); container != "" {
		command = "docker restart " + container
	} else if service := in.OptStr("service", ""); service != "" {
		command = "systemctl restart " + service
	} else {
		return "", &InputError{Field: "service", Reason: "either service or container is required"}
	}

	// Self-protection still applies: restarting our own runtime must go
	// through the handoff.
	class, err := c.deps.Validator.Validate(command, c.session.ValidateOptions(host))
	if err != nil {
		return "", err
	}

	result, runErr := c.deps.Runner.Run(ctx, host, command, class)
	result.Actionable = class == validator.ClassActionable
	c.session.Record(host, command, result)
	c.session.NoteActionable(runErr == nil && result.Succeeded())
	if runErr != nil {
		return "", fmt.Errorf("restart failed on %s: %v", host, runErr)
	}
	return renderResult(result), nil
}

func (c *catalog) queryMetricHistory(ctx context.Context, in Input) (string, error) {
	metric, err := in.Str("metric")
	if err != nil {
		return "", err
	}
	window := 1 * time.Hour
	if raw := in.OptStr("range", ""); raw != "" {
		d, err := time.ParseDuration(raw)
		if err != nil || d <= 0 {
			return "", &InputError{Field: "range", Reason: "must be a duration like 1h or 30m"}
		}
		window = d
	}

	series, err := c.deps.Metrics.QueryRange(ctx, metric, window, 0)
	if err != nil {
		return "", fmt.Errorf("metrics query failed: %v", err)
	}
	if len(series) == 0 {
		return "no data for query", nil
	}

	var b strings.Builder
	for _, s := range series {
		fmt.Fprintf(&b, "%s: %d samples", labelString(s.Labels), len(s.Points))
		if len(s.Points) > 0 {
			first, last := s.Points[0], s.Points[len(s.Points)-1]
			fmt.Fprintf(&b, ", first=%.4g last=%.4g", first.Value, last.Value)
		}
		if trend, err := metricsapi.FitTrend(s.Points); err == nil {
			fmt.Fprintf(&b, ", slope=%.4g/h", trend.SlopePerHour)
			if target, terr := in.Num("predict_exhaustion"); terr == nil {
				if eta, ok := trend.TimeToValue(target); ok {
					fmt.Fprintf(&b, ", reaches %.4g in %s", target, eta.Round(time.Minute))
				} else {
					fmt.Fprintf(&b, ", never reaches %.4g at current trend", target)
				}
			}
		}
		b.WriteString("\n")
	}
	return truncate(b.String(), maxToolOutput), nil
}

func labelString(labels map[string]string) string {
	if len(labels) == 0 {
		return "{}"
	}
	parts := make([]string, 0, len(labels))
	for k, v := range labels {
		if k == "__name__" {
			parts = append([]string{v}, parts...)
			continue
		}
		parts = append(parts, k+"="+v)
	}
	return strings.Join(parts, " ")
}

func (c *catalog) queryLokiLogs(ctx context.Context, in Input) (string, error) {
	queryType, err := in.Str("query_type")
	if err != nil {
		return "", err
	}
	target, err := in.Str("target")
	if err != nil {
		return "", err
	}
	minutes := in.OptInt("minutes", 30)

	entries, err := c.deps.Logs.QueryTarget(ctx, queryType, target, minutes)
	if err != nil {
		return "", fmt.Errorf("log query failed: %v", err)
	}
	if len(entries) == 0 {
		return "no log lines in window", nil
	}

	var b strings.Builder
	for _, e := range entries {
		b.WriteString(e.Timestamp.Format(time.RFC3339))
		b.WriteString(" ")
		b.WriteString(e.Line)
		b.WriteString("\n")
	}
	return truncate(b.String(), maxToolOutput), nil
}

func (c *catalog) executeWorkflow(ctx context.Context, in Input) (string, error) {
	name, err := in.Str("workflow_name")
	if err != nil {
		return "", err
	}
	if err := c.session.RequireBand(BandPatterns, "orchestrator workflows"); err != nil {
		return "", err
	}
	data, _ := in["data"].(map[string]interface{})
	out, err := c.deps.Workflows.ExecuteWorkflow(ctx, name, data, in.OptBool("wait"))
	c.session.NoteActionable(err == nil)
	if err != nil {
		return "", fmt.Errorf("workflow %s failed: %v", name, err)
	}
	if out == "" {
		out = "workflow triggered"
	}
	return truncate(out, maxToolOutput), nil
}

func (c *catalog) listWorkflows(ctx context.Context, in Input) (string, error) {
	flows, err := c.deps.Workflows.ListWorkflows(ctx)
	if err != nil {
		return "", fmt.Errorf("listing workflows failed: %v", err)
	}
	if len(flows) == 0 {
		return "no workflows available", nil
	}
	var b strings.Builder
	for _, f := range flows {
		state := "inactive"
		if f.Active {
			state = "active"
		}
		fmt.Fprintf(&b, "%s (%s, id=%s)\n", f.Name, state, f.ID)
	}
	return b.String(), nil
}

func (c *catalog) restartAddon(ctx context.Context, in Input) (string, error) {
	slug, err := in.Str("slug")
	if err != nil {
		return "", err
	}
	if err := c.session.RequireBand(BandRestart, "addon restarts"); err != nil {
		return "", err
	}
	err = c.deps.Supervisor.RestartAddon(ctx, slug)
	c.session.NoteActionable(err == nil)
	if err != nil {
		return "", fmt.Errorf("addon restart failed: %v", err)
	}
	return "addon " + slug + " restarted", nil
}

func (c *catalog) reloadAutomations(ctx context.Context, in Input) (string, error) {
	if err := c.deps.Supervisor.ReloadAutomations(ctx); err != nil {
		return "", fmt.Errorf("automation reload failed: %v", err)
	}
	return "automations reloaded", nil
}

func (c *catalog) addonInfo(ctx context.Context, in Input) (string, error) {
	slug, err := in.Str("slug")
	if err != nil {
		return "", err
	}
	info, err := c.deps.Supervisor.AddonInfoFor(ctx, slug)
	if err != nil {
		return "", fmt.Errorf("addon info failed: %v", err)
	}
	return fmt.Sprintf("%s (%s): state=%s version=%s cpu=%.1f%% mem=%.1f%%",
		info.Name, info.Slug, info.State, info.Version, info.CPU, info.Memory), nil
}

func (c *catalog) containerDiagnostics(ctx context.Context, in Input) (string, error) {
	host, err := in.Str("host")
	if err != nil {
		return "", err
	}
	container, err := in.Str("container")
	if err != nil {
		return "", err
	}

	var b strings.Builder
	sections := []struct {
		title string
		cmd   string
	}{
		{"state", "docker inspect --format '{{.State.Status}} restarts={{.RestartCount}} oom={{.State.OOMKilled}} exit={{.State.ExitCode}}' " + container},
		{"logs", "docker logs --tail 50 " + container},
		{"resources", "docker stats --no-stream --format '{{.CPUPerc}} cpu, {{.MemUsage}}' " + container},
	}
	for _, s := range sections {
		out, err := c.runDiagnostic(ctx, host, s.cmd)
		if err != nil {
			out = err.Error()
		}
		fmt.Fprintf(&b, "== %s ==\n%s\n", s.title, out)
	}
	return truncate(b.String(), maxToolOutput), nil
}

func (c *catalog) serviceDependencies(ctx context.Context, in Input) (string, error) {
	host, err := in.Str("host")
	if err != nil {
		return "", err
	}
	service, err := in.Str("service")
	if err != nil {
		return "", err
	}
	return c.runDiagnostic(ctx, host, "systemctl list-dependencies "+shellQuote(service))
}

func (c *catalog) systemState(ctx context.Context, in Input) (string, error) {
	host, err := in.Str("host")
	if err != nil {
		return "", err
	}

	var b strings.Builder
	for _, cmd := range []string{
		"uptime",
		"free -m",
		"df -h",
		"systemctl --failed --no-legend",
	} {
		out, err := c.runDiagnostic(ctx, host, cmd)
		if err != nil {
			out = err.Error()
		}
		fmt.Fprintf(&b, "== %s ==\n%s\n", cmd, out)
	}
	return truncate(b.String(), maxToolOutput), nil
}

func (c *catalog) fixCrashLoop(ctx context.Context, in Input) (string, error) {
	host, err := in.Str("host")
	if err != nil {
		return "", err
	}
	container, err := in.Str("container")
	if err != nil {
		return "", err
	}
	composeDir, err := in.Str("compose_dir")
	if err != nil {
		return "", err
	}

	if !c.session.CrashLoop() {
		return "", fmt.Errorf("no crash loop detected for this alert; use get_container_diagnostics first")
	}
	if err := c.session.RequireBand(BandFull, "Dockerfile patching"); err != nil {
		return "", err
	}

	logs, err := c.runDiagnostic(ctx, host, "docker logs --tail 100 "+container)
	if err != nil {
		logs = err.Error()
	}
	dockerfile, err := c.runDiagnostic(ctx, host, "cat "+shellQuote(composeDir+"/Dockerfile"))
	if err != nil {
		dockerfile = "(no Dockerfile: " + err.Error() + ")"
	}

	c.session.EnableDockerfileOps()

	return fmt.Sprintf("Dockerfile operations unlocked for %s.\n"+
		"Patch files with `cat > %s/Dockerfile` style heredocs via execute_safe_command, "+
		"then rebuild with `docker compose build` and `docker compose up -d` in %s.\n\n"+
		"== crash logs ==\n%s\n\n== current Dockerfile ==\n%s",
		container, composeDir, composeDir, logs, dockerfile), nil
}

func (c *catalog) updateConfidence(ctx context.Context, in Input) (string, error) {
	score, err := in.Num("new")
	if err != nil {
		return "", err
	}
	if _, err := in.Str("reason"); err != nil {
		return "", err
	}
	if score < 0 || score > 1 {
		return "", &InputError{Field: "new", Reason: "must be between 0 and 1"}
	}

	applied := c.session.UpdateConfidence(score)
	msg := fmt.Sprintf("confidence set to %.2f (band %s)", applied, BandFor(applied))
	if applied < score {
		msg += "; scores above 0.90 require verify_hypothesis first"
	}
	return msg, nil
}

func (c *catalog) verifyHypothesis(ctx context.Context, in Input) (string, error) {
	hypothesis, err := in.Str("hypothesis")
	if err != nil {
		return "", err
	}
	if _, err := in.Str("evidence"); err != nil {
		return "", err
	}
	c.session.MarkHypothesisVerified()
	return "hypothesis recorded as verified: " + truncate(hypothesis, 500), nil
}

func (c *catalog) initiateSelfRestart(ctx context.Context, in Input) (string, error) {
	target, err := in.Str("target")
	if err != nil {
		return "", err
	}
	reason, err := in.Str("reason")
	if err != nil {
		return "", err
	}
	if c.session.OnSelfRestart == nil {
		return "", fmt.Errorf("self-restart handoff not available")
	}
	out, err := c.session.OnSelfRestart(target, reason)
	if err != nil {
		return "", fmt.Errorf("self-restart request failed: %v", err)
	}
	return out, nil
}
