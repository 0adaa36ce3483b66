package tools

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/jarvisd/jarvis/internal/metricsapi"
	"github.com/jarvisd/jarvis/internal/models"
	"github.com/jarvisd/jarvis/internal/oracle"
	"github.com/jarvisd/jarvis/internal/validator"
)

type fakeRunner struct {
	commands []string
	hosts    []string
	result   models.CommandResult
	err      error
}

func (f *fakeRunner) Run(ctx context.Context, host, command string, class validator.Class) (models.CommandResult, error) {
	f.hosts = append(f.hosts, host)
	f.commands = append(f.commands, command)
	return f.result, f.err
}

type fakeMetrics struct {
	series []metricsapi.Series
	err    error
}

func (f *fakeMetrics) QueryRange(ctx context.Context, query string, window, step time.Duration) ([]metricsapi.Series, error) {
	return f.series, f.err
}

type recordedCommand struct {
	host    string
	command string
	result  models.CommandResult
}

type fakeRecorder struct{ recorded []recordedCommand }

func (f *fakeRecorder) RecordCommand(host, command string, result models.CommandResult) {
	f.recorded = append(f.recorded, recordedCommand{host, command, result})
}

func testSetup(t *testing.T, confidence float64) (*Registry, *Session, *fakeRunner, *fakeRecorder) {
	t.Helper()
	runner := &fakeRunner{result: models.CommandResult{Stdout: "ok", ExitCode: 0}}
	recorder := &fakeRecorder{}
	session := NewSession(&models.Alert{Name: "ServiceDown"}, "web1", "jarvishost", confidence, recorder)
	v := validator.New(validator.Config{
		ServiceContainer:  "jarvis",
		DatabaseContainer: "jarvis-db",
		SelfHost:          "jarvishost",
	})
	reg := Build(Deps{Runner: runner, Validator: v, Metrics: &fakeMetrics{}}, session)
	return reg, session, runner, recorder
}

func execute(t *testing.T, reg *Registry, name string, input map[string]interface{}) oracle.ToolResult {
	t.Helper()
	return reg.Execute(context.Background(), oracle.ToolCall{ID: "t1", Name: name, Input: input})
}

func TestUnknownTool(t *testing.T) {
	reg, _, _, _ := testSetup(t, 0.5)
	res := execute(t, reg, "format_disk", nil)
	if !res.IsError || !strings.Contains(res.Content, "unknown tool") {
		t.Errorf("result = %+v, want unknown-tool error", res)
	}
}

func TestMissingInputField(t *testing.T) {
	reg, _, _, _ := testSetup(t, 0.5)
	res := execute(t, reg, "read_file", map[string]interface{}{"host": "web1"})
	if !res.IsError || !strings.Contains(res.Content, "invalid tool input") {
		t.Errorf("result = %+v, want input error", res)
	}
}

func TestReadFileBuildsTail(t *testing.T) {
	reg, _, runner, recorder := testSetup(t, 0.2)
	res := execute(t, reg, "read_file", map[string]interface{}{
		"host": "web1", "path": "/var/log/syslog", "lines": float64(100),
	})
	if res.IsError {
		t.Fatalf("unexpected error: %s", res.Content)
	}
	if len(runner.commands) != 1 || runner.commands[0] != "tail -n 100 '/var/log/syslog'" {
		t.Errorf("commands = %v", runner.commands)
	}
	if len(recorder.recorded) != 1 {
		t.Errorf("recorded %d commands, want 1", len(recorder.recorded))
	}
}

func TestExecuteSafeCommandRejectsBlacklisted(t *testing.T) {
	reg, _, runner, _ := testSetup(t, 0.8)
	res := execute(t, reg, "execute_safe_command", map[string]interface{}{
		"host": "web1", "command": "df -h; rm -rf /",
	})
	if !res.IsError {
		t.Fatal("chained command was not rejected")
	}
	if len(runner.commands) != 0 {
		t.Errorf("rejected command still executed: %v", runner.commands)
	}
}

func TestExecuteSafeCommandSelfProtection(t *testing.T) {
	reg, _, runner, _ := testSetup(t, 0.95)
	res := execute(t, reg, "execute_safe_command", map[string]interface{}{
		"host": "jarvishost", "command": "docker restart jarvis",
	})
	if !res.IsError || !strings.Contains(res.Content, "restart handoff") {
		t.Errorf("result = %+v, want self-protection rejection", res)
	}
	if len(runner.commands) != 0 {
		t.Error("protected command executed")
	}
}

func TestActionableGatedByBand(t *testing.T) {
	reg, _, runner, _ := testSetup(t, 0.35) // investigative band
	res := execute(t, reg, "execute_safe_command", map[string]interface{}{
		"host": "web1", "command": "systemctl restart nginx",
	})
	if !res.IsError || !strings.Contains(res.Content, "does not permit") {
		t.Errorf("result = %+v, want band rejection", res)
	}
	if len(runner.commands) != 0 {
		t.Error("gated command executed")
	}

	// Diagnostic commands stay allowed in the same band.
	res = execute(t, reg, "execute_safe_command", map[string]interface{}{
		"host": "web1", "command": "systemctl status nginx",
	})
	if res.IsError {
		t.Errorf("diagnostic rejected: %s", res.Content)
	}
}

func TestRestartServiceBand(t *testing.T) {
	reg, _, runner, _ := testSetup(t, 0.45)
	res := execute(t, reg, "restart_service", map[string]interface{}{
		"host": "web1", "service": "nginx",
	})
	if !res.IsError {
		t.Fatal("restart allowed below restart band")
	}

	reg2, _, runner2, _ := testSetup(t, 0.6)
	res = execute(t, reg2, "restart_service", map[string]interface{}{
		"host": "web1", "container": "grafana",
	})
	if res.IsError {
		t.Fatalf("restart rejected at 0.6: %s", res.Content)
	}
	if runner2.commands[0] != "docker restart grafana" {
		t.Errorf("command = %q", runner2.commands[0])
	}
	_ = runner
}

func TestConfidenceCapWithoutVerifiedHypothesis(t *testing.T) {
	reg, session, _, _ := testSetup(t, 0.6)

	res := execute(t, reg, "update_confidence", map[string]interface{}{
		"new": 0.95, "reason": "logs show OOM kill",
	})
	if res.IsError {
		t.Fatalf("update_confidence failed: %s", res.Content)
	}
	if !strings.Contains(res.Content, "verify_hypothesis") {
		t.Errorf("clamp not explained: %s", res.Content)
	}
	if got := session.Confidence(); got != 0.90 {
		t.Errorf("confidence = %v, want clamped 0.90", got)
	}

	execute(t, reg, "verify_hypothesis", map[string]interface{}{
		"hypothesis": "container OOM", "evidence": "dmesg oom-killer entries",
	})
	execute(t, reg, "update_confidence", map[string]interface{}{
		"new": 0.95, "reason": "hypothesis verified",
	})
	if got := session.Confidence(); got != 0.95 {
		t.Errorf("confidence after verification = %v, want 0.95", got)
	}
}

func TestCrashLoopFixRequiresDetection(t *testing.T) {
	reg, session, _, _ := testSetup(t, 0.95)
	session.MarkHypothesisVerified()
	session.UpdateConfidence(0.95)

	input := map[string]interface{}{
		"host": "web1", "container": "homebridge", "compose_dir": "/opt/homebridge",
	}
	res := execute(t, reg, "fix_container_crash_loop", input)
	if !res.IsError || !strings.Contains(res.Content, "no crash loop detected") {
		t.Errorf("result = %+v, want crash-loop gate", res)
	}

	session.SetCrashLoop(true)
	res = execute(t, reg, "fix_container_crash_loop", input)
	if res.IsError {
		t.Fatalf("crash-loop fix rejected: %s", res.Content)
	}
	if !session.ValidateOptions("web1").DockerfileOps {
		t.Error("Dockerfile-ops mode not enabled")
	}
}

func TestCrashLoopFixRequiresFullBand(t *testing.T) {
	reg, session, _, _ := testSetup(t, 0.8)
	session.SetCrashLoop(true)
	res := execute(t, reg, "fix_container_crash_loop", map[string]interface{}{
		"host": "web1", "container": "homebridge", "compose_dir": "/opt/homebridge",
	})
	if !res.IsError || !strings.Contains(res.Content, "does not permit") {
		t.Errorf("result = %+v, want band rejection", res)
	}
}

func TestMetricHistoryPredictsExhaustion(t *testing.T) {
	base := time.Now().Add(-2 * time.Hour)
	metricsClient := &fakeMetrics{series: []metricsapi.Series{{
		Labels: map[string]string{"__name__": "disk_used_percent", "host": "web1"},
		Points: []metricsapi.Point{
			{Timestamp: base, Value: 90},
			{Timestamp: base.Add(time.Hour), Value: 92},
			{Timestamp: base.Add(2 * time.Hour), Value: 94},
		},
	}}}
	runner := &fakeRunner{}
	session := NewSession(&models.Alert{Name: "DiskSpaceLow"}, "web1", "jarvishost", 0.5, nil)
	v := validator.New(validator.Config{ServiceContainer: "jarvis", SelfHost: "jarvishost"})
	reg := Build(Deps{Runner: runner, Validator: v, Metrics: metricsClient}, session)

	res := execute(t, reg, "query_metric_history", map[string]interface{}{
		"metric": "disk_used_percent{host=\"web1\"}", "range": "2h",
		"predict_exhaustion": float64(100),
	})
	if res.IsError {
		t.Fatalf("query failed: %s", res.Content)
	}
	if !strings.Contains(res.Content, "reaches 100 in 3h") {
		t.Errorf("no exhaustion prediction in: %s", res.Content)
	}
}

func TestOutputTruncated(t *testing.T) {
	reg, _, runner, _ := testSetup(t, 0.5)
	runner.result = models.CommandResult{Stdout: strings.Repeat("x", 40*1024), ExitCode: 0}
	res := execute(t, reg, "read_file", map[string]interface{}{
		"host": "web1", "path": "/var/log/big.log",
	})
	if res.IsError {
		t.Fatalf("read failed: %s", res.Content)
	}
	if len(res.Content) > maxToolOutput+100 {
		t.Errorf("output not truncated: %d bytes", len(res.Content))
	}
	if !strings.Contains(res.Content, "truncated") {
		t.Error("truncation marker missing")
	}
}

func TestWorkflowToolsOmittedWhenUnconfigured(t *testing.T) {
	reg, _, _, _ := testSetup(t, 0.5)
	for _, def := range reg.Definitions() {
		if def.Name == "execute_n8n_workflow" || def.Name == "restart_ha_addon" {
			t.Errorf("tool %s offered without a configured backend", def.Name)
		}
	}
	res := execute(t, reg, "execute_n8n_workflow", map[string]interface{}{"workflow_name": "x"})
	if !res.IsError {
		t.Error("unregistered tool executed")
	}
}

func TestSelfRestartHook(t *testing.T) {
	reg, session, _, _ := testSetup(t, 0.5)
	var gotTarget, gotReason string
	session.OnSelfRestart = func(target, reason string) (string, error) {
		gotTarget, gotReason = target, reason
		return "handoff_initiated", nil
	}

	res := execute(t, reg, "initiate_self_restart", map[string]interface{}{
		"target": "self", "reason": "memory pressure",
	})
	if res.IsError {
		t.Fatalf("self restart failed: %s", res.Content)
	}
	if gotTarget != "self" || gotReason != "memory pressure" {
		t.Errorf("hook got %q/%q", gotTarget, gotReason)
	}
	if res.Content != "handoff_initiated" {
		t.Errorf("content = %q", res.Content)
	}
}
