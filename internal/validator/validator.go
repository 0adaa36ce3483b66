// Package validator decides whether a command proposed by the reasoning
// loop may execute. Three layers: a root whitelist that classifies commands
// as diagnostic or actionable, a blacklist that rejects shell chaining and
// substitution, and self-protection that refuses to let the service kill
// its own runtime without a restart handoff.
package validator

import (
	"fmt"
	"strings"

	"github.com/jarvisd/jarvis/internal/metrics"
)

// Class is the whitelist classification of a command.
type Class string

const (
	// ClassDiagnostic commands are read-only; their failures never halt a
	// batch.
	ClassDiagnostic Class = "diagnostic"
	// ClassActionable commands change state; a failure halts the batch.
	ClassActionable Class = "actionable"
)

// maxCommandLen rejects absurdly long commands outright.
const maxCommandLen = 10000

// Options carries per-request validation context.
type Options struct {
	// TargetHost is where the command will run, used to decide whether a
	// reboot targets the service's own host.
	TargetHost string
	// HandoffActive bypasses self-protection while a restart handoff is
	// pending for the matching target.
	HandoffActive bool
	// DockerfileOps widens the whitelist for the crash-loop remediation
	// tool: heredoc writes to Dockerfiles and compose build/up.
	DockerfileOps bool
}

// RejectionError explains why a command was refused.
type RejectionError struct {
	Reason  string
	Command string
	// SelfTarget is set when self-protection fired: the restart target the
	// caller should hand off instead (self, database, docker-daemon, host).
	SelfTarget string
}

func (e *RejectionError) Error() string {
	if e.SelfTarget != "" {
		return fmt.Sprintf("command rejected (%s): would disrupt %s; use the restart handoff endpoint instead", e.Reason, e.SelfTarget)
	}
	return fmt.Sprintf("command rejected (%s)", e.Reason)
}

// Config identifies the service's own runtime for self-protection.
type Config struct {
	// ServiceContainer is the container (or systemd unit) this service runs as.
	ServiceContainer string
	// DatabaseContainer is the container/unit holding the service database.
	DatabaseContainer string
	// SelfHost is the host this service runs on.
	SelfHost string
}

// Validator validates commands against the whitelist, blacklist, and
// self-protection rules.
type Validator struct {
	config Config
	guards []selfGuard
}

// New builds a validator for the given runtime identity.
func New(config Config) *Validator {
	return &Validator{
		config: config,
		guards: buildSelfGuards(config),
	}
}

// Validate checks one command. On success it returns the command's class;
// on rejection the error is a *RejectionError.
func (v *Validator) Validate(command string, opts Options) (Class, error) {
	trimmed := strings.TrimSpace(command)
	if trimmed == "" {
		return "", v.reject("empty_command", command, "")
	}
	if len(trimmed) > maxCommandLen {
		return "", v.reject("command_too_long", command, "")
	}

	normalized := normalize(trimmed)

	if reason := checkBlacklist(normalized); reason != "" {
		return "", v.reject(reason, command, "")
	}

	if target := v.selfProtectionTarget(normalized, opts.TargetHost); target != "" && !opts.HandoffActive {
		return "", v.reject("self_protection", command, target)
	}

	class, ok := classify(normalized, opts.DockerfileOps)
	if !ok {
		return "", v.reject("not_whitelisted", command, "")
	}

	if strings.Contains(normalized, "|") {
		if reason := checkPipes(normalized, class); reason != "" {
			return "", v.reject(reason, command, "")
		}
	}

	// docker exec is only as safe as the command it runs inside the
	// container. A shell-wrapped payload (sh -c / bash -c) re-enters the
	// full validation, since that is the escape hatch for arbitrary
	// commands; a direct payload is a container-internal binary the host
	// whitelist cannot enumerate, but a recognizably diagnostic one
	// downgrades the whole command.
	if isDockerExec(normalized) {
		wrapped, payload := dockerExecPayload(normalized)
		if payload == "" {
			return "", v.reject("docker_exec_no_payload", command, "")
		}
		if wrapped {
			inner, err := v.Validate(payload, opts)
			if err != nil {
				return "", err
			}
			class = inner
		} else if inner, ok := classify(payload, opts.DockerfileOps); ok && inner == ClassDiagnostic {
			class = ClassDiagnostic
		}
	}

	return class, nil
}

func isDockerExec(cmd string) bool {
	lower := strings.TrimPrefix(strings.ToLower(cmd), "sudo ")
	return strings.HasPrefix(lower, "docker exec")
}

// dockerExecPayload extracts the command executed inside the container
// from a normalized docker exec invocation, reporting whether it was
// wrapped in sh -c / bash -c. Returns "" when no payload is present.
func dockerExecPayload(cmd string) (bool, string) {
	fields := strings.Fields(strings.TrimPrefix(strings.ToLower(cmd), "sudo "))
	// fields[0] = docker, fields[1] = exec; skip flags up to the
	// container name.
	i := 2
	for i < len(fields) && strings.HasPrefix(fields[i], "-") {
		switch fields[i] {
		case "-u", "--user", "-w", "--workdir", "-e", "--env", "--env-file":
			i += 2
		default:
			i++
		}
	}
	i++ // container name
	if i >= len(fields) {
		return false, ""
	}
	rest := fields[i:]
	if (rest[0] == "sh" || rest[0] == "bash") && len(rest) >= 2 && rest[1] == "-c" {
		return true, strings.Join(rest[2:], " ")
	}
	return false, strings.Join(rest, " ")
}

func (v *Validator) reject(reason, command, selfTarget string) error {
	metrics.CommandsRejectedTotal.WithLabelValues(reason).Inc()
	return &RejectionError{Reason: reason, Command: command, SelfTarget: selfTarget}
}

// normalize strips shell quoting and escape characters and collapses
// whitespace so quoted variants ('rm' -rf, \rm, rm\t-rf) still match the
// rule tables.
func normalize(cmd string) string {
	replacer := strings.NewReplacer(
		"\\\n", " ", // line continuations join into one logical command
		"\\", "",
		"'", "",
		"\"", "",
	)
	fields := strings.Fields(replacer.Replace(cmd))
	return strings.Join(fields, " ")
}

// checkBlacklist rejects shell chaining, substitution, and pipe-to-shell.
// Backticks survive normalization deliberately so they can be rejected here.
func checkBlacklist(cmd string) string {
	lower := strings.ToLower(cmd)

	if strings.Contains(cmd, ";") {
		return "command_chaining"
	}
	if strings.Contains(cmd, "`") || strings.Contains(cmd, "$(") {
		return "command_substitution"
	}
	if hasBareAmpersand(cmd) {
		return "backgrounding"
	}
	for _, p := range []string{"| bash", "| sh", "|bash", "|sh "} {
		if strings.Contains(lower, p) || strings.HasSuffix(lower, strings.TrimSpace(p)) {
			return "pipe_to_shell"
		}
	}
	for _, builtin := range []string{"eval ", "source ", ". /"} {
		if strings.HasPrefix(lower, builtin) {
			return "shell_builtin"
		}
	}
	// exec is a shell builtin that replaces the process; docker exec is a
	// container operation and stays allowed.
	if strings.HasPrefix(lower, "exec ") {
		return "shell_builtin"
	}
	return ""
}

// hasBareAmpersand reports a single & used for backgrounding, ignoring &&,
// 2>&1 style fd duplication, and &> redirection.
func hasBareAmpersand(cmd string) bool {
	for i := 0; i < len(cmd); i++ {
		if cmd[i] != '&' {
			continue
		}
		// && is conditional chaining, allowed.
		if i+1 < len(cmd) && cmd[i+1] == '&' {
			i++
			continue
		}
		// &> redirects both streams, allowed.
		if i+1 < len(cmd) && cmd[i+1] == '>' {
			continue
		}
		// >&N fd duplication (2>&1), allowed.
		if i > 0 && cmd[i-1] == '>' {
			continue
		}
		return true
	}
	return false
}
