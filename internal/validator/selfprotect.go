package validator

import (
	"regexp"
	"strings"
)

// selfGuard matches commands that would disrupt the service's own runtime.
type selfGuard struct {
	re       *regexp.Regexp
	target   string // self | database | docker-daemon | host
	selfHost bool   // only applies when the command targets the service's host
}

// buildSelfGuards compiles the protection patterns. Container names are
// matched as exact tokens (the name must be followed by whitespace or end
// of command), so "jarvis" never shadows "jarvis-agent".
func buildSelfGuards(config Config) []selfGuard {
	var guards []selfGuard

	containerOps := `docker (restart|stop|kill|rm( -f)?|compose (restart|stop|down))( -\S+)*`
	unitOps := `systemctl (restart|stop|kill)( -\S+)*`

	if name := regexp.QuoteMeta(strings.ToLower(config.ServiceContainer)); name != "" && config.ServiceContainer != "" {
		guards = append(guards,
			selfGuard{re: mustGuard(containerOps + ` ` + name + `(\s|$)`), target: "self"},
			selfGuard{re: mustGuard(unitOps + ` ` + name + `(\.service)?(\s|$)`), target: "self"},
		)
	}
	if name := regexp.QuoteMeta(strings.ToLower(config.DatabaseContainer)); name != "" && config.DatabaseContainer != "" {
		guards = append(guards,
			selfGuard{re: mustGuard(containerOps + ` ` + name + `(\s|$)`), target: "database"},
			selfGuard{re: mustGuard(unitOps + ` ` + name + `(\.service)?(\s|$)`), target: "database"},
		)
	}

	// Restarting the container daemon takes every container down with it,
	// this service included.
	guards = append(guards,
		selfGuard{re: mustGuard(unitOps + ` docker(\.service|\.socket)?(\s|$)`), target: "docker-daemon", selfHost: true},
		selfGuard{re: mustGuard(`service docker (restart|stop)(\s|$)`), target: "docker-daemon", selfHost: true},
	)

	// Host power operations are only a problem on the host this service
	// runs on; rebooting a remote target is a legitimate remediation.
	guards = append(guards,
		selfGuard{re: mustGuard(`(reboot|poweroff|halt)(\s|$)`), target: "host", selfHost: true},
		selfGuard{re: mustGuard(`shutdown( -\S+)*(\s|$)`), target: "host", selfHost: true},
		selfGuard{re: mustGuard(`init [06](\s|$)`), target: "host", selfHost: true},
	)

	return guards
}

func mustGuard(pattern string) *regexp.Regexp {
	return regexp.MustCompile(`(^|\s)(sudo )?` + pattern)
}

// selfProtectionTarget returns the restart target a command would disrupt,
// or "" when the command is safe.
func (v *Validator) selfProtectionTarget(cmd, targetHost string) string {
	lower := strings.ToLower(cmd)
	onSelfHost := targetHost == "" ||
		strings.EqualFold(targetHost, v.config.SelfHost) ||
		targetHost == "localhost" || targetHost == "127.0.0.1"

	for _, g := range v.guards {
		if g.selfHost && !onSelfHost {
			continue
		}
		if g.re.MatchString(lower) {
			return g.target
		}
	}
	return ""
}
