package validator

import "strings"

// diagnosticPrefixes are read-only command shapes. Longest match wins over
// the actionable table, so "docker ps" stays diagnostic while "docker
// restart" is actionable.
var diagnosticPrefixes = []string{
	"cat ",
	"df",
	"dig ",
	"dmesg",
	"docker inspect",
	"docker logs",
	"docker ps",
	"docker stats",
	"docker system df",
	"docker top",
	"du ",
	"find ",
	"free",
	"head ",
	"hostname",
	"ip ",
	"iostat",
	"journalctl",
	"last",
	"ls ",
	"lsblk",
	"lsof",
	"mount",
	"netstat",
	"nproc",
	"nslookup ",
	"nvidia-smi",
	"ping ",
	"ps ",
	"pvesm status",
	"sensors",
	"smartctl",
	"ss ",
	"stat ",
	"systemctl is-active",
	"systemctl is-failed",
	"systemctl list-units",
	"systemctl show",
	"systemctl status",
	"systemctl --failed",
	"tail ",
	"top ",
	"uname",
	"uptime",
	"vmstat",
	"w",
	"wc ",
	"which ",
	"zfs list",
	"zpool list",
	"zpool status",
}

// actionablePrefixes change state. Destruction-class roots (rm -rf, mkfs,
// dd) are absent on purpose: anything unlisted is rejected.
var actionablePrefixes = []string{
	"apt-get install",
	"apt install",
	"certbot renew",
	"docker compose restart",
	"docker compose up",
	"docker exec",
	"docker restart",
	"docker rm",
	"docker start",
	"docker stop",
	"docker system prune",
	"docker image prune",
	"fstrim",
	"journalctl --vacuum-size",
	"journalctl --vacuum-time",
	"kill ",
	"logrotate",
	"mkdir -p",
	"mv ",
	"pct start",
	"pct stop",
	"qm start",
	"qm stop",
	"reboot",
	"rm ",
	"service ",
	"shutdown",
	"swapoff",
	"swapon",
	"systemctl daemon-reload",
	"systemctl kill",
	"systemctl reload",
	"systemctl restart",
	"systemctl start",
	"systemctl stop",
	"truncate -s",
	"zfs set",
}

// dockerfilePrefixes are additionally allowed only in Dockerfile-operations
// mode, used by the crash-loop remediation tool to rebuild a broken image.
var dockerfilePrefixes = []string{
	"cat >",
	"cat >>",
	"tee ",
	"docker build",
	"docker compose build",
	"docker compose config",
	"cp ",
}

// safePipeFilters may appear on the right-hand side of a pipe in a
// diagnostic pipeline (dmesg | tail, docker ps | grep ...).
var safePipeFilters = []string{
	"awk",
	"column",
	"cut",
	"egrep",
	"grep",
	"head",
	"jq",
	"sort",
	"tail",
	"tr",
	"uniq",
	"wc",
	"xargs echo",
}

// classify matches the command root against the whitelist tables. sudo is
// transparent for classification; the executor handles stripping it for
// local runs.
func classify(cmd string, dockerfileOps bool) (Class, bool) {
	lower := strings.ToLower(cmd)
	lower = strings.TrimPrefix(lower, "sudo ")

	// Ignore pipes and redirects when matching the root.
	root := lower
	if i := strings.IndexByte(root, '|'); i > 0 {
		root = strings.TrimSpace(root[:i])
	}

	diagLen := longestPrefix(root, diagnosticPrefixes)
	actLen := longestPrefix(root, actionablePrefixes)
	if dockerfileOps && mentionsDockerAsset(lower) {
		if n := longestPrefix(root, dockerfilePrefixes); n > actLen {
			actLen = n
		}
	}

	switch {
	case diagLen == 0 && actLen == 0:
		return "", false
	case actLen > diagLen:
		return ClassActionable, true
	default:
		return ClassDiagnostic, true
	}
}

func longestPrefix(cmd string, prefixes []string) int {
	best := 0
	for _, p := range prefixes {
		if len(p) <= best {
			continue
		}
		if strings.HasPrefix(cmd, p) || cmd == strings.TrimSpace(p) {
			best = len(p)
		}
	}
	return best
}

// mentionsDockerAsset keeps Dockerfile-operations mode scoped to container
// build files rather than arbitrary filesystem writes.
func mentionsDockerAsset(cmd string) bool {
	return strings.Contains(cmd, "dockerfile") ||
		strings.Contains(cmd, "docker-compose") ||
		strings.Contains(cmd, "compose.yaml") ||
		strings.Contains(cmd, "compose.yml") ||
		strings.HasPrefix(cmd, "docker build") ||
		strings.HasPrefix(cmd, "docker compose")
}

// checkPipes validates a piped command: only diagnostic pipelines are
// allowed, and every downstream segment must start with a safe filter.
func checkPipes(cmd string, class Class) string {
	if class != ClassDiagnostic {
		return "pipe_in_actionable"
	}
	segments := strings.Split(cmd, "|")
	for _, seg := range segments[1:] {
		seg = strings.ToLower(strings.TrimSpace(seg))
		if seg == "" {
			return "unsafe_pipe"
		}
		ok := false
		for _, filter := range safePipeFilters {
			if seg == filter || strings.HasPrefix(seg, filter+" ") {
				ok = true
				break
			}
		}
		if !ok {
			return "unsafe_pipe"
		}
	}
	return ""
}
