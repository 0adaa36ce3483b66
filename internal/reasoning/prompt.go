package reasoning

import (
	"fmt"
	"sort"
	"strings"

	"github.com/jarvisd/jarvis/internal/learning"
	"github.com/jarvisd/jarvis/internal/models"
	"github.com/jarvisd/jarvis/internal/tools"
)

// PromptInput collects everything the system prompt is assembled from.
type PromptInput struct {
	InfraSummary string // operator-written description of the fleet
	Alert        *models.Alert
	Hints        []string // category hints and annotation extracts
	Runbook      string   // matched runbook text, verbatim
	Pattern      *learning.Pattern // similar learned pattern, offered as a hint
	Similarity   float64
	Confidence   float64
	CrashLoop    bool
}

// BuildSystemPrompt renders the system prompt for one attempt.
func BuildSystemPrompt(in PromptInput) string {
	var b strings.Builder

	b.WriteString("You are an infrastructure remediation agent for a self-hosted homelab. ")
	b.WriteString("You diagnose firing alerts and fix them using the provided tools. ")
	b.WriteString("Work incrementally: inspect before you act, verify after you act.\n")

	if in.InfraSummary != "" {
		b.WriteString("\n## Infrastructure\n")
		b.WriteString(in.InfraSummary)
		b.WriteString("\n")
	}

	b.WriteString("\n## Alert\n")
	writeAlert(&b, in.Alert)

	band := tools.BandFor(in.Confidence)
	fmt.Fprintf(&b, "\n## Confidence\nStarting confidence: %.2f (band: %s).\n", in.Confidence, band)
	b.WriteString(bandRules)

	if in.CrashLoop {
		b.WriteString("\nThis container is crash-looping. If a restart cannot fix it, " +
			"fix_container_crash_loop unlocks Dockerfile patching and image rebuild.\n")
	}

	if len(in.Hints) > 0 {
		b.WriteString("\n## Hints\n")
		for _, h := range in.Hints {
			b.WriteString("- ")
			b.WriteString(h)
			b.WriteString("\n")
		}
	}

	if in.Runbook != "" {
		b.WriteString("\n## Runbook\n")
		b.WriteString(in.Runbook)
		b.WriteString("\n")
	}

	if in.Pattern != nil {
		fmt.Fprintf(&b, "\n## Learned pattern (similarity %.2f, confidence %.2f, %d successes)\n",
			in.Similarity, in.Pattern.Confidence, in.Pattern.SuccessCount)
		b.WriteString("This sequence resolved a similar incident before. Verify it applies, then use it:\n")
		for _, cmd := range in.Pattern.SolutionCommands {
			b.WriteString("  ")
			b.WriteString(cmd)
			b.WriteString("\n")
		}
		if in.Pattern.CachedReasoning != "" {
			b.WriteString("Previous reasoning: ")
			b.WriteString(in.Pattern.CachedReasoning)
			b.WriteString("\n")
		}
	}

	b.WriteString(safetyRules)
	return b.String()
}

const bandRules = `Confidence bands gate what you may do:
- below 0.30: read-only inspection
- 0.30-0.50: safe investigative commands
- 0.50-0.70: service restarts, verified afterwards
- 0.70-0.90: apply learned remediation patterns
- above 0.90: full remediation including image rebuilds
Raise confidence with update_confidence as evidence accumulates. Crossing
0.90 requires a verify_hypothesis call first.`

const safetyRules = `
## Rules
- Never chain commands with ; or pipe into a shell. One command per call.
- Commands touching this service's own container, database, or host are
  rejected; request initiate_self_restart instead.
- Prefer the least invasive action that can clear the alert.
- When you are done, reply without tool calls: state the root cause, what
  you changed, and whether the alert should now clear.
`

func writeAlert(b *strings.Builder, alert *models.Alert) {
	fmt.Fprintf(b, "Name: %s\nInstance: %s\nSeverity: %s\nTarget host: %s\n",
		alert.Name, alert.Instance, alert.Severity, alert.TargetHost())

	if len(alert.Labels) > 0 {
		keys := make([]string, 0, len(alert.Labels))
		for k := range alert.Labels {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		b.WriteString("Labels:\n")
		for _, k := range keys {
			fmt.Fprintf(b, "  %s: %s\n", k, alert.Labels[k])
		}
	}
	if v := alert.Annotations["summary"]; v != "" {
		fmt.Fprintf(b, "Summary: %s\n", v)
	}
	if v := alert.Annotations["description"]; v != "" {
		fmt.Fprintf(b, "Description: %s\n", v)
	}
}
