package learning

import (
	"github.com/rs/zerolog/log"

	"github.com/jarvisd/jarvis/internal/metrics"
	"github.com/jarvisd/jarvis/internal/models"
)

// seedPatterns are well-known remediations shipped with the service. They
// start as advisory hints and earn their way into the cached tier like any
// learned pattern.
var seedPatterns = []Pattern{
	{
		AlertName:          "DiskSpaceLow",
		Category:           "disk",
		SymptomFingerprint: "alertname=DiskSpaceLow",
		SolutionCommands: []string{
			"journalctl --vacuum-time=3d",
			"docker system prune -f",
		},
		RiskTier: models.RiskLow,
		Source:   SourceSeeded,
	},
	{
		AlertName:          "ServiceDown",
		Category:           "systemd",
		SymptomFingerprint: "alertname=ServiceDown",
		SolutionCommands: []string{
			"systemctl status {{service}} --no-pager",
			"systemctl restart {{service}}",
		},
		RiskTier: models.RiskMedium,
		Source:   SourceSeeded,
	},
	{
		AlertName:          "ContainerDown",
		Category:           "docker",
		SymptomFingerprint: "alertname=ContainerDown",
		SolutionCommands: []string{
			"docker ps -a --filter name={{container}}",
			"docker restart {{container}}",
		},
		RiskTier: models.RiskMedium,
		Source:   SourceSeeded,
	},
	{
		AlertName:          "HighMemoryUsage",
		Category:           "memory",
		SymptomFingerprint: "alertname=HighMemoryUsage",
		SolutionCommands: []string{
			"ps aux --sort=-%mem | head -20",
		},
		RiskTier: models.RiskLow,
		Source:   SourceSeeded,
	},
}

// Seed inserts the shipped patterns. Existing rows win: the upsert merges
// metadata but never resets learned counts.
func (s *Store) Seed() error {
	for _, p := range seedPatterns {
		if _, err := s.Upsert(p); err != nil {
			return err
		}
	}
	log.Debug().Int("count", len(seedPatterns)).Msg("Seed patterns loaded")
	return nil
}

// categoryHints is a legacy hardcoded table mapping alert categories to
// diagnostic starting points. Learned patterns should replace it over time;
// consultations are counted so the migration is observable.
var categoryHints = map[string][]string{
	"disk":    {"df -h", "du -sh /var/log/* | sort -rh | head -10"},
	"memory":  {"free -m", "ps aux --sort=-%mem | head -20"},
	"cpu":     {"top -bn1 | head -25", "ps aux --sort=-%cpu | head -20"},
	"docker":  {"docker ps -a", "docker stats --no-stream"},
	"systemd": {"systemctl --failed", "journalctl -p err -n 50 --no-pager"},
	"network": {"ss -tlnp", "ip -br addr"},
}

// StaticHints returns the hardcoded diagnostic hints for a category, if any.
func StaticHints(category string) []string {
	hints, ok := categoryHints[category]
	if !ok {
		return nil
	}
	metrics.StaticHintLookupsTotal.WithLabelValues("category_hints").Inc()
	return hints
}
