package learning

import (
	"sort"
	"strings"

	"github.com/jarvisd/jarvis/internal/models"
)

// maxFingerprintLen caps the serialized symptom fingerprint.
const maxFingerprintLen = 5000

// priorityLabels are the labels included in the symptom fingerprint, in
// fixed order. Everything else is noise for identity purposes.
var priorityLabels = []string{
	models.LabelHost,
	models.LabelContainer,
	models.LabelService,
	models.LabelSystem,
	models.LabelJob,
}

// labelWeights rank candidate patterns during lookup. The alert name
// dominates; routing-critical labels come next.
var labelWeights = map[string]float64{
	models.LabelAlertName: 4.0,
	models.LabelHost:      3.0,
	models.LabelContainer: 2.75,
	models.LabelService:   2.5,
	models.LabelSystem:    2.0,
	models.LabelJob:       1.5,
}

const defaultLabelWeight = 1.0

// routingCritical are labels that must all match before a subset pattern
// can qualify for the cached or hint tiers.
var routingCritical = []string{
	models.LabelHost,
	models.LabelContainer,
	models.LabelService,
}

// SymptomFingerprint builds the pattern identity for an alert: the alert
// name plus its priority labels, sorted, pipe-joined. All timestamps this
// store compares against are UTC, so the fingerprint carries none.
func SymptomFingerprint(alert *models.Alert) string {
	parts := make([]string, 0, len(priorityLabels)+1)
	parts = append(parts, "alertname="+alert.Name)
	for _, key := range priorityLabels {
		if v := alert.Labels[key]; v != "" {
			parts = append(parts, key+"="+v)
		}
	}
	sort.Strings(parts)
	fp := strings.Join(parts, "|")
	if len(fp) > maxFingerprintLen {
		fp = fp[:maxFingerprintLen]
	}
	return fp
}

// Similarity scores a stored pattern's fingerprint against an incoming
// alert. The score is the weighted fraction of the pattern's labels found
// in the alert; a strict-subset pattern only scores >= 0.7 when every
// routing-critical label it names matches the alert.
func Similarity(patternFingerprint string, alert *models.Alert) float64 {
	patternLabels := parseFingerprint(patternFingerprint)
	if len(patternLabels) == 0 {
		return 0
	}

	alertLabels := map[string]string{models.LabelAlertName: alert.Name}
	for k, v := range alert.Labels {
		if v != "" {
			alertLabels[k] = v
		}
	}

	var matched, total float64
	routingMismatch := false
	for key, want := range patternLabels {
		w := defaultLabelWeight
		if lw, ok := labelWeights[key]; ok {
			w = lw
		}
		total += w
		if alertLabels[key] == want {
			matched += w
		} else if isRoutingCritical(key) {
			routingMismatch = true
		}
	}
	if total == 0 {
		return 0
	}
	score := matched / total
	if routingMismatch && score >= 0.7 {
		score = 0.69
	}
	return score
}

func parseFingerprint(fp string) map[string]string {
	labels := make(map[string]string)
	for _, part := range strings.Split(fp, "|") {
		if k, v, ok := strings.Cut(part, "="); ok && k != "" {
			labels[k] = v
		}
	}
	return labels
}

func isRoutingCritical(key string) bool {
	for _, k := range routingCritical {
		if k == key {
			return true
		}
	}
	return false
}
