package learning

import (
	"encoding/json"
	"sort"

	"github.com/jarvisd/jarvis/internal/metrics"
	"github.com/jarvisd/jarvis/internal/models"
)

// Tier is the planner's execution tier for an alert.
type Tier string

const (
	TierCached Tier = "cached"
	TierHint   Tier = "hint"
	TierFull   Tier = "full"
	TierNone   Tier = "none"
)

// Cached-tier and hint-tier entry thresholds.
const (
	cachedMinConfidence = 0.90
	cachedMinSuccesses  = 5
	hintMinConfidence   = 0.70
	hintMinSuccesses    = 3
	minSimilarity       = 0.5
)

// Candidate pairs a pattern with its similarity to the incoming alert.
type Candidate struct {
	Pattern    Pattern `json:"pattern"`
	Similarity float64 `json:"similarity"`
}

// Lookup returns candidate patterns for the alert, best first. Sort order
// is confidence, with similarity as the tiebreaker.
func (s *Store) Lookup(alert *models.Alert) ([]Candidate, error) {
	patterns, err := s.patternsByName(alert.Name)
	if err != nil {
		return nil, err
	}

	var candidates []Candidate
	for _, p := range patterns {
		sim := Similarity(p.SymptomFingerprint, alert)
		if sim < minSimilarity {
			continue
		}
		candidates = append(candidates, Candidate{Pattern: p, Similarity: sim})
	}
	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].Pattern.Confidence != candidates[j].Pattern.Confidence {
			return candidates[i].Pattern.Confidence > candidates[j].Pattern.Confidence
		}
		return candidates[i].Similarity > candidates[j].Similarity
	})
	return candidates, nil
}

// TierFor picks the execution tier for an alert. Patterns whose command
// sequence appears in the failure log for this fingerprint are excluded
// from the cached and hint tiers.
func (s *Store) TierFor(alert *models.Alert) (Tier, *Pattern, error) {
	candidates, err := s.Lookup(alert)
	if err != nil {
		return TierFull, nil, err
	}
	if len(candidates) == 0 {
		return TierFull, nil, nil
	}

	failures, err := s.FailuresFor(alert)
	if err != nil {
		return TierFull, nil, err
	}
	failed := make(map[string]bool, len(failures))
	for _, f := range failures {
		failed[commandsKey(f.Commands)] = true
	}

	for i := range candidates {
		p := &candidates[i].Pattern
		if failed[commandsKey(p.SolutionCommands)] {
			continue
		}
		if p.Confidence >= cachedMinConfidence && p.SuccessCount >= cachedMinSuccesses {
			metrics.PatternTierSelections.WithLabelValues(string(TierCached)).Inc()
			return TierCached, p, nil
		}
		if p.Confidence >= hintMinConfidence && p.SuccessCount >= hintMinSuccesses {
			metrics.PatternTierSelections.WithLabelValues(string(TierHint)).Inc()
			return TierHint, p, nil
		}
		// Lower-confidence patterns ride along as advisory context only.
		metrics.PatternTierSelections.WithLabelValues(string(TierFull)).Inc()
		return TierFull, p, nil
	}
	metrics.PatternTierSelections.WithLabelValues(string(TierFull)).Inc()
	return TierFull, nil, nil
}

func commandsKey(commands []string) string {
	b, err := json.Marshal(commands)
	if err != nil {
		return ""
	}
	return string(b)
}
