package learning

import (
	"testing"
	"time"

	"github.com/jarvisd/jarvis/internal/models"
	"github.com/jarvisd/jarvis/internal/store"
)

func newTestLearning(t *testing.T) *Store {
	t.Helper()
	cfg := store.DefaultConfig(t.TempDir())
	cfg.PruneInterval = time.Hour
	db, err := store.Open(cfg)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return New(db.DB())
}

func testAlert(name string, labels map[string]string) *models.Alert {
	if labels == nil {
		labels = map[string]string{}
	}
	labels[models.LabelAlertName] = name
	return &models.Alert{
		Fingerprint: "fp-" + name,
		Name:        name,
		Instance:    labels[models.LabelHost],
		Labels:      labels,
		Status:      models.StatusFiring,
	}
}

func TestConfidence(t *testing.T) {
	recent := time.Now().Add(-time.Hour)
	stale := time.Now().Add(-30 * 24 * time.Hour)

	tests := []struct {
		name      string
		successes int
		failures  int
		lastUsed  *time.Time
		want      float64
	}{
		{"no history", 0, 0, nil, 0.5},
		{"all success", 8, 0, nil, 0.95},
		{"all success recent", 8, 0, &recent, 0.95},
		{"mixed", 3, 1, nil, 0.75},
		{"mixed recent", 3, 1, &recent, 0.85},
		{"mixed stale", 3, 1, &stale, 0.75},
		{"failure penalty", 3, 3, nil, 0.45},
		{"all failure floors", 0, 10, nil, 0.3},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Confidence(tt.successes, tt.failures, tt.lastUsed)
			if diff := got - tt.want; diff > 0.001 || diff < -0.001 {
				t.Errorf("Confidence(%d, %d) = %v, want %v", tt.successes, tt.failures, got, tt.want)
			}
		})
	}
}

func TestSymptomFingerprint(t *testing.T) {
	alert := testAlert("DiskSpaceLow", map[string]string{
		models.LabelHost:    "web1",
		models.LabelService: "nginx",
		"extra":             "ignored",
	})
	fp := SymptomFingerprint(alert)
	want := "alertname=DiskSpaceLow|host=web1|service=nginx"
	if fp != want {
		t.Errorf("fingerprint = %q, want %q", fp, want)
	}

	// Label order in the map must not matter.
	again := SymptomFingerprint(testAlert("DiskSpaceLow", map[string]string{
		models.LabelService: "nginx",
		models.LabelHost:    "web1",
	}))
	if again != fp {
		t.Errorf("fingerprint not stable: %q vs %q", again, fp)
	}
}

func TestSimilarityRoutingCriticalGate(t *testing.T) {
	alert := testAlert("ContainerDown", map[string]string{
		models.LabelHost:      "web1",
		models.LabelContainer: "app",
	})

	exact := Similarity("alertname=ContainerDown|container=app|host=web1", alert)
	if exact < 0.99 {
		t.Errorf("exact match similarity = %v, want ~1.0", exact)
	}

	// Same name, different container: may not reach the hint threshold.
	wrongContainer := Similarity("alertname=ContainerDown|container=db|host=web1", alert)
	if wrongContainer >= 0.7 {
		t.Errorf("routing-critical mismatch scored %v, want < 0.7", wrongContainer)
	}

	// Subset pattern with all routing-critical labels matching is fine.
	subset := Similarity("alertname=ContainerDown|container=app", alert)
	if subset < 0.7 {
		t.Errorf("matching subset scored %v, want >= 0.7", subset)
	}
}

func TestUpsertMergesWithoutResettingCounts(t *testing.T) {
	s := newTestLearning(t)
	alert := testAlert("ServiceDown", map[string]string{models.LabelService: "nginx"})

	id, err := s.Upsert(Pattern{
		AlertName:          alert.Name,
		SymptomFingerprint: SymptomFingerprint(alert),
		SolutionCommands:   []string{"systemctl restart nginx"},
	})
	if err != nil {
		t.Fatalf("Upsert: %v", err)
	}
	if _, err := s.RecordSuccess(id, time.Second); err != nil {
		t.Fatalf("RecordSuccess: %v", err)
	}

	// Re-upserting the same identity refreshes metadata, keeps counts.
	id2, err := s.Upsert(Pattern{
		AlertName:          alert.Name,
		SymptomFingerprint: SymptomFingerprint(alert),
		SolutionCommands:   []string{"systemctl restart nginx", "systemctl status nginx"},
		CachedReasoning:    "restart clears wedged workers",
	})
	if err != nil {
		t.Fatalf("second Upsert: %v", err)
	}
	if id2 != id {
		t.Fatalf("upsert created a new row: %d vs %d", id2, id)
	}

	candidates, err := s.Lookup(alert)
	if err != nil {
		t.Fatalf("Lookup: %v", err)
	}
	if len(candidates) != 1 {
		t.Fatalf("expected 1 candidate, got %d", len(candidates))
	}
	p := candidates[0].Pattern
	if p.SuccessCount != 1 {
		t.Errorf("success count reset on upsert: %d", p.SuccessCount)
	}
	if len(p.SolutionCommands) != 2 {
		t.Errorf("solution commands not refreshed: %v", p.SolutionCommands)
	}
	if p.CachedReasoning == "" {
		t.Error("cached reasoning not merged")
	}
}

func TestTierProgression(t *testing.T) {
	s := newTestLearning(t)
	alert := testAlert("DiskSpaceLow", map[string]string{models.LabelHost: "web1"})

	// No pattern: full reasoning.
	tier, p, err := s.TierFor(alert)
	if err != nil {
		t.Fatalf("TierFor: %v", err)
	}
	if tier != TierFull || p != nil {
		t.Fatalf("empty store tier = %v (%v), want full with no pattern", tier, p)
	}

	id, err := s.Upsert(Pattern{
		AlertName:          alert.Name,
		SymptomFingerprint: SymptomFingerprint(alert),
		SolutionCommands:   []string{"docker system prune -f"},
	})
	if err != nil {
		t.Fatalf("Upsert: %v", err)
	}

	// Three successes with recency: 1.0 base clamps to 0.95 -> hint tier
	// (needs >= 3 successes), not yet cached (needs >= 5).
	for i := 0; i < 3; i++ {
		if _, err := s.RecordSuccess(id, time.Second); err != nil {
			t.Fatalf("RecordSuccess: %v", err)
		}
	}
	tier, p, err = s.TierFor(alert)
	if err != nil {
		t.Fatalf("TierFor: %v", err)
	}
	if tier != TierHint {
		t.Fatalf("tier after 3 successes = %v, want hint", tier)
	}
	if p == nil || p.ID != id {
		t.Fatalf("expected pattern %d, got %+v", id, p)
	}

	// Five successes promotes to cached.
	for i := 0; i < 2; i++ {
		if _, err := s.RecordSuccess(id, time.Second); err != nil {
			t.Fatalf("RecordSuccess: %v", err)
		}
	}
	tier, _, err = s.TierFor(alert)
	if err != nil {
		t.Fatalf("TierFor: %v", err)
	}
	if tier != TierCached {
		t.Errorf("tier after 5 successes = %v, want cached", tier)
	}
}

func TestFailureExcludesPatternFromCachedTier(t *testing.T) {
	s := newTestLearning(t)
	alert := testAlert("DiskSpaceLow", map[string]string{models.LabelHost: "web1"})
	commands := []string{"docker system prune -f"}

	id, err := s.Upsert(Pattern{
		AlertName:          alert.Name,
		SymptomFingerprint: SymptomFingerprint(alert),
		SolutionCommands:   commands,
	})
	if err != nil {
		t.Fatalf("Upsert: %v", err)
	}
	for i := 0; i < 6; i++ {
		if _, err := s.RecordSuccess(id, time.Second); err != nil {
			t.Fatalf("RecordSuccess: %v", err)
		}
	}
	if tier, _, _ := s.TierFor(alert); tier != TierCached {
		t.Fatalf("precondition: tier = %v, want cached", tier)
	}

	if err := s.RecordFailure(alert, commands, "disk filled again within minutes"); err != nil {
		t.Fatalf("RecordFailure: %v", err)
	}

	tier, p, err := s.TierFor(alert)
	if err != nil {
		t.Fatalf("TierFor: %v", err)
	}
	if tier == TierCached && p != nil && p.ID == id {
		t.Error("failed command sequence still served from cached tier")
	}

	failures, err := s.FailuresFor(alert)
	if err != nil {
		t.Fatalf("FailuresFor: %v", err)
	}
	if len(failures) != 1 || failures[0].FailCount != 1 {
		t.Errorf("unexpected failure log: %+v", failures)
	}

	// Repeat failure bumps the counter, not the row count.
	if err := s.RecordFailure(alert, commands, "same outcome"); err != nil {
		t.Fatalf("RecordFailure: %v", err)
	}
	failures, _ = s.FailuresFor(alert)
	if len(failures) != 1 || failures[0].FailCount != 2 {
		t.Errorf("failure counter not merged: %+v", failures)
	}
}

func TestSeedIsIdempotent(t *testing.T) {
	s := newTestLearning(t)

	if err := s.Seed(); err != nil {
		t.Fatalf("Seed: %v", err)
	}

	alert := testAlert("DiskSpaceLow", nil)
	candidates, err := s.Lookup(alert)
	if err != nil {
		t.Fatalf("Lookup: %v", err)
	}
	if len(candidates) != 1 {
		t.Fatalf("expected 1 seeded candidate, got %d", len(candidates))
	}
	if candidates[0].Pattern.Source != SourceSeeded {
		t.Errorf("source = %q, want seeded", candidates[0].Pattern.Source)
	}

	// Seeding again must not duplicate or reset.
	id := candidates[0].Pattern.ID
	if _, err := s.RecordSuccess(id, time.Second); err != nil {
		t.Fatalf("RecordSuccess: %v", err)
	}
	if err := s.Seed(); err != nil {
		t.Fatalf("second Seed: %v", err)
	}
	candidates, _ = s.Lookup(alert)
	if len(candidates) != 1 || candidates[0].Pattern.SuccessCount != 1 {
		t.Errorf("seed reset learned state: %+v", candidates)
	}
}

func TestStaticHints(t *testing.T) {
	if hints := StaticHints("disk"); len(hints) == 0 {
		t.Error("expected hints for disk category")
	}
	if hints := StaticHints("unknown"); hints != nil {
		t.Errorf("unexpected hints for unknown category: %v", hints)
	}
}
