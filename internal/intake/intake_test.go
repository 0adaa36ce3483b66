package intake

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jarvisd/jarvis/internal/models"
	"github.com/jarvisd/jarvis/internal/planner"
)

type fakeDeduper struct {
	err     error
	dup     bool
	cleared []string
}

func (f *fakeDeduper) CheckAndSetFingerprint(fingerprint string, ttl time.Duration) (bool, error) {
	if f.err != nil {
		return false, f.err
	}
	return !f.dup, nil
}

func (f *fakeDeduper) ClearEscalation(alertName, instance string) error {
	f.cleared = append(f.cleared, alertName+"|"+instance)
	return nil
}

type fakePlanner struct {
	handled []*models.Alert
	outcome planner.Outcome
}

func (f *fakePlanner) Handle(ctx context.Context, alert *models.Alert) planner.Outcome {
	f.handled = append(f.handled, alert)
	return f.outcome
}

type fakeBuffer struct {
	full   bool
	queued []*models.Alert
}

func (f *fakeBuffer) Enqueue(alert *models.Alert) bool {
	if f.full {
		return false
	}
	f.queued = append(f.queued, alert)
	return true
}

type fakeAnnouncer struct {
	resolved []string
}

func (f *fakeAnnouncer) Resolution(ctx context.Context, alert *models.Alert) {
	f.resolved = append(f.resolved, alert.Name)
}

func firing(name string) *models.Alert {
	return &models.Alert{
		Fingerprint: "fp-" + name,
		Name:        name,
		Instance:    "web1",
		Severity:    models.SeverityWarning,
		Status:      models.StatusFiring,
	}
}

func TestProcessRoutesToPlanner(t *testing.T) {
	p := &fakePlanner{outcome: planner.Outcome{Disposition: models.DispositionProcessed}}
	g := New(&fakeDeduper{}, p, &fakeBuffer{}, &fakeAnnouncer{}, time.Minute)

	out := g.Process(context.Background(), firing("ServiceDown"))
	if out.Disposition != models.DispositionProcessed {
		t.Errorf("disposition = %s", out.Disposition)
	}
	if len(p.handled) != 1 {
		t.Errorf("planner called %d times", len(p.handled))
	}
}

func TestProcessDedupHit(t *testing.T) {
	p := &fakePlanner{}
	g := New(&fakeDeduper{dup: true}, p, &fakeBuffer{}, &fakeAnnouncer{}, time.Minute)

	out := g.Process(context.Background(), firing("ServiceDown"))
	if out.Disposition != models.DispositionDeduplicated {
		t.Errorf("disposition = %s", out.Disposition)
	}
	if len(p.handled) != 0 {
		t.Error("planner called on dedup hit")
	}
}

func TestProcessResolvedClearsEscalation(t *testing.T) {
	dd := &fakeDeduper{}
	ann := &fakeAnnouncer{}
	p := &fakePlanner{}
	g := New(dd, p, &fakeBuffer{}, ann, time.Minute)

	a := firing("ServiceDown")
	a.Status = models.StatusResolved
	out := g.Process(context.Background(), a)

	if out.Disposition != models.DispositionResolved {
		t.Errorf("disposition = %s", out.Disposition)
	}
	if len(dd.cleared) != 1 || dd.cleared[0] != "ServiceDown|web1" {
		t.Errorf("cleared = %v", dd.cleared)
	}
	if len(ann.resolved) != 1 {
		t.Errorf("resolutions = %v", ann.resolved)
	}
	if len(p.handled) != 0 {
		t.Error("planner called for a resolution")
	}
}

func TestProcessPersistenceDownQueues(t *testing.T) {
	buf := &fakeBuffer{}
	g := New(&fakeDeduper{err: errors.New("db locked")}, &fakePlanner{}, buf, &fakeAnnouncer{}, time.Minute)

	out := g.Process(context.Background(), firing("ServiceDown"))
	if out.Disposition != models.DispositionQueued || out.ErrorKind != models.ErrPersistenceUnavailable {
		t.Errorf("outcome = %+v", out)
	}
	if len(buf.queued) != 1 {
		t.Errorf("queued = %d", len(buf.queued))
	}
}

func TestProcessQueueOverflow(t *testing.T) {
	g := New(&fakeDeduper{err: errors.New("db locked")}, &fakePlanner{}, &fakeBuffer{full: true}, &fakeAnnouncer{}, time.Minute)

	out := g.Process(context.Background(), firing("ServiceDown"))
	if out.Disposition != models.DispositionOverflow {
		t.Errorf("disposition = %s", out.Disposition)
	}
}

func TestProcessEnvelopeMixedBatch(t *testing.T) {
	p := &fakePlanner{outcome: planner.Outcome{Disposition: models.DispositionProcessed}}
	g := New(&fakeDeduper{}, p, &fakeBuffer{}, &fakeAnnouncer{}, time.Minute)

	env := models.WebhookEnvelope{
		Status: "firing",
		Alerts: []models.WebhookAlert{
			{
				Fingerprint: "fp1",
				Status:      "firing",
				Labels:      map[string]string{"alertname": "ServiceDown", "instance": "web1"},
			},
			{
				// No fingerprint: rejected, but does not fail the batch.
				Status: "firing",
				Labels: map[string]string{"alertname": "Broken"},
			},
		},
	}

	results := g.ProcessEnvelope(context.Background(), env)
	if len(results) != 2 {
		t.Fatalf("results = %d", len(results))
	}
	if results[0].Outcome.Disposition != models.DispositionProcessed {
		t.Errorf("first = %+v", results[0])
	}
	if results[1].Outcome.Disposition != models.DispositionValidationError || results[1].ErrorKind != models.ErrValidation {
		t.Errorf("second = %+v", results[1])
	}
	if len(p.handled) != 1 {
		t.Errorf("planner handled %d alerts", len(p.handled))
	}
}
