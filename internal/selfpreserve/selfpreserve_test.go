package selfpreserve

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/jarvisd/jarvis/internal/models"
	"github.com/jarvisd/jarvis/internal/orchestrator"
	"github.com/jarvisd/jarvis/internal/reasoning"
	"github.com/jarvisd/jarvis/internal/store"
)

type fakeTrigger struct {
	configured bool
	err        error
	execID     string
	requests   []orchestrator.RestartRequest
}

func (f *fakeTrigger) Configured() bool { return f.configured }

func (f *fakeTrigger) TriggerRestart(ctx context.Context, req orchestrator.RestartRequest) (string, error) {
	f.requests = append(f.requests, req)
	return f.execID, f.err
}

func testStore(t *testing.T) *store.Store {
	t.Helper()
	st, err := store.Open(store.Config{DBPath: t.TempDir() + "/jarvis.db", PruneInterval: time.Hour})
	if err != nil {
		t.Fatalf("store.Open: %v", err)
	}
	t.Cleanup(func() { st.Close() })
	return st
}

func testContext() *reasoning.Context {
	alert := &models.Alert{Fingerprint: "fp1", Name: "ServiceDown", Instance: "web1"}
	rctx := reasoning.NewContext(alert, 0.6)
	rctx.RecordCommand("web1", "docker ps", models.CommandResult{
		Command: "docker ps", Host: "web1", Stdout: "jarvis up 2 hours",
	})
	return rctx
}

func TestInitiateRestartHappyPath(t *testing.T) {
	st := testStore(t)
	trigger := &fakeTrigger{configured: true, execID: "exec-42"}
	m := New(Config{CallbackBaseURL: "http://jarvis:8080/"}, st, trigger, nil)

	id, err := m.InitiateRestart(context.Background(), testContext(), "self", "memory leak suspected")
	if err != nil {
		t.Fatalf("InitiateRestart: %v", err)
	}

	h, err := st.GetHandoff(id)
	if err != nil || h == nil {
		t.Fatalf("GetHandoff: %v %v", h, err)
	}
	if h.Status != store.HandoffInProgress {
		t.Errorf("status = %s", h.Status)
	}
	if h.Target != store.TargetSelf {
		t.Errorf("target = %s", h.Target)
	}
	if h.OrchestratorExecutionID != "exec-42" {
		t.Errorf("execution id = %q", h.OrchestratorExecutionID)
	}
	if h.ContextJSON == "" {
		t.Error("context not serialized")
	}
	if len(trigger.requests) != 1 {
		t.Fatalf("trigger called %d times", len(trigger.requests))
	}
	if got := trigger.requests[0].CallbackURL; got != "http://jarvis:8080/resume" {
		t.Errorf("callback url = %q", got)
	}
}

func TestInitiateRestartRejectsInvalidTarget(t *testing.T) {
	m := New(Config{}, testStore(t), &fakeTrigger{configured: true}, nil)
	if _, err := m.InitiateRestart(context.Background(), nil, "kernel", "because"); err == nil {
		t.Fatal("invalid target accepted")
	}
}

func TestInitiateRestartUnconfiguredOrchestrator(t *testing.T) {
	m := New(Config{}, testStore(t), &fakeTrigger{configured: false}, nil)
	_, err := m.InitiateRestart(context.Background(), nil, "self", "r")
	if !errors.Is(err, ErrNotConfigured) {
		t.Fatalf("err = %v", err)
	}
}

func TestInitiateRestartSingleActive(t *testing.T) {
	st := testStore(t)
	m := New(Config{}, st, &fakeTrigger{configured: true}, nil)

	if _, err := m.InitiateRestart(context.Background(), nil, "self", "first"); err != nil {
		t.Fatalf("first restart: %v", err)
	}
	_, err := m.InitiateRestart(context.Background(), nil, "database", "second")
	if !errors.Is(err, store.ErrHandoffActive) {
		t.Fatalf("second restart err = %v", err)
	}
}

func TestInitiateRestartOrchestratorFailureMarksFailed(t *testing.T) {
	st := testStore(t)
	trigger := &fakeTrigger{configured: true, err: errors.New("n8n down")}
	m := New(Config{}, st, trigger, nil)

	if _, err := m.InitiateRestart(context.Background(), nil, "self", "r"); err == nil {
		t.Fatal("expected trigger failure")
	}
	// The failed handoff must not block a retry.
	active, err := st.ActiveHandoff()
	if err != nil {
		t.Fatal(err)
	}
	if active != nil {
		t.Errorf("handoff still active after failure: %+v", active)
	}
}

func TestResumeContinuesSerializedContext(t *testing.T) {
	st := testStore(t)
	trigger := &fakeTrigger{configured: true}

	var mu sync.Mutex
	resumed := make(chan *reasoning.Context, 1)
	m := New(Config{}, st, trigger, func(ctx context.Context, rctx *reasoning.Context) {
		mu.Lock()
		defer mu.Unlock()
		resumed <- rctx
	})

	id, err := m.InitiateRestart(context.Background(), testContext(), "self", "r")
	if err != nil {
		t.Fatal(err)
	}
	if err := m.Resume(context.Background(), id); err != nil {
		t.Fatalf("Resume: %v", err)
	}

	select {
	case rctx := <-resumed:
		if rctx.CommandCount() != 1 {
			t.Errorf("restored command count = %d", rctx.CommandCount())
		}
	case <-time.After(2 * time.Second):
		t.Fatal("continuation never ran")
	}

	h, _ := st.GetHandoff(id)
	if h.Status != store.HandoffCompleted {
		t.Errorf("status = %s", h.Status)
	}
}

func TestResumeUnknownHandoff(t *testing.T) {
	m := New(Config{}, testStore(t), &fakeTrigger{configured: true}, nil)
	if err := m.Resume(context.Background(), "no-such-id"); !errors.Is(err, ErrUnknownHandoff) {
		t.Fatalf("err = %v", err)
	}
}

func TestResumeCompletedHandoffRejected(t *testing.T) {
	st := testStore(t)
	m := New(Config{}, st, &fakeTrigger{configured: true}, nil)

	id, err := m.InitiateRestart(context.Background(), nil, "self", "r")
	if err != nil {
		t.Fatal(err)
	}
	if err := m.Resume(context.Background(), id); err != nil {
		t.Fatal(err)
	}
	if err := m.Resume(context.Background(), id); err == nil {
		t.Fatal("completed handoff resumed twice")
	}
}

func TestCancelFreesTheSlot(t *testing.T) {
	st := testStore(t)
	m := New(Config{}, st, &fakeTrigger{configured: true}, nil)

	id, err := m.InitiateRestart(context.Background(), nil, "self", "r")
	if err != nil {
		t.Fatal(err)
	}
	cancelled, err := m.Cancel()
	if err != nil || cancelled != id {
		t.Fatalf("Cancel = %q, %v", cancelled, err)
	}
	// A new handoff is accepted after the cancellation.
	if _, err := m.InitiateRestart(context.Background(), nil, "database", "r2"); err != nil {
		t.Errorf("restart after cancel: %v", err)
	}
	if _, err := m.Cancel(); err != nil {
		t.Errorf("second cancel: %v", err)
	}
	if _, err := m.Cancel(); !errors.Is(err, ErrUnknownHandoff) {
		t.Errorf("cancel with nothing active: %v", err)
	}
}

func TestRestartCountPropagatesAcrossCycles(t *testing.T) {
	st := testStore(t)
	trigger := &fakeTrigger{configured: true}

	resumed := make(chan *reasoning.Context, 1)
	m := New(Config{MaxRestarts: 2}, st, trigger, func(ctx context.Context, rctx *reasoning.Context) {
		resumed <- rctx
	})

	rctx := testContext()
	for cycle := 1; cycle <= 2; cycle++ {
		id, err := m.InitiateRestart(context.Background(), rctx, "self", "wedged")
		if err != nil {
			t.Fatalf("cycle %d initiate: %v", cycle, err)
		}
		h, _ := st.GetHandoff(id)
		if h.RestartCount != cycle-1 {
			t.Fatalf("cycle %d stored restart_count = %d", cycle, h.RestartCount)
		}
		if err := m.Resume(context.Background(), id); err != nil {
			t.Fatalf("cycle %d resume: %v", cycle, err)
		}
		select {
		case rctx = <-resumed:
			if rctx.RestartCount != cycle {
				t.Fatalf("cycle %d restored restart_count = %d", cycle, rctx.RestartCount)
			}
		case <-time.After(2 * time.Second):
			t.Fatalf("cycle %d continuation never ran", cycle)
		}
	}

	// The third cycle exceeds the budget: the handoff completes, the
	// continuation is refused.
	id, err := m.InitiateRestart(context.Background(), rctx, "self", "still wedged")
	if err != nil {
		t.Fatal(err)
	}
	if err := m.Resume(context.Background(), id); !errors.Is(err, ErrRestartLoop) {
		t.Fatalf("third resume err = %v", err)
	}
	select {
	case <-resumed:
		t.Error("continuation ran despite exhausted budget")
	case <-time.After(100 * time.Millisecond):
	}
}

func TestResumeRestartLoopExceeded(t *testing.T) {
	st := testStore(t)
	m := New(Config{MaxRestarts: 2}, st, &fakeTrigger{configured: true}, func(ctx context.Context, rctx *reasoning.Context) {
		t.Error("continuation ran despite exhausted budget")
	})

	h := store.Handoff{
		ID:           "handoff-loop",
		Target:       store.TargetSelf,
		Reason:       "r",
		ContextJSON:  string(testContext().Serialize()),
		RestartCount: 2,
	}
	if err := st.CreateHandoff(h); err != nil {
		t.Fatal(err)
	}
	if err := m.Resume(context.Background(), h.ID); !errors.Is(err, ErrRestartLoop) {
		t.Fatalf("err = %v", err)
	}
	// The handoff itself still completed; only the continuation is dropped.
	got, _ := st.GetHandoff(h.ID)
	if got.Status != store.HandoffCompleted {
		t.Errorf("status = %s", got.Status)
	}
}
