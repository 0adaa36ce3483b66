package hostmon

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jarvisd/jarvis/internal/executor"
)

func failure(host string) executor.Outcome {
	return executor.Outcome{Host: host, Reachable: false, Err: errors.New("connection refused")}
}

func success(host string) executor.Outcome {
	return executor.Outcome{Host: host, Reachable: true}
}

func TestOfflineAfterThreshold(t *testing.T) {
	m := New(Config{FailureThreshold: 3}, nil)

	m.Observe(failure("web1"))
	m.Observe(failure("web1"))
	if !m.IsOnline("web1") {
		t.Fatal("host offline before threshold")
	}

	m.Observe(failure("web1"))
	if m.IsOnline("web1") {
		t.Fatal("host still online after 3 consecutive failures")
	}
}

func TestSuccessResetsFailureCount(t *testing.T) {
	m := New(Config{FailureThreshold: 3}, nil)

	m.Observe(failure("web1"))
	m.Observe(failure("web1"))
	m.Observe(success("web1"))
	m.Observe(failure("web1"))
	m.Observe(failure("web1"))

	if !m.IsOnline("web1") {
		t.Error("non-consecutive failures marked host offline")
	}
}

func TestUnknownHostIsOnline(t *testing.T) {
	m := New(Config{}, nil)
	if !m.IsOnline("never-seen") {
		t.Error("unknown host treated as offline")
	}
}

func TestTransitionListeners(t *testing.T) {
	m := New(Config{FailureThreshold: 2}, nil)

	type transition struct {
		host string
		to   State
	}
	var transitions []transition
	m.Subscribe(func(host string, to State) {
		transitions = append(transitions, transition{host, to})
	})

	m.Observe(failure("web1"))
	m.Observe(failure("web1"))
	m.Observe(failure("web1")) // already offline, no second event
	m.Observe(success("web1"))

	want := []transition{{"web1", StateOffline}, {"web1", StateOnline}}
	if len(transitions) != len(want) {
		t.Fatalf("got %d transitions, want %d: %+v", len(transitions), len(want), transitions)
	}
	for i, tr := range want {
		if transitions[i] != tr {
			t.Errorf("transition[%d] = %+v, want %+v", i, transitions[i], tr)
		}
	}
}

func TestProbeRecoversOfflineHost(t *testing.T) {
	m := New(Config{FailureThreshold: 1}, nil)
	m.probeFn = func(ctx context.Context, host string) error { return nil }

	m.Observe(failure("web1"))
	if m.IsOnline("web1") {
		t.Fatal("precondition: host should be offline")
	}

	m.probeOffline(context.Background())
	if !m.IsOnline("web1") {
		t.Error("host not recovered by successful probe")
	}
}

func TestProbeFailureKeepsHostOffline(t *testing.T) {
	m := New(Config{FailureThreshold: 1}, nil)
	m.probeFn = func(ctx context.Context, host string) error {
		return errors.New("still down")
	}

	m.Observe(failure("web1"))
	m.probeOffline(context.Background())

	if m.IsOnline("web1") {
		t.Error("failed probe brought host online")
	}
	status := m.Status()
	if len(status) != 1 || status[0].State != StateOffline {
		t.Errorf("unexpected status: %+v", status)
	}
	if status[0].LastError != "still down" {
		t.Errorf("last error = %q", status[0].LastError)
	}
}

func TestStatusSnapshot(t *testing.T) {
	m := New(Config{FailureThreshold: 2}, nil)

	m.Observe(success("web1"))
	m.Observe(failure("web2"))
	m.Observe(failure("web2"))

	status := m.Status()
	if len(status) != 2 {
		t.Fatalf("got %d hosts, want 2", len(status))
	}
	byHost := map[string]HostStatus{}
	for _, s := range status {
		byHost[s.Host] = s
	}
	if byHost["web1"].State != StateOnline {
		t.Errorf("web1 state = %v", byHost["web1"].State)
	}
	if byHost["web2"].State != StateOffline || byHost["web2"].Failures != 2 {
		t.Errorf("web2 status = %+v", byHost["web2"])
	}
	if byHost["web2"].ChangedAt.IsZero() {
		t.Error("changed_at not set")
	}
}

func TestRunStopsOnContextCancel(t *testing.T) {
	m := New(Config{ProbeInterval: 10 * time.Millisecond}, nil)
	m.probeFn = func(ctx context.Context, host string) error { return nil }

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		m.Run(ctx)
		close(done)
	}()

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not stop on cancel")
	}
}
