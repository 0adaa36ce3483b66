package queue

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/jarvisd/jarvis/internal/models"
)

type fakeStore struct {
	mu  sync.Mutex
	err error
}

func (f *fakeStore) Ping(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.err
}

func (f *fakeStore) setErr(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.err = err
}

func alert(n string) *models.Alert {
	return &models.Alert{Fingerprint: n, Name: n, Instance: "web1"}
}

func TestEnqueueUntilFull(t *testing.T) {
	q := New(Config{Capacity: 2}, &fakeStore{}, nil)
	if !q.Enqueue(alert("a")) || !q.Enqueue(alert("b")) {
		t.Fatal("enqueue rejected below capacity")
	}
	if q.Enqueue(alert("c")) {
		t.Error("enqueue accepted over capacity")
	}
	if q.Depth() != 2 || !q.Degraded() {
		t.Errorf("depth=%d degraded=%v", q.Depth(), q.Degraded())
	}
}

func TestDrainWaitsForStore(t *testing.T) {
	store := &fakeStore{err: errors.New("db down")}
	var processed []string
	q := New(Config{Capacity: 10, DrainBatch: 2}, store, func(ctx context.Context, a *models.Alert) {
		processed = append(processed, a.Name)
	})

	for _, n := range []string{"a", "b", "c"} {
		q.Enqueue(alert(n))
	}

	q.drain(context.Background())
	if len(processed) != 0 {
		t.Fatalf("drained while store down: %v", processed)
	}

	store.setErr(nil)
	q.drain(context.Background())
	if len(processed) != 3 {
		t.Fatalf("processed = %v", processed)
	}
	// FIFO order preserved across batches.
	for i, want := range []string{"a", "b", "c"} {
		if processed[i] != want {
			t.Errorf("processed[%d] = %q, want %q", i, processed[i], want)
		}
	}
	if q.Degraded() || q.Depth() != 0 {
		t.Errorf("still degraded after drain: depth=%d", q.Depth())
	}
}

func TestRunDrainsOnInterval(t *testing.T) {
	store := &fakeStore{}
	done := make(chan struct{})
	q := New(Config{Capacity: 10, DrainInterval: 5 * time.Millisecond}, store, func(ctx context.Context, a *models.Alert) {
		close(done)
	})
	q.Enqueue(alert("a"))

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	go q.Run(ctx)

	select {
	case <-done:
	case <-ctx.Done():
		t.Fatal("drainer never ran")
	}
}
