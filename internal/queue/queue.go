// Package queue buffers alerts in memory while persistence is unavailable,
// so a database outage degrades intake instead of dropping webhooks.
package queue

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/jarvisd/jarvis/internal/metrics"
	"github.com/jarvisd/jarvis/internal/models"
)

// Availability reports whether the persistence layer is back. The store
// satisfies this.
type Availability interface {
	Ping(ctx context.Context) error
}

// Processor re-enters a drained alert into the normal pipeline.
type Processor func(ctx context.Context, alert *models.Alert)

// Config tunes the queue.
type Config struct {
	Capacity      int           // default 500
	DrainInterval time.Duration // default 30s
	DrainBatch    int           // default 100
}

func (c *Config) applyDefaults() {
	if c.Capacity <= 0 {
		c.Capacity = 500
	}
	if c.DrainInterval <= 0 {
		c.DrainInterval = 30 * time.Second
	}
	if c.DrainBatch <= 0 {
		c.DrainBatch = 100
	}
}

// Queue is a bounded FIFO of alerts awaiting persistence recovery.
type Queue struct {
	config  Config
	store   Availability
	process Processor

	mu       sync.Mutex
	items    []*models.Alert
	degraded bool
}

// New builds a queue.
func New(config Config, store Availability, process Processor) *Queue {
	config.applyDefaults()
	return &Queue{config: config, store: store, process: process}
}

// Enqueue buffers an alert. Returns false when the queue is full; the
// caller answers {status: overflow}.
func (q *Queue) Enqueue(alert *models.Alert) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.items) >= q.config.Capacity {
		log.Warn().Str("alert", alert.Name).Int("capacity", q.config.Capacity).
			Msg("Degraded queue full, rejecting alert")
		return false
	}
	q.items = append(q.items, alert)
	if !q.degraded {
		q.degraded = true
		metrics.DegradedMode.Set(1)
		log.Warn().Msg("Entering degraded mode, persistence unavailable")
	}
	metrics.QueueDepth.Set(float64(len(q.items)))
	return true
}

// Depth reports how many alerts are buffered.
func (q *Queue) Depth() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Degraded reports whether the service is currently buffering.
func (q *Queue) Degraded() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.degraded
}

// Run drains the queue on the configured interval until ctx is cancelled.
func (q *Queue) Run(ctx context.Context) {
	ticker := time.NewTicker(q.config.DrainInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			q.drain(ctx)
		}
	}
}

// drain flushes buffered alerts in batches once the store answers again.
func (q *Queue) drain(ctx context.Context) {
	q.mu.Lock()
	if len(q.items) == 0 && !q.degraded {
		q.mu.Unlock()
		return
	}
	q.mu.Unlock()

	if err := q.store.Ping(ctx); err != nil {
		log.Debug().Err(err).Msg("Persistence still unavailable")
		return
	}

	for {
		batch := q.take(q.config.DrainBatch)
		if len(batch) == 0 {
			break
		}
		log.Info().Int("count", len(batch)).Msg("Draining degraded queue")
		for _, alert := range batch {
			if ctx.Err() != nil {
				q.requeue(alert)
				return
			}
			q.process(ctx, alert)
		}
	}

	q.mu.Lock()
	if len(q.items) == 0 && q.degraded {
		q.degraded = false
		metrics.DegradedMode.Set(0)
		log.Info().Msg("Leaving degraded mode, queue drained")
	}
	q.mu.Unlock()
}

func (q *Queue) take(n int) []*models.Alert {
	q.mu.Lock()
	defer q.mu.Unlock()
	if n > len(q.items) {
		n = len(q.items)
	}
	batch := q.items[:n]
	q.items = append([]*models.Alert(nil), q.items[n:]...)
	metrics.QueueDepth.Set(float64(len(q.items)))
	return batch
}

func (q *Queue) requeue(alert *models.Alert) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.items = append([]*models.Alert{alert}, q.items...)
	metrics.QueueDepth.Set(float64(len(q.items)))
}
