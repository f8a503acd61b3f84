package notify

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/pesio-ai/be-form-workflows/internal/logger"
)

// DispatcherConfig sizes the worker pool.
type DispatcherConfig struct {
	Workers        int
	QueueSize      int
	PublishTimeout time.Duration
}

// Stats are cumulative dispatcher counters.
type Stats struct {
	Enqueued  int64
	Published int64
	Failed    int64
	Dropped   int64
}

// Dispatcher publishes events on background workers. Enqueue never blocks
// and never returns a publish error.
type Dispatcher struct {
	publisher Publisher
	log       *logger.Logger
	timeout   time.Duration
	queue     chan *Event

	mu     sync.RWMutex
	closed bool
	wg     sync.WaitGroup

	enqueued  atomic.Int64
	published atomic.Int64
	failed    atomic.Int64
	dropped   atomic.Int64
}

// NewDispatcher starts cfg.Workers goroutines draining the queue.
func NewDispatcher(p Publisher, cfg DispatcherConfig, log *logger.Logger) *Dispatcher {
	if p == nil {
		p = NoopPublisher{}
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 128
	}
	if cfg.PublishTimeout <= 0 {
		cfg.PublishTimeout = 5 * time.Second
	}

	d := &Dispatcher{
		publisher: p,
		log:       log,
		timeout:   cfg.PublishTimeout,
		queue:     make(chan *Event, cfg.QueueSize),
	}
	for i := 0; i < cfg.Workers; i++ {
		d.wg.Add(1)
		go d.run()
	}
	return d
}

// Enqueue schedules evt for delivery. Events without recipients are
// skipped. It reports whether the event was accepted.
func (d *Dispatcher) Enqueue(evt *Event) bool {
	if evt == nil || len(evt.Recipients) == 0 {
		return false
	}
	if evt.ID == "" {
		evt.ID = uuid.NewString()
	}
	if evt.OccurredAt.IsZero() {
		evt.OccurredAt = time.Now().UTC()
	}

	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		d.dropped.Add(1)
		d.log.Warn().
			Str("event_type", string(evt.EventType)).
			Str("submission_id", evt.ResourceID).
			Msg("notification: dispatcher closed, event dropped")
		return false
	}

	select {
	case d.queue <- evt:
		d.enqueued.Add(1)
		return true
	default:
		d.dropped.Add(1)
		d.log.Warn().
			Str("event_type", string(evt.EventType)).
			Str("submission_id", evt.ResourceID).
			Msg("notification: queue full, event dropped")
		return false
	}
}

func (d *Dispatcher) run() {
	defer d.wg.Done()
	for evt := range d.queue {
		d.deliver(evt)
	}
}

func (d *Dispatcher) deliver(evt *Event) {
	defer func() {
		if r := recover(); r != nil {
			d.failed.Add(1)
			d.log.Error().
				Interface("panic", r).
				Str("event_type", string(evt.EventType)).
				Msg("notification: publisher panicked")
		}
	}()

	ctx, cancel := context.WithTimeout(context.Background(), d.timeout)
	defer cancel()

	if err := d.publisher.Publish(ctx, evt); err != nil {
		d.failed.Add(1)
		d.log.Warn().Err(err).
			Str("event_type", string(evt.EventType)).
			Str("submission_id", evt.ResourceID).
			Msg("notification: failed to publish event (non-fatal)")
		return
	}
	d.published.Add(1)
}

// Stats returns a snapshot of the counters.
func (d *Dispatcher) Stats() Stats {
	return Stats{
		Enqueued:  d.enqueued.Load(),
		Published: d.published.Load(),
		Failed:    d.failed.Load(),
		Dropped:   d.dropped.Load(),
	}
}

// Close stops accepting events, drains the queue and closes the publisher.
// If ctx expires first the remaining events are abandoned.
func (d *Dispatcher) Close(ctx context.Context) error {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return nil
	}
	d.closed = true
	close(d.queue)
	d.mu.Unlock()

	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		d.log.Warn().Int("pending", len(d.queue)).Msg("notification: shutdown deadline reached before queue drained")
		return ctx.Err()
	}
	return d.publisher.Close()
}
