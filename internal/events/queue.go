// Package events delivers committed domain events to outbound sinks. Services
// enqueue without blocking and a single worker fans each event out.
package events

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/rafast/vox-med-app/internal/scheduler"
)

// DefaultBuffer is the queue capacity used when none is configured.
const DefaultBuffer = 256

// sinkTimeout bounds a single sink delivery.
const sinkTimeout = 5 * time.Second

// Sink receives events from the queue worker.
type Sink interface {
	Name() string
	Publish(ctx context.Context, evt scheduler.Event) error
}

// Queue is a bounded buffer drained by one worker goroutine.
type Queue struct {
	events  chan scheduler.Event
	sinks   []Sink
	logger  zerolog.Logger
	dropped atomic.Uint64

	mu     sync.RWMutex
	closed bool
	done   chan struct{}
}

// NewQueue starts the worker. A non-positive buffer uses DefaultBuffer.
func NewQueue(buffer int, logger zerolog.Logger, sinks ...Sink) *Queue {
	if buffer <= 0 {
		buffer = DefaultBuffer
	}
	q := &Queue{
		events: make(chan scheduler.Event, buffer),
		sinks:  sinks,
		logger: logger.With().Str("component", "events").Logger(),
		done:   make(chan struct{}),
	}
	go q.run()
	return q
}

// Publish enqueues evt without blocking. It reports false when the event was
// dropped because the buffer is full or the queue is closed.
func (q *Queue) Publish(evt scheduler.Event) bool {
	if q == nil {
		return false
	}
	if evt.ID == "" {
		evt.ID = uuid.NewString()
	}

	q.mu.RLock()
	defer q.mu.RUnlock()
	if q.closed {
		q.drop(evt, "queue closed")
		return false
	}
	select {
	case q.events <- evt:
		return true
	default:
		q.drop(evt, "queue full")
		return false
	}
}

// Dropped returns how many events were discarded.
func (q *Queue) Dropped() uint64 {
	return q.dropped.Load()
}

// Close stops accepting events and waits until the buffered ones have been
// delivered or ctx is done.
func (q *Queue) Close(ctx context.Context) error {
	q.mu.Lock()
	if !q.closed {
		q.closed = true
		close(q.events)
	}
	q.mu.Unlock()

	select {
	case <-q.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (q *Queue) run() {
	defer close(q.done)
	for evt := range q.events {
		q.deliver(evt)
	}
}

func (q *Queue) deliver(evt scheduler.Event) {
	for _, sink := range q.sinks {
		ctx, cancel := context.WithTimeout(context.Background(), sinkTimeout)
		err := sink.Publish(ctx, evt)
		cancel()
		if err != nil {
			q.logger.Warn().
				Err(err).
				Str("sink", sink.Name()).
				Str("event_id", evt.ID).
				Str("event_type", string(evt.Type)).
				Msg("event delivery failed")
		}
	}
}

func (q *Queue) drop(evt scheduler.Event, reason string) {
	q.dropped.Add(1)
	q.logger.Warn().
		Str("event_id", evt.ID).
		Str("event_type", string(evt.Type)).
		Str("aggregate_id", evt.AggregateID).
		Str("reason", reason).
		Msg("event dropped")
}
