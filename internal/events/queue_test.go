package events

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rafast/vox-med-app/internal/scheduler"
)

type recordingSink struct {
	name string
	err  error

	mu     sync.Mutex
	events []scheduler.Event
}

func (s *recordingSink) Name() string { return s.name }

func (s *recordingSink) Publish(_ context.Context, evt scheduler.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, evt)
	return s.err
}

func (s *recordingSink) received() []scheduler.Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]scheduler.Event(nil), s.events...)
}

// gateSink blocks every delivery until release is closed.
type gateSink struct {
	entered chan struct{}
	release chan struct{}
	once    sync.Once
}

func (s *gateSink) Name() string { return "gate" }

func (s *gateSink) Publish(context.Context, scheduler.Event) error {
	s.once.Do(func() { close(s.entered) })
	<-s.release
	return nil
}

func TestQueueFansOutToEverySink(t *testing.T) {
	first := &recordingSink{name: "first"}
	failing := &recordingSink{name: "failing", err: errors.New("down")}
	q := NewQueue(8, zerolog.Nop(), first, failing)

	require.True(t, q.Publish(scheduler.Event{Type: scheduler.EventAppointmentCreated, AggregateID: "a-1"}))
	require.True(t, q.Publish(scheduler.Event{ID: "fixed", Type: scheduler.EventAppointmentCancelled, AggregateID: "a-1"}))
	require.NoError(t, q.Close(context.Background()))

	got := first.received()
	require.Len(t, got, 2)
	assert.NotEmpty(t, got[0].ID, "missing ids are generated")
	assert.Equal(t, "fixed", got[1].ID)
	assert.Equal(t, scheduler.EventAppointmentCancelled, got[1].Type)
	assert.Len(t, failing.received(), 2, "a failing sink does not stop delivery")
}

func TestQueueDropsWhenFull(t *testing.T) {
	gate := &gateSink{entered: make(chan struct{}), release: make(chan struct{})}
	sink := &recordingSink{name: "after"}
	q := NewQueue(1, zerolog.Nop(), gate, sink)

	require.True(t, q.Publish(scheduler.Event{ID: "1"}))
	<-gate.entered

	assert.True(t, q.Publish(scheduler.Event{ID: "2"}))
	assert.False(t, q.Publish(scheduler.Event{ID: "3"}))
	assert.EqualValues(t, 1, q.Dropped())

	close(gate.release)
	require.NoError(t, q.Close(context.Background()))

	ids := make([]string, 0)
	for _, evt := range sink.received() {
		ids = append(ids, evt.ID)
	}
	assert.Equal(t, []string{"1", "2"}, ids)
}

func TestQueueRejectsAfterClose(t *testing.T) {
	q := NewQueue(0, zerolog.Nop())
	require.NoError(t, q.Close(context.Background()))
	require.NoError(t, q.Close(context.Background()), "close is idempotent")

	assert.False(t, q.Publish(scheduler.Event{ID: "late"}))
	assert.EqualValues(t, 1, q.Dropped())
}

func TestQueueCloseHonoursDeadline(t *testing.T) {
	gate := &gateSink{entered: make(chan struct{}), release: make(chan struct{})}
	q := NewQueue(4, zerolog.Nop(), gate)
	require.True(t, q.Publish(scheduler.Event{ID: "stuck"}))
	<-gate.entered

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, q.Close(ctx), context.DeadlineExceeded)

	close(gate.release)
	require.NoError(t, q.Close(context.Background()))
}

func TestNilQueuePublish(t *testing.T) {
	var q *Queue
	assert.False(t, q.Publish(scheduler.Event{}))
}
