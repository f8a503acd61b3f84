package notify

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pesio-ai/be-form-workflows/internal/logger"
)

func newEvent(t EventType, recipients ...string) *Event {
	return &Event{
		EventType:    t,
		CompanyID:    "co-1",
		ActorID:      "emp-1",
		Recipients:   recipients,
		ResourceType: "form_submission",
		ResourceID:   "sub-1",
	}
}

func TestDispatcher_DeliversAndDrainsOnClose(t *testing.T) {
	rec := NewRecorder()
	d := NewDispatcher(rec, DispatcherConfig{Workers: 2, QueueSize: 16}, logger.Nop())

	for i := 0; i < 10; i++ {
		require.True(t, d.Enqueue(newEvent(EventApprovalRequired, "mgr-1")))
	}
	require.NoError(t, d.Close(context.Background()))

	assert.Len(t, rec.Events(), 10)
	assert.True(t, rec.Closed())
	stats := d.Stats()
	assert.Equal(t, int64(10), stats.Enqueued)
	assert.Equal(t, int64(10), stats.Published)
	assert.Zero(t, stats.Failed)
}

func TestDispatcher_FillsIDAndTimestamp(t *testing.T) {
	rec := NewRecorder()
	d := NewDispatcher(rec, DispatcherConfig{}, logger.Nop())

	require.True(t, d.Enqueue(newEvent(EventSubmissionCreated, "emp-1")))
	require.NoError(t, d.Close(context.Background()))

	events := rec.Events()
	require.Len(t, events, 1)
	assert.NotEmpty(t, events[0].ID)
	assert.False(t, events[0].OccurredAt.IsZero())
}

func TestDispatcher_SkipsEventsWithoutRecipients(t *testing.T) {
	rec := NewRecorder()
	d := NewDispatcher(rec, DispatcherConfig{}, logger.Nop())

	assert.False(t, d.Enqueue(newEvent(EventSubmissionApproved)))
	assert.False(t, d.Enqueue(nil))
	require.NoError(t, d.Close(context.Background()))
	assert.Empty(t, rec.Events())
}

func TestDispatcher_PublishFailureIsSwallowed(t *testing.T) {
	rec := NewRecorder()
	rec.FailWith(errors.New("broker down"))
	d := NewDispatcher(rec, DispatcherConfig{Workers: 1}, logger.Nop())

	assert.True(t, d.Enqueue(newEvent(EventSubmissionRejected, "emp-1")))
	require.NoError(t, d.Close(context.Background()))

	assert.Equal(t, int64(1), d.Stats().Failed)
	assert.Zero(t, d.Stats().Published)
}

type blockingPublisher struct {
	release chan struct{}
	started chan struct{}
}

func (b *blockingPublisher) Publish(ctx context.Context, _ *Event) error {
	select {
	case b.started <- struct{}{}:
	default:
	}
	select {
	case <-b.release:
	case <-ctx.Done():
	}
	return nil
}

func (b *blockingPublisher) Close() error { return nil }

func TestDispatcher_DropsWhenQueueFull(t *testing.T) {
	bp := &blockingPublisher{release: make(chan struct{}), started: make(chan struct{}, 1)}
	d := NewDispatcher(bp, DispatcherConfig{Workers: 1, QueueSize: 1, PublishTimeout: time.Minute}, logger.Nop())

	require.True(t, d.Enqueue(newEvent(EventApprovalRequired, "a")))
	<-bp.started // worker holds the first event
	require.True(t, d.Enqueue(newEvent(EventApprovalRequired, "b")))
	assert.False(t, d.Enqueue(newEvent(EventApprovalRequired, "c")))
	assert.Equal(t, int64(1), d.Stats().Dropped)

	close(bp.release)
	require.NoError(t, d.Close(context.Background()))
}

func TestDispatcher_EnqueueAfterClose(t *testing.T) {
	d := NewDispatcher(NewRecorder(), DispatcherConfig{}, logger.Nop())
	require.NoError(t, d.Close(context.Background()))
	require.NoError(t, d.Close(context.Background()))

	assert.False(t, d.Enqueue(newEvent(EventApprovalRequired, "a")))
	assert.Equal(t, int64(1), d.Stats().Dropped)
}

func TestEvent_Subject(t *testing.T) {
	evt := newEvent(EventApprovalRequired, "a")
	assert.Equal(t, "notifications.forms.approval_required", evt.Subject("notifications.forms"))
	assert.Equal(t, "approval_required", evt.Subject(""))
}

func TestStreamName(t *testing.T) {
	assert.Equal(t, "NOTIFICATIONS_FORMS", streamName("notifications.forms"))
}

func TestNewPublisher(t *testing.T) {
	p, err := NewPublisher(context.Background(), Config{Backend: "noop"}, logger.Nop())
	require.NoError(t, err)
	assert.IsType(t, NoopPublisher{}, p)

	_, err = NewPublisher(context.Background(), Config{Backend: "carrier-pigeon"}, logger.Nop())
	assert.Error(t, err)

	_, err = NewPublisher(context.Background(), Config{Backend: "kafka"}, logger.Nop())
	assert.Error(t, err)

	p, err = NewPublisher(context.Background(), Config{Backend: "kafka", KafkaBrokers: []string{"localhost:9092"}}, logger.Nop())
	require.NoError(t, err)
	assert.NoError(t, p.Close())
}
