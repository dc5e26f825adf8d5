package events

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/npezzotti/go-chatcore/internal/stats"
	"github.com/npezzotti/go-chatcore/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestBus(t *testing.T, opts Options) *Bus {
	b := NewBus(opts, testutil.TestLogger(t), stats.Discard)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		b.Close(ctx)
	})
	return b
}

type collector struct {
	mu     sync.Mutex
	events []Event
}

func (c *collector) handle(_ context.Context, e Event) error {
	c.mu.Lock()
	c.events = append(c.events, e)
	c.mu.Unlock()
	return nil
}

func (c *collector) snapshot() []Event {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Event(nil), c.events...)
}

func TestEmitIsAsynchronous(t *testing.T) {
	b := newTestBus(t, Options{})

	release := make(chan struct{})
	started := make(chan struct{})
	b.On(ThreadCreated, func(context.Context, Event) error {
		close(started)
		<-release
		return nil
	})

	returned := make(chan struct{})
	go func() {
		b.Emit(ThreadCreated, ThreadCreatedPayload{ThreadID: "thread-1"})
		close(returned)
	}()

	select {
	case <-returned:
	case <-time.After(time.Second):
		t.Fatal("expected Emit to return while the handler is blocked")
	}
	<-started
	close(release)
}

func TestPerHandlerFIFO(t *testing.T) {
	b := newTestBus(t, Options{Workers: 4})
	var c collector
	b.On(ThreadMessageAdded, c.handle)

	for i := 0; i < 50; i++ {
		b.Emit(ThreadMessageAdded, ThreadMessageAddedPayload{SequenceNumber: int64(i)})
	}
	require.NoError(t, b.Close(context.Background()))

	got := c.snapshot()
	require.Len(t, got, 50)
	for i, e := range got {
		assert.Equal(t, int64(i), e.Payload.(ThreadMessageAddedPayload).SequenceNumber, "expected events in emit order")
		assert.NotEmpty(t, e.ID)
		assert.Equal(t, ThreadMessageAdded, e.Name)
	}
}

func TestHandlerIsolation(t *testing.T) {
	b := newTestBus(t, Options{})
	var ok collector

	b.On(ThreadArchived, func(context.Context, Event) error { panic("boom") })
	b.On(ThreadArchived, func(context.Context, Event) error { return errors.New("index down") })
	b.On(ThreadArchived, ok.handle)

	assert.NotPanics(t, func() {
		b.Emit(ThreadArchived, ThreadArchivedPayload{ThreadID: "a"})
		b.Emit(ThreadArchived, ThreadArchivedPayload{ThreadID: "b"})
	})
	require.NoError(t, b.Close(context.Background()))
	assert.Len(t, ok.snapshot(), 2, "expected healthy handler to receive every event")
}

func TestHandlerFailureMetrics(t *testing.T) {
	sp := &stats.MockStatsUpdater{}
	sp.On("Incr", stats.EventsHandlerPanics, []string{string(ThreadArchived)}).Return().Once()
	sp.On("Incr", stats.EventsHandlerErrors, []string{string(ThreadArchived)}).Return().Once()
	sp.On("Incr", stats.EventsDispatched, []string{string(ThreadArchived)}).Return().Once()

	b := NewBus(Options{}, testutil.TestLogger(t), sp)
	b.On(ThreadArchived, func(context.Context, Event) error { panic("boom") })
	b.On(ThreadArchived, func(context.Context, Event) error { return errors.New("index down") })
	b.On(ThreadArchived, func(context.Context, Event) error { return nil })

	b.Emit(ThreadArchived, ThreadArchivedPayload{ThreadID: "a"})
	require.NoError(t, b.Close(context.Background()))

	sp.AssertExpectations(t)
}

func TestOff(t *testing.T) {
	b := newTestBus(t, Options{})
	var kept, dropped collector

	b.On(ThreadCreated, kept.handle)
	id := b.On(ThreadCreated, dropped.handle)
	b.Off(id)

	b.Emit(ThreadCreated, nil)
	b.Emit(SubThreadCreated, nil) // nobody listens
	require.NoError(t, b.Close(context.Background()))

	assert.Len(t, kept.snapshot(), 1)
	assert.Empty(t, dropped.snapshot(), "expected removed handler not to run")
}

func TestQueueBound(t *testing.T) {
	b := newTestBus(t, Options{Workers: 1, QueueSize: 2})

	release := make(chan struct{})
	var c collector
	b.On(ThreadCreated, func(ctx context.Context, e Event) error {
		<-release
		return c.handle(ctx, e)
	})

	for i := 0; i < 10; i++ {
		b.Emit(ThreadCreated, i)
	}
	close(release)
	require.NoError(t, b.Close(context.Background()))

	got := c.snapshot()
	assert.LessOrEqual(t, len(got), 3, "expected overflow to be dropped")
	assert.GreaterOrEqual(t, len(got), 2)
	assert.Equal(t, 0, got[0].Payload, "expected the first event to be kept")
}

func TestEmitAfterClose(t *testing.T) {
	b := NewBus(Options{}, testutil.TestLogger(t), stats.Discard)
	var c collector
	b.On(ThreadCreated, c.handle)
	require.NoError(t, b.Close(context.Background()))

	b.Emit(ThreadCreated, nil)
	time.Sleep(10 * time.Millisecond)
	assert.Empty(t, c.snapshot(), "expected closed bus to drop events")
}

func TestCloseHonoursContext(t *testing.T) {
	b := NewBus(Options{}, testutil.TestLogger(t), stats.Discard)
	release := make(chan struct{})
	defer close(release)
	b.On(ThreadCreated, func(context.Context, Event) error {
		<-release
		return nil
	})
	b.Emit(ThreadCreated, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, b.Close(ctx), context.DeadlineExceeded)
}
