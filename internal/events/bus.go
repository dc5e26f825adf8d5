// Package events is an in-process, fire-and-forget domain event bus.
//
// Emit never blocks on handlers. Each registration owns a FIFO queue drained
// by at most one goroutine at a time, and the number of concurrently running
// drains is bounded by the worker count.
package events

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/npezzotti/go-chatcore/internal/stats"
	"github.com/rs/zerolog"
)

const (
	defaultWorkers   = 8
	defaultQueueSize = 256
)

type Name string

type Event struct {
	ID        string
	Name      Name
	Payload   any
	EmittedAt time.Time
}

type Handler func(ctx context.Context, e Event) error

type HandlerID uint64

type Options struct {
	Workers   int
	QueueSize int
}

type Bus struct {
	log       zerolog.Logger
	stats     stats.StatsProvider
	queueSize int
	sem       chan struct{}
	now       func() time.Time

	mu       sync.RWMutex
	handlers map[Name][]*registration
	nextID   HandlerID
	closed   bool

	wg sync.WaitGroup
}

type registration struct {
	id   HandlerID
	name Name
	fn   Handler

	mu      sync.Mutex
	queue   []Event
	running bool
	removed bool
}

func NewBus(opts Options, logger zerolog.Logger, sp stats.StatsProvider) *Bus {
	if opts.Workers <= 0 {
		opts.Workers = defaultWorkers
	}
	if opts.QueueSize <= 0 {
		opts.QueueSize = defaultQueueSize
	}
	if sp == nil {
		sp = stats.Discard
	}
	return &Bus{
		log:       logger.With().Str("component", "events").Logger(),
		stats:     sp,
		queueSize: opts.QueueSize,
		sem:       make(chan struct{}, opts.Workers),
		now:       time.Now,
		handlers:  make(map[Name][]*registration),
	}
}

func (b *Bus) On(name Name, h Handler) HandlerID {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.nextID++
	b.handlers[name] = append(b.handlers[name], &registration{id: b.nextID, name: name, fn: h})
	return b.nextID
}

// Off removes a handler. Events already queued for it are discarded.
func (b *Bus) Off(id HandlerID) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for name, regs := range b.handlers {
		for i, r := range regs {
			if r.id != id {
				continue
			}
			r.mu.Lock()
			r.removed = true
			r.queue = nil
			r.mu.Unlock()

			b.handlers[name] = append(regs[:i:i], regs[i+1:]...)
			if len(b.handlers[name]) == 0 {
				delete(b.handlers, name)
			}
			return
		}
	}
}

// Emit schedules payload for every handler registered under name and
// returns immediately. Emitting on a closed bus is a no-op.
func (b *Bus) Emit(name Name, payload any) {
	// held through enqueue so Close cannot start waiting mid-emit
	b.mu.RLock()
	defer b.mu.RUnlock()

	regs := b.handlers[name]
	if b.closed || len(regs) == 0 {
		return
	}

	e := Event{
		ID:        uuid.NewString(),
		Name:      name,
		Payload:   payload,
		EmittedAt: b.now().UTC(),
	}
	for _, r := range regs {
		b.enqueue(r, e)
	}
}

func (b *Bus) enqueue(r *registration, e Event) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.removed {
		return
	}
	if len(r.queue) >= b.queueSize {
		b.stats.Incr(stats.EventsDropped, string(e.Name))
		b.log.Warn().Str("event", string(e.Name)).Uint64("handler", uint64(r.id)).Msg("handler queue full, dropping event")
		return
	}

	r.queue = append(r.queue, e)
	if r.running {
		return
	}
	r.running = true
	b.wg.Add(1)
	go b.drain(r)
}

func (b *Bus) drain(r *registration) {
	defer b.wg.Done()

	b.sem <- struct{}{}
	defer func() { <-b.sem }()

	for {
		r.mu.Lock()
		if len(r.queue) == 0 || r.removed {
			r.running = false
			r.mu.Unlock()
			return
		}
		e := r.queue[0]
		r.queue = r.queue[1:]
		r.mu.Unlock()

		b.invoke(r, e)
	}
}

func (b *Bus) invoke(r *registration, e Event) {
	defer func() {
		if rec := recover(); rec != nil {
			b.stats.Incr(stats.EventsHandlerPanics, string(e.Name))
			b.log.Error().
				Str("event", string(e.Name)).
				Str("event_id", e.ID).
				Str("panic", fmt.Sprint(rec)).
				Msg("event handler panicked")
		}
	}()

	if err := r.fn(context.Background(), e); err != nil {
		b.stats.Incr(stats.EventsHandlerErrors, string(e.Name))
		b.log.Warn().Err(err).Str("event", string(e.Name)).Str("event_id", e.ID).Msg("event handler failed")
		return
	}
	b.stats.Incr(stats.EventsDispatched, string(e.Name))
}

// Close stops accepting events and waits for queued ones to be handled or
// for ctx to end.
func (b *Bus) Close(ctx context.Context) error {
	b.mu.Lock()
	b.closed = true
	b.mu.Unlock()

	done := make(chan struct{})
	go func() {
		b.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
