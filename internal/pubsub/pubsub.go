// Package pubsub fans messages from one subscribe-mode connection out to
// in-process callbacks.
package pubsub

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/npezzotti/go-chatcore/internal/stats"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

type State int32

const (
	StateUninitialized State = iota
	StateInitializing
	StateReady
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateInitializing:
		return "initializing"
	case StateReady:
		return "ready"
	case StateClosed:
		return "closed"
	}
	return fmt.Sprintf("State(%d)", int32(s))
}

var (
	ErrNotReady    = errors.New("pubsub: coordinator not ready")
	ErrClosed      = errors.New("pubsub: coordinator closed")
	ErrUnavailable = errors.New("pubsub: coordination store unavailable")
)

// Source opens subscriber connections and publishes. *coord.Client satisfies it.
type Source interface {
	Subscriber(ctx context.Context) *redis.PubSub
	Publish(ctx context.Context, channel string, payload any) int64
}

type Message struct {
	Channel string
	Payload json.RawMessage
}

// Decode unmarshals the payload into v.
func (m Message) Decode(v any) error {
	return json.Unmarshal(m.Payload, v)
}

type Callback func(ctx context.Context, msg Message)

// Subscription identifies one registered callback.
type Subscription struct {
	Channel string
	id      uint64
}

type Coordinator struct {
	src   Source
	log   zerolog.Logger
	stats stats.StatsProvider

	mu       sync.Mutex
	state    State
	ps       *redis.PubSub
	handlers map[string]map[uint64]Callback
	nextID   uint64
	done     chan struct{}
}

func NewCoordinator(src Source, logger zerolog.Logger, sp stats.StatsProvider) *Coordinator {
	if sp == nil {
		sp = stats.Discard
	}
	return &Coordinator{
		src:      src,
		log:      logger.With().Str("component", "pubsub").Logger(),
		stats:    sp,
		handlers: make(map[string]map[uint64]Callback),
	}
}

func (c *Coordinator) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Initialize opens the subscriber connection and starts dispatching. It is a
// no-op once ready. When no store is configured the coordinator stays
// uninitialized so a later call can retry.
func (c *Coordinator) Initialize(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch c.state {
	case StateReady, StateInitializing:
		return nil
	case StateClosed:
		return ErrClosed
	}
	c.state = StateInitializing

	ps := c.src.Subscriber(ctx)
	if ps == nil {
		c.state = StateUninitialized
		return ErrUnavailable
	}

	c.ps = ps
	c.done = make(chan struct{})
	go c.dispatchLoop(ps.Channel(), c.done)

	c.state = StateReady
	c.log.Info().Msg("pubsub coordinator ready")
	return nil
}

func (c *Coordinator) dispatchLoop(ch <-chan *redis.Message, done chan struct{}) {
	defer close(done)
	for msg := range ch {
		c.dispatch(msg)
	}
}

func (c *Coordinator) dispatch(msg *redis.Message) {
	c.mu.Lock()
	set := c.handlers[msg.Channel]
	callbacks := make([]Callback, 0, len(set))
	for _, cb := range set {
		callbacks = append(callbacks, cb)
	}
	c.mu.Unlock()

	if len(callbacks) == 0 {
		return
	}

	payload := []byte(msg.Payload)
	if !json.Valid(payload) {
		c.log.Warn().Str("channel", msg.Channel).Msg("dropping message with invalid JSON payload")
		return
	}

	m := Message{Channel: msg.Channel, Payload: payload}
	for _, cb := range callbacks {
		c.invoke(cb, m)
	}
	c.stats.Incr(stats.PubSubMessages)
}

func (c *Coordinator) invoke(cb Callback, m Message) {
	defer func() {
		if r := recover(); r != nil {
			c.stats.Incr(stats.PubSubCallbackPanics)
			c.log.Error().Interface("panic", r).Str("channel", m.Channel).Msg("pubsub callback panicked")
		}
	}()
	cb(context.Background(), m)
}

// Subscribe registers cb for channel. The underlying channel subscription is
// issued only for the first callback on that channel.
func (c *Coordinator) Subscribe(ctx context.Context, channel string, cb Callback) (Subscription, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state == StateClosed {
		return Subscription{}, ErrClosed
	}
	if c.state != StateReady {
		return Subscription{}, ErrNotReady
	}

	set, ok := c.handlers[channel]
	if !ok {
		if err := c.ps.Subscribe(ctx, channel); err != nil {
			return Subscription{}, fmt.Errorf("subscribe %s: %w", channel, err)
		}
		set = make(map[uint64]Callback)
		c.handlers[channel] = set
	}

	c.nextID++
	set[c.nextID] = cb
	return Subscription{Channel: channel, id: c.nextID}, nil
}

// Unsubscribe removes the callback behind sub. The channel itself is
// unsubscribed once its last callback is gone.
func (c *Coordinator) Unsubscribe(ctx context.Context, sub Subscription) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	set, ok := c.handlers[sub.Channel]
	if !ok {
		return nil
	}
	delete(set, sub.id)
	if len(set) > 0 {
		return nil
	}

	delete(c.handlers, sub.Channel)
	if c.state != StateReady {
		return nil
	}
	if err := c.ps.Unsubscribe(ctx, sub.Channel); err != nil {
		return fmt.Errorf("unsubscribe %s: %w", sub.Channel, err)
	}
	return nil
}

// Publish sends payload to channel and returns the receiver count.
func (c *Coordinator) Publish(ctx context.Context, channel string, payload any) int64 {
	return c.src.Publish(ctx, channel, payload)
}

// Close tears down the subscriber connection and drops every registration.
func (c *Coordinator) Close() error {
	c.mu.Lock()
	if c.state == StateClosed {
		c.mu.Unlock()
		return nil
	}
	ps, done := c.ps, c.done
	c.state = StateClosed
	c.handlers = make(map[string]map[uint64]Callback)
	c.ps = nil
	c.mu.Unlock()

	if ps == nil {
		return nil
	}
	err := ps.Close()
	<-done
	return err
}
