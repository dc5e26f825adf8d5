// Package broadcast relays thread events from the in-process bus to other
// instances over pub/sub and keeps every instance's local query cache in
// step with invalidations made elsewhere.
package broadcast

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/npezzotti/go-chatcore/internal/events"
	"github.com/npezzotti/go-chatcore/internal/pubsub"
	"github.com/rs/zerolog"
)

const (
	InvalidationChannel = "chatcore:cache:invalidate"
	IncomingChannel     = "chatcore:messages:new"
	roomChannelPrefix   = "room:"
)

// RoomChannel is the channel thread events for roomID are published on.
func RoomChannel(roomID string) string {
	return roomChannelPrefix + roomID
}

type Hub interface {
	Subscribe(ctx context.Context, channel string, cb pubsub.Callback) (pubsub.Subscription, error)
	Unsubscribe(ctx context.Context, sub pubsub.Subscription) error
	Publish(ctx context.Context, channel string, payload any) int64
}

type Bus interface {
	On(name events.Name, h events.Handler) events.HandlerID
	Off(id events.HandlerID)
	Emit(name events.Name, payload any)
}

// RoomCache is the room scoped query cache. *cache.QueryCache satisfies it.
type RoomCache interface {
	InvalidateRoom(ctx context.Context, roomID string) int
	InvalidateRoomLocal(roomID string) int
}

// Envelope is the wire form of a relayed event.
type Envelope struct {
	ID        string      `json:"id"`
	Type      events.Name `json:"type"`
	Origin    string      `json:"origin"`
	Payload   any         `json:"payload"`
	EmittedAt time.Time   `json:"emittedAt"`
}

type invalidation struct {
	RoomID string `json:"roomId"`
	Origin string `json:"origin"`
}

var relayed = []events.Name{
	events.ThreadCreated,
	events.SubThreadCreated,
	events.ThreadMessageAdded,
	events.ThreadArchived,
}

type Bridge struct {
	hub        Hub
	bus        Bus
	cache      RoomCache
	instanceID string
	log        zerolog.Logger

	mu       sync.Mutex
	handlers []events.HandlerID
	subs     []pubsub.Subscription
}

func NewBridge(hub Hub, bus Bus, cache RoomCache, instanceID string, logger zerolog.Logger) *Bridge {
	return &Bridge{
		hub:        hub,
		bus:        bus,
		cache:      cache,
		instanceID: instanceID,
		log:        logger.With().Str("component", "broadcast").Str("instance_id", instanceID).Logger(),
	}
}

// Start registers the bus handlers, then listens for remote invalidations
// and for messages announced by the chat service. Bus relaying works even
// when the subscriptions cannot be made; the error is returned so the caller
// can log it and call Start again later.
func (b *Bridge) Start(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if len(b.handlers) == 0 {
		for _, name := range relayed {
			b.handlers = append(b.handlers, b.bus.On(name, b.relay))
		}
	}

	if len(b.subs) > 0 {
		return nil
	}
	inv, err := b.hub.Subscribe(ctx, InvalidationChannel, b.onInvalidation)
	if err != nil {
		return fmt.Errorf("subscribe invalidations: %w", err)
	}
	in, err := b.hub.Subscribe(ctx, IncomingChannel, b.onIncoming)
	if err != nil {
		b.hub.Unsubscribe(ctx, inv)
		return fmt.Errorf("subscribe incoming messages: %w", err)
	}
	b.subs = []pubsub.Subscription{inv, in}
	return nil
}

func (b *Bridge) Stop(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	for _, id := range b.handlers {
		b.bus.Off(id)
	}
	b.handlers = nil

	var errs []error
	for _, sub := range b.subs {
		if err := b.hub.Unsubscribe(ctx, sub); err != nil {
			errs = append(errs, err)
		}
	}
	b.subs = nil
	return errors.Join(errs...)
}

// InvalidateRoom drops roomID's cached queries here and on every other
// instance.
func (b *Bridge) InvalidateRoom(ctx context.Context, roomID string) {
	b.cache.InvalidateRoom(ctx, roomID)
	b.announce(ctx, roomID)
}

func (b *Bridge) announce(ctx context.Context, roomID string) {
	b.hub.Publish(ctx, InvalidationChannel, invalidation{RoomID: roomID, Origin: b.instanceID})
}

func (b *Bridge) relay(ctx context.Context, e events.Event) error {
	roomID := roomOf(e.Payload)
	if roomID == "" {
		return fmt.Errorf("event %s has no room", e.Name)
	}

	b.hub.Publish(ctx, RoomChannel(roomID), Envelope{
		ID:        e.ID,
		Type:      e.Name,
		Origin:    b.instanceID,
		Payload:   e.Payload,
		EmittedAt: e.EmittedAt,
	})
	// the repository already cleared the shared tier and this process
	b.announce(ctx, roomID)
	return nil
}

func (b *Bridge) onInvalidation(_ context.Context, msg pubsub.Message) {
	var inv invalidation
	if err := msg.Decode(&inv); err != nil {
		b.log.Warn().Err(err).Msg("bad invalidation message")
		return
	}
	if inv.Origin == b.instanceID || inv.RoomID == "" {
		return
	}

	n := b.cache.InvalidateRoomLocal(inv.RoomID)
	b.log.Debug().Str("room_id", inv.RoomID).Str("origin", inv.Origin).Int("dropped", n).Msg("remote invalidation applied")
}

// onIncoming hands announced messages to the bus so slow consumers never
// hold up the subscriber connection.
func (b *Bridge) onIncoming(_ context.Context, msg pubsub.Message) {
	var p events.MessageCreatedPayload
	if err := msg.Decode(&p); err != nil {
		b.log.Warn().Err(err).Msg("bad incoming message")
		return
	}
	if p.MessageID == "" || p.RoomID == "" {
		b.log.Warn().Str("message_id", p.MessageID).Msg("incoming message without ids")
		return
	}
	b.bus.Emit(events.MessageCreated, p)
}

func roomOf(payload any) string {
	switch p := payload.(type) {
	case events.ThreadCreatedPayload:
		return p.RoomID
	case events.SubThreadCreatedPayload:
		return p.RoomID
	case events.ThreadMessageAddedPayload:
		return p.RoomID
	case events.ThreadArchivedPayload:
		return p.RoomID
	}
	return ""
}
