// Package events provides the in-process change bus that connects the stores
// to live watches. Stores publish a small "something changed" event after
// every successful write; watchers subscribe, re-read the current state and
// deliver it. Payloads carry keys only, never data, so a missed or coalesced
// event can always be recovered by a fresh read.
package events

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/goccy/go-json"
)

// Topics published by the stores.
const (
	TopicGroups    = "groups.changed"
	TopicLocations = "locations.changed"
)

// GroupChanged signals that a group document was created or mutated.
type GroupChanged struct {
	GroupID string `json:"group_id"`
}

// LocationChanged signals that a user's location record was written.
type LocationChanged struct {
	UserID string `json:"user_id"`
}

// Bus wraps a Watermill gochannel Pub/Sub. Every subscriber receives its own
// copy of each message, which is what lets an arbitrary number of concurrent
// watches hang off the same store.
type Bus struct {
	pubsub *gochannel.GoChannel
	log    *slog.Logger
}

// NewBus creates an in-process bus. The buffer keeps slow watchers from
// stalling store writes; watchers coalesce anyway.
func NewBus(log *slog.Logger) *Bus {
	return &Bus{
		pubsub: gochannel.NewGoChannel(
			gochannel.Config{OutputChannelBuffer: 64},
			watermill.NewSlogLogger(log),
		),
		log: log,
	}
}

// PublishGroupChanged emits a GroupChanged event. Failures are logged, not
// returned: the write that triggered the event has already succeeded and a
// watcher that misses an event recovers on the next one.
func (b *Bus) PublishGroupChanged(groupID string) {
	b.publish(TopicGroups, GroupChanged{GroupID: groupID})
}

// PublishLocationChanged emits a LocationChanged event.
func (b *Bus) PublishLocationChanged(userID string) {
	b.publish(TopicLocations, LocationChanged{UserID: userID})
}

func (b *Bus) publish(topic string, payload any) {
	data, err := json.Marshal(payload)
	if err != nil {
		b.log.Error("Failed to marshal bus event", "topic", topic, "error", err)
		return
	}
	msg := message.NewMessage(watermill.NewUUID(), data)
	if err := b.pubsub.Publish(topic, msg); err != nil {
		b.log.Error("Failed to publish bus event", "topic", topic, "error", err)
	}
}

// SubscribeGroups subscribes to group change events. The subscription ends
// when ctx is done. Consumers must Ack every message.
func (b *Bus) SubscribeGroups(ctx context.Context) (<-chan *message.Message, error) {
	msgs, err := b.pubsub.Subscribe(ctx, TopicGroups)
	if err != nil {
		return nil, fmt.Errorf("failed to subscribe to %s: %w", TopicGroups, err)
	}
	return msgs, nil
}

// SubscribeLocations subscribes to location change events.
func (b *Bus) SubscribeLocations(ctx context.Context) (<-chan *message.Message, error) {
	msgs, err := b.pubsub.Subscribe(ctx, TopicLocations)
	if err != nil {
		return nil, fmt.Errorf("failed to subscribe to %s: %w", TopicLocations, err)
	}
	return msgs, nil
}

// Close shuts down the bus and closes all subscriber channels.
func (b *Bus) Close() error {
	return b.pubsub.Close()
}
