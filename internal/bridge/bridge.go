// Package bridge fans chat events out to every server instance.
//
// One shared channel carries every event. Each instance subscribes once at
// startup and relays what it receives to its own websocket sessions, so a
// message reaches a room's subscribers whichever instance they are connected
// to. Delivery is at-most-once with no replay; history durability comes from
// the message store, not from the bridge.
package bridge

import (
	"context"
	"encoding/json"
	"fmt"

	"chat-relay/internal/models"
)

// Handler receives every event delivered on the shared channel.
type Handler func(ctx context.Context, event models.ChatEvent)

// Bridge publishes to and consumes from the shared channel. It is opened at
// startup and closed at shutdown.
type Bridge interface {
	Publish(ctx context.Context, event models.ChatEvent) error
	// Subscribe returns once the subscription is active; handler is then
	// called for each event until ctx is done or the bridge is closed.
	Subscribe(ctx context.Context, handler Handler) error
	Close() error
}

func encode(event models.ChatEvent) ([]byte, error) {
	data, err := json.Marshal(event)
	if err != nil {
		return nil, fmt.Errorf("encode event: %w", err)
	}
	return data, nil
}

func decode(data []byte) (models.ChatEvent, error) {
	var event models.ChatEvent
	if err := json.Unmarshal(data, &event); err != nil {
		return models.ChatEvent{}, fmt.Errorf("decode event: %w", err)
	}
	if event.ChatRoomID <= 0 || !event.Type.Valid() {
		return models.ChatEvent{}, fmt.Errorf("decode event: invalid room %d or type %q", event.ChatRoomID, event.Type)
	}
	return event, nil
}
