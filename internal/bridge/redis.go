package bridge

import (
	"context"
	"fmt"
	"sync"

	"github.com/redis/go-redis/v9"

	"chat-relay/internal/logging"
	"chat-relay/internal/models"
)

// RedisBridge uses Redis PUBLISH/SUBSCRIBE on a single channel.
type RedisBridge struct {
	client  redis.UniversalClient
	channel string

	mu   sync.Mutex
	subs []*redis.PubSub
}

// NewRedisBridge constructs RedisBridge. The client is owned by the caller.
func NewRedisBridge(client redis.UniversalClient, channel string) *RedisBridge {
	return &RedisBridge{client: client, channel: channel}
}

func (b *RedisBridge) Publish(ctx context.Context, event models.ChatEvent) error {
	data, err := encode(event)
	if err != nil {
		return err
	}
	if err := b.client.Publish(ctx, b.channel, data).Err(); err != nil {
		return fmt.Errorf("publish to %s: %w", b.channel, err)
	}
	return nil
}

func (b *RedisBridge) Subscribe(ctx context.Context, handler Handler) error {
	sub := b.client.Subscribe(ctx, b.channel)
	if _, err := sub.Receive(ctx); err != nil {
		_ = sub.Close()
		return fmt.Errorf("subscribe to %s: %w", b.channel, err)
	}

	b.mu.Lock()
	b.subs = append(b.subs, sub)
	b.mu.Unlock()

	go b.consume(ctx, sub, handler)
	return nil
}

func (b *RedisBridge) consume(ctx context.Context, sub *redis.PubSub, handler Handler) {
	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			_ = sub.Close()
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			event, err := decode([]byte(msg.Payload))
			if err != nil {
				l := logging.L()
				l.Warn().Err(err).Str("channel", msg.Channel).Msg("dropping bridge message")
				continue
			}
			handler(ctx, event)
		}
	}
}

// Close ends every subscription. The redis client stays open.
func (b *RedisBridge) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, sub := range b.subs {
		_ = sub.Close()
	}
	b.subs = nil
	return nil
}
