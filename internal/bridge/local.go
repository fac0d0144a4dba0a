package bridge

import (
	"context"
	"errors"
	"sync"

	"chat-relay/internal/models"
)

var errClosed = errors.New("bridge closed")

// LocalBridge delivers events in-process. It is only correct for a single
// instance deployment.
type LocalBridge struct {
	mu       sync.RWMutex
	handlers map[int]localSub
	nextID   int
	closed   bool
}

type localSub struct {
	ctx     context.Context
	handler Handler
}

// NewLocalBridge constructs LocalBridge.
func NewLocalBridge() *LocalBridge {
	return &LocalBridge{handlers: make(map[int]localSub)}
}

// Publish calls every subscriber synchronously, in subscription order.
func (b *LocalBridge) Publish(ctx context.Context, event models.ChatEvent) error {
	b.mu.RLock()
	if b.closed {
		b.mu.RUnlock()
		return errClosed
	}
	subs := make([]localSub, 0, len(b.handlers))
	for id := 0; id < b.nextID; id++ {
		if s, ok := b.handlers[id]; ok && s.ctx.Err() == nil {
			subs = append(subs, s)
		}
	}
	b.mu.RUnlock()

	for _, s := range subs {
		s.handler(s.ctx, event)
	}
	return nil
}

func (b *LocalBridge) Subscribe(ctx context.Context, handler Handler) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return errClosed
	}

	id := b.nextID
	b.nextID++
	b.handlers[id] = localSub{ctx: ctx, handler: handler}

	go func() {
		<-ctx.Done()
		b.mu.Lock()
		delete(b.handlers, id)
		b.mu.Unlock()
	}()
	return nil
}

func (b *LocalBridge) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	b.handlers = make(map[int]localSub)
	return nil
}
