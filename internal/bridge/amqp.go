package bridge

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"chat-relay/internal/logging"
	"chat-relay/internal/models"
)

var errBridgeClosed = errors.New("bridge closed")

var (
	resubscribeMin = 500 * time.Millisecond
	resubscribeMax = 30 * time.Second
)

// AMQPBridge publishes to a fanout exchange. Every subscriber gets its own
// exclusive, auto-deleted queue bound to the exchange, so each instance sees
// every event. A lost connection is redialled on the next publish or
// resubscribe.
type AMQPBridge struct {
	url      string
	exchange string

	mu       sync.Mutex
	conn     *amqp.Connection
	pub      *amqp.Channel
	channels []*amqp.Channel
	closed   bool
}

// NewAMQPBridge dials the broker and declares the exchange.
func NewAMQPBridge(amqpURL, exchange string) (*AMQPBridge, error) {
	if amqpURL == "" {
		return nil, errors.New("amqp url is empty")
	}

	b := &AMQPBridge{url: amqpURL, exchange: exchange}
	b.mu.Lock()
	err := b.connectLocked()
	b.mu.Unlock()
	if err != nil {
		return nil, err
	}

	l := logging.L()
	l.Info().Str("exchange", exchange).Msg("amqp bridge connected")
	return b, nil
}

// connectLocked dials a new connection and publishing channel when the
// current ones are gone. b.mu must be held.
func (b *AMQPBridge) connectLocked() error {
	if b.closed {
		return errBridgeClosed
	}
	if b.conn != nil && !b.conn.IsClosed() && b.pub != nil && !b.pub.IsClosed() {
		return nil
	}
	if b.conn == nil || b.conn.IsClosed() {
		conn, err := amqp.Dial(b.url)
		if err != nil {
			return fmt.Errorf("dial amqp: %w", err)
		}
		b.conn = conn
		b.channels = nil
		go watchConnection(conn, b.exchange)
	}

	ch, err := b.conn.Channel()
	if err != nil {
		return fmt.Errorf("open channel: %w", err)
	}
	if err := ch.ExchangeDeclare(
		b.exchange,
		amqp.ExchangeFanout,
		true,
		false,
		false,
		false,
		nil,
	); err != nil {
		_ = ch.Close()
		return fmt.Errorf("declare exchange %s: %w", b.exchange, err)
	}
	b.pub = ch
	return nil
}

func watchConnection(conn *amqp.Connection, exchange string) {
	if err, ok := <-conn.NotifyClose(make(chan *amqp.Error, 1)); ok && err != nil {
		l := logging.L()
		l.Warn().Str("exchange", exchange).Str("reason", err.Reason).Int("code", err.Code).Msg("amqp connection lost")
	}
}

func (b *AMQPBridge) Publish(ctx context.Context, event models.ChatEvent) error {
	body, err := encode(event)
	if err != nil {
		return err
	}

	b.mu.Lock()
	err = b.connectLocked()
	pub := b.pub
	b.mu.Unlock()
	if err != nil {
		return fmt.Errorf("publish to %s: %w", b.exchange, err)
	}

	err = pub.PublishWithContext(ctx, b.exchange, "", false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Transient,
		Timestamp:    time.Now(),
		Body:         body,
	})
	if err != nil {
		return fmt.Errorf("publish to %s: %w", b.exchange, err)
	}
	return nil
}

func (b *AMQPBridge) Subscribe(ctx context.Context, handler Handler) error {
	deliveries, err := b.consume(ctx)
	if err != nil {
		return err
	}
	go relay(ctx, b.exchange, deliveries, handler, b.consume)
	return nil
}

// consume binds a fresh exclusive queue to the exchange.
func (b *AMQPBridge) consume(ctx context.Context) (<-chan amqp.Delivery, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.connectLocked(); err != nil {
		return nil, err
	}

	ch, err := b.conn.Channel()
	if err != nil {
		return nil, fmt.Errorf("open channel: %w", err)
	}

	q, err := ch.QueueDeclare("", false, true, true, false, nil)
	if err != nil {
		_ = ch.Close()
		return nil, fmt.Errorf("declare queue: %w", err)
	}
	if err := ch.QueueBind(q.Name, "", b.exchange, false, nil); err != nil {
		_ = ch.Close()
		return nil, fmt.Errorf("bind queue %s: %w", q.Name, err)
	}

	deliveries, err := ch.ConsumeWithContext(ctx, q.Name, "", true, true, false, false, nil)
	if err != nil {
		_ = ch.Close()
		return nil, fmt.Errorf("consume %s: %w", q.Name, err)
	}
	b.channels = append(b.channels, ch)
	return deliveries, nil
}

// relay hands deliveries to handler. When the delivery stream ends while ctx
// is live, it reopens the subscription with exponential backoff until that
// succeeds, ctx is done or reopen reports the bridge closed.
func relay(
	ctx context.Context,
	exchange string,
	deliveries <-chan amqp.Delivery,
	handler Handler,
	reopen func(context.Context) (<-chan amqp.Delivery, error),
) {
	l := logging.L().With().Str("exchange", exchange).Logger()
	for {
		for d := range deliveries {
			event, err := decode(d.Body)
			if err != nil {
				l.Warn().Err(err).Msg("dropping bridge message")
				continue
			}
			handler(ctx, event)
		}
		if ctx.Err() != nil {
			return
		}
		l.Warn().Msg("amqp deliveries stopped, resubscribing")

		backoff := resubscribeMin
		for {
			select {
			case <-ctx.Done():
				return
			case <-time.After(backoff):
			}
			next, err := reopen(ctx)
			if errors.Is(err, errBridgeClosed) {
				return
			}
			if err == nil {
				l.Info().Msg("amqp subscription restored")
				deliveries = next
				break
			}
			l.Warn().Err(err).Dur("retry_in", backoff).Msg("amqp resubscribe failed")
			backoff = min(backoff*2, resubscribeMax)
		}
	}
}

func (b *AMQPBridge) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true

	for _, ch := range b.channels {
		_ = ch.Close()
	}
	b.channels = nil

	if b.pub != nil {
		_ = b.pub.Close()
	}
	if b.conn != nil && !b.conn.IsClosed() {
		return b.conn.Close()
	}
	return nil
}
