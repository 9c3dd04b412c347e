// Package broker adapts RabbitMQ to the bridge: a shared publisher for the
// gateway and prefetch-bounded consumers for the workers.
package broker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/npd-bank/npd_bank/internal/bridge"
)

// Connection wraps one AMQP connection and the channel used for publishing.
type Connection struct {
	conn   *amqp.Connection
	logger *slog.Logger

	mu       sync.Mutex
	pub      *amqp.Channel
	declared map[string]bool
}

// New wraps an established AMQP connection.
func New(conn *amqp.Connection, logger *slog.Logger) *Connection {
	return &Connection{conn: conn, logger: logger, declared: make(map[string]bool)}
}

// Close closes the publishing channel and the connection.
func (c *Connection) Close() error {
	c.mu.Lock()
	if c.pub != nil {
		c.pub.Close() // nolint:errcheck
		c.pub = nil
	}
	c.mu.Unlock()
	return c.conn.Close()
}

// Healthy reports whether the underlying connection is open.
func (c *Connection) Healthy() error {
	if c.conn.IsClosed() {
		return errors.New("rabbitmq connection closed")
	}
	return nil
}

// queueDeclarer declares durable queues.
type queueDeclarer interface {
	QueueDeclare(name string, durable, autoDelete, exclusive, noWait bool, args amqp.Table) (amqp.Queue, error)
}

// consumerChannel is the part of an AMQP channel a consumer uses.
type consumerChannel interface {
	queueDeclarer
	Qos(prefetchCount, prefetchSize int, global bool) error
	ConsumeWithContext(ctx context.Context, queue, consumer string, autoAck, exclusive, noLocal, noWait bool, args amqp.Table) (<-chan amqp.Delivery, error)
}

func declare(ch queueDeclarer, queue string) error {
	_, err := ch.QueueDeclare(queue, true, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("declare queue %s: %w", queue, err)
	}
	return nil
}

// publishChannel returns the shared publishing channel, reopening it after a
// channel-level error.
func (c *Connection) publishChannel() (*amqp.Channel, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.pub != nil && !c.pub.IsClosed() {
		return c.pub, nil
	}
	ch, err := c.conn.Channel()
	if err != nil {
		return nil, fmt.Errorf("open channel: %w", err)
	}
	c.pub = ch
	c.declared = make(map[string]bool)
	return ch, nil
}

func (c *Connection) ensureQueue(ch *amqp.Channel, queue string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.declared[queue] {
		return nil
	}
	if err := declare(ch, queue); err != nil {
		return err
	}
	c.declared[queue] = true
	return nil
}

// Publish sends body as a persistent message to the durable queue.
func (c *Connection) Publish(ctx context.Context, queue, correlationID string, body []byte) error {
	ch, err := c.publishChannel()
	if err != nil {
		return err
	}
	if err := c.ensureQueue(ch, queue); err != nil {
		return err
	}
	return ch.PublishWithContext(ctx, "", queue, false, false, amqp.Publishing{
		ContentType:   "application/json",
		DeliveryMode:  amqp.Persistent,
		CorrelationId: correlationID,
		Body:          body,
	})
}

var _ bridge.Publisher = (*Connection)(nil)

// Delivery adapts an AMQP delivery to bridge.Delivery.
type Delivery struct {
	d amqp.Delivery
}

func (d *Delivery) Body() []byte            { return d.d.Body }
func (d *Delivery) Ack() error              { return d.d.Ack(false) }
func (d *Delivery) Nack(requeue bool) error { return d.d.Nack(false, requeue) }

// Consume processes messages of queue until ctx is cancelled or the channel
// closes. The broker holds back deliveries once prefetch messages are
// unacknowledged, and at most prefetch handlers run at once.
func (c *Connection) Consume(ctx context.Context, queue string, prefetch int, handle func(context.Context, bridge.Delivery)) error {
	ch, err := c.conn.Channel()
	if err != nil {
		return fmt.Errorf("open channel: %w", err)
	}
	defer ch.Close() // nolint:errcheck

	return consume(ctx, ch, queue, prefetch, handle, c.logger)
}

// consume returns only after every started handler has finished, so their
// acknowledgements go out on a channel that is still open.
func consume(ctx context.Context, ch consumerChannel, queue string, prefetch int, handle func(context.Context, bridge.Delivery), logger *slog.Logger) error {
	if prefetch <= 0 {
		return fmt.Errorf("prefetch must be positive, got %d", prefetch)
	}
	if err := ch.Qos(prefetch, 0, false); err != nil {
		return fmt.Errorf("set qos: %w", err)
	}
	if err := declare(ch, queue); err != nil {
		return err
	}

	deliveries, err := ch.ConsumeWithContext(ctx, queue, "", false, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("consume %s: %w", queue, err)
	}
	logger.Info("consumer_started", slog.String("queue", queue), slog.Int("prefetch", prefetch))

	slots := make(chan struct{}, prefetch)
	var wg sync.WaitGroup
	defer wg.Wait()

	for {
		select {
		case <-ctx.Done():
			return nil
		case d, ok := <-deliveries:
			if !ok {
				if ctx.Err() != nil {
					return nil
				}
				return fmt.Errorf("delivery channel for %s closed", queue)
			}
			select {
			case slots <- struct{}{}:
			case <-ctx.Done():
				// Unacknowledged, so the broker redelivers it once the channel closes.
				return nil
			}
			wg.Add(1)
			go func() {
				defer wg.Done()
				defer func() { <-slots }()
				handle(ctx, &Delivery{d: d})
			}()
		}
	}
}
