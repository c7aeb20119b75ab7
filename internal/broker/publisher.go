package broker

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/airmesh/aqpipeline/internal/core/observability"
)

// Topology is the durable queue + fanout exchange layout declared once
// at startup: raw readings land on QueueRaw for the worker to drain,
// detected anomalies are published to ExchangeBroadcast for every
// replica's exclusive fanout queue to receive a copy of.
type Topology struct {
	QueueRaw         string
	ExchangeBroadcast string
}

// Declare is idempotent and safe to call from every process that shares this topology.
func Declare(ch *amqp.Channel, t Topology) error {
	if _, err := ch.QueueDeclare(t.QueueRaw, true, false, false, false, nil); err != nil {
		return fmt.Errorf("broker: declare queue %s: %w", t.QueueRaw, err)
	}
	if err := ch.ExchangeDeclare(t.ExchangeBroadcast, amqp.ExchangeFanout, true, false, false, false, nil); err != nil {
		return fmt.Errorf("broker: declare exchange %s: %w", t.ExchangeBroadcast, err)
	}
	return nil
}

// Publisher retries a bounded number of times with a fixed delay before
// giving up. publishOnce is a field, not a method on *Pool directly, so
// the retry boundary can be exercised without a real broker.
type Publisher struct {
	publishOnce func(ctx context.Context, exchange, routingKey string, body []byte) error
	maxRetries  int
	retryDelay  time.Duration
}

type PublisherOption func(*Publisher)

func WithMaxRetries(n int) PublisherOption {
	return func(p *Publisher) { p.maxRetries = n }
}

func WithRetryDelay(d time.Duration) PublisherOption {
	return func(p *Publisher) { p.retryDelay = d }
}

func NewPublisher(pool *Pool, opts ...PublisherOption) *Publisher {
	p := &Publisher{maxRetries: 3, retryDelay: 500 * time.Millisecond}
	p.publishOnce = func(ctx context.Context, exchange, routingKey string, body []byte) error {
		return poolPublish(ctx, pool, exchange, routingKey, body)
	}
	for _, f := range opts {
		f(p)
	}
	return p
}

// PublishJSON marshals v and publishes it as a persistent message to
// exchange/routingKey (routingKey is the queue name itself for direct
// publishes to the default exchange). It retries up to maxRetries times
// on a channel or connection error, sleeping retryDelay between attempts.
func (p *Publisher) PublishJSON(ctx context.Context, exchange, routingKey string, v interface{}) error {
	body, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("broker: marshal: %w", err)
	}

	var lastErr error
	retries := 0
attempts:
	for attempt := 0; attempt <= p.maxRetries; attempt++ {
		lastErr = p.publishOnce(ctx, exchange, routingKey, body)
		if lastErr == nil {
			observability.ObservePublish(destinationOf(exchange, routingKey), nil, retries)
			return nil
		}
		retries = attempt + 1
		if attempt == p.maxRetries {
			break
		}
		select {
		case <-time.After(p.retryDelay):
		case <-ctx.Done():
			lastErr = ctx.Err()
			break attempts
		}
	}
	observability.ObservePublish(destinationOf(exchange, routingKey), lastErr, retries)
	return fmt.Errorf("broker: publish failed after %d attempts: %w", p.maxRetries+1, lastErr)
}

func poolPublish(ctx context.Context, pool *Pool, exchange, routingKey string, body []byte) error {
	ch, err := pool.Checkout()
	if err != nil {
		return err
	}
	defer pool.Checkin(ch)

	return ch.PublishWithContext(ctx, exchange, routingKey, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Timestamp:    time.Now(),
		Body:         body,
	})
}

func destinationOf(exchange, routingKey string) string {
	if exchange == "" {
		return routingKey
	}
	return exchange
}
