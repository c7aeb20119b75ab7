// Package broadcast is the per-replica fanout consumer: each process
// binds its own exclusive, auto-delete queue to the anomaly broadcast
// exchange so every replica's websocket hub receives a copy of every
// anomaly, independent of how many other replicas exist. Reconnects on
// a fixed delay until the context is canceled.
package broadcast

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/rs/zerolog"

	"github.com/airmesh/aqpipeline/internal/broker"
	"github.com/airmesh/aqpipeline/internal/core/model"
	"github.com/airmesh/aqpipeline/internal/core/observability"
)

// Sink receives every anomaly this replica's consumer pulls off its
// exclusive queue; internal/wshub.Hub implements it.
type Sink interface {
	Broadcast(a model.Anomaly)
}

type Consumer struct {
	pool     *broker.Pool
	exchange string
	sink     Sink
	log      zerolog.Logger
}

func New(pool *broker.Pool, exchange string, sink Sink, log zerolog.Logger) *Consumer {
	return &Consumer{pool: pool, exchange: exchange, sink: sink, log: log}
}

// Start runs until ctx is canceled. A fresh exclusive queue is declared
// on every (re)connect, since the old one and its bindings die with the
// connection that owned them.
func (c *Consumer) Start(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		if err := c.runOnce(ctx); err != nil {
			c.log.Error().Err(err).Msg("broadcast consumer failed, reconnecting")
		}
		if ctx.Err() != nil {
			return nil
		}
		select {
		case <-time.After(2 * time.Second):
		case <-ctx.Done():
			return nil
		}
	}
}

func (c *Consumer) runOnce(ctx context.Context) error {
	ch, err := c.pool.Checkout()
	if err != nil {
		return fmt.Errorf("broadcast: checkout channel: %w", err)
	}
	defer c.pool.Checkin(ch)

	q, err := ch.QueueDeclare("", false, true, true, false, nil)
	if err != nil {
		return fmt.Errorf("broadcast: declare exclusive queue: %w", err)
	}
	if err := ch.QueueBind(q.Name, "", c.exchange, false, nil); err != nil {
		return fmt.Errorf("broadcast: bind queue to %s: %w", c.exchange, err)
	}

	deliveries, err := ch.Consume(q.Name, "", true, true, false, false, nil)
	if err != nil {
		return fmt.Errorf("broadcast: consume: %w", err)
	}

	c.log.Info().Str("queue", q.Name).Str("exchange", c.exchange).Msg("broadcast consumer bound")

	for {
		select {
		case <-ctx.Done():
			return nil
		case d, ok := <-deliveries:
			if !ok {
				return fmt.Errorf("broadcast: delivery channel closed")
			}
			c.handle(d)
		}
	}
}

func (c *Consumer) handle(d amqp.Delivery) {
	var a model.Anomaly
	if err := json.Unmarshal(d.Body, &a); err != nil {
		c.log.Error().Err(err).Msg("broadcast: decode anomaly failed")
		observability.ObserveBroadcast("decode_error", 0)
		return
	}

	lag := time.Since(a.Timestamp).Seconds()
	c.sink.Broadcast(a)
	observability.ObserveBroadcast("delivered", lag)
}
