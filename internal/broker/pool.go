// Package broker wraps the RabbitMQ connection used to publish raw
// readings to the worker queue and anomalies to the broadcast exchange.
// The connection pool and functional Options ping on construction, wrap
// the underlying client in typed errors, and release resources on Close.
package broker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/airmesh/aqpipeline/internal/core/observability"
)

// Option configures a Pool at construction.
type Option func(*poolOptions)

type poolOptions struct {
	size           int
	dialTimeout    time.Duration
	acquireTimeout time.Duration
}

func WithPoolSize(n int) Option {
	return func(o *poolOptions) { o.size = n }
}

func WithDialTimeout(d time.Duration) Option {
	return func(o *poolOptions) { o.dialTimeout = d }
}

// WithAcquireTimeout bounds how long Checkout waits for an idle channel
// once the pool has size channels outstanding.
func WithAcquireTimeout(d time.Duration) Option {
	return func(o *poolOptions) { o.acquireTimeout = d }
}

// Pool is a bounded LIFO pool of AMQP channels sharing one connection.
// RabbitMQ connections are safe for concurrent use to open channels but
// not to publish on the same channel concurrently, so each checkout
// owns its own channel until returned. At most size channels exist at
// once; tokens tracks how many are still available to open or reopen.
// A Checkout finding no idle channel and no token waits up to
// acquireTimeout before giving up.
type Pool struct {
	mu             sync.Mutex
	conn           *amqp.Connection
	idle           []*amqp.Channel
	tokens         chan struct{}
	size           int
	acquireTimeout time.Duration
	closed         bool
	dialURL        string
}

// New dials url and pre-warms a single channel before returning.
func New(ctx context.Context, url string, opts ...Option) (*Pool, error) {
	if url == "" {
		return nil, errors.New("broker: amqp url is required")
	}
	cfg := poolOptions{size: 15, dialTimeout: 5 * time.Second, acquireTimeout: 10 * time.Second}
	for _, f := range opts {
		f(&cfg)
	}

	dialCtx, cancel := context.WithTimeout(ctx, cfg.dialTimeout)
	defer cancel()

	start := time.Now()
	conn, err := dialWithContext(dialCtx, url)
	observability.ObserveStoreOp("amqp_dial", err, time.Since(start).Seconds())
	if err != nil {
		return nil, fmt.Errorf("broker: dial: %w", err)
	}

	p := &Pool{
		conn:           conn,
		size:           cfg.size,
		acquireTimeout: cfg.acquireTimeout,
		dialURL:        url,
		tokens:         make(chan struct{}, cfg.size),
	}
	for i := 0; i < cfg.size-1; i++ {
		p.tokens <- struct{}{}
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("broker: open channel: %w", err)
	}
	p.idle = append(p.idle, ch)
	return p, nil
}

func dialWithContext(ctx context.Context, url string) (*amqp.Connection, error) {
	type result struct {
		conn *amqp.Connection
		err  error
	}
	ch := make(chan result, 1)
	go func() {
		conn, err := amqp.Dial(url)
		ch <- result{conn, err}
	}()
	select {
	case r := <-ch:
		return r.conn, r.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Checkout returns an idle channel, or opens a new one if the pool has
// not yet reached size, or waits up to acquireTimeout for either.
func (p *Pool) Checkout() (*amqp.Channel, error) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil, errors.New("broker: pool closed")
	}
	if n := len(p.idle); n > 0 {
		ch := p.idle[n-1]
		p.idle = p.idle[:n-1]
		p.mu.Unlock()
		return ch, nil
	}
	p.mu.Unlock()

	select {
	case <-p.tokens:
	case <-time.After(p.acquireTimeout):
		return nil, fmt.Errorf("broker: timed out after %s waiting for an idle channel", p.acquireTimeout)
	}

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		p.tokens <- struct{}{}
		return nil, errors.New("broker: pool closed")
	}
	p.mu.Unlock()

	ch, err := p.conn.Channel()
	if err != nil {
		p.tokens <- struct{}{}
		return nil, err
	}
	return ch, nil
}

// Checkin returns ch to the pool, or closes it and frees its slot once
// the pool is at capacity or closed.
func (p *Pool) Checkin(ch *amqp.Channel) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed || ch.IsClosed() || len(p.idle) >= p.size {
		_ = ch.Close()
		select {
		case p.tokens <- struct{}{}:
		default:
		}
		return
	}
	p.idle = append(p.idle, ch)
}

// Conn exposes the underlying connection for declaring topology once at startup.
func (p *Pool) Conn() *amqp.Connection {
	return p.conn
}

func (p *Pool) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	for _, ch := range p.idle {
		_ = ch.Close()
	}
	p.idle = nil
	return p.conn.Close()
}
