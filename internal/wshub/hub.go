// Package wshub fans anomalies out to every websocket subscriber
// connected to this replica. Registration/broadcast is concurrency-safe
// the way the flybeeper fanet-backend's BroadcastManager is: take a
// read-locked snapshot of the subscriber set, then send to each
// subscriber outside the lock so a slow client never blocks a fast one.
// A new subscriber is replayed recent anomalies from the store, not a
// local cache, so replay survives process restarts and multiple replicas.
package wshub

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/airmesh/aqpipeline/internal/core/model"
	"github.com/airmesh/aqpipeline/internal/core/observability"
)

// AnomalyStore is the slice of store.Store the hub needs to replay recent
// anomalies to a newly connected subscriber.
type AnomalyStore interface {
	QueryAnomalies(ctx context.Context, start, end *time.Time) ([]model.Anomaly, error)
}

// Subscriber is a single websocket connection's send path. Hub never
// touches the underlying connection directly so it stays transport-agnostic.
type Subscriber struct {
	id     string
	send   chan []byte
	closed bool
}

func newSubscriber(id string) *Subscriber {
	return &Subscriber{id: id, send: make(chan []byte, 32)}
}

// Send is the channel the connection's write pump drains.
func (s *Subscriber) Send() <-chan []byte { return s.send }

// frame is the envelope every server-to-client websocket message uses.
type frame struct {
	Type      string      `json:"type"`
	Status    string      `json:"status,omitempty"`
	Message   string      `json:"message,omitempty"`
	Timestamp string      `json:"timestamp,omitempty"`
	Payload   interface{} `json:"payload,omitempty"`
}

type Hub struct {
	mu          sync.RWMutex
	subscribers map[string]*Subscriber
	store       AnomalyStore
	log         zerolog.Logger
}

func NewHub(store AnomalyStore, log zerolog.Logger) *Hub {
	return &Hub{
		subscribers: make(map[string]*Subscriber),
		store:       store,
		log:         log,
	}
}

// Register adds a subscriber, sends it a connection_status frame, then
// replays the anomalies QueryAnomalies returns for the default 24h
// window, oldest first.
func (h *Hub) Register(ctx context.Context, id string) *Subscriber {
	sub := newSubscriber(id)

	h.mu.Lock()
	h.subscribers[id] = sub
	h.mu.Unlock()

	observability.SetWSSubscribers(h.count())

	h.send(sub, frame{
		Type:      "connection_status",
		Status:    "connected",
		Message:   "subscribed to anomaly feed",
		Timestamp: now(),
	})
	for _, a := range h.recentAnomalies(ctx) {
		h.send(sub, frame{Type: "recent_anomaly", Payload: a})
	}
	return sub
}

// Unregister removes a subscriber and closes its send channel. Marking
// closed under the same lock send() reads it under keeps a concurrent
// Broadcast from racing this close and panicking on a closed channel.
func (h *Hub) Unregister(id string) {
	h.mu.Lock()
	sub, ok := h.subscribers[id]
	if ok {
		delete(h.subscribers, id)
		sub.closed = true
	}
	h.mu.Unlock()

	if ok {
		close(sub.send)
	}
	observability.SetWSSubscribers(h.count())
}

func (h *Hub) count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subscribers)
}

// recentAnomalies queries the store for the default replay window and
// reverses its newest-first result so subscribers see oldest-first.
func (h *Hub) recentAnomalies(ctx context.Context) []model.Anomaly {
	if h.store == nil {
		return nil
	}
	anomalies, err := h.store.QueryAnomalies(ctx, nil, nil)
	if err != nil {
		h.log.Error().Err(err).Msg("failed to query recent anomalies for replay")
		return nil
	}
	for i, j := 0, len(anomalies)-1; i < j; i, j = i+1, j-1 {
		anomalies[i], anomalies[j] = anomalies[j], anomalies[i]
	}
	return anomalies
}

// Broadcast delivers a to every current subscriber as a new_anomaly
// frame. A snapshot of the subscriber map is taken under the lock; the
// actual sends happen without holding it, so one stalled client cannot
// block the others.
func (h *Hub) Broadcast(a model.Anomaly) {
	h.mu.RLock()
	snapshot := make([]*Subscriber, 0, len(h.subscribers))
	for _, s := range h.subscribers {
		snapshot = append(snapshot, s)
	}
	h.mu.RUnlock()

	var failed []string
	for _, s := range snapshot {
		if !h.send(s, frame{Type: "new_anomaly", Payload: a}) {
			failed = append(failed, s.id)
		}
	}
	h.reap(failed)
}

// Pong answers a client "ping" text frame with a typed pong frame.
func (h *Hub) Pong(s *Subscriber) {
	h.send(s, frame{Type: "pong", Timestamp: now(), Message: "pong"})
}

// send marshals f and delivers it to s, returning false if the
// subscriber's send buffer was full (a stalled or dead client) or the
// subscriber was unregistered concurrently.
func (h *Hub) send(s *Subscriber, f frame) bool {
	body, err := json.Marshal(f)
	if err != nil {
		return false
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	if s.closed {
		return false
	}
	select {
	case s.send <- body:
		return true
	default:
		observability.IncWSSendFailure("buffer_full")
		return false
	}
}

func (h *Hub) reap(ids []string) {
	if len(ids) == 0 {
		return
	}
	for _, id := range ids {
		h.Unregister(id)
	}
}

func now() string { return time.Now().UTC().Format(time.RFC3339) }
