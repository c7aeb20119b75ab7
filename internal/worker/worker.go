// Package worker drains the raw-reading queue and carries each message
// through RECEIVED -> DECODED -> VALIDATED -> STORED -> CHECKED,
// acking on success and nacking without requeue on any terminal
// failure. Start owns the sleep-and-retry consume loop; ProcessOne is
// the per-message state machine it drives. The worker is the
// single source of truth for ingestion time: it stamps
// timestamp = now_utc on every Reading it constructs, regardless of
// what the queued message carried.
package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/rs/zerolog"

	"github.com/airmesh/aqpipeline/internal/anomaly"
	"github.com/airmesh/aqpipeline/internal/broker"
	"github.com/airmesh/aqpipeline/internal/core/apperr"
	"github.com/airmesh/aqpipeline/internal/core/model"
	"github.com/airmesh/aqpipeline/internal/core/observability"
)

type State string

const (
	StateReceived  State = "received"
	StateDecoded   State = "decoded"
	StateValidated State = "validated"
	StateStored    State = "stored"
	StateChecked   State = "checked"
	StateFailed    State = "failed"
)

// Store is the slice of store.Store the worker depends on.
type Store interface {
	WriteReading(ctx context.Context, r model.Reading, storagePrecision int) (bool, error)
	WriteAnomaly(ctx context.Context, a model.Anomaly) (bool, error)
}

// Publisher is the slice of broker.Publisher used to fan out detected anomalies.
type Publisher interface {
	PublishJSON(ctx context.Context, exchange, routingKey string, v interface{}) error
}

type Worker struct {
	pool                *broker.Pool
	store               Store
	pub                 Publisher
	evaluator           *anomaly.Evaluator
	queueRaw            string
	exchangeBroadcast   string
	storagePrecision    int
	prefetch            int
	log                 zerolog.Logger
}

type Config struct {
	QueueRaw          string
	ExchangeBroadcast string
	StoragePrecision  int
	Prefetch          int
}

func New(pool *broker.Pool, store Store, pub Publisher, evaluator *anomaly.Evaluator, cfg Config, log zerolog.Logger) *Worker {
	if cfg.Prefetch <= 0 {
		cfg.Prefetch = 10
	}
	return &Worker{
		pool:              pool,
		store:             store,
		pub:               pub,
		evaluator:         evaluator,
		queueRaw:          cfg.QueueRaw,
		exchangeBroadcast: cfg.ExchangeBroadcast,
		storagePrecision:  cfg.StoragePrecision,
		prefetch:          cfg.Prefetch,
		log:               log,
	}
}

// Start consumes from queueRaw until ctx is canceled, reopening the
// channel with a fixed delay whenever Consume itself fails to start.
func (w *Worker) Start(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		err := w.runOnce(ctx)
		if err != nil {
			w.log.Error().Err(err).Msg("worker consume loop failed, retrying")
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

func (w *Worker) runOnce(ctx context.Context) error {
	ch, err := w.pool.Checkout()
	if err != nil {
		return fmt.Errorf("worker: checkout channel: %w", err)
	}
	defer w.pool.Checkin(ch)

	if err := ch.Qos(w.prefetch, 0, false); err != nil {
		return fmt.Errorf("worker: set qos: %w", err)
	}

	deliveries, err := ch.Consume(w.queueRaw, "", false, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("worker: consume: %w", err)
	}

	inflight := 0
	for {
		select {
		case <-ctx.Done():
			return nil
		case d, ok := <-deliveries:
			if !ok {
				return errors.New("worker: delivery channel closed")
			}
			inflight++
			observability.SetWorkerInflight(w.queueRaw, inflight)
			w.processDelivery(ctx, d)
			inflight--
			observability.SetWorkerInflight(w.queueRaw, inflight)
		}
	}
}

func (w *Worker) processDelivery(ctx context.Context, d amqp.Delivery) {
	start := time.Now()
	state, err := w.ProcessOne(ctx, d.Body)
	observability.ObserveWorkerMessage(string(state), time.Since(start).Seconds())

	if err != nil {
		w.log.Error().Err(err).Str("state", string(state)).Msg("message processing failed")
		_ = d.Nack(false, false)
		return
	}
	_ = d.Ack(false)
}

// ProcessOne runs the full state machine over a single message body and
// returns the terminal state reached, alongside any error encountered.
func (w *Worker) ProcessOne(ctx context.Context, body []byte) (State, error) {
	state := StateReceived

	var req model.IngestRequest
	if err := json.Unmarshal(body, &req); err != nil {
		return StateFailed, apperr.Malformed("decode reading", err)
	}
	state = StateDecoded

	if err := validateIngestRequest(req); err != nil {
		return StateFailed, err
	}
	state = StateValidated

	// the worker is the single source of truth for ingestion time: it
	// always stamps now, even if the message carried one.
	reading := model.Reading{
		Latitude:  req.Latitude,
		Longitude: req.Longitude,
		Timestamp: time.Now().UTC(),
		PM25:      req.PM25,
		PM10:      req.PM10,
		NO2:       req.NO2,
		SO2:       req.SO2,
		O3:        req.O3,
		CO:        req.CO,
	}

	written, err := w.store.WriteReading(ctx, reading, w.storagePrecision)
	if err != nil {
		return StateFailed, err
	}
	if !written {
		// every pollutant was null; nothing more to do.
		return StateStored, nil
	}
	state = StateStored

	anomalies := w.evaluator.Evaluate(reading)
	for _, a := range anomalies {
		observability.IncAnomalyDetected(string(a.Parameter))
		if _, err := w.store.WriteAnomaly(ctx, a); err != nil {
			return StateFailed, err
		}
		// the raw message is already durably written; a broadcast
		// failure must never roll that back or cause a nack.
		if err := w.pub.PublishJSON(ctx, w.exchangeBroadcast, "", a); err != nil {
			w.log.Error().Err(err).Str("anomaly_id", a.ID).Msg("failed to broadcast anomaly")
		}
	}
	state = StateChecked

	return state, nil
}

func validateIngestRequest(r model.IngestRequest) error {
	if r.Latitude < -90 || r.Latitude > 90 {
		return apperr.InvalidInput("latitude out of range", nil)
	}
	if r.Longitude < -180 || r.Longitude > 180 {
		return apperr.InvalidInput("longitude out of range", nil)
	}
	return nil
}
