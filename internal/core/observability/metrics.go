// Package observability holds the process-wide Prometheus collectors.
// Every Observe*/Inc*/Set* function is a no-op until Init is called with
// metrics enabled, so packages can call them unconditionally without a
// nil check at every call site.
package observability

import (
	"context"
	"errors"
	"strconv"
	"sync/atomic"

	xx "github.com/cespare/xxhash/v2"
	"github.com/prometheus/client_golang/prometheus"
)

var enabled atomic.Bool

func Init(r prometheus.Registerer, isEnabled bool) {
	enabled.Store(isEnabled)
	if !isEnabled || r == nil {
		return
	}
	initCollectors(r)
}

func Enabled() bool { return enabled.Load() }

var (
	httpRequestsTotal          *prometheus.CounterVec
	httpRequestDurationSeconds *prometheus.HistogramVec

	ingestRequestsTotal *prometheus.CounterVec

	publishTotal        *prometheus.CounterVec
	publishRetriesTotal *prometheus.CounterVec

	workerMessagesTotal         *prometheus.CounterVec
	workerProcessingSeconds     *prometheus.HistogramVec
	workerQueueDepthSampleGauge *prometheus.GaugeVec

	anomaliesDetectedTotal *prometheus.CounterVec

	broadcastFanoutTotal  *prometheus.CounterVec
	broadcastLagSeconds   prometheus.Histogram
	wsSubscribersGauge    prometheus.Gauge
	wsSendFailuresTotal   *prometheus.CounterVec

	storeOpTotal           *prometheus.CounterVec
	storeOpDurationSeconds *prometheus.HistogramVec

	cellSampleGauge *prometheus.GaugeVec
)

func initCollectors(r prometheus.Registerer) {
	httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "http_requests_total", Help: "Total number of HTTP requests."},
		[]string{"method", "route", "status"},
	)
	httpRequestDurationSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{Name: "http_request_duration_seconds", Help: "Duration of HTTP requests in seconds.", Buckets: prometheus.ExponentialBuckets(0.005, 2, 12)},
		[]string{"method", "route", "status"},
	)

	ingestRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "ingest_requests_total", Help: "Readings accepted at the ingestion endpoint by outcome."},
		[]string{"outcome"},
	)

	publishTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "broker_publish_total", Help: "Publishes to the broker by destination and outcome."},
		[]string{"destination", "outcome"},
	)
	publishRetriesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "broker_publish_retries_total", Help: "Retry attempts consumed before a publish succeeded or was abandoned."},
		[]string{"destination"},
	)

	workerMessagesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "worker_messages_total", Help: "Messages the worker finished processing by terminal state."},
		[]string{"state"},
	)
	workerProcessingSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{Name: "worker_processing_seconds", Help: "End-to-end processing time per message.", Buckets: prometheus.ExponentialBuckets(0.001, 2, 15)},
		[]string{"state"},
	)
	workerQueueDepthSampleGauge = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{Name: "worker_inflight_messages", Help: "Messages currently checked out of the prefetch window."},
		[]string{"queue"},
	)

	anomaliesDetectedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "anomalies_detected_total", Help: "Anomalies detected by parameter."},
		[]string{"parameter"},
	)

	broadcastFanoutTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "broadcast_fanout_total", Help: "Anomalies fanned out to websocket subscribers by outcome."},
		[]string{"outcome"},
	)
	broadcastLagSeconds = prometheus.NewHistogram(
		prometheus.HistogramOpts{Name: "broadcast_lag_seconds", Help: "Time from anomaly detection to fanout delivery.", Buckets: prometheus.ExponentialBuckets(0.005, 2, 12)},
	)
	wsSubscribersGauge = prometheus.NewGauge(
		prometheus.GaugeOpts{Name: "ws_subscribers", Help: "Currently connected websocket subscribers on this replica."},
	)
	wsSendFailuresTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "ws_send_failures_total", Help: "Failed sends to a websocket subscriber, reaped after failure."},
		[]string{"reason"},
	)

	storeOpTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "store_op_total", Help: "Time-series store operations by op and outcome."},
		[]string{"op", "outcome"},
	)
	storeOpDurationSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{Name: "store_op_duration_seconds", Help: "Latency of time-series store operations in seconds.", Buckets: prometheus.ExponentialBuckets(0.001, 2, 15)},
		[]string{"op"},
	)

	cellSampleGauge = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{Name: "latest_pm25_sample", Help: "Sampled latest PM2.5 value per geohash cell (1% deterministic sample)."},
		[]string{"cell_hash"},
	)

	r.MustRegister(
		httpRequestsTotal, httpRequestDurationSeconds,
		ingestRequestsTotal,
		publishTotal, publishRetriesTotal,
		workerMessagesTotal, workerProcessingSeconds, workerQueueDepthSampleGauge,
		anomaliesDetectedTotal,
		broadcastFanoutTotal, broadcastLagSeconds, wsSubscribersGauge, wsSendFailuresTotal,
		storeOpTotal, storeOpDurationSeconds,
		cellSampleGauge,
	)
}

func ObserveHTTP(method, route string, status int, durationSeconds float64) {
	if !enabled.Load() || httpRequestsTotal == nil {
		return
	}
	st := strconv.Itoa(status)
	httpRequestsTotal.WithLabelValues(method, route, st).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route, st).Observe(durationSeconds)
}

func IncIngest(outcome string) {
	if !enabled.Load() || ingestRequestsTotal == nil {
		return
	}
	if outcome == "" {
		outcome = "unknown"
	}
	ingestRequestsTotal.WithLabelValues(outcome).Inc()
}

func ObservePublish(destination string, err error, retries int) {
	if !enabled.Load() || publishTotal == nil {
		return
	}
	outcome := outcomeOf(err)
	publishTotal.WithLabelValues(destination, outcome).Inc()
	if retries > 0 {
		publishRetriesTotal.WithLabelValues(destination).Add(float64(retries))
	}
}

func ObserveWorkerMessage(state string, durationSeconds float64) {
	if !enabled.Load() || workerMessagesTotal == nil {
		return
	}
	workerMessagesTotal.WithLabelValues(state).Inc()
	workerProcessingSeconds.WithLabelValues(state).Observe(durationSeconds)
}

func SetWorkerInflight(queue string, n int) {
	if !enabled.Load() || workerQueueDepthSampleGauge == nil {
		return
	}
	workerQueueDepthSampleGauge.WithLabelValues(queue).Set(float64(n))
}

func IncAnomalyDetected(parameter string) {
	if !enabled.Load() || anomaliesDetectedTotal == nil {
		return
	}
	anomaliesDetectedTotal.WithLabelValues(parameter).Inc()
}

func ObserveBroadcast(outcome string, lagSeconds float64) {
	if !enabled.Load() || broadcastFanoutTotal == nil {
		return
	}
	broadcastFanoutTotal.WithLabelValues(outcome).Inc()
	if lagSeconds > 0 {
		broadcastLagSeconds.Observe(lagSeconds)
	}
}

func SetWSSubscribers(n int) {
	if !enabled.Load() || wsSubscribersGauge == nil {
		return
	}
	wsSubscribersGauge.Set(float64(n))
}

func IncWSSendFailure(reason string) {
	if !enabled.Load() || wsSendFailuresTotal == nil {
		return
	}
	if reason == "" {
		reason = "unknown"
	}
	wsSendFailuresTotal.WithLabelValues(reason).Inc()
}

// ObserveStoreOp records a time-series store call. err classifies the
// outcome (ok/timeout/canceled/error); durationSeconds is always recorded.
func ObserveStoreOp(op string, err error, durationSeconds float64) {
	if !enabled.Load() {
		return
	}
	if op == "" {
		op = "unknown"
	}
	outcome := outcomeOf(err)
	if storeOpTotal != nil {
		storeOpTotal.WithLabelValues(op, outcome).Inc()
	}
	if storeOpDurationSeconds != nil {
		storeOpDurationSeconds.WithLabelValues(op).Observe(durationSeconds)
	}
}

func outcomeOf(err error) string {
	if err == nil {
		return "ok"
	}
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	case errors.Is(err, context.Canceled):
		return "canceled"
	default:
		return "error"
	}
}

// ObserveLatestPM25Sample records a 1-in-100 deterministic sample of the
// latest PM2.5 reading per cell, keyed by a short hash so cardinality
// stays bounded regardless of how many distinct cells are seen.
func ObserveLatestPM25Sample(cell string, value float64) {
	if !enabled.Load() || cellSampleGauge == nil || cell == "" {
		return
	}
	const denom = uint64(100)
	h := xx.Sum64String(cell)
	if (h % denom) != 0 {
		return
	}
	cellSampleGauge.WithLabelValues(toShortHash(h)).Set(value)
}

func toShortHash(h uint64) string {
	const width = 8
	x := h >> 32
	s := strconv.FormatUint(x, 16)

	if len(s) >= width {
		return s[len(s)-width:]
	}

	var b [width]byte
	pad := width - len(s)
	for i := range pad {
		b[i] = '0'
	}
	copy(b[pad:], s)
	return string(b[:])
}

// ExposeBuildInfo is a no-op: this service registers no build-info gauge.
func ExposeBuildInfo(_ string) {}
