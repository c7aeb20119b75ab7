// Package store is the time-series store adapter: typed write/query
// operations against InfluxDB, with spatial predicates translated
// through internal/geohash. Writes and queries go through a derived
// key/tag shape and metrics-wrapped client methods configured with
// functional Options.
package store

import (
	"context"
	"time"

	"github.com/airmesh/aqpipeline/internal/core/model"
)

const (
	MeasurementReading  = "air_quality"
	MeasurementAnomaly  = "air_quality_anomalies"
)

// Store is the contract the worker, the hub's recent-anomaly replay,
// and the query endpoints all consume; none of them see the InfluxDB
// client directly.
type Store interface {
	WriteReading(ctx context.Context, r model.Reading, storagePrecision int) (written bool, err error)
	WriteAnomaly(ctx context.Context, a model.Anomaly) (bool, error)

	QueryLatestCell(ctx context.Context, lat, lon float64, precision int, lookback time.Duration) (*model.Reading, error)
	QueryRawInBBox(ctx context.Context, bb model.BBox, window time.Duration, rowCap int) ([]model.Reading, error)
	QueryDensity(ctx context.Context, bb model.BBox, window time.Duration) (*model.PollutionDensity, error)
	QueryAnomalies(ctx context.Context, start, end *time.Time) ([]model.Anomaly, error)
	QueryHistory(ctx context.Context, cellPrefix string, parameter model.Parameter, window, step time.Duration) ([]model.TimeSeriesPoint, error)

	Close() error
}

// Option configures an InfluxStore at construction.
type Option func(*influxOptions)

type influxOptions struct {
	storagePrecision int
	httpTimeout      time.Duration
}

func WithStoragePrecision(p int) Option {
	return func(o *influxOptions) { o.storagePrecision = p }
}

func WithHTTPTimeout(d time.Duration) Option {
	return func(o *influxOptions) { o.httpTimeout = d }
}
