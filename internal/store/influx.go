package store

import (
	"context"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	influxapi "github.com/influxdata/influxdb-client-go/v2/api"
	"github.com/rs/zerolog"

	"github.com/airmesh/aqpipeline/internal/core/apperr"
	"github.com/airmesh/aqpipeline/internal/core/model"
	"github.com/airmesh/aqpipeline/internal/core/observability"
	"github.com/airmesh/aqpipeline/internal/geohash"
)

// InfluxStore is the Store implementation backed by InfluxDB v2.
type InfluxStore struct {
	client   influxdb2.Client
	writeAPI influxapi.WriteAPIBlocking
	queryAPI influxapi.QueryAPI
	bucket   string
	org      string

	storagePrecision int
	log              zerolog.Logger
}

// NewInfluxStore dials InfluxDB and pings it before returning a usable
// client.
func NewInfluxStore(ctx context.Context, url, token, org, bucket string, log zerolog.Logger, opts ...Option) (*InfluxStore, error) {
	cfg := influxOptions{storagePrecision: 7, httpTimeout: 10 * time.Second}
	for _, f := range opts {
		f(&cfg)
	}

	client := influxdb2.NewClientWithOptions(url, token,
		influxdb2.DefaultOptions().SetHTTPRequestTimeout(uint(cfg.httpTimeout.Seconds())))

	start := time.Now()
	ok, err := client.Ping(ctx)
	observability.ObserveStoreOp("ping", err, time.Since(start).Seconds())
	if err != nil || !ok {
		client.Close()
		return nil, apperr.StoreUnavailable("influxdb ping", err)
	}

	return &InfluxStore{
		client:           client,
		writeAPI:         client.WriteAPIBlocking(org, bucket),
		queryAPI:         client.QueryAPI(org),
		bucket:           bucket,
		org:              org,
		storagePrecision: cfg.storagePrecision,
		log:              log,
	}, nil
}

func (s *InfluxStore) Close() error {
	s.client.Close()
	return nil
}

// WriteReading normalizes the timestamp to UTC, tags the row with a
// storage-precision geohash plus the raw lat/lon strings, and writes
// only the non-null pollutant fields. A reading with every pollutant
// null is a documented no-op.
func (s *InfluxStore) WriteReading(ctx context.Context, r model.Reading, storagePrecision int) (bool, error) {
	if storagePrecision <= 0 {
		storagePrecision = s.storagePrecision
	}

	fields := pollutantFields(r)
	if len(fields) == 0 {
		return false, nil
	}

	ts := r.Timestamp.UTC()
	g := geohash.Encode(r.Latitude, r.Longitude, storagePrecision)

	tags := map[string]string{
		"geohash":   g,
		"latitude":  strconv.FormatFloat(r.Latitude, 'f', -1, 64),
		"longitude": strconv.FormatFloat(r.Longitude, 'f', -1, 64),
	}

	point := influxdb2.NewPoint(MeasurementReading, tags, fields, ts)

	start := time.Now()
	err := s.writeAPI.WritePoint(ctx, point)
	observability.ObserveStoreOp("write_reading", err, time.Since(start).Seconds())
	if err != nil {
		return false, apperr.StoreUnavailable("write reading", err)
	}
	return true, nil
}

// WriteAnomaly writes a single anomaly row; tags location, parameter, and id.
func (s *InfluxStore) WriteAnomaly(ctx context.Context, a model.Anomaly) (bool, error) {
	tags := map[string]string{
		"latitude":  strconv.FormatFloat(a.Latitude, 'f', -1, 64),
		"longitude": strconv.FormatFloat(a.Longitude, 'f', -1, 64),
		"parameter": string(a.Parameter),
		"id":        a.ID,
	}
	fields := map[string]interface{}{
		"value":       a.Value,
		"description": a.Description,
	}
	point := influxdb2.NewPoint(MeasurementAnomaly, tags, fields, a.Timestamp.UTC())

	start := time.Now()
	err := s.writeAPI.WritePoint(ctx, point)
	observability.ObserveStoreOp("write_anomaly", err, time.Since(start).Seconds())
	if err != nil {
		return false, apperr.StoreUnavailable("write anomaly", err)
	}
	return true, nil
}

// QueryLatestCell returns the most recent reading tagged with
// Encode(lat,lon,precision) within the window, or falls back to a 50km
// haversine-filtered average when the exact cell has no data.
func (s *InfluxStore) QueryLatestCell(ctx context.Context, lat, lon float64, precision int, lookback time.Duration) (*model.Reading, error) {
	prefix := geohash.Encode(lat, lon, precision)

	flux := fmt.Sprintf(`
from(bucket: %q)
  |> range(start: -%s)
  |> filter(fn: (r) => r["_measurement"] == %q)
  |> filter(fn: (r) => r["geohash"] == %q)
  |> pivot(rowKey: ["_time"], columnKey: ["_field"], valueColumn: "_value")
  |> sort(columns: ["_time"], desc: true)
  |> limit(n: 1)
`, s.bucket, fluxDuration(lookback), MeasurementReading, prefix)

	rows, err := s.runQuery(ctx, "query_latest_cell", flux)
	if err != nil {
		return nil, err
	}
	if len(rows) > 0 {
		return rowToReading(rows[0]), nil
	}

	return s.radiusFallback(ctx, lat, lon, lookback)
}

// radiusFallback approximates a 50km square bbox, fetches candidates in
// the window, filters by haversine distance, and synthesizes a reading
// whose pollutants are the arithmetic mean of the candidates.
func (s *InfluxStore) radiusFallback(ctx context.Context, lat, lon float64, window time.Duration) (*model.Reading, error) {
	const radiusKM = 50.0
	delta := radiusKM / 111.0
	bb := model.BBox{MinLat: lat - delta, MaxLat: lat + delta, MinLon: lon - delta, MaxLon: lon + delta}

	candidates, err := s.QueryRawInBBox(ctx, bb, window, 10000)
	if err != nil {
		return nil, err
	}

	var within []model.Reading
	for _, r := range candidates {
		if haversineKM(lat, lon, r.Latitude, r.Longitude) <= radiusKM {
			within = append(within, r)
		}
	}
	if len(within) == 0 {
		return nil, nil
	}

	avg, count := meanPollutants(within)
	_ = count
	latest := within[0].Timestamp
	for _, r := range within[1:] {
		if r.Timestamp.After(latest) {
			latest = r.Timestamp
		}
	}

	return &model.Reading{
		Latitude:  lat,
		Longitude: lon,
		Timestamp: latest,
		PM25:      avg[model.ParamPM25],
		PM10:      avg[model.ParamPM10],
		NO2:       avg[model.ParamNO2],
		SO2:       avg[model.ParamSO2],
		O3:        avg[model.ParamO3],
		CO:        avg[paramCO],
	}, nil
}

// QueryRawInBBox prefers geohash-prefix filtering (computed via
// CoverBBox at storage precision); it falls back to numeric lat/lon tag
// filtering only when the prefix set is empty or CoverBBox fails, per spec.
func (s *InfluxStore) QueryRawInBBox(ctx context.Context, bb model.BBox, window time.Duration, rowCap int) ([]model.Reading, error) {
	filterClause, err := s.spatialFilterClause(bb)
	if err != nil {
		return nil, err
	}
	if rowCap <= 0 {
		rowCap = 5000
	}

	flux := fmt.Sprintf(`
from(bucket: %q)
  |> range(start: -%s)
  |> filter(fn: (r) => r["_measurement"] == %q)
  %s
  |> pivot(rowKey: ["_time"], columnKey: ["_field"], valueColumn: "_value")
  |> limit(n: %d)
`, s.bucket, fluxDuration(window), MeasurementReading, filterClause, rowCap)

	rows, err := s.runQuery(ctx, "query_raw_bbox", flux)
	if err != nil {
		return nil, err
	}

	out := make([]model.Reading, 0, len(rows))
	for _, row := range rows {
		out = append(out, *rowToReading(row))
	}
	return out, nil
}

// spatialFilterClause builds the Flux filter fragment for a bbox query:
// geohash-prefix-first, coordinate fallback second.
func (s *InfluxStore) spatialFilterClause(bb model.BBox) (string, error) {
	prefixes, err := geohash.CoverBBox(bb.MinLat, bb.MaxLat, bb.MinLon, bb.MaxLon, s.storagePrecision)
	if err == nil && len(prefixes) > 0 {
		quoted := make([]string, len(prefixes))
		for i, p := range prefixes {
			quoted[i] = fmt.Sprintf("r[\"geohash\"] == %q", p)
		}
		return fmt.Sprintf("|> filter(fn: (r) => %s)", strings.Join(quoted, " or ")), nil
	}

	s.log.Debug().Err(err).Msg("geohash cover unavailable, falling back to coordinate filter")
	return fmt.Sprintf(`|> filter(fn: (r) => float(v: r["latitude"]) >= %f and float(v: r["latitude"]) <= %f and float(v: r["longitude"]) >= %f and float(v: r["longitude"]) <= %f)`,
		bb.MinLat, bb.MaxLat, bb.MinLon, bb.MaxLon), nil
}

// QueryDensity computes the mean over non-null values per pollutant and
// the representative data-point count (max across pollutants, warning
// on divergence).
func (s *InfluxStore) QueryDensity(ctx context.Context, bb model.BBox, window time.Duration) (*model.PollutionDensity, error) {
	readings, err := s.QueryRawInBBox(ctx, bb, window, 50000)
	if err != nil {
		return nil, err
	}
	if len(readings) == 0 {
		return nil, nil
	}

	avg, counts := meanPollutantsWithCounts(readings)

	maxCount := 0
	minCount := -1
	for _, c := range counts {
		if c > maxCount {
			maxCount = c
		}
		if minCount == -1 || c < minCount {
			minCount = c
		}
	}
	if minCount >= 0 && maxCount != minCount {
		s.log.Warn().Int("max", maxCount).Int("min", minCount).Msg("per-pollutant contribution counts diverge")
	}

	return &model.PollutionDensity{
		Region:          bb.String(),
		AvgPM25:         avg[model.ParamPM25],
		AvgPM10:         avg[model.ParamPM10],
		AvgNO2:          avg[model.ParamNO2],
		AvgSO2:          avg[model.ParamSO2],
		AvgO3:           avg[model.ParamO3],
		AvgCO:           avg[paramCO],
		DataPointsCount: maxCount,
	}, nil
}

// QueryAnomalies returns anomalies in [start, end], defaulting to the
// trailing 24h window when both bounds are nil.
func (s *InfluxStore) QueryAnomalies(ctx context.Context, start, end *time.Time) ([]model.Anomaly, error) {
	rangeClause := "range(start: -24h)"
	if start != nil && end != nil {
		rangeClause = fmt.Sprintf("range(start: %s, stop: %s)", start.UTC().Format(time.RFC3339), end.UTC().Format(time.RFC3339))
	}

	flux := fmt.Sprintf(`
from(bucket: %q)
  |> %s
  |> filter(fn: (r) => r["_measurement"] == %q)
  |> pivot(rowKey: ["_time"], columnKey: ["_field"], valueColumn: "_value")
  |> sort(columns: ["_time"], desc: true)
`, s.bucket, rangeClause, MeasurementAnomaly)

	rows, err := s.runQuery(ctx, "query_anomalies", flux)
	if err != nil {
		return nil, err
	}

	out := make([]model.Anomaly, 0, len(rows))
	for _, row := range rows {
		out = append(out, rowToAnomaly(row))
	}
	return out, nil
}

// QueryHistory groups values into fixed-width time buckets, means each
// bucket, drops empty ones, and returns them sorted ascending.
func (s *InfluxStore) QueryHistory(ctx context.Context, cellPrefix string, parameter model.Parameter, window, step time.Duration) ([]model.TimeSeriesPoint, error) {
	if !validParameter(parameter) {
		return nil, apperr.BadParameter("unknown parameter "+string(parameter), nil)
	}
	if step <= 0 {
		return nil, apperr.BadParameter("aggregate step must be positive", nil)
	}

	flux := fmt.Sprintf(`
from(bucket: %q)
  |> range(start: -%s)
  |> filter(fn: (r) => r["_measurement"] == %q)
  |> filter(fn: (r) => r["geohash"] == %q)
  |> filter(fn: (r) => r["_field"] == %q)
  |> aggregateWindow(every: %s, fn: mean, createEmpty: false)
  |> sort(columns: ["_time"])
`, s.bucket, fluxDuration(window), MeasurementReading, cellPrefix, string(parameter), fluxDuration(step))

	rows, err := s.runQuery(ctx, "query_history", flux)
	if err != nil {
		return nil, err
	}

	out := make([]model.TimeSeriesPoint, 0, len(rows))
	for _, row := range rows {
		v, ok := row["_value"].(float64)
		if !ok || math.IsNaN(v) {
			continue
		}
		ts, _ := row["_time"].(time.Time)
		out = append(out, model.TimeSeriesPoint{Timestamp: ts, Value: v})
	}
	return out, nil
}

// runQuery executes a Flux query and returns each record as a generic map.
func (s *InfluxStore) runQuery(ctx context.Context, op, flux string) ([]map[string]interface{}, error) {
	start := time.Now()
	result, err := s.queryAPI.Query(ctx, flux)
	if err != nil {
		observability.ObserveStoreOp(op, err, time.Since(start).Seconds())
		return nil, apperr.StoreUnavailable(op, err)
	}
	defer result.Close()

	var rows []map[string]interface{}
	for result.Next() {
		rows = append(rows, result.Record().Values())
	}
	if result.Err() != nil {
		observability.ObserveStoreOp(op, result.Err(), time.Since(start).Seconds())
		return nil, apperr.StoreUnavailable(op, result.Err())
	}
	observability.ObserveStoreOp(op, nil, time.Since(start).Seconds())
	return rows, nil
}

func fluxDuration(d time.Duration) string {
	if d <= 0 {
		d = 24 * time.Hour
	}
	return strconv.FormatInt(int64(d.Seconds()), 10) + "s"
}

func validParameter(p model.Parameter) bool {
	switch p {
	case model.ParamPM25, model.ParamPM10, model.ParamNO2, model.ParamSO2, model.ParamO3:
		return true
	}
	return false
}
