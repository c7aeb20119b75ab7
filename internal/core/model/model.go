// Package model defines core domain types shared across the service.
package model

import (
	"fmt"
	"time"
)

// Reading is one sensor observation, persisted immutable once written.
type Reading struct {
	Latitude  float64   `json:"latitude"`
	Longitude float64   `json:"longitude"`
	Timestamp time.Time `json:"timestamp"`
	PM25      *float64  `json:"pm25,omitempty"`
	PM10      *float64  `json:"pm10,omitempty"`
	NO2       *float64  `json:"no2,omitempty"`
	SO2       *float64  `json:"so2,omitempty"`
	O3        *float64  `json:"o3,omitempty"`
	CO        *float64  `json:"co,omitempty"`
	Geohash   string    `json:"geohash,omitempty"`
}

// IngestRequest is a Reading minus the timestamp, which is never client-supplied.
type IngestRequest struct {
	Latitude  float64  `json:"latitude"`
	Longitude float64  `json:"longitude"`
	PM25      *float64 `json:"pm25,omitempty"`
	PM10      *float64 `json:"pm10,omitempty"`
	NO2       *float64 `json:"no2,omitempty"`
	SO2       *float64 `json:"so2,omitempty"`
	O3        *float64 `json:"o3,omitempty"`
	CO        *float64 `json:"co,omitempty"`
}

// Parameter is one of the hazardous-threshold pollutant names.
type Parameter string

const (
	ParamPM25 Parameter = "pm25"
	ParamPM10 Parameter = "pm10"
	ParamNO2  Parameter = "no2"
	ParamSO2  Parameter = "so2"
	ParamO3   Parameter = "o3"
)

// OrderedParameters is the source order evaluated by the anomaly detector.
var OrderedParameters = []Parameter{ParamPM25, ParamPM10, ParamNO2, ParamSO2, ParamO3}

// Anomaly is a threshold breach detected on a single Reading, immutable once written.
type Anomaly struct {
	ID          string    `json:"id"`
	Latitude    float64   `json:"latitude"`
	Longitude   float64   `json:"longitude"`
	Timestamp   time.Time `json:"timestamp"`
	Parameter   Parameter `json:"parameter"`
	Value       float64   `json:"value"`
	Description string    `json:"description"`
}

// AggregatedPoint is a spatially-aggregated cell produced on demand, never persisted.
type AggregatedPoint struct {
	Geohash   string   `json:"geohash"`
	Latitude  float64  `json:"latitude"`
	Longitude float64  `json:"longitude"`
	AvgPM25   *float64 `json:"avg_pm25,omitempty"`
	AvgPM10   *float64 `json:"avg_pm10,omitempty"`
	AvgNO2    *float64 `json:"avg_no2,omitempty"`
	AvgSO2    *float64 `json:"avg_so2,omitempty"`
	AvgO3     *float64 `json:"avg_o3,omitempty"`
	AvgCO     *float64 `json:"avg_co,omitempty"`
	Count     int      `json:"count"`
}

// PollutionDensity is a bbox/window summary over contributing readings.
type PollutionDensity struct {
	Region          string   `json:"region"`
	AvgPM25         *float64 `json:"avg_pm25,omitempty"`
	AvgPM10         *float64 `json:"avg_pm10,omitempty"`
	AvgNO2          *float64 `json:"avg_no2,omitempty"`
	AvgSO2          *float64 `json:"avg_so2,omitempty"`
	AvgO3           *float64 `json:"avg_o3,omitempty"`
	AvgCO           *float64 `json:"avg_co,omitempty"`
	DataPointsCount int      `json:"data_points_count"`
}

// TimeSeriesPoint is one aggregation-step bucket within one geohash cell for one parameter.
type TimeSeriesPoint struct {
	Timestamp time.Time `json:"timestamp"`
	Value     float64   `json:"value"`
}

// BBox is a closed lat/lon rectangle, min/max on both axes.
type BBox struct {
	MinLat float64
	MaxLat float64
	MinLon float64
	MaxLon float64
}

// String renders a BBox as a compact region label, used as PollutionDensity.Region.
func (b BBox) String() string {
	return fmt.Sprintf("%.4f,%.4f,%.4f,%.4f", b.MinLat, b.MinLon, b.MaxLat, b.MaxLon)
}
