// Package anomaly implements the pure threshold check the worker runs
// against every stored reading: a struct of thresholds with no I/O,
// safe to call from a single goroutine per message with no shared state.
package anomaly

import (
	"fmt"

	"github.com/google/uuid"

	"github.com/airmesh/aqpipeline/internal/core/model"
)

// Thresholds holds the hazardous level above which a reading's
// pollutant value becomes an Anomaly. A zero threshold disables the
// check for that parameter.
type Thresholds struct {
	PM25 float64
	PM10 float64
	NO2  float64
	SO2  float64
	O3   float64
}

// Evaluator checks a Reading against Thresholds and returns zero or
// more Anomalies, one per breached parameter, in OrderedParameters order.
type Evaluator struct {
	Thresholds Thresholds
	NewID      func() string
}

// NewEvaluator returns an Evaluator backed by uuid.NewString for anomaly IDs.
func NewEvaluator(t Thresholds) *Evaluator {
	return &Evaluator{Thresholds: t, NewID: uuid.NewString}
}

// Evaluate never mutates r and never performs I/O.
func (e *Evaluator) Evaluate(r model.Reading) []model.Anomaly {
	var out []model.Anomaly

	check := func(p model.Parameter, v *float64, threshold float64) {
		if v == nil || threshold <= 0 || *v < threshold {
			return
		}
		out = append(out, model.Anomaly{
			ID:          e.newID(),
			Latitude:    r.Latitude,
			Longitude:   r.Longitude,
			Timestamp:   r.Timestamp,
			Parameter:   p,
			Value:       *v,
			Description: fmt.Sprintf("%s reading of %.2f exceeds hazardous threshold of %.2f", p, *v, threshold),
		})
	}

	check(model.ParamPM25, r.PM25, e.Thresholds.PM25)
	check(model.ParamPM10, r.PM10, e.Thresholds.PM10)
	check(model.ParamNO2, r.NO2, e.Thresholds.NO2)
	check(model.ParamSO2, r.SO2, e.Thresholds.SO2)
	check(model.ParamO3, r.O3, e.Thresholds.O3)

	return out
}

func (e *Evaluator) newID() string {
	if e.NewID != nil {
		return e.NewID()
	}
	return uuid.NewString()
}
