package store

import (
	"math"
	"strconv"
	"time"

	"github.com/airmesh/aqpipeline/internal/core/model"
)

// paramCO keys the aggregation maps for carbon monoxide, which carries
// no hazard threshold and so is absent from model.OrderedParameters.
const paramCO model.Parameter = "co"

// pollutantFields returns the non-null pollutant fields of r as a Flux
// point field map, keyed by the same names QueryHistory filters on.
func pollutantFields(r model.Reading) map[string]interface{} {
	fields := make(map[string]interface{}, 6)
	addField(fields, string(model.ParamPM25), r.PM25)
	addField(fields, string(model.ParamPM10), r.PM10)
	addField(fields, string(model.ParamNO2), r.NO2)
	addField(fields, string(model.ParamSO2), r.SO2)
	addField(fields, string(model.ParamO3), r.O3)
	addField(fields, "co", r.CO)
	return fields
}

func addField(fields map[string]interface{}, name string, v *float64) {
	if v != nil {
		fields[name] = *v
	}
}

// meanPollutants returns the arithmetic mean of each pollutant across
// readings, nil where no reading in the set carried that pollutant.
func meanPollutants(readings []model.Reading) (map[model.Parameter]*float64, int) {
	avg, counts := meanPollutantsWithCounts(readings)
	total := 0
	for _, c := range counts {
		if c > total {
			total = c
		}
	}
	return avg, total
}

func meanPollutantsWithCounts(readings []model.Reading) (map[model.Parameter]*float64, map[model.Parameter]int) {
	sums := map[model.Parameter]float64{}
	counts := map[model.Parameter]int{}

	accumulate := func(p model.Parameter, v *float64) {
		if v == nil {
			return
		}
		sums[p] += *v
		counts[p]++
	}

	for _, r := range readings {
		accumulate(model.ParamPM25, r.PM25)
		accumulate(model.ParamPM10, r.PM10)
		accumulate(model.ParamNO2, r.NO2)
		accumulate(model.ParamSO2, r.SO2)
		accumulate(model.ParamO3, r.O3)
		accumulate(paramCO, r.CO)
	}

	avg := make(map[model.Parameter]*float64, len(sums))
	for _, p := range append(append([]model.Parameter{}, model.OrderedParameters...), paramCO) {
		if c, ok := counts[p]; ok && c > 0 {
			v := round2(sums[p] / float64(c))
			avg[p] = &v
		}
	}
	return avg, counts
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}

func round6(v float64) float64 {
	return math.Round(v*1e6) / 1e6
}

// haversineKM returns the great-circle distance between two points in kilometers.
func haversineKM(lat1, lon1, lat2, lon2 float64) float64 {
	const earthRadiusKM = 6371.0
	rad := func(d float64) float64 { return d * math.Pi / 180 }

	dLat := rad(lat2 - lat1)
	dLon := rad(lon2 - lon1)
	a := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(rad(lat1))*math.Cos(rad(lat2))*math.Sin(dLon/2)*math.Sin(dLon/2)
	c := 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))
	return earthRadiusKM * c
}

// rowToReading converts a pivoted Flux record into a Reading.
func rowToReading(row map[string]interface{}) *model.Reading {
	r := &model.Reading{}
	if v, ok := row["latitude"].(string); ok {
		r.Latitude = parseFloat(v)
	}
	if v, ok := row["longitude"].(string); ok {
		r.Longitude = parseFloat(v)
	}
	if v, ok := row["geohash"].(string); ok {
		r.Geohash = v
	}
	if ts, ok := row["_time"].(time.Time); ok {
		r.Timestamp = ts
	}
	r.PM25 = floatFieldPtr(row, string(model.ParamPM25))
	r.PM10 = floatFieldPtr(row, string(model.ParamPM10))
	r.NO2 = floatFieldPtr(row, string(model.ParamNO2))
	r.SO2 = floatFieldPtr(row, string(model.ParamSO2))
	r.O3 = floatFieldPtr(row, string(model.ParamO3))
	r.CO = floatFieldPtr(row, "co")
	return r
}

func rowToAnomaly(row map[string]interface{}) model.Anomaly {
	a := model.Anomaly{}
	if v, ok := row["latitude"].(string); ok {
		a.Latitude = parseFloat(v)
	}
	if v, ok := row["longitude"].(string); ok {
		a.Longitude = parseFloat(v)
	}
	if v, ok := row["parameter"].(string); ok {
		a.Parameter = model.Parameter(v)
	}
	if v, ok := row["id"].(string); ok {
		a.ID = v
	}
	if ts, ok := row["_time"].(time.Time); ok {
		a.Timestamp = ts
	}
	if v, ok := row["value"].(float64); ok {
		a.Value = v
	}
	if v, ok := row["description"].(string); ok {
		a.Description = v
	}
	return a
}

func floatFieldPtr(row map[string]interface{}, name string) *float64 {
	v, ok := row[name].(float64)
	if !ok || math.IsNaN(v) {
		return nil
	}
	return &v
}

func parseFloat(s string) float64 {
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0
	}
	return f
}
