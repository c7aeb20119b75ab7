package store

import (
	"sort"

	"github.com/airmesh/aqpipeline/internal/core/model"
	"github.com/airmesh/aqpipeline/internal/geohash"
)

// AggregateByGeohash groups readings by their geohash prefix at
// precision and reduces each group to a single point: the mean
// coordinate of its members and the mean of each pollutant present.
// Grouping is by value, not by map iteration order, so the result for
// a given input set is independent of the order readings arrive in.
func AggregateByGeohash(readings []model.Reading, precision int) []model.AggregatedPoint {
	groups := make(map[string][]model.Reading)
	for _, r := range readings {
		g := geohash.Encode(r.Latitude, r.Longitude, precision)
		groups[g] = append(groups[g], r)
	}

	keys := make([]string, 0, len(groups))
	for k := range groups {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	out := make([]model.AggregatedPoint, 0, len(keys))
	for _, g := range keys {
		members := groups[g]
		out = append(out, aggregateCell(g, members))
	}
	return out
}

func aggregateCell(cell string, members []model.Reading) model.AggregatedPoint {
	var latSum, lonSum float64
	for _, r := range members {
		latSum += r.Latitude
		lonSum += r.Longitude
	}
	n := float64(len(members))

	avg, _ := meanPollutantsWithCounts(members)

	return model.AggregatedPoint{
		Geohash:   cell,
		Latitude:  round6(latSum / n),
		Longitude: round6(lonSum / n),
		AvgPM25:   avg[model.ParamPM25],
		AvgPM10:   avg[model.ParamPM10],
		AvgNO2:    avg[model.ParamNO2],
		AvgSO2:    avg[model.ParamSO2],
		AvgO3:     avg[model.ParamO3],
		AvgCO:     avg[paramCO],
		Count:     len(members),
	}
}
