package store

import (
	"math/rand"
	"testing"
	"time"

	"github.com/airmesh/aqpipeline/internal/core/model"
)

func f(v float64) *float64 { return &v }

func sampleReadings() []model.Reading {
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	return []model.Reading{
		{Latitude: 40.98, Longitude: 29.01, Timestamp: base, PM25: f(10), PM10: f(20)},
		{Latitude: 40.99, Longitude: 29.02, Timestamp: base, PM25: f(20), PM10: f(30)},
		{Latitude: 10.0, Longitude: 10.0, Timestamp: base, PM25: f(99)},
	}
}

func TestAggregateByGeohashMeanPerCell(t *testing.T) {
	readings := sampleReadings()
	points := AggregateByGeohash(readings, 5)

	var found bool
	for _, p := range points {
		if p.Count == 2 {
			found = true
			if p.AvgPM25 == nil || *p.AvgPM25 != 15 {
				t.Fatalf("expected mean pm25 of 15, got %+v", p.AvgPM25)
			}
			if p.AvgPM10 == nil || *p.AvgPM10 != 25 {
				t.Fatalf("expected mean pm10 of 25, got %+v", p.AvgPM10)
			}
		}
	}
	if !found {
		t.Fatalf("expected a 2-member cell in %+v", points)
	}
}

func TestAggregateByGeohashOrderIndependent(t *testing.T) {
	readings := sampleReadings()
	want := AggregateByGeohash(readings, 5)

	shuffled := make([]model.Reading, len(readings))
	copy(shuffled, readings)
	rand.New(rand.NewSource(7)).Shuffle(len(shuffled), func(i, j int) {
		shuffled[i], shuffled[j] = shuffled[j], shuffled[i]
	})
	got := AggregateByGeohash(shuffled, 5)

	if len(got) != len(want) {
		t.Fatalf("length mismatch: want %d got %d", len(want), len(got))
	}
	for i := range want {
		if got[i].Geohash != want[i].Geohash || got[i].Count != want[i].Count {
			t.Fatalf("mismatch at %d: want %+v got %+v", i, want[i], got[i])
		}
	}
}
