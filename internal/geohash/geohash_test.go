package geohash

import (
	"sort"
	"testing"
)

func TestEncodeDecodeRoundTrip(t *testing.T) {
	for p := 1; p <= 9; p++ {
		g := Encode(41.01, 28.98, p)
		if len(g) != p {
			t.Fatalf("precision %d: expected length %d, got %q", p, p, g)
		}
		bb, err := Decode(g)
		if err != nil {
			t.Fatalf("decode %q: %v", g, err)
		}
		if !bb.Contains(41.01, 28.98) {
			t.Fatalf("precision %d: decoded bbox %+v does not contain source point", p, bb)
		}
	}
}

func TestEncodeKnownCell(t *testing.T) {
	// u4pruydqqvj is the canonical geohash.org example for 57.64911,10.40744.
	g := Encode(57.64911, 10.40744, 11)
	if g != "u4pruydqqvj" {
		t.Fatalf("expected u4pruydqqvj, got %s", g)
	}
}

func TestCoverBBoxCoversEveryPoint(t *testing.T) {
	minLat, maxLat := 40.9, 41.1
	minLon, maxLon := 28.9, 29.1
	cells, err := CoverBBox(minLat, maxLat, minLon, maxLon, 5)
	if err != nil {
		t.Fatalf("CoverBBox: %v", err)
	}
	if !sort.StringsAreSorted(cells) {
		t.Fatalf("cells must be sorted")
	}
	set := make(map[string]struct{}, len(cells))
	for _, c := range cells {
		set[c] = struct{}{}
	}

	g := Encode(40.95, 29.00, 5)
	if _, ok := set[g]; !ok {
		t.Fatalf("expected %s (center point) to be covered by %v", g, cells)
	}

	for i := 0; i <= 4; i++ {
		for j := 0; j <= 4; j++ {
			lat := minLat + (maxLat-minLat)*float64(i)/4
			lon := minLon + (maxLon-minLon)*float64(j)/4
			if _, ok := set[Encode(lat, lon, 5)]; !ok {
				t.Fatalf("point (%v,%v) cell %s not covered by %v", lat, lon, Encode(lat, lon, 5), cells)
			}
		}
	}

	for _, c := range cells {
		bb, err := Decode(c)
		if err != nil {
			t.Fatalf("decode %s: %v", c, err)
		}
		target := BBox{South: minLat, West: minLon, North: maxLat, East: maxLon}
		if !bb.Intersects(target) {
			t.Fatalf("cell %s does not intersect requested bbox", c)
		}
	}
}

func TestCoverBBoxDegenerate(t *testing.T) {
	cells, err := CoverBBox(10, 10, 20, 20, 6)
	if err != nil {
		t.Fatalf("CoverBBox degenerate: %v", err)
	}
	if len(cells) != 1 {
		t.Fatalf("expected single fallback cell, got %v", cells)
	}
	if cells[0] != Encode(10, 20, 6) {
		t.Fatalf("expected fallback to Encode(center), got %s", cells[0])
	}
}

func TestAggregationPrecision(t *testing.T) {
	cases := map[int]int{0: 2, 3: 2, 4: 3, 5: 3, 6: 4, 7: 4, 8: 5, 10: 5, 11: 6, 13: 6, 14: 7, 20: 7}
	for zoom, want := range cases {
		if got := AggregationPrecision(zoom); got != want {
			t.Errorf("zoom=%d: want %d, got %d", zoom, want, got)
		}
	}
}
