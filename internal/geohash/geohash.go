// Package geohash implements the base-32 geohash primitives the rest of
// the pipeline tags, filters, and aggregates readings with: Encode,
// Decode, and CoverBBox. CoverBBox seeds cells at the bbox center and
// four corners, then recursively refines each seed into its children,
// pruning those outside the bbox and deduping into a sorted slice.
package geohash

import (
	"errors"
	"fmt"
	"sort"
)

const alphabet = "0123456789bcdefghjkmnpqrstuvwxyz"

var decodeMap [256]int8

func init() {
	for i := range decodeMap {
		decodeMap[i] = -1
	}
	for i := 0; i < len(alphabet); i++ {
		decodeMap[alphabet[i]] = int8(i)
	}
}

// ErrGeohashUnavailable is returned only if the encoder itself cannot be initialised.
var ErrGeohashUnavailable = errors.New("geohash: encoder unavailable")

// BBox is a closed lat/lon rectangle: south, west, north, east.
type BBox struct {
	South float64
	West  float64
	North float64
	East  float64
}

// Intersects reports whether b and o share any point, using closed intervals on both sides.
func (b BBox) Intersects(o BBox) bool {
	return b.South <= o.North && b.North >= o.South && b.West <= o.East && b.East >= o.West
}

// Contains reports whether (lat, lon) falls within the closed rectangle.
func (b BBox) Contains(lat, lon float64) bool {
	return lat >= b.South && lat <= b.North && lon >= b.West && lon <= b.East
}

// Encode returns the base-32 geohash of (lat, lon) at the requested length.
func Encode(lat, lon float64, precision int) string {
	if precision <= 0 {
		return ""
	}
	latRange := [2]float64{-90, 90}
	lonRange := [2]float64{-180, 180}

	out := make([]byte, 0, precision)
	var bit, ch, evenBit int
	evenBit = 1 // 1 = longitude turn, 0 = latitude turn (geohash interleaves starting on lon)

	for len(out) < precision {
		if evenBit == 1 {
			mid := (lonRange[0] + lonRange[1]) / 2
			if lon >= mid {
				ch = (ch << 1) | 1
				lonRange[0] = mid
			} else {
				ch = ch << 1
				lonRange[1] = mid
			}
		} else {
			mid := (latRange[0] + latRange[1]) / 2
			if lat >= mid {
				ch = (ch << 1) | 1
				latRange[0] = mid
			} else {
				ch = ch << 1
				latRange[1] = mid
			}
		}
		evenBit ^= 1

		bit++
		if bit == 5 {
			out = append(out, alphabet[ch])
			bit = 0
			ch = 0
		}
	}
	return string(out)
}

// Decode returns the bounding box of the cell identified by prefix.
func Decode(prefix string) (BBox, error) {
	latRange := [2]float64{-90, 90}
	lonRange := [2]float64{-180, 180}

	evenBit := 1
	for i := 0; i < len(prefix); i++ {
		idx := decodeMap[prefix[i]]
		if idx < 0 {
			return BBox{}, fmt.Errorf("geohash: invalid character %q in prefix %q", prefix[i], prefix)
		}
		for n := 4; n >= 0; n-- {
			bit := (idx >> uint(n)) & 1
			if evenBit == 1 {
				mid := (lonRange[0] + lonRange[1]) / 2
				if bit == 1 {
					lonRange[0] = mid
				} else {
					lonRange[1] = mid
				}
			} else {
				mid := (latRange[0] + latRange[1]) / 2
				if bit == 1 {
					latRange[0] = mid
				} else {
					latRange[1] = mid
				}
			}
			evenBit ^= 1
		}
	}
	return BBox{South: latRange[0], West: lonRange[0], North: latRange[1], East: lonRange[1]}, nil
}

// CoverBBox returns every geohash of the requested precision whose cell
// intersects the closed rectangle [minLat,maxLat] x [minLon,maxLon].
//
// Algorithm: seed from the center and four corners at a coarse
// precision, then recursively expand each seed into its 32 children,
// pruning any child that does not intersect the target and emitting
// any child that has already reached the requested precision. Visited
// prefixes are memoized so overlapping seeds never re-expand the same
// cell twice.
func CoverBBox(minLat, maxLat, minLon, maxLon float64, precision int) ([]string, error) {
	if precision <= 0 {
		return nil, nil
	}
	target := BBox{South: minLat, West: minLon, North: maxLat, East: maxLon}

	seedPrecision := precision
	if seedPrecision > 4 {
		seedPrecision = 4
	}

	seeds := seedPrefixes(minLat, maxLat, minLon, maxLon, seedPrecision)
	if len(seeds) == 0 {
		// Degenerate bbox (e.g. a single point): fall back to encoding the center.
		center := Encode((minLat+maxLat)/2, (minLon+maxLon)/2, precision)
		if center == "" {
			return nil, ErrGeohashUnavailable
		}
		return []string{center}, nil
	}

	visited := make(map[string]struct{})
	result := make(map[string]struct{})

	var refine func(prefix string)
	refine = func(prefix string) {
		if _, ok := visited[prefix]; ok {
			return
		}
		visited[prefix] = struct{}{}

		bb, err := Decode(prefix)
		if err != nil {
			// Non-intersecting is the conservative treatment of a decode failure.
			return
		}
		if !bb.Intersects(target) {
			return
		}
		if len(prefix) >= precision {
			result[prefix[:precision]] = struct{}{}
			return
		}
		for i := 0; i < len(alphabet); i++ {
			refine(prefix + string(alphabet[i]))
		}
	}

	for _, s := range seeds {
		refine(s)
	}

	out := make([]string, 0, len(result))
	for k := range result {
		out = append(out, k)
	}
	sort.Strings(out)
	if len(out) == 0 {
		center := Encode((minLat+maxLat)/2, (minLon+maxLon)/2, precision)
		if center == "" {
			return nil, ErrGeohashUnavailable
		}
		return []string{center}, nil
	}
	return out, nil
}

// seedPrefixes encodes the center plus the four corners of the rectangle.
func seedPrefixes(minLat, maxLat, minLon, maxLon float64, precision int) []string {
	if precision <= 0 {
		return nil
	}
	centerLat := (minLat + maxLat) / 2
	centerLon := (minLon + maxLon) / 2

	points := [][2]float64{
		{centerLat, centerLon},
		{minLat, minLon},
		{minLat, maxLon},
		{maxLat, minLon},
		{maxLat, maxLon},
	}

	seen := make(map[string]struct{}, len(points))
	out := make([]string, 0, len(points))
	for _, p := range points {
		g := Encode(p[0], p[1], precision)
		if g == "" {
			continue
		}
		if _, ok := seen[g]; ok {
			continue
		}
		seen[g] = struct{}{}
		out = append(out, g)
	}
	return out
}

// AggregationPrecision maps a map-zoom level to the aggregation precision
// used for heatmap cells: z<=3->2, z<=5->3, z<=7->4, z<=10->5, z<=13->6, else 7.
func AggregationPrecision(zoom int) int {
	switch {
	case zoom <= 3:
		return 2
	case zoom <= 5:
		return 3
	case zoom <= 7:
		return 4
	case zoom <= 10:
		return 5
	case zoom <= 13:
		return 6
	default:
		return 7
	}
}
