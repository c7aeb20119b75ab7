package api

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/airmesh/aqpipeline/internal/core/apperr"
	"github.com/airmesh/aqpipeline/internal/core/model"
)

func parseBBox(r *http.Request) (model.BBox, error) {
	minLat, err := parseRequiredFloat(r, "min_lat")
	if err != nil {
		return model.BBox{}, err
	}
	maxLat, err := parseRequiredFloat(r, "max_lat")
	if err != nil {
		return model.BBox{}, err
	}
	minLon, err := parseRequiredFloat(r, "min_lon")
	if err != nil {
		return model.BBox{}, err
	}
	maxLon, err := parseRequiredFloat(r, "max_lon")
	if err != nil {
		return model.BBox{}, err
	}

	bb := model.BBox{MinLat: minLat, MaxLat: maxLat, MinLon: minLon, MaxLon: maxLon}
	if err := validateBBox(bb); err != nil {
		return model.BBox{}, err
	}
	return bb, nil
}

func validateBBox(bb model.BBox) error {
	if bb.MinLat >= bb.MaxLat {
		return apperr.InvalidInput("min_lat must be less than max_lat", nil)
	}
	if bb.MinLon >= bb.MaxLon {
		return apperr.InvalidInput("min_lon must be less than max_lon", nil)
	}
	if bb.MinLat < -90 || bb.MaxLat > 90 {
		return apperr.InvalidInput("latitude must be in [-90,90]", nil)
	}
	if bb.MinLon < -180 || bb.MaxLon > 180 {
		return apperr.InvalidInput("longitude must be in [-180,180]", nil)
	}
	return nil
}

func parseLatLon(r *http.Request) (lat, lon float64, err error) {
	lat, err = parseRequiredFloat(r, "lat")
	if err != nil {
		return 0, 0, err
	}
	lon, err = parseRequiredFloat(r, "lon")
	if err != nil {
		return 0, 0, err
	}
	if lat < -90 || lat > 90 {
		return 0, 0, apperr.InvalidInput("lat must be in [-90,90]", nil)
	}
	if lon < -180 || lon > 180 {
		return 0, 0, apperr.InvalidInput("lon must be in [-180,180]", nil)
	}
	return lat, lon, nil
}

func parseRequiredFloat(r *http.Request, key string) (float64, error) {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return 0, apperr.InvalidInput(key+" is required", nil)
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0, apperr.InvalidInput(key+" must be a number", err)
	}
	return v, nil
}

func parseIntOr(r *http.Request, key string, def int) int {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return def
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return def
	}
	return v
}

func parseDurationOr(r *http.Request, key string, def time.Duration) time.Duration {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return def
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return def
	}
	return d
}

func parseTimeParam(raw string) (*time.Time, error) {
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return nil, err
	}
	t = t.UTC()
	return &t, nil
}

var validParameters = map[string]model.Parameter{
	"pm25": model.ParamPM25,
	"pm10": model.ParamPM10,
	"no2":  model.ParamNO2,
	"so2":  model.ParamSO2,
	"o3":   model.ParamO3,
}

// parsePrecision reads a geohash_precision query param, defaulting to
// def, and enforces the valid geohash length range.
func parsePrecision(r *http.Request, def int) (int, error) {
	p := parseIntOr(r, "geohash_precision", def)
	if p < 2 || p > 9 {
		return 0, apperr.InvalidInput("geohash_precision must be in [2,9]", nil)
	}
	return p, nil
}

func parseParameter(raw string) (model.Parameter, error) {
	p, ok := validParameters[raw]
	if !ok {
		return "", apperr.BadParameter("unknown parameter "+raw, errors.New("not in whitelist"))
	}
	return p, nil
}
