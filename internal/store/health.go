package store

import "context"

// Ready pings InfluxDB, satisfying internal/core/health.Checker.
func (s *InfluxStore) Ready() (bool, error) {
	ok, err := s.client.Ping(context.Background())
	return ok, err
}
