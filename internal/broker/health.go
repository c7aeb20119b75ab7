package broker

import "errors"

// Ready reports whether the pool's underlying connection is open,
// satisfying internal/core/health.Checker.
func (p *Pool) Ready() (bool, error) {
	if p.conn == nil || p.conn.IsClosed() {
		return false, errors.New("broker: connection closed")
	}
	return true, nil
}
