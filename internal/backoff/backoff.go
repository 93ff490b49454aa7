// Package backoff provides the exponential retry delay used at the polling
// cycle boundary.
package backoff

import "time"

// Policy computes capped exponential delays: Base, 2*Base, 4*Base, ... up
// to Cap. The zero attempt counter means no failure has been seen yet.
type Policy struct {
	Base time.Duration
	Cap  time.Duration

	attempt uint
}

// Next records another failed attempt and returns how long to wait before
// retrying.
func (p *Policy) Next() time.Duration {
	p.attempt++
	d := p.Base
	for i := uint(1); i < p.attempt; i++ {
		d *= 2
		if d >= p.Cap {
			return p.Cap
		}
	}
	if d > p.Cap {
		return p.Cap
	}
	return d
}

// Attempt reports how many consecutive failures have been recorded.
func (p *Policy) Attempt() uint { return p.attempt }

// Reset clears the failure streak after a successful attempt.
func (p *Policy) Reset() { p.attempt = 0 }
