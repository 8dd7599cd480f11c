// Package delivery owns everything between a finished auction record and the
// analytics endpoint: the session sampling gate, the debounced scheduler, and
// the async sender with its circuit breaker.
package delivery

import "math/rand/v2"

// Gate is the session-level sampling decision. It is drawn exactly once when
// the session starts; every auction in the session shares the outcome.
type Gate struct {
	pct     int
	sampled bool
}

// NewGate draws the sampling decision for a session. pct is the percentage of
// sessions to deliver: 0 never samples, 100 always does, out-of-range values
// fall back to 100. draw defaults to the runtime RNG.
func NewGate(pct int, draw func() float64) *Gate {
	if pct < 0 || pct > 100 {
		pct = 100
	}
	if draw == nil {
		draw = rand.Float64
	}
	return &Gate{
		pct:     pct,
		sampled: draw()*100 < float64(pct),
	}
}

// Sampled reports whether this session's payloads are delivered
func (g *Gate) Sampled() bool { return g.sampled }

// Percentage returns the effective sampling percentage
func (g *Gate) Percentage() int { return g.pct }
