package sequencer

import (
	"math"
	"math/rand"
	"time"
)

// pacer spaces out command attempts. After a failure the gap grows
// exponentially from base up to max; equal values give a fixed cadence.
type pacer struct {
	base     time.Duration
	max      time.Duration
	failures int
	next     time.Time
}

func newPacer(base, max time.Duration) *pacer {
	if max < base {
		max = base
	}
	return &pacer{base: base, max: max}
}

// ready reports whether another attempt is allowed at now.
func (p *pacer) ready(now time.Time) bool {
	return !now.Before(p.next)
}

// record schedules the next attempt after one made at now.
func (p *pacer) record(now time.Time, ok bool) {
	if ok {
		p.failures = 0
		p.next = now.Add(p.base)
		return
	}
	p.failures++
	p.next = now.Add(p.delay(p.failures))
}

func (p *pacer) reset() {
	p.failures = 0
	p.next = time.Time{}
}

func (p *pacer) delay(failures int) time.Duration {
	multiplier := math.Pow(2, float64(failures-1))
	delay := time.Duration(float64(p.base) * multiplier)
	if delay > p.max || delay <= 0 {
		delay = p.max
	}
	if p.max == p.base {
		return delay
	}

	// 10% jitter, never past max
	jitter := time.Duration(rand.Float64() * 0.1 * float64(delay))
	if delay+jitter > p.max {
		return p.max
	}
	return delay + jitter
}
