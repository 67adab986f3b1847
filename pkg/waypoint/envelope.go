// Package waypoint validates arena-frame waypoint proposals and applies accepted ones to the target.
package waypoint

import (
	"math"

	"github.com/paulmach/orb"
)

// Reason names why a proposal was rejected.
type Reason string

const (
	ReasonAltitudeCeiling Reason = "altitude_ceiling"
	ReasonXOutOfBounds    Reason = "x_out_of_bounds"
	ReasonYOutOfBounds    Reason = "y_out_of_bounds"
	ReasonNotFinite       Reason = "not_finite"
	ReasonNotAligned      Reason = "frame_not_aligned"
	ReasonLinkLost        Reason = "link_lost"
)

// Envelope is the admissible arena volume. Every bound is strict.
type Envelope struct {
	Bound   orb.Bound // horizontal extent, arena frame (X east-ish, Y along captured heading)
	Ceiling float64
}

// DefaultEnvelope returns the 4.2 m square arena with a 3 m ceiling.
func DefaultEnvelope() Envelope {
	return Envelope{
		Bound:   orb.Bound{Min: orb.Point{-0.6, -0.6}, Max: orb.Point{3.6, 3.6}},
		Ceiling: 3,
	}
}

// NewEnvelope builds an envelope from explicit limits.
func NewEnvelope(minX, maxX, minY, maxY, ceiling float64) Envelope {
	return Envelope{
		Bound:   orb.Bound{Min: orb.Point{minX, minY}, Max: orb.Point{maxX, maxY}},
		Ceiling: ceiling,
	}
}

// Polygon returns the horizontal extent as a closed ring.
func (e Envelope) Polygon() orb.Polygon {
	return e.Bound.ToPolygon()
}

// ContainsXY reports whether the horizontal point lies strictly inside the
// envelope. orb.Bound.Contains is inclusive, so the edges are checked here.
func (e Envelope) ContainsXY(x, y float64) bool {
	return e.insideX(x) && e.insideY(y)
}

func (e Envelope) insideX(x float64) bool {
	return x > e.Bound.Min.X() && x < e.Bound.Max.X()
}

func (e Envelope) insideY(y float64) bool {
	return y > e.Bound.Min.Y() && y < e.Bound.Max.Y()
}

// Result is the outcome of validating a proposal.
type Result struct {
	Accepted bool   `json:"accepted"`
	Reason   Reason `json:"reason,omitempty"`
}

// Validator checks proposals against an Envelope.
type Validator struct {
	env Envelope
}

// NewValidator creates a validator for env.
func NewValidator(env Envelope) Validator {
	return Validator{env: env}
}

// Envelope returns the configured envelope.
func (v Validator) Envelope() Envelope {
	return v.env
}

// Validate reports whether (x, y, z) lies strictly inside the envelope.
func (v Validator) Validate(x, y, z float64) Result {
	for _, c := range []float64{x, y, z} {
		if math.IsNaN(c) || math.IsInf(c, 0) {
			return Result{Reason: ReasonNotFinite}
		}
	}
	if z >= v.env.Ceiling {
		return Result{Reason: ReasonAltitudeCeiling}
	}
	if !v.env.insideX(x) {
		return Result{Reason: ReasonXOutOfBounds}
	}
	if !v.env.insideY(y) {
		return Result{Reason: ReasonYOutOfBounds}
	}
	return Result{Accepted: true}
}
