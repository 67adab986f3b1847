package waypoint

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"arenapilot/pkg/frame"
	"arenapilot/pkg/setpoint"
)

const instrumentationName = "arenapilot/pkg/waypoint"

// Proposal is an arena-frame waypoint request.
type Proposal struct {
	X          float64   `json:"x"`
	Y          float64   `json:"y"`
	Z          float64   `json:"z"`
	Heading    *float64  `json:"heading,omitempty"` // arena compass degrees
	Source     string    `json:"source,omitempty"`
	ReceivedAt time.Time `json:"received_at"`
}

// Decision is a proposal together with its outcome.
type Decision struct {
	Proposal Proposal   `json:"proposal"`
	Result   Result     `json:"result"`
	World    frame.Vec3 `json:"world,omitempty"`
}

// Intake applies accepted proposals to the target. It must only be driven
// from one goroutine (the scheduling loop).
type Intake struct {
	logger    *slog.Logger
	validator Validator
	aligner   *frame.Aligner
	target    *setpoint.Target
	linkLost  atomic.Bool

	mu       sync.RWMutex
	last     *Decision
	onDecide func(Decision)

	accepted atomic.Uint64
	rejected atomic.Uint64

	acceptedCounter metric.Int64Counter
	rejectedCounter metric.Int64Counter
}

// NewIntake wires a validator, the frame aligner and the target together.
func NewIntake(v Validator, aligner *frame.Aligner, target *setpoint.Target) (*Intake, error) {
	in := &Intake{
		validator: v,
		aligner:   aligner,
		target:    target,
		logger:    slog.With("component", "waypoint_intake"),
	}

	m := otel.Meter(instrumentationName)
	var err error
	in.acceptedCounter, err = m.Int64Counter(
		"waypoint.accepted",
		metric.WithDescription("Waypoints applied to the target"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating accepted counter: %w", err)
	}
	in.rejectedCounter, err = m.Int64Counter(
		"waypoint.rejected",
		metric.WithDescription("Waypoints refused by the intake"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating rejected counter: %w", err)
	}
	return in, nil
}

// OnDecision registers a callback invoked after every proposal.
func (in *Intake) OnDecision(fn func(Decision)) {
	in.mu.Lock()
	defer in.mu.Unlock()
	in.onDecide = fn
}

// SetLinkLost toggles the position hold: while set, every proposal is rejected.
func (in *Intake) SetLinkLost(lost bool) {
	in.linkLost.Store(lost)
}

// Submit validates p and, if admissible, replaces the target.
// Rejection is not an error: the target is simply left unchanged.
func (in *Intake) Submit(ctx context.Context, p Proposal) Result {
	d := Decision{Proposal: p}

	offset, aligned := in.aligner.Offset()
	switch {
	case in.linkLost.Load():
		d.Result = Result{Reason: ReasonLinkLost}
	case !aligned:
		d.Result = Result{Reason: ReasonNotAligned}
	case p.Heading != nil && (math.IsNaN(*p.Heading) || math.IsInf(*p.Heading, 0)):
		d.Result = Result{Reason: ReasonNotFinite}
	default:
		d.Result = in.validator.Validate(p.X, p.Y, p.Z)
	}

	if d.Result.Accepted {
		d.World = frame.ToWorldPosition(offset, p.X, p.Y, p.Z)
		if p.Heading != nil {
			in.target.Set(frame.Pose{Position: d.World, Orientation: frame.ToWorldOrientation(offset, *p.Heading)})
		} else {
			in.target.SetPosition(d.World)
		}
		in.accepted.Add(1)
		in.acceptedCounter.Add(ctx, 1)
		in.logger.Info("Waypoint accepted",
			"x", p.X, "y", p.Y, "z", p.Z,
			"world_x", d.World.X, "world_y", d.World.Y, "world_z", d.World.Z,
			"source", p.Source)
	} else {
		in.rejected.Add(1)
		in.rejectedCounter.Add(ctx, 1, metric.WithAttributes(attribute.String("reason", string(d.Result.Reason))))
		in.logger.Info("Waypoint rejected", "x", p.X, "y", p.Y, "z", p.Z, "reason", d.Result.Reason, "source", p.Source)
	}

	in.mu.Lock()
	in.last = &d
	fn := in.onDecide
	in.mu.Unlock()
	if fn != nil {
		fn(d)
	}
	return d.Result
}

// Last returns the most recent decision.
func (in *Intake) Last() (Decision, bool) {
	in.mu.RLock()
	defer in.mu.RUnlock()
	if in.last == nil {
		return Decision{}, false
	}
	return *in.last, true
}

// Counts returns accepted and rejected totals.
func (in *Intake) Counts() (accepted, rejected uint64) {
	return in.accepted.Load(), in.rejected.Load()
}
