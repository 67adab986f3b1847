package waypoint

import (
	"context"
	"math"
	"sync"
	"testing"

	"github.com/paulmach/orb/planar"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"arenapilot/pkg/frame"
	"arenapilot/pkg/setpoint"
)

func TestValidator_Boundaries(t *testing.T) {
	v := NewValidator(DefaultEnvelope())

	tests := []struct {
		name    string
		x, y, z float64
		want    Result
	}{
		{"origin", 0, 0, 0, Result{Accepted: true}},
		{"inside corner", 3.5, 3.5, 2.9, Result{Accepted: true}},
		{"x at max", 3.6, 0, 0, Result{Reason: ReasonXOutOfBounds}},
		{"x at min", -0.6, 0, 0, Result{Reason: ReasonXOutOfBounds}},
		{"y at max", 0, 3.6, 0, Result{Reason: ReasonYOutOfBounds}},
		{"y at min", 0, -0.6, 0, Result{Reason: ReasonYOutOfBounds}},
		{"z at ceiling", 0, 0, 3, Result{Reason: ReasonAltitudeCeiling}},
		{"ceiling checked first", 10, 10, 5, Result{Reason: ReasonAltitudeCeiling}},
		{"nan", math.NaN(), 0, 0, Result{Reason: ReasonNotFinite}},
		{"inf", 0, 0, math.Inf(-1), Result{Reason: ReasonNotFinite}},
		{"negative altitude allowed", 1, 1, -0.5, Result{Accepted: true}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, v.Validate(tt.x, tt.y, tt.z))
		})
	}
}

func TestEnvelope_Polygon(t *testing.T) {
	env := DefaultEnvelope()
	poly := env.Polygon()
	require.Len(t, poly, 1)
	assert.InDelta(t, 4.2*4.2, math.Abs(planar.Area(poly)), 1e-9)

	custom := NewEnvelope(0, 2, 0, 1, 1.5)
	assert.Equal(t, 1.5, custom.Ceiling)
	assert.InDelta(t, 2.0, math.Abs(planar.Area(custom.Polygon())), 1e-9)
}

func TestEnvelope_ContainsXY(t *testing.T) {
	env := DefaultEnvelope()
	tests := []struct {
		name string
		x, y float64
		want bool
	}{
		{"origin", 0, 0, true},
		{"near corner", 3.5, 3.5, true},
		{"upper x edge", 3.6, 0, false},
		{"lower x edge", -0.6, 0, false},
		{"upper y edge", 0, 3.6, false},
		{"lower y edge", 0, -0.6, false},
		{"outside", 5, 5, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, env.ContainsXY(tt.x, tt.y))
			// Validate agrees with ContainsXY below the ceiling.
			assert.Equal(t, tt.want, NewValidator(env).Validate(tt.x, tt.y, 1).Accepted)
		})
	}
}

func newIntake(t *testing.T, offset *float64) (*Intake, *setpoint.Target) {
	t.Helper()
	aligner := frame.NewAligner()
	if offset != nil {
		aligner.Capture(*offset)
	}
	target := setpoint.NewTarget()
	in, err := NewIntake(NewValidator(DefaultEnvelope()), aligner, target)
	require.NoError(t, err)
	return in, target
}

func ptr(f float64) *float64 { return &f }

func TestIntake_RejectsBeforeAlignment(t *testing.T) {
	in, target := newIntake(t, nil)

	res := in.Submit(context.Background(), Proposal{X: 1, Y: 1, Z: 1})
	assert.Equal(t, ReasonNotAligned, res.Reason)
	_, ok := target.Get()
	assert.False(t, ok)
}

func TestIntake_AcceptConvertsToWorld(t *testing.T) {
	in, target := newIntake(t, ptr(90))

	res := in.Submit(context.Background(), Proposal{X: 0, Y: 1, Z: 2, Source: "test"})
	require.True(t, res.Accepted)

	pose, ok := target.Get()
	require.True(t, ok)
	assert.InDelta(t, 1.0, pose.Position.X, 1e-9)
	assert.InDelta(t, 0.0, pose.Position.Y, 1e-9)
	assert.Equal(t, 2.0, pose.Position.Z)

	d, ok := in.Last()
	require.True(t, ok)
	assert.Equal(t, pose.Position, d.World)
}

func TestIntake_HeadingReplacesOrientation(t *testing.T) {
	in, target := newIntake(t, ptr(30))
	ctx := context.Background()

	require.True(t, in.Submit(ctx, Proposal{X: 1, Y: 1, Z: 1, Heading: ptr(45)}).Accepted)
	pose, _ := target.Get()
	assert.Equal(t, frame.ToWorldOrientation(30, 45), pose.Orientation)

	require.True(t, in.Submit(ctx, Proposal{X: 2, Y: 2, Z: 1}).Accepted)
	pose, _ = target.Get()
	assert.Equal(t, frame.ToWorldOrientation(30, 45), pose.Orientation, "position-only update keeps heading")
}

func TestIntake_RejectLeavesTargetUnchanged(t *testing.T) {
	in, target := newIntake(t, ptr(0))
	ctx := context.Background()

	require.True(t, in.Submit(ctx, Proposal{X: 1, Y: 1, Z: 1, Heading: ptr(0)}).Accepted)
	before, _ := target.Get()
	beforeAt := target.UpdatedAt()

	rejects := []Proposal{
		{X: 3.6, Y: 0, Z: 0},
		{X: 0, Y: 0, Z: 3},
		{X: math.NaN(), Y: 0, Z: 0},
		{X: 1, Y: 1, Z: 1, Heading: ptr(math.Inf(1))},
	}
	for _, p := range rejects {
		assert.False(t, in.Submit(ctx, p).Accepted)
	}

	after, _ := target.Get()
	assert.Equal(t, before, after)
	assert.Equal(t, beforeAt, target.UpdatedAt())

	accepted, rejected := in.Counts()
	assert.Equal(t, uint64(1), accepted)
	assert.Equal(t, uint64(4), rejected)
}

func TestIntake_LinkLostHold(t *testing.T) {
	in, target := newIntake(t, ptr(0))
	ctx := context.Background()

	in.SetLinkLost(true)
	assert.Equal(t, ReasonLinkLost, in.Submit(ctx, Proposal{X: 1, Y: 1, Z: 1}).Reason)
	_, ok := target.Get()
	assert.False(t, ok)

	in.SetLinkLost(false)
	assert.True(t, in.Submit(ctx, Proposal{X: 1, Y: 1, Z: 1}).Accepted)
}

func TestIntake_OnDecision(t *testing.T) {
	in, _ := newIntake(t, ptr(0))
	var got []Decision
	in.OnDecision(func(d Decision) { got = append(got, d) })

	in.Submit(context.Background(), Proposal{X: 1, Y: 1, Z: 1, Source: "a"})
	in.Submit(context.Background(), Proposal{X: 9, Y: 1, Z: 1, Source: "b"})

	require.Len(t, got, 2)
	assert.True(t, got[0].Result.Accepted)
	assert.Equal(t, ReasonXOutOfBounds, got[1].Result.Reason)
	assert.Equal(t, "b", got[1].Proposal.Source)
}

func TestInbox_FIFOAndDrop(t *testing.T) {
	b, err := NewInbox(2)
	require.NoError(t, err)

	assert.True(t, b.Offer(Proposal{X: 1}))
	assert.True(t, b.Offer(Proposal{X: 2}))
	assert.False(t, b.Offer(Proposal{X: 3}), "full inbox drops")
	assert.Equal(t, uint64(1), b.Dropped())

	var xs []float64
	n := b.Drain(func(p Proposal) { xs = append(xs, p.X) })
	assert.Equal(t, 2, n)
	assert.Equal(t, []float64{1, 2}, xs)
	assert.Equal(t, 0, b.Len())
}

func TestInbox_ConcurrentProducers(t *testing.T) {
	b, err := NewInbox(1000)
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				b.Offer(Proposal{X: 1})
			}
		}()
	}
	wg.Wait()

	total := 0
	for b.Len() > 0 {
		total += b.Drain(func(Proposal) {})
	}
	assert.Equal(t, 500, total)
}

func TestNewInbox_DefaultSize(t *testing.T) {
	b, err := NewInbox(0)
	require.NoError(t, err)
	assert.Equal(t, DefaultInboxSize, cap(b.ch))
}
