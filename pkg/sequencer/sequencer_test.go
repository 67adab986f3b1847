package sequencer

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"arenapilot/pkg/frame"
	"arenapilot/pkg/setpoint"
	"arenapilot/pkg/vehicle"
)

type scriptedClient struct {
	armAcks      []vehicle.Ack
	takeoffAcks  []vehicle.Ack
	armErr       error
	armCalls     int
	takeoffCalls int
	takeoffAlts  []float64
}

func (c *scriptedClient) GetTelemetry(ctx context.Context) (vehicle.Telemetry, error) {
	return vehicle.Telemetry{}, nil
}

func (c *scriptedClient) Arm(ctx context.Context) (vehicle.Ack, error) {
	c.armCalls++
	if c.armErr != nil {
		return vehicle.Ack{}, c.armErr
	}
	return pop(&c.armAcks), nil
}

func (c *scriptedClient) Takeoff(ctx context.Context, alt float64) (vehicle.Ack, error) {
	c.takeoffCalls++
	c.takeoffAlts = append(c.takeoffAlts, alt)
	return pop(&c.takeoffAcks), nil
}

func (c *scriptedClient) PublishSetpoint(ctx context.Context, p frame.Pose) error { return nil }
func (c *scriptedClient) Close() error                                           { return nil }

func pop(q *[]vehicle.Ack) vehicle.Ack {
	if len(*q) == 0 {
		return vehicle.Ack{Success: true, Result: vehicle.ResultAccepted}
	}
	a := (*q)[0]
	*q = (*q)[1:]
	return a
}

var nack = vehicle.Ack{Result: vehicle.ResultTemporarilyRejected}

type harness struct {
	seq    *Sequencer
	client *scriptedClient
	target *setpoint.Target
	align  *frame.Aligner
	clock  time.Time
	events []Event
}

func newHarness(t *testing.T, cfg Config) *harness {
	t.Helper()
	h := &harness{
		client: &scriptedClient{},
		target: setpoint.NewTarget(),
		align:  frame.NewAligner(),
		clock:  time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC),
	}
	h.seq = New(cfg, h.client, h.align, h.target)
	h.seq.now = func() time.Time { return h.clock }
	h.seq.OnEvent(func(e Event) { h.events = append(h.events, e) })
	return h
}

func (h *harness) step(t *testing.T, tel vehicle.Telemetry) State {
	t.Helper()
	tel.UpdatedAt = h.clock
	st, err := h.seq.Step(context.Background(), tel)
	require.NoError(t, err)
	return st
}

func (h *harness) advance(d time.Duration) { h.clock = h.clock.Add(d) }

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.Settle = time.Second
	return cfg
}

var (
	telConnected = vehicle.Telemetry{Connected: true, FlightMode: vehicle.ModeStabilize}
	telGuided    = vehicle.Telemetry{Connected: true, FlightMode: vehicle.ModeGuided}
	telArmed     = vehicle.Telemetry{Connected: true, FlightMode: vehicle.ModeGuided, Armed: true}
)

func TestStateString(t *testing.T) {
	tests := []struct {
		s    State
		want string
	}{
		{AwaitingConnection, "awaiting_connection"},
		{AwaitingGuidedMode, "awaiting_guided_mode"},
		{Arming, "arming"},
		{TakingOff, "taking_off"},
		{Navigating, "navigating"},
		{State(42), "unknown"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, tt.s.String())
	}
}

func TestFullSequence(t *testing.T) {
	h := newHarness(t, testConfig())
	h.align.Capture(0)

	assert.Equal(t, AwaitingConnection, h.step(t, vehicle.Telemetry{}))
	assert.Equal(t, AwaitingGuidedMode, h.step(t, telConnected))
	assert.Equal(t, AwaitingGuidedMode, h.step(t, telConnected), "never requests the mode itself")
	assert.Equal(t, Arming, h.step(t, telGuided))

	assert.Equal(t, Arming, h.step(t, telGuided))
	assert.Equal(t, 1, h.client.armCalls)
	assert.Equal(t, TakingOff, h.step(t, telArmed))

	assert.Equal(t, TakingOff, h.step(t, telArmed))
	assert.Equal(t, 1, h.client.takeoffCalls)
	assert.Equal(t, []float64{3}, h.client.takeoffAlts)

	h.advance(500 * time.Millisecond)
	assert.Equal(t, TakingOff, h.step(t, telArmed), "still settling")
	h.advance(500 * time.Millisecond)
	assert.Equal(t, Navigating, h.step(t, telArmed))

	pose, ok := h.target.Get()
	require.True(t, ok)
	assert.Equal(t, frame.Vec3{X: 0, Y: 0, Z: 3}, pose.Position)
	assert.Equal(t, frame.ToWorldOrientation(0, 0), pose.Orientation)

	var transitions int
	for _, e := range h.events {
		if e.Kind == "transition" {
			transitions++
		}
	}
	assert.Equal(t, 4, transitions)
}

func TestOneStatePerStep(t *testing.T) {
	h := newHarness(t, testConfig())
	h.align.Capture(0)

	// Everything is already true, but each Step moves one stage at most.
	assert.Equal(t, AwaitingGuidedMode, h.step(t, telArmed))
	assert.Equal(t, Arming, h.step(t, telArmed))
	assert.Equal(t, TakingOff, h.step(t, telArmed))
	assert.Equal(t, 0, h.client.armCalls, "already armed, no command needed")
}

func TestArmingPacing(t *testing.T) {
	h := newHarness(t, testConfig())
	h.client.armAcks = []vehicle.Ack{nack, nack, nack, nack}
	h.step(t, telConnected)
	h.step(t, telGuided)

	for i := 0; i < 10; i++ {
		h.step(t, telGuided)
		h.advance(10 * time.Millisecond)
	}
	assert.Equal(t, 1, h.client.armCalls, "at most one attempt per 100 ms")

	h.advance(100 * time.Millisecond)
	h.step(t, telGuided)
	assert.Equal(t, 2, h.client.armCalls)
}

func TestArmAckAloneDoesNotAdvance(t *testing.T) {
	h := newHarness(t, testConfig())
	h.step(t, telConnected)
	h.step(t, telGuided)

	for i := 0; i < 5; i++ {
		assert.Equal(t, Arming, h.step(t, telGuided))
		h.advance(100 * time.Millisecond)
	}
	assert.Equal(t, 5, h.client.armCalls, "accepted acks keep retrying until telemetry shows armed")
}

func TestArmErrorsAreRetried(t *testing.T) {
	h := newHarness(t, testConfig())
	h.client.armErr = vehicle.ErrCommandTimeout
	h.step(t, telConnected)
	h.step(t, telGuided)

	for i := 0; i < 3; i++ {
		assert.Equal(t, Arming, h.step(t, telGuided))
		h.advance(100 * time.Millisecond)
	}
	assert.Equal(t, 3, h.client.armCalls)
}

func TestNoTakeoffWhileDisarmed(t *testing.T) {
	h := newHarness(t, testConfig())
	h.step(t, telConnected)
	h.step(t, telGuided)
	require.Equal(t, TakingOff, h.step(t, telArmed))

	for i := 0; i < 20; i++ {
		assert.Equal(t, TakingOff, h.step(t, telGuided))
		h.advance(100 * time.Millisecond)
	}
	assert.Equal(t, 0, h.client.takeoffCalls)
}

func TestNoNavigatingBeforeTakeoffAck(t *testing.T) {
	h := newHarness(t, testConfig())
	h.align.Capture(0)
	h.client.takeoffAcks = []vehicle.Ack{nack, nack, nack}
	h.step(t, telConnected)
	h.step(t, telGuided)
	h.step(t, telArmed)

	for i := 0; i < 3; i++ {
		assert.Equal(t, TakingOff, h.step(t, telArmed))
		h.advance(time.Minute)
	}
	assert.Equal(t, 3, h.client.takeoffCalls)
	_, ok := h.target.Get()
	assert.False(t, ok, "no target before navigation")

	assert.Equal(t, TakingOff, h.step(t, telArmed), "fourth attempt succeeds, settle starts")
	assert.Equal(t, 4, h.client.takeoffCalls)
	h.advance(time.Second)
	assert.Equal(t, Navigating, h.step(t, telArmed))
}

func TestNavigatingWaitsForAlignment(t *testing.T) {
	h := newHarness(t, testConfig())
	h.step(t, telConnected)
	h.step(t, telGuided)
	h.step(t, telArmed)
	h.step(t, telArmed)
	h.advance(2 * time.Second)

	assert.Equal(t, TakingOff, h.step(t, telArmed))
	h.align.Capture(90)
	assert.Equal(t, Navigating, h.step(t, telArmed))

	pose, _ := h.target.Get()
	want := frame.ToWorldPosition(90, 0, 0, 3)
	assert.InDelta(t, want.X, pose.Position.X, 1e-12)
	assert.InDelta(t, want.Y, pose.Position.Y, 1e-12)
	assert.Equal(t, 3.0, pose.Position.Z)
	assert.Equal(t, frame.ToWorldOrientation(90, 0), pose.Orientation)
}

func TestPatienceExceeded(t *testing.T) {
	cfg := testConfig()
	cfg.Patience = map[State]time.Duration{AwaitingGuidedMode: 5 * time.Second}
	h := newHarness(t, cfg)
	h.step(t, telConnected)

	h.advance(4 * time.Second)
	h.step(t, telConnected)

	h.advance(2 * time.Second)
	st, err := h.seq.Step(context.Background(), telConnected)
	assert.True(t, errors.Is(err, ErrPatienceExceeded))
	assert.Equal(t, AwaitingGuidedMode, st)
}

func TestNoPatienceWaitsForever(t *testing.T) {
	h := newHarness(t, testConfig())
	h.advance(24 * time.Hour)
	assert.Equal(t, AwaitingConnection, h.step(t, vehicle.Telemetry{}))
}

func TestLinkLossAfterNavigating(t *testing.T) {
	h := newHarness(t, testConfig())
	h.align.Capture(0)
	h.step(t, telConnected)
	h.step(t, telGuided)
	h.step(t, telArmed)
	h.step(t, telArmed)
	h.advance(time.Second)
	require.Equal(t, Navigating, h.step(t, telArmed))
	before, _ := h.target.Get()

	// Disconnected
	assert.Equal(t, Navigating, h.step(t, vehicle.Telemetry{}))
	assert.True(t, h.seq.LinkLost())

	// Recovered
	h.step(t, telArmed)
	assert.False(t, h.seq.LinkLost())

	// Stale snapshot
	stale := telArmed
	stale.UpdatedAt = h.clock.Add(-3 * time.Second)
	_, err := h.seq.Step(context.Background(), stale)
	require.NoError(t, err)
	assert.True(t, h.seq.LinkLost())
	assert.Equal(t, Navigating, h.seq.State())

	after, _ := h.target.Get()
	assert.Equal(t, before, after, "hold keeps the last target")

	var linkEvents []string
	for _, e := range h.events {
		if e.Kind == "link" {
			linkEvents = append(linkEvents, e.Detail)
		}
	}
	assert.Equal(t, []string{"lost", "recovered", "lost"}, linkEvents)
}

func TestCheckLink(t *testing.T) {
	h := newHarness(t, testConfig())
	assert.False(t, h.seq.CheckLink(vehicle.Telemetry{}), "no hold before navigating")

	h.align.Capture(0)
	h.step(t, telConnected)
	h.step(t, telGuided)
	h.step(t, telArmed)
	h.step(t, telArmed)
	h.advance(time.Second)
	require.Equal(t, Navigating, h.step(t, telArmed))

	assert.True(t, h.seq.CheckLink(vehicle.Telemetry{}))
	assert.True(t, h.seq.LinkLost())

	// Step on the same sample does not raise a second edge.
	h.step(t, vehicle.Telemetry{})
	up := telArmed
	up.UpdatedAt = h.clock
	assert.False(t, h.seq.CheckLink(up))

	var linkEvents []string
	for _, e := range h.events {
		if e.Kind == "link" {
			linkEvents = append(linkEvents, e.Detail)
		}
	}
	assert.Equal(t, []string{"lost", "recovered"}, linkEvents)
}

func TestCommandEventsCarryAckID(t *testing.T) {
	h := newHarness(t, testConfig())
	h.client.armAcks = []vehicle.Ack{{ID: "c0ffee", Result: vehicle.ResultDenied}}
	h.step(t, telConnected)
	h.step(t, telGuided)
	h.step(t, telGuided)

	var details []string
	for _, e := range h.events {
		if e.Kind == "command" {
			details = append(details, e.Detail)
		}
	}
	assert.Equal(t, []string{"arm #1: DENIED [c0ffee]"}, details)
}

func TestLogsCarryComponent(t *testing.T) {
	var buf bytes.Buffer
	prev := slog.Default()
	slog.SetDefault(slog.New(slog.NewJSONHandler(&buf, nil)))
	t.Cleanup(func() { slog.SetDefault(prev) })

	h := newHarness(t, testConfig())
	h.step(t, telConnected)

	assert.Contains(t, buf.String(), `"component":"sequencer"`)
	assert.Contains(t, buf.String(), `"msg":"Sequencer transition"`)
}
