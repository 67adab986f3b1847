// Package core runs the control loop that ties the vehicle link, the launch
// sequence, waypoint intake and the setpoint stream together.
package core

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dustin/go-humanize"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"arenapilot/pkg/frame"
	"arenapilot/pkg/logging"
	"arenapilot/pkg/recorder"
	"arenapilot/pkg/sequencer"
	"arenapilot/pkg/setpoint"
	"arenapilot/pkg/vehicle"
	"arenapilot/pkg/waypoint"
)

const instrumentationName = "arenapilot/pkg/core"

// TelemetrySink is an interface for consumers of the high-frequency telemetry stream.
type TelemetrySink interface {
	Update(t *vehicle.Telemetry)
	UpdateState(s sequencer.State)
}

// EventRecorder persists flight events. *recorder.Recorder satisfies it.
type EventRecorder interface {
	Record(at time.Time, kind, detail string)
	SetOffset(deg float64)
}

// Components are the parts the loop drives. Recorder and Sink may be nil.
type Components struct {
	Client    vehicle.Client
	Sequencer *sequencer.Sequencer
	Aligner   *frame.Aligner
	Target    *setpoint.Target
	Stream    *setpoint.Stream
	Inbox     *waypoint.Inbox
	Intake    *waypoint.Intake
	Recorder  EventRecorder
	Sink      TelemetrySink
}

// Options tune the loop.
type Options struct {
	RateHz      float64
	ReportEvery time.Duration
	// PoseEvery logs the vehicle position each time it moves this far; zero disables.
	PoseEvery float64
	// OffsetDeg pins the arena rotation; nil captures the first valid heading.
	OffsetDeg *float64
}

// Status is a point-in-time view of the loop for the API.
type Status struct {
	State         sequencer.State    `json:"state"`
	LinkLost      bool               `json:"link_lost"`
	OffsetDeg     *float64           `json:"offset_deg,omitempty"`
	Target        *frame.Pose        `json:"target,omitempty"`
	Stream        setpoint.Stats     `json:"stream"`
	Accepted      uint64             `json:"waypoints_accepted"`
	Rejected      uint64             `json:"waypoints_rejected"`
	Dropped       uint64             `json:"waypoints_dropped"`
	Ticks         uint64             `json:"ticks"`
	LastDecision  *waypoint.Decision `json:"last_decision,omitempty"`
	StartedAt     time.Time          `json:"started_at"`
	LastEvent     string             `json:"last_event,omitempty"`
	TelemetryErrs uint64             `json:"telemetry_errors"`
}

// Scheduler manages the control loop ticker and the low-rate jobs hanging off it.
type Scheduler struct {
	logger   *slog.Logger
	c        Components
	interval time.Duration
	pinned   *float64
	jobs     []Job
	jobsWG   sync.WaitGroup

	started    time.Time
	ticks      atomic.Uint64
	telErrs    atomic.Uint64
	lastTelLog time.Time

	tickCounter   metric.Int64Counter
	telErrCounter metric.Int64Counter
	tickDuration  metric.Float64Histogram
}

// NewScheduler validates the components and registers the event hooks that
// feed the flight recorder.
func NewScheduler(opts Options, c Components) (*Scheduler, error) {
	switch {
	case c.Client == nil:
		return nil, errors.New("scheduler needs a vehicle client")
	case c.Sequencer == nil, c.Aligner == nil, c.Target == nil, c.Stream == nil:
		return nil, errors.New("scheduler needs sequencer, aligner, target and stream")
	case c.Inbox == nil, c.Intake == nil:
		return nil, errors.New("scheduler needs waypoint inbox and intake")
	}
	if !(opts.RateHz > 0) || math.IsInf(opts.RateHz, 1) {
		return nil, fmt.Errorf("invalid loop rate %.1f Hz", opts.RateHz)
	}

	s := &Scheduler{
		c:        c,
		interval: time.Duration(float64(time.Second) / opts.RateHz),
		pinned:   opts.OffsetDeg,
		started:  time.Now(),
		logger:   slog.With("component", "scheduler"),
	}

	m := otel.Meter(instrumentationName)
	var err error
	s.tickCounter, err = m.Int64Counter(
		"core.ticks",
		metric.WithDescription("Control loop iterations"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating tick counter: %w", err)
	}
	s.telErrCounter, err = m.Int64Counter(
		"core.telemetry_errors",
		metric.WithDescription("Ticks where telemetry could not be read"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating telemetry error counter: %w", err)
	}
	s.tickDuration, err = m.Float64Histogram(
		"core.tick.duration",
		metric.WithDescription("Time spent in one control loop iteration"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating tick histogram: %w", err)
	}

	c.Sequencer.OnEvent(func(e sequencer.Event) {
		s.record(e.At, e.Kind, e.Detail)
	})
	c.Intake.OnDecision(func(d waypoint.Decision) {
		p := d.Proposal
		detail := fmt.Sprintf("(%.2f, %.2f, %.2f) from %s: accepted", p.X, p.Y, p.Z, p.Source)
		if !d.Result.Accepted {
			detail = fmt.Sprintf("(%.2f, %.2f, %.2f) from %s: rejected %s", p.X, p.Y, p.Z, p.Source, d.Result.Reason)
		}
		at := p.ReceivedAt
		if at.IsZero() {
			at = time.Now()
		}
		s.record(at, recorder.KindWaypoint, detail)
	})

	if opts.ReportEvery > 0 {
		s.AddJob(NewTimeJob("stream health", opts.ReportEvery, s.report))
	}
	if opts.PoseEvery > 0 {
		s.AddJob(NewDistanceJob("pose log", opts.PoseEvery, s.logPose))
	}
	return s, nil
}

// AddJob registers a job.
func (s *Scheduler) AddJob(j Job) {
	s.jobs = append(s.jobs, j)
}

// Run drives the loop until ctx is cancelled or the launch sequence gives up.
// It returns nil on cancellation and the sequencer error otherwise.
func (s *Scheduler) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	defer s.jobsWG.Wait()

	s.logger.Info("Scheduler started", "interval", s.interval, "jobs", len(s.jobs))

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("Scheduler stopped", "ticks", humanize.Comma(int64(s.ticks.Load())))
			return nil
		case now := <-ticker.C:
			if err := s.tick(ctx, now); err != nil {
				s.logger.Error("Scheduler aborted", "error", err)
				return err
			}
		}
	}
}

func (s *Scheduler) tick(ctx context.Context, now time.Time) error {
	start := time.Now()
	defer func() {
		s.tickDuration.Record(ctx, float64(time.Since(start).Microseconds())/1000)
	}()
	s.ticks.Add(1)
	s.tickCounter.Add(ctx, 1)

	// 1. Fetch telemetry. A failed read counts as a disconnected vehicle.
	tel, err := s.c.Client.GetTelemetry(ctx)
	if err != nil {
		s.telErrs.Add(1)
		s.telErrCounter.Add(ctx, 1, metric.WithAttributes(attribute.String("state", s.c.Sequencer.State().String())))
		if now.Sub(s.lastTelLog) >= 5*time.Second {
			s.lastTelLog = now
			s.logger.Warn("Failed to read telemetry", "error", err)
		}
		tel = vehicle.Telemetry{}
	}

	// 2. Broadcast to sink (API)
	if s.c.Sink != nil {
		s.c.Sink.Update(&tel)
		s.c.Sink.UpdateState(s.c.Sequencer.State())
	}

	// 3. Align the arena frame once
	s.captureOffset(tel, now)

	// 4. Waypoints queued by the transports, judged against this tick's link
	s.c.Intake.SetLinkLost(s.c.Sequencer.CheckLink(tel))
	if n := s.c.Inbox.Drain(func(p waypoint.Proposal) {
		s.c.Intake.Submit(ctx, p)
	}); n > 0 {
		logging.Trace(s.logger, "Drained waypoint inbox", "count", n)
	}

	// 5. Launch sequence
	state, err := s.c.Sequencer.Step(ctx, tel)
	if err != nil {
		return err
	}

	// 6. Setpoint stream
	if state == sequencer.Navigating {
		s.c.Stream.Publish(ctx)
	}

	// 7. Low-rate jobs
	for _, job := range s.jobs {
		if job.ShouldFire(&tel, now) {
			s.jobsWG.Add(1)
			go func(j Job) {
				defer s.jobsWG.Done()
				j.Run(ctx, &tel, now)
			}(job)
		}
	}
	return nil
}

func (s *Scheduler) captureOffset(tel vehicle.Telemetry, now time.Time) {
	if s.c.Aligner.Captured() {
		return
	}

	var heading float64
	source := "pinned"
	switch {
	case s.pinned != nil:
		heading = *s.pinned
	case tel.Connected && tel.HeadingValid:
		heading = tel.HeadingDeg
		source = "compass"
	default:
		return
	}

	offset, ok := s.c.Aligner.Capture(heading)
	if !ok {
		return
	}
	deg := float64(offset)
	s.logger.Info("Arena frame aligned", "offset_deg", deg, "source", source)
	s.record(now, recorder.KindFrame, fmt.Sprintf("offset %.2f deg (%s)", deg, source))
	if s.c.Recorder != nil {
		s.c.Recorder.SetOffset(deg)
	}
}

func (s *Scheduler) record(at time.Time, kind, detail string) {
	fmt.Fprintf(logging.GlobalEventCapture, "%s [%s] %s", at.Format("15:04:05.000"), kind, detail)
	if s.c.Recorder != nil {
		s.c.Recorder.Record(at, kind, detail)
	}
}

func (s *Scheduler) report(ctx context.Context, tel vehicle.Telemetry, now time.Time) {
	st := s.c.Stream.Stats()
	accepted, rejected := s.c.Intake.Counts()
	s.logger.Info("Control loop health",
		"state", s.c.Sequencer.State(),
		"link_lost", s.c.Sequencer.LinkLost(),
		"connected", tel.Connected,
		"mode", tel.FlightMode,
		"setpoints", humanize.Comma(int64(st.Published)),
		"setpoint_errors", humanize.Comma(int64(st.Failed)),
		"waypoints", fmt.Sprintf("%d/%d", accepted, accepted+rejected),
		"inbox_dropped", s.c.Inbox.Dropped(),
		"ticks", humanize.Comma(int64(s.ticks.Load())),
		"up", humanize.RelTime(s.started, now, "", ""),
	)
}

func (s *Scheduler) logPose(ctx context.Context, tel vehicle.Telemetry, now time.Time) {
	s.logger.Info("Vehicle pose",
		"x", fmt.Sprintf("%.2f", tel.Position.X),
		"y", fmt.Sprintf("%.2f", tel.Position.Y),
		"z", fmt.Sprintf("%.2f", tel.Position.Z),
		"heading", fmt.Sprintf("%.1f", tel.HeadingDeg),
		"mode", tel.FlightMode,
	)
}

// Status returns the current loop snapshot.
func (s *Scheduler) Status() Status {
	st := Status{
		State:         s.c.Sequencer.State(),
		LinkLost:      s.c.Sequencer.LinkLost(),
		Stream:        s.c.Stream.Stats(),
		Dropped:       s.c.Inbox.Dropped(),
		Ticks:         s.ticks.Load(),
		TelemetryErrs: s.telErrs.Load(),
		StartedAt:     s.started,
		LastEvent:     logging.GlobalEventCapture.GetLastLine(),
	}
	st.Accepted, st.Rejected = s.c.Intake.Counts()
	if o, ok := s.c.Aligner.Offset(); ok {
		deg := float64(o)
		st.OffsetDeg = &deg
	}
	if p, ok := s.c.Target.Get(); ok {
		st.Target = &p
	}
	if d, ok := s.c.Intake.Last(); ok {
		st.LastDecision = &d
	}
	return st
}
