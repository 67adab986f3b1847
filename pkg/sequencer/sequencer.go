// Package sequencer drives the vehicle from power-on to guided navigation:
// wait for the link, wait for GUIDED, arm, take off, then hand over to the
// setpoint stream.
package sequencer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"arenapilot/pkg/frame"
	"arenapilot/pkg/setpoint"
	"arenapilot/pkg/vehicle"
)

// ErrPatienceExceeded is returned by Step when a stage waited longer than allowed.
var ErrPatienceExceeded = errors.New("sequencer patience exceeded")

// Config controls the launch sequence.
type Config struct {
	GuidedMode      string
	TakeoffAltitude float64
	Settle          time.Duration
	RetryBase       time.Duration
	RetryMax        time.Duration
	LinkLossAfter   time.Duration

	// Patience per waiting stage; zero waits forever.
	Patience map[State]time.Duration

	// Hover is the arena-frame point flown to once navigation starts.
	Hover        frame.Vec3
	HoverHeading float64
}

// DefaultConfig mirrors the field-tested launch sequence.
func DefaultConfig() Config {
	return Config{
		GuidedMode:      vehicle.ModeGuided,
		TakeoffAltitude: 3,
		Settle:          10 * time.Second,
		RetryBase:       100 * time.Millisecond,
		RetryMax:        100 * time.Millisecond,
		LinkLossAfter:   2 * time.Second,
		Hover:           frame.Vec3{Z: 3},
	}
}

// Event is something worth recording about the sequence.
type Event struct {
	At     time.Time `json:"at"`
	Kind   string    `json:"kind"` // transition, command, link
	State  State     `json:"state"`
	Detail string    `json:"detail"`
}

// Sequencer is the launch state machine. Step must be called from a single
// goroutine; the accessors are safe from any goroutine.
type Sequencer struct {
	logger  *slog.Logger
	cfg     Config
	client  vehicle.Client
	aligner *frame.Aligner
	target  *setpoint.Target
	pacer   *pacer
	now     func() time.Time

	mu          sync.RWMutex
	state       State
	enteredAt   time.Time
	takeoffAck  time.Time
	linkLost    bool
	attempts    int
	lastSkipLog time.Time
	alignWarned bool
	onEvent     func(Event)
}

// New creates a sequencer in AwaitingConnection.
func New(cfg Config, client vehicle.Client, aligner *frame.Aligner, target *setpoint.Target) *Sequencer {
	if cfg.GuidedMode == "" {
		cfg.GuidedMode = vehicle.ModeGuided
	}
	if cfg.RetryBase <= 0 {
		cfg.RetryBase = 100 * time.Millisecond
	}
	return &Sequencer{
		cfg:     cfg,
		client:  client,
		aligner: aligner,
		target:  target,
		pacer:   newPacer(cfg.RetryBase, cfg.RetryMax),
		now:     time.Now,
		logger:  slog.With("component", "sequencer"),
	}
}

// OnEvent registers a callback for transitions, command outcomes and link changes.
func (s *Sequencer) OnEvent(fn func(Event)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onEvent = fn
}

// State returns the current stage.
func (s *Sequencer) State() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// LinkLost reports whether navigation is holding because the link is down or stale.
func (s *Sequencer) LinkLost() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.linkLost
}

// CheckLink evaluates tel against the link-loss rules and reports whether the
// hold is active. Before Navigating the link is never considered lost.
func (s *Sequencer) CheckLink(tel vehicle.Telemetry) bool {
	if s.State() != Navigating {
		return false
	}
	s.watchLink(tel, s.now())
	return s.LinkLost()
}

// Step evaluates the current stage against tel and advances at most one stage.
func (s *Sequencer) Step(ctx context.Context, tel vehicle.Telemetry) (State, error) {
	now := s.now()

	s.mu.RLock()
	state, entered := s.state, s.enteredAt
	s.mu.RUnlock()

	if entered.IsZero() {
		s.mu.Lock()
		s.enteredAt = now
		s.mu.Unlock()
		entered = now
	}

	if state == Navigating {
		s.watchLink(tel, now)
		return state, nil
	}

	if limit := s.cfg.Patience[state]; limit > 0 && now.Sub(entered) > limit {
		return state, fmt.Errorf("%w: %s for %v", ErrPatienceExceeded, state, now.Sub(entered).Round(time.Millisecond))
	}

	switch state {
	case AwaitingConnection:
		if tel.Connected {
			s.logger.Info("Connected to flight controller")
			s.advance(AwaitingGuidedMode, now, "link up")
		}

	case AwaitingGuidedMode:
		if tel.FlightMode == s.cfg.GuidedMode {
			s.logger.Info("Vehicle in guided mode", "mode", tel.FlightMode)
			s.advance(Arming, now, "mode "+tel.FlightMode)
		}

	case Arming:
		s.stepArming(ctx, tel, now)

	case TakingOff:
		s.stepTakingOff(ctx, tel, now)
	}

	return s.State(), nil
}

func (s *Sequencer) stepArming(ctx context.Context, tel vehicle.Telemetry, now time.Time) {
	if tel.Armed {
		s.logger.Info("Vehicle armed", "attempts", s.attempts)
		s.advance(TakingOff, now, fmt.Sprintf("armed after %d attempts", s.attempts))
		return
	}
	if !s.pacer.ready(now) {
		return
	}

	s.attempts++
	ack, err := s.client.Arm(ctx)
	switch {
	case err != nil:
		s.logger.Warn("Arm request failed", "attempt", s.attempts, "error", err)
		s.emit(now, "command", fmt.Sprintf("arm #%d: %v", s.attempts, err))
		s.pacer.record(now, false)
	case ack.Success:
		s.logger.Info("Arm accepted, waiting for armed telemetry", "attempt", s.attempts)
		s.emit(now, "command", commandDetail("arm", s.attempts, ack))
		s.pacer.record(now, true)
	default:
		s.logger.Debug("Arm rejected", "attempt", s.attempts, "result", ack.Result, "cmd_id", ack.ID)
		s.emit(now, "command", commandDetail("arm", s.attempts, ack))
		s.pacer.record(now, false)
	}
}

func (s *Sequencer) stepTakingOff(ctx context.Context, tel vehicle.Telemetry, now time.Time) {
	s.mu.RLock()
	ackAt := s.takeoffAck
	s.mu.RUnlock()

	if !ackAt.IsZero() {
		if now.Sub(ackAt) < s.cfg.Settle {
			return
		}
		offset, ok := s.aligner.Offset()
		if !ok {
			if !s.alignWarned {
				s.alignWarned = true
				s.logger.Warn("Takeoff settled but arena frame not aligned yet, holding")
			}
			return
		}
		s.enterNavigating(offset, now)
		return
	}

	if !tel.Armed {
		if now.Sub(s.lastSkipLog) >= time.Second {
			s.lastSkipLog = now
			s.logger.Warn("Takeoff skipped, vehicle reports disarmed")
		}
		return
	}
	if !s.pacer.ready(now) {
		return
	}

	s.attempts++
	ack, err := s.client.Takeoff(ctx, s.cfg.TakeoffAltitude)
	switch {
	case err != nil:
		s.logger.Warn("Takeoff request failed", "attempt", s.attempts, "error", err)
		s.emit(now, "command", fmt.Sprintf("takeoff #%d: %v", s.attempts, err))
		s.pacer.record(now, false)
	case ack.Success:
		s.logger.Info("Takeoff accepted", "altitude", s.cfg.TakeoffAltitude, "attempt", s.attempts, "settle", s.cfg.Settle)
		s.emit(now, "command", commandDetail("takeoff", s.attempts, ack))
		s.pacer.record(now, true)
		s.mu.Lock()
		s.takeoffAck = now
		s.mu.Unlock()
	default:
		s.logger.Debug("Takeoff rejected", "attempt", s.attempts, "result", ack.Result, "cmd_id", ack.ID)
		s.emit(now, "command", commandDetail("takeoff", s.attempts, ack))
		s.pacer.record(now, false)
	}
}

// commandDetail formats a recorder line such as "arm #2: DENIED [id]".
func commandDetail(cmd string, attempt int, ack vehicle.Ack) string {
	d := fmt.Sprintf("%s #%d: %s", cmd, attempt, ack.Result)
	if ack.ID != "" {
		d += " [" + ack.ID + "]"
	}
	return d
}

// enterNavigating writes the hover point straight into the target. It is
// the only writer that skips the envelope check.
func (s *Sequencer) enterNavigating(offset frame.Offset, now time.Time) {
	h := s.cfg.Hover
	pose := frame.Pose{
		Position:    frame.ToWorldPosition(offset, h.X, h.Y, h.Z),
		Orientation: frame.ToWorldOrientation(offset, s.cfg.HoverHeading),
	}
	s.target.Set(pose)
	s.logger.Info("Navigation started", "hover_x", pose.Position.X, "hover_y", pose.Position.Y, "hover_z", pose.Position.Z)
	s.advance(Navigating, now, "initial hover set")
}

func (s *Sequencer) watchLink(tel vehicle.Telemetry, now time.Time) {
	lost := !tel.Connected || (s.cfg.LinkLossAfter > 0 && tel.Age(now) > s.cfg.LinkLossAfter)

	s.mu.Lock()
	changed := lost != s.linkLost
	s.linkLost = lost
	s.mu.Unlock()
	if !changed {
		return
	}

	if lost {
		s.logger.Warn("Vehicle link lost, holding last target", "connected", tel.Connected, "age", tel.Age(now))
		s.emit(now, "link", "lost")
	} else {
		s.logger.Info("Vehicle link recovered")
		s.emit(now, "link", "recovered")
	}
}

func (s *Sequencer) advance(to State, now time.Time, detail string) {
	s.mu.Lock()
	from := s.state
	s.state = to
	s.enteredAt = now
	s.mu.Unlock()

	s.attempts = 0
	s.pacer.reset()
	s.logger.Info("Sequencer transition", "from", from, "to", to)
	s.emit(now, "transition", fmt.Sprintf("%s -> %s: %s", from, to, detail))
}

func (s *Sequencer) emit(now time.Time, kind, detail string) {
	s.mu.RLock()
	fn, state := s.onEvent, s.state
	s.mu.RUnlock()
	if fn != nil {
		fn(Event{At: now, Kind: kind, State: state, Detail: detail})
	}
}
