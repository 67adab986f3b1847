// Package mockvehicle simulates a multicopter autopilot for local runs and tests.
package mockvehicle

import (
	"context"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/google/uuid"

	"arenapilot/pkg/frame"
	"arenapilot/pkg/vehicle"
)

const tickRateMs = 20

// Config holds timing and physics configuration for the simulated vehicle.
type Config struct {
	ConnectDelay      time.Duration
	ModeDelay         time.Duration
	ArmRejections     int
	TakeoffRejections int
	StartHeading      float64 // compass degrees; the arena rotation
	MaxSpeed          float64 // m/s
	ClimbRate         float64 // m/s
	YawRate           float64 // deg/s
	FailsafeAfter     time.Duration
}

// DefaultConfig returns a quick, well-behaved simulated vehicle.
func DefaultConfig() Config {
	return Config{
		ConnectDelay:      500 * time.Millisecond,
		ModeDelay:         time.Second,
		ArmRejections:     2,
		TakeoffRejections: 1,
		MaxSpeed:          1.5,
		ClimbRate:         1.0,
		YawRate:           90,
		FailsafeAfter:     500 * time.Millisecond,
	}
}

// MockClient implements vehicle.Client.
type MockClient struct {
	logger *slog.Logger
	mu     sync.Mutex
	tel    vehicle.Telemetry
	config Config
	stopCh chan struct{}
	wg     sync.WaitGroup
	closed bool

	started     time.Time
	connectedAt time.Time
	linkDown    bool

	yaw               float64 // ENU radians
	takeoffAlt        float64
	climbing          bool
	setpoint          *frame.Pose
	lastSetpoint      time.Time
	published         int
	armRejections     int
	takeoffRejections int
}

// NewClient creates a simulated vehicle and starts its physics loop.
func NewClient(cfg Config) *MockClient {
	m := &MockClient{
		config:            cfg,
		logger:            slog.With("component", "mock_vehicle"),
		stopCh:            make(chan struct{}),
		started:           time.Now(),
		yaw:               yawFromCompass(cfg.StartHeading),
		armRejections:     cfg.ArmRejections,
		takeoffRejections: cfg.TakeoffRejections,
		tel: vehicle.Telemetry{
			FlightMode: vehicle.ModeStabilize,
			HeadingDeg: frame.NormalizeHeading(cfg.StartHeading),
		},
	}

	m.wg.Add(1)
	go m.physicsLoop()
	return m
}

// GetTelemetry returns the current state of the simulated vehicle.
func (m *MockClient) GetTelemetry(ctx context.Context) (vehicle.Telemetry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return vehicle.Telemetry{}, vehicle.ErrClosed
	}
	return m.tel, nil
}

// Arm arms the motors once the vehicle is in guided mode and the
// configured number of rejections has been used up.
func (m *MockClient) Arm(ctx context.Context) (vehicle.Ack, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.tel.Connected {
		return vehicle.Ack{}, vehicle.ErrNotConnected
	}

	id := uuid.NewString()
	switch {
	case m.tel.FlightMode != vehicle.ModeGuided:
		return m.ack(id, "arm", false, vehicle.ResultDenied), nil
	case m.armRejections > 0:
		m.armRejections--
		return m.ack(id, "arm", false, vehicle.ResultTemporarilyRejected), nil
	}
	m.tel.Armed = true
	return m.ack(id, "arm", true, vehicle.ResultAccepted), nil
}

// Takeoff starts a vertical climb to altitude.
func (m *MockClient) Takeoff(ctx context.Context, altitude float64) (vehicle.Ack, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.tel.Connected {
		return vehicle.Ack{}, vehicle.ErrNotConnected
	}

	id := uuid.NewString()
	switch {
	case !m.tel.Armed:
		return m.ack(id, "takeoff", false, vehicle.ResultDenied), nil
	case m.takeoffRejections > 0:
		m.takeoffRejections--
		return m.ack(id, "takeoff", false, vehicle.ResultTemporarilyRejected), nil
	}
	m.takeoffAlt = altitude
	m.climbing = true
	return m.ack(id, "takeoff", true, vehicle.ResultAccepted), nil
}

func (m *MockClient) ack(id, cmd string, ok bool, result string) vehicle.Ack {
	m.logger.Debug("Mock vehicle command", "cmd_id", id, "command", cmd, "result", result)
	return vehicle.Ack{ID: id, Success: ok, Result: result}
}

// PublishSetpoint stores the target the simulated controller flies toward.
func (m *MockClient) PublishSetpoint(ctx context.Context, p frame.Pose) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.tel.Connected {
		return vehicle.ErrNotConnected
	}
	m.setpoint = &p
	m.lastSetpoint = time.Now()
	m.published++
	return nil
}

// SetLinkDown simulates losing (true) or regaining (false) the radio link.
func (m *MockClient) SetLinkDown(down bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.linkDown = down
	if down {
		m.tel.Connected = false
	}
}

// Published returns the number of setpoints received so far.
func (m *MockClient) Published() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.published
}

// LastSetpoint returns the most recent setpoint, if any.
func (m *MockClient) LastSetpoint() (frame.Pose, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.setpoint == nil {
		return frame.Pose{}, false
	}
	return *m.setpoint, true
}

// Close stops the physics loop.
func (m *MockClient) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	m.mu.Unlock()

	close(m.stopCh)
	m.wg.Wait()
	return nil
}

func (m *MockClient) physicsLoop() {
	defer m.wg.Done()
	ticker := time.NewTicker(time.Duration(tickRateMs) * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-m.stopCh:
			return
		case <-ticker.C:
			m.update(time.Now())
		}
	}
}

func (m *MockClient) update(now time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()

	dt := float64(tickRateMs) / 1000.0

	if m.linkDown {
		return
	}
	if !m.tel.Connected {
		if now.Sub(m.started) < m.config.ConnectDelay {
			return
		}
		m.tel.Connected = true
		m.tel.HeadingValid = true
		if m.connectedAt.IsZero() {
			m.connectedAt = now
		}
	}

	if m.tel.FlightMode == vehicle.ModeStabilize && now.Sub(m.connectedAt) >= m.config.ModeDelay {
		m.tel.FlightMode = vehicle.ModeGuided
	}

	m.updateFlight(dt, now)

	m.tel.HeadingDeg = frame.CompassHeading(m.yaw)
	m.tel.UpdatedAt = now
}

func (m *MockClient) updateFlight(dt float64, now time.Time) {
	pos := &m.tel.Position

	if m.tel.FlightMode == vehicle.ModeLand {
		pos.Z = math.Max(0, pos.Z-m.config.ClimbRate*dt)
		if pos.Z == 0 && m.tel.Armed {
			m.tel.Armed = false
			m.logger.Info("Mock vehicle landed and disarmed")
		}
		return
	}

	if !m.tel.Armed {
		return
	}

	if m.setpoint != nil && m.config.FailsafeAfter > 0 && now.Sub(m.lastSetpoint) > m.config.FailsafeAfter {
		m.logger.Warn("Mock vehicle setpoint stream lost, failsafe LAND", "gap", now.Sub(m.lastSetpoint))
		m.tel.FlightMode = vehicle.ModeLand
		m.climbing = false
		return
	}

	if m.setpoint != nil {
		m.flyToward(m.setpoint.Position, dt)
		m.yawToward(m.setpoint.Orientation.Yaw(), dt)
		return
	}

	if m.climbing {
		pos.Z = step(pos.Z, m.takeoffAlt, m.config.ClimbRate*dt)
		if pos.Z == m.takeoffAlt {
			m.climbing = false
		}
	}
}

func (m *MockClient) flyToward(target frame.Vec3, dt float64) {
	pos := &m.tel.Position
	dx, dy, dz := target.X-pos.X, target.Y-pos.Y, target.Z-pos.Z
	dist := math.Sqrt(dx*dx + dy*dy + dz*dz)
	maxStep := m.config.MaxSpeed * dt
	if dist <= maxStep || dist == 0 {
		*pos = target
		return
	}
	k := maxStep / dist
	pos.X += dx * k
	pos.Y += dy * k
	pos.Z += dz * k
}

func (m *MockClient) yawToward(target, dt float64) {
	diff := math.Remainder(target-m.yaw, 2*math.Pi)
	maxStep := m.config.YawRate * math.Pi / 180 * dt
	if math.Abs(diff) <= maxStep {
		m.yaw = target
		return
	}
	m.yaw += math.Copysign(maxStep, diff)
}

func step(cur, target, maxStep float64) float64 {
	if math.Abs(target-cur) <= maxStep {
		return target
	}
	return cur + math.Copysign(maxStep, target-cur)
}

func yawFromCompass(h float64) float64 {
	return (90 - h) * math.Pi / 180
}
