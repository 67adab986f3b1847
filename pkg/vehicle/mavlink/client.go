// Package mavlink talks to an ArduPilot flight controller over MAVLink using gomavlib.
package mavlink

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/bluenviron/gomavlib/v3"
	"github.com/bluenviron/gomavlib/v3/pkg/dialects/common"
	"github.com/bluenviron/gomavlib/v3/pkg/dialects/minimal"
	"github.com/bluenviron/gomavlib/v3/pkg/message"
	"github.com/google/uuid"

	"arenapilot/pkg/frame"
	"arenapilot/pkg/vehicle"
)

// Endpoint kinds.
const (
	EndpointUDPServer = "udp-server"
	EndpointUDPClient = "udp-client"
	EndpointTCPClient = "tcp-client"
	EndpointTCPServer = "tcp-server"
	EndpointSerial    = "serial"
)

// Config holds link configuration.
type Config struct {
	Endpoint         string
	Address          string // host:port, or device path for serial
	Baud             int
	SystemID         byte
	HeartbeatTimeout time.Duration
	CommandTimeout   time.Duration
}

type writer interface {
	WriteMessageAll(m message.Message) error
}

// Client implements vehicle.Client on top of a gomavlib node.
type Client struct {
	cfg    Config
	node   *gomavlib.Node
	out    writer
	start  time.Time
	logger *slog.Logger

	mu            sync.RWMutex
	tel           vehicle.Telemetry
	lastHeartbeat time.Time
	targetSystem  byte
	targetComp    byte

	cmdMu   sync.Mutex // one outstanding command at a time
	ackMu   sync.Mutex
	waiting *pendingCommand

	wg sync.WaitGroup
}

type pendingCommand struct {
	id  string
	cmd common.MAV_CMD
	ch  chan *common.MessageCommandAck
}

// NewClient opens the endpoint and starts reading frames.
func NewClient(cfg Config) (*Client, error) {
	ep, err := endpointConf(cfg)
	if err != nil {
		return nil, err
	}
	if cfg.SystemID == 0 {
		cfg.SystemID = 255
	}

	node, err := gomavlib.NewNode(gomavlib.NodeConf{
		Endpoints:           []gomavlib.EndpointConf{ep},
		Dialect:             common.Dialect,
		OutVersion:          gomavlib.V2,
		OutSystemID:         cfg.SystemID,
		StreamRequestEnable: true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open %s endpoint %s: %w", cfg.Endpoint, cfg.Address, err)
	}

	c := newClient(cfg, node)
	c.node = node

	c.wg.Add(1)
	go c.readLoop()

	c.logger.Info("MAVLink endpoint open", "endpoint", cfg.Endpoint, "address", cfg.Address)
	return c, nil
}

func newClient(cfg Config, out writer) *Client {
	if cfg.HeartbeatTimeout <= 0 {
		cfg.HeartbeatTimeout = 3 * time.Second
	}
	if cfg.CommandTimeout <= 0 {
		cfg.CommandTimeout = time.Second
	}
	return &Client{
		cfg:    cfg,
		out:    out,
		start:  time.Now(),
		tel:    vehicle.Telemetry{FlightMode: vehicle.ModeUnknown},
		logger: slog.With("component", "mavlink"),
	}
}

func endpointConf(cfg Config) (gomavlib.EndpointConf, error) {
	switch cfg.Endpoint {
	case EndpointUDPServer, "":
		return gomavlib.EndpointUDPServer{Address: cfg.Address}, nil
	case EndpointUDPClient:
		return gomavlib.EndpointUDPClient{Address: cfg.Address}, nil
	case EndpointTCPClient:
		return gomavlib.EndpointTCPClient{Address: cfg.Address}, nil
	case EndpointTCPServer:
		return gomavlib.EndpointTCPServer{Address: cfg.Address}, nil
	case EndpointSerial:
		baud := cfg.Baud
		if baud == 0 {
			baud = 57600
		}
		return gomavlib.EndpointSerial{Device: cfg.Address, Baud: baud}, nil
	}
	return nil, fmt.Errorf("unknown MAVLink endpoint %q", cfg.Endpoint)
}

func (c *Client) readLoop() {
	defer c.wg.Done()
	for evt := range c.node.Events() {
		switch e := evt.(type) {
		case *gomavlib.EventFrame:
			c.handle(e.SystemID(), e.ComponentID(), e.Message(), time.Now())
		case *gomavlib.EventChannelOpen:
			c.logger.Debug("MAVLink channel open", "channel", e.Channel)
		case *gomavlib.EventChannelClose:
			c.logger.Debug("MAVLink channel closed", "channel", e.Channel)
		}
	}
}

// handle folds one incoming message into the telemetry snapshot.
func (c *Client) handle(sys, comp byte, msg message.Message, now time.Time) {
	switch m := msg.(type) {
	case *minimal.MessageHeartbeat:
		if m.Autopilot == minimal.MAV_AUTOPILOT_INVALID {
			return // another ground station
		}
		c.mu.Lock()
		if c.lastHeartbeat.IsZero() {
			c.logger.Info("Flight controller heartbeat", "system", sys, "component", comp)
		}
		c.lastHeartbeat = now
		c.targetSystem, c.targetComp = sys, comp
		c.tel.Armed = m.BaseMode&minimal.MAV_MODE_FLAG_SAFETY_ARMED != 0
		c.tel.FlightMode = flightMode(m.CustomMode)
		c.tel.UpdatedAt = now
		c.mu.Unlock()

	case *common.MessageGlobalPositionInt:
		if h, ok := headingFromHdg(m.Hdg); ok {
			c.setHeading(h, now)
		}

	case *common.MessageAttitude:
		if h, ok := headingFromAttitude(m.Yaw); ok {
			c.setHeading(h, now)
		}

	case *common.MessageLocalPositionNed:
		pos := nedToENU(m.X, m.Y, m.Z)
		c.mu.Lock()
		c.tel.Position = pos
		c.tel.UpdatedAt = now
		c.mu.Unlock()
		c.logger.Debug("Vehicle position", "x", pos.X, "y", pos.Y, "z", pos.Z)

	case *common.MessageCommandAck:
		c.ackMu.Lock()
		p := c.waiting
		c.ackMu.Unlock()
		if p != nil && p.cmd == m.Command {
			select {
			case p.ch <- m:
			default:
			}
		}
	}
}

func (c *Client) setHeading(h float64, now time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.tel.HeadingDeg = h
	c.tel.HeadingValid = true
	c.tel.UpdatedAt = now
}

// GetTelemetry returns the latest snapshot. Connected reflects heartbeat freshness.
func (c *Client) GetTelemetry(ctx context.Context) (vehicle.Telemetry, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	tel := c.tel
	tel.Connected = c.connectedLocked(time.Now())
	return tel, nil
}

func (c *Client) connectedLocked(now time.Time) bool {
	return !c.lastHeartbeat.IsZero() && now.Sub(c.lastHeartbeat) < c.cfg.HeartbeatTimeout
}

// Arm sends MAV_CMD_COMPONENT_ARM_DISARM with param1 = 1.
func (c *Client) Arm(ctx context.Context) (vehicle.Ack, error) {
	return c.command(ctx, common.MAV_CMD_COMPONENT_ARM_DISARM, [7]float32{1})
}

// Takeoff sends MAV_CMD_NAV_TAKEOFF with param7 = altitude.
func (c *Client) Takeoff(ctx context.Context, altitude float64) (vehicle.Ack, error) {
	return c.command(ctx, common.MAV_CMD_NAV_TAKEOFF, [7]float32{6: float32(altitude)})
}

func (c *Client) command(ctx context.Context, cmd common.MAV_CMD, params [7]float32) (vehicle.Ack, error) {
	c.cmdMu.Lock()
	defer c.cmdMu.Unlock()

	c.mu.RLock()
	connected := c.connectedLocked(time.Now())
	sys, comp := c.targetSystem, c.targetComp
	c.mu.RUnlock()
	if !connected {
		return vehicle.Ack{}, vehicle.ErrNotConnected
	}

	p := &pendingCommand{id: uuid.NewString(), cmd: cmd, ch: make(chan *common.MessageCommandAck, 1)}
	c.ackMu.Lock()
	c.waiting = p
	c.ackMu.Unlock()
	defer func() {
		c.ackMu.Lock()
		c.waiting = nil
		c.ackMu.Unlock()
	}()

	err := c.out.WriteMessageAll(&common.MessageCommandLong{
		TargetSystem:    sys,
		TargetComponent: comp,
		Command:         cmd,
		Param1:          params[0],
		Param2:          params[1],
		Param3:          params[2],
		Param4:          params[3],
		Param5:          params[4],
		Param6:          params[5],
		Param7:          params[6],
	})
	if err != nil {
		return vehicle.Ack{}, fmt.Errorf("failed to send command %d: %w", cmd, err)
	}
	c.logger.Debug("Command sent", "cmd_id", p.id, "command", cmd)

	timer := time.NewTimer(c.cfg.CommandTimeout)
	defer timer.Stop()

	select {
	case ack := <-p.ch:
		return vehicle.Ack{ID: p.id, Success: ack.Result == common.MAV_RESULT_ACCEPTED, Result: resultName(ack.Result)}, nil
	case <-timer.C:
		return vehicle.Ack{}, vehicle.ErrCommandTimeout
	case <-ctx.Done():
		return vehicle.Ack{}, ctx.Err()
	}
}

func resultName(r common.MAV_RESULT) string {
	switch r {
	case common.MAV_RESULT_ACCEPTED:
		return vehicle.ResultAccepted
	case common.MAV_RESULT_TEMPORARILY_REJECTED:
		return vehicle.ResultTemporarilyRejected
	case common.MAV_RESULT_DENIED:
		return vehicle.ResultDenied
	case common.MAV_RESULT_UNSUPPORTED:
		return vehicle.ResultUnsupported
	case common.MAV_RESULT_IN_PROGRESS:
		return vehicle.ResultInProgress
	}
	return vehicle.ResultFailed
}

const positionOnlyMask = common.POSITION_TARGET_TYPEMASK_VX_IGNORE |
	common.POSITION_TARGET_TYPEMASK_VY_IGNORE |
	common.POSITION_TARGET_TYPEMASK_VZ_IGNORE |
	common.POSITION_TARGET_TYPEMASK_AX_IGNORE |
	common.POSITION_TARGET_TYPEMASK_AY_IGNORE |
	common.POSITION_TARGET_TYPEMASK_AZ_IGNORE |
	common.POSITION_TARGET_TYPEMASK_YAW_RATE_IGNORE

// PublishSetpoint sends SET_POSITION_TARGET_LOCAL_NED for the pose.
func (c *Client) PublishSetpoint(ctx context.Context, p frame.Pose) error {
	c.mu.RLock()
	connected := c.connectedLocked(time.Now())
	sys, comp := c.targetSystem, c.targetComp
	c.mu.RUnlock()
	if !connected {
		return vehicle.ErrNotConnected
	}

	x, y, z := enuToNED(p.Position)
	return c.out.WriteMessageAll(&common.MessageSetPositionTargetLocalNed{
		TimeBootMs:      uint32(time.Since(c.start).Milliseconds()),
		TargetSystem:    sys,
		TargetComponent: comp,
		CoordinateFrame: common.MAV_FRAME_LOCAL_NED,
		TypeMask:        positionOnlyMask,
		X:               x,
		Y:               y,
		Z:               z,
		Yaw:             yawENUToNED(p.Orientation.Yaw()),
	})
}

// Close shuts the node down and waits for the reader.
func (c *Client) Close() error {
	if c.node != nil {
		c.node.Close()
	}
	c.wg.Wait()
	return nil
}
