package vehicle

import (
	"context"
	"errors"

	"arenapilot/pkg/frame"
)

var (
	// ErrNotConnected is returned when an action requires a live autopilot link.
	ErrNotConnected = errors.New("autopilot link not connected")
	// ErrCommandTimeout is returned when a command is not acknowledged in time.
	ErrCommandTimeout = errors.New("command acknowledgement timed out")
	// ErrClosed is returned after Close.
	ErrClosed = errors.New("vehicle client closed")
)

// Client defines the interface for talking to the flight controller.
type Client interface {
	// GetTelemetry returns the latest known vehicle state.
	GetTelemetry(ctx context.Context) (Telemetry, error)
	// Arm requests the motors to be armed.
	Arm(ctx context.Context) (Ack, error)
	// Takeoff requests a climb to altitude metres above home.
	Takeoff(ctx context.Context, altitude float64) (Ack, error)
	// PublishSetpoint sends a world-frame position/orientation target.
	PublishSetpoint(ctx context.Context, p frame.Pose) error
	// Close releases the link.
	Close() error
}

// Ack is the autopilot's answer to a command.
// ID identifies the attempt in logs and the flight recorder.
type Ack struct {
	ID      string `json:"id,omitempty"`
	Success bool   `json:"success"`
	Result  string `json:"result"`
}

// Command result names, matching the MAVLink MAV_RESULT vocabulary.
const (
	ResultAccepted            = "ACCEPTED"
	ResultTemporarilyRejected = "TEMPORARILY_REJECTED"
	ResultDenied              = "DENIED"
	ResultUnsupported         = "UNSUPPORTED"
	ResultFailed              = "FAILED"
	ResultInProgress          = "IN_PROGRESS"
)

// Providers selectable in config.
const (
	ProviderMock    = "mock"
	ProviderMAVLink = "mavlink"
)
