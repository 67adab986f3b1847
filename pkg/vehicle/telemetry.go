// Package vehicle provides the flight controller client interface and types.
package vehicle

import (
	"time"

	"arenapilot/pkg/frame"
)

// Flight modes reported by the autopilot (ArduCopter names).
const (
	ModeStabilize = "STABILIZE"
	ModeGuided    = "GUIDED"
	ModeLoiter    = "LOITER"
	ModeRTL       = "RTL"
	ModeLand      = "LAND"
	ModeUnknown   = "UNKNOWN"
)

// Telemetry is a snapshot of the vehicle state. Last value wins.
type Telemetry struct {
	Connected    bool       `json:"connected"`
	FlightMode   string     `json:"flight_mode"`
	Armed        bool       `json:"armed"`
	Position     frame.Vec3 `json:"position"`    // world frame (ENU), metres
	HeadingDeg   float64    `json:"heading_deg"` // compass, degrees
	HeadingValid bool       `json:"heading_valid"`
	UpdatedAt    time.Time  `json:"updated_at"`
}

// Age returns how long ago the snapshot was refreshed.
// A snapshot that was never refreshed is infinitely old.
func (t *Telemetry) Age(now time.Time) time.Duration {
	if t.UpdatedAt.IsZero() {
		return time.Duration(1<<63 - 1)
	}
	return now.Sub(t.UpdatedAt)
}
