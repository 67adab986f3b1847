package probe

import (
	"context"
	"fmt"
	"time"

	"arenapilot/pkg/vehicle"
)

// Validator is anything that can check its own consistency, such as the config.
type Validator interface {
	Validate() error
}

// Pinger is anything with a cheap liveness check, such as the flight recorder.
type Pinger interface {
	Ping(ctx context.Context) error
}

// ConfigProbe fails when the configuration is unsafe to fly with.
func ConfigProbe(v Validator) Probe {
	return Probe{
		Name:     "config",
		Critical: true,
		Check: func(ctx context.Context) error {
			return v.Validate()
		},
	}
}

// RecorderProbe checks that the flight recorder accepts writes.
func RecorderProbe(p Pinger) Probe {
	return Probe{
		Name: "recorder",
		Check: func(ctx context.Context) error {
			return p.Ping(ctx)
		},
	}
}

// LinkProbe waits up to timeout for the vehicle link to report connected.
// It is advisory: the launch sequence waits for the link anyway.
func LinkProbe(client vehicle.Client, timeout time.Duration) Probe {
	return Probe{
		Name:    "vehicle link",
		Timeout: timeout,
		Check: func(ctx context.Context) error {
			ticker := time.NewTicker(50 * time.Millisecond)
			defer ticker.Stop()
			for {
				tel, err := client.GetTelemetry(ctx)
				if err != nil {
					return fmt.Errorf("telemetry: %w", err)
				}
				if tel.Connected {
					return nil
				}
				select {
				case <-ctx.Done():
					return vehicle.ErrNotConnected
				case <-ticker.C:
				}
			}
		},
	}
}
