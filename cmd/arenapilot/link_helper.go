package main

import (
	"fmt"
	"log/slog"
	"time"

	"arenapilot/pkg/config"
	"arenapilot/pkg/frame"
	"arenapilot/pkg/sequencer"
	"arenapilot/pkg/vehicle"
	"arenapilot/pkg/vehicle/mavlink"
	"arenapilot/pkg/vehicle/mockvehicle"
	"arenapilot/pkg/waypoint"
)

func initializeVehicleClient(cfg *config.Config) (vehicle.Client, error) {
	link := cfg.Link

	if link.Provider == vehicle.ProviderMock {
		slog.Info("Vehicle Source: Mock", "start_heading", link.Mock.StartHeading)
		m := link.Mock
		return mockvehicle.NewClient(mockvehicle.Config{
			ConnectDelay:      m.ConnectDelay.Std(),
			ModeDelay:         m.ModeDelay.Std(),
			ArmRejections:     m.ArmRejections,
			TakeoffRejections: m.TakeoffRejections,
			StartHeading:      m.StartHeading,
			MaxSpeed:          m.MaxSpeed,
			ClimbRate:         m.ClimbRate,
			YawRate:           m.YawRate,
			FailsafeAfter:     m.FailsafeAfter.Std(),
		}), nil
	}

	slog.Info("Vehicle Source: MAVLink", "endpoint", link.Endpoint, "address", link.Address)
	c, err := mavlink.NewClient(mavlink.Config{
		Endpoint:         link.Endpoint,
		Address:          link.Address,
		Baud:             link.Baud,
		SystemID:         byte(link.SystemID),
		HeartbeatTimeout: link.HeartbeatTimeout.Std(),
		CommandTimeout:   link.CommandTimeout.Std(),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open MAVLink link: %w", err)
	}
	return c, nil
}

func sequencerConfig(cfg *config.Config) sequencer.Config {
	s := cfg.Sequencer
	return sequencer.Config{
		GuidedMode:      s.GuidedMode,
		TakeoffAltitude: s.TakeoffAltitude.Meters(),
		Settle:          s.Settle.Std(),
		RetryBase:       s.Retry.BaseDelay.Std(),
		RetryMax:        s.Retry.MaxDelay.Std(),
		LinkLossAfter:   s.LinkLossAfter.Std(),
		Patience: map[sequencer.State]time.Duration{
			sequencer.AwaitingConnection: s.Patience.Connection.Std(),
			sequencer.AwaitingGuidedMode: s.Patience.GuidedMode.Std(),
			sequencer.Arming:             s.Patience.Arming.Std(),
			sequencer.TakingOff:          s.Patience.TakingOff.Std(),
		},
		Hover: frame.Vec3{
			X: s.Hover.X.Meters(),
			Y: s.Hover.Y.Meters(),
			Z: s.Hover.Z.Meters(),
		},
		HoverHeading: s.Hover.Heading,
	}
}

func arenaEnvelope(cfg *config.Config) waypoint.Envelope {
	a := cfg.Arena
	return waypoint.NewEnvelope(a.MinX.Meters(), a.MaxX.Meters(), a.MinY.Meters(), a.MaxY.Meters(), a.Ceiling.Meters())
}
