package main

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"arenapilot/pkg/config"
	"arenapilot/pkg/sequencer"
	"arenapilot/pkg/vehicle/mockvehicle"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	dir := t.TempDir()
	body = `
server:
    address: localhost:0
log:
    server:
        path: "` + filepath.ToSlash(filepath.Join(dir, "test.log")) + `"
        level: "debug"
recorder:
    path: "` + filepath.ToSlash(filepath.Join(dir, "flights.db")) + `"
` + body
	path := filepath.Join(dir, "arenapilot.yaml")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("Failed to write temp config: %v", err)
	}
	return path
}

func TestRun(t *testing.T) {
	path := writeConfig(t, `
link:
    provider: mock
    heartbeat_timeout: 200ms
    mock:
        connect_delay: 0s
        mode_delay: 50ms
`)

	ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
	defer cancel()

	if err := run(ctx, path); err != nil {
		t.Fatalf("run() failed: %v", err)
	}
}

func TestRun_PatienceExceeded(t *testing.T) {
	path := writeConfig(t, `
link:
    provider: mock
    heartbeat_timeout: 50ms
    mock:
        connect_delay: 1h
sequencer:
    patience:
        connection: 100ms
`)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	err := run(ctx, path)
	if !errors.Is(err, sequencer.ErrPatienceExceeded) {
		t.Fatalf("run() = %v, want ErrPatienceExceeded", err)
	}
}

func TestRun_InvalidConfig(t *testing.T) {
	path := writeConfig(t, `
stream:
    rate_hz: 1
`)
	if err := run(context.Background(), path); err == nil {
		t.Fatal("run() should refuse a stream rate below the failsafe floor")
	}
}

func TestInitializeVehicleClient_Mock(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Link.Mock.StartHeading = 45

	c, err := initializeVehicleClient(cfg)
	if err != nil {
		t.Fatalf("initializeVehicleClient() error = %v", err)
	}
	defer c.Close()
	if _, ok := c.(*mockvehicle.MockClient); !ok {
		t.Errorf("got %T, want *mockvehicle.MockClient", c)
	}
}

func TestInitializeVehicleClient_BadEndpoint(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Link.Provider = "mavlink"
	cfg.Link.Endpoint = "carrier-pigeon"

	if _, err := initializeVehicleClient(cfg); err == nil {
		t.Fatal("expected an error for an unknown endpoint kind")
	}
}

func TestSequencerConfig(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Sequencer.Patience.Arming = config.Duration(30 * time.Second)
	cfg.Sequencer.Hover.Z = 2.5
	cfg.Sequencer.Hover.Heading = 90

	got := sequencerConfig(cfg)
	if got.TakeoffAltitude != 3 || got.Settle != 10*time.Second {
		t.Errorf("takeoff %v settle %v", got.TakeoffAltitude, got.Settle)
	}
	if got.Patience[sequencer.Arming] != 30*time.Second {
		t.Errorf("arming patience = %v", got.Patience[sequencer.Arming])
	}
	if got.Patience[sequencer.AwaitingConnection] != 0 {
		t.Errorf("connection patience should default to forever, got %v", got.Patience[sequencer.AwaitingConnection])
	}
	if got.Hover.Z != 2.5 || got.HoverHeading != 90 {
		t.Errorf("hover = %+v heading %v", got.Hover, got.HoverHeading)
	}

	env := arenaEnvelope(cfg)
	if env.Ceiling != 3 || env.Bound.Min.X() != -0.6 {
		t.Errorf("envelope = %+v", env)
	}
}
