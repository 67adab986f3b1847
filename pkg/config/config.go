package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"time"

	"gopkg.in/yaml.v3"

	"arenapilot/pkg/setpoint"
)

// Environment variables that override the file.
const (
	EnvLinkProvider  = "ARENAPILOT_LINK_PROVIDER"
	EnvLinkAddress   = "ARENAPILOT_LINK_ADDRESS"
	EnvServerAddress = "ARENAPILOT_SERVER_ADDRESS"
)

// Config holds the application configuration.
type Config struct {
	Log       LogConfig       `yaml:"log"`
	Server    ServerConfig    `yaml:"server"`
	Link      LinkConfig      `yaml:"link"`
	Frame     FrameConfig     `yaml:"frame"`
	Arena     ArenaConfig     `yaml:"arena"`
	Sequencer SequencerConfig `yaml:"sequencer"`
	Stream    StreamConfig    `yaml:"stream"`
	Waypoint  WaypointConfig  `yaml:"waypoint"`
	Recorder  RecorderConfig  `yaml:"recorder"`
}

// LogConfig holds logging settings.
type LogConfig struct {
	Server    LogSettings `yaml:"server"`
	Trace     bool        `yaml:"trace"`      // per-tick debug lines
	PoseEvery Distance    `yaml:"pose_every"` // position log spacing, 0 disables
}

// LogSettings holds settings for a specific logger.
type LogSettings struct {
	Path  string `yaml:"path"`
	Level string `yaml:"level"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Address string `yaml:"address"`
}

// LinkConfig holds settings for the flight controller connection.
type LinkConfig struct {
	Provider         string            `yaml:"provider"` // "mavlink", "mock"
	Endpoint         string            `yaml:"endpoint"`
	Address          string            `yaml:"address"`
	Baud             int               `yaml:"baud"`
	SystemID         int               `yaml:"system_id"`
	HeartbeatTimeout Duration          `yaml:"heartbeat_timeout"`
	CommandTimeout   Duration          `yaml:"command_timeout"`
	Mock             MockVehicleConfig `yaml:"mock"`
}

// MockVehicleConfig holds settings for the simulated vehicle.
type MockVehicleConfig struct {
	ConnectDelay      Duration `yaml:"connect_delay"`
	ModeDelay         Duration `yaml:"mode_delay"`
	ArmRejections     int      `yaml:"arm_rejections"`
	TakeoffRejections int      `yaml:"takeoff_rejections"`
	StartHeading      float64  `yaml:"start_heading"`
	MaxSpeed          float64  `yaml:"max_speed"`  // m/s
	ClimbRate         float64  `yaml:"climb_rate"` // m/s
	YawRate           float64  `yaml:"yaw_rate"`   // deg/s
	FailsafeAfter     Duration `yaml:"failsafe_after"`
}

// FrameConfig holds arena alignment settings.
type FrameConfig struct {
	// OffsetDeg pins the arena rotation instead of measuring it from the first heading.
	OffsetDeg *float64 `yaml:"offset_deg,omitempty"`
}

// ArenaConfig holds the admissible waypoint volume, arena frame.
type ArenaConfig struct {
	MinX    Distance `yaml:"min_x"`
	MaxX    Distance `yaml:"max_x"`
	MinY    Distance `yaml:"min_y"`
	MaxY    Distance `yaml:"max_y"`
	Ceiling Distance `yaml:"ceiling"`
}

// SequencerConfig holds launch sequence settings.
type SequencerConfig struct {
	GuidedMode      string         `yaml:"guided_mode"`
	TakeoffAltitude Distance       `yaml:"takeoff_altitude"`
	Settle          Duration       `yaml:"settle"`
	Retry           BackoffConfig  `yaml:"retry"`
	LinkLossAfter   Duration       `yaml:"link_loss_after"`
	Patience        PatienceConfig `yaml:"patience"`
	Hover           HoverConfig    `yaml:"hover"`
}

// BackoffConfig holds retry pacing. Equal values give a fixed cadence.
type BackoffConfig struct {
	BaseDelay Duration `yaml:"base_delay"`
	MaxDelay  Duration `yaml:"max_delay"`
}

// PatienceConfig bounds how long each stage may wait. Zero waits forever.
type PatienceConfig struct {
	Connection Duration `yaml:"connection"`
	GuidedMode Duration `yaml:"guided_mode"`
	Arming     Duration `yaml:"arming"`
	TakingOff  Duration `yaml:"taking_off"`
}

// HoverConfig is the first target once navigation starts, arena frame.
type HoverConfig struct {
	X       Distance `yaml:"x"`
	Y       Distance `yaml:"y"`
	Z       Distance `yaml:"z"`
	Heading float64  `yaml:"heading"`
}

// StreamConfig holds setpoint streaming settings.
type StreamConfig struct {
	RateHz          float64  `yaml:"rate_hz"`
	FailsafeFloorHz float64  `yaml:"failsafe_floor_hz"`
	Headroom        float64  `yaml:"headroom"`
	ReportEvery     Duration `yaml:"report_every"`
}

// WaypointConfig holds waypoint intake settings.
type WaypointConfig struct {
	InboxSize int `yaml:"inbox_size"`
}

// RecorderConfig holds flight recorder settings. An empty path disables it.
type RecorderConfig struct {
	Path   string   `yaml:"path"`
	Buffer int      `yaml:"buffer"`
	Retain Duration `yaml:"retain"` // flights older than this are pruned at startup
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		Log: LogConfig{
			Server: LogSettings{
				Path:  "./logs/arenapilot.log",
				Level: "INFO",
			},
			PoseEvery: 0.5,
		},
		Server: ServerConfig{
			Address: "localhost:8420",
		},
		Link: LinkConfig{
			Provider:         "mock",
			Endpoint:         "udp-server",
			Address:          "0.0.0.0:14550",
			Baud:             57600,
			SystemID:         255,
			HeartbeatTimeout: Duration(3 * time.Second),
			CommandTimeout:   Duration(time.Second),
			Mock: MockVehicleConfig{
				ConnectDelay:      Duration(2 * time.Second),
				ModeDelay:         Duration(3 * time.Second),
				ArmRejections:     3,
				TakeoffRejections: 1,
				StartHeading:      30,
				MaxSpeed:          1.5,
				ClimbRate:         1.0,
				YawRate:           90,
				FailsafeAfter:     Duration(500 * time.Millisecond),
			},
		},
		Arena: ArenaConfig{
			MinX:    -0.6,
			MaxX:    3.6,
			MinY:    -0.6,
			MaxY:    3.6,
			Ceiling: 3,
		},
		Sequencer: SequencerConfig{
			GuidedMode:      "GUIDED",
			TakeoffAltitude: 3,
			Settle:          Duration(10 * time.Second),
			Retry: BackoffConfig{
				BaseDelay: Duration(100 * time.Millisecond),
				MaxDelay:  Duration(100 * time.Millisecond),
			},
			LinkLossAfter: Duration(2 * time.Second),
			Hover:         HoverConfig{Z: 3},
		},
		Stream: StreamConfig{
			RateHz:          100,
			FailsafeFloorHz: 2,
			Headroom:        5,
			ReportEvery:     Duration(10 * time.Second),
		},
		Waypoint: WaypointConfig{
			InboxSize: 64,
		},
		Recorder: RecorderConfig{
			Path:   "./data/flights.db",
			Buffer: 256,
			Retain: Duration(30 * Day),
		},
	}
}

// Load loads the configuration from the given path.
// If the file does not exist, it creates it with default values.
// If the file exists, it merges defaults with existing values but does NOT save back to disk.
// Environment overrides are applied last and never written to disk.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	if _, err := os.Stat(path); err == nil {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	} else {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("failed to create config directory: %w", err)
		}
		if err := Save(path, cfg); err != nil {
			return nil, fmt.Errorf("failed to save config file: %w", err)
		}
	}

	applyEnv(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func applyEnv(cfg *Config) {
	if v := os.Getenv(EnvLinkProvider); v != "" {
		cfg.Link.Provider = v
	}
	if v := os.Getenv(EnvLinkAddress); v != "" {
		cfg.Link.Address = v
	}
	if v := os.Getenv(EnvServerAddress); v != "" {
		cfg.Server.Address = v
	}
}

// Validate checks values that would make the vehicle unsafe to fly.
func (c *Config) Validate() error {
	var errs []error

	if err := setpoint.CheckRate(c.Stream.RateHz, c.Stream.FailsafeFloorHz, c.Stream.Headroom); err != nil {
		errs = append(errs, err)
	}
	if c.Arena.MinX >= c.Arena.MaxX || c.Arena.MinY >= c.Arena.MaxY {
		errs = append(errs, fmt.Errorf("arena bounds are empty: x [%v, %v] y [%v, %v]",
			c.Arena.MinX, c.Arena.MaxX, c.Arena.MinY, c.Arena.MaxY))
	}
	if c.Arena.Ceiling <= 0 {
		errs = append(errs, fmt.Errorf("arena ceiling must be positive, got %v", c.Arena.Ceiling))
	}
	if c.Sequencer.Retry.BaseDelay <= 0 {
		errs = append(errs, errors.New("sequencer.retry.base_delay must be positive"))
	}
	if c.Sequencer.Retry.MaxDelay < c.Sequencer.Retry.BaseDelay {
		errs = append(errs, errors.New("sequencer.retry.max_delay must not be below base_delay"))
	}
	if c.Sequencer.TakeoffAltitude <= 0 {
		errs = append(errs, errors.New("sequencer.takeoff_altitude must be positive"))
	}
	switch c.Link.Provider {
	case "mock", "mavlink":
	default:
		errs = append(errs, fmt.Errorf("unknown link provider %q (want mock or mavlink)", c.Link.Provider))
	}
	if c.Link.SystemID < 1 || c.Link.SystemID > 255 {
		errs = append(errs, fmt.Errorf("link.system_id %d out of range 1-255", c.Link.SystemID))
	}

	if len(errs) > 0 {
		return fmt.Errorf("invalid configuration: %w", errors.Join(errs...))
	}
	return nil
}

// Save writes the configuration to the path.
func Save(path string, cfg *Config) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	header := []byte(`# ArenaPilot Configuration
# ------------------------
# Supported Units:
#   Duration: ns, us (or µs), ms, s, m, h, d (day), w (week)
#   Distance: cm, m, km, ft (unitless means meters)

`)
	data = append(header, data...)

	reProvider := regexp.MustCompile(`(?m)^(\s+)provider:`)
	data = reProvider.ReplaceAll(data, []byte("${1}# Options: mavlink, mock\n${1}provider:"))

	reEndpoint := regexp.MustCompile(`(?m)^(\s+)endpoint:`)
	data = reEndpoint.ReplaceAll(data, []byte("${1}# Options: udp-server, udp-client, tcp-client, tcp-server, serial\n${1}endpoint:"))

	reRate := regexp.MustCompile(`(?m)^(\s+)rate_hz:`)
	data = reRate.ReplaceAll(data, []byte("${1}# Must be at least failsafe_floor_hz x headroom\n${1}rate_hz:"))

	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// GenerateDefault creates a default config file at the given path.
// Returns nil if the file already exists.
func GenerateDefault(path string) error {
	if _, err := os.Stat(path); err == nil {
		return nil
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	return Save(path, DefaultConfig())
}
