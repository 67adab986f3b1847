package api

import (
	"net/http"

	"arenapilot/pkg/config"
)

// ConfigHandler serves the effective configuration. It is read-only: changing
// the arena or the link mid-flight is not supported.
type ConfigHandler struct {
	appCfg *config.Config
}

// NewConfigHandler creates a new ConfigHandler.
func NewConfigHandler(cfg *config.Config) *ConfigHandler {
	return &ConfigHandler{appCfg: cfg}
}

// ConfigResponse represents the config API response.
type ConfigResponse struct {
	Provider        string     `json:"provider"`
	Endpoint        string     `json:"endpoint,omitempty"`
	Address         string     `json:"address,omitempty"`
	RateHz          float64    `json:"rate_hz"`
	FailsafeFloorHz float64    `json:"failsafe_floor_hz"`
	TakeoffAltitude float64    `json:"takeoff_altitude"`
	Settle          string     `json:"settle"`
	Arena           [4]float64 `json:"arena"` // min_x, max_x, min_y, max_y
	Ceiling         float64    `json:"ceiling"`
	OffsetDeg       *float64   `json:"offset_deg,omitempty"`
	Recording       bool       `json:"recording"`
}

// HandleConfig handles GET /api/config.
func (h *ConfigHandler) HandleConfig(w http.ResponseWriter, r *http.Request) {
	c := h.appCfg
	resp := ConfigResponse{
		Provider:        c.Link.Provider,
		RateHz:          c.Stream.RateHz,
		FailsafeFloorHz: c.Stream.FailsafeFloorHz,
		TakeoffAltitude: c.Sequencer.TakeoffAltitude.Meters(),
		Settle:          c.Sequencer.Settle.Std().String(),
		Arena:           [4]float64{c.Arena.MinX.Meters(), c.Arena.MaxX.Meters(), c.Arena.MinY.Meters(), c.Arena.MaxY.Meters()},
		Ceiling:         c.Arena.Ceiling.Meters(),
		OffsetDeg:       c.Frame.OffsetDeg,
		Recording:       c.Recorder.Path != "",
	}
	if c.Link.Provider != "mock" {
		resp.Endpoint = c.Link.Endpoint
		resp.Address = c.Link.Address
	}
	writeJSON(w, resp)
}
