package api

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"

	"arenapilot/pkg/sequencer"
	"arenapilot/pkg/vehicle"
)

// TelemetryResponse is the API response structure.
type TelemetryResponse struct {
	vehicle.Telemetry
	State string `json:"state"`
}

type TelemetryHandler struct {
	mu        sync.RWMutex
	telemetry vehicle.Telemetry
	state     sequencer.State
}

func NewTelemetryHandler() *TelemetryHandler {
	return &TelemetryHandler{state: sequencer.AwaitingConnection}
}

// Update implements core.TelemetrySink.
func (h *TelemetryHandler) Update(t *vehicle.Telemetry) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.telemetry = *t
}

// UpdateState records the launch sequence stage.
func (h *TelemetryHandler) UpdateState(s sequencer.State) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.state = s
}

// Latest returns the most recent telemetry.
func (h *TelemetryHandler) Latest() vehicle.Telemetry {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.telemetry
}

func (h *TelemetryHandler) handleTelemetry(w http.ResponseWriter, r *http.Request) {
	h.mu.RLock()
	resp := TelemetryResponse{
		Telemetry: h.telemetry,
		State:     h.state.String(),
	}
	h.mu.RUnlock()

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		slog.Error("Failed to encode telemetry response", "error", err)
	}
}
