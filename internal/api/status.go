package api

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"arenapilot/pkg/core"
)

// StatusProvider exposes the control loop snapshot.
type StatusProvider interface {
	Status() core.Status
}

// StatusHandler serves GET /api/status.
type StatusHandler struct {
	loop StatusProvider
}

func NewStatusHandler(loop StatusProvider) *StatusHandler {
	return &StatusHandler{loop: loop}
}

func (h *StatusHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(h.loop.Status()); err != nil {
		slog.Error("Failed to encode status response", "error", err)
	}
}
