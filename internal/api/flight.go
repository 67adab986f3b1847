package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"

	"arenapilot/pkg/recorder"
)

// FlightLog provides access to recorded flights. *recorder.Recorder satisfies it.
type FlightLog interface {
	FlightID() string
	Events(ctx context.Context, flightID string, limit int) ([]recorder.Event, error)
	Flights(ctx context.Context, limit int) ([]recorder.Flight, error)
}

// FlightHandler handles flight recorder endpoints.
type FlightHandler struct {
	log FlightLog
}

// NewFlightHandler creates a new FlightHandler. Returns nil if the recorder is missing.
func NewFlightHandler(log FlightLog) *FlightHandler {
	if log == nil {
		return nil
	}
	return &FlightHandler{log: log}
}

// HandleEvents returns the events of one flight, oldest first.
// GET /api/flight/events?flight=<id>&limit=<n>
func (h *FlightHandler) HandleEvents(w http.ResponseWriter, r *http.Request) {
	limit, ok := parseLimit(w, r)
	if !ok {
		return
	}
	flightID := r.URL.Query().Get("flight")
	if flightID == "" {
		flightID = h.log.FlightID()
	}

	events, err := h.log.Events(r.Context(), flightID, limit)
	if err != nil {
		slog.Error("Failed to read flight events", "flight_id", flightID, "error", err)
		http.Error(w, "failed to read flight events", http.StatusInternalServerError)
		return
	}
	if events == nil {
		events = []recorder.Event{}
	}
	writeJSON(w, map[string]any{"flight_id": flightID, "events": events})
}

// HandleFlights lists recorded flights, newest first.
// GET /api/flights?limit=<n>
func (h *FlightHandler) HandleFlights(w http.ResponseWriter, r *http.Request) {
	limit, ok := parseLimit(w, r)
	if !ok {
		return
	}
	flights, err := h.log.Flights(r.Context(), limit)
	if err != nil {
		slog.Error("Failed to read flights", "error", err)
		http.Error(w, "failed to read flights", http.StatusInternalServerError)
		return
	}
	if flights == nil {
		flights = []recorder.Flight{}
	}
	writeJSON(w, flights)
}

func parseLimit(w http.ResponseWriter, r *http.Request) (int, bool) {
	s := r.URL.Query().Get("limit")
	if s == "" {
		return 0, true
	}
	n, err := strconv.Atoi(s)
	if err != nil || n < 0 || n > 10000 {
		http.Error(w, "invalid limit", http.StatusBadRequest)
		return 0, false
	}
	return n, true
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("Failed to encode response", "error", err)
	}
}
