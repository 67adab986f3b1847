package api

import (
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"arenapilot/pkg/version"
)

// NewServer creates and configures the HTTP server.
// flight may be nil when the recorder is disabled; shutdown is called from POST /api/shutdown.
func NewServer(addr string, tel *TelemetryHandler, cfg *ConfigHandler, status *StatusHandler, wp *WaypointHandler, arena *ArenaHandler, flight *FlightHandler, shutdown func()) *http.Server {
	mux := http.NewServeMux()

	// 1. Health
	mux.HandleFunc("GET /health", handleHealth)
	mux.HandleFunc("GET /api/version", handleVersion)
	mux.HandleFunc("GET /api/config", cfg.HandleConfig)

	// 2. Vehicle and loop state
	mux.HandleFunc("GET /api/telemetry", tel.handleTelemetry)
	mux.Handle("GET /api/status", status)
	mux.Handle("GET /api/arena", arena)
	mux.HandleFunc("GET /api/log/latest", handleLatestLog)

	// 3. Waypoint intake
	mux.HandleFunc("POST /api/waypoint", wp.HandlePost)
	mux.HandleFunc("GET /api/waypoint/stream", wp.HandleStream)

	// 4. Flight recorder
	if flight != nil {
		mux.HandleFunc("GET /api/flight/events", flight.HandleEvents)
		mux.HandleFunc("GET /api/flights", flight.HandleFlights)
	}

	// 5. Shutdown
	mux.HandleFunc("POST /api/shutdown", func(w http.ResponseWriter, r *http.Request) {
		slog.Info("Graceful shutdown initiated via API")
		w.WriteHeader(http.StatusOK)
		if _, err := w.Write([]byte("Shutting down...")); err != nil {
			slog.Error("Failed to write shutdown response", "error", err)
		}
		go func() {
			time.Sleep(100 * time.Millisecond)
			shutdown()
		}()
	})

	// WriteTimeout stays unset while waypoint streams are open.
	return &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
}

func handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write([]byte("OK")); err != nil {
		slog.Error("Failed to write health response", "error", err)
	}
}

func handleVersion(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	if _, err := fmt.Fprintf(w, `{"version": "%s"}`, version.Version); err != nil {
		slog.Error("Failed to write version response", "error", err)
	}
}
