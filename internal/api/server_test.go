package api

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"arenapilot/pkg/config"
	"arenapilot/pkg/core"
	"arenapilot/pkg/frame"
	"arenapilot/pkg/sequencer"
	"arenapilot/pkg/setpoint"
	"arenapilot/pkg/version"
	"arenapilot/pkg/waypoint"
)

type fixedStatus core.Status

func (f fixedStatus) Status() core.Status { return core.Status(f) }

func newTestServer(t *testing.T, flight *FlightHandler, shutdown func()) (*httptest.Server, *fakeInbox) {
	t.Helper()
	offset := 30.0
	inbox := &fakeInbox{}
	tel := NewTelemetryHandler()
	status := NewStatusHandler(fixedStatus{State: sequencer.Navigating, OffsetDeg: &offset, Ticks: 42})
	arena := NewArenaHandler(waypoint.DefaultEnvelope(), frame.NewAligner(), setpoint.NewTarget(), tel)

	srv := NewServer("", tel, NewConfigHandler(config.DefaultConfig()), status, NewWaypointHandler(inbox), arena, flight, shutdown)
	ts := httptest.NewServer(srv.Handler)
	t.Cleanup(ts.Close)
	return ts, inbox
}

func get(t *testing.T, url string) (int, string) {
	t.Helper()
	resp, err := http.Get(url)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp.StatusCode, string(body)
}

func TestServer_Routes(t *testing.T) {
	ts, _ := newTestServer(t, nil, func() {})

	tests := []struct {
		path       string
		wantStatus int
		contains   string
	}{
		{"/health", http.StatusOK, "OK"},
		{"/api/version", http.StatusOK, version.Version},
		{"/api/config", http.StatusOK, `"provider":"mock"`},
		{"/api/telemetry", http.StatusOK, `"state":"awaiting_connection"`},
		{"/api/status", http.StatusOK, `"state":"navigating"`},
		{"/api/arena", http.StatusOK, `"envelope"`},
		{"/api/log/latest", http.StatusOK, `"log"`},
		{"/api/flight/events", http.StatusNotFound, ""},
	}

	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			status, body := get(t, ts.URL+tt.path)
			assert.Equal(t, tt.wantStatus, status)
			if tt.contains != "" {
				assert.Contains(t, body, tt.contains)
			}
		})
	}
}

func TestServer_StatusBody(t *testing.T) {
	ts, _ := newTestServer(t, nil, func() {})

	_, body := get(t, ts.URL+"/api/status")
	var st map[string]any
	require.NoError(t, json.Unmarshal([]byte(body), &st))
	assert.Equal(t, 30.0, st["offset_deg"])
	assert.Equal(t, 42.0, st["ticks"])
}

func TestServer_WaypointPost(t *testing.T) {
	ts, inbox := newTestServer(t, nil, func() {})

	resp, err := http.Post(ts.URL+"/api/waypoint", "application/json", strings.NewReader(`{"x":1,"y":1,"z":1}`))
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusAccepted, resp.StatusCode)
	assert.Len(t, inbox.proposals(), 1)

	status, _ := get(t, ts.URL+"/api/waypoint")
	assert.Equal(t, http.StatusMethodNotAllowed, status)
}

func TestServer_FlightRoutesWhenRecording(t *testing.T) {
	ts, _ := newTestServer(t, NewFlightHandler(&fakeFlightLog{current: "f1"}), func() {})

	status, body := get(t, ts.URL+"/api/flight/events")
	assert.Equal(t, http.StatusOK, status)
	assert.Contains(t, body, `"flight_id":"f1"`)

	status, _ = get(t, ts.URL+"/api/flights")
	assert.Equal(t, http.StatusOK, status)
}

func TestServer_Shutdown(t *testing.T) {
	called := make(chan struct{})
	ts, _ := newTestServer(t, nil, func() { close(called) })

	resp, err := http.Post(ts.URL+"/api/shutdown", "text/plain", http.NoBody)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	select {
	case <-called:
	case <-time.After(2 * time.Second):
		t.Fatal("shutdown func not called")
	}
}
