package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"arenapilot/pkg/logging"
)

func TestLogLineString(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{
			name:  "flight keys first",
			input: `time=2026-01-18T06:50:46.074+01:00 level=INFO msg="Waypoint rejected" z=2 source=ws:abc x=5 y=0 reason=x_out_of_bounds`,
			want:  "06:50:46 Waypoint rejected (reason=x_out_of_bounds, source=ws:abc, x=5, y=0, z=2)",
		},
		{
			name:  "level shown unless info",
			input: `time=2026-01-18T06:50:46.074+01:00 level=WARN msg="Vehicle link lost, holding last target" connected=false age=3s`,
			want:  "06:50:46 [WARN] Vehicle link lost, holding last target (age=3s, connected=false)",
		},
		{
			name:  "transition",
			input: `time=2026-01-18T06:50:46.074+01:00 level=INFO msg="Sequencer transition" to=navigating from=taking_off`,
			want:  "06:50:46 Sequencer transition (from=taking_off, to=navigating)",
		},
		{
			name:  "long values truncated",
			input: `level=ERROR msg="Publish failed" error="write udp 127.0.0.1:14550: connection refused by peer"`,
			want:  "[ERROR] Publish failed (error=write udp 127.0.0.1:14550: co...)",
		},
		{
			name:  "escaped quotes",
			input: `level=INFO msg="Loaded \"arena\""`,
			want:  `Loaded "arena"`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			line, ok := parseLogLine(tt.input)
			if !ok {
				t.Fatalf("parseLogLine(%q) not ok", tt.input)
			}
			if got := line.String(); got != tt.want {
				t.Errorf("String() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestParseLogLine_NotSlog(t *testing.T) {
	if _, ok := parseLogLine("plain text"); ok {
		t.Error("plain text parsed as a slog line")
	}
	if _, ok := parseLogLine("x=1 y=2"); ok {
		t.Error("line without msg parsed as a slog line")
	}
}

func TestHandleLatestLog(t *testing.T) {
	fmt.Fprint(logging.GlobalLogCapture, `time=2026-01-18T06:50:46.074+01:00 level=WARN msg="Vehicle link lost, holding last target" connected=false`+"\n")
	fmt.Fprint(logging.GlobalEventCapture, "06:50:46.074 [link] lost")

	req := httptest.NewRequest("GET", "/api/log/latest", http.NoBody)
	w := httptest.NewRecorder()
	handleLatestLog(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	var body LatestLogResponse
	if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Log != "06:50:46 [WARN] Vehicle link lost, holding last target (connected=false)" {
		t.Errorf("log = %q", body.Log)
	}
	if body.Line == nil || body.Line.Level != "WARN" || body.Line.Attrs["connected"] != "false" {
		t.Errorf("line = %+v", body.Line)
	}
	if body.Event != "06:50:46.074 [link] lost" {
		t.Errorf("event = %q", body.Event)
	}
}
