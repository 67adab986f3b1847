package api

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"regexp"
	"slices"
	"strings"
	"time"

	"arenapilot/pkg/logging"
)

// Matches key=value and key="quoted value" pairs of the slog text format.
var logPairRegex = regexp.MustCompile(`([a-zA-Z0-9_\-.]+)=(?:"((?:[^"\\]|\\.)*)"|([^ ]+))`)

// flightKeys are shown first, in this order; remaining keys follow alphabetically.
var flightKeys = []string{"state", "from", "to", "reason", "source", "x", "y", "z", "heading", "offset", "error"}

const maxLogValue = 32

// LogLine is one captured slog line split into its parts.
type LogLine struct {
	Time  string            `json:"time,omitempty"`
	Level string            `json:"level,omitempty"`
	Msg   string            `json:"msg"`
	Attrs map[string]string `json:"attrs,omitempty"`
}

// LatestLogResponse is the body of GET /api/log/latest.
type LatestLogResponse struct {
	Log   string   `json:"log"`
	Line  *LogLine `json:"line,omitempty"`
	Event string   `json:"event"`
}

// handleLatestLog returns the last captured log line and the last flight event.
func handleLatestLog(w http.ResponseWriter, r *http.Request) {
	raw := logging.GlobalLogCapture.GetLastLine()
	resp := LatestLogResponse{Log: raw, Event: logging.GlobalEventCapture.GetLastLine()}
	if line, ok := parseLogLine(raw); ok {
		resp.Line = &line
		resp.Log = line.String()
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		slog.Error("Failed to write log response", "error", err)
	}
}

// parseLogLine splits a slog text line. Lines without a msg are not slog output.
func parseLogLine(raw string) (LogLine, bool) {
	var line LogLine
	for _, m := range logPairRegex.FindAllStringSubmatch(raw, -1) {
		key, val := m[1], m[3]
		if val == "" {
			val = strings.ReplaceAll(m[2], `\"`, `"`)
		}
		switch key {
		case "time":
			if t, err := time.Parse(time.RFC3339Nano, val); err == nil {
				line.Time = t.Format("15:04:05")
			}
		case "level":
			line.Level = val
		case "msg":
			line.Msg = val
		default:
			if line.Attrs == nil {
				line.Attrs = map[string]string{}
			}
			line.Attrs[key] = strings.TrimSpace(val)
		}
	}
	return line, line.Msg != ""
}

// String renders "HH:MM:SS [LEVEL] msg (key=value, ...)". INFO is left implicit.
func (l LogLine) String() string {
	var b strings.Builder
	if l.Time != "" {
		b.WriteString(l.Time)
		b.WriteByte(' ')
	}
	if l.Level != "" && l.Level != "INFO" {
		b.WriteString("[" + l.Level + "] ")
	}
	b.WriteString(l.Msg)

	keys := make([]string, 0, len(l.Attrs))
	for k := range l.Attrs {
		keys = append(keys, k)
	}
	slices.SortFunc(keys, func(a, c string) int {
		ia, ic := slices.Index(flightKeys, a), slices.Index(flightKeys, c)
		switch {
		case ia >= 0 && ic >= 0:
			return ia - ic
		case ia >= 0:
			return -1
		case ic >= 0:
			return 1
		}
		return strings.Compare(a, c)
	})

	params := make([]string, 0, len(keys))
	for _, k := range keys {
		v := l.Attrs[k]
		if len(v) > maxLogValue {
			v = v[:maxLogValue-3] + "..."
		}
		params = append(params, k+"="+v)
	}
	if len(params) > 0 {
		b.WriteString(" (" + strings.Join(params, ", ") + ")")
	}
	return b.String()
}
