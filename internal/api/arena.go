package api

import (
	"log/slog"
	"net/http"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"

	"arenapilot/pkg/frame"
	"arenapilot/pkg/setpoint"
	"arenapilot/pkg/vehicle"
	"arenapilot/pkg/waypoint"
)

// TelemetrySource returns the latest vehicle telemetry.
type TelemetrySource interface {
	Latest() vehicle.Telemetry
}

// ArenaHandler draws the arena in its own frame: the admissible envelope,
// the current target and the vehicle. Coordinates are metres, not degrees.
type ArenaHandler struct {
	envelope waypoint.Envelope
	aligner  *frame.Aligner
	target   *setpoint.Target
	tel      TelemetrySource
}

func NewArenaHandler(env waypoint.Envelope, aligner *frame.Aligner, target *setpoint.Target, tel TelemetrySource) *ArenaHandler {
	return &ArenaHandler{envelope: env, aligner: aligner, target: target, tel: tel}
}

// Collection builds the feature collection served by the handler.
func (h *ArenaHandler) Collection() *geojson.FeatureCollection {
	fc := geojson.NewFeatureCollection()

	env := geojson.NewFeature(h.envelope.Polygon())
	env.Properties["kind"] = "envelope"
	env.Properties["ceiling"] = h.envelope.Ceiling
	fc.Append(env)

	offset, aligned := h.aligner.Offset()
	if !aligned {
		fc.ExtraMembers = geojson.Properties{"aligned": false}
		return fc
	}
	fc.ExtraMembers = geojson.Properties{"aligned": true, "offset_deg": float64(offset)}

	if pose, ok := h.target.Get(); ok {
		a := frame.ToArenaPosition(offset, pose.Position)
		f := geojson.NewFeature(orb.Point{a.X, a.Y})
		f.Properties["kind"] = "target"
		f.Properties["z"] = a.Z
		f.Properties["heading"] = frame.NormalizeHeading(frame.CompassHeading(pose.Orientation.Yaw()) - float64(offset))
		fc.Append(f)
	}

	if h.tel != nil {
		if t := h.tel.Latest(); t.Connected {
			a := frame.ToArenaPosition(offset, t.Position)
			f := geojson.NewFeature(orb.Point{a.X, a.Y})
			f.Properties["kind"] = "vehicle"
			f.Properties["z"] = a.Z
			f.Properties["inside"] = h.envelope.ContainsXY(a.X, a.Y)
			if t.HeadingValid {
				f.Properties["heading"] = frame.NormalizeHeading(t.HeadingDeg - float64(offset))
			}
			fc.Append(f)
		}
	}
	return fc
}

// ServeHTTP handles GET /api/arena.
func (h *ArenaHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	data, err := h.Collection().MarshalJSON()
	if err != nil {
		slog.Error("Failed to encode arena", "error", err)
		http.Error(w, "failed to encode arena", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/geo+json")
	if _, err := w.Write(data); err != nil {
		slog.Error("Failed to write arena response", "error", err)
	}
}
