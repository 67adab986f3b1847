package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"arenapilot/pkg/waypoint"
)

const maxWaypointBytes = 4096

// Offerer accepts proposals without blocking. *waypoint.Inbox satisfies it.
type Offerer interface {
	Offer(p waypoint.Proposal) bool
}

// WaypointRequest is the JSON body of a waypoint proposal, arena frame.
type WaypointRequest struct {
	X       *float64 `json:"x"`
	Y       *float64 `json:"y"`
	Z       *float64 `json:"z"`
	Heading *float64 `json:"heading,omitempty"`
}

// WaypointReply acknowledges a proposal. Queued does not mean accepted:
// the envelope check runs on the control loop.
type WaypointReply struct {
	Queued bool   `json:"queued"`
	Error  string `json:"error,omitempty"`
}

var errInboxFull = errors.New("waypoint inbox full")

// WaypointHandler feeds proposals from HTTP and WebSocket clients into the inbox.
type WaypointHandler struct {
	inbox    Offerer
	upgrader websocket.Upgrader
	now      func() time.Time
}

func NewWaypointHandler(inbox Offerer) *WaypointHandler {
	return &WaypointHandler{
		inbox: inbox,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
		now: time.Now,
	}
}

func (r WaypointRequest) proposal(source string, at time.Time) (waypoint.Proposal, error) {
	if r.X == nil || r.Y == nil || r.Z == nil {
		return waypoint.Proposal{}, errors.New("x, y and z are required")
	}
	return waypoint.Proposal{
		X:          *r.X,
		Y:          *r.Y,
		Z:          *r.Z,
		Heading:    r.Heading,
		Source:     source,
		ReceivedAt: at,
	}, nil
}

func (h *WaypointHandler) submit(data []byte, source string) error {
	var req WaypointRequest
	if err := json.Unmarshal(data, &req); err != nil {
		return fmt.Errorf("invalid waypoint JSON: %w", err)
	}
	p, err := req.proposal(source, h.now())
	if err != nil {
		return err
	}
	if !h.inbox.Offer(p) {
		return errInboxFull
	}
	return nil
}

// HandlePost accepts a single proposal.
// POST /api/waypoint
func (h *WaypointHandler) HandlePost(w http.ResponseWriter, r *http.Request) {
	data, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxWaypointBytes))
	if err != nil {
		writeReply(w, http.StatusRequestEntityTooLarge, WaypointReply{Error: "body too large"})
		return
	}

	err = h.submit(data, "http:"+r.RemoteAddr)
	switch {
	case errors.Is(err, errInboxFull):
		writeReply(w, http.StatusServiceUnavailable, WaypointReply{Error: err.Error()})
	case err != nil:
		writeReply(w, http.StatusBadRequest, WaypointReply{Error: err.Error()})
	default:
		writeReply(w, http.StatusAccepted, WaypointReply{Queued: true})
	}
}

// HandleStream upgrades to a WebSocket where every text message is one proposal.
// Each message gets a WaypointReply.
// GET /api/waypoint/stream
func (h *WaypointHandler) HandleStream(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Warn("Waypoint stream upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	session := uuid.NewString()
	source := "ws:" + session
	conn.SetReadLimit(maxWaypointBytes)
	slog.Info("Waypoint stream opened", "session", session, "remote", r.RemoteAddr)

	var count int
	for {
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				slog.Warn("Waypoint stream read failed", "session", session, "error", err)
			}
			break
		}
		if msgType != websocket.TextMessage {
			continue
		}

		count++
		reply := WaypointReply{Queued: true}
		if err := h.submit(data, source); err != nil {
			reply = WaypointReply{Error: err.Error()}
		}
		if err := conn.WriteJSON(reply); err != nil {
			slog.Warn("Waypoint stream write failed", "session", session, "error", err)
			break
		}
	}
	slog.Info("Waypoint stream closed", "session", session, "messages", count)
}

func writeReply(w http.ResponseWriter, status int, reply WaypointReply) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(reply); err != nil {
		slog.Error("Failed to encode waypoint reply", "error", err)
	}
}
