// Package recorder keeps a per-run flight log in SQLite without blocking the control loop.
package recorder

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"arenapilot/pkg/db"
)

// Event kinds.
const (
	KindTransition = "transition"
	KindCommand    = "command"
	KindLink       = "link"
	KindWaypoint   = "waypoint"
	KindFrame      = "frame"
)

// Event is one row of the flight log.
type Event struct {
	FlightID string    `json:"flight_id"`
	At       time.Time `json:"at"`
	Kind     string    `json:"kind"`
	Detail   string    `json:"detail"`
}

// Flight is one process run.
type Flight struct {
	ID        string     `json:"id"`
	StartedAt time.Time  `json:"started_at"`
	EndedAt   *time.Time `json:"ended_at,omitempty"`
	Provider  string     `json:"provider"`
	Version   string     `json:"version"`
	OffsetDeg *float64   `json:"offset_deg,omitempty"`
}

type write struct {
	event  *Event
	offset *float64
}

// Recorder appends events through a buffered channel drained by one goroutine.
// A Recorder opened with an empty path records nothing.
type Recorder struct {
	logger   *slog.Logger
	db       *db.DB
	flightID string

	mu     sync.RWMutex
	closed bool
	ch     chan write
	wg     sync.WaitGroup

	dropped atomic.Uint64
}

// Options describe the flight being recorded.
type Options struct {
	Path     string
	Buffer   int
	Provider string
	Version  string
	Retain   time.Duration // prune older flights at open; zero keeps everything
}

// Open starts a new flight. With an empty path the recorder is disabled.
func Open(ctx context.Context, opts Options) (*Recorder, error) {
	id := uuid.NewString()
	r := &Recorder{flightID: id, logger: slog.With("component", "recorder", "flight_id", id)}
	if opts.Path == "" {
		r.logger.Info("Flight recorder disabled")
		return r, nil
	}

	d, err := db.Init(opts.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to open flight log: %w", err)
	}

	if opts.Retain > 0 {
		if n, err := d.PruneFlights(opts.Retain); err != nil {
			r.logger.Warn("Flight log pruning failed", "error", err)
		} else if n > 0 {
			r.logger.Info("Pruned old flights", "count", n)
		}
	}

	_, err = d.ExecContext(ctx,
		`INSERT INTO flights (id, started_at, provider, version) VALUES (?, ?, ?, ?)`,
		r.flightID, time.Now().UTC(), opts.Provider, opts.Version)
	if err != nil {
		d.Close()
		return nil, fmt.Errorf("failed to start flight: %w", err)
	}

	buffer := opts.Buffer
	if buffer <= 0 {
		buffer = 256
	}
	r.db = d
	r.ch = make(chan write, buffer)
	r.wg.Add(1)
	go r.writeLoop()

	r.logger.Info("Flight recorder started", "path", opts.Path)
	return r, nil
}

// FlightID returns the id of the current run.
func (r *Recorder) FlightID() string {
	return r.flightID
}

// Enabled reports whether events are persisted.
func (r *Recorder) Enabled() bool {
	return r.db != nil
}

// Record queues an event. It never blocks; a full buffer drops the event.
func (r *Recorder) Record(at time.Time, kind, detail string) {
	r.enqueue(write{event: &Event{FlightID: r.flightID, At: at, Kind: kind, Detail: detail}})
}

// SetOffset stores the captured arena rotation on the flight row.
func (r *Recorder) SetOffset(deg float64) {
	r.enqueue(write{offset: &deg})
}

func (r *Recorder) enqueue(w write) {
	if r.db == nil {
		return
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.closed {
		return
	}
	select {
	case r.ch <- w:
	default:
		if n := r.dropped.Add(1); n == 1 || n%100 == 0 {
			r.logger.Warn("Flight recorder buffer full, events dropped", "dropped_total", n)
		}
	}
}

func (r *Recorder) writeLoop() {
	defer r.wg.Done()
	for w := range r.ch {
		var err error
		switch {
		case w.event != nil:
			e := w.event
			_, err = r.db.Exec(`INSERT INTO events (flight_id, ts, kind, detail) VALUES (?, ?, ?, ?)`,
				e.FlightID, e.At.UTC(), e.Kind, e.Detail)
		case w.offset != nil:
			_, err = r.db.Exec(`UPDATE flights SET offset_deg = ? WHERE id = ?`, *w.offset, r.flightID)
		}
		if err != nil {
			r.logger.Error("Flight recorder write failed", "error", err)
		}
	}
}

// Dropped returns how many events were lost to a full buffer.
func (r *Recorder) Dropped() uint64 {
	return r.dropped.Load()
}

// Ping checks that the database is reachable.
func (r *Recorder) Ping(ctx context.Context) error {
	if r.db == nil {
		return nil
	}
	return r.db.PingContext(ctx)
}

// Events returns the newest events of a flight, oldest first. An empty id means the current flight.
func (r *Recorder) Events(ctx context.Context, flightID string, limit int) ([]Event, error) {
	if r.db == nil {
		return nil, nil
	}
	if flightID == "" {
		flightID = r.flightID
	}
	if limit <= 0 {
		limit = 100
	}

	rows, err := r.db.QueryContext(ctx,
		`SELECT flight_id, ts, kind, detail FROM (
			SELECT id, flight_id, ts, kind, detail FROM events WHERE flight_id = ? ORDER BY id DESC LIMIT ?
		) ORDER BY id ASC`, flightID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query events: %w", err)
	}
	defer rows.Close()

	var out []Event
	for rows.Next() {
		var e Event
		var detail sql.NullString
		if err := rows.Scan(&e.FlightID, &e.At, &e.Kind, &detail); err != nil {
			return nil, err
		}
		e.Detail = detail.String
		out = append(out, e)
	}
	return out, rows.Err()
}

// Flights returns the newest flights first.
func (r *Recorder) Flights(ctx context.Context, limit int) ([]Flight, error) {
	if r.db == nil {
		return nil, nil
	}
	if limit <= 0 {
		limit = 20
	}

	rows, err := r.db.QueryContext(ctx,
		`SELECT id, started_at, ended_at, provider, version, offset_deg FROM flights ORDER BY started_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query flights: %w", err)
	}
	defer rows.Close()

	var out []Flight
	for rows.Next() {
		var f Flight
		var ended sql.NullTime
		var provider, version sql.NullString
		var offset sql.NullFloat64
		if err := rows.Scan(&f.ID, &f.StartedAt, &ended, &provider, &version, &offset); err != nil {
			return nil, err
		}
		if ended.Valid {
			f.EndedAt = &ended.Time
		}
		if offset.Valid {
			f.OffsetDeg = &offset.Float64
		}
		f.Provider, f.Version = provider.String, version.String
		out = append(out, f)
	}
	return out, rows.Err()
}

// Close flushes pending events, closes the flight and the database.
func (r *Recorder) Close() error {
	if r.db == nil {
		return nil
	}
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	close(r.ch)
	r.mu.Unlock()

	r.wg.Wait()

	_, errEnd := r.db.Exec(`UPDATE flights SET ended_at = ? WHERE id = ?`, time.Now().UTC(), r.flightID)
	return errors.Join(errEnd, r.db.Close())
}
