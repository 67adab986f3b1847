package waypoint

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// DefaultInboxSize is used when the configured capacity is not positive.
const DefaultInboxSize = 64

// Inbox is a bounded FIFO between transport goroutines and the scheduling loop.
type Inbox struct {
	ch      chan Proposal
	dropped atomic.Uint64

	droppedCounter metric.Int64Counter
}

// NewInbox creates an inbox holding at most size proposals.
func NewInbox(size int) (*Inbox, error) {
	if size <= 0 {
		size = DefaultInboxSize
	}
	b := &Inbox{ch: make(chan Proposal, size)}

	var err error
	b.droppedCounter, err = otel.Meter(instrumentationName).Int64Counter(
		"waypoint.dropped",
		metric.WithDescription("Waypoints dropped due to full inbox"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating dropped counter: %w", err)
	}
	return b, nil
}

// Offer enqueues p without blocking. A full inbox drops p and returns false.
func (b *Inbox) Offer(p Proposal) bool {
	select {
	case b.ch <- p:
		return true
	default:
		n := b.dropped.Add(1)
		b.droppedCounter.Add(context.Background(), 1, metric.WithAttributes(attribute.String("source", p.Source)))
		slog.Warn("Waypoint inbox full, proposal dropped", "source", p.Source, "dropped_total", n)
		return false
	}
}

// Drain hands every queued proposal to fn in arrival order and returns how many were handled.
// Proposals arriving during the drain wait for the next call.
func (b *Inbox) Drain(fn func(Proposal)) int {
	n := len(b.ch)
	for i := 0; i < n; i++ {
		select {
		case p := <-b.ch:
			fn(p)
		default:
			return i
		}
	}
	return n
}

// Len returns the number of queued proposals.
func (b *Inbox) Len() int {
	return len(b.ch)
}

// Dropped returns the total number of dropped proposals.
func (b *Inbox) Dropped() uint64 {
	return b.dropped.Load()
}
