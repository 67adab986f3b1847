package setpoint

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"arenapilot/pkg/vehicle"
)

const instrumentationName = "arenapilot/pkg/setpoint"

// ErrRateTooLow reports a stream rate under the autopilot's failsafe floor times the headroom.
var ErrRateTooLow = errors.New("setpoint rate below failsafe floor")

// CheckRate verifies rateHz >= headroom * floorHz.
func CheckRate(rateHz, floorHz, headroom float64) error {
	if minimum := floorHz * headroom; rateHz < minimum {
		return fmt.Errorf("%w: %.1f Hz < %.1f Hz (%.1f Hz x %.1f)", ErrRateTooLow, rateHz, minimum, floorHz, headroom)
	}
	return nil
}

// Stats are cumulative stream counters.
type Stats struct {
	Published uint64 `json:"published"`
	Failed    uint64 `json:"failed"`
	LastError string `json:"last_error,omitempty"`
}

// Stream republishes the Target to the vehicle on every call to Publish.
type Stream struct {
	logger *slog.Logger
	target *Target
	client vehicle.Client

	published atomic.Uint64
	failed    atomic.Uint64

	mu          sync.Mutex
	lastErr     string
	lastErrLog  time.Time
	errLogEvery time.Duration

	publishedCounter metric.Int64Counter
	failedCounter    metric.Int64Counter
}

// NewStream creates a stream for target over client.
// Uses the global OTel meter (no-op if not configured).
func NewStream(target *Target, client vehicle.Client) (*Stream, error) {
	s := &Stream{
		target:      target,
		client:      client,
		errLogEvery: 5 * time.Second,
		logger:      slog.With("component", "setpoint_stream"),
	}

	m := otel.Meter(instrumentationName)
	var err error
	s.publishedCounter, err = m.Int64Counter(
		"setpoint.published",
		metric.WithDescription("Setpoints sent to the vehicle"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating published counter: %w", err)
	}
	s.failedCounter, err = m.Int64Counter(
		"setpoint.failed",
		metric.WithDescription("Setpoints the vehicle link refused"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating failed counter: %w", err)
	}
	return s, nil
}

// Publish sends the current target once. It reports whether a setpoint went out.
// Link errors are counted and logged at most once per errLogEvery; they never stop the stream.
func (s *Stream) Publish(ctx context.Context) bool {
	pose, ok := s.target.Get()
	if !ok {
		return false
	}

	if err := s.client.PublishSetpoint(ctx, pose); err != nil {
		s.failed.Add(1)
		s.failedCounter.Add(ctx, 1, metric.WithAttributes(attribute.String("error", errorKind(err))))
		s.noteError(err)
		return false
	}

	s.published.Add(1)
	s.publishedCounter.Add(ctx, 1)
	return true
}

func (s *Stream) noteError(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastErr = err.Error()
	if now := time.Now(); now.Sub(s.lastErrLog) >= s.errLogEvery {
		s.lastErrLog = now
		s.logger.Warn("Setpoint publish failed", "error", err, "failed_total", s.failed.Load())
	}
}

// Stats returns a snapshot of the counters.
func (s *Stream) Stats() Stats {
	s.mu.Lock()
	lastErr := s.lastErr
	s.mu.Unlock()
	return Stats{
		Published: s.published.Load(),
		Failed:    s.failed.Load(),
		LastError: lastErr,
	}
}

func errorKind(err error) string {
	switch {
	case errors.Is(err, vehicle.ErrNotConnected):
		return "not_connected"
	case errors.Is(err, vehicle.ErrClosed):
		return "closed"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "context"
	}
	return "other"
}
