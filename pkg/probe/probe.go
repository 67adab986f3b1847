// Package probe runs named startup checks and decides whether the process may continue.
package probe

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"
)

// DefaultTimeout bounds a probe that does not set its own.
const DefaultTimeout = 5 * time.Second

// CheckFunc is a function that performs a health check.
// It returns nil if the check passes, or an error if it fails.
type CheckFunc func(ctx context.Context) error

// Probe represents a single startup check.
type Probe struct {
	Name     string
	Check    CheckFunc
	Critical bool // a failure prevents startup
	Timeout  time.Duration
}

// Result holds the outcome of a single probe.
type Result struct {
	Probe    Probe
	Error    error
	Duration time.Duration
}

// Run executes the probes in order, each under its own timeout.
func Run(ctx context.Context, probes []Probe) []Result {
	results := make([]Result, len(probes))

	for i, p := range probes {
		timeout := p.Timeout
		if timeout <= 0 {
			timeout = DefaultTimeout
		}

		start := time.Now()
		checkCtx, cancel := context.WithTimeout(ctx, timeout)
		err := p.Check(checkCtx)
		cancel()

		results[i] = Result{
			Probe:    p,
			Error:    err,
			Duration: time.Since(start),
		}
	}

	return results
}

// AnalyzeResults logs every result and joins the errors of failed critical probes.
func AnalyzeResults(results []Result) error {
	var criticalErrors []error

	slog.Info("Startup Checks Summary")

	for _, r := range results {
		status := "PASS"
		if r.Error != nil {
			status = "FAIL"
			if !r.Probe.Critical {
				status = "WARN"
			}
		}

		msg := fmt.Sprintf("[%s] %-20s (%v)", status, r.Probe.Name, r.Duration.Round(time.Millisecond))

		switch {
		case r.Error == nil:
			slog.Info(msg)
		case r.Probe.Critical:
			slog.Error(msg, "error", r.Error)
			criticalErrors = append(criticalErrors, fmt.Errorf("%s: %w", r.Probe.Name, r.Error))
		default:
			slog.Warn(msg, "error", r.Error)
		}
	}

	if len(criticalErrors) > 0 {
		return errors.Join(criticalErrors...)
	}
	return nil
}
