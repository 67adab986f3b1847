package core

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/planar"

	"arenapilot/pkg/vehicle"
)

// Job is a low-rate task evaluated on every tick of the control loop.
type Job interface {
	Name() string
	ShouldFire(t *vehicle.Telemetry, now time.Time) bool
	Run(ctx context.Context, t *vehicle.Telemetry, now time.Time)
}

// BaseJob provides atomic running state to prevent re-entry.
type BaseJob struct {
	name    string
	running int32 // 1 if running, 0 otherwise
}

func NewBaseJob(name string) BaseJob {
	return BaseJob{name: name}
}

func (b *BaseJob) Name() string {
	return b.name
}

// TryLock attempts to set running to 1. Returns true if successful.
func (b *BaseJob) TryLock() bool {
	return atomic.CompareAndSwapInt32(&b.running, 0, 1)
}

func (b *BaseJob) Unlock() {
	atomic.StoreInt32(&b.running, 0)
}

func (b *BaseJob) busy() bool {
	return atomic.LoadInt32(&b.running) == 1
}

// TimeJob fires when time elapsed exceeds threshold. The first evaluation
// only arms the timer.
type TimeJob struct {
	BaseJob
	last      atomic.Int64 // unix nanos of the last fire, 0 before the first tick
	threshold time.Duration
	action    func(context.Context, vehicle.Telemetry, time.Time)
}

func NewTimeJob(name string, threshold time.Duration, action func(context.Context, vehicle.Telemetry, time.Time)) *TimeJob {
	return &TimeJob{
		BaseJob:   NewBaseJob(name),
		threshold: threshold,
		action:    action,
	}
}

func (j *TimeJob) ShouldFire(t *vehicle.Telemetry, now time.Time) bool {
	if j.busy() || j.threshold <= 0 {
		return false
	}
	last := j.last.Load()
	if last == 0 {
		j.last.Store(now.UnixNano())
		return false
	}
	return now.Sub(time.Unix(0, last)) >= j.threshold
}

func (j *TimeJob) Run(ctx context.Context, t *vehicle.Telemetry, now time.Time) {
	if !j.TryLock() {
		return
	}
	defer j.Unlock()

	j.last.Store(now.UnixNano())
	j.action(ctx, *t, now)
}

// DistanceJob fires when the vehicle has moved more than threshold meters
// in the horizontal plane since the last fire. Disconnected telemetry never fires.
type DistanceJob struct {
	BaseJob
	lastPos   atomic.Pointer[orb.Point]
	threshold float64 // meters
	action    func(context.Context, vehicle.Telemetry, time.Time)
}

func NewDistanceJob(name string, thresholdMeters float64, action func(context.Context, vehicle.Telemetry, time.Time)) *DistanceJob {
	return &DistanceJob{
		BaseJob:   NewBaseJob(name),
		threshold: thresholdMeters,
		action:    action,
	}
}

func (j *DistanceJob) ShouldFire(t *vehicle.Telemetry, now time.Time) bool {
	if j.busy() || !t.Connected {
		return false
	}

	last := j.lastPos.Load()
	if last == nil {
		return true
	}
	curr := orb.Point{t.Position.X, t.Position.Y}
	return planar.Distance(*last, curr) >= j.threshold
}

func (j *DistanceJob) Run(ctx context.Context, t *vehicle.Telemetry, now time.Time) {
	if !j.TryLock() {
		return
	}
	defer j.Unlock()

	p := orb.Point{t.Position.X, t.Position.Y}
	j.lastPos.Store(&p)
	j.action(ctx, *t, now)
}
