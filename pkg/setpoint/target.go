// Package setpoint holds the commanded pose and streams it to the vehicle.
package setpoint

import (
	"sync"
	"time"

	"arenapilot/pkg/frame"
)

// Target is the commanded world-frame pose.
// Readers never observe a half-written pose.
type Target struct {
	mu        sync.RWMutex
	pose      frame.Pose
	set       bool
	updatedAt time.Time
}

// NewTarget returns an empty target.
func NewTarget() *Target {
	return &Target{}
}

// Set replaces position and orientation together.
func (t *Target) Set(p frame.Pose) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.pose = p
	t.set = true
	t.updatedAt = time.Now()
}

// SetPosition replaces the position and keeps the current orientation.
// An empty target gets the identity orientation.
func (t *Target) SetPosition(v frame.Vec3) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.set {
		t.pose.Orientation = frame.Quaternion{W: 1}
	}
	t.pose.Position = v
	t.set = true
	t.updatedAt = time.Now()
}

// Get returns the current pose, and false if nothing was set yet.
func (t *Target) Get() (frame.Pose, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.pose, t.set
}

// UpdatedAt returns when the target last changed.
func (t *Target) UpdatedAt() time.Time {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.updatedAt
}
