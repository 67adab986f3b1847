// Package frame converts between the arena frame and the vehicle's world frame.
//
// The world frame is ENU (x east, y north, z up). The arena frame is the same
// frame rotated so that its +y axis points along the compass heading the
// vehicle faced when the offset was captured.
package frame

import (
	"math"
	"sync/atomic"
)

const (
	deg2rad = math.Pi / 180.0
	rad2deg = 180.0 / math.Pi
)

// Vec3 is a position in metres.
type Vec3 struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	Z float64 `json:"z"`
}

// Quaternion is an orientation in the world frame.
type Quaternion struct {
	W float64 `json:"w"`
	X float64 `json:"x"`
	Y float64 `json:"y"`
	Z float64 `json:"z"`
}

// Norm returns |q|.
func (q Quaternion) Norm() float64 {
	return math.Sqrt(q.W*q.W + q.X*q.X + q.Y*q.Y + q.Z*q.Z)
}

// Yaw returns the rotation about the z axis in radians (ENU, counter-clockwise from east).
func (q Quaternion) Yaw() float64 {
	sinyCosp := 2 * (q.W*q.Z + q.X*q.Y)
	cosyCosp := 1 - 2*(q.Y*q.Y+q.Z*q.Z)
	return math.Atan2(sinyCosp, cosyCosp)
}

// Pose is a world-frame position and orientation.
type Pose struct {
	Position    Vec3       `json:"position"`
	Orientation Quaternion `json:"orientation"`
}

// Offset is the rotation in degrees between the arena frame and the world frame.
type Offset float64

// Radians returns the offset in radians.
func (o Offset) Radians() float64 {
	return float64(o) * deg2rad
}

// CaptureOffset turns a measured compass heading into a frame offset.
func CaptureOffset(headingDegrees float64) Offset {
	return Offset(headingDegrees)
}

// ToWorldPosition rotates arena (x, y) by -offset. z is unchanged.
func ToWorldPosition(o Offset, x, y, z float64) Vec3 {
	a := -o.Radians()
	return Vec3{
		X: x*math.Cos(a) - y*math.Sin(a),
		Y: x*math.Sin(a) + y*math.Cos(a),
		Z: z,
	}
}

// ToArenaPosition undoes ToWorldPosition.
func ToArenaPosition(o Offset, v Vec3) Vec3 {
	a := o.Radians()
	return Vec3{
		X: v.X*math.Cos(a) - v.Y*math.Sin(a),
		Y: v.X*math.Sin(a) + v.Y*math.Cos(a),
		Z: v.Z,
	}
}

// ToWorldOrientation returns a level orientation facing desiredHeading, which
// is a compass-style heading measured in the arena frame.
func ToWorldOrientation(o Offset, desiredHeadingDegrees float64) Quaternion {
	yaw := (-desiredHeadingDegrees + 90 - float64(o)) * deg2rad
	return eulerToQuaternion(0, 0, yaw)
}

// eulerToQuaternion uses the ZYX convention. The vehicle is always commanded
// level, but roll and pitch are kept in the formula.
func eulerToQuaternion(roll, pitch, yaw float64) Quaternion {
	cy := math.Cos(yaw * 0.5)
	sy := math.Sin(yaw * 0.5)
	cr := math.Cos(roll * 0.5)
	sr := math.Sin(roll * 0.5)
	cp := math.Cos(pitch * 0.5)
	sp := math.Sin(pitch * 0.5)

	return Quaternion{
		W: cy*cr*cp + sy*sr*sp,
		X: cy*sr*cp - sy*cr*sp,
		Y: cy*cr*sp + sy*sr*cp,
		Z: sy*cr*cp - cy*sr*sp,
	}
}

// CompassHeading converts an ENU yaw in radians into a compass heading in [0, 360).
func CompassHeading(yaw float64) float64 {
	return NormalizeHeading(90 - yaw*rad2deg)
}

// NormalizeHeading wraps h into [0, 360).
func NormalizeHeading(h float64) float64 {
	h = math.Mod(h, 360)
	if h < 0 {
		h += 360
	}
	return h
}

// Aligner holds the frame offset. The first capture wins; later captures are ignored.
type Aligner struct {
	offset atomic.Pointer[Offset]
}

// NewAligner returns an aligner with no offset.
func NewAligner() *Aligner {
	return &Aligner{}
}

// Capture stores the offset derived from headingDegrees if none is stored yet.
// It reports whether this call set the offset.
func (a *Aligner) Capture(headingDegrees float64) (Offset, bool) {
	o := CaptureOffset(headingDegrees)
	if a.offset.CompareAndSwap(nil, &o) {
		return o, true
	}
	return *a.offset.Load(), false
}

// Offset returns the stored offset, if any.
func (a *Aligner) Offset() (Offset, bool) {
	p := a.offset.Load()
	if p == nil {
		return 0, false
	}
	return *p, true
}

// Captured reports whether an offset has been stored.
func (a *Aligner) Captured() bool {
	return a.offset.Load() != nil
}
