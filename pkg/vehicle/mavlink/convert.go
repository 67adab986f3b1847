package mavlink

import (
	"math"

	"arenapilot/pkg/frame"
)

// hdgUnknown is the GLOBAL_POSITION_INT.hdg value for "no heading".
const hdgUnknown = math.MaxUint16

// copterModes maps ArduCopter custom_mode numbers to mode names.
var copterModes = map[uint32]string{
	0:  "STABILIZE",
	1:  "ACRO",
	2:  "ALT_HOLD",
	3:  "AUTO",
	4:  "GUIDED",
	5:  "LOITER",
	6:  "RTL",
	7:  "CIRCLE",
	9:  "LAND",
	11: "DRIFT",
	13: "SPORT",
	14: "FLIP",
	15: "AUTOTUNE",
	16: "POSHOLD",
	17: "BRAKE",
	18: "THROW",
	19: "AVOID_ADSB",
	20: "GUIDED_NOGPS",
	21: "SMART_RTL",
	22: "FLOWHOLD",
	23: "FOLLOW",
	24: "ZIGZAG",
	25: "SYSTEMID",
	26: "AUTOROTATE",
	27: "AUTO_RTL",
}

func flightMode(customMode uint32) string {
	if name, ok := copterModes[customMode]; ok {
		return name
	}
	return "UNKNOWN"
}

// nedToENU converts a LOCAL_POSITION_NED sample into the world frame.
func nedToENU(x, y, z float32) frame.Vec3 {
	return frame.Vec3{X: float64(y), Y: float64(x), Z: -float64(z)}
}

// enuToNED converts a world-frame position for SET_POSITION_TARGET_LOCAL_NED.
func enuToNED(v frame.Vec3) (x, y, z float32) {
	return float32(v.Y), float32(v.X), float32(-v.Z)
}

// yawENUToNED turns an ENU yaw (0 = east, CCW) into a NED yaw (0 = north, CW), in (-pi, pi].
func yawENUToNED(yaw float64) float32 {
	return float32(math.Remainder(math.Pi/2-yaw, 2*math.Pi))
}

// headingFromHdg converts GLOBAL_POSITION_INT.hdg (centidegrees) to compass degrees.
func headingFromHdg(hdg uint16) (float64, bool) {
	if hdg == hdgUnknown {
		return 0, false
	}
	return frame.NormalizeHeading(float64(hdg) / 100), true
}

// headingFromAttitude converts ATTITUDE.yaw (NED radians) to compass degrees.
func headingFromAttitude(yaw float32) (float64, bool) {
	if math.IsNaN(float64(yaw)) {
		return 0, false
	}
	return frame.NormalizeHeading(float64(yaw) * 180 / math.Pi), true
}
