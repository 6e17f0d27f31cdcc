package gripper

import (
	"encoding/binary"
	"strings"
)

// System state flag bits, as delivered in the 32-bit bitfield after the
// status header of a system-state response.
const (
	stateReferenced       uint32 = 1 << 0
	stateMoving           uint32 = 1 << 1
	stateBlockedMinus     uint32 = 1 << 2
	stateBlockedPlus      uint32 = 1 << 3
	stateSoftLimitMinus   uint32 = 1 << 4
	stateSoftLimitPlus    uint32 = 1 << 5
	stateAxisStopped      uint32 = 1 << 6
	stateTargetReached    uint32 = 1 << 7
	stateOverdrive        uint32 = 1 << 8
	stateForceControl     uint32 = 1 << 9
	stateFastStop         uint32 = 1 << 12
	stateTemperatureWarn  uint32 = 1 << 13
	stateTemperatureError uint32 = 1 << 14
	statePowerError       uint32 = 1 << 15
	stateCurrentError     uint32 = 1 << 16
	stateFingerFault      uint32 = 1 << 17
	stateCommandError     uint32 = 1 << 18
	stateScriptRunning    uint32 = 1 << 19
	stateScriptError      uint32 = 1 << 20
)

var stateNames = []struct {
	bit  uint32
	text string
}{
	{stateReferenced, "Fingers Referenced"},
	{stateMoving, "The Fingers are currently moving"},
	{stateBlockedMinus, "Axis is blocked in negative moving direction"},
	{stateBlockedPlus, "Axis is blocked in positive moving direction"},
	{stateSoftLimitMinus, "Negative direction soft limit reached"},
	{stateSoftLimitPlus, "Positive direction soft limit reached"},
	{stateAxisStopped, "Axis Stopped"},
	{stateTargetReached, "Target Pos reached"},
	{stateOverdrive, "Overdrive Mode"},
	{stateForceControl, "Force Control Mode"},
	{stateFastStop, "Fast Stop"},
	{stateTemperatureWarn, "Temperature Warning"},
	{stateTemperatureError, "Temperature Error"},
	{statePowerError, "Power Error"},
	{stateCurrentError, "Engine Current Error"},
	{stateFingerFault, "Finger Fault"},
	{stateCommandError, "Command Error"},
	{stateScriptRunning, "A script is currently running"},
	{stateScriptError, "Script Error"},
}

// stateText renders the active flags of a system state bitfield as a
// human-readable summary for telemetry.
func stateText(flags uint32) string {
	var parts []string
	for _, s := range stateNames {
		if flags&s.bit != 0 {
			parts = append(parts, s.text)
		}
	}
	return strings.Join(parts, " | ")
}

// systemStateOf extracts the bitfield from a system-state response
// payload (status header followed by 4 flag bytes).
func systemStateOf(payload []byte) (uint32, bool) {
	if len(payload) < 6 {
		return 0, false
	}
	return binary.LittleEndian.Uint32(payload[2:6]), true
}
