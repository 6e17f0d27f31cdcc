package gripper

import (
	"encoding/binary"
	"math"
)

// Command ids of the gripper protocol.
const (
	cmdHoming         byte = 0x20
	cmdMove           byte = 0x21
	cmdStop           byte = 0x22
	cmdFastStop       byte = 0x23
	cmdAckFastStop    byte = 0x24
	cmdGrasp          byte = 0x25
	cmdRelease        byte = 0x26
	cmdSetAccel       byte = 0x30
	cmdGetAccel       byte = 0x31
	cmdSetForceLimit  byte = 0x32
	cmdGetForceLimit  byte = 0x33
	cmdGetSystemState byte = 0x40
	cmdGetOpening     byte = 0x43
	cmdGetSpeed       byte = 0x44
	cmdGetForce       byte = 0x45
)

// HomingDirection selects the reference direction for Home.
type HomingDirection byte

const (
	HomeDefault HomingDirection = 0
	HomeOpen    HomingDirection = 1
	HomeClose   HomingDirection = 2
)

// IncrementDirection selects which way an incremental move travels.
type IncrementDirection string

const (
	IncrementOpen  IncrementDirection = "open"
	IncrementClose IncrementDirection = "close"
)

const moveFlagRelative = 0x01

func appendFloat(buf []byte, v float64) []byte {
	return binary.LittleEndian.AppendUint32(buf, math.Float32bits(float32(v)))
}

func homingPayload(dir HomingDirection) []byte {
	return []byte{byte(dir)}
}

// movePayload: flags byte, target width, speed.
func movePayload(width, speed float64, relative bool) []byte {
	var flags byte
	if relative {
		flags |= moveFlagRelative
	}
	buf := make([]byte, 0, 9)
	buf = append(buf, flags)
	buf = appendFloat(buf, width)
	buf = appendFloat(buf, speed)
	return buf
}

// graspPayload doubles as the release payload: width, speed.
func graspPayload(width, speed float64) []byte {
	buf := make([]byte, 0, 8)
	buf = appendFloat(buf, width)
	buf = appendFloat(buf, speed)
	return buf
}

func valuePayload(v float64) []byte {
	return appendFloat(make([]byte, 0, 4), v)
}

// autoUpdatePayload parameterizes the read commands (system state,
// opening, speed, force). interval == 0 requests a single response;
// interval > 0 asks the device to push updates periodically.
func autoUpdatePayload(interval uint16) []byte {
	var flags byte
	if interval > 0 {
		flags = 0x01
	}
	buf := make([]byte, 0, 3)
	buf = append(buf, flags)
	buf = binary.LittleEndian.AppendUint16(buf, interval)
	return buf
}

// ackFaultPayload is the magic "ack" token that clears a fast stop.
func ackFaultPayload() []byte {
	return []byte{0x61, 0x63, 0x6B}
}
