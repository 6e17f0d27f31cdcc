package gripper

import (
	"errors"
	"fmt"
)

var (
	// ErrAlreadyBusy rejects a command while another exchange is
	// outstanding. Non-fatal; the caller retries after the running
	// command reaches a terminal state.
	ErrAlreadyBusy = errors.New("gripper: another command is already running")

	// ErrAborted reports that a pending motion command was cancelled by
	// Stop before the device finished it.
	ErrAborted = errors.New("gripper: command aborted")

	// ErrResponseTimeout means no terminal response arrived for an issued
	// command within the deadline. This invalidates ack correlation for
	// every future command, so the engine shuts down; restart is the only
	// safe recovery.
	ErrResponseTimeout = errors.New("gripper: no terminal response before deadline")

	// ErrEngineFailed is returned by every operation after the engine hit
	// a fatal condition.
	ErrEngineFailed = errors.New("gripper: engine has failed")

	// errShortFrame means the decoder needs more bytes; the caller keeps
	// reading. Never surfaced outside the codec.
	errShortFrame = errors.New("gripper: incomplete frame")

	// errCorruptFrame marks a framing or checksum failure. The bad bytes
	// are skipped and the read retried.
	errCorruptFrame = errors.New("gripper: corrupt frame")
)

// ValidationError rejects a motion target outside the travel range before
// any bytes reach the device.
type ValidationError struct {
	Field string
	Value float64
	Min   float64
	Max   float64
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("gripper: %s %.1f outside [%.1f - %.1f]", e.Field, e.Value, e.Min, e.Max)
}

// DeviceError carries a terminal non-success status from the device.
type DeviceError struct {
	Status Status
}

func (e *DeviceError) Error() string {
	return fmt.Sprintf("gripper: device reported: %s", e.Status)
}
