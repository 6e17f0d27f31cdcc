package gripper

import "fmt"

// Status is the 16-bit result code the device puts at the start of every
// response payload.
type Status uint16

const (
	StatusSuccess               Status = 0
	StatusNotAvailable          Status = 1
	StatusNoSensor              Status = 2
	StatusNotInitialized        Status = 3
	StatusAlreadyRunning        Status = 4
	StatusFeatureNotSupported   Status = 5
	StatusInconsistentData      Status = 6
	StatusTimeout               Status = 7
	StatusReadError             Status = 8
	StatusWriteError            Status = 9
	StatusInsufficientResources Status = 10
	StatusChecksumError         Status = 11
	StatusNoParamExpected       Status = 12
	StatusNotEnoughParams       Status = 13
	StatusUnknownCommand        Status = 14
	StatusFormatError           Status = 15
	StatusAccessDenied          Status = 16
	StatusAlreadyOpen           Status = 17
	StatusCmdFailed             Status = 18
	StatusCmdAborted            Status = 19
	StatusInvalidHandle         Status = 20
	StatusNotFound              Status = 21
	StatusNotOpen               Status = 22
	StatusIOError               Status = 23
	StatusInvalidParameter      Status = 24
	StatusIndexOutOfBounds      Status = 25
	StatusCmdPending            Status = 26
	StatusOverrun               Status = 27
	StatusRangeError            Status = 28
	StatusAxisBlocked           Status = 29
	StatusFileExists            Status = 30
)

// Terminal reports whether this status ends a command's lifecycle.
// Only the interim "command is pending" status keeps it alive.
func (s Status) Terminal() bool { return s != StatusCmdPending }

func (s Status) String() string {
	switch s {
	case StatusSuccess:
		return "No error"
	case StatusNotAvailable:
		return "Service or data is not available"
	case StatusNoSensor:
		return "No sensor connected"
	case StatusNotInitialized:
		return "The device is not initialized"
	case StatusAlreadyRunning:
		return "Service is already running"
	case StatusFeatureNotSupported:
		return "The requested feature is not supported"
	case StatusInconsistentData:
		return "One or more dependent parameters mismatch"
	case StatusTimeout:
		return "Timeout error"
	case StatusReadError:
		return "Error while reading from a device"
	case StatusWriteError:
		return "Error while writing to a device"
	case StatusInsufficientResources:
		return "No memory available"
	case StatusChecksumError:
		return "Checksum error"
	case StatusNoParamExpected:
		return "No parameters expected"
	case StatusNotEnoughParams:
		return "Not enough parameters"
	case StatusUnknownCommand:
		return "Unknown command"
	case StatusFormatError:
		return "Command format error"
	case StatusAccessDenied:
		return "Access denied"
	case StatusAlreadyOpen:
		return "Interface already open"
	case StatusCmdFailed:
		return "Command failed"
	case StatusCmdAborted:
		return "Command aborted"
	case StatusInvalidHandle:
		return "Invalid handle"
	case StatusNotFound:
		return "Device not found"
	case StatusNotOpen:
		return "Device not open"
	case StatusIOError:
		return "General I/O-Error"
	case StatusInvalidParameter:
		return "Invalid parameter"
	case StatusIndexOutOfBounds:
		return "Index out of bounds"
	case StatusCmdPending:
		return "Command is pending..."
	case StatusOverrun:
		return "Data overrun"
	case StatusRangeError:
		return "Value out of range"
	case StatusAxisBlocked:
		return "Axis is blocked"
	case StatusFileExists:
		return "File already exists"
	default:
		return fmt.Sprintf("Unknown error code 0x%02X", uint16(s))
	}
}
