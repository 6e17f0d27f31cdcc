package gripper

import (
	"encoding/binary"
	"errors"
	"log"
	"math"
	"time"

	"github.com/gripkit/wsg50d/internal/transport"
)

// Wire framing: preamble, command id, little-endian payload size, payload,
// little-endian CCITT-16 checksum over everything before it.
const (
	frameHeaderLen  = 6 // preamble(3) + id(1) + size(2)
	frameTrailerLen = 2 // checksum
	maxPayloadLen   = 1024
)

var framePreamble = []byte{0xAA, 0xAA, 0xAA}

// Frame is one protocol exchange unit after checksum validation.
type Frame struct {
	ID      byte
	Payload []byte
}

// Status extracts the 2-byte status header of a response payload.
func (f Frame) Status() (Status, bool) {
	if len(f.Payload) < 2 {
		return 0, false
	}
	return Status(binary.LittleEndian.Uint16(f.Payload[:2])), true
}

// Float extracts the little-endian float32 value that follows the status
// header in opening/speed/force/acceleration responses.
func (f Frame) Float() (float64, bool) {
	if len(f.Payload) < 6 {
		return 0, false
	}
	bits := binary.LittleEndian.Uint32(f.Payload[2:6])
	return float64(math.Float32frombits(bits)), true
}

// encodeFrame builds the outgoing wire form of a command.
func encodeFrame(id byte, payload []byte) []byte {
	buf := make([]byte, 0, frameHeaderLen+len(payload)+frameTrailerLen)
	buf = append(buf, framePreamble...)
	buf = append(buf, id)
	buf = binary.LittleEndian.AppendUint16(buf, uint16(len(payload)))
	buf = append(buf, payload...)
	sum := crc16(0xFFFF, buf)
	buf = binary.LittleEndian.AppendUint16(buf, sum)
	return buf
}

// decodeFrame tries to decode one frame from the front of buf. It returns
// the number of bytes consumed; on errShortFrame nothing is consumed and
// the caller reads more, on errCorruptFrame the consumed bytes are the
// garbage to skip before re-synchronizing.
func decodeFrame(buf []byte) (Frame, int, error) {
	if len(buf) < frameHeaderLen {
		return Frame{}, 0, errShortFrame
	}
	if buf[0] != 0xAA || buf[1] != 0xAA || buf[2] != 0xAA {
		// Skip to the next candidate preamble byte.
		skip := 1
		for skip < len(buf) && buf[skip] != 0xAA {
			skip++
		}
		return Frame{}, skip, errCorruptFrame
	}
	size := int(binary.LittleEndian.Uint16(buf[4:6]))
	if size > maxPayloadLen {
		return Frame{}, 1, errCorruptFrame
	}
	total := frameHeaderLen + size + frameTrailerLen
	if len(buf) < total {
		return Frame{}, 0, errShortFrame
	}
	if crc16(0xFFFF, buf[:total]) != 0 {
		return Frame{}, 1, errCorruptFrame
	}
	payload := make([]byte, size)
	copy(payload, buf[frameHeaderLen:frameHeaderLen+size])
	return Frame{ID: buf[3], Payload: payload}, total, nil
}

// frameReader accumulates bytes from the transport and yields validated
// frames, re-synchronizing on the preamble after corruption. It is the
// single reader of the link; whichever component owns it (the primary
// context in Poll Mode, the background reader in Streaming Mode) is the
// only one allowed to call next.
type frameReader struct {
	tr  transport.Transport
	buf []byte
}

func newFrameReader(tr transport.Transport) *frameReader {
	return &frameReader{tr: tr}
}

// next returns the next valid frame, blocking up to timeout for bytes to
// arrive. Checksum failures and framing garbage are logged and skipped,
// never surfaced; transport.ErrTimeout and I/O errors pass through.
func (r *frameReader) next(timeout time.Duration) (Frame, error) {
	deadline := time.Now().Add(timeout)
	for {
		for {
			f, consumed, err := decodeFrame(r.buf)
			if err == nil {
				r.buf = r.buf[consumed:]
				return f, nil
			}
			if errors.Is(err, errCorruptFrame) {
				log.Printf("[gripper] dropping %d corrupt byte(s) from link", consumed)
				r.buf = r.buf[consumed:]
				continue
			}
			break // errShortFrame: need more bytes
		}

		remaining := time.Until(deadline)
		if remaining <= 0 {
			return Frame{}, transport.ErrTimeout
		}
		if err := r.tr.SetReadTimeout(remaining); err != nil {
			return Frame{}, err
		}
		chunk := make([]byte, 256)
		n, err := r.tr.Read(chunk)
		if n > 0 {
			r.buf = append(r.buf, chunk[:n]...)
			continue
		}
		if err != nil {
			return Frame{}, err
		}
	}
}
