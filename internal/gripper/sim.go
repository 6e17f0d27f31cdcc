package gripper

import (
	"encoding/binary"
	"errors"
	"io"
	"math"
	"sync"
	"time"

	"github.com/gripkit/wsg50d/internal/transport"
)

// SimOptions tune the simulated device.
type SimOptions struct {
	Size        float64       // travel range, mm
	MotionDelay time.Duration // time a motion command reports pending before finishing
}

// Sim emulates the gripper at the wire level: it speaks the real frame
// format over an in-memory transport, answers motion commands with a
// pending status followed by a delayed terminal one, honors stop, and
// pushes telemetry when auto updates are requested. It exists so the
// daemon and the tests can run without hardware.
type Sim struct {
	mu   sync.Mutex
	opts SimOptions

	inBuf      []byte // written bytes awaiting a complete frame
	out        chan []byte
	outPartial []byte // outgoing frame bytes a short Read left behind

	readTimeout time.Duration
	closed      bool
	closedCh    chan struct{}

	position   float64
	accel      float64
	forceLimit float64
	referenced bool
	moving     bool
	held       bool
	fastStop   bool

	abort chan struct{} // terminates the in-flight motion with an aborted status

	pushStop map[byte]chan struct{} // running auto-update pumps by command id
}

// NewSim builds a simulated device. Zero options default to the 210 mm
// size class with a 250 ms motion time.
func NewSim(opts SimOptions) *Sim {
	if opts.Size == 0 {
		opts.Size = 210
	}
	if opts.MotionDelay == 0 {
		opts.MotionDelay = 250 * time.Millisecond
	}
	return &Sim{
		opts:     opts,
		out:      make(chan []byte, 64),
		closedCh: make(chan struct{}),
		accel:    500,
		pushStop: make(map[byte]chan struct{}),
	}
}

var _ transport.Transport = (*Sim)(nil)

func (s *Sim) SetReadTimeout(d time.Duration) error {
	s.mu.Lock()
	s.readTimeout = d
	s.mu.Unlock()
	return nil
}

func (s *Sim) Read(p []byte) (int, error) {
	s.mu.Lock()
	if len(s.outPartial) > 0 {
		n := copy(p, s.outPartial)
		s.outPartial = s.outPartial[n:]
		s.mu.Unlock()
		return n, nil
	}
	timeout := s.readTimeout
	s.mu.Unlock()

	var expired <-chan time.Time
	if timeout > 0 {
		t := time.NewTimer(timeout)
		defer t.Stop()
		expired = t.C
	}
	select {
	case b := <-s.out:
		n := copy(p, b)
		if n < len(b) {
			s.mu.Lock()
			s.outPartial = b[n:]
			s.mu.Unlock()
		}
		return n, nil
	case <-expired:
		return 0, transport.ErrTimeout
	case <-s.closedCh:
		return 0, io.EOF
	}
}

func (s *Sim) Write(p []byte) (int, error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return 0, errors.New("sim: closed")
	}
	s.inBuf = append(s.inBuf, p...)
	s.mu.Unlock()

	for {
		s.mu.Lock()
		f, consumed, err := decodeFrame(s.inBuf)
		if consumed > 0 {
			s.inBuf = s.inBuf[consumed:]
		}
		s.mu.Unlock()
		if errors.Is(err, errShortFrame) {
			break
		}
		if err != nil {
			continue
		}
		s.handle(f)
	}
	return len(p), nil
}

func (s *Sim) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	close(s.closedCh)
	return nil
}

// Position returns the simulated opening, for test assertions.
func (s *Sim) Position() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.position
}

func (s *Sim) respond(id byte, payload []byte) {
	select {
	case s.out <- encodeFrame(id, payload):
	case <-s.closedCh:
	default:
		// reader not keeping up; drop like a saturated serial buffer would
	}
}

func statusPayload(st Status) []byte {
	return binary.LittleEndian.AppendUint16(nil, uint16(st))
}

func valueResponse(st Status, v float64) []byte {
	return appendFloat(statusPayload(st), v)
}

func (s *Sim) handle(f Frame) {
	switch f.ID {
	case cmdHoming:
		target := 0.0
		if len(f.Payload) == 1 && HomingDirection(f.Payload[0]) == HomeOpen {
			target = s.opts.Size
		}
		s.startMotion(f.ID, target, func() { s.referenced = true })

	case cmdMove:
		if len(f.Payload) < 9 {
			s.respond(f.ID, statusPayload(StatusNotEnoughParams))
			return
		}
		width := floatAt(f.Payload, 1)
		if f.Payload[0]&moveFlagRelative != 0 {
			s.mu.Lock()
			width += s.position
			s.mu.Unlock()
		}
		if width < 0 || width > s.opts.Size {
			s.respond(f.ID, statusPayload(StatusRangeError))
			return
		}
		s.startMotion(f.ID, width, nil)

	case cmdGrasp:
		if len(f.Payload) < 8 {
			s.respond(f.ID, statusPayload(StatusNotEnoughParams))
			return
		}
		s.startMotion(f.ID, floatAt(f.Payload, 0), func() { s.held = true })

	case cmdRelease:
		if len(f.Payload) < 8 {
			s.respond(f.ID, statusPayload(StatusNotEnoughParams))
			return
		}
		s.startMotion(f.ID, floatAt(f.Payload, 0), func() { s.held = false })

	case cmdStop:
		s.mu.Lock()
		if s.moving && s.abort != nil {
			close(s.abort)
			s.abort = nil
		}
		s.mu.Unlock()
		s.respond(f.ID, statusPayload(StatusSuccess))

	case cmdFastStop:
		s.mu.Lock()
		s.fastStop = true
		if s.moving && s.abort != nil {
			close(s.abort)
			s.abort = nil
		}
		s.mu.Unlock()
		s.respond(f.ID, statusPayload(StatusSuccess))

	case cmdAckFastStop:
		if string(f.Payload) != "ack" {
			s.respond(f.ID, statusPayload(StatusAccessDenied))
			return
		}
		s.mu.Lock()
		s.fastStop = false
		s.mu.Unlock()
		s.respond(f.ID, statusPayload(StatusSuccess))

	case cmdSetAccel:
		if len(f.Payload) < 4 {
			s.respond(f.ID, statusPayload(StatusNotEnoughParams))
			return
		}
		s.mu.Lock()
		s.accel = floatAt(f.Payload, 0)
		s.mu.Unlock()
		s.respond(f.ID, statusPayload(StatusSuccess))

	case cmdGetAccel:
		s.mu.Lock()
		v := s.accel
		s.mu.Unlock()
		s.respond(f.ID, valueResponse(StatusSuccess, v))

	case cmdSetForceLimit:
		if len(f.Payload) < 4 {
			s.respond(f.ID, statusPayload(StatusNotEnoughParams))
			return
		}
		s.mu.Lock()
		s.forceLimit = floatAt(f.Payload, 0)
		s.mu.Unlock()
		s.respond(f.ID, statusPayload(StatusSuccess))

	case cmdGetForceLimit:
		s.mu.Lock()
		v := s.forceLimit
		s.mu.Unlock()
		s.respond(f.ID, valueResponse(StatusSuccess, v))

	case cmdGetSystemState:
		s.respond(f.ID, s.systemStateResponse())

	case cmdGetOpening, cmdGetSpeed, cmdGetForce:
		s.handleRead(f)

	default:
		s.respond(f.ID, statusPayload(StatusUnknownCommand))
	}
}

// startMotion answers with a pending status, then finishes after the
// configured delay unless a stop arrives first.
func (s *Sim) startMotion(id byte, target float64, onDone func()) {
	s.mu.Lock()
	if s.moving {
		s.mu.Unlock()
		s.respond(id, statusPayload(StatusAlreadyRunning))
		return
	}
	abort := make(chan struct{})
	s.moving = true
	s.abort = abort
	s.mu.Unlock()

	s.respond(id, statusPayload(StatusCmdPending))
	go func() {
		select {
		case <-time.After(s.opts.MotionDelay):
			s.mu.Lock()
			s.moving = false
			s.abort = nil
			s.position = target
			if onDone != nil {
				onDone()
			}
			s.mu.Unlock()
			s.respond(id, statusPayload(StatusSuccess))
		case <-abort:
			s.mu.Lock()
			s.moving = false
			s.mu.Unlock()
			s.respond(id, statusPayload(StatusCmdAborted))
		case <-s.closedCh:
		}
	}()
}

// handleRead serves the telemetry commands: a one-shot value for a zero
// interval, a periodic pump otherwise.
func (s *Sim) handleRead(f Frame) {
	var interval uint16
	if len(f.Payload) >= 3 && f.Payload[0]&0x01 != 0 {
		interval = binary.LittleEndian.Uint16(f.Payload[1:3])
	}

	s.mu.Lock()
	if stop, ok := s.pushStop[f.ID]; ok {
		close(stop)
		delete(s.pushStop, f.ID)
	}
	if interval > 0 {
		stop := make(chan struct{})
		s.pushStop[f.ID] = stop
		go s.pump(f.ID, time.Duration(interval)*time.Millisecond, stop)
	}
	s.mu.Unlock()

	s.respond(f.ID, valueResponse(StatusSuccess, s.readValue(f.ID)))
}

func (s *Sim) pump(id byte, interval time.Duration, stop chan struct{}) {
	tick := time.NewTicker(interval)
	defer tick.Stop()
	for {
		select {
		case <-tick.C:
			s.respond(id, valueResponse(StatusSuccess, s.readValue(id)))
		case <-stop:
			return
		case <-s.closedCh:
			return
		}
	}
}

func (s *Sim) readValue(id byte) float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch id {
	case cmdGetOpening:
		return s.position
	case cmdGetSpeed:
		if s.moving {
			return incrementSpeed
		}
		return 0
	case cmdGetForce:
		if s.held {
			return s.forceLimit
		}
		return 0
	}
	return 0
}

func (s *Sim) systemStateResponse() []byte {
	s.mu.Lock()
	var flags uint32
	if s.referenced {
		flags |= stateReferenced
	}
	if s.moving {
		flags |= stateMoving
	}
	if s.held {
		flags |= stateForceControl
	}
	if s.fastStop {
		flags |= stateFastStop
	}
	s.mu.Unlock()
	return binary.LittleEndian.AppendUint32(statusPayload(StatusSuccess), flags)
}

func floatAt(payload []byte, off int) float64 {
	bits := binary.LittleEndian.Uint32(payload[off : off+4])
	return float64(math.Float32frombits(bits))
}
