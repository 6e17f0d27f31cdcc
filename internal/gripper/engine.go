// Package gripper implements the protocol engine for a motorized gripper:
// frame codec, asynchronous command dispatch with ack correlation, the
// motion-command state machine, and the two operating modes (on-demand
// polling vs. device-pushed streaming telemetry).
package gripper

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gripkit/wsg50d/internal/transport"
)

// Mode fixes who may read the link for the process lifetime.
type Mode string

const (
	// ModePoll: no background reader; telemetry and acks are obtained via
	// explicit round trips, all link access serialized by construction.
	ModePoll Mode = "poll"
	// ModeStreaming: the device pushes telemetry unsolicited and a
	// dedicated reader goroutine demultiplexes pushes and acks.
	ModeStreaming Mode = "streaming"
)

// Physical envelope and travel constants.
const (
	speedEnvelopeMin = 0.1   // mm/s
	speedEnvelopeMax = 420.0 // mm/s
	gripperMinOpen   = 0.0   // mm

	incrementSpeed = 20.0 // mm/s for incremental moves
	nearLimitSpeed = 1.0  // mm/s when the clamp binds at a travel limit
)

// Options configure the engine. Zero values fall back to the defaults of
// the reference hardware (210 mm size class, 5 Hz tick, 30 s deadline).
type Options struct {
	Size            float64 // travel range, one of the two size classes (110 / 210 mm)
	Mode            Mode
	TickRate        float64       // Hz; poll tick or requested push rate
	CommandDeadline time.Duration // absolute, measured from issuance
	SettleDelay     time.Duration // guard hold-off after a motion command ends
	ReadCycle       time.Duration // per-read bound on the link
	GraspingForce   float64       // optional initial grasping force limit, N
	HomingDirection HomingDirection
}

// pendingCommand is the single outstanding exchange. In Streaming Mode it
// is the only state shared between the background reader and the issuing
// goroutine, which is why every cross-field access goes through the
// engine's exchange mutex or the atomics below.
type pendingCommand struct {
	id       byte
	motion   bool
	issuedAt time.Time

	lastStatus Status
	completed  atomic.Bool

	cancelOnce sync.Once
	cancel     chan struct{}
	done       chan Frame
}

// Engine owns the link and drives the protocol. Create one per device
// with New, run its mode controller with Run, then call operations from
// any goroutine.
type Engine struct {
	tr   transport.Transport
	fr   *frameReader
	opts Options

	writeMu sync.Mutex // serializes frame writes on the duplex link

	exchMu  sync.Mutex
	pending *pendingCommand

	sampleMu sync.RWMutex
	sample   Sample

	objectHeld atomic.Bool

	obsMu       sync.Mutex
	telemetryFn []func(Sample)
	motionFn    []func(MotionEvent)

	starting    atomic.Bool // Initialize in progress; exchanges run inline
	readyOnce   sync.Once
	readerReady chan struct{} // closed once the streaming reader owns the link

	failOnce sync.Once
	failed   atomic.Bool
	fatalMu  sync.Mutex
	fatalErr error
	failedCh chan struct{}
	fatalCh  chan error
}

// New wraps an open transport in a protocol engine.
func New(tr transport.Transport, opts Options) *Engine {
	if opts.Size == 0 {
		opts.Size = 210
	}
	if opts.Mode == "" {
		opts.Mode = ModePoll
	}
	if opts.TickRate <= 0 {
		opts.TickRate = 5
	}
	if opts.CommandDeadline <= 0 {
		opts.CommandDeadline = 30 * time.Second
	}
	if opts.SettleDelay <= 0 {
		opts.SettleDelay = 100 * time.Millisecond
	}
	if opts.ReadCycle <= 0 {
		opts.ReadCycle = 500 * time.Millisecond
	}
	return &Engine{
		tr:          tr,
		fr:          newFrameReader(tr),
		opts:        opts,
		readerReady: make(chan struct{}),
		failedCh:    make(chan struct{}),
		fatalCh:     make(chan error, 1),
	}
}

// Mode returns the operating mode fixed at startup.
func (e *Engine) Mode() Mode { return e.opts.Mode }

// Size returns the configured travel range in mm.
func (e *Engine) Size() float64 { return e.opts.Size }

// Fatal delivers the error that terminated the engine. The channel
// receives at most once.
func (e *Engine) Fatal() <-chan error { return e.fatalCh }

// Close releases the link. Safe after a fatal condition.
func (e *Engine) Close() error { return e.tr.Close() }

// Initialize runs the power-up sequence: clear any pending fault, home
// the fingers, then apply the configured grasping-force limit. Must
// complete before Run is called; its exchanges run inline since no
// reader owns the link yet.
func (e *Engine) Initialize() error {
	e.starting.Store(true)
	defer e.starting.Store(false)
	if err := e.AcknowledgeFault(); err != nil {
		return err
	}
	log.Printf("[gripper] ready to use, homing now")
	if err := e.Home(e.opts.HomingDirection); err != nil {
		return err
	}
	if e.opts.GraspingForce > 0 {
		log.Printf("[gripper] setting grasping force limit to %.1f", e.opts.GraspingForce)
		if err := e.SetGraspingForceLimit(e.opts.GraspingForce); err != nil {
			return err
		}
	}
	return nil
}

// Run drives the configured mode until ctx is cancelled or the engine
// fails. In Poll Mode it owns the telemetry tick; in Streaming Mode it
// requests device pushes and becomes the sole reader of the link.
func (e *Engine) Run(ctx context.Context) error {
	if e.opts.Mode == ModeStreaming {
		return e.runStreaming(ctx)
	}
	return e.runPoll(ctx)
}

// OnTelemetry registers an observer for telemetry updates. Observers fire
// only in Streaming Mode and must not block.
func (e *Engine) OnTelemetry(fn func(Sample)) {
	e.obsMu.Lock()
	e.telemetryFn = append(e.telemetryFn, fn)
	e.obsMu.Unlock()
}

// OnMotionEvent registers an observer for moving-state transitions.
// Streaming Mode only.
func (e *Engine) OnMotionEvent(fn func(MotionEvent)) {
	e.obsMu.Lock()
	e.motionFn = append(e.motionFn, fn)
	e.obsMu.Unlock()
}

func (e *Engine) notifyTelemetry(s Sample) {
	e.obsMu.Lock()
	fns := e.telemetryFn
	e.obsMu.Unlock()
	for _, fn := range fns {
		fn(s)
	}
}

func (e *Engine) notifyMotion(ev MotionEvent) {
	e.obsMu.Lock()
	fns := e.motionFn
	e.obsMu.Unlock()
	for _, fn := range fns {
		fn(ev)
	}
}

// Latest returns the cached telemetry without touching the link.
func (e *Engine) Latest() Sample { return e.snapshot() }

// snapshot returns a copy of the latest telemetry.
func (e *Engine) snapshot() Sample {
	e.sampleMu.RLock()
	s := e.sample
	e.sampleMu.RUnlock()
	s.ObjectHeld = e.objectHeld.Load()
	return s
}

// AcknowledgeFault clears a fast-stop condition on the device.
func (e *Engine) AcknowledgeFault() error {
	return e.configExchange(cmdAckFastStop, ackFaultPayload())
}

// SetAcceleration configures the motion acceleration in mm/s².
func (e *Engine) SetAcceleration(v float64) error {
	return e.configExchange(cmdSetAccel, valuePayload(v))
}

// SetGraspingForceLimit configures the grasping force limit in N.
func (e *Engine) SetGraspingForceLimit(v float64) error {
	return e.configExchange(cmdSetForceLimit, valuePayload(v))
}

func (e *Engine) configExchange(id byte, payload []byte) error {
	f, err := e.issueAndAwait(id, payload, false)
	if err != nil {
		return err
	}
	st, ok := f.Status()
	if !ok {
		return fmt.Errorf("gripper: malformed response for 0x%02X", id)
	}
	if st != StatusSuccess {
		return &DeviceError{Status: st}
	}
	return nil
}

// Stop is always permitted. If a motion command is outstanding it is
// cancelled: the waiting caller receives Aborted while the engine keeps
// the single-flight guard until the original command's terminal frame has
// been drained. With nothing outstanding, Stop is a plain round trip.
func (e *Engine) Stop() error {
	if e.failed.Load() {
		return e.fatalError()
	}
	e.exchMu.Lock()
	p := e.pending
	e.exchMu.Unlock()

	if p != nil && p.motion && !p.completed.Load() {
		log.Printf("[gripper] stop: cancelling pending command 0x%02X", p.id)
		p.cancelOnce.Do(func() { close(p.cancel) })
		return nil
	}

	f, err := e.issueAndAwait(cmdStop, nil, false)
	if errors.Is(err, ErrAlreadyBusy) {
		// Guard held by a settling command or a racing exchange; the halt
		// request still goes out, its ack is discarded by the demux.
		return e.send(cmdStop, nil)
	}
	if err != nil {
		return err
	}
	if st, ok := f.Status(); ok && st != StatusSuccess {
		return &DeviceError{Status: st}
	}
	return nil
}

// send encodes and writes one frame. Only the issuing side ever writes;
// writeMu covers the Stop frame racing a command send.
func (e *Engine) send(id byte, payload []byte) error {
	e.writeMu.Lock()
	defer e.writeMu.Unlock()
	if _, err := e.tr.Write(encodeFrame(id, payload)); err != nil {
		return fmt.Errorf("gripper: send 0x%02X: %w", id, err)
	}
	return nil
}

// streamingDelivery reports whether acks for this exchange arrive via
// the background reader. Decided from the mode fixed at startup, never
// from runtime reader state, so a command can never end up reading the
// link concurrently with the streaming reader. The one exception is the
// startup sequence, which by contract finishes before Run starts the
// reader.
func (e *Engine) streamingDelivery() bool {
	return e.opts.Mode == ModeStreaming && !e.starting.Load()
}

// issueAndAwait is the command dispatcher: it takes the single-flight
// guard, sends the frame and blocks until the correlated terminal
// response, cancellation, or the fatal deadline. With streaming
// delivery it first waits for the reader to own the link, so commands
// issued in the window between Initialize and Run park instead of
// reading the link themselves.
func (e *Engine) issueAndAwait(id byte, payload []byte, motion bool) (Frame, error) {
	if e.failed.Load() {
		return Frame{}, e.fatalError()
	}
	streaming := e.streamingDelivery()
	if streaming {
		select {
		case <-e.readerReady:
		case <-e.failedCh:
			return Frame{}, e.fatalError()
		}
	}
	p := &pendingCommand{
		id:       id,
		motion:   motion,
		issuedAt: time.Now(),
		cancel:   make(chan struct{}),
		done:     make(chan Frame, 1),
	}
	e.exchMu.Lock()
	if e.pending != nil {
		e.exchMu.Unlock()
		return Frame{}, ErrAlreadyBusy
	}
	e.pending = p
	e.exchMu.Unlock()

	if err := e.send(id, payload); err != nil {
		e.clearPending(p)
		return Frame{}, e.fail(err)
	}

	if streaming {
		return e.awaitStreaming(p)
	}
	return e.awaitPoll(p)
}

// awaitPoll runs the correlation loop in the calling goroutine. Frames
// for other ids are demultiplexed, never surfaced to this caller.
func (e *Engine) awaitPoll(p *pendingCommand) (Frame, error) {
	deadline := p.issuedAt.Add(e.opts.CommandDeadline)
	for {
		select {
		case <-p.cancel:
			return e.abortPoll(p, deadline)
		default:
		}
		if time.Now().After(deadline) {
			return Frame{}, e.fail(fmt.Errorf("%w (command 0x%02X)", ErrResponseTimeout, p.id))
		}

		f, err := e.fr.next(e.readCycle(deadline))
		if err != nil {
			if errors.Is(err, transport.ErrTimeout) {
				continue
			}
			return Frame{}, e.fail(err)
		}
		if f.ID != p.id {
			e.demux(f)
			continue
		}
		st, ok := f.Status()
		if !ok {
			log.Printf("[gripper] response for 0x%02X too short (%dB)", f.ID, len(f.Payload))
			continue
		}
		p.lastStatus = st
		if st == StatusCmdPending {
			log.Printf("[gripper] command 0x%02X in progress", p.id)
			continue
		}
		p.completed.Store(true)
		e.settleAndClear(p)
		return f, nil
	}
}

// abortPoll handles an observed cancellation: send the halt request, then
// keep consuming frames until the original command's terminal response
// arrives. That stale frame is discarded; surfacing it, or skipping the
// drain, would let the next command misread it as its own ack.
func (e *Engine) abortPoll(p *pendingCommand, deadline time.Time) (Frame, error) {
	log.Printf("[gripper] stop requested, aborting command 0x%02X", p.id)
	if err := e.send(cmdStop, nil); err != nil {
		return Frame{}, e.fail(err)
	}
	for {
		if time.Now().After(deadline) {
			return Frame{}, e.fail(fmt.Errorf("%w (command 0x%02X, while draining)", ErrResponseTimeout, p.id))
		}
		f, err := e.fr.next(e.readCycle(deadline))
		if err != nil {
			if errors.Is(err, transport.ErrTimeout) {
				continue
			}
			return Frame{}, e.fail(err)
		}
		if f.ID != p.id {
			e.demux(f)
			continue
		}
		st, ok := f.Status()
		if !ok || st == StatusCmdPending {
			continue
		}
		p.lastStatus = st
		p.completed.Store(true)
		e.settleAndClear(p)
		return Frame{}, ErrAborted
	}
}

// awaitStreaming blocks on the background reader's delivery. The reader
// owns guard release, including the drain after cancellation.
func (e *Engine) awaitStreaming(p *pendingCommand) (Frame, error) {
	select {
	case f := <-p.done:
		return f, nil
	case <-p.cancel:
		if err := e.send(cmdStop, nil); err != nil {
			return Frame{}, e.fail(err)
		}
		return Frame{}, ErrAborted
	case <-e.failedCh:
		return Frame{}, e.fatalError()
	}
}

// demux routes a frame that does not belong to the current exchange.
func (e *Engine) demux(f Frame) {
	switch f.ID {
	case cmdGetOpening, cmdGetSpeed, cmdGetForce, cmdGetAccel, cmdGetSystemState:
		e.applyTelemetry(f)
	case cmdStop, cmdFastStop:
		// ack for a fire-and-forget halt; nothing to do
	default:
		log.Printf("[gripper] discarding unexpected response 0x%02X (%dB)", f.ID, len(f.Payload))
	}
}

// applyTelemetry folds a successful telemetry response into the cached
// sample and reports whether it was an opening update (the one that
// triggers observer notification).
func (e *Engine) applyTelemetry(f Frame) bool {
	st, ok := f.Status()
	if !ok {
		return false
	}
	if st != StatusSuccess {
		log.Printf("[gripper] telemetry response 0x%02X failed: %s", f.ID, st)
		return false
	}

	if f.ID == cmdGetSystemState {
		flags, ok := systemStateOf(f.Payload)
		if !ok {
			return false
		}
		e.sampleMu.Lock()
		e.sample.StateText = stateText(flags)
		e.sample.Stamp = time.Now()
		e.sampleMu.Unlock()
		return false
	}

	v, ok := f.Float()
	if !ok {
		return false
	}
	e.sampleMu.Lock()
	switch f.ID {
	case cmdGetOpening:
		e.sample.Position = v
	case cmdGetSpeed:
		e.sample.Speed = v
	case cmdGetForce:
		e.sample.Force = v
	case cmdGetAccel:
		e.sample.Acceleration = v
	}
	e.sample.Stamp = time.Now()
	e.sampleMu.Unlock()
	return f.ID == cmdGetOpening
}

// settleAndClear releases the single-flight guard, after the mechanical
// settle delay for motion commands.
func (e *Engine) settleAndClear(p *pendingCommand) {
	if p.motion {
		time.Sleep(e.opts.SettleDelay)
	}
	e.clearPending(p)
}

func (e *Engine) clearPending(p *pendingCommand) {
	e.exchMu.Lock()
	if e.pending == p {
		e.pending = nil
	}
	e.exchMu.Unlock()
}

// readCycle bounds a single receive so cancellation and deadline are
// re-checked regularly, without overshooting the absolute deadline by
// more than one cycle.
func (e *Engine) readCycle(deadline time.Time) time.Duration {
	d := e.opts.ReadCycle
	if remaining := time.Until(deadline); remaining < d {
		d = remaining
	}
	if d < time.Millisecond {
		d = time.Millisecond
	}
	return d
}

// fail latches the fatal condition: the link closes, every subsequent
// operation returns ErrEngineFailed, and the fatal channel fires once.
func (e *Engine) fail(err error) error {
	e.failOnce.Do(func() {
		e.fatalMu.Lock()
		e.fatalErr = err
		e.fatalMu.Unlock()
		e.failed.Store(true)
		close(e.failedCh)
		e.tr.Close()
		e.fatalCh <- err
		log.Printf("[gripper] fatal: %v", err)
	})
	return err
}

func (e *Engine) fatalError() error {
	e.fatalMu.Lock()
	cause := e.fatalErr
	e.fatalMu.Unlock()
	if cause == nil {
		return ErrEngineFailed
	}
	return fmt.Errorf("%w: %v", ErrEngineFailed, cause)
}
