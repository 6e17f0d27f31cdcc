package gripper

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/gripkit/wsg50d/internal/transport"
)

// How often the reader checks that the device is still pushing telemetry.
const rateCheckWindow = 5 * time.Second

// runStreaming requests periodic pushes from the device and then runs the
// reader loop, the sole consumer of the link for the process lifetime.
func (e *Engine) runStreaming(ctx context.Context) error {
	interval := uint16(1000.0 / e.opts.TickRate)
	for _, id := range []byte{cmdGetOpening, cmdGetSpeed, cmdGetForce} {
		if err := e.send(id, autoUpdatePayload(interval)); err != nil {
			return e.fail(err)
		}
	}
	// Parked commands may proceed only from here on: the reader is the
	// sole consumer of the link for the rest of the process lifetime.
	e.readyOnce.Do(func() { close(e.readerReady) })
	log.Printf("[gripper] streaming reader started, %d ms push interval", interval)

	counts := map[byte]int{}
	lastCheck := time.Now()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-e.failedCh:
			return e.fatalError()
		default:
		}
		e.checkPendingDeadline()

		f, err := e.fr.next(e.opts.ReadCycle)
		if err != nil {
			if !errors.Is(err, transport.ErrTimeout) {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				return e.fail(err)
			}
		} else {
			e.dispatch(f, counts)
		}

		if time.Since(lastCheck) >= rateCheckWindow {
			e.supervisePushRates(counts, time.Since(lastCheck))
			counts = map[byte]int{}
			lastCheck = time.Now()
		}
	}
}

// dispatch routes one received frame: telemetry pushes feed the cache,
// frames matching the pending command resolve the exchange, stop acks are
// discarded, anything else is logged.
func (e *Engine) dispatch(f Frame, counts map[byte]int) {
	switch f.ID {
	case cmdGetOpening, cmdGetSpeed, cmdGetForce, cmdGetSystemState:
		counts[f.ID]++
		if e.applyTelemetry(f) {
			e.notifyTelemetry(e.snapshot())
		}
		return
	}

	e.exchMu.Lock()
	p := e.pending
	e.exchMu.Unlock()
	if p != nil && p.id == f.ID && !p.completed.Load() {
		st, ok := f.Status()
		if !ok {
			log.Printf("[gripper] response for 0x%02X too short (%dB)", f.ID, len(f.Payload))
			return
		}
		e.deliverAck(p, f, st)
		return
	}

	switch f.ID {
	case cmdStop, cmdFastStop:
		// ack for a fire-and-forget halt; nothing to do
	default:
		log.Printf("[gripper] received unexpected response 0x%02X (%dB)", f.ID, len(f.Payload))
	}
}

// deliverAck resolves the pending exchange. A cancelled command's
// terminal frame is consumed here and never surfaced; the guard is
// released after the settle delay either way.
func (e *Engine) deliverAck(p *pendingCommand, f Frame, st Status) {
	p.lastStatus = st
	if st == StatusCmdPending {
		if p.motion {
			e.notifyMotion(MotionEvent{Moving: true, Status: st})
		}
		return
	}
	p.completed.Store(true)
	if p.motion {
		e.notifyMotion(MotionEvent{Moving: false, Status: st})
	}
	cancelled := false
	select {
	case <-p.cancel:
		cancelled = true
	default:
	}
	if !cancelled {
		select {
		case p.done <- f:
		default:
		}
	} else {
		log.Printf("[gripper] drained stale terminal frame for cancelled command 0x%02X (%s)", p.id, st)
	}
	go e.settleAndClear(p)
}

// checkPendingDeadline enforces the absolute response deadline from the
// reader, since the waiting goroutine only blocks on channels in
// Streaming Mode.
func (e *Engine) checkPendingDeadline() {
	e.exchMu.Lock()
	p := e.pending
	e.exchMu.Unlock()
	if p == nil || p.completed.Load() {
		return
	}
	if time.Since(p.issuedAt) > e.opts.CommandDeadline {
		e.fail(fmt.Errorf("%w (command 0x%02X)", ErrResponseTimeout, p.id))
	}
}

// supervisePushRates logs when a requested telemetry stream goes silent.
func (e *Engine) supervisePushRates(counts map[byte]int, window time.Duration) {
	for id, name := range map[byte]string{
		cmdGetOpening: "opening",
		cmdGetSpeed:   "speed",
		cmdGetForce:   "force",
	} {
		if counts[id] == 0 {
			log.Printf("[gripper] no %s updates received in %.0fs", name, window.Seconds())
		}
	}
}
