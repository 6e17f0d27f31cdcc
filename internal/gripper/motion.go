package gripper

import (
	"fmt"
	"log"
)

// Home references the fingers. Direction Default defers to the value
// stored on the device.
func (e *Engine) Home(dir HomingDirection) error {
	log.Printf("[gripper] homing (direction %d)", dir)
	if err := e.motionExchange(cmdHoming, homingPayload(dir)); err != nil {
		return err
	}
	log.Printf("[gripper] homing finished")
	return nil
}

// Move positions the fingers at target mm with the given speed. Position
// is validated against the travel range before anything is sent; speed is
// only sanity-checked, the device clamps it itself.
func (e *Engine) Move(target, speed float64, relative bool) error {
	if err := e.validateTarget(target); err != nil {
		return err
	}
	e.warnSpeed(speed)
	log.Printf("[gripper] moving to %.1f mm at %.1f mm/s (relative=%v)", target, speed, relative)
	if err := e.motionExchange(cmdMove, movePayload(target, speed, relative)); err != nil {
		return err
	}
	log.Printf("[gripper] target position reached")
	return nil
}

// Grasp closes on a part of nominal width mm at the given speed.
func (e *Engine) Grasp(width, speed float64) error {
	if err := e.validateTarget(width); err != nil {
		return err
	}
	e.warnSpeed(speed)
	log.Printf("[gripper] grasping part of width %.1f mm at %.1f mm/s", width, speed)
	if err := e.motionExchange(cmdGrasp, graspPayload(width, speed)); err != nil {
		return err
	}
	e.objectHeld.Store(true)
	log.Printf("[gripper] object grasped correctly")
	return nil
}

// Release opens to width mm and drops the held-object flag.
func (e *Engine) Release(width, speed float64) error {
	if err := e.validateTarget(width); err != nil {
		return err
	}
	e.warnSpeed(speed)
	log.Printf("[gripper] releasing to %.1f mm at %.1f mm/s", width, speed)
	if err := e.motionExchange(cmdRelease, graspPayload(width, speed)); err != nil {
		return err
	}
	e.objectHeld.Store(false)
	log.Printf("[gripper] object released")
	return nil
}

// MoveIncrementally nudges the fingers open or closed by amount mm
// relative to the current opening. The derived target is clamped to the
// travel range; when the clamp binds, the move runs at crawl speed so the
// fingers approach the hard limit gently.
func (e *Engine) MoveIncrementally(dir IncrementDirection, amount float64) error {
	if dir != IncrementOpen && dir != IncrementClose {
		return fmt.Errorf("gripper: unknown increment direction %q", dir)
	}
	if amount < 0 {
		return &ValidationError{Field: "increment", Value: amount, Min: 0, Max: e.opts.Size}
	}
	current, err := e.currentOpening()
	if err != nil {
		return err
	}
	target, speed := incrementTarget(current, amount, dir, e.opts.Size)
	log.Printf("[gripper] incremental %s by %.1f mm: %.1f -> %.1f mm at %.1f mm/s",
		dir, amount, current, target, speed)
	if err := e.motionExchange(cmdMove, movePayload(target, speed, false)); err != nil {
		return err
	}
	log.Printf("[gripper] target position reached")
	return nil
}

func incrementTarget(current, amount float64, dir IncrementDirection, size float64) (float64, float64) {
	if dir == IncrementOpen {
		next := current + amount
		if next >= size {
			return size, nearLimitSpeed
		}
		return next, incrementSpeed
	}
	next := current - amount
	if next <= gripperMinOpen {
		return gripperMinOpen, nearLimitSpeed
	}
	return next, incrementSpeed
}

// currentOpening reads the opening from the cache in Streaming Mode and
// via a round trip in Poll Mode.
func (e *Engine) currentOpening() (float64, error) {
	if e.streamingDelivery() {
		return e.snapshot().Position, nil
	}
	f, err := e.issueAndAwait(cmdGetOpening, autoUpdatePayload(0), false)
	if err != nil {
		return 0, err
	}
	st, ok := f.Status()
	if !ok {
		return 0, fmt.Errorf("gripper: malformed opening response")
	}
	if st != StatusSuccess {
		return 0, &DeviceError{Status: st}
	}
	v, ok := f.Float()
	if !ok {
		return 0, fmt.Errorf("gripper: malformed opening response")
	}
	e.applyTelemetry(f)
	return v, nil
}

func (e *Engine) motionExchange(id byte, payload []byte) error {
	f, err := e.issueAndAwait(id, payload, true)
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

// validateTarget enforces the travel range. Out-of-range positions are
// rejected locally, nothing reaches the wire.
func (e *Engine) validateTarget(target float64) error {
	if target < gripperMinOpen || target > e.opts.Size {
		return &ValidationError{Field: "width", Value: target, Min: gripperMinOpen, Max: e.opts.Size}
	}
	return nil
}

// warnSpeed logs when speed leaves the physical envelope. The value is
// still sent as given, the device firmware clamps it.
func (e *Engine) warnSpeed(speed float64) {
	if speed < speedEnvelopeMin || speed > speedEnvelopeMax {
		log.Printf("[gripper] speed %.1f mm/s outside physical limits [%.1f, %.1f], device will clamp",
			speed, speedEnvelopeMin, speedEnvelopeMax)
	}
}
