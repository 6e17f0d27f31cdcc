package gripper

import (
	"context"
	"errors"
	"log"
	"time"
)

// SampleTelemetry returns the freshest telemetry available. Streaming
// Mode serves the push-fed cache. Poll Mode performs the query round
// trips; if a motion command holds the exchange slot it skips the reads
// and serves the cache instead of failing the tick.
func (e *Engine) SampleTelemetry() (Sample, error) {
	if e.failed.Load() {
		return Sample{}, e.fatalError()
	}
	if e.streamingDelivery() {
		return e.snapshot(), nil
	}
	for _, id := range []byte{cmdGetSystemState, cmdGetOpening, cmdGetSpeed, cmdGetForce, cmdGetAccel} {
		f, err := e.issueAndAwait(id, queryPayload(id), false)
		if err != nil {
			if errors.Is(err, ErrAlreadyBusy) {
				return e.snapshot(), nil
			}
			return Sample{}, err
		}
		e.applyTelemetry(f)
	}
	return e.snapshot(), nil
}

// queryPayload builds the request payload for a one-shot read. The
// telemetry commands reuse the auto-update layout with a zero interval;
// the acceleration getter takes no payload.
func queryPayload(id byte) []byte {
	if id == cmdGetAccel || id == cmdGetForceLimit {
		return nil
	}
	return autoUpdatePayload(0)
}

// runPoll drives the telemetry tick until ctx is cancelled or the engine
// fails.
func (e *Engine) runPoll(ctx context.Context) error {
	interval := time.Duration(float64(time.Second) / e.opts.TickRate)
	log.Printf("[gripper] polling telemetry every %v", interval)
	tick := time.NewTicker(interval)
	defer tick.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-e.failedCh:
			return e.fatalError()
		case <-tick.C:
			if _, err := e.SampleTelemetry(); err != nil {
				if e.failed.Load() {
					return e.fatalError()
				}
				log.Printf("[gripper] telemetry tick failed: %v", err)
			}
		}
	}
}
