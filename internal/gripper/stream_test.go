package gripper

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func startStreaming(t *testing.T, simOpts SimOptions) (*Engine, *Sim, context.CancelFunc) {
	t.Helper()
	opts := testOptions()
	opts.Mode = ModeStreaming
	opts.TickRate = 50 // 20 ms push interval keeps the tests fast
	sim := NewSim(simOpts)
	eng := New(sim, opts)

	ready := make(chan struct{}, 1)
	eng.OnTelemetry(func(Sample) {
		select {
		case ready <- struct{}{}:
		default:
		}
	})

	ctx, cancel := context.WithCancel(context.Background())
	go eng.Run(ctx)

	select {
	case <-ready:
	case <-time.After(2 * time.Second):
		cancel()
		t.Fatal("no telemetry push arrived")
	}
	t.Cleanup(func() {
		cancel()
		eng.Close()
	})
	return eng, sim, cancel
}

func TestStreamingTelemetryFeedsObservers(t *testing.T) {
	eng, _, _ := startStreaming(t, SimOptions{MotionDelay: 20 * time.Millisecond})

	// The reader has already folded pushes into the cache.
	sample := eng.Latest()
	assert.False(t, sample.Stamp.IsZero())
}

func TestStreamingCommandCorrelation(t *testing.T) {
	eng, sim, _ := startStreaming(t, SimOptions{MotionDelay: 20 * time.Millisecond})

	require.NoError(t, eng.Move(140, 50, false))
	assert.Equal(t, 140.0, sim.Position())

	require.Eventually(t, func() bool {
		return eng.Latest().Position == 140.0
	}, 2*time.Second, 10*time.Millisecond, "pushes must catch up with the new position")
}

func TestStreamingMotionEvents(t *testing.T) {
	opts := testOptions()
	opts.Mode = ModeStreaming
	opts.TickRate = 50
	sim := NewSim(SimOptions{MotionDelay: 50 * time.Millisecond})
	eng := New(sim, opts)
	t.Cleanup(func() { eng.Close() })

	events := make(chan MotionEvent, 16)
	eng.OnMotionEvent(func(ev MotionEvent) { events <- ev })

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go eng.Run(ctx)
	time.Sleep(100 * time.Millisecond)

	require.NoError(t, eng.Move(80, 50, false))

	var got []MotionEvent
	deadline := time.After(time.Second)
	for len(got) < 2 {
		select {
		case ev := <-events:
			got = append(got, ev)
		case <-deadline:
			t.Fatalf("expected moving and stopped events, got %v", got)
		}
	}
	assert.True(t, got[0].Moving)
	assert.Equal(t, StatusCmdPending, got[0].Status)
	assert.False(t, got[1].Moving)
	assert.Equal(t, StatusSuccess, got[1].Status)
}

func TestStreamingStopDrainsStaleAck(t *testing.T) {
	eng, _, _ := startStreaming(t, SimOptions{MotionDelay: 2 * time.Second})

	errCh := make(chan error, 1)
	go func() { errCh <- eng.Move(100, 50, false) }()
	time.Sleep(100 * time.Millisecond)

	require.NoError(t, eng.Stop())

	select {
	case err := <-errCh:
		assert.ErrorIs(t, err, ErrAborted)
	case <-time.After(3 * time.Second):
		t.Fatal("cancelled move did not return")
	}

	require.Eventually(t, func() bool {
		return eng.SetAcceleration(500) == nil
	}, 2*time.Second, 20*time.Millisecond, "guard must release after the stale ack is drained")
}

func TestStreamingSampleTelemetryNeverTouchesTheLink(t *testing.T) {
	eng, sim, _ := startStreaming(t, SimOptions{MotionDelay: 2 * time.Second})

	errCh := make(chan error, 1)
	go func() { errCh <- eng.Move(100, 50, false) }()
	time.Sleep(100 * time.Millisecond)

	// Telemetry stays available mid-motion straight from the cache.
	sample, err := eng.SampleTelemetry()
	require.NoError(t, err)
	assert.False(t, sample.Stamp.IsZero())

	require.NoError(t, eng.Stop())
	<-errCh
	_ = sim
}

func TestStreamingCommandBeforeRunParksUntilReaderOwnsLink(t *testing.T) {
	opts := testOptions()
	opts.Mode = ModeStreaming
	opts.TickRate = 50
	sim := NewSim(SimOptions{MotionDelay: 20 * time.Millisecond})
	eng := New(sim, opts)
	t.Cleanup(func() { eng.Close() })

	// Issued before the reader exists: the command must wait for it
	// instead of reading the link itself.
	errCh := make(chan error, 1)
	go func() { errCh <- eng.Move(90, 50, false) }()
	time.Sleep(50 * time.Millisecond)

	select {
	case err := <-errCh:
		t.Fatalf("command completed with no reader on the link: %v", err)
	default:
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go eng.Run(ctx)

	select {
	case err := <-errCh:
		require.NoError(t, err)
	case <-time.After(3 * time.Second):
		t.Fatal("parked command never resumed after the reader started")
	}
	assert.Equal(t, 90.0, sim.Position())
}

func TestOpeningPushNotifiesExactlyOnce(t *testing.T) {
	sim := NewSim(SimOptions{})
	defer sim.Close()
	eng := New(sim, testOptions())

	var notifications int
	eng.OnTelemetry(func(Sample) { notifications++ })

	counts := map[byte]int{}
	eng.dispatch(Frame{ID: cmdGetOpening, Payload: valueResponse(StatusSuccess, 12)}, counts)
	assert.Equal(t, 1, notifications)
	assert.InDelta(t, 12.0, eng.Latest().Position, 0.001)

	// Speed and force pushes update the cache without notifying.
	eng.dispatch(Frame{ID: cmdGetSpeed, Payload: valueResponse(StatusSuccess, 3)}, counts)
	eng.dispatch(Frame{ID: cmdGetForce, Payload: valueResponse(StatusSuccess, 7)}, counts)
	assert.Equal(t, 1, notifications)

	// A failed read never reaches the cache or the observers.
	eng.dispatch(Frame{ID: cmdGetOpening, Payload: statusPayload(StatusReadError)}, counts)
	assert.Equal(t, 1, notifications)
	assert.InDelta(t, 12.0, eng.Latest().Position, 0.001)
}

func TestStateTextRendering(t *testing.T) {
	assert.Equal(t, "", stateText(0))
	assert.Equal(t, "Fingers Referenced", stateText(stateReferenced))
	assert.Equal(t,
		"Fingers Referenced | The Fingers are currently moving",
		stateText(stateReferenced|stateMoving))
}

func TestSystemStateOf(t *testing.T) {
	payload := append(statusPayload(StatusSuccess), 0x03, 0x00, 0x00, 0x00)
	flags, ok := systemStateOf(payload)
	require.True(t, ok)
	assert.Equal(t, stateReferenced|stateMoving, flags)

	_, ok = systemStateOf(statusPayload(StatusSuccess))
	assert.False(t, ok)
}
