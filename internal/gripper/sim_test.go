package gripper

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// readFrame pulls the next frame the simulator queued.
func readFrame(t *testing.T, s *Sim) Frame {
	t.Helper()
	r := newFrameReader(s)
	f, err := r.next(time.Second)
	require.NoError(t, err)
	return f
}

func TestSimRejectsBadAckToken(t *testing.T) {
	sim := NewSim(SimOptions{})
	defer sim.Close()

	_, err := sim.Write(encodeFrame(cmdAckFastStop, []byte("nak")))
	require.NoError(t, err)

	f := readFrame(t, sim)
	assert.Equal(t, cmdAckFastStop, f.ID)
	st, _ := f.Status()
	assert.Equal(t, StatusAccessDenied, st)
}

func TestSimAnswersUnknownCommand(t *testing.T) {
	sim := NewSim(SimOptions{})
	defer sim.Close()

	_, err := sim.Write(encodeFrame(0x7E, nil))
	require.NoError(t, err)

	f := readFrame(t, sim)
	assert.Equal(t, byte(0x7E), f.ID)
	st, _ := f.Status()
	assert.Equal(t, StatusUnknownCommand, st)
}

func TestSimRejectsSecondMotion(t *testing.T) {
	sim := NewSim(SimOptions{MotionDelay: time.Second})
	defer sim.Close()
	r := newFrameReader(sim)

	_, err := sim.Write(encodeFrame(cmdMove, movePayload(100, 50, false)))
	require.NoError(t, err)
	_, err = sim.Write(encodeFrame(cmdGrasp, graspPayload(50, 30)))
	require.NoError(t, err)

	var statuses []Status
	for i := 0; i < 2; i++ {
		f, err := r.next(time.Second)
		require.NoError(t, err)
		st, _ := f.Status()
		statuses = append(statuses, st)
	}
	assert.Contains(t, statuses, StatusCmdPending)
	assert.Contains(t, statuses, StatusAlreadyRunning)
}

func TestSimIgnoresGarbageBetweenFrames(t *testing.T) {
	sim := NewSim(SimOptions{})
	defer sim.Close()

	junk := []byte{0x13, 0x37, 0xAA}
	_, err := sim.Write(append(junk, encodeFrame(cmdStop, nil)...))
	require.NoError(t, err)

	f := readFrame(t, sim)
	assert.Equal(t, cmdStop, f.ID)
}
