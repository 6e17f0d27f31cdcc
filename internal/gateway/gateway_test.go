package gateway

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gripkit/wsg50d/internal/gripper"
)

func newTestServer(t *testing.T, motionDelay time.Duration) (*Server, *gripper.Sim) {
	t.Helper()
	sim := gripper.NewSim(gripper.SimOptions{MotionDelay: motionDelay})
	eng := gripper.New(sim, gripper.Options{
		Size:        210,
		Mode:        gripper.ModePoll,
		SettleDelay: 5 * time.Millisecond,
		ReadCycle:   50 * time.Millisecond,
	})
	t.Cleanup(func() { eng.Close() })
	return New(":0", eng), sim
}

func dialWS(t *testing.T, s *Server) *websocket.Conn {
	t.Helper()
	ts := httptest.NewServer(http.HandlerFunc(s.handleWS))
	t.Cleanup(ts.Close)

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(ts.URL, "http"), nil)
	require.NoError(t, err)

	// First frame is the telemetry snapshot sent on connect.
	var hello Frame
	require.NoError(t, conn.ReadJSON(&hello))
	require.Equal(t, "telemetry", hello.Type)
	return conn
}

func TestDispatchMove(t *testing.T) {
	s, sim := newTestServer(t, 20*time.Millisecond)

	err := s.dispatch(Command{Action: "move", Width: 120, Speed: 50})
	require.NoError(t, err)
	assert.Equal(t, 120.0, sim.Position())
}

func TestDispatchStopAndConfig(t *testing.T) {
	s, _ := newTestServer(t, 20*time.Millisecond)

	assert.NoError(t, s.dispatch(Command{Action: "stop"}))
	assert.NoError(t, s.dispatch(Command{Action: "ack_fault"}))
	assert.NoError(t, s.dispatch(Command{Action: "set_acceleration", Value: 500}))
	assert.NoError(t, s.dispatch(Command{Action: "set_force_limit", Value: 40}))
}

func TestDispatchUnknownAction(t *testing.T) {
	s, _ := newTestServer(t, 20*time.Millisecond)
	assert.Error(t, s.dispatch(Command{Action: "levitate"}))
}

func TestDispatchValidationErrorPropagates(t *testing.T) {
	s, _ := newTestServer(t, 20*time.Millisecond)

	err := s.dispatch(Command{Action: "move", Width: 500, Speed: 50})
	var verr *gripper.ValidationError
	assert.ErrorAs(t, err, &verr)
}

func TestHomingDirectionMapping(t *testing.T) {
	assert.Equal(t, gripper.HomeOpen, homingDirection("open"))
	assert.Equal(t, gripper.HomeClose, homingDirection("close"))
	assert.Equal(t, gripper.HomeDefault, homingDirection(""))
	assert.Equal(t, gripper.HomeDefault, homingDirection("default"))
}

func TestCommandOverWebSocket(t *testing.T) {
	s, sim := newTestServer(t, 20*time.Millisecond)
	conn := dialWS(t, s)
	defer conn.Close()

	require.NoError(t, conn.WriteJSON(Command{ID: "c1", Action: "move", Width: 80, Speed: 50}))

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(3*time.Second)))
	for {
		var f Frame
		require.NoError(t, conn.ReadJSON(&f))
		if f.Type != "result" {
			continue
		}
		require.NotNil(t, f.Result)
		assert.Equal(t, "c1", f.Result.ID)
		assert.True(t, f.Result.OK)
		break
	}
	assert.Equal(t, 80.0, sim.Position())
}

func TestDisconnectDuringCommandDoesNotPanic(t *testing.T) {
	s, sim := newTestServer(t, 300*time.Millisecond)
	conn := dialWS(t, s)

	require.NoError(t, conn.WriteJSON(Command{Action: "move", Width: 80, Speed: 50}))
	time.Sleep(50 * time.Millisecond) // command in flight on the device
	require.NoError(t, conn.Close())

	// The motion still completes; delivering its result to the departed
	// client must be a no-op, not a crash.
	require.Eventually(t, func() bool { return sim.Position() == 80.0 },
		3*time.Second, 20*time.Millisecond)
	time.Sleep(100 * time.Millisecond)

	s.clientsMu.RLock()
	remaining := len(s.clients)
	s.clientsMu.RUnlock()
	assert.Zero(t, remaining)
}

func TestResultForDepartedClientIsDropped(t *testing.T) {
	s, _ := newTestServer(t, 20*time.Millisecond)

	client := &wsClient{id: "gone", send: make(chan []byte), done: make(chan struct{})}
	close(client.done)

	// Must neither panic nor block: the unbuffered send channel has no
	// reader anymore.
	s.runCommand(client, Command{Action: "stop"})
}

func TestBroadcastSkipsDepartedAndSlowClients(t *testing.T) {
	s, _ := newTestServer(t, 20*time.Millisecond)

	gone := &wsClient{id: "gone", send: make(chan []byte), done: make(chan struct{})}
	close(gone.done)
	full := &wsClient{id: "full", send: make(chan []byte, 1), done: make(chan struct{})}
	full.send <- []byte("backlog")

	s.clientsMu.Lock()
	s.clients[gone] = struct{}{}
	s.clients[full] = struct{}{}
	s.clientsMu.Unlock()

	sample := gripper.Sample{Position: 1}
	s.broadcast(Frame{Type: "telemetry", Telemetry: &sample, Stamp: time.Now().UnixMilli()})
}

func TestTelemetryHandler(t *testing.T) {
	s, _ := newTestServer(t, 20*time.Millisecond)
	require.NoError(t, s.dispatch(Command{Action: "move", Width: 75, Speed: 50}))

	// Pull fresh values into the cache first.
	_, err := s.engine.SampleTelemetry()
	require.NoError(t, err)

	rec := httptest.NewRecorder()
	req := httptest.NewRequest("GET", "/api/telemetry", nil)
	s.handleTelemetry(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var sample gripper.Sample
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &sample))
	assert.InDelta(t, 75.0, sample.Position, 0.001)

	rec = httptest.NewRecorder()
	s.handleTelemetry(rec, httptest.NewRequest("POST", "/api/telemetry", nil))
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}
