// Package gateway exposes the gripper engine to WebSocket clients:
// telemetry broadcasts out, JSON command messages in.
package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/gripkit/wsg50d/internal/gripper"
)

// Server broadcasts gripper telemetry to WebSocket clients and runs their
// commands against the engine.
type Server struct {
	listenAddr string
	engine     *gripper.Engine

	clients   map[*wsClient]struct{}
	clientsMu sync.RWMutex

	upgrader websocket.Upgrader
}

// wsClient's send channel is never closed; done signals disconnect
// instead, so command goroutines finishing after the client left can
// still attempt delivery safely.
type wsClient struct {
	id   string
	conn *websocket.Conn
	send chan []byte
	done chan struct{}
}

// Frame is the JSON structure sent to all WebSocket clients.
type Frame struct {
	Type      string               `json:"type"` // "telemetry", "motion" or "result"
	Telemetry *gripper.Sample      `json:"telemetry,omitempty"`
	Motion    *gripper.MotionEvent `json:"motion,omitempty"`
	Result    *Result              `json:"result,omitempty"`
	Stamp     int64                `json:"stamp"` // Unix ms
}

// Result reports the outcome of a client command.
type Result struct {
	ID     string `json:"id,omitempty"`
	Action string `json:"action"`
	OK     bool   `json:"ok"`
	Error  string `json:"error,omitempty"`
}

// Command is the JSON message clients send to drive the gripper.
type Command struct {
	ID        string  `json:"id,omitempty"`
	Action    string  `json:"action"`
	Width     float64 `json:"width,omitempty"`
	Speed     float64 `json:"speed,omitempty"`
	Relative  bool    `json:"relative,omitempty"`
	Direction string  `json:"direction,omitempty"` // homing or increment direction
	Amount    float64 `json:"amount,omitempty"`
	Value     float64 `json:"value,omitempty"`
}

// New creates a gateway in front of the engine.
func New(listenAddr string, eng *gripper.Engine) *Server {
	s := &Server{
		listenAddr: listenAddr,
		engine:     eng,
		clients:    make(map[*wsClient]struct{}),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
	eng.OnTelemetry(func(sample gripper.Sample) {
		s.broadcast(Frame{Type: "telemetry", Telemetry: &sample, Stamp: time.Now().UnixMilli()})
	})
	eng.OnMotionEvent(func(ev gripper.MotionEvent) {
		s.broadcast(Frame{Type: "motion", Motion: &ev, Stamp: time.Now().UnixMilli()})
	})
	return s
}

// Run starts the HTTP server. In Poll Mode the engine feeds its cache on
// its own tick and the gateway re-broadcasts it here; in Streaming Mode
// the engine's observers push instead.
func (s *Server) Run(ctx context.Context) error {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.handleWS)
	mux.HandleFunc("/api/telemetry", s.handleTelemetry)

	if s.engine.Mode() == gripper.ModePoll {
		go s.rebroadcastLoop(ctx)
	}

	srv := &http.Server{
		Addr:    s.listenAddr,
		Handler: mux,
	}
	go func() {
		<-ctx.Done()
		shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(shutCtx)
	}()

	log.Printf("[gateway] listening on %s", s.listenAddr)
	err := srv.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

func (s *Server) rebroadcastLoop(ctx context.Context) {
	tick := time.NewTicker(200 * time.Millisecond)
	defer tick.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-tick.C:
			sample := s.engine.Latest()
			if sample.Stamp.IsZero() {
				continue
			}
			s.broadcast(Frame{Type: "telemetry", Telemetry: &sample, Stamp: time.Now().UnixMilli()})
		}
	}
}

func (s *Server) handleTelemetry(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	sample := s.engine.Latest()
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(sample)
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("[ws] upgrade error: %v", err)
		return
	}

	client := &wsClient{
		id:   uuid.NewString(),
		conn: conn,
		send: make(chan []byte, 64),
		done: make(chan struct{}),
	}

	s.clientsMu.Lock()
	s.clients[client] = struct{}{}
	total := len(s.clients)
	s.clientsMu.Unlock()
	log.Printf("[ws] client %s connected (%d total)", client.id, total)

	// Send the current state right away
	sample := s.engine.Latest()
	if data, err := json.Marshal(Frame{Type: "telemetry", Telemetry: &sample, Stamp: time.Now().UnixMilli()}); err == nil {
		client.send <- data
	}

	// Writer goroutine
	go func() {
		defer conn.Close()
		for {
			select {
			case msg := <-client.send:
				if err := conn.WriteMessage(websocket.TextMessage, msg); err != nil {
					return
				}
			case <-client.done:
				return
			}
		}
	}()

	// Reader goroutine
	go func() {
		defer func() {
			s.clientsMu.Lock()
			delete(s.clients, client)
			total := len(s.clients)
			s.clientsMu.Unlock()
			close(client.done)
			log.Printf("[ws] client %s disconnected (%d total)", client.id, total)
		}()
		for {
			_, msg, err := conn.ReadMessage()
			if err != nil {
				break
			}
			var cmd Command
			if err := json.Unmarshal(msg, &cmd); err != nil {
				log.Printf("[ws] client %s sent malformed command: %v", client.id, err)
				continue
			}
			// Commands block until the device reaches a terminal state,
			// so each one runs off the read loop.
			go s.runCommand(client, cmd)
		}
	}()
}

// runCommand executes one client command and reports the outcome back to
// that client only.
func (s *Server) runCommand(client *wsClient, cmd Command) {
	err := s.dispatch(cmd)
	res := Result{ID: cmd.ID, Action: cmd.Action, OK: err == nil}
	if err != nil {
		res.Error = err.Error()
		log.Printf("[ws] client %s: %s failed: %v", client.id, cmd.Action, err)
	}
	data, merr := json.Marshal(Frame{Type: "result", Result: &res, Stamp: time.Now().UnixMilli()})
	if merr != nil {
		return
	}
	select {
	case client.send <- data:
	case <-client.done:
		// client went away before the result could be delivered
	default:
	}
}

func (s *Server) dispatch(cmd Command) error {
	switch cmd.Action {
	case "home":
		return s.engine.Home(homingDirection(cmd.Direction))
	case "move":
		return s.engine.Move(cmd.Width, cmd.Speed, cmd.Relative)
	case "grasp":
		return s.engine.Grasp(cmd.Width, cmd.Speed)
	case "release":
		return s.engine.Release(cmd.Width, cmd.Speed)
	case "increment":
		return s.engine.MoveIncrementally(gripper.IncrementDirection(cmd.Direction), cmd.Amount)
	case "stop":
		return s.engine.Stop()
	case "ack_fault":
		return s.engine.AcknowledgeFault()
	case "set_acceleration":
		return s.engine.SetAcceleration(cmd.Value)
	case "set_force_limit":
		return s.engine.SetGraspingForceLimit(cmd.Value)
	default:
		return errors.New("unknown action " + cmd.Action)
	}
}

func homingDirection(s string) gripper.HomingDirection {
	switch s {
	case "open":
		return gripper.HomeOpen
	case "close":
		return gripper.HomeClose
	}
	return gripper.HomeDefault
}

func (s *Server) broadcast(frame Frame) {
	data, err := json.Marshal(frame)
	if err != nil {
		return
	}
	s.clientsMu.RLock()
	defer s.clientsMu.RUnlock()
	for client := range s.clients {
		select {
		case client.send <- data:
		default:
			// Client too slow, skip
		}
	}
}
