package gripper

import (
	"errors"
	"io"
	"sync"
	"time"

	"github.com/gripkit/wsg50d/internal/transport"
)

// mockLink is a scriptable in-memory transport: tests queue inbound
// frames (or raw bytes) and inspect what the engine wrote. An optional
// write hook auto-responds per decoded frame.
type mockLink struct {
	mu       sync.Mutex
	incoming chan []byte
	partial  []byte
	timeout  time.Duration

	inBuf   []byte
	sent    []Frame
	onWrite func(Frame)

	closed   bool
	closedCh chan struct{}
}

var _ transport.Transport = (*mockLink)(nil)

func newMockLink() *mockLink {
	return &mockLink{
		incoming: make(chan []byte, 64),
		closedCh: make(chan struct{}),
	}
}

func (m *mockLink) push(id byte, payload []byte) {
	m.incoming <- encodeFrame(id, payload)
}

func (m *mockLink) pushRaw(b []byte) {
	m.incoming <- b
}

func (m *mockLink) SetReadTimeout(d time.Duration) error {
	m.mu.Lock()
	m.timeout = d
	m.mu.Unlock()
	return nil
}

func (m *mockLink) Read(p []byte) (int, error) {
	m.mu.Lock()
	if len(m.partial) > 0 {
		n := copy(p, m.partial)
		m.partial = m.partial[n:]
		m.mu.Unlock()
		return n, nil
	}
	timeout := m.timeout
	m.mu.Unlock()

	var expired <-chan time.Time
	if timeout > 0 {
		t := time.NewTimer(timeout)
		defer t.Stop()
		expired = t.C
	}
	select {
	case b := <-m.incoming:
		n := copy(p, b)
		if n < len(b) {
			m.mu.Lock()
			m.partial = b[n:]
			m.mu.Unlock()
		}
		return n, nil
	case <-expired:
		return 0, transport.ErrTimeout
	case <-m.closedCh:
		return 0, io.EOF
	}
}

func (m *mockLink) Write(p []byte) (int, error) {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return 0, errors.New("mock: closed")
	}
	m.inBuf = append(m.inBuf, p...)
	var decoded []Frame
	for {
		f, consumed, err := decodeFrame(m.inBuf)
		if consumed > 0 {
			m.inBuf = m.inBuf[consumed:]
		}
		if errors.Is(err, errShortFrame) {
			break
		}
		if err != nil {
			continue
		}
		m.sent = append(m.sent, f)
		decoded = append(decoded, f)
	}
	hook := m.onWrite
	m.mu.Unlock()

	if hook != nil {
		for _, f := range decoded {
			hook(f)
		}
	}
	return len(p), nil
}

func (m *mockLink) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil
	}
	m.closed = true
	close(m.closedCh)
	return nil
}

func (m *mockLink) sentFrames() []Frame {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Frame, len(m.sent))
	copy(out, m.sent)
	return out
}

func (m *mockLink) sentCount(id byte) int {
	n := 0
	for _, f := range m.sentFrames() {
		if f.ID == id {
			n++
		}
	}
	return n
}
