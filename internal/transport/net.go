package transport

import (
	"fmt"
	"net"
	"sync"
	"time"
)

const dialTimeout = 5 * time.Second

// netTransport wraps a TCP or UDP connection. UDP is connected at open
// time so only datagrams from the configured peer are delivered; there is
// no handshake, so a dead peer only shows up as read timeouts.
type netTransport struct {
	conn net.Conn

	mu      sync.Mutex
	timeout time.Duration
}

func openTCP(cfg Config) (Transport, error) {
	addr := fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)
	conn, err := net.DialTimeout("tcp", addr, dialTimeout)
	if err != nil {
		return nil, fmt.Errorf("transport: dial tcp %s: %w", addr, err)
	}
	return &netTransport{conn: conn, timeout: time.Second}, nil
}

func openUDP(cfg Config) (Transport, error) {
	raddr, err := net.ResolveUDPAddr("udp", fmt.Sprintf("%s:%d", cfg.Host, cfg.Port))
	if err != nil {
		return nil, fmt.Errorf("transport: resolve udp peer: %w", err)
	}
	laddr := &net.UDPAddr{Port: cfg.LocalPort}
	conn, err := net.DialUDP("udp", laddr, raddr)
	if err != nil {
		return nil, fmt.Errorf("transport: dial udp %s: %w", raddr, err)
	}
	return &netTransport{conn: conn, timeout: time.Second}, nil
}

func (t *netTransport) Read(p []byte) (int, error) {
	t.mu.Lock()
	d := t.timeout
	t.mu.Unlock()

	if d > 0 {
		if err := t.conn.SetReadDeadline(time.Now().Add(d)); err != nil {
			return 0, err
		}
	} else {
		if err := t.conn.SetReadDeadline(time.Time{}); err != nil {
			return 0, err
		}
	}

	n, err := t.conn.Read(p)
	if err != nil {
		if nerr, ok := err.(net.Error); ok && nerr.Timeout() {
			return n, ErrTimeout
		}
	}
	return n, err
}

func (t *netTransport) Write(p []byte) (int, error) { return t.conn.Write(p) }

func (t *netTransport) SetReadTimeout(d time.Duration) error {
	t.mu.Lock()
	t.timeout = d
	t.mu.Unlock()
	return nil
}

func (t *netTransport) Close() error { return t.conn.Close() }
