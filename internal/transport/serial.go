package transport

import (
	"fmt"
	"time"

	"go.bug.st/serial"
)

// serialTransport adapts go.bug.st/serial to the Transport interface.
// The library reports a read timeout as (0, nil); that is normalized to
// ErrTimeout so callers never confuse it with a dead link.
type serialTransport struct {
	port serial.Port
}

func openSerial(cfg Config) (Transport, error) {
	mode := &serial.Mode{
		BaudRate: cfg.Baud,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	}
	port, err := serial.Open(cfg.Device, mode)
	if err != nil {
		return nil, fmt.Errorf("transport: open %s: %w", cfg.Device, err)
	}
	if err := port.SetReadTimeout(time.Second); err != nil {
		port.Close()
		return nil, fmt.Errorf("transport: set timeout on %s: %w", cfg.Device, err)
	}
	return &serialTransport{port: port}, nil
}

func (s *serialTransport) Read(p []byte) (int, error) {
	n, err := s.port.Read(p)
	if n == 0 && err == nil {
		return 0, ErrTimeout
	}
	return n, err
}

func (s *serialTransport) Write(p []byte) (int, error) { return s.port.Write(p) }

func (s *serialTransport) SetReadTimeout(d time.Duration) error {
	return s.port.SetReadTimeout(d)
}

func (s *serialTransport) Close() error { return s.port.Close() }
