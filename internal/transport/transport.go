// Package transport provides a uniform duplex byte link to the gripper
// over serial, TCP or UDP. Reads and writes may happen from different
// goroutines; the backends preserve that full-duplex property.
package transport

import (
	"errors"
	"fmt"
	"io"
	"time"
)

// Supported link kinds.
const (
	KindSerial = "serial"
	KindTCP    = "tcp"
	KindUDP    = "udp"
	KindSim    = "sim" // in-process simulated gripper, wired up by the caller
)

// ErrTimeout is returned by Read when no data arrived within the
// configured read timeout. It is the one transport error the protocol
// layer treats as retriable.
var ErrTimeout = errors.New("transport: read timed out")

// Transport is a duplex byte stream to the device. SetReadTimeout bounds
// subsequent Read calls; a timeout surfaces as ErrTimeout, never as a
// short read with nil error.
type Transport interface {
	io.ReadWriteCloser
	SetReadTimeout(d time.Duration) error
}

// Config selects and parameterizes a link kind.
type Config struct {
	Kind string

	// Serial
	Device string
	Baud   int

	// TCP / UDP
	Host      string
	Port      int
	LocalPort int // UDP source port
}

// Endpoint returns a printable description of where the link points.
func (c Config) Endpoint() string {
	if c.Kind == KindSerial {
		return fmt.Sprintf("%s@%d", c.Device, c.Baud)
	}
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// Open connects the configured link. Errors here are fatal at startup;
// there is no retry at this layer.
func Open(cfg Config) (Transport, error) {
	switch cfg.Kind {
	case KindSerial:
		return openSerial(cfg)
	case KindTCP:
		return openTCP(cfg)
	case KindUDP:
		return openUDP(cfg)
	default:
		return nil, fmt.Errorf("transport: unknown kind %q", cfg.Kind)
	}
}
