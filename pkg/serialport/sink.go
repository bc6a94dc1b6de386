package serialport

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"

	"go.bug.st/serial"

	"github.com/teslashibe/go-pantilt/pkg/protocol"
)

// ErrClosed is returned by Send after Close.
var ErrClosed = errors.New("serial sink closed")

// Porter defines the minimal interface needed for a serial port.
// This abstraction enables unit testing without real serial hardware.
type Porter interface {
	io.ReadWriter
	io.Closer
}

// Sink receives one control packet per cycle.
type Sink interface {
	Send(p protocol.ControlPacket) error
	Close() error
}

// Stats counts sink traffic.
type Stats struct {
	Packets uint64 `json:"packets"`
	Bytes   uint64 `json:"bytes"`
	Errors  uint64 `json:"errors"`
}

// PortSink writes packets to a serial port.
type PortSink struct {
	path   string
	logger *slog.Logger

	mu     sync.Mutex
	port   Porter
	writer *protocol.PacketWriter
	closed bool

	packets atomic.Uint64
	errors  atomic.Uint64
}

// OpenPort opens the serial port at path.
func OpenPort(path string, opts PortOptions) (serial.Port, error) {
	mode, err := opts.SerialMode()
	if err != nil {
		return nil, err
	}

	port, err := serial.Open(path, mode)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	return port, nil
}

// Open opens the serial port at path and returns a sink writing to it.
func Open(path string, opts PortOptions) (*PortSink, error) {
	port, err := OpenPort(path, opts)
	if err != nil {
		return nil, err
	}
	return NewPortSink(path, port), nil
}

// NewPortSink wraps an already open port.
func NewPortSink(path string, port Porter) *PortSink {
	return &PortSink{
		path:   path,
		logger: slog.Default().With("component", "serialport", "port", path),
		port:   port,
		writer: protocol.NewPacketWriter(port),
	}
}

// Send writes one packet. A write error is returned to the caller; the link
// is not retried.
func (s *PortSink) Send(p protocol.ControlPacket) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrClosed
	}
	if err := s.writer.WritePacket(p); err != nil {
		s.errors.Add(1)
		return fmt.Errorf("write %s: %w", s.path, err)
	}
	s.packets.Add(1)
	return nil
}

// Stats returns traffic counters.
func (s *PortSink) Stats() Stats {
	n := s.packets.Load()
	return Stats{Packets: n, Bytes: n * protocol.PacketSize, Errors: s.errors.Load()}
}

// Close closes the port. It is safe to call more than once.
func (s *PortSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true
	s.logger.Info("closing serial port", "packets", s.packets.Load())
	return s.port.Close()
}

// DiscardSink drops packets. It is used when no actuator is attached
// (--no-serial).
type DiscardSink struct {
	packets atomic.Uint64
	last    atomic.Pointer[protocol.ControlPacket]
}

// NewDiscardSink creates a sink that only counts packets.
func NewDiscardSink() *DiscardSink {
	return &DiscardSink{}
}

// Send records the packet and drops it.
func (d *DiscardSink) Send(p protocol.ControlPacket) error {
	d.packets.Add(1)
	d.last.Store(&p)
	return nil
}

// Last returns the most recent packet.
func (d *DiscardSink) Last() (protocol.ControlPacket, bool) {
	p := d.last.Load()
	if p == nil {
		return protocol.ControlPacket{}, false
	}
	return *p, true
}

// Stats returns traffic counters.
func (d *DiscardSink) Stats() Stats {
	n := d.packets.Load()
	return Stats{Packets: n, Bytes: n * protocol.PacketSize}
}

// Close is a no-op.
func (d *DiscardSink) Close() error { return nil }

// Ports lists the serial ports present on the system.
func Ports() ([]string, error) {
	return serial.GetPortsList()
}

var (
	_ Sink = (*PortSink)(nil)
	_ Sink = (*DiscardSink)(nil)
)
