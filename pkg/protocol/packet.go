package protocol

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
)

// PacketSize is the length of an encoded control packet.
const PacketSize = 5

// ErrShortPacket is returned when decoding fewer than PacketSize bytes.
var ErrShortPacket = errors.New("short control packet")

// ControlPacket is the frame sent to the actuator every cycle.
//
// Layout, little-endian, no header, no checksum:
//
//	offset 0  uint8   task kind id
//	offset 1  uint16  goal x
//	offset 3  uint16  goal y
type ControlPacket struct {
	Kind uint8
	X    uint16
	Y    uint16
}

// Encode returns the 5-byte wire form.
func (p ControlPacket) Encode() [PacketSize]byte {
	var b [PacketSize]byte
	b[0] = p.Kind
	binary.LittleEndian.PutUint16(b[1:3], p.X)
	binary.LittleEndian.PutUint16(b[3:5], p.Y)
	return b
}

// AppendTo appends the wire form to b.
func (p ControlPacket) AppendTo(b []byte) []byte {
	b = append(b, p.Kind)
	b = binary.LittleEndian.AppendUint16(b, p.X)
	return binary.LittleEndian.AppendUint16(b, p.Y)
}

// DecodePacket parses the first PacketSize bytes of b.
func DecodePacket(b []byte) (ControlPacket, error) {
	if len(b) < PacketSize {
		return ControlPacket{}, fmt.Errorf("%w: %d bytes", ErrShortPacket, len(b))
	}
	return ControlPacket{
		Kind: b[0],
		X:    binary.LittleEndian.Uint16(b[1:3]),
		Y:    binary.LittleEndian.Uint16(b[3:5]),
	}, nil
}

// PacketFromGoal builds a packet from a goal in actuator space. Coordinates
// are rounded to the nearest integer and saturated to [0, 65535]; NaN
// becomes 0.
func PacketFromGoal(kind uint8, x, y float64) ControlPacket {
	return ControlPacket{Kind: kind, X: saturate(x), Y: saturate(y)}
}

func saturate(v float64) uint16 {
	if math.IsNaN(v) || v <= 0 {
		return 0
	}
	v = math.Round(v)
	if v >= math.MaxUint16 {
		return math.MaxUint16
	}
	return uint16(v)
}

func (p ControlPacket) String() string {
	return fmt.Sprintf("kind=%d x=%d y=%d", p.Kind, p.X, p.Y)
}

// PacketReader reads control packets from a byte stream, as the actuator
// firmware does.
type PacketReader struct {
	r   io.Reader
	buf [PacketSize]byte
}

// NewPacketReader wraps r.
func NewPacketReader(r io.Reader) *PacketReader {
	return &PacketReader{r: r}
}

// Next blocks until a full packet is read. A stream that ends mid-packet
// returns io.ErrUnexpectedEOF.
func (pr *PacketReader) Next() (ControlPacket, error) {
	if _, err := io.ReadFull(pr.r, pr.buf[:]); err != nil {
		return ControlPacket{}, err
	}
	return DecodePacket(pr.buf[:])
}

// PacketWriter writes encoded control packets to a byte stream.
type PacketWriter struct {
	w io.Writer
}

// NewPacketWriter wraps w.
func NewPacketWriter(w io.Writer) *PacketWriter {
	return &PacketWriter{w: w}
}

// WritePacket writes one packet in a single Write call.
func (pw *PacketWriter) WritePacket(p ControlPacket) error {
	b := p.Encode()
	n, err := pw.w.Write(b[:])
	if err != nil {
		return err
	}
	if n != PacketSize {
		return io.ErrShortWrite
	}
	return nil
}
