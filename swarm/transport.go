package swarm

import (
	"context"
	"errors"
	"io"
	"time"

	"go.bug.st/serial"
)

//go:generate go tool mockgen -source=transport.go -destination=mock_transport.go -package=swarm

// Transport is an established, half-duplex byte stream to a Swarm modem.
//
// Unlike a plain io.Reader, a Transport is polled: the engine asks how many
// bytes are ready before reading, and never blocks indefinitely in Read.
// Typical implementations include serial ports, register-addressed bridges,
// or in-memory fakes used for testing.
type Transport interface {
	// Write sends p to the modem and returns the number of bytes written.
	Write(p []byte) (int, error)

	// Available returns the number of bytes ready to be read without
	// blocking. A negative count means the transport is not ready (for
	// example, a bridge that is rate-limiting its polling).
	Available() int

	// Read fills p with up to len(p) ready bytes and returns the number
	// actually read, which may be less than requested.
	Read(p []byte) (int, error)

	// Close releases the transport.
	Close() error
}

// Dialer opens a Transport to a Swarm modem.
//
// Dialer abstracts how the connection is created (serial port, stream
// bridge, or test double) and is used during modem construction only.
type Dialer interface {
	// Dial creates and returns a connected Transport. It may perform
	// blocking operations and should respect cancellation from the context.
	Dial(ctx context.Context) (Transport, error)
}

// SerialBaudRate is the modem's fixed serial baud rate. It cannot be changed.
const SerialBaudRate = 115200

// SerialDialer opens a Swarm modem over a serial port using go.bug.st/serial.
type SerialDialer struct {
	// PortName is the serial device path, e.g. "/dev/ttyUSB0".
	PortName string
	// Mode optionally overrides the serial parameters. When nil, the
	// modem's fixed 115200 8N1 is used.
	Mode *serial.Mode
}

// Dial opens the serial port and wraps it in a polled Transport.
func (d SerialDialer) Dial(ctx context.Context) (Transport, error) {
	if ctx == nil {
		return nil, errors.New("swarm: context is nil")
	}
	if d.PortName == "" {
		return nil, errors.New("swarm: serial port name is required")
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	mode := d.Mode
	if mode == nil {
		mode = &serial.Mode{
			BaudRate: SerialBaudRate,
			DataBits: 8,
			Parity:   serial.NoParity,
			StopBits: serial.OneStopBit,
		}
	}

	port, err := serial.Open(d.PortName, mode)
	if err != nil {
		return nil, err
	}

	// A short read timeout turns the port's blocking Read into the poll
	// the engine expects: Read returns 0 bytes when nothing arrives.
	if err := port.SetReadTimeout(time.Millisecond); err != nil {
		port.Close()
		return nil, err
	}

	return &serialTransport{port: port}, nil
}

// serialTransport adapts a serial.Port to the polled Transport contract.
// The port API has no "bytes waiting" call, so Available tops up a staging
// buffer with a timeout-bounded read and reports what is staged.
type serialTransport struct {
	port  serial.Port
	stage []byte
}

func (t *serialTransport) Write(p []byte) (int, error) {
	return t.port.Write(p)
}

func (t *serialTransport) Available() int {
	if len(t.stage) == 0 {
		buf := make([]byte, 256)
		n, err := t.port.Read(buf)
		if err != nil {
			return -1
		}
		t.stage = append(t.stage, buf[:n]...)
	}
	return len(t.stage)
}

func (t *serialTransport) Read(p []byte) (int, error) {
	if len(t.stage) == 0 {
		return 0, nil
	}
	n := copy(p, t.stage)
	t.stage = t.stage[n:]
	return n, nil
}

func (t *serialTransport) Close() error {
	return t.port.Close()
}

// StreamDialer adapts any established io.ReadWriter (a register bridge, an
// emulator socket, a pipe) to the polled Transport contract. Reads from the
// stream must not block forever when no data is pending; wrap streams that
// do with their own deadline mechanism first.
type StreamDialer struct {
	Stream io.ReadWriter
}

// Dial wraps the stream. It never blocks.
func (d StreamDialer) Dial(ctx context.Context) (Transport, error) {
	if d.Stream == nil {
		return nil, errors.New("swarm: stream is nil")
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return &streamTransport{rw: d.Stream}, nil
}

type streamTransport struct {
	rw    io.ReadWriter
	stage []byte
}

func (t *streamTransport) Write(p []byte) (int, error) {
	return t.rw.Write(p)
}

func (t *streamTransport) Available() int {
	if len(t.stage) == 0 {
		buf := make([]byte, 256)
		n, err := t.rw.Read(buf)
		if err != nil && n == 0 {
			if errors.Is(err, io.EOF) {
				return 0
			}
			return -1
		}
		t.stage = append(t.stage, buf[:n]...)
	}
	return len(t.stage)
}

func (t *streamTransport) Read(p []byte) (int, error) {
	if len(t.stage) == 0 {
		return 0, nil
	}
	n := copy(p, t.stage)
	t.stage = t.stage[n:]
	return n, nil
}

func (t *streamTransport) Close() error {
	if c, ok := t.rw.(io.Closer); ok {
		return c.Close()
	}
	return nil
}
