// Package swarm drives a Swarm M138 satellite modem over a byte-stream
// transport. The modem speaks an NMEA-like half-duplex protocol: the host
// writes checksummed command sentences and the modem answers with response
// sentences, interleaved with unsolicited event sentences that can arrive
// at any time.
//
// A Modem is a single-owner session object. It is not safe for concurrent
// use; callers that need to share one modem across goroutines must
// serialize access themselves, typically by dedicating one goroutine to
// the modem and communicating with it over channels.
package swarm

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/fieldtelemetry/swarmgw/nmea"
)

// state tracks what the session is currently doing. Overlapping command
// calls are rejected and dispatch passes are suppressed while a command
// wait is in progress, since both sides read and rewrite the same backlog.
type state int

const (
	stateIdle state = iota
	stateCommand
	stateDispatch
)

// Modem is an exclusive session with one M138 device.
type Modem struct {
	cfg       Config
	transport Transport
	log       *slog.Logger

	state   state
	backlog []byte
	// lastCmdErr holds the text of the most recent ERR response.
	lastCmdErr string
	handlers   handlers
	closed     bool
}

// New dials the configured transport and returns a ready session.
func New(ctx context.Context, cfg Config) (*Modem, error) {
	cfg.setDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	transport, err := cfg.Dialer.Dial(ctx)
	if err != nil {
		return nil, fmt.Errorf("swarm: dial: %w", err)
	}
	return &Modem{
		cfg:       cfg,
		transport: transport,
		log:       cfg.Logger,
		backlog:   make([]byte, 0, cfg.BufferSize),
	}, nil
}

// Close releases the underlying transport. Further calls on the session
// return ErrAlreadyClosed.
func (m *Modem) Close() error {
	if m.closed {
		return ErrAlreadyClosed
	}
	m.closed = true
	return m.transport.Close()
}

// CommandError returns the text of the most recent ERR response, e.g.
// "BADPARAM". It is only meaningful immediately after a call returned
// ErrCommandFailed.
func (m *Modem) CommandError() string {
	return m.lastCmdErr
}

// SendCommand writes a framed command without waiting for a reply. Bytes
// already sitting in the transport are drained into the backlog first so
// a later wait cannot match against stale data.
func (m *Modem) SendCommand(command []byte) error {
	if m.closed {
		return ErrAlreadyClosed
	}
	m.drainInto(time.Now().Add(m.cfg.ReceiveWindow))
	if _, err := m.transport.Write(command); err != nil {
		return fmt.Errorf("swarm: write command: %w", err)
	}
	return nil
}

// SendCommandWithResponse writes a framed command and waits for a sentence
// starting with successPrefix or errorPrefix. On success it returns the
// matched response sentence without its trailing newline. An errorPrefix
// match returns ErrCommandFailed with the modem's error text available via
// CommandError. The wait gives up with ErrTimeout after timeout, or with
// the context's error if ctx is cancelled first.
//
// Only one command may be in flight at a time; overlapping calls return
// ErrBusy. Calling from inside an unsolicited event handler is allowed.
func (m *Modem) SendCommandWithResponse(ctx context.Context, command []byte, successPrefix, errorPrefix string, timeout time.Duration) ([]byte, error) {
	if m.closed {
		return nil, ErrAlreadyClosed
	}
	if m.state == stateCommand {
		return nil, ErrBusy
	}
	prev := m.state
	m.state = stateCommand
	defer func() { m.state = prev }()

	if err := m.SendCommand(command); err != nil {
		return nil, err
	}
	return m.waitForResponse(ctx, successPrefix, errorPrefix, timeout)
}

// command frames tag and payload, sends it, and waits for the reply. This
// is the form almost every wrapper method uses.
func (m *Modem) command(ctx context.Context, tag, payload, successPrefix, errorPrefix string, timeout time.Duration) ([]byte, error) {
	return m.SendCommandWithResponse(ctx, nmea.Frame(tag, payload), successPrefix, errorPrefix, timeout)
}

// prefixScanner tracks a running match of target against a byte stream.
// It is a plain forward scanner with no backtracking: a mismatch resets
// the index to zero and the mismatching byte is consumed, not retried.
// startedAt records the backlog offset of the byte that took the index
// from 0 to 1.
type prefixScanner struct {
	target    string
	idx       int
	startedAt int
	seen      bool
}

func (s *prefixScanner) feed(b byte, offset int) {
	if s.seen || s.target == "" {
		return
	}
	if b != s.target[s.idx] {
		// Plain forward scan: a mismatch resets the match, the byte is
		// not retried. A prefix overlapping itself can be missed; the
		// protocol's sentences never do.
		s.idx = 0
		return
	}
	if s.idx == 0 {
		s.startedAt = offset
	}
	s.idx++
	if s.idx == len(s.target) {
		s.seen = true
	}
}

func (m *Modem) waitForResponse(ctx context.Context, successPrefix, errorPrefix string, timeout time.Duration) ([]byte, error) {
	success := prefixScanner{target: successPrefix}
	failure := prefixScanner{target: errorPrefix}

	// The pruner runs on every exit path so stale response text never
	// accumulates across calls.
	defer m.pruneBacklog()

	// Bytes already in the backlog at entry are stale: late replies to
	// earlier commands, or unsolicited sentences kept by the last prune.
	// They stay stored for dispatch but are never matcher input; only
	// bytes arriving after the command was written can be its reply.
	scanned := len(m.backlog)
	feed := func() (done bool) {
		for ; scanned < len(m.backlog); scanned++ {
			b := m.backlog[scanned]
			success.feed(b, scanned)
			failure.feed(b, scanned)
			if b == nmea.Terminator && (success.seen || failure.seen) {
				return true
			}
		}
		return false
	}

	matched := false
	deadline := time.Now().Add(timeout)
	overflowed := false
	for !matched {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if time.Now().After(deadline) {
			return nil, ErrTimeout
		}
		n := m.transport.Available()
		if n <= 0 {
			time.Sleep(m.cfg.PollInterval)
			continue
		}
		chunk := make([]byte, n)
		read, err := m.transport.Read(chunk)
		if err != nil {
			return nil, fmt.Errorf("swarm: read response: %w", err)
		}
		for _, b := range chunk[:read] {
			if len(m.backlog) >= m.cfg.BufferSize {
				// Full buffer: drop the byte but keep looking for the
				// terminator so the wait still resolves.
				if !overflowed {
					m.log.Debug("response buffer full, discarding", "capacity", m.cfg.BufferSize)
					overflowed = true
				}
				if b == nmea.Terminator && (success.seen || failure.seen) {
					matched = true
					break
				}
				continue
			}
			m.backlog = append(m.backlog, b)
		}
		if feed() {
			matched = true
		}
	}

	// An error response wins over a success match inside the same burst.
	if failure.seen {
		frame := m.frameAt(failure.startedAt)
		if err := nmea.Validate(frame); err != nil {
			return nil, err
		}
		m.lastCmdErr = extractCommandError(frame)
		return nil, ErrCommandFailed
	}
	frame := m.frameAt(success.startedAt)
	if err := nmea.Validate(frame); err != nil {
		return nil, err
	}
	response := make([]byte, len(frame))
	copy(response, frame)
	return response, nil
}

// frameAt returns the backlog slice from offset to the next newline,
// exclusive, or to the end of the backlog if none follows.
func (m *Modem) frameAt(offset int) []byte {
	frame := m.backlog[offset:]
	if nl := bytes.IndexByte(frame, nmea.Terminator); nl >= 0 {
		frame = frame[:nl]
	}
	return frame
}

// extractCommandError pulls the error text out of an ERR response such as
// "$DT ERR,BADPARAM*51", capped at commandErrorCap bytes.
func extractCommandError(frame []byte) string {
	comma := bytes.IndexByte(frame, ',')
	if comma < 0 {
		return ""
	}
	text := frame[comma+1:]
	if star := bytes.IndexByte(text, nmea.ChecksumDelim); star >= 0 {
		text = text[:star]
	}
	if len(text) > commandErrorCap {
		text = text[:commandErrorCap]
	}
	return string(text)
}

// drainInto moves bytes currently readable on the transport into the
// backlog until the stream goes quiet or the deadline passes. Bytes past
// the backlog's capacity are discarded.
func (m *Modem) drainInto(deadline time.Time) {
	for time.Now().Before(deadline) {
		n := m.transport.Available()
		if n <= 0 {
			return
		}
		chunk := make([]byte, n)
		read, err := m.transport.Read(chunk)
		if err != nil {
			m.log.Debug("drain read failed", "error", err)
			return
		}
		room := m.cfg.BufferSize - len(m.backlog)
		if read > room {
			m.log.Debug("backlog full, discarding", "dropped", read-room)
			read = room
		}
		m.backlog = append(m.backlog, chunk[:read]...)
	}
}
