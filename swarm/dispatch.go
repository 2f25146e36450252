package swarm

import (
	"bytes"
	"time"

	"github.com/fieldtelemetry/swarmgw/nmea"
)

// CheckUnsolicited gathers pending bytes from the backlog and the transport,
// splits them into sentences and delivers recognized unsolicited events to
// the registered handlers. It returns true if at least one event was
// handled.
//
// The call is a no-op while a command or another dispatch pass is in
// progress. Handlers may issue commands; sentences those commands leave
// behind are picked up before the pass ends. Sentences failing checksum
// validation are treated as transport noise and skipped silently.
func (m *Modem) CheckUnsolicited() bool {
	if m.closed || m.state != stateIdle {
		return false
	}
	m.state = stateDispatch
	defer func() { m.state = stateIdle }()

	m.collect()

	handled := false
	for len(m.backlog) > 0 {
		pending := m.backlog
		var carry []byte
		if pending[len(pending)-1] != nmea.Terminator {
			nl := bytes.LastIndexByte(pending, nmea.Terminator)
			if nl < 0 {
				break
			}
			// Keep the trailing partial sentence for the next pass.
			carry = append(carry, pending[nl+1:]...)
			pending = pending[:nl+1]
		}

		// The sentences alias the backlog, and a handler issuing a command
		// rewrites the backlog mid-loop. Copy before dispatching.
		frames := make([][]byte, 0, 4)
		for _, s := range nmea.Sentences(pending) {
			frames = append(frames, bytes.Clone(s))
		}
		m.backlog = append(m.backlog[:0], carry...)

		for _, frame := range frames {
			if err := nmea.Validate(frame); err != nil {
				m.log.Debug("skipping invalid sentence", "error", err)
				continue
			}
			if m.dispatchEvent(string(frame)) {
				handled = true
			} else {
				m.log.Debug("unrecognized sentence", "sentence", string(frame))
			}
		}
	}
	return handled
}

// collect appends freshly arrived transport bytes to the backlog. The
// window restarts whenever data arrives, so a burst in progress is read to
// completion; an idle stream returns after one quiescence interval.
func (m *Modem) collect() {
	deadline := time.Now().Add(m.cfg.ReceiveWindow)
	for time.Now().Before(deadline) {
		n := m.transport.Available()
		if n <= 0 {
			time.Sleep(m.cfg.PollInterval)
			continue
		}
		chunk := make([]byte, n)
		read, err := m.transport.Read(chunk)
		if err != nil {
			m.log.Debug("collect read failed", "error", err)
			return
		}
		room := m.cfg.BufferSize - len(m.backlog)
		if read > room {
			m.log.Debug("backlog full, discarding", "dropped", read-room)
			read = room
		}
		m.backlog = append(m.backlog, chunk[:read]...)
		deadline = time.Now().Add(m.cfg.ReceiveWindow)
	}
}

// pruneBacklog rewrites the backlog keeping only sentences that carry one
// of the unsolicited markers. Everything else is a remnant of a completed
// command exchange, or a corrupt fragment, and is dropped. Pruning an
// already pruned backlog changes nothing.
func (m *Modem) pruneBacklog() {
	if len(m.backlog) == 0 {
		return
	}
	kept := make([]byte, 0, len(m.backlog))
	for _, s := range nmea.Sentences(m.backlog) {
		if isUnsolicited(s) {
			kept = append(kept, s...)
			kept = append(kept, nmea.Terminator)
		}
	}
	m.backlog = append(m.backlog[:0], kept...)
}

func isUnsolicited(sentence []byte) bool {
	for _, marker := range nmea.UnsolicitedMarkers {
		if bytes.Contains(sentence, []byte(marker)) {
			return true
		}
	}
	return false
}
