package swarm

import "context"

// ScriptTransport is a test helper playing the modem's side of the polled
// transport. Sentences queued with Preload, or returned by OnWrite, become
// readable immediately. It is single-goroutine, like the session that uses
// it.
type ScriptTransport struct {
	// OnWrite, when set, is called with every command written to the
	// transport; whatever it returns is queued for reading.
	OnWrite func(command []byte) []byte

	pending []byte
	writes  [][]byte
	closed  bool
}

// NewScriptTransport creates an empty scripted transport.
// Exported for use in tests.
func NewScriptTransport() *ScriptTransport {
	return &ScriptTransport{}
}

// Preload queues data to be read, as if the modem had sent it.
func (t *ScriptTransport) Preload(data string) {
	t.pending = append(t.pending, data...)
}

// Writes returns every command written so far.
func (t *ScriptTransport) Writes() [][]byte {
	return t.writes
}

// Dialer returns a Dialer handing out this transport.
func (t *ScriptTransport) Dialer() Dialer {
	return scriptDialer{transport: t}
}

func (t *ScriptTransport) Write(p []byte) (int, error) {
	command := make([]byte, len(p))
	copy(command, p)
	t.writes = append(t.writes, command)
	if t.OnWrite != nil {
		t.pending = append(t.pending, t.OnWrite(command)...)
	}
	return len(p), nil
}

func (t *ScriptTransport) Available() int {
	if t.closed {
		return -1
	}
	return len(t.pending)
}

func (t *ScriptTransport) Read(p []byte) (int, error) {
	n := copy(p, t.pending)
	t.pending = t.pending[n:]
	return n, nil
}

func (t *ScriptTransport) Close() error {
	t.closed = true
	return nil
}

type scriptDialer struct {
	transport *ScriptTransport
}

func (d scriptDialer) Dial(_ context.Context) (Transport, error) {
	return d.transport, nil
}
