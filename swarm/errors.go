package swarm

import (
	"errors"

	"github.com/fieldtelemetry/swarmgw/nmea"
)

var (
	// ErrNoDialer is returned when a Modem is constructed without a Dialer.
	//
	// This indicates a configuration error. A Dialer is required in order to
	// establish a connection to the modem.
	ErrNoDialer = errors.New("no dialer configured")

	// ErrNotConnected is returned when an operation is attempted on a Modem
	// whose transport is not established.
	ErrNotConnected = errors.New("modem not connected")

	// ErrAlreadyClosed is returned when an operation is attempted on a Modem
	// that has been closed.
	ErrAlreadyClosed = errors.New("modem already closed")

	// ErrBusy is returned when a command is issued while another command is
	// still waiting for its response. The Modem is a single half-duplex
	// session; overlapping commands would corrupt the shared backlog.
	ErrBusy = errors.New("command already in progress")

	// ErrTimeout is returned when the response deadline elapses without the
	// expected response or error sentence terminating in a newline.
	ErrTimeout = errors.New("response timeout")

	// ErrCommandFailed is returned when the modem answers a command with its
	// own ERR sentence. The decoded error text is available from
	// Modem.CommandError until the next failing command overwrites it.
	ErrCommandFailed = errors.New("modem returned ERR")

	// ErrInvalidFormat is returned when a response sentence is missing its
	// '$' or '*' delimiters or carries non-hex checksum digits.
	ErrInvalidFormat = nmea.ErrInvalidFormat

	// ErrInvalidChecksum is returned when a response sentence fails checksum
	// validation.
	ErrInvalidChecksum = nmea.ErrInvalidChecksum

	// ErrInvalidRate is returned when an unsolicited message rate exceeds the
	// modem's maximum of 2^31 - 1 seconds.
	ErrInvalidRate = errors.New("invalid message rate")

	// ErrBufferFull is returned when a payload cannot fit the modem's maximum
	// packet size or a configured buffer capacity. Capacity overruns that
	// happen mid-wait do not surface this error; they truncate and are
	// reported on the debug log only.
	ErrBufferFull = errors.New("buffer capacity exceeded")
)
