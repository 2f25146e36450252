package swarm

import (
	"log/slog"
	"time"
)

// Buffer sizing. The backlog and response buffers match the original breakout
// firmware's expectations: a full 192-byte packet arrives as 384 hex
// characters plus framing, so 512 bytes holds any single sentence with room
// for an interleaved status message.
const (
	// DefaultBufferSize is the default capacity of the backlog and of the
	// per-call response buffer.
	DefaultBufferSize = 512

	// MaxPacketBytes is the maximum transmit packet length in binary bytes.
	MaxPacketBytes = 192

	// MaxRate is the maximum unsolicited message rate (interval in seconds)
	// accepted by the modem: 2^31 - 1.
	MaxRate = uint32(0x7FFFFFFF)

	// commandErrorCap bounds the stored modem error text.
	commandErrorCap = 32
)

// Config contains the modem engine settings. Build one with NewConfigBuilder.
type Config struct {
	// Dialer opens the transport during New. Required.
	Dialer Dialer

	// CommandTimeout is the standard response deadline. Message delete, read
	// and transmit commands use their own longer deadlines.
	CommandTimeout  time.Duration
	DeleteTimeout   time.Duration
	ReadTimeout     time.Duration
	TransmitTimeout time.Duration

	// ReceiveWindow is the quiescence interval: how long to keep collecting
	// bytes after the transport goes quiet before a send or a dispatch pass.
	ReceiveWindow time.Duration

	// PollInterval is the sleep between transport polls while waiting.
	PollInterval time.Duration

	// BufferSize is the capacity of the backlog and response buffers.
	BufferSize int

	// Logger receives the engine's debug channel: truncated buffers, pruned
	// sentences, skipped frames. Nil disables debug output.
	Logger *slog.Logger
}

func (c *Config) validate() error {
	if c.Dialer == nil {
		return ErrNoDialer
	}
	return nil
}

func (c *Config) setDefaults() {
	if c.CommandTimeout == 0 {
		c.CommandTimeout = time.Second
	}
	if c.DeleteTimeout == 0 {
		c.DeleteTimeout = 5 * time.Second
	}
	if c.ReadTimeout == 0 {
		c.ReadTimeout = 3 * time.Second
	}
	if c.TransmitTimeout == 0 {
		c.TransmitTimeout = 3 * time.Second
	}
	if c.ReceiveWindow == 0 {
		c.ReceiveWindow = 5 * time.Millisecond
	}
	if c.PollInterval == 0 {
		c.PollInterval = time.Millisecond
	}
	if c.BufferSize == 0 {
		c.BufferSize = DefaultBufferSize
	}
	if c.Logger == nil {
		c.Logger = slog.New(slog.DiscardHandler)
	}
}

// ConfigBuilder assembles a Config fluently.
type ConfigBuilder struct {
	config Config
}

// NewConfigBuilder returns a builder preloaded with nothing; defaults are
// applied during Build.
func NewConfigBuilder() *ConfigBuilder {
	return &ConfigBuilder{}
}

// WithDialer sets the transport dialer. Required.
func (b *ConfigBuilder) WithDialer(d Dialer) *ConfigBuilder {
	b.config.Dialer = d
	return b
}

// WithCommandTimeout sets the standard response deadline.
func (b *ConfigBuilder) WithCommandTimeout(d time.Duration) *ConfigBuilder {
	b.config.CommandTimeout = d
	return b
}

// WithReceiveWindow sets the receive quiescence interval.
func (b *ConfigBuilder) WithReceiveWindow(d time.Duration) *ConfigBuilder {
	b.config.ReceiveWindow = d
	return b
}

// WithPollInterval sets the sleep between transport polls.
func (b *ConfigBuilder) WithPollInterval(d time.Duration) *ConfigBuilder {
	b.config.PollInterval = d
	return b
}

// WithBufferSize sets the backlog and response buffer capacity.
func (b *ConfigBuilder) WithBufferSize(n int) *ConfigBuilder {
	b.config.BufferSize = n
	return b
}

// WithLogger sets the debug logger.
func (b *ConfigBuilder) WithLogger(l *slog.Logger) *ConfigBuilder {
	b.config.Logger = l
	return b
}

// Build validates the configuration and fills in defaults.
func (b *ConfigBuilder) Build() (Config, error) {
	config := b.config
	if err := config.validate(); err != nil {
		return Config{}, err
	}
	config.setDefaults()
	return config, nil
}
