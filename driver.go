package main

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/fieldtelemetry/swarmgw/swarm"
)

// Event is one unsolicited modem message, as streamed to websocket clients.
type Event struct {
	Tag   string    `json:"tag"`
	Data  any       `json:"data"`
	Stamp time.Time `json:"stamp"`
}

// Status is the gateway's view of the modem, assembled from the most recent
// unsolicited messages. Pointer fields are nil until the modem has reported
// that reading at least once.
type Status struct {
	DeviceID   uint32               `json:"deviceId"`
	Firmware   string               `json:"firmware,omitempty"`
	DateTime   *swarm.DateTime      `json:"dateTime,omitempty"`
	Geospatial *swarm.Geospatial    `json:"geospatial,omitempty"`
	FixQuality *swarm.GPSFixQuality `json:"fixQuality,omitempty"`
	Power      *swarm.PowerStatus   `json:"power,omitempty"`
	Updated    time.Time            `json:"updated"`
}

// TransmitRequest describes one message to queue on the modem. Either Text
// or Data must be set; Data wins when both are.
type TransmitRequest struct {
	Text string `json:"text,omitempty"`
	Data []byte `json:"data,omitempty"`

	AppID       uint16 `json:"appId,omitempty"`
	HoldSeconds uint32 `json:"holdSeconds,omitempty"`
	ExpireEpoch uint32 `json:"expireEpoch,omitempty"`
}

type transmitResult struct {
	id  uint64
	err error
}

type transmitJob struct {
	req   TransmitRequest
	reply chan transmitResult
}

// Driver owns the modem. The session is half duplex and not safe for
// concurrent use, so the driver funnels everything through a single
// goroutine: transmit requests arrive on a channel, and between requests it
// periodically folds unsolicited traffic out of the modem.
type Driver struct {
	log   *slog.Logger
	modem *swarm.Modem
	poll  time.Duration

	// onEvent, when set before Run, receives every dispatched
	// unsolicited message.
	onEvent func(Event)

	requests chan transmitJob
	done     chan struct{}

	mu     sync.RWMutex
	status Status
}

// NewDriver creates a driver around an open modem session. Nothing touches
// the modem until Run is called.
func NewDriver(m *swarm.Modem, poll time.Duration, logger *slog.Logger) *Driver {
	if poll <= 0 {
		poll = time.Second
	}
	return &Driver{
		log:      logger,
		modem:    m,
		poll:     poll,
		requests: make(chan transmitJob),
		done:     make(chan struct{}),
	}
}

// OnEvent registers the unsolicited event sink. Must be called before Run.
func (d *Driver) OnEvent(fn func(Event)) {
	d.onEvent = fn
}

// Status returns a snapshot of the modem's last reported state.
func (d *Driver) Status() Status {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.status
}

// Transmit queues a message for transmission and waits for the modem to
// accept it, returning the assigned message ID. Returns ErrNotConnected
// once the driver has stopped.
func (d *Driver) Transmit(ctx context.Context, req TransmitRequest) (uint64, error) {
	job := transmitJob{req: req, reply: make(chan transmitResult, 1)}

	select {
	case d.requests <- job:
	case <-d.done:
		return 0, swarm.ErrNotConnected
	case <-ctx.Done():
		return 0, ctx.Err()
	}

	select {
	case res := <-job.reply:
		return res.id, res.err
	case <-d.done:
		return 0, swarm.ErrNotConnected
	case <-ctx.Done():
		return 0, ctx.Err()
	}
}

// Run services the modem until ctx is cancelled. It registers the
// unsolicited handlers, reads the device identity once, and then alternates
// between transmit requests and unsolicited polling.
func (d *Driver) Run(ctx context.Context) {
	defer close(d.done)

	d.registerHandlers()

	id, err := d.modem.DeviceID(ctx)
	recordCommand("configuration", err)
	if err != nil {
		d.log.Warn("Failed to read device ID", "error", err)
	} else {
		d.mu.Lock()
		d.status.DeviceID = id
		d.mu.Unlock()
	}
	fw, err := d.modem.FirmwareVersion(ctx)
	recordCommand("firmware", err)
	if err != nil {
		d.log.Warn("Failed to read firmware version", "error", err)
	} else {
		d.mu.Lock()
		d.status.Firmware = fw
		d.mu.Unlock()
	}

	ticker := time.NewTicker(d.poll)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case job := <-d.requests:
			job.reply <- d.transmit(ctx, job.req)
		case <-ticker.C:
			d.modem.CheckUnsolicited()
		}
	}
}

func (d *Driver) transmit(ctx context.Context, req TransmitRequest) transmitResult {
	var opts []swarm.TxOption
	if req.AppID != 0 {
		opts = append(opts, swarm.WithAppID(req.AppID))
	}
	if req.HoldSeconds != 0 {
		opts = append(opts, swarm.WithHold(req.HoldSeconds))
	}
	if req.ExpireEpoch != 0 {
		opts = append(opts, swarm.WithExpire(req.ExpireEpoch))
	}

	var (
		id  uint64
		err error
	)
	if len(req.Data) > 0 {
		id, err = d.modem.TransmitBinary(ctx, req.Data, opts...)
	} else {
		id, err = d.modem.TransmitText(ctx, req.Text, opts...)
	}
	recordCommand("transmit", err)
	if err != nil {
		if errors.Is(err, swarm.ErrCommandFailed) {
			d.log.Error("Modem rejected transmit", "error", err, "detail", d.modem.CommandError())
		} else {
			d.log.Error("Transmit failed", "error", err)
		}
	} else {
		d.log.Info("Message queued for transmission", "message_id", id)
	}
	return transmitResult{id: id, err: err}
}

func (d *Driver) publish(tag string, data any) {
	recordEvent(tag)
	if d.onEvent != nil {
		d.onEvent(Event{Tag: tag, Data: data, Stamp: time.Now()})
	}
}

func (d *Driver) touch(update func(*Status)) {
	d.mu.Lock()
	update(&d.status)
	d.status.Updated = time.Now()
	d.mu.Unlock()
}

func (d *Driver) registerHandlers() {
	d.modem.OnDateTime(func(dt swarm.DateTime) {
		d.touch(func(s *Status) { s.DateTime = &dt })
		d.publish("datetime", dt)
	})
	d.modem.OnGeospatial(func(g swarm.Geospatial) {
		d.touch(func(s *Status) { s.Geospatial = &g })
		d.publish("geospatial", g)
	})
	d.modem.OnGPSFixQuality(func(q swarm.GPSFixQuality) {
		d.touch(func(s *Status) { s.FixQuality = &q })
		d.publish("fix_quality", q)
	})
	d.modem.OnPowerStatus(func(p swarm.PowerStatus) {
		d.touch(func(s *Status) { s.Power = &p })
		d.publish("power", p)
	})
	d.modem.OnGPSJamming(func(j swarm.GPSJamming) {
		d.publish("gps_jamming", j)
	})
	d.modem.OnReceiveTest(func(rt swarm.ReceiveTest) {
		d.publish("receive_test", rt)
	})
	d.modem.OnModemStatus(func(st swarm.ModemStatus) {
		d.log.Info("Modem status", "kind", st.Kind.String(), "data", st.Data)
		d.publish("modem_status", st)
	})
	d.modem.OnSleepWake(func(c swarm.WakeCause) {
		d.log.Info("Modem woke up", "cause", c.String())
		d.publish("wake", c.String())
	})
	d.modem.OnReceivedMessage(func(msg swarm.ReceivedMessage) {
		d.publish("message", msg)
	})
	d.modem.OnTransmitReport(func(r swarm.TransmitReport) {
		d.log.Info("Message transmitted", "message_id", r.MessageID, "rssi", r.RSSI)
		d.publish("transmit_report", r)
	})
}
