package swarm

import (
	"context"
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"

	"github.com/fieldtelemetry/swarmgw/nmea"
)

// ConfigurationSettings is the device identity reported by $CS.
type ConfigurationSettings struct {
	DeviceID   uint32
	DeviceName string
}

// ConfigurationSettings reads the modem's device ID and name.
func (m *Modem) ConfigurationSettings(ctx context.Context) (ConfigurationSettings, error) {
	resp, err := m.command(ctx, nmea.TagConfiguration, "", "$CS DI=0x", "$CS ERR", m.cfg.CommandTimeout)
	if err != nil {
		return ConfigurationSettings{}, err
	}
	payload, ok := eventPayload(string(resp), "$CS ")
	if !ok {
		return ConfigurationSettings{}, ErrInvalidFormat
	}
	// DI=0x000e57,DN=M138
	di, dn, ok := strings.Cut(payload, ",")
	if !ok {
		return ConfigurationSettings{}, ErrInvalidFormat
	}
	idHex, ok := strings.CutPrefix(di, "DI=0x")
	if !ok {
		return ConfigurationSettings{}, ErrInvalidFormat
	}
	id, err := strconv.ParseUint(idHex, 16, 32)
	if err != nil {
		return ConfigurationSettings{}, ErrInvalidFormat
	}
	name, ok := strings.CutPrefix(dn, "DN=")
	if !ok {
		return ConfigurationSettings{}, ErrInvalidFormat
	}
	return ConfigurationSettings{DeviceID: uint32(id), DeviceName: name}, nil
}

// DeviceID reads the modem's 32-bit device ID.
func (m *Modem) DeviceID(ctx context.Context) (uint32, error) {
	cs, err := m.ConfigurationSettings(ctx)
	return cs.DeviceID, err
}

// IsConnected reports whether the modem answers a $CS query.
func (m *Modem) IsConnected(ctx context.Context) bool {
	_, err := m.ConfigurationSettings(ctx)
	return err == nil
}

// FirmwareVersion reads the modem's firmware version string, e.g.
// "2021-07-16-00:10:21,v1.1.0".
func (m *Modem) FirmwareVersion(ctx context.Context) (string, error) {
	resp, err := m.command(ctx, nmea.TagFirmware, "", "$FV ", "$FV ERR", m.cfg.CommandTimeout)
	if err != nil {
		return "", err
	}
	payload, ok := eventPayload(string(resp), "$FV ")
	if !ok {
		return "", ErrInvalidFormat
	}
	return payload, nil
}

// DateTime queries the modem's current date and time ("@" form).
func (m *Modem) DateTime(ctx context.Context) (DateTime, error) {
	resp, err := m.command(ctx, nmea.TagDateTime, "@", "$DT ", "$DT ERR", m.cfg.CommandTimeout)
	if err != nil {
		return DateTime{}, err
	}
	payload, ok := eventPayload(string(resp), "$DT ")
	if !ok {
		return DateTime{}, ErrInvalidFormat
	}
	dt, ok := decodeDateTime(payload)
	if !ok {
		return DateTime{}, ErrInvalidFormat
	}
	return dt, nil
}

// GPSJamming queries the current jamming/spoofing indication.
func (m *Modem) GPSJamming(ctx context.Context) (GPSJamming, error) {
	resp, err := m.command(ctx, nmea.TagGPSJamming, "@", "$GJ ", "$GJ ERR", m.cfg.CommandTimeout)
	if err != nil {
		return GPSJamming{}, err
	}
	payload, ok := eventPayload(string(resp), "$GJ ")
	if !ok {
		return GPSJamming{}, ErrInvalidFormat
	}
	gj, ok := decodeGPSJamming(payload)
	if !ok {
		return GPSJamming{}, ErrInvalidFormat
	}
	return gj, nil
}

// Geospatial queries the current position fix.
func (m *Modem) Geospatial(ctx context.Context) (Geospatial, error) {
	resp, err := m.command(ctx, nmea.TagGeospatial, "@", "$GN ", "$GN ERR", m.cfg.CommandTimeout)
	if err != nil {
		return Geospatial{}, err
	}
	payload, ok := eventPayload(string(resp), "$GN ")
	if !ok {
		return Geospatial{}, ErrInvalidFormat
	}
	gn, ok := decodeGeospatial(payload)
	if !ok {
		return Geospatial{}, ErrInvalidFormat
	}
	return gn, nil
}

// GPSFixQuality queries the current fix quality.
func (m *Modem) GPSFixQuality(ctx context.Context) (GPSFixQuality, error) {
	resp, err := m.command(ctx, nmea.TagGPSFixQuality, "@", "$GS ", "$GS ERR", m.cfg.CommandTimeout)
	if err != nil {
		return GPSFixQuality{}, err
	}
	payload, ok := eventPayload(string(resp), "$GS ")
	if !ok {
		return GPSFixQuality{}, ErrInvalidFormat
	}
	gs, ok := decodeGPSFixQuality(payload)
	if !ok {
		return GPSFixQuality{}, ErrInvalidFormat
	}
	return gs, nil
}

// PowerStatus queries the modem's power report.
func (m *Modem) PowerStatus(ctx context.Context) (PowerStatus, error) {
	resp, err := m.command(ctx, nmea.TagPowerStatus, "@", "$PW ", "$PW ERR", m.cfg.CommandTimeout)
	if err != nil {
		return PowerStatus{}, err
	}
	payload, ok := eventPayload(string(resp), "$PW ")
	if !ok {
		return PowerStatus{}, ErrInvalidFormat
	}
	pw, ok := decodePowerStatus(payload)
	if !ok {
		return PowerStatus{}, ErrInvalidFormat
	}
	return pw, nil
}

// Temperature reads the modem CPU temperature in degrees C.
func (m *Modem) Temperature(ctx context.Context) (float64, error) {
	pw, err := m.PowerStatus(ctx)
	return pw.Temperature, err
}

// ReceiveTest queries the most recent receive test result.
func (m *Modem) ReceiveTest(ctx context.Context) (ReceiveTest, error) {
	resp, err := m.command(ctx, nmea.TagReceiveTest, "@", "$RT ", "$RT ERR", m.cfg.CommandTimeout)
	if err != nil {
		return ReceiveTest{}, err
	}
	payload, ok := eventPayload(string(resp), "$RT ")
	if !ok {
		return ReceiveTest{}, ErrInvalidFormat
	}
	rt, ok := decodeReceiveTest(payload)
	if !ok {
		return ReceiveTest{}, ErrInvalidFormat
	}
	return rt, nil
}

// queryRate asks for a tag's unsolicited repeat rate in seconds ("?" form).
func (m *Modem) queryRate(ctx context.Context, tag string) (uint32, error) {
	resp, err := m.command(ctx, tag, "?", "$"+tag+" ", "$"+tag+" ERR", m.cfg.CommandTimeout)
	if err != nil {
		return 0, err
	}
	payload, ok := eventPayload(string(resp), "$"+tag+" ")
	if !ok {
		return 0, ErrInvalidFormat
	}
	rate, err := strconv.ParseUint(payload, 10, 32)
	if err != nil {
		return 0, ErrInvalidFormat
	}
	return uint32(rate), nil
}

// setRate sets a tag's unsolicited repeat rate. Zero disables the messages.
func (m *Modem) setRate(ctx context.Context, tag string, rate uint32) error {
	if rate > MaxRate {
		return ErrInvalidRate
	}
	_, err := m.command(ctx, tag, strconv.FormatUint(uint64(rate), 10),
		"$"+tag+" OK*", "$"+tag+" ERR", m.cfg.CommandTimeout)
	return err
}

// DateTimeRate reads the $DT repeat rate in seconds.
func (m *Modem) DateTimeRate(ctx context.Context) (uint32, error) {
	return m.queryRate(ctx, nmea.TagDateTime)
}

// SetDateTimeRate sets the $DT repeat rate; zero disables.
func (m *Modem) SetDateTimeRate(ctx context.Context, rate uint32) error {
	return m.setRate(ctx, nmea.TagDateTime, rate)
}

// GPSJammingRate reads the $GJ repeat rate in seconds.
func (m *Modem) GPSJammingRate(ctx context.Context) (uint32, error) {
	return m.queryRate(ctx, nmea.TagGPSJamming)
}

// SetGPSJammingRate sets the $GJ repeat rate; zero disables.
func (m *Modem) SetGPSJammingRate(ctx context.Context, rate uint32) error {
	return m.setRate(ctx, nmea.TagGPSJamming, rate)
}

// GeospatialRate reads the $GN repeat rate in seconds.
func (m *Modem) GeospatialRate(ctx context.Context) (uint32, error) {
	return m.queryRate(ctx, nmea.TagGeospatial)
}

// SetGeospatialRate sets the $GN repeat rate; zero disables.
func (m *Modem) SetGeospatialRate(ctx context.Context, rate uint32) error {
	return m.setRate(ctx, nmea.TagGeospatial, rate)
}

// GPSFixQualityRate reads the $GS repeat rate in seconds.
func (m *Modem) GPSFixQualityRate(ctx context.Context) (uint32, error) {
	return m.queryRate(ctx, nmea.TagGPSFixQuality)
}

// SetGPSFixQualityRate sets the $GS repeat rate; zero disables.
func (m *Modem) SetGPSFixQualityRate(ctx context.Context, rate uint32) error {
	return m.setRate(ctx, nmea.TagGPSFixQuality, rate)
}

// PowerStatusRate reads the $PW repeat rate in seconds.
func (m *Modem) PowerStatusRate(ctx context.Context) (uint32, error) {
	return m.queryRate(ctx, nmea.TagPowerStatus)
}

// SetPowerStatusRate sets the $PW repeat rate; zero disables.
func (m *Modem) SetPowerStatusRate(ctx context.Context, rate uint32) error {
	return m.setRate(ctx, nmea.TagPowerStatus, rate)
}

// ReceiveTestRate reads the $RT repeat rate in seconds.
func (m *Modem) ReceiveTestRate(ctx context.Context) (uint32, error) {
	return m.queryRate(ctx, nmea.TagReceiveTest)
}

// SetReceiveTestRate sets the $RT repeat rate; zero disables.
func (m *Modem) SetReceiveTestRate(ctx context.Context, rate uint32) error {
	return m.setRate(ctx, nmea.TagReceiveTest, rate)
}

// PowerOff puts the modem into its lowest power state. Power must be
// cycled, or Restart called, before it accepts further commands.
func (m *Modem) PowerOff(ctx context.Context) error {
	_, err := m.command(ctx, nmea.TagPowerOff, "", "$PO OK*", "$PO ERR", m.cfg.CommandTimeout)
	return err
}

// Restart reboots the modem. With clearDatabase the modem also erases its
// message database.
func (m *Modem) Restart(ctx context.Context, clearDatabase bool) error {
	payload := ""
	if clearDatabase {
		payload = "deletedb"
	}
	_, err := m.command(ctx, nmea.TagRestart, payload, "$RS OK*", "$RS ERR", m.cfg.CommandTimeout)
	return err
}

// Sleep puts the modem to sleep for the given number of seconds.
func (m *Modem) Sleep(ctx context.Context, seconds uint32) error {
	_, err := m.command(ctx, nmea.TagSleep, fmt.Sprintf("S=%d", seconds),
		"$SL OK*", "$SL ERR", m.cfg.CommandTimeout)
	return err
}

// SleepUntil puts the modem to sleep until the given UTC date and time.
func (m *Modem) SleepUntil(ctx context.Context, until DateTime) error {
	payload := fmt.Sprintf("U=%04d-%02d-%02dT%02d:%02d:%02d",
		until.Year, until.Month, until.Day, until.Hour, until.Minute, until.Second)
	_, err := m.command(ctx, nmea.TagSleep, payload, "$SL OK*", "$SL ERR", m.cfg.CommandTimeout)
	return err
}

// RxMessageCount returns the number of received messages held by the
// modem; with unread set, only the unread ones are counted.
func (m *Modem) RxMessageCount(ctx context.Context, unread bool) (int, error) {
	payload := "C=*"
	if unread {
		payload = "C=U"
	}
	resp, err := m.command(ctx, nmea.TagRxManagement, payload, "$MM ", "$MM ERR", m.cfg.ReadTimeout)
	if err != nil {
		return 0, err
	}
	return parseCount(string(resp), "$MM ")
}

// DeleteRxMessage deletes the received message with the given ID.
func (m *Modem) DeleteRxMessage(ctx context.Context, id uint64) error {
	_, err := m.command(ctx, nmea.TagRxManagement, "D="+strconv.FormatUint(id, 10),
		"$MM DELETED", "$MM ERR", m.cfg.DeleteTimeout)
	return err
}

// DeleteAllRxMessages deletes all received messages; with readOnly set,
// only the already-read ones.
func (m *Modem) DeleteAllRxMessages(ctx context.Context, readOnly bool) error {
	payload := "D=*"
	if readOnly {
		payload = "D=R"
	}
	_, err := m.command(ctx, nmea.TagRxManagement, payload, "$MM DELETED", "$MM ERR", m.cfg.DeleteTimeout)
	return err
}

// MarkRxMessageRead marks the received message with the given ID as read.
func (m *Modem) MarkRxMessageRead(ctx context.Context, id uint64) error {
	_, err := m.command(ctx, nmea.TagRxManagement, "M="+strconv.FormatUint(id, 10),
		"$MM MARKED", "$MM ERR", m.cfg.ReadTimeout)
	return err
}

// MarkAllRxMessagesRead marks every received message as read.
func (m *Modem) MarkAllRxMessagesRead(ctx context.Context) error {
	_, err := m.command(ctx, nmea.TagRxManagement, "M=*", "$MM MARKED", "$MM ERR", m.cfg.ReadTimeout)
	return err
}

// MessageNotifications reports whether unsolicited $RD notifications are
// enabled.
func (m *Modem) MessageNotifications(ctx context.Context) (bool, error) {
	resp, err := m.command(ctx, nmea.TagRxManagement, "N=?", "$MM N=", "$MM ERR", m.cfg.CommandTimeout)
	if err != nil {
		return false, err
	}
	payload, ok := eventPayload(string(resp), "$MM N=")
	if !ok || payload == "" {
		return false, ErrInvalidFormat
	}
	return payload[0] == 'E', nil
}

// SetMessageNotifications enables or disables unsolicited $RD
// notifications.
func (m *Modem) SetMessageNotifications(ctx context.Context, enable bool) error {
	payload := "N=D"
	if enable {
		payload = "N=E"
	}
	_, err := m.command(ctx, nmea.TagRxManagement, payload, "$MM OK*", "$MM ERR", m.cfg.CommandTimeout)
	return err
}

// StoredMessage is a message held in the modem's received-message store.
// Data is the raw ASCII-hex payload as stored.
type StoredMessage struct {
	AppID     uint16
	Data      string
	MessageID uint64
	Epoch     uint32
}

// Payload decodes the ASCII-hex message data.
func (s StoredMessage) Payload() ([]byte, error) {
	return hex.DecodeString(s.Data)
}

// ReadMessage reads the stored message with the given ID and marks it read.
func (m *Modem) ReadMessage(ctx context.Context, id uint64) (StoredMessage, error) {
	return m.readStored(ctx, "R="+strconv.FormatUint(id, 10))
}

// ReadOldestMessage reads the oldest unread message and marks it read.
func (m *Modem) ReadOldestMessage(ctx context.Context) (StoredMessage, error) {
	return m.readStored(ctx, "R=O")
}

// ReadNewestMessage reads the newest unread message and marks it read.
func (m *Modem) ReadNewestMessage(ctx context.Context) (StoredMessage, error) {
	return m.readStored(ctx, "R=N")
}

// ListMessage reads the stored message with the given ID without changing
// its read state.
func (m *Modem) ListMessage(ctx context.Context, id uint64) (StoredMessage, error) {
	return m.readStored(ctx, "L="+strconv.FormatUint(id, 10))
}

func (m *Modem) readStored(ctx context.Context, payload string) (StoredMessage, error) {
	resp, err := m.command(ctx, nmea.TagRxManagement, payload, "$MM AI=", "$MM ERR", m.cfg.ReadTimeout)
	if err != nil {
		return StoredMessage{}, err
	}
	// AI=appID,hexdata,msg_id,epoch
	body, ok := eventPayload(string(resp), "$MM AI=")
	if !ok {
		return StoredMessage{}, ErrInvalidFormat
	}
	fields := strings.Split(body, ",")
	if len(fields) != 4 {
		return StoredMessage{}, ErrInvalidFormat
	}
	appID, err := strconv.ParseUint(fields[0], 10, 16)
	if err != nil {
		return StoredMessage{}, ErrInvalidFormat
	}
	id, err := strconv.ParseUint(fields[2], 10, 64)
	if err != nil {
		return StoredMessage{}, ErrInvalidFormat
	}
	epoch, err := strconv.ParseUint(fields[3], 10, 32)
	if err != nil {
		return StoredMessage{}, ErrInvalidFormat
	}
	return StoredMessage{
		AppID:     uint16(appID),
		Data:      fields[1],
		MessageID: id,
		Epoch:     uint32(epoch),
	}, nil
}

// UnsentMessageCount returns the number of messages queued for
// transmission.
func (m *Modem) UnsentMessageCount(ctx context.Context) (int, error) {
	resp, err := m.command(ctx, nmea.TagTxManagement, "C=U", "$MT ", "$MT ERR", m.cfg.ReadTimeout)
	if err != nil {
		return 0, err
	}
	return parseCount(string(resp), "$MT ")
}

// DeleteTxMessage removes the queued message with the given ID.
func (m *Modem) DeleteTxMessage(ctx context.Context, id uint64) error {
	_, err := m.command(ctx, nmea.TagTxManagement, "D="+strconv.FormatUint(id, 10),
		"$MT DELETED", "$MT ERR", m.cfg.DeleteTimeout)
	return err
}

// DeleteAllTxMessages removes every unsent queued message.
func (m *Modem) DeleteAllTxMessages(ctx context.Context) error {
	_, err := m.command(ctx, nmea.TagTxManagement, "D=U", "$MT DELETED", "$MT ERR", m.cfg.DeleteTimeout)
	return err
}

// ListTxMessage reads the queued message with the given ID without
// removing it.
func (m *Modem) ListTxMessage(ctx context.Context, id uint64) (StoredMessage, error) {
	resp, err := m.command(ctx, nmea.TagTxManagement, "L="+strconv.FormatUint(id, 10),
		"$MT ", "$MT ERR", m.cfg.ReadTimeout)
	if err != nil {
		return StoredMessage{}, err
	}
	body, ok := eventPayload(string(resp), "$MT ")
	if !ok {
		return StoredMessage{}, ErrInvalidFormat
	}
	var msg StoredMessage
	fields := strings.Split(body, ",")
	// The AI= field only appears with firmware v1.1.0 and later.
	if appID, ok := cutInt(fields[0], "AI="); ok {
		msg.AppID = uint16(appID)
		fields = fields[1:]
	}
	if len(fields) != 3 {
		return StoredMessage{}, ErrInvalidFormat
	}
	id2, err := strconv.ParseUint(fields[1], 10, 64)
	if err != nil {
		return StoredMessage{}, ErrInvalidFormat
	}
	epoch, err := strconv.ParseUint(fields[2], 10, 32)
	if err != nil {
		return StoredMessage{}, ErrInvalidFormat
	}
	msg.Data = fields[0]
	msg.MessageID = id2
	msg.Epoch = uint32(epoch)
	return msg, nil
}

// TxOption adjusts how a message is queued for transmission.
type TxOption func(*txOptions)

type txOptions struct {
	appID     uint16
	useAppID  bool
	hold      uint32
	useHold   bool
	expire    uint32
	useExpire bool
}

// WithAppID tags the message with an application ID (0 to 64999).
func WithAppID(id uint16) TxOption {
	return func(o *txOptions) {
		o.appID = id
		o.useAppID = true
	}
}

// WithHold limits how long the modem holds the message before expiring it,
// in seconds (60 to 34819200). The modem default is 172800 (48 hours).
func WithHold(seconds uint32) TxOption {
	return func(o *txOptions) {
		o.hold = seconds
		o.useHold = true
	}
}

// WithExpire expires the message at the given epoch second if it has not
// been transmitted by then.
func WithExpire(epoch uint32) TxOption {
	return func(o *txOptions) {
		o.expire = epoch
		o.useExpire = true
	}
}

// TransmitText queues a printable-ASCII message for transmission and
// returns the modem-assigned message ID.
func (m *Modem) TransmitText(ctx context.Context, text string, opts ...TxOption) (uint64, error) {
	if len(text) > MaxPacketBytes {
		return 0, fmt.Errorf("swarm: payload is %d bytes, limit is %d: %w", len(text), MaxPacketBytes, ErrBufferFull)
	}
	return m.transmit(ctx, `"`+text+`"`, opts)
}

// TransmitBinary queues a binary message for transmission, hex-encoded on
// the wire, and returns the modem-assigned message ID. Payloads are
// limited to MaxPacketBytes.
func (m *Modem) TransmitBinary(ctx context.Context, data []byte, opts ...TxOption) (uint64, error) {
	if len(data) > MaxPacketBytes {
		return 0, fmt.Errorf("swarm: payload is %d bytes, limit is %d: %w", len(data), MaxPacketBytes, ErrBufferFull)
	}
	return m.transmit(ctx, strings.ToUpper(hex.EncodeToString(data)), opts)
}

func (m *Modem) transmit(ctx context.Context, data string, opts []TxOption) (uint64, error) {
	var o txOptions
	for _, opt := range opts {
		opt(&o)
	}
	var payload strings.Builder
	if o.useAppID {
		fmt.Fprintf(&payload, "AI=%d,", o.appID)
	}
	if o.useHold {
		fmt.Fprintf(&payload, "HD=%d,", o.hold)
	}
	if o.useExpire {
		fmt.Fprintf(&payload, "ET=%d,", o.expire)
	}
	payload.WriteString(data)

	resp, err := m.command(ctx, nmea.TagTransmitData, payload.String(),
		"$TD OK,", "$TD ERR", m.cfg.TransmitTimeout)
	if err != nil {
		return 0, err
	}
	idText, ok := eventPayload(string(resp), "$TD OK,")
	if !ok {
		return 0, ErrInvalidFormat
	}
	id, err := strconv.ParseUint(idText, 10, 64)
	if err != nil {
		return 0, ErrInvalidFormat
	}
	return id, nil
}

// parseCount extracts the decimal count from responses like "$MM 17*26".
func parseCount(resp, marker string) (int, error) {
	payload, ok := eventPayload(resp, marker)
	if !ok {
		return 0, ErrInvalidFormat
	}
	count, err := strconv.Atoi(payload)
	if err != nil {
		return 0, ErrInvalidFormat
	}
	return count, nil
}
