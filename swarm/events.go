package swarm

import (
	"encoding/hex"
	"math"
	"strconv"
	"strings"
	"time"
)

// DateTime is the UTC date and time reported by $DT sentences.
type DateTime struct {
	Year   int
	Month  int
	Day    int
	Hour   int
	Minute int
	Second int
	// Valid is true when the modem flags the value 'V' (GPS reference
	// acquired) rather than 'I'.
	Valid bool
}

// Time converts the value to a time.Time in UTC.
func (dt DateTime) Time() time.Time {
	return time.Date(dt.Year, time.Month(dt.Month), dt.Day, dt.Hour, dt.Minute, dt.Second, 0, time.UTC)
}

// GPSJamming is the jamming/spoofing indication from $GJ sentences.
type GPSJamming struct {
	// SpoofState: 0 unknown or deactivated, 1 none indicated, 2 indicated,
	// 3 multiple indications.
	SpoofState uint8
	// JammingLevel: 0 = no CW jamming, 255 = strong CW jamming.
	JammingLevel uint8
}

// Geospatial is the position fix from $GN sentences.
type Geospatial struct {
	Latitude  float64 // degrees, +/- 90
	Longitude float64 // degrees, +/- 180
	Altitude  float64 // metres
	Course    float64 // degrees, 0 = north, 90 = east
	Speed     float64 // km/h
}

// FixType enumerates the GPS solution types reported by $GS.
type FixType int

const (
	FixNone       FixType = iota // NF: no fix
	FixDeadReckon                // DR: dead reckoning only
	Fix2D                        // G2: standalone 2D
	Fix3D                        // G3: standalone 3D
	FixDiff2D                    // D2: differential 2D
	FixDiff3D                    // D3: differential 3D
	FixCombined                  // RK: combined GNSS + dead reckoning
	FixTimeOnly                  // TT: time only
	FixInvalid
)

var fixTypeNames = map[string]FixType{
	"NF": FixNone,
	"DR": FixDeadReckon,
	"G2": Fix2D,
	"G3": Fix3D,
	"D2": FixDiff2D,
	"D3": FixDiff3D,
	"RK": FixCombined,
	"TT": FixTimeOnly,
}

// GPSFixQuality is the fix quality from $GS sentences.
type GPSFixQuality struct {
	HDOP       uint16 // horizontal dilution of precision * 100
	VDOP       uint16 // vertical dilution of precision * 100
	Satellites uint8  // GNSS satellites used in the solution
	FixType    FixType
}

// PowerStatus is the power report from $PW sentences.
type PowerStatus struct {
	CPUVoltage  float64
	Temperature float64 // CPU temperature, degrees C
}

// ReceiveTest is the receive test result from $RT sentences.
//
// When Background is true only BackgroundRSSI is populated: the sentence
// reported the open-channel noise level, not a received satellite packet.
type ReceiveTest struct {
	Background     bool
	BackgroundRSSI int // dBm, open channel
	RSSI           int // dBm, satellite packet
	SNR            int // dB
	FrequencyDev   int // Hz
	Timestamp      DateTime
	SatelliteID    uint32
}

// ReceivedMessage is a data message delivered by a $RD sentence. Data holds
// the raw ASCII-hex payload as received.
type ReceivedMessage struct {
	// AppID is only meaningful when HasAppID is true; the field appears with
	// firmware v1.1.0 and later.
	AppID        uint16
	HasAppID     bool
	RSSI         int
	SNR          int
	FrequencyDev int
	Data         string
}

// Payload decodes the ASCII-hex message data.
func (m ReceivedMessage) Payload() ([]byte, error) {
	return hex.DecodeString(m.Data)
}

// TransmitReport confirms a queued message reached a satellite ($TD SENT).
type TransmitReport struct {
	RSSI         int
	SNR          int
	FrequencyDev int
	MessageID    uint64
}

// WakeCause enumerates why the modem left sleep mode ($SL WAKE).
type WakeCause int

const (
	WakeGPIO   WakeCause = iota // GPIO input changed to its active state
	WakeSerial                  // activity on the modem's RX pin
	WakeTime                    // the sleep S or U parameter time was reached
)

func (c WakeCause) String() string {
	switch c {
	case WakeGPIO:
		return "GPIO"
	case WakeSerial:
		return "SERIAL"
	case WakeTime:
		return "TIME"
	}
	return "UNKNOWN"
}

// ModemStatusKind enumerates $M138 status messages.
type ModemStatusKind int

const (
	StatusBootAbort    ModemStatusKind = iota // firmware crash caused a restart
	StatusBootDeviceID                        // device ID report during boot
	StatusBootPowerOn                         // power has been applied
	StatusBootRunning                         // boot complete, ready for commands
	StatusBootUpdated                         // a firmware update was performed
	StatusBootVersion                         // firmware version information
	StatusBootRestart                         // restarting after $RS
	StatusBootShutdown                        // shut down after $PO
	StatusDateTime                            // first valid date/time reference
	StatusPosition                            // first valid position 3D fix
	StatusDebug                               // debug text
	StatusError                               // error text
	StatusUnknown                             // a new, undocumented message
)

func (k ModemStatusKind) String() string {
	switch k {
	case StatusBootAbort:
		return "BOOT,ABORT"
	case StatusBootDeviceID:
		return "BOOT,DEVICEID"
	case StatusBootPowerOn:
		return "BOOT,POWERON"
	case StatusBootRunning:
		return "BOOT,RUNNING"
	case StatusBootUpdated:
		return "BOOT,UPDATED"
	case StatusBootVersion:
		return "BOOT,VERSION"
	case StatusBootRestart:
		return "BOOT,RESTART"
	case StatusBootShutdown:
		return "BOOT,SHUTDOWN"
	case StatusDateTime:
		return "DATETIME"
	case StatusPosition:
		return "POSITION"
	case StatusDebug:
		return "DEBUG"
	case StatusError:
		return "ERROR"
	}
	return "UNKNOWN"
}

// ModemStatus is a $M138 status message. Data carries the text after the
// status keyword, when present.
type ModemStatus struct {
	Kind ModemStatusKind
	Data string
}

// handlers is the callback table: one optional slot per unsolicited tag.
// Unset slots drop the decoded event silently. The Modem holds the closures
// only; it never calls them outside a dispatch pass.
type handlers struct {
	dateTime        func(DateTime)
	gpsJamming      func(GPSJamming)
	geospatial      func(Geospatial)
	gpsFixQuality   func(GPSFixQuality)
	powerStatus     func(PowerStatus)
	receiveTest     func(ReceiveTest)
	modemStatus     func(ModemStatus)
	sleepWake       func(WakeCause)
	receivedMessage func(ReceivedMessage)
	transmitReport  func(TransmitReport)
}

// OnDateTime registers the handler for unsolicited $DT sentences.
func (m *Modem) OnDateTime(fn func(DateTime)) { m.handlers.dateTime = fn }

// OnGPSJamming registers the handler for unsolicited $GJ sentences.
func (m *Modem) OnGPSJamming(fn func(GPSJamming)) { m.handlers.gpsJamming = fn }

// OnGeospatial registers the handler for unsolicited $GN sentences.
func (m *Modem) OnGeospatial(fn func(Geospatial)) { m.handlers.geospatial = fn }

// OnGPSFixQuality registers the handler for unsolicited $GS sentences.
func (m *Modem) OnGPSFixQuality(fn func(GPSFixQuality)) { m.handlers.gpsFixQuality = fn }

// OnPowerStatus registers the handler for unsolicited $PW sentences.
func (m *Modem) OnPowerStatus(fn func(PowerStatus)) { m.handlers.powerStatus = fn }

// OnReceiveTest registers the handler for unsolicited $RT sentences.
func (m *Modem) OnReceiveTest(fn func(ReceiveTest)) { m.handlers.receiveTest = fn }

// OnModemStatus registers the handler for $M138 status sentences.
func (m *Modem) OnModemStatus(fn func(ModemStatus)) { m.handlers.modemStatus = fn }

// OnSleepWake registers the handler for $SL WAKE sentences.
func (m *Modem) OnSleepWake(fn func(WakeCause)) { m.handlers.sleepWake = fn }

// OnReceivedMessage registers the handler for $RD data sentences.
func (m *Modem) OnReceivedMessage(fn func(ReceivedMessage)) { m.handlers.receivedMessage = fn }

// OnTransmitReport registers the handler for $TD SENT confirmations.
func (m *Modem) OnTransmitReport(fn func(TransmitReport)) { m.handlers.transmitReport = fn }

// dispatchEvent matches one checksum-valid sentence against the known
// unsolicited tags and invokes the registered handler on a full decode.
//
// Tags are tried in a fixed priority order ($DT, $GJ, $GN, $GS, $PW, $RT,
// $M138, $SL, $RD, $TD). A sentence counts as handled only when every required
// field decodes; a recognized tag with malformed fields is dropped.
func (m *Modem) dispatchEvent(event string) bool {
	if payload, ok := eventPayload(event, "$DT "); ok {
		if dt, ok := decodeDateTime(payload); ok {
			if m.handlers.dateTime != nil {
				m.handlers.dateTime(dt)
			}
			return true
		}
	}
	if payload, ok := eventPayload(event, "$GJ "); ok {
		if gj, ok := decodeGPSJamming(payload); ok {
			if m.handlers.gpsJamming != nil {
				m.handlers.gpsJamming(gj)
			}
			return true
		}
	}
	if payload, ok := eventPayload(event, "$GN "); ok {
		if gn, ok := decodeGeospatial(payload); ok {
			if m.handlers.geospatial != nil {
				m.handlers.geospatial(gn)
			}
			return true
		}
	}
	if payload, ok := eventPayload(event, "$GS "); ok {
		if gs, ok := decodeGPSFixQuality(payload); ok {
			if m.handlers.gpsFixQuality != nil {
				m.handlers.gpsFixQuality(gs)
			}
			return true
		}
	}
	if payload, ok := eventPayload(event, "$PW "); ok {
		if pw, ok := decodePowerStatus(payload); ok {
			if m.handlers.powerStatus != nil {
				m.handlers.powerStatus(pw)
			}
			return true
		}
	}
	if payload, ok := eventPayload(event, "$RT "); ok {
		if rt, ok := decodeReceiveTest(payload); ok {
			if m.handlers.receiveTest != nil {
				m.handlers.receiveTest(rt)
			}
			return true
		}
	}
	if payload, ok := eventPayload(event, "$M138 "); ok {
		if ms, ok := decodeModemStatus(payload); ok {
			if m.handlers.modemStatus != nil {
				m.handlers.modemStatus(ms)
			}
			return true
		}
	}
	if payload, ok := eventPayload(event, "$SL WAKE,"); ok {
		if cause, ok := decodeWakeCause(payload); ok {
			if m.handlers.sleepWake != nil {
				m.handlers.sleepWake(cause)
			}
			return true
		}
	}
	if payload, ok := eventPayload(event, "$RD "); ok {
		if rd, ok := decodeReceivedMessage(payload); ok {
			if m.handlers.receivedMessage != nil {
				m.handlers.receivedMessage(rd)
			}
			return true
		}
	}
	if payload, ok := eventPayload(event, "$TD SENT"); ok {
		if td, ok := decodeTransmitReport(payload); ok {
			if m.handlers.transmitReport != nil {
				m.handlers.transmitReport(td)
			}
			return true
		}
	}
	return false
}

// eventPayload locates marker inside event and returns everything between
// the marker and the checksum delimiter.
func eventPayload(event, marker string) (string, bool) {
	at := strings.Index(event, marker)
	if at < 0 {
		return "", false
	}
	rest := event[at+len(marker):]
	star := strings.IndexByte(rest, '*')
	if star < 0 {
		return "", false
	}
	return rest[:star], true
}

func decodeDateTime(payload string) (DateTime, bool) {
	// YYYYMMDDhhmmss,F
	ts, flag, ok := strings.Cut(payload, ",")
	if !ok || len(ts) != 14 || flag == "" {
		return DateTime{}, false
	}
	nums := make([]int, 6)
	widths := []int{4, 2, 2, 2, 2, 2}
	pos := 0
	for i, w := range widths {
		v, err := strconv.Atoi(ts[pos : pos+w])
		if err != nil {
			return DateTime{}, false
		}
		nums[i] = v
		pos += w
	}
	return DateTime{
		Year:   nums[0],
		Month:  nums[1],
		Day:    nums[2],
		Hour:   nums[3],
		Minute: nums[4],
		Second: nums[5],
		Valid:  flag[0] == 'V',
	}, true
}

func decodeGPSJamming(payload string) (GPSJamming, bool) {
	fields := strings.Split(payload, ",")
	if len(fields) != 2 {
		return GPSJamming{}, false
	}
	spoof, err := strconv.Atoi(fields[0])
	if err != nil {
		return GPSJamming{}, false
	}
	level, err := strconv.Atoi(fields[1])
	if err != nil {
		return GPSJamming{}, false
	}
	return GPSJamming{SpoofState: uint8(spoof), JammingLevel: uint8(level)}, true
}

func decodeGeospatial(payload string) (Geospatial, bool) {
	// lat,lon,alt,course,speed with lat and lon fixed-point
	fields := strings.Split(payload, ",")
	if len(fields) != 5 {
		return Geospatial{}, false
	}
	lat, err := parseFixed(fields[0])
	if err != nil {
		return Geospatial{}, false
	}
	lon, err := parseFixed(fields[1])
	if err != nil {
		return Geospatial{}, false
	}
	var rest [3]float64
	for i, f := range fields[2:] {
		v, err := strconv.Atoi(f)
		if err != nil {
			return Geospatial{}, false
		}
		rest[i] = float64(v)
	}
	return Geospatial{
		Latitude:  lat,
		Longitude: lon,
		Altitude:  rest[0],
		Course:    rest[1],
		Speed:     rest[2],
	}, true
}

func decodeGPSFixQuality(payload string) (GPSFixQuality, bool) {
	// hdop,vdop,gnss_sats,unused,FT
	fields := strings.Split(payload, ",")
	if len(fields) != 5 || len(fields[4]) < 2 {
		return GPSFixQuality{}, false
	}
	var nums [4]int
	for i, f := range fields[:4] {
		v, err := strconv.Atoi(f)
		if err != nil {
			return GPSFixQuality{}, false
		}
		nums[i] = v
	}
	fix, ok := fixTypeNames[fields[4][:2]]
	if !ok {
		fix = FixInvalid
	}
	return GPSFixQuality{
		HDOP:       uint16(nums[0]),
		VDOP:       uint16(nums[1]),
		Satellites: uint8(nums[2]),
		FixType:    fix,
	}, true
}

func decodePowerStatus(payload string) (PowerStatus, bool) {
	// cpu_volts,unused,unused,unused,temp, all fixed-point
	fields := strings.Split(payload, ",")
	if len(fields) != 5 {
		return PowerStatus{}, false
	}
	volts, err := parseFixed(fields[0])
	if err != nil {
		return PowerStatus{}, false
	}
	for _, f := range fields[1:4] {
		if _, err := parseFixed(f); err != nil {
			return PowerStatus{}, false
		}
	}
	temp, err := parseFixed(fields[4])
	if err != nil {
		return PowerStatus{}, false
	}
	return PowerStatus{CPUVoltage: volts, Temperature: temp}, true
}

func decodeReceiveTest(payload string) (ReceiveTest, bool) {
	fields := strings.Split(payload, ",")
	rssi, ok := cutInt(fields[0], "RSSI=")
	if !ok {
		return ReceiveTest{}, false
	}

	// Background noise variant carries the RSSI only.
	if len(fields) == 1 {
		return ReceiveTest{Background: true, BackgroundRSSI: rssi}, true
	}
	if len(fields) != 5 {
		return ReceiveTest{}, false
	}

	snr, ok := cutInt(fields[1], "SNR=")
	if !ok {
		return ReceiveTest{}, false
	}
	fdev, ok := cutInt(fields[2], "FDEV=")
	if !ok {
		return ReceiveTest{}, false
	}
	ts, ok := strings.CutPrefix(fields[3], "TS=")
	if !ok {
		return ReceiveTest{}, false
	}
	when, ok := decodeTimestamp(ts)
	if !ok {
		return ReceiveTest{}, false
	}
	id, ok := strings.CutPrefix(fields[4], "DI=0x")
	if !ok {
		return ReceiveTest{}, false
	}
	satID, err := strconv.ParseUint(id, 16, 32)
	if err != nil {
		return ReceiveTest{}, false
	}

	return ReceiveTest{
		RSSI:         rssi,
		SNR:          snr,
		FrequencyDev: fdev,
		Timestamp:    when,
		SatelliteID:  uint32(satID),
	}, true
}

// decodeTimestamp parses the $RT timestamp form YYYY-MM-DDThh:mm:ss.
func decodeTimestamp(s string) (DateTime, bool) {
	t, err := time.Parse("2006-01-02T15:04:05", s)
	if err != nil {
		return DateTime{}, false
	}
	return DateTime{
		Year:   t.Year(),
		Month:  int(t.Month()),
		Day:    t.Day(),
		Hour:   t.Hour(),
		Minute: t.Minute(),
		Second: t.Second(),
		Valid:  true,
	}, true
}

var statusKeywords = []struct {
	keyword string
	kind    ModemStatusKind
}{
	{"BOOT,ABORT", StatusBootAbort},
	{"BOOT,DEVICEID", StatusBootDeviceID},
	{"BOOT,POWERON", StatusBootPowerOn},
	{"BOOT,RUNNING", StatusBootRunning},
	{"BOOT,UPDATED", StatusBootUpdated},
	{"BOOT,VERSION", StatusBootVersion},
	{"BOOT,RESTART", StatusBootRestart},
	{"BOOT,SHUTDOWN", StatusBootShutdown},
	{"DATETIME", StatusDateTime},
	{"POSITION", StatusPosition},
	{"DEBUG", StatusDebug},
	{"ERROR", StatusError},
}

func decodeModemStatus(payload string) (ModemStatus, bool) {
	for _, s := range statusKeywords {
		rest, ok := strings.CutPrefix(payload, s.keyword)
		if !ok {
			continue
		}
		rest = strings.TrimPrefix(rest, ",")
		return ModemStatus{Kind: s.kind, Data: rest}, true
	}
	// Undocumented sub-status: deliver the whole payload so nothing is
	// lost, but only when there is something to deliver.
	if payload == "" {
		return ModemStatus{}, false
	}
	return ModemStatus{Kind: StatusUnknown, Data: payload}, true
}

func decodeWakeCause(payload string) (WakeCause, bool) {
	switch payload {
	case "GPIO":
		return WakeGPIO, true
	case "SERIAL":
		return WakeSerial, true
	case "TIME":
		return WakeTime, true
	}
	return 0, false
}

func decodeReceivedMessage(payload string) (ReceivedMessage, bool) {
	fields := strings.Split(payload, ",")
	var msg ReceivedMessage

	// The AI= field only appears with firmware v1.1.0 and later.
	if appID, ok := cutInt(fields[0], "AI="); ok {
		msg.AppID = uint16(appID)
		msg.HasAppID = true
		fields = fields[1:]
	}
	if len(fields) != 4 {
		return ReceivedMessage{}, false
	}

	var ok bool
	if msg.RSSI, ok = cutInt(fields[0], "RSSI="); !ok {
		return ReceivedMessage{}, false
	}
	if msg.SNR, ok = cutInt(fields[1], "SNR="); !ok {
		return ReceivedMessage{}, false
	}
	if msg.FrequencyDev, ok = cutInt(fields[2], "FDEV="); !ok {
		return ReceivedMessage{}, false
	}
	msg.Data = fields[3]
	return msg, true
}

func decodeTransmitReport(payload string) (TransmitReport, bool) {
	// payload starts after "$TD SENT": ",RSSI=r,SNR=s,FDEV=f,msg_id"
	fields := strings.Split(strings.TrimPrefix(payload, ","), ",")
	if len(fields) != 4 {
		return TransmitReport{}, false
	}
	var rpt TransmitReport
	var ok bool
	if rpt.RSSI, ok = cutInt(fields[0], "RSSI="); !ok {
		return TransmitReport{}, false
	}
	if rpt.SNR, ok = cutInt(fields[1], "SNR="); !ok {
		return TransmitReport{}, false
	}
	if rpt.FrequencyDev, ok = cutInt(fields[2], "FDEV="); !ok {
		return TransmitReport{}, false
	}
	id, err := strconv.ParseUint(fields[3], 10, 64)
	if err != nil {
		return TransmitReport{}, false
	}
	rpt.MessageID = id
	return rpt, true
}

// cutInt strips prefix from s and parses the remainder as a decimal integer.
func cutInt(s, prefix string) (int, bool) {
	rest, ok := strings.CutPrefix(s, prefix)
	if !ok {
		return 0, false
	}
	v, err := strconv.Atoi(rest)
	if err != nil {
		return 0, false
	}
	return v, true
}

// parseFixed parses the modem's fixed-point number form: a signed integer
// part and fraction digits split on '.'. The sign applies to the whole
// value, so "-0.5" parses to -0.5 even though its integer part is zero.
func parseFixed(s string) (float64, error) {
	intPart, frac, found := strings.Cut(s, ".")
	neg := strings.HasPrefix(intPart, "-")
	whole, err := strconv.Atoi(strings.TrimPrefix(intPart, "-"))
	if err != nil {
		return 0, err
	}
	v := float64(whole)
	if found {
		f, err := strconv.ParseUint(frac, 10, 64)
		if err != nil {
			return 0, err
		}
		v += float64(f) / math.Pow(10, float64(len(frac)))
	}
	if neg {
		v = -v
	}
	return v, nil
}
