package swarm_test

import (
	"context"
	"testing"
	"time"

	"github.com/fieldtelemetry/swarmgw/swarm"
)

func TestCheckUnsolicited(t *testing.T) {
	t.Run("Buffered sentences dispatch once and empty the backlog", func(t *testing.T) {
		transport := swarm.NewScriptTransport()
		transport.Preload("$PW 3.248,0.000,0.000,0.000,28.9*37\n")
		transport.Preload("$RD RSSI=-95,SNR=11,FDEV=2,48656c6c6f*2e\n")
		m := newTestModem(t, transport)

		var power, received int
		m.OnPowerStatus(func(pw swarm.PowerStatus) { power++ })
		m.OnReceivedMessage(func(rd swarm.ReceivedMessage) { received++ })

		if !m.CheckUnsolicited() {
			t.Fatal("expected the first pass to handle events")
		}
		if power != 1 || received != 1 {
			t.Errorf("power fired %d times, received fired %d times, want 1 and 1", power, received)
		}

		// Nothing new arrived, so a second pass must be a no-op.
		if m.CheckUnsolicited() {
			t.Error("expected the second pass to handle nothing")
		}
		if power != 1 || received != 1 {
			t.Errorf("callbacks fired again: power %d, received %d", power, received)
		}
	})

	t.Run("Sentences failing the checksum are skipped silently", func(t *testing.T) {
		transport := swarm.NewScriptTransport()
		transport.Preload("$PW 3.248,0.000,0.000,0.000,28.9*38\n") // should be *37
		m := newTestModem(t, transport)

		fired := false
		m.OnPowerStatus(func(pw swarm.PowerStatus) { fired = true })

		if m.CheckUnsolicited() {
			t.Error("expected nothing to be handled")
		}
		if fired {
			t.Error("handler fired for a corrupt sentence")
		}
	})

	t.Run("Recognized tag with malformed fields is dropped", func(t *testing.T) {
		transport := swarm.NewScriptTransport()
		transport.Preload("$GN 10*28\n") // a rate response, not a position fix
		m := newTestModem(t, transport)

		fired := false
		m.OnGeospatial(func(gn swarm.Geospatial) { fired = true })

		if m.CheckUnsolicited() {
			t.Error("expected nothing to be handled")
		}
		if fired {
			t.Error("handler fired for a malformed payload")
		}
	})

	t.Run("Nested dispatch is a no-op", func(t *testing.T) {
		transport := swarm.NewScriptTransport()
		transport.Preload("$GJ 1,23*31\n")
		m := newTestModem(t, transport)

		var nested bool
		m.OnGPSJamming(func(gj swarm.GPSJamming) {
			nested = m.CheckUnsolicited()
		})

		if !m.CheckUnsolicited() {
			t.Fatal("expected the outer pass to handle the event")
		}
		if nested {
			t.Error("nested CheckUnsolicited returned true, want no-op")
		}
	})

	t.Run("Handler may issue a command mid-dispatch", func(t *testing.T) {
		transport := swarm.NewScriptTransport()
		transport.Preload("$RD AI=1000,RSSI=-95,SNR=11,FDEV=2,48656c6c6f*36\n")
		transport.OnWrite = func(command []byte) []byte {
			return []byte("$MM MARKED,1*29\n")
		}
		m := newTestModem(t, transport)

		var cmdErr error
		m.OnReceivedMessage(func(rd swarm.ReceivedMessage) {
			cmdErr = m.MarkAllRxMessagesRead(context.Background())
		})

		if !m.CheckUnsolicited() {
			t.Fatal("expected the pass to handle the event")
		}
		if cmdErr != nil {
			t.Errorf("command from handler failed: %v", cmdErr)
		}
	})

	t.Run("Decoded event with no registered handler still counts as handled", func(t *testing.T) {
		transport := swarm.NewScriptTransport()
		transport.Preload("$GJ 1,23*31\n")
		m := newTestModem(t, transport)

		if !m.CheckUnsolicited() {
			t.Error("expected the event to be handled without a handler")
		}
	})

	t.Run("Partial trailing sentence is carried over", func(t *testing.T) {
		transport := swarm.NewScriptTransport()
		transport.Preload("$GJ 1,23*31\n$PW 3.2")
		m := newTestModem(t, transport)

		var jam, power int
		m.OnGPSJamming(func(gj swarm.GPSJamming) { jam++ })
		m.OnPowerStatus(func(pw swarm.PowerStatus) { power++ })

		if !m.CheckUnsolicited() {
			t.Fatal("expected the complete sentence to be handled")
		}
		if jam != 1 || power != 0 {
			t.Fatalf("jam %d power %d, want 1 and 0", jam, power)
		}

		transport.Preload("48,0.000,0.000,0.000,28.9*37\n")
		if !m.CheckUnsolicited() {
			t.Fatal("expected the completed sentence to be handled")
		}
		if power != 1 {
			t.Errorf("power fired %d times, want 1", power)
		}
	})
}

func TestUnsolicitedDecoding(t *testing.T) {
	dispatch := func(t *testing.T, sentence string, register func(m *swarm.Modem)) {
		t.Helper()
		transport := swarm.NewScriptTransport()
		transport.Preload(sentence + "\n")
		m := newTestModem(t, transport)
		register(m)
		if !m.CheckUnsolicited() {
			t.Fatalf("sentence %q was not handled", sentence)
		}
	}

	t.Run("Date and time", func(t *testing.T) {
		var got swarm.DateTime
		dispatch(t, "$DT 20230101000000,V*49", func(m *swarm.Modem) {
			m.OnDateTime(func(dt swarm.DateTime) { got = dt })
		})
		want := swarm.DateTime{Year: 2023, Month: 1, Day: 1, Valid: true}
		if got != want {
			t.Errorf("got %+v, want %+v", got, want)
		}
		if !got.Time().Equal(time.Date(2023, 1, 1, 0, 0, 0, 0, time.UTC)) {
			t.Errorf("Time() = %v", got.Time())
		}
	})

	t.Run("GPS jamming", func(t *testing.T) {
		var got swarm.GPSJamming
		dispatch(t, "$GJ 1,23*31", func(m *swarm.Modem) {
			m.OnGPSJamming(func(gj swarm.GPSJamming) { got = gj })
		})
		if got.SpoofState != 1 || got.JammingLevel != 23 {
			t.Errorf("got %+v", got)
		}
	})

	t.Run("Geospatial", func(t *testing.T) {
		var got swarm.Geospatial
		dispatch(t, "$GN 37.8921,-122.0155,77,89,0*03", func(m *swarm.Modem) {
			m.OnGeospatial(func(gn swarm.Geospatial) { got = gn })
		})
		if got.Latitude != 37.8921 || got.Longitude != -122.0155 {
			t.Errorf("lat/lon = %v, %v", got.Latitude, got.Longitude)
		}
		if got.Altitude != 77 || got.Course != 89 || got.Speed != 0 {
			t.Errorf("alt/course/speed = %v, %v, %v", got.Altitude, got.Course, got.Speed)
		}
	})

	t.Run("GPS fix quality", func(t *testing.T) {
		var got swarm.GPSFixQuality
		dispatch(t, "$GS 1,2,7,0,G3*44", func(m *swarm.Modem) {
			m.OnGPSFixQuality(func(gs swarm.GPSFixQuality) { got = gs })
		})
		want := swarm.GPSFixQuality{HDOP: 1, VDOP: 2, Satellites: 7, FixType: swarm.Fix3D}
		if got != want {
			t.Errorf("got %+v, want %+v", got, want)
		}
	})

	t.Run("Power status", func(t *testing.T) {
		var got swarm.PowerStatus
		dispatch(t, "$PW 3.248,0.000,0.000,0.000,28.9*37", func(m *swarm.Modem) {
			m.OnPowerStatus(func(pw swarm.PowerStatus) { got = pw })
		})
		if got.CPUVoltage != 3.248 || got.Temperature != 28.9 {
			t.Errorf("got %+v", got)
		}
	})

	t.Run("Receive test, background noise", func(t *testing.T) {
		var got swarm.ReceiveTest
		dispatch(t, "$RT RSSI=-93*27", func(m *swarm.Modem) {
			m.OnReceiveTest(func(rt swarm.ReceiveTest) { got = rt })
		})
		if !got.Background || got.BackgroundRSSI != -93 {
			t.Errorf("got %+v", got)
		}
	})

	t.Run("Receive test, satellite packet", func(t *testing.T) {
		var got swarm.ReceiveTest
		dispatch(t, "$RT RSSI=-107,SNR=12,FDEV=2,TS=2022-01-19T21:49:25,DI=0x000933*69", func(m *swarm.Modem) {
			m.OnReceiveTest(func(rt swarm.ReceiveTest) { got = rt })
		})
		if got.Background {
			t.Error("expected a satellite packet, got background variant")
		}
		if got.RSSI != -107 || got.SNR != 12 || got.FrequencyDev != 2 {
			t.Errorf("got %+v", got)
		}
		if got.SatelliteID != 0x000933 {
			t.Errorf("satellite ID = %#x", got.SatelliteID)
		}
		if got.Timestamp.Year != 2022 || got.Timestamp.Second != 25 {
			t.Errorf("timestamp = %+v", got.Timestamp)
		}
	})

	t.Run("Modem status with data", func(t *testing.T) {
		var got swarm.ModemStatus
		dispatch(t, "$M138 ERROR,HWERR timeout*22", func(m *swarm.Modem) {
			m.OnModemStatus(func(ms swarm.ModemStatus) { got = ms })
		})
		if got.Kind != swarm.StatusError || got.Data != "HWERR timeout" {
			t.Errorf("got %+v", got)
		}
	})

	t.Run("Modem status keyword only", func(t *testing.T) {
		var got swarm.ModemStatus
		dispatch(t, "$M138 BOOT,RUNNING*2a", func(m *swarm.Modem) {
			m.OnModemStatus(func(ms swarm.ModemStatus) { got = ms })
		})
		if got.Kind != swarm.StatusBootRunning || got.Data != "" {
			t.Errorf("got %+v", got)
		}
	})

	t.Run("Modem status undocumented keyword", func(t *testing.T) {
		var got swarm.ModemStatus
		dispatch(t, "$M138 FROBNICATE,widget level 9*35", func(m *swarm.Modem) {
			m.OnModemStatus(func(ms swarm.ModemStatus) { got = ms })
		})
		if got.Kind != swarm.StatusUnknown || got.Data != "FROBNICATE,widget level 9" {
			t.Errorf("got %+v", got)
		}
	})

	t.Run("Sleep wake cause", func(t *testing.T) {
		var got swarm.WakeCause
		dispatch(t, "$SL WAKE,SERIAL*0b", func(m *swarm.Modem) {
			m.OnSleepWake(func(c swarm.WakeCause) { got = c })
		})
		if got != swarm.WakeSerial {
			t.Errorf("got %v", got)
		}
	})

	t.Run("Received message with app ID", func(t *testing.T) {
		var got swarm.ReceivedMessage
		dispatch(t, "$RD AI=1000,RSSI=-95,SNR=11,FDEV=2,48656c6c6f*36", func(m *swarm.Modem) {
			m.OnReceivedMessage(func(rd swarm.ReceivedMessage) { got = rd })
		})
		if !got.HasAppID || got.AppID != 1000 {
			t.Errorf("app ID = %d (has %v)", got.AppID, got.HasAppID)
		}
		payload, err := got.Payload()
		if err != nil || string(payload) != "Hello" {
			t.Errorf("payload = %q, %v", payload, err)
		}
	})

	t.Run("Received message without app ID", func(t *testing.T) {
		var got swarm.ReceivedMessage
		dispatch(t, "$RD RSSI=-95,SNR=11,FDEV=2,48656c6c6f*2e", func(m *swarm.Modem) {
			m.OnReceivedMessage(func(rd swarm.ReceivedMessage) { got = rd })
		})
		if got.HasAppID {
			t.Error("unexpected app ID")
		}
		if got.RSSI != -95 || got.SNR != 11 || got.FrequencyDev != 2 {
			t.Errorf("got %+v", got)
		}
	})

	t.Run("Transmit report", func(t *testing.T) {
		var got swarm.TransmitReport
		dispatch(t, "$TD SENT,RSSI=-91,SNR=8,FDEV=3,5354468575916*5e", func(m *swarm.Modem) {
			m.OnTransmitReport(func(td swarm.TransmitReport) { got = td })
		})
		if got.MessageID != 5354468575916 {
			t.Errorf("message ID = %d", got.MessageID)
		}
		if got.RSSI != -91 || got.SNR != 8 || got.FrequencyDev != 3 {
			t.Errorf("got %+v", got)
		}
	})
}
