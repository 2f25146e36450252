package swarm_test

import (
	"context"
	"errors"
	"testing"

	"github.com/fieldtelemetry/swarmgw/swarm"
)

// respondWith wires a modem whose transport answers every command with the
// given sentence.
func respondWith(t *testing.T, sentence string) (*swarm.Modem, *swarm.ScriptTransport) {
	t.Helper()
	transport := swarm.NewScriptTransport()
	transport.OnWrite = func(command []byte) []byte {
		return []byte(sentence + "\n")
	}
	return newTestModem(t, transport), transport
}

func lastWrite(t *testing.T, transport *swarm.ScriptTransport) string {
	t.Helper()
	writes := transport.Writes()
	if len(writes) == 0 {
		t.Fatal("no command was written")
	}
	return string(writes[len(writes)-1])
}

func TestConfigurationSettings(t *testing.T) {
	ctx := context.Background()

	m, transport := respondWith(t, "$CS DI=0x000e57,DN=M138*73")
	cs, err := m.ConfigurationSettings(ctx)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cs.DeviceID != 0x000e57 || cs.DeviceName != "M138" {
		t.Errorf("got %+v", cs)
	}
	if got := lastWrite(t, transport); got != "$CS*10\n" {
		t.Errorf("command = %q", got)
	}

	id, err := m.DeviceID(ctx)
	if err != nil || id != 0x000e57 {
		t.Errorf("DeviceID() = %#x, %v", id, err)
	}
	if !m.IsConnected(ctx) {
		t.Error("IsConnected() = false")
	}
}

func TestFirmwareVersion(t *testing.T) {
	m, transport := respondWith(t, "$FV 2021-07-16-00:10:21,v1.1.0*74")
	version, err := m.FirmwareVersion(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if version != "2021-07-16-00:10:21,v1.1.0" {
		t.Errorf("version = %q", version)
	}
	if got := lastWrite(t, transport); got != "$FV*10\n" {
		t.Errorf("command = %q", got)
	}
}

func TestStatusQueries(t *testing.T) {
	ctx := context.Background()

	t.Run("Date and time", func(t *testing.T) {
		m, transport := respondWith(t, "$DT 20230101000000,V*49")
		dt, err := m.DateTime(ctx)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if dt.Year != 2023 || !dt.Valid {
			t.Errorf("got %+v", dt)
		}
		if got := lastWrite(t, transport); got != "$DT @*70\n" {
			t.Errorf("command = %q", got)
		}
	})

	t.Run("Power status and temperature", func(t *testing.T) {
		m, _ := respondWith(t, "$PW 3.248,0.000,0.000,0.000,28.9*37")
		temp, err := m.Temperature(ctx)
		if err != nil || temp != 28.9 {
			t.Errorf("Temperature() = %v, %v", temp, err)
		}
	})

	t.Run("Receive test", func(t *testing.T) {
		m, transport := respondWith(t, "$RT RSSI=-93*27")
		rt, err := m.ReceiveTest(ctx)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if !rt.Background || rt.BackgroundRSSI != -93 {
			t.Errorf("got %+v", rt)
		}
		if got := lastWrite(t, transport); got != "$RT @*66\n" {
			t.Errorf("command = %q", got)
		}
	})

	t.Run("GPS fix quality", func(t *testing.T) {
		m, _ := respondWith(t, "$GS 1,2,7,0,G3*44")
		gs, err := m.GPSFixQuality(ctx)
		if err != nil || gs.FixType != swarm.Fix3D {
			t.Errorf("GPSFixQuality() = %+v, %v", gs, err)
		}
	})
}

func TestMessageRates(t *testing.T) {
	ctx := context.Background()

	t.Run("Query rate", func(t *testing.T) {
		m, transport := respondWith(t, "$DT 60*36")
		rate, err := m.DateTimeRate(ctx)
		if err != nil || rate != 60 {
			t.Errorf("DateTimeRate() = %d, %v", rate, err)
		}
		if got := lastWrite(t, transport); got != "$DT ?*0f\n" {
			t.Errorf("command = %q", got)
		}
	})

	t.Run("Set rate", func(t *testing.T) {
		m, transport := respondWith(t, "$DT OK*34")
		if err := m.SetDateTimeRate(ctx, 3600); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if got := lastWrite(t, transport); got != "$DT 3600*35\n" {
			t.Errorf("command = %q", got)
		}
	})

	t.Run("Rate above the maximum is rejected locally", func(t *testing.T) {
		transport := swarm.NewScriptTransport()
		m := newTestModem(t, transport)
		err := m.SetGeospatialRate(ctx, swarm.MaxRate+1)
		if !errors.Is(err, swarm.ErrInvalidRate) {
			t.Fatalf("expected ErrInvalidRate, got: %v", err)
		}
		if len(transport.Writes()) != 0 {
			t.Error("command was written despite the invalid rate")
		}
	})

	t.Run("Maximum rate is accepted", func(t *testing.T) {
		m, _ := respondWith(t, "$GJ OK*29")
		if err := m.SetGPSJammingRate(ctx, swarm.MaxRate); err != nil {
			t.Errorf("unexpected error: %v", err)
		}
	})
}

func TestPowerAndSleep(t *testing.T) {
	ctx := context.Background()

	t.Run("Power off", func(t *testing.T) {
		m, transport := respondWith(t, "$PO OK*3b")
		if err := m.PowerOff(ctx); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if got := lastWrite(t, transport); got != "$PO*1f\n" {
			t.Errorf("command = %q", got)
		}
	})

	t.Run("Restart", func(t *testing.T) {
		m, transport := respondWith(t, "$RS OK*25")
		if err := m.Restart(ctx, false); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if got := lastWrite(t, transport); got != "$RS*01\n" {
			t.Errorf("command = %q", got)
		}
	})

	t.Run("Restart clearing the database", func(t *testing.T) {
		m, transport := respondWith(t, "$RS OK*25")
		if err := m.Restart(ctx, true); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if got := lastWrite(t, transport); got != "$RS deletedb*3e\n" {
			t.Errorf("command = %q", got)
		}
	})

	t.Run("Sleep for a duration", func(t *testing.T) {
		m, transport := respondWith(t, "$SL OK*3b")
		if err := m.Sleep(ctx, 3600); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if got := lastWrite(t, transport); got != "$SL S=3600*54\n" {
			t.Errorf("command = %q", got)
		}
	})

	t.Run("Sleep until a date and time", func(t *testing.T) {
		m, transport := respondWith(t, "$SL OK*3b")
		until := swarm.DateTime{Year: 2023, Month: 1, Day: 1}
		if err := m.SleepUntil(ctx, until); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if got := lastWrite(t, transport); got != "$SL U=2023-01-01T00:00:00*00\n" {
			t.Errorf("command = %q", got)
		}
	})
}

func TestRxMessageManagement(t *testing.T) {
	ctx := context.Background()

	t.Run("Count all messages", func(t *testing.T) {
		m, transport := respondWith(t, "$MM 17*26")
		count, err := m.RxMessageCount(ctx, false)
		if err != nil || count != 17 {
			t.Errorf("RxMessageCount() = %d, %v", count, err)
		}
		if got := lastWrite(t, transport); got != "$MM C=**74\n" {
			t.Errorf("command = %q", got)
		}
	})

	t.Run("Count unread messages", func(t *testing.T) {
		m, transport := respondWith(t, "$MM 0*10")
		count, err := m.RxMessageCount(ctx, true)
		if err != nil || count != 0 {
			t.Errorf("RxMessageCount() = %d, %v", count, err)
		}
		if got := lastWrite(t, transport); got != "$MM C=U*0b\n" {
			t.Errorf("command = %q", got)
		}
	})

	t.Run("Delete one message", func(t *testing.T) {
		m, transport := respondWith(t, "$MM DELETED,1*60")
		if err := m.DeleteRxMessage(ctx, 5354468575916); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if got := lastWrite(t, transport); got != "$MM D=5354468575916*6d\n" {
			t.Errorf("command = %q", got)
		}
	})

	t.Run("Delete all read messages", func(t *testing.T) {
		m, transport := respondWith(t, "$MM DELETED,5*64")
		if err := m.DeleteAllRxMessages(ctx, true); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if got := lastWrite(t, transport); got != "$MM D=R*0b\n" {
			t.Errorf("command = %q", got)
		}
	})

	t.Run("Delete all messages", func(t *testing.T) {
		m, transport := respondWith(t, "$MM DELETED,5*64")
		if err := m.DeleteAllRxMessages(ctx, false); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if got := lastWrite(t, transport); got != "$MM D=**73\n" {
			t.Errorf("command = %q", got)
		}
	})

	t.Run("Mark message read", func(t *testing.T) {
		m, transport := respondWith(t, "$MM MARKED,1*29")
		if err := m.MarkRxMessageRead(ctx, 5354468575916); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if got := lastWrite(t, transport); got != "$MM M=5354468575916*64\n" {
			t.Errorf("command = %q", got)
		}
	})

	t.Run("Mark all messages read", func(t *testing.T) {
		m, transport := respondWith(t, "$MM MARKED,3*2b")
		if err := m.MarkAllRxMessagesRead(ctx); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if got := lastWrite(t, transport); got != "$MM M=**7a\n" {
			t.Errorf("command = %q", got)
		}
	})

	t.Run("Notification state", func(t *testing.T) {
		m, transport := respondWith(t, "$MM N=E*16")
		enabled, err := m.MessageNotifications(ctx)
		if err != nil || !enabled {
			t.Errorf("MessageNotifications() = %v, %v", enabled, err)
		}
		if got := lastWrite(t, transport); got != "$MM N=?*6c\n" {
			t.Errorf("command = %q", got)
		}
	})

	t.Run("Enable notifications", func(t *testing.T) {
		m, transport := respondWith(t, "$MM OK*24")
		if err := m.SetMessageNotifications(ctx, true); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if got := lastWrite(t, transport); got != "$MM N=E*16\n" {
			t.Errorf("command = %q", got)
		}
	})

	t.Run("Modem ERR surfaces the error text", func(t *testing.T) {
		m, _ := respondWith(t, "$MM ERR,DBXINVMSGID*12")
		_, err := m.RxMessageCount(ctx, false)
		if !errors.Is(err, swarm.ErrCommandFailed) {
			t.Fatalf("expected ErrCommandFailed, got: %v", err)
		}
		if m.CommandError() != "DBXINVMSGID" {
			t.Errorf("CommandError() = %q", m.CommandError())
		}
	})
}

func TestReadMessage(t *testing.T) {
	ctx := context.Background()

	t.Run("Read by ID", func(t *testing.T) {
		m, transport := respondWith(t, "$MM AI=1234,48656c6c6f,5354468575916,1605639570*5a")
		msg, err := m.ReadMessage(ctx, 5354468575916)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		want := swarm.StoredMessage{
			AppID:     1234,
			Data:      "48656c6c6f",
			MessageID: 5354468575916,
			Epoch:     1605639570,
		}
		if msg != want {
			t.Errorf("got %+v, want %+v", msg, want)
		}
		payload, err := msg.Payload()
		if err != nil || string(payload) != "Hello" {
			t.Errorf("payload = %q, %v", payload, err)
		}
		if got := lastWrite(t, transport); got != "$MM R=5354468575916*7b\n" {
			t.Errorf("command = %q", got)
		}
	})

	t.Run("Read oldest", func(t *testing.T) {
		m, transport := respondWith(t, "$MM AI=1234,48656c6c6f,5354468575916,1605639570*5a")
		if _, err := m.ReadOldestMessage(ctx); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if got := lastWrite(t, transport); got != "$MM R=O*00\n" {
			t.Errorf("command = %q", got)
		}
	})

	t.Run("Read newest", func(t *testing.T) {
		m, transport := respondWith(t, "$MM AI=1234,48656c6c6f,5354468575916,1605639570*5a")
		if _, err := m.ReadNewestMessage(ctx); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if got := lastWrite(t, transport); got != "$MM R=N*01\n" {
			t.Errorf("command = %q", got)
		}
	})

	t.Run("List without changing read state", func(t *testing.T) {
		m, transport := respondWith(t, "$MM AI=1234,48656c6c6f,5354468575916,1605639570*5a")
		if _, err := m.ListMessage(ctx, 5354468575916); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if got := lastWrite(t, transport); got != "$MM L=5354468575916*65\n" {
			t.Errorf("command = %q", got)
		}
	})
}

func TestTxMessageManagement(t *testing.T) {
	ctx := context.Background()

	t.Run("Unsent count", func(t *testing.T) {
		m, transport := respondWith(t, "$MT 4*0d")
		count, err := m.UnsentMessageCount(ctx)
		if err != nil || count != 4 {
			t.Errorf("UnsentMessageCount() = %d, %v", count, err)
		}
		if got := lastWrite(t, transport); got != "$MT C=U*12\n" {
			t.Errorf("command = %q", got)
		}
	})

	t.Run("Delete one", func(t *testing.T) {
		m, transport := respondWith(t, "$MT DELETED,1*79")
		if err := m.DeleteTxMessage(ctx, 4428826476689); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if got := lastWrite(t, transport); got != "$MT D=4428826476689*74\n" {
			t.Errorf("command = %q", got)
		}
	})

	t.Run("Delete all unsent", func(t *testing.T) {
		m, transport := respondWith(t, "$MT DELETED,3*7b")
		if err := m.DeleteAllTxMessages(ctx); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if got := lastWrite(t, transport); got != "$MT D=U*15\n" {
			t.Errorf("command = %q", got)
		}
	})

	t.Run("List a queued message", func(t *testing.T) {
		m, transport := respondWith(t, "$MT AI=1000,48656c6c6f,4428826476689,1605639570*46")
		msg, err := m.ListTxMessage(ctx, 4428826476689)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if msg.AppID != 1000 || msg.Data != "48656c6c6f" || msg.MessageID != 4428826476689 {
			t.Errorf("got %+v", msg)
		}
		if got := lastWrite(t, transport); got != "$MT L=4428826476689*7c\n" {
			t.Errorf("command = %q", got)
		}
	})
}

func TestTransmit(t *testing.T) {
	ctx := context.Background()

	t.Run("Plain text", func(t *testing.T) {
		m, transport := respondWith(t, "$TD OK,5354468575916*2c")
		id, err := m.TransmitText(ctx, "Hello")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if id != 5354468575916 {
			t.Errorf("message ID = %d", id)
		}
		if got := lastWrite(t, transport); got != "$TD \"Hello\"*72\n" {
			t.Errorf("command = %q", got)
		}
	})

	t.Run("Text with app ID", func(t *testing.T) {
		m, transport := respondWith(t, "$TD OK,5354468575916*2c")
		if _, err := m.TransmitText(ctx, "Hello", swarm.WithAppID(1000)); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if got := lastWrite(t, transport); got != "$TD AI=1000,\"Hello\"*6a\n" {
			t.Errorf("command = %q", got)
		}
	})

	t.Run("All options are encoded in order", func(t *testing.T) {
		m, transport := respondWith(t, "$TD OK,1234567890*19")
		_, err := m.TransmitText(ctx, "Hello",
			swarm.WithAppID(1000), swarm.WithHold(86400), swarm.WithExpire(2000000000))
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		want := "$TD AI=1000,HD=86400,ET=2000000000,\"Hello\"*4f\n"
		if got := lastWrite(t, transport); got != want {
			t.Errorf("command = %q, want %q", got, want)
		}
	})

	t.Run("Binary is hex encoded", func(t *testing.T) {
		m, transport := respondWith(t, "$TD OK,1234567890*19")
		if _, err := m.TransmitBinary(ctx, []byte("Hello")); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if got := lastWrite(t, transport); got != "$TD 48656C6C6F*4f\n" {
			t.Errorf("command = %q", got)
		}
	})

	t.Run("Oversize binary payload is rejected locally", func(t *testing.T) {
		transport := swarm.NewScriptTransport()
		m := newTestModem(t, transport)
		_, err := m.TransmitBinary(ctx, make([]byte, swarm.MaxPacketBytes+1))
		if !errors.Is(err, swarm.ErrBufferFull) {
			t.Fatalf("expected ErrBufferFull, got: %v", err)
		}
		if len(transport.Writes()) != 0 {
			t.Error("command was written despite the oversize payload")
		}
	})

	t.Run("Oversize text payload is rejected locally", func(t *testing.T) {
		transport := swarm.NewScriptTransport()
		m := newTestModem(t, transport)
		_, err := m.TransmitText(ctx, string(make([]byte, swarm.MaxPacketBytes+1)))
		if !errors.Is(err, swarm.ErrBufferFull) {
			t.Fatalf("expected ErrBufferFull, got: %v", err)
		}
	})
}
