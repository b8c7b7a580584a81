package ncp

import (
	"bytes"
	"io"
	"log/slog"
	"testing"

	"github.com/shimmeringbee/zigbee"

	"zigbee-efekta/internal/zcl"
)

func TestWireValue(t *testing.T) {
	tests := []struct {
		dataType uint8
		raw      []byte
		want     any
	}{
		{zcl.TypeBool, []byte{0x01}, true},
		{zcl.TypeUint16, []byte{0x2C, 0x01}, uint64(300)},
		{zcl.TypeInt16, []byte{0xE7, 0xFF}, int64(-25)},
		{zcl.TypeEnum8, []byte{0x02}, uint8(2)},
		{zcl.TypeEnum16, []byte{0x02, 0x01}, uint16(0x0102)},
	}
	for _, tt := range tests {
		got, err := wireValue(tt.dataType, tt.raw)
		if err != nil {
			t.Fatalf("type 0x%02X: %v", tt.dataType, err)
		}
		if got != tt.want {
			t.Errorf("type 0x%02X: got %v (%T), want %v (%T)", tt.dataType, got, got, tt.want, tt.want)
		}
	}
}

func TestWireValueTruncated(t *testing.T) {
	if _, err := wireValue(zcl.TypeUint16, []byte{0x01}); err == nil {
		t.Error("expected error for short buffer")
	}
}

func TestParseIEEE(t *testing.T) {
	for _, in := range []string{"0x00124b0001020304", "00124B0001020304", "00:12:4b:00:01:02:03:04"} {
		v, err := ParseIEEE(in)
		if err != nil {
			t.Fatalf("%s: %v", in, err)
		}
		if FormatIEEE(v) != "0x00124b0001020304" {
			t.Errorf("%s: round trip %s", in, FormatIEEE(v))
		}
	}
	if _, err := ParseIEEE("0x1234"); err == nil {
		t.Error("short address accepted")
	}
}

func TestConfigureReportingMarshal(t *testing.T) {
	n := &ZStackNCP{reg: newCommandRegistry()}
	msg, err := n.configureReportingMessage(7, ConfigureReportingRequest{
		DstEP:        1,
		ClusterID:    0x0402,
		AttrID:       0x0000,
		DataType:     zcl.TypeInt16,
		MinInterval:  60,
		MaxInterval:  1200,
		ReportChange: []byte{0x01, 0x00},
	})
	if err != nil {
		t.Fatal(err)
	}
	app, err := n.reg.Marshal(msg)
	if err != nil {
		t.Fatal(err)
	}
	if app.ClusterID != 0x0402 {
		t.Errorf("cluster = 0x%04X", uint16(app.ClusterID))
	}
	// frame control, sequence, command 0x06, then direction, attribute,
	// type, min and max interval.
	want := []byte{0x00, 0x07, 0x06, 0x00, 0x00, 0x00, 0x29, 0x3C, 0x00, 0xB0, 0x04}
	if !bytes.HasPrefix(app.Data, want) {
		t.Errorf("frame = % X, want prefix % X", app.Data, want)
	}
	if len(app.Data) <= len(want) {
		t.Error("reportable change missing from frame")
	}
}

func TestDispatchIgnoresNodeUpdates(t *testing.T) {
	n := &ZStackNCP{reg: newCommandRegistry(), logger: slog.New(slog.NewTextHandler(io.Discard, nil))}
	var joined []DeviceJoinedEvent
	announced := 0
	n.OnDeviceJoined(func(e DeviceJoinedEvent) { joined = append(joined, e) })
	n.OnDeviceAnnounce(func(DeviceAnnounceEvent) { announced++ })

	node := zigbee.Node{IEEEAddress: 0x00124b0001020304, NetworkAddress: 0x1234}
	n.dispatch(zigbee.NodeUpdateEvent{Node: node})
	n.dispatch(zigbee.NodeUpdateEvent{Node: node})
	if announced != 0 || len(joined) != 0 {
		t.Fatalf("node updates forwarded: announced=%d joined=%d", announced, len(joined))
	}

	n.dispatch(zigbee.NodeJoinEvent{Node: node})
	if len(joined) != 1 || joined[0].ShortAddr != 0x1234 || joined[0].IEEE != 0x00124b0001020304 {
		t.Errorf("join = %+v", joined)
	}
}
