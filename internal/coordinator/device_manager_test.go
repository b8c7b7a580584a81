package coordinator

import (
	"context"
	"errors"
	"testing"

	"zigbee-efekta/internal/converter"
	"zigbee-efekta/internal/converter/exposes"
	"zigbee-efekta/internal/ncp"
	"zigbee-efekta/internal/store"
	"zigbee-efekta/internal/zcl"
)

const testIEEE = "0x00124b0001020304"

// deviceFixture is an interviewed and configured EFEKTA_TH_v2_LR.
func deviceFixture() *store.Device {
	return &store.Device{
		IEEEAddress:  testIEEE,
		ShortAddress: 0x1234,
		ZigbeeModel:  "EFEKTA_TH_v2_LR",
		Model:        "EFEKTA_TH_v2_LR",
		Supported:    true,
		Interviewed:  true,
		Configured:   true,
		Endpoints:    []uint8{1},
	}
}

func mustIEEE(t *testing.T, s string) uint64 {
	t.Helper()
	v, err := ncp.ParseIEEE(s)
	if err != nil {
		t.Fatal(err)
	}
	return v
}

func TestInterviewConfiguresKnownModel(t *testing.T) {
	c, radio, ms := newTestCoordinator(t)
	radio.setAttr(t, 0x0000, 0x0004, zcl.TypeCharStr, "EfektaLab")
	radio.setAttr(t, 0x0000, 0x0005, zcl.TypeCharStr, "EFEKTA_TH_v2_LR")
	statuses := collect(c.events, EventDeviceInterview)

	c.devices.HandleJoin(ncp.DeviceJoinedEvent{ShortAddr: 0x1234, IEEE: mustIEEE(t, testIEEE)})
	c.devices.interviewWg.Wait()

	dev, err := ms.GetDevice(testIEEE)
	if err != nil {
		t.Fatal(err)
	}
	if !dev.Interviewed || !dev.Supported || !dev.Configured {
		t.Fatalf("device = %+v", dev)
	}
	if dev.Model != "EFEKTA_TH_v2_LR" || dev.Manufacturer != "EfektaLab" {
		t.Errorf("model = %q manufacturer = %q", dev.Model, dev.Manufacturer)
	}

	wantBinds := []uint16{0x0001, 0x0402, 0x0405}
	if len(radio.binds) != len(wantBinds) {
		t.Fatalf("binds = %+v", radio.binds)
	}
	for i, b := range radio.binds {
		if b.ClusterID != wantBinds[i] || b.SrcEP != 1 || b.DstEP != coordinatorEndpoint {
			t.Errorf("bind %d = %+v", i, b)
		}
	}

	if len(radio.reportings) != 5 {
		t.Fatalf("reporting requests = %d, want 5", len(radio.reportings))
	}
	alarm := radio.reportings[2]
	if alarm.AttrID != 0x003E || alarm.ReportChange != nil {
		t.Errorf("alarm state reporting = %+v, want no reportable change", alarm)
	}
	temp := radio.reportings[3]
	if temp.ClusterID != 0x0402 || temp.MinInterval != 60 || temp.MaxInterval != 1200 {
		t.Errorf("temperature reporting = %+v", temp)
	}
	if len(temp.ReportChange) != 2 || temp.ReportChange[0] != 1 {
		t.Errorf("temperature change = %x, want int16 1", temp.ReportChange)
	}

	got := statuses()
	if len(got) != 2 || got[1].Data.(InterviewStatus).Status != "successful" {
		t.Errorf("interview events = %+v", got)
	}
}

func TestInterviewUnknownModel(t *testing.T) {
	c, radio, ms := newTestCoordinator(t)
	radio.setAttr(t, 0x0000, 0x0005, zcl.TypeCharStr, "lumi.weather")

	c.devices.HandleAnnounce(ncp.DeviceAnnounceEvent{ShortAddr: 0x2222, IEEE: 0x1})
	c.devices.interviewWg.Wait()

	dev, err := ms.GetDevice("0x0000000000000001")
	if err != nil {
		t.Fatal(err)
	}
	if !dev.Interviewed || dev.Supported || dev.Model != "" {
		t.Errorf("device = %+v", dev)
	}
	if len(radio.binds) != 0 {
		t.Error("unsupported device was bound")
	}
}

func TestInterviewConfigureFailureRetriedOnAnnounce(t *testing.T) {
	c, radio, ms := newTestCoordinator(t)
	radio.setAttr(t, 0x0000, 0x0005, zcl.TypeCharStr, "EFEKTA_TH_LR")
	radio.failBind = errors.New("no ack")

	c.devices.HandleJoin(ncp.DeviceJoinedEvent{IEEE: mustIEEE(t, testIEEE)})
	c.devices.interviewWg.Wait()

	dev, _ := ms.GetDevice(testIEEE)
	if !dev.Supported || dev.Configured {
		t.Fatalf("device = %+v, want supported and unconfigured", dev)
	}

	radio.failBind = nil
	c.devices.recent.DeleteAll()
	c.devices.HandleAnnounce(ncp.DeviceAnnounceEvent{IEEE: mustIEEE(t, testIEEE)})
	c.devices.interviewWg.Wait()

	dev, _ = ms.GetDevice(testIEEE)
	if !dev.Configured {
		t.Error("announce did not reconfigure")
	}
}

func TestAnnounceDebounce(t *testing.T) {
	c, radio, _ := newTestCoordinator(t)
	radio.endpoints = nil // interview fails and the device stays uninterviewed

	ieee := mustIEEE(t, testIEEE)
	c.devices.HandleJoin(ncp.DeviceJoinedEvent{IEEE: ieee})
	c.devices.interviewWg.Wait()
	c.devices.HandleAnnounce(ncp.DeviceAnnounceEvent{IEEE: ieee})
	c.devices.interviewWg.Wait()

	if radio.activeEPs != interviewAttempts {
		t.Errorf("active endpoint queries = %d, want one interview of %d attempts", radio.activeEPs, interviewAttempts)
	}
}

func TestAnnounceKeepsConcurrentState(t *testing.T) {
	c, _, ms := newTestCoordinator(t)
	ms.SaveDevice(deviceFixture())

	ms.interleave = func() {
		if _, err := c.devices.SetState(context.Background(), testIEEE, map[string]any{"high_temp": 30}); err != nil {
			t.Errorf("SetState: %v", err)
		}
	}
	c.devices.HandleAnnounce(ncp.DeviceAnnounceEvent{IEEE: mustIEEE(t, testIEEE), ShortAddr: 0x4321})
	c.devices.interviewWg.Wait()

	dev, err := ms.GetDevice(testIEEE)
	if err != nil {
		t.Fatal(err)
	}
	if dev.ShortAddress != 0x4321 {
		t.Errorf("short address = 0x%04X", dev.ShortAddress)
	}
	if dev.State["high_temp"] == nil {
		t.Errorf("state written during announce was lost: %v", dev.State)
	}
}

func TestAnnounceCreatesUnknownDevice(t *testing.T) {
	c, radio, ms := newTestCoordinator(t)
	radio.endpoints = nil

	c.devices.HandleAnnounce(ncp.DeviceAnnounceEvent{IEEE: mustIEEE(t, testIEEE), ShortAddr: 0x0abc})
	c.devices.interviewWg.Wait()

	dev, err := ms.GetDevice(testIEEE)
	if err != nil {
		t.Fatal(err)
	}
	if dev.ShortAddress != 0x0abc || dev.JoinedAt.IsZero() || dev.LastSeen.IsZero() {
		t.Errorf("device = %+v", dev)
	}
}

func TestAttributeReportUpdatesState(t *testing.T) {
	c, _, ms := newTestCoordinator(t)
	ms.SaveDevice(deviceFixture())
	updates := collect(c.events, EventStateUpdate)

	temp, _ := zcl.EncodeValue(zcl.TypeInt16, -1250)
	enable, _ := zcl.EncodeValue(zcl.TypeBool, true)
	c.devices.HandleAttributeReport(ncp.AttributeReportEvent{
		IEEE:      mustIEEE(t, testIEEE),
		SrcEP:     1,
		ClusterID: 0x0402,
		LQI:       87,
		Records: []ncp.AttributeRecord{
			{AttrID: 0x0000, DataType: zcl.TypeInt16, Value: temp},
			{AttrID: 0x0220, DataType: zcl.TypeBool, Value: enable},
		},
	})

	dev, _ := ms.GetDevice(testIEEE)
	if dev.State["temperature"] != -12.5 || dev.State["enable_temp"] != "ON" {
		t.Errorf("state = %v", dev.State)
	}
	if dev.LQI != 87 {
		t.Errorf("lqi = %d", dev.LQI)
	}
	got := updates()
	if len(got) != 1 {
		t.Fatalf("state updates = %d", len(got))
	}
	su := got[0].Data.(StateUpdate)
	if su.Changed["temperature"] != -12.5 || su.Changed["linkquality"] != uint8(87) {
		t.Errorf("changed = %v", su.Changed)
	}
}

func TestAttributeReportAppliesModelOptions(t *testing.T) {
	c, _, ms := newTestCoordinator(t)
	dev := deviceFixture()
	dev.ZigbeeModel, dev.Model = "EFEKTA_TH_LR", "EFEKTA_TH_LR"
	dev.Options = map[string]any{"temperature_calibration": 1.0}
	ms.SaveDevice(dev)

	raw, _ := zcl.EncodeValue(zcl.TypeInt16, 2236)
	c.devices.HandleAttributeReport(ncp.AttributeReportEvent{
		IEEE:      mustIEEE(t, testIEEE),
		ClusterID: 0x0402,
		Records:   []ncp.AttributeRecord{{AttrID: 0x0000, DataType: zcl.TypeInt16, Value: raw}},
	})

	got, _ := ms.GetDevice(testIEEE)
	// model default precision 1, device calibration +1
	if got.State["temperature"] != 23.4 {
		t.Errorf("temperature = %v, want 23.4", got.State["temperature"])
	}
}

func TestAttributeReportDecodeError(t *testing.T) {
	c, _, ms := newTestCoordinator(t)
	ms.SaveDevice(deviceFixture())
	errs := collect(c.events, EventDecodeError)

	c.devices.handleMessage(testIEEE, &converter.Message{
		Cluster: "msTemperatureMeasurement",
		Type:    converter.AttributeReport,
		Data:    map[uint16]any{0x0220: uint64(7), 0x0221: int64(28)},
	})

	dev, _ := ms.GetDevice(testIEEE)
	if _, ok := dev.State["enable_temp"]; ok {
		t.Error("out of range value stored")
	}
	if dev.State["high_temp"] != int64(28) {
		t.Errorf("state = %v", dev.State)
	}
	if len(errs()) != 1 {
		t.Error("decode_error not emitted")
	}
}

func TestSetStateWritesAndStores(t *testing.T) {
	c, radio, ms := newTestCoordinator(t)
	ms.SaveDevice(deviceFixture())

	state, err := c.devices.SetState(context.Background(), testIEEE, map[string]any{
		"enable_hum": "ON",
		"high_hum":   70,
	})
	if err != nil {
		t.Fatal(err)
	}
	if state["enable_hum"] != "ON" || state["high_hum"] != 70 {
		t.Errorf("state = %v", state)
	}
	if len(radio.writes) != 2 {
		t.Fatalf("writes = %+v", radio.writes)
	}
	// keys are applied in sorted order
	w := radio.writes[0]
	if w.ClusterID != 0x0405 || w.Records[0].AttrID != 0x0220 || w.Records[0].DataType != zcl.TypeBool || w.Records[0].Value[0] != 1 {
		t.Errorf("enable_hum write = %+v", w)
	}
	w = radio.writes[1]
	if w.Records[0].AttrID != 0x0221 || w.Records[0].DataType != zcl.TypeUint16 {
		t.Errorf("high_hum write = %+v", w)
	}

	dev, _ := ms.GetDevice(testIEEE)
	if dev.State["enable_hum"] != "ON" {
		t.Errorf("stored state = %v", dev.State)
	}
}

func TestSetStateValidatesRange(t *testing.T) {
	c, radio, ms := newTestCoordinator(t)
	ms.SaveDevice(deviceFixture())

	_, err := c.devices.SetState(context.Background(), testIEEE, map[string]any{"high_hum": 100})
	if !errors.Is(err, exposes.ErrInvalidValue) {
		t.Errorf("err = %v, want ErrInvalidValue", err)
	}
	_, err = c.devices.SetState(context.Background(), testIEEE, map[string]any{"temperature": 20})
	if !errors.Is(err, exposes.ErrReadOnly) {
		t.Errorf("err = %v, want ErrReadOnly", err)
	}
	if len(radio.writes) != 0 {
		t.Errorf("invalid values written: %+v", radio.writes)
	}
}

func TestSetStateFactoryReset(t *testing.T) {
	c, radio, ms := newTestCoordinator(t)
	ms.SaveDevice(deviceFixture())

	if _, err := c.devices.SetState(context.Background(), testIEEE, map[string]any{"reset": ""}); err != nil {
		t.Fatal(err)
	}
	if len(radio.commands) != 1 || radio.commands[0].ClusterID != 0x0000 || radio.commands[0].CommandID != 0 {
		t.Errorf("commands = %+v", radio.commands)
	}
}

func TestSetStateUnknownDevice(t *testing.T) {
	c, _, _ := newTestCoordinator(t)
	_, err := c.devices.SetState(context.Background(), "garage", map[string]any{"enable_temp": "ON"})
	if !errors.Is(err, ErrDeviceNotFound) {
		t.Errorf("err = %v", err)
	}
}

func TestGetStateReadsBack(t *testing.T) {
	c, radio, ms := newTestCoordinator(t)
	ms.SaveDevice(deviceFixture())
	radio.setAttr(t, 0x0001, 0x0201, zcl.TypeUint16, 30)

	if err := c.devices.GetState(context.Background(), testIEEE, []string{"reading_interval"}); err != nil {
		t.Fatal(err)
	}
	if len(radio.reads) != 1 || radio.reads[0].ClusterID != 0x0001 {
		t.Fatalf("reads = %+v", radio.reads)
	}
	dev, _ := ms.GetDevice(testIEEE)
	if dev.State["reading_interval"] != int64(30) {
		t.Errorf("state = %v", dev.State)
	}
}

func TestGetStateUnsupportedAttribute(t *testing.T) {
	c, _, ms := newTestCoordinator(t)
	ms.SaveDevice(deviceFixture())

	err := c.devices.GetState(context.Background(), testIEEE, []string{"high_temp"})
	var se *zcl.StatusError
	if !errors.As(err, &se) || se.Status != zcl.ZCLStatusUnsupportedAttr {
		t.Errorf("err = %v, want unsupported attribute status", err)
	}
}

func TestSetOptions(t *testing.T) {
	c, _, ms := newTestCoordinator(t)
	ms.SaveDevice(deviceFixture())

	if err := c.devices.SetOptions(testIEEE, converter.Options{"humidity_precision": 1}); err != nil {
		t.Fatal(err)
	}
	if err := c.devices.SetOptions(testIEEE, converter.Options{"humidity_precision": 9}); !errors.Is(err, exposes.ErrInvalidValue) {
		t.Errorf("out of range option: %v", err)
	}
	if err := c.devices.SetOptions(testIEEE, converter.Options{"brightness": 1}); !errors.Is(err, converter.ErrUnknownKey) {
		t.Errorf("unknown option: %v", err)
	}
	dev, _ := ms.GetDevice(testIEEE)
	if dev.Options["humidity_precision"] != 1 {
		t.Errorf("options = %v", dev.Options)
	}
}

func TestRenameAndLookupByName(t *testing.T) {
	c, _, ms := newTestCoordinator(t)
	ms.SaveDevice(deviceFixture())

	if err := c.devices.Rename(testIEEE, "cellar"); err != nil {
		t.Fatal(err)
	}
	dev, err := c.devices.GetDevice("cellar")
	if err != nil || dev.IEEEAddress != testIEEE {
		t.Fatalf("by name: %v, %v", dev, err)
	}
	if err := c.devices.Rename("cellar", "0x00124b0009999999"); err == nil {
		t.Error("IEEE-shaped name accepted")
	}
}

func TestRemoveDevice(t *testing.T) {
	c, radio, ms := newTestCoordinator(t)
	ms.SaveDevice(deviceFixture())
	removed := collect(c.events, EventDeviceRemoved)

	if err := c.devices.RemoveDevice(context.Background(), testIEEE); err != nil {
		t.Fatal(err)
	}
	if len(radio.removed) != 1 || ncp.FormatIEEE(radio.removed[0]) != testIEEE {
		t.Errorf("leave requests = %v", radio.removed)
	}
	if _, err := ms.GetDevice(testIEEE); !errors.Is(err, store.ErrNotFound) {
		t.Error("device still stored")
	}
	if len(removed()) != 1 {
		t.Error("device_removed not emitted")
	}
	if err := c.devices.RemoveDevice(context.Background(), testIEEE); !errors.Is(err, ErrDeviceNotFound) {
		t.Errorf("second remove: %v", err)
	}
}

func TestHandleLeave(t *testing.T) {
	c, _, ms := newTestCoordinator(t)
	ms.SaveDevice(deviceFixture())

	c.devices.HandleLeave(ncp.DeviceLeftEvent{IEEE: mustIEEE(t, testIEEE)})
	if _, err := ms.GetDevice(testIEEE); !errors.Is(err, store.ErrNotFound) {
		t.Error("device survived leave")
	}
}
