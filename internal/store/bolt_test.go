package store

import (
	"encoding/json"
	"errors"
	"path/filepath"
	"testing"
	"time"
)

func newTestStore(t *testing.T) *BoltStore {
	t.Helper()
	s, err := NewBoltStore(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestSaveAndGetDevice(t *testing.T) {
	s := newTestStore(t)

	dev := &Device{
		IEEEAddress:  "0x00124b0001020304",
		ShortAddress: 0x1234,
		ZigbeeModel:  "EFEKTA_TH_v2_LR",
		Manufacturer: "EfektaLab",
		Model:        "EFEKTA_TH_v2_LR",
		Supported:    true,
		Interviewed:  true,
		Endpoints:    []uint8{1},
		JoinedAt:     time.Now().Truncate(time.Millisecond),
		State:        map[string]any{"temperature": 21.5, "enable_temp": "ON"},
	}
	if err := s.SaveDevice(dev); err != nil {
		t.Fatal(err)
	}

	got, err := s.GetDevice(dev.IEEEAddress)
	if err != nil {
		t.Fatal(err)
	}
	if got.ShortAddress != dev.ShortAddress {
		t.Errorf("short = 0x%04X, want 0x%04X", got.ShortAddress, dev.ShortAddress)
	}
	if got.Model != dev.Model || !got.Supported {
		t.Errorf("model = %q supported = %v", got.Model, got.Supported)
	}
	if !got.JoinedAt.Equal(dev.JoinedAt) {
		t.Errorf("joined_at = %v, want %v", got.JoinedAt, dev.JoinedAt)
	}
	// JSON round trip turns numbers into float64.
	if got.State["temperature"] != 21.5 || got.State["enable_temp"] != "ON" {
		t.Errorf("state = %v", got.State)
	}
}

func TestGetDeviceNotFound(t *testing.T) {
	s := newTestStore(t)
	if _, err := s.GetDevice("0xffffffffffffffff"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestDeleteDevice(t *testing.T) {
	s := newTestStore(t)
	dev := &Device{IEEEAddress: "0x0000000000000001", FriendlyName: "kitchen"}
	if err := s.SaveDevice(dev); err != nil {
		t.Fatal(err)
	}
	if err := s.DeleteDevice(dev.IEEEAddress); err != nil {
		t.Fatal(err)
	}
	if _, err := s.GetDevice(dev.IEEEAddress); !errors.Is(err, ErrNotFound) {
		t.Errorf("get after delete: %v", err)
	}
	if _, err := s.GetDeviceByName("kitchen"); !errors.Is(err, ErrNotFound) {
		t.Errorf("name survived delete: %v", err)
	}
	if err := s.DeleteDevice(dev.IEEEAddress); !errors.Is(err, ErrNotFound) {
		t.Errorf("second delete: %v", err)
	}
}

func TestListDevices(t *testing.T) {
	s := newTestStore(t)
	for _, ieee := range []string{"0x0000000000000001", "0x0000000000000002", "0x0000000000000003"} {
		if err := s.SaveDevice(&Device{IEEEAddress: ieee}); err != nil {
			t.Fatal(err)
		}
	}
	list, err := s.ListDevices()
	if err != nil {
		t.Fatal(err)
	}
	if len(list) != 3 {
		t.Fatalf("list count = %d, want 3", len(list))
	}
}

func TestFriendlyNames(t *testing.T) {
	s := newTestStore(t)
	a := &Device{IEEEAddress: "0x0000000000000001", FriendlyName: "bedroom"}
	if err := s.SaveDevice(a); err != nil {
		t.Fatal(err)
	}

	got, err := s.GetDeviceByName("bedroom")
	if err != nil || got.IEEEAddress != a.IEEEAddress {
		t.Fatalf("by name: %v, %v", got, err)
	}
	if got, err := s.GetDeviceByName(a.IEEEAddress); err != nil || got.Name() != "bedroom" {
		t.Errorf("by ieee fallback: %v, %v", got, err)
	}

	b := &Device{IEEEAddress: "0x0000000000000002", FriendlyName: "bedroom"}
	if err := s.SaveDevice(b); err == nil {
		t.Error("duplicate friendly name accepted")
	}

	err = s.UpdateDevice(a.IEEEAddress, func(d *Device) error {
		d.FriendlyName = "office"
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := s.GetDeviceByName("bedroom"); !errors.Is(err, ErrNotFound) {
		t.Errorf("old name still resolves: %v", err)
	}
	if err := s.SaveDevice(b); err != nil {
		t.Errorf("freed name rejected: %v", err)
	}
}

func TestUpdateDevice(t *testing.T) {
	s := newTestStore(t)
	if err := s.SaveDevice(&Device{IEEEAddress: "0x0000000000000001"}); err != nil {
		t.Fatal(err)
	}

	err := s.UpdateDevice("0x0000000000000001", func(d *Device) error {
		d.LQI = 120
		d.State = map[string]any{"humidity": 45.0}
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}
	got, _ := s.GetDevice("0x0000000000000001")
	if got.LQI != 120 || got.State["humidity"] != 45.0 {
		t.Errorf("update lost: %+v", got)
	}

	boom := errors.New("abort")
	err = s.UpdateDevice("0x0000000000000001", func(d *Device) error {
		d.LQI = 1
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("err = %v", err)
	}
	if got, _ := s.GetDevice("0x0000000000000001"); got.LQI != 120 {
		t.Error("aborted update was saved")
	}

	if err := s.UpdateDevice("0x0000000000000009", func(*Device) error { return nil }); !errors.Is(err, ErrNotFound) {
		t.Errorf("missing device: %v", err)
	}
}

func TestNetworkStateKeepsKey(t *testing.T) {
	s := newTestStore(t)
	state := &NetworkState{
		Channel:    15,
		PanID:      0x1A62,
		ExtPanID:   "DDDDDDDDDDDDDDDD",
		NetworkKey: "01030507090b0d0f00020406080a0c0d",
		Formed:     true,
	}
	if err := s.SaveNetworkState(state); err != nil {
		t.Fatal(err)
	}
	got, err := s.GetNetworkState()
	if err != nil {
		t.Fatal(err)
	}
	if *got != *state {
		t.Errorf("got %+v, want %+v", got, state)
	}

	data, _ := json.Marshal(got)
	var m map[string]any
	json.Unmarshal(data, &m)
	if _, ok := m["network_key"]; ok {
		t.Error("network key leaked into JSON")
	}
}
