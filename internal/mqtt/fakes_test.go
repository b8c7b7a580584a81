//go:build !no_mqtt

package mqtt

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"sync"
	"testing"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"

	"zigbee-efekta/internal/converter"
	"zigbee-efekta/internal/coordinator"
	"zigbee-efekta/internal/devices/efekta"
	"zigbee-efekta/internal/ncp"
	"zigbee-efekta/internal/store"
	"zigbee-efekta/internal/zcl"
	"zigbee-efekta/internal/zcl/clusters"
)

// stubNCP implements ncp.NCP, recording writes and reads.
type stubNCP struct {
	mu      sync.Mutex
	writes  []ncp.WriteAttributesRequest
	reads   []ncp.ReadAttributesRequest
	permits []uint8
}

func (s *stubNCP) Start(context.Context, ncp.NetworkConfig) error           { return nil }
func (s *stubNCP) NetworkInfo() *ncp.NetworkInfo                            { return nil }
func (s *stubNCP) ActiveEndpoints(context.Context, uint64) ([]uint8, error) { return []uint8{1}, nil }
func (s *stubNCP) Bind(context.Context, ncp.BindRequest) error              { return nil }
func (s *stubNCP) RemoveDevice(context.Context, uint64) error               { return nil }
func (s *stubNCP) SendCommand(context.Context, ncp.ClusterCommandRequest) error {
	return nil
}
func (s *stubNCP) ConfigureReporting(context.Context, ncp.ConfigureReportingRequest) error {
	return nil
}
func (s *stubNCP) OnDeviceJoined(func(ncp.DeviceJoinedEvent))       {}
func (s *stubNCP) OnDeviceLeft(func(ncp.DeviceLeftEvent))           {}
func (s *stubNCP) OnDeviceAnnounce(func(ncp.DeviceAnnounceEvent))   {}
func (s *stubNCP) OnAttributeReport(func(ncp.AttributeReportEvent)) {}
func (s *stubNCP) Close() error                                     { return nil }

func (s *stubNCP) PermitJoin(_ context.Context, d uint8) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.permits = append(s.permits, d)
	return nil
}

func (s *stubNCP) WriteAttributes(_ context.Context, req ncp.WriteAttributesRequest) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.writes = append(s.writes, req)
	return nil
}

func (s *stubNCP) ReadAttributes(_ context.Context, req ncp.ReadAttributesRequest) ([]ncp.AttributeResponse, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reads = append(s.reads, req)
	var out []ncp.AttributeResponse
	for _, id := range req.AttrIDs {
		out = append(out, ncp.AttributeResponse{AttrID: id, Status: zcl.ZCLStatusUnsupportedAttr})
	}
	return out, nil
}

type doneToken struct{}

func (doneToken) Wait() bool                     { return true }
func (doneToken) WaitTimeout(time.Duration) bool { return true }
func (doneToken) Error() error                   { return nil }
func (doneToken) Done() <-chan struct{} {
	ch := make(chan struct{})
	close(ch)
	return ch
}

type published struct {
	topic    string
	payload  []byte
	retained bool
}

// fakeClient records publishes and subscriptions.
type fakeClient struct {
	mu   sync.Mutex
	pubs []published
	subs []string
}

func (f *fakeClient) Publish(topic string, _ byte, retained bool, payload interface{}) pahomqtt.Token {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, _ := payload.([]byte)
	f.pubs = append(f.pubs, published{topic, p, retained})
	return doneToken{}
}

func (f *fakeClient) Subscribe(topic string, _ byte, _ pahomqtt.MessageHandler) pahomqtt.Token {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.subs = append(f.subs, topic)
	return doneToken{}
}

func (f *fakeClient) Disconnect(uint) {}

// last returns the most recent publish on topic.
func (f *fakeClient) last(topic string) (published, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := len(f.pubs) - 1; i >= 0; i-- {
		if f.pubs[i].topic == topic {
			return f.pubs[i], true
		}
	}
	return published{}, false
}

func (f *fakeClient) reset() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pubs = nil
}

const testIEEE = "0x00124b0001020304"

func sensorFixture() *store.Device {
	return &store.Device{
		IEEEAddress:  testIEEE,
		ShortAddress: 0x1234,
		FriendlyName: "Cellar",
		ZigbeeModel:  "EFEKTA_TH_v2_LR",
		Manufacturer: "EfektaLab",
		Model:        "EFEKTA_TH_v2_LR",
		Supported:    true,
		Interviewed:  true,
		Configured:   true,
		Endpoints:    []uint8{1},
	}
}

func newTestBridge(t *testing.T) (*Bridge, *fakeClient, *stubNCP, *store.BoltStore) {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	reg := zcl.NewRegistry(logger)
	clusters.RegisterStandard(reg)
	defs, err := converter.NewRegistry(efekta.Definitions()...)
	if err != nil {
		t.Fatal(err)
	}

	db, err := store.NewBoltStore(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { db.Close() })
	if err := db.SaveDevice(sensorFixture()); err != nil {
		t.Fatal(err)
	}

	radio := &stubNCP{}
	coord := coordinator.New(radio, db, reg, defs, coordinator.NewEventBus(logger), coordinator.Config{}, logger)
	t.Cleanup(coord.Stop)

	fc := &fakeClient{}
	b := newBridge(coord, Config{TopicPrefix: "zigbee2mqtt", Discovery: true}, logger)
	b.client = fc
	b.Start()
	t.Cleanup(func() { b.unsub() })
	return b, fc, radio, db
}
