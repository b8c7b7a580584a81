package coordinator

import (
	"context"
	"io"
	"log/slog"
	"maps"
	"sync"
	"testing"
	"time"

	"zigbee-efekta/internal/converter"
	"zigbee-efekta/internal/devices/efekta"
	"zigbee-efekta/internal/ncp"
	"zigbee-efekta/internal/store"
	"zigbee-efekta/internal/zcl"
	"zigbee-efekta/internal/zcl/clusters"
)

// memStore is a minimal in-memory store. Devices are copied in and out so
// tests see the same aliasing rules as the bolt store.
type memStore struct {
	mu       sync.Mutex
	devices  map[string]*store.Device
	netState *store.NetworkState

	// interleave, when set, runs once after the next GetDevice read or
	// before the next UpdateDevice, standing in for a concurrent writer.
	interleave func()
}

func (m *memStore) takeInterleave() func() {
	m.mu.Lock()
	defer m.mu.Unlock()
	fn := m.interleave
	m.interleave = nil
	return fn
}

func newMemStore() *memStore {
	return &memStore{devices: make(map[string]*store.Device)}
}

func cloneDevice(d *store.Device) *store.Device {
	cp := *d
	cp.State = maps.Clone(d.State)
	cp.Options = maps.Clone(d.Options)
	cp.Endpoints = append([]uint8(nil), d.Endpoints...)
	return &cp
}

func (m *memStore) SaveDevice(dev *store.Device) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.devices[dev.IEEEAddress] = cloneDevice(dev)
	return nil
}

func (m *memStore) GetDevice(ieee string) (*store.Device, error) {
	m.mu.Lock()
	d, ok := m.devices[ieee]
	if ok {
		d = cloneDevice(d)
	}
	m.mu.Unlock()
	if fn := m.takeInterleave(); fn != nil {
		fn()
	}
	if !ok {
		return nil, store.ErrNotFound
	}
	return d, nil
}

func (m *memStore) GetDeviceByName(name string) (*store.Device, error) {
	m.mu.Lock()
	for _, d := range m.devices {
		if d.FriendlyName == name {
			m.mu.Unlock()
			return cloneDevice(d), nil
		}
	}
	m.mu.Unlock()
	return m.GetDevice(name)
}

func (m *memStore) DeleteDevice(ieee string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.devices[ieee]; !ok {
		return store.ErrNotFound
	}
	delete(m.devices, ieee)
	return nil
}

func (m *memStore) ListDevices() ([]*store.Device, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	list := make([]*store.Device, 0, len(m.devices))
	for _, d := range m.devices {
		list = append(list, cloneDevice(d))
	}
	return list, nil
}

func (m *memStore) UpdateDevice(ieee string, fn func(dev *store.Device) error) error {
	if other := m.takeInterleave(); other != nil {
		other()
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.devices[ieee]
	if !ok {
		return store.ErrNotFound
	}
	cp := cloneDevice(d)
	if err := fn(cp); err != nil {
		return err
	}
	m.devices[ieee] = cp
	return nil
}

func (m *memStore) SaveNetworkState(s *store.NetworkState) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.netState = s
	return nil
}

func (m *memStore) GetNetworkState() (*store.NetworkState, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.netState == nil {
		return nil, store.ErrNotFound
	}
	return m.netState, nil
}

func (m *memStore) Close() error { return nil }

type attrKey struct {
	cluster, attr uint16
}

// stubNCP answers reads from a fixed attribute table and records requests.
type stubNCP struct {
	mu        sync.Mutex
	endpoints []uint8
	attrs     map[attrKey]ncp.AttributeResponse
	failBind  error

	started    []ncp.NetworkConfig
	permits    []uint8
	activeEPs  int
	binds      []ncp.BindRequest
	reads      []ncp.ReadAttributesRequest
	writes     []ncp.WriteAttributesRequest
	commands   []ncp.ClusterCommandRequest
	reportings []ncp.ConfigureReportingRequest
	removed    []uint64

	onJoined   func(ncp.DeviceJoinedEvent)
	onLeft     func(ncp.DeviceLeftEvent)
	onAnnounce func(ncp.DeviceAnnounceEvent)
	onReport   func(ncp.AttributeReportEvent)
}

func newStubNCP() *stubNCP {
	return &stubNCP{endpoints: []uint8{1}, attrs: make(map[attrKey]ncp.AttributeResponse)}
}

// setAttr encodes v so reads of cluster/attr return it.
func (s *stubNCP) setAttr(t *testing.T, cluster, attr uint16, typ uint8, v any) {
	t.Helper()
	raw, err := zcl.EncodeValue(typ, v)
	if err != nil {
		t.Fatal(err)
	}
	s.mu.Lock()
	s.attrs[attrKey{cluster, attr}] = ncp.AttributeResponse{AttrID: attr, DataType: typ, Value: raw}
	s.mu.Unlock()
}

func (s *stubNCP) Start(_ context.Context, cfg ncp.NetworkConfig) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.started = append(s.started, cfg)
	return nil
}

func (s *stubNCP) PermitJoin(_ context.Context, d uint8) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.permits = append(s.permits, d)
	return nil
}

func (s *stubNCP) NetworkInfo() *ncp.NetworkInfo {
	return &ncp.NetworkInfo{Channel: 15, PanID: 0x1A62}
}

func (s *stubNCP) ActiveEndpoints(context.Context, uint64) ([]uint8, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.activeEPs++
	return s.endpoints, nil
}

func (s *stubNCP) Bind(_ context.Context, req ncp.BindRequest) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failBind != nil {
		return s.failBind
	}
	s.binds = append(s.binds, req)
	return nil
}

func (s *stubNCP) RemoveDevice(_ context.Context, ieee uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.removed = append(s.removed, ieee)
	return nil
}

func (s *stubNCP) ReadAttributes(_ context.Context, req ncp.ReadAttributesRequest) ([]ncp.AttributeResponse, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reads = append(s.reads, req)
	var out []ncp.AttributeResponse
	for _, id := range req.AttrIDs {
		r, ok := s.attrs[attrKey{req.ClusterID, id}]
		if !ok {
			r = ncp.AttributeResponse{AttrID: id, Status: zcl.ZCLStatusUnsupportedAttr}
		}
		out = append(out, r)
	}
	return out, nil
}

func (s *stubNCP) WriteAttributes(_ context.Context, req ncp.WriteAttributesRequest) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.writes = append(s.writes, req)
	return nil
}

func (s *stubNCP) SendCommand(_ context.Context, req ncp.ClusterCommandRequest) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.commands = append(s.commands, req)
	return nil
}

func (s *stubNCP) ConfigureReporting(_ context.Context, req ncp.ConfigureReportingRequest) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reportings = append(s.reportings, req)
	return nil
}

func (s *stubNCP) OnDeviceJoined(h func(ncp.DeviceJoinedEvent))       { s.onJoined = h }
func (s *stubNCP) OnDeviceLeft(h func(ncp.DeviceLeftEvent))           { s.onLeft = h }
func (s *stubNCP) OnDeviceAnnounce(h func(ncp.DeviceAnnounceEvent))   { s.onAnnounce = h }
func (s *stubNCP) OnAttributeReport(h func(ncp.AttributeReportEvent)) { s.onReport = h }
func (s *stubNCP) Close() error                                       { return nil }

func newTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// newTestCoordinator wires the EFEKTA definitions against a stub radio.
func newTestCoordinator(t *testing.T) (*Coordinator, *stubNCP, *memStore) {
	t.Helper()
	logger := newTestLogger()
	reg := zcl.NewRegistry(logger)
	clusters.RegisterStandard(reg)
	defs, err := converter.NewRegistry(efekta.Definitions()...)
	if err != nil {
		t.Fatal(err)
	}
	radio := newStubNCP()
	ms := newMemStore()
	c := New(radio, ms, reg, defs, NewEventBus(logger), Config{
		ModelOptions: map[string]converter.Options{"EFEKTA_TH_LR": {"temperature_precision": 1}},
	}, logger)
	c.devices.retryDelay = time.Millisecond
	t.Cleanup(c.Stop)
	return c, radio, ms
}

// collect records events of one type.
func collect(bus *EventBus, eventType string) func() []Event {
	var mu sync.Mutex
	var got []Event
	bus.On(eventType, func(e Event) {
		mu.Lock()
		got = append(got, e)
		mu.Unlock()
	})
	return func() []Event {
		mu.Lock()
		defer mu.Unlock()
		return append([]Event(nil), got...)
	}
}
