package coordinator

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"

	"zigbee-efekta/internal/ncp"
)

func TestEventBusEmitOn(t *testing.T) {
	eb := NewEventBus(newTestLogger())
	var received Event
	eb.On(EventDeviceJoined, func(e Event) { received = e })

	eb.Emit(Event{Type: EventDeviceJoined, Data: "test"})

	if received.Type != EventDeviceJoined || received.Data != "test" {
		t.Errorf("received %+v", received)
	}
	if received.ID == "" || received.Time.IsZero() {
		t.Error("event not stamped with id and time")
	}
}

func TestEventBusKeepsCallerID(t *testing.T) {
	eb := NewEventBus(newTestLogger())
	var id string
	eb.OnAll(func(e Event) { id = e.ID })
	eb.Emit(Event{ID: "fixed", Type: EventPermitJoin})
	if id != "fixed" {
		t.Errorf("id = %q", id)
	}
}

func TestEventBusOnDoesNotReceiveOtherTypes(t *testing.T) {
	eb := NewEventBus(newTestLogger())
	called := false
	eb.On(EventDeviceJoined, func(Event) { called = true })
	eb.Emit(Event{Type: EventDeviceLeft})
	if called {
		t.Error("handler called for wrong event type")
	}
}

func TestEventBusUnsubscribe(t *testing.T) {
	eb := NewEventBus(newTestLogger())
	var count atomic.Int32
	unsub := eb.On(EventStateUpdate, func(Event) { count.Add(1) })
	unsubAll := eb.OnAll(func(Event) { count.Add(1) })

	eb.Emit(Event{Type: EventStateUpdate})
	unsub()
	unsubAll()
	eb.Emit(Event{Type: EventStateUpdate})

	if count.Load() != 2 {
		t.Errorf("count = %d, want 2", count.Load())
	}
}

func TestEventBusPanicRecovery(t *testing.T) {
	eb := NewEventBus(newTestLogger())
	var called atomic.Int32
	eb.On(EventDeviceJoined, func(Event) {
		called.Add(1)
		panic("test panic")
	})
	eb.On(EventDeviceJoined, func(Event) { called.Add(1) })

	eb.Emit(Event{Type: EventDeviceJoined})

	if c := called.Load(); c != 2 {
		t.Errorf("expected 2 handlers called, got %d", c)
	}
}

func TestEventDevice(t *testing.T) {
	tests := []struct {
		event Event
		want  string
	}{
		{Event{Data: StateUpdate{IEEE: "0x01"}}, "0x01"},
		{Event{Data: InterviewStatus{IEEE: "0x02"}}, "0x02"},
		{Event{Data: map[string]any{"ieee": "0x03"}}, "0x03"},
		{Event{Data: map[string]any{"duration": 60}}, ""},
		{Event{Data: "started"}, ""},
	}
	for _, tt := range tests {
		if got := tt.event.Device(); got != tt.want {
			t.Errorf("Device(%+v) = %q, want %q", tt.event.Data, got, tt.want)
		}
	}
}

func TestEventBusConcurrentEmit(t *testing.T) {
	eb := NewEventBus(newTestLogger())
	var count atomic.Int32
	eb.OnAll(func(Event) { count.Add(1) })

	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			eb.Emit(Event{Type: EventStateUpdate})
		}()
	}
	wg.Wait()

	if count.Load() != 100 {
		t.Errorf("got %d, want 100", count.Load())
	}
}

func TestStartSavesNetworkState(t *testing.T) {
	c, radio, ms := newTestCoordinator(t)
	c.config.Network = ncp.NetworkConfig{Channel: 20, PanID: 0x1A62, ExtPanID: 0xDDDDDDDDDDDDDDDD}

	if err := c.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	if len(radio.started) != 1 || radio.started[0].Channel != 20 {
		t.Errorf("radio started with %+v", radio.started)
	}
	ns, err := ms.GetNetworkState()
	if err != nil {
		t.Fatal(err)
	}
	if !ns.Formed || ns.ExtPanID != "DDDDDDDDDDDDDDDD" {
		t.Errorf("network state = %+v", ns)
	}
	if c.networkChanged() {
		t.Error("unchanged parameters reported as changed")
	}
	c.config.Network.Channel = 25
	if !c.networkChanged() {
		t.Error("channel change not detected")
	}
}

func TestPermitJoin(t *testing.T) {
	c, radio, _ := newTestCoordinator(t)
	events := collect(c.events, EventPermitJoin)

	if err := c.PermitJoin(context.Background(), 60); err != nil {
		t.Fatal(err)
	}
	if len(radio.permits) != 1 || radio.permits[0] != 60 {
		t.Errorf("permits = %v", radio.permits)
	}
	if len(events()) != 1 {
		t.Error("permit_join event not emitted")
	}
}

func TestNetworkInfo(t *testing.T) {
	c, _, ms := newTestCoordinator(t)
	ms.SaveDevice(deviceFixture())
	info := c.NetworkInfo()
	if info.Channel != 15 || info.Devices != 1 || info.Definitions != 2 {
		t.Errorf("info = %+v", info)
	}
}
