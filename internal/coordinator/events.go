package coordinator

import (
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Event types
const (
	EventDeviceJoined    = "device_joined"
	EventDeviceLeft      = "device_left"
	EventDeviceAnnounce  = "device_announce"
	EventDeviceInterview = "device_interview"
	EventDeviceRemoved   = "device_removed"
	EventDeviceRenamed   = "device_renamed"
	EventStateUpdate     = "state_update"
	EventDecodeError     = "decode_error"
	EventNetworkState    = "network_state"
	EventPermitJoin      = "permit_join"
)

// Event represents a coordinator event. ID and Time are filled by Emit.
type Event struct {
	ID   string    `json:"id"`
	Type string    `json:"type"`
	Time time.Time `json:"time"`
	Data any       `json:"data"`
}

// Device returns the IEEE address the event is about, or "" for network
// events.
func (e Event) Device() string {
	switch d := e.Data.(type) {
	case StateUpdate:
		return d.IEEE
	case InterviewStatus:
		return d.IEEE
	case map[string]any:
		ieee, _ := d["ieee"].(string)
		return ieee
	}
	return ""
}

// StateUpdate is the payload of EventStateUpdate. Changed holds only the
// keys produced by the message that triggered it.
type StateUpdate struct {
	IEEE    string         `json:"ieee"`
	Name    string         `json:"name"`
	Model   string         `json:"model"`
	Changed map[string]any `json:"changed"`
	State   map[string]any `json:"state"`
}

// InterviewStatus is the payload of EventDeviceInterview.
type InterviewStatus struct {
	IEEE      string `json:"ieee"`
	Status    string `json:"status"` // started, successful, failed
	Model     string `json:"model,omitempty"`
	Supported bool   `json:"supported"`
	Error     string `json:"error,omitempty"`
}

// EventHandler is a callback for events.
type EventHandler func(Event)

type subscription struct {
	eventType string // empty matches every type
	handler   EventHandler
}

// EventBus fans coordinator events out to subscribers. Handlers run
// synchronously on the emitting goroutine.
type EventBus struct {
	mu     sync.RWMutex
	subs   map[uint64]subscription
	nextID uint64
	logger *slog.Logger
}

// NewEventBus creates a new event bus.
func NewEventBus(logger *slog.Logger) *EventBus {
	return &EventBus{subs: make(map[uint64]subscription), logger: logger}
}

func (eb *EventBus) subscribe(eventType string, handler EventHandler) func() {
	eb.mu.Lock()
	defer eb.mu.Unlock()
	id := eb.nextID
	eb.nextID++
	eb.subs[id] = subscription{eventType: eventType, handler: handler}
	return func() {
		eb.mu.Lock()
		defer eb.mu.Unlock()
		delete(eb.subs, id)
	}
}

// On registers a handler for one event type and returns its unsubscribe func.
func (eb *EventBus) On(eventType string, handler EventHandler) func() {
	return eb.subscribe(eventType, handler)
}

// OnAll registers a handler for every event type.
func (eb *EventBus) OnAll(handler EventHandler) func() {
	return eb.subscribe("", handler)
}

// Emit stamps the event and delivers it. A panicking handler is logged and
// does not stop delivery to the rest.
func (eb *EventBus) Emit(event Event) {
	if event.ID == "" {
		event.ID = uuid.New().String()
	}
	if event.Time.IsZero() {
		event.Time = time.Now()
	}

	eb.mu.RLock()
	var handlers []EventHandler
	for _, s := range eb.subs {
		if s.eventType == "" || s.eventType == event.Type {
			handlers = append(handlers, s.handler)
		}
	}
	eb.mu.RUnlock()

	for _, h := range handlers {
		eb.deliver(h, event)
	}
}

func (eb *EventBus) deliver(h EventHandler, event Event) {
	defer func() {
		if r := recover(); r != nil {
			eb.logger.Error("event handler panic", "type", event.Type, "id", event.ID, "panic", r)
		}
	}()
	h(event)
}
