package web

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"nhooyr.io/websocket"

	"zigbee-efekta/internal/coordinator"
)

// snapshotType is the first message on every connection: the device list
// as served by GET /api/devices.
const snapshotType = "devices"

// WSHub manages WebSocket connections and fans coordinator events out to
// them.
type WSHub struct {
	clients map[*wsClient]struct{}
	mu      sync.RWMutex
	logger  *slog.Logger

	register   chan *wsClient
	unregister chan *wsClient
	broadcast  chan coordinator.Event

	done     chan struct{}
	stopOnce sync.Once
}

// wsFilter selects events by type and by device. An empty set matches
// everything. Network events carry no device and pass the device filter.
type wsFilter struct {
	Types   []string `json:"types"`
	Devices []string `json:"devices"`

	types   map[string]bool
	devices map[string]bool
}

func newFilter(types, devices []string) *wsFilter {
	f := &wsFilter{Types: types, Devices: devices}
	f.types = toSet(types)
	f.devices = toSet(devices)
	return f
}

func toSet(items []string) map[string]bool {
	if len(items) == 0 {
		return nil
	}
	set := make(map[string]bool, len(items))
	for _, it := range items {
		set[it] = true
	}
	return set
}

func (f *wsFilter) matches(event coordinator.Event) bool {
	if f == nil {
		return true
	}
	if f.types != nil && !f.types[event.Type] {
		return false
	}
	if f.devices != nil {
		if ieee := event.Device(); ieee != "" && !f.devices[ieee] {
			return false
		}
	}
	return true
}

type wsClient struct {
	conn   *websocket.Conn
	send   chan []byte
	filter atomic.Pointer[wsFilter]
}

// NewWSHub creates a new WebSocket hub.
func NewWSHub(logger *slog.Logger) *WSHub {
	return &WSHub{
		clients:    make(map[*wsClient]struct{}),
		logger:     logger,
		register:   make(chan *wsClient),
		unregister: make(chan *wsClient),
		broadcast:  make(chan coordinator.Event, 256),
		done:       make(chan struct{}),
	}
}

// Run starts the hub event loop.
func (h *WSHub) Run() {
	for {
		select {
		case <-h.done:
			h.mu.Lock()
			for client := range h.clients {
				close(client.send)
				delete(h.clients, client)
			}
			h.mu.Unlock()
			return

		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = struct{}{}
			total := len(h.clients)
			h.mu.Unlock()
			h.logger.Debug("ws client connected", "total", total)

		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				close(client.send)
			}
			total := len(h.clients)
			h.mu.Unlock()
			h.logger.Debug("ws client disconnected", "total", total)

		case event := <-h.broadcast:
			h.deliver(event)
		}
	}
}

func (h *WSHub) deliver(event coordinator.Event) {
	data, err := json.Marshal(event)
	if err != nil {
		h.logger.Error("ws marshal", "type", event.Type, "err", err)
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	for client := range h.clients {
		if !client.filter.Load().matches(event) {
			continue
		}
		select {
		case client.send <- data:
		default:
			delete(h.clients, client)
			close(client.send)
			h.logger.Warn("ws client evicted (too slow)", "type", event.Type)
		}
	}
}

// Stop signals the hub to shut down. Safe to call multiple times.
func (h *WSHub) Stop() {
	h.stopOnce.Do(func() {
		close(h.done)
	})
}

// Broadcast queues an event for every interested client.
func (h *WSHub) Broadcast(event coordinator.Event) {
	select {
	case h.broadcast <- event:
	default:
		h.logger.Warn("ws broadcast channel full, dropping event", "type", event.Type)
	}
}

// parseFilter reads the comma separated ?types= and ?devices= query
// parameters.
func parseFilter(r *http.Request) *wsFilter {
	q := r.URL.Query()
	return newFilter(splitList(q.Get("types")), splitList(q.Get("devices")))
}

func splitList(raw string) []string {
	var out []string
	for _, s := range strings.Split(raw, ",") {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}

// resolveDevices maps friendly names in the device filter to IEEE
// addresses, which is what events carry. Unknown names are kept as given.
func (s *Server) resolveDevices(f *wsFilter) *wsFilter {
	if len(f.Devices) == 0 {
		return f
	}
	ieees := make([]string, 0, len(f.Devices))
	for _, name := range f.Devices {
		if dev, err := s.coord.Store().GetDeviceByName(name); err == nil {
			name = dev.IEEEAddress
		}
		ieees = append(ieees, name)
	}
	return newFilter(f.Types, ieees)
}

// snapshot encodes the current device list for a new connection.
func (s *Server) snapshot() ([]byte, error) {
	devices, err := s.coord.Devices().ListDevices()
	if err != nil {
		return nil, err
	}
	views := make([]deviceView, 0, len(devices))
	for _, dev := range devices {
		views = append(views, s.view(dev))
	}
	return json.Marshal(coordinator.Event{Type: snapshotType, Time: time.Now(), Data: views})
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	opts := &websocket.AcceptOptions{}
	if len(s.allowedOrigins) > 0 {
		opts.OriginPatterns = s.allowedOrigins
	}

	conn, err := websocket.Accept(w, r, opts)
	if err != nil {
		s.logger.Error("ws accept", "err", err)
		return
	}

	conn.SetReadLimit(4096)

	client := &wsClient{
		conn: conn,
		send: make(chan []byte, 64),
	}
	client.filter.Store(s.resolveDevices(parseFilter(r)))

	snap, err := s.snapshot()
	if err != nil {
		s.logger.Error("ws snapshot", "err", err)
		conn.Close(websocket.StatusInternalError, "device list unavailable")
		return
	}
	client.send <- snap

	select {
	case s.wsHub.register <- client:
	case <-s.wsHub.done:
		conn.Close(websocket.StatusGoingAway, "server shutdown")
		return
	}

	go s.wsWritePump(client)
	s.wsReadPump(client)
}

func (s *Server) wsWritePump(client *wsClient) {
	for msg := range client.send {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		err := client.conn.Write(ctx, websocket.MessageText, msg)
		cancel()
		if err != nil {
			return
		}
	}
	client.conn.Close(websocket.StatusNormalClosure, "")
}

// wsReadPump accepts filter updates of the form
// {"types": [...], "devices": [...]} until the connection closes.
func (s *Server) wsReadPump(client *wsClient) {
	defer func() {
		select {
		case s.wsHub.unregister <- client:
		case <-s.wsHub.done:
			client.conn.Close(websocket.StatusGoingAway, "server shutdown")
		}
	}()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() {
		select {
		case <-s.wsHub.done:
			cancel()
		case <-ctx.Done():
		}
	}()

	for {
		_, data, err := client.conn.Read(ctx)
		if err != nil {
			return
		}
		var f wsFilter
		if err := json.Unmarshal(data, &f); err != nil {
			s.logger.Debug("ws ignoring message", "err", err)
			continue
		}
		client.filter.Store(s.resolveDevices(newFilter(f.Types, f.Devices)))
	}
}
