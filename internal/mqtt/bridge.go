//go:build !no_mqtt

// Package mqtt bridges the coordinator to MQTT using zigbee2mqtt topics:
// device state on <prefix>/<name>, writes on <prefix>/<name>/set, reads on
// <prefix>/<name>/get, bridge requests under <prefix>/bridge/request, and
// Home Assistant discovery derived from the definitions' exposes.
package mqtt

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"slices"
	"strings"
	"sync"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"

	"zigbee-efekta/internal/converter"
	"zigbee-efekta/internal/coordinator"
	"zigbee-efekta/internal/store"
)

// Config holds MQTT bridge configuration.
type Config struct {
	Broker      string
	Username    string
	Password    string
	ClientID    string
	TopicPrefix string
	Discovery   bool
}

// client is the subset of pahomqtt.Client the bridge uses.
type client interface {
	Publish(topic string, qos byte, retained bool, payload interface{}) pahomqtt.Token
	Subscribe(topic string, qos byte, callback pahomqtt.MessageHandler) pahomqtt.Token
	Disconnect(quiesce uint)
}

// Bridge connects the Zigbee coordinator to MQTT with HA autodiscovery.
type Bridge struct {
	client    client
	coord     *coordinator.Coordinator
	prefix    string
	discovery bool
	logger    *slog.Logger
	unsub     func()

	mu         sync.Mutex
	discovered map[string][]string // IEEE -> published discovery topics
}

func newBridge(coord *coordinator.Coordinator, cfg Config, logger *slog.Logger) *Bridge {
	return &Bridge{
		coord:      coord,
		prefix:     cfg.TopicPrefix,
		discovery:  cfg.Discovery,
		logger:     logger.With("component", "mqtt"),
		discovered: make(map[string][]string),
	}
}

// NewBridge creates and connects an MQTT bridge.
func NewBridge(coord *coordinator.Coordinator, cfg Config, logger *slog.Logger) (*Bridge, error) {
	b := newBridge(coord, cfg, logger)
	if cfg.ClientID == "" {
		cfg.ClientID = "zigbee-efekta"
	}

	opts := pahomqtt.NewClientOptions().
		AddBroker(cfg.Broker).
		SetClientID(cfg.ClientID).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectRetryInterval(5 * time.Second).
		SetWill(cfg.TopicPrefix+"/bridge/state", "offline", 1, true).
		SetOnConnectHandler(func(_ pahomqtt.Client) {
			b.logger.Info("MQTT connected")
			b.onConnect()
		}).
		SetConnectionLostHandler(func(_ pahomqtt.Client, err error) {
			b.logger.Warn("MQTT connection lost", "err", err)
		})

	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
		opts.SetPassword(cfg.Password)
	}

	c := pahomqtt.NewClient(opts)
	b.client = c
	token := c.Connect()
	if !token.WaitTimeout(10 * time.Second) {
		return nil, fmt.Errorf("mqtt connect timeout")
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("mqtt connect: %w", err)
	}
	return b, nil
}

// Start subscribes to coordinator events and begins MQTT publishing.
func (b *Bridge) Start() {
	b.unsub = b.coord.Events().OnAll(b.handleEvent)
	b.logger.Info("MQTT bridge started", "prefix", b.prefix)
}

// Stop publishes offline state, unsubscribes, and disconnects.
func (b *Bridge) Stop() {
	if b.unsub != nil {
		b.unsub()
	}
	b.publish(b.prefix+"/bridge/state", []byte("offline"), true)
	b.client.Disconnect(1000)
	b.logger.Info("MQTT bridge stopped")
}

func (b *Bridge) onConnect() {
	b.publish(b.prefix+"/bridge/state", []byte("online"), true)
	b.publishDefinitions()
	b.publishDevices()
	b.publishAllDiscovery()

	handler := func(_ pahomqtt.Client, msg pahomqtt.Message) {
		b.handleMessage(msg.Topic(), msg.Payload())
	}
	for _, topic := range []string{b.prefix + "/+/set", b.prefix + "/+/get", b.prefix + "/bridge/request/#"} {
		b.client.Subscribe(topic, 1, handler)
	}
}

func (b *Bridge) handleEvent(event coordinator.Event) {
	switch event.Type {
	case coordinator.EventStateUpdate:
		if u, ok := event.Data.(coordinator.StateUpdate); ok {
			b.publish(b.prefix+"/"+u.Name, mustJSON(u.State), true)
		}
	case coordinator.EventDeviceJoined, coordinator.EventDeviceAnnounce:
		b.publishEvent(event)
	case coordinator.EventDeviceInterview:
		b.publishEvent(event)
		if s, ok := event.Data.(coordinator.InterviewStatus); ok && s.Status == "successful" {
			b.refreshDiscovery(s.IEEE)
			b.publishDevices()
		}
	case coordinator.EventDeviceLeft, coordinator.EventDeviceRemoved:
		b.publishEvent(event)
		if ieee := ieeeOf(event); ieee != "" {
			b.clearDiscovery(ieee)
		}
		b.publishDevices()
	case coordinator.EventDeviceRenamed:
		data, _ := event.Data.(map[string]any)
		if from, _ := data["from"].(string); from != "" {
			// Drop the retained state under the old topic.
			b.publish(b.prefix+"/"+from, nil, true)
		}
		if ieee := ieeeOf(event); ieee != "" {
			b.clearDiscovery(ieee)
			b.refreshDiscovery(ieee)
		}
		b.publishDevices()
	}
}

func ieeeOf(event coordinator.Event) string {
	data, ok := event.Data.(map[string]any)
	if !ok {
		return ""
	}
	ieee, _ := data["ieee"].(string)
	return ieee
}

func (b *Bridge) publishEvent(event coordinator.Event) {
	b.publish(b.prefix+"/bridge/event", mustJSON(map[string]any{
		"type": event.Type,
		"data": event.Data,
	}), false)
}

// handleMessage routes an inbound publish on one of the subscribed topics.
func (b *Bridge) handleMessage(topic string, payload []byte) {
	rest, ok := strings.CutPrefix(topic, b.prefix+"/")
	if !ok {
		return
	}
	if kind, ok := strings.CutPrefix(rest, "bridge/request/"); ok {
		b.handleRequest(kind, payload)
		return
	}
	i := strings.LastIndexByte(rest, '/')
	if i <= 0 {
		return
	}
	name, action := rest[:i], rest[i+1:]

	var values map[string]any
	if err := json.Unmarshal(payload, &values); err != nil {
		b.logger.Warn("invalid command JSON", "device", name, "err", err)
		return
	}

	ctx, cancel := context.WithTimeout(b.coord.Context(), 10*time.Second)
	defer cancel()

	switch action {
	case "set":
		state, err := b.coord.Devices().SetState(ctx, name, values)
		if err != nil {
			b.logger.Warn("set failed", "device", name, "err", err)
		}
		if len(state) > 0 {
			b.logger.Debug("set applied", "device", name, "state", state)
		}
	case "get":
		keys := slices.Sorted(maps.Keys(values))
		if err := b.coord.Devices().GetState(ctx, name, keys); err != nil {
			b.logger.Warn("get failed", "device", name, "err", err)
		}
	}
}

// bridgeRequest is the payload of <prefix>/bridge/request/<kind>.
type bridgeRequest struct {
	ID          string            `json:"id"`
	From        string            `json:"from"`
	To          string            `json:"to"`
	Value       any               `json:"value"`
	Time        *uint8            `json:"time"`
	Options     converter.Options `json:"options"`
	Transaction string            `json:"transaction,omitempty"`
}

func (b *Bridge) handleRequest(kind string, payload []byte) {
	var req bridgeRequest
	if len(payload) > 0 {
		if err := json.Unmarshal(payload, &req); err != nil {
			b.respond(kind, req, nil, fmt.Errorf("invalid request: %w", err))
			return
		}
	}

	ctx, cancel := context.WithTimeout(b.coord.Context(), 10*time.Second)
	defer cancel()

	dm := b.coord.Devices()
	var (
		data any
		err  error
	)
	switch kind {
	case "permit_join":
		var duration uint8
		if on, _ := req.Value.(bool); on {
			duration = 254
			if req.Time != nil {
				duration = *req.Time
			}
		}
		err = b.coord.PermitJoin(ctx, duration)
		data = map[string]any{"value": duration > 0, "time": duration}
	case "device/remove":
		err = dm.RemoveDevice(ctx, req.ID)
		data = map[string]any{"id": req.ID}
	case "device/rename":
		err = dm.Rename(req.From, req.To)
		data = map[string]any{"from": req.From, "to": req.To}
	case "device/configure":
		err = dm.Configure(ctx, req.ID)
		data = map[string]any{"id": req.ID}
	case "device/options":
		err = dm.SetOptions(req.ID, req.Options)
		data = map[string]any{"id": req.ID, "options": req.Options}
	default:
		err = errors.New("unknown request")
	}
	b.respond(kind, req, data, err)
}

func (b *Bridge) respond(kind string, req bridgeRequest, data any, err error) {
	resp := map[string]any{"status": "ok", "data": data}
	if err != nil {
		resp = map[string]any{"status": "error", "error": err.Error(), "data": map[string]any{}}
		b.logger.Warn("bridge request failed", "request", kind, "err", err)
	}
	if req.Transaction != "" {
		resp["transaction"] = req.Transaction
	}
	b.publish(b.prefix+"/bridge/response/"+kind, mustJSON(resp), false)
}

// deviceInfo is one entry of <prefix>/bridge/devices.
type deviceInfo struct {
	IEEEAddress    string          `json:"ieee_address"`
	FriendlyName   string          `json:"friendly_name"`
	NetworkAddress uint16          `json:"network_address"`
	ModelID        string          `json:"model_id,omitempty"`
	Manufacturer   string          `json:"manufacturer,omitempty"`
	Supported      bool            `json:"supported"`
	Interviewed    bool            `json:"interview_completed"`
	Configured     bool            `json:"configured"`
	Definition     *converter.Info `json:"definition"`
}

func (b *Bridge) publishDevices() {
	devices, err := b.coord.Devices().ListDevices()
	if err != nil {
		b.logger.Error("list devices", "err", err)
		return
	}
	list := make([]deviceInfo, 0, len(devices))
	for _, dev := range devices {
		info := deviceInfo{
			IEEEAddress:    dev.IEEEAddress,
			FriendlyName:   dev.Name(),
			NetworkAddress: dev.ShortAddress,
			ModelID:        dev.ZigbeeModel,
			Manufacturer:   dev.Manufacturer,
			Supported:      dev.Supported,
			Interviewed:    dev.Interviewed,
			Configured:     dev.Configured,
		}
		if def := b.definition(dev); def != nil {
			di := def.Info()
			info.Definition = &di
		}
		list = append(list, info)
	}
	b.publish(b.prefix+"/bridge/devices", mustJSON(list), true)
}

func (b *Bridge) publishDefinitions() {
	all := b.coord.Definitions().All()
	list := make([]converter.Info, 0, len(all))
	for _, def := range all {
		list = append(list, def.Info())
	}
	b.publish(b.prefix+"/bridge/definitions", mustJSON(list), true)
}

func (b *Bridge) definition(dev *store.Device) *converter.Definition {
	if !dev.Supported {
		return nil
	}
	def, err := b.coord.Devices().Definition(dev)
	if err != nil {
		return nil
	}
	return def
}

func (b *Bridge) publishAllDiscovery() {
	if !b.discovery {
		return
	}
	devices, err := b.coord.Devices().ListDevices()
	if err != nil {
		b.logger.Error("list devices for discovery", "err", err)
		return
	}
	for _, dev := range devices {
		b.publishDeviceDiscovery(dev)
	}
}

func (b *Bridge) refreshDiscovery(ieee string) {
	if !b.discovery {
		return
	}
	dev, err := b.coord.Devices().GetDevice(ieee)
	if err != nil {
		return
	}
	b.publishDeviceDiscovery(dev)
}

func (b *Bridge) publishDeviceDiscovery(dev *store.Device) {
	msgs := buildDiscovery(dev, b.definition(dev), b.prefix)
	if len(msgs) == 0 {
		return
	}
	topics := make([]string, 0, len(msgs))
	for _, msg := range msgs {
		b.publish(msg.Topic, msg.Payload, true)
		topics = append(topics, msg.Topic)
	}
	b.mu.Lock()
	b.discovered[dev.IEEEAddress] = topics
	b.mu.Unlock()
	b.logger.Info("published HA discovery", "ieee", dev.IEEEAddress, "name", dev.Name(), "entities", len(msgs))
}

func (b *Bridge) clearDiscovery(ieee string) {
	b.mu.Lock()
	topics := b.discovered[ieee]
	delete(b.discovered, ieee)
	b.mu.Unlock()
	for _, msg := range removeDiscovery(topics) {
		b.publish(msg.Topic, msg.Payload, true)
	}
}

func (b *Bridge) publish(topic string, payload []byte, retained bool) {
	token := b.client.Publish(topic, 1, retained, payload)
	go func() {
		if !token.WaitTimeout(5 * time.Second) {
			b.logger.Warn("MQTT publish timeout", "topic", topic)
		} else if err := token.Error(); err != nil {
			b.logger.Warn("MQTT publish error", "topic", topic, "err", err)
		}
	}()
}

func mustJSON(v interface{}) []byte {
	data, err := json.Marshal(v)
	if err != nil {
		return []byte("{}")
	}
	return data
}
