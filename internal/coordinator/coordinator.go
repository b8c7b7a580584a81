// Package coordinator runs the device definitions against a live network:
// it interviews joining devices, matches them to a definition, runs the
// configure hook, and turns attribute reports into state.
package coordinator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jellydator/ttlcache/v3"

	"zigbee-efekta/internal/converter"
	"zigbee-efekta/internal/ncp"
	"zigbee-efekta/internal/store"
	"zigbee-efekta/internal/zcl"
)

// ErrDeviceNotFound is returned for an IEEE address or friendly name that
// is not paired.
var ErrDeviceNotFound = errors.New("device not found")

// ErrInvalidName is returned by Rename for an unusable friendly name.
var ErrInvalidName = errors.New("invalid friendly name")

// Config holds coordinator configuration.
type Config struct {
	Network ncp.NetworkConfig
	// ModelOptions are option defaults keyed by definition model.
	ModelOptions map[string]converter.Options
	// AnnounceDebounce suppresses repeated interviews of one device.
	AnnounceDebounce time.Duration
	InterviewTimeout time.Duration
}

// Coordinator manages the Zigbee network via an NCP backend.
type Coordinator struct {
	ncp         ncp.NCP
	store       store.Store
	clusters    *zcl.Registry
	definitions *converter.Registry
	events      *EventBus
	devices     *DeviceManager
	logger      *slog.Logger
	config      Config
	ctx         context.Context
	cancel      context.CancelFunc
}

// New wires a coordinator. Indication handlers are registered immediately;
// nothing is sent to the radio until Start.
func New(backend ncp.NCP, st store.Store, clusters *zcl.Registry, definitions *converter.Registry, events *EventBus, cfg Config, logger *slog.Logger) *Coordinator {
	if cfg.AnnounceDebounce == 0 {
		cfg.AnnounceDebounce = 3 * time.Second
	}
	if cfg.InterviewTimeout == 0 {
		cfg.InterviewTimeout = 3 * time.Minute
	}
	ctx, cancel := context.WithCancel(context.Background())
	c := &Coordinator{
		ncp:         backend,
		store:       st,
		clusters:    clusters,
		definitions: definitions,
		events:      events,
		logger:      logger,
		config:      cfg,
		ctx:         ctx,
		cancel:      cancel,
	}
	c.devices = NewDeviceManager(c)
	c.registerIndicationHandlers()
	return c
}

// Context returns the coordinator's context, which is cancelled on Stop().
func (c *Coordinator) Context() context.Context {
	return c.ctx
}

// Start brings the network up. Z-Stack keeps the network in NVRAM, so a
// restart with unchanged parameters resumes it and paired devices stay joined.
func (c *Coordinator) Start(ctx context.Context) error {
	if c.networkChanged() {
		c.logger.Warn("network parameters differ from the stored network, devices will need to re-pair")
	}
	if err := c.ncp.Start(ctx, c.config.Network); err != nil {
		return fmt.Errorf("start network: %w", err)
	}
	c.saveNetworkState()
	c.logger.Info("network started", "channel", c.config.Network.Channel,
		"pan_id", fmt.Sprintf("0x%04X", c.config.Network.PanID),
		"definitions", c.definitions.Len())
	c.events.Emit(Event{Type: EventNetworkState, Data: "started"})
	return nil
}

func (c *Coordinator) networkChanged() bool {
	ns, err := c.store.GetNetworkState()
	if err != nil || !ns.Formed {
		return false
	}
	return ns.Channel != c.config.Network.Channel ||
		ns.PanID != c.config.Network.PanID ||
		ns.ExtPanID != fmt.Sprintf("%016X", c.config.Network.ExtPanID)
}

func (c *Coordinator) saveNetworkState() {
	err := c.store.SaveNetworkState(&store.NetworkState{
		Channel:    c.config.Network.Channel,
		PanID:      c.config.Network.PanID,
		ExtPanID:   fmt.Sprintf("%016X", c.config.Network.ExtPanID),
		NetworkKey: fmt.Sprintf("%x", c.config.Network.NetworkKey),
		Formed:     true,
	})
	if err != nil {
		c.logger.Error("save network state", "err", err)
	}
}

// Stop cancels the coordinator context and waits for in-progress interviews.
func (c *Coordinator) Stop() {
	c.cancel()
	c.devices.Close()
}

// PermitJoin opens the network for duration seconds; zero closes it.
func (c *Coordinator) PermitJoin(ctx context.Context, duration uint8) error {
	if err := c.ncp.PermitJoin(ctx, duration); err != nil {
		return fmt.Errorf("permit join: %w", err)
	}
	c.logger.Info("permit join", "duration", duration)
	c.events.Emit(Event{Type: EventPermitJoin, Data: map[string]any{"duration": duration}})
	return nil
}

// NetworkInfo is the network summary served by the API.
type NetworkInfo struct {
	ncp.NetworkInfo
	Devices     int `json:"devices"`
	Definitions int `json:"definitions"`
}

func (c *Coordinator) NetworkInfo() NetworkInfo {
	info := NetworkInfo{Definitions: c.definitions.Len()}
	if ni := c.ncp.NetworkInfo(); ni != nil {
		info.NetworkInfo = *ni
	}
	if devs, err := c.store.ListDevices(); err == nil {
		info.Devices = len(devs)
	}
	return info
}

// Store returns the store.
func (c *Coordinator) Store() store.Store {
	return c.store
}

// Clusters returns the ZCL cluster registry.
func (c *Coordinator) Clusters() *zcl.Registry {
	return c.clusters
}

// Definitions returns the device definition registry.
func (c *Coordinator) Definitions() *converter.Registry {
	return c.definitions
}

// Events returns the event bus.
func (c *Coordinator) Events() *EventBus {
	return c.events
}

// Devices returns the device manager.
func (c *Coordinator) Devices() *DeviceManager {
	return c.devices
}

func (c *Coordinator) registerIndicationHandlers() {
	c.ncp.OnDeviceJoined(c.devices.HandleJoin)
	c.ncp.OnDeviceLeft(c.devices.HandleLeave)
	c.ncp.OnDeviceAnnounce(c.devices.HandleAnnounce)
	c.ncp.OnAttributeReport(c.devices.HandleAttributeReport)
}

func newDebounce(ttl time.Duration) *ttlcache.Cache[string, time.Time] {
	cache := ttlcache.New(ttlcache.WithTTL[string, time.Time](ttl))
	go cache.Start()
	return cache
}
