package coordinator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"math/rand/v2"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jellydator/ttlcache/v3"

	"zigbee-efekta/internal/converter"
	"zigbee-efekta/internal/ncp"
	"zigbee-efekta/internal/store"
	"zigbee-efekta/internal/zcl"
)

const (
	clusterBasic      = 0x0000
	attrManufacturer  = 0x0004
	attrModelID       = 0x0005
	interviewAttempts = 3
)

type interviewEntry struct {
	cancel context.CancelFunc
	gen    uint64
}

// DeviceManager handles device lifecycle (join, leave, interview) and turns
// inbound attribute frames into device state.
type DeviceManager struct {
	coord  *Coordinator
	logger *slog.Logger

	interviewMu      sync.Mutex
	interviewCancels map[string]interviewEntry
	interviewGen     atomic.Uint64
	interviewWg      sync.WaitGroup

	// Z-Stack reports a join and an announce for the same device within a
	// second or two; only the first starts an interview.
	recent *ttlcache.Cache[string, time.Time]

	// retryDelay is the base pause between interview attempts.
	retryDelay time.Duration
}

// NewDeviceManager creates a new device manager.
func NewDeviceManager(coord *Coordinator) *DeviceManager {
	return &DeviceManager{
		coord:            coord,
		logger:           coord.logger.With("component", "device_manager"),
		interviewCancels: make(map[string]interviewEntry),
		recent:           newDebounce(coord.config.AnnounceDebounce),
		retryDelay:       5 * time.Second,
	}
}

// Close cancels running interviews, waits for them and stops the debounce cache.
func (dm *DeviceManager) Close() {
	dm.interviewMu.Lock()
	for ieee, entry := range dm.interviewCancels {
		entry.cancel()
		delete(dm.interviewCancels, ieee)
	}
	dm.interviewMu.Unlock()
	dm.interviewWg.Wait()
	dm.recent.Stop()
}

func (dm *DeviceManager) cancelInterview(ieee string) {
	dm.interviewMu.Lock()
	if entry, ok := dm.interviewCancels[ieee]; ok {
		entry.cancel()
		delete(dm.interviewCancels, ieee)
	}
	dm.interviewMu.Unlock()
}

// seen records the device's current network address and returns the stored
// device, creating it on first contact.
func (dm *DeviceManager) seen(ieee string, shortAddr uint16) (*store.Device, error) {
	var dev *store.Device
	err := dm.coord.store.UpdateDevice(ieee, func(d *store.Device) error {
		d.ShortAddress = shortAddr
		d.LastSeen = time.Now()
		cp := *d
		dev = &cp
		return nil
	})
	if !errors.Is(err, store.ErrNotFound) {
		return dev, err
	}
	now := time.Now()
	dev = &store.Device{IEEEAddress: ieee, ShortAddress: shortAddr, JoinedAt: now, LastSeen: now}
	if err := dm.coord.store.SaveDevice(dev); err != nil {
		return nil, err
	}
	return dev, nil
}

// HandleJoin processes a device join event.
func (dm *DeviceManager) HandleJoin(evt ncp.DeviceJoinedEvent) {
	ieee := ncp.FormatIEEE(evt.IEEE)
	dev, err := dm.seen(ieee, evt.ShortAddr)
	if err != nil {
		dm.logger.Error("save device on join", "err", err, "ieee", ieee)
		return
	}
	dm.logger.Info("device joined", "ieee", ieee, "short", fmt.Sprintf("0x%04X", evt.ShortAddr), "name", dev.Name())
	dm.coord.events.Emit(Event{
		Type: EventDeviceJoined,
		Data: map[string]any{"ieee": ieee, "short_addr": evt.ShortAddr},
	})
	dm.maybeInterview(dev)
}

// HandleAnnounce processes a device announce or rejoin.
func (dm *DeviceManager) HandleAnnounce(evt ncp.DeviceAnnounceEvent) {
	ieee := ncp.FormatIEEE(evt.IEEE)
	dev, err := dm.seen(ieee, evt.ShortAddr)
	if err != nil {
		dm.logger.Error("save device on announce", "err", err, "ieee", ieee)
		return
	}
	dm.logger.Info("device announce", "ieee", ieee, "short", fmt.Sprintf("0x%04X", evt.ShortAddr), "name", dev.Name())
	dm.coord.events.Emit(Event{
		Type: EventDeviceAnnounce,
		Data: map[string]any{"ieee": ieee, "short_addr": evt.ShortAddr},
	})
	dm.maybeInterview(dev)
}

// HandleLeave cancels any interview and forgets the device.
func (dm *DeviceManager) HandleLeave(evt ncp.DeviceLeftEvent) {
	ieee := ncp.FormatIEEE(evt.IEEE)
	dm.cancelInterview(ieee)
	dm.recent.Delete(ieee)

	if err := dm.coord.store.DeleteDevice(ieee); err != nil && !errors.Is(err, store.ErrNotFound) {
		dm.logger.Error("delete device on leave", "err", err, "ieee", ieee)
	}
	dm.logger.Info("device left", "ieee", ieee)
	dm.coord.events.Emit(Event{Type: EventDeviceLeft, Data: map[string]any{"ieee": ieee}})
}

// maybeInterview starts an interview unless the device is already fully set
// up, one is running, or one started within the debounce window.
func (dm *DeviceManager) maybeInterview(dev *store.Device) {
	if dev.Interviewed && (!dev.Supported || dev.Configured) {
		return
	}
	ieee := dev.IEEEAddress

	dm.interviewMu.Lock()
	_, running := dm.interviewCancels[ieee]
	dm.interviewMu.Unlock()
	if running {
		dm.logger.Debug("interview already running", "ieee", ieee)
		return
	}
	if dm.recent.Get(ieee) != nil {
		dm.logger.Debug("duplicate announce, interview already started", "ieee", ieee)
		return
	}
	dm.recent.Set(ieee, time.Now(), ttlcache.DefaultTTL)

	dm.interviewWg.Add(1)
	go dm.Interview(ieee)
}

// Interview reads the device's endpoints and model, matches a definition and
// runs its configure hook. Retries with jitter while the device is asleep.
func (dm *DeviceManager) Interview(ieee string) {
	gen := dm.interviewGen.Add(1)
	defer func() {
		dm.interviewMu.Lock()
		if entry, ok := dm.interviewCancels[ieee]; ok && entry.gen == gen {
			delete(dm.interviewCancels, ieee)
		}
		dm.interviewMu.Unlock()
		dm.interviewWg.Done()
	}()

	ctx, cancel := context.WithTimeout(dm.coord.ctx, dm.coord.config.InterviewTimeout)
	defer cancel()

	dm.interviewMu.Lock()
	if prev, ok := dm.interviewCancels[ieee]; ok {
		prev.cancel()
	}
	dm.interviewCancels[ieee] = interviewEntry{cancel: cancel, gen: gen}
	dm.interviewMu.Unlock()

	dm.coord.events.Emit(Event{Type: EventDeviceInterview, Data: InterviewStatus{IEEE: ieee, Status: "started"}})

	var lastErr error
	for attempt := 1; attempt <= interviewAttempts; attempt++ {
		lastErr = dm.interviewOnce(ctx, ieee, attempt)
		if lastErr == nil {
			return
		}
		dm.logger.Warn("interview attempt failed", "ieee", ieee, "attempt", attempt, "err", lastErr)
		if ctx.Err() != nil || errors.Is(lastErr, store.ErrNotFound) {
			break
		}
		if attempt < interviewAttempts {
			delay := dm.retryDelay + time.Duration(rand.Int64N(int64(dm.retryDelay)/2+1))
			select {
			case <-time.After(delay):
			case <-ctx.Done():
			}
		}
	}

	dm.logger.Error("interview failed", "ieee", ieee, "err", lastErr)
	dm.coord.events.Emit(Event{Type: EventDeviceInterview, Data: InterviewStatus{
		IEEE: ieee, Status: "failed", Error: lastErr.Error(),
	}})
}

func (dm *DeviceManager) interviewOnce(ctx context.Context, ieee string, attempt int) error {
	dev, err := dm.coord.store.GetDevice(ieee)
	if err != nil {
		return err
	}
	addr, err := ncp.ParseIEEE(ieee)
	if err != nil {
		return err
	}
	dm.logger.Info("starting interview", "ieee", ieee, "attempt", attempt)

	endpoints, err := dm.coord.ncp.ActiveEndpoints(ctx, addr)
	if err != nil {
		return fmt.Errorf("active endpoints: %w", err)
	}
	if len(endpoints) == 0 {
		return errors.New("device reported no endpoints")
	}
	dev.Endpoints = endpoints

	if dev.ZigbeeModel == "" {
		if err := dm.readBasic(ctx, addr, endpoints[0], dev); err != nil {
			return err
		}
	}

	def, lookupErr := dm.coord.definitions.Lookup(dev.ZigbeeModel)
	dev.Supported = lookupErr == nil
	dev.Interviewed = true
	if dev.Supported {
		dev.Model = def.Model
		dev.Configured = dm.configure(ctx, dev, def) == nil
	} else {
		dm.logger.Warn("no definition for device", "ieee", ieee,
			"zigbee_model", dev.ZigbeeModel, "manufacturer", dev.Manufacturer)
	}

	err = dm.coord.store.UpdateDevice(ieee, func(d *store.Device) error {
		d.Endpoints = dev.Endpoints
		d.ZigbeeModel = dev.ZigbeeModel
		d.Manufacturer = dev.Manufacturer
		d.Model = dev.Model
		d.Supported = dev.Supported
		d.Interviewed = true
		d.Configured = dev.Configured
		return nil
	})
	if err != nil {
		return fmt.Errorf("save interview: %w", err)
	}

	dm.logger.Info("interview complete", "ieee", ieee, "model", dev.Model,
		"supported", dev.Supported, "configured", dev.Configured)
	dm.coord.events.Emit(Event{Type: EventDeviceInterview, Data: InterviewStatus{
		IEEE: ieee, Status: "successful", Model: dev.Model, Supported: dev.Supported,
	}})
	return nil
}

// readBasic fills the model and manufacturer strings from genBasic.
func (dm *DeviceManager) readBasic(ctx context.Context, addr uint64, ep uint8, dev *store.Device) error {
	results, err := dm.coord.ncp.ReadAttributes(ctx, ncp.ReadAttributesRequest{
		IEEE:      addr,
		DstEP:     ep,
		ClusterID: clusterBasic,
		AttrIDs:   []uint16{attrManufacturer, attrModelID},
	})
	if err != nil {
		return fmt.Errorf("read basic attributes: %w", err)
	}
	for _, r := range results {
		if r.Status != zcl.ZCLStatusSuccess {
			continue
		}
		val, _, err := zcl.DecodeValue(r.DataType, r.Value)
		if err != nil {
			continue
		}
		s, _ := val.(string)
		switch r.AttrID {
		case attrManufacturer:
			dev.Manufacturer = s
		case attrModelID:
			dev.ZigbeeModel = s
		}
	}
	if dev.ZigbeeModel == "" {
		return errors.New("device did not report a model identifier")
	}
	return nil
}

// configure runs the definition's configure hook. Battery devices may be
// asleep; failure leaves the device unconfigured so the next announce retries.
func (dm *DeviceManager) configure(ctx context.Context, dev *store.Device, def *converter.Definition) error {
	if def.Configure == nil {
		return nil
	}
	rd, err := dm.coord.remoteDevice(dev)
	if err != nil {
		return err
	}
	logger := dm.logger.With("ieee", dev.IEEEAddress, "model", def.Model)
	if err := def.Configure(ctx, rd, localEndpoint(coordinatorEndpoint), logger); err != nil {
		logger.Warn("configure failed", "err", err)
		return err
	}
	logger.Info("device configured")
	return nil
}

// HandleAttributeReport decodes report records and runs them through the
// device's definition.
func (dm *DeviceManager) HandleAttributeReport(evt ncp.AttributeReportEvent) {
	ieee := ncp.FormatIEEE(evt.IEEE)
	cluster := dm.coord.clusters.Name(evt.ClusterID)

	data := make(map[uint16]any, len(evt.Records))
	for _, r := range evt.Records {
		v, _, err := zcl.DecodeValue(r.DataType, r.Value)
		if err != nil {
			dm.logger.Warn("undecodable attribute", "ieee", ieee, "cluster", cluster,
				"attr", fmt.Sprintf("0x%04X", r.AttrID), "err", err)
			continue
		}
		data[r.AttrID] = v
	}
	dm.logger.Debug("attribute report", "ieee", ieee, "cluster", cluster, "ep", evt.SrcEP, "data", data)

	dm.handleMessage(ieee, &converter.Message{
		Cluster:     cluster,
		Type:        converter.AttributeReport,
		Endpoint:    evt.SrcEP,
		Data:        data,
		LinkQuality: evt.LQI,
	})
}

// handleMessage decodes msg with the device's definition, merges the result
// into the stored state and publishes the change.
func (dm *DeviceManager) handleMessage(ieee string, msg *converter.Message) {
	dev, err := dm.coord.store.GetDevice(ieee)
	if err != nil {
		dm.logger.Debug("message from unknown device", "ieee", ieee, "cluster", msg.Cluster)
		return
	}

	var changed converter.State
	if dev.Supported {
		def, err := dm.coord.definitions.Model(dev.Model)
		if err != nil {
			dm.logger.Warn("stored model has no definition", "ieee", ieee, "model", dev.Model)
		} else {
			changed = dm.decode(dev, def, msg)
		}
	}
	if msg.LinkQuality > 0 {
		if changed == nil {
			changed = converter.State{}
		}
		changed["linkquality"] = msg.LinkQuality
	}

	var full map[string]any
	err = dm.coord.store.UpdateDevice(ieee, func(d *store.Device) error {
		d.LastSeen = time.Now()
		if msg.LinkQuality > 0 {
			d.LQI = msg.LinkQuality
		}
		if len(changed) > 0 {
			if d.State == nil {
				d.State = make(map[string]any)
			}
			maps.Copy(d.State, changed)
		}
		full = maps.Clone(d.State)
		return nil
	})
	if err != nil {
		dm.logger.Error("save state", "ieee", ieee, "err", err)
		return
	}
	if len(changed) == 0 {
		return
	}

	dm.coord.events.Emit(Event{Type: EventStateUpdate, Data: StateUpdate{
		IEEE:    ieee,
		Name:    dev.Name(),
		Model:   dev.Model,
		Changed: changed,
		State:   full,
	}})
}

func (dm *DeviceManager) decode(dev *store.Device, def *converter.Definition, msg *converter.Message) converter.State {
	state, err := def.Decode(msg, dm.coord.options(dev), &converter.Meta{Device: dev.IEEEAddress, State: dev.State})
	if err != nil {
		dm.logger.Warn("decode", "ieee", dev.IEEEAddress, "name", dev.Name(), "cluster", msg.Cluster, "err", err)
		dm.coord.events.Emit(Event{Type: EventDecodeError, Data: map[string]any{
			"ieee":    dev.IEEEAddress,
			"cluster": msg.Cluster,
			"error":   err.Error(),
		}})
	}
	return state
}

// options merges the model defaults from config with the device's own.
func (c *Coordinator) options(dev *store.Device) converter.Options {
	return c.config.ModelOptions[dev.Model].Merge(dev.Options)
}
