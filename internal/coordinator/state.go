package coordinator

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"slices"
	"strings"

	"zigbee-efekta/internal/converter"
	"zigbee-efekta/internal/converter/exposes"
	"zigbee-efekta/internal/ncp"
	"zigbee-efekta/internal/store"
)

// GetDevice resolves a friendly name or IEEE address.
func (dm *DeviceManager) GetDevice(nameOrIEEE string) (*store.Device, error) {
	dev, err := dm.coord.store.GetDeviceByName(nameOrIEEE)
	if errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrDeviceNotFound, nameOrIEEE)
	}
	return dev, err
}

// ListDevices returns all known devices.
func (dm *DeviceManager) ListDevices() ([]*store.Device, error) {
	devs, err := dm.coord.store.ListDevices()
	if err != nil {
		return nil, err
	}
	slices.SortFunc(devs, func(a, b *store.Device) int {
		switch {
		case a.IEEEAddress < b.IEEEAddress:
			return -1
		case a.IEEEAddress > b.IEEEAddress:
			return 1
		}
		return 0
	})
	return devs, nil
}

// Definition returns the definition a device was matched to.
func (dm *DeviceManager) Definition(dev *store.Device) (*converter.Definition, error) {
	if !dev.Supported {
		return nil, fmt.Errorf("%s (%s): %w", dev.Name(), dev.ZigbeeModel, converter.ErrUnknownModel)
	}
	return dm.coord.definitions.Model(dev.Model)
}

func (dm *DeviceManager) target(nameOrIEEE string) (*store.Device, *converter.Definition, converter.Endpoint, error) {
	dev, err := dm.GetDevice(nameOrIEEE)
	if err != nil {
		return nil, nil, nil, err
	}
	def, err := dm.Definition(dev)
	if err != nil {
		return nil, nil, nil, err
	}
	rd, err := dm.coord.remoteDevice(dev)
	if err != nil {
		return nil, nil, nil, err
	}
	ep, err := rd.defaultEndpoint()
	if err != nil {
		return nil, nil, nil, err
	}
	return dev, def, ep, nil
}

// SetState applies a batch of key/value writes. Each value is checked
// against its expose before it reaches an encoder. Keys are applied in
// sorted order; a failing key does not stop the rest.
func (dm *DeviceManager) SetState(ctx context.Context, nameOrIEEE string, values map[string]any) (converter.State, error) {
	dev, def, ep, err := dm.target(nameOrIEEE)
	if err != nil {
		return nil, err
	}
	meta := &converter.Meta{Device: dev.IEEEAddress, State: dev.State}

	result := converter.State{}
	var errs []error
	for _, key := range slices.Sorted(maps.Keys(values)) {
		value := values[key]
		if e, ok := def.Expose(key); ok {
			if err := e.Validate(value); err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", key, err))
				continue
			}
		}
		state, err := def.Set(ctx, ep, key, value, meta)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", key, err))
			continue
		}
		result.Merge(state)
	}

	if len(result) > 0 {
		dm.commitState(dev, result)
	}
	return result, errors.Join(errs...)
}

// GetState asks the device to report keys. Values arrive through the
// decoders and are published as state updates. Any key with an encoder may
// be read, whatever its expose advertises.
func (dm *DeviceManager) GetState(ctx context.Context, nameOrIEEE string, keys []string) error {
	dev, def, ep, err := dm.target(nameOrIEEE)
	if err != nil {
		return err
	}
	meta := &converter.Meta{Device: dev.IEEEAddress, State: dev.State}
	var errs []error
	for _, key := range keys {
		if err := def.Get(ctx, ep, key, meta); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", key, err))
		}
	}
	return errors.Join(errs...)
}

func (dm *DeviceManager) commitState(dev *store.Device, changed converter.State) {
	var full map[string]any
	err := dm.coord.store.UpdateDevice(dev.IEEEAddress, func(d *store.Device) error {
		if d.State == nil {
			d.State = make(map[string]any)
		}
		maps.Copy(d.State, changed)
		full = maps.Clone(d.State)
		return nil
	})
	if err != nil {
		dm.logger.Error("save state", "ieee", dev.IEEEAddress, "err", err)
		return
	}
	dm.coord.events.Emit(Event{Type: EventStateUpdate, Data: StateUpdate{
		IEEE:    dev.IEEEAddress,
		Name:    dev.Name(),
		Model:   dev.Model,
		Changed: changed,
		State:   full,
	}})
}

// Configure reruns the definition's configure hook, e.g. after the user
// woke a sleeping sensor.
func (dm *DeviceManager) Configure(ctx context.Context, nameOrIEEE string) error {
	dev, err := dm.GetDevice(nameOrIEEE)
	if err != nil {
		return err
	}
	def, err := dm.Definition(dev)
	if err != nil {
		return err
	}
	cfgErr := dm.configure(ctx, dev, def)
	err = dm.coord.store.UpdateDevice(dev.IEEEAddress, func(d *store.Device) error {
		d.Configured = cfgErr == nil
		return nil
	})
	return errors.Join(cfgErr, err)
}

// SetOptions replaces a device's converter options. Every key must be an
// option the definition declares, within its range.
func (dm *DeviceManager) SetOptions(nameOrIEEE string, opts converter.Options) error {
	dev, err := dm.GetDevice(nameOrIEEE)
	if err != nil {
		return err
	}
	def, err := dm.Definition(dev)
	if err != nil {
		return err
	}
	for k, v := range opts {
		o, ok := exposes.Find(def.Options, k)
		if !ok {
			return fmt.Errorf("option %s: %w", k, converter.ErrUnknownKey)
		}
		if err := o.Validate(v); err != nil {
			return fmt.Errorf("option %s: %w", k, err)
		}
	}
	return dm.coord.store.UpdateDevice(dev.IEEEAddress, func(d *store.Device) error {
		d.Options = maps.Clone(opts)
		return nil
	})
}

// Rename sets the friendly name used for MQTT topics.
func (dm *DeviceManager) Rename(nameOrIEEE, newName string) error {
	dev, err := dm.GetDevice(nameOrIEEE)
	if err != nil {
		return err
	}
	if newName == "" || strings.ContainsAny(newName, "+#/") {
		return fmt.Errorf("%w: %q", ErrInvalidName, newName)
	}
	if _, err := ncp.ParseIEEE(newName); err == nil {
		return fmt.Errorf("%w: %q looks like an IEEE address", ErrInvalidName, newName)
	}
	err = dm.coord.store.UpdateDevice(dev.IEEEAddress, func(d *store.Device) error {
		d.FriendlyName = newName
		return nil
	})
	if err != nil {
		return err
	}
	dm.coord.events.Emit(Event{Type: EventDeviceRenamed, Data: map[string]any{
		"ieee": dev.IEEEAddress, "from": dev.Name(), "to": newName,
	}})
	return nil
}

// RemoveDevice asks the device to leave and deletes it from the store even
// if the leave request goes unanswered.
func (dm *DeviceManager) RemoveDevice(ctx context.Context, nameOrIEEE string) error {
	dev, err := dm.GetDevice(nameOrIEEE)
	if err != nil {
		return err
	}
	ieee := dev.IEEEAddress
	dm.cancelInterview(ieee)
	dm.recent.Delete(ieee)

	if addr, err := ncp.ParseIEEE(ieee); err == nil {
		if err := dm.coord.ncp.RemoveDevice(ctx, addr); err != nil {
			dm.logger.Warn("leave request failed", "ieee", ieee, "name", dev.Name(), "err", err)
		}
	}
	if err := dm.coord.store.DeleteDevice(ieee); err != nil {
		return err
	}
	dm.logger.Info("device removed", "ieee", ieee, "name", dev.Name())
	dm.coord.events.Emit(Event{Type: EventDeviceRemoved, Data: map[string]any{"ieee": ieee, "name": dev.Name()}})
	return nil
}
