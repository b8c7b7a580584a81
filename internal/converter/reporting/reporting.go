// Package reporting builds the bind and Configure Reporting calls shared by
// device configure hooks.
package reporting

import (
	"context"
	"fmt"

	"zigbee-efekta/internal/converter"
	"zigbee-efekta/internal/zcl"
)

// Interval presets in seconds.
const (
	Hour = 3600
	Max  = 62000
)

// Overrides replaces the default min interval, max interval and reportable
// change of a preset. A nil *Overrides keeps the defaults.
type Overrides struct {
	Min    uint16
	Max    uint16
	Change int64
}

func item(attr uint16, typ uint8, min, max uint16, change int64, o *Overrides) converter.ReportingItem {
	it := converter.ReportingItem{Attribute: attr, Type: typ, Min: min, Max: max, Change: change}
	if o != nil {
		it.Min, it.Max, it.Change = o.Min, o.Max, o.Change
	}
	return it
}

// Bind binds each cluster of ep to target, stopping at the first failure.
func Bind(ctx context.Context, ep, target converter.Endpoint, clusters []string) error {
	for _, c := range clusters {
		if err := ep.Bind(ctx, c, target); err != nil {
			return fmt.Errorf("bind %s: %w", c, err)
		}
	}
	return nil
}

func configure(ctx context.Context, ep converter.Endpoint, cluster string, it converter.ReportingItem) error {
	if err := ep.ConfigureReporting(ctx, cluster, []converter.ReportingItem{it}); err != nil {
		return fmt.Errorf("configure reporting %s/0x%04X: %w", cluster, it.Attribute, err)
	}
	return nil
}

func BatteryVoltage(ctx context.Context, ep converter.Endpoint, o *Overrides) error {
	return configure(ctx, ep, "genPowerCfg", item(0x0020, zcl.TypeUint8, Hour, Max, 0, o))
}

func BatteryPercentageRemaining(ctx context.Context, ep converter.Endpoint, o *Overrides) error {
	return configure(ctx, ep, "genPowerCfg", item(0x0021, zcl.TypeUint8, Hour, Max, 0, o))
}

func BatteryAlarmState(ctx context.Context, ep converter.Endpoint, o *Overrides) error {
	return configure(ctx, ep, "genPowerCfg", item(0x003E, zcl.TypeBitmap32, Hour, Max, 0, o))
}

func Temperature(ctx context.Context, ep converter.Endpoint, o *Overrides) error {
	return configure(ctx, ep, "msTemperatureMeasurement", item(0x0000, zcl.TypeInt16, 10, Hour, 100, o))
}

func Humidity(ctx context.Context, ep converter.Endpoint, o *Overrides) error {
	return configure(ctx, ep, "msRelativeHumidity", item(0x0000, zcl.TypeUint16, 10, Hour, 100, o))
}
