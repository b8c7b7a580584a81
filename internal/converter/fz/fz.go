// Package fz holds the standard decoders shared by device definitions.
package fz

import (
	"math"

	"zigbee-efekta/internal/converter"
	"zigbee-efekta/internal/zcl"
)

var both = []converter.MessageType{converter.AttributeReport, converter.ReadResponse}

// Temperature decodes msTemperatureMeasurement measuredValue (0.01 °C).
var Temperature = converter.FromZigbee{
	Name:     "temperature",
	Cluster:  "msTemperatureMeasurement",
	Types:    both,
	Provides: []string{"temperature"},
	Convert: func(_ *converter.Definition, msg *converter.Message, opts converter.Options, _ *converter.Meta) (converter.State, error) {
		raw, ok := msg.Attr(0x0000)
		if !ok {
			return nil, nil
		}
		n, ok := zcl.ToInt64(raw)
		// 0x8000 marks an invalid measurement
		if !ok || n == math.MinInt16 {
			return nil, nil
		}
		return converter.State{"temperature": CalibrateAndRound(float64(n)/100, opts, "temperature")}, nil
	},
}

// Humidity decodes msRelativeHumidity measuredValue (0.01 %). Readings
// outside 0..100 are dropped.
var Humidity = converter.FromZigbee{
	Name:     "humidity",
	Cluster:  "msRelativeHumidity",
	Types:    both,
	Provides: []string{"humidity"},
	Convert: func(_ *converter.Definition, msg *converter.Message, opts converter.Options, _ *converter.Meta) (converter.State, error) {
		raw, ok := msg.Attr(0x0000)
		if !ok {
			return nil, nil
		}
		n, ok := zcl.ToInt64(raw)
		if !ok {
			return nil, nil
		}
		h := float64(n) / 100
		if h < 0 || h > 100 {
			return nil, nil
		}
		return converter.State{"humidity": CalibrateAndRound(h, opts, "humidity")}, nil
	},
}

// batteryLowMask covers the battery 1, 2 and 3 alarm bits of batteryAlarmState.
const batteryLowMask = 0x00F03C0F

// Battery decodes genPowerCfg percentage (half percent units), voltage
// (100 mV units) and the alarm state bitmap.
var Battery = converter.FromZigbee{
	Name:     "battery",
	Cluster:  "genPowerCfg",
	Types:    both,
	Provides: []string{"battery", "voltage", "battery_low"},
	Convert: func(_ *converter.Definition, msg *converter.Message, _ converter.Options, _ *converter.Meta) (converter.State, error) {
		var state converter.State
		set := func(k string, v any) {
			if state == nil {
				state = converter.State{}
			}
			state[k] = v
		}
		if raw, ok := msg.Attr(0x0021); ok {
			if n, ok := zcl.ToInt64(raw); ok && n < 255 {
				set("battery", math.Min(round(float64(n)/2, 2), 100))
			}
		}
		if raw, ok := msg.Attr(0x0020); ok {
			if n, ok := zcl.ToInt64(raw); ok && n < 255 {
				set("voltage", n*100)
			}
		}
		if raw, ok := msg.Attr(0x003E); ok {
			if n, ok := zcl.ToUint64(raw); ok {
				set("battery_low", n&batteryLowMask != 0)
			}
		}
		return state, nil
	},
}

var defaultPrecision = map[string]float64{
	"temperature": 2,
	"humidity":    2,
}

// CalibrateAndRound applies <property>_calibration as an additive offset and
// rounds to <property>_precision decimals.
func CalibrateAndRound(v float64, opts converter.Options, property string) float64 {
	if c, ok := opts.Number(property + "_calibration"); ok {
		v += c
	}
	p, ok := opts.Number(property + "_precision")
	if !ok {
		p = defaultPrecision[property]
	}
	return round(v, int(p))
}

func round(v float64, decimals int) float64 {
	f := math.Pow(10, float64(decimals))
	return math.Round(v*f) / f
}
