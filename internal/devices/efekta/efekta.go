// Package efekta defines the EfektaLab temperature and humidity sensors.
package efekta

import (
	"context"
	"fmt"
	"log/slog"

	"zigbee-efekta/internal/converter"
	"zigbee-efekta/internal/converter/exposes"
	"zigbee-efekta/internal/converter/reporting"
	"zigbee-efekta/internal/zcl"
)

const (
	Vendor = "EfektaLab"

	clusterPower = "genPowerCfg"
	clusterTemp  = "msTemperatureMeasurement"
	clusterHum   = "msRelativeHumidity"
)

// Manufacturer attributes.
const (
	AttrReadingInterval        uint16 = 0x0201
	AttrComparisonPreviousData uint16 = 0x0205
	AttrConfigReportEnable     uint16 = 0x0275
	AttrEnableControl          uint16 = 0x0220
	AttrHighBorder             uint16 = 0x0221
	AttrLowBorder              uint16 = 0x0222
	AttrInvertLogic            uint16 = 0x0225
	AttrSensorIdentifier       uint16 = 0xA19B
)

// Definitions returns every EfektaLab model.
func Definitions() []*converter.Definition {
	return []*converter.Definition{THv2LR(), THLR()}
}

func termostatDecoder(identifierKey string) converter.FromZigbee {
	return converter.Fields("termostat_config", clusterTemp,
		converter.Field{Attribute: AttrHighBorder, Name: "high_temp", Transform: converter.Integer},
		converter.Field{Attribute: AttrLowBorder, Name: "low_temp", Transform: converter.Integer},
		converter.Field{Attribute: AttrEnableControl, Name: "enable_temp", Transform: converter.OnOff},
		converter.Field{Attribute: AttrInvertLogic, Name: "invert_logic_temp", Transform: converter.OnOff},
		converter.Field{Attribute: AttrSensorIdentifier, Name: identifierKey, Transform: converter.Identity},
	)
}

func hydrostatDecoder() converter.FromZigbee {
	return converter.Fields("hydrostat_config", clusterHum,
		converter.Field{Attribute: AttrHighBorder, Name: "high_hum", Transform: converter.Integer},
		converter.Field{Attribute: AttrLowBorder, Name: "low_hum", Transform: converter.Integer},
		converter.Field{Attribute: AttrEnableControl, Name: "enable_hum", Transform: converter.OnOff},
		converter.Field{Attribute: AttrInvertLogic, Name: "invert_logic_hum", Transform: converter.OnOff},
	)
}

func termostatEncoder() converter.ToZigbee {
	return converter.Writes("termostat_config", converter.OnOffLookup(),
		converter.WriteEntry{Key: "high_temp", Cluster: clusterTemp, Attribute: AttrHighBorder, Type: zcl.TypeInt16},
		converter.WriteEntry{Key: "low_temp", Cluster: clusterTemp, Attribute: AttrLowBorder, Type: zcl.TypeInt16},
		converter.WriteEntry{Key: "enable_temp", Cluster: clusterTemp, Attribute: AttrEnableControl, Type: zcl.TypeBool},
		converter.WriteEntry{Key: "invert_logic_temp", Cluster: clusterTemp, Attribute: AttrInvertLogic, Type: zcl.TypeBool},
	)
}

func hydrostatEncoder() converter.ToZigbee {
	return converter.Writes("hydrostat_config", converter.OnOffLookup(),
		converter.WriteEntry{Key: "high_hum", Cluster: clusterHum, Attribute: AttrHighBorder, Type: zcl.TypeUint16},
		converter.WriteEntry{Key: "low_hum", Cluster: clusterHum, Attribute: AttrLowBorder, Type: zcl.TypeUint16},
		converter.WriteEntry{Key: "enable_hum", Cluster: clusterHum, Attribute: AttrEnableControl, Type: zcl.TypeBool},
		converter.WriteEntry{Key: "invert_logic_hum", Cluster: clusterHum, Attribute: AttrInvertLogic, Type: zcl.TypeBool},
	)
}

// reportingProfile holds the per-model Configure Reporting overrides.
type reportingProfile struct {
	battery, temperature, humidity reporting.Overrides
}

func configure(p reportingProfile) converter.ConfigureFunc {
	return func(ctx context.Context, dev converter.Device, coordinator converter.Endpoint, logger *slog.Logger) error {
		ep, err := dev.Endpoint(1)
		if err != nil {
			return fmt.Errorf("endpoint 1: %w", err)
		}
		if err := reporting.Bind(ctx, ep, coordinator, []string{clusterPower, clusterTemp, clusterHum}); err != nil {
			return err
		}
		steps := []func(context.Context, converter.Endpoint, *reporting.Overrides) error{
			reporting.BatteryVoltage,
			reporting.BatteryPercentageRemaining,
			reporting.BatteryAlarmState,
		}
		for _, step := range steps {
			if err := step(ctx, ep, &p.battery); err != nil {
				return err
			}
		}
		if err := reporting.Temperature(ctx, ep, &p.temperature); err != nil {
			return err
		}
		if err := reporting.Humidity(ctx, ep, &p.humidity); err != nil {
			return err
		}
		logger.Debug("reporting configured", "device", dev.IEEEAddress())
		return nil
	}
}

func onOffExpose(name, description string) exposes.Expose {
	return exposes.Binary(name, exposes.AccessStateSet, "ON", "OFF").WithDescription(description)
}

func borderExpose(name, unit, description string, lo, hi float64) exposes.Expose {
	return exposes.Numeric(name, exposes.AccessStateSet).WithUnit(unit).WithDescription(description).
		WithValueMin(lo).WithValueMax(hi)
}

func standardExposes() []exposes.Expose {
	return []exposes.Expose{
		exposes.Temperature(),
		exposes.Humidity(),
		exposes.BatteryLow(),
		exposes.Battery(),
		exposes.BatteryVoltage(),
	}
}

func controlExposes(tempLo, tempHi float64) []exposes.Expose {
	return []exposes.Expose{
		onOffExpose("enable_temp", "Enable Temperature Control"),
		onOffExpose("invert_logic_temp", "Invert Logic Temperature Control"),
		borderExpose("high_temp", "°C", "Setting High Temperature Border", tempLo, tempHi),
		borderExpose("low_temp", "°C", "Setting Low Temperature Border", tempLo, tempHi),
		onOffExpose("enable_hum", "Enable Humidity Control"),
		onOffExpose("invert_logic_hum", "Invert Logic Humidity Control"),
		borderExpose("high_hum", "%", "Setting High Humidity Border", 0, 99),
		borderExpose("low_hum", "%", "Setting Low Humidity Border", 0, 99),
	}
}

func measurementOptions() []exposes.Expose {
	return []exposes.Expose{
		exposes.Calibration("temperature", "°C"),
		exposes.Precision("temperature"),
		exposes.Calibration("humidity", "%"),
		exposes.Precision("humidity"),
	}
}
