package efekta

import (
	"zigbee-efekta/internal/converter"
	"zigbee-efekta/internal/converter/exposes"
	"zigbee-efekta/internal/converter/fz"
	"zigbee-efekta/internal/converter/reporting"
	"zigbee-efekta/internal/converter/tz"
	"zigbee-efekta/internal/zcl"
)

// THLR is the EFEKTA_TH_LR sensor with a DS18B20 probe.
func THLR() *converter.Definition {
	node := converter.Fields("node_config", clusterPower,
		converter.Field{Attribute: AttrReadingInterval, Name: "reading_interval", Transform: converter.Integer},
	)
	nodeSet := converter.Writes("node_config", converter.OnOffLookup(),
		converter.WriteEntry{Key: "reading_interval", Cluster: clusterPower, Attribute: AttrReadingInterval, Type: zcl.TypeUint16},
	)

	exp := standardExposes()
	exp = append(exp,
		exposes.Numeric("reading_interval", exposes.AccessStateSet).WithUnit("Seconds").
			WithDescription("Setting the sensor reading interval. Setting the time in seconds, by default 60 seconds").
			WithValueMin(1).WithValueMax(360),
	)
	exp = append(exp, controlExposes(-5, 50)...)
	exp = append(exp, exposes.Numeric("sensor_serial_id", exposes.AccessState).WithDescription("Serial ID DS18B20"))

	return &converter.Definition{
		ZigbeeModel: []string{"EFEKTA_TH_LR"},
		Model:       "EFEKTA_TH_LR",
		Vendor:      Vendor,
		Description: "EFEKTA_TH_LR - temperature and humidity sensors with a signal amplifier. Thermostat and hygrostat.",
		FromZigbee: []converter.FromZigbee{
			fz.Temperature, fz.Humidity, fz.Battery,
			termostatDecoder("sensor_serial_id"), hydrostatDecoder(), node,
		},
		ToZigbee: []converter.ToZigbee{
			tz.FactoryReset, termostatEncoder(), hydrostatEncoder(), nodeSet,
		},
		Configure: configure(reportingProfile{
			battery:     reporting.Overrides{Min: 0, Max: 43200, Change: 1},
			temperature: reporting.Overrides{Min: 0, Max: 1200, Change: 10},
			humidity:    reporting.Overrides{Min: 0, Max: 2400, Change: 10},
		}),
		Exposes: exp,
		Options: measurementOptions(),
		Icon:    iconURI("efekta_th_lr.jpg"),
	}
}
