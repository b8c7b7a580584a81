package efekta

import (
	"zigbee-efekta/internal/converter"
	"zigbee-efekta/internal/converter/exposes"
	"zigbee-efekta/internal/converter/fz"
	"zigbee-efekta/internal/converter/reporting"
	"zigbee-efekta/internal/converter/tz"
	"zigbee-efekta/internal/zcl"
)

// THv2LR is the EFEKTA_TH_v2_LR sensor with a remote SHTC3/SHT20/SHT30/SHT40 probe.
func THv2LR() *converter.Definition {
	node := converter.Fields("node_config", clusterPower,
		converter.Field{Attribute: AttrReadingInterval, Name: "reading_interval", Transform: converter.Integer},
		converter.Field{Attribute: AttrConfigReportEnable, Name: "config_report_enable", Transform: converter.OnOff},
		converter.Field{Attribute: AttrComparisonPreviousData, Name: "comparison_previous_data", Transform: converter.OnOff},
	)
	nodeSet := converter.Writes("node_config", converter.OnOffLookup(),
		converter.WriteEntry{Key: "reading_interval", Cluster: clusterPower, Attribute: AttrReadingInterval, Type: zcl.TypeUint16},
		converter.WriteEntry{Key: "config_report_enable", Cluster: clusterPower, Attribute: AttrConfigReportEnable, Type: zcl.TypeBool},
		converter.WriteEntry{Key: "comparison_previous_data", Cluster: clusterPower, Attribute: AttrComparisonPreviousData, Type: zcl.TypeBool},
	)

	exp := standardExposes()
	exp = append(exp,
		exposes.Numeric("reading_interval", exposes.AccessStateSet).WithUnit("Seconds").
			WithDescription("Setting the sensor reading interval. Setting the time in seconds, by default 30 seconds").
			WithValueMin(10).WithValueMax(360),
		onOffExpose("config_report_enable", "Enable reporting based on reporting configuration"),
		onOffExpose("comparison_previous_data", "Enable control of comparison with previous data"),
	)
	exp = append(exp, controlExposes(-50, 120)...)
	exp = append(exp, exposes.Numeric("sensor_identifier", exposes.AccessState).WithDescription("Sensor type, identifier"))

	return &converter.Definition{
		ZigbeeModel: []string{"EFEKTA_TH_v2_LR"},
		Model:       "EFEKTA_TH_v2_LR",
		Vendor:      Vendor,
		Description: "EFEKTA_TH_v2_LR - Smart temperature and humidity sensors with a signal amplifier. " +
			"The device is equipped with a remote temperature sensor SHTC3/SHT20/SHT30/SHT40. Thermostat and hygrostat.",
		FromZigbee: []converter.FromZigbee{
			fz.Temperature, fz.Humidity, fz.Battery,
			termostatDecoder("sensor_identifier"), hydrostatDecoder(), node,
		},
		ToZigbee: []converter.ToZigbee{
			tz.FactoryReset, termostatEncoder(), hydrostatEncoder(), nodeSet,
		},
		Configure: configure(reportingProfile{
			battery:     reporting.Overrides{Min: 1800, Max: 43200, Change: 1},
			temperature: reporting.Overrides{Min: 60, Max: 1200, Change: 1},
			humidity:    reporting.Overrides{Min: 120, Max: 2400, Change: 1},
		}),
		Exposes: exp,
		Options: measurementOptions(),
		Icon:    iconURI("efekta_th_v2_lr.jpg"),
	}
}
