package clusters

import "zigbee-efekta/internal/zcl"

// TemperatureMeasurement carries the thermostat border and control attributes
// of EfektaLab sensors next to the standard measured value.
var TemperatureMeasurement = zcl.ClusterDef{
	ID:   0x0402,
	Name: "msTemperatureMeasurement",
	Attributes: []zcl.AttributeDef{
		{ID: 0x0000, Name: "measuredValue", Type: zcl.TypeInt16, Access: zcl.AccessRead | zcl.AccessReport},
		{ID: 0x0001, Name: "minMeasuredValue", Type: zcl.TypeInt16, Access: zcl.AccessRead},
		{ID: 0x0002, Name: "maxMeasuredValue", Type: zcl.TypeInt16, Access: zcl.AccessRead},
		{ID: 0x0220, Name: "enableTemp", Type: zcl.TypeBool, Access: zcl.AccessRead | zcl.AccessWrite},
		{ID: 0x0221, Name: "highTemp", Type: zcl.TypeInt16, Access: zcl.AccessRead | zcl.AccessWrite},
		{ID: 0x0222, Name: "lowTemp", Type: zcl.TypeInt16, Access: zcl.AccessRead | zcl.AccessWrite},
		{ID: 0x0225, Name: "invertLogicTemp", Type: zcl.TypeBool, Access: zcl.AccessRead | zcl.AccessWrite},
		{ID: 0xA19B, Name: "sensorIdentifier", Type: zcl.TypeUint8, Access: zcl.AccessRead | zcl.AccessReport},
	},
}
