package clusters

import "zigbee-efekta/internal/zcl"

// PowerConfiguration includes the EfektaLab node settings (0x0201, 0x0205, 0x0275).
var PowerConfiguration = zcl.ClusterDef{
	ID:   0x0001,
	Name: "genPowerCfg",
	Attributes: []zcl.AttributeDef{
		{ID: 0x0020, Name: "batteryVoltage", Type: zcl.TypeUint8, Access: zcl.AccessRead | zcl.AccessReport},
		{ID: 0x0021, Name: "batteryPercentageRemaining", Type: zcl.TypeUint8, Access: zcl.AccessRead | zcl.AccessReport},
		{ID: 0x0031, Name: "batterySize", Type: zcl.TypeEnum8, Access: zcl.AccessRead | zcl.AccessWrite},
		{ID: 0x0033, Name: "batteryQuantity", Type: zcl.TypeUint8, Access: zcl.AccessRead | zcl.AccessWrite},
		{ID: 0x003E, Name: "batteryAlarmState", Type: zcl.TypeBitmap32, Access: zcl.AccessRead | zcl.AccessReport},
		{ID: 0x0201, Name: "readingInterval", Type: zcl.TypeUint16, Access: zcl.AccessRead | zcl.AccessWrite},
		{ID: 0x0205, Name: "comparisonPreviousData", Type: zcl.TypeBool, Access: zcl.AccessRead | zcl.AccessWrite},
		{ID: 0x0275, Name: "configReportEnable", Type: zcl.TypeBool, Access: zcl.AccessRead | zcl.AccessWrite},
	},
}
