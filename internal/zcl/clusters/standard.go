package clusters

import "zigbee-efekta/internal/zcl"

// Standard lists the clusters the bridge knows without definition files.
var Standard = []zcl.ClusterDef{
	Basic,
	PowerConfiguration,
	TemperatureMeasurement,
	RelativeHumidity,
}

// RegisterStandard adds the standard clusters to r.
func RegisterStandard(r *zcl.Registry) {
	for _, c := range Standard {
		r.Register(c)
	}
}
