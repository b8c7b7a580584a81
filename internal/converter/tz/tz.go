// Package tz holds the standard encoders shared by device definitions.
package tz

import (
	"context"

	"zigbee-efekta/internal/converter"
)

// FactoryReset sends genBasic resetFactDefault. The key's value is ignored.
var FactoryReset = converter.ToZigbee{
	Name: "factory_reset",
	Keys: []string{"reset"},
	ConvertSet: func(ctx context.Context, ep converter.Endpoint, _ string, _ any, _ *converter.Meta) (converter.State, error) {
		return nil, ep.Command(ctx, "genBasic", "resetFactDefault", nil)
	},
}
