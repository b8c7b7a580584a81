// Package converter defines the device definition model: attribute decoders
// (fromZigbee), command encoders (toZigbee), the configure hook and the
// registry that dispatches radio-advertised model strings to definitions.
//
// Definitions only build requests against the Endpoint interface and return
// plain data. The radio, the transport and persistence belong to the host.
package converter

import (
	"maps"
	"math"

	"zigbee-efekta/internal/zcl"
)

// MessageType is the kind of ZCL frame a decoder accepts.
type MessageType string

const (
	AttributeReport MessageType = "attributeReport"
	ReadResponse    MessageType = "readResponse"
)

// Message is an inbound attribute frame, already decoded to Go values.
// Data maps attribute ID to raw value; integers arrive as int64 or uint64.
type Message struct {
	Cluster     string
	Type        MessageType
	Endpoint    uint8
	Data        map[uint16]any
	LinkQuality uint8
}

// Attr returns the raw value of an attribute and whether it was present.
func (m *Message) Attr(id uint16) (any, bool) {
	v, ok := m.Data[id]
	return v, ok
}

// State is a mapping of named field to interpreted value.
type State map[string]any

// Merge copies other into s, overwriting existing keys.
func (s State) Merge(other State) {
	maps.Copy(s, other)
}

// Meta carries host context into a converter call.
type Meta struct {
	Device string // IEEE address, for diagnostics
	State  State  // last known state, read-only
}

// Options are user-tunable converter settings such as
// temperature_calibration or humidity_precision.
type Options map[string]any

// Number returns a numeric option value.
func (o Options) Number(key string) (float64, bool) {
	v, ok := o[key]
	if !ok {
		return 0, false
	}
	f, ok := zcl.ToFloat64(v)
	if !ok || math.IsNaN(f) {
		return 0, false
	}
	return f, true
}

// Merge returns a copy of o with other's keys applied on top.
func (o Options) Merge(other Options) Options {
	out := make(Options, len(o)+len(other))
	maps.Copy(out, o)
	maps.Copy(out, other)
	return out
}
