package converter

import (
	"errors"
	"fmt"

	"zigbee-efekta/internal/zcl"
)

// Transform interprets one raw attribute value.
type Transform interface {
	Decode(raw any) (any, error)
	String() string
}

var (
	// Identity passes the raw value through.
	Identity Transform = identity{}
	// Integer normalises any integral raw value to int64.
	Integer Transform = integer{}
	// OnOff maps 0 to "OFF" and 1 to "ON".
	OnOff Transform = onOff
)

var onOff = Enum{"OFF", "ON"}

// OnOffLookup is the encoder table matching OnOff.
func OnOffLookup() map[string]int64 { return onOff.Lookup() }

type identity struct{}

func (identity) Decode(raw any) (any, error) { return raw, nil }
func (identity) String() string              { return "identity" }

type integer struct{}

func (integer) Decode(raw any) (any, error) {
	n, ok := zcl.ToInt64(raw)
	if !ok {
		return nil, errors.New("not an integer")
	}
	return n, nil
}

func (integer) String() string { return "integer" }

// Enum maps a small integer index to a label. Booleans index as 0 and 1.
type Enum []string

func (e Enum) Decode(raw any) (any, error) {
	var idx int64
	switch v := raw.(type) {
	case bool:
		if v {
			idx = 1
		}
	default:
		n, ok := zcl.ToInt64(raw)
		if !ok {
			return nil, errors.New("not an enum index")
		}
		idx = n
	}
	if idx < 0 || idx >= int64(len(e)) {
		return nil, fmt.Errorf("index outside [0, %d]", len(e)-1)
	}
	return e[idx], nil
}

func (e Enum) String() string { return fmt.Sprintf("enum%v", []string(e)) }

// Lookup returns the label to index table for encoding, e.g. OFF:0 ON:1.
func (e Enum) Lookup() map[string]int64 {
	m := make(map[string]int64, len(e))
	for i, label := range e {
		m[label] = int64(i)
	}
	return m
}
