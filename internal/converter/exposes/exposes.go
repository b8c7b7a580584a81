// Package exposes describes the user-facing capabilities of a device model:
// numeric and binary properties with access flags, units and valid ranges.
package exposes

import (
	"errors"
	"fmt"
	"strconv"

	"zigbee-efekta/internal/zcl"
)

// Access is a bitmask of what the host may do with a property.
type Access uint8

const (
	AccessState Access = 1 << iota
	AccessSet
	AccessGet

	AccessStateSet = AccessState | AccessSet
	AccessStateGet = AccessState | AccessGet
	AccessAll      = AccessState | AccessSet | AccessGet
)

func (a Access) CanSet() bool { return a&AccessSet != 0 }
func (a Access) CanGet() bool { return a&AccessGet != 0 }

// Kind is the capability type.
type Kind string

const (
	KindNumeric Kind = "numeric"
	KindBinary  Kind = "binary"
	KindEnum    Kind = "enum"
)

var (
	ErrReadOnly     = errors.New("property is not settable")
	ErrInvalidValue = errors.New("invalid value")
)

// RangeError reports a numeric value outside the exposed bounds.
type RangeError struct {
	Property string
	Value    float64
	Min, Max *float64
}

func (e *RangeError) Error() string {
	return fmt.Sprintf("%s: value %v outside [%s, %s]", e.Property, e.Value, bound(e.Min), bound(e.Max))
}

func (e *RangeError) Unwrap() error { return ErrInvalidValue }

func bound(p *float64) string {
	if p == nil {
		return "-"
	}
	return strconv.FormatFloat(*p, 'f', -1, 64)
}

// Expose is one capability, serialised in the zigbee2mqtt exposes format.
type Expose struct {
	Type        Kind     `json:"type"`
	Name        string   `json:"name"`
	Property    string   `json:"property"`
	Access      Access   `json:"access"`
	Unit        string   `json:"unit,omitempty"`
	Description string   `json:"description,omitempty"`
	ValueMin    *float64 `json:"value_min,omitempty"`
	ValueMax    *float64 `json:"value_max,omitempty"`
	ValueOn     any      `json:"value_on,omitempty"`
	ValueOff    any      `json:"value_off,omitempty"`
	Values      []string `json:"values,omitempty"`
}

func Numeric(name string, access Access) Expose {
	return Expose{Type: KindNumeric, Name: name, Property: name, Access: access}
}

func Binary(name string, access Access, valueOn, valueOff any) Expose {
	return Expose{Type: KindBinary, Name: name, Property: name, Access: access, ValueOn: valueOn, ValueOff: valueOff}
}

func EnumOf(name string, access Access, values ...string) Expose {
	return Expose{Type: KindEnum, Name: name, Property: name, Access: access, Values: values}
}

func (e Expose) WithUnit(unit string) Expose {
	e.Unit = unit
	return e
}

func (e Expose) WithDescription(d string) Expose {
	e.Description = d
	return e
}

func (e Expose) WithValueMin(v float64) Expose {
	e.ValueMin = &v
	return e
}

func (e Expose) WithValueMax(v float64) Expose {
	e.ValueMax = &v
	return e
}

// Validate checks a value a user wants to set against the capability.
func (e *Expose) Validate(value any) error {
	if !e.Access.CanSet() {
		return fmt.Errorf("%s: %w", e.Property, ErrReadOnly)
	}
	switch e.Type {
	case KindNumeric:
		f, err := toNumber(value)
		if err != nil {
			return fmt.Errorf("%s: %w", e.Property, err)
		}
		if (e.ValueMin != nil && f < *e.ValueMin) || (e.ValueMax != nil && f > *e.ValueMax) {
			return &RangeError{Property: e.Property, Value: f, Min: e.ValueMin, Max: e.ValueMax}
		}
	case KindBinary:
		s := fmt.Sprint(value)
		if s != fmt.Sprint(e.ValueOn) && s != fmt.Sprint(e.ValueOff) {
			return fmt.Errorf("%s: %w: %q, want %v or %v", e.Property, ErrInvalidValue, s, e.ValueOn, e.ValueOff)
		}
	case KindEnum:
		s := fmt.Sprint(value)
		for _, v := range e.Values {
			if v == s {
				return nil
			}
		}
		return fmt.Errorf("%s: %w: %q, want one of %v", e.Property, ErrInvalidValue, s, e.Values)
	}
	return nil
}

func toNumber(value any) (float64, error) {
	if s, ok := value.(string); ok {
		f, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return 0, fmt.Errorf("%w: %q is not a number", ErrInvalidValue, s)
		}
		return f, nil
	}
	f, ok := zcl.ToFloat64(value)
	if !ok {
		return 0, fmt.Errorf("%w: %v (%T) is not a number", ErrInvalidValue, value, value)
	}
	return f, nil
}

// Find returns the expose with the given property.
func Find(list []Expose, property string) (*Expose, bool) {
	for i := range list {
		if list[i].Property == property {
			return &list[i], true
		}
	}
	return nil, false
}
