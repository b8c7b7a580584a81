package converter

import (
	"context"
	"fmt"
	"slices"
	"strconv"
	"strings"

	"zigbee-efekta/internal/zcl"
)

// SetFunc performs a set and returns the state to publish.
type SetFunc func(ctx context.Context, ep Endpoint, key string, value any, meta *Meta) (State, error)

// GetFunc requests the current value of key from the device.
type GetFunc func(ctx context.Context, ep Endpoint, key string, meta *Meta) error

// WriteEntry maps a settable key to the attribute that stores it.
type WriteEntry struct {
	Key       string
	Cluster   string
	Attribute uint16
	Type      uint8
}

// ToZigbee is an encoder owning a set of keys.
type ToZigbee struct {
	Name       string
	Keys       []string
	Writes     []WriteEntry
	Lookup     map[string]int64
	ConvertSet SetFunc
	ConvertGet GetFunc
}

// Handles reports whether key belongs to this encoder.
func (t *ToZigbee) Handles(key string) bool {
	return slices.Contains(t.Keys, key)
}

// Writes builds a table-driven encoder. Each set resolves the value through
// lookup first, parses it as an integer otherwise, issues a single write and
// echoes the caller's raw value as state. Each get reads the attribute back.
func Writes(name string, lookup map[string]int64, entries ...WriteEntry) ToZigbee {
	t := ToZigbee{Name: name, Writes: entries, Lookup: lookup}
	for _, e := range entries {
		t.Keys = append(t.Keys, e.Key)
	}
	t.ConvertSet = func(ctx context.Context, ep Endpoint, key string, value any, _ *Meta) (State, error) {
		e, ok := t.entry(key)
		if !ok {
			return nil, fmt.Errorf("%s: %w: %q", name, ErrUnknownKey, key)
		}
		n, err := ResolveValue(lookup, value)
		if err != nil {
			return nil, fmt.Errorf("%s: %s: %w", name, key, err)
		}
		attrs := []AttributeValue{{ID: e.Attribute, Type: e.Type, Value: n}}
		if err := ep.Write(ctx, e.Cluster, attrs); err != nil {
			return nil, err
		}
		return State{key: value}, nil
	}
	t.ConvertGet = func(ctx context.Context, ep Endpoint, key string, _ *Meta) error {
		e, ok := t.entry(key)
		if !ok {
			return fmt.Errorf("%s: %w: %q", name, ErrUnknownKey, key)
		}
		return ep.Read(ctx, e.Cluster, []uint16{e.Attribute})
	}
	return t
}

func (t *ToZigbee) entry(key string) (WriteEntry, bool) {
	for _, e := range t.Writes {
		if e.Key == key {
			return e, true
		}
	}
	return WriteEntry{}, false
}

// ResolveValue converts a user value to the integer written on the wire:
// symbolic values go through lookup, everything else must be an integer.
func ResolveValue(lookup map[string]int64, value any) (int64, error) {
	if s, ok := value.(string); ok {
		if n, ok := lookup[s]; ok {
			return n, nil
		}
		n, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64)
		if err != nil {
			return 0, fmt.Errorf("%w: %q is not an integer", ErrInvalidValue, s)
		}
		return n, nil
	}
	if n, ok := zcl.ToInt64(value); ok {
		return n, nil
	}
	return 0, fmt.Errorf("%w: %v (%T) is not an integer", ErrInvalidValue, value, value)
}
