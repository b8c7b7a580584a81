package converter

import (
	"fmt"
	"sort"
)

// Registry maps radio-advertised model strings to definitions. It is built
// once at startup and never modified, so it needs no locking.
type Registry struct {
	byZigbeeModel map[string]*Definition
	byModel       map[string]*Definition
	ordered       []*Definition
}

// NewRegistry validates every definition and indexes it. Duplicate model
// identifiers or zigbeeModel strings are rejected.
func NewRegistry(defs ...*Definition) (*Registry, error) {
	r := &Registry{
		byZigbeeModel: make(map[string]*Definition),
		byModel:       make(map[string]*Definition),
	}
	for _, d := range defs {
		if err := d.Validate(); err != nil {
			return nil, err
		}
		if _, dup := r.byModel[d.Model]; dup {
			return nil, fmt.Errorf("registry: duplicate model %s", d.Model)
		}
		r.byModel[d.Model] = d
		for _, zm := range d.ZigbeeModel {
			if prev, dup := r.byZigbeeModel[zm]; dup {
				return nil, fmt.Errorf("registry: zigbeeModel %q claimed by %s and %s", zm, prev.Model, d.Model)
			}
			r.byZigbeeModel[zm] = d
		}
		r.ordered = append(r.ordered, d)
	}
	sort.Slice(r.ordered, func(i, j int) bool { return r.ordered[i].Model < r.ordered[j].Model })
	return r, nil
}

// Lookup returns the definition for a model string reported by a device.
func (r *Registry) Lookup(zigbeeModel string) (*Definition, error) {
	if d, ok := r.byZigbeeModel[zigbeeModel]; ok {
		return d, nil
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownModel, zigbeeModel)
}

// Model returns the definition by its model identifier.
func (r *Registry) Model(model string) (*Definition, error) {
	if d, ok := r.byModel[model]; ok {
		return d, nil
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownModel, model)
}

// All returns the definitions sorted by model identifier.
func (r *Registry) All() []*Definition {
	return append([]*Definition(nil), r.ordered...)
}

func (r *Registry) Len() int { return len(r.ordered) }
