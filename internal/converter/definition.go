package converter

import (
	"context"
	"errors"
	"fmt"

	"zigbee-efekta/internal/converter/exposes"
)

// Definition is the immutable description of one device model.
type Definition struct {
	ZigbeeModel []string
	Model       string
	Vendor      string
	Description string
	FromZigbee  []FromZigbee
	ToZigbee    []ToZigbee
	Configure   ConfigureFunc
	Exposes     []exposes.Expose
	Options     []exposes.Expose
	Icon        string // data URI
}

// Validate checks the structural invariants of the definition: unique
// attribute IDs per field table, disjoint encoder key sets, and a decoder or
// encoder behind every exposed property.
func (d *Definition) Validate() error {
	if d.Model == "" {
		return errors.New("definition: model is required")
	}
	if len(d.ZigbeeModel) == 0 {
		return fmt.Errorf("definition %s: zigbeeModel is empty", d.Model)
	}

	provided := make(map[string]bool)
	for _, fz := range d.FromZigbee {
		seen := make(map[uint16]string)
		for _, f := range fz.Fields {
			if prev, dup := seen[f.Attribute]; dup {
				return fmt.Errorf("definition %s: decoder %s: attribute 0x%04X maps to both %s and %s",
					d.Model, fz.Name, f.Attribute, prev, f.Name)
			}
			seen[f.Attribute] = f.Name
			if f.Transform == nil {
				return fmt.Errorf("definition %s: decoder %s: field %s has no transform", d.Model, fz.Name, f.Name)
			}
		}
		if fz.Convert == nil && fz.Fields == nil {
			return fmt.Errorf("definition %s: decoder %s has neither fields nor convert", d.Model, fz.Name)
		}
		for _, out := range fz.Outputs() {
			provided[out] = true
		}
	}

	owner := make(map[string]string)
	for _, tz := range d.ToZigbee {
		for _, k := range tz.Keys {
			if prev, dup := owner[k]; dup {
				return fmt.Errorf("definition %s: key %s claimed by encoders %s and %s", d.Model, k, prev, tz.Name)
			}
			owner[k] = tz.Name
			provided[k] = true
		}
	}

	for _, e := range d.Exposes {
		if !provided[e.Property] {
			return fmt.Errorf("definition %s: exposed property %s has no decoder or encoder", d.Model, e.Property)
		}
		if e.Access.CanSet() {
			if _, ok := owner[e.Property]; !ok {
				return fmt.Errorf("definition %s: settable property %s has no encoder", d.Model, e.Property)
			}
		}
	}
	return nil
}

// Decode runs every decoder that accepts msg and merges their output in
// declaration order. Decode errors from one decoder do not stop the others.
func (d *Definition) Decode(msg *Message, opts Options, meta *Meta) (State, error) {
	state := State{}
	var errs []error
	for i := range d.FromZigbee {
		fz := &d.FromZigbee[i]
		if !fz.Accepts(msg) {
			continue
		}
		out, err := fz.Decode(d, msg, opts, meta)
		if err != nil {
			errs = append(errs, err)
		}
		state.Merge(out)
	}
	return state, errors.Join(errs...)
}

// Encoder returns the encoder owning key.
func (d *Definition) Encoder(key string) (*ToZigbee, error) {
	for i := range d.ToZigbee {
		if d.ToZigbee[i].Handles(key) {
			return &d.ToZigbee[i], nil
		}
	}
	return nil, fmt.Errorf("%s: %w: %q", d.Model, ErrUnknownKey, key)
}

// Expose returns the exposed capability for a property.
func (d *Definition) Expose(property string) (*exposes.Expose, bool) {
	return exposes.Find(d.Exposes, property)
}

// Set encodes one key. Range validation against the exposes is the caller's job.
func (d *Definition) Set(ctx context.Context, ep Endpoint, key string, value any, meta *Meta) (State, error) {
	tz, err := d.Encoder(key)
	if err != nil {
		return nil, err
	}
	if tz.ConvertSet == nil {
		return nil, fmt.Errorf("%s: set %s: %w", d.Model, key, ErrNotSupported)
	}
	return tz.ConvertSet(ctx, ep, key, value, meta)
}

// Get asks the device to report key; the value arrives as a ReadResponse.
func (d *Definition) Get(ctx context.Context, ep Endpoint, key string, meta *Meta) error {
	tz, err := d.Encoder(key)
	if err != nil {
		return err
	}
	if tz.ConvertGet == nil {
		return fmt.Errorf("%s: get %s: %w", d.Model, key, ErrNotSupported)
	}
	return tz.ConvertGet(ctx, ep, key, meta)
}

// Clusters returns the distinct clusters the decoders listen on.
func (d *Definition) Clusters() []string {
	var out []string
	seen := make(map[string]bool)
	for _, fz := range d.FromZigbee {
		if !seen[fz.Cluster] {
			seen[fz.Cluster] = true
			out = append(out, fz.Cluster)
		}
	}
	return out
}

// Info is the JSON view of a definition served to clients.
type Info struct {
	ZigbeeModel []string         `json:"zigbee_model"`
	Model       string           `json:"model"`
	Vendor      string           `json:"vendor"`
	Description string           `json:"description"`
	Exposes     []exposes.Expose `json:"exposes"`
	Options     []exposes.Expose `json:"options"`
	HasIcon     bool             `json:"has_icon"`
}

func (d *Definition) Info() Info {
	return Info{
		ZigbeeModel: d.ZigbeeModel,
		Model:       d.Model,
		Vendor:      d.Vendor,
		Description: d.Description,
		Exposes:     d.Exposes,
		Options:     d.Options,
		HasIcon:     d.Icon != "",
	}
}
