package converter

import (
	"errors"
	"slices"
)

// Field maps one attribute ID to a named output field.
type Field struct {
	Attribute uint16
	Name      string
	Transform Transform
}

// ConvertFunc decodes a message into state. Returning a nil State means
// nothing to publish.
type ConvertFunc func(def *Definition, msg *Message, opts Options, meta *Meta) (State, error)

// FromZigbee is a decoder bound to one cluster. Table-driven decoders set
// Fields; custom decoders set Convert and list their outputs in Provides.
type FromZigbee struct {
	Name     string
	Cluster  string
	Types    []MessageType
	Fields   []Field
	Provides []string
	Convert  ConvertFunc
}

// Fields builds a table-driven decoder accepting reports and read responses.
func Fields(name, cluster string, fields ...Field) FromZigbee {
	return FromZigbee{
		Name:    name,
		Cluster: cluster,
		Types:   []MessageType{AttributeReport, ReadResponse},
		Fields:  fields,
	}
}

// Accepts reports whether the decoder handles msg.
func (f *FromZigbee) Accepts(msg *Message) bool {
	return f.Cluster == msg.Cluster && slices.Contains(f.Types, msg.Type)
}

// Outputs returns the state keys this decoder can produce.
func (f *FromZigbee) Outputs() []string {
	if f.Convert != nil {
		return f.Provides
	}
	out := make([]string, 0, len(f.Fields))
	for _, fld := range f.Fields {
		out = append(out, fld.Name)
	}
	return out
}

// Decode applies the decoder to msg. Attributes without a field are ignored.
// Values the transform rejects are left out and reported as *DecodeError.
func (f *FromZigbee) Decode(def *Definition, msg *Message, opts Options, meta *Meta) (State, error) {
	if f.Convert != nil {
		return f.Convert(def, msg, opts, meta)
	}
	var (
		state State
		errs  []error
	)
	for _, fld := range f.Fields {
		raw, ok := msg.Attr(fld.Attribute)
		if !ok {
			continue
		}
		v, err := fld.Transform.Decode(raw)
		if err != nil {
			errs = append(errs, &DecodeError{
				Cluster:   msg.Cluster,
				Attribute: fld.Attribute,
				Field:     fld.Name,
				Value:     raw,
				Reason:    err.Error(),
			})
			continue
		}
		if state == nil {
			state = State{}
		}
		state[fld.Name] = v
	}
	return state, errors.Join(errs...)
}
