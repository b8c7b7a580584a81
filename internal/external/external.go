// Package external loads device definitions from YAML or JSON files, for
// models that have no built-in Go definition. Files use the same field-table
// and write-table vocabulary as the built-in definitions; a field may carry a
// Lua expression instead of a named transform.
package external

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"gopkg.in/yaml.v3"

	"zigbee-efekta/internal/converter"
	"zigbee-efekta/internal/converter/exposes"
	"zigbee-efekta/internal/converter/fz"
	"zigbee-efekta/internal/converter/reporting"
	"zigbee-efekta/internal/converter/tz"
	"zigbee-efekta/internal/zcl"
)

// File is the structure of one definitions file. JSON files decode through
// the same yaml tags.
type File struct {
	Clusters    []zcl.ClusterDef `yaml:"clusters,omitempty"`
	Definitions []DefinitionSpec `yaml:"definitions"`
}

// DefinitionSpec describes one model.
type DefinitionSpec struct {
	ZigbeeModel []string `yaml:"zigbee_model"`
	Model       string   `yaml:"model"`
	Vendor      string   `yaml:"vendor"`
	Description string   `yaml:"description"`
	// Standard names built-in decoders: temperature, humidity, battery.
	// Each brings its exposes and options along.
	Standard     []string        `yaml:"standard,omitempty"`
	FactoryReset bool            `yaml:"factory_reset,omitempty"`
	Decoders     []DecoderSpec   `yaml:"decoders,omitempty"`
	Writes       []WriteSpec     `yaml:"writes,omitempty"`
	Bind         []string        `yaml:"bind,omitempty"`
	Reporting    []ReportingSpec `yaml:"reporting,omitempty"`
	Exposes      []ExposeSpec    `yaml:"exposes,omitempty"`
}

// DecoderSpec is a field table bound to one cluster.
type DecoderSpec struct {
	Name    string      `yaml:"name,omitempty"`
	Cluster string      `yaml:"cluster"`
	Fields  []FieldSpec `yaml:"fields"`
}

// FieldSpec maps an attribute to a state key. Transform is one of identity,
// integer, onoff or enum:<a>,<b>,...; Lua overrides it.
type FieldSpec struct {
	Attribute uint16 `yaml:"attribute"`
	Name      string `yaml:"name"`
	Transform string `yaml:"transform,omitempty"`
	Lua       string `yaml:"lua,omitempty"`
}

// WriteSpec maps a settable key to an attribute. Type is a ZCL type name
// such as bool, uint16 or int16.
type WriteSpec struct {
	Key       string `yaml:"key"`
	Cluster   string `yaml:"cluster"`
	Attribute uint16 `yaml:"attribute"`
	Type      string `yaml:"type"`
}

// ReportingSpec is one Configure Reporting record.
type ReportingSpec struct {
	Cluster   string `yaml:"cluster"`
	Attribute uint16 `yaml:"attribute"`
	Type      string `yaml:"type"`
	Min       uint16 `yaml:"min"`
	Max       uint16 `yaml:"max"`
	Change    int64  `yaml:"change"`
}

// ExposeSpec describes a custom expose. Access is state, set, get,
// state_set, state_get or all.
type ExposeSpec struct {
	Type        exposes.Kind `yaml:"type"`
	Name        string       `yaml:"name"`
	Access      string       `yaml:"access"`
	Unit        string       `yaml:"unit,omitempty"`
	Description string       `yaml:"description,omitempty"`
	ValueMin    *float64     `yaml:"value_min,omitempty"`
	ValueMax    *float64     `yaml:"value_max,omitempty"`
	ValueOn     any          `yaml:"value_on,omitempty"`
	ValueOff    any          `yaml:"value_off,omitempty"`
	Values      []string     `yaml:"values,omitempty"`
}

var accessByName = map[string]exposes.Access{
	"state":     exposes.AccessState,
	"set":       exposes.AccessSet,
	"get":       exposes.AccessGet,
	"state_set": exposes.AccessStateSet,
	"state_get": exposes.AccessStateGet,
	"all":       exposes.AccessAll,
}

type standard struct {
	decoder converter.FromZigbee
	exposes []exposes.Expose
	options []exposes.Expose
}

var standards = map[string]standard{
	"temperature": {
		decoder: fz.Temperature,
		exposes: []exposes.Expose{exposes.Temperature()},
		options: []exposes.Expose{exposes.Calibration("temperature", "°C"), exposes.Precision("temperature")},
	},
	"humidity": {
		decoder: fz.Humidity,
		exposes: []exposes.Expose{exposes.Humidity()},
		options: []exposes.Expose{exposes.Calibration("humidity", "%"), exposes.Precision("humidity")},
	},
	"battery": {
		decoder: fz.Battery,
		exposes: []exposes.Expose{exposes.Battery(), exposes.BatteryVoltage(), exposes.BatteryLow()},
	},
}

// Set is the result of loading a definitions directory. Close releases the
// Lua VMs held by the definitions' transforms.
type Set struct {
	Definitions []*converter.Definition
	lua         []*luaTransform
}

func (s *Set) Close() {
	for _, t := range s.lua {
		t.Close()
	}
	s.lua = nil
}

// LoadDir reads every *.yaml, *.yml and *.json file in dir, registers the
// clusters they declare into clusters and builds their definitions. Every
// definition is validated. A missing or empty directory yields an empty Set.
func LoadDir(dir string, clusters *zcl.Registry, logger *slog.Logger) (*Set, error) {
	set := &Set{}
	if dir == "" {
		return set, nil
	}

	var matches []string
	for _, pattern := range []string{"*.yaml", "*.yml", "*.json"} {
		m, err := filepath.Glob(filepath.Join(dir, pattern))
		if err != nil {
			return set, fmt.Errorf("glob definitions dir: %w", err)
		}
		matches = append(matches, m...)
	}
	slices.Sort(matches)
	if len(matches) == 0 {
		logger.Info("no external definition files found", "dir", dir)
		return set, nil
	}

	for _, path := range matches {
		data, err := os.ReadFile(path)
		if err != nil {
			set.Close()
			return nil, fmt.Errorf("read %s: %w", path, err)
		}
		f, err := Parse(data)
		if err != nil {
			set.Close()
			return nil, fmt.Errorf("parse %s: %w", path, err)
		}
		for _, c := range f.Clusters {
			clusters.Register(c)
		}
		for i := range f.Definitions {
			def, err := set.build(&f.Definitions[i])
			if err != nil {
				set.Close()
				return nil, fmt.Errorf("%s: %w", path, err)
			}
			set.Definitions = append(set.Definitions, def)
		}
		logger.Info("loaded definition file", "path", filepath.Base(path),
			"clusters", len(f.Clusters), "definitions", len(f.Definitions))
	}
	return set, nil
}

// Parse decodes one definitions file. Unknown keys are rejected.
func Parse(data []byte) (*File, error) {
	var f File
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&f); err != nil {
		return nil, err
	}
	return &f, nil
}

// Build turns one spec into a validated definition. Lua transforms it creates
// are owned by the returned Set.
func Build(spec *DefinitionSpec) (*converter.Definition, *Set, error) {
	set := &Set{}
	def, err := set.build(spec)
	if err != nil {
		set.Close()
		return nil, nil, err
	}
	set.Definitions = []*converter.Definition{def}
	return def, set, nil
}

func (s *Set) build(spec *DefinitionSpec) (*converter.Definition, error) {
	def := &converter.Definition{
		ZigbeeModel: spec.ZigbeeModel,
		Model:       spec.Model,
		Vendor:      spec.Vendor,
		Description: spec.Description,
	}

	for _, name := range spec.Standard {
		st, ok := standards[name]
		if !ok {
			return nil, fmt.Errorf("definition %s: unknown standard decoder %q", spec.Model, name)
		}
		def.FromZigbee = append(def.FromZigbee, st.decoder)
		def.Exposes = append(def.Exposes, st.exposes...)
		def.Options = append(def.Options, st.options...)
	}

	for i, d := range spec.Decoders {
		name := d.Name
		if name == "" {
			name = fmt.Sprintf("%s_%d", d.Cluster, i)
		}
		fields := make([]converter.Field, 0, len(d.Fields))
		for _, fs := range d.Fields {
			tr, err := s.transform(fs)
			if err != nil {
				return nil, fmt.Errorf("definition %s: field %s: %w", spec.Model, fs.Name, err)
			}
			fields = append(fields, converter.Field{Attribute: fs.Attribute, Name: fs.Name, Transform: tr})
		}
		def.FromZigbee = append(def.FromZigbee, converter.Fields(name, d.Cluster, fields...))
	}

	if spec.FactoryReset {
		def.ToZigbee = append(def.ToZigbee, tz.FactoryReset)
	}
	if len(spec.Writes) > 0 {
		entries := make([]converter.WriteEntry, 0, len(spec.Writes))
		for _, w := range spec.Writes {
			typ, ok := zcl.TypeByName(w.Type)
			if !ok {
				return nil, fmt.Errorf("definition %s: write %s: unknown type %q", spec.Model, w.Key, w.Type)
			}
			entries = append(entries, converter.WriteEntry{Key: w.Key, Cluster: w.Cluster, Attribute: w.Attribute, Type: typ})
		}
		def.ToZigbee = append(def.ToZigbee, converter.Writes(spec.Model+"_config", converter.OnOffLookup(), entries...))
	}

	for _, es := range spec.Exposes {
		e, err := buildExpose(es)
		if err != nil {
			return nil, fmt.Errorf("definition %s: %w", spec.Model, err)
		}
		def.Exposes = append(def.Exposes, e)
	}

	if len(spec.Bind) > 0 || len(spec.Reporting) > 0 {
		cfg, err := buildConfigure(spec)
		if err != nil {
			return nil, err
		}
		def.Configure = cfg
	}

	if err := def.Validate(); err != nil {
		return nil, err
	}
	return def, nil
}

func (s *Set) transform(fs FieldSpec) (converter.Transform, error) {
	if fs.Lua != "" {
		t, err := newLuaTransform(fs.Lua)
		if err != nil {
			return nil, err
		}
		s.lua = append(s.lua, t)
		return t, nil
	}
	switch name := fs.Transform; {
	case name == "" || name == "identity":
		return converter.Identity, nil
	case name == "integer":
		return converter.Integer, nil
	case name == "onoff":
		return converter.OnOff, nil
	case strings.HasPrefix(name, "enum:"):
		labels := strings.Split(strings.TrimPrefix(name, "enum:"), ",")
		for i := range labels {
			labels[i] = strings.TrimSpace(labels[i])
		}
		return converter.Enum(labels), nil
	default:
		return nil, fmt.Errorf("unknown transform %q", name)
	}
}

func buildExpose(es ExposeSpec) (exposes.Expose, error) {
	access, ok := accessByName[es.Access]
	if !ok {
		return exposes.Expose{}, fmt.Errorf("expose %s: unknown access %q", es.Name, es.Access)
	}
	var e exposes.Expose
	switch es.Type {
	case exposes.KindNumeric:
		e = exposes.Numeric(es.Name, access)
		e.ValueMin, e.ValueMax = es.ValueMin, es.ValueMax
	case exposes.KindBinary:
		on, off := es.ValueOn, es.ValueOff
		if on == nil && off == nil {
			on, off = "ON", "OFF"
		}
		e = exposes.Binary(es.Name, access, on, off)
	case exposes.KindEnum:
		if len(es.Values) == 0 {
			return exposes.Expose{}, fmt.Errorf("expose %s: enum without values", es.Name)
		}
		e = exposes.EnumOf(es.Name, access, es.Values...)
	default:
		return exposes.Expose{}, fmt.Errorf("expose %s: unknown type %q", es.Name, es.Type)
	}
	return e.WithUnit(es.Unit).WithDescription(es.Description), nil
}

func buildConfigure(spec *DefinitionSpec) (converter.ConfigureFunc, error) {
	type record struct {
		cluster string
		item    converter.ReportingItem
	}
	records := make([]record, 0, len(spec.Reporting))
	for _, r := range spec.Reporting {
		typ, ok := zcl.TypeByName(r.Type)
		if !ok {
			return nil, fmt.Errorf("definition %s: reporting %s/0x%04X: unknown type %q", spec.Model, r.Cluster, r.Attribute, r.Type)
		}
		if r.Max != 0 && r.Min > r.Max {
			return nil, fmt.Errorf("definition %s: reporting %s/0x%04X: min %d above max %d", spec.Model, r.Cluster, r.Attribute, r.Min, r.Max)
		}
		records = append(records, record{r.Cluster, converter.ReportingItem{
			Attribute: r.Attribute, Type: typ, Min: r.Min, Max: r.Max, Change: r.Change,
		}})
	}
	bind := slices.Clone(spec.Bind)
	model := spec.Model

	return func(ctx context.Context, dev converter.Device, coordinator converter.Endpoint, logger *slog.Logger) error {
		ep, err := dev.Endpoint(1)
		if err != nil {
			return fmt.Errorf("endpoint 1: %w", err)
		}
		if err := reporting.Bind(ctx, ep, coordinator, bind); err != nil {
			return err
		}
		for _, r := range records {
			if err := ep.ConfigureReporting(ctx, r.cluster, []converter.ReportingItem{r.item}); err != nil {
				return fmt.Errorf("configure reporting %s/0x%04X: %w", r.cluster, r.item.Attribute, err)
			}
		}
		logger.Debug("reporting configured", "device", dev.IEEEAddress(), "model", model)
		return nil
	}, nil
}
