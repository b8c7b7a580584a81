package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"maps"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/kr/pretty"

	"zigbee-efekta/internal/converter"
	"zigbee-efekta/internal/converter/convertertest"
	"zigbee-efekta/internal/converter/exposes"
	"zigbee-efekta/internal/zcl"
)

const (
	shellIEEE   = "0x00124b00efec7a00"
	callTimeout = 5 * time.Second
)

var errQuit = errors.New("quit")

// shell runs definitions against a recording endpoint, without a radio.
type shell struct {
	defs     *converter.Registry
	clusters *zcl.Registry
	out      io.Writer
	logger   *slog.Logger
	// options and state are kept per model between commands.
	options map[string]converter.Options
	state   map[string]converter.State
}

func newShell(defs *converter.Registry, clusters *zcl.Registry, out io.Writer, logger *slog.Logger) *shell {
	return &shell{
		defs:     defs,
		clusters: clusters,
		out:      out,
		logger:   logger,
		options:  make(map[string]converter.Options),
		state:    make(map[string]converter.State),
	}
}

// exec runs one command line.
func (s *shell) exec(line string) error {
	args := strings.Fields(line)
	if len(args) == 0 {
		return nil
	}
	cmd, args := args[0], args[1:]
	switch cmd {
	case "help", "?":
		s.help()
		return nil
	case "models", "ls":
		return s.models()
	case "show":
		return s.withModel(args, 1, s.show)
	case "decode":
		return s.withModel(args, 3, s.decode)
	case "set":
		return s.withModel(args, 3, s.set)
	case "get":
		return s.withModel(args, 2, s.get)
	case "configure":
		return s.withModel(args, 1, s.configure)
	case "options":
		return s.withModel(args, 1, s.setOptions)
	case "state":
		return s.withModel(args, 1, s.showState)
	case "validate":
		return s.validate()
	case "quit", "exit", "q":
		return errQuit
	}
	return fmt.Errorf("unknown command %q, try help", cmd)
}

func (s *shell) help() {
	fmt.Fprint(s.out, `Commands:
  models                               list definitions
  show <model>                         print a definition
  decode <model> <cluster> <attr>=<v>  decode an attribute report
  set <model> <key> <value>            run an encoder
  get <model> <key>                    run an encoder's read
  configure <model>                    run the configure hook
  options <model> [<key>=<value>...]   show or set converter options
  state <model>                        show state accumulated by decode and set
  validate                             check every definition
  quit
Attributes are IDs (0x0220) or names (highTemp).
`)
}

func (s *shell) withModel(args []string, n int, fn func(*converter.Definition, []string) error) error {
	if len(args) < n {
		return fmt.Errorf("expected at least %d arguments", n)
	}
	def, err := s.defs.Model(args[0])
	if err != nil {
		return err
	}
	return fn(def, args[1:])
}

func (s *shell) models() error {
	for _, def := range s.defs.All() {
		fmt.Fprintf(s.out, "%-20s %-12s %s\n", def.Model, def.Vendor, def.Description)
	}
	return nil
}

func (s *shell) show(def *converter.Definition, _ []string) error {
	pretty.Fprintf(s.out, "%# v\n", def.Info())
	fmt.Fprintf(s.out, "clusters: %s\n", strings.Join(def.Clusters(), ", "))
	return nil
}

func (s *shell) decode(def *converter.Definition, args []string) error {
	cluster := args[0]
	cdef, _ := s.clusters.Resolve(cluster)

	msg := &converter.Message{
		Cluster:  cluster,
		Type:     converter.AttributeReport,
		Endpoint: 1,
		Data:     make(map[uint16]any),
	}
	for _, kv := range args[1:] {
		k, v, ok := strings.Cut(kv, "=")
		if !ok {
			return fmt.Errorf("%q: expected <attr>=<value>", kv)
		}
		id, attr, err := attribute(cdef, k)
		if err != nil {
			return err
		}
		msg.Data[id] = wireValue(attr, parseValue(v))
	}

	meta := &converter.Meta{Device: shellIEEE, State: s.state[def.Model]}
	state, err := def.Decode(msg, s.options[def.Model], meta)
	s.printState(state)
	s.merge(def.Model, state)
	return err
}

// attribute resolves a hex ID or, when the cluster is known, a name.
func attribute(cdef *zcl.ClusterDef, key string) (uint16, *zcl.AttributeDef, error) {
	if hex, ok := strings.CutPrefix(strings.ToLower(key), "0x"); ok {
		id, err := strconv.ParseUint(hex, 16, 16)
		if err != nil {
			return 0, nil, fmt.Errorf("attribute %q: %w", key, err)
		}
		if cdef == nil {
			return uint16(id), nil, nil
		}
		return uint16(id), cdef.FindAttribute(uint16(id)), nil
	}
	if cdef == nil {
		return 0, nil, fmt.Errorf("attribute %q: unknown cluster, use a hex ID", key)
	}
	attr := cdef.FindAttributeByName(key)
	if attr == nil {
		return 0, nil, fmt.Errorf("attribute %q not in %s", key, cdef.Name)
	}
	return attr.ID, attr, nil
}

// wireValue round-trips v through the attribute's wire type so decoders see
// what the radio would deliver. Values the type cannot carry pass through.
func wireValue(attr *zcl.AttributeDef, v any) any {
	if attr == nil {
		return v
	}
	data, err := zcl.EncodeValue(attr.Type, v)
	if err != nil {
		return v
	}
	out, _, err := zcl.DecodeValue(attr.Type, data)
	if err != nil {
		return v
	}
	return out
}

// parseValue reads a command line value as JSON, falling back to a bare
// string. Integral numbers become int64.
func parseValue(s string) any {
	if i, err := strconv.ParseInt(s, 0, 64); err == nil {
		return i
	}
	var v any
	if err := json.Unmarshal([]byte(s), &v); err != nil {
		return s
	}
	return v
}

func (s *shell) target() (*convertertest.Endpoint, *convertertest.Device) {
	ep := convertertest.NewEndpoint(1)
	return ep, &convertertest.Device{IEEE: shellIEEE, EP: ep}
}

func (s *shell) set(def *converter.Definition, args []string) error {
	key, value := args[0], parseValue(strings.Join(args[1:], " "))
	if e, ok := def.Expose(key); ok {
		if err := e.Validate(value); err != nil {
			return err
		}
	}
	ctx, cancel := context.WithTimeout(context.Background(), callTimeout)
	defer cancel()
	ep, _ := s.target()
	meta := &converter.Meta{Device: shellIEEE, State: s.state[def.Model]}
	state, err := def.Set(ctx, ep, key, value, meta)
	s.printCalls(ep)
	if err != nil {
		return err
	}
	s.printState(state)
	s.merge(def.Model, state)
	return nil
}

func (s *shell) get(def *converter.Definition, args []string) error {
	ctx, cancel := context.WithTimeout(context.Background(), callTimeout)
	defer cancel()
	ep, _ := s.target()
	err := def.Get(ctx, ep, args[0], &converter.Meta{Device: shellIEEE, State: s.state[def.Model]})
	s.printCalls(ep)
	return err
}

func (s *shell) configure(def *converter.Definition, _ []string) error {
	if def.Configure == nil {
		fmt.Fprintln(s.out, "no configure hook")
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), callTimeout)
	defer cancel()
	ep, dev := s.target()
	coordinator := convertertest.NewEndpoint(1)
	err := def.Configure(ctx, dev, coordinator, s.logger)
	s.printCalls(ep)
	return err
}

func (s *shell) setOptions(def *converter.Definition, args []string) error {
	opts := s.options[def.Model]
	for _, kv := range args {
		k, v, ok := strings.Cut(kv, "=")
		if !ok {
			return fmt.Errorf("%q: expected <key>=<value>", kv)
		}
		o, found := exposes.Find(def.Options, k)
		if !found {
			return fmt.Errorf("option %s: %w", k, converter.ErrUnknownKey)
		}
		value := parseValue(v)
		if err := o.Validate(value); err != nil {
			return err
		}
		opts = opts.Merge(converter.Options{k: value})
	}
	s.options[def.Model] = opts
	pretty.Fprintf(s.out, "%# v\n", opts)
	return nil
}

func (s *shell) showState(def *converter.Definition, _ []string) error {
	s.printState(s.state[def.Model])
	return nil
}

func (s *shell) validate() error {
	var errs []error
	for _, def := range s.defs.All() {
		if err := def.Validate(); err != nil {
			fmt.Fprintf(s.out, "%-20s FAIL %v\n", def.Model, err)
			errs = append(errs, err)
			continue
		}
		fmt.Fprintf(s.out, "%-20s ok\n", def.Model)
	}
	return errors.Join(errs...)
}

func (s *shell) merge(model string, state converter.State) {
	if len(state) == 0 {
		return
	}
	if s.state[model] == nil {
		s.state[model] = converter.State{}
	}
	s.state[model].Merge(state)
}

func (s *shell) printState(state converter.State) {
	if len(state) == 0 {
		fmt.Fprintln(s.out, "{}")
		return
	}
	for _, k := range slices.Sorted(maps.Keys(state)) {
		fmt.Fprintf(s.out, "%s: %v\n", k, state[k])
	}
}

func (s *shell) printCalls(ep *convertertest.Endpoint) {
	for _, c := range ep.Calls() {
		fmt.Fprintln(s.out, c.String())
	}
}
