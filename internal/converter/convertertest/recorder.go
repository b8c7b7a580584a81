// Package convertertest provides an in-memory endpoint that records every
// request a definition issues.
package convertertest

import (
	"context"
	"fmt"
	"sync"

	"zigbee-efekta/internal/converter"
)

// Call is one recorded request.
type Call struct {
	Op      string // bind, configure, write, read, command
	Cluster string
	Target  uint8
	Attrs   []converter.AttributeValue
	Reads   []uint16
	Items   []converter.ReportingItem
	Command string
}

func (c Call) String() string {
	switch c.Op {
	case "bind":
		return fmt.Sprintf("bind %s -> ep%d", c.Cluster, c.Target)
	case "configure":
		return fmt.Sprintf("configure %s %+v", c.Cluster, c.Items)
	case "write":
		return fmt.Sprintf("write %s %+v", c.Cluster, c.Attrs)
	case "read":
		return fmt.Sprintf("read %s %04X", c.Cluster, c.Reads)
	}
	return fmt.Sprintf("command %s %s", c.Cluster, c.Command)
}

// Endpoint records calls. Fail, when set, is returned by every call whose
// Op matches FailOp (or by every call if FailOp is empty).
type Endpoint struct {
	EP     uint8
	Fail   error
	FailOp string

	mu    sync.Mutex
	calls []Call
}

func NewEndpoint(id uint8) *Endpoint { return &Endpoint{EP: id} }

func (e *Endpoint) ID() uint8 { return e.EP }

func (e *Endpoint) record(c Call) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.Fail != nil && (e.FailOp == "" || e.FailOp == c.Op) {
		return e.Fail
	}
	e.calls = append(e.calls, c)
	return nil
}

func (e *Endpoint) Bind(_ context.Context, cluster string, target converter.Endpoint) error {
	return e.record(Call{Op: "bind", Cluster: cluster, Target: target.ID()})
}

func (e *Endpoint) ConfigureReporting(_ context.Context, cluster string, items []converter.ReportingItem) error {
	return e.record(Call{Op: "configure", Cluster: cluster, Items: items})
}

func (e *Endpoint) Write(_ context.Context, cluster string, attrs []converter.AttributeValue) error {
	return e.record(Call{Op: "write", Cluster: cluster, Attrs: attrs})
}

func (e *Endpoint) Read(_ context.Context, cluster string, attrs []uint16) error {
	return e.record(Call{Op: "read", Cluster: cluster, Reads: attrs})
}

func (e *Endpoint) Command(_ context.Context, cluster, command string, _ []byte) error {
	return e.record(Call{Op: "command", Cluster: cluster, Command: command})
}

// Calls returns a copy of the recorded calls.
func (e *Endpoint) Calls() []Call {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]Call(nil), e.calls...)
}

// Reset forgets recorded calls.
func (e *Endpoint) Reset() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.calls = nil
}

// Device is a single-endpoint device.
type Device struct {
	IEEE string
	EP   *Endpoint
}

func (d *Device) IEEEAddress() string { return d.IEEE }

func (d *Device) Endpoint(id uint8) (converter.Endpoint, error) {
	if d.EP == nil || d.EP.EP != id {
		return nil, fmt.Errorf("device %s: no endpoint %d", d.IEEE, id)
	}
	return d.EP, nil
}
