package coordinator

import (
	"context"
	"errors"
	"fmt"
	"slices"

	"zigbee-efekta/internal/converter"
	"zigbee-efekta/internal/ncp"
	"zigbee-efekta/internal/store"
	"zigbee-efekta/internal/zcl"
)

// coordinatorEndpoint is the local endpoint devices bind their reports to.
const coordinatorEndpoint = 1

// remoteEndpoint implements converter.Endpoint over the NCP, resolving
// cluster and command names through the ZCL registry.
type remoteEndpoint struct {
	c    *Coordinator
	ieee uint64
	id   uint8
}

func (e *remoteEndpoint) ID() uint8 { return e.id }

func (e *remoteEndpoint) cluster(name string) (*zcl.ClusterDef, error) {
	def, err := e.c.clusters.Resolve(name)
	if err != nil {
		return nil, fmt.Errorf("%s ep %d: %w", ncp.FormatIEEE(e.ieee), e.id, err)
	}
	return def, nil
}

func (e *remoteEndpoint) Bind(ctx context.Context, cluster string, target converter.Endpoint) error {
	cl, err := e.cluster(cluster)
	if err != nil {
		return err
	}
	return e.c.ncp.Bind(ctx, ncp.BindRequest{
		IEEE:      e.ieee,
		SrcEP:     e.id,
		ClusterID: cl.ID,
		DstEP:     target.ID(),
	})
}

func (e *remoteEndpoint) ConfigureReporting(ctx context.Context, cluster string, items []converter.ReportingItem) error {
	cl, err := e.cluster(cluster)
	if err != nil {
		return err
	}
	for _, it := range items {
		var change []byte
		if zcl.IsAnalog(it.Type) {
			if change, err = zcl.EncodeValue(it.Type, it.Change); err != nil {
				return fmt.Errorf("reportable change for %s/0x%04X: %w", cluster, it.Attribute, err)
			}
		}
		err := e.c.ncp.ConfigureReporting(ctx, ncp.ConfigureReportingRequest{
			IEEE:         e.ieee,
			DstEP:        e.id,
			ClusterID:    cl.ID,
			AttrID:       it.Attribute,
			DataType:     it.Type,
			MinInterval:  it.Min,
			MaxInterval:  it.Max,
			ReportChange: change,
		})
		if err != nil {
			return fmt.Errorf("configure reporting %s/0x%04X: %w", cluster, it.Attribute, err)
		}
	}
	return nil
}

func (e *remoteEndpoint) Write(ctx context.Context, cluster string, attrs []converter.AttributeValue) error {
	cl, err := e.cluster(cluster)
	if err != nil {
		return err
	}
	records := make([]ncp.WriteRecord, 0, len(attrs))
	for _, a := range attrs {
		raw, err := zcl.EncodeValue(a.Type, a.Value)
		if err != nil {
			return fmt.Errorf("write %s/0x%04X: %w: %w", cluster, a.ID, converter.ErrInvalidValue, err)
		}
		records = append(records, ncp.WriteRecord{AttrID: a.ID, DataType: a.Type, Value: raw})
	}
	return e.c.ncp.WriteAttributes(ctx, ncp.WriteAttributesRequest{
		IEEE:      e.ieee,
		DstEP:     e.id,
		ClusterID: cl.ID,
		Records:   records,
	})
}

// Read issues a Read Attributes request and feeds the response through the
// device's decoders as a ReadResponse message.
func (e *remoteEndpoint) Read(ctx context.Context, cluster string, attrs []uint16) error {
	cl, err := e.cluster(cluster)
	if err != nil {
		return err
	}
	resp, err := e.c.ncp.ReadAttributes(ctx, ncp.ReadAttributesRequest{
		IEEE:      e.ieee,
		DstEP:     e.id,
		ClusterID: cl.ID,
		AttrIDs:   attrs,
	})
	if err != nil {
		return fmt.Errorf("read %s: %w", cluster, err)
	}

	data := make(map[uint16]any, len(resp))
	var errs []error
	for _, r := range resp {
		if err := zcl.CheckStatus(r.AttrID, r.Status); err != nil {
			errs = append(errs, err)
			continue
		}
		v, _, err := zcl.DecodeValue(r.DataType, r.Value)
		if err != nil {
			errs = append(errs, fmt.Errorf("attribute 0x%04X: %w", r.AttrID, err))
			continue
		}
		data[r.AttrID] = v
	}
	if len(data) > 0 {
		e.c.devices.handleMessage(ncp.FormatIEEE(e.ieee), &converter.Message{
			Cluster:  cl.Name,
			Type:     converter.ReadResponse,
			Endpoint: e.id,
			Data:     data,
		})
	}
	return errors.Join(errs...)
}

func (e *remoteEndpoint) Command(ctx context.Context, cluster, command string, payload []byte) error {
	cl, err := e.cluster(cluster)
	if err != nil {
		return err
	}
	cmd := cl.FindCommand(command)
	if cmd == nil {
		return fmt.Errorf("cluster %s has no command %q: %w", cluster, command, converter.ErrNotSupported)
	}
	return e.c.ncp.SendCommand(ctx, ncp.ClusterCommandRequest{
		IEEE:      e.ieee,
		DstEP:     e.id,
		ClusterID: cl.ID,
		CommandID: cmd.ID,
		Payload:   payload,
	})
}

// localEndpoint stands for the coordinator's own endpoint. It is only ever a
// bind target; every request against it is unsupported.
type localEndpoint uint8

func (l localEndpoint) ID() uint8 { return uint8(l) }

func (localEndpoint) Bind(context.Context, string, converter.Endpoint) error {
	return converter.ErrNotSupported
}

func (localEndpoint) ConfigureReporting(context.Context, string, []converter.ReportingItem) error {
	return converter.ErrNotSupported
}

func (localEndpoint) Write(context.Context, string, []converter.AttributeValue) error {
	return converter.ErrNotSupported
}

func (localEndpoint) Read(context.Context, string, []uint16) error {
	return converter.ErrNotSupported
}

func (localEndpoint) Command(context.Context, string, string, []byte) error {
	return converter.ErrNotSupported
}

// remoteDevice implements converter.Device for a stored device.
type remoteDevice struct {
	c         *Coordinator
	ieee      uint64
	endpoints []uint8
}

func (c *Coordinator) remoteDevice(dev *store.Device) (*remoteDevice, error) {
	ieee, err := ncp.ParseIEEE(dev.IEEEAddress)
	if err != nil {
		return nil, err
	}
	return &remoteDevice{c: c, ieee: ieee, endpoints: dev.Endpoints}, nil
}

func (d *remoteDevice) IEEEAddress() string { return ncp.FormatIEEE(d.ieee) }

// Endpoint returns a handle on id. Before the endpoint list is known every
// id is accepted.
func (d *remoteDevice) Endpoint(id uint8) (converter.Endpoint, error) {
	if len(d.endpoints) > 0 && !slices.Contains(d.endpoints, id) {
		return nil, fmt.Errorf("%s has no endpoint %d", d.IEEEAddress(), id)
	}
	return &remoteEndpoint{c: d.c, ieee: d.ieee, id: id}, nil
}

// defaultEndpoint is the endpoint set/get requests go to.
func (d *remoteDevice) defaultEndpoint() (converter.Endpoint, error) {
	if len(d.endpoints) == 0 {
		return d.Endpoint(1)
	}
	return d.Endpoint(d.endpoints[0])
}
