package converter

import (
	"context"
	"log/slog"
)

// AttributeValue is one record of a cluster write.
type AttributeValue struct {
	ID    uint16
	Type  uint8
	Value any
}

// ReportingItem is one record of a Configure Reporting request.
// Change is ignored by the host for discrete attribute types.
type ReportingItem struct {
	Attribute uint16
	Type      uint8
	Min       uint16
	Max       uint16
	Change    int64
}

// Endpoint is the host's handle on one application endpoint. Clusters are
// addressed by symbolic name; the host resolves them to IDs. Calls block until
// the radio acknowledges or ctx ends. Read results flow back through the
// decoders as ReadResponse messages.
type Endpoint interface {
	ID() uint8
	Bind(ctx context.Context, cluster string, target Endpoint) error
	ConfigureReporting(ctx context.Context, cluster string, items []ReportingItem) error
	Write(ctx context.Context, cluster string, attrs []AttributeValue) error
	Read(ctx context.Context, cluster string, attrs []uint16) error
	Command(ctx context.Context, cluster, command string, payload []byte) error
}

// Device is the host's handle on a paired device.
type Device interface {
	IEEEAddress() string
	Endpoint(id uint8) (Endpoint, error)
}

// ConfigureFunc runs once when a device is first bound.
type ConfigureFunc func(ctx context.Context, dev Device, coordinator Endpoint, logger *slog.Logger) error
