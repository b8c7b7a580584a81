// Package ncp defines the interface for the Zigbee Network Co-Processor backend.
// Backend: Texas Instruments Z-Stack (CC253x/CC26x2) over a serial port.
package ncp

import (
	"context"
	"fmt"
	"strconv"
	"strings"
)

// NCP is the abstract interface for a Zigbee coordinator radio.
// Devices are addressed by IEEE address; the backend tracks network addresses.
type NCP interface {
	// Network management
	Start(ctx context.Context, cfg NetworkConfig) error
	PermitJoin(ctx context.Context, duration uint8) error
	NetworkInfo() *NetworkInfo

	// ZDO
	ActiveEndpoints(ctx context.Context, ieee uint64) ([]uint8, error)
	Bind(ctx context.Context, req BindRequest) error
	RemoveDevice(ctx context.Context, ieee uint64) error

	// ZCL
	ReadAttributes(ctx context.Context, req ReadAttributesRequest) ([]AttributeResponse, error)
	WriteAttributes(ctx context.Context, req WriteAttributesRequest) error
	SendCommand(ctx context.Context, req ClusterCommandRequest) error
	ConfigureReporting(ctx context.Context, req ConfigureReportingRequest) error

	// Indication callbacks
	OnDeviceJoined(handler func(DeviceJoinedEvent))
	OnDeviceLeft(handler func(DeviceLeftEvent))
	OnDeviceAnnounce(handler func(DeviceAnnounceEvent))
	OnAttributeReport(handler func(AttributeReportEvent))

	// Lifecycle
	Close() error
}

// NetworkConfig holds parameters for network formation or resume.
type NetworkConfig struct {
	Channel    uint8
	PanID      uint16
	ExtPanID   uint64
	NetworkKey [16]byte
}

// NetworkInfo holds current network state.
type NetworkInfo struct {
	Channel    uint8  `json:"channel"`
	PanID      uint16 `json:"pan_id"`
	ExtPanID   uint64 `json:"ext_pan_id"`
	PermitJoin bool   `json:"permit_join"`
}

// BindRequest binds a device cluster to the coordinator endpoint.
type BindRequest struct {
	IEEE      uint64
	SrcEP     uint8
	ClusterID uint16
	DstEP     uint8
}

// ReadAttributesRequest specifies which attributes to read.
type ReadAttributesRequest struct {
	IEEE      uint64
	DstEP     uint8
	ClusterID uint16
	AttrIDs   []uint16
}

// AttributeResponse holds a single attribute read result.
type AttributeResponse struct {
	AttrID   uint16
	Status   uint8
	DataType uint8
	Value    []byte
}

// WriteAttributesRequest specifies attributes to write.
type WriteAttributesRequest struct {
	IEEE      uint64
	DstEP     uint8
	ClusterID uint16
	Records   []WriteRecord
}

// WriteRecord is a single attribute write.
type WriteRecord struct {
	AttrID   uint16
	DataType uint8
	Value    []byte
}

// ClusterCommandRequest sends a cluster-specific command.
type ClusterCommandRequest struct {
	IEEE      uint64
	DstEP     uint8
	ClusterID uint16
	CommandID uint8
	Payload   []byte
}

// ConfigureReportingRequest sets up attribute reporting.
// ReportChange is nil for discrete data types.
type ConfigureReportingRequest struct {
	IEEE         uint64
	DstEP        uint8
	ClusterID    uint16
	AttrID       uint16
	DataType     uint8
	MinInterval  uint16
	MaxInterval  uint16
	ReportChange []byte
}

// DeviceJoinedEvent is emitted when a device joins the network.
type DeviceJoinedEvent struct {
	ShortAddr uint16
	IEEE      uint64
}

// DeviceLeftEvent is emitted when a device leaves.
type DeviceLeftEvent struct {
	ShortAddr uint16
	IEEE      uint64
}

// DeviceAnnounceEvent is emitted on device announce or rejoin.
type DeviceAnnounceEvent struct {
	ShortAddr uint16
	IEEE      uint64
}

// AttributeRecord is one attribute carried by a report.
type AttributeRecord struct {
	AttrID   uint16
	DataType uint8
	Value    []byte
}

// AttributeReportEvent is emitted for unsolicited attribute reports.
type AttributeReportEvent struct {
	IEEE      uint64
	SrcEP     uint8
	ClusterID uint16
	Records   []AttributeRecord
	LQI       uint8
}

// FormatIEEE renders an IEEE address the way zigbee2mqtt does (0x00124b...).
func FormatIEEE(ieee uint64) string {
	return fmt.Sprintf("0x%016x", ieee)
}

// ParseIEEE accepts 0x-prefixed or bare hex, with optional colons.
func ParseIEEE(s string) (uint64, error) {
	h := strings.TrimPrefix(strings.ToLower(strings.ReplaceAll(s, ":", "")), "0x")
	if len(h) != 16 {
		return 0, fmt.Errorf("invalid IEEE address %q: need 16 hex digits", s)
	}
	v, err := strconv.ParseUint(h, 16, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid IEEE address %q: %w", s, err)
	}
	return v, nil
}
