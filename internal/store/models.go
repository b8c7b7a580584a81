package store

import "time"

// Device is a paired end device and the state decoded from its reports.
type Device struct {
	IEEEAddress  string `json:"ieee_address"`
	ShortAddress uint16 `json:"network_address"`
	FriendlyName string `json:"friendly_name,omitempty"`
	// ZigbeeModel and Manufacturer are what genBasic reported during interview.
	ZigbeeModel  string `json:"zigbee_model,omitempty"`
	Manufacturer string `json:"manufacturer,omitempty"`
	// Model is the definition the device was matched to; empty if unsupported.
	Model       string         `json:"model,omitempty"`
	Supported   bool           `json:"supported"`
	Interviewed bool           `json:"interviewed"`
	Configured  bool           `json:"configured"`
	Endpoints   []uint8        `json:"endpoints,omitempty"`
	JoinedAt    time.Time      `json:"joined_at"`
	LastSeen    time.Time      `json:"last_seen"`
	LQI         uint8          `json:"linkquality,omitempty"`
	State       map[string]any `json:"state,omitempty"`
	// Options tune converters per device (calibration, precision).
	Options map[string]any `json:"options,omitempty"`
}

// Name returns the friendly name, or the IEEE address if none is set.
func (d *Device) Name() string {
	if d.FriendlyName != "" {
		return d.FriendlyName
	}
	return d.IEEEAddress
}

// NetworkState holds persisted network configuration.
// NetworkKey is hidden from API/JSON serialization via json:"-".
type NetworkState struct {
	Channel    uint8  `json:"channel"`
	PanID      uint16 `json:"pan_id"`
	ExtPanID   string `json:"ext_pan_id"`
	NetworkKey string `json:"-"`
	Formed     bool   `json:"formed"`
}

// networkStateRecord is the on-disk form, which keeps the key.
type networkStateRecord struct {
	Channel    uint8  `json:"channel"`
	PanID      uint16 `json:"pan_id"`
	ExtPanID   string `json:"ext_pan_id"`
	NetworkKey string `json:"network_key,omitempty"`
	Formed     bool   `json:"formed"`
}
