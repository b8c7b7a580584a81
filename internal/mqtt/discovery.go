//go:build !no_mqtt

package mqtt

import (
	"fmt"
	"strings"

	"zigbee-efekta/internal/converter"
	"zigbee-efekta/internal/converter/exposes"
	"zigbee-efekta/internal/store"
)

const discoveryPrefix = "homeassistant"

// discoveryMsg is a Home Assistant MQTT discovery payload.
type discoveryMsg struct {
	Topic   string // e.g. "homeassistant/sensor/0x00124b0001020304/temperature/config"
	Payload []byte // JSON, empty means delete
}

// haDevice is the "device" block in HA discovery.
type haDevice struct {
	Identifiers  []string `json:"identifiers"`
	Manufacturer string   `json:"manufacturer,omitempty"`
	Model        string   `json:"model,omitempty"`
	Name         string   `json:"name"`
}

// haDiscovery is a generic HA discovery payload.
type haDiscovery struct {
	Name              string   `json:"name"`
	UniqueID          string   `json:"unique_id"`
	ObjectID          string   `json:"object_id"`
	StateTopic        string   `json:"state_topic"`
	CommandTopic      string   `json:"command_topic,omitempty"`
	CommandTemplate   string   `json:"command_template,omitempty"`
	AvailabilityTopic string   `json:"availability_topic"`
	ValueTemplate     string   `json:"value_template,omitempty"`
	UnitOfMeasurement string   `json:"unit_of_measurement,omitempty"`
	DeviceClass       string   `json:"device_class,omitempty"`
	StateClass        string   `json:"state_class,omitempty"`
	EntityCategory    string   `json:"entity_category,omitempty"`
	PayloadOn         any      `json:"payload_on,omitempty"`
	PayloadOff        any      `json:"payload_off,omitempty"`
	Min               *float64 `json:"min,omitempty"`
	Max               *float64 `json:"max,omitempty"`
	Options           []string `json:"options,omitempty"`
	Device            haDevice `json:"device"`
}

// deviceClasses maps well-known properties to HA sensor device classes.
var deviceClasses = map[string]string{
	"temperature": "temperature",
	"humidity":    "humidity",
	"battery":     "battery",
	"voltage":     "voltage",
	"battery_low": "battery",
}

// deviceDisplayName returns a display name for the device.
func deviceDisplayName(dev *store.Device) string {
	if dev.FriendlyName != "" {
		return dev.FriendlyName
	}
	if dev.Model != "" {
		return dev.Model + " " + dev.IEEEAddress
	}
	return dev.IEEEAddress
}

// label turns a property into an entity name: high_temp -> "High temp".
func label(property string) string {
	s := strings.ReplaceAll(property, "_", " ")
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}

// buildDiscovery generates HA discovery messages for a device from the
// exposes of its definition. Unsupported devices only get link quality.
func buildDiscovery(dev *store.Device, def *converter.Definition, prefix string) []discoveryMsg {
	if !dev.Interviewed {
		return nil
	}

	nodeID := dev.IEEEAddress
	stateTopic := prefix + "/" + dev.Name()
	base := haDiscovery{
		StateTopic:        stateTopic,
		AvailabilityTopic: prefix + "/bridge/state",
		Device: haDevice{
			Identifiers:  []string{"zigbee2mqtt_" + nodeID},
			Manufacturer: dev.Manufacturer,
			Model:        dev.ZigbeeModel,
			Name:         deviceDisplayName(dev),
		},
	}
	if def != nil {
		base.Device.Manufacturer = def.Vendor
		base.Device.Model = fmt.Sprintf("%s (%s)", def.Description, def.Model)
	}

	var msgs []discoveryMsg
	if def != nil {
		for i := range def.Exposes {
			if m, ok := exposeDiscovery(&def.Exposes[i], base, nodeID, objectBase(dev), prefix+"/"+dev.Name()+"/set"); ok {
				msgs = append(msgs, m)
			}
		}
	}

	// No device_class: "signal_strength" requires dB/dBm units, but LQI is unitless.
	lqi := base
	lqi.Name = deviceDisplayName(dev) + " Linkquality"
	lqi.UniqueID = nodeID + "_linkquality_zigbee2mqtt"
	lqi.ObjectID = objectBase(dev) + "_linkquality"
	lqi.ValueTemplate = "{{ value_json.linkquality }}"
	lqi.UnitOfMeasurement = "lqi"
	lqi.StateClass = "measurement"
	lqi.EntityCategory = "diagnostic"
	msgs = append(msgs, discoveryMsg{
		Topic:   fmt.Sprintf("%s/sensor/%s/linkquality/config", discoveryPrefix, nodeID),
		Payload: mustJSON(lqi),
	})
	return msgs
}

// objectBase is the entity ID prefix HA derives from the friendly name.
func objectBase(dev *store.Device) string {
	return strings.Map(func(r rune) rune {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') || r == '_' {
			return r
		}
		return '_'
	}, strings.ToLower(dev.Name()))
}

// exposeDiscovery maps one expose to an HA component: read-only numerics
// and enums become sensors, read-only binaries binary sensors, settable
// numerics numbers, settable binaries switches and settable enums selects.
func exposeDiscovery(e *exposes.Expose, base haDiscovery, nodeID, objBase, commandTopic string) (discoveryMsg, bool) {
	p := base
	p.Name = base.Device.Name + " " + label(e.Property)
	p.UniqueID = nodeID + "_" + e.Property + "_zigbee2mqtt"
	p.ObjectID = objBase + "_" + e.Property
	p.ValueTemplate = "{{ value_json." + e.Property + " }}"
	p.UnitOfMeasurement = e.Unit

	settable := e.Access.CanSet()
	if settable {
		p.CommandTopic = commandTopic
		p.EntityCategory = "config"
	}

	var component string
	switch e.Type {
	case exposes.KindNumeric:
		if settable {
			component = "number"
			p.Min, p.Max = e.ValueMin, e.ValueMax
			p.CommandTemplate = `{"` + e.Property + `": {{ value }}}`
		} else {
			component = "sensor"
			p.DeviceClass = deviceClasses[e.Property]
			p.StateClass = "measurement"
		}
	case exposes.KindBinary:
		p.PayloadOn, p.PayloadOff = e.ValueOn, e.ValueOff
		if settable {
			component = "switch"
			p.CommandTemplate = `{"` + e.Property + `": "{{ value }}"}`
		} else {
			component = "binary_sensor"
			p.DeviceClass = deviceClasses[e.Property]
		}
	case exposes.KindEnum:
		if settable {
			component = "select"
			p.Options = e.Values
			p.CommandTemplate = `{"` + e.Property + `": "{{ value }}"}`
		} else {
			component = "sensor"
		}
	default:
		return discoveryMsg{}, false
	}

	return discoveryMsg{
		Topic:   fmt.Sprintf("%s/%s/%s/%s/config", discoveryPrefix, component, nodeID, e.Property),
		Payload: mustJSON(p),
	}, true
}

// removeDiscovery generates empty retained messages for previously
// published discovery topics.
func removeDiscovery(topics []string) []discoveryMsg {
	msgs := make([]discoveryMsg, 0, len(topics))
	for _, t := range topics {
		msgs = append(msgs, discoveryMsg{Topic: t})
	}
	return msgs
}
