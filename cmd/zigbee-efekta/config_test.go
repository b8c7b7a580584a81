package main

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

const baseConfig = `
ncp:
  port: /dev/ttyUSB0
network:
  channel: 15
  pan_id: 0x1A62
  extended_pan_id: "0xDDDDDDDDDDDDDDDD"
mqtt:
  enabled: true
  broker: tcp://localhost:1883
  password: from-file
options:
  EFEKTA_TH_v2_LR:
    temperature_precision: 1
`

func TestLoadConfigDefaults(t *testing.T) {
	cfg, err := loadConfig(writeConfig(t, baseConfig))
	if err != nil {
		t.Fatal(err)
	}
	if err := cfg.validate(); err != nil {
		t.Fatal(err)
	}
	if cfg.Web.Listen != "127.0.0.1:8080" || cfg.Store.Path != "zigbee-efekta.db" || cfg.NCP.Baud != 115200 {
		t.Errorf("defaults not applied: %+v", cfg)
	}
	if cfg.MQTT.TopicPrefix != "zigbee2mqtt" || cfg.Log.Level != "info" {
		t.Errorf("defaults not applied: %+v", cfg)
	}
	if cfg.Network.PanID != 0x1A62 {
		t.Errorf("pan id = %#x", cfg.Network.PanID)
	}
	if got := cfg.Options["EFEKTA_TH_v2_LR"]["temperature_precision"]; got != 1 {
		t.Errorf("model options = %v", cfg.Options)
	}
}

func TestLoadConfigEnvOverride(t *testing.T) {
	t.Setenv("EFEKTA_MQTT_PASSWORD", "from-env")
	t.Setenv("EFEKTA_MQTT_TOPIC_PREFIX", "efekta")
	t.Setenv("EFEKTA_WEB_API_KEY", "secret")
	t.Setenv("EFEKTA_NETWORK_CHANNEL", "20")

	cfg, err := loadConfig(writeConfig(t, baseConfig))
	if err != nil {
		t.Fatal(err)
	}
	if cfg.MQTT.Password != "from-env" || cfg.MQTT.TopicPrefix != "efekta" {
		t.Errorf("mqtt = %+v", cfg.MQTT)
	}
	if cfg.Web.APIKey != "secret" || cfg.Network.Channel != 20 {
		t.Errorf("web/network not overridden: %+v %+v", cfg.Web, cfg.Network)
	}
	if cfg.Store.Path != "zigbee-efekta.db" {
		t.Errorf("store path picked up an unrelated variable: %q", cfg.Store.Path)
	}
}

func TestLoadConfigErrors(t *testing.T) {
	if _, err := loadConfig(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("missing file accepted")
	}
	if _, err := loadConfig(writeConfig(t, "ncp: [")); err == nil {
		t.Error("bad yaml accepted")
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		modify func(*Config)
		want   string
	}{
		{"no port", func(c *Config) { c.NCP.Port = "" }, "ncp.port"},
		{"channel", func(c *Config) { c.Network.Channel = 27 }, "channel"},
		{"pan id", func(c *Config) { c.Network.PanID = 0xFFFF }, "pan_id"},
		{"ext pan id", func(c *Config) { c.Network.ExtPanID = "xyz" }, "extended_pan_id"},
		{"key", func(c *Config) { c.Network.NetworkKey = "0102" }, "network_key"},
		{"broker", func(c *Config) { c.MQTT.Broker = "" }, "mqtt.broker"},
		{"mdns port", func(c *Config) { c.Web.MDNS = true; c.Web.Listen = "127.0.0.1:0" }, "fixed port"},
	}
	for _, tt := range tests {
		cfg, err := loadConfig(writeConfig(t, baseConfig))
		if err != nil {
			t.Fatal(err)
		}
		tt.modify(cfg)
		err = cfg.validate()
		if err == nil || !strings.Contains(err.Error(), tt.want) {
			t.Errorf("%s: err = %v, want %q", tt.name, err, tt.want)
		}
	}
}

func TestNetworkConfig(t *testing.T) {
	cfg, err := loadConfig(writeConfig(t, baseConfig))
	if err != nil {
		t.Fatal(err)
	}

	nc, err := cfg.networkConfig("")
	if err != nil {
		t.Fatal(err)
	}
	if nc.Channel != 15 || nc.ExtPanID != 0xDDDDDDDDDDDDDDDD {
		t.Errorf("network = %+v", nc)
	}
	if nc.NetworkKey == [16]byte{} {
		t.Error("no key generated")
	}

	stored := "000102030405060708090a0b0c0d0e0f"
	nc, err = cfg.networkConfig(stored)
	if err != nil {
		t.Fatal(err)
	}
	if nc.NetworkKey[15] != 0x0f {
		t.Errorf("stored key not reused: %x", nc.NetworkKey)
	}

	cfg.Network.NetworkKey = "ff:01:02:03:04:05:06:07:08:09:0a:0b:0c:0d:0e:0f"
	nc, err = cfg.networkConfig(stored)
	if err != nil {
		t.Fatal(err)
	}
	if nc.NetworkKey[0] != 0xff {
		t.Errorf("configured key does not win: %x", nc.NetworkKey)
	}
}
