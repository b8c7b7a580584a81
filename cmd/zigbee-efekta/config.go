package main

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"

	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"

	"zigbee-efekta/internal/converter"
	"zigbee-efekta/internal/ncp"
)

// Config is read from YAML, then overridden from EFEKTA_* environment
// variables so secrets can stay out of the file, e.g.
// EFEKTA_MQTT_PASSWORD or EFEKTA_NETWORK_NETWORK_KEY.
type Config struct {
	NCP struct {
		Port string `yaml:"port"`
		Baud int    `yaml:"baud"`
	} `yaml:"ncp"`
	Network struct {
		Channel    uint8  `yaml:"channel"`
		PanID      uint16 `yaml:"pan_id" split_words:"true"`
		ExtPanID   string `yaml:"extended_pan_id" split_words:"true"`
		NetworkKey string `yaml:"network_key" split_words:"true"`
	} `yaml:"network"`
	Web struct {
		Listen         string   `yaml:"listen"`
		APIKey         string   `yaml:"api_key" split_words:"true"`
		AllowedOrigins []string `yaml:"allowed_origins" split_words:"true"`
		MDNS           bool     `yaml:"mdns"`
		MDNSName       string   `yaml:"mdns_name" split_words:"true"`
	} `yaml:"web"`
	Store struct {
		Path string `yaml:"path"`
	} `yaml:"store"`
	MQTT struct {
		Enabled     bool   `yaml:"enabled"`
		Broker      string `yaml:"broker"`
		Username    string `yaml:"username"`
		Password    string `yaml:"password"`
		ClientID    string `yaml:"client_id" split_words:"true"`
		TopicPrefix string `yaml:"topic_prefix" split_words:"true"`
		Discovery   bool   `yaml:"homeassistant"`
	} `yaml:"mqtt"`
	Log struct {
		Level  string `yaml:"level"`
		Format string `yaml:"format"`
	} `yaml:"log"`
	// DefinitionsDir holds external definition files.
	DefinitionsDir string `yaml:"definitions_dir" split_words:"true"`
	// Options are per-model converter option defaults, e.g.
	// EFEKTA_TH_v2_LR: {temperature_precision: 1}.
	Options map[string]converter.Options `yaml:"options" ignored:"true"`
}

func (c *Config) validate() error {
	if c.NCP.Port == "" {
		return fmt.Errorf("ncp.port is required")
	}
	if c.Network.Channel < 11 || c.Network.Channel > 26 {
		return fmt.Errorf("network.channel must be 11-26, got %d", c.Network.Channel)
	}
	if c.Network.PanID == 0 || c.Network.PanID == 0xFFFF {
		return fmt.Errorf("network.pan_id must not be 0x0000 or 0xFFFF")
	}
	if _, err := parseExtPanID(c.Network.ExtPanID); err != nil {
		return err
	}
	if c.Network.NetworkKey != "" {
		if _, err := parseNetworkKey(c.Network.NetworkKey); err != nil {
			return err
		}
	}
	if c.MQTT.Enabled && c.MQTT.Broker == "" {
		return fmt.Errorf("mqtt.broker is required when mqtt is enabled")
	}
	if c.Web.MDNS {
		if _, err := listenPort(c.Web.Listen); err != nil {
			return err
		}
	}
	return nil
}

func loadConfig(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	defer f.Close()

	var cfg Config
	if err := yaml.NewDecoder(f).Decode(&cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if err := envconfig.Process("EFEKTA", &cfg); err != nil {
		return nil, fmt.Errorf("environment config: %w", err)
	}

	if cfg.Web.Listen == "" {
		cfg.Web.Listen = "127.0.0.1:8080"
	}
	if cfg.Web.MDNSName == "" {
		cfg.Web.MDNSName = "zigbee-efekta"
	}
	if cfg.Store.Path == "" {
		cfg.Store.Path = "zigbee-efekta.db"
	}
	if cfg.NCP.Baud == 0 {
		cfg.NCP.Baud = 115200
	}
	if cfg.MQTT.TopicPrefix == "" {
		cfg.MQTT.TopicPrefix = "zigbee2mqtt"
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = "text"
	}
	return &cfg, nil
}

// networkConfig builds the radio parameters. storedKey is the hex key of
// a previously formed network; a fresh key is generated when neither the
// config nor the store has one.
func (c *Config) networkConfig(storedKey string) (ncp.NetworkConfig, error) {
	nc := ncp.NetworkConfig{Channel: c.Network.Channel, PanID: c.Network.PanID}
	ext, err := parseExtPanID(c.Network.ExtPanID)
	if err != nil {
		return nc, err
	}
	nc.ExtPanID = ext

	key := c.Network.NetworkKey
	if key == "" {
		key = storedKey
	}
	if key == "" {
		if _, err := rand.Read(nc.NetworkKey[:]); err != nil {
			return nc, fmt.Errorf("generate network key: %w", err)
		}
		return nc, nil
	}
	nc.NetworkKey, err = parseNetworkKey(key)
	return nc, err
}

// parseExtPanID accepts 16 hex digits with an optional 0x prefix. Empty
// means zero.
func parseExtPanID(s string) (uint64, error) {
	if s == "" {
		return 0, nil
	}
	v, err := strconv.ParseUint(strings.TrimPrefix(strings.ToLower(s), "0x"), 16, 64)
	if err != nil {
		return 0, fmt.Errorf("network.extended_pan_id %q: %w", s, err)
	}
	return v, nil
}

func parseNetworkKey(s string) ([16]byte, error) {
	var key [16]byte
	b, err := hex.DecodeString(strings.ReplaceAll(s, ":", ""))
	if err != nil || len(b) != len(key) {
		return key, fmt.Errorf("network.network_key must be 16 bytes of hex")
	}
	copy(key[:], b)
	return key, nil
}

func listenPort(addr string) (int, error) {
	_, port, err := net.SplitHostPort(addr)
	if err != nil {
		return 0, fmt.Errorf("web.listen %q: %w", addr, err)
	}
	p, err := strconv.Atoi(port)
	if err != nil || p == 0 {
		return 0, fmt.Errorf("web.listen %q: mdns needs a fixed port", addr)
	}
	return p, nil
}
