package web

import (
	"fmt"
	"log/slog"

	"github.com/enbility/zeroconf/v3"
)

const (
	mdnsService = "_zigbee-efekta._tcp"
	mdnsDomain  = "local."
)

// Advertiser announces the HTTP API over mDNS.
type Advertiser struct {
	server *zeroconf.Server
	logger *slog.Logger
}

// Advertise registers instance on port with the API version in its TXT
// record. A nil interface list means every multicast interface.
func Advertise(instance string, port int, version string, logger *slog.Logger) (*Advertiser, error) {
	txt := []string{"version=" + version, "path=/api"}
	server, err := zeroconf.Register(instance, mdnsService, mdnsDomain, port, txt, nil, zeroconf.TTL(120))
	if err != nil {
		return nil, fmt.Errorf("mdns register: %w", err)
	}
	logger.Info("mdns advertising", "instance", instance, "service", mdnsService, "port", port)
	return &Advertiser{server: server, logger: logger}, nil
}

// Shutdown withdraws the announcement.
func (a *Advertiser) Shutdown() {
	if a == nil || a.server == nil {
		return
	}
	a.server.Shutdown()
	a.logger.Debug("mdns stopped")
}
