package api

import (
	"fmt"
	"net"
	"os"
	"strconv"

	"github.com/grandcat/zeroconf"
	"github.com/rs/zerolog/log"
)

// ServiceType is the mDNS service type the API is advertised under
const ServiceType = "_btprint._tcp"

// Advertiser announces the API on the local network
type Advertiser struct {
	server *zeroconf.Server
}

// Advertise registers the API listening on listen with mDNS
func Advertise(listen string, version string) (*Advertiser, error) {
	_, portStr, err := net.SplitHostPort(listen)
	if err != nil {
		return nil, fmt.Errorf("invalid listen address %q: %w", listen, err)
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return nil, fmt.Errorf("invalid listen port %q: %w", portStr, err)
	}

	instance := "btprint"
	if host, err := os.Hostname(); err == nil && host != "" {
		instance = "btprint-" + host
	}

	server, err := zeroconf.Register(instance, ServiceType, "local.", port,
		[]string{"version=" + version}, nil)
	if err != nil {
		return nil, fmt.Errorf("mdns register: %w", err)
	}

	log.Info().
		Str("instance", instance).
		Int("port", port).
		Str("type", ServiceType).
		Msg("mDNS service advertising started")

	return &Advertiser{server: server}, nil
}

// Stop sends goodbye packets and stops advertising
func (a *Advertiser) Stop() {
	if a == nil || a.server == nil {
		return
	}
	a.server.Shutdown()
	a.server = nil
}
