// Package backend holds the Backend identity type and its registry (spec §3
// "Backend", §4 "Backend registry"). Backends are immutable once created;
// mutation means remove-and-recreate through the control plane.
package backend

import (
	"fmt"
	"net"
)

// Backend is the immutable identity of a broker endpoint. The zero value is
// not meaningful; construct with New.
type Backend struct {
	Name           string
	Datacenter     string
	Host           string
	IP             net.IP
	Port           uint16
	ProxyProtocol  bool
	TLSEnabled     bool
}

// New validates and constructs a Backend. IP may be nil if the host has not
// been resolved yet; the DNS cache fills it in at connect time.
func New(name, datacenter, host string, port uint16, proxyProtocol, tlsEnabled bool) (*Backend, error) {
	if name == "" {
		return nil, fmt.Errorf("backend: name must not be empty")
	}
	if host == "" {
		return nil, fmt.Errorf("backend: host must not be empty")
	}
	if port == 0 {
		return nil, fmt.Errorf("backend: invalid port %d", port)
	}
	return &Backend{
		Name:          name,
		Datacenter:    datacenter,
		Host:          host,
		Port:          port,
		ProxyProtocol: proxyProtocol,
		TLSEnabled:    tlsEnabled,
	}, nil
}

// Address returns the dial target "host:port".
func (b *Backend) Address() string {
	return fmt.Sprintf("%s:%d", b.Host, b.Port)
}

func (b *Backend) String() string {
	return fmt.Sprintf("%s(%s@%s:%d)", b.Name, b.Datacenter, b.Host, b.Port)
}
