package control

import (
	"fmt"
	"sort"

	"github.com/amqpprox/amqpprox/internal/dnscache"
	"github.com/amqpprox/amqpprox/internal/resource"
)

// cmdMap implements "MAP VHOST|BACKEND|UNMAP|PRINT|DEFAULT|REMOVE_DEFAULT"
// (spec §4.5, §3 "Resource map").
func (s *Server) cmdMap(args []string) ([]string, error) {
	if len(args) == 0 {
		return nil, fmt.Errorf("MAP requires a sub-verb")
	}
	switch args[0] {
	case "VHOST":
		return s.mapVhost(args[1:])
	case "BACKEND":
		return s.mapBackend(args[1:])
	case "UNMAP":
		return s.mapUnmap(args[1:])
	case "PRINT":
		return s.mapPrint()
	case "DEFAULT":
		return s.mapDefault(args[1:])
	case "REMOVE_DEFAULT":
		s.Reg.Resources.RemoveDefault()
		return []string{"OK"}, nil
	default:
		return nil, fmt.Errorf("MAP: unknown sub-verb %q", args[0])
	}
}

func (s *Server) mapVhost(args []string) ([]string, error) {
	if len(args) != 2 {
		return nil, fmt.Errorf("MAP VHOST requires vhost farm")
	}
	if _, err := s.Reg.Farms.Get(args[1]); err != nil {
		return nil, err
	}
	s.Reg.Resources.MapVhost(args[0], args[1])
	return []string{"OK"}, nil
}

func (s *Server) mapBackend(args []string) ([]string, error) {
	if len(args) != 2 {
		return nil, fmt.Errorf("MAP BACKEND requires vhost backend")
	}
	_, release, err := s.Reg.Backends.Lookup(args[1])
	if err != nil {
		return nil, err
	}
	release()
	s.Reg.Resources.MapBackend(args[0], args[1])
	return []string{"OK"}, nil
}

func (s *Server) mapUnmap(args []string) ([]string, error) {
	if len(args) != 1 {
		return nil, fmt.Errorf("MAP UNMAP requires exactly one vhost")
	}
	s.Reg.Resources.Unmap(args[0])
	return []string{"OK"}, nil
}

func (s *Server) mapPrint() ([]string, error) {
	entries := s.Reg.Resources.Entries()
	vhosts := make([]string, 0, len(entries))
	for v := range entries {
		vhosts = append(vhosts, v)
	}
	sort.Strings(vhosts)
	out := make([]string, 0, len(vhosts))
	for _, v := range vhosts {
		t := entries[v]
		kind := "backend"
		if t.Kind == resource.TargetFarm {
			kind = "farm"
		}
		out = append(out, fmt.Sprintf("%s -> %s(%s)", v, kind, t.Name))
	}
	return out, nil
}

func (s *Server) mapDefault(args []string) ([]string, error) {
	if len(args) != 1 {
		return nil, fmt.Errorf("MAP DEFAULT requires exactly one farm name")
	}
	if _, err := s.Reg.Farms.Get(args[0]); err != nil {
		return nil, err
	}
	s.Reg.Resources.SetDefault(args[0])
	return []string{"OK"}, nil
}

// cmdMapHostname implements "MAPHOSTNAME DNS" (spec §4.5): a static pin for
// a host, bypassing resolution, the same manual-set path DNS cache tests
// use (spec §4.3 "Entries may be manually set or cleared via the API").
func (s *Server) cmdMapHostname(args []string) ([]string, error) {
	if len(args) == 0 {
		return nil, fmt.Errorf("MAPHOSTNAME requires a sub-verb")
	}
	switch args[0] {
	case "DNS":
		return s.mapHostnameDNS(args[1:])
	default:
		return nil, fmt.Errorf("MAPHOSTNAME: unknown sub-verb %q", args[0])
	}
}

// mapHostnameDNS expects: <host> <service> <ip> [ip...]
func (s *Server) mapHostnameDNS(args []string) ([]string, error) {
	if len(args) < 3 {
		return nil, fmt.Errorf("MAPHOSTNAME DNS requires host service ip [ip...]")
	}
	host, service := args[0], args[1]
	port, err := parseUint16(service)
	if err != nil {
		return nil, fmt.Errorf("invalid service %q: %w", service, err)
	}
	var eps []dnscache.Endpoint
	for _, ipStr := range args[2:] {
		ip, err := parseIP(ipStr)
		if err != nil {
			return nil, err
		}
		eps = append(eps, dnscache.Endpoint{IP: ip, Port: port})
	}
	s.Reg.DNS.Set(host, service, eps)
	return []string{"OK"}, nil
}
