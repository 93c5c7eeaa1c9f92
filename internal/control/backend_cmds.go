package control

import (
	"fmt"
	"net"

	"github.com/amqpprox/amqpprox/internal/backend"
)

// cmdBackend implements "BACKEND ADD|DELETE|PRINT" (spec §4.5).
func (s *Server) cmdBackend(args []string) ([]string, error) {
	if len(args) == 0 {
		return nil, fmt.Errorf("BACKEND requires a sub-verb")
	}
	switch args[0] {
	case "ADD":
		return s.backendAdd(args[1:])
	case "DELETE":
		return s.backendDelete(args[1:])
	case "PRINT":
		return s.backendPrint()
	default:
		return nil, fmt.Errorf("BACKEND: unknown sub-verb %q", args[0])
	}
}

// backendAdd expects: <name> <datacenter> <host> <port> [proxyproto] [tls]
func (s *Server) backendAdd(args []string) ([]string, error) {
	if len(args) < 4 {
		return nil, fmt.Errorf("BACKEND ADD requires name datacenter host port [proxyproto] [tls]")
	}
	name, dc, host := args[0], args[1], args[2]
	port, err := parseUint16(args[3])
	if err != nil {
		return nil, fmt.Errorf("invalid port %q: %w", args[3], err)
	}
	var proxyProto, tlsEnabled bool
	for _, tok := range args[4:] {
		switch tok {
		case "proxyproto":
			proxyProto = true
		case "tls":
			tlsEnabled = true
		default:
			return nil, fmt.Errorf("BACKEND ADD: unknown flag %q", tok)
		}
	}
	b, err := backend.New(name, dc, host, port, proxyProto, tlsEnabled)
	if err != nil {
		return nil, err
	}
	if ip := net.ParseIP(host); ip != nil {
		b.IP = ip
	}
	if err := s.Reg.Backends.Insert(b); err != nil {
		return nil, err
	}
	return []string{"OK"}, nil
}

func (s *Server) backendDelete(args []string) ([]string, error) {
	if len(args) != 1 {
		return nil, fmt.Errorf("BACKEND DELETE requires exactly one name")
	}
	if err := s.Reg.Backends.Remove(args[0]); err != nil {
		return nil, err
	}
	return []string{"OK"}, nil
}

func (s *Server) backendPrint() ([]string, error) {
	var out []string
	for _, b := range s.Reg.Backends.List() {
		out = append(out, fmt.Sprintf("%s datacenter=%s host=%s port=%d proxyproto=%t tls=%t",
			b.Name, b.Datacenter, b.Host, b.Port, b.ProxyProtocol, b.TLSEnabled))
	}
	return out, nil
}
