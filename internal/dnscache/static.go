package dnscache

import "fmt"

// StaticResolver is a Resolver backed by a fixed map, used by tests and for
// pinning hostnames that should never hit the network.
type StaticResolver struct {
	entries map[key][]Endpoint
	fail    map[key]error
}

func NewStaticResolver() *StaticResolver {
	return &StaticResolver{entries: make(map[key][]Endpoint), fail: make(map[key]error)}
}

func (s *StaticResolver) Pin(host, service string, eps []Endpoint) {
	s.entries[key{host, service}] = eps
}

func (s *StaticResolver) FailWith(host, service string, err error) {
	s.fail[key{host, service}] = err
}

func (s *StaticResolver) Resolve(host, service string) ([]Endpoint, error) {
	k := key{host, service}
	if err, ok := s.fail[k]; ok {
		return nil, err
	}
	if eps, ok := s.entries[k]; ok {
		return eps, nil
	}
	return nil, fmt.Errorf("dnscache: static resolver has no entry for %s/%s", host, service)
}
