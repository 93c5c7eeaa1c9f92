package farm

import "github.com/amqpprox/amqpprox/internal/backend"

// BackendSelector picks a backend from a BackendSet given a retry count
// (spec §3 "BackendSelector", testable property 4).
type BackendSelector interface {
	Name() string
	// Select returns the backend to try for the given retryCount, or ok ==
	// false once every partition's budget is exhausted.
	Select(set *BackendSet, retryCount int) (b *backend.Backend, partitionIdx int, ok bool)
}

// RoundRobin implements the only specified selector. Retries are consumed
// across the flattened partition budget: if retryCount >= |partition|, it
// subtracts and advances to the next partition; otherwise it returns entry
// (marker + retryCount) mod |partition| and bumps that partition's marker
// by one.
type RoundRobin struct{}

func (RoundRobin) Name() string { return "roundrobin" }

func (RoundRobin) Select(set *BackendSet, retryCount int) (*backend.Backend, int, bool) {
	remaining := retryCount
	for idx, part := range set.Partitions {
		n := part.Len()
		if n == 0 {
			continue
		}
		if remaining >= n {
			remaining -= n
			continue
		}
		entry := (int(part.Marker) + remaining) % n
		part.Marker++
		return part.Backends[entry], idx, true
	}
	return nil, -1, false
}

// SelectorStore resolves a selector name to an implementation.
type SelectorStore struct {
	byName map[string]BackendSelector
}

func NewSelectorStore() *SelectorStore {
	s := &SelectorStore{byName: make(map[string]BackendSelector)}
	s.Register(RoundRobin{})
	return s
}

func (s *SelectorStore) Register(sel BackendSelector) {
	s.byName[sel.Name()] = sel
}

func (s *SelectorStore) Get(name string) (BackendSelector, bool) {
	sel, ok := s.byName[name]
	return sel, ok
}
