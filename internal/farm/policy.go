package farm

import "github.com/amqpprox/amqpprox/internal/backend"

// PartitionPolicy is a pure function BackendSet -> BackendSet that reorders
// or splits partitions (spec §3 "PartitionPolicy").
type PartitionPolicy interface {
	Name() string
	Apply(in *BackendSet) *BackendSet
}

// AffinityPolicy implements the only specified policy: datacenter affinity.
// Each input partition becomes up to two output partitions, matching
// entries first, non-matching second; empty partitions are elided; inter-
// partition order is otherwise preserved (spec §3, testable property 3).
type AffinityPolicy struct {
	LocalDatacenter func() string
}

func NewAffinityPolicy(localDC func() string) *AffinityPolicy {
	return &AffinityPolicy{LocalDatacenter: localDC}
}

func (p *AffinityPolicy) Name() string { return "affinity" }

func (p *AffinityPolicy) Apply(in *BackendSet) *BackendSet {
	dc := p.LocalDatacenter()
	out := &BackendSet{}
	for _, part := range in.Partitions {
		var match, rest []*backend.Backend
		for _, b := range part.Backends {
			if b.Datacenter == dc {
				match = append(match, b)
			} else {
				rest = append(rest, b)
			}
		}
		if len(match) > 0 {
			out.Partitions = append(out.Partitions, &Partition{Backends: match})
		}
		if len(rest) > 0 {
			out.Partitions = append(out.Partitions, &Partition{Backends: rest})
		}
	}
	return out
}

// PolicyStore resolves a partition-policy name to an implementation (spec
// §9 "polymorphic registries ... a capability set and a name() tag").
type PolicyStore struct {
	byName map[string]PartitionPolicy
}

func NewPolicyStore() *PolicyStore {
	return &PolicyStore{byName: make(map[string]PartitionPolicy)}
}

func (s *PolicyStore) Register(p PartitionPolicy) {
	s.byName[p.Name()] = p
}

func (s *PolicyStore) Get(name string) (PartitionPolicy, bool) {
	p, ok := s.byName[name]
	return p, ok
}
