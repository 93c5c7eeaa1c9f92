// Package farm implements BackendSet/Partition, PartitionPolicy,
// BackendSelector, and the Farm/FarmStore registries (spec §3-4).
package farm

import "github.com/amqpprox/amqpprox/internal/backend"

// Partition is an ordered sub-sequence of backends within a BackendSet.
// Selectors exhaust partition i before trying i+1. Marker is the rotating
// round-robin cursor for this partition.
type Partition struct {
	Backends []*backend.Backend
	Marker   uint64
}

// Len reports the number of backends in the partition.
func (p *Partition) Len() int { return len(p.Backends) }

// BackendSet is an ordered sequence of partitions (spec §3). It is
// immutable in shape after construction; only partition markers mutate as
// selectors advance them.
type BackendSet struct {
	Partitions []*Partition
}

// NewSingle builds a one-partition, one-entry BackendSet, the shape used
// when a vhost maps directly to a backend rather than a farm.
func NewSingle(b *backend.Backend) *BackendSet {
	return &BackendSet{Partitions: []*Partition{{Backends: []*backend.Backend{b}}}}
}

// NewFlat builds a single-partition BackendSet from an ordered backend list,
// the starting shape fed into a farm's partition policies.
func NewFlat(bs []*backend.Backend) *BackendSet {
	cp := append([]*backend.Backend(nil), bs...)
	return &BackendSet{Partitions: []*Partition{{Backends: cp}}}
}

// Clone performs a shallow copy preserving partition shape and markers, used
// before a policy reorders partitions so the original is left untouched.
func (s *BackendSet) Clone() *BackendSet {
	out := &BackendSet{Partitions: make([]*Partition, len(s.Partitions))}
	for i, p := range s.Partitions {
		out.Partitions[i] = &Partition{
			Backends: append([]*backend.Backend(nil), p.Backends...),
			Marker:   p.Marker,
		}
	}
	return out
}

// MarkPartition advances partitionIdx's marker by delta. Bounds are checked
// strictly (spec §9 open question (a): the original compares partitionId >
// size() rather than >=, potentially permitting one out-of-bounds index; we
// bound-check with >= here).
func (s *BackendSet) MarkPartition(partitionIdx int, delta uint64) {
	if partitionIdx < 0 || partitionIdx >= len(s.Partitions) {
		return
	}
	s.Partitions[partitionIdx].Marker += delta
}
