// Package bufpool implements a fixed-bucket buffer allocator with a
// spillover path for oversized requests (spec §3 "Buffer pool invariants",
// §4.4).
//
// Buckets are sized ascending at construction. Acquire scans for the first
// bucket whose size is >= the request and pops a handle off its free list;
// a request with no fitting bucket spills to a one-off allocation and bumps
// the process-wide spillover counter. Release returns a handle to its
// origin bucket's free list, or frees a spillover handle directly.
package bufpool

import "sync/atomic"

// BucketStats reports a single bucket's best-effort counters. High-water is
// updated without synchronization against the read, matching the spec's
// "acknowledged race" on that field.
type BucketStats struct {
	Size        int
	Allocations uint64
	Deallocations uint64
	HighWater   uint64
}

// InUse reports allocations - deallocations for this bucket.
func (s BucketStats) InUse() int64 {
	return int64(s.Allocations) - int64(s.Deallocations)
}

type bucket struct {
	size        int
	free        [][]byte
	allocations uint64
	deallocations uint64
	highWater   uint64
}

// Pool is a single-threaded-per-caller bucket allocator (spec §5 "Shared-
// resource policy": the pool is explicitly single-threaded for acquire/
// release). Only the process-wide spillover counter is atomic; the
// per-bucket allocation, deallocation and high-water counters are plain
// fields, updated by Acquire/Release and read by Stats without
// synchronization. Wrap a Pool per execution context rather than sharing
// one across goroutines.
type Pool struct {
	buckets []*bucket
}

var processSpillover uint64

// New builds a Pool whose buckets are the given sizes, sorted ascending.
// Duplicate or unsorted input is accepted and sorted in place.
func New(sizes []int) *Pool {
	s := append([]int(nil), sizes...)
	insertionSort(s)
	p := &Pool{}
	for _, sz := range s {
		p.buckets = append(p.buckets, &bucket{size: sz})
	}
	return p
}

func insertionSort(s []int) {
	for i := 1; i < len(s); i++ {
		for j := i; j > 0 && s[j-1] > s[j]; j-- {
			s[j-1], s[j] = s[j], s[j-1]
		}
	}
}

// Handle is a borrowed buffer. Bytes is valid for use until Release.
type Handle struct {
	Bytes []byte

	origin *bucket // nil for a spillover allocation
	pool   *Pool
}

// Acquire returns a handle to a buffer of at least sz bytes. If no bucket
// fits, a one-off slice is allocated and the spillover counter increments.
func (p *Pool) Acquire(sz int) Handle {
	for _, b := range p.buckets {
		if b.size < sz {
			continue
		}
		var buf []byte
		if n := len(b.free); n > 0 {
			buf = b.free[n-1]
			b.free = b.free[:n-1]
		} else {
			buf = make([]byte, b.size)
		}
		b.allocations++
		if inUse := b.allocations - b.deallocations; inUse > b.highWater {
			b.highWater = inUse
		}
		return Handle{Bytes: buf[:sz], origin: b, pool: p}
	}
	atomic.AddUint64(&processSpillover, 1)
	return Handle{Bytes: make([]byte, sz), origin: nil, pool: p}
}

// Release returns h to its origin bucket's free list, or, for a spillover
// handle, simply drops it for the garbage collector.
func (h Handle) Release() {
	if h.origin == nil {
		return
	}
	b := h.origin
	b.deallocations++
	b.free = append(b.free, h.Bytes[:cap(h.Bytes)])
}

// Stats returns a snapshot of every bucket's counters, in ascending size
// order.
func (p *Pool) Stats() []BucketStats {
	out := make([]BucketStats, len(p.buckets))
	for i, b := range p.buckets {
		out[i] = BucketStats{
			Size:          b.size,
			Allocations:   b.allocations,
			Deallocations: b.deallocations,
			HighWater:     b.highWater,
		}
	}
	return out
}

// SpilloverCount returns the process-wide count of allocations that missed
// every bucket.
func SpilloverCount() uint64 {
	return atomic.LoadUint64(&processSpillover)
}

// ResetSpilloverCountForTest exists only for test isolation between cases
// that assert on the spillover counter; production code never calls this.
func ResetSpilloverCountForTest() {
	atomic.StoreUint64(&processSpillover, 0)
}
