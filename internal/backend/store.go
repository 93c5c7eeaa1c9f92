package backend

import (
	"fmt"
	"sync"
)

// Store is the named backend registry (spec §4 "Backend registry"). Unlike
// the original amqpprox::BackendStore, Insert performs its existence check
// and write under a single critical section (spec §9 open question (c):
// "BackendStore::insert releases the lock before re-checking existence").
type Store struct {
	mu   sync.Mutex
	byName map[string]*entry
}

type entry struct {
	backend  *Backend
	refcount int
	removed  bool
}

func NewStore() *Store {
	return &Store{byName: make(map[string]*entry)}
}

// ErrDuplicateName is returned by Insert when the name is already registered.
var ErrDuplicateName = fmt.Errorf("backend: duplicate name")

// ErrNotFound is returned when a name has no registered backend.
var ErrNotFound = fmt.Errorf("backend: not found")

// Insert atomically adds b, failing if the name is already present.
func (s *Store) Insert(b *Backend) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if e, ok := s.byName[b.Name]; ok && !e.removed {
		return fmt.Errorf("%w: %s", ErrDuplicateName, b.Name)
	}
	s.byName[b.Name] = &entry{backend: b}
	return nil
}

// Lookup returns a borrowed reference to the named backend, bumping its
// refcount. Callers must call Release when done (typically at the end of a
// session's retry loop) so a concurrently removed backend's memory can be
// reclaimed once the last borrower releases it (spec §5, §9 "smart-pointer
// lifetimes").
func (s *Store) Lookup(name string) (*Backend, func(), error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.byName[name]
	if !ok || e.removed {
		return nil, nil, fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	e.refcount++
	release := func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		e.refcount--
		if e.removed && e.refcount <= 0 {
			delete(s.byName, e.backend.Name)
		}
	}
	return e.backend, release, nil
}

// Remove marks name as removed. If sessions are still borrowing the
// backend, the entry is kept (but no longer Lookup-able) until the last
// Release drops its refcount to zero — the deferred-deletion path spec §5
// requires so in-flight retry loops never observe a dangling reference.
func (s *Store) Remove(name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.byName[name]
	if !ok || e.removed {
		return fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	e.removed = true
	if e.refcount <= 0 {
		delete(s.byName, name)
	}
	return nil
}

// List returns a snapshot of every live (non-removed) backend.
func (s *Store) List() []*Backend {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*Backend, 0, len(s.byName))
	for _, e := range s.byName {
		if !e.removed {
			out = append(out, e.backend)
		}
	}
	return out
}
