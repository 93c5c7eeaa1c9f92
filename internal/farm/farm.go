package farm

import (
	"fmt"
	"sync"

	"github.com/amqpprox/amqpprox/internal/backend"
)

// Farm is a named collection of backends plus an ordered list of partition
// policies and a selector name (spec §3). Mutating the member list or
// policies triggers re-materialization of the BackendSet on the next
// Materialize call.
type Farm struct {
	mu           sync.Mutex
	name         string
	members      []string // backend names only (spec §3: "referenced by farms by name only")
	policies     []PartitionPolicy
	selectorName string
}

func NewFarm(name, selectorName string) *Farm {
	return &Farm{name: name, selectorName: selectorName}
}

func (f *Farm) Name() string {
	return f.name
}

// AddBackend adds a backend by name. Resolution against the live registry
// happens at Materialize time, so a farm never holds a strong reference to
// a Backend value itself.
func (f *Farm) AddBackend(name string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, m := range f.members {
		if m == name {
			return
		}
	}
	f.members = append(f.members, name)
}

func (f *Farm) RemoveBackend(name string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i, m := range f.members {
		if m == name {
			f.members = append(f.members[:i], f.members[i+1:]...)
			return true
		}
	}
	return false
}

func (f *Farm) AddPolicy(p PartitionPolicy) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.policies = append(f.policies, p)
}

func (f *Farm) SetSelector(name string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.selectorName = name
}

func (f *Farm) SelectorName() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.selectorName
}

// Members returns a snapshot of the farm's backend name list.
func (f *Farm) Members() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.members...)
}

// Materialize builds the BackendSet for a fresh selection attempt: each
// member name is resolved against store, producing a borrowed reference
// (spec §5: "Backend references are read-only borrowed from the registry
// for the session's lifetime within the retry loop"); release must be
// called once the session is done with the resulting set (on backend
// selection success, or immediately for entries never chosen). A member
// whose name is no longer registered is silently skipped -- it was removed
// out from under the farm between AddBackend and this call.
func (f *Farm) Materialize(store *backend.Store) (*BackendSet, []func()) {
	f.mu.Lock()
	names := append([]string(nil), f.members...)
	policies := append([]PartitionPolicy(nil), f.policies...)
	f.mu.Unlock()

	var members []*backend.Backend
	var releases []func()
	for _, name := range names {
		b, release, err := store.Lookup(name)
		if err != nil {
			continue
		}
		members = append(members, b)
		releases = append(releases, release)
	}

	set := NewFlat(members)
	for _, p := range policies {
		set = p.Apply(set)
	}
	return set, releases
}

// Store is the named farm registry.
type Store struct {
	mu    sync.Mutex
	byName map[string]*Farm
}

func NewStore() *Store {
	return &Store{byName: make(map[string]*Farm)}
}

var ErrDuplicateName = fmt.Errorf("farm: duplicate name")
var ErrNotFound = fmt.Errorf("farm: not found")

func (s *Store) Insert(f *Farm) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.byName[f.Name()]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicateName, f.Name())
	}
	s.byName[f.Name()] = f
	return nil
}

func (s *Store) Get(name string) (*Farm, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	f, ok := s.byName[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	return f, nil
}

func (s *Store) Remove(name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.byName[name]; !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	delete(s.byName, name)
	return nil
}

func (s *Store) List() []*Farm {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*Farm, 0, len(s.byName))
	for _, f := range s.byName {
		out = append(out, f)
	}
	return out
}
