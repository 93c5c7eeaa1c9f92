package backend

import (
	"testing"

	"gotest.tools/v3/assert"
)

func mustBackend(t *testing.T, name string) *Backend {
	t.Helper()
	b, err := New(name, "NY", "broker.example", 5672, false, false)
	assert.NilError(t, err)
	return b
}

func TestInsertRejectsDuplicate(t *testing.T) {
	s := NewStore()
	assert.NilError(t, s.Insert(mustBackend(t, "b1")))
	err := s.Insert(mustBackend(t, "b1"))
	assert.ErrorIs(t, err, ErrDuplicateName)
}

func TestLookupReleaseDeferredDeletion(t *testing.T) {
	s := NewStore()
	assert.NilError(t, s.Insert(mustBackend(t, "b1")))

	b, release, err := s.Lookup("b1")
	assert.NilError(t, err)
	assert.Equal(t, b.Name, "b1")

	assert.NilError(t, s.Remove("b1"))
	// Removed but still borrowed: a fresh Lookup must not find it...
	_, _, err = s.Lookup("b1")
	assert.ErrorIs(t, err, ErrNotFound)
	// ...but the borrowed reference remains valid until released.
	assert.Equal(t, b.Name, "b1")

	release()
	// Re-inserting the same name must now succeed (entry fully reclaimed).
	assert.NilError(t, s.Insert(mustBackend(t, "b1")))
}

func TestRemoveUnknownFails(t *testing.T) {
	s := NewStore()
	err := s.Remove("nope")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestListExcludesRemoved(t *testing.T) {
	s := NewStore()
	assert.NilError(t, s.Insert(mustBackend(t, "b1")))
	assert.NilError(t, s.Insert(mustBackend(t, "b2")))
	assert.NilError(t, s.Remove("b1"))
	list := s.List()
	assert.Equal(t, len(list), 1)
	assert.Equal(t, list[0].Name, "b2")
}
