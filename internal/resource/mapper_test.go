package resource

import (
	"testing"

	"gotest.tools/v3/assert"
)

func TestLastWriteWinsPerVhost(t *testing.T) {
	m := NewMapper()
	m.MapVhost("/", "farmA")
	m.MapVhost("/", "farmB")
	target, ok := m.Lookup("/")
	assert.Assert(t, ok)
	assert.Equal(t, target.Name, "farmB")
}

func TestUnmapRemovesOnlySpecifiedVhost(t *testing.T) {
	m := NewMapper()
	m.MapVhost("/a", "farmA")
	m.MapVhost("/b", "farmB")
	m.Unmap("/a")

	_, ok := m.Lookup("/a")
	assert.Assert(t, !ok)
	target, ok := m.Lookup("/b")
	assert.Assert(t, ok)
	assert.Equal(t, target.Name, "farmB")
}

func TestDefaultFarmFallback(t *testing.T) {
	m := NewMapper()
	_, ok := m.Lookup("/unmapped")
	assert.Assert(t, !ok)

	m.SetDefault("fallback")
	target, ok := m.Lookup("/unmapped")
	assert.Assert(t, ok)
	assert.Equal(t, target.Kind, TargetFarm)
	assert.Equal(t, target.Name, "fallback")

	m.RemoveDefault()
	_, ok = m.Lookup("/unmapped")
	assert.Assert(t, !ok)
}

func TestMapBackendDirectTarget(t *testing.T) {
	m := NewMapper()
	m.MapBackend("/", "b1")
	target, ok := m.Lookup("/")
	assert.Assert(t, ok)
	assert.Equal(t, target.Kind, TargetBackend)
	assert.Equal(t, target.Name, "b1")
}
