package connmgr

import (
	"testing"

	"gotest.tools/v3/assert"

	"github.com/amqpprox/amqpprox/internal/backend"
	"github.com/amqpprox/amqpprox/internal/farm"
)

func TestManagerYieldsInOrderUntilExhausted(t *testing.T) {
	b1, _ := backend.New("b1", "NY", "h1", 5672, false, false)
	b2, _ := backend.New("b2", "NY", "h2", 5672, false, false)
	b3, _ := backend.New("b3", "NY", "h3", 5672, false, false)
	set := farm.NewFlat([]*backend.Backend{b1, b2, b3})
	m := New(set, farm.RoundRobin{})

	seen := map[string]bool{}
	for r := 0; r < 3; r++ {
		b, ok := m.Next(r)
		assert.Assert(t, ok)
		seen[b.Name] = true
	}
	assert.Equal(t, len(seen), 3)

	_, ok := m.Next(3)
	assert.Assert(t, !ok)
}

func TestManagerNilSelectorNeverYields(t *testing.T) {
	b1, _ := backend.New("b1", "NY", "h1", 5672, false, false)
	set := farm.NewSingle(b1)
	m := New(set, nil)
	_, ok := m.Next(0)
	assert.Assert(t, !ok)
}
