package vhoststate

import (
	"testing"

	"gotest.tools/v3/assert"
)

func TestPauseUnpause(t *testing.T) {
	r := NewRegistry()
	assert.Assert(t, !r.IsPaused("/"))

	r.Pause("/")
	assert.Assert(t, r.IsPaused("/"))
	assert.DeepEqual(t, r.Paused(), []string{"/"})

	r.Unpause("/")
	assert.Assert(t, !r.IsPaused("/"))
	assert.Equal(t, len(r.Paused()), 0)
}
