package session

import (
	"net"
	"testing"

	"gotest.tools/v3/assert"
)

func TestNewSessionAssignsIncreasingIDs(t *testing.T) {
	c1, c2 := net.Pipe()
	defer c1.Close()
	defer c2.Close()

	s1 := NewSession(c1)
	s2 := NewSession(c1)
	assert.Assert(t, s2.ID > s1.ID)
	assert.Assert(t, s1.TraceID != s2.TraceID)
	assert.Equal(t, s1.State, StateAwaitPreamble)
	_ = c2
}

func TestPauseUnpause(t *testing.T) {
	c1, _ := net.Pipe()
	defer c1.Close()
	s := NewSession(c1)
	assert.Assert(t, !s.IsPaused())
	s.Pause()
	assert.Assert(t, s.IsPaused())
	assert.Equal(t, s.Counters.PauseCount, int64(1))
	s.Unpause()
	assert.Assert(t, !s.IsPaused())
}

func TestCloseReleasesBackendAndSockets(t *testing.T) {
	ingress, ingressPeer := net.Pipe()
	egress, egressPeer := net.Pipe()
	defer ingressPeer.Close()
	defer egressPeer.Close()

	s := NewSession(ingress)
	s.Egress = egress

	released := false
	s.SetBackend(nil, func() { released = true })

	s.Close()
	assert.Assert(t, released)
	assert.Equal(t, s.State, StateClosed)
	assert.Assert(t, s.Closed())

	_, err := ingressPeer.Write([]byte("x"))
	assert.ErrorContains(t, err, "closed pipe")
}
