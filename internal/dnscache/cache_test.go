package dnscache

import (
	"errors"
	"net"
	"testing"
	"time"

	"gotest.tools/v3/assert"
	"gotest.tools/v3/poll"
)

func TestResolveCachesAcrossCalls(t *testing.T) {
	sr := NewStaticResolver()
	sr.Pin("broker", "5672", []Endpoint{{IP: net.ParseIP("10.0.0.1"), Port: 5672}})
	c := New(sr, time.Hour)
	defer c.Close()

	eps, err := c.Resolve("broker", "5672")
	assert.NilError(t, err)
	assert.Equal(t, len(eps), 1)

	// Change the pin; cached result should still be served until swept.
	sr.Pin("broker", "5672", []Endpoint{{IP: net.ParseIP("10.0.0.2"), Port: 5672}})
	eps2, err := c.Resolve("broker", "5672")
	assert.NilError(t, err)
	assert.Equal(t, eps2[0].IP.String(), "10.0.0.1")
}

func TestSweepFlushesEntireCache(t *testing.T) {
	sr := NewStaticResolver()
	sr.Pin("broker", "5672", []Endpoint{{IP: net.ParseIP("10.0.0.1"), Port: 5672}})
	c := New(sr, 20*time.Millisecond)
	defer c.Close()

	_, err := c.Resolve("broker", "5672")
	assert.NilError(t, err)

	sr.Pin("broker", "5672", []Endpoint{{IP: net.ParseIP("10.0.0.9"), Port: 5672}})

	poll.WaitOn(t, func(t poll.LogT) poll.Result {
		eps, err := c.Resolve("broker", "5672")
		if err != nil {
			return poll.Error(err)
		}
		if eps[0].IP.String() == "10.0.0.9" {
			return poll.Success()
		}
		return poll.Continue("waiting for sweep to flush stale entry")
	}, poll.WithTimeout(2*time.Second), poll.WithDelay(10*time.Millisecond))
}

func TestResolveFailureNotCached(t *testing.T) {
	sr := NewStaticResolver()
	sr.FailWith("broker", "5672", errors.New("boom"))
	c := New(sr, time.Hour)
	defer c.Close()

	_, err := c.Resolve("broker", "5672")
	assert.ErrorContains(t, err, "boom")

	sr.Pin("broker", "5672", []Endpoint{{IP: net.ParseIP("10.0.0.1"), Port: 5672}})
	eps, err := c.Resolve("broker", "5672")
	assert.NilError(t, err)
	assert.Equal(t, eps[0].IP.String(), "10.0.0.1")
}

func TestSetAndClearEntry(t *testing.T) {
	sr := NewStaticResolver()
	c := New(sr, time.Hour)
	defer c.Close()

	c.Set("pinned", "5672", []Endpoint{{IP: net.ParseIP("127.0.0.1"), Port: 5672}})
	eps, err := c.Resolve("pinned", "5672")
	assert.NilError(t, err)
	assert.Equal(t, eps[0].IP.String(), "127.0.0.1")

	c.ClearEntry("pinned", "5672")
	_, err = c.Resolve("pinned", "5672")
	assert.ErrorContains(t, err, "no entry")
}
