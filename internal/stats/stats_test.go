package stats

import (
	"net"
	"testing"
	"time"

	"gotest.tools/v3/assert"

	"github.com/amqpprox/amqpprox/internal/backend"
	"github.com/amqpprox/amqpprox/internal/session"
)

type fakeSource struct {
	sessions []*session.Session
}

func (f *fakeSource) Sessions() []*session.Session { return f.sessions }

func newFakeSession(t *testing.T, vhost string, b *backend.Backend) *session.Session {
	t.Helper()
	client, srv := net.Pipe()
	t.Cleanup(func() { client.Close(); srv.Close() })
	sess := session.NewSession(srv)
	sess.VHost = vhost
	if b != nil {
		sess.SetBackend(b, func() {})
	}
	sess.Counters.BytesIngressToEgress = 100
	sess.Counters.BytesEgressToIngress = 50
	sess.Counters.FramesIngressToEgress = 2
	sess.Counters.FramesEgressToIngress = 1
	return sess
}

func TestCollectorSnapshotAggregatesPerVHost(t *testing.T) {
	b, err := backend.New("b1", "dc1", "10.0.0.1", 5672, false, false)
	assert.NilError(t, err)

	s1 := newFakeSession(t, "/", b)
	s2 := newFakeSession(t, "/", b)
	source := &fakeSource{sessions: []*session.Session{s1, s2}}

	c := New(source)
	snap := c.Snapshot()

	assert.Equal(t, len(snap.Sessions), 2)
	agg := snap.VHosts["/"]
	assert.Equal(t, agg.Connections, int64(2))
	assert.Equal(t, agg.BytesIn, int64(200))
	assert.Equal(t, agg.BytesOut, int64(100))

	backendAgg := snap.Backends["b1"]
	assert.Equal(t, backendAgg.Connections, int64(2))
}

func TestCollectorOnAttemptTracksOutcome(t *testing.T) {
	source := &fakeSource{}
	c := New(source)

	b, err := backend.New("b1", "dc1", "10.0.0.1", 5672, false, false)
	assert.NilError(t, err)

	c.OnAttempt(session.AttemptResult{Backend: b, Err: nil})
	c.OnAttempt(session.AttemptResult{Backend: b, Err: assertErr{}})

	c.mu.Lock()
	defer c.mu.Unlock()
	assert.Equal(t, c.attempts[attemptKey{backend: "b1", outcome: "success"}], int64(1))
	assert.Equal(t, c.attempts[attemptKey{backend: "b1", outcome: "failure"}], int64(1))
}

type assertErr struct{}

func (assertErr) Error() string { return "boom" }

func TestFormatMachineAndHumanRenderWithoutPanicking(t *testing.T) {
	snap := Snapshot{
		Sessions: []SessionStat{{ID: 1, VHost: "/", Backend: "b1", BytesIn: 10, BytesOut: 20, ActiveSince: time.Now()}},
		VHosts:   map[string]Aggregate{"/": {Connections: 1, BytesIn: 10, BytesOut: 20}},
		Sources:  map[string]Aggregate{},
		Backends: map[string]Aggregate{"b1": {Connections: 1}},
		CPU:      CPUSample{UserSeconds: 1.5, SystemSeconds: 0.5},
		UptimeFor: time.Minute,
	}

	machine := FormatMachine(snap)
	assert.Assert(t, len(machine) > 0)

	human := FormatHuman(snap)
	assert.Assert(t, len(human) > 0)
}

func TestUserSystemRatioAvoidsDivideByZero(t *testing.T) {
	s := CPUSample{UserSeconds: 2.5, SystemSeconds: 0}
	assert.Equal(t, s.UserSystemRatio(), 2.5)
}

func TestParseProcStatTimesHandlesParenthesesInCommand(t *testing.T) {
	// Field 2 is "(comm)"; fields are 1-indexed so utime/stime are 14/15.
	line := "1 (my (weird) cmd) S 0 1 1 0 -1 0 0 0 0 0 111 222 0 0 20 0 1 0 0 0 0 0 0 0 0 0 0 0 0 0 0 0 0 0 0 0 0 0 0 0 0"
	u, sys, ok := parseProcStatTimes(line)
	assert.Assert(t, ok)
	assert.Equal(t, u, 111.0)
	assert.Equal(t, sys, 222.0)
}

func TestCPUMonitorSamplesWithoutError(t *testing.T) {
	m := NewCPUMonitor()
	sample := m.Sample()
	assert.Assert(t, !sample.SampledAt.IsZero())
	assert.Equal(t, m.Last().SampledAt, sample.SampledAt)
}
