// Package stats publishes the per-connection/per-vhost/per-source/
// per-backend counters and process counters named in spec §6 "Statistics"
// via a github.com/docker/go-metrics namespace of
// github.com/prometheus/client_golang collectors, on a recurring timer
// (default 1s), matching moby-moby's own metrics stack (SPEC_FULL.md B).
package stats

import (
	"net"
	"sync"
	"time"

	"github.com/docker/go-metrics"

	"github.com/amqpprox/amqpprox/internal/bufpool"
	"github.com/amqpprox/amqpprox/internal/session"
)

// DefaultEmitInterval is the spec §6 default statistics publication period.
const DefaultEmitInterval = time.Second

// registerOnce guards metrics.Register: only the first Collector built in a
// process exposes its namespace over the process-wide Prometheus registry.
// Building a second Collector (as tests do, one per case) would otherwise
// attempt to register the "amqpprox" namespace's metric names twice.
var registerOnce sync.Once

// SessionSource abstracts the live session table a Collector samples; the
// real implementation is *proxyserver.Server, kept as an interface here so
// internal/stats never imports internal/proxyserver (that would be a
// package cycle -- proxyserver already imports session, and control wires
// both together at a higher level).
type SessionSource interface {
	Sessions() []*session.Session
}

// Collector samples SessionSource on a ticker and republishes both the
// Prometheus namespace and an in-memory Snapshot for the STAT control verb.
type Collector struct {
	ns      *metrics.Namespace
	source  SessionSource
	cpu     *CPUMonitor
	started time.Time

	sessionsGauge   metrics.Gauge
	bytesCounter    metrics.LabeledCounter
	framesCounter   metrics.LabeledCounter
	attemptsCounter metrics.LabeledCounter
	spilloverGauge  metrics.Gauge
	cpuRatioGauge   metrics.Gauge
	rssGauge        metrics.Gauge

	mu       sync.Mutex
	attempts map[attemptKey]int64
}

type attemptKey struct {
	backend string
	outcome string
}

// New builds a Collector registered under the "amqpprox" namespace (spec
// §6, SPEC_FULL.md B docker/go-metrics row) and registers it with the
// process-wide metrics.Register so an HTTP /metrics handler (wired by the
// daemon binary) can serve it.
func New(source SessionSource) *Collector {
	ns := metrics.NewNamespace("amqpprox", "", nil)
	c := &Collector{
		ns:       ns,
		source:   source,
		cpu:      NewCPUMonitor(),
		started:  time.Now(),
		attempts: make(map[attemptKey]int64),

		sessionsGauge:   ns.NewGauge("sessions_active", "Currently connected sessions", metrics.Total),
		bytesCounter:    ns.NewLabeledCounter("bytes_total", "Bytes forwarded", "vhost", "direction"),
		framesCounter:   ns.NewLabeledCounter("frames_total", "Frames forwarded", "vhost", "direction"),
		attemptsCounter: ns.NewLabeledCounter("backend_attempts_total", "Backend connection attempts", "backend", "outcome"),
		spilloverGauge:  ns.NewGauge("bufpool_spillover_total", "Buffer pool spillover allocations", metrics.Total),
		cpuRatioGauge:   ns.NewGauge("cpu_user_system_ratio", "Process user/system CPU time ratio", metrics.Total),
		rssGauge:        ns.NewGauge("max_rss_bytes", "Process peak RSS", metrics.Bytes),
	}
	registerOnce.Do(func() { metrics.Register(ns) })
	return c
}

// OnAttempt is wired to (*proxyserver.Server).SetOnAttempt so every backend
// connect attempt, success or failure, updates the per-backend aggregate
// (spec §6 "per-backend aggregates").
func (c *Collector) OnAttempt(result session.AttemptResult) {
	outcome := "success"
	if result.Err != nil {
		outcome = "failure"
	}
	name := "unknown"
	if result.Backend != nil {
		name = result.Backend.Name
	}
	c.attemptsCounter.WithValues(name, outcome).Inc()

	c.mu.Lock()
	c.attempts[attemptKey{backend: name, outcome: outcome}]++
	c.mu.Unlock()
}

// Run drives the periodic publish loop until stop is closed.
func (c *Collector) Run(interval time.Duration, stop <-chan struct{}) {
	if interval <= 0 {
		interval = DefaultEmitInterval
	}
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-stop:
			return
		case <-t.C:
			c.publish()
		}
	}
}

func (c *Collector) publish() {
	sample := c.cpu.Sample()
	sessions := c.source.Sessions()

	c.sessionsGauge.Set(float64(len(sessions)))
	c.spilloverGauge.Set(float64(bufpool.SpilloverCount()))
	c.cpuRatioGauge.Set(sample.UserSystemRatio())
	c.rssGauge.Set(float64(sample.MaxRSSKB * 1024))

	for _, sess := range sessions {
		c.bytesCounter.WithValues(sess.VHost, "in").Add(float64(sess.Counters.BytesIngressToEgress))
		c.bytesCounter.WithValues(sess.VHost, "out").Add(float64(sess.Counters.BytesEgressToIngress))
		c.framesCounter.WithValues(sess.VHost, "in").Add(float64(sess.Counters.FramesIngressToEgress))
		c.framesCounter.WithValues(sess.VHost, "out").Add(float64(sess.Counters.FramesEgressToIngress))
	}
}

// Snapshot builds the STAT control verb's response (spec §6, §9 C.1 "Human
// stat formatter"): per-session rows plus per-vhost/source/backend
// aggregates, and the latest process sample.
func (c *Collector) Snapshot() Snapshot {
	sessions := c.source.Sessions()

	out := Snapshot{
		VHosts:    make(map[string]Aggregate),
		Sources:   make(map[string]Aggregate),
		Backends:  make(map[string]Aggregate),
		CPU:       c.cpu.Last(),
		Spillover: int64(bufpool.SpilloverCount()),
		UptimeFor: time.Since(c.started),
	}

	for _, sess := range sessions {
		backendName := ""
		if sess.Backend != nil {
			backendName = sess.Backend.Name
		}
		out.Sessions = append(out.Sessions, SessionStat{
			ID:          sess.ID,
			VHost:       sess.VHost,
			Backend:     backendName,
			BytesIn:     sess.Counters.BytesIngressToEgress,
			BytesOut:    sess.Counters.BytesEgressToIngress,
			FramesIn:    sess.Counters.FramesIngressToEgress,
			FramesOut:   sess.Counters.FramesEgressToIngress,
			PauseCount:  sess.Counters.PauseCount,
			ActiveSince: sess.ActiveSince(),
		})

		addAggregate(out.VHosts, sess.VHost, sess)
		addAggregate(out.Backends, backendName, sess)
		addAggregate(out.Sources, sourceOf(sess), sess)
	}

	c.mu.Lock()
	for k, n := range c.attempts {
		a := out.Backends[k.backend]
		a.Connections += n
		out.Backends[k.backend] = a
	}
	c.mu.Unlock()

	return out
}

func addAggregate(m map[string]Aggregate, key string, sess *session.Session) {
	if key == "" {
		return
	}
	a := m[key]
	a.Connections++
	a.BytesIn += sess.Counters.BytesIngressToEgress
	a.BytesOut += sess.Counters.BytesEgressToIngress
	a.FramesIn += sess.Counters.FramesIngressToEgress
	a.FramesOut += sess.Counters.FramesEgressToIngress
	m[key] = a
}

func sourceOf(sess *session.Session) string {
	if sess.Ingress == nil {
		return ""
	}
	addr, ok := sess.Ingress.RemoteAddr().(*net.TCPAddr)
	if !ok {
		return ""
	}
	return addr.IP.String()
}
