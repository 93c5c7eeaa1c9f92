package stats

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/docker/go-units"
)

// Snapshot is the full set of counters the STAT control verb reports (spec
// §6 "Statistics"): per-connection, per-vhost/per-source/per-backend
// aggregates, and process counters.
type Snapshot struct {
	Sessions  []SessionStat
	VHosts    map[string]Aggregate
	Sources   map[string]Aggregate
	Backends  map[string]Aggregate
	CPU       CPUSample
	Spillover int64
	UptimeFor time.Duration
}

// SessionStat is the per-connection row (spec §6).
type SessionStat struct {
	ID          uint64
	VHost       string
	Backend     string
	BytesIn     int64
	BytesOut    int64
	FramesIn    int64
	FramesOut   int64
	PauseCount  int64
	ActiveSince time.Time
}

// Aggregate sums bytes/frames/connection-count across sessions sharing a
// key (vhost, source IP, or backend name).
type Aggregate struct {
	Connections int64
	BytesIn     int64
	BytesOut    int64
	FramesIn    int64
	FramesOut   int64
}

// FormatMachine renders Snapshot as key=value lines, one metric per line,
// the default STAT verb output.
func FormatMachine(s Snapshot) string {
	var b strings.Builder
	fmt.Fprintf(&b, "uptime_seconds=%d\n", int64(s.UptimeFor.Seconds()))
	fmt.Fprintf(&b, "cpu_user_seconds=%.2f\n", s.CPU.UserSeconds)
	fmt.Fprintf(&b, "cpu_system_seconds=%.2f\n", s.CPU.SystemSeconds)
	fmt.Fprintf(&b, "cpu_user_system_ratio=%.3f\n", s.CPU.UserSystemRatio())
	fmt.Fprintf(&b, "max_rss_kb=%d\n", s.CPU.MaxRSSKB)
	fmt.Fprintf(&b, "buffer_spillover_count=%d\n", s.Spillover)
	fmt.Fprintf(&b, "session_count=%d\n", len(s.Sessions))
	for _, sess := range s.Sessions {
		fmt.Fprintf(&b, "session.%d.vhost=%s\n", sess.ID, sess.VHost)
		fmt.Fprintf(&b, "session.%d.backend=%s\n", sess.ID, sess.Backend)
		fmt.Fprintf(&b, "session.%d.bytes_in=%d\n", sess.ID, sess.BytesIn)
		fmt.Fprintf(&b, "session.%d.bytes_out=%d\n", sess.ID, sess.BytesOut)
		fmt.Fprintf(&b, "session.%d.frames_in=%d\n", sess.ID, sess.FramesIn)
		fmt.Fprintf(&b, "session.%d.frames_out=%d\n", sess.ID, sess.FramesOut)
		fmt.Fprintf(&b, "session.%d.pause_count=%d\n", sess.ID, sess.PauseCount)
	}
	writeAggregates(&b, "vhost", s.VHosts)
	writeAggregates(&b, "source", s.Sources)
	writeAggregates(&b, "backend", s.Backends)
	return b.String()
}

func writeAggregates(b *strings.Builder, prefix string, m map[string]Aggregate) {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		a := m[k]
		fmt.Fprintf(b, "%s.%s.connections=%d\n", prefix, k, a.Connections)
		fmt.Fprintf(b, "%s.%s.bytes_in=%d\n", prefix, k, a.BytesIn)
		fmt.Fprintf(b, "%s.%s.bytes_out=%d\n", prefix, k, a.BytesOut)
	}
}

// FormatHuman renders Snapshot using docker/go-units for byte sizes and
// durations, selected by a trailing "human" token on the STAT verb (spec
// §9 C.1 "Human stat formatter", the Go analogue of
// amqpprox_humanstatformatter.h).
func FormatHuman(s Snapshot) string {
	var b strings.Builder
	fmt.Fprintf(&b, "uptime: %s\n", units.HumanDuration(s.UptimeFor))
	fmt.Fprintf(&b, "cpu: user=%.2fs system=%.2fs ratio=%.3f\n",
		s.CPU.UserSeconds, s.CPU.SystemSeconds, s.CPU.UserSystemRatio())
	fmt.Fprintf(&b, "max rss: %s\n", units.BytesSize(float64(s.CPU.MaxRSSKB*1024)))
	fmt.Fprintf(&b, "buffer spillovers: %d\n", s.Spillover)
	fmt.Fprintf(&b, "sessions: %d\n", len(s.Sessions))
	for _, sess := range s.Sessions {
		fmt.Fprintf(&b, "  #%d vhost=%s backend=%s in=%s out=%s paused=%d active=%s\n",
			sess.ID, sess.VHost, sess.Backend,
			units.BytesSize(float64(sess.BytesIn)), units.BytesSize(float64(sess.BytesOut)),
			sess.PauseCount, units.HumanDuration(time.Since(sess.ActiveSince)))
	}
	writeHumanAggregates(&b, "vhosts", s.VHosts)
	writeHumanAggregates(&b, "sources", s.Sources)
	writeHumanAggregates(&b, "backends", s.Backends)
	return b.String()
}

func writeHumanAggregates(b *strings.Builder, title string, m map[string]Aggregate) {
	if len(m) == 0 {
		return
	}
	fmt.Fprintf(b, "%s:\n", title)
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		a := m[k]
		fmt.Fprintf(b, "  %s: conns=%d in=%s out=%s\n", k, a.Connections,
			units.BytesSize(float64(a.BytesIn)), units.BytesSize(float64(a.BytesOut)))
	}
}
