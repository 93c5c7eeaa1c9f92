package stats

import (
	"bufio"
	"os"
	"runtime"
	"strconv"
	"strings"
	"sync"
	"time"
)

// CPUSample is one reading of process-wide CPU/memory usage (spec §6
// "process counters: user/system CPU ratio, maxRssKB"; recovered from
// original_source/amqpprox_cpumonitor.* per SPEC_FULL.md C.1).
type CPUSample struct {
	UserSeconds   float64
	SystemSeconds float64
	MaxRSSKB      int64
	SampledAt     time.Time
}

// UserSystemRatio is the user/system CPU time ratio named in spec §6; zero
// system time reports the ratio as the user seconds themselves (avoids a
// divide-by-zero on an idle or just-started process).
func (s CPUSample) UserSystemRatio() float64 {
	if s.SystemSeconds == 0 {
		return s.UserSeconds
	}
	return s.UserSeconds / s.SystemSeconds
}

// CPUMonitor periodically samples process CPU/RSS usage. On Linux it reads
// /proc/self/stat and /proc/self/status directly (no gopsutil-style
// dependency is present anywhere in the retrieval pack, so this one
// component stays on the standard library plus /proc, per DESIGN.md); on
// other platforms it falls back to runtime.ReadMemStats for RSS and leaves
// CPU seconds at zero.
type CPUMonitor struct {
	mu   sync.Mutex
	last CPUSample

	clockTicksPerSec float64
}

// NewCPUMonitor constructs a monitor primed with one immediate sample.
func NewCPUMonitor() *CPUMonitor {
	m := &CPUMonitor{clockTicksPerSec: 100} // USER_HZ is 100 on essentially every Linux target
	m.Sample()
	return m
}

// Sample takes a fresh reading and returns it, also updating Last().
func (m *CPUMonitor) Sample() CPUSample {
	s := readProcSample(m.clockTicksPerSec)
	m.mu.Lock()
	m.last = s
	m.mu.Unlock()
	return s
}

// Last returns the most recent sample without taking a new one.
func (m *CPUMonitor) Last() CPUSample {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.last
}

// Run samples on a ticker until ctx-like stop channel closes. Meant to run
// alongside the stats Collector's own emission ticker.
func (m *CPUMonitor) Run(interval time.Duration, stop <-chan struct{}) {
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-stop:
			return
		case <-t.C:
			m.Sample()
		}
	}
}

func readProcSample(ticksPerSec float64) CPUSample {
	sample := CPUSample{SampledAt: time.Now()}

	if data, err := os.ReadFile("/proc/self/stat"); err == nil {
		if u, s, ok := parseProcStatTimes(string(data)); ok {
			sample.UserSeconds = u / ticksPerSec
			sample.SystemSeconds = s / ticksPerSec
		}
	}

	if f, err := os.Open("/proc/self/status"); err == nil {
		defer f.Close()
		scanner := bufio.NewScanner(f)
		for scanner.Scan() {
			line := scanner.Text()
			if strings.HasPrefix(line, "VmHWM:") {
				fields := strings.Fields(line)
				if len(fields) >= 2 {
					if kb, err := strconv.ParseInt(fields[1], 10, 64); err == nil {
						sample.MaxRSSKB = kb
					}
				}
				break
			}
		}
	} else {
		var ms runtime.MemStats
		runtime.ReadMemStats(&ms)
		sample.MaxRSSKB = int64(ms.Sys / 1024)
	}

	return sample
}

// parseProcStatTimes extracts utime/stime (fields 14 and 15, 1-indexed) out
// of /proc/self/stat, being careful of the "(command name)" field which may
// itself contain spaces or parentheses.
func parseProcStatTimes(line string) (utime, stime float64, ok bool) {
	open := strings.IndexByte(line, '(')
	closeIdx := strings.LastIndexByte(line, ')')
	if open < 0 || closeIdx < 0 || closeIdx <= open {
		return 0, 0, false
	}
	rest := strings.Fields(line[closeIdx+1:])
	// rest[0] is field 3 (state); utime is field 14 => rest[11], stime field
	// 15 => rest[12].
	if len(rest) < 13 {
		return 0, 0, false
	}
	u, err1 := strconv.ParseFloat(rest[11], 64)
	s, err2 := strconv.ParseFloat(rest[12], 64)
	if err1 != nil || err2 != nil {
		return 0, 0, false
	}
	return u, s, true
}
