package limiter

import "sync"

// VHostLimits bundles the three limiter kinds spec §4.6 names for a single
// vhost: a fixed-window connection-rate limiter, a total-connection-count
// limiter, and a data-rate limiter with its alarm threshold.
type VHostLimits struct {
	ConnRate  *FixedWindowConnectionRate
	ConnCount *TotalConnectionLimiter
	DataRate  *DataRateLimit
}

// Registry holds VHostLimits per vhost, created on first use with
// permissive defaults (unlimited) so a vhost with no LIMIT commands issued
// against it never blocks a connection. The control channel's LIMIT verbs
// mutate entries returned by this registry; the data plane consults it at
// accept time (conn-rate/conn-count) and during splice (data-rate).
type Registry struct {
	mu  sync.Mutex
	byVhost map[string]*VHostLimits
}

func NewRegistry() *Registry {
	return &Registry{byVhost: make(map[string]*VHostLimits)}
}

// Get returns (creating if necessary) the VHostLimits for vhost.
func (r *Registry) Get(vhost string) *VHostLimits {
	r.mu.Lock()
	defer r.mu.Unlock()
	l, ok := r.byVhost[vhost]
	if !ok {
		l = &VHostLimits{
			ConnRate:  NewFixedWindowConnectionRate(1<<30, 1000, nil),
			ConnCount: NewTotalConnectionLimiter(1 << 30),
			DataRate:  NewDataRateLimit(MaxQuota),
		}
		r.byVhost[vhost] = l
	}
	return l
}

// Snapshot returns every vhost currently tracked, for LIMIT/STAT printing.
func (r *Registry) Snapshot() map[string]*VHostLimits {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(map[string]*VHostLimits, len(r.byVhost))
	for k, v := range r.byVhost {
		out[k] = v
	}
	return out
}

// Tick calls OnTimer on every tracked vhost's data-rate limiter; the proxy
// server's limiterTickLoop calls it once per second.
func (r *Registry) Tick() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, l := range r.byVhost {
		l.DataRate.OnTimer()
	}
}
