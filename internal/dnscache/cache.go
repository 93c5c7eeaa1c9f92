// Package dnscache implements the host resolver with a periodically
// swept cache (spec §4.3). The cache is a flush, not a per-entry TTL: a
// single timer atomically replaces the whole map with an empty one every
// sweep interval (spec §9 open question (b): "setCacheTimeout ... behaves as
// a periodic wipe, not TTL -- retain that behavior").
package dnscache

import (
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/miekg/dns"
	"github.com/sirupsen/logrus"
)

// Endpoint is one resolved address for a (host, service) query.
type Endpoint struct {
	IP   net.IP
	Port uint16
}

// Resolver performs the actual lookup for a cache miss. The production
// implementation queries nameservers directly via miekg/dns so the proxy is
// not at the mercy of the OS resolver's own caching; StaticResolver (in
// static.go) is used by tests and for pinning.
type Resolver interface {
	Resolve(host, service string) ([]Endpoint, error)
}

// DNSResolver resolves A/AAAA records using a miekg/dns client against the
// nameservers named in a resolv.conf-style config.
type DNSResolver struct {
	client  *dns.Client
	servers []string
	log     *logrus.Entry
}

// NewDNSResolver builds a resolver reading nameservers from resolvConfPath
// (use "/etc/resolv.conf" in production).
func NewDNSResolver(resolvConfPath string, log *logrus.Entry) (*DNSResolver, error) {
	cfg, err := dns.ClientConfigFromFile(resolvConfPath)
	if err != nil {
		return nil, fmt.Errorf("dnscache: reading %s: %w", resolvConfPath, err)
	}
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	servers := make([]string, 0, len(cfg.Servers))
	for _, s := range cfg.Servers {
		servers = append(servers, net.JoinHostPort(s, cfg.Port))
	}
	return &DNSResolver{client: new(dns.Client), servers: servers, log: log}, nil
}

func (r *DNSResolver) Resolve(host, service string) ([]Endpoint, error) {
	port, err := net.LookupPort("tcp", service)
	if err != nil {
		// service may already be numeric.
		if p, perr := parsePort(service); perr == nil {
			port = p
		} else {
			return nil, fmt.Errorf("dnscache: bad service %q: %w", service, err)
		}
	}

	if ip := net.ParseIP(host); ip != nil {
		return []Endpoint{{IP: ip, Port: uint16(port)}}, nil
	}

	msg := new(dns.Msg)
	msg.SetQuestion(dns.Fqdn(host), dns.TypeA)

	var lastErr error
	for _, server := range r.servers {
		resp, _, err := r.client.Exchange(msg, server)
		if err != nil {
			lastErr = err
			continue
		}
		var out []Endpoint
		for _, ans := range resp.Answer {
			if a, ok := ans.(*dns.A); ok {
				out = append(out, Endpoint{IP: a.A, Port: uint16(port)})
			}
		}
		if len(out) > 0 {
			return out, nil
		}
		lastErr = fmt.Errorf("dnscache: no A records for %s", host)
	}
	if lastErr == nil {
		lastErr = fmt.Errorf("dnscache: no nameservers configured")
	}
	return nil, lastErr
}

func parsePort(s string) (int, error) {
	var p int
	_, err := fmt.Sscanf(s, "%d", &p)
	return p, err
}

type key struct{ host, service string }

// Cache is the TTL-swept (flush) cache fronting a Resolver. Entries may
// also be set or cleared manually via Set/Clear for static pinning and
// tests.
type Cache struct {
	resolver Resolver
	sweep    time.Duration

	mu      sync.Mutex
	entries map[key][]Endpoint

	stopOnce sync.Once
	stop     chan struct{}
}

const DefaultSweepInterval = 1000 * time.Millisecond

// New builds a Cache with the given sweep interval and starts its
// background sweep timer. Call Close to stop the timer.
func New(resolver Resolver, sweepInterval time.Duration) *Cache {
	if sweepInterval <= 0 {
		sweepInterval = DefaultSweepInterval
	}
	c := &Cache{
		resolver: resolver,
		sweep:    sweepInterval,
		entries:  make(map[key][]Endpoint),
		stop:     make(chan struct{}),
	}
	go c.sweepLoop()
	return c
}

func (c *Cache) sweepLoop() {
	t := time.NewTicker(c.sweep)
	defer t.Stop()
	for {
		select {
		case <-t.C:
			c.mu.Lock()
			c.entries = make(map[key][]Endpoint)
			c.mu.Unlock()
		case <-c.stop:
			return
		}
	}
}

// Close stops the sweep timer. Safe to call more than once.
func (c *Cache) Close() {
	c.stopOnce.Do(func() { close(c.stop) })
}

// Resolve returns cached endpoints for (host, service) or performs a fresh
// resolution on a miss. A resolution failure is returned synchronously and
// the cache is left unpopulated for that key (spec §4.3: "the cache is not
// populated with negative results").
func (c *Cache) Resolve(host, service string) ([]Endpoint, error) {
	k := key{host, service}
	c.mu.Lock()
	if eps, ok := c.entries[k]; ok {
		c.mu.Unlock()
		return eps, nil
	}
	c.mu.Unlock()

	eps, err := c.resolver.Resolve(host, service)
	if err != nil {
		return nil, err
	}
	c.mu.Lock()
	c.entries[k] = eps
	c.mu.Unlock()
	return eps, nil
}

// Set manually installs an entry, bypassing resolution (static pinning,
// tests).
func (c *Cache) Set(host, service string, eps []Endpoint) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key{host, service}] = eps
}

// ClearEntry removes a single manually-or-resolution-populated entry.
func (c *Cache) ClearEntry(host, service string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, key{host, service})
}

// ClearAll empties the cache immediately, outside of the sweep timer.
func (c *Cache) ClearAll() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[key][]Endpoint)
}
