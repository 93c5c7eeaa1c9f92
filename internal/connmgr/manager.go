// Package connmgr implements the ConnectionManager: given a BackendSet
// snapshot, a selector, and a retry count, it yields the next backend to
// attempt (spec §4 "Connection manager").
package connmgr

import (
	"github.com/amqpprox/amqpprox/internal/backend"
	"github.com/amqpprox/amqpprox/internal/farm"
)

// Manager wraps a materialized BackendSet and selector for one session's
// retry loop. A fresh Manager is constructed each time a session acquires a
// connection (spec §3 "BackendSet ... created fresh each time a session
// acquires a connection").
type Manager struct {
	set      *farm.BackendSet
	selector farm.BackendSelector
}

func New(set *farm.BackendSet, selector farm.BackendSelector) *Manager {
	return &Manager{set: set, selector: selector}
}

// Next returns the backend to attempt for retryCount, or ok == false once
// the selector has exhausted every partition.
func (m *Manager) Next(retryCount int) (b *backend.Backend, ok bool) {
	if m.selector == nil {
		return nil, false
	}
	got, _, ok := m.selector.Select(m.set, retryCount)
	return got, ok
}
