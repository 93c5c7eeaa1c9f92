// Package vhoststate tracks the pause flag the control channel's VHOST
// PAUSE|UNPAUSE verbs set per vhost (spec §4.5, scenario S5). It is
// consulted both when a new session reaches the Connected phase (so a
// session arriving after the pause still starts paused) and by the server
// when propagating a pause to already-connected sessions for that vhost.
package vhoststate

import "sync"

type Registry struct {
	mu     sync.RWMutex
	paused map[string]bool
}

func NewRegistry() *Registry {
	return &Registry{paused: make(map[string]bool)}
}

func (r *Registry) Pause(vhost string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.paused[vhost] = true
}

func (r *Registry) Unpause(vhost string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.paused, vhost)
}

func (r *Registry) IsPaused(vhost string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.paused[vhost]
}

// Paused returns a snapshot of every currently-paused vhost, for VHOST
// PRINT.
func (r *Registry) Paused() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.paused))
	for v := range r.paused {
		out = append(out, v)
	}
	return out
}
