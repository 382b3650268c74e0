// Package registry holds the set of identified chat sessions.
//
// The registry is the only synchronization boundary for membership.
// It never owns a member: removing one does not close its connection.
package registry

import "sync"

// Member is anything the relay can deliver a line to.
type Member interface {
	// ID is unique for the lifetime of the process.
	ID() string
	// Send writes one line to the member.  It may be called from any
	// goroutine, concurrently with the member's own read loop.
	Send(text string) error
}

// Registry is a concurrency-safe set of members keyed by ID.
type Registry struct {
	mu      sync.RWMutex
	members map[string]Member
}

// New returns an empty registry.
func New() *Registry {
	return &Registry{members: make(map[string]Member)}
}

// Add inserts m.  Callers insert each member once, on entering Active.
func (r *Registry) Add(m Member) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.members[m.ID()] = m
}

// Remove deletes m and reports whether it was present.  Removing an
// absent member is a no-op.
func (r *Registry) Remove(m Member) bool {
	if m == nil {
		return false
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.members[m.ID()]; !ok {
		return false
	}
	delete(r.members, m.ID())
	return true
}

// Contains reports whether a member with the given id is present.
func (r *Registry) Contains(id string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.members[id]
	return ok
}

// Len returns the current member count.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.members)
}

// Each calls visit once for every member present when Each was called.
//
// Membership is copied under the read lock and visited after the lock
// is released, so a visit may block on a slow peer, or call Add and
// Remove, without stalling other registry users.
func (r *Registry) Each(visit func(Member)) {
	for _, m := range r.Snapshot() {
		visit(m)
	}
}

// Snapshot returns the current members in no particular order.
func (r *Registry) Snapshot() []Member {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Member, 0, len(r.members))
	for _, m := range r.members {
		out = append(out, m)
	}
	return out
}
