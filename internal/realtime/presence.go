package realtime

import (
	"sort"
	"sync"
)

// Presence derives online/offline semantics from per-user connection
// counts.  A user with two browser tabs open has a count of two; closing
// one tab decrements the count without any offline transition.  Events
// fire only when a count crosses the 0↔1 boundary, never on every
// connect/disconnect, so multi-tab users cannot cause event storms.
//
// Presence is an explicitly owned instance handed to the hub, guarded by
// one mutex – never ambient package state.
type Presence struct {
	mu     sync.Mutex
	counts map[uint64]int
}

// NewPresence returns an empty presence registry.
func NewPresence() *Presence {
	return &Presence{counts: make(map[uint64]int)}
}

// Bind records one more connection for the user and reports whether the
// user just came online (count crossed 0→1).
func (p *Presence) Bind(userID uint64) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.counts[userID]++
	return p.counts[userID] == 1
}

// Unbind records one fewer connection for the user and reports whether
// the user just went offline (count crossed 1→0).  Unbinding a user with
// no recorded connections is a no-op.
func (p *Presence) Unbind(userID uint64) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	n, ok := p.counts[userID]
	if !ok {
		return false
	}
	if n <= 1 {
		delete(p.counts, userID)
		return true
	}
	p.counts[userID] = n - 1
	return false
}

// Snapshot returns every user currently online, sorted.  Newly connected
// clients request this explicitly; broadcast-only transitions would leave
// late joiners with no way to learn existing state.
func (p *Presence) Snapshot() []uint64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	online := make([]uint64, 0, len(p.counts))
	for id := range p.counts {
		online = append(online, id)
	}
	sort.Slice(online, func(i, j int) bool { return online[i] < online[j] })
	return online
}
