package agent

import (
	"fmt"
	"sort"
	"time"
)

// Registry is the shared agent-state store. It is not safe for concurrent
// use: one goroutine owns it and everyone else goes through that goroutine's
// request channels. The single-writer claim protocol, not locking, is what
// keeps cross-node state consistent.
type Registry struct {
	agents map[string]*Record
}

func NewRegistry() *Registry {
	return &Registry{agents: map[string]*Record{}}
}

func (r *Registry) Add(rec *Record) error {
	if rec == nil || rec.ID == "" {
		return fmt.Errorf("registry: empty agent id")
	}
	if _, ok := r.agents[rec.ID]; ok {
		return fmt.Errorf("registry: duplicate agent %s", rec.ID)
	}
	r.agents[rec.ID] = rec
	return nil
}

// Get returns the live record, or nil. Callers on the owning goroutine may
// mutate it directly.
func (r *Registry) Get(id string) *Record {
	return r.agents[id]
}

// Remove deletes and returns the record, or nil if absent.
func (r *Registry) Remove(id string) *Record {
	rec := r.agents[id]
	delete(r.agents, id)
	return rec
}

func (r *Registry) Len() int { return len(r.agents) }

// IDs returns agent IDs in sorted order so iteration stays deterministic.
func (r *Registry) IDs() []string {
	ids := make([]string, 0, len(r.agents))
	for id := range r.agents {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Each visits records in sorted ID order.
func (r *Registry) Each(fn func(*Record)) {
	for _, id := range r.IDs() {
		fn(r.agents[id])
	}
}

// Snapshot returns deep copies safe to hand to another goroutine.
func (r *Registry) Snapshot() []*Record {
	out := make([]*Record, 0, len(r.agents))
	for _, id := range r.IDs() {
		out = append(out, r.agents[id].Clone())
	}
	return out
}

// OwnedBy returns the IDs of all agents owned by a node, sorted.
func (r *Registry) OwnedBy(node string) []string {
	var ids []string
	for id, rec := range r.agents {
		if rec.Owner == node {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids
}

// SetOwner records an accepted claim: bumps the claim version, stamps the
// update clock, and flips status to claimed.
func (r *Registry) SetOwner(id, node string, now time.Time) (version uint64, ok bool) {
	rec := r.agents[id]
	if rec == nil {
		return 0, false
	}
	rec.Owner = node
	rec.ClaimVersion++
	rec.Status = StatusClaimed
	rec.LastUpdate = now
	return rec.ClaimVersion, true
}

// ClearOwner orphans an agent. The claim version advances so stale owners
// cannot mistake their old grant for the current one.
func (r *Registry) ClearOwner(id string, now time.Time) bool {
	rec := r.agents[id]
	if rec == nil {
		return false
	}
	rec.Owner = ""
	rec.ClaimVersion++
	rec.Status = StatusOrphaned
	rec.LastUpdate = now
	return true
}
