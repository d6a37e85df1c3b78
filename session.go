package mqtt

import (
	"sync"
)

// SubscriptionEntry is one entry in the subscription registry: the
// granted QoS and, for v5 connections, the negotiated subscription
// options. The registry records the QoS granted in SUBACK, never the
// QoS the caller requested.
type SubscriptionEntry struct {
	GrantedQoS uint8
	Options    *SubscribeOptions
}

// subscriptionRegistry is a filter -> entry mapping with insertion
// order preserved, so a restored session rebuilds its subscriptions
// in the same order they were made.
type subscriptionRegistry struct {
	mu      sync.Mutex
	order   []string
	entries map[string]SubscriptionEntry
}

func newSubscriptionRegistry() *subscriptionRegistry {
	return &subscriptionRegistry{entries: make(map[string]SubscriptionEntry)}
}

func (r *subscriptionRegistry) Put(filter string, entry SubscriptionEntry) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.entries[filter]; !exists {
		r.order = append(r.order, filter)
	}
	r.entries[filter] = entry
}

func (r *subscriptionRegistry) Remove(filter string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.entries[filter]; !exists {
		return
	}
	delete(r.entries, filter)
	for i, f := range r.order {
		if f == filter {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
}

// Snapshot returns the registry contents in insertion order.
func (r *subscriptionRegistry) Snapshot() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.order))
	copy(out, r.order)
	return out
}

func (r *subscriptionRegistry) Entries() map[string]SubscriptionEntry {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(map[string]SubscriptionEntry, len(r.entries))
	for k, v := range r.entries {
		out[k] = v
	}
	return out
}

func (r *subscriptionRegistry) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.order = nil
	r.entries = make(map[string]SubscriptionEntry)
}

// SessionState is the persisted shape of a resumable session: the
// subscription registry plus the packet ids of outbound QoS2 exchanges
// that reached the PUBREL stage before the session ended, stamped with
// the unix second it was saved. A Store implementation round-trips
// this verbatim. Only PUBREL-stage ids are persisted, so a resumed
// session replays PUBREL and nothing else for them.
type SessionState struct {
	Subscriptions map[string]SubscriptionEntry `json:"subscriptions"`
	PendingQoS2   []uint16                     `json:"pending_qos2"`
	SavedAt       int64                        `json:"saved_at"`
}
