package audit

import (
	"context"
	"sort"
	"sync"
)

// MemoryRepo is the in-memory fee_audit_events table used by tests and local runs.
// Like the table, it is insert-only and keyed by event id.
type MemoryRepo struct {
	mu     sync.Mutex
	events []Event
	ids    map[string]struct{}
}

func NewMemoryRepo() *MemoryRepo { return &MemoryRepo{ids: map[string]struct{}{}} }

func (r *MemoryRepo) Append(ctx context.Context, e Event) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, dup := r.ids[e.ID]; dup {
		return ErrDuplicateEvent
	}
	r.ids[e.ID] = struct{}{}
	r.events = append(r.events, e)
	return nil
}

// Events returns every event in append order.
func (r *MemoryRepo) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Event, len(r.events))
	copy(out, r.events)
	return out
}

// Filter selects events in Find. Zero fields match anything.
type Filter struct {
	ClientID         string
	Type             EventType
	TransactionID    string
	ReconciliationID string
	ConfigurationID  int64
}

func (f Filter) matches(e Event) bool {
	switch {
	case f.ClientID != "" && e.ClientID != f.ClientID:
		return false
	case f.Type != "" && e.Type != f.Type:
		return false
	case f.TransactionID != "" && e.TransactionID != f.TransactionID:
		return false
	case f.ReconciliationID != "" && e.ReconciliationID != f.ReconciliationID:
		return false
	case f.ConfigurationID != 0 && e.ConfigurationID != f.ConfigurationID:
		return false
	}
	return true
}

// Find returns the events matching f, oldest first.
func (r *MemoryRepo) Find(f Filter) []Event {
	r.mu.Lock()
	defer r.mu.Unlock()

	var out []Event
	for _, e := range r.events {
		if f.matches(e) {
			out = append(out, e)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}
