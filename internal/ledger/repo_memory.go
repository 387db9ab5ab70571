package ledger

import (
	"context"
	"sync"
	"time"

	"github.com/shopspring/decimal"
)

// MemoryRepo is an in-memory ledger for tests and local runs.
type MemoryRepo struct {
	mu      sync.RWMutex
	entries []Entry
	byKey   map[string]int
}

func NewMemoryRepo() *MemoryRepo {
	return &MemoryRepo{byKey: map[string]int{}}
}

func (r *MemoryRepo) Insert(ctx context.Context, e Entry) (Entry, bool, error) {
	_ = ctx
	r.mu.Lock()
	defer r.mu.Unlock()

	key := e.ClientID + "\x00" + e.IdempotencyKey
	if i, ok := r.byKey[key]; ok {
		return r.entries[i], false, nil
	}
	r.byKey[key] = len(r.entries)
	r.entries = append(r.entries, e)
	return e, true, nil
}

func (r *MemoryRepo) GetLedgerTotals(ctx context.Context, clientID string, from, to time.Time) (Totals, error) {
	_ = ctx
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := Totals{TotalCharged: decimal.Zero, PerTransaction: map[string]decimal.Decimal{}}
	for _, e := range r.entries {
		if e.ClientID != clientID || e.ChargedAt.Before(from) || !e.ChargedAt.Before(to) {
			continue
		}
		out.PerTransaction[e.TransactionID] = out.PerTransaction[e.TransactionID].Add(e.Amount)
		out.TotalCharged = out.TotalCharged.Add(e.Amount)
	}
	return out, nil
}
