package reconciliation

import (
	"context"
	"encoding/json"
	"sort"
	"sync"
)

// MemoryStore keeps records as encoded JSON so reads never alias what a caller holds.
type MemoryStore struct {
	mu   sync.RWMutex
	recs map[string][]byte
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{recs: map[string][]byte{}}
}

func storeKey(period, clientID string) string { return period + "\x00" + clientID }

func (s *MemoryStore) GetReconciliation(ctx context.Context, period, clientID string) (FeeReconciliation, bool, error) {
	_ = ctx
	s.mu.RLock()
	raw, ok := s.recs[storeKey(period, clientID)]
	s.mu.RUnlock()
	if !ok {
		return FeeReconciliation{}, false, nil
	}
	var rec FeeReconciliation
	if err := json.Unmarshal(raw, &rec); err != nil {
		return FeeReconciliation{}, false, err
	}
	return rec, true, nil
}

func (s *MemoryStore) UpsertReconciliation(ctx context.Context, rec FeeReconciliation) error {
	_ = ctx
	raw, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.recs[storeKey(rec.Period, rec.ClientID)] = raw
	s.mu.Unlock()
	return nil
}

func (s *MemoryStore) ListReconciliations(ctx context.Context, period string) ([]FeeReconciliation, error) {
	_ = ctx
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []FeeReconciliation
	for _, raw := range s.recs {
		var rec FeeReconciliation
		if err := json.Unmarshal(raw, &rec); err != nil {
			return nil, err
		}
		if rec.Period == period {
			out = append(out, rec)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ClientID < out[j].ClientID })
	return out, nil
}
