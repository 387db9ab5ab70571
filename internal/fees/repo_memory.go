package fees

import (
	"context"
	"sort"
	"sync"
	"time"

	"fee-engine/internal/pricing"
)

// MemoryLogStore is an in-memory append-only log store for tests and local runs.
type MemoryLogStore struct {
	mu   sync.RWMutex
	logs []CalculationLog
}

func NewMemoryLogStore() *MemoryLogStore { return &MemoryLogStore{} }

func (s *MemoryLogStore) AppendCalculationLog(ctx context.Context, log CalculationLog) error {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()

	if log.Method != MethodManual {
		for _, e := range s.logs {
			if e.Method != MethodManual && e.TransactionID == log.TransactionID && e.FeeType == log.FeeType {
				return ErrDuplicateCalculation
			}
		}
	}
	s.logs = append(s.logs, log)
	return nil
}

func (s *MemoryLogStore) FindCalculation(ctx context.Context, transactionID string, feeType pricing.FeeType) (CalculationLog, bool, error) {
	_ = ctx
	s.mu.RLock()
	defer s.mu.RUnlock()

	// Appends are chronological, so the last match is the effective log.
	for i := len(s.logs) - 1; i >= 0; i-- {
		e := s.logs[i]
		if e.TransactionID == transactionID && e.FeeType == feeType {
			return e, true, nil
		}
	}
	return CalculationLog{}, false, nil
}

func (s *MemoryLogStore) ListCalculationLogs(ctx context.Context, clientID string, from, to time.Time) ([]CalculationLog, error) {
	_ = ctx
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []CalculationLog
	for _, e := range s.logs {
		if e.ClientID != clientID || !inWindow(e.AccountedAt(), from, to) {
			continue
		}
		out = append(out, e)
	}
	sort.SliceStable(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (s *MemoryLogStore) ListClients(ctx context.Context, from, to time.Time) ([]string, error) {
	_ = ctx
	s.mu.RLock()
	defer s.mu.RUnlock()

	seen := map[string]struct{}{}
	for _, e := range s.logs {
		if !inWindow(e.AccountedAt(), from, to) {
			continue
		}
		seen[e.ClientID] = struct{}{}
	}
	out := make([]string, 0, len(seen))
	for c := range seen {
		out = append(out, c)
	}
	sort.Strings(out)
	return out, nil
}

func inWindow(t, from, to time.Time) bool {
	return !t.Before(from) && t.Before(to)
}
