package promo

import (
	"context"
	"sync"
)

// MemoryStore is an in-memory promotion catalog and usage counter for tests and local
// runs. A single mutex makes IncrementUsage's check-and-increment atomic.
type MemoryStore struct {
	mu     sync.Mutex
	nextID int64
	byCode map[string]*PromotionalFee
	client map[int64]map[string]int64
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		byCode: map[string]*PromotionalFee{},
		client: map[int64]map[string]int64{},
	}
}

func (s *MemoryStore) CreatePromotion(ctx context.Context, p PromotionalFee) (PromotionalFee, error) {
	_ = ctx
	if err := p.Validate(); err != nil {
		return PromotionalFee{}, err
	}
	p.PromoCode = NormalizeCode(p.PromoCode)

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.byCode[p.PromoCode]; exists {
		return PromotionalFee{}, ErrDuplicateCode
	}
	s.nextID++
	p.ID = s.nextID
	cp := p
	s.byCode[p.PromoCode] = &cp
	return p, nil
}

func (s *MemoryStore) GetPromotion(ctx context.Context, code string) (PromotionalFee, bool, error) {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.byCode[NormalizeCode(code)]
	if !ok {
		return PromotionalFee{}, false, nil
	}
	return *p, true, nil
}

func (s *MemoryStore) Usage(ctx context.Context, p PromotionalFee, clientID string) (Usage, error) {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()

	cur, ok := s.byCode[NormalizeCode(p.PromoCode)]
	if !ok {
		return Usage{}, ErrNotFound
	}
	return Usage{Global: cur.UsedCount, Client: s.client[cur.ID][clientID]}, nil
}

func (s *MemoryStore) IncrementUsage(ctx context.Context, p PromotionalFee, clientID string) (bool, error) {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()

	cur, ok := s.byCode[NormalizeCode(p.PromoCode)]
	if !ok {
		return false, ErrNotFound
	}
	if cur.UsageLimit != nil && cur.UsedCount >= *cur.UsageLimit {
		return false, nil
	}
	perClient := s.client[cur.ID]
	if cur.UsagePerClient != nil && perClient[clientID] >= *cur.UsagePerClient {
		return false, nil
	}
	if perClient == nil {
		perClient = map[string]int64{}
		s.client[cur.ID] = perClient
	}
	cur.UsedCount++
	perClient[clientID]++
	return true, nil
}

func (s *MemoryStore) ReleaseUsage(ctx context.Context, p PromotionalFee, clientID string) error {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()

	cur, ok := s.byCode[NormalizeCode(p.PromoCode)]
	if !ok {
		return ErrNotFound
	}
	if cur.UsedCount > 0 {
		cur.UsedCount--
	}
	if s.client[cur.ID][clientID] > 0 {
		s.client[cur.ID][clientID]--
	}
	return nil
}

// SyncUsedCount mirrors a counter kept elsewhere into the catalog.
func (s *MemoryStore) SyncUsedCount(ctx context.Context, promoID, used int64) error {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, p := range s.byCode {
		if p.ID == promoID {
			p.UsedCount = used
			return nil
		}
	}
	return ErrNotFound
}
