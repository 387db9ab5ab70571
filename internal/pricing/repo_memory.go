package pricing

import (
	"context"
	"sync"
)

// MemoryRepo is a simple in-memory repository useful for tests and early development.
//
// NOTE: This is not intended for production; use PostgresRepo.
type MemoryRepo struct {
	mu     sync.RWMutex
	nextID int64
	items  map[int64]FeeConfiguration
}

func NewMemoryRepo(seed ...FeeConfiguration) *MemoryRepo {
	r := &MemoryRepo{items: map[int64]FeeConfiguration{}}
	for _, c := range seed {
		if c.ID == 0 {
			r.nextID++
			c.ID = r.nextID
		} else if c.ID > r.nextID {
			r.nextID = c.ID
		}
		r.items[c.ID] = c
	}
	return r
}

func (r *MemoryRepo) GetApplicableConfigurations(ctx context.Context, clientID string, feeType FeeType) ([]FeeConfiguration, error) {
	_ = ctx
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []FeeConfiguration
	for _, c := range r.items {
		if c.FeeType != feeType {
			continue
		}
		if !c.IsDefault() && *c.ClientID != clientID {
			continue
		}
		out = append(out, c)
	}
	return out, nil
}

func (r *MemoryRepo) Create(ctx context.Context, cfg FeeConfiguration) (FeeConfiguration, error) {
	_ = ctx
	r.mu.Lock()
	defer r.mu.Unlock()

	r.nextID++
	cfg.ID = r.nextID
	r.items[cfg.ID] = cfg
	return cfg, nil
}

func (r *MemoryRepo) Get(ctx context.Context, id int64) (FeeConfiguration, error) {
	_ = ctx
	r.mu.RLock()
	defer r.mu.RUnlock()

	c, ok := r.items[id]
	if !ok {
		return FeeConfiguration{}, ErrNotFound
	}
	return c, nil
}

func (r *MemoryRepo) ApplyApproval(ctx context.Context, approved FeeConfiguration, superseded []FeeConfiguration) error {
	_ = ctx
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.items[approved.ID]; !ok {
		return ErrNotFound
	}
	for _, s := range superseded {
		if _, ok := r.items[s.ID]; !ok {
			return ErrNotFound
		}
	}
	r.items[approved.ID] = approved
	for _, s := range superseded {
		r.items[s.ID] = s
	}
	return nil
}

func (r *MemoryRepo) UpdateLifecycle(ctx context.Context, cfg FeeConfiguration) error {
	_ = ctx
	r.mu.Lock()
	defer r.mu.Unlock()

	cur, ok := r.items[cfg.ID]
	if !ok {
		return ErrNotFound
	}
	cur.IsActive = cfg.IsActive
	cur.ApprovalStatus = cfg.ApprovalStatus
	cur.EffectiveUntil = cfg.EffectiveUntil
	cur.UpdatedAt = cfg.UpdatedAt
	r.items[cfg.ID] = cur
	return nil
}
