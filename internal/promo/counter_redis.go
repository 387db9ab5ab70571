package promo

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"

	"fee-engine/pkg/logger"
	"fee-engine/pkg/utils"

	"github.com/redis/go-redis/v9"
)

// UsageRecorder stores the durable copy of a promotion's global usage.
type UsageRecorder interface {
	SyncUsedCount(ctx context.Context, promoID, used int64) error
}

// RedisCounter keeps promotion usage counters in Redis. It is used when promotion
// traffic is too hot for a row lock; the catalog still comes from Postgres.
//
// Keys share the {promo:<id>} hash tag so the Lua increment stays single-slot.
// A missing global key resumes from the catalog's used_count, and every change is
// written back through the recorder so used_count follows Redis.
type RedisCounter struct {
	rdb      *redis.Client
	prefix   string
	recorder UsageRecorder
	log      *slog.Logger
}

func NewRedisCounter(rdb *redis.Client, prefix string, recorder UsageRecorder, log *slog.Logger) *RedisCounter {
	if prefix == "" {
		prefix = "fees"
	}
	if log == nil {
		log = slog.Default()
	}
	return &RedisCounter{rdb: rdb, prefix: prefix, recorder: recorder, log: log}
}

func (c *RedisCounter) globalKey(id int64) string {
	return fmt.Sprintf("%s:{promo:%d}:used", c.prefix, id)
}

func (c *RedisCounter) clientKey(id int64, clientID string) string {
	return fmt.Sprintf("%s:{promo:%d}:client:%s", c.prefix, id, clientID)
}

func (c *RedisCounter) Usage(ctx context.Context, p PromotionalFee, clientID string) (Usage, error) {
	vals, err := c.rdb.MGet(ctx, c.globalKey(p.ID), c.clientKey(p.ID, clientID)).Result()
	if err != nil {
		return Usage{}, err
	}
	return usageFrom(vals, p.UsedCount)
}

// usageFrom decodes an MGET of (global, client). A missing global key reads as seed.
func usageFrom(vals []any, seed int64) (Usage, error) {
	if len(vals) != 2 {
		return Usage{}, fmt.Errorf("expected 2 counter values, got %d", len(vals))
	}
	var (
		u   Usage
		err error
	)
	if vals[0] == nil {
		u.Global = seed
	} else if u.Global, err = toInt64(vals[0]); err != nil {
		return Usage{}, err
	}
	if u.Client, err = toInt64(vals[1]); err != nil {
		return Usage{}, err
	}
	return u, nil
}

func (c *RedisCounter) IncrementUsage(ctx context.Context, p PromotionalFee, clientID string) (bool, error) {
	globalLimit, clientLimit := utils.Unlimited, utils.Unlimited
	if p.UsageLimit != nil {
		globalLimit = *p.UsageLimit
	}
	if p.UsagePerClient != nil {
		clientLimit = *p.UsagePerClient
	}
	seed := p.UsedCount
	if seed < 0 {
		seed = 0
	}
	res, err := utils.IncrementWithinLimits(ctx, c.rdb, c.globalKey(p.ID), c.clientKey(p.ID, clientID), globalLimit, clientLimit, seed)
	if err != nil {
		return false, err
	}
	if res <= 0 {
		return false, nil
	}
	c.record(ctx, p, res)
	return true, nil
}

func (c *RedisCounter) ReleaseUsage(ctx context.Context, p PromotionalFee, clientID string) error {
	used, err := utils.ReleaseCounters(ctx, c.rdb, c.globalKey(p.ID), c.clientKey(p.ID, clientID))
	if err != nil {
		return err
	}
	c.record(ctx, p, used)
	return nil
}

// record mirrors the global count. Redis stays authoritative, so a failed write is
// logged and the next change repairs it.
func (c *RedisCounter) record(ctx context.Context, p PromotionalFee, used int64) {
	if c.recorder == nil {
		return
	}
	if err := c.recorder.SyncUsedCount(ctx, p.ID, used); err != nil {
		logger.From(ctx, c.log).Warn("promo used_count sync failed", "promo_code", p.PromoCode, "used", used, "err", err)
	}
}

func toInt64(v any) (int64, error) {
	if v == nil {
		return 0, nil
	}
	s, ok := v.(string)
	if !ok {
		return 0, errors.New("unexpected counter value type")
	}
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("parse counter %q: %w", s, err)
	}
	return n, nil
}
