package utils

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisConfig controls redis client behavior.
// Keep it config-driven; defaults should be safe and conservative.
type RedisConfig struct {
	Addr     string
	Password string

	// Basic timeouts
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration

	// Pool tuning
	PoolSize        int
	MinIdleConns    int
	PoolTimeout     time.Duration
	ConnMaxIdleTime time.Duration
	ConnMaxLifetime time.Duration

	PingTimeout time.Duration
}

func (c RedisConfig) withDefaults() RedisConfig {
	out := c
	if out.DialTimeout <= 0 {
		out.DialTimeout = 3 * time.Second
	}
	if out.ReadTimeout <= 0 {
		out.ReadTimeout = 2 * time.Second
	}
	if out.WriteTimeout <= 0 {
		out.WriteTimeout = 2 * time.Second
	}
	if out.PoolSize <= 0 {
		out.PoolSize = 20
	}
	if out.MinIdleConns < 0 {
		out.MinIdleConns = 0
	}
	if out.PoolTimeout <= 0 {
		out.PoolTimeout = 4 * time.Second
	}
	if out.ConnMaxIdleTime <= 0 {
		out.ConnMaxIdleTime = 5 * time.Minute
	}
	if out.ConnMaxLifetime <= 0 {
		out.ConnMaxLifetime = 30 * time.Minute
	}
	if out.PingTimeout <= 0 {
		out.PingTimeout = 2 * time.Second
	}
	return out
}

// OpenRedis initializes a Redis client and validates connectivity via PING.
func OpenRedis(ctx context.Context, cfg RedisConfig) (*redis.Client, error) {
	cfg = cfg.withDefaults()
	if cfg.Addr == "" {
		return nil, fmt.Errorf("redis addr is required")
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:            cfg.Addr,
		Password:        cfg.Password,
		DialTimeout:     cfg.DialTimeout,
		ReadTimeout:     cfg.ReadTimeout,
		WriteTimeout:    cfg.WriteTimeout,
		PoolSize:        cfg.PoolSize,
		MinIdleConns:    cfg.MinIdleConns,
		PoolTimeout:     cfg.PoolTimeout,
		ConnMaxIdleTime: cfg.ConnMaxIdleTime,
		ConnMaxLifetime: cfg.ConnMaxLifetime,
	})

	pingCtx, cancel := context.WithTimeout(ctx, cfg.PingTimeout)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}
	return rdb, nil
}

// Unlimited disables a limit in IncrementWithinLimits.
const Unlimited int64 = -1

// Refusals of IncrementWithinLimits. A positive result is the new global count.
const (
	LimitGlobalExhausted = 0
	LimitScopeExhausted  = -1
)

var limitedIncrementScript = redis.NewScript(`
-- KEYS[1] = global counter key
-- KEYS[2] = scoped counter key (e.g. per client)
-- ARGV[1] = global limit (int, -1 = unlimited)
-- ARGV[2] = scoped limit (int, -1 = unlimited)
-- ARGV[3] = starting value of a missing global key
--
-- Returns:
--  n > 0 the new global count, both counters were incremented
--  0 if the global limit is reached
-- -1 if the scoped limit is reached
local global = tonumber(redis.call('GET', KEYS[1]) or ARGV[3])
local scoped = tonumber(redis.call('GET', KEYS[2]) or '0')
local gl = tonumber(ARGV[1])
local sl = tonumber(ARGV[2])

if gl >= 0 and global >= gl then
  return 0
end
if sl >= 0 and scoped >= sl then
  return -1
end
global = global + 1
redis.call('SET', KEYS[1], global)
redis.call('SET', KEYS[2], scoped + 1)
return global
`)

var counterReleaseScript = redis.NewScript(`
-- KEYS = counters to decrement, KEYS[1] is the global one
-- Each counter drops by one, never below zero. Returns the global count.
for _, k in ipairs(KEYS) do
  local v = tonumber(redis.call('GET', k) or '0')
  if v > 0 then
    redis.call('DECR', k)
  end
end
return tonumber(redis.call('GET', KEYS[1]) or '0')
`)

var lockReleaseScript = redis.NewScript(`
-- KEYS[1] = lock key
-- ARGV[1] = owner token
-- Delete only if still owned by the caller.
if redis.call('GET', KEYS[1]) == ARGV[1] then
  return redis.call('DEL', KEYS[1])
end
return 0
`)

// IncrementWithinLimits increments two counters together, only if neither would pass
// its limit. A missing global key starts at globalSeed, so a counter that was lost or
// never loaded resumes from the durable count instead of zero.
// Returns the new global count, LimitGlobalExhausted or LimitScopeExhausted.
//
// Safety properties:
// - Check and increment run in one Lua script, so concurrent callers near the limit
//   cannot both succeed.
// - Both keys must hash to the same slot in Redis Cluster (use a {hash tag}).
func IncrementWithinLimits(ctx context.Context, rdb redis.Scripter, globalKey, scopedKey string, globalLimit, scopedLimit, globalSeed int64) (int64, error) {
	if rdb == nil {
		return 0, fmt.Errorf("redis client is nil")
	}
	if globalKey == "" || scopedKey == "" {
		return 0, fmt.Errorf("keys are required")
	}
	if globalSeed < 0 {
		return 0, fmt.Errorf("seed must be >= 0")
	}
	return limitedIncrementScript.Run(ctx, rdb, []string{globalKey, scopedKey}, globalLimit, scopedLimit, globalSeed).Int64()
}

// ReleaseCounters decrements each key by one, never below zero, and returns the value
// of the first key. Keys must share a slot in Redis Cluster.
func ReleaseCounters(ctx context.Context, rdb redis.Scripter, keys ...string) (int64, error) {
	if rdb == nil {
		return 0, fmt.Errorf("redis client is nil")
	}
	if len(keys) == 0 {
		return 0, fmt.Errorf("keys are required")
	}
	return counterReleaseScript.Run(ctx, rdb, keys).Int64()
}

// AcquireLock takes a TTL-bounded lock owned by token (SET NX PX).
// The TTL prevents a crashed holder from blocking the key forever.
func AcquireLock(ctx context.Context, rdb *redis.Client, key, token string, ttl time.Duration) (bool, error) {
	if rdb == nil {
		return false, fmt.Errorf("redis client is nil")
	}
	if key == "" || token == "" {
		return false, fmt.Errorf("key and token are required")
	}
	if ttl <= 0 {
		return false, fmt.Errorf("ttl must be > 0")
	}
	return rdb.SetNX(ctx, key, token, ttl).Result()
}

// ReleaseLock releases key if it is still owned by token.
func ReleaseLock(ctx context.Context, rdb *redis.Client, key, token string) error {
	if rdb == nil {
		return fmt.Errorf("redis client is nil")
	}
	if key == "" {
		return fmt.Errorf("key is required")
	}
	_, err := lockReleaseScript.Run(ctx, rdb, []string{key}, token).Result()
	return err
}
