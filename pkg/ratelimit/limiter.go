package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/rmartins/orderflow-backend/pkg/config"
)

// Class partitions admission control between cheap reads and mutating writes.
type Class string

const (
	ClassRead  Class = "read"
	ClassWrite Class = "write"
)

// tokenBucketScript refills and deducts in one server-side step so
// concurrent callers against the same bucket never lose updates.
var tokenBucketScript = redis.NewScript(`
local key = KEYS[1]
local capacity = tonumber(ARGV[1])
local refill_rate = tonumber(ARGV[2])
local now = tonumber(ARGV[3])
local requested = tonumber(ARGV[4])

local data = redis.call('HMGET', key, 'tokens', 'ts')
local tokens = tonumber(data[1])
local ts = tonumber(data[2])

if tokens == nil then tokens = capacity end
if ts == nil then ts = now end

local delta = math.max(0, now - ts)
local refill = delta * refill_rate
tokens = math.min(capacity, tokens + refill)

local allowed = 0
if tokens >= requested then
  allowed = 1
  tokens = tokens - requested
end

redis.call('HMSET', key, 'tokens', tokens, 'ts', now)
local ttl = math.ceil(capacity / refill_rate)
redis.call('EXPIRE', key, ttl)

return {allowed, math.floor(tokens), ttl}
`)

// Decision is the outcome of a single admission check.
type Decision struct {
	Allowed    bool
	Remaining  int64
	RetryAfter time.Duration
	Limit      int
}

type keyBuilder interface {
	RateLimitKey(tenantID, subject, class string) string
}

// Limiter is a continuous-refill token bucket backed by Redis. Capacity is
// the per-class per-minute limit; the bucket refills at capacity/60 tokens
// per second and expires after one full refill window of inactivity.
type Limiter struct {
	scripter redis.Scripter
	keys     keyBuilder
	cfg      config.RateLimitConfig
	now      func() time.Time
}

// New builds a Limiter from the shared redis client.
func New(scripter redis.Scripter, keys keyBuilder, cfg config.RateLimitConfig) (*Limiter, error) {
	if scripter == nil {
		return nil, errors.New("redis scripter is required")
	}
	if keys == nil {
		return nil, errors.New("key builder is required")
	}
	return &Limiter{
		scripter: scripter,
		keys:     keys,
		cfg:      cfg,
		now:      time.Now,
	}, nil
}

func (l *Limiter) limitFor(class Class) int {
	if class == ClassWrite {
		return l.cfg.WritePerMinute
	}
	return l.cfg.ReadPerMinute
}

// Consume attempts to deduct one token from the bucket identified by
// tenant, subject, and class.
func (l *Limiter) Consume(ctx context.Context, tenantID, subject string, class Class) (Decision, error) {
	limit := l.limitFor(class)
	if limit <= 0 {
		return Decision{Allowed: true, Remaining: -1, Limit: 0}, nil
	}

	capacity := float64(limit)
	refillRate := capacity / 60.0
	now := float64(l.now().UnixMilli()) / 1000.0
	key := l.keys.RateLimitKey(tenantID, subject, string(class))

	res, err := tokenBucketScript.Run(ctx, l.scripter, []string{key}, capacity, refillRate, now, 1).Result()
	if err != nil {
		return Decision{}, fmt.Errorf("token bucket script: %w", err)
	}

	values, ok := res.([]interface{})
	if !ok || len(values) != 3 {
		return Decision{}, fmt.Errorf("unexpected token bucket reply: %v", res)
	}

	allowed := toInt64(values[0]) == 1
	remaining := toInt64(values[1])
	if remaining < 0 {
		remaining = 0
	}

	decision := Decision{
		Allowed:   allowed,
		Remaining: remaining,
		Limit:     limit,
	}
	if !allowed {
		decision.RetryAfter = time.Second
	}
	return decision, nil
}

func toInt64(value interface{}) int64 {
	switch v := value.(type) {
	case int64:
		return v
	case int:
		return int64(v)
	default:
		return 0
	}
}
