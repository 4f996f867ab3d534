package goflows

import (
	"context"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// grantScript purges expired members, then adds the permit only if the set is
// still under capacity. Scores are lease deadlines in unix milliseconds, so
// expired permits are exactly the members scoring below "now".
var grantScript = redis.NewScript(`
redis.call('ZREMRANGEBYSCORE', KEYS[1], '-inf', ARGV[1])
if redis.call('ZCARD', KEYS[1]) < tonumber(ARGV[2]) then
	redis.call('ZADD', KEYS[1], ARGV[3], ARGV[4])
	return 1
end
return 0
`)

// RedisPermitStore is a PermitStore backed by a Redis sorted set, letting a
// LeasedSemaphore with the same key span multiple processes. Member = permit
// ID, score = lease deadline in unix milliseconds. Redis-side expiry by score
// backs up the semaphore's local timers: a holder that crashes before its
// timer fires is purged on the next Grant or Outstanding call.
type RedisPermitStore struct {
	rdb *redis.Client
	key string
}

var _ PermitStore = (*RedisPermitStore)(nil)

// RedisPermitStoreOption is a functional option for configuring a RedisPermitStore.
type RedisPermitStoreOption func(*RedisPermitStore)

// WithPermitKey sets the sorted-set key. Semaphores sharing a key share a
// permit budget.
func WithPermitKey(key string) RedisPermitStoreOption {
	return func(s *RedisPermitStore) {
		s.key = strings.TrimSpace(key)
	}
}

// NewRedisPermitStore creates a permit store on the given Redis client.
func NewRedisPermitStore(rdb *redis.Client, opts ...RedisPermitStoreOption) *RedisPermitStore {
	out := &RedisPermitStore{
		rdb: rdb,
		key: "goflows:permits",
	}
	for _, opt := range opts {
		opt(out)
	}
	return out
}

// Grant implements PermitStore.
func (s *RedisPermitStore) Grant(ctx context.Context, id string, deadline time.Time, limit int) (bool, error) {
	now := time.Now().UnixMilli()
	granted, err := grantScript.Run(ctx, s.rdb, []string{s.key},
		now, limit, deadline.UnixMilli(), id).Int()
	if err != nil {
		return false, err
	}
	return granted == 1, nil
}

// Revoke implements PermitStore.
func (s *RedisPermitStore) Revoke(ctx context.Context, id string) (bool, error) {
	removed, err := s.rdb.ZRem(ctx, s.key, id).Result()
	if err != nil {
		return false, err
	}
	return removed > 0, nil
}

// Outstanding implements PermitStore.
func (s *RedisPermitStore) Outstanding(ctx context.Context) (int, error) {
	now := time.Now().UnixMilli()
	pipe := s.rdb.Pipeline()
	pipe.ZRemRangeByScore(ctx, s.key, "-inf", formatScore(now))
	card := pipe.ZCard(ctx, s.key)
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, err
	}
	return int(card.Val()), nil
}

// Clear implements PermitStore.
func (s *RedisPermitStore) Clear(ctx context.Context) error {
	return s.rdb.Del(ctx, s.key).Err()
}

func formatScore(ms int64) string {
	return strconv.FormatInt(ms, 10)
}
