// Package cache keeps short-lived risk and dedupe state in Redis.
package cache

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const velocityPrefix = "velocity:"

// VelocityStore keeps one sorted set per key, scored by attempt time in unix nanoseconds.
// Entries older than the retention are trimmed on every write.
type VelocityStore struct {
	rdb       redis.Cmdable
	retention time.Duration
}

func NewVelocityStore(rdb redis.Cmdable, retention time.Duration) *VelocityStore {
	if retention <= 0 {
		retention = time.Hour
	}
	return &VelocityStore{rdb: rdb, retention: retention}
}

func score(t time.Time) string {
	return strconv.FormatInt(t.UnixNano(), 10)
}

func (v *VelocityStore) RecordAttempt(ctx context.Context, key string, at time.Time) error {
	k := velocityPrefix + key
	_, err := v.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.ZAdd(ctx, k, redis.Z{Score: float64(at.UnixNano()), Member: uuid.NewString()})
		pipe.ZRemRangeByScore(ctx, k, "-inf", "("+score(at.Add(-v.retention)))
		pipe.Expire(ctx, k, v.retention)
		return nil
	})
	if err != nil {
		return fmt.Errorf("record attempt %s: %w", key, err)
	}
	return nil
}

// CountAttempts counts attempts in (since, until].
func (v *VelocityStore) CountAttempts(ctx context.Context, key string, since, until time.Time) (int64, error) {
	n, err := v.rdb.ZCount(ctx, velocityPrefix+key, "("+score(since), score(until)).Result()
	if err != nil {
		return 0, fmt.Errorf("count attempts %s: %w", key, err)
	}
	return n, nil
}
