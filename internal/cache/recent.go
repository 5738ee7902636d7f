package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const recentPrefix = "payment_event:"

// RecentEvents remembers provider event ids for a TTL. It only short-circuits redeliveries;
// the processed-event table stays the source of truth.
type RecentEvents struct {
	rdb redis.Cmdable
	ttl time.Duration
}

func NewRecentEvents(rdb redis.Cmdable, ttl time.Duration) *RecentEvents {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &RecentEvents{rdb: rdb, ttl: ttl}
}

func (r *RecentEvents) Seen(ctx context.Context, eventID string) (bool, error) {
	n, err := r.rdb.Exists(ctx, recentPrefix+eventID).Result()
	if err != nil {
		return false, fmt.Errorf("lookup event %s: %w", eventID, err)
	}
	return n > 0, nil
}

func (r *RecentEvents) Remember(ctx context.Context, eventID string) error {
	if err := r.rdb.SetNX(ctx, recentPrefix+eventID, "1", r.ttl).Err(); err != nil {
		return fmt.Errorf("remember event %s: %w", eventID, err)
	}
	return nil
}
