package notify

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// DedupTTL is how long a sent notification key is remembered.
const DedupTTL = 72 * time.Hour

// Deduper suppresses repeated sends of the same notification.
type Deduper interface {
	// Claim returns true the first time key is seen within ttl.
	Claim(ctx context.Context, key string, ttl time.Duration) (bool, error)
	// Release forgets key so a failed send can be retried.
	Release(ctx context.Context, key string) error
}

type RedisDeduper struct {
	client *redis.Client
	prefix string
}

func NewRedisDeduper(client *redis.Client) *RedisDeduper {
	return &RedisDeduper{client: client, prefix: "notify:"}
}

func (d *RedisDeduper) Claim(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	ok, err := d.client.SetNX(ctx, d.prefix+key, 1, ttl).Result()
	if err != nil {
		return false, fmt.Errorf("redis setnx: %w", err)
	}
	return ok, nil
}

func (d *RedisDeduper) Release(ctx context.Context, key string) error {
	if err := d.client.Del(ctx, d.prefix+key).Err(); err != nil {
		return fmt.Errorf("redis del: %w", err)
	}
	return nil
}

func leadAvailableKey(n NewLeadNotice) string {
	return fmt.Sprintf("lead:%s:cycle:%d:lawyer:%s", n.LeadID, n.Cycle, n.LawyerID)
}

func leadAcceptedKey(n LeadAcceptedNotice) string {
	return fmt.Sprintf("lead:%s:match:%s", n.LeadID, n.MatchID)
}
