package billing

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// SummaryCache is the optional read-through cache for subscription
// summaries. Implementations must treat a miss as (zero, false), never as
// an error: cache failures degrade to store reads, they never block access
// decisions.
type SummaryCache interface {
	Get(ctx context.Context, userID uuid.UUID) (SubscriptionSummary, bool)
	Set(ctx context.Context, userID uuid.UUID, summary SubscriptionSummary, ttl time.Duration) error
	Delete(ctx context.Context, userID uuid.UUID) error
}

// RedisSummaryCache stores subscription summaries in Redis with a TTL.
// Every status write invalidates the key, so the TTL only bounds staleness
// against writes that bypass this process entirely.
type RedisSummaryCache struct {
	db redis.UniversalClient
}

// NewRedisSummaryCache wraps a connected Redis client.
func NewRedisSummaryCache(redisClient redis.UniversalClient) *RedisSummaryCache {
	return &RedisSummaryCache{db: redisClient}
}

func summaryKey(userID uuid.UUID) string {
	return "billing:summary:" + userID.String()
}

func (c *RedisSummaryCache) Get(ctx context.Context, userID uuid.UUID) (SubscriptionSummary, bool) {
	raw, err := c.db.Get(ctx, summaryKey(userID)).Bytes()
	if err != nil {
		return SubscriptionSummary{}, false
	}
	var summary SubscriptionSummary
	if err := json.Unmarshal(raw, &summary); err != nil {
		return SubscriptionSummary{}, false
	}
	return summary, true
}

func (c *RedisSummaryCache) Set(ctx context.Context, userID uuid.UUID, summary SubscriptionSummary, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = time.Minute
	}
	raw, err := json.Marshal(summary)
	if err != nil {
		return err
	}
	return c.db.Set(ctx, summaryKey(userID), raw, ttl).Err()
}

func (c *RedisSummaryCache) Delete(ctx context.Context, userID uuid.UUID) error {
	return c.db.Del(ctx, summaryKey(userID)).Err()
}
