package cache

import (
	"context"
	"crypto/md5"
	"fmt"
	"time"

	"github.com/kenyonj/auto-investor/models"
)

// ProposalCache caches analyst proposal batches keyed by a hash of the
// prompt inputs, so an unchanged market picture does not cost a second
// model call within the TTL.
type ProposalCache struct {
	redis *RedisClient
}

// NewProposalCache creates a proposal cache. redis may be nil; lookups
// then always miss.
func NewProposalCache(redis *RedisClient) *ProposalCache {
	return &ProposalCache{redis: redis}
}

// HashInputs derives a stable cache key component from the prompt text.
func HashInputs(prompt string) string {
	return fmt.Sprintf("%x", md5.Sum([]byte(prompt)))
}

// Get retrieves cached proposals for a lane and input hash.
func (c *ProposalCache) Get(ctx context.Context, lane, inputHash string) ([]models.TradeDecision, bool) {
	if c == nil || c.redis == nil {
		return nil, false
	}

	cacheKey := fmt.Sprintf("llm:proposals:%s:%s", lane, inputHash)
	var decisions []models.TradeDecision
	if err := c.redis.Get(ctx, cacheKey, &decisions); err != nil {
		return nil, false
	}
	return decisions, true
}

// Set caches a proposal batch for a lane and input hash.
func (c *ProposalCache) Set(ctx context.Context, lane, inputHash string, decisions []models.TradeDecision, ttl time.Duration) error {
	if c == nil || c.redis == nil {
		return fmt.Errorf("redis client not available")
	}

	cacheKey := fmt.Sprintf("llm:proposals:%s:%s", lane, inputHash)
	return c.redis.Set(ctx, cacheKey, decisions, ttl)
}
