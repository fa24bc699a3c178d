package guardrail

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"time"

	"github.com/redis/go-redis/v9"
)

const cacheKeyPrefix = "guardrail:"

// CacheClient is the subset of the redis client the decision cache needs.
// *redis.Client satisfies it; tests use a miniredis-backed client.
type CacheClient interface {
	Get(ctx context.Context, key string) *redis.StringCmd
	Set(ctx context.Context, key string, value any, expiration time.Duration) *redis.StatusCmd
}

// DecisionCache memoizes guardrail decisions by request fingerprint.
//
// The cache is a performance and idempotence optimization, not a correctness
// requirement: any cache failure is logged and treated as a miss so the
// pipeline re-runs fully. Only the serializable subset of a result (status,
// reasons, scores) is stored; metadata holds transient handles such as the
// decoded image and must never reach the cache.
type DecisionCache struct {
	client CacheClient
	ttl    time.Duration
}

// cachedDecision is the wire form of a cache entry.
type cachedDecision struct {
	Status  Status         `json:"status"`
	Reasons []string       `json:"reasons,omitempty"`
	Scores  map[string]any `json:"scores,omitempty"`
}

// NewDecisionCache creates a decision cache with the given TTL.
func NewDecisionCache(client CacheClient, ttl time.Duration) *DecisionCache {
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &DecisionCache{client: client, ttl: ttl}
}

// Lookup returns the cached decision for a fingerprint, or nil on a miss.
func (c *DecisionCache) Lookup(ctx context.Context, fingerprint string) *Result {
	if c == nil || c.client == nil {
		return nil
	}

	data, err := c.client.Get(ctx, cacheKeyPrefix+fingerprint).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			log.Printf("[WARNING] Decision cache lookup failed: %v", err)
		}
		return nil
	}

	var entry cachedDecision
	if err := json.Unmarshal(data, &entry); err != nil {
		log.Printf("[WARNING] Dropping undecodable cache entry for %s: %v", fingerprint, err)
		return nil
	}

	return &Result{Status: entry.Status, Reasons: entry.Reasons, Scores: entry.Scores}
}

// Store writes a decision through to the cache, dropping metadata. Entries
// for the same fingerprint overwrite silently; identical inputs produce
// equivalent decisions, so last-writer-wins is safe.
func (c *DecisionCache) Store(ctx context.Context, fingerprint string, result *Result) {
	if c == nil || c.client == nil || result == nil {
		return
	}

	entry := cachedDecision{
		Status:  result.Status,
		Reasons: result.Reasons,
		Scores:  result.Scores,
	}

	data, err := json.Marshal(entry)
	if err != nil {
		log.Printf("[WARNING] Failed to encode decision for cache: %v", err)
		return
	}

	if err := c.client.Set(ctx, cacheKeyPrefix+fingerprint, data, c.ttl).Err(); err != nil {
		log.Printf("[WARNING] Decision cache write failed: %v", err)
	}
}
