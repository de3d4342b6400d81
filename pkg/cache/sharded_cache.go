// Package cache provides a sharded in-memory candle cache so multiple
// sessions scanning the same instrument do not refetch identical data.
package cache

import (
	"fmt"
	"hash/fnv"
	"sync"
	"time"

	"options-core/pkg/venue"
)

const numShards = 16

// ShardedCandleCache caches candle batches keyed by instrument and
// granularity, sharded to keep lock contention low under many sessions.
type ShardedCandleCache struct {
	shards [numShards]*candleShard
}

type candleShard struct {
	mu    sync.RWMutex
	items map[string]candleEntry
}

type candleEntry struct {
	candles   []venue.Candle
	updatedAt time.Time
}

// NewShardedCandleCache creates a new sharded cache.
func NewShardedCandleCache() *ShardedCandleCache {
	c := &ShardedCandleCache{}
	for i := 0; i < numShards; i++ {
		c.shards[i] = &candleShard{
			items: make(map[string]candleEntry),
		}
	}
	return c
}

// Key builds the cache key for an instrument series.
func Key(instrument string, granularitySec, count int) string {
	return fmt.Sprintf("%s:%d:%d", instrument, granularitySec, count)
}

func (c *ShardedCandleCache) getShard(key string) *candleShard {
	h := fnv.New32a()
	h.Write([]byte(key))
	return c.shards[h.Sum32()%numShards]
}

// Set stores a candle batch.
func (c *ShardedCandleCache) Set(key string, candles []venue.Candle) {
	cp := make([]venue.Candle, len(candles))
	copy(cp, candles)
	shard := c.getShard(key)
	shard.mu.Lock()
	shard.items[key] = candleEntry{
		candles:   cp,
		updatedAt: time.Now(),
	}
	shard.mu.Unlock()
}

// Get returns a candle batch no older than maxAge.
func (c *ShardedCandleCache) Get(key string, maxAge time.Duration) ([]venue.Candle, bool) {
	shard := c.getShard(key)
	shard.mu.RLock()
	entry, ok := shard.items[key]
	shard.mu.RUnlock()
	if !ok || time.Since(entry.updatedAt) > maxAge {
		return nil, false
	}
	cp := make([]venue.Candle, len(entry.candles))
	copy(cp, entry.candles)
	return cp, true
}

// Delete removes a key from the cache.
func (c *ShardedCandleCache) Delete(key string) {
	shard := c.getShard(key)
	shard.mu.Lock()
	delete(shard.items, key)
	shard.mu.Unlock()
}

// Len returns total items across all shards.
func (c *ShardedCandleCache) Len() int {
	total := 0
	for _, shard := range c.shards {
		shard.mu.RLock()
		total += len(shard.items)
		shard.mu.RUnlock()
	}
	return total
}

// Cleanup removes entries older than maxAge.
func (c *ShardedCandleCache) Cleanup(maxAge time.Duration) int {
	removed := 0
	cutoff := time.Now().Add(-maxAge)

	for _, shard := range c.shards {
		shard.mu.Lock()
		for key, entry := range shard.items {
			if entry.updatedAt.Before(cutoff) {
				delete(shard.items, key)
				removed++
			}
		}
		shard.mu.Unlock()
	}
	return removed
}
