package cache

import (
	"context"
	"fmt"
	"time"

	"groupfm/model"

	"github.com/go-redis/redis/v8"
)

// invalidateChunkSize bounds a single pipelined DEL.
const invalidateChunkSize = 500

// statusSnapshotTTL keeps the generation status poll endpoint off the primary
// database between writes.
const statusSnapshotTTL = 15 * time.Second

// entryStatsTTL bounds staleness for entries whose keys escaped invalidation,
// e.g. after a partial Redis flush.
const entryStatsTTL = 24 * time.Hour

// EntryStatsCache caches derived per-entry statistics and the generation
// status snapshot in Redis.
type EntryStatsCache struct {
	client *redis.Client
}

// NewEntryStatsCache creates an EntryStatsCache on the given client.
func NewEntryStatsCache(client *redis.Client) *EntryStatsCache {
	return &EntryStatsCache{client: client}
}

// EntryStatsKey builds the Redis key for one entry's derived stats.
func EntryStatsKey(groupID int64, chartType, entryKey string) string {
	return fmt.Sprintf("entrystats:%d:%s:%s", groupID, chartType, entryKey)
}

// StatusSnapshotKey builds the Redis key for a group's cached status payload.
func StatusSnapshotKey(groupID int64) string {
	return fmt.Sprintf("genstatus:%d", groupID)
}

// InvalidateEntries batch-deletes the cached per-entry stats for every entry
// touched by a generation run. Deletes are pipelined in chunks.
func (c *EntryStatsCache) InvalidateEntries(ctx context.Context, groupID int64, entries []*model.ChartEntry) error {
	if c.client == nil {
		return fmt.Errorf("redis client not initialized")
	}
	if len(entries) == 0 {
		return nil
	}

	keys := make([]string, 0, len(entries))
	seen := make(map[string]struct{}, len(entries))
	for _, e := range entries {
		key := EntryStatsKey(groupID, e.ChartType, e.EntryKey)
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		keys = append(keys, key)
	}

	for start := 0; start < len(keys); start += invalidateChunkSize {
		end := start + invalidateChunkSize
		if end > len(keys) {
			end = len(keys)
		}
		pipe := c.client.Pipeline()
		pipe.Del(ctx, keys[start:end]...)
		if _, err := pipe.Exec(ctx); err != nil {
			return fmt.Errorf("failed to invalidate entry stats cache: %w", err)
		}
	}
	return nil
}

// GetEntryStats returns the cached stats payload for one entry, or redis.Nil.
func (c *EntryStatsCache) GetEntryStats(ctx context.Context, groupID int64, chartType, entryKey string) (string, error) {
	if c.client == nil {
		return "", fmt.Errorf("redis client not initialized")
	}
	return c.client.Get(ctx, EntryStatsKey(groupID, chartType, entryKey)).Result()
}

// SetEntryStats caches one entry's stats payload. The entry is dropped from
// the cache when a generation run touches it again.
func (c *EntryStatsCache) SetEntryStats(ctx context.Context, groupID int64, chartType, entryKey, payload string) error {
	if c.client == nil {
		return fmt.Errorf("redis client not initialized")
	}
	return c.client.Set(ctx, EntryStatsKey(groupID, chartType, entryKey), payload, entryStatsTTL).Err()
}

// GetStatusSnapshot returns the cached status payload for a group, or redis.Nil.
func (c *EntryStatsCache) GetStatusSnapshot(ctx context.Context, groupID int64) (string, error) {
	if c.client == nil {
		return "", fmt.Errorf("redis client not initialized")
	}
	return c.client.Get(ctx, StatusSnapshotKey(groupID)).Result()
}

// SetStatusSnapshot caches a status payload with a short TTL.
func (c *EntryStatsCache) SetStatusSnapshot(ctx context.Context, groupID int64, payload string) error {
	if c.client == nil {
		return fmt.Errorf("redis client not initialized")
	}
	return c.client.Set(ctx, StatusSnapshotKey(groupID), payload, statusSnapshotTTL).Err()
}

// ClearStatusSnapshot drops the cached status payload, forcing the next poll
// to hit the database. Called when a run starts and when it finishes.
func (c *EntryStatsCache) ClearStatusSnapshot(ctx context.Context, groupID int64) error {
	if c.client == nil {
		return fmt.Errorf("redis client not initialized")
	}
	return c.client.Del(ctx, StatusSnapshotKey(groupID)).Err()
}

// IsNil reports whether the error is the redis cache-miss sentinel.
func IsNil(err error) bool {
	return err == redis.Nil
}
