package cache

import (
	"context"
	"sync"
	"time"

	"VKMBot/model"
)

const shardCount = 16

type memoryEntry struct {
	results []model.Candidate
	expires time.Time
}

type memoryShard struct {
	mu      sync.RWMutex
	entries map[int64]memoryEntry
}

// MemoryResultCache is an in-process ResultCache for single-instance runs.
type MemoryResultCache struct {
	shards [shardCount]*memoryShard
	ttl    time.Duration
	now    func() time.Time
}

var _ ResultCache = (*MemoryResultCache)(nil)

func NewMemoryResultCache(ttl time.Duration) *MemoryResultCache {
	c := &MemoryResultCache{ttl: ttl, now: time.Now}
	for i := range c.shards {
		c.shards[i] = &memoryShard{entries: make(map[int64]memoryEntry)}
	}
	return c
}

func (c *MemoryResultCache) shard(userID int64) *memoryShard {
	idx := userID % shardCount
	if idx < 0 {
		idx = -idx
	}
	return c.shards[idx]
}

func (c *MemoryResultCache) Put(_ context.Context, userID int64, results []model.Candidate) error {
	s := c.shard(userID)
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(results) == 0 {
		delete(s.entries, userID)
		return nil
	}
	stored := make([]model.Candidate, len(results))
	copy(stored, results)
	s.entries[userID] = memoryEntry{results: stored, expires: c.now().Add(c.ttl)}
	return nil
}

func (c *MemoryResultCache) Resolve(_ context.Context, userID int64, index int) (model.Candidate, error) {
	s := c.shard(userID)
	s.mu.RLock()
	entry, ok := s.entries[userID]
	s.mu.RUnlock()

	if !ok || !c.now().Before(entry.expires) {
		return model.Candidate{}, ErrExpiredOrInvalid
	}
	return pick(entry.results, index)
}

func (c *MemoryResultCache) Drop(_ context.Context, userID int64) error {
	s := c.shard(userID)
	s.mu.Lock()
	delete(s.entries, userID)
	s.mu.Unlock()
	return nil
}

// Sweep evicts expired entries and returns how many were removed.
func (c *MemoryResultCache) Sweep() int {
	now := c.now()
	removed := 0
	for _, s := range c.shards {
		s.mu.Lock()
		for id, e := range s.entries {
			if !now.Before(e.expires) {
				delete(s.entries, id)
				removed++
			}
		}
		s.mu.Unlock()
	}
	return removed
}

// StartSweeper runs Sweep every interval until ctx is done.
func (c *MemoryResultCache) StartSweeper(ctx context.Context, interval time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				c.Sweep()
			}
		}
	}()
}
