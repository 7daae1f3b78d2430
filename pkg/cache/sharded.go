// Package cache provides a sharded keyed map for hot per-key state.
package cache

import (
	"hash/fnv"
	"sort"
	"sync"
)

const numShards = 16

// Sharded is a concurrent map split across FNV-hashed shards so writers on
// different keys rarely contend.
type Sharded[V any] struct {
	shards [numShards]*shard[V]
}

type shard[V any] struct {
	mu    sync.RWMutex
	items map[string]V
}

// NewSharded creates an empty sharded map.
func NewSharded[V any]() *Sharded[V] {
	c := &Sharded[V]{}
	for i := 0; i < numShards; i++ {
		c.shards[i] = &shard[V]{items: make(map[string]V)}
	}
	return c
}

func (c *Sharded[V]) getShard(key string) *shard[V] {
	h := fnv.New32a()
	h.Write([]byte(key))
	return c.shards[h.Sum32()%numShards]
}

// Get retrieves the value for key.
func (c *Sharded[V]) Get(key string) (V, bool) {
	s := c.getShard(key)
	s.mu.RLock()
	v, ok := s.items[key]
	s.mu.RUnlock()
	return v, ok
}

// GetOrCreate returns the value for key, storing create() first if absent.
func (c *Sharded[V]) GetOrCreate(key string, create func() V) V {
	s := c.getShard(key)
	s.mu.RLock()
	v, ok := s.items[key]
	s.mu.RUnlock()
	if ok {
		return v
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if v, ok := s.items[key]; ok {
		return v
	}
	v = create()
	s.items[key] = v
	return v
}

// Set stores v under key.
func (c *Sharded[V]) Set(key string, v V) {
	s := c.getShard(key)
	s.mu.Lock()
	s.items[key] = v
	s.mu.Unlock()
}

// Delete removes key.
func (c *Sharded[V]) Delete(key string) {
	s := c.getShard(key)
	s.mu.Lock()
	delete(s.items, key)
	s.mu.Unlock()
}

// Len returns total items across all shards.
func (c *Sharded[V]) Len() int {
	total := 0
	for _, s := range c.shards {
		s.mu.RLock()
		total += len(s.items)
		s.mu.RUnlock()
	}
	return total
}

// Keys returns every key, sorted.
func (c *Sharded[V]) Keys() []string {
	keys := make([]string, 0, c.Len())
	for _, s := range c.shards {
		s.mu.RLock()
		for k := range s.items {
			keys = append(keys, k)
		}
		s.mu.RUnlock()
	}
	sort.Strings(keys)
	return keys
}

// Range calls fn for every entry until fn returns false. fn must not call
// back into the map.
func (c *Sharded[V]) Range(fn func(key string, v V) bool) {
	for _, s := range c.shards {
		s.mu.RLock()
		for k, v := range s.items {
			if !fn(k, v) {
				s.mu.RUnlock()
				return
			}
		}
		s.mu.RUnlock()
	}
}

// Stats provides shard occupancy.
type Stats struct {
	TotalItems  int            `json:"total_items"`
	ShardCounts [numShards]int `json:"shard_counts"`
}

// Stats returns shard occupancy.
func (c *Sharded[V]) Stats() Stats {
	stats := Stats{}
	for i, s := range c.shards {
		s.mu.RLock()
		stats.ShardCounts[i] = len(s.items)
		stats.TotalItems += len(s.items)
		s.mu.RUnlock()
	}
	return stats
}
