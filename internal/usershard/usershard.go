// Package usershard provides a sharded keyed table with one lock per shard.
// It gives per-user mutual exclusion around mutable state without
// serializing unrelated users' operations.
package usershard

import (
	"hash/fnv"
	"sort"
	"sync"
)

const shardCount = 64

type shard[V any] struct {
	mu sync.RWMutex
	m  map[string]V
}

// Map is a concurrent map sharded by key. Callbacks passed to Mutate and
// View run under the shard lock; they must not call back into the Map.
type Map[V any] struct {
	shards [shardCount]shard[V]
	newV   func() V
}

// New creates a Map. newV builds the zero state for a key on first mutation.
func New[V any](newV func() V) *Map[V] {
	m := &Map[V]{newV: newV}
	for i := range m.shards {
		m.shards[i].m = make(map[string]V)
	}
	return m
}

func (m *Map[V]) shardFor(key string) *shard[V] {
	h := fnv.New32a()
	_, _ = h.Write([]byte(key))
	return &m.shards[h.Sum32()%shardCount]
}

// Mutate runs fn on the state for key under the shard write lock, creating
// the state if absent.
func (m *Map[V]) Mutate(key string, fn func(v V)) {
	s := m.shardFor(key)
	s.mu.Lock()
	defer s.mu.Unlock()

	v, ok := s.m[key]
	if !ok {
		v = m.newV()
		s.m[key] = v
	}
	fn(v)
}

// View runs fn on the state for key under the shard read lock. ok is false
// when the key has never been mutated; fn still receives the zero value of V.
func (m *Map[V]) View(key string, fn func(v V, ok bool)) {
	s := m.shardFor(key)
	s.mu.RLock()
	defer s.mu.RUnlock()

	v, ok := s.m[key]
	fn(v, ok)
}

// Delete removes the state for key.
func (m *Map[V]) Delete(key string) {
	s := m.shardFor(key)
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.m, key)
}

// Keys returns all keys across shards, sorted.
func (m *Map[V]) Keys() []string {
	var keys []string
	for i := range m.shards {
		s := &m.shards[i]
		s.mu.RLock()
		for k := range s.m {
			keys = append(keys, k)
		}
		s.mu.RUnlock()
	}
	sort.Strings(keys)
	return keys
}
