// Package refcache persists resolved adapter references, currently the
// URL -> AIR id mapping Runware uploads produce. The mapping survives
// restarts through Redis when one is configured; a process-local map keeps
// the bridge working without it.
package refcache

import (
	"context"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

const keyPrefix = "lora:air:"

// Store is a write-through reference cache. Reads hit the local map first,
// then Redis; writes land in both.
type Store struct {
	client *redis.Client

	mu    sync.RWMutex
	local map[string]string
}

// New creates a Store. A nil client yields a purely in-memory store.
func New(client *redis.Client) *Store {
	return &Store{client: client, local: make(map[string]string)}
}

// Get returns the cached reference for key, if any.
func (s *Store) Get(key string) (string, bool) {
	if key == "" {
		return "", false
	}

	s.mu.RLock()
	value, ok := s.local[key]
	s.mu.RUnlock()
	if ok {
		return value, true
	}

	if s.client == nil {
		return "", false
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	value, err := s.client.Get(ctx, keyPrefix+key).Result()
	if err != nil {
		return "", false
	}

	s.mu.Lock()
	s.local[key] = value
	s.mu.Unlock()
	return value, true
}

// Put records a resolved reference. Redis write failures are ignored; the
// worst case is a re-upload after restart.
func (s *Store) Put(key, value string) {
	if key == "" || value == "" {
		return
	}

	s.mu.Lock()
	s.local[key] = value
	s.mu.Unlock()

	if s.client == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	s.client.Set(ctx, keyPrefix+key, value, 0)
}

// Len reports the number of locally known references.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.local)
}
