package cache

import (
	"context"
	"fmt"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/sync/singleflight"
)

const DefaultMemorySize = 256

type entry[V any] struct {
	payload   V
	fetchedAt time.Time
}

// Memory is an in-process Cache backed by a bounded LRU. Concurrent misses for
// one key share a single fetch.
type Memory[V any] struct {
	entries *lru.Cache[string, entry[V]]
	group   singleflight.Group
	now     func() time.Time
}

var _ Cache[string] = (*Memory[string])(nil)

func NewMemory[V any](size int) (*Memory[V], error) {
	if size <= 0 {
		size = DefaultMemorySize
	}

	entries, err := lru.New[string, entry[V]](size)
	if err != nil {
		return nil, fmt.Errorf("create lru cache: %w", err)
	}

	return &Memory[V]{entries: entries, now: time.Now}, nil
}

func (m *Memory[V]) GetOrFetch(ctx context.Context, key string, ttl time.Duration, fetch Fetcher[V]) (V, error) {
	if e, ok := m.entries.Get(key); ok && m.now().Sub(e.fetchedAt) < ttl {
		return e.payload, nil
	}

	return shared(ctx, &m.group, key, func(ctx context.Context) (V, error) {
		payload, err := fetch(ctx)
		if err != nil {
			return payload, err
		}

		m.entries.Add(key, entry[V]{payload: payload, fetchedAt: m.now()})

		return payload, nil
	})
}

func (m *Memory[V]) Invalidate(_ context.Context, key string) error {
	m.entries.Remove(key)

	return nil
}

// Len reports the number of entries, including expired ones not yet replaced.
func (m *Memory[V]) Len() int {
	return m.entries.Len()
}
