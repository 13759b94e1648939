// Package cache provides TTL-bounded read-through caches shared by the schema
// resolver and the dropdown lookups.
package cache

import (
	"context"
	"strings"
	"time"

	"golang.org/x/sync/singleflight"
)

const (
	// LookupTTL bounds cached dropdown listings (warehouses, endpoints, catalogs).
	LookupTTL = time.Minute

	// SchemaTTL bounds cached endpoint schema resolutions.
	SchemaTTL = 5 * time.Minute

	// FetchTimeout bounds a shared fetch, which runs detached from the
	// cancellation of the caller that started it.
	FetchTimeout = 2 * time.Minute
)

// Fetcher loads a fresh value on a cache miss.
type Fetcher[V any] func(ctx context.Context) (V, error)

// Cache is a read-through cache. An entry older than the ttl passed to
// GetOrFetch is never returned; a miss calls fetch and stores its result.
// Fetch errors are returned to the caller and never cached.
type Cache[V any] interface {
	GetOrFetch(ctx context.Context, key string, ttl time.Duration, fetch Fetcher[V]) (V, error)
	Invalidate(ctx context.Context, key string) error
}

// Key builds a cache key scoped to a workspace host and resource type, with
// optional parent identifiers for hierarchical listings such as the schemas of
// one catalog.
func Key(host, resourceType string, parent ...string) string {
	parts := make([]string, 0, 2+len(parent))
	parts = append(parts, strings.TrimRight(host, "/"), resourceType)
	parts = append(parts, parent...)

	return strings.Join(parts, "|")
}

// shared runs fetch once per key across concurrent callers. Each caller waits
// on its own context, so a caller that gives up does not fail the others.
func shared[V any](ctx context.Context, group *singleflight.Group, key string, fetch Fetcher[V]) (V, error) {
	var zero V

	ch := group.DoChan(key, func() (any, error) {
		fetchCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), FetchTimeout)
		defer cancel()

		return fetch(fetchCtx)
	})

	select {
	case <-ctx.Done():
		return zero, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return zero, res.Err
		}

		payload, _ := res.Val.(V)

		return payload, nil
	}
}
