package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/singleflight"

	"github.com/mik3lol/n8n-nodes-databricks/pkg/log"
)

// DefaultRedisPrefix namespaces keys written by Redis.
const DefaultRedisPrefix = "databricks-nodes:"

// Redis is a Cache shared between processes. Payloads are stored as JSON
// together with their fetch time, with the ttl as the key expiry. Redis
// failures degrade to a direct fetch.
type Redis[V any] struct {
	client redis.UniversalClient
	prefix string
	group  singleflight.Group
	logger *slog.Logger
	now    func() time.Time
}

type redisEntry[V any] struct {
	FetchedAt time.Time `json:"fetched_at"`
	Payload   V         `json:"payload"`
}

var _ Cache[string] = (*Redis[string])(nil)

func NewRedis[V any](client redis.UniversalClient, prefix string, logger *slog.Logger) *Redis[V] {
	if prefix == "" {
		prefix = DefaultRedisPrefix
	}

	return &Redis[V]{
		client: client,
		prefix: prefix,
		logger: log.OrDefault(logger).With("module", "cache"),
		now:    time.Now,
	}
}

func (r *Redis[V]) GetOrFetch(ctx context.Context, key string, ttl time.Duration, fetch Fetcher[V]) (V, error) {
	k := r.prefix + key

	raw, err := r.client.Get(ctx, k).Bytes()

	switch {
	case err == nil:
		var e redisEntry[V]
		if err := json.Unmarshal(raw, &e); err != nil {
			r.logger.WarnContext(ctx, "discarding undecodable cache entry", "key", key)

			break
		}

		// The key expiry was set with the ttl of the writer.
		if r.now().Sub(e.FetchedAt) < ttl {
			return e.Payload, nil
		}
	case !errors.Is(err, redis.Nil):
		r.logger.WarnContext(ctx, "redis get failed", "key", key, "error", err)
	}

	return shared(ctx, &r.group, k, func(ctx context.Context) (V, error) {
		payload, err := fetch(ctx)
		if err != nil {
			return payload, err
		}

		r.store(ctx, k, payload, ttl)

		return payload, nil
	})
}

func (r *Redis[V]) store(ctx context.Context, key string, payload V, ttl time.Duration) {
	if ttl <= 0 {
		return
	}

	data, err := json.Marshal(redisEntry[V]{FetchedAt: r.now(), Payload: payload})
	if err != nil {
		r.logger.WarnContext(ctx, "cache payload not serialisable", "key", key, "error", err)

		return
	}

	if err := r.client.Set(ctx, key, data, ttl).Err(); err != nil {
		r.logger.WarnContext(ctx, "redis set failed", "key", key, "error", err)
	}
}

func (r *Redis[V]) Invalidate(ctx context.Context, key string) error {
	if err := r.client.Del(ctx, r.prefix+key).Err(); err != nil {
		return fmt.Errorf("invalidate %s: %w", key, err)
	}

	return nil
}
