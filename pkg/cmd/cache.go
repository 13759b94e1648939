package cmd

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/redis/go-redis/v9"

	"github.com/mik3lol/n8n-nodes-databricks/pkg/cache"
	"github.com/mik3lol/n8n-nodes-databricks/pkg/lookup"
	"github.com/mik3lol/n8n-nodes-databricks/pkg/serving"
)

var supportedCacheProviders = []string{"memory", "redis", "rediss"}

// Caches holds the read-through caches shared by every node of a process.
type Caches struct {
	Schemas cache.Cache[*serving.EndpointSchemaInfo]
	Lookups cache.Cache[[]lookup.Option]

	close func() error
}

func (c *Caches) Close() error {
	if c.close == nil {
		return nil
	}

	return c.close()
}

// NewCaches builds the caches for cacheURL. An empty URL or "memory" keeps
// entries in process; redis:// and rediss:// URLs share them between
// processes.
func NewCaches(cacheURL string, logger *slog.Logger) (*Caches, error) {
	switch parseCacheProvider(cacheURL) {
	case "redis", "rediss":
		opts, err := redis.ParseURL(cacheURL)
		if err != nil {
			return nil, fmt.Errorf("parse redis url: %w", err)
		}

		client := redis.NewClient(opts)

		return &Caches{
			Schemas: cache.NewRedis[*serving.EndpointSchemaInfo](client, cache.DefaultRedisPrefix+"schema:", logger),
			Lookups: cache.NewRedis[[]lookup.Option](client, cache.DefaultRedisPrefix+"lookup:", logger),
			close:   client.Close,
		}, nil
	case "memory":
		schemas, err := cache.NewMemory[*serving.EndpointSchemaInfo](cache.DefaultMemorySize)
		if err != nil {
			return nil, err
		}

		lookups, err := cache.NewMemory[[]lookup.Option](cache.DefaultMemorySize)
		if err != nil {
			return nil, err
		}

		return &Caches{Schemas: schemas, Lookups: lookups}, nil
	default:
		return nil, fmt.Errorf("unsupported cache provider: %s", cacheURL)
	}
}

func parseCacheProvider(cacheURL string) string {
	if cacheURL == "" {
		return "memory"
	}

	provider, _, found := strings.Cut(cacheURL, "://")
	if !found {
		provider = cacheURL
	}

	for _, supported := range supportedCacheProviders {
		if provider == supported {
			return provider
		}
	}

	return ""
}
