// Package lookup lists workspace resources for parameter dropdowns. Listings
// are cached per workspace host for a short time.
package lookup

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/tidwall/gjson"

	"github.com/mik3lol/n8n-nodes-databricks/pkg/cache"
	"github.com/mik3lol/n8n-nodes-databricks/pkg/log"
)

const (
	ResourceWarehouses         = "warehouses"
	ResourceServingEndpoints   = "serving-endpoints"
	ResourceEmbeddingEndpoints = "embedding-endpoints"
	ResourceCatalogs           = "catalogs"
	ResourceSchemas            = "schemas"
	ResourceVectorIndexes      = "vector-indexes"

	embeddingsTask = "llm/v1/embeddings"
	maxPages       = 50
)

var ErrUnknownResource = errors.New("unknown lookup resource")

var embeddingModelName = regexp.MustCompile(`(?i)embed|embedding|text-embedding|vector`)

// Option is one dropdown entry.
type Option struct {
	Name        string `json:"name"`
	Value       string `json:"value"`
	Description string `json:"description,omitempty"`
}

// Client is the HTTP capability lookups need.
type Client interface {
	Host() string
	Get(ctx context.Context, path string, out any) error
}

type Service struct {
	client Client
	cache  cache.Cache[[]Option]
	ttl    time.Duration
	logger *slog.Logger
}

type ServiceOption func(*Service)

func WithTTL(ttl time.Duration) ServiceOption {
	return func(s *Service) { s.ttl = ttl }
}

func WithLogger(logger *slog.Logger) ServiceOption {
	return func(s *Service) { s.logger = logger }
}

// NewService builds a lookup service. A nil cache disables caching.
func NewService(client Client, c cache.Cache[[]Option], opts ...ServiceOption) *Service {
	s := &Service{client: client, cache: c, ttl: cache.LookupTTL}
	for _, opt := range opts {
		opt(s)
	}

	s.logger = log.OrDefault(s.logger).With("module", "lookup")

	return s
}

// List dispatches by resource name. parent scopes hierarchical resources.
func (s *Service) List(ctx context.Context, resource, parent, filter string) ([]Option, error) {
	switch resource {
	case ResourceWarehouses:
		return s.Warehouses(ctx)
	case ResourceServingEndpoints:
		return s.ServingEndpoints(ctx, filter)
	case ResourceEmbeddingEndpoints:
		return s.EmbeddingEndpoints(ctx)
	case ResourceCatalogs:
		return s.Catalogs(ctx)
	case ResourceSchemas:
		return s.Schemas(ctx, parent)
	case ResourceVectorIndexes:
		return s.VectorIndexes(ctx)
	default:
		return nil, fmt.Errorf("%w %q", ErrUnknownResource, resource)
	}
}

func (s *Service) Warehouses(ctx context.Context) ([]Option, error) {
	return s.cached(ctx, ResourceWarehouses, nil, func(ctx context.Context) ([]Option, error) {
		var opts []Option

		err := s.paginate(ctx, "/api/2.0/sql/warehouses", "warehouses", func(w gjson.Result) {
			desc := strings.Join(nonEmpty(w.Get("state").String(), w.Get("cluster_size").String()), " · ")
			opts = append(opts, Option{Name: w.Get("name").String(), Value: w.Get("id").String(), Description: desc})
		})

		return opts, err
	})
}

// ServingEndpoints lists endpoints sorted by name. filter is a
// case-insensitive substring match on the endpoint name.
func (s *Service) ServingEndpoints(ctx context.Context, filter string) ([]Option, error) {
	all, err := s.cached(ctx, ResourceServingEndpoints, nil, func(ctx context.Context) ([]Option, error) {
		return s.listEndpoints(ctx, func(endpoint) bool { return true })
	})
	if err != nil {
		return nil, err
	}

	needle := strings.ToLower(strings.TrimSpace(filter))
	if needle == "" {
		return all, nil
	}

	opts := make([]Option, 0, len(all))

	for _, o := range all {
		if strings.Contains(strings.ToLower(o.Name), needle) {
			opts = append(opts, o)
		}
	}

	return opts, nil
}

// EmbeddingEndpoints lists endpoints whose task is embeddings or that serve a
// model whose name suggests embeddings.
func (s *Service) EmbeddingEndpoints(ctx context.Context) ([]Option, error) {
	return s.cached(ctx, ResourceEmbeddingEndpoints, nil, func(ctx context.Context) ([]Option, error) {
		return s.listEndpoints(ctx, endpoint.isEmbedding)
	})
}

func (s *Service) Catalogs(ctx context.Context) ([]Option, error) {
	return s.cached(ctx, ResourceCatalogs, nil, func(ctx context.Context) ([]Option, error) {
		var opts []Option

		err := s.paginate(ctx, "/api/2.1/unity-catalog/catalogs", "catalogs", func(c gjson.Result) {
			name := c.Get("name").String()
			opts = append(opts, Option{Name: name, Value: name, Description: c.Get("comment").String()})
		})

		return opts, err
	})
}

// Schemas lists the schemas of catalog.
func (s *Service) Schemas(ctx context.Context, catalog string) ([]Option, error) {
	if catalog == "" {
		return nil, fmt.Errorf("catalog is required to list schemas")
	}

	return s.cached(ctx, ResourceSchemas, []string{catalog}, func(ctx context.Context) ([]Option, error) {
		var opts []Option

		path := "/api/2.1/unity-catalog/schemas?catalog_name=" + url.QueryEscape(catalog)
		err := s.paginate(ctx, path, "schemas", func(sc gjson.Result) {
			opts = append(opts, Option{
				Name:        sc.Get("name").String(),
				Value:       sc.Get("name").String(),
				Description: sc.Get("full_name").String(),
			})
		})

		return opts, err
	})
}

func (s *Service) VectorIndexes(ctx context.Context) ([]Option, error) {
	return s.cached(ctx, ResourceVectorIndexes, nil, func(ctx context.Context) ([]Option, error) {
		var opts []Option

		err := s.paginate(ctx, "/api/2.0/vector-search/indexes", "vector_indexes", func(ix gjson.Result) {
			name := ix.Get("name").String()
			desc := strings.Join(nonEmpty(ix.Get("index_type").String(), ix.Get("endpoint_name").String()), " · ")
			opts = append(opts, Option{Name: name, Value: name, Description: desc})
		})

		return opts, err
	})
}

type endpoint struct {
	Name   string
	Task   string
	Models []string
}

func (e endpoint) option() Option {
	return Option{Name: e.Name, Value: e.Name, Description: strings.Join(e.Models, ", ")}
}

func (e endpoint) isEmbedding() bool {
	if e.Task == embeddingsTask {
		return true
	}

	for _, m := range e.Models {
		if embeddingModelName.MatchString(m) {
			return true
		}
	}

	return false
}

func (s *Service) listEndpoints(ctx context.Context, keep func(endpoint) bool) ([]Option, error) {
	var list []endpoint

	err := s.paginate(ctx, "/api/2.0/serving-endpoints", "endpoints", func(e gjson.Result) {
		ep := endpoint{
			Name:   e.Get("name").String(),
			Task:   e.Get("task").String(),
			Models: servedModelNames(e),
		}
		if keep(ep) {
			list = append(list, ep)
		}
	})
	if err != nil {
		return nil, err
	}

	sort.Slice(list, func(i, j int) bool { return list[i].Name < list[j].Name })

	opts := make([]Option, 0, len(list))
	for _, ep := range list {
		opts = append(opts, ep.option())
	}

	return opts, nil
}

func servedModelNames(e gjson.Result) []string {
	var names []string

	for _, entity := range e.Get("config.served_entities").Array() {
		name := firstNonEmpty(
			entity.Get("foundation_model.name").String(),
			entity.Get("entity_name").String(),
			entity.Get("external_model.name").String(),
			entity.Get("name").String(),
		)
		if name != "" {
			names = append(names, name)
		}
	}

	for _, model := range e.Get("config.served_models").Array() {
		if name := model.Get("model_name").String(); name != "" {
			names = append(names, name)
		}
	}

	return names
}

func (s *Service) cached(ctx context.Context, resource string, parent []string, fetch cache.Fetcher[[]Option]) ([]Option, error) {
	if s.cache == nil {
		return fetch(ctx)
	}

	return s.cache.GetOrFetch(ctx, cache.Key(s.client.Host(), resource, parent...), s.ttl, fetch)
}

// paginate follows next_page_token and calls each for every element of the
// listKey array.
func (s *Service) paginate(ctx context.Context, path, listKey string, each func(gjson.Result)) error {
	token := ""

	for page := 0; page < maxPages; page++ {
		target := path
		if token != "" {
			sep := "?"
			if strings.Contains(path, "?") {
				sep = "&"
			}

			target += sep + "page_token=" + url.QueryEscape(token)
		}

		var raw json.RawMessage
		if err := s.client.Get(ctx, target, &raw); err != nil {
			return err
		}

		doc := gjson.ParseBytes(raw)
		for _, item := range doc.Get(listKey).Array() {
			each(item)
		}

		token = doc.Get("next_page_token").String()
		if token == "" {
			return nil
		}
	}

	s.logger.WarnContext(ctx, "listing truncated", "path", path, "pages", maxPages)

	return nil
}

func nonEmpty(values ...string) []string {
	out := values[:0:0]

	for _, v := range values {
		if v != "" {
			out = append(out, v)
		}
	}

	return out
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}

	return ""
}
