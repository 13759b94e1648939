package lookup

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mik3lol/n8n-nodes-databricks/pkg/cache"
	"github.com/mik3lol/n8n-nodes-databricks/pkg/databricks"
)

const endpointsJSON = `{"endpoints":[
  {"name":"zeta-chat","task":"llm/v1/chat","config":{"served_entities":[{"name":"e1","foundation_model":{"name":"databricks-meta-llama-3-70b"}}]}},
  {"name":"bge","task":"llm/v1/embeddings","config":{"served_entities":[{"entity_name":"system.ai.bge_large"}]}},
  {"name":"custom-vectors","config":{"served_models":[{"model_name":"my-text-embedding-model"}]}},
  {"name":"Alpha-Classifier","config":{"served_models":[{"model_name":"fraud"}]}}
]}`

func newService(t *testing.T, handler http.HandlerFunc) (*Service, *atomic.Int32) {
	t.Helper()

	var calls atomic.Int32

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		handler(w, r)
	}))
	t.Cleanup(srv.Close)

	client, err := databricks.NewClient(
		databricks.Credentials{Host: srv.URL, Token: "dapi0123456789abcdef0123456789ab"},
		databricks.WithAllowHTTP(),
		databricks.WithRetry(0, 0, 0),
	)
	require.NoError(t, err)

	mem, err := cache.NewMemory[[]Option](16)
	require.NoError(t, err)

	return NewService(client, mem), &calls
}

func TestServingEndpoints(t *testing.T) {
	s, calls := newService(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/2.0/serving-endpoints", r.URL.Path)
		_, _ = w.Write([]byte(endpointsJSON))
	})

	ctx := context.Background()

	all, err := s.ServingEndpoints(ctx, "")
	require.NoError(t, err)

	names := make([]string, 0, len(all))
	for _, o := range all {
		names = append(names, o.Name)
	}

	assert.Equal(t, []string{"Alpha-Classifier", "bge", "custom-vectors", "zeta-chat"}, names)
	assert.Equal(t, "databricks-meta-llama-3-70b", all[3].Description)

	filtered, err := s.ServingEndpoints(ctx, "CHAT")
	require.NoError(t, err)
	require.Len(t, filtered, 1)
	assert.Equal(t, "zeta-chat", filtered[0].Value)

	assert.Equal(t, int32(1), calls.Load())
}

func TestEmbeddingEndpoints(t *testing.T) {
	s, _ := newService(t, func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(endpointsJSON))
	})

	opts, err := s.EmbeddingEndpoints(context.Background())
	require.NoError(t, err)

	names := make([]string, 0, len(opts))
	for _, o := range opts {
		names = append(names, o.Name)
	}

	assert.Equal(t, []string{"bge", "custom-vectors"}, names)
}

func TestWarehouses_FollowsPagination(t *testing.T) {
	s, calls := newService(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("page_token") == "" {
			_, _ = w.Write([]byte(`{"warehouses":[{"id":"w1","name":"Starter","state":"RUNNING","cluster_size":"Small"}],"next_page_token":"p2"}`))

			return
		}

		_, _ = w.Write([]byte(`{"warehouses":[{"id":"w2","name":"Large","state":"STOPPED"}]}`))
	})

	opts, err := s.Warehouses(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []Option{
		{Name: "Starter", Value: "w1", Description: "RUNNING · Small"},
		{Name: "Large", Value: "w2", Description: "STOPPED"},
	}, opts)
	assert.Equal(t, int32(2), calls.Load())
}

func TestSchemas_ScopedByCatalog(t *testing.T) {
	s, calls := newService(t, func(w http.ResponseWriter, r *http.Request) {
		catalog := r.URL.Query().Get("catalog_name")
		_, _ = w.Write([]byte(`{"schemas":[{"name":"default","full_name":"` + catalog + `.default"}]}`))
	})

	ctx := context.Background()

	main, err := s.Schemas(ctx, "main")
	require.NoError(t, err)
	assert.Equal(t, "main.default", main[0].Description)

	dev, err := s.Schemas(ctx, "dev")
	require.NoError(t, err)
	assert.Equal(t, "dev.default", dev[0].Description)

	_, err = s.Schemas(ctx, "main")
	require.NoError(t, err)
	assert.Equal(t, int32(2), calls.Load())

	_, err = s.Schemas(ctx, "")
	require.Error(t, err)
}

func TestList(t *testing.T) {
	s, _ := newService(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/2.1/unity-catalog/catalogs":
			_, _ = w.Write([]byte(`{"catalogs":[{"name":"main","comment":"default catalog"}]}`))
		case "/api/2.0/vector-search/indexes":
			_, _ = w.Write([]byte(`{"vector_indexes":[{"name":"main.rag.docs_index","endpoint_name":"vs","index_type":"DELTA_SYNC"}]}`))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	})

	ctx := context.Background()

	catalogs, err := s.List(ctx, ResourceCatalogs, "", "")
	require.NoError(t, err)
	assert.Equal(t, []Option{{Name: "main", Value: "main", Description: "default catalog"}}, catalogs)

	indexes, err := s.List(ctx, ResourceVectorIndexes, "", "")
	require.NoError(t, err)
	assert.Equal(t, "DELTA_SYNC · vs", indexes[0].Description)

	_, err = s.List(ctx, "clusters", "", "")
	require.ErrorIs(t, err, ErrUnknownResource)
	assert.EqualError(t, err, `unknown lookup resource "clusters"`)
}

func TestLookupErrorsAreNotCached(t *testing.T) {
	var fail atomic.Bool
	fail.Store(true)

	s, calls := newService(t, func(w http.ResponseWriter, _ *http.Request) {
		if fail.Load() {
			w.WriteHeader(http.StatusForbidden)

			return
		}

		_, _ = w.Write([]byte(`{"catalogs":[]}`))
	})

	ctx := context.Background()

	_, err := s.Catalogs(ctx)
	require.Error(t, err)

	fail.Store(false)

	_, err = s.Catalogs(ctx)
	require.NoError(t, err)
	assert.Equal(t, int32(2), calls.Load())
}
