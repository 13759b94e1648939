package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"

	"github.com/tidwall/gjson"
	"github.com/tmc/langchaingo/embeddings"
)

const DefaultEmbeddingBatchSize = 64

// EmbeddingsClient is an embeddings.EmbedderClient backed by an embeddings
// serving endpoint.
type EmbeddingsClient struct {
	querier  Querier
	endpoint string
}

var _ embeddings.EmbedderClient = (*EmbeddingsClient)(nil)

func NewEmbeddingsClient(querier Querier, endpoint string) *EmbeddingsClient {
	return &EmbeddingsClient{querier: querier, endpoint: endpoint}
}

// CreateEmbedding posts {"input": texts} and returns the vectors ordered by
// their reported index.
func (c *EmbeddingsClient) CreateEmbedding(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return [][]float32{}, nil
	}

	res, err := c.querier.Query(ctx, c.endpoint, map[string]any{"input": texts})
	if err != nil {
		return nil, err
	}

	raw, err := json.Marshal(res.Response)
	if err != nil {
		return nil, fmt.Errorf("encode embeddings response: %w", err)
	}

	return parseEmbeddings(raw, len(texts))
}

func parseEmbeddings(raw []byte, want int) ([][]float32, error) {
	type indexed struct {
		index  int
		vector []float32
	}

	data := gjson.GetBytes(raw, "data").Array()
	if len(data) != want {
		return nil, fmt.Errorf("embeddings endpoint returned %d vectors for %d inputs", len(data), want)
	}

	items := make([]indexed, 0, len(data))

	for i, d := range data {
		idx := i
		if v := d.Get("index"); v.Exists() {
			idx = int(v.Int())
		}

		values := d.Get("embedding").Array()
		vector := make([]float32, len(values))

		for j, v := range values {
			vector[j] = float32(v.Float())
		}

		items = append(items, indexed{index: idx, vector: vector})
	}

	sort.SliceStable(items, func(i, j int) bool { return items[i].index < items[j].index })

	out := make([][]float32, len(items))
	for i, it := range items {
		out[i] = it.vector
	}

	return out, nil
}

// NewEmbedder wraps an endpoint in a batching langchaingo embedder.
func NewEmbedder(querier Querier, endpoint string, batchSize int) (*embeddings.EmbedderImpl, error) {
	if batchSize <= 0 {
		batchSize = DefaultEmbeddingBatchSize
	}

	return embeddings.NewEmbedder(
		NewEmbeddingsClient(querier, endpoint),
		embeddings.WithBatchSize(batchSize),
		embeddings.WithStripNewLines(false),
	)
}
