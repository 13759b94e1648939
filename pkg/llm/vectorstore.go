package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"

	"github.com/google/uuid"
	"github.com/tmc/langchaingo/embeddings"
	"github.com/tmc/langchaingo/schema"
	"github.com/tmc/langchaingo/vectorstores"

	"github.com/mik3lol/n8n-nodes-databricks/pkg/statement"
)

const (
	scoreColumn          = "score"
	defaultPrimaryKey    = "id"
	defaultTextColumn    = "text"
	defaultEmbeddingCol  = "embedding"
	upsertStatusFailure  = "FAILURE"
	upsertStatusPartial  = "PARTIAL_SUCCESS"
	vectorSearchIndexAPI = "/api/2.0/vector-search/indexes/"
)

var (
	// ErrNoEmbedder indicates an upsert into an index without an embedder to
	// compute vectors.
	ErrNoEmbedder = errors.New("vector store: an embedder is required to add documents")

	// ErrUpsertFailed indicates that the index rejected some or all rows.
	ErrUpsertFailed = errors.New("vector store: upsert failed")
)

// Poster is the HTTP capability the vector store needs.
type Poster interface {
	Post(ctx context.Context, path string, body, out any) error
}

// VectorStoreConfig describes a Vector Search index.
type VectorStoreConfig struct {
	Index           string
	PrimaryKey      string
	TextColumn      string
	EmbeddingColumn string
	// MetadataColumns are returned with every match. Document metadata keys
	// with the same names are written on upsert.
	MetadataColumns []string
	// QueryType is ANN or HYBRID; empty leaves the index default.
	QueryType string
	// Embedder computes query and document vectors. Without one, queries are
	// sent as text for indexes with managed embeddings.
	Embedder embeddings.Embedder
}

// VectorStore is a vectorstores.VectorStore over a Databricks Vector Search
// index.
type VectorStore struct {
	client Poster
	cfg    VectorStoreConfig
}

var _ vectorstores.VectorStore = (*VectorStore)(nil)

func NewVectorStore(client Poster, cfg VectorStoreConfig) (*VectorStore, error) {
	if cfg.Index == "" {
		return nil, errors.New("vector store: index name is required")
	}

	if cfg.PrimaryKey == "" {
		cfg.PrimaryKey = defaultPrimaryKey
	}

	if cfg.TextColumn == "" {
		cfg.TextColumn = defaultTextColumn
	}

	if cfg.EmbeddingColumn == "" {
		cfg.EmbeddingColumn = defaultEmbeddingCol
	}

	return &VectorStore{client: client, cfg: cfg}, nil
}

// AddDocuments embeds docs and upserts them with generated primary keys.
func (s *VectorStore) AddDocuments(ctx context.Context, docs []schema.Document, options ...vectorstores.Option) ([]string, error) {
	opts := s.options(options)

	if opts.Embedder == nil {
		return nil, ErrNoEmbedder
	}

	if len(docs) == 0 {
		return []string{}, nil
	}

	texts := make([]string, len(docs))
	for i, d := range docs {
		texts[i] = d.PageContent
	}

	vectors, err := opts.Embedder.EmbedDocuments(ctx, texts)
	if err != nil {
		return nil, fmt.Errorf("embed documents: %w", err)
	}

	if len(vectors) != len(docs) {
		return nil, fmt.Errorf("embedder returned %d vectors for %d documents", len(vectors), len(docs))
	}

	ids := make([]string, len(docs))
	rows := make([]map[string]any, len(docs))

	for i, d := range docs {
		ids[i] = uuid.NewString()

		row := map[string]any{
			s.cfg.PrimaryKey:      ids[i],
			s.cfg.TextColumn:      d.PageContent,
			s.cfg.EmbeddingColumn: vectors[i],
		}

		for _, col := range s.cfg.MetadataColumns {
			if v, ok := d.Metadata[col]; ok {
				row[col] = v
			}
		}

		rows[i] = row
	}

	inputs, err := json.Marshal(rows)
	if err != nil {
		return nil, fmt.Errorf("encode rows: %w", err)
	}

	var resp struct {
		Status string `json:"status"`
		Result struct {
			SuccessRowCount   int      `json:"success_row_count"`
			FailedPrimaryKeys []string `json:"failed_primary_keys"`
		} `json:"result"`
	}

	if err := s.client.Post(ctx, s.indexPath("upsert-data"), map[string]any{"inputs_json": string(inputs)}, &resp); err != nil {
		return nil, err
	}

	if resp.Status == upsertStatusFailure || resp.Status == upsertStatusPartial {
		return nil, fmt.Errorf("%w: status %s, failed keys %v", ErrUpsertFailed, resp.Status, resp.Result.FailedPrimaryKeys)
	}

	return ids, nil
}

// SimilaritySearch returns up to numDocuments matches for query. Score is the
// index's similarity score; Filters may be a JSON string or a map.
func (s *VectorStore) SimilaritySearch(ctx context.Context, query string, numDocuments int, options ...vectorstores.Option) ([]schema.Document, error) {
	opts := s.options(options)

	if numDocuments <= 0 {
		numDocuments = 4
	}

	columns := append([]string{s.cfg.PrimaryKey, s.cfg.TextColumn}, s.cfg.MetadataColumns...)

	body := map[string]any{
		"columns":     columns,
		"num_results": numDocuments,
	}

	if opts.Embedder != nil {
		vector, err := opts.Embedder.EmbedQuery(ctx, query)
		if err != nil {
			return nil, fmt.Errorf("embed query: %w", err)
		}

		body["query_vector"] = vector

		if s.cfg.QueryType == "HYBRID" {
			body["query_text"] = query
		}
	} else {
		body["query_text"] = query
	}

	if s.cfg.QueryType != "" {
		body["query_type"] = s.cfg.QueryType
	}

	if opts.ScoreThreshold > 0 {
		body["score_threshold"] = opts.ScoreThreshold
	}

	if filters, err := filtersJSON(opts.Filters); err != nil {
		return nil, err
	} else if filters != "" {
		body["filters_json"] = filters
	}

	var resp struct {
		Manifest struct {
			Columns []statement.Column `json:"columns"`
		} `json:"manifest"`
		Result struct {
			DataArray [][]any `json:"data_array"`
		} `json:"result"`
	}

	if err := s.client.Post(ctx, s.indexPath("query"), body, &resp); err != nil {
		return nil, err
	}

	docs := make([]schema.Document, 0, len(resp.Result.DataArray))

	for _, row := range resp.Result.DataArray {
		record := statement.Project(row, resp.Manifest.Columns)
		docs = append(docs, s.toDocument(record))
	}

	return docs, nil
}

func (s *VectorStore) toDocument(record map[string]any) schema.Document {
	doc := schema.Document{Metadata: map[string]any{}}

	for k, v := range record {
		switch k {
		case s.cfg.TextColumn:
			if text, ok := v.(string); ok {
				doc.PageContent = text
			}
		case scoreColumn:
			if score, ok := v.(float64); ok {
				doc.Score = float32(score)
			}
		default:
			doc.Metadata[k] = v
		}
	}

	return doc
}

func (s *VectorStore) options(options []vectorstores.Option) vectorstores.Options {
	opts := vectorstores.Options{}
	for _, opt := range options {
		opt(&opts)
	}

	if opts.Embedder == nil {
		opts.Embedder = s.cfg.Embedder
	}

	return opts
}

func (s *VectorStore) indexPath(action string) string {
	return vectorSearchIndexAPI + url.PathEscape(s.cfg.Index) + "/" + action
}

func filtersJSON(filters any) (string, error) {
	switch f := filters.(type) {
	case nil:
		return "", nil
	case string:
		return f, nil
	default:
		data, err := json.Marshal(f)
		if err != nil {
			return "", fmt.Errorf("encode filters: %w", err)
		}

		return string(data), nil
	}
}
