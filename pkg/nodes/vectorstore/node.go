// Package vectorstore provides the Vector Search node: similarity search
// ("load") and document insertion ("insert") on a Databricks index.
package vectorstore

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/tmc/langchaingo/embeddings"
	"github.com/tmc/langchaingo/schema"
	"github.com/tmc/langchaingo/vectorstores"

	"github.com/mik3lol/n8n-nodes-databricks/pkg/llm"
	"github.com/mik3lol/n8n-nodes-databricks/pkg/models"
	"github.com/mik3lol/n8n-nodes-databricks/pkg/nodes"
)

const NodeType = "databricks-vectorstore"

const (
	ModeLoad   = "load"
	ModeInsert = "insert"

	defaultTopK = 4
)

type VectorStoreNode struct {
	id             string
	params         map[string]any
	mode           string
	continueOnFail bool

	client  llm.Poster
	querier llm.Querier
	logger  *slog.Logger
}

func NewVectorStoreNode(id string, config map[string]any, client llm.Poster, querier llm.Querier, logger *slog.Logger) (*VectorStoreNode, error) {
	p := nodes.Params(config)

	n := &VectorStoreNode{
		id:             id,
		params:         config,
		mode:           p.String("mode"),
		continueOnFail: p.Bool(nodes.ContinueOnFailKey, true),
		client:         client,
		querier:        querier,
		logger:         logger,
	}

	if n.mode == "" {
		n.mode = ModeLoad
	}

	if err := n.Validate(config); err != nil {
		return nil, err
	}

	if n.logger == nil {
		n.logger = slog.Default()
	}

	return n, nil
}

func (n *VectorStoreNode) ID() string {
	return n.id
}

func (n *VectorStoreNode) Type() string {
	return NodeType
}

func (n *VectorStoreNode) Execute(ctx context.Context, execCtx models.ExecutionContext, inputs map[string]models.NodeResult) (map[string]models.NodeResult, error) {
	if n.mode == ModeInsert {
		return n.insert(ctx, &execCtx, inputs)
	}

	return nodes.Run(ctx, n.id, n.continueOnFail, inputs, func(ctx context.Context, _ int, item models.Item) ([]models.Item, error) {
		p, err := nodes.RenderParams(n.params, &execCtx, item)
		if err != nil {
			return nil, err
		}

		return n.load(ctx, p)
	})
}

// Store builds the index adapter from rendered parameters. An embedding model
// is optional for search: without one the query is sent as text.
func (n *VectorStoreNode) Store(p nodes.Params) (*llm.VectorStore, error) {
	index, err := p.RequiredString("indexName")
	if err != nil {
		return nil, err
	}

	var embedder embeddings.Embedder

	if model := p.String("embeddingModel"); model != "" {
		e, err := llm.NewEmbedder(n.querier, model, p.Sub("options").Int("batchSize", llm.DefaultEmbeddingBatchSize))
		if err != nil {
			return nil, err
		}

		embedder = e
	}

	return llm.NewVectorStore(n.client, llm.VectorStoreConfig{
		Index:           index,
		PrimaryKey:      p.String("primaryKey"),
		TextColumn:      p.String("textColumn"),
		EmbeddingColumn: p.String("embeddingColumn"),
		MetadataColumns: p.Strings("metadataColumns"),
		QueryType:       p.String("queryType"),
		Embedder:        embedder,
	})
}

func (n *VectorStoreNode) load(ctx context.Context, p nodes.Params) ([]models.Item, error) {
	store, err := n.Store(p)
	if err != nil {
		return nil, err
	}

	query, err := p.RequiredString("query")
	if err != nil {
		return nil, err
	}

	var opts []vectorstores.Option

	if threshold := p.Float("scoreThreshold"); threshold != nil && *threshold > 0 {
		opts = append(opts, vectorstores.WithScoreThreshold(float32(*threshold)))
	}

	if filters, ok := p["filters"]; ok && filters != nil && filters != "" {
		opts = append(opts, vectorstores.WithFilters(filters))
	}

	docs, err := store.SimilaritySearch(ctx, query, p.Int("topK", defaultTopK), opts...)
	if err != nil {
		return nil, err
	}

	out := make([]models.Item, len(docs))
	for i, d := range docs {
		out[i] = models.Item{
			"pageContent": d.PageContent,
			"metadata":    d.Metadata,
			"score":       d.Score,
		}
	}

	return out, nil
}

// insert renders one document per item and upserts them in a single request.
// The index settings of the first valid item apply to the whole batch.
func (n *VectorStoreNode) insert(ctx context.Context, execCtx *models.ExecutionContext, inputs map[string]models.NodeResult) (map[string]models.NodeResult, error) {
	items := nodes.InputItems(inputs)
	out := nodes.NewOutputs(n.id)

	var (
		store   *llm.VectorStore
		docs    []schema.Document
		indexes []int
	)

	for i, item := range items {
		doc, p, err := n.document(execCtx, item)
		if err == nil && store == nil {
			store, err = n.Store(p)
		}

		if err != nil {
			if !n.continueOnFail {
				return nil, err
			}

			out.Fail(i, err)

			continue
		}

		docs = append(docs, doc)
		indexes = append(indexes, i)
	}

	if len(docs) == 0 {
		return out.Results(), nil
	}

	ids, err := store.AddDocuments(ctx, docs)
	if err != nil {
		if !n.continueOnFail {
			return nil, err
		}

		for _, i := range indexes {
			out.Fail(i, err)
		}

		return out.Results(), nil
	}

	n.logger.InfoContext(ctx, "Upserted documents", "node_id", n.id, "count", len(ids))

	for i, id := range ids {
		out.Add(models.Item{
			"id":          id,
			"pageContent": docs[i].PageContent,
			"metadata":    docs[i].Metadata,
		})
	}

	return out.Results(), nil
}

func (n *VectorStoreNode) document(execCtx *models.ExecutionContext, item models.Item) (schema.Document, nodes.Params, error) {
	p, err := nodes.RenderParams(n.params, execCtx, item)
	if err != nil {
		return schema.Document{}, nil, err
	}

	text, err := p.RequiredString("text")
	if err != nil {
		return schema.Document{}, nil, err
	}

	metadata, err := p.Object("metadata")
	if err != nil {
		return schema.Document{}, nil, err
	}

	if metadata == nil {
		metadata = map[string]any{}
	}

	return schema.Document{PageContent: text, Metadata: metadata}, p, nil
}

func (n *VectorStoreNode) Validate(config map[string]any) error {
	p := nodes.Params(config)

	if p.String("indexName") == "" {
		return errors.New("missing required field 'indexName'")
	}

	switch n.mode {
	case ModeLoad:
		if p.String("query") == "" {
			return errors.New("missing required field 'query'")
		}
	case ModeInsert:
		if p.String("text") == "" {
			return errors.New("missing required field 'text'")
		}

		if p.String("embeddingModel") == "" {
			return errors.New("insert mode requires 'embeddingModel'")
		}
	default:
		return fmt.Errorf("unsupported mode '%s'", n.mode)
	}

	return nil
}

func (n *VectorStoreNode) InputPorts() []models.InputPort {
	return nodes.InputPorts(n.id)
}

func (n *VectorStoreNode) OutputPorts() []models.OutputPort {
	if n.mode == ModeInsert {
		return nodes.OutputPorts(n.id, "Inserted documents with their generated primary keys")
	}

	return nodes.OutputPorts(n.id, "Matching documents, one item per match")
}
