package vectorstore

import (
	"context"

	"github.com/mik3lol/n8n-nodes-databricks/pkg/models"
	"github.com/mik3lol/n8n-nodes-databricks/pkg/protocol"
)

// VectorStoreNodeFactory creates VectorStoreNode instances.
type VectorStoreNodeFactory struct {
	deps protocol.Dependencies
}

func NewVectorStoreNodeFactory(deps protocol.Dependencies) protocol.NodeFactory {
	return &VectorStoreNodeFactory{deps: deps}
}

func (f *VectorStoreNodeFactory) Create(ctx context.Context, id string, config map[string]any) (models.Node, error) {
	return NewVectorStoreNode(id, config, f.deps.Client, f.deps.Invoker, f.deps.Logger)
}

func (f *VectorStoreNodeFactory) ID() string {
	return NodeType
}

func (f *VectorStoreNodeFactory) Name() string {
	return "Databricks Vector Store"
}

func (f *VectorStoreNodeFactory) Description() string {
	return "Searches or inserts documents in a Databricks Vector Search index"
}

// Schema returns the JSON schema for Vector Search node configuration.
func (f *VectorStoreNodeFactory) Schema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"mode": map[string]any{
				"type":        "string",
				"description": "load runs a similarity search per item; insert upserts one document per item",
				"enum":        []string{ModeLoad, ModeInsert},
				"default":     ModeLoad,
			},
			"indexName": map[string]any{
				"type":        []string{"string", "object"},
				"description": "Full index name (catalog.schema.index)",
			},
			"textColumn": map[string]any{
				"type":    "string",
				"default": "text",
			},
			"primaryKey": map[string]any{
				"type":    "string",
				"default": "id",
			},
			"embeddingColumn": map[string]any{
				"type":        "string",
				"description": "Vector column written on insert (direct access indexes)",
				"default":     "embedding",
			},
			"metadataColumns": map[string]any{
				"type":        []string{"string", "array"},
				"description": "Columns returned as document metadata; comma separated or a list",
			},
			"embeddingModel": map[string]any{
				"type":        []string{"string", "object"},
				"description": "Embeddings serving endpoint. Required for insert; without it, load sends the query as text",
			},
			"query": map[string]any{
				"type":        "string",
				"description": "Search text for load. Supports templating",
				"examples":    []string{"{{.item.question}}"},
			},
			"topK": map[string]any{
				"type":    []string{"integer", "string"},
				"default": defaultTopK,
			},
			"scoreThreshold": map[string]any{
				"type":        []string{"number", "string"},
				"description": "Minimum similarity score",
			},
			"filters": map[string]any{
				"type":        []string{"object", "string"},
				"description": "Vector Search filters, as an object or a filters_json string",
			},
			"queryType": map[string]any{
				"type": "string",
				"enum": []string{"", "ANN", "HYBRID"},
			},
			"text": map[string]any{
				"type":        "string",
				"description": "Document text for insert. Supports templating",
			},
			"metadata": map[string]any{
				"type":        []string{"object", "string"},
				"description": "Document metadata for insert; keys matching metadataColumns are written",
			},
			"options": map[string]any{
				"type": "object",
				"properties": map[string]any{
					"batchSize": map[string]any{"type": "integer", "minimum": 1},
				},
			},
			"continueOnFail": map[string]any{
				"type":    "boolean",
				"default": true,
			},
		},
		"required": []string{"indexName"},
		"examples": []map[string]any{
			{
				"mode":            ModeLoad,
				"indexName":       "main.docs.chunks_index",
				"query":           "{{.item.question}}",
				"metadataColumns": "source,page",
				"topK":            5,
			},
			{
				"mode":            ModeInsert,
				"indexName":       "main.docs.chunks_index",
				"embeddingModel":  "databricks-gte-large-en",
				"text":            "{{.item.chunk}}",
				"metadata":        map[string]any{"source": "{{.item.source}}"},
				"metadataColumns": "source",
			},
		},
	}
}
