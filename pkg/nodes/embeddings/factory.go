package embeddings

import (
	"context"

	"github.com/mik3lol/n8n-nodes-databricks/pkg/llm"
	"github.com/mik3lol/n8n-nodes-databricks/pkg/models"
	"github.com/mik3lol/n8n-nodes-databricks/pkg/protocol"
)

// EmbeddingsNodeFactory creates EmbeddingsNode instances.
type EmbeddingsNodeFactory struct {
	deps protocol.Dependencies
}

func NewEmbeddingsNodeFactory(deps protocol.Dependencies) protocol.NodeFactory {
	return &EmbeddingsNodeFactory{deps: deps}
}

func (f *EmbeddingsNodeFactory) Create(ctx context.Context, id string, config map[string]any) (models.Node, error) {
	return NewEmbeddingsNode(id, config, f.deps.Invoker, f.deps.Logger)
}

func (f *EmbeddingsNodeFactory) ID() string {
	return NodeType
}

func (f *EmbeddingsNodeFactory) Name() string {
	return "Databricks Embeddings"
}

func (f *EmbeddingsNodeFactory) Description() string {
	return "Adds an embedding vector to every item using a Databricks embeddings serving endpoint"
}

func (f *EmbeddingsNodeFactory) Schema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"model": map[string]any{
				"type":        []string{"string", "object"},
				"description": "Embeddings serving endpoint name",
				"examples":    []string{"databricks-gte-large-en", "databricks-bge-large-en"},
			},
			"text": map[string]any{
				"type":        "string",
				"description": "Text to embed. Supports templating",
				"examples":    []string{"{{.item.content}}"},
			},
			"mode": map[string]any{
				"type":        "string",
				"description": "documents batches all items per endpoint; query sends one request per item",
				"enum":        []string{ModeDocuments, ModeQuery},
				"default":     ModeDocuments,
			},
			"options": map[string]any{
				"type": "object",
				"properties": map[string]any{
					"batchSize": map[string]any{
						"type":    "integer",
						"minimum": 1,
						"default": llm.DefaultEmbeddingBatchSize,
					},
					"outputField": map[string]any{
						"type":    "string",
						"default": defaultOutputField,
					},
				},
			},
			"continueOnFail": map[string]any{
				"type":    "boolean",
				"default": true,
			},
		},
		"required": []string{"model", "text"},
		"examples": []map[string]any{
			{"model": "databricks-gte-large-en", "text": "{{.item.content}}"},
		},
	}
}
