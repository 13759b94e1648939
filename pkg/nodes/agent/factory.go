package agent

import (
	"context"

	"github.com/mik3lol/n8n-nodes-databricks/pkg/llm"
	"github.com/mik3lol/n8n-nodes-databricks/pkg/models"
	"github.com/mik3lol/n8n-nodes-databricks/pkg/protocol"
)

// AgentNodeFactory creates AgentNode instances.
type AgentNodeFactory struct {
	deps protocol.Dependencies
}

func NewAgentNodeFactory(deps protocol.Dependencies) protocol.NodeFactory {
	return &AgentNodeFactory{deps: deps}
}

func (f *AgentNodeFactory) Create(ctx context.Context, id string, config map[string]any) (models.Node, error) {
	return NewAgentNode(id, config, f.deps.Invoker, f.deps.Executor, f.deps.Client, f.deps.Logger)
}

func (f *AgentNodeFactory) ID() string {
	return NodeType
}

func (f *AgentNodeFactory) Name() string {
	return "Databricks AI Agent"
}

func (f *AgentNodeFactory) Description() string {
	return "Answers a prompt per item with a tool-calling agent that can query SQL warehouses, Vector Search indexes and serving endpoints"
}

// Schema returns the JSON schema for agent node configuration.
func (f *AgentNodeFactory) Schema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"model": map[string]any{
				"type":        []string{"string", "object"},
				"description": "Chat serving endpoint that supports tool calling",
				"examples":    []string{"databricks-meta-llama-3-3-70b-instruct", "databricks-claude-sonnet-4"},
			},
			"prompt": map[string]any{
				"type":        "string",
				"description": "User request. Supports templating",
				"examples":    []string{"{{.item.question}}"},
			},
			"systemMessage": map[string]any{
				"type":    "string",
				"default": DefaultSystemMessage,
			},
			"tools": map[string]any{
				"type":        "array",
				"description": "Tools the agent may call",
				"items": map[string]any{
					"type": "object",
					"properties": map[string]any{
						"type":            map[string]any{"type": "string", "enum": []string{ToolSQL, ToolVectorSearch, ToolServingEndpoint}},
						"name":            map[string]any{"type": "string"},
						"description":     map[string]any{"type": "string"},
						"warehouseId":     map[string]any{"type": "string"},
						"catalog":         map[string]any{"type": "string"},
						"schema":          map[string]any{"type": "string"},
						"maxRows":         map[string]any{"type": "integer"},
						"indexName":       map[string]any{"type": "string"},
						"topic":           map[string]any{"type": "string"},
						"topK":            map[string]any{"type": "integer"},
						"embeddingModel":  map[string]any{"type": "string"},
						"textColumn":      map[string]any{"type": "string"},
						"metadataColumns": map[string]any{"type": []string{"string", "array"}},
						"endpoint":        map[string]any{"type": "string"},
					},
					"required": []string{"type"},
				},
			},
			"options": map[string]any{
				"type": "object",
				"properties": map[string]any{
					"maxIterations":           map[string]any{"type": "integer", "minimum": 1, "default": llm.DefaultAgentMaxIterations},
					"returnIntermediateSteps": map[string]any{"type": "boolean", "default": false},
					"temperature":             map[string]any{"type": []string{"number", "string"}},
					"max_tokens":              map[string]any{"type": []string{"integer", "string"}},
				},
			},
			"continueOnFail": map[string]any{
				"type":    "boolean",
				"default": true,
			},
		},
		"required": []string{"model", "prompt"},
		"examples": []map[string]any{
			{
				"model":  "databricks-meta-llama-3-3-70b-instruct",
				"prompt": "{{.item.question}}",
				"tools": []any{
					map[string]any{"type": ToolSQL, "warehouseId": "{{.variables.warehouse_id}}", "catalog": "main", "schema": "sales"},
					map[string]any{"type": ToolVectorSearch, "indexName": "main.docs.chunks_index", "topic": "product documentation"},
				},
				"options": map[string]any{"returnIntermediateSteps": true},
			},
		},
	}
}
