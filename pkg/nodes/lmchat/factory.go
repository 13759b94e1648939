package lmchat

import (
	"context"

	"github.com/mik3lol/n8n-nodes-databricks/pkg/models"
	"github.com/mik3lol/n8n-nodes-databricks/pkg/protocol"
)

// ChatNodeFactory creates ChatNode instances.
type ChatNodeFactory struct {
	deps protocol.Dependencies
}

func NewChatNodeFactory(deps protocol.Dependencies) protocol.NodeFactory {
	return &ChatNodeFactory{deps: deps}
}

func (f *ChatNodeFactory) Create(ctx context.Context, id string, config map[string]any) (models.Node, error) {
	return NewChatNode(id, config, f.deps.Invoker, f.deps.Logger)
}

func (f *ChatNodeFactory) ID() string {
	return NodeType
}

func (f *ChatNodeFactory) Name() string {
	return "Databricks Chat Model"
}

func (f *ChatNodeFactory) Description() string {
	return "Generates a chat completion per item with a Databricks model serving endpoint"
}

// Schema returns the JSON schema for chat node configuration.
func (f *ChatNodeFactory) Schema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"model": map[string]any{
				"type":        []string{"string", "object"},
				"description": "Chat serving endpoint name, or a resource locator with a 'value' field",
				"examples":    []string{"databricks-meta-llama-3-3-70b-instruct"},
			},
			"prompt": map[string]any{
				"type":        "string",
				"description": "User message. Supports templating",
				"examples":    []string{"Summarize: {{.item.text}}"},
			},
			"systemMessage": map[string]any{
				"type":        "string",
				"description": "System prompt sent before the conversation",
			},
			"messages": map[string]any{
				"type":        "array",
				"description": "Prior conversation turns, sent before the prompt",
				"items": map[string]any{
					"type": "object",
					"properties": map[string]any{
						"role":    map[string]any{"type": "string", "enum": []string{"system", "user", "assistant"}},
						"content": map[string]any{"type": "string"},
					},
					"required": []string{"content"},
				},
			},
			"options": map[string]any{
				"type": "object",
				"properties": map[string]any{
					"max_tokens":      map[string]any{"type": []string{"integer", "string"}, "description": "Maximum tokens to generate"},
					"temperature":     map[string]any{"type": []string{"number", "string"}, "minimum": 0, "maximum": 2},
					"top_p":           map[string]any{"type": []string{"number", "string"}, "minimum": 0, "maximum": 1},
					"stop":            map[string]any{"type": []string{"array", "string"}},
					"response_format": map[string]any{"type": []string{"string", "object"}, "examples": []string{"text", "json_object"}},
					"conversation_id": map[string]any{"type": "string"},
					"return_trace":    map[string]any{"type": "boolean"},
				},
			},
			"continueOnFail": map[string]any{
				"type":    "boolean",
				"default": true,
			},
		},
		"required": []string{"model"},
		"examples": []map[string]any{
			{
				"model":         "databricks-meta-llama-3-3-70b-instruct",
				"systemMessage": "You answer in one sentence.",
				"prompt":        "{{.item.question}}",
				"options":       map[string]any{"temperature": 0.2, "max_tokens": 256},
			},
		},
	}
}
