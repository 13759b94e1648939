package lmchat

import (
	"context"
	"encoding/json"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tmc/langchaingo/llms"

	"github.com/mik3lol/n8n-nodes-databricks/pkg/models"
	"github.com/mik3lol/n8n-nodes-databricks/pkg/nodes"
	"github.com/mik3lol/n8n-nodes-databricks/pkg/testutil"
)

const chatSchema = `{"type":"object","properties":{"messages":{"type":"array"},"temperature":{"type":"number"}},"required":["messages"]}`

func TestChatNode_Execute(t *testing.T) {
	ws := testutil.NewWorkspace(t)
	ws.OpenAPI("llama", chatSchema)
	ws.Handle("POST /serving-endpoints/llama/invocations", func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))

		assert.Equal(t, []any{
			map[string]any{"role": "system", "content": "Be brief."},
			map[string]any{"role": "user", "content": "Explain Unity Catalog"},
		}, body["messages"])
		assert.InDelta(t, 0.2, body["temperature"], 1e-9)
		assert.Equal(t, float64(64), body["max_tokens"])
		assert.Equal(t, map[string]any{"conversation_id": "conv-1"}, body["databricks_options"])

		_, _ = w.Write([]byte(`{
			"choices": [{"message": {"role": "assistant", "content": "A governance layer."}, "finish_reason": "stop"}],
			"usage": {"prompt_tokens": 9, "completion_tokens": 3, "total_tokens": 12}
		}`))
	})

	factory := NewChatNodeFactory(ws.Dependencies())

	node, err := factory.Create(context.Background(), "chat-1", map[string]any{
		"model":         map[string]any{"mode": "list", "value": "llama"},
		"systemMessage": "Be brief.",
		"prompt":        "Explain {{ .item.topic }}",
		"options": map[string]any{
			"temperature":     0.2,
			"max_tokens":      64,
			"conversation_id": "conv-1",
		},
	})
	require.NoError(t, err)

	results, err := node.Execute(context.Background(), models.ExecutionContext{ID: "exec-1"}, map[string]models.NodeResult{
		nodes.InputPortMain: {Items: []models.Item{{"topic": "Unity Catalog"}}},
	})
	require.NoError(t, err)

	items := results[nodes.OutputPortSuccess].Items
	require.Len(t, items, 1)
	assert.Equal(t, "A governance layer.", items[0]["text"])
	assert.Equal(t, "llama", items[0]["endpoint"])
	assert.Equal(t, "stop", items[0]["stop_reason"])
	assert.NotContains(t, items[0], "tool_calls")

	usage := items[0]["usage"].(map[string]any)
	assert.Equal(t, 12, usage["TotalTokens"])
}

func TestChatNode_Execute_ToolCalls(t *testing.T) {
	ws := testutil.NewWorkspace(t)
	ws.OpenAPI("llama", chatSchema)
	ws.JSON("POST /serving-endpoints/llama/invocations", http.StatusOK, `{
		"choices": [{"message": {"role": "assistant", "content": "", "tool_calls": [
			{"id": "call_1", "type": "function", "function": {"name": "lookup", "arguments": "{\"q\":\"x\"}"}}
		]}, "finish_reason": "tool_calls"}]
	}`)

	node, err := NewChatNode("chat-1", map[string]any{"model": "llama", "prompt": "hi"}, ws.Dependencies().Invoker, nil)
	require.NoError(t, err)

	results, err := node.Execute(context.Background(), models.ExecutionContext{}, nil)
	require.NoError(t, err)

	items := results[nodes.OutputPortSuccess].Items
	require.Len(t, items, 1)
	assert.Equal(t, []map[string]any{{"id": "call_1", "name": "lookup", "arguments": `{"q":"x"}`}}, items[0]["tool_calls"])
}

func TestChatNode_Execute_EmptyChoices(t *testing.T) {
	ws := testutil.NewWorkspace(t)
	ws.OpenAPI("llama", chatSchema)
	ws.JSON("POST /serving-endpoints/llama/invocations", http.StatusOK, `{"choices": []}`)

	node, err := NewChatNode("chat-1", map[string]any{"model": "llama", "prompt": "hi"}, ws.Dependencies().Invoker, nil)
	require.NoError(t, err)

	results, err := node.Execute(context.Background(), models.ExecutionContext{}, nil)
	require.NoError(t, err)

	require.Contains(t, results, nodes.OutputPortError)
	assert.Equal(t, "serving endpoint returned no choices", results[nodes.OutputPortError].Error)
}

func TestMessages(t *testing.T) {
	testCases := []struct {
		name    string
		params  nodes.Params
		want    []llms.MessageContent
		wantErr string
	}{
		{
			name:   "prompt only",
			params: nodes.Params{"prompt": "hello"},
			want:   []llms.MessageContent{llms.TextParts(llms.ChatMessageTypeHuman, "hello")},
		},
		{
			name: "history then prompt",
			params: nodes.Params{
				"systemMessage": "sys",
				"messages": []any{
					map[string]any{"role": "user", "content": "q1"},
					map[string]any{"role": "assistant", "content": "a1"},
				},
				"prompt": "q2",
			},
			want: []llms.MessageContent{
				llms.TextParts(llms.ChatMessageTypeSystem, "sys"),
				llms.TextParts(llms.ChatMessageTypeHuman, "q1"),
				llms.TextParts(llms.ChatMessageTypeAI, "a1"),
				llms.TextParts(llms.ChatMessageTypeHuman, "q2"),
			},
		},
		{
			name:    "system only",
			params:  nodes.Params{"systemMessage": "sys"},
			wantErr: "missing required parameter 'prompt'",
		},
		{
			name:    "unknown role",
			params:  nodes.Params{"messages": []any{map[string]any{"role": "tool", "content": "x"}}},
			wantErr: "messages[0]: unsupported role 'tool'",
		},
		{
			name:    "malformed entry",
			params:  nodes.Params{"messages": []any{"hello"}},
			wantErr: "messages[0] must be an object",
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := Messages(tc.params)
			if tc.wantErr != "" {
				assert.EqualError(t, err, tc.wantErr)

				return
			}

			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestOptions(t *testing.T) {
	opts := Options(nodes.Params{"options": map[string]any{
		"temperature":     "0.5",
		"top_p":           0.9,
		"max_tokens":      "128",
		"stop":            "END, STOP",
		"response_format": "json_object",
		"return_trace":    true,
	}})

	require.NotNil(t, opts.Temperature)
	assert.InDelta(t, 0.5, *opts.Temperature, 1e-9)
	require.NotNil(t, opts.TopP)
	assert.InDelta(t, 0.9, *opts.TopP, 1e-9)
	assert.Equal(t, 128, opts.MaxTokens)
	assert.Equal(t, []string{"END", "STOP"}, opts.Stop)
	assert.Equal(t, map[string]any{"type": "json_object"}, opts.ResponseFormat)
	assert.True(t, opts.ReturnTrace)

	empty := Options(nodes.Params{})
	assert.Nil(t, empty.Temperature)
	assert.Nil(t, empty.ResponseFormat)
}

func TestNewChatNode_Validate(t *testing.T) {
	_, err := NewChatNode("c", map[string]any{"prompt": "hi"}, nil, nil)
	assert.EqualError(t, err, "missing required field 'model'")

	_, err = NewChatNode("c", map[string]any{"model": "llama"}, nil, nil)
	assert.EqualError(t, err, "one of 'prompt' or 'messages' is required")

	node, err := NewChatNode("c", map[string]any{"model": "llama", "messages": []any{}}, nil, nil)
	require.NoError(t, err)
	assert.Equal(t, NodeType, node.Type())
}
