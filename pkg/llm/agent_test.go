package llm

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/tools"

	"github.com/mik3lol/n8n-nodes-databricks/pkg/statement"
)

// scriptedModel returns one canned response per call.
type scriptedModel struct {
	mu        sync.Mutex
	responses []*llms.ContentResponse
	calls     [][]llms.MessageContent
}

func (m *scriptedModel) GenerateContent(_ context.Context, messages []llms.MessageContent, _ ...llms.CallOption) (*llms.ContentResponse, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.calls = append(m.calls, messages)

	resp := m.responses[0]
	if len(m.responses) > 1 {
		m.responses = m.responses[1:]
	}

	return resp, nil
}

func (m *scriptedModel) Call(ctx context.Context, prompt string, options ...llms.CallOption) (string, error) {
	return llms.GenerateFromSinglePrompt(ctx, m, prompt, options...)
}

func toolCallResponse(id, name, args string) *llms.ContentResponse {
	call := &llms.FunctionCall{Name: name, Arguments: args}

	return &llms.ContentResponse{Choices: []*llms.ContentChoice{{
		FuncCall:  call,
		ToolCalls: []llms.ToolCall{{ID: id, Type: "function", FunctionCall: call}},
	}}}
}

func textResponse(text string) *llms.ContentResponse {
	return &llms.ContentResponse{Choices: []*llms.ContentChoice{{Content: text}}}
}

func TestNewAgent_RequiresModel(t *testing.T) {
	_, err := NewAgent(AgentConfig{})
	require.ErrorIs(t, err, ErrNoModel)
}

func TestAgent_RunWithTool(t *testing.T) {
	model := &scriptedModel{responses: []*llms.ContentResponse{
		toolCallResponse("call_1", "databricks_sql", `{"__arg1":"SELECT 1"}`),
		textResponse("The query returned one row."),
	}}
	runner := &fakeRunner{result: &statement.Result{Rows: []map[string]any{{"1": "1"}}}}

	agent, err := NewAgent(AgentConfig{
		Model:                   model,
		Tools:                   []tools.Tool{&SQLTool{Runner: runner, WarehouseID: "wh"}},
		SystemMessage:           "You answer questions with SQL.",
		ReturnIntermediateSteps: true,
	})
	require.NoError(t, err)

	res, err := agent.Run(context.Background(), "how many rows?")
	require.NoError(t, err)

	assert.Equal(t, "The query returned one row.", res.Output)
	require.Len(t, res.Steps, 1)
	assert.Equal(t, "databricks_sql", res.Steps[0].Tool)
	assert.Equal(t, "SELECT 1", res.Steps[0].ToolInput)
	assert.JSONEq(t, `{"row_count":1,"rows":[{"1":"1"}]}`, res.Steps[0].Observation)

	require.Len(t, runner.requests, 1)
	assert.Equal(t, "SELECT 1", runner.requests[0].Statement)

	require.Len(t, model.calls, 2)
	for _, messages := range model.calls {
		require.NotEmpty(t, messages)
		assert.Equal(t, llms.ChatMessageTypeSystem, messages[0].Role)
		assert.Equal(t, llms.TextContent{Text: "You answer questions with SQL."}, messages[0].Parts[0])

		for _, mc := range messages[1:] {
			assert.NotEqual(t, llms.ChatMessageTypeSystem, mc.Role)
		}
	}
}

func TestAgent_RunWithoutSteps(t *testing.T) {
	model := &scriptedModel{responses: []*llms.ContentResponse{textResponse("hello")}}

	agent, err := NewAgent(AgentConfig{Model: model})
	require.NoError(t, err)

	res, err := agent.Run(context.Background(), "hi")
	require.NoError(t, err)

	assert.Equal(t, "hello", res.Output)
	assert.Empty(t, res.Steps)
}

func TestAgent_ToolRoundTripThroughChatModel(t *testing.T) {
	q := &fakeQuerier{responses: []string{
		`{"choices":[{"message":{"role":"assistant","content":"","tool_calls":[
			{"id":"call_1","type":"function","function":{"name":"databricks_sql","arguments":"{\"query\":\"SELECT count(*) AS n FROM orders\"}"}}
		]},"finish_reason":"tool_calls"}]}`,
		`{"choices":[{"message":{"role":"assistant","content":"There are 42 orders."},"finish_reason":"stop"}]}`,
	}}
	runner := &fakeRunner{result: &statement.Result{Rows: []map[string]any{{"n": "42"}}}}

	agent, err := NewAgent(AgentConfig{
		Model:         NewChatModel(q, "llama", ChatOptions{}),
		Tools:         []tools.Tool{&SQLTool{Runner: runner, WarehouseID: "wh"}},
		SystemMessage: "Answer with SQL.",
	})
	require.NoError(t, err)

	res, err := agent.Run(context.Background(), "How many orders?")
	require.NoError(t, err)
	assert.Equal(t, "There are 42 orders.", res.Output)

	require.Len(t, runner.requests, 1)
	require.Len(t, q.bodies, 2)

	messages := q.bodies[1]["messages"].([]any)

	roles := make([]any, 0, len(messages))
	for _, m := range messages {
		roles = append(roles, m.(map[string]any)["role"])
	}

	assert.Equal(t, []any{"system", "user", "assistant", "tool"}, roles)

	assistant := messages[2].(map[string]any)
	assert.Equal(t, "call_1", assistant["tool_calls"].([]any)[0].(map[string]any)["id"])

	result := messages[3].(map[string]any)
	assert.Equal(t, "call_1", result["tool_call_id"])
	assert.Equal(t, "databricks_sql", result["name"])
	assert.Contains(t, result["content"], `"n":"42"`)
}
