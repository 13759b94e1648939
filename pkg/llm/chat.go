// Package llm adapts Databricks serving endpoints and Vector Search indexes to
// the langchaingo model, embedder, vector store and tool interfaces.
package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"

	"github.com/tidwall/gjson"
	"github.com/tmc/langchaingo/llms"

	"github.com/mik3lol/n8n-nodes-databricks/pkg/serving"
)

// ErrEmptyResponse indicates an endpoint response without choices.
var ErrEmptyResponse = errors.New("serving endpoint returned no choices")

// Querier posts a body to a named serving endpoint. *serving.Invoker
// satisfies it.
type Querier interface {
	Query(ctx context.Context, endpoint string, body map[string]any) (*serving.QueryResult, error)
}

// ChatOptions are request defaults applied to every call; per-call options
// override them.
type ChatOptions struct {
	Temperature    *float64
	MaxTokens      int
	TopP           *float64
	Stop           []string
	ResponseFormat map[string]any
	ConversationID string
	ReturnTrace    bool
}

// ChatModel is an llms.Model backed by an OpenAI-compatible chat endpoint.
//
// Agents that report tool results as plain function messages lose the call id
// and the assistant turn that requested the tool. ChatModel remembers the tool
// calls it returned during a conversation and pairs those results with them
// in order.
type ChatModel struct {
	querier  Querier
	endpoint string
	defaults ChatOptions

	mu    sync.Mutex
	calls []llms.ToolCall
}

var _ llms.Model = (*ChatModel)(nil)

func NewChatModel(querier Querier, endpoint string, defaults ChatOptions) *ChatModel {
	return &ChatModel{querier: querier, endpoint: endpoint, defaults: defaults}
}

func (m *ChatModel) Endpoint() string {
	return m.endpoint
}

// Call implements the single prompt interface.
func (m *ChatModel) Call(ctx context.Context, prompt string, options ...llms.CallOption) (string, error) {
	return llms.GenerateFromSinglePrompt(ctx, m, prompt, options...)
}

func (m *ChatModel) GenerateContent(ctx context.Context, messages []llms.MessageContent, options ...llms.CallOption) (*llms.ContentResponse, error) {
	opts := llms.CallOptions{}
	for _, opt := range options {
		opt(&opts)
	}

	body, err := m.requestBody(messages, m.history(messages), opts)
	if err != nil {
		return nil, err
	}

	res, err := m.querier.Query(ctx, m.endpoint, body)
	if err != nil {
		return nil, err
	}

	raw, err := json.Marshal(res.Response)
	if err != nil {
		return nil, fmt.Errorf("encode chat response: %w", err)
	}

	resp, err := parseChatResponse(raw)
	if err != nil {
		return nil, err
	}

	if calls := resp.Choices[0].ToolCalls; len(calls) > 0 {
		m.mu.Lock()
		m.calls = append(m.calls, calls[0])
		m.mu.Unlock()
	}

	return resp, nil
}

// history returns the tool calls issued earlier in the conversation. A
// request without tool results starts a new conversation.
func (m *ChatModel) history(messages []llms.MessageContent) []llms.ToolCall {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !slices.ContainsFunc(messages, isToolResult) {
		m.calls = nil
	}

	return slices.Clone(m.calls)
}

func isToolResult(mc llms.MessageContent) bool {
	return mc.Role == llms.ChatMessageTypeTool || mc.Role == llms.ChatMessageTypeFunction
}

func (m *ChatModel) requestBody(messages []llms.MessageContent, history []llms.ToolCall, opts llms.CallOptions) (map[string]any, error) {
	encoded, err := encodeMessages(messages, history)
	if err != nil {
		return nil, err
	}

	body := map[string]any{"messages": encoded}

	if m.defaults.Temperature != nil {
		body["temperature"] = *m.defaults.Temperature
	}

	if opts.Temperature > 0 {
		body["temperature"] = opts.Temperature
	}

	if maxTokens := firstPositive(opts.MaxTokens, m.defaults.MaxTokens); maxTokens > 0 {
		body["max_tokens"] = maxTokens
	}

	if m.defaults.TopP != nil {
		body["top_p"] = *m.defaults.TopP
	}

	if opts.TopP > 0 {
		body["top_p"] = opts.TopP
	}

	if stop := firstNonEmpty(opts.StopWords, m.defaults.Stop); len(stop) > 0 {
		body["stop"] = stop
	}

	switch {
	case opts.JSONMode:
		body["response_format"] = map[string]any{"type": "json_object"}
	case m.defaults.ResponseFormat != nil:
		body["response_format"] = m.defaults.ResponseFormat
	}

	if tools := encodeTools(opts); len(tools) > 0 {
		body["tools"] = tools
		if opts.ToolChoice != nil {
			body["tool_choice"] = opts.ToolChoice
		}
	}

	if m.defaults.ConversationID != "" || m.defaults.ReturnTrace {
		dbOpts := map[string]any{}
		if m.defaults.ConversationID != "" {
			dbOpts["conversation_id"] = m.defaults.ConversationID
		}

		if m.defaults.ReturnTrace {
			dbOpts["return_trace"] = true
		}

		body["databricks_options"] = dbOpts
	}

	return body, nil
}

// encodeMessages converts messages to the OpenAI chat format. Tool results
// without a call id take the next call from history, preceded by the
// assistant turn that requested it when the messages do not carry one.
func encodeMessages(messages []llms.MessageContent, history []llms.ToolCall) ([]any, error) {
	out := make([]any, 0, len(messages))
	announced := map[string]bool{}
	next := 0

	for _, mc := range messages {
		if isToolResult(mc) {
			for _, part := range mc.Parts {
				res, ok := toolResult(part)
				if !ok {
					continue
				}

				if res.ToolCallID == "" && next < len(history) {
					call := history[next]
					next++

					res.ToolCallID = call.ID
					if res.Name == "" && call.FunctionCall != nil {
						res.Name = call.FunctionCall.Name
					}

					if !announced[call.ID] {
						out = append(out, map[string]any{
							"role":       "assistant",
							"content":    "",
							"tool_calls": []any{encodeToolCall(call)},
						})
						announced[call.ID] = true
					}
				}

				msg := map[string]any{"role": "tool", "content": res.Content}
				if res.ToolCallID != "" {
					msg["tool_call_id"] = res.ToolCallID
				}

				if res.Name != "" {
					msg["name"] = res.Name
				}

				out = append(out, msg)
			}

			continue
		}

		role, err := openAIRole(mc.Role)
		if err != nil {
			return nil, err
		}

		msg := map[string]any{"role": role}

		var (
			texts     []string
			rich      []any
			toolCalls []any
		)

		for _, part := range mc.Parts {
			switch p := part.(type) {
			case llms.TextContent:
				texts = append(texts, p.Text)
				rich = append(rich, map[string]any{"type": "text", "text": p.Text})
			case llms.ImageURLContent:
				rich = append(rich, map[string]any{"type": "image_url", "image_url": map[string]any{"url": p.URL}})
			case llms.ToolCall:
				if p.FunctionCall == nil {
					continue
				}

				toolCalls = append(toolCalls, encodeToolCall(p))
				announced[p.ID] = true
			}
		}

		if len(rich) > len(texts) {
			msg["content"] = rich
		} else {
			msg["content"] = strings.Join(texts, "\n")
		}

		if len(toolCalls) > 0 {
			msg["tool_calls"] = toolCalls
		}

		out = append(out, msg)
	}

	return out, nil
}

func toolResult(part llms.ContentPart) (llms.ToolCallResponse, bool) {
	switch p := part.(type) {
	case llms.ToolCallResponse:
		return p, true
	case llms.TextContent:
		return llms.ToolCallResponse{Content: p.Text}, true
	default:
		return llms.ToolCallResponse{}, false
	}
}

func encodeToolCall(call llms.ToolCall) map[string]any {
	fn := map[string]any{}
	if call.FunctionCall != nil {
		fn["name"] = call.FunctionCall.Name
		fn["arguments"] = call.FunctionCall.Arguments
	}

	return map[string]any{"id": call.ID, "type": "function", "function": fn}
}

func openAIRole(role llms.ChatMessageType) (string, error) {
	switch role {
	case llms.ChatMessageTypeSystem:
		return "system", nil
	case llms.ChatMessageTypeHuman, llms.ChatMessageTypeGeneric:
		return "user", nil
	case llms.ChatMessageTypeAI:
		return "assistant", nil
	default:
		return "", fmt.Errorf("unsupported message role %q", role)
	}
}

// encodeTools merges tools and legacy function definitions into the OpenAI
// tools array.
func encodeTools(opts llms.CallOptions) []any {
	defs := make([]llms.FunctionDefinition, 0, len(opts.Tools)+len(opts.Functions))

	for _, t := range opts.Tools {
		if t.Function != nil {
			defs = append(defs, *t.Function)
		}
	}

	defs = append(defs, opts.Functions...)

	out := make([]any, 0, len(defs))
	for _, d := range defs {
		fn := map[string]any{"name": d.Name, "description": d.Description}
		if d.Parameters != nil {
			fn["parameters"] = d.Parameters
		}

		out = append(out, map[string]any{"type": "function", "function": fn})
	}

	return out
}

func parseChatResponse(raw []byte) (*llms.ContentResponse, error) {
	doc := gjson.ParseBytes(raw)

	choices := doc.Get("choices").Array()
	if len(choices) == 0 {
		return nil, ErrEmptyResponse
	}

	usage := map[string]any{
		"PromptTokens":     int(doc.Get("usage.prompt_tokens").Int()),
		"CompletionTokens": int(doc.Get("usage.completion_tokens").Int()),
		"TotalTokens":      int(doc.Get("usage.total_tokens").Int()),
	}

	resp := &llms.ContentResponse{Choices: make([]*llms.ContentChoice, 0, len(choices))}

	for _, c := range choices {
		choice := &llms.ContentChoice{
			Content:        messageText(c.Get("message.content")),
			StopReason:     c.Get("finish_reason").String(),
			GenerationInfo: usage,
		}

		for _, tc := range c.Get("message.tool_calls").Array() {
			call := llms.ToolCall{
				ID:   tc.Get("id").String(),
				Type: "function",
				FunctionCall: &llms.FunctionCall{
					Name:      tc.Get("function.name").String(),
					Arguments: tc.Get("function.arguments").String(),
				},
			}
			choice.ToolCalls = append(choice.ToolCalls, call)
		}

		if len(choice.ToolCalls) > 0 {
			choice.FuncCall = choice.ToolCalls[0].FunctionCall
		}

		resp.Choices = append(resp.Choices, choice)
	}

	return resp, nil
}

// messageText flattens a message content that is either a string or a list
// of typed parts.
func messageText(content gjson.Result) string {
	if !content.IsArray() {
		return content.String()
	}

	var texts []string

	for _, part := range content.Array() {
		if part.Get("type").String() == "text" {
			texts = append(texts, part.Get("text").String())
		}
	}

	return strings.Join(texts, "\n")
}

func firstPositive(values ...int) int {
	for _, v := range values {
		if v > 0 {
			return v
		}
	}

	return 0
}

func firstNonEmpty(values ...[]string) []string {
	for _, v := range values {
		if len(v) > 0 {
			return v
		}
	}

	return nil
}
