// Package lmchat provides the chat model node: one chat completion per item
// against an OpenAI-compatible Databricks serving endpoint.
package lmchat

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/tmc/langchaingo/llms"

	"github.com/mik3lol/n8n-nodes-databricks/pkg/llm"
	"github.com/mik3lol/n8n-nodes-databricks/pkg/models"
	"github.com/mik3lol/n8n-nodes-databricks/pkg/nodes"
)

const NodeType = "databricks-chat"

// ChatNode sends the rendered prompt of every item to a chat endpoint.
type ChatNode struct {
	id             string
	params         map[string]any
	continueOnFail bool

	querier llm.Querier
	logger  *slog.Logger
}

func NewChatNode(id string, config map[string]any, querier llm.Querier, logger *slog.Logger) (*ChatNode, error) {
	n := &ChatNode{
		id:             id,
		params:         config,
		continueOnFail: nodes.Params(config).Bool(nodes.ContinueOnFailKey, true),
		querier:        querier,
		logger:         logger,
	}

	if err := n.Validate(config); err != nil {
		return nil, err
	}

	if n.logger == nil {
		n.logger = slog.Default()
	}

	return n, nil
}

func (n *ChatNode) ID() string {
	return n.id
}

func (n *ChatNode) Type() string {
	return NodeType
}

func (n *ChatNode) Execute(ctx context.Context, execCtx models.ExecutionContext, inputs map[string]models.NodeResult) (map[string]models.NodeResult, error) {
	return nodes.Run(ctx, n.id, n.continueOnFail, inputs, func(ctx context.Context, _ int, item models.Item) ([]models.Item, error) {
		p, err := nodes.RenderParams(n.params, &execCtx, item)
		if err != nil {
			return nil, err
		}

		endpoint, err := p.RequiredString("model")
		if err != nil {
			return nil, err
		}

		messages, err := Messages(p)
		if err != nil {
			return nil, err
		}

		model := llm.NewChatModel(n.querier, endpoint, Options(p))

		resp, err := model.GenerateContent(ctx, messages)
		if err != nil {
			return nil, err
		}

		choice := resp.Choices[0]

		n.logger.DebugContext(ctx, "Chat completion received",
			"node_id", n.id, "endpoint", endpoint, "stop_reason", choice.StopReason)

		out := models.Item{
			"text":        choice.Content,
			"endpoint":    endpoint,
			"stop_reason": choice.StopReason,
			"usage":       choice.GenerationInfo,
		}

		if len(choice.ToolCalls) > 0 {
			calls := make([]map[string]any, 0, len(choice.ToolCalls))
			for _, tc := range choice.ToolCalls {
				calls = append(calls, map[string]any{
					"id":        tc.ID,
					"name":      tc.FunctionCall.Name,
					"arguments": tc.FunctionCall.Arguments,
				})
			}

			out["tool_calls"] = calls
		}

		return []models.Item{out}, nil
	})
}

// Options reads the request defaults from the "options" collection.
func Options(p nodes.Params) llm.ChatOptions {
	o := p.Sub("options")

	opts := llm.ChatOptions{
		Temperature:    o.Float("temperature"),
		MaxTokens:      o.Int("max_tokens", 0),
		TopP:           o.Float("top_p"),
		Stop:           o.Strings("stop"),
		ConversationID: o.String("conversation_id"),
		ReturnTrace:    o.Bool("return_trace", false),
	}

	switch rf := o["response_format"].(type) {
	case map[string]any:
		opts.ResponseFormat = rf
	case string:
		if rf != "" && rf != "text" {
			opts.ResponseFormat = map[string]any{"type": rf}
		}
	}

	return opts
}

// Messages builds the conversation from "systemMessage", "messages" and
// "prompt", in that order.
func Messages(p nodes.Params) ([]llms.MessageContent, error) {
	var out []llms.MessageContent

	if system := p.String("systemMessage"); system != "" {
		out = append(out, llms.TextParts(llms.ChatMessageTypeSystem, system))
	}

	list, _ := p["messages"].([]any)
	for i, v := range list {
		m, ok := v.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("messages[%d] must be an object", i)
		}

		entry := nodes.Params(m)

		role, err := messageRole(entry.String("role"))
		if err != nil {
			return nil, fmt.Errorf("messages[%d]: %w", i, err)
		}

		out = append(out, llms.TextParts(role, entry.String("content")))
	}

	if prompt := p.String("prompt"); prompt != "" {
		out = append(out, llms.TextParts(llms.ChatMessageTypeHuman, prompt))
	}

	if len(out) == 0 || out[len(out)-1].Role == llms.ChatMessageTypeSystem {
		return nil, &nodes.MissingParameterError{Name: "prompt"}
	}

	return out, nil
}

func messageRole(role string) (llms.ChatMessageType, error) {
	switch role {
	case "system":
		return llms.ChatMessageTypeSystem, nil
	case "user", "human", "":
		return llms.ChatMessageTypeHuman, nil
	case "assistant", "ai":
		return llms.ChatMessageTypeAI, nil
	default:
		return "", fmt.Errorf("unsupported role '%s'", role)
	}
}

func (n *ChatNode) Validate(config map[string]any) error {
	p := nodes.Params(config)

	if p.String("model") == "" {
		return errors.New("missing required field 'model'")
	}

	if p.String("prompt") == "" && p["messages"] == nil {
		return errors.New("one of 'prompt' or 'messages' is required")
	}

	return nil
}

func (n *ChatNode) InputPorts() []models.InputPort {
	return nodes.InputPorts(n.id)
}

func (n *ChatNode) OutputPorts() []models.OutputPort {
	return nodes.OutputPorts(n.id, "Assistant reply with usage and requested tool calls")
}
