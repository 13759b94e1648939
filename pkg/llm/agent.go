package llm

import (
	"context"
	"errors"
	"fmt"

	"github.com/tmc/langchaingo/agents"
	"github.com/tmc/langchaingo/chains"
	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/schema"
	"github.com/tmc/langchaingo/tools"
)

const DefaultAgentMaxIterations = 10

// ErrNoModel indicates an agent configured without a chat model.
var ErrNoModel = errors.New("agent: a chat model is required")

type AgentConfig struct {
	Model                   llms.Model
	Tools                   []tools.Tool
	SystemMessage           string
	MaxIterations           int
	ReturnIntermediateSteps bool
}

// AgentStep is one tool invocation made while answering.
type AgentStep struct {
	Tool        string `json:"tool"`
	ToolInput   string `json:"tool_input"`
	Observation string `json:"observation"`
}

type AgentResult struct {
	Output string      `json:"output"`
	Steps  []AgentStep `json:"intermediate_steps,omitempty"`
}

// Agent is a tool-calling agent driven by a chat model.
type Agent struct {
	executor *agents.Executor
}

func NewAgent(cfg AgentConfig) (*Agent, error) {
	if cfg.Model == nil {
		return nil, ErrNoModel
	}

	model := cfg.Model
	if cfg.SystemMessage != "" {
		model = &systemMessageModel{Model: model, system: cfg.SystemMessage}
	}

	maxIterations := cfg.MaxIterations
	if maxIterations <= 0 {
		maxIterations = DefaultAgentMaxIterations
	}

	opts := []agents.Option{agents.WithMaxIterations(maxIterations)}
	if cfg.ReturnIntermediateSteps {
		opts = append(opts, agents.WithReturnIntermediateSteps())
	}

	agent := agents.NewOpenAIFunctionsAgent(model, cfg.Tools)

	return &Agent{executor: agents.NewExecutor(agent, opts...)}, nil
}

// Run answers input, calling tools as the model requests.
func (a *Agent) Run(ctx context.Context, input string) (*AgentResult, error) {
	out, err := chains.Call(ctx, a.executor, map[string]any{"input": input})
	if err != nil {
		return nil, fmt.Errorf("agent run: %w", err)
	}

	result := &AgentResult{}
	if s, ok := out["output"].(string); ok {
		result.Output = s
	}

	for _, v := range out {
		steps, ok := v.([]schema.AgentStep)
		if !ok {
			continue
		}

		for _, step := range steps {
			result.Steps = append(result.Steps, AgentStep{
				Tool:        step.Action.Tool,
				ToolInput:   step.Action.ToolInput,
				Observation: step.Observation,
			})
		}
	}

	return result, nil
}

// systemMessageModel replaces the system prompt of every request.
type systemMessageModel struct {
	llms.Model
	system string
}

func (m *systemMessageModel) GenerateContent(ctx context.Context, messages []llms.MessageContent, options ...llms.CallOption) (*llms.ContentResponse, error) {
	out := make([]llms.MessageContent, 0, len(messages)+1)
	out = append(out, llms.TextParts(llms.ChatMessageTypeSystem, m.system))

	for _, mc := range messages {
		if mc.Role == llms.ChatMessageTypeSystem {
			continue
		}

		out = append(out, mc)
	}

	return m.Model.GenerateContent(ctx, out, options...)
}
