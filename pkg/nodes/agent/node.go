// Package agent provides the AI agent node: a tool-calling agent driven by a
// Databricks chat endpoint, with SQL, Vector Search and serving endpoint
// tools.
package agent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/tmc/langchaingo/embeddings"
	"github.com/tmc/langchaingo/tools"

	"github.com/mik3lol/n8n-nodes-databricks/pkg/llm"
	"github.com/mik3lol/n8n-nodes-databricks/pkg/models"
	"github.com/mik3lol/n8n-nodes-databricks/pkg/nodes"
	"github.com/mik3lol/n8n-nodes-databricks/pkg/nodes/lmchat"
	"github.com/mik3lol/n8n-nodes-databricks/pkg/serving"
)

const NodeType = "databricks-agent"

const (
	ToolSQL             = "sql"
	ToolVectorSearch    = "vectorSearch"
	ToolServingEndpoint = "servingEndpoint"
)

// DefaultSystemMessage is used when no system message is configured.
const DefaultSystemMessage = "You are a helpful assistant. Use the available tools when they help answer the question."

type AgentNode struct {
	id             string
	params         map[string]any
	continueOnFail bool

	invoker *serving.Invoker
	runner  llm.StatementRunner
	client  llm.Poster
	logger  *slog.Logger
}

func NewAgentNode(id string, config map[string]any, invoker *serving.Invoker, runner llm.StatementRunner, client llm.Poster, logger *slog.Logger) (*AgentNode, error) {
	n := &AgentNode{
		id:             id,
		params:         config,
		continueOnFail: nodes.Params(config).Bool(nodes.ContinueOnFailKey, true),
		invoker:        invoker,
		runner:         runner,
		client:         client,
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

func (n *AgentNode) ID() string {
	return n.id
}

func (n *AgentNode) Type() string {
	return NodeType
}

func (n *AgentNode) Execute(ctx context.Context, execCtx models.ExecutionContext, inputs map[string]models.NodeResult) (map[string]models.NodeResult, error) {
	return nodes.Run(ctx, n.id, n.continueOnFail, inputs, func(ctx context.Context, index int, item models.Item) ([]models.Item, error) {
		p, err := nodes.RenderParams(n.params, &execCtx, item)
		if err != nil {
			return nil, err
		}

		endpoint, err := p.RequiredString("model")
		if err != nil {
			return nil, err
		}

		prompt, err := p.RequiredString("prompt")
		if err != nil {
			return nil, err
		}

		agentTools, err := n.tools(p)
		if err != nil {
			return nil, err
		}

		system := p.String("systemMessage")
		if system == "" {
			system = DefaultSystemMessage
		}

		options := p.Sub("options")

		agent, err := llm.NewAgent(llm.AgentConfig{
			Model:                   llm.NewChatModel(n.invoker, endpoint, lmchat.Options(p)),
			Tools:                   agentTools,
			SystemMessage:           system,
			MaxIterations:           options.Int("maxIterations", llm.DefaultAgentMaxIterations),
			ReturnIntermediateSteps: options.Bool("returnIntermediateSteps", false),
		})
		if err != nil {
			return nil, err
		}

		n.logger.DebugContext(ctx, "Running agent", "node_id", n.id, "endpoint", endpoint, "tools", len(agentTools), "item", index)

		res, err := agent.Run(ctx, prompt)
		if err != nil {
			return nil, err
		}

		out := models.Item{"output": res.Output}
		if res.Steps != nil {
			out["intermediate_steps"] = res.Steps
		}

		return []models.Item{out}, nil
	})
}

// tools builds the agent's tools from the "tools" list.
func (n *AgentNode) tools(p nodes.Params) ([]tools.Tool, error) {
	list, _ := p["tools"].([]any)
	out := make([]tools.Tool, 0, len(list))

	for i, v := range list {
		m, ok := v.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("tools[%d] must be an object", i)
		}

		t, err := n.tool(nodes.Params(m))
		if err != nil {
			return nil, fmt.Errorf("tools[%d]: %w", i, err)
		}

		out = append(out, t)
	}

	return out, nil
}

func (n *AgentNode) tool(p nodes.Params) (tools.Tool, error) {
	switch kind := p.String("type"); kind {
	case ToolSQL:
		warehouse, err := p.RequiredString("warehouseId")
		if err != nil {
			return nil, err
		}

		return &llm.SQLTool{
			Runner:      n.runner,
			WarehouseID: warehouse,
			Catalog:     p.String("catalog"),
			Schema:      p.String("schema"),
			MaxRows:     p.Int("maxRows", 0),
		}, nil
	case ToolVectorSearch:
		index, err := p.RequiredString("indexName")
		if err != nil {
			return nil, err
		}

		var embedder embeddings.Embedder

		if model := p.String("embeddingModel"); model != "" {
			embedder, err = llm.NewEmbedder(n.invoker, model, 0)
			if err != nil {
				return nil, err
			}
		}

		store, err := llm.NewVectorStore(n.client, llm.VectorStoreConfig{
			Index:           index,
			PrimaryKey:      p.String("primaryKey"),
			TextColumn:      p.String("textColumn"),
			MetadataColumns: p.Strings("metadataColumns"),
			QueryType:       p.String("queryType"),
			Embedder:        embedder,
		})
		if err != nil {
			return nil, err
		}

		var minScore float32
		if s := p.Float("scoreThreshold"); s != nil {
			minScore = float32(*s)
		}

		return &llm.VectorSearchTool{
			Store:    store,
			ToolName: p.String("name"),
			Topic:    p.String("topic"),
			K:        p.Int("topK", 0),
			Filters:  p["filters"],
			MinScore: minScore,
		}, nil
	case ToolServingEndpoint:
		endpoint, err := p.RequiredString("endpoint")
		if err != nil {
			return nil, err
		}

		return &llm.ServingTool{
			Invoker:  n.invoker,
			Endpoint: endpoint,
			ToolName: p.String("name"),
			Purpose:  p.String("description"),
		}, nil
	default:
		return nil, fmt.Errorf("unsupported tool type '%s'", kind)
	}
}

func (n *AgentNode) Validate(config map[string]any) error {
	p := nodes.Params(config)

	if p.String("model") == "" {
		return errors.New("missing required field 'model'")
	}

	if p.String("prompt") == "" {
		return errors.New("missing required field 'prompt'")
	}

	if v, ok := p["tools"]; ok && v != nil {
		if _, isList := v.([]any); !isList {
			return errors.New("field 'tools' must be a list")
		}
	}

	return nil
}

func (n *AgentNode) InputPorts() []models.InputPort {
	return nodes.InputPorts(n.id)
}

func (n *AgentNode) OutputPorts() []models.OutputPort {
	return nodes.OutputPorts(n.id, "Agent answer, with intermediate tool steps when requested")
}
