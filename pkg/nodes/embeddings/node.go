// Package embeddings provides the embeddings node, which turns item text into
// vectors with a Databricks embeddings serving endpoint.
package embeddings

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/mik3lol/n8n-nodes-databricks/pkg/llm"
	"github.com/mik3lol/n8n-nodes-databricks/pkg/models"
	"github.com/mik3lol/n8n-nodes-databricks/pkg/nodes"
)

const NodeType = "databricks-embeddings"

const (
	// ModeDocuments embeds all items in batched requests.
	ModeDocuments = "documents"
	// ModeQuery embeds each item with its own request.
	ModeQuery = "query"

	defaultOutputField = "embedding"
)

type EmbeddingsNode struct {
	id             string
	params         map[string]any
	mode           string
	continueOnFail bool

	querier llm.Querier
	logger  *slog.Logger
}

func NewEmbeddingsNode(id string, config map[string]any, querier llm.Querier, logger *slog.Logger) (*EmbeddingsNode, error) {
	p := nodes.Params(config)

	n := &EmbeddingsNode{
		id:             id,
		params:         config,
		mode:           p.String("mode"),
		continueOnFail: p.Bool(nodes.ContinueOnFailKey, true),
		querier:        querier,
		logger:         logger,
	}

	if n.mode == "" {
		n.mode = ModeDocuments
	}

	if err := n.Validate(config); err != nil {
		return nil, err
	}

	if n.logger == nil {
		n.logger = slog.Default()
	}

	return n, nil
}

func (n *EmbeddingsNode) ID() string {
	return n.id
}

func (n *EmbeddingsNode) Type() string {
	return NodeType
}

func (n *EmbeddingsNode) Execute(ctx context.Context, execCtx models.ExecutionContext, inputs map[string]models.NodeResult) (map[string]models.NodeResult, error) {
	if n.mode == ModeQuery {
		return nodes.Run(ctx, n.id, n.continueOnFail, inputs, func(ctx context.Context, _ int, item models.Item) ([]models.Item, error) {
			req, err := n.render(&execCtx, item)
			if err != nil {
				return nil, err
			}

			embedder, err := llm.NewEmbedder(n.querier, req.endpoint, 1)
			if err != nil {
				return nil, err
			}

			vector, err := embedder.EmbedQuery(ctx, req.text)
			if err != nil {
				return nil, err
			}

			return []models.Item{req.output(item, vector)}, nil
		})
	}

	return n.embedDocuments(ctx, &execCtx, inputs)
}

type request struct {
	endpoint    string
	text        string
	outputField string
	batchSize   int
}

func (n *EmbeddingsNode) render(execCtx *models.ExecutionContext, item models.Item) (request, error) {
	p, err := nodes.RenderParams(n.params, execCtx, item)
	if err != nil {
		return request{}, err
	}

	endpoint, err := p.RequiredString("model")
	if err != nil {
		return request{}, err
	}

	text := p.String("text")
	if text == "" {
		return request{}, &nodes.MissingParameterError{Name: "text"}
	}

	options := p.Sub("options")

	field := options.String("outputField")
	if field == "" {
		field = defaultOutputField
	}

	return request{
		endpoint:    endpoint,
		text:        text,
		outputField: field,
		batchSize:   options.Int("batchSize", llm.DefaultEmbeddingBatchSize),
	}, nil
}

// output copies the input item and adds the vector under the output field.
func (r request) output(item models.Item, vector []float32) models.Item {
	out := make(models.Item, len(item)+2)
	for k, v := range item {
		out[k] = v
	}

	out[r.outputField] = vector
	out["dimensions"] = len(vector)

	return out
}

// embedDocuments renders every item first, then embeds the texts per endpoint
// in batches. A failed batch fails every item it carried. Successful items
// keep their input order.
func (n *EmbeddingsNode) embedDocuments(ctx context.Context, execCtx *models.ExecutionContext, inputs map[string]models.NodeResult) (map[string]models.NodeResult, error) {
	items := nodes.InputItems(inputs)
	out := nodes.NewOutputs(n.id)

	type pending struct {
		index int
		req   request
	}

	var (
		order    []string
		batches  = map[string][]pending{}
		rendered = make(map[int]request, len(items))
	)

	for i, item := range items {
		req, err := n.render(execCtx, item)
		if err != nil {
			if !n.continueOnFail {
				return nil, err
			}

			out.Fail(i, err)

			continue
		}

		rendered[i] = req

		if _, seen := batches[req.endpoint]; !seen {
			order = append(order, req.endpoint)
		}

		batches[req.endpoint] = append(batches[req.endpoint], pending{index: i, req: req})
	}

	vectors := make(map[int][]float32, len(items))

	for _, endpoint := range order {
		batch := batches[endpoint]

		texts := make([]string, len(batch))
		for i, b := range batch {
			texts[i] = b.req.text
		}

		embedder, err := llm.NewEmbedder(n.querier, endpoint, batch[0].req.batchSize)
		if err == nil {
			var result [][]float32

			result, err = embedder.EmbedDocuments(ctx, texts)
			if err == nil && len(result) != len(batch) {
				err = fmt.Errorf("embeddings endpoint returned %d vectors for %d texts", len(result), len(batch))
			}

			for i := 0; err == nil && i < len(batch); i++ {
				vectors[batch[i].index] = result[i]
			}
		}

		if err != nil {
			if !n.continueOnFail {
				return nil, err
			}

			for _, b := range batch {
				out.Fail(b.index, err)
			}

			continue
		}

		n.logger.DebugContext(ctx, "Embedded documents", "node_id", n.id, "endpoint", endpoint, "count", len(batch))
	}

	for i, item := range items {
		if vector, ok := vectors[i]; ok {
			out.Add(rendered[i].output(item, vector))
		}
	}

	return out.Results(), nil
}

func (n *EmbeddingsNode) Validate(config map[string]any) error {
	p := nodes.Params(config)

	if p.String("model") == "" {
		return errors.New("missing required field 'model'")
	}

	if p.String("text") == "" {
		return errors.New("missing required field 'text'")
	}

	if n.mode != ModeDocuments && n.mode != ModeQuery {
		return fmt.Errorf("unsupported mode '%s'", n.mode)
	}

	return nil
}

func (n *EmbeddingsNode) InputPorts() []models.InputPort {
	return nodes.InputPorts(n.id)
}

func (n *EmbeddingsNode) OutputPorts() []models.OutputPort {
	return nodes.OutputPorts(n.id, "Input items with their embedding vector")
}
