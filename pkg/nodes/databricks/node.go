// Package databricks provides the resource/operation dispatcher node for the
// Databricks REST API.
package databricks

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"

	"github.com/mik3lol/n8n-nodes-databricks/pkg/models"
	"github.com/mik3lol/n8n-nodes-databricks/pkg/nodes"
	"github.com/mik3lol/n8n-nodes-databricks/pkg/serving"
	"github.com/mik3lol/n8n-nodes-databricks/pkg/statement"
)

const NodeType = "databricks"

const (
	resourceDatabricksSQL = "databricksSql"
	resourceUnityCatalog  = "unityCatalog"
	resourceModelServing  = "modelServing"
	resourceFiles         = "files"
	resourceVectorSearch  = "vectorSearch"
	resourceGenie         = "genie"
)

const (
	opQueryEndpoint = "queryEndpoint"
	opGetSchema     = "getSchema"
	opExecuteQuery  = "executeQuery"
)

// Client is the raw HTTP capability used by pass-through operations.
type Client interface {
	Do(ctx context.Context, method, path string, body, out any) error
}

// Querier invokes model serving endpoints. *serving.Invoker satisfies it.
type Querier interface {
	Query(ctx context.Context, endpoint string, body map[string]any) (*serving.QueryResult, error)
	Resolver() *serving.Resolver
}

// Runner executes SQL statements. *statement.Executor satisfies it.
type Runner interface {
	Execute(ctx context.Context, req statement.Request) (*statement.Result, error)
}

type handler func(ctx context.Context, p nodes.Params) ([]models.Item, error)

// DatabricksNode dispatches one (resource, operation) pair per item.
type DatabricksNode struct {
	id             string
	resource       string
	operation      string
	params         map[string]any
	continueOnFail bool

	client  Client
	querier Querier
	runner  Runner
	logger  *slog.Logger
}

func NewDatabricksNode(id string, config map[string]any, client Client, querier Querier, runner Runner, logger *slog.Logger) (*DatabricksNode, error) {
	n := &DatabricksNode{
		id:             id,
		params:         config,
		continueOnFail: nodes.Params(config).Bool(nodes.ContinueOnFailKey, true),
		client:         client,
		querier:        querier,
		runner:         runner,
		logger:         logger,
	}

	if err := n.Validate(config); err != nil {
		return nil, err
	}

	n.resource, _ = config["resource"].(string)
	n.operation, _ = config["operation"].(string)

	if n.logger == nil {
		n.logger = slog.Default()
	}

	return n, nil
}

func (n *DatabricksNode) ID() string {
	return n.id
}

func (n *DatabricksNode) Type() string {
	return NodeType
}

// Execute runs the operation for every input item.
func (n *DatabricksNode) Execute(ctx context.Context, execCtx models.ExecutionContext, inputs map[string]models.NodeResult) (map[string]models.NodeResult, error) {
	h := n.handler()

	return nodes.Run(ctx, n.id, n.continueOnFail, inputs, func(ctx context.Context, index int, item models.Item) ([]models.Item, error) {
		p, err := nodes.RenderParams(n.params, &execCtx, item)
		if err != nil {
			return nil, err
		}

		n.logger.DebugContext(ctx, "Executing databricks operation",
			"node_id", n.id, "resource", n.resource, "operation", n.operation, "item", index)

		return h(ctx, p)
	})
}

func (n *DatabricksNode) handler() handler {
	switch n.resource + "." + n.operation {
	case resourceModelServing + "." + opQueryEndpoint:
		return n.queryEndpoint
	case resourceModelServing + "." + opGetSchema:
		return n.getSchema
	case resourceDatabricksSQL + "." + opExecuteQuery:
		return n.executeQuery
	default:
		r := routes[n.resource][n.operation]

		return func(ctx context.Context, p nodes.Params) ([]models.Item, error) {
			return n.passThrough(ctx, r, p)
		}
	}
}

func (n *DatabricksNode) queryEndpoint(ctx context.Context, p nodes.Params) ([]models.Item, error) {
	endpoint, err := p.RequiredString("endpointName")
	if err != nil {
		return nil, err
	}

	body, err := requestBody(p)
	if err != nil {
		return nil, err
	}

	res, err := n.querier.Query(ctx, endpoint, body)
	if err != nil {
		return nil, err
	}

	return []models.Item{toItem(res)}, nil
}

func (n *DatabricksNode) getSchema(ctx context.Context, p nodes.Params) ([]models.Item, error) {
	endpoint, err := p.RequiredString("endpointName")
	if err != nil {
		return nil, err
	}

	info, err := n.querier.Resolver().Resolve(ctx, endpoint)
	if err != nil {
		return nil, err
	}

	item := toItem(info)
	item["example"] = serving.BuildExample(info.Schema, info.Format)

	return []models.Item{item}, nil
}

// executeQuery emits one item per result row.
func (n *DatabricksNode) executeQuery(ctx context.Context, p nodes.Params) ([]models.Item, error) {
	warehouseID, err := p.RequiredString("warehouseId")
	if err != nil {
		return nil, err
	}

	query, err := p.RequiredString("query")
	if err != nil {
		return nil, err
	}

	extra := p.Sub("additionalFields")

	req := statement.Request{
		WarehouseID: warehouseID,
		Statement:   query,
		Catalog:     extra.String("catalog"),
		Schema:      extra.String("schema"),
		WaitTimeout: waitTimeout(extra.Int("timeout", 0)),
		Parameters:  statementParameters(p),
	}

	res, err := n.runner.Execute(ctx, req)
	if err != nil {
		return nil, err
	}

	items := make([]models.Item, len(res.Rows))
	for i, row := range res.Rows {
		items[i] = models.Item(row)
	}

	return items, nil
}

func (n *DatabricksNode) passThrough(ctx context.Context, r route, p nodes.Params) ([]models.Item, error) {
	path, body, err := r.request(p)
	if err != nil {
		return nil, err
	}

	var out map[string]any
	if err := n.client.Do(ctx, r.method, path, body, &out); err != nil {
		return nil, err
	}

	if out == nil {
		out = map[string]any{"success": true}
	}

	return []models.Item{out}, nil
}

// requestBody reads the serving request from "body", or from the "inputs"
// parameter where a bare array is wrapped as {"inputs": [...]}.
func requestBody(p nodes.Params) (map[string]any, error) {
	if _, ok := p["body"]; ok {
		body, err := p.Object("body")
		if err != nil {
			return nil, err
		}

		if body != nil {
			return body, nil
		}
	}

	var v any = p["inputs"]
	if s, ok := v.(string); ok {
		if err := json.Unmarshal([]byte(s), &v); err != nil {
			return nil, fmt.Errorf("parameter 'inputs' is not valid JSON: %w", err)
		}
	}

	switch in := v.(type) {
	case map[string]any:
		return in, nil
	case []any:
		return map[string]any{"inputs": in}, nil
	case nil:
		return nil, &nodes.MissingParameterError{Name: "body"}
	default:
		return nil, fmt.Errorf("parameter 'inputs' must be a JSON object or array, got %T", in)
	}
}

// waitTimeout maps seconds to the API's accepted range: 0 (async) or 5s to 50s.
func waitTimeout(seconds int) string {
	switch {
	case seconds <= 0:
		return ""
	case seconds < 5:
		return "5s"
	case seconds > 50:
		return "50s"
	default:
		return fmt.Sprintf("%ds", seconds)
	}
}

func statementParameters(p nodes.Params) []statement.Parameter {
	list, _ := p["parameters"].([]any)

	params := make([]statement.Parameter, 0, len(list))

	for _, v := range list {
		m, ok := v.(map[string]any)
		if !ok {
			continue
		}

		entry := nodes.Params(m)
		params = append(params, statement.Parameter{
			Name:  entry.String("name"),
			Value: entry.String("value"),
			Type:  entry.String("type"),
		})
	}

	if len(params) == 0 {
		return nil
	}

	return params
}

func toItem(v any) models.Item {
	data, err := json.Marshal(v)
	if err != nil {
		return models.Item{"value": fmt.Sprint(v)}
	}

	var item models.Item
	if err := json.Unmarshal(data, &item); err != nil {
		return models.Item{"value": string(data)}
	}

	return item
}

// Validate checks that the (resource, operation) pair is supported.
func (n *DatabricksNode) Validate(config map[string]any) error {
	resource, _ := config["resource"].(string)
	operation, _ := config["operation"].(string)

	if resource == "" {
		return errors.New("missing required field 'resource'")
	}

	if operation == "" {
		return errors.New("missing required field 'operation'")
	}

	if !Supported(resource, operation) {
		return fmt.Errorf("unsupported operation '%s' for resource '%s'", operation, resource)
	}

	return nil
}

// Supported reports whether the node implements operation on resource.
func Supported(resource, operation string) bool {
	switch resource + "." + operation {
	case resourceModelServing + "." + opQueryEndpoint,
		resourceModelServing + "." + opGetSchema,
		resourceDatabricksSQL + "." + opExecuteQuery:
		return true
	}

	_, ok := routes[resource][operation]

	return ok
}

// Operations lists the supported operations per resource, sorted.
func Operations() map[string][]string {
	ops := map[string][]string{
		resourceModelServing:  {opQueryEndpoint, opGetSchema},
		resourceDatabricksSQL: {opExecuteQuery},
	}

	for resource, table := range routes {
		for op := range table {
			ops[resource] = append(ops[resource], op)
		}
	}

	for _, list := range ops {
		sort.Strings(list)
	}

	return ops
}

func (n *DatabricksNode) InputPorts() []models.InputPort {
	return nodes.InputPorts(n.id)
}

func (n *DatabricksNode) OutputPorts() []models.OutputPort {
	desc := "API response, one item per request"
	if n.resource == resourceDatabricksSQL && n.operation == opExecuteQuery {
		desc = "Query rows, one item per row keyed by column name"
	}

	return nodes.OutputPorts(n.id, desc)
}
