package databricks

import (
	"context"
	"sort"

	"github.com/mik3lol/n8n-nodes-databricks/pkg/models"
	"github.com/mik3lol/n8n-nodes-databricks/pkg/protocol"
)

// DatabricksNodeFactory creates DatabricksNode instances.
type DatabricksNodeFactory struct {
	deps protocol.Dependencies
}

func NewDatabricksNodeFactory(deps protocol.Dependencies) protocol.NodeFactory {
	return &DatabricksNodeFactory{deps: deps}
}

func (f *DatabricksNodeFactory) Create(ctx context.Context, id string, config map[string]any) (models.Node, error) {
	return NewDatabricksNode(id, config, f.deps.Client, f.deps.Invoker, f.deps.Executor, f.deps.Logger)
}

func (f *DatabricksNodeFactory) ID() string {
	return NodeType
}

func (f *DatabricksNodeFactory) Name() string {
	return "Databricks"
}

func (f *DatabricksNodeFactory) Description() string {
	return "Runs SQL on a warehouse, queries model serving endpoints and calls the Unity Catalog, Genie, Vector Search and Files APIs"
}

// Schema returns the JSON schema for Databricks node configuration. Operation
// specific parameters sit next to resource and operation.
func (f *DatabricksNodeFactory) Schema() map[string]any {
	ops := Operations()

	resources := make([]string, 0, len(ops))
	operations := []string{}
	seen := map[string]bool{}

	for resource, list := range ops {
		resources = append(resources, resource)

		for _, op := range list {
			if !seen[op] {
				seen[op] = true
				operations = append(operations, op)
			}
		}
	}

	sort.Strings(resources)
	sort.Strings(operations)

	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"resource": map[string]any{
				"type":        "string",
				"description": "Databricks API area",
				"enum":        resources,
			},
			"operation": map[string]any{
				"type":        "string",
				"description": "Operation on the resource. Valid pairs are listed in x-operations",
				"enum":        operations,
			},
			"endpointName": map[string]any{
				"type":        "string",
				"description": "Model serving endpoint name",
				"examples":    []string{"databricks-meta-llama-3-3-70b-instruct", "{{.item.endpoint}}"},
			},
			"body": map[string]any{
				"type":        []string{"object", "string"},
				"description": "Request body for queryEndpoint. Checked against the format detected from the endpoint's OpenAPI schema",
				"examples": []any{
					map[string]any{"messages": []any{map[string]any{"role": "user", "content": "{{.item.question}}"}}},
				},
			},
			"inputs": map[string]any{
				"type":        []string{"array", "object", "string"},
				"description": "Alternative to body: a JSON array is sent as {\"inputs\": [...]}",
			},
			"warehouseId": map[string]any{
				"type":        "string",
				"description": "SQL warehouse ID",
			},
			"query": map[string]any{
				"type":        "string",
				"description": "SQL statement to execute. Supports templating",
				"examples":    []string{"SELECT * FROM samples.nyctaxi.trips LIMIT 10", "SELECT * FROM orders WHERE id = :id"},
			},
			"parameters": map[string]any{
				"type":        "array",
				"description": "Named statement parameters referenced as :name in the query",
				"items": map[string]any{
					"type": "object",
					"properties": map[string]any{
						"name":  map[string]any{"type": "string"},
						"value": map[string]any{"type": "string"},
						"type":  map[string]any{"type": "string"},
					},
					"required": []string{"name"},
				},
			},
			"additionalFields": map[string]any{
				"type":        "object",
				"description": "Optional fields of the operation such as catalog, schema, timeout, comment or pageToken",
			},
			"continueOnFail": map[string]any{
				"type":        "boolean",
				"description": "Send failed items to the error port instead of failing the execution",
				"default":     true,
			},
		},
		"required":     []string{"resource", "operation"},
		"x-operations": ops,
		"examples": []map[string]any{
			{
				"resource":     "modelServing",
				"operation":    "queryEndpoint",
				"endpointName": "databricks-meta-llama-3-3-70b-instruct",
				"body":         map[string]any{"messages": []any{map[string]any{"role": "user", "content": "Hello"}}},
			},
			{
				"resource":    "databricksSql",
				"operation":   "executeQuery",
				"warehouseId": "{{.variables.warehouse_id}}",
				"query":       "SELECT * FROM main.sales.orders LIMIT 10",
			},
			{
				"resource":    "unityCatalog",
				"operation":   "listTables",
				"catalogName": "main",
				"schemaName":  "sales",
			},
		},
	}
}
