package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/tmc/langchaingo/tools"
	"github.com/tmc/langchaingo/vectorstores"

	"github.com/mik3lol/n8n-nodes-databricks/pkg/serving"
	"github.com/mik3lol/n8n-nodes-databricks/pkg/statement"
)

const defaultToolMaxRows = 50

// StatementRunner runs SQL. *statement.Executor satisfies it.
type StatementRunner interface {
	Execute(ctx context.Context, req statement.Request) (*statement.Result, error)
}

// SQLTool lets an agent query a SQL warehouse. The input is the SQL text or a
// JSON object with a "query" field.
type SQLTool struct {
	Runner      StatementRunner
	WarehouseID string
	Catalog     string
	Schema      string
	MaxRows     int
}

var _ tools.Tool = (*SQLTool)(nil)

func (t *SQLTool) Name() string {
	return "databricks_sql"
}

func (t *SQLTool) Description() string {
	desc := "Runs a SQL query on a Databricks SQL warehouse and returns the rows as JSON. Input is the SQL query."
	if t.Catalog != "" {
		desc += fmt.Sprintf(" Unqualified tables resolve in %s.%s.", t.Catalog, defaultString(t.Schema, "default"))
	}

	return desc
}

func (t *SQLTool) Call(ctx context.Context, input string) (string, error) {
	query := toolArgument(input, "query")
	if query == "" {
		return "", fmt.Errorf("%s: empty query", t.Name())
	}

	res, err := t.Runner.Execute(ctx, statement.Request{
		WarehouseID: t.WarehouseID,
		Statement:   query,
		Catalog:     t.Catalog,
		Schema:      t.Schema,
	})
	if err != nil {
		return "", err
	}

	maxRows := t.MaxRows
	if maxRows <= 0 {
		maxRows = defaultToolMaxRows
	}

	out := map[string]any{"row_count": len(res.Rows)}

	rows := res.Rows
	if len(rows) > maxRows {
		rows = rows[:maxRows]
		out["truncated"] = true
	}

	out["rows"] = rows

	return encodeToolResult(out)
}

// VectorSearchTool retrieves documents from a vector store.
type VectorSearchTool struct {
	Store    vectorstores.VectorStore
	ToolName string
	Topic    string
	K        int
	Filters  any
	MinScore float32
}

var _ tools.Tool = (*VectorSearchTool)(nil)

func (t *VectorSearchTool) Name() string {
	return defaultString(t.ToolName, "vector_search")
}

func (t *VectorSearchTool) Description() string {
	return "Searches a knowledge base" + topicSuffix(t.Topic) + " and returns the most relevant passages. Input is the search query."
}

func (t *VectorSearchTool) Call(ctx context.Context, input string) (string, error) {
	query := toolArgument(input, "query")

	var opts []vectorstores.Option
	if t.Filters != nil {
		opts = append(opts, vectorstores.WithFilters(t.Filters))
	}

	if t.MinScore > 0 {
		opts = append(opts, vectorstores.WithScoreThreshold(t.MinScore))
	}

	k := t.K
	if k <= 0 {
		k = 4
	}

	docs, err := t.Store.SimilaritySearch(ctx, query, k, opts...)
	if err != nil {
		return "", err
	}

	results := make([]map[string]any, 0, len(docs))
	for _, d := range docs {
		results = append(results, map[string]any{
			"content":  d.PageContent,
			"metadata": d.Metadata,
			"score":    d.Score,
		})
	}

	return encodeToolResult(results)
}

// ServingTool calls a model serving endpoint. A JSON object input is sent as
// the request body; plain text is shaped for the endpoint's detected format.
type ServingTool struct {
	Invoker  *serving.Invoker
	Endpoint string
	ToolName string
	Purpose  string
}

var _ tools.Tool = (*ServingTool)(nil)

func (t *ServingTool) Name() string {
	return defaultString(t.ToolName, "serving_endpoint")
}

func (t *ServingTool) Description() string {
	return defaultString(t.Purpose, "Calls the "+t.Endpoint+" model serving endpoint.") +
		" Input is either a JSON request body or plain text."
}

func (t *ServingTool) Call(ctx context.Context, input string) (string, error) {
	var body map[string]any
	if err := json.Unmarshal([]byte(input), &body); err != nil || body == nil {
		format := serving.FormatGeneric
		if info, err := t.Invoker.Resolver().Resolve(ctx, t.Endpoint); err == nil {
			format = info.Format
		}

		body = TextBody(format, input)
	}

	res, err := t.Invoker.Query(ctx, t.Endpoint, body)
	if err != nil {
		return "", err
	}

	return encodeToolResult(res.Response)
}

// TextBody shapes plain text as a request body for format.
func TextBody(format serving.Format, text string) map[string]any {
	switch format {
	case serving.FormatChat:
		return map[string]any{"messages": []any{map[string]any{"role": "user", "content": text}}}
	case serving.FormatCompletions:
		return map[string]any{"prompt": text}
	case serving.FormatEmbeddings:
		return map[string]any{"input": []any{text}}
	case serving.FormatInstances:
		return map[string]any{"instances": []any{text}}
	case serving.FormatDataframeRecords:
		return map[string]any{"dataframe_records": []any{map[string]any{"input": text}}}
	case serving.FormatDataframeSplit:
		return map[string]any{"dataframe_split": map[string]any{"columns": []any{"input"}, "data": []any{[]any{text}}}}
	default:
		return map[string]any{"inputs": []any{text}}
	}
}

// toolArgument accepts raw text or a JSON object carrying key or the
// single-argument "__arg1" convention.
func toolArgument(input, key string) string {
	trimmed := strings.TrimSpace(input)

	var obj map[string]any
	if err := json.Unmarshal([]byte(trimmed), &obj); err == nil {
		for _, k := range []string{key, "__arg1", "input"} {
			if v, ok := obj[k].(string); ok {
				return strings.TrimSpace(v)
			}
		}
	}

	return trimmed
}

func encodeToolResult(v any) (string, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("encode tool result: %w", err)
	}

	return string(data), nil
}

func defaultString(v, def string) string {
	if v == "" {
		return def
	}

	return v
}

func topicSuffix(topic string) string {
	if topic == "" {
		return ""
	}

	return " about " + topic
}
