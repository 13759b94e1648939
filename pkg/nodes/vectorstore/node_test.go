package vectorstore

import (
	"context"
	"encoding/json"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mik3lol/n8n-nodes-databricks/pkg/models"
	"github.com/mik3lol/n8n-nodes-databricks/pkg/nodes"
	"github.com/mik3lol/n8n-nodes-databricks/pkg/testutil"
)

const queryResponse = `{
	"manifest": {"column_count": 4, "columns": [
		{"name": "id"}, {"name": "text"}, {"name": "source"}, {"name": "score"}
	]},
	"result": {"row_count": 2, "data_array": [
		["1", "Delta Lake is a storage layer.", "docs", 0.91],
		["2", "Delta tables support time travel.", "blog", 0.74]
	]}
}`

func input(items ...models.Item) map[string]models.NodeResult {
	return map[string]models.NodeResult{nodes.InputPortMain: {Items: items}}
}

func TestVectorStoreNode_Load(t *testing.T) {
	ws := testutil.NewWorkspace(t)
	ws.Handle("POST /api/2.0/vector-search/indexes/main.docs.idx/query", func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))

		assert.Equal(t, "what is delta", body["query_text"])
		assert.NotContains(t, body, "query_vector")
		assert.Equal(t, []any{"id", "text", "source"}, body["columns"])
		assert.Equal(t, float64(2), body["num_results"])
		assert.InDelta(t, 0.5, body["score_threshold"], 1e-6)
		assert.JSONEq(t, `{"source":"docs"}`, body["filters_json"].(string))

		_, _ = w.Write([]byte(queryResponse))
	})

	node, err := NewVectorStoreNodeFactory(ws.Dependencies()).Create(context.Background(), "vs-1", map[string]any{
		"indexName":       "main.docs.idx",
		"query":           "{{ .item.question }}",
		"metadataColumns": "source",
		"topK":            2,
		"scoreThreshold":  0.5,
		"filters":         map[string]any{"source": "docs"},
	})
	require.NoError(t, err)

	results, err := node.Execute(context.Background(), models.ExecutionContext{}, input(models.Item{"question": "what is delta"}))
	require.NoError(t, err)

	items := results[nodes.OutputPortSuccess].Items
	require.Len(t, items, 2)

	assert.Equal(t, "Delta Lake is a storage layer.", items[0]["pageContent"])
	assert.Equal(t, map[string]any{"id": "1", "source": "docs"}, items[0]["metadata"])
	assert.InDelta(t, 0.91, items[0]["score"], 1e-6)
	assert.Equal(t, "blog", items[1]["metadata"].(map[string]any)["source"])
}

func TestVectorStoreNode_Load_WithEmbeddingModel(t *testing.T) {
	ws := testutil.NewWorkspace(t)
	ws.OpenAPI("gte", `{"type":"object","properties":{"input":{"type":"array"}}}`)
	ws.JSON("POST /serving-endpoints/gte/invocations", http.StatusOK, `{"data":[{"index":0,"embedding":[0.1,0.2]}]}`)
	ws.Handle("POST /api/2.0/vector-search/indexes/main.docs.idx/query", func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))

		assert.Len(t, body["query_vector"], 2)
		assert.Equal(t, "delta", body["query_text"])
		assert.Equal(t, "HYBRID", body["query_type"])

		_, _ = w.Write([]byte(queryResponse))
	})

	node, err := NewVectorStoreNode("vs-1", map[string]any{
		"indexName":      "main.docs.idx",
		"query":          "delta",
		"embeddingModel": "gte",
		"queryType":      "HYBRID",
	}, ws.Client(), ws.Dependencies().Invoker, nil)
	require.NoError(t, err)

	results, err := node.Execute(context.Background(), models.ExecutionContext{}, nil)
	require.NoError(t, err)
	assert.Len(t, results[nodes.OutputPortSuccess].Items, 2)
}

func TestVectorStoreNode_Insert(t *testing.T) {
	ws := testutil.NewWorkspace(t)
	ws.OpenAPI("gte", `{"type":"object","properties":{"input":{"type":"array"}}}`)
	ws.JSON("POST /serving-endpoints/gte/invocations", http.StatusOK, `{"data":[{"index":0,"embedding":[1,0]},{"index":1,"embedding":[0,1]}]}`)
	ws.Handle("POST /api/2.0/vector-search/indexes/main.docs.idx/upsert-data", func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			InputsJSON string `json:"inputs_json"`
		}
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))

		var rows []map[string]any
		assert.NoError(t, json.Unmarshal([]byte(body.InputsJSON), &rows))

		if assert.Len(t, rows, 2) {
			assert.Equal(t, "first chunk", rows[0]["chunk"])
			assert.Equal(t, "a.md", rows[0]["source"])
			assert.Equal(t, []any{float64(1), float64(0)}, rows[0]["vector"])
			assert.NotEmpty(t, rows[0]["chunk_id"])
			assert.NotContains(t, rows[1], "page")
		}

		_, _ = w.Write([]byte(`{"status":"SUCCESS","result":{"success_row_count":2}}`))
	})

	node, err := NewVectorStoreNode("vs-1", map[string]any{
		"mode":            ModeInsert,
		"indexName":       "main.docs.idx",
		"embeddingModel":  "gte",
		"primaryKey":      "chunk_id",
		"textColumn":      "chunk",
		"embeddingColumn": "vector",
		"metadataColumns": []any{"source"},
		"text":            "{{ .item.body }}",
		"metadata":        `{"source":"{{ .item.file }}","page":1}`,
	}, ws.Client(), ws.Dependencies().Invoker, nil)
	require.NoError(t, err)

	results, err := node.Execute(context.Background(), models.ExecutionContext{}, input(
		models.Item{"body": "first chunk", "file": "a.md"},
		models.Item{"body": "second chunk", "file": "b.md"},
	))
	require.NoError(t, err)

	items := results[nodes.OutputPortSuccess].Items
	require.Len(t, items, 2)
	assert.NotEmpty(t, items[0]["id"])
	assert.NotEqual(t, items[0]["id"], items[1]["id"])
	assert.Equal(t, "second chunk", items[1]["pageContent"])
	assert.Equal(t, map[string]any{"source": "b.md", "page": float64(1)}, items[1]["metadata"])
}

func TestVectorStoreNode_Insert_UpsertFailure(t *testing.T) {
	ws := testutil.NewWorkspace(t)
	ws.OpenAPI("gte", `{"type":"object","properties":{"input":{"type":"array"}}}`)
	ws.JSON("POST /serving-endpoints/gte/invocations", http.StatusOK, `{"data":[{"index":0,"embedding":[1,0]},{"index":1,"embedding":[0,1]}]}`)
	ws.JSON("POST /api/2.0/vector-search/indexes/main.docs.idx/upsert-data", http.StatusOK, `{"status":"FAILURE","result":{"failed_primary_keys":["x"]}}`)

	node, err := NewVectorStoreNode("vs-1", map[string]any{
		"mode":           ModeInsert,
		"indexName":      "main.docs.idx",
		"embeddingModel": "gte",
		"text":           "{{ .item.body }}",
	}, ws.Client(), ws.Dependencies().Invoker, nil)
	require.NoError(t, err)

	results, err := node.Execute(context.Background(), models.ExecutionContext{}, input(
		models.Item{"body": "one"},
		models.Item{"body": ""},
		models.Item{"body": "three"},
	))
	require.NoError(t, err)

	assert.NotContains(t, results, nodes.OutputPortSuccess)

	failed := results[nodes.OutputPortError].Items
	require.Len(t, failed, 3)
	assert.Equal(t, "missing required parameter 'text'", failed[0]["error"])
	assert.Contains(t, failed[1]["error"], "upsert failed")
}

func TestNewVectorStoreNode_Validate(t *testing.T) {
	testCases := []struct {
		name    string
		config  map[string]any
		wantErr string
	}{
		{name: "load", config: map[string]any{"indexName": "i", "query": "q"}},
		{name: "insert", config: map[string]any{"mode": "insert", "indexName": "i", "text": "t", "embeddingModel": "gte"}},
		{name: "missing index", config: map[string]any{"query": "q"}, wantErr: "missing required field 'indexName'"},
		{name: "load without query", config: map[string]any{"indexName": "i"}, wantErr: "missing required field 'query'"},
		{name: "insert without text", config: map[string]any{"mode": "insert", "indexName": "i", "embeddingModel": "gte"}, wantErr: "missing required field 'text'"},
		{name: "insert without model", config: map[string]any{"mode": "insert", "indexName": "i", "text": "t"}, wantErr: "insert mode requires 'embeddingModel'"},
		{name: "unknown mode", config: map[string]any{"mode": "retrieve", "indexName": "i"}, wantErr: "unsupported mode 'retrieve'"},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := NewVectorStoreNode("v", tc.config, nil, nil, nil)
			if tc.wantErr == "" {
				assert.NoError(t, err)

				return
			}

			assert.EqualError(t, err, tc.wantErr)
		})
	}
}
