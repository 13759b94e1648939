package main

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mik3lol/n8n-nodes-databricks/pkg/testutil"
)

func run(t *testing.T, ws *testutil.Workspace, args ...string) (string, error) {
	t.Helper()

	var out bytes.Buffer

	command := NewCommand()
	command.Writer = &out

	full := []string{"databricks-nodes", "--plugins-path", t.TempDir()}
	if ws != nil {
		full = append(full, "--host", ws.URL, "--token", testutil.Token, "--allow-http")
	}

	err := command.Run(context.Background(), append(full, args...))

	return out.String(), err
}

func TestNodesCommand(t *testing.T) {
	out, err := run(t, nil, "nodes")
	require.NoError(t, err)

	var types []map[string]any
	require.NoError(t, json.Unmarshal([]byte(out), &types))
	require.Len(t, types, 5)
	assert.Equal(t, "databricks", types[0]["id"])
	assert.NotContains(t, types[0], "schema")

	out, err = run(t, nil, "nodes", "databricks-embeddings")
	require.NoError(t, err)
	assert.Contains(t, out, `"schema"`)

	_, err = run(t, nil, "nodes", "merge")
	assert.ErrorContains(t, err, "node type not registered")
}

func TestSQLCommand(t *testing.T) {
	ws := testutil.NewWorkspace(t)
	ws.JSON("POST /api/2.0/sql/statements", http.StatusOK, `{
		"statement_id": "s-1",
		"status": {"state": "SUCCEEDED"},
		"manifest": {"total_chunk_count": 1, "schema": {"columns": [{"name": "n", "position": 0}]}},
		"result": {"chunk_index": 0, "data_array": [["7"]]}
	}`)

	out, err := run(t, ws, "sql", "--warehouse", "wh-1", "--query", "SELECT :x AS n", "--catalog", "main", "--param", "x=7")
	require.NoError(t, err)

	var result struct {
		StatementID string           `json:"statement_id"`
		Rows        []map[string]any `json:"rows"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &result))
	assert.Equal(t, "s-1", result.StatementID)
	assert.Equal(t, []map[string]any{{"n": "7"}}, result.Rows)

	requests := ws.Requests()
	require.Len(t, requests, 1)
	assert.Equal(t, "main", requests[0].Body["catalog"])
	assert.Equal(t, []any{map[string]any{"name": "x", "value": "7"}}, requests[0].Body["parameters"])
}

func TestSchemaCommand(t *testing.T) {
	ws := testutil.NewWorkspace(t)
	ws.OpenAPI("gte", `{"type":"object","properties":{"input":{"type":"array"}}}`)

	out, err := run(t, ws, "schema", "gte")
	require.NoError(t, err)

	var info map[string]any
	require.NoError(t, json.Unmarshal([]byte(out), &info))
	assert.Equal(t, "embeddings", info["format"])
	assert.Equal(t, ws.InvocationURL("gte"), info["invocation_url"])
	assert.Contains(t, info["example"], "input")
}

func TestInvokeCommand(t *testing.T) {
	ws := testutil.NewWorkspace(t)
	ws.OpenAPI("gte", `{"type":"object","properties":{"input":{"type":"array"}}}`)
	ws.JSON("POST /serving-endpoints/gte/invocations", http.StatusOK, `{"data":[{"embedding":[0.5]}]}`)

	out, err := run(t, ws, "invoke", "gte", "--body", `{"input":["hello"]}`)
	require.NoError(t, err)
	assert.Contains(t, out, `"format": "embeddings"`)
	assert.Contains(t, out, "0.5")

	_, err = run(t, ws, "invoke", "gte", "--body", `["hello"]`)
	assert.EqualError(t, err, "--body must be a JSON object")

	_, err = run(t, ws, "invoke", "gte", "--body", `{"prompt":"hello"}`)
	assert.ErrorContains(t, err, "input")
}

func TestLookupCommand(t *testing.T) {
	ws := testutil.NewWorkspace(t)
	ws.JSON("GET /api/2.0/sql/warehouses", http.StatusOK, `{"warehouses":[{"id":"wh-1","name":"Starter"}]}`)

	out, err := run(t, ws, "lookup", "warehouses")
	require.NoError(t, err)
	assert.Contains(t, out, `"value": "wh-1"`)

	_, err = run(t, ws, "lookup")
	assert.EqualError(t, err, "resource is required")
}

func TestCommand_RequiresCredentials(t *testing.T) {
	_, err := run(t, nil, "lookup", "catalogs")
	assert.ErrorContains(t, err, "DATABRICKS_HOST")
}

func TestParseParameters(t *testing.T) {
	params, err := parseParameters([]string{"a=1", "b=x=y", "c="})
	require.NoError(t, err)
	require.Len(t, params, 3)
	assert.Equal(t, "x=y", params[1].Value)
	assert.Empty(t, params[2].Value)

	_, err = parseParameters([]string{"=1"})
	assert.Error(t, err)

	_, err = parseParameters([]string{"novalue"})
	assert.Error(t, err)
}
