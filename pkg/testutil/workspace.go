// Package testutil provides an in-process Databricks workspace for node tests.
package testutil

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/mik3lol/n8n-nodes-databricks/pkg/databricks"
	"github.com/mik3lol/n8n-nodes-databricks/pkg/protocol"
	"github.com/mik3lol/n8n-nodes-databricks/pkg/serving"
	"github.com/mik3lol/n8n-nodes-databricks/pkg/statement"
)

// Token is a well formed personal access token.
const Token = "dapi0123456789abcdef0123456789ab"

// Request is one call received by a Workspace.
type Request struct {
	Method string
	Path   string
	Query  string
	Body   map[string]any
}

// Workspace is an httptest server with Databricks-shaped handlers registered
// on a pattern mux ("GET /api/2.0/...").
type Workspace struct {
	*httptest.Server

	t   *testing.T
	mux *http.ServeMux

	mu       sync.Mutex
	requests []Request
}

func NewWorkspace(t *testing.T) *Workspace {
	t.Helper()

	w := &Workspace{t: t, mux: http.NewServeMux()}
	w.Server = httptest.NewServer(http.HandlerFunc(w.serve))
	t.Cleanup(w.Close)

	return w
}

func (w *Workspace) serve(rw http.ResponseWriter, r *http.Request) {
	data, _ := io.ReadAll(r.Body)
	r.Body = io.NopCloser(bytes.NewReader(data))

	rec := Request{Method: r.Method, Path: r.URL.Path, Query: r.URL.RawQuery}
	if len(data) > 0 {
		_ = json.Unmarshal(data, &rec.Body)
	}

	w.mu.Lock()
	w.requests = append(w.requests, rec)
	w.mu.Unlock()

	w.mux.ServeHTTP(rw, r)
}

// Handle registers h for a method-qualified pattern.
func (w *Workspace) Handle(pattern string, h http.HandlerFunc) {
	w.mux.HandleFunc(pattern, h)
}

// JSON registers a canned JSON response.
func (w *Workspace) JSON(pattern string, status int, body string) {
	w.Handle(pattern, func(rw http.ResponseWriter, _ *http.Request) {
		rw.Header().Set("Content-Type", "application/json")
		rw.WriteHeader(status)
		_, _ = rw.Write([]byte(body))
	})
}

// OpenAPI serves an OpenAPI document for endpoint whose request schema is
// schema and whose server URL is the endpoint's invocation path on w.
func (w *Workspace) OpenAPI(endpoint, schema string) {
	w.Handle("GET /api/2.0/serving-endpoints/"+endpoint+"/openapi", func(rw http.ResponseWriter, _ *http.Request) {
		doc := map[string]any{
			"servers": []any{map[string]any{"url": w.InvocationURL(endpoint)}},
			"paths": map[string]any{
				"/invocations": map[string]any{"post": map[string]any{"requestBody": map[string]any{
					"content": map[string]any{"application/json": map[string]any{"schema": json.RawMessage(schema)}},
				}}},
			},
		}
		_ = json.NewEncoder(rw).Encode(doc)
	})
}

func (w *Workspace) InvocationURL(endpoint string) string {
	return w.URL + "/serving-endpoints/" + endpoint + "/invocations"
}

// Requests returns every request received so far.
func (w *Workspace) Requests() []Request {
	w.mu.Lock()
	defer w.mu.Unlock()

	return append([]Request(nil), w.requests...)
}

// Client returns a client for w without retries.
func (w *Workspace) Client() *databricks.Client {
	c, err := databricks.NewClient(
		databricks.Credentials{Host: w.URL, Token: Token},
		databricks.WithAllowHTTP(),
		databricks.WithRetry(0, 0, 0),
	)
	require.NoError(w.t, err)

	return c
}

// Dependencies wires the shared node services to w. Statement polling uses a
// millisecond interval.
func (w *Workspace) Dependencies() protocol.Dependencies {
	client := w.Client()

	return protocol.Dependencies{
		Client:   client,
		Invoker:  serving.NewInvoker(client, nil),
		Executor: statement.NewExecutor(client, statement.WithPollInterval(time.Millisecond)),
	}
}
