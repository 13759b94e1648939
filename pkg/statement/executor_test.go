package statement

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mik3lol/n8n-nodes-databricks/pkg/databricks"
)

// fakeClient answers GETs from a queue of canned responses per path.
type fakeClient struct {
	mu        sync.Mutex
	responses map[string][]string
	gets      []string
	posts     []any
	onGet     func(path string)
	getErr    error
}

func newFakeClient() *fakeClient {
	return &fakeClient{responses: map[string][]string{}}
}

func (f *fakeClient) on(path string, bodies ...string) {
	f.responses[path] = append(f.responses[path], bodies...)
}

func (f *fakeClient) Get(_ context.Context, path string, out any) error {
	f.mu.Lock()
	f.gets = append(f.gets, path)
	hook := f.onGet

	queue := f.responses[path]

	var body string
	if len(queue) > 0 {
		body = queue[0]
		if len(queue) > 1 {
			f.responses[path] = queue[1:]
		}
	}
	f.mu.Unlock()

	if hook != nil {
		hook(path)
	}

	if f.getErr != nil {
		return f.getErr
	}

	if body == "" {
		return errors.New("unexpected GET " + path)
	}

	return json.Unmarshal([]byte(body), out)
}

func (f *fakeClient) Post(_ context.Context, path string, body, out any) error {
	f.mu.Lock()
	f.posts = append(f.posts, body)
	queue := f.responses["POST "+path]
	f.mu.Unlock()

	if len(queue) == 0 {
		return errors.New("unexpected POST " + path)
	}

	return json.Unmarshal([]byte(queue[0]), out)
}

func (f *fakeClient) getCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()

	return len(f.gets)
}

func fastExecutor(c Client, maxPolls int) *Executor {
	return NewExecutor(c, WithPollInterval(time.Millisecond), WithMaxPolls(maxPolls))
}

func TestProject(t *testing.T) {
	columns := []Column{{Name: "name"}, {Name: "age"}}

	assert.Equal(t, map[string]any{"name": "Alice", "age": 30}, Project([]any{"Alice", 30}, columns))
	assert.Equal(t, map[string]any{"name": "Bob", "age": nil}, Project([]any{"Bob"}, columns))
	assert.Equal(t, map[string]any{"name": "Eve", "age": 1}, Project([]any{"Eve", 1, "extra"}, columns))
	assert.Empty(t, Project([]any{"x"}, nil))
}

func TestState_Terminal(t *testing.T) {
	for _, s := range []State{StateSucceeded, StateFailed, StateCanceled, StateClosed} {
		assert.True(t, s.Terminal(), s)
	}

	for _, s := range []State{StatePending, StateRunning, ""} {
		assert.False(t, s.Terminal(), s)
	}
}

func TestCollectResults_InlineFirstChunk(t *testing.T) {
	c := newFakeClient()
	c.on(statementsPath+"/s-1/result/chunks/1", `{"chunk_index":1,"data_array":[["c"],["d"]]}`)
	c.on(statementsPath+"/s-1/result/chunks/2", `{"chunk_index":2,"data_array":[["e"]]}`)

	resp := &Response{
		StatementID: "s-1",
		Status:      json.RawMessage(`{"state":"SUCCEEDED"}`),
		Manifest:    &Manifest{TotalChunkCount: 3},
		Result:      &Chunk{DataArray: [][]any{{"a"}, {"b"}}},
	}
	resp.Manifest.Schema.Columns = []Column{{Name: "letter"}}

	rows, err := fastExecutor(c, 1).CollectResults(context.Background(), resp)
	require.NoError(t, err)

	assert.Equal(t, []string{
		statementsPath + "/s-1/result/chunks/1",
		statementsPath + "/s-1/result/chunks/2",
	}, c.gets)

	letters := make([]any, 0, len(rows))
	for _, r := range rows {
		letters = append(letters, r["letter"])
	}

	assert.Equal(t, []any{"a", "b", "c", "d", "e"}, letters)
}

func TestCollectResults_NoInlineData(t *testing.T) {
	c := newFakeClient()
	c.on(statementsPath+"/s-1/result/chunks/0", `{"data_array":[["1","x"]]}`)
	c.on(statementsPath+"/s-1/result/chunks/1", `{"data_array":[["2","y"]]}`)

	resp := &Response{StatementID: "s-1", Manifest: &Manifest{TotalChunkCount: 2}}
	resp.Manifest.Schema.Columns = []Column{{Name: "id"}, {Name: "v"}}

	rows, err := fastExecutor(c, 1).CollectResults(context.Background(), resp)
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, map[string]any{"id": "1", "v": "x"}, rows[0])
	assert.Equal(t, map[string]any{"id": "2", "v": "y"}, rows[1])
	assert.Len(t, c.gets, 2)
}

func TestCollectResults_Empty(t *testing.T) {
	c := newFakeClient()

	rows, err := fastExecutor(c, 1).CollectResults(context.Background(), &Response{
		StatementID: "s-1",
		Manifest:    &Manifest{TotalChunkCount: 0},
	})
	require.NoError(t, err)
	assert.NotNil(t, rows)
	assert.Empty(t, rows)
	assert.Empty(t, c.gets)
}

func TestCollectResults_ChunkErrorDiscardsRows(t *testing.T) {
	c := newFakeClient()
	boom := errors.New("chunk unavailable")
	c.getErr = boom

	_, err := fastExecutor(c, 1).CollectResults(context.Background(), &Response{
		StatementID: "s-1",
		Manifest:    &Manifest{TotalChunkCount: 2},
		Result:      &Chunk{DataArray: [][]any{{"a"}}},
	})
	require.ErrorIs(t, err, boom)
}

func TestWait_TimeoutAfterExactlyMaxPolls(t *testing.T) {
	c := newFakeClient()
	c.on(statementsPath+"/s-1", `{"statement_id":"s-1","status":{"state":"RUNNING"}}`)

	initial := &Response{StatementID: "s-1", Status: json.RawMessage(`{"state":"PENDING"}`)}

	_, err := fastExecutor(c, 4).Wait(context.Background(), initial)

	var terr *TimeoutError
	require.ErrorAs(t, err, &terr)
	assert.Equal(t, "s-1", terr.StatementID)
	assert.Equal(t, StateRunning, terr.LastState)
	assert.Equal(t, 4, terr.Polls)
	assert.Equal(t, 4, c.getCount())
}

func TestWait_ZeroBudget(t *testing.T) {
	c := newFakeClient()

	_, err := fastExecutor(c, 0).Wait(context.Background(), &Response{
		StatementID: "s-1",
		Status:      json.RawMessage(`{"state":"RUNNING"}`),
	})

	var terr *TimeoutError
	require.ErrorAs(t, err, &terr)
	assert.Equal(t, 0, c.getCount())
}

func TestWait_Succeeds(t *testing.T) {
	c := newFakeClient()
	c.on(statementsPath+"/s-1",
		`{"statement_id":"s-1","status":{"state":"RUNNING"}}`,
		`{"statement_id":"s-1","status":{"state":"SUCCEEDED"},"manifest":{"total_chunk_count":1}}`,
	)

	resp, err := fastExecutor(c, 10).Wait(context.Background(), &Response{
		StatementID: "s-1",
		Status:      json.RawMessage(`{"state":"PENDING"}`),
	})
	require.NoError(t, err)
	assert.Equal(t, StateSucceeded, resp.State())
	assert.Equal(t, 2, c.getCount())
}

func TestWait_TerminalInitialResponseDoesNotPoll(t *testing.T) {
	c := newFakeClient()

	resp, err := fastExecutor(c, 10).Wait(context.Background(), &Response{
		StatementID: "s-1",
		Status:      json.RawMessage(`{"state":"SUCCEEDED"}`),
	})
	require.NoError(t, err)
	assert.Equal(t, "s-1", resp.StatementID)
	assert.Equal(t, 0, c.getCount())
}

func TestWait_Failed(t *testing.T) {
	status := `{"state":"FAILED","error":{"error_code":"BAD_REQUEST","message":"[TABLE_OR_VIEW_NOT_FOUND] t"}}`

	c := newFakeClient()
	c.on(statementsPath+"/s-1", `{"statement_id":"s-1","status":`+status+`}`)

	_, err := fastExecutor(c, 10).Wait(context.Background(), &Response{
		StatementID: "s-1",
		Status:      json.RawMessage(`{"state":"RUNNING"}`),
	})

	var ferr *FailedError
	require.ErrorAs(t, err, &ferr)
	assert.Equal(t, StateFailed, ferr.State)
	assert.JSONEq(t, status, string(ferr.Status))
	assert.Equal(t, "BAD_REQUEST", ferr.ErrorCode())
	assert.Contains(t, ferr.Error(), "TABLE_OR_VIEW_NOT_FOUND")

	var terr *TimeoutError
	assert.False(t, errors.As(err, &terr))
}

func TestWait_CancelledBeforeFirstPoll(t *testing.T) {
	c := newFakeClient()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := fastExecutor(c, 10).Wait(ctx, &Response{
		StatementID: "s-1",
		Status:      json.RawMessage(`{"state":"RUNNING"}`),
	})
	require.ErrorIs(t, err, ErrCancelled)
	assert.Equal(t, 0, c.getCount())
}

func TestWait_CancelledDuringPolling(t *testing.T) {
	c := newFakeClient()
	c.on(statementsPath+"/s-1", `{"statement_id":"s-1","status":{"state":"RUNNING"}}`)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	c.onGet = func(string) {
		if c.getCount() == 2 {
			cancel()
		}
	}

	_, err := NewExecutor(c, WithPollInterval(20*time.Millisecond), WithMaxPolls(10)).Wait(ctx, &Response{
		StatementID: "s-1",
		Status:      json.RawMessage(`{"state":"RUNNING"}`),
	})
	require.ErrorIs(t, err, ErrCancelled)

	var terr *TimeoutError
	assert.False(t, errors.As(err, &terr))
	assert.Equal(t, 2, c.getCount())
}

func TestWait_PollErrorPropagates(t *testing.T) {
	boom := errors.New("connection reset")

	c := newFakeClient()
	c.getErr = boom

	_, err := fastExecutor(c, 10).Wait(context.Background(), &Response{
		StatementID: "s-1",
		Status:      json.RawMessage(`{"state":"RUNNING"}`),
	})
	require.ErrorIs(t, err, boom)
	assert.Equal(t, 1, c.getCount())
}

func TestSubmit_ValidatesRequest(t *testing.T) {
	c := newFakeClient()

	_, err := fastExecutor(c, 1).Submit(context.Background(), Request{Statement: "SELECT 1"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "WarehouseID")
	assert.Empty(t, c.posts)
}

func TestExecute_AgainstFakeWarehouse(t *testing.T) {
	var (
		mu    sync.Mutex
		polls int
	)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")

		switch {
		case r.Method == http.MethodPost && r.URL.Path == statementsPath:
			var req map[string]any
			assert.NoError(t, json.NewDecoder(r.Body).Decode(&req))
			assert.Equal(t, "wh-1", req["warehouse_id"])
			assert.Equal(t, "main", req["catalog"])

			_, _ = w.Write([]byte(`{"statement_id":"s-9","status":{"state":"PENDING"}}`))
		case r.URL.Path == statementsPath+"/s-9":
			mu.Lock()
			polls++
			n := polls
			mu.Unlock()

			if n < 2 {
				_, _ = w.Write([]byte(`{"statement_id":"s-9","status":{"state":"RUNNING"}}`))

				return
			}

			_, _ = w.Write([]byte(`{
				"statement_id":"s-9",
				"status":{"state":"SUCCEEDED"},
				"manifest":{"total_chunk_count":2,"schema":{"columns":[
					{"name":"name","type_name":"STRING","position":0},
					{"name":"age","type_name":"INT","position":1}
				]}},
				"result":{"chunk_index":0,"data_array":[["Alice","30"]]}
			}`))
		case strings.HasSuffix(r.URL.Path, "/result/chunks/1"):
			_, _ = w.Write([]byte(`{"chunk_index":1,"data_array":[["Bob","41"]]}`))
		default:
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer srv.Close()

	client, err := databricks.NewClient(
		databricks.Credentials{Host: srv.URL, Token: "dapi0123456789abcdef0123456789ab"},
		databricks.WithAllowHTTP(),
		databricks.WithRetry(0, 0, 0),
	)
	require.NoError(t, err)

	res, err := fastExecutor(client, 5).Execute(context.Background(), Request{
		WarehouseID: "wh-1",
		Statement:   "SELECT name, age FROM people",
		Catalog:     "main",
	})
	require.NoError(t, err)

	assert.Equal(t, "s-9", res.StatementID)
	require.Len(t, res.Columns, 2)
	assert.Equal(t, []map[string]any{
		{"name": "Alice", "age": "30"},
		{"name": "Bob", "age": "41"},
	}, res.Rows)
}
