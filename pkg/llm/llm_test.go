package llm

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/mik3lol/n8n-nodes-databricks/pkg/serving"
)

// fakeQuerier records request bodies and replays canned responses.
type fakeQuerier struct {
	mu        sync.Mutex
	bodies    []map[string]any
	endpoints []string
	responses []string
	err       error
}

func (f *fakeQuerier) Query(_ context.Context, endpoint string, body map[string]any) (*serving.QueryResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.bodies = append(f.bodies, body)
	f.endpoints = append(f.endpoints, endpoint)

	if f.err != nil {
		return nil, f.err
	}

	raw := f.responses[0]
	if len(f.responses) > 1 {
		f.responses = f.responses[1:]
	}

	var response any
	if err := json.Unmarshal([]byte(raw), &response); err != nil {
		return nil, err
	}

	return &serving.QueryResult{Endpoint: endpoint, Format: serving.FormatChat, Response: response}, nil
}

// fakePoster records POSTs and replays canned responses per path.
type fakePoster struct {
	paths     []string
	bodies    []map[string]any
	responses map[string]string
}

func (f *fakePoster) Post(_ context.Context, path string, body, out any) error {
	f.paths = append(f.paths, path)

	data, err := json.Marshal(body)
	if err != nil {
		return err
	}

	var decoded map[string]any
	if err := json.Unmarshal(data, &decoded); err != nil {
		return err
	}

	f.bodies = append(f.bodies, decoded)

	return json.Unmarshal([]byte(f.responses[path]), out)
}
