package databricks

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testToken = "dapi0123456789abcdef0123456789ab"

func newTestClient(t *testing.T, srv *httptest.Server, opts ...Option) *Client {
	t.Helper()

	opts = append([]Option{WithAllowHTTP(), WithRetry(0, 0, 0)}, opts...)

	c, err := NewClient(Credentials{Host: srv.URL + "/", Token: testToken}, opts...)
	require.NoError(t, err)

	return c
}

func TestCredentials_Validate(t *testing.T) {
	tests := []struct {
		name    string
		creds   Credentials
		wantErr bool
	}{
		{"valid", Credentials{Host: "https://adb-1.azuredatabricks.net", Token: testToken}, false},
		{"missing host", Credentials{Token: testToken}, true},
		{"missing token", Credentials{Host: "https://adb-1.azuredatabricks.net"}, true},
		{"host not a url", Credentials{Host: "not a url", Token: testToken}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.creds.Validate()
			if tt.wantErr {
				require.ErrorIs(t, err, ErrInvalidCredentials)
			} else {
				require.NoError(t, err)
			}
		})
	}
}

func TestCredentials_NormalizedHost(t *testing.T) {
	c := Credentials{Host: " https://adb-1.azuredatabricks.net// "}
	assert.Equal(t, "https://adb-1.azuredatabricks.net", c.NormalizedHost())
}

func TestNewClient_RejectsInsecureHost(t *testing.T) {
	_, err := NewClient(Credentials{Host: "http://example.com", Token: testToken})
	require.ErrorIs(t, err, ErrInsecureHost)

	c, err := NewClient(Credentials{Host: "http://example.com", Token: testToken}, WithAllowHTTP())
	require.NoError(t, err)
	assert.Equal(t, "http://example.com", c.Host())
}

func TestClient_Do(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer "+testToken, r.Header.Get("Authorization"))
		assert.Equal(t, "/api/2.0/sql/statements", r.URL.Path)
		assert.Equal(t, http.MethodPost, r.Method)

		var body map[string]any
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "SELECT 1", body["statement"])

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"statement_id":"s-1","status":{"state":"PENDING"}}`))
	}))
	defer srv.Close()

	c := newTestClient(t, srv)

	var out struct {
		StatementID string `json:"statement_id"`
	}

	err := c.Post(context.Background(), "/api/2.0/sql/statements", map[string]any{"statement": "SELECT 1"}, &out)
	require.NoError(t, err)
	assert.Equal(t, "s-1", out.StatementID)
}

func TestClient_DoURL(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/serving-endpoints/chat/invocations", r.URL.Path)
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"ok":true}`))
	}))
	defer srv.Close()

	c := newTestClient(t, srv)

	var out map[string]any
	err := c.DoURL(context.Background(), http.MethodPost, srv.URL+"/serving-endpoints/chat/invocations", map[string]any{}, &out)
	require.NoError(t, err)
	assert.Equal(t, true, out["ok"])

	err = c.DoURL(context.Background(), http.MethodPost, "/relative", nil, nil)
	require.Error(t, err)
}

func TestClient_APIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`{"error_code":"RESOURCE_DOES_NOT_EXIST","message":"endpoint missing"}`))
	}))
	defer srv.Close()

	c := newTestClient(t, srv)

	err := c.Get(context.Background(), "/api/2.0/serving-endpoints/x", nil)
	require.Error(t, err)

	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusNotFound, apiErr.StatusCode)
	assert.Equal(t, "RESOURCE_DOES_NOT_EXIST", apiErr.ErrorCode)
	assert.Equal(t, "endpoint missing", apiErr.Message)
	assert.True(t, IsNotFound(err))
	assert.False(t, IsBadRequest(err))
	assert.Contains(t, apiErr.Error(), "RESOURCE_DOES_NOT_EXIST")

	_, marshalErr := json.Marshal(apiErr)
	require.NoError(t, marshalErr)
}

func TestClient_APIErrorMasksTokens(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusForbidden)
		_, _ = w.Write([]byte("invalid token " + testToken))
	}))
	defer srv.Close()

	c := newTestClient(t, srv)

	err := c.Get(context.Background(), "/api/2.0/clusters/list", nil)

	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.NotContains(t, apiErr.Body, testToken)
	assert.Empty(t, apiErr.ErrorCode)
}

func TestClient_RetriesServerErrors(t *testing.T) {
	var calls atomic.Int32

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)

			return
		}

		_, _ = w.Write([]byte(`{"ok":true}`))
	}))
	defer srv.Close()

	c := newTestClient(t, srv, WithRetry(3, time.Millisecond, 5*time.Millisecond))

	var out map[string]any
	require.NoError(t, c.Get(context.Background(), "/api/2.0/ping", &out))
	assert.Equal(t, int32(3), calls.Load())
}

func TestClient_DoesNotRetryPosts(t *testing.T) {
	var submits atomic.Int32

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if submits.Add(1) == 1 {
			w.WriteHeader(http.StatusBadGateway)

			return
		}

		_, _ = w.Write([]byte(`{"statement_id":"s-1"}`))
	}))
	defer srv.Close()

	c := newTestClient(t, srv, WithRetry(3, time.Millisecond, 5*time.Millisecond))

	err := c.Post(context.Background(), "/api/2.0/sql/statements", map[string]any{"statement": "INSERT INTO t VALUES (1)"}, nil)

	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusBadGateway, apiErr.StatusCode)
	assert.Equal(t, int32(1), submits.Load())
}

func TestClient_DoesNotRetryBadRequest(t *testing.T) {
	var calls atomic.Int32

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer srv.Close()

	c := newTestClient(t, srv, WithRetry(3, time.Millisecond, 5*time.Millisecond))

	err := c.Get(context.Background(), "/api/2.0/ping", nil)
	require.True(t, IsBadRequest(err))
	assert.Equal(t, int32(1), calls.Load())
}
