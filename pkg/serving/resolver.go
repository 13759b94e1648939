package serving

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"github.com/tidwall/gjson"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/mik3lol/n8n-nodes-databricks/pkg/cache"
	"github.com/mik3lol/n8n-nodes-databricks/pkg/log"
	"github.com/mik3lol/n8n-nodes-databricks/pkg/otelhelper"
)

const (
	componentRefPrefix = "#/components/schemas/"
	maxRefDepth        = 32
)

// Client is the HTTP capability the serving components need.
// *databricks.Client satisfies it.
type Client interface {
	Host() string
	Get(ctx context.Context, path string, out any) error
	DoURL(ctx context.Context, method, rawURL string, body, out any) error
}

// EndpointSchemaInfo is the input contract of one serving endpoint.
type EndpointSchemaInfo struct {
	Endpoint       string         `json:"endpoint"`
	Format         Format         `json:"format"`
	Schema         map[string]any `json:"schema,omitempty"`
	RequiredFields []string       `json:"required_fields"`
	InvocationURL  string         `json:"invocation_url"`
	// Fallback is set when the contract was not read from the endpoint's
	// OpenAPI description.
	Fallback bool `json:"fallback,omitempty"`
}

// ConventionalSchemaInfo is the degraded contract used when an endpoint's
// OpenAPI description is unavailable.
func ConventionalSchemaInfo(host, endpoint string) *EndpointSchemaInfo {
	return &EndpointSchemaInfo{
		Endpoint:       endpoint,
		Format:         FormatGeneric,
		RequiredFields: []string{},
		InvocationURL:  strings.TrimRight(host, "/") + "/serving-endpoints/" + url.PathEscape(endpoint) + "/invocations",
		Fallback:       true,
	}
}

// Resolver discovers endpoint input contracts.
type Resolver struct {
	client Client
	cache  cache.Cache[*EndpointSchemaInfo]
	ttl    time.Duration
	logger *slog.Logger
	tracer trace.Tracer
}

type ResolverOption func(*Resolver)

// WithCache memoises resolutions by endpoint name.
func WithCache(c cache.Cache[*EndpointSchemaInfo]) ResolverOption {
	return func(r *Resolver) { r.cache = c }
}

func WithSchemaTTL(ttl time.Duration) ResolverOption {
	return func(r *Resolver) { r.ttl = ttl }
}

func WithLogger(logger *slog.Logger) ResolverOption {
	return func(r *Resolver) { r.logger = logger }
}

func WithTracer(tracer trace.Tracer) ResolverOption {
	return func(r *Resolver) { r.tracer = tracer }
}

func NewResolver(client Client, opts ...ResolverOption) *Resolver {
	r := &Resolver{
		client: client,
		ttl:    cache.SchemaTTL,
	}
	for _, opt := range opts {
		opt(r)
	}

	r.logger = log.OrDefault(r.logger).With("module", "serving")

	return r
}

// Resolve fetches and classifies the OpenAPI description of endpoint. Any
// fetch or parse failure is returned as a *SchemaFetchError.
func (r *Resolver) Resolve(ctx context.Context, endpoint string) (*EndpointSchemaInfo, error) {
	if strings.TrimSpace(endpoint) == "" {
		return nil, ErrEmptyEndpoint
	}

	ctx, span := otelhelper.StartSpan(ctx, r.tracer, "serving.resolve",
		attribute.String(otelhelper.EndpointKey, endpoint),
	)
	defer span.End()

	var (
		info *EndpointSchemaInfo
		err  error
	)

	if r.cache != nil {
		info, err = r.cache.GetOrFetch(ctx, cache.Key(r.client.Host(), "endpoint-schema", endpoint), r.ttl,
			func(ctx context.Context) (*EndpointSchemaInfo, error) {
				return r.fetch(ctx, endpoint)
			})
	} else {
		info, err = r.fetch(ctx, endpoint)
	}

	if err != nil {
		otelhelper.SetError(span, err)

		return nil, err
	}

	span.SetAttributes(
		attribute.String(otelhelper.FormatKey, string(info.Format)),
		attribute.String(otelhelper.InvocationURLKey, info.InvocationURL),
	)

	return info, nil
}

func (r *Resolver) fetch(ctx context.Context, endpoint string) (*EndpointSchemaInfo, error) {
	var raw json.RawMessage

	path := "/api/2.0/serving-endpoints/" + url.PathEscape(endpoint) + "/openapi"
	if err := r.client.Get(ctx, path, &raw); err != nil {
		return nil, &SchemaFetchError{Endpoint: endpoint, Reason: "request failed", Err: err}
	}

	info, err := ParseOpenAPI(endpoint, raw)
	if err != nil {
		return nil, err
	}

	r.logger.DebugContext(ctx, "resolved endpoint schema",
		"endpoint", endpoint,
		"format", info.Format,
		"invocation_url", info.InvocationURL,
	)

	return info, nil
}

// ParseOpenAPI extracts the input contract from an endpoint's OpenAPI
// document. The invocation URL is the first declared server; the request
// schema is the JSON body of the POST operation on the first path in document
// order. Local component references are resolved before classification.
func ParseOpenAPI(endpoint string, raw []byte) (*EndpointSchemaInfo, error) {
	fail := func(reason string) error {
		return &SchemaFetchError{Endpoint: endpoint, Reason: reason}
	}

	if !gjson.ValidBytes(raw) {
		return nil, fail("openapi document is not valid json")
	}

	doc := gjson.ParseBytes(raw)

	serverURL := strings.TrimSpace(doc.Get("servers.0.url").String())
	if serverURL == "" {
		return nil, fail("openapi document declares no server url")
	}

	var (
		firstPath gjson.Result
		found     bool
	)

	doc.Get("paths").ForEach(func(_, value gjson.Result) bool {
		firstPath, found = value, true

		return false
	})

	if !found {
		return nil, fail("openapi document declares no paths")
	}

	schemaRaw := firstPath.Get(`post.requestBody.content.application/json.schema`)
	if !schemaRaw.IsObject() {
		return nil, fail("first path has no json request body schema")
	}

	var schema map[string]any
	if err := json.Unmarshal([]byte(schemaRaw.Raw), &schema); err != nil {
		return nil, &SchemaFetchError{Endpoint: endpoint, Reason: "request body schema is malformed", Err: err}
	}

	var components map[string]any
	if c := doc.Get("components.schemas"); c.IsObject() {
		_ = json.Unmarshal([]byte(c.Raw), &components)
	}

	resolved, _ := resolveRefs(schema, components, 0).(map[string]any)

	format, fragment := Classify(resolved)

	return &EndpointSchemaInfo{
		Endpoint:       endpoint,
		Format:         format,
		Schema:         fragment,
		RequiredFields: format.RequiredFields(),
		InvocationURL:  serverURL,
	}, nil
}

// resolveRefs replaces local "#/components/schemas/<name>" references with
// copies of their targets. Unknown or remote references are kept as-is.
func resolveRefs(node any, components map[string]any, depth int) any {
	if depth > maxRefDepth {
		return node
	}

	switch n := node.(type) {
	case map[string]any:
		if ref, ok := n["$ref"].(string); ok && strings.HasPrefix(ref, componentRefPrefix) {
			name := unescapePointer(strings.TrimPrefix(ref, componentRefPrefix))
			if target, ok := components[name]; ok {
				return resolveRefs(target, components, depth+1)
			}

			return n
		}

		out := make(map[string]any, len(n))
		for k, v := range n {
			out[k] = resolveRefs(v, components, depth+1)
		}

		return out
	case []any:
		out := make([]any, len(n))
		for i, v := range n {
			out[i] = resolveRefs(v, components, depth+1)
		}

		return out
	default:
		return node
	}
}

func unescapePointer(s string) string {
	return strings.NewReplacer("~1", "/", "~0", "~").Replace(s)
}
