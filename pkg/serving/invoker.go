package serving

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/mik3lol/n8n-nodes-databricks/pkg/databricks"
	"github.com/mik3lol/n8n-nodes-databricks/pkg/log"
	"github.com/mik3lol/n8n-nodes-databricks/pkg/otelhelper"
)

// QueryResult is the outcome of one endpoint invocation.
type QueryResult struct {
	Endpoint      string `json:"endpoint"`
	Format        Format `json:"format"`
	InvocationURL string `json:"invocation_url"`
	Fallback      bool   `json:"fallback,omitempty"`
	Response      any    `json:"response"`
}

// Invoker queries serving endpoints using resolved input contracts.
type Invoker struct {
	client   Client
	resolver *Resolver
	logger   *slog.Logger
	tracer   trace.Tracer
}

func NewInvoker(client Client, resolver *Resolver) *Invoker {
	if resolver == nil {
		resolver = NewResolver(client)
	}

	return &Invoker{
		client:   client,
		resolver: resolver,
		logger:   resolver.logger,
		tracer:   resolver.tracer,
	}
}

// Query resolves endpoint, validates body against the detected format and
// posts it to the resolved invocation URL.
//
// A schema that cannot be resolved is not an error: the conventional
// invocation URL and the generic format are used instead. An HTTP 400 from the
// endpoint is returned as *UpstreamInvocationError; other failures propagate
// unchanged.
func (i *Invoker) Query(ctx context.Context, endpoint string, body map[string]any) (*QueryResult, error) {
	ctx, span := otelhelper.StartSpan(ctx, i.tracer, "serving.query",
		attribute.String(otelhelper.EndpointKey, endpoint),
	)
	defer span.End()

	info, err := i.resolver.Resolve(ctx, endpoint)
	if err != nil {
		if !IsSchemaFetchError(err) || ctx.Err() != nil {
			otelhelper.SetError(span, err)

			return nil, err
		}

		i.logger.WarnContext(ctx, "endpoint schema unavailable, using conventional invocation url",
			"endpoint", endpoint,
			"error", log.Mask(err.Error()),
		)

		info = ConventionalSchemaInfo(i.client.Host(), endpoint)
	}

	span.SetAttributes(
		attribute.String(otelhelper.FormatKey, string(info.Format)),
		attribute.String(otelhelper.InvocationURLKey, info.InvocationURL),
	)

	if err := info.Validate(body); err != nil {
		otelhelper.SetError(span, err)

		return nil, err
	}

	var response any
	if err := i.client.DoURL(ctx, http.MethodPost, info.InvocationURL, body, &response); err != nil {
		err = enhanceUpstreamError(info, body, err)
		otelhelper.SetError(span, err)

		return nil, err
	}

	return &QueryResult{
		Endpoint:      endpoint,
		Format:        info.Format,
		InvocationURL: info.InvocationURL,
		Fallback:      info.Fallback,
		Response:      response,
	}, nil
}

func enhanceUpstreamError(info *EndpointSchemaInfo, body map[string]any, err error) error {
	var apiErr *databricks.APIError
	if !errors.As(err, &apiErr) || apiErr.StatusCode != http.StatusBadRequest {
		return err
	}

	message := apiErr.Message
	if message == "" {
		message = apiErr.Body
	}

	return &UpstreamInvocationError{
		Endpoint:      info.Endpoint,
		InvocationURL: info.InvocationURL,
		Format:        info.Format,
		Example:       BuildExample(info.Schema, info.Format),
		Body:          body,
		StatusCode:    apiErr.StatusCode,
		Message:       message,
		Err:           err,
	}
}

// Resolver returns the resolver used by Query.
func (i *Invoker) Resolver() *Resolver {
	return i.resolver
}
