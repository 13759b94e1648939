package serving

import (
	"errors"
	"fmt"
)

// ErrEmptyEndpoint indicates a missing endpoint name.
var ErrEmptyEndpoint = errors.New("serving endpoint name is required")

// SchemaFetchError indicates that an endpoint's OpenAPI description could not
// be fetched or did not describe a usable request schema.
type SchemaFetchError struct {
	Endpoint string `json:"endpoint"`
	Reason   string `json:"reason"`
	Err      error  `json:"-"`
}

func (e *SchemaFetchError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("fetch schema for endpoint %q: %s: %v", e.Endpoint, e.Reason, e.Err)
	}

	return fmt.Sprintf("fetch schema for endpoint %q: %s", e.Endpoint, e.Reason)
}

func (e *SchemaFetchError) Unwrap() error {
	return e.Err
}

// RequestValidationError indicates a body that does not have the structure of
// the endpoint's detected format.
type RequestValidationError struct {
	Endpoint string         `json:"endpoint,omitempty"`
	Format   Format         `json:"format"`
	Field    string         `json:"field"`
	Problem  string         `json:"problem"`
	Example  string         `json:"example"`
	Body     map[string]any `json:"body"`
}

func (e *RequestValidationError) Error() string {
	return fmt.Sprintf("invalid request for endpoint %q, %s. Expected format example:\n%s",
		e.Endpoint, describe(e.Format, e.Field, e.Problem), e.Example)
}

// UpstreamInvocationError is an HTTP 400 from a model invocation, enriched with
// the locally detected format and an example body.
type UpstreamInvocationError struct {
	Endpoint      string         `json:"endpoint"`
	InvocationURL string         `json:"invocation_url"`
	Format        Format         `json:"format"`
	Example       string         `json:"example"`
	Body          map[string]any `json:"body"`
	StatusCode    int            `json:"status_code"`
	Message       string         `json:"message"`
	Err           error          `json:"-"`
}

func (e *UpstreamInvocationError) Error() string {
	return fmt.Sprintf("endpoint %q rejected the request (%d): %s. Detected %s format, expected example:\n%s",
		e.Endpoint, e.StatusCode, e.Message, e.Format, e.Example)
}

func (e *UpstreamInvocationError) Unwrap() error {
	return e.Err
}

// IsSchemaFetchError reports whether err wraps a *SchemaFetchError.
func IsSchemaFetchError(err error) bool {
	var target *SchemaFetchError

	return errors.As(err, &target)
}
