package nodes

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/moogar0880/problems"

	"github.com/mik3lol/n8n-nodes-databricks/pkg/databricks"
	"github.com/mik3lol/n8n-nodes-databricks/pkg/log"
	"github.com/mik3lol/n8n-nodes-databricks/pkg/serving"
	"github.com/mik3lol/n8n-nodes-databricks/pkg/statement"
)

// Problem builds an RFC 7807 problem for err. Typed errors contribute their
// diagnostic fields as extension members.
func Problem(err error) map[string]any {
	status, kind, ext := classify(err)

	problem := problems.NewStatusProblem(status).
		WithType(kind).
		WithDetail(log.Mask(err.Error()))

	record := map[string]any{}

	if data, mErr := json.Marshal(problem); mErr == nil {
		_ = json.Unmarshal(data, &record)
	}

	for k, v := range ext {
		record[k] = v
	}

	return record
}

// ErrorRecord is the item placed on the error port for a failed item.
func ErrorRecord(err error) map[string]any {
	return map[string]any{
		"error":   log.Mask(err.Error()),
		"success": false,
		"problem": Problem(err),
	}
}

func classify(err error) (int, string, map[string]any) {
	var (
		missing    *MissingParameterError
		validation *serving.RequestValidationError
		upstream   *serving.UpstreamInvocationError
		fetch      *serving.SchemaFetchError
		failed     *statement.FailedError
		timeout    *statement.TimeoutError
		apiErr     *databricks.APIError
	)

	switch {
	case errors.As(err, &missing):
		return http.StatusBadRequest, "missing_parameter", map[string]any{"parameter": missing.Name}
	case errors.As(err, &validation):
		return http.StatusBadRequest, "request_validation_error", map[string]any{
			"endpoint": validation.Endpoint,
			"format":   validation.Format,
			"field":    validation.Field,
			"reason":   validation.Problem,
			"example":  validation.Example,
			"body":     validation.Body,
		}
	case errors.As(err, &upstream):
		status := upstream.StatusCode
		if status == 0 {
			status = http.StatusBadRequest
		}

		return status, "upstream_invocation_error", map[string]any{
			"endpoint":       upstream.Endpoint,
			"invocation_url": upstream.InvocationURL,
			"format":         upstream.Format,
			"example":        upstream.Example,
			"body":           upstream.Body,
		}
	case errors.As(err, &fetch):
		return http.StatusBadGateway, "schema_fetch_error", map[string]any{"endpoint": fetch.Endpoint, "reason": fetch.Reason}
	case errors.As(err, &failed):
		return http.StatusUnprocessableEntity, "statement_failed", map[string]any{
			"statement_id":     failed.StatementID,
			"state":            failed.State,
			"error_code":       failed.ErrorCode(),
			"statement_status": failed.Status,
		}
	case errors.As(err, &timeout):
		return http.StatusGatewayTimeout, "statement_timeout", map[string]any{
			"statement_id": timeout.StatementID,
			"last_state":   timeout.LastState,
			"polls":        timeout.Polls,
		}
	case errors.Is(err, statement.ErrCancelled):
		return http.StatusRequestTimeout, "cancelled", nil
	case errors.As(err, &apiErr):
		return apiErr.StatusCode, "databricks_api_error", map[string]any{"error_code": apiErr.ErrorCode}
	default:
		return http.StatusInternalServerError, "internal_error", nil
	}
}

// StatusCode returns the HTTP status Problem would assign to err.
func StatusCode(err error) int {
	status, _, _ := classify(err)

	return status
}
