package databricks

import (
	"errors"
	"fmt"

	"github.com/tidwall/gjson"

	"github.com/mik3lol/n8n-nodes-databricks/pkg/log"
)

const maxErrorBody = 4096

// APIError is a non-2xx response from the workspace.
type APIError struct {
	Method     string `json:"method"`
	URL        string `json:"url"`
	StatusCode int    `json:"status_code"`
	ErrorCode  string `json:"error_code,omitempty"`
	Message    string `json:"message,omitempty"`
	Body       string `json:"body,omitempty"`
}

func (e *APIError) Error() string {
	switch {
	case e.ErrorCode != "" && e.Message != "":
		return fmt.Sprintf("databricks %s %s: %d %s: %s", e.Method, e.URL, e.StatusCode, e.ErrorCode, e.Message)
	case e.Message != "":
		return fmt.Sprintf("databricks %s %s: %d: %s", e.Method, e.URL, e.StatusCode, e.Message)
	default:
		return fmt.Sprintf("databricks %s %s: status %d", e.Method, e.URL, e.StatusCode)
	}
}

func newAPIError(method, url string, status int, body []byte) *APIError {
	e := &APIError{
		Method:     method,
		URL:        log.Mask(url),
		StatusCode: status,
	}

	if gjson.ValidBytes(body) {
		parsed := gjson.ParseBytes(body)
		e.ErrorCode = parsed.Get("error_code").String()
		e.Message = parsed.Get("message").String()
	}

	text := string(body)
	if len(text) > maxErrorBody {
		text = text[:maxErrorBody]
	}

	e.Body = log.Mask(text)

	return e
}

// StatusCode returns the HTTP status carried by err, or 0 when err is not an
// *APIError.
func StatusCode(err error) int {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode
	}

	return 0
}

// IsBadRequest reports whether err is an HTTP 400 from the workspace.
func IsBadRequest(err error) bool {
	return StatusCode(err) == 400
}

// IsNotFound reports whether err is an HTTP 404 from the workspace.
func IsNotFound(err error) bool {
	return StatusCode(err) == 404
}
