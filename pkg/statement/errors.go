package statement

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/tidwall/gjson"
)

// ErrCancelled indicates that the caller cancelled the execution while it was
// being polled. No further requests are issued once it is detected.
var ErrCancelled = errors.New("statement execution cancelled")

// FailedError is a statement that ended FAILED, CANCELED or CLOSED on the
// service side. Status is the service's status payload, unchanged.
type FailedError struct {
	StatementID string          `json:"statement_id"`
	State       State           `json:"state"`
	Status      json.RawMessage `json:"status"`
}

func (e *FailedError) Error() string {
	msg := gjson.GetBytes(e.Status, "error.message").String()
	if msg == "" {
		return fmt.Sprintf("statement %s ended in state %s", e.StatementID, e.State)
	}

	return fmt.Sprintf("statement %s ended in state %s: %s", e.StatementID, e.State, msg)
}

// ErrorCode returns the service error code, if reported.
func (e *FailedError) ErrorCode() string {
	return gjson.GetBytes(e.Status, "error.error_code").String()
}

// TimeoutError is a statement still pending or running after the poll budget
// was used up. It may still complete on the service side.
type TimeoutError struct {
	StatementID string `json:"statement_id"`
	LastState   State  `json:"last_state"`
	Polls       int    `json:"polls"`
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("statement %s still %s after %d polls", e.StatementID, e.LastState, e.Polls)
}

func cancelled(cause error) error {
	return fmt.Errorf("%w: %w", ErrCancelled, cause)
}
