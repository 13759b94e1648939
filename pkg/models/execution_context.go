package models

// ExecutionContext carries the data shared by every node of one execution.
type ExecutionContext struct {
	ID        string         `json:"id"`
	Variables map[string]any `json:"variables,omitempty"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}
