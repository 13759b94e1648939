// Package web provides HTTP request and response types for the node API.
package web

import (
	"github.com/mik3lol/n8n-nodes-databricks/pkg/models"
	"github.com/mik3lol/n8n-nodes-databricks/pkg/protocol"
)

// ExecuteNodeRequest represents the request body for running a node once.
type ExecuteNodeRequest struct {
	NodeID    string           `json:"node_id,omitempty"`
	Config    map[string]any   `json:"config"              validate:"required"`
	Items     []map[string]any `json:"items,omitempty"`
	Variables map[string]any   `json:"variables,omitempty"`
}

// ExecuteNodeResponse carries every output port the node produced.
type ExecuteNodeResponse struct {
	ExecutionID string                       `json:"execution_id"`
	NodeID      string                       `json:"node_id"`
	NodeType    string                       `json:"node_type"`
	Outputs     map[string]models.NodeResult `json:"outputs"`
}

// NodeTypeResponse describes a registered node type. Schema is only set for
// single node type responses.
type NodeTypeResponse struct {
	ID          string         `json:"id"`
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Schema      map[string]any `json:"schema,omitempty"`
}

// TransformNodeTypeResponse converts a factory into its API representation.
func TransformNodeTypeResponse(factory protocol.NodeFactory, withSchema bool) NodeTypeResponse {
	response := NodeTypeResponse{
		ID:          factory.ID(),
		Name:        factory.Name(),
		Description: factory.Description(),
	}

	if withSchema {
		response.Schema = factory.Schema()
	}

	return response
}
