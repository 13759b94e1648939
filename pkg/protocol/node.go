// Package protocol defines the contracts between node factories and the hosts
// that register them.
package protocol

import (
	"context"
	"log/slog"

	"github.com/mik3lol/n8n-nodes-databricks/pkg/databricks"
	"github.com/mik3lol/n8n-nodes-databricks/pkg/models"
	"github.com/mik3lol/n8n-nodes-databricks/pkg/serving"
	"github.com/mik3lol/n8n-nodes-databricks/pkg/statement"
)

// NodeFactory creates node instances and describes a node type. Plugins export
// one as the variable "Node".
type NodeFactory interface {
	// Create validates config and returns a node bound to id.
	Create(ctx context.Context, id string, config map[string]any) (models.Node, error)

	// ID is the node type, unique within a registry.
	ID() string

	Name() string
	Description() string

	// Schema is the JSON schema node configs are checked against before Create.
	Schema() map[string]any
}

// Dependencies are the shared services handed to the built-in node factories.
// All of them are safe for concurrent use by many node instances.
type Dependencies struct {
	Logger   *slog.Logger
	Client   *databricks.Client
	Invoker  *serving.Invoker
	Executor *statement.Executor
}
