// Package cmd provides common initialization functions for command-line applications.
package cmd

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/mik3lol/n8n-nodes-databricks/pkg/protocol"
	"github.com/mik3lol/n8n-nodes-databricks/pkg/registry"
)

func registerNodePlugins(ctx context.Context, reg *registry.Registry, pluginsPath string) error {
	if pluginsPath == "" {
		return nil
	}

	if _, err := reg.LoadNodePlugins(ctx, pluginsPath); err != nil {
		return fmt.Errorf("load node plugins: %w", err)
	}

	return nil
}

// NewRegistry registers the built-in nodes, then any plugin found below
// pluginsPath/nodes. A plugin may replace a built-in node type.
func NewRegistry(ctx context.Context, log *slog.Logger, pluginsPath string, deps protocol.Dependencies) (*registry.Registry, error) {
	reg := registry.NewRegistry(log)

	reg.RegisterDefaultNodes(deps)

	if err := registerNodePlugins(ctx, reg, pluginsPath); err != nil {
		return nil, err
	}

	return reg, nil
}
