// Package registry keeps the node factories available to a host.
package registry

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"plugin"
	"sort"
	"strings"

	"github.com/xeipuuv/gojsonschema"

	"github.com/mik3lol/n8n-nodes-databricks/pkg/models"
	"github.com/mik3lol/n8n-nodes-databricks/pkg/protocol"
)

// PluginSymbol is the exported variable a node plugin must provide. Its value
// must implement protocol.NodeFactory.
const PluginSymbol = "Node"

var ErrNodeTypeNotRegistered = errors.New("node type not registered")

// ConfigValidationError lists the JSON schema violations of a node config.
type ConfigValidationError struct {
	NodeType string   `json:"node_type"`
	Problems []string `json:"problems"`
}

func (e *ConfigValidationError) Error() string {
	return fmt.Sprintf("invalid configuration for node type '%s': %s", e.NodeType, strings.Join(e.Problems, "; "))
}

type Registry struct {
	logger        *slog.Logger
	nodeFactories map[string]protocol.NodeFactory
}

func NewRegistry(log *slog.Logger) *Registry {
	if log == nil {
		log = slog.Default()
	}

	return &Registry{
		logger:        log,
		nodeFactories: make(map[string]protocol.NodeFactory),
	}
}

// RegisterNode adds a factory, replacing any factory with the same ID.
func (r *Registry) RegisterNode(factory protocol.NodeFactory) {
	if _, exists := r.nodeFactories[factory.ID()]; exists {
		r.logger.Warn("Replacing registered node type", "type", factory.ID())
	}

	r.nodeFactories[factory.ID()] = factory
}

// GetAvailableNodes returns the registered factories ordered by ID.
func (r *Registry) GetAvailableNodes() []protocol.NodeFactory {
	factories := make([]protocol.NodeFactory, 0, len(r.nodeFactories))
	for _, f := range r.nodeFactories {
		factories = append(factories, f)
	}

	sort.Slice(factories, func(i, j int) bool { return factories[i].ID() < factories[j].ID() })

	return factories
}

func (r *Registry) GetNodeFactory(nodeType string) (protocol.NodeFactory, error) {
	factory, ok := r.nodeFactories[nodeType]
	if !ok {
		return nil, fmt.Errorf("%w: '%s'", ErrNodeTypeNotRegistered, nodeType)
	}

	return factory, nil
}

// CreateNode validates config against the factory schema and creates the node.
func (r *Registry) CreateNode(ctx context.Context, nodeType, id string, config map[string]any) (models.Node, error) {
	factory, err := r.GetNodeFactory(nodeType)
	if err != nil {
		return nil, err
	}

	if config == nil {
		config = map[string]any{}
	}

	if err := ValidateConfig(nodeType, factory.Schema(), config); err != nil {
		return nil, err
	}

	return factory.Create(ctx, id, config)
}

// HealthCheck reports whether any node type is registered.
func (r *Registry) HealthCheck() (string, bool) {
	if len(r.nodeFactories) == 0 {
		return "no node types registered", false
	}

	return fmt.Sprintf("%d node types registered", len(r.nodeFactories)), true
}

// ValidateConfig checks config against a JSON schema.
func ValidateConfig(nodeType string, schema, config map[string]any) error {
	result, err := gojsonschema.Validate(gojsonschema.NewGoLoader(schema), gojsonschema.NewGoLoader(config))
	if err != nil {
		return fmt.Errorf("validate configuration for node type '%s': %w", nodeType, err)
	}

	if result.Valid() {
		return nil
	}

	problems := make([]string, 0, len(result.Errors()))
	for _, desc := range result.Errors() {
		problems = append(problems, desc.String())
	}

	return &ConfigValidationError{NodeType: nodeType, Problems: problems}
}

// LoadNodePlugins opens every *.so below pluginsPath/nodes and registers the
// factory each one exports as PluginSymbol.
func (r *Registry) LoadNodePlugins(ctx context.Context, pluginsPath string) ([]protocol.NodeFactory, error) {
	factories, err := loadPlugin[protocol.NodeFactory](ctx, r.logger, pluginsPath, "nodes")
	if err != nil {
		return nil, err
	}

	for _, f := range factories {
		r.RegisterNode(f)
	}

	return factories, nil
}

func loadPlugin[T any](ctx context.Context, logger *slog.Logger, pluginsPath, kind string) ([]T, error) {
	rootPath := pluginsPath + "/" + kind
	root := os.DirFS(rootPath)

	pluginPathList, err := fs.Glob(root, "**/*.so")
	if err != nil {
		return nil, err
	}

	topLevel, err := fs.Glob(root, "*.so")
	if err != nil {
		return nil, err
	}

	pluginPathList = append(topLevel, pluginPathList...)

	l := logger.With(slog.String("path", rootPath))
	l.DebugContext(ctx, "Loading plugins", "count", len(pluginPathList))

	pluginList := make([]T, 0, len(pluginPathList))

	for _, p := range pluginPathList {
		plg, err := plugin.Open(rootPath + "/" + p)
		if err != nil {
			return nil, fmt.Errorf("open plugin %s: %w", p, err)
		}

		v, err := plg.Lookup(PluginSymbol)
		if err != nil {
			return nil, fmt.Errorf("plugin %s: %w", p, err)
		}

		castV, ok := v.(T)
		if !ok {
			castV, ok = derefSymbol[T](v)
		}

		if !ok {
			return nil, fmt.Errorf("plugin %s: symbol %s has type %T", p, PluginSymbol, v)
		}

		pluginList = append(pluginList, castV)

		l.InfoContext(ctx, "Loaded node plugin", slog.String("plugin", p))
	}

	return pluginList, nil
}

// derefSymbol handles variables, which plugin.Lookup returns as pointers.
func derefSymbol[T any](v plugin.Symbol) (T, bool) {
	if ptr, ok := v.(*T); ok && ptr != nil {
		return *ptr, true
	}

	var zero T

	return zero, false
}
