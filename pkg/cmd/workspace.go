package cmd

import (
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/trace"

	"github.com/mik3lol/n8n-nodes-databricks/pkg/cache"
	"github.com/mik3lol/n8n-nodes-databricks/pkg/databricks"
	"github.com/mik3lol/n8n-nodes-databricks/pkg/lookup"
	"github.com/mik3lol/n8n-nodes-databricks/pkg/protocol"
	"github.com/mik3lol/n8n-nodes-databricks/pkg/serving"
	"github.com/mik3lol/n8n-nodes-databricks/pkg/statement"
)

// WorkspaceConfig selects a Databricks workspace and how to talk to it.
type WorkspaceConfig struct {
	Host         string
	Token        string
	AllowHTTP    bool
	PollInterval time.Duration
	Caches       *Caches
	Tracer       trace.Tracer
	Logger       *slog.Logger
}

// Workspace bundles the services built on one authenticated client.
type Workspace struct {
	Client   *databricks.Client
	Resolver *serving.Resolver
	Invoker  *serving.Invoker
	Executor *statement.Executor
	Lookups  *lookup.Service
}

func NewWorkspace(cfg WorkspaceConfig) (*Workspace, error) {
	opts := []databricks.Option{
		databricks.WithLogger(cfg.Logger),
		databricks.WithTracer(cfg.Tracer),
	}
	if cfg.AllowHTTP {
		opts = append(opts, databricks.WithAllowHTTP())
	}

	client, err := databricks.NewClient(databricks.Credentials{Host: cfg.Host, Token: cfg.Token}, opts...)
	if err != nil {
		return nil, fmt.Errorf("create databricks client: %w", err)
	}

	resolverOpts := []serving.ResolverOption{
		serving.WithLogger(cfg.Logger),
		serving.WithTracer(cfg.Tracer),
	}

	executorOpts := []statement.Option{
		statement.WithLogger(cfg.Logger),
		statement.WithTracer(cfg.Tracer),
	}
	if cfg.PollInterval > 0 {
		executorOpts = append(executorOpts, statement.WithPollInterval(cfg.PollInterval))
	}

	var lookupCache cache.Cache[[]lookup.Option]

	if cfg.Caches != nil {
		resolverOpts = append(resolverOpts, serving.WithCache(cfg.Caches.Schemas))
		lookupCache = cfg.Caches.Lookups
	}

	resolver := serving.NewResolver(client, resolverOpts...)

	return &Workspace{
		Client:   client,
		Resolver: resolver,
		Invoker:  serving.NewInvoker(client, resolver),
		Executor: statement.NewExecutor(client, executorOpts...),
		Lookups:  lookup.NewService(client, lookupCache, lookup.WithLogger(cfg.Logger)),
	}, nil
}

// Dependencies returns the services handed to the built-in node factories.
func (w *Workspace) Dependencies(logger *slog.Logger) protocol.Dependencies {
	return protocol.Dependencies{
		Logger:   logger,
		Client:   w.Client,
		Invoker:  w.Invoker,
		Executor: w.Executor,
	}
}
