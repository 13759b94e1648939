package main

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"

	cli "github.com/urfave/cli/v3"
	"go.opentelemetry.io/otel/trace"

	"github.com/mik3lol/n8n-nodes-databricks/pkg/cmd"
	"github.com/mik3lol/n8n-nodes-databricks/pkg/log"
	"github.com/mik3lol/n8n-nodes-databricks/pkg/otelhelper"
)

const serviceName = "databricks-nodes"

// session holds what the root command sets up for its subcommands.
type session struct {
	logger   *slog.Logger
	tracer   trace.Tracer
	shutdown func(context.Context) error
	caches   *cmd.Caches
}

func (s *session) before(ctx context.Context, command *cli.Command) (context.Context, error) {
	log.Setup(command.String("log-level"))

	s.logger = log.WithModule(serviceName)

	if command.Bool("otel") {
		tracer, shutdown, err := otelhelper.NewTracer(ctx, serviceName)
		if err != nil {
			return ctx, err
		}

		s.tracer = tracer
		s.shutdown = shutdown
	}

	return ctx, nil
}

func (s *session) after(ctx context.Context, _ *cli.Command) error {
	var errs []error

	if s.caches != nil {
		errs = append(errs, s.caches.Close())
	}

	if s.shutdown != nil {
		errs = append(errs, s.shutdown(ctx))
	}

	return errors.Join(errs...)
}

// workspace connects to the workspace named by the root flags.
func (s *session) workspace(command *cli.Command) (*cmd.Workspace, error) {
	if command.String("host") == "" || command.String("token") == "" {
		return nil, errors.New("--host and --token (or DATABRICKS_HOST and DATABRICKS_TOKEN) are required")
	}

	if s.caches == nil {
		caches, err := cmd.NewCaches(command.String("cache-url"), s.logger)
		if err != nil {
			return nil, err
		}

		s.caches = caches
	}

	return cmd.NewWorkspace(cmd.WorkspaceConfig{
		Host:      command.String("host"),
		Token:     command.String("token"),
		AllowHTTP: command.Bool("allow-http"),
		Caches:    s.caches,
		Tracer:    s.tracer,
		Logger:    s.logger,
	})
}

// print writes v as indented JSON to the root command's writer.
func (s *session) print(command *cli.Command, v any) error {
	enc := json.NewEncoder(command.Root().Writer)
	enc.SetIndent("", "  ")

	return enc.Encode(v)
}
