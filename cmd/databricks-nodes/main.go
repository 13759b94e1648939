// Package main provides the databricks-nodes command: an HTTP API serving the
// Databricks nodes plus direct access to schemas, invocations, SQL and lookups.
package main

import (
	"context"
	"fmt"
	"os"

	cli "github.com/urfave/cli/v3"

	"github.com/mik3lol/n8n-nodes-databricks/pkg/log"
)

func main() {
	if err := NewCommand().Run(context.Background(), os.Args); err != nil {
		fmt.Fprintln(os.Stderr, log.Mask(err.Error()))
		os.Exit(1)
	}
}

func NewCommand() *cli.Command {
	rt := &session{}

	return &cli.Command{
		Name:                  "databricks-nodes",
		Usage:                 "Run Databricks workflow nodes",
		EnableShellCompletion: true,
		Commands: []*cli.Command{
			NewServeCommand(rt),
			NewSchemaCommand(rt),
			NewInvokeCommand(rt),
			NewSQLCommand(rt),
			NewLookupCommand(rt),
			NewNodesCommand(rt),
		},
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "host",
				Usage:   "Databricks workspace URL",
				Sources: cli.EnvVars("DATABRICKS_HOST"),
			},
			&cli.StringFlag{
				Name:    "token",
				Usage:   "Databricks personal access token",
				Sources: cli.EnvVars("DATABRICKS_TOKEN"),
			},
			&cli.BoolFlag{
				Name:    "allow-http",
				Usage:   "Allow a plain http workspace URL (local testing only)",
				Hidden:  true,
				Sources: cli.EnvVars("DATABRICKS_ALLOW_HTTP"),
			},
			&cli.StringFlag{
				Name:    "cache-url",
				Usage:   "Cache for endpoint schemas and lookups: memory or a redis:// URL",
				Value:   "memory",
				Sources: cli.EnvVars("REDIS_URL"),
			},
			&cli.StringFlag{
				Name:  "plugins-path",
				Usage: "Path to the directory containing node plugins",
				Value: "./plugins",
			},
			&cli.BoolFlag{
				Name:    "otel",
				Usage:   "Export traces over OTLP/HTTP",
				Sources: cli.EnvVars("OTEL_ENABLED"),
			},
			&cli.StringFlag{
				Name:    "log-level",
				Usage:   "Log level (debug, info, warn, error)",
				Value:   "info",
				Sources: cli.EnvVars("LOG_LEVEL"),
			},
		},
		Before: rt.before,
		After:  rt.after,
	}
}
