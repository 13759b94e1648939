package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	cli "github.com/urfave/cli/v3"

	"github.com/mik3lol/n8n-nodes-databricks/pkg/cmd"
	"github.com/mik3lol/n8n-nodes-databricks/pkg/protocol"
	"github.com/mik3lol/n8n-nodes-databricks/pkg/serving"
	"github.com/mik3lol/n8n-nodes-databricks/pkg/statement"
	"github.com/mik3lol/n8n-nodes-databricks/pkg/web"
)

const defaultPort = 9092

func NewServeCommand(s *session) *cli.Command {
	return &cli.Command{
		Name:  "serve",
		Usage: "Start the node API server",
		Flags: []cli.Flag{
			&cli.IntFlag{
				Name:    "port",
				Aliases: []string{"p"},
				Usage:   "Port to run the API server on",
				Value:   defaultPort,
				Sources: cli.EnvVars("PORT"),
			},
		},
		Action: func(ctx context.Context, command *cli.Command) error {
			s.logger.InfoContext(ctx, "Initializing Databricks nodes API")

			workspace, err := s.workspace(command)
			if err != nil {
				return err
			}

			registry, err := cmd.NewRegistry(ctx, s.logger, command.String("plugins-path"), workspace.Dependencies(s.logger))
			if err != nil {
				return err
			}

			api := NewAPI(s.logger, registry, workspace.Lookups)

			return api.Start(command.Int("port"))
		},
	}
}

func NewSchemaCommand(s *session) *cli.Command {
	return &cli.Command{
		Name:      "schema",
		Usage:     "Resolve the input format of a serving endpoint",
		ArgsUsage: "<endpoint>",
		Action: func(ctx context.Context, command *cli.Command) error {
			endpoint := command.Args().First()
			if endpoint == "" {
				return errors.New("endpoint name is required")
			}

			workspace, err := s.workspace(command)
			if err != nil {
				return err
			}

			info, err := workspace.Resolver.Resolve(ctx, endpoint)
			if err != nil {
				return err
			}

			return s.print(command, map[string]any{
				"endpoint":        info.Endpoint,
				"format":          info.Format,
				"invocation_url":  info.InvocationURL,
				"required_fields": info.RequiredFields,
				"schema":          info.Schema,
				"example":         json.RawMessage(serving.BuildExample(info.Schema, info.Format)),
			})
		},
	}
}

func NewInvokeCommand(s *session) *cli.Command {
	return &cli.Command{
		Name:      "invoke",
		Usage:     "Query a serving endpoint",
		ArgsUsage: "<endpoint>",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:     "body",
				Aliases:  []string{"b"},
				Usage:    "JSON request body",
				Required: true,
			},
		},
		Action: func(ctx context.Context, command *cli.Command) error {
			endpoint := command.Args().First()
			if endpoint == "" {
				return errors.New("endpoint name is required")
			}

			var body map[string]any
			if err := json.Unmarshal([]byte(command.String("body")), &body); err != nil || body == nil {
				return errors.New("--body must be a JSON object")
			}

			workspace, err := s.workspace(command)
			if err != nil {
				return err
			}

			result, err := workspace.Invoker.Query(ctx, endpoint, body)
			if err != nil {
				return err
			}

			return s.print(command, result)
		},
	}
}

func NewSQLCommand(s *session) *cli.Command {
	return &cli.Command{
		Name:  "sql",
		Usage: "Execute a SQL statement on a warehouse and print its rows",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:     "warehouse",
				Aliases:  []string{"w"},
				Usage:    "SQL warehouse ID",
				Required: true,
				Sources:  cli.EnvVars("DATABRICKS_WAREHOUSE_ID"),
			},
			&cli.StringFlag{
				Name:     "query",
				Aliases:  []string{"q"},
				Usage:    "SQL statement",
				Required: true,
			},
			&cli.StringFlag{
				Name:  "catalog",
				Usage: "Default catalog",
			},
			&cli.StringFlag{
				Name:  "schema",
				Usage: "Default schema",
			},
			&cli.StringSliceFlag{
				Name:  "param",
				Usage: "Named parameter as name=value, referenced as :name",
			},
		},
		Action: func(ctx context.Context, command *cli.Command) error {
			params, err := parseParameters(command.StringSlice("param"))
			if err != nil {
				return err
			}

			workspace, err := s.workspace(command)
			if err != nil {
				return err
			}

			result, err := workspace.Executor.Execute(ctx, statement.Request{
				WarehouseID: command.String("warehouse"),
				Statement:   command.String("query"),
				Catalog:     command.String("catalog"),
				Schema:      command.String("schema"),
				Parameters:  params,
			})
			if err != nil {
				return err
			}

			return s.print(command, result)
		},
	}
}

func parseParameters(values []string) ([]statement.Parameter, error) {
	params := make([]statement.Parameter, 0, len(values))

	for _, v := range values {
		name, value, ok := strings.Cut(v, "=")
		if !ok || name == "" {
			return nil, fmt.Errorf("invalid parameter %q, expected name=value", v)
		}

		params = append(params, statement.Parameter{Name: name, Value: value})
	}

	return params, nil
}

func NewLookupCommand(s *session) *cli.Command {
	return &cli.Command{
		Name:      "lookup",
		Usage:     "List workspace resources: warehouses, serving-endpoints, embedding-endpoints, catalogs, schemas, vector-indexes",
		ArgsUsage: "<resource>",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "parent",
				Usage: "Parent resource, such as the catalog when listing schemas",
			},
			&cli.StringFlag{
				Name:  "filter",
				Usage: "Case-insensitive name filter",
			},
		},
		Action: func(ctx context.Context, command *cli.Command) error {
			resource := command.Args().First()
			if resource == "" {
				return errors.New("resource is required")
			}

			workspace, err := s.workspace(command)
			if err != nil {
				return err
			}

			options, err := workspace.Lookups.List(ctx, resource, command.String("parent"), command.String("filter"))
			if err != nil {
				return err
			}

			return s.print(command, options)
		},
	}
}

func NewNodesCommand(s *session) *cli.Command {
	return &cli.Command{
		Name:      "nodes",
		Usage:     "List the available node types, or print the schema of one",
		ArgsUsage: "[type]",
		Action: func(ctx context.Context, command *cli.Command) error {
			registry, err := cmd.NewRegistry(ctx, s.logger, command.String("plugins-path"), protocol.Dependencies{Logger: s.logger})
			if err != nil {
				return err
			}

			if nodeType := command.Args().First(); nodeType != "" {
				factory, err := registry.GetNodeFactory(nodeType)
				if err != nil {
					return err
				}

				return s.print(command, web.TransformNodeTypeResponse(factory, true))
			}

			factories := registry.GetAvailableNodes()

			response := make([]web.NodeTypeResponse, 0, len(factories))
			for _, f := range factories {
				response = append(response, web.TransformNodeTypeResponse(f, false))
			}

			return s.print(command, response)
		},
	}
}
