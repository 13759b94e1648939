package web

import (
	"errors"

	"github.com/gofiber/fiber/v3"
	"github.com/moogar0880/problems"

	"github.com/mik3lol/n8n-nodes-databricks/pkg/lookup"
	"github.com/mik3lol/n8n-nodes-databricks/pkg/nodes"
	"github.com/mik3lol/n8n-nodes-databricks/pkg/registry"
)

func badRequest(c fiber.Ctx, detail string) error {
	problem := problems.NewStatusProblem(400).
		WithInstance(c.Path()).
		WithType("validation_error").
		WithDetail(detail)

	return c.Status(fiber.StatusBadRequest).JSON(problem)
}

func notFound(c fiber.Ctx, kind, detail string) error {
	problem := problems.NewStatusProblem(404).
		WithInstance(c.Path()).
		WithType(kind).
		WithDetail(detail)

	return c.Status(fiber.StatusNotFound).JSON(problem)
}

// handleError maps registry, lookup and node execution errors to problem
// responses.
func handleError(c fiber.Ctx, err error) error {
	var validationErr *registry.ConfigValidationError

	switch {
	case errors.Is(err, registry.ErrNodeTypeNotRegistered):
		return notFound(c, "node_type_not_found", err.Error())

	case errors.Is(err, lookup.ErrUnknownResource):
		return notFound(c, "lookup_resource_not_found", err.Error())

	case errors.As(err, &validationErr):
		problem := problems.NewStatusProblem(400).
			WithInstance(c.Path()).
			WithType("config_validation_error").
			WithDetail(err.Error())

		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"type":     problem.Type,
			"title":    problem.Title,
			"status":   problem.Status,
			"detail":   problem.Detail,
			"instance": problem.Instance,
			"problems": validationErr.Problems,
		})

	default:
		record := nodes.Problem(err)
		record["instance"] = c.Path()

		return c.Status(nodes.StatusCode(err)).JSON(record)
	}
}
