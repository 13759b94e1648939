// Package web provides HTTP handlers for listing and running nodes.
package web

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v3"
	"github.com/google/uuid"

	"github.com/mik3lol/n8n-nodes-databricks/pkg/log"
	"github.com/mik3lol/n8n-nodes-databricks/pkg/lookup"
	"github.com/mik3lol/n8n-nodes-databricks/pkg/models"
	"github.com/mik3lol/n8n-nodes-databricks/pkg/nodes"
	"github.com/mik3lol/n8n-nodes-databricks/pkg/registry"
)

type APIHandlers struct {
	registry  *registry.Registry
	lookups   *lookup.Service
	validator *validator.Validate
	logger    *slog.Logger
}

func NewAPIHandlers(
	registry *registry.Registry,
	lookups *lookup.Service,
	validator *validator.Validate,
	logger *slog.Logger,
) *APIHandlers {
	return &APIHandlers{
		registry:  registry,
		lookups:   lookups,
		validator: validator,
		logger:    log.OrDefault(logger),
	}
}

func (h *APIHandlers) GetNodeTypes(c fiber.Ctx) error {
	factories := h.registry.GetAvailableNodes()

	response := make([]NodeTypeResponse, 0, len(factories))
	for _, f := range factories {
		response = append(response, TransformNodeTypeResponse(f, false))
	}

	return c.JSON(response)
}

func (h *APIHandlers) GetNodeType(c fiber.Ctx) error {
	factory, err := h.registry.GetNodeFactory(c.Params("type"))
	if err != nil {
		return handleError(c, err)
	}

	return c.JSON(TransformNodeTypeResponse(factory, true))
}

// ExecuteNode creates a node from the request config and runs it once over
// the request items.
func (h *APIHandlers) ExecuteNode(c fiber.Ctx) error {
	nodeType := c.Params("type")

	var req ExecuteNodeRequest
	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, "Invalid JSON format")
	}

	if err := h.validator.Struct(req); err != nil {
		return badRequest(c, err.Error())
	}

	nodeID := req.NodeID
	if nodeID == "" {
		nodeID = nodeType
	}

	node, err := h.registry.CreateNode(c.Context(), nodeType, nodeID, req.Config)
	if err != nil {
		return handleError(c, err)
	}

	items := make([]models.Item, 0, len(req.Items))
	for _, item := range req.Items {
		items = append(items, models.Item(item))
	}

	execCtx := models.ExecutionContext{
		ID:        uuid.NewString(),
		Variables: req.Variables,
	}

	inputs := map[string]models.NodeResult{
		nodes.InputPortMain: {NodeID: "api", Items: items, Status: string(models.NodeStatusSuccess), Timestamp: time.Now().UTC()},
	}

	h.logger.InfoContext(c.Context(), "Executing node", "execution_id", execCtx.ID, "node_type", nodeType, "items", len(items))

	outputs, err := node.Execute(c.Context(), execCtx, inputs)
	if err != nil {
		h.logger.WarnContext(c.Context(), "Node execution failed", "execution_id", execCtx.ID, "error", log.Mask(err.Error()))

		return handleError(c, err)
	}

	return c.JSON(ExecuteNodeResponse{
		ExecutionID: execCtx.ID,
		NodeID:      nodeID,
		NodeType:    nodeType,
		Outputs:     outputs,
	})
}

// GetLookup lists workspace resources for a parameter dropdown.
func (h *APIHandlers) GetLookup(c fiber.Ctx) error {
	options, err := h.lookups.List(c.Context(), c.Params("resource"), c.Query("parent"), c.Query("filter"))
	if err != nil {
		return handleError(c, err)
	}

	return c.JSON(fiber.Map{"options": options})
}

func (h *APIHandlers) HealthCheck(c fiber.Ctx) error {
	registryCheck, regOk := h.registry.HealthCheck()

	status := "unhealthy"
	message := "Databricks nodes API is unhealthy"
	httpStatus := http.StatusInternalServerError

	if regOk {
		status = "healthy"
		message = "Databricks nodes API is healthy"
		httpStatus = http.StatusOK
	}

	return c.Status(httpStatus).JSON(fiber.Map{
		"status":  status,
		"message": message,
		"checkers": fiber.Map{
			"registry": registryCheck,
		},
		"timestamp": time.Now().UTC(),
	})
}
