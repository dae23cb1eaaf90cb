package handler

import (
	"errors"
	"strconv"

	"github.com/gofiber/fiber/v2"

	"github.com/framebooth/api/internal/service"
	"github.com/framebooth/api/pkg/response"
)

type ExportHandler struct {
	logs     *service.ExportLogService
	projects *service.ProjectService
}

func NewExportHandler(logs *service.ExportLogService, projects *service.ProjectService) *ExportHandler {
	return &ExportHandler{
		logs:     logs,
		projects: projects,
	}
}

// Logs handles GET /api/exports/:projectId/logs
func (h *ExportHandler) Logs(c *fiber.Ctx) error {
	projectID := c.Params("projectId")
	if projectID == "" {
		return response.ValidationError(c, "Project ID is required", nil)
	}

	limit, _ := strconv.ParseInt(c.Query("limit", "50"), 10, 64)

	logs, err := h.logs.List(c.Context(), projectID, limit)
	if err != nil {
		return response.ServiceError(c, "Failed to list export logs")
	}

	return response.OK(c, fiber.Map{"logs": logs})
}

// IntegrationStatus handles GET /api/exports/integrations/:workspaceId/dropbox
func (h *ExportHandler) IntegrationStatus(c *fiber.Ctx) error {
	workspaceID := c.Params("workspaceId")
	if workspaceID == "" {
		return response.ValidationError(c, "Workspace ID is required", nil)
	}

	integration, err := h.projects.GetIntegration(c.Context(), workspaceID)
	if err != nil {
		if errors.Is(err, service.ErrIntegrationNotFound) {
			return response.NotFound(c, "Integration not connected")
		}
		return response.ServiceError(c, "Failed to load integration")
	}

	// Never expose the stored credential
	return response.OK(c, fiber.Map{
		"workspaceId": integration.WorkspaceID,
		"status":      integration.Status,
		"connectedAt": integration.ConnectedAt,
	})
}
