package handler

import (
	"errors"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"

	"github.com/framebooth/api/internal/model"
	"github.com/framebooth/api/internal/service"
	"github.com/framebooth/api/pkg/response"
)

type JobHandler struct {
	service   *service.JobService
	validator *validator.Validate
}

func NewJobHandler(svc *service.JobService, v *validator.Validate) *JobHandler {
	return &JobHandler{
		service:   svc,
		validator: v,
	}
}

// Start handles POST /api/jobs/start
func (h *JobHandler) Start(c *fiber.Ctx) error {
	var req model.JobStartRequest
	if err := c.BodyParser(&req); err != nil {
		return response.ValidationError(c, "Invalid request body", nil)
	}

	if err := h.validator.Struct(&req); err != nil {
		return response.ValidationError(c, "Validation failed", formatValidationErrors(err))
	}

	result, err := h.service.StartTransform(c.Context(), &req)
	if err != nil {
		if errors.Is(err, service.ErrSessionNotFound) || errors.Is(err, service.ErrExperienceNotFound) {
			return response.NotFound(c, "Session or experience not found")
		}
		return response.ServiceError(c, "Failed to start job")
	}

	return response.Accepted(c, result)
}

// Status handles GET /api/jobs/:projectId/:jobId/status
func (h *JobHandler) Status(c *fiber.Ctx) error {
	projectID := c.Params("projectId")
	jobID := c.Params("jobId")
	if projectID == "" || jobID == "" {
		return response.ValidationError(c, "Project ID and job ID are required", nil)
	}

	result, err := h.service.GetStatus(c.Context(), projectID, jobID)
	if err != nil {
		if errors.Is(err, service.ErrJobNotFound) {
			return response.NotFound(c, "Job not found")
		}
		return response.ServiceError(c, "Failed to load job")
	}

	return response.OK(c, result)
}

// Result handles GET /api/jobs/:projectId/:jobId/result
func (h *JobHandler) Result(c *fiber.Ctx) error {
	projectID := c.Params("projectId")
	jobID := c.Params("jobId")
	if projectID == "" || jobID == "" {
		return response.ValidationError(c, "Project ID and job ID are required", nil)
	}

	output, err := h.service.GetOutput(c.Context(), projectID, jobID)
	if err != nil {
		if errors.Is(err, service.ErrJobNotFound) {
			return response.NotFound(c, "Job not found")
		}
		return response.Error(c, fiber.StatusConflict, response.CodeJobFailed, "Job is not completed", nil)
	}

	return response.OK(c, output)
}

func formatValidationErrors(err error) []string {
	var ve validator.ValidationErrors
	if !errors.As(err, &ve) {
		return nil
	}
	msgs := make([]string, 0, len(ve))
	for _, fe := range ve {
		msgs = append(msgs, fe.Field()+" failed on "+fe.Tag())
	}
	return msgs
}
