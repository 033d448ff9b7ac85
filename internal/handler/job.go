package handler

import (
	"errors"

	"github.com/gofiber/fiber/v2"
	"github.com/videotranslator/api/internal/middleware"
	"github.com/videotranslator/api/internal/service"
	"github.com/videotranslator/api/pkg/response"
)

type JobHandler struct {
	service *service.JobService
}

func NewJobHandler(svc *service.JobService) *JobHandler {
	return &JobHandler{service: svc}
}

// Get handles GET /api/jobs/:jobId. Only the owner of a job can read it.
func (h *JobHandler) Get(c *fiber.Ctx) error {
	jobID := c.Params("jobId")
	if jobID == "" {
		return response.ValidationError(c, "Job ID is required", nil)
	}

	job, err := h.service.GetJobForOwner(c.UserContext(), jobID, middleware.GetUserID(c))
	if err != nil {
		if errors.Is(err, service.ErrJobNotFound) {
			return response.NotFound(c, "Job not found")
		}
		return response.ServiceError(c, err.Error())
	}

	return response.OK(c, job)
}
