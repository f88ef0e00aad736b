package api

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"sheetwise/internal/models"
	"sheetwise/internal/repository"
	"sheetwise/internal/scheduler"
)

// JobHandler exposes the job engine over HTTP.
type JobHandler struct {
	scheduler *scheduler.Scheduler
	logger    *zap.Logger
}

func NewJobHandler(s *scheduler.Scheduler, logger *zap.Logger) *JobHandler {
	return &JobHandler{scheduler: s, logger: logger}
}

// Create handles POST /api/jobs.
func (h *JobHandler) Create(c echo.Context) error {
	var req models.CreateJobRequest
	if err := c.Bind(&req); err != nil {
		return errorResponse(c, http.StatusBadRequest, "malformed request body")
	}

	jobID, err := h.scheduler.CreateJob(c.Request().Context(), models.TaskSpec{
		SheetID:      req.SheetID,
		SourceFields: req.SourceFields,
		TargetField:  req.TargetField,
		Operation:    req.Operation.Kind,
		Params:       req.Operation.Parameters,
	})
	if err != nil {
		if errors.Is(err, scheduler.ErrInvalidTask) {
			return errorResponse(c, http.StatusBadRequest, err.Error())
		}
		h.logger.Error("Job creation failed", zap.Error(err))
		return errorResponse(c, http.StatusInternalServerError, "could not create job")
	}

	return successResponse(c, "job created", map[string]string{"job_id": jobID})
}

// Status handles GET /api/jobs/:id.
func (h *JobHandler) Status(c echo.Context) error {
	job, err := h.scheduler.GetStatus(c.Request().Context(), c.Param("id"))
	if err != nil {
		if errors.Is(err, repository.ErrJobNotFound) {
			return errorResponse(c, http.StatusNotFound, "job not found")
		}
		h.logger.Error("Job status query failed", zap.Error(err))
		return errorResponse(c, http.StatusInternalServerError, "could not load job")
	}

	return successResponse(c, "ok", models.JobStatusResponse{
		JobID:  job.ID,
		Status: job.Status,
		Progress: models.JobProgress{
			Processed: job.ProcessedCount,
			Total:     job.TotalCount,
			Failed:    job.FailedCount,
		},
		Error: job.ErrorReason,
	})
}

// Cancel handles POST /api/jobs/:id/cancel.
func (h *JobHandler) Cancel(c echo.Context) error {
	err := h.scheduler.CancelJob(c.Request().Context(), c.Param("id"))
	if err != nil {
		if errors.Is(err, repository.ErrJobNotFound) {
			return errorResponse(c, http.StatusNotFound, "job not found")
		}
		h.logger.Error("Job cancellation failed", zap.Error(err))
		return errorResponse(c, http.StatusInternalServerError, "could not cancel job")
	}

	return successResponse(c, "cancellation requested", map[string]bool{"acknowledged": true})
}
