// -----------------------------------------------------------------------
// Job Handler - Queue submission and job inspection
// -----------------------------------------------------------------------

package handlers

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/reperio/internal/common"
	"github.com/ternarybob/reperio/internal/interfaces"
	"github.com/ternarybob/reperio/internal/models"
)

type enqueueJobRequest struct {
	JobType     string                 `json:"jobType" validate:"required,oneof=crawl reindex cleanup"`
	Priority    int                    `json:"priority" validate:"omitempty,min=0,max=3"`
	UserID      string                 `json:"userId"`
	Metadata    map[string]interface{} `json:"metadata"`
	MaxRetries  *int                   `json:"maxRetries" validate:"omitempty,min=0,max=10"`
	ScheduledAt *time.Time             `json:"scheduledAt"`
}

// JobHandler handles job queue HTTP requests
type JobHandler struct {
	jobs     interfaces.JobStorage
	validate *validator.Validate
	logger   arbor.ILogger
}

func NewJobHandler(jobs interfaces.JobStorage, logger arbor.ILogger) *JobHandler {
	return &JobHandler{
		jobs:     jobs,
		validate: validator.New(),
		logger:   logger,
	}
}

// EnqueueHandler handles POST /api/jobs
func (h *JobHandler) EnqueueHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodPost) {
		return
	}

	var req enqueueJobRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		WriteError(w, http.StatusBadRequest, "malformed JSON body: "+err.Error(), string(common.CodeInvalidRequest))
		return
	}
	if err := h.validate.Struct(&req); err != nil {
		WriteError(w, http.StatusBadRequest, validationMessage(err), string(common.CodeInvalidRequest))
		return
	}

	job := models.NewJob(req.JobType, models.JobPriority(req.Priority))
	job.ID = common.NewJobID()
	job.UserID = req.UserID
	if req.Metadata != nil {
		job.Metadata = req.Metadata
	}
	if req.MaxRetries != nil {
		job.MaxRetries = *req.MaxRetries
	}
	job.ScheduledAt = req.ScheduledAt

	if err := h.jobs.EnqueueJob(r.Context(), job); err != nil {
		WriteServiceError(w, err)
		return
	}

	if h.logger != nil {
		h.logger.Info().
			Str("job_id", job.ID).
			Str("job_type", job.JobType).
			Msg("Job enqueued")
	}
	WriteData(w, job)
}

// GetHandler handles GET /api/jobs/get?id=...
func (h *JobHandler) GetHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodGet) {
		return
	}

	id := r.URL.Query().Get("id")
	if id == "" {
		WriteError(w, http.StatusBadRequest, "id parameter is required", string(common.CodeInvalidRequest))
		return
	}

	job, err := h.jobs.GetJob(r.Context(), id)
	if err != nil {
		WriteServiceError(w, err)
		return
	}

	payload := map[string]interface{}{"job": job}
	if history, err := h.jobs.GetJobHistory(r.Context(), id); err == nil && len(history) > 0 {
		payload["history"] = history
	}
	if results, err := h.jobs.GetJobResultsByJob(r.Context(), id); err == nil && len(results) > 0 {
		payload["results"] = results
	}
	WriteData(w, payload)
}

// ListHandler handles GET /api/jobs?status=...|type=...|user=...
func (h *JobHandler) ListHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodGet) {
		return
	}

	var (
		jobs []*models.Job
		err  error
	)
	switch {
	case r.URL.Query().Get("status") != "":
		jobs, err = h.jobs.ListJobsByStatus(r.Context(), models.JobStatus(r.URL.Query().Get("status")))
	case r.URL.Query().Get("type") != "":
		jobs, err = h.jobs.ListJobsByType(r.Context(), r.URL.Query().Get("type"))
	case r.URL.Query().Get("user") != "":
		jobs, err = h.jobs.ListJobsByUser(r.Context(), r.URL.Query().Get("user"))
	default:
		WriteError(w, http.StatusBadRequest, "one of status, type, or user is required", string(common.CodeInvalidRequest))
		return
	}
	if err != nil {
		WriteServiceError(w, err)
		return
	}

	WriteData(w, map[string]interface{}{
		"jobs":  jobs,
		"count": len(jobs),
	})
}
