package api

import (
	"context"
	"net/http"
	"sort"

	"github.com/gin-gonic/gin"

	"comfyrun/internal/imaging"
	"comfyrun/internal/interfaces"
	"comfyrun/internal/jobstore"
	"comfyrun/internal/runner"
)

// JobRunner executes one job synchronously
type JobRunner interface {
	Run(ctx context.Context, input runner.Input) (*runner.Result, error)
}

// RenderProber checks the remote render server with a single cheap
// request
type RenderProber interface {
	Probe(ctx context.Context) error
}

// Handler API handler
type Handler struct {
	runner JobRunner
	store  interfaces.JobStore
	render RenderProber
}

// NewHandler creates API handler. store and render may be nil.
func NewHandler(jobRunner JobRunner, store interfaces.JobStore, render RenderProber) *Handler {
	return &Handler{
		runner: jobRunner,
		store:  store,
		render: render,
	}
}

// RegisterRoutes registers routes
func (h *Handler) RegisterRoutes(r *gin.Engine) {
	jobGroup := r.Group("/api/v1/jobs")
	{
		jobGroup.POST("", h.submitJob)
		jobGroup.GET("", h.listJobs)
		jobGroup.GET("/:id", h.getJob)
		jobGroup.GET("/metrics", h.getJobMetrics)
	}

	// Health checks
	r.GET("/health", h.healthCheck)
	r.GET("/ready", h.readinessCheck)
}

// submitJob runs a job synchronously and returns the result image
// inline or as an uploaded URL
func (h *Handler) submitJob(c *gin.Context) {
	var req SubmitJobRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: err.Error()})
		return
	}

	inject := true
	if req.InjectImage != nil {
		inject = *req.InjectImage
	}

	input := runner.Input{
		Source: imaging.Source{
			Base64: req.ImageBase64,
			URL:    req.ImageURL,
			Path:   req.ImagePath,
		},
		Workflow:     req.Workflow,
		InjectImage:  inject,
		PreserveSize: req.PreserveSize,
		Quality:      req.Quality,
		Upload:       req.Upload,
	}

	result, err := h.runner.Run(c.Request.Context(), input)
	if err != nil {
		c.JSON(statusForKind(runner.KindOf(err)), ErrorResponse{Error: err.Error()})
		return
	}

	c.JSON(http.StatusCreated, JobResponse{
		ID:          result.Job.ID,
		Status:      string(result.Job.Status),
		Image:       result.ImageBase64,
		ImageURL:    result.ImageURL,
		PromptID:    result.Job.PromptID,
		CreatedAt:   result.Job.CreatedAt,
		StartedAt:   result.Job.StartedAt,
		CompletedAt: result.Job.CompletedAt,
	})
}

// listJobs lists job records, optionally filtered by status
func (h *Handler) listJobs(c *gin.Context) {
	if h.store == nil {
		c.JSON(http.StatusNotFound, ErrorResponse{Error: "Job store is not configured"})
		return
	}

	status := c.Query("status")

	var jobs []*jobstore.Job
	var err error

	if status != "" {
		jobs, err = h.store.GetJobsByStatus(c.Request.Context(), jobstore.JobStatus(status))
		if err != nil {
			c.JSON(http.StatusInternalServerError, ErrorResponse{Error: err.Error()})
			return
		}
	} else {
		// If no status specified, return jobs of all statuses
		for _, s := range []jobstore.JobStatus{
			jobstore.JobStatusPending,
			jobstore.JobStatusRunning,
			jobstore.JobStatusCompleted,
			jobstore.JobStatusFailed,
		} {
			statusJobs, _ := h.store.GetJobsByStatus(c.Request.Context(), s)
			jobs = append(jobs, statusJobs...)
		}
	}

	// Sort by creation time in descending order (newest first)
	sort.Slice(jobs, func(i, j int) bool {
		return jobs[i].CreatedAt.After(jobs[j].CreatedAt)
	})

	responses := make([]JobResponse, 0, len(jobs))
	for _, job := range jobs {
		responses = append(responses, jobResponseFrom(job))
	}

	c.JSON(http.StatusOK, gin.H{
		"jobs":  responses,
		"count": len(responses),
	})
}

// getJobMetrics gets aggregate job counts
func (h *Handler) getJobMetrics(c *gin.Context) {
	if h.store == nil {
		c.JSON(http.StatusNotFound, ErrorResponse{Error: "Job store is not configured"})
		return
	}

	metrics, err := h.store.GetMetrics(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: err.Error()})
		return
	}

	c.JSON(http.StatusOK, metrics)
}

// getJob gets a job record
func (h *Handler) getJob(c *gin.Context) {
	if h.store == nil {
		c.JSON(http.StatusNotFound, ErrorResponse{Error: "Job store is not configured"})
		return
	}

	job, err := h.store.GetJob(c.Request.Context(), c.Param("id"))
	if err != nil {
		c.JSON(http.StatusNotFound, ErrorResponse{Error: "Job not found"})
		return
	}

	c.JSON(http.StatusOK, jobResponseFrom(job))
}

// healthCheck performs health check
func (h *Handler) healthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "healthy",
	})
}

// readinessCheck reports whether the job store and the render server
// are reachable. The render server is checked with a single probe.
func (h *Handler) readinessCheck(c *gin.Context) {
	if h.store != nil {
		if err := h.store.Ping(c.Request.Context()); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{
				"status": "not ready",
				"error":  err.Error(),
			})
			return
		}
	}

	if h.render != nil {
		if err := h.render.Probe(c.Request.Context()); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{
				"status": "not ready",
				"error":  err.Error(),
			})
			return
		}
	}

	c.JSON(http.StatusOK, gin.H{
		"status": "ready",
	})
}

func jobResponseFrom(job *jobstore.Job) JobResponse {
	return JobResponse{
		ID:          job.ID,
		Status:      string(job.Status),
		ImageURL:    job.ImageURL,
		Error:       job.Error,
		PromptID:    job.PromptID,
		CreatedAt:   job.CreatedAt,
		StartedAt:   job.StartedAt,
		CompletedAt: job.CompletedAt,
	}
}

// statusForKind maps the failure taxonomy to HTTP statuses
func statusForKind(kind runner.Kind) int {
	switch kind {
	case runner.KindInput:
		return http.StatusBadRequest
	case runner.KindUnavailable, runner.KindRejected:
		return http.StatusBadGateway
	case runner.KindEmpty:
		return http.StatusUnprocessableEntity
	case runner.KindTimeout:
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}
