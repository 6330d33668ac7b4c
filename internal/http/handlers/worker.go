// Worker-tier HTTP handlers.
//
// This tier owns admission, dispatch, and artifacts:
//   - POST /generate          (validate, admit, dispatch; returns job id)
//   - GET  /status/{job_id}   (non-blocking job state read)
//   - GET  /output/{file_id}  (artifact bytes via public id indirection)
//   - GET  /health            (pipeline readiness)
//
// Every route sits behind the shared-secret token middleware. Handlers are
// transport-thin: they validate input, call the dispatcher or the stores,
// and translate outcomes into wire responses.
package handlers

import (
	"net/http"
	"os"
	"path/filepath"

	"github.com/gin-gonic/gin"

	"github.com/infernalforge/forge/internal/config"
	"github.com/infernalforge/forge/internal/domain"
	"github.com/infernalforge/forge/internal/http/middleware"
	"github.com/infernalforge/forge/internal/pipeline"
	"github.com/infernalforge/forge/internal/ratelimit"
	"github.com/infernalforge/forge/internal/services"
	"github.com/infernalforge/forge/internal/store"
)

// WorkerHandlers groups the internal tier's endpoints.
type WorkerHandlers struct {
	dispatcher *services.Dispatcher
	jobs       *store.JobStore
	artifacts  *store.ArtifactRegistry
	provider   *pipeline.Provider
	outputDir  string
	defaults   config.PipelineConfig
}

// NewWorker constructs the worker handler set.
func NewWorker(
	dispatcher *services.Dispatcher,
	jobs *store.JobStore,
	artifacts *store.ArtifactRegistry,
	provider *pipeline.Provider,
	outputDir string,
	defaults config.PipelineConfig,
) *WorkerHandlers {
	return &WorkerHandlers{
		dispatcher: dispatcher,
		jobs:       jobs,
		artifacts:  artifacts,
		provider:   provider,
		outputDir:  outputDir,
		defaults:   defaults,
	}
}

// GenerateRequest is the worker-side generation payload: the shared
// parameters plus the owning user id, which the gateway injects from the
// session.
type GenerateRequest struct {
	domain.GenerateParams
	UserID string `json:"user_id" example:"8b8f7d3e-1f2a-4c5d-9e6f-7a8b9c0d1e2f"`
}

// GenerateResponse acknowledges an admitted job.
type GenerateResponse struct {
	Success bool   `json:"success" example:"true"`
	JobID   string `json:"job_id" example:"b3c7a1d0-5e4f-4a2b-8c9d-0e1f2a3b4c5d"`
	Status  string `json:"status" example:"processing"`
}

// Generate godoc
// @ID          generate
// @Summary     Submit a generation job
// @Description Validates the request, admits it against the rate limits, and dispatches generation asynchronously. Returns immediately with a job id; poll /status/{job_id} for the outcome.
// @Tags        Jobs
// @Accept      json
// @Produce     json
// @Param       X-Auth-Token  header  string  true  "Shared-secret token"
// @Param       body  body  handlers.GenerateRequest  true  "Generation parameters"
// @Success     200  {object}  handlers.GenerateResponse
// @Failure     400  {object}  handlers.ErrorResponse  "Validation error"
// @Failure     401  {object}  handlers.ErrorResponse  "Missing or bad token"
// @Failure     429  {object}  handlers.ErrorResponse  "Rate limited"
// @Router      /generate [post]
func (h *WorkerHandlers) Generate(c *gin.Context) {
	var req GenerateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "invalid JSON body")
		return
	}

	if err := domain.ValidateUserID(req.UserID); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, err.Error())
		return
	}
	req.Normalize(h.defaults.DefaultHeight, h.defaults.DefaultWidth, h.defaults.DefaultSteps)
	if err := req.Validate(); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, err.Error())
		return
	}

	jobID, err := h.dispatcher.Submit(req.UserID, req.GenerateParams)
	if err != nil {
		if ratelimit.IsDenied(err) {
			fail(c, http.StatusTooManyRequests, ErrCodeRateLimited, err.Error())
			return
		}
		middleware.LoggerFrom(c).Error().Err(err).Msg("dispatch failed")
		fail(c, http.StatusInternalServerError, ErrCodeInternal, "internal server error")
		return
	}

	ok(c, http.StatusOK, GenerateResponse{
		Success: true,
		JobID:   jobID,
		Status:  string(domain.StatusProcessing),
	})
}

// Status godoc
// @ID          jobStatus
// @Summary     Poll job status
// @Description Returns the job's current state without blocking. Completed jobs carry image_path and seed; failed jobs carry error.
// @Tags        Jobs
// @Produce     json
// @Param       X-Auth-Token  header  string  true  "Shared-secret token"
// @Param       job_id  path  string  true  "Job id"
// @Success     200  {object}  map[string]any
// @Failure     404  {object}  handlers.ErrorResponse  "Unknown job"
// @Router      /status/{job_id} [get]
func (h *WorkerHandlers) Status(c *gin.Context) {
	view, found := h.jobs.Get(c.Param("job_id"))
	if !found {
		fail(c, http.StatusNotFound, ErrCodeNotFound, "Job not found")
		return
	}

	resp := gin.H{
		"status":     view.Status,
		"started_at": view.StartedAt.Unix(),
	}
	switch view.Status {
	case domain.StatusCompleted:
		resp["image_path"] = "/output/" + view.Result.PublicID
		resp["seed"] = view.Result.Seed
	case domain.StatusFailed:
		resp["error"] = view.Error
	}
	ok(c, http.StatusOK, resp)
}

// Output godoc
// @ID          fetchArtifact
// @Summary     Fetch a generated artifact
// @Description Serves the artifact registered under the opaque public id. The id is a pure registry key, never a filesystem path.
// @Tags        Artifacts
// @Produce     png
// @Param       X-Auth-Token  header  string  true  "Shared-secret token"
// @Param       file_id  path  string  true  "Public artifact id"
// @Success     200  {file}  binary
// @Failure     404  {object}  handlers.ErrorResponse  "Unknown id or missing file"
// @Router      /output/{file_id} [get]
func (h *WorkerHandlers) Output(c *gin.Context) {
	publicID := c.Param("file_id")

	rel, found := h.artifacts.Resolve(publicID)
	if !found {
		middleware.LoggerFrom(c).Warn().Str("file_id", publicID).Msg("artifact id not registered")
		fail(c, http.StatusNotFound, ErrCodeNotFound, services.ErrArtifactNotFound.Error())
		return
	}

	// rel came from the dispatcher, not the client, so it is always inside
	// the output root; verify anyway before touching the filesystem.
	if !filepath.IsLocal(rel) {
		middleware.LoggerFrom(c).Error().Str("path", rel).Msg("registered artifact path escapes output root")
		fail(c, http.StatusNotFound, ErrCodeNotFound, services.ErrArtifactNotFound.Error())
		return
	}
	full := filepath.Join(h.outputDir, rel)
	if _, err := os.Stat(full); err != nil {
		middleware.LoggerFrom(c).Warn().Str("path", full).Msg("artifact file missing")
		fail(c, http.StatusNotFound, ErrCodeNotFound, services.ErrArtifactNotFound.Error())
		return
	}

	c.Header("Content-Type", "image/png")
	c.Header("Cache-Control", "no-store, no-cache, must-revalidate, max-age=0")
	c.Header("Pragma", "no-cache")
	c.Header("Expires", "0")
	c.File(full)
}

// Health godoc
// @ID          workerHealth
// @Summary     Worker health
// @Description Reports whether the generation pipeline is constructed and usable.
// @Tags        Health
// @Produce     json
// @Param       X-Auth-Token  header  string  true  "Shared-secret token"
// @Success     200  {object}  map[string]string
// @Failure     503  {object}  map[string]string
// @Router      /health [get]
func (h *WorkerHandlers) Health(c *gin.Context) {
	if err := h.provider.Ready(); err != nil {
		middleware.LoggerFrom(c).Error().Err(err).Msg("health check failed")
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"status": "unhealthy",
			"reason": services.ErrPipelineUnavailable.Error(),
			"error":  services.ErrPipelineUnavailable.Error(),
		})
		return
	}
	ok(c, http.StatusOK, gin.H{"status": "healthy"})
}

// Index reports basic service identity and pipeline state; the worker has
// no browser-facing UI.
func (h *WorkerHandlers) Index(c *gin.Context) {
	status := "healthy"
	if err := h.provider.Ready(); err != nil {
		status = "unhealthy"
	}
	ok(c, http.StatusOK, gin.H{
		"service": "forge-worker",
		"status":  status,
	})
}
