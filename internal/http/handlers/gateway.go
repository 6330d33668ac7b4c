// Gateway-tier HTTP handlers.
//
// The public tier never executes generation itself: it validates input with
// the same rules as the worker, attaches the session user id, and proxies to
// the internal tier with a bounded timeout. Upstream failures translate into
// the gateway error taxonomy (504 timeout, 502 unreachable); everything the
// worker answers is forwarded with its status intact so rate-limit and
// validation responses surface unchanged.
package handlers

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/infernalforge/forge/internal/config"
	"github.com/infernalforge/forge/internal/domain"
	"github.com/infernalforge/forge/internal/http/middleware"
	"github.com/infernalforge/forge/internal/upstream"
)

// GatewayHandlers groups the public tier's endpoints around the upstream
// client.
type GatewayHandlers struct {
	client   *upstream.Client
	defaults config.PipelineConfig
}

// NewGateway constructs the gateway handler set.
func NewGateway(client *upstream.Client, defaults config.PipelineConfig) *GatewayHandlers {
	return &GatewayHandlers{client: client, defaults: defaults}
}

// Index is the entry route: the session middleware mounted on it issues the
// cookie, so a browser that loads this first is ready to generate.
func (h *GatewayHandlers) Index(c *gin.Context) {
	ok(c, http.StatusOK, gin.H{
		"service": "forge-gateway",
		"status":  "ok",
	})
}

// Generate godoc
// @ID          gatewayGenerate
// @Summary     Submit a generation job
// @Description Validates the request, attaches the session identity, and forwards to the worker tier. Returns immediately with a job id; generation proceeds asynchronously.
// @Tags        Jobs
// @Accept      json
// @Produce     json
// @Param       body  body  domain.GenerateParams  true  "Generation parameters"
// @Success     200  {object}  handlers.GenerateResponse
// @Failure     400  {object}  handlers.ErrorResponse  "Validation error"
// @Failure     401  {object}  handlers.ErrorResponse  "No session"
// @Failure     429  {object}  handlers.ErrorResponse  "Rate limited"
// @Failure     504  {object}  handlers.ErrorResponse  "Worker timeout"
// @Router      /generate [post]
func (h *GatewayHandlers) Generate(c *gin.Context) {
	var params domain.GenerateParams
	if err := c.ShouldBindJSON(&params); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "invalid JSON body")
		return
	}

	// Reject malformed input here, before it costs an upstream round trip;
	// the worker applies the same rules again behind the trust boundary.
	params.Normalize(h.defaults.DefaultHeight, h.defaults.DefaultWidth, h.defaults.DefaultSteps)
	if err := params.Validate(); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, err.Error())
		return
	}

	payload, err := json.Marshal(GenerateRequest{
		GenerateParams: params,
		UserID:         middleware.UserID(c),
	})
	if err != nil {
		fail(c, http.StatusInternalServerError, ErrCodeInternal, "internal server error")
		return
	}

	resp, err := h.client.Generate(c.Request.Context(), payload)
	if err != nil {
		h.upstreamFail(c, err)
		return
	}
	forward(c, resp)
}

// Status godoc
// @ID          gatewayJobStatus
// @Summary     Poll job status
// @Description Proxies the status read to the worker tier.
// @Tags        Jobs
// @Produce     json
// @Param       X-Auth-Token  header  string  true  "Shared-secret token"
// @Param       job_id  path  string  true  "Job id"
// @Success     200  {object}  map[string]any
// @Failure     404  {object}  handlers.ErrorResponse  "Unknown job"
// @Failure     504  {object}  handlers.ErrorResponse  "Worker timeout"
// @Router      /status/{job_id} [get]
func (h *GatewayHandlers) Status(c *gin.Context) {
	resp, err := h.client.Status(c.Request.Context(), c.Param("job_id"))
	if err != nil {
		h.upstreamFail(c, err)
		return
	}
	forward(c, resp)
}

// Output godoc
// @ID          gatewayFetchArtifact
// @Summary     Fetch a generated artifact
// @Description Streams artifact bytes from the worker tier.
// @Tags        Artifacts
// @Produce     png
// @Param       X-Auth-Token  header  string  true  "Shared-secret token"
// @Param       file_id  path  string  true  "Public artifact id"
// @Success     200  {file}  binary
// @Failure     404  {object}  handlers.ErrorResponse  "Unknown id"
// @Router      /output/{file_id} [get]
func (h *GatewayHandlers) Output(c *gin.Context) {
	resp, err := h.client.Artifact(c.Request.Context(), c.Param("file_id"))
	if err != nil {
		h.upstreamFail(c, err)
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		// The worker's 404 envelope is already in our wire format.
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
		c.Data(resp.StatusCode, "application/json", body)
		return
	}

	contentType := resp.Header.Get("Content-Type")
	if contentType == "" {
		contentType = "image/png"
	}
	c.Header("Content-Type", contentType)
	c.Header("Cache-Control", "no-store, no-cache, must-revalidate, max-age=0")
	c.Header("Pragma", "no-cache")
	c.Header("Expires", "0")
	c.Status(http.StatusOK)
	if _, err := io.Copy(c.Writer, resp.Body); err != nil {
		// Headers are gone; all we can do is log and drop the connection.
		middleware.LoggerFrom(c).Error().Err(err).Msg("artifact stream interrupted")
	}
}

// healthReply is the worker's health body.
type healthReply struct {
	Status string `json:"status"`
	Reason string `json:"reason"`
}

// Health godoc
// @ID          gatewayHealth
// @Summary     Gateway health
// @Description Reports healthy only when the worker tier answers its health probe within the short timeout.
// @Tags        Health
// @Produce     json
// @Success     200  {object}  map[string]string
// @Failure     503  {object}  map[string]string
// @Router      /health [get]
func (h *GatewayHandlers) Health(c *gin.Context) {
	resp, err := h.client.Health(c.Request.Context())
	if err != nil {
		middleware.LoggerFrom(c).Error().Err(err).Msg("worker health probe failed")
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"status": "unhealthy",
			"reason": "Failed to connect to worker service",
			"error":  "Failed to connect to worker service",
		})
		return
	}

	var hr healthReply
	if err := json.Unmarshal(resp.Body, &hr); err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"status": "unhealthy",
			"reason": "Invalid response from worker service",
			"error":  "Invalid response from worker service",
		})
		return
	}
	if resp.Status == http.StatusOK && hr.Status == "healthy" {
		ok(c, http.StatusOK, gin.H{"status": "healthy"})
		return
	}

	reason := hr.Reason
	if reason == "" {
		reason = "Worker service reported unhealthy"
	}
	c.JSON(http.StatusServiceUnavailable, gin.H{
		"status": "unhealthy",
		"reason": reason,
		"error":  reason,
	})
}

// upstreamFail translates client transport errors into the gateway taxonomy.
func (h *GatewayHandlers) upstreamFail(c *gin.Context, err error) {
	switch {
	case errors.Is(err, upstream.ErrTimeout):
		fail(c, http.StatusGatewayTimeout, ErrCodeUpstreamTimeout, "Request timed out")
	case errors.Is(err, upstream.ErrUnreachable):
		fail(c, http.StatusBadGateway, ErrCodeUpstreamError, "Error communicating with worker service")
	default:
		middleware.LoggerFrom(c).Error().Err(err).Msg("upstream call failed")
		fail(c, http.StatusInternalServerError, ErrCodeInternal, "internal server error")
	}
}

// forward re-emits a buffered upstream reply unchanged.
func forward(c *gin.Context, resp *upstream.Response) {
	contentType := resp.ContentType
	if contentType == "" {
		contentType = "application/json"
	}
	c.Data(resp.Status, contentType, resp.Body)
}
