package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/mantonx/redseat/internal/api"
	"github.com/mantonx/redseat/internal/modules/videoconvertmodule"
)

// VideoConvertHandler serves the /plugins/videoconvert routes
type VideoConvertHandler struct {
	orchestrator *videoconvertmodule.Orchestrator
}

// NewVideoConvertHandler creates the handler
func NewVideoConvertHandler(orchestrator *videoconvertmodule.Orchestrator) *VideoConvertHandler {
	return &VideoConvertHandler{orchestrator: orchestrator}
}

// ListPlugins handles GET /plugins/videoconvert
func (h *VideoConvertHandler) ListPlugins(c *gin.Context) {
	list, err := h.orchestrator.ListPlugins(c.Request.Context(), c.Query("library"))
	if err != nil {
		api.RespondWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"plugins": list, "count": len(list)})
}

// Capabilities handles GET /plugins/videoconvert/:plugin_id/capabilities
func (h *VideoConvertHandler) Capabilities(c *gin.Context) {
	caps, err := h.orchestrator.Capabilities(c.Request.Context(), c.Param("plugin_id"))
	if err != nil {
		api.RespondWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, caps)
}

// AggregateCapabilities handles GET /plugins/videoconvert/capabilities
func (h *VideoConvertHandler) AggregateCapabilities(c *gin.Context) {
	agg, err := h.orchestrator.AggregateCapabilities(c.Request.Context(), c.Query("library"))
	if err != nil {
		api.RespondWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, agg)
}

// Submit handles POST /plugins/videoconvert/:plugin_id/jobs
func (h *VideoConvertHandler) Submit(c *gin.Context) {
	var req videoconvertmodule.VideoConvertRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		api.RespondWithValidationError(c, "invalid conversion request: "+err.Error(), "body")
		return
	}
	if req.Source.URL == "" {
		api.RespondWithValidationError(c, "source url is required", "source.url")
		return
	}

	status, err := h.orchestrator.Submit(c.Request.Context(), c.Param("plugin_id"), req)
	if err != nil {
		api.RespondWithError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, status)
}

// Status handles GET /plugins/videoconvert/:plugin_id/jobs/:job_id
func (h *VideoConvertHandler) Status(c *gin.Context) {
	status, err := h.orchestrator.Status(c.Request.Context(), c.Param("plugin_id"), c.Param("job_id"))
	if err != nil {
		api.RespondWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, status)
}

// Cancel handles DELETE /plugins/videoconvert/:plugin_id/jobs/:job_id
func (h *VideoConvertHandler) Cancel(c *gin.Context) {
	resp, err := h.orchestrator.Cancel(c.Request.Context(), c.Param("plugin_id"), c.Param("job_id"))
	if err != nil {
		api.RespondWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

// Link handles GET /plugins/videoconvert/:plugin_id/jobs/:job_id/link
func (h *VideoConvertHandler) Link(c *gin.Context) {
	req, err := h.orchestrator.Link(c.Request.Context(), c.Param("plugin_id"), c.Param("job_id"))
	if err != nil {
		api.RespondWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, req)
}

// Clean handles POST /plugins/videoconvert/:plugin_id/jobs/:job_id/clean
func (h *VideoConvertHandler) Clean(c *gin.Context) {
	status, err := h.orchestrator.Clean(c.Request.Context(), c.Param("plugin_id"), c.Param("job_id"))
	if err != nil {
		api.RespondWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, status)
}
