package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/mantonx/redseat/internal/api"
	"github.com/mantonx/redseat/internal/modules/pluginmodule"
)

// PluginsHandler serves plugin administration routes
type PluginsHandler struct {
	service *pluginmodule.Service
}

// NewPluginsHandler creates the handler
func NewPluginsHandler(service *pluginmodule.Service) *PluginsHandler {
	return &PluginsHandler{service: service}
}

// Loaded handles GET /plugins/loaded, listing modules with process stats
func (h *PluginsHandler) Loaded(c *gin.Context) {
	infos := h.service.Registry.Describe(c.Request.Context())
	c.JSON(http.StatusOK, gin.H{"plugins": infos, "count": len(infos)})
}

// ExchangeToken handles POST /plugins/:plugin_id/oauth/exchange. The body is
// the flat callback payload; the stored credential is returned without secrets.
func (h *PluginsHandler) ExchangeToken(c *gin.Context) {
	params := map[string]string{}
	if err := c.ShouldBindJSON(&params); err != nil {
		api.RespondWithValidationError(c, "invalid callback payload: "+err.Error(), "body")
		return
	}

	cred, err := h.service.ExchangeToken(c.Request.Context(), c.Param("plugin_id"), params)
	if err != nil {
		api.RespondWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"credential_id": cred.ID,
		"kind":          cred.Kind,
	})
}
