package server

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/mantonx/redseat/internal/config"
	"github.com/mantonx/redseat/internal/server/handlers"
)

// setupRoutes registers every route. Library scope is the library query parameter.
func setupRoutes(r *gin.Engine, cfg config.Config, deps Deps) {
	setupHealthRoutes(r, deps)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	plugins := r.Group("/plugins")

	pluginsHandler := handlers.NewPluginsHandler(deps.Plugins)
	plugins.GET("/loaded", pluginsHandler.Loaded)
	plugins.POST("/:plugin_id/oauth/exchange", pluginsHandler.ExchangeToken)

	requests := handlers.NewRequestsHandler(deps.Resolver, deps.Tracker)
	req := plugins.Group("/requests")
	{
		req.POST("/process", requests.Process)
		req.POST("/process/stream", requests.ProcessStream)
		req.POST("/add", requests.Add)

		processing := req.Group("/processing")
		processing.GET("", requests.ListProcessing)
		if deps.Events != nil {
			hub := handlers.NewProgressHub(deps.Events, cfg.Requests.ProgressBufferSize)
			processing.GET("/ws", hub.HandleWebSocket)
		}
		processing.GET("/:id", requests.GetProcessing)
		processing.GET("/:id/progress", requests.Progress)
		processing.POST("/:id/pause", requests.Pause)
		processing.POST("/:id/resume", requests.Resume)
		processing.POST("/:id/cancel", requests.Cancel)
		processing.DELETE("/:id", requests.Remove)
	}

	convert := handlers.NewVideoConvertHandler(deps.VideoConvert)
	vc := plugins.Group("/videoconvert")
	{
		vc.GET("", convert.ListPlugins)
		vc.GET("/capabilities", convert.AggregateCapabilities)
		vc.GET("/:plugin_id/capabilities", convert.Capabilities)
		vc.POST("/:plugin_id/jobs", convert.Submit)
		vc.GET("/:plugin_id/jobs/:job_id", convert.Status)
		vc.DELETE("/:plugin_id/jobs/:job_id", convert.Cancel)
		vc.GET("/:plugin_id/jobs/:job_id/link", convert.Link)
		vc.POST("/:plugin_id/jobs/:job_id/clean", convert.Clean)
	}
}

func setupHealthRoutes(r *gin.Engine, deps Deps) {
	r.GET("/health", func(c *gin.Context) {
		status := gin.H{
			"status": "ok",
			"time":   time.Now().UTC().Format(time.RFC3339),
		}
		if deps.Plugins != nil {
			status["plugins_loaded"] = len(deps.Plugins.Registry.List())
		}
		if deps.DB != nil {
			sqlDB, err := deps.DB.DB()
			if err == nil {
				err = sqlDB.PingContext(c.Request.Context())
			}
			if err != nil {
				status["status"] = "degraded"
				status["database"] = err.Error()
				c.JSON(http.StatusServiceUnavailable, status)
				return
			}
			status["database"] = "ok"
		}
		c.JSON(http.StatusOK, status)
	})
}
