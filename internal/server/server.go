// Package server wires the HTTP surface onto gin.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/hashicorp/go-hclog"
	"gorm.io/gorm"

	"github.com/mantonx/redseat/internal/api"
	"github.com/mantonx/redseat/internal/config"
	"github.com/mantonx/redseat/internal/events"
	"github.com/mantonx/redseat/internal/middleware"
	"github.com/mantonx/redseat/internal/modules/pluginmodule"
	"github.com/mantonx/redseat/internal/modules/requestmodule"
	"github.com/mantonx/redseat/internal/modules/videoconvertmodule"
)

// Deps are the services the routes are served from
type Deps struct {
	DB           *gorm.DB
	Plugins      *pluginmodule.Service
	Resolver     *requestmodule.Resolver
	Tracker      *requestmodule.Tracker
	VideoConvert *videoconvertmodule.Orchestrator
	Events       *events.Bus
}

// Server is the HTTP server
type Server struct {
	router *gin.Engine
	http   *http.Server
	logger hclog.Logger
}

// New builds the router and the underlying http.Server
func New(cfg config.Config, deps Deps, logger hclog.Logger) *Server {
	if cfg.Logging.Level != "debug" {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	r.Use(api.ErrorMiddleware())
	r.Use(middleware.RequestID())
	r.Use(middleware.RequestLogger())
	r.Use(middleware.ErrorLogger())

	// CORS for browser clients
	r.Use(func(c *gin.Context) {
		c.Header("Access-Control-Allow-Origin", "*")
		c.Header("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Content-Type, Authorization, Range")
		c.Header("Access-Control-Expose-Headers", "Content-Range, Accept-Ranges, Content-Length")

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	})

	setupRoutes(r, cfg, deps)

	return &Server{
		router: r,
		http: &http.Server{
			Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
			Handler:      r,
			ReadTimeout:  cfg.Server.ReadTimeout,
			WriteTimeout: cfg.Server.WriteTimeout,
		},
		logger: logger.Named("server"),
	}
}

// Router exposes the engine for tests
func (s *Server) Router() *gin.Engine {
	return s.router
}

// Start serves until Shutdown is called
func (s *Server) Start() error {
	s.logger.Info("http server listening", "addr", s.http.Addr)
	if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("http server failed: %w", err)
	}
	return nil
}

// Shutdown stops accepting requests and waits for in-flight ones
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down http server")
	return s.http.Shutdown(ctx)
}
