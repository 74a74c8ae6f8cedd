// Package handlers provides the HTTP handlers for request resolution,
// processing jobs, video conversion and plugin administration.
package handlers

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/gabriel-vasile/mimetype"
	"github.com/gin-gonic/gin"

	"github.com/mantonx/redseat/internal/api"
	apperrors "github.com/mantonx/redseat/internal/errors"
	"github.com/mantonx/redseat/internal/logger"
	"github.com/mantonx/redseat/internal/models"
	"github.com/mantonx/redseat/internal/modules/requestmodule"
)

// errStreamProduced is returned by the synchronous process endpoint when the
// request resolved to bytes instead of a request
var errStreamProduced = errors.New("request resolved to a stream; use the stream endpoint")

// RequestsHandler serves request resolution and processing job routes
type RequestsHandler struct {
	resolver *requestmodule.Resolver
	tracker  *requestmodule.Tracker
}

// NewRequestsHandler creates the handler
func NewRequestsHandler(resolver *requestmodule.Resolver, tracker *requestmodule.Tracker) *RequestsHandler {
	return &RequestsHandler{resolver: resolver, tracker: tracker}
}

// Process handles POST /plugins/requests/process
func (h *RequestsHandler) Process(c *gin.Context) {
	var req models.RsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		api.RespondWithValidationError(c, "invalid request body: "+err.Error(), "body")
		return
	}

	res, err := h.resolver.Resolve(c.Request.Context(), requestmodule.ResolveInput{Request: req, LibraryID: c.Query("library")})
	if err != nil {
		api.RespondWithError(c, err)
		return
	}
	if res.Read.IsStream() {
		res.Read.Stream.Body.Close()
		api.RespondWithError(c, apperrors.NewConflictError(errStreamProduced.Error()))
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"state":   res.State(),
		"request": res.Read.Request,
	})
}

// ProcessStream handles POST /plugins/requests/process/stream. The Range
// header is honored; with ?page=N the request must point to a ZIP archive
// and only entry N is returned.
func (h *RequestsHandler) ProcessStream(c *gin.Context) {
	var req models.RsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		api.RespondWithValidationError(c, "invalid request body: "+err.Error(), "body")
		return
	}
	ctx := c.Request.Context()
	in := requestmodule.ResolveInput{Request: req, LibraryID: c.Query("library")}

	if pageParam := c.Query("page"); pageParam != "" {
		page, err := strconv.Atoi(pageParam)
		if err != nil {
			api.RespondWithValidationError(c, "page must be a number", "page")
			return
		}
		size, _ := strconv.ParseInt(c.Query("size"), 10, 64)
		h.streamPage(c, in, page, size)
		return
	}

	rng, err := models.ParseRangeHeader(c.GetHeader("Range"))
	if err != nil {
		api.RespondWithError(c, &apperrors.AppError{Code: apperrors.CodeValidation, Message: err.Error(), HTTPStatus: http.StatusRequestedRangeNotSatisfiable})
		return
	}
	in.Range = rng

	res, err := h.resolver.Resolve(ctx, in)
	if err != nil {
		api.RespondWithError(c, err)
		return
	}
	if res.NeedsProcessing {
		api.RespondWithError(c, apperrors.NewConflictError("request needs processing before it can be streamed"))
		return
	}

	stream, err := h.resolver.Open(ctx, res.Read, rng)
	if err != nil {
		api.RespondWithError(c, err)
		return
	}
	defer stream.Body.Close()

	status := http.StatusOK
	headers := map[string]string{}
	for k, v := range stream.Headers {
		headers[k] = v
	}
	if cr := stream.ContentRange(); cr != "" && rng != nil {
		status = http.StatusPartialContent
		headers["Content-Range"] = cr
	}
	if stream.Filename != "" {
		headers["Content-Disposition"] = fmt.Sprintf("inline; filename=%q", stream.Filename)
	}

	length := int64(-1)
	if stream.Size != nil {
		length = *stream.Size
	}
	mime := stream.Mime
	if mime == "" {
		mime = "application/octet-stream"
	}
	c.DataFromReader(status, length, mime, stream.Body, headers)
}

func (h *RequestsHandler) streamPage(c *gin.Context, in requestmodule.ResolveInput, page int, size int64) {
	p, err := h.resolver.ExtractPage(c.Request.Context(), in, page, size)
	if err != nil {
		api.RespondWithError(c, err)
		return
	}
	if p.Filename != nil {
		c.Header("Content-Disposition", fmt.Sprintf("inline; filename=%q", *p.Filename))
	}
	c.Data(http.StatusOK, mimetype.Detect(p.Data).String(), p.Data)
}

// Add handles POST /plugins/requests/add
func (h *RequestsHandler) Add(c *gin.Context) {
	var in requestmodule.AddInput
	if err := c.ShouldBindJSON(&in); err != nil {
		api.RespondWithValidationError(c, "invalid request body: "+err.Error(), "body")
		return
	}
	in.LibraryID = c.Query("library")

	res, err := h.tracker.Add(c.Request.Context(), in)
	if err != nil {
		api.RespondWithError(c, err)
		return
	}
	if res.Processing != nil {
		c.JSON(http.StatusAccepted, res)
		return
	}
	c.JSON(http.StatusOK, res)
}

// ListProcessing handles GET /plugins/requests/processing?library=
func (h *RequestsHandler) ListProcessing(c *gin.Context) {
	library := c.Query("library")
	if library == "" {
		api.RespondWithValidationError(c, "library is required", "library")
		return
	}

	jobs, err := h.tracker.List(c.Request.Context(), library)
	if err != nil {
		api.RespondWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"processing": jobs, "count": len(jobs)})
}

// GetProcessing handles GET /plugins/requests/processing/:id
func (h *RequestsHandler) GetProcessing(c *gin.Context) {
	job, err := h.tracker.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		api.RespondWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, job)
}

// Progress handles GET /plugins/requests/processing/:id/progress. Active
// jobs are polled from their plugin before answering.
func (h *RequestsHandler) Progress(c *gin.Context) {
	job, err := h.tracker.ReconcileJob(c.Request.Context(), c.Param("id"))
	if err != nil {
		api.RespondWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, models.ProcessingProgress{
		ID:       job.ID,
		Progress: job.Progress,
		Status:   job.Status,
		Error:    job.Error,
		Eta:      job.Eta,
	})
}

// Pause handles POST /plugins/requests/processing/:id/pause
func (h *RequestsHandler) Pause(c *gin.Context) {
	job, err := h.tracker.Pause(c.Request.Context(), c.Param("id"))
	if err != nil {
		api.RespondWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, job)
}

// Resume handles POST /plugins/requests/processing/:id/resume
func (h *RequestsHandler) Resume(c *gin.Context) {
	job, err := h.tracker.Resume(c.Request.Context(), c.Param("id"))
	if err != nil {
		api.RespondWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, job)
}

// Cancel handles POST /plugins/requests/processing/:id/cancel
func (h *RequestsHandler) Cancel(c *gin.Context) {
	job, err := h.tracker.Cancel(c.Request.Context(), c.Param("id"))
	if err != nil {
		api.RespondWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, job)
}

// Remove handles DELETE /plugins/requests/processing/:id
func (h *RequestsHandler) Remove(c *gin.Context) {
	id := c.Param("id")
	if err := h.tracker.Remove(c.Request.Context(), id); err != nil {
		api.RespondWithError(c, err)
		return
	}
	logger.Info("processing job removed", "id", id)
	c.Status(http.StatusNoContent)
}
