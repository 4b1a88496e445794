// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package viewer

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/AleutianAI/scriptlens/services/viewer/session"
	"github.com/AleutianAI/scriptlens/services/viewer/source"
)

// RequestIDHeader carries the caller's request ID.
const RequestIDHeader = "X-Request-ID"

// Error codes returned in ErrorResponse.Code.
const (
	CodeMissingParameter = "MISSING_PARAMETER"
	CodeInvalidParameter = "INVALID_PARAMETER"
	CodeInvalidDocument  = "INVALID_DOCUMENT"
	CodeNotFound         = "NOT_FOUND"
	CodeNothingLoaded    = "NOTHING_LOADED"
	CodeStaleLoad        = "STALE_LOAD"
	CodeTooManyFindings  = "TOO_MANY_FINDINGS"
	CodeInternal         = "INTERNAL_ERROR"
)

// ErrorResponse is the body of every failed request.
type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

// HealthResponse is the body of the health check.
type HealthResponse struct {
	Status  string `json:"status"`
	Loaded  string `json:"loaded,omitempty"`
	Version string `json:"version"`
}

// Version is reported by the health check.
var Version = "dev"

// Handlers exposes a Service over gin.
type Handlers struct {
	svc *Service
}

// NewHandlers creates Handlers.
func NewHandlers(svc *Service) *Handlers {
	return &Handlers{svc: svc}
}

// getOrCreateRequestID returns the caller's request ID or a new one, and
// echoes it in the response.
func getOrCreateRequestID(c *gin.Context) string {
	id := c.GetHeader(RequestIDHeader)
	if id == "" {
		id = uuid.NewString()
	}
	c.Header(RequestIDHeader, id)
	return id
}

// writeError maps err to a status and stable code.
func writeError(c *gin.Context, logger *slog.Logger, handler string, err error) {
	status, code := http.StatusInternalServerError, CodeInternal
	switch {
	case errors.Is(err, source.ErrNotFound):
		status, code = http.StatusNotFound, CodeNotFound
	case errors.Is(err, source.ErrInvalidDocument):
		status, code = http.StatusBadRequest, CodeInvalidDocument
	case errors.Is(err, session.ErrStaleLoad):
		status, code = http.StatusConflict, CodeStaleLoad
	case errors.Is(err, ErrNothingLoaded):
		status, code = http.StatusConflict, CodeNothingLoaded
	case errors.Is(err, session.ErrTooManyFindings):
		status, code = http.StatusRequestEntityTooLarge, CodeTooManyFindings
	}
	if status >= 500 {
		logger.Error("request failed", slog.String("error", err.Error()))
	} else {
		logger.Debug("request rejected", slog.String("code", code), slog.String("error", err.Error()))
	}
	requestsTotal.WithLabelValues(handler, code).Inc()
	c.JSON(status, ErrorResponse{Error: err.Error(), Code: code})
}

func badRequest(c *gin.Context, handler, code, msg string) {
	requestsTotal.WithLabelValues(handler, code).Inc()
	c.JSON(http.StatusBadRequest, ErrorResponse{Error: msg, Code: code})
}

func ok(c *gin.Context, handler string, status int, body any) {
	requestsTotal.WithLabelValues(handler, "ok").Inc()
	c.JSON(status, body)
}

// HandleIngest stores a captured script.
//
// POST /v1/viewer/sources
//
// Request Body: source.Document
//
// Response:
//
//	201 Created: source.ScriptInfo
//	400 Bad Request: Malformed JSON or invalid document
func (h *Handlers) HandleIngest(c *gin.Context) {
	requestID := getOrCreateRequestID(c)
	logger := slog.With("request_id", requestID, "handler", "HandleIngest")

	var doc source.Document
	if err := c.ShouldBindJSON(&doc); err != nil {
		badRequest(c, "ingest", CodeInvalidDocument, "invalid JSON: "+err.Error())
		return
	}
	if doc.CapturedAtMilli == 0 {
		doc.CapturedAtMilli = time.Now().UnixMilli()
	}

	info, err := h.svc.Store().Put(c.Request.Context(), &doc)
	if err != nil {
		writeError(c, logger, "ingest", err)
		return
	}
	ingestedBytes.Observe(float64(len(doc.Text)))
	logger.Info("source ingested",
		slog.String("source_id", info.ID),
		slog.Int("size", info.Size),
		slog.Int("findings", info.FindingCount),
	)
	ok(c, "ingest", http.StatusCreated, info)
}

// HandleListSources lists stored and remote scripts, newest first.
//
// GET /v1/viewer/sources?page=&limit=
func (h *Handlers) HandleListSources(c *gin.Context) {
	requestID := getOrCreateRequestID(c)
	logger := slog.With("request_id", requestID, "handler", "HandleListSources")

	limit := 0
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			badRequest(c, "list", CodeInvalidParameter, "limit must be a positive integer")
			return
		}
		limit = n
	}

	scripts, err := h.svc.ListScripts(c.Request.Context(), c.Query("page"), limit)
	if err != nil {
		writeError(c, logger, "list", err)
		return
	}
	ok(c, "list", http.StatusOK, source.ListResponse{Scripts: scripts, Count: len(scripts)})
}

// HandleGetSource returns a stored document.
//
// GET /v1/viewer/sources/:id
func (h *Handlers) HandleGetSource(c *gin.Context) {
	requestID := getOrCreateRequestID(c)
	logger := slog.With("request_id", requestID, "handler", "HandleGetSource")

	doc, err := h.svc.Store().Fetch(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, logger, "get_source", err)
		return
	}
	ok(c, "get_source", http.StatusOK, doc)
}

// HandleDeleteSource removes a stored document.
//
// DELETE /v1/viewer/sources/:id
func (h *Handlers) HandleDeleteSource(c *gin.Context) {
	requestID := getOrCreateRequestID(c)
	logger := slog.With("request_id", requestID, "handler", "HandleDeleteSource")

	if err := h.svc.Store().Delete(c.Request.Context(), c.Param("id")); err != nil {
		writeError(c, logger, "delete_source", err)
		return
	}
	requestsTotal.WithLabelValues("delete_source", "ok").Inc()
	c.Status(http.StatusNoContent)
}

// HandleFindDefinition looks a name up in the local store only. This is the
// endpoint other viewers call as their remote repository.
//
// GET /v1/viewer/definitions?name=
func (h *Handlers) HandleFindDefinition(c *gin.Context) {
	requestID := getOrCreateRequestID(c)
	logger := slog.With("request_id", requestID, "handler", "HandleFindDefinition")

	name := c.Query("name")
	if name == "" {
		badRequest(c, "find_definition", CodeMissingParameter, "name parameter is required")
		return
	}
	def, err := h.svc.Store().FindDefinition(c.Request.Context(), name)
	if err != nil {
		writeError(c, logger, "find_definition", err)
		return
	}
	ok(c, "find_definition", http.StatusOK, def)
}

// HandleView loads and renders a source.
//
// GET /v1/viewer/view?src=&line=&mode=
//
// Response:
//
//	200 OK: ViewResponse
//	400 Bad Request: Missing src or invalid line/mode
//	404 Not Found: Unknown source
//	409 Conflict: Superseded by a newer selection
func (h *Handlers) HandleView(c *gin.Context) {
	requestID := getOrCreateRequestID(c)
	logger := slog.With("request_id", requestID, "handler", "HandleView")

	qs, err := session.ParseQuery(c.Request.URL.Query())
	if err != nil {
		badRequest(c, "view", CodeInvalidParameter, err.Error())
		return
	}
	if qs.Source == "" {
		badRequest(c, "view", CodeMissingParameter, "src parameter is required")
		return
	}

	resp, err := h.svc.View(c.Request.Context(), qs)
	if err != nil {
		writeError(c, logger, "view", err)
		return
	}
	ok(c, "view", http.StatusOK, resp)
}

// HandleToggle switches between focused and full view, optionally
// scrolling to an original line.
//
// POST /v1/viewer/view/toggle?line=
func (h *Handlers) HandleToggle(c *gin.Context) {
	requestID := getOrCreateRequestID(c)
	logger := slog.With("request_id", requestID, "handler", "HandleToggle")

	line := 0
	if raw := c.Query("line"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			badRequest(c, "toggle", CodeInvalidParameter, "line must be a positive integer")
			return
		}
		line = n
	}

	resp, err := h.svc.Toggle(c.Request.Context(), line)
	if err != nil {
		writeError(c, logger, "toggle", err)
		return
	}
	ok(c, "toggle", http.StatusOK, resp)
}

// HandleDefinition navigates to a definition, locally first.
//
// GET /v1/viewer/definition?name=
func (h *Handlers) HandleDefinition(c *gin.Context) {
	requestID := getOrCreateRequestID(c)
	logger := slog.With("request_id", requestID, "handler", "HandleDefinition")

	name := c.Query("name")
	if name == "" {
		badRequest(c, "definition", CodeMissingParameter, "name parameter is required")
		return
	}
	resp, err := h.svc.Definition(c.Request.Context(), name)
	if err != nil {
		writeError(c, logger, "definition", err)
		return
	}
	ok(c, "definition", http.StatusOK, resp)
}

// HandleHealth reports liveness.
//
// GET /v1/viewer/health
func (h *Handlers) HandleHealth(c *gin.Context) {
	resp := HealthResponse{Status: "healthy", Version: Version}
	if cur := h.svc.Session().Current(); cur != nil {
		resp.Loaded = cur.SourceID
	}
	c.JSON(http.StatusOK, resp)
}
