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
	"log/slog"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/AleutianAI/scriptlens/services/viewer/focus"
	"github.com/AleutianAI/scriptlens/services/viewer/graph"
	"github.com/AleutianAI/scriptlens/services/viewer/reach"
	"github.com/AleutianAI/scriptlens/services/viewer/sourcemap"
)

// DebugGraphResponse is the export of the applied load's code graph.
type DebugGraphResponse struct {
	LoadID   string                   `json:"load_id"`
	SourceID string                   `json:"source_id"`
	Stats    graph.Stats              `json:"stats"`
	Graph    *graph.SerializableGraph `json:"graph"`
	Seeds    []string                 `json:"seeds"`
	Visited  []reach.VisitedFunction  `json:"visited"`
	Groups   []focus.Range            `json:"groups,omitempty"`

	// RemapVerified is false when a focused line differs from its generated
	// line.
	RemapVerified bool `json:"remap_verified"`
}

// DebugIndexResponse answers one position lookup.
type DebugIndexResponse struct {
	LoadID        string                  `json:"load_id"`
	OriginalLine  int                     `json:"original_line"`
	Column        *int                    `json:"column,omitempty"`
	GeneratedLine int                     `json:"generated_line"`
	Identity      bool                    `json:"identity"`
	Columns       []sourcemap.ColumnEntry `json:"columns"`
	MappedLines   int                     `json:"mapped_lines"`
	Segments      int                     `json:"segments"`
}

// HandleDebugGraph exports the applied load's graph and reachability.
//
// GET /v1/viewer/debug/graph
//
// Response:
//
//	200 OK: DebugGraphResponse
//	409 Conflict: Nothing loaded
func (h *Handlers) HandleDebugGraph(c *gin.Context) {
	requestID := getOrCreateRequestID(c)
	logger := slog.With("request_id", requestID, "handler", "HandleDebugGraph")

	cur := h.svc.Session().Current()
	if cur == nil {
		writeError(c, logger, "debug_graph", ErrNothingLoaded)
		return
	}

	resp := DebugGraphResponse{
		LoadID:        cur.ID,
		SourceID:      cur.SourceID,
		Stats:         cur.Graph.Stats(),
		Graph:         cur.Graph.ToSerializable(),
		Seeds:         []string{},
		Visited:       []reach.VisitedFunction{},
		RemapVerified: true,
	}
	if cur.Reach != nil {
		for _, s := range cur.Reach.Seeds {
			resp.Seeds = append(resp.Seeds, s.Name)
		}
		resp.Visited = cur.Reach.Visited
	}
	if cur.Focused != nil {
		resp.Groups = cur.Focused.Groups
		if err := focus.Verify(cur.Focused, cur.GeneratedLines); err != nil {
			logger.Warn("focused remap mismatch", slog.String("error", err.Error()))
			resp.RemapVerified = false
		}
	}
	ok(c, "debug_graph", http.StatusOK, resp)
}

// HandleDebugIndex maps one original position through the applied load's
// position index.
//
// GET /v1/viewer/debug/index?line=&col=
func (h *Handlers) HandleDebugIndex(c *gin.Context) {
	requestID := getOrCreateRequestID(c)
	logger := slog.With("request_id", requestID, "handler", "HandleDebugIndex")

	lineStr := c.Query("line")
	if lineStr == "" {
		badRequest(c, "debug_index", CodeMissingParameter, "line parameter is required")
		return
	}
	line, err := strconv.Atoi(lineStr)
	if err != nil || line < 1 {
		badRequest(c, "debug_index", CodeInvalidParameter, "line must be a positive integer")
		return
	}
	var col *int
	if colStr := c.Query("col"); colStr != "" {
		n, err := strconv.Atoi(colStr)
		if err != nil || n < 0 {
			badRequest(c, "debug_index", CodeInvalidParameter, "col must be a non-negative integer")
			return
		}
		col = &n
	}

	cur := h.svc.Session().Current()
	if cur == nil {
		writeError(c, logger, "debug_index", ErrNothingLoaded)
		return
	}

	columns := cur.Index.Columns(line)
	if columns == nil {
		columns = []sourcemap.ColumnEntry{}
	}
	ok(c, "debug_index", http.StatusOK, DebugIndexResponse{
		LoadID:        cur.ID,
		OriginalLine:  line,
		Column:        col,
		GeneratedLine: cur.Index.MapPosition(line, col),
		Identity:      cur.Index == nil,
		Columns:       columns,
		MappedLines:   cur.Index.Lines(),
		Segments:      cur.Index.Segments(),
	})
}
