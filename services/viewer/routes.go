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
	"github.com/gin-gonic/gin"
)

// RegisterRoutes registers all viewer routes with the router.
//
// Description:
//
//	Registers all /v1/viewer/* endpoints with the given Gin router group.
//	The router group should already have any required middleware applied.
//
// Inputs:
//
//	rg - Gin router group (typically /v1)
//	handlers - The handlers instance
//
// Source Endpoints:
//
//	POST   /v1/viewer/sources - Ingest a captured script
//	GET    /v1/viewer/sources - List local and remote scripts (page, limit)
//	GET    /v1/viewer/sources/:id - Get a script
//	DELETE /v1/viewer/sources/:id - Delete a script
//	GET    /v1/viewer/definitions - Find a definition in the store
//
// View Endpoints:
//
//	GET  /v1/viewer/view - Load and render (src, line, mode)
//	POST /v1/viewer/view/toggle - Switch focused/full (line)
//	GET  /v1/viewer/definition - Navigate to a definition (name)
//	GET  /v1/viewer/ws - Push channel of applied loads
//
// Debug Endpoints:
//
//	GET /v1/viewer/debug/graph - Export the applied graph
//	GET /v1/viewer/debug/index - Map a position (line, col)
//
// Health Endpoints:
//
//	GET /v1/viewer/health - Health check
func RegisterRoutes(rg *gin.RouterGroup, handlers *Handlers) {
	viewer := rg.Group("/viewer")
	{
		// Repository
		viewer.POST("/sources", handlers.HandleIngest)
		viewer.GET("/sources", handlers.HandleListSources)
		viewer.GET("/sources/:id", handlers.HandleGetSource)
		viewer.DELETE("/sources/:id", handlers.HandleDeleteSource)
		viewer.GET("/definitions", handlers.HandleFindDefinition)

		// View
		viewer.GET("/view", handlers.HandleView)
		viewer.POST("/view/toggle", handlers.HandleToggle)
		viewer.GET("/definition", handlers.HandleDefinition)
		viewer.GET("/ws", handlers.HandleWebSocket)

		debug := viewer.Group("/debug")
		{
			debug.GET("/graph", handlers.HandleDebugGraph)
			debug.GET("/index", handlers.HandleDebugIndex)
		}

		viewer.GET("/health", handlers.HandleHealth)
	}
}
