// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package copilot

import (
	"github.com/gin-gonic/gin"
)

// RegisterRoutes registers all copilot routes with the router.
//
// Description:
//
//	Registers all /v1/copilot/* endpoints with the given Gin router
//	group. The router group should already have any required middleware
//	applied.
//
// Inputs:
//
//	rg - Gin router group (typically /v1)
//	handlers - The handlers instance
//
// Endpoints:
//
//	POST /v1/copilot/query - Run one researcher turn through arbitration
//	POST /v1/copilot/proposals/:id/resolve - Approve or reject a proposal
//	GET  /v1/copilot/history - Fetch a session transcript
//	POST /v1/copilot/render - Parse narration text into blocks
//	GET  /v1/copilot/events - Stream narration events (websocket)
//	GET  /v1/copilot/health - Health check
//	GET  /v1/copilot/ready - Readiness check
//
// Example:
//
//	service := copilot.NewService(config.Load(), client, nil, logger)
//	handlers := copilot.NewHandlers(service)
//
//	v1 := router.Group("/v1")
//	copilot.RegisterRoutes(v1, handlers)
func RegisterRoutes(rg *gin.RouterGroup, handlers *Handlers) {
	cp := rg.Group("/copilot")
	{
		// Chat turns
		cp.POST("/query", handlers.HandleQuery)

		// Proposal decisions
		cp.POST("/proposals/:id/resolve", handlers.HandleResolve)

		// Transcript access
		cp.GET("/history", handlers.HandleHistory)

		// Narration rendering
		cp.POST("/render", handlers.HandleRender)

		// Progress events
		cp.GET("/events", handlers.HandleEvents)

		// Health checks
		cp.GET("/health", handlers.HandleHealth)
		cp.GET("/ready", handlers.HandleReady)
	}
}
