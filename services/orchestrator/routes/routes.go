// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package routes

import (
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/AleutianAI/AleutianRelay/services/orchestrator/handlers"
	"github.com/AleutianAI/AleutianRelay/services/orchestrator/storage"
)

// SetupRoutes wires the orchestrator API onto the router.
func SetupRoutes(router *gin.Engine, invoker handlers.Invoker,
	registrar handlers.DocumentRegistrar, store storage.Store) {

	router.GET("/health", handlers.HealthCheck)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// API version 1 group
	v1 := router.Group("/api/v1")
	{
		v1.POST("/orchestrate", handlers.Orchestrate(invoker))
		v1.POST("/approve", handlers.Approve(invoker))
		v1.POST("/documents", handlers.RegisterDocuments(registrar))
		v1.GET("/sessions/:workspace", handlers.ListSessions(store))
		v1.GET("/history/:session", handlers.GetSessionHistory(store))
	}
}
