// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package handlers provides the gin HTTP handlers for the orchestrator API.
package handlers

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/AleutianAI/AleutianRelay/services/orchestrator/datatypes"
)

// Invoker runs one query through the orchestration graph. The graph engine
// implements it; tests substitute a fake.
type Invoker interface {
	Invoke(ctx context.Context, query, tenantID, userID, sessionID string, extra map[string]any) *datatypes.OrchestratorState
}

// DocumentRegistrar registers workspace documents outside a query run.
type DocumentRegistrar interface {
	RegisterDocuments(ctx context.Context, tenantID, userID string, paths []string) (int, error)
}

// HealthCheck reports service liveness.
func HealthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// Orchestrate handles POST /api/v1/orchestrate.
func Orchestrate(invoker Invoker) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req datatypes.OrchestrateRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
			return
		}
		if err := req.Validate(); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		slog.Info("Received orchestrate request",
			"tenant_id", req.TenantID, "session_id", req.SessionID)

		st := invoker.Invoke(c.Request.Context(), req.Query, req.TenantID, req.UserID, req.SessionID, req.Extra)
		c.JSON(http.StatusOK, datatypes.NewOrchestrateResponse(st))
	}
}

// Approve handles POST /api/v1/approve: it resumes a gated run, carrying
// the flagged artifact forward with explicit approval.
func Approve(invoker Invoker) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req datatypes.ApproveRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
			return
		}
		if err := req.Validate(); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		if req.GeneratedSQL == "" && req.CodeToExecute == "" {
			c.JSON(http.StatusBadRequest,
				gin.H{"error": "approve requires the gated artifact (generated_sql or code_to_execute)"})
			return
		}
		slog.Info("Received approve request",
			"tenant_id", req.TenantID, "session_id", req.SessionID, "approved", req.Approved)

		extra := map[string]any{
			"approved":        req.Approved,
			"generated_sql":   req.GeneratedSQL,
			"code_to_execute": req.CodeToExecute,
		}
		st := invoker.Invoke(c.Request.Context(), req.Query, req.TenantID, req.UserID, req.SessionID, extra)
		c.JSON(http.StatusOK, datatypes.NewOrchestrateResponse(st))
	}
}

// RegisterDocuments handles POST /api/v1/documents.
func RegisterDocuments(registrar DocumentRegistrar) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req datatypes.RegisterDocumentsRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
			return
		}
		if err := req.Validate(); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		slog.Info("Received document registration request",
			"tenant_id", req.TenantID, "count", len(req.Paths))

		added, err := registrar.RegisterDocuments(c.Request.Context(), req.TenantID, req.UserID, req.Paths)
		if err != nil {
			slog.Error("Document registration failed", "tenant_id", req.TenantID, "error", err)
			c.JSON(http.StatusInternalServerError,
				gin.H{"error": err.Error(), "registered": added})
			return
		}
		c.JSON(http.StatusOK, gin.H{"registered": added})
	}
}
