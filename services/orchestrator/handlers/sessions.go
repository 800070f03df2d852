// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package handlers

import (
	"log/slog"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/AleutianAI/AleutianRelay/services/orchestrator/storage"
)

// ListSessions handles GET /api/v1/sessions/:workspace?user=<id>.
func ListSessions(store storage.Store) gin.HandlerFunc {
	return func(c *gin.Context) {
		workspace := c.Param("workspace")
		user := c.Query("user")
		if user == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "missing user query parameter"})
			return
		}
		slog.Info("Received request to list sessions", "workspace", workspace)

		sessions, err := store.ListSessions(c.Request.Context(), user, workspace)
		if err != nil {
			slog.Error("Listing sessions failed", "workspace", workspace, "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list sessions"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"sessions": sessions})
	}
}

// GetSessionHistory handles
// GET /api/v1/history/:session?user=<id>&workspace=<ws>&limit=<n>.
func GetSessionHistory(store storage.Store) gin.HandlerFunc {
	return func(c *gin.Context) {
		session := c.Param("session")
		user := c.Query("user")
		workspace := c.Query("workspace")
		if user == "" || workspace == "" {
			c.JSON(http.StatusBadRequest,
				gin.H{"error": "missing user or workspace query parameter"})
			return
		}
		limit := 0
		if raw := c.Query("limit"); raw != "" {
			parsed, err := strconv.Atoi(raw)
			if err != nil || parsed < 0 {
				c.JSON(http.StatusBadRequest, gin.H{"error": "invalid limit"})
				return
			}
			limit = parsed
		}

		msgs, err := store.LoadMessages(c.Request.Context(), user, workspace, session, limit)
		if err != nil {
			slog.Error("Loading session history failed", "session", session, "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load history"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"session_id": session, "messages": msgs})
	}
}
