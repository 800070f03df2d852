// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package graph

import (
	"context"
	"os"
	"time"

	"github.com/AleutianAI/AleutianRelay/services/orchestrator/datatypes"
	"github.com/AleutianAI/AleutianRelay/services/orchestrator/retrieval"
)

// sessionNameRunes caps the auto-generated session name length.
const sessionNameRunes = 60

// =============================================================================
// load_context
// =============================================================================

// loadContext hydrates the run: persisted history, workspace document
// records, and registration of any documents uploaded with this request.
//
// Storage failures here are logged and tolerated; a run with no memory is
// degraded, not dead.
func (e *Engine) loadContext(ctx context.Context, st *datatypes.OrchestratorState) {
	workspace := st.TenantID

	history, err := e.store.LoadMessages(ctx, st.UserID, workspace, st.SessionID, historyLoadLimit)
	if err != nil {
		e.logger.Warn("Loading conversation history failed, continuing without",
			"session_id", st.SessionID, "error", err)
		history = nil
	}
	st.Messages = history
	st.MemoryLoadedCount = len(history)
	st.AppendUserMessage(st.Query)

	turns := 0
	for _, m := range st.Messages {
		if m.Role == datatypes.RoleUser {
			turns++
		}
	}
	st.TurnCount = turns

	records, indexPath, err := e.store.ListWorkspaceDocuments(ctx, st.UserID, workspace)
	if err != nil {
		e.logger.Warn("Listing workspace documents failed",
			"workspace", workspace, "error", err)
		records = nil
	}
	if indexPath == "" {
		indexPath = e.indexPathFor(workspace)
	}

	registered := len(records)
	registered += e.registerUploads(ctx, st, records, indexPath)

	datatypes.EnsureMetadata(st)
	st.Metadata[datatypes.MetaWorkspaceDocCount] = registered
}

// registerUploads indexes the documents supplied with this run, skipping
// paths already registered for the workspace. Returns how many new
// documents were registered.
func (e *Engine) registerUploads(ctx context.Context, st *datatypes.OrchestratorState, existing []datatypes.DocumentRecord, indexPath string) int {
	if len(st.UploadedDocs) == 0 {
		return 0
	}
	workspace := st.TenantID

	known := make(map[string]bool, len(existing))
	for _, rec := range existing {
		known[rec.Path] = true
	}

	added := 0
	for _, raw := range st.UploadedDocs {
		path := retrieval.NormalizePath(raw)
		if path == "" || known[path] {
			continue
		}
		known[path] = true

		content, err := os.ReadFile(path)
		if err != nil {
			e.logger.Warn("Reading uploaded document failed", "path", path, "error", err)
			st.AppendError("load_context: reading document %s: %v", path, err)
			continue
		}

		docID := retrieval.DocIDFor(st.UserID, workspace, path)
		chunks, err := e.chunker.Split(string(content), path, docID)
		if err != nil {
			e.logger.Warn("Chunking uploaded document failed", "path", path, "error", err)
			st.AppendError("load_context: chunking document %s: %v", path, err)
			continue
		}

		key := retrieval.Key{Tenant: st.TenantID, User: st.UserID, Workspace: workspace}
		index, err := e.registry.LoadOrCreate(ctx, key)
		if err != nil {
			e.logger.Warn("Opening workspace index failed", "workspace", workspace, "error", err)
			st.AppendError("load_context: opening index: %v", err)
			continue
		}
		if err := index.AddDocuments(ctx, chunks); err != nil {
			e.logger.Warn("Indexing uploaded document failed", "path", path, "error", err)
			st.AppendError("load_context: indexing document %s: %v", path, err)
			continue
		}

		rec := datatypes.DocumentRecord{
			DocID:     docID,
			Path:      path,
			IndexPath: indexPath,
			AddedAt:   time.Now().UTC(),
		}
		if err := e.store.UpsertDocument(ctx, st.UserID, workspace, rec); err != nil {
			e.logger.Warn("Persisting document record failed", "path", path, "error", err)
			st.AppendError("load_context: registering document %s: %v", path, err)
			continue
		}
		added++
		e.logger.Info("Registered workspace document",
			"workspace", workspace, "doc_id", docID, "chunks", len(chunks))
	}
	return added
}

// =============================================================================
// save_context
// =============================================================================

// saveContext persists the run's delta: messages appended past the loaded
// boundary, the session record, and the index snapshot. The answer is
// already final by this point, so persistence failures are logged, never
// surfaced.
func (e *Engine) saveContext(ctx context.Context, st *datatypes.OrchestratorState) {
	workspace := st.TenantID

	if st.MemoryLoadedCount >= 0 && st.MemoryLoadedCount < len(st.Messages) {
		delta := st.Messages[st.MemoryLoadedCount:]
		if err := e.store.AppendMessages(ctx, st.UserID, workspace, st.SessionID, delta); err != nil {
			e.logger.Error("Persisting conversation delta failed",
				"session_id", st.SessionID, "count", len(delta), "error", err)
		}
	}

	rec := datatypes.SessionRecord{
		SessionID: st.SessionID,
		Workspace: workspace,
		Name:      sessionName(st),
		UpdatedAt: time.Now().UTC(),
	}
	if err := e.store.UpsertSession(ctx, st.UserID, workspace, rec); err != nil {
		e.logger.Error("Persisting session record failed",
			"session_id", st.SessionID, "error", err)
	}

	key := retrieval.Key{Tenant: st.TenantID, User: st.UserID, Workspace: workspace}
	if index, ok := e.registry.Peek(key); ok {
		if err := index.SaveToPath(ctx, e.indexPathFor(workspace)); err != nil {
			e.logger.Warn("Saving index snapshot failed", "workspace", workspace, "error", err)
		}
	}
}

// sessionName derives the auto-generated session name from the first user
// message, truncated for display.
func sessionName(st *datatypes.OrchestratorState) string {
	for _, m := range st.Messages {
		if m.Role != datatypes.RoleUser || m.Content == "" {
			continue
		}
		runes := []rune(m.Content)
		if len(runes) > sessionNameRunes {
			return string(runes[:sessionNameRunes])
		}
		return m.Content
	}
	return "Untitled session"
}
