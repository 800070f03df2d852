// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package storage persists conversation history, workspace documents and
// session records for the orchestrator.
//
// BadgerDB is used for local embedded storage with low-latency access. The
// in-memory mode of the same engine backs tests, so there is exactly one
// persistence implementation to keep correct.
package storage

import (
	"context"
	"fmt"

	"github.com/AleutianAI/AleutianRelay/services/orchestrator/datatypes"
)

// Store is the persistence collaborator consumed by the graph's context
// load and save nodes.
//
// # Ordering Guarantee
//
// LoadMessages returns messages in chronological order; the graph relies
// on this to compute the loaded-count delta boundary.
type Store interface {
	// LoadMessages returns up to limit messages for the session, oldest
	// first. limit <= 0 means no limit.
	LoadMessages(ctx context.Context, user, workspace, session string, limit int) ([]datatypes.Message, error)

	// AppendMessages persists new messages at the end of the session.
	AppendMessages(ctx context.Context, user, workspace, session string, msgs []datatypes.Message) error

	// ListWorkspaceDocuments returns the registered document records and
	// the workspace's retrieval index path ("" when never saved).
	ListWorkspaceDocuments(ctx context.Context, user, workspace string) ([]datatypes.DocumentRecord, string, error)

	// UpsertDocument registers or refreshes one document record, and
	// records the workspace index path when the record carries one.
	UpsertDocument(ctx context.Context, user, workspace string, rec datatypes.DocumentRecord) error

	// ListSessions returns the workspace's session records, most recently
	// updated first.
	ListSessions(ctx context.Context, user, workspace string) ([]datatypes.SessionRecord, error)

	// UpsertSession creates or refreshes one session record.
	UpsertSession(ctx context.Context, user, workspace string, rec datatypes.SessionRecord) error

	// Close releases the underlying database.
	Close() error
}

// StoreError wraps a failed storage operation with its key context.
type StoreError struct {
	Op  string
	Key string
	Err error
}

// Error implements the error interface for StoreError.
func (e *StoreError) Error() string {
	return fmt.Sprintf("storage %s failed for %s: %v", e.Op, e.Key, e.Err)
}

// Unwrap exposes the underlying cause.
func (e *StoreError) Unwrap() error { return e.Err }
