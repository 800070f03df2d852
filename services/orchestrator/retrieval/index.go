// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package retrieval provides the workspace document index consumed by the
// document-QA agent.
//
// The index is opaque to the orchestration core: the graph only loads or
// creates an index per (tenant, user, workspace) key, adds chunks, runs a
// similarity search, and saves. Two implementations exist: a Weaviate-backed
// index for deployments running the vector database, and an in-process
// index for lightweight mode and tests.
package retrieval

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"path/filepath"
	"strings"
)

// Key identifies one workspace index.
type Key struct {
	Tenant    string
	User      string
	Workspace string
}

// String renders the key for logging and cache maps.
func (k Key) String() string {
	return k.Tenant + "/" + k.User + "/" + k.Workspace
}

// Chunk is one indexed fragment of a source document.
type Chunk struct {
	Text   string `json:"text"`
	Source string `json:"source"`
	DocID  string `json:"doc_id"`
}

// Index is the opaque retrieval collaborator.
//
// Implementations must be safe for concurrent use; the registry shares one
// index object per key across requests.
type Index interface {
	// AddDocuments indexes the chunks.
	AddDocuments(ctx context.Context, chunks []Chunk) error

	// SimilaritySearch returns up to k chunks ranked by relevance to the
	// query. An empty result is not an error.
	SimilaritySearch(ctx context.Context, query string, k int) ([]Chunk, error)

	// SaveToPath persists the index (or its manifest) at path.
	SaveToPath(ctx context.Context, path string) error
}

// IndexError wraps a failed index operation.
type IndexError struct {
	Op  string
	Key string
	Err error
}

// Error implements the error interface for IndexError.
func (e *IndexError) Error() string {
	return fmt.Sprintf("retrieval %s failed for %s: %v", e.Op, e.Key, e.Err)
}

// Unwrap exposes the underlying cause.
func (e *IndexError) Unwrap() error { return e.Err }

// NormalizePath canonicalizes a document path for cross-run deduplication.
// Registration and lookup must both use this form, or repeat uploads of the
// same file would re-index it.
func NormalizePath(path string) string {
	abs, err := filepath.Abs(strings.TrimSpace(path))
	if err != nil {
		return filepath.Clean(strings.TrimSpace(path))
	}
	return abs
}

// DocIDFor derives the stable document ID for a normalized path: the first
// 32 hex characters of sha256("user|workspace|path").
func DocIDFor(user, workspace, normalizedPath string) string {
	sum := sha256.Sum256([]byte(user + "|" + workspace + "|" + normalizedPath))
	return hex.EncodeToString(sum[:])[:32]
}
