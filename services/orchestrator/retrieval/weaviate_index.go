// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package retrieval

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/go-openapi/strfmt"
	"github.com/google/uuid"
	"github.com/weaviate/weaviate-go-client/v5/weaviate"
	"github.com/weaviate/weaviate-go-client/v5/weaviate/filters"
	"github.com/weaviate/weaviate-go-client/v5/weaviate/graphql"
	"github.com/weaviate/weaviate/entities/models"
)

// WorkspaceChunkClass is the Weaviate class holding all workspace chunks.
// Tenancy is enforced by filter properties, not by separate classes.
const WorkspaceChunkClass = "WorkspaceChunk"

// WeaviateIndex stores chunks in Weaviate and retrieves them with BM25
// ranking scoped to one workspace key.
type WeaviateIndex struct {
	client *weaviate.Client
	key    Key
	logger *slog.Logger
}

// NewWeaviateIndex builds an index for key, creating the shared class on
// first use.
func NewWeaviateIndex(ctx context.Context, client *weaviate.Client, key Key, logger *slog.Logger) (*WeaviateIndex, error) {
	if logger == nil {
		logger = slog.Default()
	}
	idx := &WeaviateIndex{client: client, key: key, logger: logger}
	if err := idx.ensureClass(ctx); err != nil {
		return nil, &IndexError{Op: "create", Key: key.String(), Err: err}
	}
	return idx, nil
}

func (w *WeaviateIndex) ensureClass(ctx context.Context) error {
	exists, err := w.client.Schema().ClassExistenceChecker().
		WithClassName(WorkspaceChunkClass).
		Do(ctx)
	if err != nil {
		return fmt.Errorf("checking class %s: %w", WorkspaceChunkClass, err)
	}
	if exists {
		return nil
	}

	class := &models.Class{
		Class:      WorkspaceChunkClass,
		Vectorizer: "none",
		Properties: []*models.Property{
			{Name: "content", DataType: []string{"text"}},
			{Name: "source", DataType: []string{"text"}},
			{Name: "docId", DataType: []string{"text"}},
			{Name: "tenantId", DataType: []string{"text"}},
			{Name: "userId", DataType: []string{"text"}},
			{Name: "workspace", DataType: []string{"text"}},
		},
	}
	if err := w.client.Schema().ClassCreator().WithClass(class).Do(ctx); err != nil {
		// Another replica may have created it between check and create.
		if again, checkErr := w.client.Schema().ClassExistenceChecker().
			WithClassName(WorkspaceChunkClass).Do(ctx); checkErr == nil && again {
			return nil
		}
		return fmt.Errorf("creating class %s: %w", WorkspaceChunkClass, err)
	}
	w.logger.Info("created Weaviate class", "class", WorkspaceChunkClass)
	return nil
}

// AddDocuments batch-imports the chunks with workspace scoping properties.
func (w *WeaviateIndex) AddDocuments(ctx context.Context, chunks []Chunk) error {
	if len(chunks) == 0 {
		return nil
	}

	objects := make([]*models.Object, 0, len(chunks))
	for _, c := range chunks {
		if c.Text == "" {
			continue
		}
		objects = append(objects, &models.Object{
			Class: WorkspaceChunkClass,
			ID:    strfmt.UUID(uuid.New().String()),
			Properties: map[string]interface{}{
				"content":   c.Text,
				"source":    c.Source,
				"docId":     c.DocID,
				"tenantId":  w.key.Tenant,
				"userId":    w.key.User,
				"workspace": w.key.Workspace,
			},
		})
	}
	if len(objects) == 0 {
		return nil
	}

	resp, err := w.client.Batch().ObjectsBatcher().WithObjects(objects...).Do(ctx)
	if err != nil {
		return &IndexError{Op: "add", Key: w.key.String(), Err: err}
	}
	for _, obj := range resp {
		if obj.Result != nil && obj.Result.Errors != nil && len(obj.Result.Errors.Error) > 0 {
			return &IndexError{
				Op:  "add",
				Key: w.key.String(),
				Err: fmt.Errorf("batch object %s: %s", obj.ID, obj.Result.Errors.Error[0].Message),
			}
		}
	}
	w.logger.Debug("indexed chunks", "key", w.key.String(), "count", len(objects))
	return nil
}

// SimilaritySearch runs a BM25 query restricted to this index's workspace.
func (w *WeaviateIndex) SimilaritySearch(ctx context.Context, query string, k int) ([]Chunk, error) {
	if k <= 0 || query == "" {
		return nil, nil
	}

	where := filters.Where().
		WithOperator(filters.And).
		WithOperands([]*filters.WhereBuilder{
			filters.Where().WithPath([]string{"tenantId"}).WithOperator(filters.Equal).WithValueString(w.key.Tenant),
			filters.Where().WithPath([]string{"userId"}).WithOperator(filters.Equal).WithValueString(w.key.User),
			filters.Where().WithPath([]string{"workspace"}).WithOperator(filters.Equal).WithValueString(w.key.Workspace),
		})

	bm25 := w.client.GraphQL().Bm25ArgBuilder().
		WithQuery(query).
		WithProperties("content")

	result, err := w.client.GraphQL().Get().
		WithClassName(WorkspaceChunkClass).
		WithWhere(where).
		WithBM25(bm25).
		WithLimit(k).
		WithFields(
			graphql.Field{Name: "content"},
			graphql.Field{Name: "source"},
			graphql.Field{Name: "docId"},
		).
		Do(ctx)
	if err != nil {
		return nil, &IndexError{Op: "search", Key: w.key.String(), Err: err}
	}
	if len(result.Errors) > 0 {
		return nil, &IndexError{
			Op:  "search",
			Key: w.key.String(),
			Err: fmt.Errorf("graphql: %s", result.Errors[0].Message),
		}
	}

	raw, err := json.Marshal(result.Data)
	if err != nil {
		return nil, &IndexError{Op: "search", Key: w.key.String(), Err: err}
	}
	var parsed struct {
		Get struct {
			WorkspaceChunk []struct {
				Content string `json:"content"`
				Source  string `json:"source"`
				DocID   string `json:"docId"`
			} `json:"WorkspaceChunk"`
		} `json:"Get"`
	}
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return nil, &IndexError{Op: "search", Key: w.key.String(), Err: err}
	}

	chunks := make([]Chunk, 0, len(parsed.Get.WorkspaceChunk))
	for _, hit := range parsed.Get.WorkspaceChunk {
		chunks = append(chunks, Chunk{Text: hit.Content, Source: hit.Source, DocID: hit.DocID})
	}
	return chunks, nil
}

// SaveToPath writes a small manifest; chunk data already lives in Weaviate.
func (w *WeaviateIndex) SaveToPath(_ context.Context, path string) error {
	manifest := map[string]string{
		"class":     WorkspaceChunkClass,
		"tenant":    w.key.Tenant,
		"user":      w.key.User,
		"workspace": w.key.Workspace,
		"saved_at":  time.Now().UTC().Format(time.RFC3339),
	}
	data, err := json.MarshalIndent(manifest, "", "  ")
	if err != nil {
		return &IndexError{Op: "save", Key: w.key.String(), Err: err}
	}
	if err := os.MkdirAll(filepath.Dir(path), 0750); err != nil {
		return &IndexError{Op: "save", Key: w.key.String(), Err: err}
	}
	if err := os.WriteFile(path, data, 0640); err != nil {
		return &IndexError{Op: "save", Key: w.key.String(), Err: err}
	}
	return nil
}

var _ Index = (*WeaviateIndex)(nil)
