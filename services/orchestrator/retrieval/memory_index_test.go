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
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryIndexRanksByOverlap(t *testing.T) {
	idx := NewMemoryIndex(Key{Tenant: "acme", User: "u1", Workspace: "ws"})
	err := idx.AddDocuments(context.Background(), []Chunk{
		{Text: "quarterly revenue grew in the enterprise segment", Source: "report.md", DocID: "d1"},
		{Text: "the office coffee machine needs descaling", Source: "facilities.md", DocID: "d2"},
		{Text: "revenue forecasts for next quarter remain uncertain", Source: "forecast.md", DocID: "d3"},
	})
	require.NoError(t, err)

	hits, err := idx.SimilaritySearch(context.Background(), "what happened to quarterly revenue", 2)
	require.NoError(t, err)
	require.Len(t, hits, 2)
	assert.Equal(t, "d1", hits[0].DocID)
	for _, h := range hits {
		assert.NotEqual(t, "d2", h.DocID)
	}
}

func TestMemoryIndexNoOverlapReturnsEmpty(t *testing.T) {
	idx := NewMemoryIndex(Key{})
	require.NoError(t, idx.AddDocuments(context.Background(), []Chunk{
		{Text: "alpha beta gamma", DocID: "d1"},
	}))

	hits, err := idx.SimilaritySearch(context.Background(), "zなし unrelated zz", 5)
	require.NoError(t, err)
	assert.Empty(t, hits)
}

func TestMemoryIndexSkipsDuplicateDocIDs(t *testing.T) {
	idx := NewMemoryIndex(Key{})
	require.NoError(t, idx.AddDocuments(context.Background(), []Chunk{
		{Text: "first version", DocID: "d1"},
	}))
	require.NoError(t, idx.AddDocuments(context.Background(), []Chunk{
		{Text: "second version", DocID: "d1"},
		{Text: "new document", DocID: "d2"},
	}))

	assert.Equal(t, 2, idx.Len())
}

func TestMemoryIndexSaveToPath(t *testing.T) {
	idx := NewMemoryIndex(Key{Tenant: "acme", User: "u1", Workspace: "ws"})
	require.NoError(t, idx.AddDocuments(context.Background(), []Chunk{
		{Text: "persisted chunk", Source: "a.md", DocID: "d1"},
	}))

	path := filepath.Join(t.TempDir(), "snapshots", "ws.json")
	require.NoError(t, idx.SaveToPath(context.Background(), path))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	var chunks []Chunk
	require.NoError(t, json.Unmarshal(data, &chunks))
	require.Len(t, chunks, 1)
	assert.Equal(t, "persisted chunk", chunks[0].Text)
}

func TestLoadMemoryIndexRoundTrip(t *testing.T) {
	key := Key{Tenant: "acme", User: "u1", Workspace: "ws"}
	idx := NewMemoryIndex(key)
	require.NoError(t, idx.AddDocuments(context.Background(), []Chunk{
		{Text: "quarterly revenue grew in the enterprise segment", Source: "report.md", DocID: "d1"},
	}))

	path := SnapshotPath(t.TempDir(), "ws")
	require.NoError(t, idx.SaveToPath(context.Background(), path))

	restored, err := LoadMemoryIndex(path, key)
	require.NoError(t, err)
	require.Equal(t, 1, restored.Len())

	hits, err := restored.SimilaritySearch(context.Background(), "quarterly revenue", 3)
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, "d1", hits[0].DocID)
}

func TestLoadMemoryIndexMissingSnapshotIsEmpty(t *testing.T) {
	idx, err := LoadMemoryIndex(filepath.Join(t.TempDir(), "absent.json"), Key{Workspace: "ws"})
	require.NoError(t, err)
	assert.Equal(t, 0, idx.Len())
}

func TestLoadMemoryIndexCorruptSnapshot(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ws.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0640))

	_, err := LoadMemoryIndex(path, Key{Tenant: "acme", Workspace: "ws"})
	var ie *IndexError
	require.ErrorAs(t, err, &ie)
	assert.Equal(t, "load", ie.Op)
}

func TestSnapshotPathDefaultsDir(t *testing.T) {
	assert.Equal(t, filepath.Join("indexes", "ws.json"), SnapshotPath("", "ws"))
	assert.Equal(t, filepath.Join("/data", "ws.json"), SnapshotPath("/data", "ws"))
}

func TestDocIDForIsStable(t *testing.T) {
	a := DocIDFor("u1", "ws", "/docs/report.md")
	b := DocIDFor("u1", "ws", "/docs/report.md")
	c := DocIDFor("u2", "ws", "/docs/report.md")

	assert.Equal(t, a, b)
	assert.NotEqual(t, a, c)
	assert.Len(t, a, 32)
}

func TestChunkerSplitsLongContent(t *testing.T) {
	c := NewChunker(100, 10)
	content := ""
	for i := 0; i < 40; i++ {
		content += "this sentence pads the document with repeated filler text. "
	}

	chunks, err := c.Split(content, "big.md", "d1")
	require.NoError(t, err)
	assert.Greater(t, len(chunks), 1)
	for _, ch := range chunks {
		assert.Equal(t, "big.md", ch.Source)
		assert.Equal(t, "d1", ch.DocID)
		assert.NotEmpty(t, ch.Text)
	}
}
