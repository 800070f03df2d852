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
	"sort"
	"strings"
	"sync"
	"unicode"
)

// MemoryIndex is an in-process Index scoring chunks by token overlap with
// the query. It backs lightweight deployments without Weaviate and the
// test suite.
type MemoryIndex struct {
	mu     sync.RWMutex
	key    Key
	chunks []Chunk
}

// NewMemoryIndex builds an empty in-process index for key.
func NewMemoryIndex(key Key) *MemoryIndex {
	return &MemoryIndex{key: key}
}

// LoadMemoryIndex restores an index from the JSON snapshot SaveToPath
// wrote. A missing snapshot is not an error: the workspace simply has
// nothing indexed yet, so an empty index comes back.
func LoadMemoryIndex(path string, key Key) (*MemoryIndex, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return NewMemoryIndex(key), nil
	}
	if err != nil {
		return nil, &IndexError{Op: "load", Key: key.String(), Err: err}
	}
	var chunks []Chunk
	if err := json.Unmarshal(data, &chunks); err != nil {
		return nil, &IndexError{Op: "load", Key: key.String(), Err: err}
	}
	return &MemoryIndex{key: key, chunks: chunks}, nil
}

// SnapshotPath is where a workspace's index snapshot lives under dir.
// An empty dir falls back to a local "indexes" directory.
func SnapshotPath(dir, workspace string) string {
	if dir == "" {
		dir = "indexes"
	}
	return filepath.Join(dir, workspace+".json")
}

// AddDocuments appends the chunks, skipping document IDs already present.
func (m *MemoryIndex) AddDocuments(_ context.Context, chunks []Chunk) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	seen := make(map[string]bool, len(m.chunks))
	for _, c := range m.chunks {
		seen[c.DocID] = true
	}
	for _, c := range chunks {
		if c.Text == "" || (c.DocID != "" && seen[c.DocID]) {
			continue
		}
		m.chunks = append(m.chunks, c)
	}
	return nil
}

// SimilaritySearch ranks stored chunks by overlap between the query tokens
// and the chunk tokens. Chunks with no overlapping token are excluded.
func (m *MemoryIndex) SimilaritySearch(_ context.Context, query string, k int) ([]Chunk, error) {
	if k <= 0 {
		return nil, nil
	}
	queryTokens := tokenize(query)
	if len(queryTokens) == 0 {
		return nil, nil
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	type scored struct {
		chunk Chunk
		score float64
	}
	ranked := make([]scored, 0, len(m.chunks))
	for _, c := range m.chunks {
		s := overlapScore(queryTokens, tokenize(c.Text))
		if s > 0 {
			ranked = append(ranked, scored{chunk: c, score: s})
		}
	}
	sort.SliceStable(ranked, func(i, j int) bool {
		return ranked[i].score > ranked[j].score
	})

	if len(ranked) > k {
		ranked = ranked[:k]
	}
	out := make([]Chunk, len(ranked))
	for i, r := range ranked {
		out[i] = r.chunk
	}
	return out, nil
}

// SaveToPath writes the chunks as a JSON snapshot.
func (m *MemoryIndex) SaveToPath(_ context.Context, path string) error {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if err := os.MkdirAll(filepath.Dir(path), 0750); err != nil {
		return &IndexError{Op: "save", Key: m.key.String(), Err: err}
	}
	data, err := json.Marshal(m.chunks)
	if err != nil {
		return &IndexError{Op: "save", Key: m.key.String(), Err: err}
	}
	if err := os.WriteFile(path, data, 0640); err != nil {
		return &IndexError{Op: "save", Key: m.key.String(), Err: err}
	}
	return nil
}

// Len reports the number of stored chunks.
func (m *MemoryIndex) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.chunks)
}

func tokenize(s string) map[string]bool {
	tokens := make(map[string]bool)
	for _, tok := range strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	}) {
		if len(tok) > 1 {
			tokens[tok] = true
		}
	}
	return tokens
}

func overlapScore(query, text map[string]bool) float64 {
	if len(text) == 0 {
		return 0
	}
	hits := 0
	for tok := range query {
		if text[tok] {
			hits++
		}
	}
	return float64(hits) / float64(len(query))
}

var _ Index = (*MemoryIndex)(nil)
