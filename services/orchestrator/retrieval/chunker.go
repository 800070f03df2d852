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
	"fmt"

	"github.com/tmc/langchaingo/textsplitter"
)

const (
	defaultChunkSize    = 1000
	defaultChunkOverlap = 100
)

// Chunker splits raw document text into overlapping fragments before
// indexing.
type Chunker struct {
	splitter textsplitter.RecursiveCharacter
}

// NewChunker builds a recursive-character chunker. Non-positive size or
// overlap fall back to the defaults.
func NewChunker(chunkSize, chunkOverlap int) *Chunker {
	if chunkSize <= 0 {
		chunkSize = defaultChunkSize
	}
	if chunkOverlap < 0 || chunkOverlap >= chunkSize {
		chunkOverlap = defaultChunkOverlap
	}
	return &Chunker{
		splitter: textsplitter.NewRecursiveCharacter(
			textsplitter.WithChunkSize(chunkSize),
			textsplitter.WithChunkOverlap(chunkOverlap),
		),
	}
}

// Split chunks content and stamps each fragment with its source path and
// document ID.
func (c *Chunker) Split(content, source, docID string) ([]Chunk, error) {
	parts, err := c.splitter.SplitText(content)
	if err != nil {
		return nil, fmt.Errorf("splitting %s: %w", source, err)
	}
	chunks := make([]Chunk, 0, len(parts))
	for _, p := range parts {
		if p == "" {
			continue
		}
		chunks = append(chunks, Chunk{Text: p, Source: source, DocID: docID})
	}
	return chunks, nil
}
