// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package llm provides backend-agnostic chat clients and the quota-aware
// model router used by every agent in the orchestrator.
package llm

import "context"

// ChatMessage is one turn of a chat completion request.
type ChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// GenerationParams carries optional sampling parameters for a chat call.
type GenerationParams struct {
	Temperature *float32 `json:"temperature"`
	TopK        *int     `json:"top_k"`
	TopP        *float32 `json:"top_p"`
	MaxTokens   *int     `json:"max_tokens"`
	Stop        []string `json:"stop"`
}

// LLMClient defines the standard interface for any LLM backend.
//
// Implementations must be safe for concurrent use and must return a
// *QuotaError when the backend signals quota or rate exhaustion, so the
// Router can distinguish that case from hard failures.
type LLMClient interface {
	// Chat runs one non-streaming chat completion and returns the
	// assistant text.
	Chat(ctx context.Context, messages []ChatMessage, params GenerationParams) (string, error)

	// Model returns the backend's configured model identifier, used for
	// provenance on the run state.
	Model() string
}

// Temperature is a convenience constructor for GenerationParams with only a
// temperature set, the common case across agents.
func Temperature(t float32) GenerationParams {
	return GenerationParams{Temperature: &t}
}
