// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package agents

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/AleutianAI/AleutianRelay/services/llm"
	"github.com/AleutianAI/AleutianRelay/services/orchestrator/datatypes"
	"github.com/AleutianAI/AleutianRelay/services/orchestrator/retrieval"
)

var ragTracer = otel.Tracer("aleutian.relay.agents.rag")

const (
	// ragTopK is how many chunks are retrieved per query.
	ragTopK = 4

	// ragMinContextRunes is the floor below which retrieved context is
	// treated as trivially short. Synthesizing over it risks a confident
	// hallucination, so the agent refuses instead.
	ragMinContextRunes = 40

	ragNotFoundAnswer = "I could not find anything relevant to that in your " +
		"workspace documents. Try uploading the relevant document first, or " +
		"rephrase the question."
)

const ragSystemPrompt = `You answer questions strictly from the provided
document context. If the context does not contain the answer, say so rather
than guessing. Cite the source file when it is given.`

// RAGAgent answers document questions over the per-workspace retrieval
// index. The index is created lazily; a missing or empty index is treated
// as "no documents", never as a failure.
type RAGAgent struct {
	models   ModelInvoker
	registry *retrieval.Registry
	logger   *slog.Logger
}

// NewRAGAgent builds the document-QA agent.
func NewRAGAgent(models ModelInvoker, registry *retrieval.Registry, logger *slog.Logger) *RAGAgent {
	if logger == nil {
		logger = slog.Default()
	}
	return &RAGAgent{models: models, registry: registry, logger: logger.With("agent", NameRAG)}
}

// Name implements Agent.
func (a *RAGAgent) Name() string { return NameRAG }

// Execute implements Agent.
func (a *RAGAgent) Execute(ctx context.Context, st *datatypes.OrchestratorState) {
	ctx, span := ragTracer.Start(ctx, "RAGAgent.Execute")
	defer span.End()

	datatypes.Normalize(st)

	key := retrieval.Key{Tenant: st.TenantID, User: st.UserID, Workspace: st.TenantID}
	index, err := a.registry.LoadOrCreate(ctx, key)
	if err != nil {
		failAttempt(st, a.Name(), err)
		return
	}

	chunks, err := index.SimilaritySearch(ctx, st.Query, ragTopK)
	if err != nil {
		failAttempt(st, a.Name(), err)
		return
	}
	span.SetAttributes(attribute.Int("rag.chunks_retrieved", len(chunks)))

	st.RetrievedContext = st.RetrievedContext[:0]
	totalRunes := 0
	for _, c := range chunks {
		st.RetrievedContext = append(st.RetrievedContext, c.Text)
		totalRunes += len([]rune(c.Text))
	}

	if len(chunks) == 0 || totalRunes < ragMinContextRunes {
		a.logger.Info("Insufficient retrieved context, refusing to synthesize",
			"chunks", len(chunks), "runes", totalRunes)
		complete(st, ragNotFoundAnswer, 0.3)
		return
	}

	msgs := []llm.ChatMessage{
		{Role: datatypes.RoleSystem, Content: ragSystemPrompt},
		{Role: datatypes.RoleSystem, Content: "Document context:\n" + formatChunks(chunks)},
		{Role: datatypes.RoleUser, Content: st.Query},
	}
	text, err := a.models.Invoke(ctx, msgs, st, llm.Temperature(0.2))
	if err != nil {
		failAttempt(st, a.Name(), err)
		return
	}
	complete(st, text, 0.85)
}

func formatChunks(chunks []retrieval.Chunk) string {
	var b strings.Builder
	for i, c := range chunks {
		fmt.Fprintf(&b, "[%d]", i+1)
		if c.Source != "" {
			fmt.Fprintf(&b, " (%s)", c.Source)
		}
		b.WriteString(" ")
		b.WriteString(c.Text)
		b.WriteString("\n\n")
	}
	return strings.TrimRight(b.String(), "\n")
}

var _ Agent = (*RAGAgent)(nil)
