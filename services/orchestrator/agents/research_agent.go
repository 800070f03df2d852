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
	"log/slog"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/AleutianAI/AleutianRelay/services/llm"
	"github.com/AleutianAI/AleutianRelay/services/orchestrator/datatypes"
	"github.com/AleutianAI/AleutianRelay/services/orchestrator/research"
)

var researchTracer = otel.Tracer("aleutian.relay.agents.research")

const researchSystemPrompt = `You answer the user's question using the web
search findings provided. Prefer the findings over your own knowledge for
anything time-sensitive. Mention the source URL when you rely on a finding.`

const researchNoResultsPrompt = `You answer the user's question from general
knowledge. No web search results are available. You MUST state clearly that
your answer is based on general knowledge and may not reflect current
information.`

// Searcher is the web lookup the research agent depends on. It never
// errors; unavailability is an empty result.
type Searcher interface {
	Search(ctx context.Context, query string) []research.Finding
}

// ResearchAgent answers time-sensitive questions with web search context,
// degrading to clearly-labeled general knowledge when search is down.
type ResearchAgent struct {
	models ModelInvoker
	search Searcher
	logger *slog.Logger
}

// NewResearchAgent builds the web-research agent.
func NewResearchAgent(models ModelInvoker, search Searcher, logger *slog.Logger) *ResearchAgent {
	if logger == nil {
		logger = slog.Default()
	}
	return &ResearchAgent{models: models, search: search, logger: logger.With("agent", NameResearch)}
}

// Name implements Agent.
func (a *ResearchAgent) Name() string { return NameResearch }

// Execute implements Agent.
func (a *ResearchAgent) Execute(ctx context.Context, st *datatypes.OrchestratorState) {
	ctx, span := researchTracer.Start(ctx, "ResearchAgent.Execute")
	defer span.End()

	datatypes.Normalize(st)

	findings := a.search.Search(ctx, st.Query)
	span.SetAttributes(attribute.Int("research.findings", len(findings)))

	st.ResearchFindings = st.ResearchFindings[:0]
	for _, f := range findings {
		st.ResearchFindings = append(st.ResearchFindings, f.Snippet)
	}

	var msgs []llm.ChatMessage
	confidence := 0.85
	if len(findings) == 0 {
		a.logger.Info("No web results, answering from general knowledge")
		confidence = 0.6
		msgs = []llm.ChatMessage{
			{Role: datatypes.RoleSystem, Content: researchNoResultsPrompt},
			{Role: datatypes.RoleUser, Content: st.Query},
		}
	} else {
		msgs = []llm.ChatMessage{
			{Role: datatypes.RoleSystem, Content: researchSystemPrompt},
			{Role: datatypes.RoleSystem, Content: "Search findings:\n" + research.Format(findings)},
			{Role: datatypes.RoleUser, Content: st.Query},
		}
	}

	text, err := a.models.Invoke(ctx, msgs, st, llm.Temperature(0.3))
	if err != nil {
		failAttempt(st, a.Name(), err)
		return
	}
	complete(st, text, confidence)
}

var _ Agent = (*ResearchAgent)(nil)
