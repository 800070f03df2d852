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

	"github.com/AleutianAI/AleutianRelay/services/llm"
	"github.com/AleutianAI/AleutianRelay/services/orchestrator/datatypes"
)

var chatTracer = otel.Tracer("aleutian.relay.agents.chat")

const chatSystemPrompt = `You are a helpful assistant. Answer the user's
question directly and concisely. If the conversation history is relevant,
use it.`

const chatHistoryWindow = 10

// ChatAgent handles open conversation. It has no validation or approval
// path and always executes directly.
type ChatAgent struct {
	models ModelInvoker
	logger *slog.Logger
}

// NewChatAgent builds the open-chat agent.
func NewChatAgent(models ModelInvoker, logger *slog.Logger) *ChatAgent {
	if logger == nil {
		logger = slog.Default()
	}
	return &ChatAgent{models: models, logger: logger.With("agent", NameChat)}
}

// Name implements Agent.
func (a *ChatAgent) Name() string { return NameChat }

// Execute implements Agent.
func (a *ChatAgent) Execute(ctx context.Context, st *datatypes.OrchestratorState) {
	ctx, span := chatTracer.Start(ctx, "ChatAgent.Execute")
	defer span.End()

	datatypes.Normalize(st)

	msgs := historyWindow(st, chatSystemPrompt, chatHistoryWindow)
	text, err := a.models.Invoke(ctx, msgs, st, llm.Temperature(0.7))
	if err != nil {
		failAttempt(st, a.Name(), err)
		return
	}
	complete(st, text, 0.8)
}

var _ Agent = (*ChatAgent)(nil)
