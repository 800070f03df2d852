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

	"github.com/AleutianAI/AleutianRelay/services/llm"
	"github.com/AleutianAI/AleutianRelay/services/orchestrator/datatypes"
	"github.com/AleutianAI/AleutianRelay/services/orchestrator/safety"
)

var sqlTracer = otel.Tracer("aleutian.relay.agents.sql")

const sqlSystemPrompt = `You translate natural-language requests into a
single SQL query. Respond with ONLY the SQL statement, no prose and no
markdown fence. Use standard ANSI SQL.`

// SQLAgent generates SQL from natural language, gates risky statements
// behind explicit approval, and finalizes the validated query as the
// deliverable.
type SQLAgent struct {
	models    ModelInvoker
	validator *safety.SQLValidator
	logger    *slog.Logger
}

// NewSQLAgent builds the structured-query agent.
func NewSQLAgent(models ModelInvoker, validator *safety.SQLValidator, logger *slog.Logger) *SQLAgent {
	if logger == nil {
		logger = slog.Default()
	}
	return &SQLAgent{models: models, validator: validator, logger: logger.With("agent", NameSQL)}
}

// Name implements Agent.
func (a *SQLAgent) Name() string { return NameSQL }

// Execute implements Agent.
//
// Re-entry order matters: an approved run carrying a prior artifact must
// finalize that artifact without a second generation pass, and a run still
// waiting on approval must stay parked rather than regenerate.
func (a *SQLAgent) Execute(ctx context.Context, st *datatypes.OrchestratorState) {
	ctx, span := sqlTracer.Start(ctx, "SQLAgent.Execute")
	defer span.End()

	datatypes.Normalize(st)

	if st.Approved && st.GeneratedSQL != "" {
		a.finalizeApproved(st)
		return
	}
	if st.ApprovalRequired && !st.Approved {
		st.ExecutionStatus = datatypes.StatusPending
		st.ShouldContinue = false
		return
	}

	raw, err := a.models.Invoke(ctx, a.buildPrompt(st), st, llm.Temperature(0.0))
	if err != nil {
		failAttempt(st, a.Name(), err)
		return
	}
	generated := stripCodeFence(raw)
	if strings.TrimSpace(generated) == "" {
		failAttempt(st, a.Name(), fmt.Errorf("model returned empty SQL"))
		return
	}
	st.GeneratedSQL = generated

	verdict := a.validator.Validate(ctx, generated)
	st.SQLValidation = &verdict
	if !verdict.Safe {
		reason := fmt.Sprintf("generated SQL flagged as %s risk: %s",
			verdict.RiskLevel, strings.Join(verdict.Reasons, "; "))
		a.logger.Info("SQL artifact gated for approval", "risk", verdict.RiskLevel)
		requireApproval(st, reason, verdict.RiskLevel)
		return
	}

	st.ExecutionResult = generated
	complete(st, a.presentSQL(st, false), 0.85)
}

func (a *SQLAgent) finalizeApproved(st *datatypes.OrchestratorState) {
	datatypes.EnsureMetadata(st)
	st.Metadata[datatypes.MetaApprovedExecution] = true
	st.ApprovalRequired = false
	st.ExecutionResult = st.GeneratedSQL
	complete(st, a.presentSQL(st, true), 0.95)
}

func (a *SQLAgent) buildPrompt(st *datatypes.OrchestratorState) []llm.ChatMessage {
	return []llm.ChatMessage{
		{Role: datatypes.RoleSystem, Content: sqlSystemPrompt},
		{Role: datatypes.RoleUser, Content: st.Query},
	}
}

func (a *SQLAgent) presentSQL(st *datatypes.OrchestratorState, approved bool) string {
	var b strings.Builder
	if approved {
		b.WriteString("Executing the approved query:\n\n")
	} else {
		b.WriteString("Here is the SQL query for your request:\n\n")
	}
	b.WriteString("```sql\n")
	b.WriteString(st.GeneratedSQL)
	b.WriteString("\n```")
	return b.String()
}

var _ Agent = (*SQLAgent)(nil)
