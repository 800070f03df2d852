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
	"github.com/AleutianAI/AleutianRelay/services/orchestrator/sandbox"
)

var codeTracer = otel.Tracer("aleutian.relay.agents.code")

const codeSystemPrompt = `You write a short, self-contained Python script
that computes the answer to the user's request and prints the result to
stdout. Respond with ONLY the Python code, no prose and no markdown fence.
Use only computation; do not touch the filesystem, network, or subprocesses.`

// CodeAgent generates Python, validates it for risk, and runs safe or
// approved artifacts in the sandbox.
type CodeAgent struct {
	models    ModelInvoker
	validator *safety.CodeValidator
	executor  *sandbox.Executor
	logger    *slog.Logger
}

// NewCodeAgent builds the code-execution agent.
func NewCodeAgent(models ModelInvoker, validator *safety.CodeValidator, executor *sandbox.Executor, logger *slog.Logger) *CodeAgent {
	if logger == nil {
		logger = slog.Default()
	}
	return &CodeAgent{
		models:    models,
		validator: validator,
		executor:  executor,
		logger:    logger.With("agent", NameCode),
	}
}

// Name implements Agent.
func (a *CodeAgent) Name() string { return NameCode }

// Execute implements Agent.
func (a *CodeAgent) Execute(ctx context.Context, st *datatypes.OrchestratorState) {
	ctx, span := codeTracer.Start(ctx, "CodeAgent.Execute")
	defer span.End()

	datatypes.Normalize(st)

	if st.Approved && st.CodeToExecute != "" {
		datatypes.EnsureMetadata(st)
		st.Metadata[datatypes.MetaApprovedExecution] = true
		st.ApprovalRequired = false
		a.run(ctx, st, true)
		return
	}
	if st.ApprovalRequired && !st.Approved {
		st.ExecutionStatus = datatypes.StatusPending
		st.ShouldContinue = false
		return
	}

	raw, err := a.models.Invoke(ctx, []llm.ChatMessage{
		{Role: datatypes.RoleSystem, Content: codeSystemPrompt},
		{Role: datatypes.RoleUser, Content: st.Query},
	}, st, llm.Temperature(0.0))
	if err != nil {
		failAttempt(st, a.Name(), err)
		return
	}
	code := stripCodeFence(raw)
	if strings.TrimSpace(code) == "" {
		failAttempt(st, a.Name(), fmt.Errorf("model returned empty code"))
		return
	}
	st.CodeToExecute = code

	verdict := a.validator.Validate(ctx, code)
	st.CodeValidation = &verdict
	if !verdict.Safe {
		reason := fmt.Sprintf("generated code flagged as %s risk: %s",
			verdict.RiskLevel, strings.Join(verdict.Reasons, "; "))
		a.logger.Info("Code artifact gated for approval", "risk", verdict.RiskLevel)
		requireApproval(st, reason, verdict.RiskLevel)
		return
	}

	a.run(ctx, st, false)
}

// run executes the artifact in the sandbox and finalizes or applies the
// retry protocol. Timeout, runtime, and setup failures all land on the
// error list with their distinct messages.
func (a *CodeAgent) run(ctx context.Context, st *datatypes.OrchestratorState, approved bool) {
	result, err := a.executor.Run(ctx, st.CodeToExecute)
	if err != nil {
		failAttempt(st, a.Name(), err)
		return
	}
	st.ExecutionResult = result.Stdout

	confidence := 0.85
	if approved {
		confidence = 0.95
	}
	complete(st, a.present(st), confidence)
}

func (a *CodeAgent) present(st *datatypes.OrchestratorState) string {
	var b strings.Builder
	b.WriteString("```python\n")
	b.WriteString(st.CodeToExecute)
	b.WriteString("\n```\n\nOutput:\n```\n")
	out := strings.TrimRight(st.ExecutionResult, "\n")
	if out == "" {
		out = "(no output)"
	}
	b.WriteString(out)
	b.WriteString("\n```")
	return b.String()
}

var _ Agent = (*CodeAgent)(nil)
