// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package graph

import (
	"context"
	"fmt"
	"strings"

	"github.com/AleutianAI/AleutianRelay/services/orchestrator/datatypes"
	"github.com/AleutianAI/AleutianRelay/services/orchestrator/observability"
)

// =============================================================================
// approval_gate
// =============================================================================

// approvalGate parks a run whose agent flagged a risky artifact and
// composes the user-facing approval request.
func (e *Engine) approvalGate(_ context.Context, st *datatypes.OrchestratorState) {
	agent := activeAgent(st)
	observability.RecordApproval(string(agent), "gated")
	e.logger.Info("Run gated for approval",
		"session_id", st.SessionID, "agent", agent, "risk", st.RiskLevel)

	st.ExecutionStatus = datatypes.StatusRequiresApproval
	st.RequiresHumanInput = true
	st.ShouldContinue = false
	if st.FinalAnswer != "" {
		return
	}

	var b strings.Builder
	b.WriteString("This request needs your approval before it runs.\n\n")
	fmt.Fprintf(&b, "Reason: %s\n", st.ApprovalReason)
	switch {
	case st.GeneratedSQL != "":
		fmt.Fprintf(&b, "\n```sql\n%s\n```\n", st.GeneratedSQL)
	case st.CodeToExecute != "":
		fmt.Fprintf(&b, "\n```python\n%s\n```\n", st.CodeToExecute)
	}
	b.WriteString("\nResubmit with approval to execute it unchanged.")

	st.FinalAnswer = b.String()
	st.AppendAssistantMessage(st.FinalAnswer, nil)
}

// approvalGateTransition re-enters the originating agent when approval is
// already present; only sql and code are re-enterable. Everything else
// terminates and waits for a follow-up invocation.
func (e *Engine) approvalGateTransition(st *datatypes.OrchestratorState) Next {
	agent := activeAgent(st)
	if st.Approved && (agent == NodeSQL || agent == NodeCode) {
		observability.RecordApproval(string(agent), "approved")
		return ContinueTo(agent)
	}
	return Terminal()
}

// =============================================================================
// retry_handler
// =============================================================================

// retryHandler is a pure counter step: the failing agent already advanced
// the retry counter, so this node only clears the loop signal and hands the
// run back. It regenerates nothing itself.
func (e *Engine) retryHandler(_ context.Context, st *datatypes.OrchestratorState) {
	agent := activeAgent(st)
	observability.RecordRetry(string(agent))
	e.logger.Info("Retrying agent after failure",
		"session_id", st.SessionID, "agent", agent,
		"attempt", st.RetryCount, "max_retries", st.MaxRetries)

	st.ShouldContinue = false
	st.ExecutionStatus = datatypes.StatusRunning
}

func (e *Engine) retryTransition(st *datatypes.OrchestratorState) Next {
	if agent := activeAgent(st); agent != "" {
		return ContinueTo(agent)
	}
	// No agent on record means the retry handler was reached without a
	// dispatch, which is a routing bug.
	st.AppendError("graph: retry handler reached with no active agent")
	return ContinueTo(NodeDiagnosticFallback)
}

// =============================================================================
// graceful_fallback
// =============================================================================

// gracefulFallback answers a policy-denied request with the denial reason.
// A denial is a first-class answer, not a failure.
func (e *Engine) gracefulFallback(_ context.Context, st *datatypes.OrchestratorState) {
	reason := ""
	if st.Metadata != nil {
		reason, _ = st.Metadata[datatypes.MetaPolicyDenialReason].(string)
	}
	if reason == "" {
		reason = "this request is not permitted for your plan"
	}

	st.FinalAnswer = "I can't run that request: " + reason
	st.AppendAssistantMessage(st.FinalAnswer, nil)
	st.ExecutionStatus = datatypes.StatusCompleted
	st.ConfidenceScore = 1.0
	st.ShouldContinue = false
}

// =============================================================================
// diagnostic_fallback
// =============================================================================

// diagnosticFallback handles true routing or classification breakdown. It
// is never the landing spot for legitimately ambiguous queries; those
// default to chat upstream.
func (e *Engine) diagnosticFallback(_ context.Context, st *datatypes.OrchestratorState) {
	detail := ""
	if st.Metadata != nil {
		detail, _ = st.Metadata[datatypes.MetaClassificationError].(string)
	}
	if detail == "" && len(st.Errors) > 0 {
		detail = st.Errors[len(st.Errors)-1]
	}
	e.logger.Error("Diagnostic fallback reached",
		"session_id", st.SessionID, "detail", detail)

	st.FinalAnswer = "I ran into an internal problem working out how to handle " +
		"that request. Please try again, or rephrase it."
	st.AppendAssistantMessage(st.FinalAnswer, nil)
	st.ExecutionStatus = datatypes.StatusCompleted
	st.ConfidenceScore = 0.3
	st.ShouldContinue = false
}
