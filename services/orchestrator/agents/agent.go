// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package agents implements the five query handlers and the intent
// classifier.
//
// Every agent satisfies the same contract: Execute mutates the run state in
// place and never returns an error. Failures are folded into the state
// (error list, retry bookkeeping, failed status) so the routing graph always
// receives a well-formed state back, whatever went wrong inside.
package agents

import (
	"context"
	"fmt"
	"strings"

	"github.com/AleutianAI/AleutianRelay/services/llm"
	"github.com/AleutianAI/AleutianRelay/services/orchestrator/datatypes"
)

// Agent names double as tenant-policy agent identifiers.
const (
	NameChat     = "chat"
	NameRAG      = "rag"
	NameSQL      = "sql"
	NameCode     = "code"
	NameResearch = "research"
)

// Agent is one query handler.
type Agent interface {
	// Name identifies the agent for routing, policy checks, and logs.
	Name() string

	// Execute runs the agent against the state, mutating it in place.
	// Execute never panics and has no error return: every failure is
	// recorded on the state itself.
	Execute(ctx context.Context, st *datatypes.OrchestratorState)
}

// ModelInvoker is the slice of the llm.Router the agents depend on. Tests
// substitute a scripted fake.
type ModelInvoker interface {
	Invoke(ctx context.Context, messages []llm.ChatMessage, rec llm.ModelRecorder, params llm.GenerationParams) (string, error)
}

// =============================================================================
// Shared Contract Helpers
// =============================================================================

// complete finalizes a successful run: one assistant message, the final
// answer, completed status. A pending fallback notice is folded into the
// user-visible answer here, which bounds it to once per run since the final
// answer is written exactly once.
func complete(st *datatypes.OrchestratorState, answer string, confidence float64) {
	if notice := st.FallbackNotice(); notice != "" {
		answer = notice + "\n\n" + answer
	}
	st.AppendAssistantMessage(answer, nil)
	st.FinalAnswer = answer
	st.ConfidenceScore = confidence
	st.ExecutionStatus = datatypes.StatusCompleted
	st.ShouldContinue = false
	st.RequiresHumanInput = false
}

// failAttempt applies the shared retry protocol to one failed attempt.
//
// Under budget the counter advances and the should-continue flag asks the
// router to loop back. Over budget the run fails with a final message
// enumerating every accumulated error.
func failAttempt(st *datatypes.OrchestratorState, agentName string, err error) {
	st.AppendError("%s: %v", agentName, err)

	if st.RetryCount < st.MaxRetries {
		st.RetryCount++
		st.ShouldContinue = true
		st.ExecutionStatus = datatypes.StatusRunning
		return
	}

	st.ShouldContinue = false
	st.ExecutionStatus = datatypes.StatusFailed
	st.FinalAnswer = failureSummary(st)
	st.ConfidenceScore = 0
	st.AppendAssistantMessage(st.FinalAnswer, nil)
}

func failureSummary(st *datatypes.OrchestratorState) string {
	var b strings.Builder
	b.WriteString("I was unable to complete your request after ")
	if st.RetryCount == 0 {
		b.WriteString("the first attempt")
	} else {
		fmt.Fprintf(&b, "%d attempts", st.RetryCount+1)
	}
	b.WriteString(". Errors encountered:\n")
	for i, e := range st.Errors {
		fmt.Fprintf(&b, "%d. %s\n", i+1, e)
	}
	return strings.TrimRight(b.String(), "\n")
}

// requireApproval parks the run until the caller explicitly approves the
// flagged artifact on a follow-up invocation.
func requireApproval(st *datatypes.OrchestratorState, reason string, risk datatypes.RiskLevel) {
	st.ApprovalRequired = true
	st.ApprovalReason = reason
	st.RiskLevel = risk
	st.ExecutionStatus = datatypes.StatusRequiresApproval
	st.RequiresHumanInput = true
	st.ShouldContinue = false
}

// historyWindow converts the most recent n conversation turns into chat
// messages, prefixed with the system prompt.
func historyWindow(st *datatypes.OrchestratorState, system string, n int) []llm.ChatMessage {
	recent := st.RecentMessages(n)
	msgs := make([]llm.ChatMessage, 0, len(recent)+1)
	if system != "" {
		msgs = append(msgs, llm.ChatMessage{Role: datatypes.RoleSystem, Content: system})
	}
	for _, m := range recent {
		if m.Role == datatypes.RoleSystem {
			continue
		}
		msgs = append(msgs, llm.ChatMessage{Role: m.Role, Content: m.Content})
	}
	return msgs
}

// stripCodeFence removes a surrounding markdown code fence from a generated
// artifact, tolerating a language tag on the opening fence.
func stripCodeFence(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	if idx := strings.Index(s, "\n"); idx >= 0 {
		first := strings.TrimSpace(s[:idx])
		if len(first) <= 12 && !strings.ContainsAny(first, " \t") {
			s = s[idx+1:]
		}
	}
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}
