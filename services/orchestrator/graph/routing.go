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
	"fmt"
	"strings"

	"github.com/AleutianAI/AleutianRelay/services/orchestrator/agents"
	"github.com/AleutianAI/AleutianRelay/services/orchestrator/datatypes"
)

// =============================================================================
// Routing Constants
// =============================================================================

// recencyKeywords force the research agent: these queries need current
// information no classifier label can override.
var recencyKeywords = []string{
	"weather", "temperature", "current", "today", "now",
	"latest", "recent", "this week", "this month",
}

// ragTriggers are lookup/explain-style words that bias unknown or
// low-confidence queries toward document QA when documents exist.
var ragTriggers = []string{
	"explain", "summarize", "what", "where", "how",
	"list", "describe", "analysis", "insight",
}

const (
	// lowConfidenceThreshold is the floor under which a classifier label is
	// not trusted for direct dispatch.
	lowConfidenceThreshold = 0.4

	// recencyBoostConfidence is the minimum confidence after a recency
	// override.
	recencyBoostConfidence = 0.75

	// docOverrideTriggerConfidence applies when documents exist and the
	// query carries a lookup trigger word.
	docOverrideTriggerConfidence = 0.8

	// docOverrideLengthConfidence applies when documents exist and the
	// query is merely nontrivial in length.
	docOverrideLengthConfidence = 0.55

	// nontrivialQueryRunes is the length floor for the weaker doc override.
	nontrivialQueryRunes = 20

	// triggerQueryRunes is the length floor for the trigger-word doc
	// override: a bare trigger word alone is too little signal.
	triggerQueryRunes = 5

	// chatDefaultConfidence is assigned when unknown traffic defaults to
	// chat.
	chatDefaultConfidence = 0.6
)

// =============================================================================
// Routing Decision
// =============================================================================

// routeFromClassifier is the classify_intent transition: the priority-ordered
// routing decision.
//
// # Description
//
// Priority order:
//  1. An approved run carrying a prior artifact re-enters its originating
//     agent directly; only sql and code are re-enterable this way.
//  2. A recency keyword forces research regardless of the classifier,
//     boosting confidence and recording the override reason.
//  3. Unknown or low-confidence labels consult the document overrides; with
//     no override, traffic defaults to chat unless classification itself
//     broke, which is the one case that routes to diagnostic_fallback.
//  4. Valid labels dispatch directly.
//  5. Anything else is a contract violation and routes to
//     diagnostic_fallback.
//
// Every agent dispatch passes through the tenant policy check; a denial
// routes to graceful_fallback with the reason in metadata.
func (e *Engine) routeFromClassifier(st *datatypes.OrchestratorState) Next {
	if st.Approved && st.GeneratedSQL != "" {
		return e.dispatch(st, agents.NameSQL)
	}
	if st.Approved && st.CodeToExecute != "" {
		return e.dispatch(st, agents.NameCode)
	}

	query := strings.ToLower(st.Query)

	if kw := matchKeyword(query, recencyKeywords); kw != "" {
		st.Intent = datatypes.IntentResearch
		if st.IntentConfidence < recencyBoostConfidence {
			st.IntentConfidence = recencyBoostConfidence
		}
		datatypes.EnsureMetadata(st)
		st.Metadata[datatypes.MetaRoutingOverride] = fmt.Sprintf(
			"recency keyword %q forced research", kw)
		return e.dispatch(st, agents.NameResearch)
	}

	if st.Intent == datatypes.IntentUnknown || st.IntentConfidence < lowConfidenceThreshold {
		return e.routeLowConfidence(st, query)
	}

	if st.Intent.Valid() {
		return e.dispatch(st, agents.Route(st.Intent))
	}

	// Normalize repairs invalid intents before transitions run, so reaching
	// here means the state machine itself is broken.
	st.AppendError("graph: routing contract violation: intent %q", st.Intent)
	return ContinueTo(NodeDiagnosticFallback)
}

func (e *Engine) routeLowConfidence(st *datatypes.OrchestratorState, query string) Next {
	hasDocs := st.WorkspaceDocCount() > 0
	queryRunes := len([]rune(strings.TrimSpace(query)))

	if hasDocs && matchKeyword(query, ragTriggers) != "" && queryRunes > triggerQueryRunes {
		st.Intent = datatypes.IntentRAG
		st.IntentConfidence = docOverrideTriggerConfidence
		datatypes.EnsureMetadata(st)
		st.Metadata[datatypes.MetaRoutingOverride] = "low confidence with documents and lookup trigger"
		return e.dispatch(st, agents.NameRAG)
	}
	if hasDocs && queryRunes > nontrivialQueryRunes {
		st.Intent = datatypes.IntentRAG
		st.IntentConfidence = docOverrideLengthConfidence
		datatypes.EnsureMetadata(st)
		st.Metadata[datatypes.MetaRoutingOverride] = "low confidence with documents and nontrivial query"
		return e.dispatch(st, agents.NameRAG)
	}

	if classificationBroke(st) {
		// True breakdown: the classifier backend failed or returned
		// garbage. Normal unknown-intent traffic never lands here.
		st.Intent = datatypes.IntentChat
		st.IntentConfidence = chatDefaultConfidence
		return ContinueTo(NodeDiagnosticFallback)
	}

	st.Intent = datatypes.IntentChat
	st.IntentConfidence = chatDefaultConfidence
	return e.dispatch(st, agents.NameChat)
}

// classificationBroke distinguishes a failed classifier from a legitimately
// ambiguous query: failures append to the error list, ambiguity only to
// metadata.
func classificationBroke(st *datatypes.OrchestratorState) bool {
	for _, errMsg := range st.Errors {
		if strings.HasPrefix(errMsg, "classifier:") {
			return true
		}
	}
	return false
}

// dispatch routes to the named agent after the tenant policy check.
func (e *Engine) dispatch(st *datatypes.OrchestratorState, agent string) Next {
	if e.policy != nil {
		ok, reason := e.policy.ValidateRequest(st.TenantID, st.Query, agent)
		if !ok {
			e.logger.Info("Tenant policy denied dispatch",
				"tenant_id", st.TenantID, "agent", agent, "reason", reason)
			datatypes.EnsureMetadata(st)
			st.Metadata[datatypes.MetaPolicyDenialReason] = reason
			return ContinueTo(NodeGracefulFallback)
		}
	}
	return ContinueTo(NodeName(agent))
}

func matchKeyword(query string, keywords []string) string {
	for _, kw := range keywords {
		if strings.Contains(query, kw) {
			return kw
		}
	}
	return ""
}
