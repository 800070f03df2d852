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
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/AleutianRelay/services/llm"
	"github.com/AleutianAI/AleutianRelay/services/orchestrator/agents"
	"github.com/AleutianAI/AleutianRelay/services/orchestrator/datatypes"
	"github.com/AleutianAI/AleutianRelay/services/orchestrator/research"
	"github.com/AleutianAI/AleutianRelay/services/orchestrator/retrieval"
	"github.com/AleutianAI/AleutianRelay/services/orchestrator/safety"
	"github.com/AleutianAI/AleutianRelay/services/orchestrator/sandbox"
	"github.com/AleutianAI/AleutianRelay/services/orchestrator/storage"
)

// scriptedModel routes every model call through a single script function.
// Classifier calls are distinguished by their system prompt.
type scriptedModel struct {
	calls  int
	script func(call int, classifierCall bool, msgs []llm.ChatMessage) (string, error)
}

func (m *scriptedModel) Invoke(_ context.Context, msgs []llm.ChatMessage, rec llm.ModelRecorder, _ llm.GenerationParams) (string, error) {
	m.calls++
	classifierCall := len(msgs) > 0 && strings.Contains(msgs[0].Content, "intent classifier")
	out, err := m.script(m.calls, classifierCall, msgs)
	if err == nil && rec != nil {
		rec.SetModelUsed("fake-model")
	}
	return out, err
}

type staticSearcher struct {
	findings []research.Finding
}

func (s *staticSearcher) Search(context.Context, string) []research.Finding {
	return s.findings
}

type denyAllPolicy struct{}

func (denyAllPolicy) IsAgentAllowed(string, string) bool { return false }
func (denyAllPolicy) ValidateRequest(string, string, string) (bool, string) {
	return false, "tier 'free' does not allow this agent"
}

func newTestEngine(t *testing.T, model agents.ModelInvoker, searcher agents.Searcher, policy PolicyChecker) (*Engine, storage.Store) {
	t.Helper()

	store, err := storage.NewBadgerStore(storage.InMemoryConfig())
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	reg := retrieval.NewRegistry(func(_ context.Context, key retrieval.Key) (retrieval.Index, error) {
		return retrieval.NewMemoryIndex(key), nil
	}, nil)

	if searcher == nil {
		searcher = &staticSearcher{}
	}

	engine := NewEngine(Deps{
		Store:      store,
		Registry:   reg,
		Classifier: agents.NewClassifier(model, nil),
		Agents: []agents.Agent{
			agents.NewChatAgent(model, nil),
			agents.NewRAGAgent(model, reg, nil),
			agents.NewSQLAgent(model, safety.NewSQLValidator(), nil),
			agents.NewCodeAgent(model, safety.NewCodeValidator(),
				sandbox.NewExecutor(sandbox.Config{Timeout: 10 * time.Second}, nil), nil),
			agents.NewResearchAgent(model, searcher, nil),
		},
		Policy:   policy,
		IndexDir: t.TempDir(),
	})
	return engine, store
}

// =============================================================================
// Happy Path
// =============================================================================

func TestRunCompletesChatQuery(t *testing.T) {
	model := &scriptedModel{script: func(_ int, classifierCall bool, _ []llm.ChatMessage) (string, error) {
		if classifierCall {
			return `{"intent": "chat", "confidence": 0.95}`, nil
		}
		return "Hi! How can I help?", nil
	}}
	engine, store := newTestEngine(t, model, nil, nil)

	st := engine.Invoke(context.Background(), "hello there", "acme", "u1", "sess-1", nil)

	assert.Equal(t, datatypes.StatusCompleted, st.ExecutionStatus)
	assert.Equal(t, datatypes.IntentChat, st.Intent)
	assert.Equal(t, "Hi! How can I help?", st.FinalAnswer)
	assert.Equal(t, "fake-model", st.ModelUsed)

	// Both the user turn and the assistant turn were persisted.
	msgs, err := store.LoadMessages(context.Background(), "u1", "acme", "sess-1", 0)
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, datatypes.RoleUser, msgs[0].Role)
	assert.Equal(t, datatypes.RoleAssistant, msgs[1].Role)

	sessions, err := store.ListSessions(context.Background(), "u1", "acme")
	require.NoError(t, err)
	require.Len(t, sessions, 1)
	assert.Equal(t, "hello there", sessions[0].Name)
}

func TestRunAutogeneratesSessionID(t *testing.T) {
	model := &scriptedModel{script: func(_ int, classifierCall bool, _ []llm.ChatMessage) (string, error) {
		if classifierCall {
			return `{"intent": "chat", "confidence": 0.9}`, nil
		}
		return "ok", nil
	}}
	engine, _ := newTestEngine(t, model, nil, nil)

	st := engine.Invoke(context.Background(), "hello", "acme", "u1", "", nil)

	assert.NotEmpty(t, st.SessionID)
}

func TestConversationHistoryCarriesAcrossRuns(t *testing.T) {
	model := &scriptedModel{script: func(_ int, classifierCall bool, _ []llm.ChatMessage) (string, error) {
		if classifierCall {
			return `{"intent": "chat", "confidence": 0.9}`, nil
		}
		return "answer", nil
	}}
	engine, _ := newTestEngine(t, model, nil, nil)

	first := engine.Invoke(context.Background(), "first question", "acme", "u1", "sess-1", nil)
	assert.Zero(t, first.MemoryLoadedCount)

	second := engine.Invoke(context.Background(), "second question", "acme", "u1", "sess-1", nil)
	assert.Equal(t, 2, second.MemoryLoadedCount)
	assert.Equal(t, 2, second.TurnCount)
}

// =============================================================================
// Retry Protocol
// =============================================================================

func TestRetryBudgetExhaustion(t *testing.T) {
	model := &scriptedModel{script: func(_ int, classifierCall bool, _ []llm.ChatMessage) (string, error) {
		if classifierCall {
			return `{"intent": "chat", "confidence": 0.9}`, nil
		}
		return "", errors.New("backend down")
	}}
	engine, _ := newTestEngine(t, model, nil, nil)

	st := engine.Invoke(context.Background(), "hello", "acme", "u1", "sess-1",
		map[string]any{"max_retries": 2})

	assert.Equal(t, datatypes.StatusFailed, st.ExecutionStatus)
	assert.Equal(t, 2, st.RetryCount)
	// One error per attempt: the original plus two retries.
	assert.Len(t, st.Errors, 3)
	assert.Contains(t, st.FinalAnswer, "backend down")
	assert.Contains(t, st.FinalAnswer, "3 attempts")
}

func TestRetryZeroBudgetFailsFirstAttempt(t *testing.T) {
	agentCalls := 0
	model := &scriptedModel{script: func(_ int, classifierCall bool, _ []llm.ChatMessage) (string, error) {
		if classifierCall {
			return `{"intent": "chat", "confidence": 0.9}`, nil
		}
		agentCalls++
		return "", errors.New("backend down")
	}}
	engine, _ := newTestEngine(t, model, nil, nil)

	st := engine.Invoke(context.Background(), "hello", "acme", "u1", "sess-1",
		map[string]any{"max_retries": 0})

	assert.Equal(t, datatypes.StatusFailed, st.ExecutionStatus)
	assert.Zero(t, st.RetryCount)
	assert.Equal(t, 1, agentCalls)
	assert.Len(t, st.Errors, 1)
}

// =============================================================================
// Routing Overrides
// =============================================================================

func TestRecencyOverrideBeatsConfidentClassifier(t *testing.T) {
	model := &scriptedModel{script: func(_ int, classifierCall bool, _ []llm.ChatMessage) (string, error) {
		if classifierCall {
			// Classifier is confidently wrong.
			return `{"intent": "chat", "confidence": 0.98}`, nil
		}
		return "It is 18 degrees and clear.", nil
	}}
	engine, _ := newTestEngine(t, model, &staticSearcher{findings: []research.Finding{
		{Snippet: "18 degrees, clear skies"},
	}}, nil)

	st := engine.Invoke(context.Background(), "What's the weather today?", "acme", "u1", "sess-1", nil)

	assert.Equal(t, datatypes.IntentResearch, st.Intent)
	assert.GreaterOrEqual(t, st.IntentConfidence, 0.75)
	assert.Contains(t, st.Metadata[datatypes.MetaRoutingOverride], "recency keyword")
	assert.Equal(t, datatypes.StatusCompleted, st.ExecutionStatus)
	assert.NotEmpty(t, st.ResearchFindings)
}

func TestLowConfidenceWithDocsRoutesToRAG(t *testing.T) {
	path := filepath.Join(t.TempDir(), "notes.md")
	require.NoError(t, os.WriteFile(path,
		[]byte("The migration plan moves the billing service to the new cluster in October."), 0640))

	model := &scriptedModel{script: func(_ int, classifierCall bool, _ []llm.ChatMessage) (string, error) {
		if classifierCall {
			return `{"intent": "unknown", "confidence": 0.1}`, nil
		}
		return "The migration happens in October.", nil
	}}
	engine, _ := newTestEngine(t, model, nil, nil)

	st := engine.Invoke(context.Background(), "explain the migration plan for billing", "acme", "u1", "sess-1",
		map[string]any{"uploaded_docs": []string{path}})

	assert.Equal(t, datatypes.IntentRAG, st.Intent)
	assert.InDelta(t, 0.8, st.IntentConfidence, 1e-9)
	assert.Equal(t, datatypes.StatusCompleted, st.ExecutionStatus)
}

func TestTriggerWordAloneDoesNotForceRAG(t *testing.T) {
	path := filepath.Join(t.TempDir(), "notes.md")
	require.NoError(t, os.WriteFile(path,
		[]byte("The migration plan moves the billing service to the new cluster in October."), 0640))

	model := &scriptedModel{script: func(_ int, classifierCall bool, _ []llm.ChatMessage) (string, error) {
		if classifierCall {
			return `{"intent": "unknown", "confidence": 0.1}`, nil
		}
		return "chat answer", nil
	}}
	engine, _ := newTestEngine(t, model, nil, nil)

	// A bare trigger word carries too little signal for the document
	// override, even with documents registered.
	st := engine.Invoke(context.Background(), "what", "acme", "u1", "sess-1",
		map[string]any{"uploaded_docs": []string{path}})

	assert.Equal(t, datatypes.IntentChat, st.Intent)
	assert.Equal(t, "chat answer", st.FinalAnswer)
	assert.Equal(t, datatypes.StatusCompleted, st.ExecutionStatus)
}

func TestUnknownWithoutDocsDefaultsToChat(t *testing.T) {
	model := &scriptedModel{script: func(_ int, classifierCall bool, _ []llm.ChatMessage) (string, error) {
		if classifierCall {
			return `{"intent": "unknown", "confidence": 0}`, nil
		}
		return "chat answer", nil
	}}
	engine, _ := newTestEngine(t, model, nil, nil)

	st := engine.Invoke(context.Background(), "hm", "acme", "u1", "sess-1", nil)

	assert.Equal(t, datatypes.IntentChat, st.Intent)
	assert.Equal(t, datatypes.StatusCompleted, st.ExecutionStatus)
	assert.Equal(t, "chat answer", st.FinalAnswer)
}

func TestClassifierBreakdownRoutesToDiagnosticFallback(t *testing.T) {
	model := &scriptedModel{script: func(_ int, classifierCall bool, _ []llm.ChatMessage) (string, error) {
		if classifierCall {
			return "", errors.New("connection refused")
		}
		return "should not be reached", nil
	}}
	engine, _ := newTestEngine(t, model, nil, nil)

	st := engine.Invoke(context.Background(), "hello", "acme", "u1", "sess-1", nil)

	assert.Equal(t, datatypes.StatusCompleted, st.ExecutionStatus)
	assert.Contains(t, st.FinalAnswer, "internal problem")
	// Only the classifier call happened.
	assert.Equal(t, 1, model.calls)
}

func TestPolicyDenialRoutesToGracefulFallback(t *testing.T) {
	model := &scriptedModel{script: func(_ int, classifierCall bool, _ []llm.ChatMessage) (string, error) {
		if classifierCall {
			return `{"intent": "code", "confidence": 0.9}`, nil
		}
		return "should not be reached", nil
	}}
	engine, _ := newTestEngine(t, model, nil, denyAllPolicy{})

	st := engine.Invoke(context.Background(), "run some code", "acme", "u1", "sess-1", nil)

	assert.Equal(t, datatypes.StatusCompleted, st.ExecutionStatus)
	assert.Contains(t, st.FinalAnswer, "does not allow")
	assert.Equal(t, "tier 'free' does not allow this agent", st.Metadata[datatypes.MetaPolicyDenialReason])
	assert.Equal(t, 1, model.calls)
}

// =============================================================================
// Approval Round Trip
// =============================================================================

func TestApprovalRoundTripWithoutRegeneration(t *testing.T) {
	generations := 0
	model := &scriptedModel{script: func(_ int, classifierCall bool, _ []llm.ChatMessage) (string, error) {
		if classifierCall {
			return `{"intent": "sql", "confidence": 0.9}`, nil
		}
		generations++
		return "DROP TABLE sales", nil
	}}
	engine, _ := newTestEngine(t, model, nil, nil)

	first := engine.Invoke(context.Background(), "remove the sales table", "acme", "u1", "sess-1", nil)

	require.Equal(t, datatypes.StatusRequiresApproval, first.ExecutionStatus)
	assert.True(t, first.ApprovalRequired)
	assert.Equal(t, datatypes.RiskHigh, first.RiskLevel)
	assert.Contains(t, first.FinalAnswer, "approval")
	assert.Empty(t, first.ExecutionResult)
	require.Equal(t, 1, generations)

	second := engine.Invoke(context.Background(), "remove the sales table", "acme", "u1", "sess-1",
		map[string]any{"approved": true, "generated_sql": first.GeneratedSQL})

	assert.Equal(t, datatypes.StatusCompleted, second.ExecutionStatus)
	assert.Contains(t, second.FinalAnswer, "DROP TABLE sales")
	assert.Equal(t, true, second.Metadata[datatypes.MetaApprovedExecution])
	// The artifact was carried, not regenerated.
	assert.Equal(t, 1, generations)
}

// =============================================================================
// Document Registration
// =============================================================================

func TestDocumentDedupAcrossRuns(t *testing.T) {
	path := filepath.Join(t.TempDir(), "report.md")
	require.NoError(t, os.WriteFile(path,
		[]byte("Quarterly revenue grew twelve percent against the prior year."), 0640))

	model := &scriptedModel{script: func(_ int, classifierCall bool, _ []llm.ChatMessage) (string, error) {
		if classifierCall {
			return `{"intent": "chat", "confidence": 0.9}`, nil
		}
		return "noted", nil
	}}
	engine, store := newTestEngine(t, model, nil, nil)

	extra := map[string]any{"uploaded_docs": []string{path}}
	engine.Invoke(context.Background(), "take note of this report", "acme", "u1", "sess-1", extra)

	records, _, err := store.ListWorkspaceDocuments(context.Background(), "u1", "acme")
	require.NoError(t, err)
	require.Len(t, records, 1)

	key := retrieval.Key{Tenant: "acme", User: "u1", Workspace: "acme"}
	idx, ok := engine.registry.Peek(key)
	require.True(t, ok)
	chunksAfterFirst := idx.(*retrieval.MemoryIndex).Len()

	engine.Invoke(context.Background(), "same report again", "acme", "u1", "sess-2", extra)

	records, _, err = store.ListWorkspaceDocuments(context.Background(), "u1", "acme")
	require.NoError(t, err)
	assert.Len(t, records, 1)
	assert.Equal(t, chunksAfterFirst, idx.(*retrieval.MemoryIndex).Len())
}

// =============================================================================
// Transition Tables
// =============================================================================

func TestAgentTransitionTable(t *testing.T) {
	cases := []struct {
		name string
		st   *datatypes.OrchestratorState
		want Next
	}{
		{
			name: "unapproved risk gates",
			st:   &datatypes.OrchestratorState{ApprovalRequired: true},
			want: ContinueTo(NodeApprovalGate),
		},
		{
			name: "retriable failure loops",
			st:   &datatypes.OrchestratorState{ShouldContinue: true},
			want: ContinueTo(NodeRetryHandler),
		},
		{
			name: "completed terminates",
			st:   &datatypes.OrchestratorState{ExecutionStatus: datatypes.StatusCompleted},
			want: Terminal(),
		},
		{
			name: "approved gate does not re-gate",
			st:   &datatypes.OrchestratorState{ApprovalRequired: true, Approved: true},
			want: Terminal(),
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, agentTransition(tc.st))
		})
	}
}

func TestRetryTransitionWithoutActiveAgent(t *testing.T) {
	engine, _ := newTestEngine(t, &scriptedModel{script: func(int, bool, []llm.ChatMessage) (string, error) {
		return "", nil
	}}, nil, nil)

	st := datatypes.NewState("q", "t", "u", "s")
	next := engine.retryTransition(st)

	assert.Equal(t, ContinueTo(NodeDiagnosticFallback), next)
	assert.NotEmpty(t, st.Errors)
}
