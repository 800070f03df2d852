// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package datatypes provides the shared data structures for the orchestrator
// service.
//
// This file contains the run state that flows through the routing graph.
// Every graph node, agent, and sub-protocol reads and mutates a single
// *OrchestratorState in place; the normalizer in normalize.go is the sole
// authority on its schema. For HTTP request/response types see requests.go.
package datatypes

import (
	"fmt"
	"strings"
	"time"
)

// =============================================================================
// Intent
// =============================================================================

// Intent is the closed set of query classifications the router dispatches on.
type Intent string

const (
	// IntentRAG routes to document question answering over the workspace index.
	IntentRAG Intent = "rag"

	// IntentSQL routes to structured-query generation and execution.
	IntentSQL Intent = "sql"

	// IntentCode routes to code generation and sandboxed execution.
	IntentCode Intent = "code"

	// IntentResearch routes to web research and synthesis.
	IntentResearch Intent = "research"

	// IntentChat routes to open conversation.
	IntentChat Intent = "chat"

	// IntentUnknown is the default when classification cannot decide.
	// Unknown traffic is dispatched to chat, never to a fallback node.
	IntentUnknown Intent = "unknown"
)

// Valid reports whether i is a member of the closed intent set.
func (i Intent) Valid() bool {
	switch i {
	case IntentRAG, IntentSQL, IntentCode, IntentResearch, IntentChat, IntentUnknown:
		return true
	}
	return false
}

// ParseIntent maps a raw label to a member of the closed intent set.
//
// # Description
//
// Labels are matched case-insensitively after trimming. Anything outside the
// set collapses to IntentUnknown; this function never fails, mirroring the
// classifier's degrade-to-unknown contract.
func ParseIntent(label string) Intent {
	in := Intent(strings.ToLower(strings.TrimSpace(label)))
	if in.Valid() {
		return in
	}
	return IntentUnknown
}

// =============================================================================
// Execution Status
// =============================================================================

// ExecutionStatus tracks the run through the graph lifecycle.
type ExecutionStatus string

const (
	// StatusPending means no agent has produced a terminal result yet.
	StatusPending ExecutionStatus = "pending"

	// StatusRunning means an agent is mid-execution.
	StatusRunning ExecutionStatus = "running"

	// StatusCompleted means a final answer was produced.
	StatusCompleted ExecutionStatus = "completed"

	// StatusFailed means the retry budget was exhausted.
	StatusFailed ExecutionStatus = "failed"

	// StatusRequiresApproval means a risky artifact awaits explicit approval
	// on a follow-up invocation.
	StatusRequiresApproval ExecutionStatus = "requires_approval"
)

// Valid reports whether s is a known execution status.
func (s ExecutionStatus) Valid() bool {
	switch s {
	case StatusPending, StatusRunning, StatusCompleted, StatusFailed, StatusRequiresApproval:
		return true
	}
	return false
}

// RiskLevel grades a validated artifact. Empty means not assessed.
type RiskLevel string

const (
	RiskLow    RiskLevel = "low"
	RiskMedium RiskLevel = "medium"
	RiskHigh   RiskLevel = "high"
)

// =============================================================================
// Messages
// =============================================================================

// Message roles used in the conversation sequence.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleSystem    = "system"
)

// Message is one turn in the conversation sequence.
//
// The sequence is append-only: a message is never removed or edited once
// appended to OrchestratorState.Messages.
type Message struct {
	Role      string         `json:"role"`
	Content   string         `json:"content"`
	Metadata  map[string]any `json:"metadata,omitempty"`
	CreatedAt time.Time      `json:"created_at,omitempty"`
}

// =============================================================================
// Validation Verdicts
// =============================================================================

// ValidationResult is the risk verdict produced by an artifact validator.
type ValidationResult struct {
	Safe      bool      `json:"safe"`
	RiskLevel RiskLevel `json:"risk_level"`
	Reasons   []string  `json:"reasons,omitempty"`
}

// =============================================================================
// Storage Records
// =============================================================================

// DocumentRecord describes one registered workspace document.
type DocumentRecord struct {
	DocID     string    `json:"doc_id"`
	Path      string    `json:"path"`
	IndexPath string    `json:"index_path,omitempty"`
	AddedAt   time.Time `json:"added_at"`
}

// SessionRecord describes one persisted chat session in a workspace.
type SessionRecord struct {
	SessionID string    `json:"session_id"`
	Workspace string    `json:"workspace"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// =============================================================================
// Orchestrator State
// =============================================================================

// DefaultMaxRetries is the per-run retry budget applied at state construction.
// The budget is shared across every agent attempt in the run.
const DefaultMaxRetries = 3

// OrchestratorState is the single mutable record threaded through every node
// of the routing graph.
//
// # Description
//
// The state is created once per invocation, seeded with the identity triple
// and query, mutated in place by each node, and returned (normalized) when
// the graph terminates. It is never shared across invocations; the pipeline
// is single-threaded per run, so no locking is required.
//
// # Field Ownership
//
// Each agent owns exactly one group of output slots (RetrievedContext for
// rag, GeneratedSQL/SQLValidation for sql, CodeToExecute/ExecutionResult/
// CodeValidation for code, ResearchFindings for research). Agents must not
// read or write another agent's slots. Control and output fields are shared
// with the graph router.
//
// # Invariants
//
//   - Messages and Errors are append-only within a run.
//   - Query is immutable after first set; TenantID, UserID, SessionID and
//     IsGuest are set once at request start.
//   - FinalAnswer is written exactly once per run.
//   - Normalize guarantees every container field is non-nil and every enum
//     field holds a member of its set before any component reads it.
type OrchestratorState struct {
	// Identity (set once at request start).
	TenantID  string `json:"tenant_id"`
	UserID    string `json:"user_id"`
	IsGuest   bool   `json:"is_guest"`
	SessionID string `json:"session_id"`

	// Input.
	Query     string `json:"query"`
	TurnCount int    `json:"turn_count"`

	// Conversation. MemoryLoadedCount marks the boundary between messages
	// loaded from persistence and messages produced by this run; only the
	// suffix past the boundary is persisted at save time.
	Messages          []Message `json:"messages"`
	MemoryLoadedCount int       `json:"memory_loaded_count"`

	// Classification.
	Intent           Intent  `json:"intent"`
	IntentConfidence float64 `json:"intent_confidence"`

	// Agent output slots.
	RetrievedContext []string          `json:"retrieved_context"`
	GeneratedSQL     string            `json:"generated_sql,omitempty"`
	CodeToExecute    string            `json:"code_to_execute,omitempty"`
	ExecutionResult  string            `json:"execution_result,omitempty"`
	ResearchFindings []string          `json:"research_findings"`
	SQLValidation    *ValidationResult `json:"sql_validation,omitempty"`
	CodeValidation   *ValidationResult `json:"code_validation,omitempty"`

	// Control.
	Errors             []string        `json:"errors"`
	RetryCount         int             `json:"retry_count"`
	MaxRetries         int             `json:"max_retries"`
	Approved           bool            `json:"approved"`
	ApprovalRequired   bool            `json:"approval_required"`
	ApprovalReason     string          `json:"approval_reason,omitempty"`
	ExecutionStatus    ExecutionStatus `json:"execution_status"`
	RiskLevel          RiskLevel       `json:"risk_level,omitempty"`
	ShouldContinue     bool            `json:"should_continue"`
	RequiresHumanInput bool            `json:"requires_human_input"`

	// Output.
	FinalAnswer     string         `json:"final_answer"`
	ConfidenceScore float64        `json:"confidence_score"`
	Metadata        map[string]any `json:"metadata"`

	// Provenance.
	ModelUsed      string `json:"model_used,omitempty"`
	FallbackReason string `json:"fallback_reason,omitempty"`

	// Documents supplied for this run only. Registered (with cross-run
	// dedup) during context load, then left untouched.
	UploadedDocs []string `json:"uploaded_docs"`
}

// NewState creates a normalized state seeded with the identity triple and
// query. MaxRetries starts at DefaultMaxRetries; callers may override it via
// extra-field seeding before the run starts.
func NewState(query, tenantID, userID, sessionID string) *OrchestratorState {
	st := &OrchestratorState{
		TenantID:   tenantID,
		UserID:     userID,
		SessionID:  sessionID,
		Query:      query,
		MaxRetries: DefaultMaxRetries,
	}
	return Normalize(st)
}

// AppendError records a failure message on the append-only error list.
func (s *OrchestratorState) AppendError(format string, args ...any) {
	EnsureErrors(s)
	s.Errors = append(s.Errors, fmt.Sprintf(format, args...))
}

// AppendAssistantMessage appends one assistant turn to the conversation.
func (s *OrchestratorState) AppendAssistantMessage(content string, metadata map[string]any) {
	s.Messages = append(s.Messages, Message{
		Role:      RoleAssistant,
		Content:   content,
		Metadata:  metadata,
		CreatedAt: time.Now().UTC(),
	})
}

// AppendUserMessage appends one user turn to the conversation.
func (s *OrchestratorState) AppendUserMessage(content string) {
	s.Messages = append(s.Messages, Message{
		Role:      RoleUser,
		Content:   content,
		CreatedAt: time.Now().UTC(),
	})
}

// RecentMessages returns up to n messages from the tail of the conversation.
// The returned slice aliases the state; callers must not mutate it.
func (s *OrchestratorState) RecentMessages(n int) []Message {
	if n <= 0 || len(s.Messages) == 0 {
		return nil
	}
	if len(s.Messages) <= n {
		return s.Messages
	}
	return s.Messages[len(s.Messages)-n:]
}

// SetModelUsed records that the primary model answered. Clears any stale
// fallback marker from an earlier call in the same run.
func (s *OrchestratorState) SetModelUsed(model string) {
	s.ModelUsed = model
	s.FallbackReason = ""
}

// SetFallback records that the fallback model answered and why, and marks
// the run for a single user-facing fallback notice.
//
// The metadata flag is idempotent: repeated fallbacks within one run keep
// the first notice and do not duplicate it.
func (s *OrchestratorState) SetFallback(model, reason string) {
	s.ModelUsed = model
	s.FallbackReason = reason
	EnsureMetadata(s)
	if _, done := s.Metadata[MetaFallbackNotified]; !done {
		s.Metadata[MetaFallbackNotified] = true
		s.Metadata[MetaFallbackNotice] = fmt.Sprintf(
			"Note: answered by fallback model %s (%s).", model, reason)
	}
}

// FallbackNotice returns the user-facing fallback notice for this run, or ""
// when every call was served by the primary model.
func (s *OrchestratorState) FallbackNotice() string {
	if s.Metadata == nil {
		return ""
	}
	if notice, ok := s.Metadata[MetaFallbackNotice].(string); ok {
		return notice
	}
	return ""
}

// Metadata keys written by the core. Values are free-form; these constants
// only pin the key spelling shared between components.
const (
	// MetaRoutingOverride records why the router overrode the classifier.
	MetaRoutingOverride = "routing_override"

	// MetaClassificationError records why classification degraded to unknown.
	MetaClassificationError = "classification_error"

	// MetaPolicyDenialReason carries the tenant-policy denial to the
	// graceful fallback node.
	MetaPolicyDenialReason = "policy_denial_reason"

	// MetaFallbackNotified marks that the one-per-run fallback notice was
	// already issued.
	MetaFallbackNotified = "fallback_notified"

	// MetaFallbackNotice is the user-facing fallback notice text.
	MetaFallbackNotice = "fallback_notice"

	// MetaApprovedExecution marks a final answer produced from an
	// explicitly approved artifact.
	MetaApprovedExecution = "approved_execution"

	// MetaWorkspaceDocCount is the number of registered workspace documents,
	// recorded at context load for routing and classification bias.
	MetaWorkspaceDocCount = "workspace_doc_count"
)

// WorkspaceDocCount returns the registered document count recorded at
// context load, tolerating the number having round-tripped through JSON.
func (s *OrchestratorState) WorkspaceDocCount() int {
	if s.Metadata == nil {
		return 0
	}
	switch v := s.Metadata[MetaWorkspaceDocCount].(type) {
	case int:
		return v
	case float64:
		return int(v)
	}
	return 0
}
