// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Request and response types for the orchestrator HTTP surface, plus the
// extra-field seeding applied at the invocation boundary.
package datatypes

import (
	"fmt"

	"github.com/go-playground/validator/v10"
)

// MaxQueryBytes is the maximum size of a single query body. Oversized
// payloads are rejected at the boundary before any model call.
const MaxQueryBytes = 16 * 1024 // 16KB

// stateValidate is the validator instance for orchestrator datatypes.
// Initialized in init() with custom validators.
var stateValidate *validator.Validate

func init() {
	stateValidate = validator.New()
	_ = stateValidate.RegisterValidation("maxbytes", validateQueryBytes)
}

// validateQueryBytes enforces MaxQueryBytes on a string field. Byte length
// is checked, not rune count, to bound memory on multi-byte payloads.
func validateQueryBytes(fl validator.FieldLevel) bool {
	return len(fl.Field().String()) <= MaxQueryBytes
}

// =============================================================================
// Invocation Types
// =============================================================================

// OrchestrateRequest is the body of POST /api/v1/orchestrate.
//
// # Fields
//
//   - Query: Required. The user's question, up to 16KB.
//   - TenantID: Required. Tenant scoping the run for policy and storage.
//   - UserID: Required. User owning the workspace.
//   - SessionID: Optional. Conversation to resume; auto-generated if empty.
//   - Extra: Optional. Pre-seeds state fields before the run starts. See
//     ApplyExtra for the recognized keys.
type OrchestrateRequest struct {
	Query     string         `json:"query" validate:"required,maxbytes"`
	TenantID  string         `json:"tenant_id" validate:"required,max=128"`
	UserID    string         `json:"user_id" validate:"required,max=128"`
	SessionID string         `json:"session_id,omitempty" validate:"max=128"`
	Extra     map[string]any `json:"extra,omitempty"`
}

// Validate validates the OrchestrateRequest fields.
func (r *OrchestrateRequest) Validate() error {
	if err := stateValidate.Struct(r); err != nil {
		return fmt.Errorf("invalid orchestrate request: %w", err)
	}
	return nil
}

// ApproveRequest is the body of POST /api/v1/approve. It resumes a run that
// stopped at the approval gate, carrying the flagged artifact forward.
//
// Approval is never inferred: the caller must supply Approved=true together
// with the artifact returned by the gated run. Only SQL and code artifacts
// are re-enterable.
type ApproveRequest struct {
	Query         string `json:"query" validate:"required,maxbytes"`
	TenantID      string `json:"tenant_id" validate:"required,max=128"`
	UserID        string `json:"user_id" validate:"required,max=128"`
	SessionID     string `json:"session_id" validate:"required,max=128"`
	Approved      bool   `json:"approved"`
	GeneratedSQL  string `json:"generated_sql,omitempty"`
	CodeToExecute string `json:"code_to_execute,omitempty"`
}

// Validate validates the ApproveRequest fields.
func (r *ApproveRequest) Validate() error {
	if err := stateValidate.Struct(r); err != nil {
		return fmt.Errorf("invalid approve request: %w", err)
	}
	return nil
}

// RegisterDocumentsRequest is the body of POST /api/v1/documents.
type RegisterDocumentsRequest struct {
	TenantID string   `json:"tenant_id" validate:"required,max=128"`
	UserID   string   `json:"user_id" validate:"required,max=128"`
	Paths    []string `json:"paths" validate:"required,min=1,max=100,dive,max=4096"`
}

// Validate validates the RegisterDocumentsRequest fields.
func (r *RegisterDocumentsRequest) Validate() error {
	if err := stateValidate.Struct(r); err != nil {
		return fmt.Errorf("invalid register documents request: %w", err)
	}
	return nil
}

// OrchestrateResponse is the final-state projection returned to callers.
type OrchestrateResponse struct {
	SessionID        string          `json:"session_id"`
	Answer           string          `json:"answer"`
	Status           ExecutionStatus `json:"status"`
	Intent           Intent          `json:"intent"`
	Confidence       float64         `json:"confidence"`
	ModelUsed        string          `json:"model_used,omitempty"`
	FallbackReason   string          `json:"fallback_reason,omitempty"`
	ApprovalRequired bool            `json:"approval_required"`
	ApprovalReason   string          `json:"approval_reason,omitempty"`
	RiskLevel        RiskLevel       `json:"risk_level,omitempty"`
	GeneratedSQL     string          `json:"generated_sql,omitempty"`
	CodeToExecute    string          `json:"code_to_execute,omitempty"`
	Errors           []string        `json:"errors,omitempty"`
}

// NewOrchestrateResponse projects a finished run state onto the wire type.
func NewOrchestrateResponse(st *OrchestratorState) OrchestrateResponse {
	st = Normalize(st)
	return OrchestrateResponse{
		SessionID:        st.SessionID,
		Answer:           st.FinalAnswer,
		Status:           st.ExecutionStatus,
		Intent:           st.Intent,
		Confidence:       st.ConfidenceScore,
		ModelUsed:        st.ModelUsed,
		FallbackReason:   st.FallbackReason,
		ApprovalRequired: st.ApprovalRequired,
		ApprovalReason:   st.ApprovalReason,
		RiskLevel:        st.RiskLevel,
		GeneratedSQL:     st.GeneratedSQL,
		CodeToExecute:    st.CodeToExecute,
		Errors:           st.Errors,
	}
}

// =============================================================================
// Extra-Field Seeding
// =============================================================================

// ApplyExtra pre-seeds state fields from the invocation boundary's extra
// map, then re-normalizes.
//
// # Description
//
// Recognized keys:
//
//   - "approved" (bool): resume past an approval gate.
//   - "generated_sql" (string): SQL artifact carried from a gated run.
//   - "code_to_execute" (string): code artifact carried from a gated run.
//   - "uploaded_docs" ([]string or []any of string): document paths to
//     register for this run.
//   - "max_retries" (int or float64): override the per-run retry budget.
//   - "is_guest" (bool): mark the caller as a guest identity.
//   - "metadata" (map[string]any): merged into state metadata, existing
//     keys win.
//
// Unrecognized keys are ignored. Values of the wrong type are ignored
// rather than failing the run.
func ApplyExtra(st *OrchestratorState, extra map[string]any) {
	if st == nil || len(extra) == 0 {
		return
	}
	if v, ok := extra["approved"].(bool); ok {
		st.Approved = v
	}
	if v, ok := extra["generated_sql"].(string); ok && v != "" {
		st.GeneratedSQL = v
	}
	if v, ok := extra["code_to_execute"].(string); ok && v != "" {
		st.CodeToExecute = v
	}
	if v, ok := extra["is_guest"].(bool); ok {
		st.IsGuest = v
	}
	switch v := extra["max_retries"].(type) {
	case int:
		st.MaxRetries = v
	case float64:
		// JSON numbers decode as float64.
		st.MaxRetries = int(v)
	}
	switch docs := extra["uploaded_docs"].(type) {
	case []string:
		st.UploadedDocs = append(st.UploadedDocs, docs...)
	case []any:
		for _, d := range docs {
			if p, ok := d.(string); ok && p != "" {
				st.UploadedDocs = append(st.UploadedDocs, p)
			}
		}
	}
	if meta, ok := extra["metadata"].(map[string]any); ok {
		EnsureMetadata(st)
		for k, v := range meta {
			if _, exists := st.Metadata[k]; !exists {
				st.Metadata[k] = v
			}
		}
	}
	Normalize(st)
}
