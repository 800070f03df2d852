// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package datatypes

// Normalize installs a type-correct default for every field of the state
// that is missing or out of range.
//
// # Description
//
// Normalize is the single schema authority for OrchestratorState. Every
// graph node and agent calls it defensively at entry, so no component may
// ever observe a nil container, an out-of-set enum value, or a confidence
// outside [0,1]. It never removes or overwrites a valid value, never fails,
// and is idempotent: normalizing an already-normalized state is a no-op.
//
// # Inputs
//
//   - st: The state to repair in place. A nil pointer yields a fresh empty
//     normalized state.
//
// # Outputs
//
//   - *OrchestratorState: The same pointer (or the fresh state for nil
//     input), fully populated.
//
// # Limitations
//
//   - Scalar zero values are indistinguishable from "unset" in a typed
//     struct, so Normalize leaves non-negative counters alone. MaxRetries=0
//     is a legitimate explicit budget; the DefaultMaxRetries default is
//     applied by NewState, not here.
func Normalize(st *OrchestratorState) *OrchestratorState {
	if st == nil {
		st = &OrchestratorState{}
	}

	// Containers.
	if st.Messages == nil {
		st.Messages = []Message{}
	}
	if st.RetrievedContext == nil {
		st.RetrievedContext = []string{}
	}
	if st.ResearchFindings == nil {
		st.ResearchFindings = []string{}
	}
	if st.Errors == nil {
		st.Errors = []string{}
	}
	if st.Metadata == nil {
		st.Metadata = map[string]any{}
	}
	if st.UploadedDocs == nil {
		st.UploadedDocs = []string{}
	}

	// Enums.
	if !st.Intent.Valid() {
		st.Intent = IntentUnknown
	}
	if !st.ExecutionStatus.Valid() {
		st.ExecutionStatus = StatusPending
	}
	switch st.RiskLevel {
	case "", RiskLow, RiskMedium, RiskHigh:
	default:
		st.RiskLevel = ""
	}

	// Scores and counters.
	st.IntentConfidence = clamp01(st.IntentConfidence)
	st.ConfidenceScore = clamp01(st.ConfidenceScore)
	if st.TurnCount < 0 {
		st.TurnCount = 0
	}
	if st.RetryCount < 0 {
		st.RetryCount = 0
	}
	if st.MaxRetries < 0 {
		st.MaxRetries = 0
	}
	if st.MemoryLoadedCount < 0 {
		st.MemoryLoadedCount = 0
	}
	if st.MemoryLoadedCount > len(st.Messages) {
		st.MemoryLoadedCount = len(st.Messages)
	}

	return st
}

// EnsureMetadata guarantees the metadata map is present without paying for a
// full normalization pass. Idempotent, never fails.
func EnsureMetadata(st *OrchestratorState) {
	if st.Metadata == nil {
		st.Metadata = map[string]any{}
	}
}

// EnsureErrors guarantees the error list is present without paying for a
// full normalization pass. Idempotent, never fails.
func EnsureErrors(st *OrchestratorState) {
	if st.Errors == nil {
		st.Errors = []string{}
	}
}

// EnsureIntent guarantees the intent holds a member of the closed set
// without paying for a full normalization pass. Idempotent, never fails.
func EnsureIntent(st *OrchestratorState) {
	if !st.Intent.Valid() {
		st.Intent = IntentUnknown
	}
}

func clamp01(v float64) float64 {
	if v < 0 || v != v { // NaN guards to 0
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
