// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package llm

import (
	"errors"
	"fmt"
	"strings"
)

// =============================================================================
// Error Types
// =============================================================================

// QuotaError signals quota or rate exhaustion on a backend.
//
// # Description
//
// QuotaError is the one failure class the Router reacts to: it triggers a
// single attempt against the fallback backend. Every other error propagates
// to the calling agent unmodified.
//
// # Fields
//
//   - Model: The model whose quota was exhausted.
//   - Message: Backend-reported detail, if any.
type QuotaError struct {
	Model   string
	Message string
}

// Error implements the error interface for QuotaError.
func (e *QuotaError) Error() string {
	return fmt.Sprintf("quota exhausted for model %s: %s", e.Model, e.Message)
}

// quotaQualifiers are the exhaustion spellings accepted alongside a 429
// status when the error is not typed. Backends and proxies vary here;
// detection tolerates all of them, but a 429 alone is just rate limiting
// and a qualifier alone could be any resource complaint, so neither is
// enough on its own.
var quotaQualifiers = []string{
	"resourceexhausted",
	"resource_exhausted",
	"resource exhausted",
	"quota",
}

// IsQuotaError reports whether err carries a quota/resource-exhaustion
// signal, either as a typed *QuotaError anywhere in the chain or as a
// 429 status co-occurring with an exhaustion qualifier in the message.
//
// Anything not matching is a hard failure and must not trigger fallback.
func IsQuotaError(err error) bool {
	if err == nil {
		return false
	}
	var qe *QuotaError
	if errors.As(err, &qe) {
		return true
	}
	msg := strings.ToLower(err.Error())
	if !strings.Contains(msg, "429") {
		return false
	}
	for _, qualifier := range quotaQualifiers {
		if strings.Contains(msg, qualifier) {
			return true
		}
	}
	return false
}
