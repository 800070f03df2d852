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
	"context"
	"fmt"
	"log/slog"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/AleutianAI/AleutianRelay/services/orchestrator/observability"
)

// routerTracer is the OpenTelemetry tracer for Router operations.
var routerTracer = otel.Tracer("aleutian.relay.llm.router")

// ModelRecorder receives provenance about which model answered a call. The
// orchestrator run state implements it.
type ModelRecorder interface {
	// SetModelUsed records a primary-model answer and clears any stale
	// fallback marker.
	SetModelUsed(model string)

	// SetFallback records a fallback-model answer with its reason. The
	// user-facing notice it produces must be idempotent per run.
	SetFallback(model, reason string)
}

// Router is the quota-aware model dispatcher.
//
// # Description
//
// Router tries the primary backend first and retries exactly once against
// the fallback backend, but only when the primary failure is a quota or
// resource-exhaustion signal (see IsQuotaError). All other failures
// propagate unmodified to the caller.
//
// Router is strictly about model selection. Transient-error resilience
// (retry loops, backoff) belongs to the agents' own retry protocol, not
// here.
//
// # Thread Safety
//
// Safe for concurrent use; all fields are read-only after construction. The
// ModelRecorder passed to Invoke is owned by a single run and is mutated
// without locking.
type Router struct {
	primary  LLMClient
	fallback LLMClient
	logger   *slog.Logger
}

// NewRouter creates a Router over a primary and an optional fallback
// backend. A nil fallback disables quota fallback: quota errors then
// propagate like any other failure.
func NewRouter(primary, fallback LLMClient, logger *slog.Logger) *Router {
	if logger == nil {
		logger = slog.Default()
	}
	return &Router{
		primary:  primary,
		fallback: fallback,
		logger:   logger.With("component", "llm_router"),
	}
}

// Invoke runs one chat completion with quota-aware fallback.
//
// # Inputs
//
//   - ctx: Context for cancellation and tracing.
//   - messages: The chat transcript to complete. Must be non-empty.
//   - rec: Provenance sink for the answering model. May be nil.
//   - params: Sampling parameters forwarded to the backend.
//
// # Outputs
//
//   - string: The assistant text from whichever backend answered.
//   - error: The primary error when it is not a quota signal or no
//     fallback is configured; the fallback error when the fallback also
//     fails.
func (r *Router) Invoke(ctx context.Context, messages []ChatMessage, rec ModelRecorder, params GenerationParams) (string, error) {
	ctx, span := routerTracer.Start(ctx, "Router.Invoke")
	defer span.End()
	span.SetAttributes(
		attribute.String("llm.primary_model", r.primary.Model()),
		attribute.Int("llm.message_count", len(messages)),
	)

	text, err := r.primary.Chat(ctx, messages, params)
	if err == nil {
		if rec != nil {
			rec.SetModelUsed(r.primary.Model())
		}
		return text, nil
	}

	if !IsQuotaError(err) || r.fallback == nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "primary backend failed")
		return "", err
	}

	reason := fmt.Sprintf("primary model %s quota exhausted", r.primary.Model())
	r.logger.Warn("Primary model quota exhausted, trying fallback",
		"primary", r.primary.Model(),
		"fallback", r.fallback.Model(),
		"error", err,
	)
	span.AddEvent("llm.quota_fallback")
	span.SetAttributes(attribute.String("llm.fallback_model", r.fallback.Model()))
	observability.RecordLLMFallback(r.fallback.Model())

	text, fbErr := r.fallback.Chat(ctx, messages, params)
	if fbErr != nil {
		span.RecordError(fbErr)
		span.SetStatus(codes.Error, "fallback backend failed")
		return "", fmt.Errorf("fallback model %s failed after quota exhaustion: %w", r.fallback.Model(), fbErr)
	}

	if rec != nil {
		rec.SetFallback(r.fallback.Model(), reason)
	}
	return text, nil
}

// PrimaryModel returns the primary backend's model identifier.
func (r *Router) PrimaryModel() string {
	return r.primary.Model()
}
