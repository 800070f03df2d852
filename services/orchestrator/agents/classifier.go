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
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/AleutianAI/AleutianRelay/services/llm"
	"github.com/AleutianAI/AleutianRelay/services/orchestrator/datatypes"
)

// classifierTracer is the OpenTelemetry tracer for intent classification.
var classifierTracer = otel.Tracer("aleutian.relay.agents.classifier")

const classifierWindow = 5

const classifierSystemPrompt = `You are an intent classifier for a query orchestrator.
Classify the user's latest query into exactly one of these intents:
- "rag": question about the user's own documents or workspace content
- "sql": request to query, filter, or aggregate structured data
- "code": request to compute, calculate, or run code
- "research": question about current events or external facts
- "chat": general conversation, anything else

Respond with ONLY a JSON object, no prose:
{"intent": "<label>", "confidence": <0.0-1.0>, "reasoning": "<one sentence>"}`

// Classifier labels a query with an intent and confidence.
//
// # Description
//
// Classify never fails. Every failure path, from an empty query to a dead
// backend to garbage output, degrades to IntentUnknown with confidence 0 and
// a reason recorded in metadata. Backend and response-format failures are
// additionally appended to the state's error list; a legitimately unknown
// intent is not.
type Classifier struct {
	models ModelInvoker
	logger *slog.Logger
}

// NewClassifier builds a classifier over the model router.
func NewClassifier(models ModelInvoker, logger *slog.Logger) *Classifier {
	if logger == nil {
		logger = slog.Default()
	}
	return &Classifier{models: models, logger: logger.With("component", "classifier")}
}

// Classify labels st.Query, writing Intent and IntentConfidence in place.
func (c *Classifier) Classify(ctx context.Context, st *datatypes.OrchestratorState) {
	ctx, span := classifierTracer.Start(ctx, "Classifier.Classify")
	defer span.End()

	datatypes.Normalize(st)

	if strings.TrimSpace(st.Query) == "" {
		c.degrade(st, "empty query", false)
		return
	}

	msgs := c.buildPrompt(st)
	raw, err := c.models.Invoke(ctx, msgs, st, llm.Temperature(0.0))
	if err != nil {
		c.logger.Warn("Classification backend failed", "error", err)
		c.degrade(st, fmt.Sprintf("classification backend failed: %v", err), true)
		return
	}

	label, confidence, parseErr := parseClassification(raw)
	if parseErr != nil {
		c.logger.Warn("Classification response unparseable", "error", parseErr)
		c.degrade(st, fmt.Sprintf("malformed classification response: %v", parseErr), true)
		return
	}

	intent := datatypes.ParseIntent(label)
	if intent == datatypes.IntentUnknown && !strings.EqualFold(strings.TrimSpace(label), "unknown") {
		// Out-of-set label: legitimately unknown, not an error.
		c.degrade(st, fmt.Sprintf("classifier returned out-of-set label %q", label), false)
		return
	}

	st.Intent = intent
	st.IntentConfidence = confidence
	datatypes.Normalize(st)
	span.SetAttributes(
		attribute.String("intent.label", string(st.Intent)),
		attribute.Float64("intent.confidence", st.IntentConfidence),
	)
}

func (c *Classifier) degrade(st *datatypes.OrchestratorState, reason string, isError bool) {
	st.Intent = datatypes.IntentUnknown
	st.IntentConfidence = 0
	datatypes.EnsureMetadata(st)
	st.Metadata[datatypes.MetaClassificationError] = reason
	if isError {
		st.AppendError("classifier: %s", reason)
	}
}

// buildPrompt assembles the system prompt, a resource side-channel note, a
// short rolling window of conversation, and the query itself.
func (c *Classifier) buildPrompt(st *datatypes.OrchestratorState) []llm.ChatMessage {
	var resources strings.Builder
	if n := st.WorkspaceDocCount(); n > 0 {
		fmt.Fprintf(&resources, "The user has %d document(s) registered in this workspace. ", n)
	} else {
		resources.WriteString("No workspace documents are registered. ")
	}
	resources.WriteString("A web research tool is available.")

	msgs := []llm.ChatMessage{
		{Role: datatypes.RoleSystem, Content: classifierSystemPrompt},
		{Role: datatypes.RoleSystem, Content: "Available resources: " + resources.String()},
	}
	for _, m := range st.RecentMessages(classifierWindow) {
		if m.Role == datatypes.RoleSystem || m.Content == st.Query {
			continue
		}
		msgs = append(msgs, llm.ChatMessage{Role: m.Role, Content: m.Content})
	}
	msgs = append(msgs, llm.ChatMessage{Role: datatypes.RoleUser, Content: st.Query})
	return msgs
}

// parseClassification extracts the label and coerced confidence from a model
// response, tolerating code fences and surrounding prose.
func parseClassification(raw string) (string, float64, error) {
	raw = stripCodeFence(raw)
	start := strings.Index(raw, "{")
	end := strings.LastIndex(raw, "}")
	if start < 0 || end <= start {
		return "", 0, fmt.Errorf("no JSON object in response")
	}

	var payload struct {
		Intent     string          `json:"intent"`
		Confidence json.RawMessage `json:"confidence"`
	}
	if err := json.Unmarshal([]byte(raw[start:end+1]), &payload); err != nil {
		return "", 0, err
	}
	if payload.Intent == "" {
		return "", 0, fmt.Errorf("missing intent field")
	}
	return payload.Intent, coerceConfidence(payload.Confidence), nil
}

// coerceConfidence clamps a numeric confidence to [0,1]. Non-numeric input,
// including quoted non-numbers and absent values, defaults to 0.5.
func coerceConfidence(raw json.RawMessage) float64 {
	if len(raw) == 0 {
		return 0.5
	}
	var f float64
	if err := json.Unmarshal(raw, &f); err != nil {
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return 0.5
		}
		parsed, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
		if err != nil {
			return 0.5
		}
		f = parsed
	}
	switch {
	case f < 0:
		return 0
	case f > 1:
		return 1
	}
	return f
}

// Route maps an intent to its handler name. Pure; unknown traffic goes to
// chat, never to a fallback node.
func Route(in datatypes.Intent) string {
	switch in {
	case datatypes.IntentRAG:
		return NameRAG
	case datatypes.IntentSQL:
		return NameSQL
	case datatypes.IntentCode:
		return NameCode
	case datatypes.IntentResearch:
		return NameResearch
	case datatypes.IntentChat, datatypes.IntentUnknown:
		return NameChat
	}
	return NameChat
}
