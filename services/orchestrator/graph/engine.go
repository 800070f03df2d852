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
	"log/slog"
	"strings"

	"github.com/google/uuid"

	"github.com/AleutianAI/AleutianRelay/services/orchestrator/agents"
	"github.com/AleutianAI/AleutianRelay/services/orchestrator/datatypes"
	"github.com/AleutianAI/AleutianRelay/services/orchestrator/retrieval"
	"github.com/AleutianAI/AleutianRelay/services/orchestrator/storage"
)

// PolicyChecker is the slice of the tenant policy engine the router
// consults before dispatching to an agent.
type PolicyChecker interface {
	IsAgentAllowed(tenantID, agent string) bool
	ValidateRequest(tenantID, query, agent string) (bool, string)
}

// historyLoadLimit bounds how much persisted conversation is pulled into a
// run.
const historyLoadLimit = 50

// Deps carries the engine's constructor-injected collaborators. Everything
// is explicit so tests can assemble isolated engines.
type Deps struct {
	Store      storage.Store
	Registry   *retrieval.Registry
	Chunker    *retrieval.Chunker
	Classifier *agents.Classifier
	Agents     []agents.Agent
	Policy     PolicyChecker
	Logger     *slog.Logger

	// IndexDir is where per-workspace index snapshots are saved.
	IndexDir string
}

// Engine owns the node and transition tables and drives runs through them.
type Engine struct {
	store      storage.Store
	registry   *retrieval.Registry
	chunker    *retrieval.Chunker
	classifier *agents.Classifier
	agents     map[string]agents.Agent
	policy     PolicyChecker
	logger     *slog.Logger
	indexDir   string

	nodes       map[NodeName]handlerFunc
	transitions map[NodeName]transitionFunc
}

// NewEngine assembles the graph from its collaborators.
func NewEngine(deps Deps) *Engine {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	chunker := deps.Chunker
	if chunker == nil {
		chunker = retrieval.NewChunker(0, 0)
	}

	e := &Engine{
		store:      deps.Store,
		registry:   deps.Registry,
		chunker:    chunker,
		classifier: deps.Classifier,
		agents:     make(map[string]agents.Agent, len(deps.Agents)),
		policy:     deps.Policy,
		logger:     logger.With("component", "graph"),
		indexDir:   deps.IndexDir,
	}
	for _, a := range deps.Agents {
		e.agents[a.Name()] = a
	}

	e.nodes = map[NodeName]handlerFunc{
		NodeLoadContext:        e.loadContext,
		NodeClassifyIntent:     e.classifyIntent,
		NodeChat:               e.agentHandler(agents.NameChat),
		NodeRAG:                e.agentHandler(agents.NameRAG),
		NodeSQL:                e.agentHandler(agents.NameSQL),
		NodeCode:               e.agentHandler(agents.NameCode),
		NodeResearch:           e.agentHandler(agents.NameResearch),
		NodeApprovalGate:       e.approvalGate,
		NodeRetryHandler:       e.retryHandler,
		NodeGracefulFallback:   e.gracefulFallback,
		NodeDiagnosticFallback: e.diagnosticFallback,
		NodeSaveContext:        e.saveContext,
	}
	e.transitions = map[NodeName]transitionFunc{
		NodeLoadContext:        func(*datatypes.OrchestratorState) Next { return ContinueTo(NodeClassifyIntent) },
		NodeClassifyIntent:     e.routeFromClassifier,
		NodeChat:               agentTransition,
		NodeRAG:                agentTransition,
		NodeSQL:                agentTransition,
		NodeCode:               agentTransition,
		NodeResearch:           agentTransition,
		NodeApprovalGate:       e.approvalGateTransition,
		NodeRetryHandler:       e.retryTransition,
		NodeGracefulFallback:   func(*datatypes.OrchestratorState) Next { return Terminal() },
		NodeDiagnosticFallback: func(*datatypes.OrchestratorState) Next { return Terminal() },
	}
	return e
}

// Invoke runs one query through the graph.
//
// # Inputs
//
//   - ctx: Run-scoped cancellation and tracing.
//   - query: The user's query text.
//   - tenantID, userID: Identity pair; the workspace is the tenant.
//   - sessionID: Conversation key. Empty auto-generates a fresh session.
//   - extra: Optional state pre-seeding (approved, carried artifacts,
//     uploaded_docs, max_retries).
//
// # Outputs
//
//   - *OrchestratorState: The normalized final state. Never nil, never an
//     error; failures are encoded in the state.
func (e *Engine) Invoke(ctx context.Context, query, tenantID, userID, sessionID string, extra map[string]any) *datatypes.OrchestratorState {
	if sessionID == "" {
		sessionID = uuid.New().String()
	}
	st := datatypes.NewState(query, tenantID, userID, sessionID)
	datatypes.ApplyExtra(st, extra)
	return e.Run(ctx, st)
}

// agentHandler wraps one agent as a node handler. A missing agent is a
// wiring bug surfaced as a normal failure rather than a panic.
func (e *Engine) agentHandler(name string) handlerFunc {
	return func(ctx context.Context, st *datatypes.OrchestratorState) {
		agent, ok := e.agents[name]
		if !ok {
			e.logger.Error("No agent registered for node", "agent", name)
			st.AppendError("graph: no agent registered for %q", name)
			st.ExecutionStatus = datatypes.StatusFailed
			st.ShouldContinue = false
			if st.FinalAnswer == "" {
				st.FinalAnswer = "An internal configuration error prevented this request from completing."
			}
			return
		}
		agent.Execute(ctx, st)
	}
}

func (e *Engine) classifyIntent(ctx context.Context, st *datatypes.OrchestratorState) {
	e.classifier.Classify(ctx, st)
}

// RegisterDocuments indexes and records document paths for a workspace
// outside of a query run. The orchestrate path registers uploads itself
// during context load; this is the standalone registration entry point.
//
// # Outputs
//
//   - int: How many documents were newly registered; already-known paths
//     are skipped, not errors.
//   - error: The joined per-document failures, if any.
func (e *Engine) RegisterDocuments(ctx context.Context, tenantID, userID string, paths []string) (int, error) {
	records, indexPath, err := e.store.ListWorkspaceDocuments(ctx, userID, tenantID)
	if err != nil {
		return 0, err
	}
	if indexPath == "" {
		indexPath = e.indexPathFor(tenantID)
	}

	st := datatypes.NewState("", tenantID, userID, "")
	st.UploadedDocs = paths
	added := e.registerUploads(ctx, st, records, indexPath)
	if len(st.Errors) > 0 {
		return added, errors.New(strings.Join(st.Errors, "; "))
	}
	return added, nil
}

// indexPathFor is where a workspace's index snapshot lives when the
// document records do not already carry one.
func (e *Engine) indexPathFor(workspace string) string {
	return retrieval.SnapshotPath(e.indexDir, workspace)
}
