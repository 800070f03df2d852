// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package graph implements the orchestration state machine.
//
// # Description
//
// The graph is explicit data: a node table mapping node names to handler
// functions and a transition table mapping node names to transition
// functions. A transition returns a tagged next step, either continue-to a
// named node or terminal. Terminal always routes through save_context, so
// persistence runs exactly once on every path. The run loop is a plain
// synchronous pipeline; within one invocation no two nodes ever run
// concurrently.
//
// # Thread Safety
//
// The Engine is safe for concurrent Invoke calls: each call owns its state
// exclusively. The only shared mutable collaborator is the retrieval
// registry, which synchronizes internally.
package graph

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/AleutianAI/AleutianRelay/services/orchestrator/agents"
	"github.com/AleutianAI/AleutianRelay/services/orchestrator/datatypes"
	"github.com/AleutianAI/AleutianRelay/services/orchestrator/observability"
)

// graphTracer is the OpenTelemetry tracer for graph runs.
var graphTracer = otel.Tracer("aleutian.relay.graph")

// NodeName identifies one node of the routing graph.
type NodeName string

// Graph nodes. The five agent nodes share their names with the agents and
// the tenant-policy agent identifiers.
const (
	NodeLoadContext        NodeName = "load_context"
	NodeClassifyIntent     NodeName = "classify_intent"
	NodeChat               NodeName = NodeName(agents.NameChat)
	NodeRAG                NodeName = NodeName(agents.NameRAG)
	NodeSQL                NodeName = NodeName(agents.NameSQL)
	NodeCode               NodeName = NodeName(agents.NameCode)
	NodeResearch           NodeName = NodeName(agents.NameResearch)
	NodeApprovalGate       NodeName = "approval_gate"
	NodeRetryHandler       NodeName = "retry_handler"
	NodeGracefulFallback   NodeName = "graceful_fallback"
	NodeDiagnosticFallback NodeName = "diagnostic_fallback"
	NodeSaveContext        NodeName = "save_context"
)

// Next is the tagged result of a transition function.
type Next struct {
	Node     NodeName
	Terminal bool
}

// ContinueTo routes to the named node.
func ContinueTo(n NodeName) Next { return Next{Node: n} }

// Terminal routes to save_context and ends the run.
func Terminal() Next { return Next{Terminal: true} }

// handlerFunc mutates the state in place. Handlers never return errors;
// failures are folded into the state.
type handlerFunc func(ctx context.Context, st *datatypes.OrchestratorState)

// transitionFunc picks the next step from the post-handler state.
type transitionFunc func(st *datatypes.OrchestratorState) Next

// metaActiveAgent records which agent node is executing, so the retry
// handler and approval gate can re-dispatch to the same handler family.
const metaActiveAgent = "active_agent"

// maxStepsFor bounds the run loop. The longest legal path is one full
// agent attempt per retry plus the fixed nodes around them; anything past
// this bound is a routing bug, not a long run.
func maxStepsFor(st *datatypes.OrchestratorState) int {
	return 2*(st.MaxRetries+1) + 12
}

// Run drives the state through the graph from load_context to save_context.
//
// # Outputs
//
// The same state pointer, fully normalized, with a terminal execution
// status. Run never returns an error and never panics past a node boundary.
func (e *Engine) Run(ctx context.Context, st *datatypes.OrchestratorState) *datatypes.OrchestratorState {
	ctx, span := graphTracer.Start(ctx, "Graph.Run")
	defer span.End()

	datatypes.Normalize(st)
	span.SetAttributes(
		attribute.String("graph.tenant_id", st.TenantID),
		attribute.String("graph.session_id", st.SessionID),
	)

	node := NodeLoadContext
	for steps := 0; steps < maxStepsFor(st); steps++ {
		e.execNode(ctx, node, st)
		if node == NodeSaveContext {
			observability.RecordRun(string(st.ExecutionStatus), string(st.Intent))
			span.SetAttributes(attribute.String("graph.status", string(st.ExecutionStatus)))
			return st
		}

		next := e.transitions[node](st)
		target := next.Node
		if next.Terminal {
			target = NodeSaveContext
		}
		observability.RecordTransition(string(node), string(target))
		e.logger.Debug("graph transition", "from", node, "to", target)
		node = target
	}

	// Step guard tripped: a transition cycle that the retry budget should
	// have bounded did not terminate.
	e.logger.Error("Graph step guard tripped", "session_id", st.SessionID)
	st.AppendError("graph: step guard tripped before reaching a terminal node")
	st.ExecutionStatus = datatypes.StatusFailed
	if st.FinalAnswer == "" {
		st.FinalAnswer = "An internal routing error prevented this request from completing."
	}
	e.execNode(ctx, NodeSaveContext, st)
	observability.RecordRun(string(st.ExecutionStatus), string(st.Intent))
	return st
}

// execNode runs one node with panic containment, so no handler can crash
// the graph.
func (e *Engine) execNode(ctx context.Context, node NodeName, st *datatypes.OrchestratorState) {
	defer func() {
		if r := recover(); r != nil {
			e.logger.Error("Node panicked", "node", node, "panic", r)
			st.AppendError("%s: panic: %v", node, r)
			st.ShouldContinue = false
			if st.ExecutionStatus != datatypes.StatusCompleted {
				st.ExecutionStatus = datatypes.StatusFailed
			}
			datatypes.Normalize(st)
		}
	}()

	if isAgentNode(node) {
		datatypes.EnsureMetadata(st)
		st.Metadata[metaActiveAgent] = string(node)
		start := time.Now()
		defer func() {
			observability.ObserveAgentDuration(string(node), time.Since(start).Seconds())
		}()
	}

	e.nodes[node](ctx, st)
	datatypes.Normalize(st)
}

func isAgentNode(n NodeName) bool {
	switch n {
	case NodeChat, NodeRAG, NodeSQL, NodeCode, NodeResearch:
		return true
	}
	return false
}

// activeAgent returns the agent node recorded for this run, or "" if no
// agent has executed yet.
func activeAgent(st *datatypes.OrchestratorState) NodeName {
	if st.Metadata == nil {
		return ""
	}
	if name, ok := st.Metadata[metaActiveAgent].(string); ok {
		n := NodeName(name)
		if isAgentNode(n) {
			return n
		}
	}
	return ""
}

// agentTransition is the shared post-handler transition for all five agent
// nodes: gate on unapproved risk, loop back on a retriable failure,
// otherwise persist and finish.
func agentTransition(st *datatypes.OrchestratorState) Next {
	if st.ApprovalRequired && !st.Approved {
		return ContinueTo(NodeApprovalGate)
	}
	if st.ShouldContinue {
		return ContinueTo(NodeRetryHandler)
	}
	return Terminal()
}
