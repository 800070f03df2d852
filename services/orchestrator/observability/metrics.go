// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package observability provides Prometheus metrics for the orchestrator.
//
// # Description
//
// Metrics cover the routing graph end to end:
//   - Run counters (by terminal status and intent)
//   - Node transition counters (graph shape observability)
//   - Retry, approval-gate, and LLM-fallback counters
//   - Per-agent latency histograms
//
// # Integration
//
// Metrics are exposed via the /metrics endpoint. Use with Prometheus +
// Grafana for dashboards and alerting.
//
// # Thread Safety
//
// All metric operations are thread-safe via Prometheus's internal locking.
package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Namespace for all metrics
const metricsNamespace = "aleutian"

// Subsystem for orchestration metrics
const relaySubsystem = "relay"

// RelayMetrics holds all Prometheus metrics for orchestration runs.
//
// # Fields
//
//   - RunsTotal: Counter of completed runs by terminal status and intent
//   - NodeTransitionsTotal: Counter of graph edges taken
//   - RetriesTotal: Counter of retry-handler re-dispatches by agent
//   - ApprovalsTotal: Counter of approval-gate outcomes
//   - LLMFallbacksTotal: Counter of quota fallbacks by fallback model
//   - AgentDurationSeconds: Histogram of agent execution latency
//
// # Thread Safety
//
// All operations are thread-safe.
type RelayMetrics struct {
	// RunsTotal counts orchestration runs by terminal status and intent.
	// Labels: status (completed, failed, requires_approval, pending),
	// intent (rag, sql, code, research, chat, unknown)
	RunsTotal *prometheus.CounterVec

	// NodeTransitionsTotal counts edges taken through the routing graph.
	// Labels: from, to
	NodeTransitionsTotal *prometheus.CounterVec

	// RetriesTotal counts retry-handler re-dispatches.
	// Labels: agent
	RetriesTotal *prometheus.CounterVec

	// ApprovalsTotal counts approval-gate outcomes.
	// Labels: agent, outcome (gated, approved)
	ApprovalsTotal *prometheus.CounterVec

	// LLMFallbacksTotal counts quota-driven model fallbacks.
	// Labels: model
	LLMFallbacksTotal *prometheus.CounterVec

	// AgentDurationSeconds measures agent execution latency.
	// Labels: agent
	AgentDurationSeconds *prometheus.HistogramVec
}

// DefaultMetrics is the singleton instance of RelayMetrics.
// Initialized by InitMetrics().
var DefaultMetrics *RelayMetrics

// InitMetrics initializes the default metrics instance.
//
// # Description
//
// Creates and registers all Prometheus metrics. Should be called once
// at application startup, after the Prometheus registry is available.
//
// # Limitations
//
//   - Panics if called twice (duplicate registration).
//
// # Assumptions
//
//   - Prometheus default registry is available.
func InitMetrics() *RelayMetrics {
	DefaultMetrics = &RelayMetrics{
		RunsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: relaySubsystem,
				Name:      "runs_total",
				Help:      "Total orchestration runs by terminal status and intent",
			},
			[]string{"status", "intent"},
		),

		NodeTransitionsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: relaySubsystem,
				Name:      "node_transitions_total",
				Help:      "Total routing-graph edges taken",
			},
			[]string{"from", "to"},
		),

		RetriesTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: relaySubsystem,
				Name:      "retries_total",
				Help:      "Total retry-handler re-dispatches by agent",
			},
			[]string{"agent"},
		),

		ApprovalsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: relaySubsystem,
				Name:      "approvals_total",
				Help:      "Total approval-gate outcomes by agent",
			},
			[]string{"agent", "outcome"},
		),

		LLMFallbacksTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: relaySubsystem,
				Name:      "llm_fallbacks_total",
				Help:      "Total quota-driven model fallbacks",
			},
			[]string{"model"},
		),

		AgentDurationSeconds: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: metricsNamespace,
				Subsystem: relaySubsystem,
				Name:      "agent_duration_seconds",
				Help:      "Agent execution latency in seconds",
				Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0, 10.0, 30.0},
			},
			[]string{"agent"},
		),
	}
	return DefaultMetrics
}

// =============================================================================
// Recording Helpers
// =============================================================================

// RecordRun increments the run counter if metrics are initialized.
func RecordRun(status, intent string) {
	if DefaultMetrics != nil {
		DefaultMetrics.RunsTotal.WithLabelValues(status, intent).Inc()
	}
}

// RecordTransition increments the graph-edge counter.
func RecordTransition(from, to string) {
	if DefaultMetrics != nil {
		DefaultMetrics.NodeTransitionsTotal.WithLabelValues(from, to).Inc()
	}
}

// RecordRetry increments the retry counter.
func RecordRetry(agent string) {
	if DefaultMetrics != nil {
		DefaultMetrics.RetriesTotal.WithLabelValues(agent).Inc()
	}
}

// RecordApproval increments the approval-gate counter.
func RecordApproval(agent, outcome string) {
	if DefaultMetrics != nil {
		DefaultMetrics.ApprovalsTotal.WithLabelValues(agent, outcome).Inc()
	}
}

// RecordLLMFallback increments the fallback counter.
func RecordLLMFallback(model string) {
	if DefaultMetrics != nil {
		DefaultMetrics.LLMFallbacksTotal.WithLabelValues(model).Inc()
	}
}

// ObserveAgentDuration records one agent execution latency.
func ObserveAgentDuration(agent string, seconds float64) {
	if DefaultMetrics != nil {
		DefaultMetrics.AgentDurationSeconds.WithLabelValues(agent).Observe(seconds)
	}
}
