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
	"errors"
	"fmt"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/AleutianRelay/services/orchestrator/observability"
)

// fakeClient is a scripted LLMClient for router tests.
type fakeClient struct {
	model string
	text  string
	err   error
	calls int
}

func (f *fakeClient) Chat(_ context.Context, _ []ChatMessage, _ GenerationParams) (string, error) {
	f.calls++
	return f.text, f.err
}

func (f *fakeClient) Model() string { return f.model }

// fakeRecorder captures provenance calls.
type fakeRecorder struct {
	modelUsed      string
	fallbackModel  string
	fallbackReason string
	fallbackCalls  int
}

func (r *fakeRecorder) SetModelUsed(model string) {
	r.modelUsed = model
}

func (r *fakeRecorder) SetFallback(model, reason string) {
	r.fallbackModel = model
	r.fallbackReason = reason
	r.fallbackCalls++
}

func TestRouterPrimarySuccess(t *testing.T) {
	primary := &fakeClient{model: "primary-model", text: "hello"}
	fallback := &fakeClient{model: "fallback-model", text: "unused"}
	rec := &fakeRecorder{}

	r := NewRouter(primary, fallback, nil)
	text, err := r.Invoke(context.Background(), []ChatMessage{{Role: "user", Content: "hi"}}, rec, GenerationParams{})

	require.NoError(t, err)
	assert.Equal(t, "hello", text)
	assert.Equal(t, "primary-model", rec.modelUsed)
	assert.Zero(t, fallback.calls, "fallback must not be consulted on primary success")
	assert.Zero(t, rec.fallbackCalls)
}

func TestRouterQuotaFallback(t *testing.T) {
	tests := []struct {
		name       string
		primaryErr error
	}{
		{"typed quota error", &QuotaError{Model: "primary-model", Message: "out of tokens"}},
		{"http 429 quota text", errors.New("unexpected status code: 429: quota exceeded for project")},
		{"resource exhausted text", errors.New("rpc error: code = 429 desc = RESOURCE_EXHAUSTED: rate limited")},
		{"wrapped typed error", fmt.Errorf("call failed: %w", &QuotaError{Model: "primary-model"})},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			primary := &fakeClient{model: "primary-model", err: tt.primaryErr}
			fallback := &fakeClient{model: "fallback-model", text: "rescued"}
			rec := &fakeRecorder{}

			r := NewRouter(primary, fallback, nil)
			text, err := r.Invoke(context.Background(), []ChatMessage{{Role: "user", Content: "hi"}}, rec, GenerationParams{})

			require.NoError(t, err)
			assert.Equal(t, "rescued", text)
			assert.Equal(t, 1, fallback.calls)
			assert.Equal(t, "fallback-model", rec.fallbackModel)
			assert.Contains(t, rec.fallbackReason, "quota exhausted")
		})
	}
}

func TestRouterFallbackIncrementsMetric(t *testing.T) {
	// Isolated metrics instance so the counter starts at zero and the
	// global state is restored afterwards.
	prev := observability.DefaultMetrics
	t.Cleanup(func() { observability.DefaultMetrics = prev })
	observability.DefaultMetrics = &observability.RelayMetrics{
		LLMFallbacksTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{Name: "test_llm_fallbacks_total"},
			[]string{"model"},
		),
	}

	primary := &fakeClient{model: "primary-model", err: &QuotaError{Model: "primary-model"}}
	fallback := &fakeClient{model: "fallback-model", text: "rescued"}

	r := NewRouter(primary, fallback, nil)
	_, err := r.Invoke(context.Background(), []ChatMessage{{Role: "user", Content: "hi"}}, &fakeRecorder{}, GenerationParams{})
	require.NoError(t, err)

	got := testutil.ToFloat64(observability.DefaultMetrics.LLMFallbacksTotal.WithLabelValues("fallback-model"))
	assert.Equal(t, 1.0, got)
}

func TestRouterNonQuotaErrorPropagates(t *testing.T) {
	hard := errors.New("connection refused")
	primary := &fakeClient{model: "primary-model", err: hard}
	fallback := &fakeClient{model: "fallback-model", text: "unused"}

	r := NewRouter(primary, fallback, nil)
	_, err := r.Invoke(context.Background(), []ChatMessage{{Role: "user", Content: "hi"}}, &fakeRecorder{}, GenerationParams{})

	require.ErrorIs(t, err, hard, "non-quota failures must propagate unmodified")
	assert.Zero(t, fallback.calls)
}

func TestRouterQuotaWithoutFallbackPropagates(t *testing.T) {
	primary := &fakeClient{model: "primary-model", err: &QuotaError{Model: "primary-model"}}

	r := NewRouter(primary, nil, nil)
	_, err := r.Invoke(context.Background(), []ChatMessage{{Role: "user", Content: "hi"}}, &fakeRecorder{}, GenerationParams{})

	var qe *QuotaError
	require.ErrorAs(t, err, &qe)
}

func TestRouterFallbackFailureWrapped(t *testing.T) {
	primary := &fakeClient{model: "primary-model", err: &QuotaError{Model: "primary-model"}}
	fbErr := errors.New("fallback also down")
	fallback := &fakeClient{model: "fallback-model", err: fbErr}

	r := NewRouter(primary, fallback, nil)
	_, err := r.Invoke(context.Background(), []ChatMessage{{Role: "user", Content: "hi"}}, &fakeRecorder{}, GenerationParams{})

	require.Error(t, err)
	assert.ErrorIs(t, err, fbErr)
	assert.Contains(t, err.Error(), "fallback-model")
}

func TestIsQuotaError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"typed", &QuotaError{Model: "m"}, true},
		{"resource_exhausted with 429", errors.New("grpc: code = 429 RESOURCE_EXHAUSTED"), true},
		{"resource exhausted spaced with 429", errors.New("429: resource exhausted on shard"), true},
		{"quota with 429", errors.New("status 429: Quota exceeded for project"), true},
		{"compact resourceexhausted with 429", errors.New("resourceexhausted (http 429)"), true},
		{"bare 429 is rate limiting", errors.New("status 429 Too Many Requests"), false},
		{"bare resource exhausted", errors.New("resource exhausted on shard"), false},
		{"bare quota", errors.New("Quota exceeded for project"), false},
		{"plain failure", errors.New("dial tcp: connection refused"), false},
		{"500 status", errors.New("status 500: internal"), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsQuotaError(tt.err))
		})
	}
}
