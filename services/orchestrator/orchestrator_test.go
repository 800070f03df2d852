// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package orchestrator

import (
	"context"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/AleutianRelay/services/orchestrator/retrieval"
)

// =============================================================================
// Test Setup
// =============================================================================

func init() {
	// Set Gin to test mode to reduce noise in test output
	gin.SetMode(gin.TestMode)
}

// =============================================================================
// Config Tests
// =============================================================================

// TestApplyConfigDefaults_AllDefaults verifies default values are applied.
func TestApplyConfigDefaults_AllDefaults(t *testing.T) {
	result := applyConfigDefaults(Config{})

	assert.Equal(t, 12210, result.Port, "default port should be 12210")
	assert.Equal(t, "openai", result.LLMBackend, "default LLM backend should be openai")
	assert.Equal(t, "aleutian-otel-collector:4317", result.OTelEndpoint,
		"default OTel endpoint should be aleutian-otel-collector:4317")
	assert.Equal(t, "./data/relay", result.DataDir)
	assert.Equal(t, "./data/indexes", result.IndexDir)
	assert.Equal(t, "python3", result.PythonPath)
	assert.Equal(t, 10*time.Second, result.SandboxTimeout)
}

// TestApplyConfigDefaults_PreservesCustomValues verifies custom values are
// not overwritten.
func TestApplyConfigDefaults_PreservesCustomValues(t *testing.T) {
	cfg := Config{
		Port:           8080,
		LLMBackend:     "ollama",
		FallbackModel:  "gpt-4o-mini",
		OTelEndpoint:   "custom-collector:4317",
		WeaviateURL:    "http://weaviate:8080",
		DataDir:        "/tmp/relay-data",
		SandboxTimeout: 3 * time.Second,
	}

	result := applyConfigDefaults(cfg)

	assert.Equal(t, 8080, result.Port, "custom port should be preserved")
	assert.Equal(t, "ollama", result.LLMBackend, "custom LLM backend should be preserved")
	assert.Equal(t, "gpt-4o-mini", result.FallbackModel)
	assert.Equal(t, "custom-collector:4317", result.OTelEndpoint)
	assert.Equal(t, "http://weaviate:8080", result.WeaviateURL)
	assert.Equal(t, "/tmp/relay-data", result.DataDir)
	assert.Equal(t, 3*time.Second, result.SandboxTimeout)
}

// TestApplyConfigDefaults_PartialConfig verifies partial configs mix user
// values with defaults.
func TestApplyConfigDefaults_PartialConfig(t *testing.T) {
	result := applyConfigDefaults(Config{Port: 9999})

	assert.Equal(t, 9999, result.Port)
	assert.Equal(t, "openai", result.LLMBackend)
	assert.Equal(t, "./data/relay", result.DataDir)
}

// =============================================================================
// Weaviate Initialization Tests
// =============================================================================

func TestInitWeaviate_EmptyURLIsNotAnError(t *testing.T) {
	s := &service{config: applyConfigDefaults(Config{})}

	err := s.initWeaviate()

	require.NoError(t, err)
	assert.Nil(t, s.weaviateClient, "no client should be created without a URL")
}

func TestInitWeaviate_RejectsMalformedURL(t *testing.T) {
	s := &service{config: applyConfigDefaults(Config{WeaviateURL: "http://"})}

	err := s.initWeaviate()

	assert.Error(t, err, "URL without a host should be rejected")
}

func TestInitWeaviate_AcceptsQuotedURL(t *testing.T) {
	// Container env files sometimes carry quotes through.
	s := &service{config: applyConfigDefaults(Config{
		WeaviateURL: `"http://weaviate:8080"`,
	})}

	err := s.initWeaviate()

	require.NoError(t, err)
	assert.NotNil(t, s.weaviateClient)
}

// =============================================================================
// Retrieval Factory Tests
// =============================================================================

func TestIndexFactory_WithoutWeaviateUsesMemoryIndex(t *testing.T) {
	s := &service{config: applyConfigDefaults(Config{})}

	factory := s.indexFactory()
	idx, err := factory(context.Background(), retrieval.Key{
		Tenant:    "acme",
		User:      "u1",
		Workspace: "acme",
	})

	require.NoError(t, err)
	_, ok := idx.(*retrieval.MemoryIndex)
	assert.True(t, ok, "factory should build in-process indexes without Weaviate")
}

func TestIndexFactory_ReloadsSavedSnapshot(t *testing.T) {
	dir := t.TempDir()
	s := &service{config: applyConfigDefaults(Config{IndexDir: dir})}
	key := retrieval.Key{Tenant: "acme", User: "u1", Workspace: "acme"}

	seed := retrieval.NewMemoryIndex(key)
	require.NoError(t, seed.AddDocuments(context.Background(), []retrieval.Chunk{
		{Text: "onboarding checklist for new engineers", Source: "onboarding.md", DocID: "d1"},
	}))
	require.NoError(t, seed.SaveToPath(context.Background(), retrieval.SnapshotPath(dir, key.Workspace)))

	idx, err := s.indexFactory()(context.Background(), key)
	require.NoError(t, err)

	hits, err := idx.SimilaritySearch(context.Background(), "onboarding checklist", 3)
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, "d1", hits[0].DocID)
}
