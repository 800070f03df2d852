// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package policy_engine

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

// newTestEngine returns an engine loaded with the embedded defaults.
func newTestEngine(t *testing.T) *Engine {
	t.Helper()
	e, err := NewEngine(nil)
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}
	return e
}

func TestEmbeddedPoliciesLoad(t *testing.T) {
	e := newTestEngine(t)

	name, tier := e.TierFor("unassigned-tenant")
	if name != "free" {
		t.Errorf("default tier = %q, want free", name)
	}
	if len(tier.AllowedAgents) == 0 {
		t.Error("free tier has no allowed agents")
	}
}

func TestIsAgentAllowedMatrix(t *testing.T) {
	e := newTestEngine(t)
	loadTiers(t, e, `
default_tier: free
tiers:
  free:
    allowed_agents: [chat, rag, research]
    max_query_length: 2000
    requests_per_minute: 0
  enterprise:
    allowed_agents: [chat, rag, research, sql, code]
    max_query_length: 16000
    requests_per_minute: 0
tenants:
  acme: enterprise
`)

	tests := []struct {
		tenant string
		agent  string
		want   bool
	}{
		{"anyone", "chat", true},
		{"anyone", "rag", true},
		{"anyone", "research", true},
		{"anyone", "sql", false},
		{"anyone", "code", false},
		{"acme", "sql", true},
		{"acme", "code", true},
		{"acme", "chat", true},
	}

	for _, tt := range tests {
		t.Run(tt.tenant+"/"+tt.agent, func(t *testing.T) {
			if got := e.IsAgentAllowed(tt.tenant, tt.agent); got != tt.want {
				t.Errorf("IsAgentAllowed(%q, %q) = %v, want %v", tt.tenant, tt.agent, got, tt.want)
			}
		})
	}
}

func TestValidateRequestQueryLength(t *testing.T) {
	e := newTestEngine(t)
	loadTiers(t, e, `
default_tier: free
tiers:
  free:
    allowed_agents: [chat]
    max_query_length: 10
    requests_per_minute: 0
`)

	ok, _ := e.ValidateRequest("t1", "short", "chat")
	if !ok {
		t.Fatal("short query should pass")
	}

	ok, reason := e.ValidateRequest("t1", strings.Repeat("x", 11), "chat")
	if ok {
		t.Fatal("over-length query should be denied")
	}
	if !strings.Contains(reason, "limit") {
		t.Errorf("denial reason should mention the limit, got %q", reason)
	}
}

func TestValidateRequestDisallowedAgent(t *testing.T) {
	e := newTestEngine(t)

	ok, reason := e.ValidateRequest("free-tenant", "run this script", "code")
	if ok {
		t.Fatal("code agent must be denied on the free tier")
	}
	if !strings.Contains(reason, "code") {
		t.Errorf("denial reason should name the capability, got %q", reason)
	}
}

func TestValidateRequestRateLimit(t *testing.T) {
	e := newTestEngine(t)
	loadTiers(t, e, `
default_tier: free
tiers:
  free:
    allowed_agents: [chat]
    max_query_length: 0
    requests_per_minute: 2
`)

	// Burst allowance is one minute's worth of requests.
	for i := 0; i < 2; i++ {
		if ok, reason := e.ValidateRequest("bursty", "q", "chat"); !ok {
			t.Fatalf("request %d unexpectedly denied: %s", i, reason)
		}
	}
	if ok, _ := e.ValidateRequest("bursty", "q", "chat"); ok {
		t.Error("request past the burst allowance should be denied")
	}

	// A different tenant has its own bucket.
	if ok, _ := e.ValidateRequest("other", "q", "chat"); !ok {
		t.Error("rate limiting must be per tenant")
	}
}

func TestLoadFileRejectsBrokenDefaultTier(t *testing.T) {
	e := newTestEngine(t)
	path := filepath.Join(t.TempDir(), "policies.yaml")
	if err := os.WriteFile(path, []byte("default_tier: missing\ntiers: {}\n"), 0o600); err != nil {
		t.Fatal(err)
	}

	if err := e.LoadFile(path); err == nil {
		t.Fatal("expected error for undefined default tier")
	}

	// Previous configuration survives the failed load.
	if !e.IsAgentAllowed("anyone", "chat") {
		t.Error("failed load must keep the previous configuration")
	}
}

// loadTiers swaps the engine configuration from an inline YAML document.
func loadTiers(t *testing.T, e *Engine, doc string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "policies.yaml")
	if err := os.WriteFile(path, []byte(doc), 0o600); err != nil {
		t.Fatal(err)
	}
	if err := e.LoadFile(path); err != nil {
		t.Fatalf("LoadFile: %v", err)
	}
}
