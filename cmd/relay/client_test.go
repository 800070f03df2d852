// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/AleutianAI/AleutianRelay/services/orchestrator/datatypes"
)

func TestAPIClient_Orchestrate(t *testing.T) {
	var gotPath string
	var gotBody datatypes.OrchestrateRequest

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		if err := json.NewDecoder(r.Body).Decode(&gotBody); err != nil {
			t.Errorf("decode request: %v", err)
		}
		json.NewEncoder(w).Encode(datatypes.OrchestrateResponse{
			SessionID:  "s-1",
			Answer:     "forty two",
			Status:     datatypes.StatusCompleted,
			Intent:     datatypes.IntentChat,
			Confidence: 0.8,
		})
	}))
	defer srv.Close()

	client := newAPIClient(srv.URL + "/") // trailing slash must not double up

	resp, err := client.Orchestrate(context.Background(), datatypes.OrchestrateRequest{
		Query:    "what is the answer",
		TenantID: "acme",
		UserID:   "u1",
	})
	if err != nil {
		t.Fatalf("orchestrate failed: %v", err)
	}

	if gotPath != "/api/v1/orchestrate" {
		t.Errorf("path = %q, want /api/v1/orchestrate", gotPath)
	}
	if gotBody.TenantID != "acme" {
		t.Errorf("tenant_id = %q, want acme", gotBody.TenantID)
	}
	if resp.Answer != "forty two" {
		t.Errorf("answer = %q, want %q", resp.Answer, "forty two")
	}
	if resp.SessionID != "s-1" {
		t.Errorf("session_id = %q, want s-1", resp.SessionID)
	}
}

func TestAPIClient_ServerErrorSurfacesMessage(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		json.NewEncoder(w).Encode(map[string]string{"error": "query is required"})
	}))
	defer srv.Close()

	client := newAPIClient(srv.URL)

	_, err := client.Orchestrate(context.Background(), datatypes.OrchestrateRequest{})
	if err == nil {
		t.Fatal("expected error for 400 response")
	}
	if !strings.Contains(err.Error(), "query is required") {
		t.Errorf("error %q should carry the server message", err)
	}
}

func TestAPIClient_ServerErrorWithoutBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	client := newAPIClient(srv.URL)

	_, err := client.Orchestrate(context.Background(), datatypes.OrchestrateRequest{Query: "q"})
	if err == nil {
		t.Fatal("expected error for 502 response")
	}
	if !strings.Contains(err.Error(), "502") {
		t.Errorf("error %q should carry the status code", err)
	}
}

func TestAPIClient_RegisterDocuments(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/v1/documents" {
			t.Errorf("path = %q, want /api/v1/documents", r.URL.Path)
		}
		json.NewEncoder(w).Encode(map[string]int{"registered": 3})
	}))
	defer srv.Close()

	client := newAPIClient(srv.URL)

	count, err := client.RegisterDocuments(context.Background(), datatypes.RegisterDocumentsRequest{
		TenantID: "acme",
		UserID:   "u1",
		Paths:    []string{"a.txt", "b.txt", "c.txt"},
	})
	if err != nil {
		t.Fatalf("register documents failed: %v", err)
	}
	if count != 3 {
		t.Errorf("registered = %d, want 3", count)
	}
}

func TestAPIClient_Approve(t *testing.T) {
	var gotBody datatypes.ApproveRequest

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/v1/approve" {
			t.Errorf("path = %q, want /api/v1/approve", r.URL.Path)
		}
		if err := json.NewDecoder(r.Body).Decode(&gotBody); err != nil {
			t.Errorf("decode request: %v", err)
		}
		json.NewEncoder(w).Encode(datatypes.OrchestrateResponse{
			SessionID: gotBody.SessionID,
			Status:    datatypes.StatusCompleted,
		})
	}))
	defer srv.Close()

	client := newAPIClient(srv.URL)

	resp, err := client.Approve(context.Background(), datatypes.ApproveRequest{
		Query:        "approved",
		TenantID:     "acme",
		UserID:       "u1",
		SessionID:    "s-9",
		Approved:     true,
		GeneratedSQL: "SELECT 1",
	})
	if err != nil {
		t.Fatalf("approve failed: %v", err)
	}
	if !gotBody.Approved {
		t.Error("approved flag not forwarded")
	}
	if gotBody.GeneratedSQL != "SELECT 1" {
		t.Errorf("generated_sql = %q, want SELECT 1", gotBody.GeneratedSQL)
	}
	if resp.SessionID != "s-9" {
		t.Errorf("session_id = %q, want s-9", resp.SessionID)
	}
}
