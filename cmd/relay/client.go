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
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/AleutianAI/AleutianRelay/services/orchestrator/datatypes"
)

// maxResponseBytes bounds how much of an HTTP response the CLI will read.
const maxResponseBytes = 4 << 20 // 4MB

// apiClient talks to a running orchestrator server.
type apiClient struct {
	baseURL string
	http    *http.Client
}

func newAPIClient(baseURL string) *apiClient {
	return &apiClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: 120 * time.Second},
	}
}

// Orchestrate runs one query and returns the final-state projection.
func (c *apiClient) Orchestrate(ctx context.Context, req datatypes.OrchestrateRequest) (*datatypes.OrchestrateResponse, error) {
	var resp datatypes.OrchestrateResponse
	if err := c.post(ctx, "/api/v1/orchestrate", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Approve resumes a run that stopped at the approval gate.
func (c *apiClient) Approve(ctx context.Context, req datatypes.ApproveRequest) (*datatypes.OrchestrateResponse, error) {
	var resp datatypes.OrchestrateResponse
	if err := c.post(ctx, "/api/v1/approve", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// RegisterDocuments registers local file paths with the workspace index.
// The paths must be readable by the server process.
func (c *apiClient) RegisterDocuments(ctx context.Context, req datatypes.RegisterDocumentsRequest) (int, error) {
	var resp struct {
		Registered int `json:"registered"`
	}
	if err := c.post(ctx, "/api/v1/documents", req, &resp); err != nil {
		return 0, err
	}
	return resp.Registered, nil
}

func (c *apiClient) post(ctx context.Context, path string, body, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("encode request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("call %s: %w", path, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return fmt.Errorf("read response from %s: %w", path, err)
	}

	if resp.StatusCode != http.StatusOK {
		var apiErr struct {
			Error string `json:"error"`
		}
		if json.Unmarshal(data, &apiErr) == nil && apiErr.Error != "" {
			return fmt.Errorf("server rejected %s: %s", path, apiErr.Error)
		}
		return fmt.Errorf("server rejected %s: status %d", path, resp.StatusCode)
	}

	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("decode response from %s: %w", path, err)
	}
	return nil
}
