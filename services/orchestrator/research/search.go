// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package research wraps the external web lookup used by the web-research
// agent. The lookup is best effort: any transport, decode, or upstream
// problem degrades to an empty result so the agent can still answer from
// model knowledge with an appropriate caveat.
package research

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const (
	defaultEndpoint = "https://api.duckduckgo.com/"
	defaultTimeout  = 8 * time.Second
	maxBodyBytes    = 1 << 20
	maxFindings     = 5
)

// Finding is one snippet of retrieved web context.
type Finding struct {
	Title   string `json:"title"`
	Snippet string `json:"snippet"`
	URL     string `json:"url"`
}

// Client queries the DuckDuckGo instant-answer API.
type Client struct {
	endpoint string
	http     *http.Client
	logger   *slog.Logger
}

// NewClient builds a search client. Empty endpoint uses the public API.
func NewClient(endpoint string, logger *slog.Logger) *Client {
	if endpoint == "" {
		endpoint = defaultEndpoint
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		endpoint: endpoint,
		http:     &http.Client{Timeout: defaultTimeout},
		logger:   logger,
	}
}

type instantAnswer struct {
	AbstractText  string `json:"AbstractText"`
	AbstractURL   string `json:"AbstractURL"`
	Heading       string `json:"Heading"`
	Answer        string `json:"Answer"`
	RelatedTopics []struct {
		Text     string `json:"Text"`
		FirstURL string `json:"FirstURL"`
	} `json:"RelatedTopics"`
}

// Search returns findings for the query. Failures are logged and yield an
// empty slice, never an error; the caller cannot distinguish "no results"
// from "search unavailable" and is not supposed to.
func (c *Client) Search(ctx context.Context, query string) []Finding {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil
	}

	reqURL := fmt.Sprintf("%s?q=%s&format=json&no_html=1&skip_disambig=1",
		c.endpoint, url.QueryEscape(query))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		c.logger.Warn("building search request failed", "error", err)
		return nil
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		c.logger.Warn("web search unavailable", "error", err)
		return nil
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		c.logger.Warn("web search returned non-200", "status", resp.StatusCode)
		return nil
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		c.logger.Warn("reading search response failed", "error", err)
		return nil
	}

	var answer instantAnswer
	if err := json.Unmarshal(body, &answer); err != nil {
		c.logger.Warn("decoding search response failed", "error", err)
		return nil
	}

	return collectFindings(answer)
}

func collectFindings(answer instantAnswer) []Finding {
	var findings []Finding
	if answer.Answer != "" {
		findings = append(findings, Finding{
			Title:   answer.Heading,
			Snippet: answer.Answer,
			URL:     answer.AbstractURL,
		})
	}
	if answer.AbstractText != "" {
		findings = append(findings, Finding{
			Title:   answer.Heading,
			Snippet: answer.AbstractText,
			URL:     answer.AbstractURL,
		})
	}
	for _, topic := range answer.RelatedTopics {
		if len(findings) >= maxFindings {
			break
		}
		if topic.Text == "" {
			continue
		}
		findings = append(findings, Finding{Snippet: topic.Text, URL: topic.FirstURL})
	}
	return findings
}

// Format renders findings as a numbered context block for prompting.
func Format(findings []Finding) string {
	if len(findings) == 0 {
		return ""
	}
	var b strings.Builder
	for i, f := range findings {
		fmt.Fprintf(&b, "%d. ", i+1)
		if f.Title != "" {
			b.WriteString(f.Title)
			b.WriteString(": ")
		}
		b.WriteString(f.Snippet)
		if f.URL != "" {
			fmt.Fprintf(&b, " (%s)", f.URL)
		}
		b.WriteString("\n")
	}
	return b.String()
}
