// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package research

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSearchParsesInstantAnswer(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "json", r.URL.Query().Get("format"))
		assert.Equal(t, "go generics", r.URL.Query().Get("q"))
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{
			"Heading": "Generics",
			"AbstractText": "Type parameters were added in Go 1.18.",
			"AbstractURL": "https://example.org/generics",
			"RelatedTopics": [
				{"Text": "Constraints package", "FirstURL": "https://example.org/constraints"},
				{"Text": ""}
			]
		}`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL, nil)
	findings := c.Search(context.Background(), "go generics")

	require.Len(t, findings, 2)
	assert.Equal(t, "Generics", findings[0].Title)
	assert.Contains(t, findings[0].Snippet, "Go 1.18")
	assert.Equal(t, "Constraints package", findings[1].Snippet)
}

func TestSearchDegradesOnServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, nil)
	assert.Empty(t, c.Search(context.Background(), "anything"))
}

func TestSearchDegradesOnBadJSON(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Write([]byte("<html>not json</html>"))
	}))
	defer srv.Close()

	c := NewClient(srv.URL, nil)
	assert.Empty(t, c.Search(context.Background(), "anything"))
}

func TestSearchDegradesWhenUnreachable(t *testing.T) {
	c := NewClient("http://127.0.0.1:1", nil)
	assert.Empty(t, c.Search(context.Background(), "anything"))
}

func TestSearchEmptyQuery(t *testing.T) {
	c := NewClient("http://unused.invalid", nil)
	assert.Nil(t, c.Search(context.Background(), "   "))
}

func TestFormatNumbersFindings(t *testing.T) {
	out := Format([]Finding{
		{Title: "A", Snippet: "first", URL: "https://a.example"},
		{Snippet: "second"},
	})
	assert.Contains(t, out, "1. A: first (https://a.example)")
	assert.Contains(t, out, "2. second")
	assert.Empty(t, Format(nil))
}
