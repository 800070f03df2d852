// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"
)

// =============================================================================
// Level Parsing Tests
// =============================================================================

func TestParseLevel(t *testing.T) {
	tests := []struct {
		name string
		want slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"DEBUG", slog.LevelDebug},
		{"info", slog.LevelInfo},
		{"warn", slog.LevelWarn},
		{"warning", slog.LevelWarn},
		{"error", slog.LevelError},
		{"  Error ", slog.LevelError},
		{"", slog.LevelInfo},
		{"bogus", slog.LevelInfo},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ParseLevel(tt.name); got != tt.want {
				t.Errorf("ParseLevel(%q) = %v, want %v", tt.name, got, tt.want)
			}
		})
	}
}

// =============================================================================
// Setup Tests
// =============================================================================

func TestSetup_DefaultConfig(t *testing.T) {
	logger, closeLogs := Setup(Config{})
	defer closeLogs()

	if logger == nil {
		t.Fatal("Setup returned nil logger")
	}
	if !logger.Enabled(context.Background(), slog.LevelInfo) {
		t.Error("default logger should enable Info")
	}
	if logger.Enabled(context.Background(), slog.LevelDebug) {
		t.Error("default logger should filter Debug")
	}
}

func TestSetup_QuietWithoutSinks(t *testing.T) {
	logger, closeLogs := Setup(Config{Quiet: true})

	// Must not panic even though nothing is configured.
	logger.Info("discarded")

	if err := closeLogs(); err != nil {
		t.Errorf("close with no resources returned error: %v", err)
	}
}

func TestSetup_FileLogging(t *testing.T) {
	dir := t.TempDir()

	logger, closeLogs := Setup(Config{
		LogDir:  dir,
		Service: "testsvc",
		Quiet:   true,
	})
	logger.Info("file entry", "key", "value")
	if err := closeLogs(); err != nil {
		t.Fatalf("close failed: %v", err)
	}

	name := "testsvc_" + time.Now().Format("2006-01-02") + ".log"
	data, err := os.ReadFile(filepath.Join(dir, name))
	if err != nil {
		t.Fatalf("log file not created: %v", err)
	}

	var record map[string]any
	if err := json.Unmarshal(bytes.TrimSpace(data), &record); err != nil {
		t.Fatalf("file log is not JSON: %v", err)
	}
	if record["msg"] != "file entry" {
		t.Errorf("msg = %v, want %q", record["msg"], "file entry")
	}
	if record["service"] != "testsvc" {
		t.Errorf("service = %v, want %q", record["service"], "testsvc")
	}
	if record["key"] != "value" {
		t.Errorf("key = %v, want %q", record["key"], "value")
	}
}

func TestSetup_FileLogging_UnusableDir(t *testing.T) {
	// Construction must survive an unusable log directory.
	logger, closeLogs := Setup(Config{
		LogDir: string([]byte{0}),
		Quiet:  true,
	})
	defer closeLogs()

	logger.Info("still works")
}

func TestSetup_LevelFiltering(t *testing.T) {
	exporter := NewBufferedExporter()
	logger, closeLogs := Setup(Config{
		Level:    slog.LevelWarn,
		Quiet:    true,
		Exporter: exporter,
	})
	defer closeLogs()

	logger.Debug("drop me")
	logger.Info("drop me too")
	logger.Warn("keep me")

	entries := waitForEntries(t, exporter, 1)
	if entries[0].Message != "keep me" {
		t.Errorf("exported message = %q, want %q", entries[0].Message, "keep me")
	}
	if entries[0].Level != slog.LevelWarn {
		t.Errorf("exported level = %v, want %v", entries[0].Level, slog.LevelWarn)
	}
}

// =============================================================================
// Exporter Tests
// =============================================================================

func TestSetup_ExporterReceivesAttrs(t *testing.T) {
	exporter := NewBufferedExporter()
	logger, closeLogs := Setup(Config{
		Service:  "relay-cli",
		Quiet:    true,
		Exporter: exporter,
	})
	defer closeLogs()

	logger.Info("hello", "count", 3)

	entries := waitForEntries(t, exporter, 1)
	if entries[0].Service != "relay-cli" {
		t.Errorf("service = %q, want %q", entries[0].Service, "relay-cli")
	}
	if entries[0].Attrs["count"] != int64(3) {
		t.Errorf("count attr = %v (%T), want 3",
			entries[0].Attrs["count"], entries[0].Attrs["count"])
	}
}

func TestSetup_ExporterSeesWithAttrs(t *testing.T) {
	exporter := NewBufferedExporter()
	logger, closeLogs := Setup(Config{
		Quiet:    true,
		Exporter: exporter,
	})
	defer closeLogs()

	logger.With("request_id", "r-1").Info("scoped")

	entries := waitForEntries(t, exporter, 1)
	if entries[0].Attrs["request_id"] != "r-1" {
		t.Errorf("request_id attr = %v, want %q", entries[0].Attrs["request_id"], "r-1")
	}
}

func TestWriterExporter_Format(t *testing.T) {
	var buf bytes.Buffer
	exporter := NewWriterExporter(&buf)

	err := exporter.Export(context.Background(), Entry{
		Timestamp: time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC),
		Level:     slog.LevelInfo,
		Message:   "formatted",
		Attrs:     map[string]any{"k": "v"},
	})
	if err != nil {
		t.Fatalf("export failed: %v", err)
	}

	out := buf.String()
	if !strings.Contains(out, "formatted") {
		t.Errorf("output missing message: %q", out)
	}
	if !strings.Contains(out, "2025-03-01T12:00:00Z") {
		t.Errorf("output missing timestamp: %q", out)
	}
}

func TestNopExporter(t *testing.T) {
	var e NopExporter
	if err := e.Export(context.Background(), Entry{Message: "x"}); err != nil {
		t.Errorf("Export returned error: %v", err)
	}
	if err := e.Flush(context.Background()); err != nil {
		t.Errorf("Flush returned error: %v", err)
	}
	if err := e.Close(); err != nil {
		t.Errorf("Close returned error: %v", err)
	}
}

// =============================================================================
// Multi-Handler Tests
// =============================================================================

func TestMultiHandler_FansOut(t *testing.T) {
	var a, b bytes.Buffer
	handler := &multiHandler{handlers: []slog.Handler{
		slog.NewTextHandler(&a, nil),
		slog.NewJSONHandler(&b, nil),
	}}

	slog.New(handler).Info("fan out")

	if !strings.Contains(a.String(), "fan out") {
		t.Error("first handler did not receive record")
	}
	if !strings.Contains(b.String(), "fan out") {
		t.Error("second handler did not receive record")
	}
}

func TestMultiHandler_PerHandlerLevels(t *testing.T) {
	var debugOut, warnOut bytes.Buffer
	handler := &multiHandler{handlers: []slog.Handler{
		slog.NewTextHandler(&debugOut, &slog.HandlerOptions{Level: slog.LevelDebug}),
		slog.NewTextHandler(&warnOut, &slog.HandlerOptions{Level: slog.LevelWarn}),
	}}
	logger := slog.New(handler)

	logger.Debug("quiet")
	logger.Warn("loud")

	if !strings.Contains(debugOut.String(), "quiet") {
		t.Error("debug handler missed debug record")
	}
	if strings.Contains(warnOut.String(), "quiet") {
		t.Error("warn handler received debug record")
	}
	if !strings.Contains(warnOut.String(), "loud") {
		t.Error("warn handler missed warn record")
	}
}

// =============================================================================
// Concurrency Tests
// =============================================================================

func TestSetup_ConcurrentUse(t *testing.T) {
	exporter := NewBufferedExporter()
	logger, closeLogs := Setup(Config{
		Quiet:    true,
		Exporter: exporter,
	})
	defer closeLogs()

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			for j := 0; j < 10; j++ {
				logger.Info("concurrent", "worker", n, "iteration", j)
			}
		}(i)
	}
	wg.Wait()

	waitForEntries(t, exporter, 80)
}

// =============================================================================
// Helpers
// =============================================================================

func TestExpandPath(t *testing.T) {
	home, err := os.UserHomeDir()
	if err != nil {
		t.Skip("no home directory available")
	}

	if got := expandPath("~/logs"); got != filepath.Join(home, "logs") {
		t.Errorf("expandPath(~/logs) = %q", got)
	}
	if got := expandPath("/var/log"); got != "/var/log" {
		t.Errorf("expandPath(/var/log) = %q, want unchanged", got)
	}
	if got := expandPath("relative/path"); got != "relative/path" {
		t.Errorf("expandPath(relative/path) = %q, want unchanged", got)
	}
}

// waitForEntries polls the exporter until at least n entries arrive.
// Export runs on its own goroutine per record, so tests must wait.
func waitForEntries(t *testing.T, e *BufferedExporter, n int) []Entry {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if entries := e.Entries(); len(entries) >= n {
			return entries
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("expected %d exported entries, got %d", n, len(e.Entries()))
	return nil
}
