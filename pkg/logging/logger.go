// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package logging builds the structured loggers used by Relay binaries.
//
// The package produces plain *slog.Logger values so the rest of the
// codebase stays on the standard structured logging API. What it adds on
// top of slog is destination plumbing:
//
//   - stderr output by default (Unix CLI convention)
//   - optional file logging with automatic directory creation, one JSON
//     file per service per day
//   - an Exporter extension point that streams entries to an external
//     sink (cloud upload, log aggregation) without blocking log calls
//
// # Basic Usage
//
//	logger, closeLogs := logging.Setup(logging.Config{
//	    Level:   slog.LevelInfo,
//	    Service: "orchestrator",
//	    LogDir:  "~/.aleutian/logs",
//	})
//	defer closeLogs()
//	slog.SetDefault(logger)
//
// # Security Considerations
//
// Nothing here redacts sensitive data. Callers must keep PII, tokens,
// and secrets out of log attributes:
//
//	// BAD: logs sensitive data
//	logger.Info("auth", "token", authToken)
//
//	// GOOD: log metadata only
//	logger.Info("auth", "token_present", authToken != "")
package logging

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

// =============================================================================
// Configuration
// =============================================================================

// Config configures logger construction.
//
// A zero-value Config yields an Info-level text logger on stderr.
//
// Example configurations:
//
// Development:
//
//	Config{Level: slog.LevelDebug}
//
// Production with file logging:
//
//	Config{
//	    Level:   slog.LevelInfo,
//	    LogDir:  "/var/log/aleutian",
//	    Service: "orchestrator",
//	    JSON:    true,
//	}
type Config struct {
	// Level is the minimum level; records below it are discarded.
	// Default: slog.LevelInfo
	Level slog.Level

	// LogDir enables file logging to the given directory. The file is
	// named "{Service}_{YYYY-MM-DD}.log" and always JSON, regardless of
	// the JSON field. Supports ~ expansion. Default: "" (disabled)
	LogDir string

	// Service is attached to every record as the "service" attribute.
	// Recommended values: "orchestrator", "relay-cli"
	Service string

	// JSON switches stderr output from text to JSON.
	JSON bool

	// Quiet disables stderr output. Records still reach the file and the
	// exporter. Useful for daemons where stderr is not monitored.
	Quiet bool

	// Exporter receives every emitted record asynchronously. Export
	// failures are dropped so they cannot disrupt logging.
	// Default: nil (no export)
	Exporter Exporter
}

// ParseLevel maps a level name to a slog.Level, defaulting to Info.
// Recognized names (case-insensitive): debug, info, warn, error.
func ParseLevel(name string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// =============================================================================
// Exporter Extension Point
// =============================================================================

// Entry is the flattened form of a log record handed to an Exporter.
type Entry struct {
	Timestamp time.Time
	Level     slog.Level
	Message   string
	Service   string
	Attrs     map[string]any
}

// Exporter streams log entries to an external system.
//
// Implementations should buffer internally and batch uploads; Export is
// called from a goroutine per record with a short deadline, so a slow
// sink drops entries rather than stalling the program. Flush is called
// during shutdown and should block until buffered entries are sent.
// Close runs after Flush and releases connections and files.
type Exporter interface {
	Export(ctx context.Context, entry Entry) error
	Flush(ctx context.Context) error
	Close() error
}

// exportHandler is a slog.Handler that converts records to Entry values
// and forwards them to an Exporter. It never blocks the caller.
type exportHandler struct {
	exporter Exporter
	service  string
	level    slog.Level
	attrs    []slog.Attr
}

func (h *exportHandler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= h.level
}

func (h *exportHandler) Handle(_ context.Context, r slog.Record) error {
	attrs := make(map[string]any, r.NumAttrs()+len(h.attrs))
	for _, a := range h.attrs {
		attrs[a.Key] = a.Value.Any()
	}
	r.Attrs(func(a slog.Attr) bool {
		attrs[a.Key] = a.Value.Any()
		return true
	})

	entry := Entry{
		Timestamp: r.Time,
		Level:     r.Level,
		Message:   r.Message,
		Service:   h.service,
		Attrs:     attrs,
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = h.exporter.Export(ctx, entry)
	}()
	return nil
}

func (h *exportHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	merged := make([]slog.Attr, 0, len(h.attrs)+len(attrs))
	merged = append(merged, h.attrs...)
	merged = append(merged, attrs...)
	return &exportHandler{
		exporter: h.exporter,
		service:  h.service,
		level:    h.level,
		attrs:    merged,
	}
}

// WithGroup flattens groups; exported attrs keep their leaf keys.
func (h *exportHandler) WithGroup(string) slog.Handler { return h }

// =============================================================================
// Construction
// =============================================================================

// Setup builds a logger from cfg and returns it with a close function.
//
// The close function flushes the exporter and syncs and closes the log
// file; call it on shutdown when either is configured. It is safe to
// call when neither is.
//
//	logger, closeLogs := logging.Setup(cfg)
//	defer closeLogs()
func Setup(cfg Config) (*slog.Logger, func() error) {
	opts := &slog.HandlerOptions{Level: cfg.Level}

	var handlers []slog.Handler
	if !cfg.Quiet {
		if cfg.JSON {
			handlers = append(handlers, slog.NewJSONHandler(os.Stderr, opts))
		} else {
			handlers = append(handlers, slog.NewTextHandler(os.Stderr, opts))
		}
	}

	var file *os.File
	if cfg.LogDir != "" {
		if f, err := openLogFile(cfg.LogDir, cfg.Service); err == nil {
			file = f
			handlers = append(handlers, slog.NewJSONHandler(file, opts))
		}
	}

	if cfg.Exporter != nil {
		handlers = append(handlers, &exportHandler{
			exporter: cfg.Exporter,
			service:  cfg.Service,
			level:    cfg.Level,
		})
	}

	var handler slog.Handler
	switch len(handlers) {
	case 0:
		// Quiet with nothing else configured still needs a sink.
		handler = slog.NewTextHandler(io.Discard, opts)
	case 1:
		handler = handlers[0]
	default:
		handler = &multiHandler{handlers: handlers}
	}

	if cfg.Service != "" {
		handler = handler.WithAttrs([]slog.Attr{slog.String("service", cfg.Service)})
	}

	closeFn := func() error {
		var errs []error
		if cfg.Exporter != nil {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := cfg.Exporter.Flush(ctx); err != nil {
				errs = append(errs, fmt.Errorf("flush exporter: %w", err))
			}
			if err := cfg.Exporter.Close(); err != nil {
				errs = append(errs, fmt.Errorf("close exporter: %w", err))
			}
		}
		if file != nil {
			if err := file.Sync(); err != nil {
				errs = append(errs, fmt.Errorf("sync log file: %w", err))
			}
			if err := file.Close(); err != nil {
				errs = append(errs, fmt.Errorf("close log file: %w", err))
			}
		}
		if len(errs) > 0 {
			return errs[0]
		}
		return nil
	}

	return slog.New(handler), closeFn
}

// openLogFile creates the log directory and opens today's log file in
// append mode. Filename: {service}_{date}.log
func openLogFile(dir, service string) (*os.File, error) {
	dir = expandPath(dir)
	if err := os.MkdirAll(dir, 0750); err != nil {
		return nil, err
	}
	if service == "" {
		service = "relay"
	}
	name := fmt.Sprintf("%s_%s.log", service, time.Now().Format("2006-01-02"))
	return os.OpenFile(filepath.Join(dir, name), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0640)
}

// expandPath expands a leading ~ to the user's home directory.
func expandPath(path string) string {
	if len(path) > 0 && path[0] == '~' {
		if home, err := os.UserHomeDir(); err == nil {
			return filepath.Join(home, path[1:])
		}
	}
	return path
}

// =============================================================================
// Multi-Handler (Internal)
// =============================================================================

// multiHandler fans out records to several slog handlers, allowing
// stderr and file output with different formats.
type multiHandler struct {
	handlers []slog.Handler
}

func (h *multiHandler) Enabled(ctx context.Context, level slog.Level) bool {
	for _, handler := range h.handlers {
		if handler.Enabled(ctx, level) {
			return true
		}
	}
	return false
}

func (h *multiHandler) Handle(ctx context.Context, r slog.Record) error {
	for _, handler := range h.handlers {
		if handler.Enabled(ctx, r.Level) {
			if err := handler.Handle(ctx, r); err != nil {
				return err
			}
		}
	}
	return nil
}

func (h *multiHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	handlers := make([]slog.Handler, len(h.handlers))
	for i, handler := range h.handlers {
		handlers[i] = handler.WithAttrs(attrs)
	}
	return &multiHandler{handlers: handlers}
}

func (h *multiHandler) WithGroup(name string) slog.Handler {
	handlers := make([]slog.Handler, len(h.handlers))
	for i, handler := range h.handlers {
		handlers[i] = handler.WithGroup(name)
	}
	return &multiHandler{handlers: handlers}
}

// =============================================================================
// Built-in Exporters
// =============================================================================

// NopExporter discards all entries. Useful when export is disabled.
type NopExporter struct{}

func (e *NopExporter) Export(context.Context, Entry) error { return nil }
func (e *NopExporter) Flush(context.Context) error         { return nil }
func (e *NopExporter) Close() error                        { return nil }

var _ Exporter = (*NopExporter)(nil)

// BufferedExporter collects entries in memory.
//
// Useful in tests to verify log output:
//
//	exporter := logging.NewBufferedExporter()
//	logger, _ := logging.Setup(logging.Config{Exporter: exporter, Quiet: true})
//	logger.Info("test message", "key", "value")
type BufferedExporter struct {
	mu      sync.Mutex
	entries []Entry
}

func NewBufferedExporter() *BufferedExporter {
	return &BufferedExporter{entries: make([]Entry, 0, 100)}
}

func (e *BufferedExporter) Export(_ context.Context, entry Entry) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.entries = append(e.entries, entry)
	return nil
}

func (e *BufferedExporter) Flush(context.Context) error { return nil }
func (e *BufferedExporter) Close() error                { return nil }

// Entries returns a copy of all collected entries.
func (e *BufferedExporter) Entries() []Entry {
	e.mu.Lock()
	defer e.mu.Unlock()
	result := make([]Entry, len(e.entries))
	copy(result, e.entries)
	return result
}

var _ Exporter = (*BufferedExporter)(nil)

// WriterExporter writes one line per entry to an io.Writer.
type WriterExporter struct {
	w  io.Writer
	mu sync.Mutex
}

func NewWriterExporter(w io.Writer) *WriterExporter {
	return &WriterExporter{w: w}
}

func (e *WriterExporter) Export(_ context.Context, entry Entry) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	_, err := fmt.Fprintf(e.w, "[%s] %s: %s %v\n",
		entry.Timestamp.Format(time.RFC3339),
		entry.Level,
		entry.Message,
		entry.Attrs,
	)
	return err
}

func (e *WriterExporter) Flush(context.Context) error { return nil }

// Close does not close the writer; the caller owns it.
func (e *WriterExporter) Close() error { return nil }

var _ Exporter = (*WriterExporter)(nil)
