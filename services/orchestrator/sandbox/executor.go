// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package sandbox runs generated Python in an isolated subprocess.
//
// # Description
//
// The execution boundary is an OS process, not a goroutine: the interpreter
// runs `python3 -I -S -` with the artifact on stdin, output captured, a hard
// wall-clock timeout that kills the process, and best-effort memory/CPU
// rlimits on Linux. A runaway script can therefore never hang the invoking
// goroutine past its timeout.
//
// # Limitations
//
// This is containment, not a security boundary. The subprocess shares the
// host filesystem view and network namespace; artifact validation in the
// safety package is what keeps filesystem- and network-touching code from
// reaching execution at all. Do not rely on this sandbox alone for
// untrusted input in production.
package sandbox

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os/exec"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
)

// sandboxTracer is the OpenTelemetry tracer for sandbox operations.
var sandboxTracer = otel.Tracer("aleutian.relay.sandbox")

// Defaults applied by NewExecutor when the corresponding option is zero.
const (
	DefaultTimeout        = 10 * time.Second
	DefaultMaxMemoryBytes = 128 * 1024 * 1024 // 128MB
	DefaultMaxCPUSeconds  = 10
	DefaultMaxOutputBytes = 64 * 1024 // 64KB
)

// Result is the captured output of a completed run.
type Result struct {
	Stdout   string
	Stderr   string
	Duration time.Duration
}

// =============================================================================
// Error Types
// =============================================================================

// TimeoutError reports that the wall-clock cutoff killed the run.
type TimeoutError struct {
	Timeout time.Duration
}

// Error implements the error interface for TimeoutError.
func (e *TimeoutError) Error() string {
	return fmt.Sprintf("execution exceeded the %s timeout and was killed", e.Timeout)
}

// RuntimeError reports that the artifact ran and failed.
type RuntimeError struct {
	ExitCode int
	Stderr   string
}

// Error implements the error interface for RuntimeError.
func (e *RuntimeError) Error() string {
	return fmt.Sprintf("execution failed with exit code %d: %s", e.ExitCode, strings.TrimSpace(e.Stderr))
}

// SetupError reports that the interpreter could not be started at all.
type SetupError struct {
	Err error
}

// Error implements the error interface for SetupError.
func (e *SetupError) Error() string {
	return fmt.Sprintf("sandbox setup failed: %v", e.Err)
}

// Unwrap exposes the underlying cause.
func (e *SetupError) Unwrap() error { return e.Err }

// IsTimeout reports whether err is a sandbox timeout.
func IsTimeout(err error) bool {
	var te *TimeoutError
	return errors.As(err, &te)
}

// =============================================================================
// Executor
// =============================================================================

// Config holds executor options. Zero values take the package defaults.
type Config struct {
	// PythonPath is the interpreter binary. Default: "python3".
	PythonPath string

	// Timeout is the hard wall-clock cutoff per run.
	Timeout time.Duration

	// MaxMemoryBytes caps the address space (Linux only, best effort).
	MaxMemoryBytes uint64

	// MaxCPUSeconds caps CPU time (Linux only, best effort).
	MaxCPUSeconds uint64

	// MaxOutputBytes truncates captured stdout/stderr.
	MaxOutputBytes int
}

// Executor runs artifacts under the configured limits.
//
// Safe for concurrent use; each Run spawns its own subprocess.
type Executor struct {
	cfg    Config
	logger *slog.Logger
}

// NewExecutor creates an Executor with defaults applied.
func NewExecutor(cfg Config, logger *slog.Logger) *Executor {
	if cfg.PythonPath == "" {
		cfg.PythonPath = "python3"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.MaxMemoryBytes == 0 {
		cfg.MaxMemoryBytes = DefaultMaxMemoryBytes
	}
	if cfg.MaxCPUSeconds == 0 {
		cfg.MaxCPUSeconds = DefaultMaxCPUSeconds
	}
	if cfg.MaxOutputBytes <= 0 {
		cfg.MaxOutputBytes = DefaultMaxOutputBytes
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Executor{cfg: cfg, logger: logger.With("component", "sandbox")}
}

// Run executes one Python artifact.
//
// # Description
//
// The artifact is piped to `python3 -I -S -` (isolated mode: no user site
// packages, no PYTHONPATH, no current-directory import). The run is bounded
// by the configured wall-clock timeout; on expiry the process is killed and
// a *TimeoutError returned. Resource limits are applied to the child after
// start on Linux; failures to apply them are logged, not fatal.
//
// # Inputs
//
//   - ctx: Caller context. The effective deadline is the earlier of ctx
//     and the configured timeout.
//   - code: The Python source to run.
//
// # Outputs
//
//   - *Result: Captured stdout/stderr and duration, on success.
//   - error: *SetupError if the interpreter could not start,
//     *TimeoutError on cutoff, *RuntimeError on non-zero exit.
func (e *Executor) Run(ctx context.Context, code string) (*Result, error) {
	ctx, span := sandboxTracer.Start(ctx, "Executor.Run")
	defer span.End()
	span.SetAttributes(
		attribute.Int("sandbox.code_bytes", len(code)),
		attribute.String("sandbox.timeout", e.cfg.Timeout.String()),
	)

	runCtx, cancel := context.WithTimeout(ctx, e.cfg.Timeout)
	defer cancel()

	cmd := exec.CommandContext(runCtx, e.cfg.PythonPath, "-I", "-S", "-")
	cmd.Stdin = strings.NewReader(code)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	cmd.Env = []string{} // no inherited environment

	start := time.Now()
	if err := cmd.Start(); err != nil {
		return nil, &SetupError{Err: err}
	}

	if err := applyLimits(cmd.Process.Pid, e.cfg.MaxMemoryBytes, e.cfg.MaxCPUSeconds); err != nil {
		e.logger.Warn("Failed to apply sandbox resource limits",
			"pid", cmd.Process.Pid, "error", err)
	}

	err := cmd.Wait()
	duration := time.Since(start)
	span.SetAttributes(attribute.Int64("sandbox.duration_ms", duration.Milliseconds()))

	if runCtx.Err() == context.DeadlineExceeded {
		e.logger.Warn("Sandboxed run killed on timeout", "timeout", e.cfg.Timeout)
		return nil, &TimeoutError{Timeout: e.cfg.Timeout}
	}
	if err != nil {
		exitCode := -1
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			exitCode = exitErr.ExitCode()
		}
		return nil, &RuntimeError{
			ExitCode: exitCode,
			Stderr:   truncate(stderr.String(), e.cfg.MaxOutputBytes),
		}
	}

	return &Result{
		Stdout:   truncate(stdout.String(), e.cfg.MaxOutputBytes),
		Stderr:   truncate(stderr.String(), e.cfg.MaxOutputBytes),
		Duration: duration,
	}, nil
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max] + "\n... [output truncated]"
}
