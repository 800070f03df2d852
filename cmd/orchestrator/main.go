// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Command orchestrator starts the AleutianRelay orchestrator HTTP server.
//
// This is the main entry point for the containerized orchestrator service.
// It reads configuration from environment variables and starts the server.
//
// # Environment Variables
//
//   - ORCHESTRATOR_PORT: HTTP server port (default: 12210)
//   - LLM_BACKEND_TYPE: LLM provider - openai, ollama (default: openai)
//   - LLM_FALLBACK_MODEL: OpenAI model used on quota exhaustion (optional)
//   - WEAVIATE_SERVICE_URL: Weaviate vector DB URL (optional)
//   - OTEL_EXPORTER_OTLP_ENDPOINT: OpenTelemetry collector (default: aleutian-otel-collector:4317)
//   - RELAY_DATA_DIR: BadgerDB directory (default: ./data/relay)
//   - RELAY_INDEX_DIR: retrieval index snapshot directory (default: ./data/indexes)
//   - RELAY_POLICY_PATH: tenant policy YAML file (optional)
//   - RELAY_POLICY_WATCH: hot-reload the policy file - true/false (default: true)
//   - RELAY_LOG_LEVEL: debug, info, warn, error (default: info)
//   - RELAY_LOG_DIR: file logging directory (optional)
//   - SANDBOX_PYTHON_PATH: code sandbox interpreter (default: python3)
//   - SANDBOX_TIMEOUT_SECONDS: code sandbox wall-clock cutoff (default: 10)
//
// # Usage
//
//	# Build
//	go build -o orchestrator ./cmd/orchestrator
//
//	# Run
//	./orchestrator
//
//	# Or via container
//	podman-compose up orchestrator
package main

import (
	"log"
	"log/slog"
	"os"
	"strconv"
	"time"

	"github.com/AleutianAI/AleutianRelay/pkg/logging"
	"github.com/AleutianAI/AleutianRelay/services/orchestrator"
)

func main() {
	logger, closeLogs := logging.Setup(logging.Config{
		Level:   logging.ParseLevel(os.Getenv("RELAY_LOG_LEVEL")),
		LogDir:  os.Getenv("RELAY_LOG_DIR"),
		Service: "orchestrator",
		JSON:    true,
	})
	defer closeLogs()
	slog.SetDefault(logger)

	cfg := orchestrator.Config{
		Port:           getEnvInt("ORCHESTRATOR_PORT", 12210),
		LLMBackend:     getEnvString("LLM_BACKEND_TYPE", "openai"),
		FallbackModel:  os.Getenv("LLM_FALLBACK_MODEL"),
		WeaviateURL:    os.Getenv("WEAVIATE_SERVICE_URL"),
		OTelEndpoint:   getEnvString("OTEL_EXPORTER_OTLP_ENDPOINT", "aleutian-otel-collector:4317"),
		DataDir:        getEnvString("RELAY_DATA_DIR", "./data/relay"),
		IndexDir:       getEnvString("RELAY_INDEX_DIR", "./data/indexes"),
		PolicyPath:     os.Getenv("RELAY_POLICY_PATH"),
		WatchPolicy:    getEnvBool("RELAY_POLICY_WATCH", true),
		PythonPath:     getEnvString("SANDBOX_PYTHON_PATH", "python3"),
		SandboxTimeout: time.Duration(getEnvInt("SANDBOX_TIMEOUT_SECONDS", 10)) * time.Second,
	}

	slog.Info("Starting orchestrator",
		"port", cfg.Port,
		"llm_backend", cfg.LLMBackend,
		"fallback_model", cfg.FallbackModel,
		"weaviate_url", cfg.WeaviateURL,
		"policy_path", cfg.PolicyPath,
	)

	svc, err := orchestrator.New(cfg)
	if err != nil {
		log.Fatalf("Failed to create orchestrator: %v", err)
	}

	// Run the server (blocks until shutdown)
	if err := svc.Run(); err != nil {
		log.Fatalf("Orchestrator error: %v", err)
	}
}

// getEnvString returns the environment variable value or a default.
func getEnvString(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvInt returns the environment variable as int or a default.
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

// getEnvBool returns the environment variable as bool or a default.
func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolVal, err := strconv.ParseBool(value); err == nil {
			return boolVal
		}
	}
	return defaultValue
}
