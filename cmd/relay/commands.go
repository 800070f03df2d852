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
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/AleutianRelay/pkg/logging"
)

// --- Global Command Variables ---
var (
	serverURL  string
	tenantID   string
	userID     string
	sessionID  string
	jsonOutput bool
	logLevel   string

	servePort     int
	serveBackend  string
	serveFallback string
	serveWeaviate string
	serveDataDir  string
	servePolicy   string

	approved      bool
	generatedSQL  string
	codeToExecute string

	rootCmd = &cobra.Command{
		Use:   "relay",
		Short: "A cli to run and talk to the AleutianRelay query orchestrator",
		Long: `Relay routes natural language questions through intent
classification to the right execution agent: document Q&A, SQL
generation, sandboxed code, web research, or plain chat.`,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			logger, _ := logging.Setup(logging.Config{
				Level:   logging.ParseLevel(logLevel),
				Service: "relay-cli",
			})
			slog.SetDefault(logger)
		},
	}

	serveCmd = &cobra.Command{
		Use:   "serve",
		Short: "Run the orchestrator HTTP server in-process",
		Run:   runServe, // Defined in cmd_serve.go
	}

	askCmd = &cobra.Command{
		Use:   "ask [question]",
		Short: "Send one question through the orchestrator and print the answer",
		Run:   runAsk, // Defined in cmd_ask.go
	}

	documentsCmd = &cobra.Command{
		Use:   "documents [path...]",
		Short: "Register local documents with the workspace retrieval index",
		Args:  cobra.MinimumNArgs(1),
		Run:   runRegisterDocuments, // Defined in cmd_ask.go
	}
)

func init() {
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "warn",
		"Log verbosity: debug, info, warn, error")

	for _, cmd := range []*cobra.Command{askCmd, documentsCmd} {
		cmd.Flags().StringVar(&serverURL, "server",
			envOr("RELAY_SERVER_URL", "http://localhost:12210"),
			"Orchestrator server base URL")
		cmd.Flags().StringVar(&tenantID, "tenant",
			envOr("RELAY_TENANT_ID", "default"), "Tenant identifier")
		cmd.Flags().StringVar(&userID, "user",
			envOr("RELAY_USER_ID", "local"), "User identifier")
	}
	askCmd.Flags().StringVar(&sessionID, "session", "",
		"Session to resume (empty starts a new one)")
	askCmd.Flags().BoolVar(&jsonOutput, "json", false,
		"Print the raw JSON response")
	askCmd.Flags().BoolVar(&approved, "approve", false,
		"Approve and resume a run that stopped at the approval gate")
	askCmd.Flags().StringVar(&generatedSQL, "sql", "",
		"Approved SQL artifact from the gated run (with --approve)")
	askCmd.Flags().StringVar(&codeToExecute, "code", "",
		"Approved code artifact from the gated run (with --approve)")

	serveCmd.Flags().IntVar(&servePort, "port", 12210, "HTTP server port")
	serveCmd.Flags().StringVar(&serveBackend, "llm-backend",
		envOr("LLM_BACKEND_TYPE", "openai"), "LLM provider: openai, ollama")
	serveCmd.Flags().StringVar(&serveFallback, "fallback-model",
		os.Getenv("LLM_FALLBACK_MODEL"), "OpenAI model used on quota exhaustion")
	serveCmd.Flags().StringVar(&serveWeaviate, "weaviate-url",
		os.Getenv("WEAVIATE_SERVICE_URL"), "Weaviate URL (empty uses in-process retrieval)")
	serveCmd.Flags().StringVar(&serveDataDir, "data-dir",
		envOr("RELAY_DATA_DIR", "./data/relay"), "BadgerDB directory")
	serveCmd.Flags().StringVar(&servePolicy, "policy",
		os.Getenv("RELAY_POLICY_PATH"), "Tenant policy YAML file")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(askCmd)
	rootCmd.AddCommand(documentsCmd)
}

// envOr returns the environment variable value or a default.
func envOr(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
