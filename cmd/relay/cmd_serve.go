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
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/AleutianRelay/services/orchestrator"
)

// runServe starts the orchestrator server in-process. Flags cover the
// common options; everything else falls back to the same environment
// variables the container entry point reads.
func runServe(cmd *cobra.Command, args []string) {
	cfg := orchestrator.Config{
		Port:          servePort,
		LLMBackend:    serveBackend,
		FallbackModel: serveFallback,
		WeaviateURL:   serveWeaviate,
		DataDir:       serveDataDir,
		PolicyPath:    servePolicy,
		WatchPolicy:   servePolicy != "",
		OTelEndpoint:  os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"),
	}

	svc, err := orchestrator.New(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: failed to start orchestrator: %v\n", err)
		os.Exit(2)
	}

	if err := svc.Run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: server stopped: %v\n", err)
		os.Exit(2)
	}
}
