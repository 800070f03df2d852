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
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"

	"github.com/AleutianAI/AleutianRelay/services/orchestrator/datatypes"
)

// runAsk sends one question through the orchestrator.
//
// The question comes from the positional args, or from stdin when input is
// piped. With --approve the question re-enters the run that stopped at the
// approval gate, carrying the flagged artifact forward.
func runAsk(cmd *cobra.Command, args []string) {
	question := strings.TrimSpace(strings.Join(args, " "))
	if question == "" {
		question = readPipedStdin()
	}
	if question == "" {
		fmt.Fprintln(os.Stderr, "Error: no question given. Pass it as an argument or pipe it on stdin.")
		os.Exit(2)
	}

	client := newAPIClient(serverURL)
	ctx := context.Background()

	var resp *datatypes.OrchestrateResponse
	var err error
	if approved {
		if sessionID == "" {
			fmt.Fprintln(os.Stderr, "Error: --approve requires --session from the gated run.")
			os.Exit(2)
		}
		resp, err = client.Approve(ctx, datatypes.ApproveRequest{
			Query:         question,
			TenantID:      tenantID,
			UserID:        userID,
			SessionID:     sessionID,
			Approved:      true,
			GeneratedSQL:  generatedSQL,
			CodeToExecute: codeToExecute,
		})
	} else {
		resp, err = client.Orchestrate(ctx, datatypes.OrchestrateRequest{
			Query:     question,
			TenantID:  tenantID,
			UserID:    userID,
			SessionID: sessionID,
		})
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(2)
	}

	if jsonOutput {
		encoder := json.NewEncoder(os.Stdout)
		encoder.SetIndent("", "  ")
		if err := encoder.Encode(resp); err != nil {
			fmt.Fprintf(os.Stderr, "Error encoding response: %v\n", err)
			os.Exit(2)
		}
		return
	}

	printAnswer(resp)
	if resp.ApprovalRequired {
		os.Exit(1)
	}
}

// printAnswer renders the response for a human. When stdout is a terminal
// the answer gets a session footer and approval hints; piped output is the
// bare answer so it composes with other tools.
func printAnswer(resp *datatypes.OrchestrateResponse) {
	fmt.Println(resp.Answer)

	if !stdoutIsTerminal() {
		return
	}

	if resp.ApprovalRequired {
		fmt.Println()
		fmt.Printf("Run blocked at the approval gate (%s risk): %s\n",
			resp.RiskLevel, resp.ApprovalReason)
		artifact := ""
		switch {
		case resp.GeneratedSQL != "":
			artifact = fmt.Sprintf("--sql %q", resp.GeneratedSQL)
		case resp.CodeToExecute != "":
			artifact = fmt.Sprintf("--code %q", resp.CodeToExecute)
		}
		fmt.Printf("To approve: relay ask --approve --session %s %s %q\n",
			resp.SessionID, artifact, "approved")
	}

	fmt.Println()
	fmt.Printf("[session %s | intent %s | confidence %.2f]\n",
		resp.SessionID, resp.Intent, resp.Confidence)
	if resp.FallbackReason != "" {
		fmt.Printf("[model %s via fallback: %s]\n", resp.ModelUsed, resp.FallbackReason)
	}
}

// runRegisterDocuments registers local paths with the workspace index.
func runRegisterDocuments(cmd *cobra.Command, args []string) {
	client := newAPIClient(serverURL)

	count, err := client.RegisterDocuments(context.Background(), datatypes.RegisterDocumentsRequest{
		TenantID: tenantID,
		UserID:   userID,
		Paths:    args,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(2)
	}

	fmt.Printf("Registered %d document(s) for tenant %s\n", count, tenantID)
}

// readPipedStdin returns piped stdin content, or "" when stdin is a
// terminal.
func readPipedStdin() string {
	if isatty.IsTerminal(os.Stdin.Fd()) || isatty.IsCygwinTerminal(os.Stdin.Fd()) {
		return ""
	}
	data, err := io.ReadAll(io.LimitReader(os.Stdin, datatypes.MaxQueryBytes+1))
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(data))
}

func stdoutIsTerminal() bool {
	return isatty.IsTerminal(os.Stdout.Fd()) || isatty.IsCygwinTerminal(os.Stdout.Fd())
}
