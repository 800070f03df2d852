// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package safety grades generated artifacts before execution.
//
// # Description
//
// Each validator combines a fast regex pass with a syntax-aware tree-sitter
// pass. The regex pass catches the obvious dangerous constructs; the syntax
// pass catches what pattern matching alone would miss or mis-flag (a DROP
// inside a string literal is fine, a DELETE without a WHERE clause is not).
// Validators return a verdict, never an error: an artifact that cannot be
// assessed is graded high risk rather than failing the run.
package safety

import (
	"context"
	"regexp"
	"strings"

	sitter "github.com/smacker/go-tree-sitter"
	"github.com/smacker/go-tree-sitter/sql"

	"github.com/AleutianAI/AleutianRelay/services/orchestrator/datatypes"
)

// =============================================================================
// Pattern Tables
// =============================================================================

// dangerousSQL flags statements that destroy or exfiltrate data, or reach
// outside the database. Matched case-insensitively on the raw artifact.
var dangerousSQL = []*regexp.Regexp{
	regexp.MustCompile(`(?i)\bDROP\s+(TABLE|DATABASE|SCHEMA|INDEX|VIEW)\b`),
	regexp.MustCompile(`(?i)\bTRUNCATE\b`),
	regexp.MustCompile(`(?i)\bALTER\s+(TABLE|DATABASE|SCHEMA)\b`),
	regexp.MustCompile(`(?i)\bGRANT\b`),
	regexp.MustCompile(`(?i)\bREVOKE\b`),
	regexp.MustCompile(`(?i)\bEXEC(UTE)?\s`),
	regexp.MustCompile(`(?i)xp_cmdshell`),
	regexp.MustCompile(`(?i)\bINTO\s+(OUTFILE|DUMPFILE)\b`),
	regexp.MustCompile(`(?i)\bATTACH\s+DATABASE\b`),
	regexp.MustCompile(`(?i)\bPRAGMA\b`),
}

// guardedSQL flags mutations that are acceptable only when scoped by a
// WHERE clause. The syntax pass decides whether the clause is present.
var guardedSQL = []*regexp.Regexp{
	regexp.MustCompile(`(?i)\bDELETE\s+FROM\b`),
	regexp.MustCompile(`(?i)\bUPDATE\s+\S+\s+SET\b`),
}

// =============================================================================
// SQLValidator
// =============================================================================

// SQLValidator grades generated SQL before it may be executed.
//
// Safe for concurrent use: a fresh tree-sitter parser is created per call.
type SQLValidator struct{}

// NewSQLValidator creates an SQLValidator.
func NewSQLValidator() *SQLValidator {
	return &SQLValidator{}
}

// Validate grades one SQL artifact.
//
// # Description
//
// The verdict combines three checks:
//
//  1. Multi-statement input (more than one statement separator) is high
//     risk outright; a single generated query has no business batching.
//  2. The dangerous-pattern table grades DDL/exfiltration constructs high.
//  3. A tree-sitter pass inspects DELETE and UPDATE statements for a WHERE
//     clause; an unscoped mutation is high risk even though the pattern
//     alone looks legitimate. Unparseable input grades medium: it may be a
//     dialect gap, but it cannot be trusted as plainly safe either.
//
// # Inputs
//
//   - ctx: Context for cancellation of the parse.
//   - sqlText: The generated SQL. Empty input grades high (nothing to run).
//
// # Outputs
//
//   - datatypes.ValidationResult: Verdict with risk level and reasons.
//     Never an error; assessment failures grade against the artifact.
func (v *SQLValidator) Validate(ctx context.Context, sqlText string) datatypes.ValidationResult {
	trimmed := strings.TrimSpace(sqlText)
	if trimmed == "" {
		return unsafe(datatypes.RiskHigh, "empty SQL artifact")
	}

	var reasons []string
	risk := datatypes.RiskLow

	if strings.Count(strings.TrimRight(trimmed, "; \t\n"), ";") >= 1 {
		risk = datatypes.RiskHigh
		reasons = append(reasons, "multiple SQL statements in one artifact")
	}

	for _, re := range dangerousSQL {
		if re.MatchString(trimmed) {
			risk = datatypes.RiskHigh
			reasons = append(reasons, "dangerous operation: "+re.String())
		}
	}

	synRisk, synReasons := v.syntaxPass(ctx, trimmed)
	reasons = append(reasons, synReasons...)
	if riskRank(synRisk) > riskRank(risk) {
		risk = synRisk
	}

	return datatypes.ValidationResult{
		Safe:      risk == datatypes.RiskLow,
		RiskLevel: risk,
		Reasons:   reasons,
	}
}

// syntaxPass parses the artifact and inspects the statement tree.
func (v *SQLValidator) syntaxPass(ctx context.Context, sqlText string) (datatypes.RiskLevel, []string) {
	parser := sitter.NewParser()
	parser.SetLanguage(sql.GetLanguage())

	src := []byte(sqlText)
	tree, err := parser.ParseCtx(ctx, nil, src)
	if err != nil {
		return datatypes.RiskMedium, []string{"SQL parse failed: " + err.Error()}
	}
	defer tree.Close()

	root := tree.RootNode()
	if root == nil {
		return datatypes.RiskMedium, []string{"SQL parser returned no tree"}
	}

	risk := datatypes.RiskLow
	var reasons []string
	if root.HasError() {
		risk = datatypes.RiskMedium
		reasons = append(reasons, "SQL contains syntax errors")
	}

	walk(root, func(n *sitter.Node) {
		t := n.Type()
		switch {
		case strings.Contains(t, "drop"),
			strings.Contains(t, "truncate"),
			strings.Contains(t, "alter"),
			strings.Contains(t, "grant"),
			strings.Contains(t, "revoke"):
			risk = datatypes.RiskHigh
			reasons = append(reasons, "destructive statement node: "+t)
		case strings.Contains(t, "delete"), strings.Contains(t, "update"):
			if !hasWhereClause(n) {
				risk = datatypes.RiskHigh
				reasons = append(reasons, "unscoped mutation (no WHERE clause): "+t)
			}
		}
	})

	return risk, reasons
}

// hasWhereClause reports whether any descendant of the statement node is a
// WHERE clause. Grammar node naming varies across dialects, so the check
// matches on the type substring.
func hasWhereClause(stmt *sitter.Node) bool {
	found := false
	walk(stmt, func(n *sitter.Node) {
		if strings.Contains(n.Type(), "where") {
			found = true
		}
	})
	return found
}

// =============================================================================
// Shared Helpers
// =============================================================================

// walk visits every named node of the subtree rooted at n, depth first.
func walk(n *sitter.Node, visit func(*sitter.Node)) {
	if n == nil {
		return
	}
	visit(n)
	for i := 0; i < int(n.NamedChildCount()); i++ {
		walk(n.NamedChild(i), visit)
	}
}

func unsafe(risk datatypes.RiskLevel, reason string) datatypes.ValidationResult {
	return datatypes.ValidationResult{
		Safe:      false,
		RiskLevel: risk,
		Reasons:   []string{reason},
	}
}

func riskRank(r datatypes.RiskLevel) int {
	switch r {
	case datatypes.RiskHigh:
		return 3
	case datatypes.RiskMedium:
		return 2
	case datatypes.RiskLow:
		return 1
	}
	return 0
}
