// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package safety

import (
	"context"
	"regexp"
	"strings"

	sitter "github.com/smacker/go-tree-sitter"
	"github.com/smacker/go-tree-sitter/python"

	"github.com/AleutianAI/AleutianRelay/services/orchestrator/datatypes"
)

// =============================================================================
// Pattern Tables
// =============================================================================

// dangerousPython flags constructs that escape the sandbox's intent:
// dynamic evaluation, process control, and network reach.
var dangerousPython = []*regexp.Regexp{
	regexp.MustCompile(`\beval\s*\(`),
	regexp.MustCompile(`\bexec\s*\(`),
	regexp.MustCompile(`__import__\s*\(`),
	regexp.MustCompile(`\bcompile\s*\(`),
	regexp.MustCompile(`\bos\.system\b`),
	regexp.MustCompile(`\bsubprocess\b`),
	regexp.MustCompile(`\bsocket\b`),
	regexp.MustCompile(`\bctypes\b`),
	regexp.MustCompile(`\bpickle\b`),
}

// filesystemPython flags any filesystem-touching construct. These grade
// high regardless of what the rest of the artifact looks like.
var filesystemPython = []*regexp.Regexp{
	regexp.MustCompile(`\bopen\s*\(`),
	regexp.MustCompile(`\bos\.(remove|unlink|rename|rmdir|makedirs|mkdir|chmod|chown)\b`),
	regexp.MustCompile(`\bshutil\b`),
	regexp.MustCompile(`\bpathlib\b`),
	regexp.MustCompile(`\bPath\s*\(`),
}

// deniedImports are modules whose import alone grades the artifact high.
var deniedImports = map[string]bool{
	"os":         true,
	"sys":        true,
	"subprocess": true,
	"socket":     true,
	"shutil":     true,
	"ctypes":     true,
	"pickle":     true,
	"pathlib":    true,
	"importlib":  true,
}

// deniedCalls are callables whose invocation grades the artifact high.
var deniedCalls = map[string]bool{
	"eval":       true,
	"exec":       true,
	"compile":    true,
	"open":       true,
	"__import__": true,
	"input":      true,
}

// =============================================================================
// CodeValidator
// =============================================================================

// CodeValidator grades generated Python before sandboxed execution.
//
// Safe for concurrent use: a fresh tree-sitter parser is created per call.
type CodeValidator struct{}

// NewCodeValidator creates a CodeValidator.
func NewCodeValidator() *CodeValidator {
	return &CodeValidator{}
}

// Validate grades one Python artifact.
//
// # Description
//
// Three checks combine into the verdict:
//
//  1. The artifact must parse: code the interpreter would reject is graded
//     high with a syntax reason, since an unparseable artifact cannot be
//     reasoned about at all.
//  2. The pattern tables grade dynamic evaluation, process/network reach,
//     and any filesystem-touching construct as high risk.
//  3. The syntax pass inspects the actual import statements and call sites,
//     catching denied modules and callables that pattern matching would
//     miss behind aliasing or whitespace.
//
// # Inputs
//
//   - ctx: Context for cancellation of the parse.
//   - code: The generated Python. Empty input grades high.
//
// # Outputs
//
//   - datatypes.ValidationResult: Verdict with risk level and reasons.
//     Never an error.
func (v *CodeValidator) Validate(ctx context.Context, code string) datatypes.ValidationResult {
	trimmed := strings.TrimSpace(code)
	if trimmed == "" {
		return unsafe(datatypes.RiskHigh, "empty code artifact")
	}

	var reasons []string
	risk := datatypes.RiskLow

	for _, re := range dangerousPython {
		if re.MatchString(trimmed) {
			risk = datatypes.RiskHigh
			reasons = append(reasons, "dangerous construct: "+re.String())
		}
	}
	for _, re := range filesystemPython {
		if re.MatchString(trimmed) {
			risk = datatypes.RiskHigh
			reasons = append(reasons, "filesystem access: "+re.String())
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

// syntaxPass parses the artifact and inspects imports and call sites.
func (v *CodeValidator) syntaxPass(ctx context.Context, code string) (datatypes.RiskLevel, []string) {
	parser := sitter.NewParser()
	parser.SetLanguage(python.GetLanguage())

	src := []byte(code)
	tree, err := parser.ParseCtx(ctx, nil, src)
	if err != nil {
		return datatypes.RiskHigh, []string{"Python parse failed: " + err.Error()}
	}
	defer tree.Close()

	root := tree.RootNode()
	if root == nil {
		return datatypes.RiskHigh, []string{"Python parser returned no tree"}
	}
	if root.HasError() {
		return datatypes.RiskHigh, []string{"code contains syntax errors"}
	}

	risk := datatypes.RiskLow
	var reasons []string

	walk(root, func(n *sitter.Node) {
		switch n.Type() {
		case "import_statement", "import_from_statement":
			module := rootModule(n.Content(src))
			if deniedImports[module] {
				risk = datatypes.RiskHigh
				reasons = append(reasons, "denied import: "+module)
			}
		case "call":
			fn := n.ChildByFieldName("function")
			if fn == nil {
				return
			}
			name := fn.Content(src)
			// Attribute calls grade on the leading identifier too:
			// "os.system" is denied because "os" is.
			base := name
			if i := strings.IndexByte(name, '.'); i > 0 {
				base = name[:i]
			}
			if deniedCalls[name] || deniedImports[base] {
				risk = datatypes.RiskHigh
				reasons = append(reasons, "denied call: "+name)
			}
		}
	})

	return risk, reasons
}

// rootModule extracts the first imported module name from an import
// statement's source text.
func rootModule(stmt string) string {
	fields := strings.Fields(stmt)
	for i, f := range fields {
		if (f == "import" || f == "from") && i+1 < len(fields) {
			mod := fields[i+1]
			if j := strings.IndexByte(mod, '.'); j > 0 {
				mod = mod[:j]
			}
			return strings.TrimSuffix(mod, ",")
		}
	}
	return ""
}
