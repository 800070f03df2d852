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
	"testing"

	"github.com/AleutianAI/AleutianRelay/services/orchestrator/datatypes"
)

func TestCodeValidator(t *testing.T) {
	v := NewCodeValidator()
	ctx := context.Background()

	tests := []struct {
		name     string
		code     string
		wantSafe bool
	}{
		{
			name:     "pure computation",
			code:     "total = sum(range(10))\nprint(total)",
			wantSafe: true,
		},
		{
			name:     "math import",
			code:     "import math\nprint(math.sqrt(2))",
			wantSafe: true,
		},
		{
			name:     "os import",
			code:     "import os\nprint(os.environ)",
			wantSafe: false,
		},
		{
			name:     "subprocess import",
			code:     "import subprocess\nsubprocess.run(['ls'])",
			wantSafe: false,
		},
		{
			name:     "eval call",
			code:     "print(eval('1+1'))",
			wantSafe: false,
		},
		{
			name:     "file open",
			code:     "with open('/etc/passwd') as f:\n    print(f.read())",
			wantSafe: false,
		},
		{
			name:     "pathlib",
			code:     "from pathlib import Path\nprint(Path('.').resolve())",
			wantSafe: false,
		},
		{
			name:     "dunder import",
			code:     "m = __import__('os')",
			wantSafe: false,
		},
		{
			name:     "syntax error",
			code:     "def broken(:\n    pass",
			wantSafe: false,
		},
		{
			name:     "empty artifact",
			code:     "",
			wantSafe: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := v.Validate(ctx, tt.code)
			if got.Safe != tt.wantSafe {
				t.Errorf("Safe = %v, want %v (reasons: %v)", got.Safe, tt.wantSafe, got.Reasons)
			}
			if !got.Safe {
				if got.RiskLevel != datatypes.RiskHigh {
					t.Errorf("unsafe code should grade high, got %q", got.RiskLevel)
				}
				if len(got.Reasons) == 0 {
					t.Error("unsafe verdict must carry at least one reason")
				}
			}
		})
	}
}
