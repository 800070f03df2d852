// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

//go:build linux

package sandbox

import "golang.org/x/sys/unix"

// applyLimits caps the child's address space and CPU time via prlimit.
//
// The limits land after the process has started, so a hostile artifact has
// a small window before they apply; the wall-clock kill in Run is the
// guarantee, these are belt restraints on top of it.
func applyLimits(pid int, maxMemoryBytes, maxCPUSeconds uint64) error {
	mem := unix.Rlimit{Cur: maxMemoryBytes, Max: maxMemoryBytes}
	if err := unix.Prlimit(pid, unix.RLIMIT_AS, &mem, nil); err != nil {
		return err
	}
	cpu := unix.Rlimit{Cur: maxCPUSeconds, Max: maxCPUSeconds}
	return unix.Prlimit(pid, unix.RLIMIT_CPU, &cpu, nil)
}
