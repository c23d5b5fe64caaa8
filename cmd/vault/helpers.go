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

	"github.com/AleutianAI/AleutianVault/pkg/ux"
	"github.com/charmbracelet/huh"
	"github.com/mattn/go-isatty"
)

// confirmAction asks the user to approve a destructive command.
//
// Returns true when --yes was passed or the user approves the dialog.
// Without a terminal (piped input, machine personality) it refuses and
// points at --yes, so scripts never hang on a hidden prompt.
func confirmAction(title, description string) bool {
	if assumeYes {
		return true
	}

	tty := isatty.IsTerminal(os.Stdin.Fd()) || isatty.IsCygwinTerminal(os.Stdin.Fd())
	if !tty || !ux.IsInteractive() {
		ux.Error("Refusing to proceed without confirmation. Re-run with --yes.")
		return false
	}

	approve := false
	prompt := huh.NewConfirm().
		Title(title).
		Description(description).
		Affirmative("Proceed").
		Negative("Cancel").
		Value(&approve)
	if err := prompt.Run(); err != nil {
		return false
	}
	return approve
}

// formatBytes renders a byte count for humans. Archives rarely pass
// a few hundred megabytes, so three units cover the real range.
func formatBytes(n int64) string {
	switch {
	case n >= 1<<20:
		return fmt.Sprintf("%.1f MB", float64(n)/(1<<20))
	case n >= 1<<10:
		return fmt.Sprintf("%.1f KB", float64(n)/(1<<10))
	default:
		return fmt.Sprintf("%d B", n)
	}
}
