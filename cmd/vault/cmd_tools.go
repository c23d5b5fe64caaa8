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
	"log"
	"sort"
	"strings"

	"github.com/AleutianAI/AleutianVault/pkg/ux"
	"github.com/spf13/cobra"
)

func runListTools(cmd *cobra.Command, args []string) {
	client := newAPIClient(resolveServerBaseURL())
	ctx, cancel := commandContext()
	defer cancel()

	list, err := client.ListTools(ctx)
	if err != nil {
		log.Fatalf("Failed to list tools: %v", err)
	}

	if ux.GetPersonality().Level == ux.PersonalityMachine {
		for _, t := range list.Tools {
			fmt.Printf("%s\t%s\t%s\n", t.Name, t.Category, t.Description)
		}
		return
	}

	// Group by side-effect class so the risky tools stand out.
	byCategory := make(map[string][]ToolEntry)
	for _, t := range list.Tools {
		byCategory[t.Category] = append(byCategory[t.Category], t)
	}
	categories := make([]string, 0, len(byCategory))
	for c := range byCategory {
		categories = append(categories, c)
	}
	sort.Strings(categories)

	ux.Title("Agent Tools")
	for _, category := range categories {
		fmt.Printf("\n  %s\n", category)
		for _, t := range byCategory[category] {
			fmt.Printf("    %s %s: %s\n", categoryIcon(category).Render(), t.Name, t.Description)
			if len(t.Parameters) > 0 {
				params := make([]string, 0, len(t.Parameters))
				for _, p := range t.Parameters {
					name := p.Name
					if p.Required {
						name += "*"
					}
					params = append(params, name)
				}
				fmt.Printf("      args: %s\n", strings.Join(params, ", "))
			}
		}
	}
	fmt.Println()
	ux.Muted(fmt.Sprintf("%d tools registered", list.Total))
}

// categoryIcon picks a marker for a tool's side-effect class.
func categoryIcon(category string) ux.Icon {
	switch category {
	case "read_only":
		return ux.IconSuccess
	case "destructive":
		return ux.IconWarning
	case "network":
		return ux.IconArrow
	default:
		// vault_ops and anything new
		return ux.IconTool
	}
}
