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

	"github.com/AleutianAI/AleutianVault/pkg/ux"
	"github.com/spf13/cobra"
)

func runStatus(cmd *cobra.Command, args []string) {
	baseURL := resolveServerBaseURL()
	client := newAPIClient(baseURL)
	ctx, cancel := commandContext()
	defer cancel()

	health, err := client.Health(ctx)
	if err != nil {
		log.Fatalf("Server unreachable at %s: %v", baseURL, err)
	}

	if ux.GetPersonality().Level == ux.PersonalityMachine {
		fmt.Printf("status\t%s\n", health.Status)
		fmt.Printf("version\t%s\n", health.Version)
		fmt.Printf("backend\t%s\n", health.Backend)
		fmt.Printf("memory\t%t\n", health.MemoryAvailable)
		fmt.Printf("queue_state\t%s\n", health.QueueState)
		fmt.Printf("queue_depth\t%d\n", health.QueueDepth)
		fmt.Printf("watching\t%t\n", health.Watching)
		return
	}

	ux.Title("Vault Buddy Status")
	fmt.Printf("  Server:   %s (%s)\n", baseURL, health.Version)
	fmt.Printf("  Status:   %s %s\n", statusIcon(health.Status == "ok").Render(), health.Status)
	fmt.Printf("  Backend:  %s\n", health.Backend)
	fmt.Printf("  Memory:   %s\n", onOff(health.MemoryAvailable))
	fmt.Printf("  Watcher:  %s\n", onOff(health.Watching))
	fmt.Printf("  Queue:    %s (%d pending)\n", health.QueueState, health.QueueDepth)

	if health.QueueDepth > 0 && health.QueueState == "idle" {
		ux.Warning("Persistence queue has pending work but is idle; check the server logs.")
	}
}

func statusIcon(ok bool) ux.Icon {
	if ok {
		return ux.IconSuccess
	}
	return ux.IconError
}

func onOff(enabled bool) string {
	if enabled {
		return "on"
	}
	return "off"
}
