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
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/AleutianAI/AleutianVault/pkg/ux"
	"github.com/spf13/cobra"
)

// commandContext bounds one control-plane API call.
func commandContext() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), 30*time.Second)
}

func runListSessions(cmd *cobra.Command, args []string) {
	client := newAPIClient(resolveServerBaseURL())
	ctx, cancel := commandContext()
	defer cancel()

	list, err := client.ListSessions(ctx)
	if err != nil {
		log.Fatalf("Failed to list sessions: %v", err)
	}

	machine := ux.GetPersonality().Level == ux.PersonalityMachine
	shown := 0
	for _, s := range list.Sessions {
		if s.Archived && !showArchived {
			continue
		}
		shown++
		if machine {
			fmt.Printf("%s\t%s\t%s\t%t\n", s.ID, s.Kind, s.Title, s.Archived)
			continue
		}
		marker := ""
		if s.Archived {
			marker = " (archived)"
		}
		fmt.Printf("  %s  %-9s  %s%s\n", s.ID, s.Kind, s.Title, marker)
	}

	if shown == 0 && !machine {
		fmt.Println("No sessions found. Start one with: vault chat")
		return
	}
	ux.Muted(fmt.Sprintf("%d of %d sessions shown", shown, list.Total))
}

func runShowSession(cmd *cobra.Command, args []string) {
	client := newAPIClient(resolveServerBaseURL())
	ctx, cancel := commandContext()
	defer cancel()

	sess, err := client.GetSession(ctx, args[0])
	if err != nil {
		log.Fatalf("Failed to fetch session: %v", err)
	}

	if ux.GetPersonality().Level == ux.PersonalityMachine {
		fmt.Printf("id\t%s\n", sess.ID)
		fmt.Printf("kind\t%s\n", sess.Kind)
		fmt.Printf("title\t%s\n", sess.Title)
		fmt.Printf("archived\t%t\n", sess.Archived)
		fmt.Printf("history_path\t%s\n", sess.HistoryPath)
		if sess.SourceNotePath != "" {
			fmt.Printf("source_note\t%s\n", sess.SourceNotePath)
		}
		fmt.Printf("allow_destructive\t%t\n", sess.Permissions.AllowDestructive)
		for k, v := range sess.Metadata {
			fmt.Printf("meta.%s\t%s\n", k, v)
		}
		return
	}

	ux.Title(sess.Title)
	fmt.Printf("  ID:        %s\n", sess.ID)
	fmt.Printf("  Kind:      %s\n", sess.Kind)
	fmt.Printf("  Created:   %s\n", sess.CreatedAt.Local().Format(time.RFC1123))
	fmt.Printf("  Updated:   %s\n", sess.UpdatedAt.Local().Format(time.RFC1123))
	fmt.Printf("  History:   %s\n", sess.HistoryPath)
	if sess.SourceNotePath != "" {
		fmt.Printf("  Note:      %s\n", sess.SourceNotePath)
	}
	if sess.Archived {
		fmt.Println("  Archived:  yes")
	}

	switch {
	case sess.Permissions.AllowDestructive:
		fmt.Println("  Grants:    destructive tools allowed")
	case len(sess.Permissions.AllowedTools) > 0:
		fmt.Printf("  Grants:    %s\n", strings.Join(sess.Permissions.AllowedTools, ", "))
	default:
		fmt.Println("  Grants:    none (destructive tools need approval)")
	}

	if sess.Overrides != nil && sess.Overrides.Model != nil {
		fmt.Printf("  Model:     %s\n", *sess.Overrides.Model)
	}
	if len(sess.Context) > 0 {
		fmt.Println("  Context:")
		for _, cf := range sess.Context {
			fmt.Printf("    %s %s (%s)\n", ux.IconNote.Render(), cf.Path, cf.Source)
		}
	}
	if len(sess.Metadata) > 0 {
		fmt.Println("  Tags:")
		for k, v := range sess.Metadata {
			fmt.Printf("    %s=%s\n", k, v)
		}
	}
}

func runSessionHistory(cmd *cobra.Command, args []string) {
	client := newAPIClient(resolveServerBaseURL())
	ctx, cancel := commandContext()
	defer cancel()

	hist, err := client.GetHistory(ctx, args[0])
	if err != nil {
		log.Fatalf("Failed to fetch history: %v", err)
	}

	machine := ux.GetPersonality().Level == ux.PersonalityMachine
	if machine {
		for _, rec := range hist.Records {
			fmt.Printf("%s\t%s\t%s\n", rec.Timestamp.Format(time.RFC3339), rec.Role, rec.Body)
		}
		return
	}

	ux.Title(hist.Title)
	if len(hist.Records) == 0 {
		fmt.Println("No messages yet.")
		return
	}
	for _, rec := range hist.Records {
		stamp := rec.Timestamp.Local().Format("2006-01-02 15:04")
		fmt.Printf("[%s] %s:\n%s\n\n", stamp, rec.Role, rec.Body)
	}
	ux.Muted(fmt.Sprintf("%d records in session %s", len(hist.Records), hist.SessionID))
}

func runRenameSession(cmd *cobra.Command, args []string) {
	client := newAPIClient(resolveServerBaseURL())
	ctx, cancel := commandContext()
	defer cancel()

	sess, err := client.RenameSession(ctx, args[0], args[1])
	if err != nil {
		log.Fatalf("Failed to rename session: %v", err)
	}

	// The stored title is the sanitized form, which can differ from
	// what was asked for.
	ux.Success(fmt.Sprintf("Session %s renamed to %q", sess.ID, sess.Title))
	ux.Muted("History file: " + sess.HistoryPath)
}

func runArchiveSession(cmd *cobra.Command, args []string) {
	client := newAPIClient(resolveServerBaseURL())
	ctx, cancel := commandContext()
	defer cancel()

	if err := client.ArchiveSession(ctx, args[0]); err != nil {
		log.Fatalf("Failed to archive session: %v", err)
	}
	ux.Success(fmt.Sprintf("Session %s archived. Its history is kept on disk.", args[0]))
}

func runClearSession(cmd *cobra.Command, args []string) {
	sessionID := args[0]
	if !confirmAction(
		"Clear conversation history?",
		fmt.Sprintf("Every message in session %s will be erased. The session itself stays.", sessionID),
	) {
		fmt.Println("Aborted.")
		return
	}

	client := newAPIClient(resolveServerBaseURL())
	ctx, cancel := commandContext()
	defer cancel()

	if err := client.ClearHistory(ctx, sessionID); err != nil {
		log.Fatalf("Failed to clear history: %v", err)
	}
	ux.Success(fmt.Sprintf("History cleared for session %s", sessionID))
}

func runGrantSession(cmd *cobra.Command, args []string) {
	sessionID := args[0]
	grants := SessionGrants{
		AllowDestructive: allowDestructive,
		AllowedTools:     grantTools,
	}
	if revokeGrants {
		grants = SessionGrants{}
	}

	client := newAPIClient(resolveServerBaseURL())
	ctx, cancel := commandContext()
	defer cancel()

	if err := client.SetGrants(ctx, sessionID, grants); err != nil {
		log.Fatalf("Failed to update permissions: %v", err)
	}

	switch {
	case revokeGrants:
		ux.Success(fmt.Sprintf("All standing grants revoked for session %s", sessionID))
	case grants.AllowDestructive:
		ux.Success(fmt.Sprintf("Destructive tools allowed for session %s", sessionID))
	case len(grants.AllowedTools) > 0:
		ux.Success(fmt.Sprintf("Tools allowed for session %s: %s",
			sessionID, strings.Join(grants.AllowedTools, ", ")))
	default:
		ux.Success(fmt.Sprintf("Grants cleared for session %s", sessionID))
	}
}

func runModelSession(cmd *cobra.Command, args []string) {
	var ov ModelOverrides
	if cmd.Flags().Changed("model") {
		ov.Model = &modelName
	}
	if cmd.Flags().Changed("temperature") {
		ov.Temperature = &temperature
	}
	if cmd.Flags().Changed("top-p") {
		ov.TopP = &topP
	}
	if cmd.Flags().Changed("template") {
		ov.PromptTemplate = &promptTemplate
	}

	client := newAPIClient(resolveServerBaseURL())
	ctx, cancel := commandContext()
	defer cancel()

	params, err := client.SetModelOverrides(ctx, args[0], ov)
	if err != nil {
		log.Fatalf("Failed to update model settings: %v", err)
	}

	ux.Success("Model settings updated")
	fmt.Printf("  Model:       %s\n", params.Model)
	fmt.Printf("  Temperature: %.2f\n", params.Temperature)
	fmt.Printf("  Top-p:       %.2f\n", params.TopP)
}

func runTagSession(cmd *cobra.Command, args []string) {
	sessionID := args[0]
	metadata := make(map[string]string, len(args)-1)
	for _, pair := range args[1:] {
		key, value, found := strings.Cut(pair, "=")
		if !found || key == "" {
			log.Fatalf("Invalid tag %q: expected key=value", pair)
		}
		metadata[key] = value
	}

	client := newAPIClient(resolveServerBaseURL())
	ctx, cancel := commandContext()
	defer cancel()

	if err := client.MergeMetadata(ctx, sessionID, metadata); err != nil {
		log.Fatalf("Failed to tag session: %v", err)
	}
	ux.Success(fmt.Sprintf("Merged %d tag(s) into session %s", len(metadata), sessionID))
}

func runContextSession(cmd *cobra.Command, args []string) {
	client := newAPIClient(resolveServerBaseURL())
	ctx, cancel := commandContext()
	defer cancel()

	if err := client.AddContext(ctx, args[0], args[1]); err != nil {
		log.Fatalf("Failed to pin context note: %v", err)
	}
	ux.Success(fmt.Sprintf("Pinned %s into session %s", args[1], args[0]))
}
