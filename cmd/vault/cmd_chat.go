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
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/AleutianAI/AleutianVault/pkg/ux"
	"github.com/charmbracelet/huh"
	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"
)

func runChatCommand(cmd *cobra.Command, args []string) {
	baseURL := resolveServerBaseURL()
	client := newAPIClient(baseURL)
	setupCtx, cancelSetup := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancelSetup()

	sess, resumeTurns := resolveChatSession(setupCtx, client)

	if allowDestructive {
		ux.WarningBox("Destructive tools enabled",
			"The agent may delete and overwrite notes in this session without asking first.\n"+
				"Revoke with: vault sessions grant "+sess.ID+" --revoke")
		if err := client.SetGrants(setupCtx, sess.ID, SessionGrants{AllowDestructive: true}); err != nil {
			log.Fatalf("Failed to grant destructive access: %v", err)
		}
	}

	toolCount := 0
	if tools, err := client.ListTools(setupCtx); err == nil {
		toolCount = tools.Total
	}

	mode := ux.ChatModeAgent
	sourceNote := ""
	if sess.Kind == "note_chat" {
		mode = ux.ChatModeNote
		sourceNote = sess.SourceNotePath
	}
	model := ""
	if sess.Overrides != nil && sess.Overrides.Model != nil {
		model = *sess.Overrides.Model
	}

	service, err := NewWSChatService(setupCtx, baseURL, sess.ID, destructiveConfirmFunc())
	if err != nil {
		log.Fatalf("Failed to open chat: %v", err)
	}

	runner := NewAgentChatRunner(AgentChatRunnerConfig{
		Mode:        mode,
		Title:       sess.Title,
		SourceNote:  sourceNote,
		ModelName:   model,
		ToolCount:   toolCount,
		ResumeTurns: resumeTurns,
	}, service)
	defer runner.Close()

	// Set up graceful shutdown with signal handling
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		cancel()
	}()

	// Run the chat loop
	if err := runner.Run(ctx); err != nil && err != context.Canceled {
		log.Fatalf("Chat error: %v", err)
	}
}

// resolveChatSession creates or resumes the session the chat attaches
// to, honoring --resume and --note. Returns the session and how many
// transcript records it already holds.
func resolveChatSession(ctx context.Context, client *apiClient) (*SessionInfo, int) {
	switch {
	case resumeSessionID != "" && noteChatPath != "":
		log.Fatalf("--resume and --note are mutually exclusive")
		return nil, 0

	case resumeSessionID != "":
		sess, err := client.GetSession(ctx, resumeSessionID)
		if err != nil {
			log.Fatalf("Failed to resume session: %v", err)
		}
		return sess, transcriptLength(ctx, client, sess.ID)

	case noteChatPath != "":
		// The server reuses the note's existing chat session, so this
		// is a resume whenever the note was discussed before.
		sess, err := client.CreateNoteChat(ctx, noteChatPath)
		if err != nil {
			log.Fatalf("Failed to open note chat: %v", err)
		}
		return sess, transcriptLength(ctx, client, sess.ID)

	default:
		sess, err := client.CreateSession(ctx, chatTitle)
		if err != nil {
			log.Fatalf("Failed to create session: %v", err)
		}
		return sess, 0
	}
}

// transcriptLength fetches how many records a session's history holds.
// Best effort: a fetch failure just means no resume announcement.
func transcriptLength(ctx context.Context, client *apiClient, sessionID string) int {
	hist, err := client.GetHistory(ctx, sessionID)
	if err != nil {
		return 0
	}
	return len(hist.Records)
}

// destructiveConfirmFunc builds the per-call approval prompt for
// destructive tools.
//
// Interactive terminals get a confirm dialog. Piped input and machine
// personality deny automatically, with a warning naming the standing
// grant alternatives, because there is no one to ask.
func destructiveConfirmFunc() ConfirmFunc {
	tty := isatty.IsTerminal(os.Stdin.Fd()) || isatty.IsCygwinTerminal(os.Stdin.Fd())
	if !tty || !ux.IsInteractive() {
		return func(toolName, target string) bool {
			ux.Warning(fmt.Sprintf(
				"Denied destructive tool %s on %s: no interactive approval available. "+
					"Use --allow-destructive or 'vault sessions grant'.", toolName, target))
			return false
		}
	}

	return func(toolName, target string) bool {
		approve := false
		prompt := huh.NewConfirm().
			Title(fmt.Sprintf("Allow %s?", toolName)).
			Description(fmt.Sprintf("The agent wants to run %s on %q.", toolName, target)).
			Affirmative("Allow").
			Negative("Deny").
			Value(&approve)
		if err := prompt.Run(); err != nil {
			// Treat an aborted dialog as a denial
			return false
		}
		return approve
	}
}

func runAskCommand(cmd *cobra.Command, args []string) {
	question := strings.Join(args, " ")
	baseURL := resolveServerBaseURL()
	client := newAPIClient(baseURL)

	// Agent turns can run several tool hops; give them room.
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	sessionID := askSessionID
	if sessionID == "" {
		sess, err := client.CreateSession(ctx, "")
		if err != nil {
			log.Fatalf("Failed to create session: %v", err)
		}
		sessionID = sess.ID
	}

	var report *TurnReport
	err := ux.WithSpinner("Thinking", func() error {
		var sendErr error
		report, sendErr = client.SendChat(ctx, sessionID, question)
		return sendErr
	})
	if err != nil {
		log.Fatalf("Ask failed: %v", err)
	}

	ui := ux.NewChatUI()
	ui.ToolActivity(toolCallInfos(report.ToolResults))
	ui.Response(report.Answer)
	ux.Muted(fmt.Sprintf("Session: %s (continue with: vault chat --resume %s)", sessionID, sessionID))
}
