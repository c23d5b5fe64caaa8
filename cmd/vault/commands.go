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
	"github.com/AleutianAI/AleutianVault/pkg/ux"
	"github.com/spf13/cobra"
)

// --- Global Command Variables ---
var (
	serverURL        string
	personalityLevel string // UX personality level (full/standard/minimal/machine)
	resumeSessionID  string
	noteChatPath     string
	chatTitle        string
	askSessionID     string
	allowDestructive bool
	assumeYes        bool
	showArchived     bool
	modelName        string
	temperature      float64
	topP             float64
	promptTemplate   string
	grantTools       []string
	revokeGrants     bool
	gcsBucket        string
	gcsProject       string
	gcsSAKeyPath     string
	gcsObjectPrefix  string

	rootCmd = &cobra.Command{
		Use:   "vault",
		Short: "A cli companion for the Vault Buddy daemon",
		Long: `Vault is the terminal client for a running vaultbuddy server.
				It starts interactive chats over your markdown vault, manages
				conversation sessions, and moves history archives in and out.`,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			// Initialize UX personality from flag or environment
			if personalityLevel != "" {
				ux.SetPersonalityLevel(ux.ParsePersonalityLevel(personalityLevel))
			} else {
				ux.InitPersonality()
			}
		},
	}

	// --- Chat ---
	chatCmd = &cobra.Command{
		Use:   "chat",
		Short: "Starts an interactive chat session against the vault",
		Run:   runChatCommand, // Defined in cmd_chat.go
	}
	askCmd = &cobra.Command{
		Use:   "ask [question]",
		Short: "Ask the vault agent a single question and print the answer",
		Args:  cobra.MinimumNArgs(1),
		Run:   runAskCommand, // Defined in cmd_chat.go
	}

	// --- Watch ---
	watchCmd = &cobra.Command{
		Use:   "watch",
		Short: "Stream live vault change events until interrupted",
		Run:   runWatchCommand, // Defined in cmd_watch.go
	}

	// --- Sessions ---
	sessionsCmd = &cobra.Command{
		Use:   "sessions",
		Short: "Manage conversation sessions",
	}
	listSessionsCmd = &cobra.Command{
		Use:   "list",
		Short: "List all conversation sessions",
		Run:   runListSessions, // Defined in cmd_sessions.go
	}
	showSessionCmd = &cobra.Command{
		Use:   "show [session_id]",
		Short: "Show one session's details",
		Args:  cobra.ExactArgs(1),
		Run:   runShowSession, // Defined in cmd_sessions.go
	}
	historySessionCmd = &cobra.Command{
		Use:   "history [session_id]",
		Short: "Print a session's full transcript",
		Args:  cobra.ExactArgs(1),
		Run:   runSessionHistory, // Defined in cmd_sessions.go
	}
	renameSessionCmd = &cobra.Command{
		Use:   "rename [session_id] [new_title]",
		Short: "Rename a session (its history file moves with it)",
		Args:  cobra.ExactArgs(2),
		Run:   runRenameSession, // Defined in cmd_sessions.go
	}
	archiveSessionCmd = &cobra.Command{
		Use:   "archive [session_id]",
		Short: "Archive a session (hidden from pickers, history kept)",
		Args:  cobra.ExactArgs(1),
		Run:   runArchiveSession, // Defined in cmd_sessions.go
	}
	clearSessionCmd = &cobra.Command{
		Use:   "clear [session_id]",
		Short: "DANGER: Clears a session's conversation history",
		Args:  cobra.ExactArgs(1),
		Run:   runClearSession, // Defined in cmd_sessions.go
	}
	grantSessionCmd = &cobra.Command{
		Use:   "grant [session_id]",
		Short: "Set a session's standing tool permissions",
		Args:  cobra.ExactArgs(1),
		Run:   runGrantSession, // Defined in cmd_sessions.go
	}
	modelSessionCmd = &cobra.Command{
		Use:   "model [session_id]",
		Short: "Override a session's model settings",
		Args:  cobra.ExactArgs(1),
		Run:   runModelSession, // Defined in cmd_sessions.go
	}
	tagSessionCmd = &cobra.Command{
		Use:   "tag [session_id] [key=value...]",
		Short: "Merge metadata tags into a session",
		Args:  cobra.MinimumNArgs(2),
		Run:   runTagSession, // Defined in cmd_sessions.go
	}
	contextSessionCmd = &cobra.Command{
		Use:   "context [session_id] [note_path]",
		Short: "Pin a vault note into a session's context",
		Args:  cobra.ExactArgs(2),
		Run:   runContextSession, // Defined in cmd_sessions.go
	}

	// --- Tools ---
	toolsCmd = &cobra.Command{
		Use:   "tools",
		Short: "List the agent tools the server exposes",
		Run:   runListTools, // Defined in cmd_tools.go
	}

	// --- Status ---
	statusCmd = &cobra.Command{
		Use:   "status",
		Short: "Show server health, backend, and queue state",
		Run:   runStatus, // Defined in cmd_status.go
	}

	// --- Archive ---
	archiveCmd = &cobra.Command{
		Use:   "archive",
		Short: "Export, import, and replicate history archives",
	}
	exportArchiveCmd = &cobra.Command{
		Use:   "export [archive_path]",
		Short: "Export every history stream into a tar.gz archive",
		Args:  cobra.ExactArgs(1),
		Run:   runExportArchive, // Defined in cmd_archive.go
	}
	importArchiveCmd = &cobra.Command{
		Use:   "import [archive_path]",
		Short: "DANGER: Import an archive, replacing changed histories",
		Args:  cobra.ExactArgs(1),
		Run:   runImportArchive, // Defined in cmd_archive.go
	}
	pushArchiveCmd = &cobra.Command{
		Use:   "push [archive_path]",
		Short: "Upload a local archive to Google Cloud Storage",
		Args:  cobra.ExactArgs(1),
		Run:   runPushArchive, // Defined in cmd_archive.go
	}
	pullArchiveCmd = &cobra.Command{
		Use:   "pull [object_name] [local_path]",
		Short: "Download an archive from Google Cloud Storage",
		Args:  cobra.ExactArgs(2),
		Run:   runPullArchive, // Defined in cmd_archive.go
	}
	remoteArchivesCmd = &cobra.Command{
		Use:   "remote",
		Short: "List archives stored in Google Cloud Storage",
		Args:  cobra.NoArgs,
		Run:   runListRemoteArchives, // Defined in cmd_archive.go
	}
)

// init runs when the Go program starts
func init() {
	// Global flags
	rootCmd.PersistentFlags().StringVar(&personalityLevel, "personality", "",
		"Output style: full (default), standard, minimal, or machine (scripting)")
	rootCmd.PersistentFlags().StringVar(&serverURL, "server", "",
		"Vault Buddy server URL (default: $VAULTBUDDY_URL or http://localhost:12310)")

	// chat commands
	rootCmd.AddCommand(chatCmd)
	chatCmd.Flags().StringVar(&resumeSessionID, "resume", "", "Resume a conversation using a specific session ID.")
	chatCmd.Flags().StringVar(&noteChatPath, "note", "", "Chat about one vault note (a note chat session is created or resumed)")
	chatCmd.Flags().StringVar(&chatTitle, "title", "", "Title for a newly created session")
	chatCmd.Flags().BoolVar(&allowDestructive, "allow-destructive", false,
		"Grant standing approval for destructive tools this session")

	rootCmd.AddCommand(askCmd)
	askCmd.Flags().StringVar(&askSessionID, "session", "", "Ask inside an existing session instead of creating one")

	rootCmd.AddCommand(watchCmd)

	// session commands
	rootCmd.AddCommand(sessionsCmd)
	sessionsCmd.AddCommand(listSessionsCmd)
	listSessionsCmd.Flags().BoolVar(&showArchived, "archived", false, "Include archived sessions")
	sessionsCmd.AddCommand(showSessionCmd)
	sessionsCmd.AddCommand(historySessionCmd)
	sessionsCmd.AddCommand(renameSessionCmd)
	sessionsCmd.AddCommand(archiveSessionCmd)
	sessionsCmd.AddCommand(clearSessionCmd)
	clearSessionCmd.Flags().BoolVarP(&assumeYes, "yes", "y", false, "Skip the confirmation prompt")
	sessionsCmd.AddCommand(grantSessionCmd)
	grantSessionCmd.Flags().BoolVar(&allowDestructive, "destructive", false, "Allow destructive tools without per-call approval")
	grantSessionCmd.Flags().StringSliceVar(&grantTools, "tool", nil, "Allow a specific tool by name (repeatable)")
	grantSessionCmd.Flags().BoolVar(&revokeGrants, "revoke", false, "Clear all standing grants instead")
	sessionsCmd.AddCommand(modelSessionCmd)
	modelSessionCmd.Flags().StringVar(&modelName, "model", "", "Model name override")
	modelSessionCmd.Flags().Float64Var(&temperature, "temperature", -1, "Sampling temperature override")
	modelSessionCmd.Flags().Float64Var(&topP, "top-p", -1, "Nucleus sampling override")
	modelSessionCmd.Flags().StringVar(&promptTemplate, "template", "", "Prompt template override")
	sessionsCmd.AddCommand(tagSessionCmd)
	sessionsCmd.AddCommand(contextSessionCmd)

	// tools and status
	rootCmd.AddCommand(toolsCmd)
	rootCmd.AddCommand(statusCmd)

	// archive commands
	rootCmd.AddCommand(archiveCmd)
	archiveCmd.AddCommand(exportArchiveCmd)
	archiveCmd.AddCommand(importArchiveCmd)
	importArchiveCmd.Flags().BoolVarP(&assumeYes, "yes", "y", false, "Skip the confirmation prompt")
	archiveCmd.AddCommand(pushArchiveCmd)
	archiveCmd.AddCommand(pullArchiveCmd)
	archiveCmd.AddCommand(remoteArchivesCmd)
	for _, c := range []*cobra.Command{pushArchiveCmd, pullArchiveCmd, remoteArchivesCmd} {
		c.Flags().StringVar(&gcsBucket, "bucket", "", "GCS bucket name (default: $VAULTBUDDY_GCS_BUCKET)")
		c.Flags().StringVar(&gcsProject, "project", "", "GCP project ID (default: $VAULTBUDDY_GCS_PROJECT)")
		c.Flags().StringVar(&gcsSAKeyPath, "sa-key", "", "Service account key file (default: $VAULTBUDDY_GCS_SA_KEY)")
		c.Flags().StringVar(&gcsObjectPrefix, "prefix", "archives", "Object name prefix inside the bucket")
	}
}
