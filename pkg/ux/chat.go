// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package ux

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"
)

// ChatMode represents the chat operation mode
type ChatMode int

const (
	// ChatModeAgent is a free-form agent session over the whole vault.
	ChatModeAgent ChatMode = iota

	// ChatModeNote is a chat anchored to a single source note.
	ChatModeNote
)

// HeaderConfig contains configuration for displaying the chat header.
//
// # Description
//
// HeaderConfig groups all optional parameters for the chat header display.
// This allows extending the header with new fields without breaking existing
// callers of the Header() method.
//
// # Fields
//
//   - Mode: Required. Agent or note chat mode.
//   - SessionID: Session identifier for resume. May be empty for new sessions.
//   - Title: Session title (e.g., "Trip Planning"). Empty to omit.
//   - SourceNote: Vault path of the anchored note. Empty for agent mode.
//   - Model: Model name the session resolves to. Empty to omit.
//   - ToolCount: Number of tools available to the agent. Zero to omit.
type HeaderConfig struct {
	Mode       ChatMode
	SessionID  string
	Title      string
	SourceNote string
	Model      string
	ToolCount  int
}

// SessionStats aggregates metrics from a chat session for display.
//
// # Description
//
// SessionStats captures accumulated metrics across all exchanges in a
// chat session. It's designed to be displayed when the session ends,
// giving users visibility into their session's activity.
//
// # Fields
//
//   - MessageCount: Number of user messages sent
//   - TotalTokens: Total tokens used across all responses
//   - ToolCalls: Number of tool calls the agent executed
//   - SkippedCalls: Tool calls skipped by loop or permission gating
//   - Duration: Total session duration
//   - FirstResponseLatency: Time to the first complete response
type SessionStats struct {
	MessageCount         int
	TotalTokens          int
	ToolCalls            int
	SkippedCalls         int
	Duration             time.Duration
	FirstResponseLatency time.Duration
}

// ToolCallInfo describes one tool call executed during a turn.
//
// # Fields
//
//   - Tool: Tool name (e.g., "read_note", "delete_note").
//   - Status: Outcome string: "success", "error", "skipped_loop",
//     "skipped_permission", or "skipped".
//   - Detail: Short human-readable detail, typically the note path
//     or the error message. May be empty.
type ToolCallInfo struct {
	Tool   string `json:"tool"`
	Status string `json:"status"`
	Detail string `json:"detail,omitempty"`
}

// ChatUI defines the interface for chat user interface operations.
// Implementations handle rendering chat elements to different outputs.
type ChatUI interface {
	// Header displays the chat session header with mode and session info.
	Header(mode ChatMode, title, sessionID string)

	// HeaderWithConfig displays the chat session header with full configuration.
	// This method supports displaying the source note, model, and tool count.
	HeaderWithConfig(config HeaderConfig)

	// Prompt returns the styled input prompt string
	Prompt() string

	// Response displays the assistant's response
	Response(answer string)

	// ToolActivity displays the tool calls executed during a turn
	ToolActivity(calls []ToolCallInfo)

	// Error displays a chat error message
	Error(err error)

	// SessionResume displays session resume information
	SessionResume(sessionID string, turnCount int)

	// SessionEnd displays session end information
	SessionEnd(sessionID string)

	// SessionEndRich displays rich session end information with stats.
	//
	// This is the "maximalist" session end experience, showing:
	//   - Session ID with copy hint
	//   - Session statistics (messages, tokens, tool calls, duration)
	//   - Commands for interacting with the session (resume, history)
	//
	// Use this instead of SessionEnd when you have accumulated stats.
	SessionEndRich(sessionID string, stats *SessionStats)
}

// terminalChatUI implements ChatUI for terminal output
type terminalChatUI struct {
	writer      io.Writer
	personality PersonalityLevel
}

// write is a helper that writes formatted output and handles errors.
// Errors are silently ignored as there's no meaningful recovery for terminal output.
func (u *terminalChatUI) write(format string, args ...interface{}) {
	if _, err := fmt.Fprintf(u.writer, format, args...); err != nil {
		return
	}
}

// writeln is a helper that writes a line and handles errors.
func (u *terminalChatUI) writeln(args ...interface{}) {
	if _, err := fmt.Fprintln(u.writer, args...); err != nil {
		return
	}
}

// NewChatUI creates a new terminal-based ChatUI
func NewChatUI() ChatUI {
	return &terminalChatUI{
		writer:      os.Stdout,
		personality: GetPersonality().Level,
	}
}

// NewChatUIWithWriter creates a ChatUI with a custom writer (for testing)
func NewChatUIWithWriter(w io.Writer, personality PersonalityLevel) ChatUI {
	return &terminalChatUI{
		writer:      w,
		personality: personality,
	}
}

// Header displays the chat session header.
func (u *terminalChatUI) Header(mode ChatMode, title, sessionID string) {
	u.HeaderWithConfig(HeaderConfig{
		Mode:      mode,
		Title:     title,
		SessionID: sessionID,
	})
}

// HeaderWithConfig displays the chat session header with full configuration.
//
// # Description
//
// Renders the chat header box with mode, title, and optional metadata
// including the source note and model. Adapts output based on
// personality level.
//
// # Inputs
//
//   - config: HeaderConfig with mode, sessionID, title, source note, model
//
// # Outputs
//
// None. Writes directly to the configured writer.
func (u *terminalChatUI) HeaderWithConfig(config HeaderConfig) {
	if u.personality == PersonalityMachine {
		u.headerMachine(config)
		return
	}

	if u.personality == PersonalityMinimal {
		u.headerMinimal(config)
		return
	}

	u.headerFull(config)
}

// headerMachine renders the header in machine-readable format.
func (u *terminalChatUI) headerMachine(config HeaderConfig) {
	parts := []string{fmt.Sprintf("mode=%s", chatModeString(config.Mode))}
	if config.SessionID != "" {
		parts = append(parts, fmt.Sprintf("session=%s", config.SessionID))
	}
	if config.SourceNote != "" {
		parts = append(parts, fmt.Sprintf("note=%s", config.SourceNote))
	}
	if config.Model != "" {
		parts = append(parts, fmt.Sprintf("model=%s", config.Model))
	}
	if config.ToolCount > 0 {
		parts = append(parts, fmt.Sprintf("tools=%d", config.ToolCount))
	}
	u.write("CHAT_START: %s\n", strings.Join(parts, " "))
}

// headerMinimal renders the header in minimal format.
func (u *terminalChatUI) headerMinimal(config HeaderConfig) {
	if config.Mode == ChatModeNote {
		u.write("Note Chat (%s)\n", config.SourceNote)
	} else {
		u.writeln("Vault Agent Chat")
	}
	if config.Model != "" {
		u.write("Model: %s\n", config.Model)
	}
	u.writeln("Type 'exit' to end.")
}

// headerFull renders the header with full styling.
func (u *terminalChatUI) headerFull(config HeaderConfig) {
	var content strings.Builder
	if config.Mode == ChatModeNote {
		content.WriteString(Styles.Highlight.Render("Note Chat"))
		content.WriteString("\n")
		content.WriteString(fmt.Sprintf("Note: %s", Styles.Success.Render(config.SourceNote)))
	} else {
		content.WriteString(Styles.Highlight.Render("Vault Agent Chat"))
		if config.Title != "" {
			content.WriteString("\n")
			content.WriteString(fmt.Sprintf("Title: %s", Styles.Success.Render(config.Title)))
		}
	}

	if config.Model != "" {
		content.WriteString("\n")
		content.WriteString(fmt.Sprintf("Model: %s", Styles.Success.Render(config.Model)))
		if config.ToolCount > 0 {
			content.WriteString(Styles.Muted.Render(fmt.Sprintf(" | %d tools", config.ToolCount)))
		}
	} else if config.ToolCount > 0 {
		content.WriteString("\n")
		content.WriteString(Styles.Muted.Render(fmt.Sprintf("%d tools available", config.ToolCount)))
	}

	if config.SessionID != "" {
		content.WriteString("\n")
		content.WriteString(fmt.Sprintf("Session: %s", Styles.Muted.Render(config.SessionID)))
	}

	boxStyle := Styles.Box.Width(60)
	u.writeln(boxStyle.Render(content.String()))
	u.writeln()
	u.writeln(Styles.Muted.Render("Type 'exit' to end."))
	u.writeln()
}

// Prompt returns the styled input prompt string
func (u *terminalChatUI) Prompt() string {
	if u.personality == PersonalityMachine {
		return "> "
	}
	return Styles.Highlight.Render("> ")
}

// Response displays the assistant's response
func (u *terminalChatUI) Response(answer string) {
	if u.personality == PersonalityMachine {
		u.write("RESPONSE: %s\n", answer)
		return
	}
	u.writeln()
	u.writeln(answer)
}

// ToolActivity displays the tool calls executed during a turn
func (u *terminalChatUI) ToolActivity(calls []ToolCallInfo) {
	if len(calls) == 0 {
		return
	}

	if u.personality == PersonalityMachine {
		for _, call := range calls {
			if call.Detail != "" {
				u.write("TOOL: %s status=%s detail=%s\n", call.Tool, call.Status, call.Detail)
			} else {
				u.write("TOOL: %s status=%s\n", call.Tool, call.Status)
			}
		}
		return
	}

	u.writeln()
	if u.personality == PersonalityMinimal {
		u.writeln("Tools:")
		for _, call := range calls {
			u.write("  %s %s\n", toolStatusIcon(call.Status).Render(), call.Tool)
		}
		return
	}

	// Full personality with styled box
	var content strings.Builder
	for i, call := range calls {
		detail := ""
		if call.Detail != "" {
			detail = Styles.Muted.Render(" " + call.Detail)
		}
		content.WriteString(fmt.Sprintf("%s %s%s", toolStatusIcon(call.Status).Render(), call.Tool, detail))
		if i < len(calls)-1 {
			content.WriteString("\n")
		}
	}

	boxStyle := Styles.InfoBox.Width(60)
	titleLine := Styles.Subtitle.Render("Tool Activity")
	u.writeln(boxStyle.Render(titleLine + "\n" + content.String()))
}

// toolStatusIcon maps a tool call status to a display icon.
func toolStatusIcon(status string) Icon {
	switch status {
	case "success":
		return IconSuccess
	case "error":
		return IconError
	default:
		// skipped_loop, skipped_permission, skipped
		return IconWarning
	}
}

// Error displays a chat error message
func (u *terminalChatUI) Error(err error) {
	if u.personality == PersonalityMachine {
		u.write("CHAT_ERROR: %v\n", err)
		return
	}
	u.write("%s %s\n", IconError.Render(), Styles.Error.Render(fmt.Sprintf("Chat error: %v", err)))
}

// SessionResume displays session resume information
func (u *terminalChatUI) SessionResume(sessionID string, turnCount int) {
	if u.personality == PersonalityMachine {
		u.write("SESSION_RESUME: session=%s turns=%d\n", sessionID, turnCount)
		return
	}
	u.write("%s %s\n", IconSuccess.Render(),
		Styles.Success.Render(fmt.Sprintf("Resumed session %s (%d previous turns)", sessionID, turnCount)))
}

// SessionEnd displays session end information.
//
// # Description
//
// Displays a simple goodbye message with the session ID. For a richer
// experience with statistics and next steps, use SessionEndRich instead.
//
// # Inputs
//
//   - sessionID: The session identifier. May be empty for anonymous sessions.
//
// # Outputs
//
// None. Writes directly to the configured writer.
func (u *terminalChatUI) SessionEnd(sessionID string) {
	if u.personality == PersonalityMachine {
		u.write("CHAT_END: session=%s\n", sessionID)
		return
	}
	if sessionID != "" {
		u.writeln(Styles.Muted.Render(fmt.Sprintf("Session: %s", sessionID)))
	}
	u.writeln("Goodbye!")
}

// SessionEndRich displays rich session end information with statistics.
//
// # Description
//
// Displays a comprehensive session summary including:
//   - Session ID with visual prominence
//   - Session statistics (messages, tokens, tool calls, duration)
//   - Commands for resuming the session later
//
// This is the "maximalist" session end experience, designed to give
// users full visibility into their session and clear next steps.
//
// # Inputs
//
//   - sessionID: The session identifier. May be empty for anonymous sessions.
//   - stats: Session statistics. If nil, falls back to SessionEnd behavior.
//
// # Outputs
//
// None. Writes directly to the configured writer.
func (u *terminalChatUI) SessionEndRich(sessionID string, stats *SessionStats) {
	// Fall back to simple end if no stats
	if stats == nil {
		u.SessionEnd(sessionID)
		return
	}

	if u.personality == PersonalityMachine {
		u.sessionEndRichMachine(sessionID, stats)
		return
	}

	if u.personality == PersonalityMinimal {
		u.sessionEndRichMinimal(sessionID, stats)
		return
	}

	u.sessionEndRichFull(sessionID, stats)
}

// sessionEndRichMachine renders session end in machine-readable format.
func (u *terminalChatUI) sessionEndRichMachine(sessionID string, stats *SessionStats) {
	u.write("CHAT_END: session=%s messages=%d tokens=%d tool_calls=%d duration=%s\n",
		sessionID, stats.MessageCount, stats.TotalTokens, stats.ToolCalls,
		stats.Duration.Round(time.Millisecond))
}

// sessionEndRichMinimal renders session end in minimal format.
func (u *terminalChatUI) sessionEndRichMinimal(sessionID string, stats *SessionStats) {
	u.writeln()
	if sessionID != "" {
		u.write("Session: %s\n", sessionID)
	}
	u.write("Messages: %d | Tokens: %d | Tool calls: %d | Duration: %s\n",
		stats.MessageCount, stats.TotalTokens, stats.ToolCalls, formatDuration(stats.Duration))
	u.writeln("Goodbye!")
}

// sessionEndRichFull renders session end with full styling.
func (u *terminalChatUI) sessionEndRichFull(sessionID string, stats *SessionStats) {
	u.writeln()

	var content strings.Builder

	// Session section
	content.WriteString(Styles.Subtitle.Render("Session Summary"))
	content.WriteString("\n\n")

	if sessionID != "" {
		content.WriteString(fmt.Sprintf("  %s  %s\n",
			Styles.Muted.Render("ID:"),
			Styles.Highlight.Render(sessionID)))
	}

	// Stats section
	content.WriteString("\n")
	content.WriteString(Styles.Subtitle.Render("Statistics"))
	content.WriteString("\n\n")

	content.WriteString(fmt.Sprintf("  %s  %d messages exchanged\n",
		IconChat.Render(), stats.MessageCount))
	content.WriteString(fmt.Sprintf("  %s  %d tokens used\n",
		IconBullet.Render(), stats.TotalTokens))

	if stats.ToolCalls > 0 {
		content.WriteString(fmt.Sprintf("  %s  %d tool calls executed\n",
			IconTool.Render(), stats.ToolCalls))
	}
	if stats.SkippedCalls > 0 {
		content.WriteString(fmt.Sprintf("  %s  %d tool calls skipped\n",
			IconWarning.Render(), stats.SkippedCalls))
	}

	content.WriteString(fmt.Sprintf("  %s  %s session duration\n",
		IconTime.Render(), formatDuration(stats.Duration)))

	if stats.FirstResponseLatency > 0 {
		content.WriteString(fmt.Sprintf("  %s  %s time to first response\n",
			Styles.Muted.Render("⚡"), formatDuration(stats.FirstResponseLatency)))
	}

	// Next steps section (only if session ID available)
	if sessionID != "" {
		content.WriteString("\n")
		content.WriteString(Styles.Subtitle.Render("Continue Later"))
		content.WriteString("\n\n")
		content.WriteString(fmt.Sprintf("  %s\n",
			Styles.Muted.Render("Resume this session:")))
		content.WriteString(fmt.Sprintf("  %s\n",
			Styles.Success.Render(fmt.Sprintf("vault chat --resume %s", sessionID))))
	}

	// Width 68 accommodates the resume command (20 chars + 36 char UUID + padding)
	boxStyle := Styles.Box.Width(68)
	u.writeln(boxStyle.Render(content.String()))
	u.writeln()
	u.writeln(Styles.Highlight.Render("Goodbye!"))
}

// chatModeString returns the machine-format name for a chat mode.
func chatModeString(mode ChatMode) string {
	if mode == ChatModeNote {
		return "note"
	}
	return "agent"
}

// formatDuration formats a duration for human-readable display.
//
// # Examples
//
//	formatDuration(500*time.Millisecond) // "500ms"
//	formatDuration(5*time.Second)        // "5.0s"
//	formatDuration(90*time.Second)       // "1m 30s"
//	formatDuration(2*time.Hour)          // "2h 0m"
func formatDuration(d time.Duration) string {
	if d < time.Second {
		return fmt.Sprintf("%dms", d.Milliseconds())
	}
	if d < time.Minute {
		return fmt.Sprintf("%.1fs", d.Seconds())
	}
	if d < time.Hour {
		mins := int(d.Minutes())
		secs := int(d.Seconds()) % 60
		if secs == 0 {
			return fmt.Sprintf("%dm", mins)
		}
		return fmt.Sprintf("%dm %ds", mins, secs)
	}
	hours := int(d.Hours())
	mins := int(d.Minutes()) % 60
	return fmt.Sprintf("%dh %dm", hours, mins)
}
