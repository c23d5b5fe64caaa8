// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package main contains the AgentChatRunner implementation.
//
// This file implements the ChatRunner interface for agent and note
// chat against the Vault Buddy server. It coordinates the ChatService
// transport, the ChatUI, and the InputReader into one interactive loop.
package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/AleutianAI/AleutianVault/pkg/ux"
)

// =============================================================================
// AgentChatRunner Implementation
// =============================================================================

// AgentChatRunner implements ChatRunner for vault agent chat.
//
// # Description
//
// AgentChatRunner manages the interactive loop for both agent and note
// chat. The transcript lives server-side, so resuming a session needs
// no client-side history replay; the runner only announces how many
// turns already exist.
//
// Each turn it displays the tool activity the server reported, then
// the assistant's answer, and accumulates statistics for the session
// summary shown on exit.
//
// # Thread Safety
//
// Run is single-use from one goroutine. Close is safe to call from any
// goroutine and is idempotent.
//
// # Limitations
//
//   - Single use: cannot restart after Run() completes
//   - Stdin reads cannot be interrupted mid-line (OS limitation)
type AgentChatRunner struct {
	service          ChatService
	ui               ux.ChatUI
	input            InputReader
	config           AgentChatRunnerConfig
	sessionStartTime time.Time
	sessionStats     ux.SessionStats
	closed           bool
	mu               sync.Mutex
}

// NewAgentChatRunner creates an agent chat runner with production
// dependencies.
//
// # Description
//
// Wraps the given transport with the terminal UI and the interactive
// stdin reader (falling back to plain stdin when not a TTY). The
// command layer dials the ChatService first because the confirmation
// callback and the resume lookup both live there.
//
// # Inputs
//
//   - config: display facts for the header and resume announcement
//   - service: connected chat transport
//
// # Outputs
//
//   - ChatRunner: ready to run the chat session
func NewAgentChatRunner(config AgentChatRunnerConfig, service ChatService) ChatRunner {
	return &AgentChatRunner{
		service: service,
		ui:      ux.NewChatUI(),
		input:   NewInteractiveInputReader(50),
		config:  config,
	}
}

// NewAgentChatRunnerWithDeps creates an agent chat runner with injected
// dependencies for testing.
//
// # Examples
//
//	mockService := &mockChatService{sessionID: "sess-1"}
//	mockInput := NewMockInputReader([]string{"hello", "exit"})
//	var buf bytes.Buffer
//	ui := ux.NewChatUIWithWriter(&buf, ux.PersonalityStandard)
//
//	runner := NewAgentChatRunnerWithDeps(mockService, ui, mockInput, AgentChatRunnerConfig{})
//	err := runner.Run(context.Background())
func NewAgentChatRunnerWithDeps(
	service ChatService,
	ui ux.ChatUI,
	input InputReader,
	config AgentChatRunnerConfig,
) *AgentChatRunner {
	return &AgentChatRunner{
		service: service,
		ui:      ui,
		input:   input,
		config:  config,
	}
}

// Run executes the interactive agent chat loop.
//
// # Description
//
// The loop:
//  1. Announces the resume when the session already has turns
//  2. Displays the chat header with mode, note, model, and tool count
//  3. Prompts for user input
//  4. Checks for exit commands ("exit", "quit")
//  5. Sends the message through the ChatService and waits for the turn
//  6. Displays tool activity, then the answer
//  7. Repeats until exit, EOF, or context cancellation
//
// Mid-turn confirmation requests are not visible here; the ChatService
// resolves them through its ConfirmFunc.
//
// # Outputs
//
//   - error: nil on normal exit ("exit"/"quit" or EOF), the context's
//     error after cancellation, or a read failure
func (r *AgentChatRunner) Run(ctx context.Context) error {
	r.sessionStartTime = time.Now()

	if r.config.ResumeTurns > 0 {
		r.ui.SessionResume(r.service.GetSessionID(), r.config.ResumeTurns)
	}

	r.ui.HeaderWithConfig(ux.HeaderConfig{
		Mode:       r.config.Mode,
		SessionID:  r.service.GetSessionID(),
		Title:      r.config.Title,
		SourceNote: r.config.SourceNote,
		Model:      r.config.ModelName,
		ToolCount:  r.config.ToolCount,
	})

	for {
		// Check for cancellation before blocking on input
		select {
		case <-ctx.Done():
			return r.handleShutdown(ctx)
		default:
		}

		prompt := r.ui.Prompt()
		if p, ok := r.input.(PromptingInputReader); ok {
			p.SetPrompt(prompt)
		} else {
			fmt.Print(prompt)
		}

		input, err := r.input.ReadLine()
		if err != nil {
			if err == io.EOF {
				// Input exhausted (e.g., piped input ended)
				r.displaySessionEndWithStats()
				return nil
			}
			slog.Error("failed to read input", "error", err)
			return fmt.Errorf("read input: %w", err)
		}

		if input == "" {
			continue
		}

		if isExitCommand(input) {
			r.displaySessionEndWithStats()
			return nil
		}

		if err := r.handleMessage(ctx, input); err != nil {
			if ctx.Err() != nil {
				return r.handleShutdown(ctx)
			}
			// Non-fatal: display and keep the session alive
			r.ui.Error(err)
			continue
		}
	}
}

// handleMessage sends one user message and renders the finished turn.
func (r *AgentChatRunner) handleMessage(ctx context.Context, message string) error {
	start := time.Now()
	report, err := r.service.SendMessage(ctx, message)
	if err != nil {
		return err
	}

	r.accumulateStats(report, time.Since(start))

	r.ui.ToolActivity(toolCallInfos(report.ToolResults))
	r.ui.Response(report.Answer)

	if report.Halted {
		ux.Warning("Turn stopped early after a tool error.")
	}
	if report.HopsExhausted {
		ux.Warning("Turn hit the tool-hop limit; ask again to continue.")
	}
	return nil
}

// accumulateStats folds one turn's report into the session totals.
func (r *AgentChatRunner) accumulateStats(report *TurnReport, latency time.Duration) {
	r.sessionStats.MessageCount++
	r.sessionStats.TotalTokens += report.Usage.TotalTokens

	for _, res := range report.ToolResults {
		switch res.Status {
		case "skipped_loop", "skipped_permission", "skipped":
			r.sessionStats.SkippedCalls++
		default:
			r.sessionStats.ToolCalls++
		}
	}

	if r.sessionStats.MessageCount == 1 {
		r.sessionStats.FirstResponseLatency = latency
	}
}

// displaySessionEndWithStats finalizes the duration and shows the rich
// session summary.
func (r *AgentChatRunner) displaySessionEndWithStats() {
	r.sessionStats.Duration = time.Since(r.sessionStartTime)
	r.ui.SessionEndRich(r.service.GetSessionID(), &r.sessionStats)
}

// handleShutdown finishes the session after a cancelled context.
//
// The transcript is already safe server-side, so shutdown only closes
// the transport and prints the summary.
func (r *AgentChatRunner) handleShutdown(ctx context.Context) error {
	slog.Info("graceful shutdown initiated",
		"session_id", r.service.GetSessionID(),
	)

	fmt.Println() // New line after interrupted input
	r.displaySessionEndWithStats()

	return ctx.Err()
}

// Close releases the runner's transport. Idempotent.
func (r *AgentChatRunner) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return nil
	}
	r.closed = true
	return r.service.Close()
}

// toolCallInfos converts a turn's tool results into their display
// shape.
func toolCallInfos(results []ToolResultInfo) []ux.ToolCallInfo {
	if len(results) == 0 {
		return nil
	}
	calls := make([]ux.ToolCallInfo, 0, len(results))
	for _, res := range results {
		calls = append(calls, ux.ToolCallInfo{
			Tool:   res.ToolName,
			Status: res.Status,
			Detail: res.ErrorMessage,
		})
	}
	return calls
}
