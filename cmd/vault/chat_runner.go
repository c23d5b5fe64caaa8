// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package main contains the chat runner and input reader abstractions.
//
// The ChatRunner interface decouples the interactive loop from its
// transport so tests can drive it with mocks. The production wiring is:
//
//	cmd_chat.go → ChatRunner → AgentChatRunner
//	                           ↓
//	                           ChatService (WebSocket, chat_service.go)
//	                           InputReader (stdin abstraction)
//	                           ChatUI (pkg/ux)
package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/AleutianAI/AleutianVault/pkg/ux"
	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/mattn/go-isatty"
)

// =============================================================================
// ChatRunner Interface
// =============================================================================

// ChatRunner defines the contract for running interactive chat sessions.
//
// # Description
//
// ChatRunner abstracts the chat loop so the command layer does not care
// which transport or UI is behind it. Implementations handle user
// input, server communication, and output rendering.
//
// ChatRunner embeds resource cleanup via Close. Callers MUST call
// Close() when done, typically via defer.
//
// # Outputs
//
// Run returns nil on normal exit (user types "exit" or input ends),
// context.Canceled after a shutdown signal, or an error on
// unrecoverable failure.
//
// # Limitations
//
//   - Implementations are not reusable after Run() returns
//   - In-flight turns may be abandoned on shutdown
type ChatRunner interface {
	// Run executes the interactive chat loop until exit, error, or
	// context cancellation.
	Run(ctx context.Context) error

	// Close releases the runner's resources. Safe to call more than
	// once.
	Close() error
}

// =============================================================================
// InputReader Interface
// =============================================================================

// InputReader abstracts user input reading for testability.
//
// # Description
//
// InputReader enables mocking of stdin in unit tests. The production
// implementations wrap bufio.Reader or a terminal input widget; the
// test implementation returns predetermined inputs.
//
// # Outputs
//
// ReadLine returns the line read (trimmed) and any error. Returns
// io.EOF when input is exhausted.
//
// # Limitations
//
//   - Does not support multi-line input
type InputReader interface {
	// ReadLine reads a single line of input, trimmed of surrounding
	// whitespace. Blocks until input is available.
	ReadLine() (string, error)
}

// PromptingInputReader extends InputReader with prompt display.
//
// # Description
//
// Implemented by readers that render their own prompt (the interactive
// reader draws it inside the input widget). The chat runner checks for
// this interface to avoid double-prompting:
//
//	if p, ok := reader.(PromptingInputReader); ok {
//	    p.SetPrompt(promptString)
//	} else {
//	    fmt.Print(promptString)
//	}
//	line, err := reader.ReadLine()
type PromptingInputReader interface {
	InputReader
	// SetPrompt sets the prompt string to display before input.
	SetPrompt(prompt string)
}

// =============================================================================
// StdinReader Implementation
// =============================================================================

// StdinReader implements InputReader over plain buffered stdin.
//
// # Description
//
// StdinReader wraps bufio.Reader to read newline-terminated lines from
// os.Stdin. It is the fallback for piped input and CI environments
// where the interactive reader cannot run.
//
// # Thread Safety
//
// Not thread-safe. Single reader per stdin.
//
// # Limitations
//
//   - Blocks until input available; cannot be cancelled mid-read
//   - No line editing or history
type StdinReader struct {
	reader *bufio.Reader
}

// NewStdinReader creates a StdinReader wrapping os.Stdin.
func NewStdinReader() *StdinReader {
	return &StdinReader{
		reader: bufio.NewReader(os.Stdin),
	}
}

// ReadLine reads a single line from stdin.
//
// # Outputs
//
//   - string: the line read, trimmed of surrounding whitespace
//   - error: io.EOF when stdin closed, or other read error
func (r *StdinReader) ReadLine() (string, error) {
	line, err := r.reader.ReadString('\n')
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(line), nil
}

// =============================================================================
// InteractiveInputReader Implementation (with history)
// =============================================================================

// InteractiveInputReader implements InputReader with history navigation.
//
// # Description
//
// InteractiveInputReader uses a bubbletea text input to provide:
//   - Up/down arrow history navigation
//   - Line editing (Ctrl+A, Ctrl+E, etc.)
//   - Proper terminal handling
//
// NewInteractiveInputReader falls back to StdinReader for non-TTY
// environments (piped input, CI).
//
// # Thread Safety
//
// Not thread-safe. Single reader per stdin.
//
// # Limitations
//
//   - History is in-memory only, not persisted across sessions
type InteractiveInputReader struct {
	history      []string
	historyIndex int
	maxHistory   int
	prompt       string
}

// inputModel is the bubbletea model for interactive input.
type inputModel struct {
	textInput    textinput.Model
	history      []string
	historyIndex int
	currentInput string // Stores current input when navigating history
	done         bool
	cancelled    bool
}

// NewInteractiveInputReader creates an interactive reader with history.
//
// # Description
//
// Returns an InteractiveInputReader when stdin is a terminal, otherwise
// a StdinReader. The caller displays the prompt unless it sets one via
// SetPrompt, in which case the input widget renders it.
//
// # Inputs
//
//   - maxHistory: maximum number of history entries to keep
func NewInteractiveInputReader(maxHistory int) InputReader {
	// Fall back to basic stdin reader for non-TTY (piped input, CI)
	if !isatty.IsTerminal(os.Stdin.Fd()) && !isatty.IsCygwinTerminal(os.Stdin.Fd()) {
		return NewStdinReader()
	}

	return &InteractiveInputReader{
		history:      make([]string, 0, maxHistory),
		historyIndex: -1,
		maxHistory:   maxHistory,
		prompt:       "> ",
	}
}

// SetPrompt sets the prompt string rendered by the input widget.
func (r *InteractiveInputReader) SetPrompt(prompt string) {
	r.prompt = prompt
}

// ReadLine reads a single line with interactive history support.
//
// # Description
//
// Runs one bubbletea input round:
//   - Up arrow: previous history entry
//   - Down arrow: next history entry, then back to the draft
//   - Enter: submit input
//   - Ctrl+C: discard current input (returns empty string)
//   - Ctrl+D: end of input (returns io.EOF)
//
// Submitted non-empty inputs are added to history.
func (r *InteractiveInputReader) ReadLine() (string, error) {
	ti := textinput.New()
	ti.Prompt = r.prompt
	ti.Focus()
	ti.CharLimit = 4096
	ti.Width = 80

	m := inputModel{
		textInput:    ti,
		history:      r.history,
		historyIndex: -1,
	}

	// Stdout stays clean for responses; the widget draws on stderr.
	p := tea.NewProgram(m, tea.WithOutput(os.Stderr))
	finalModel, err := p.Run()
	if err != nil {
		return "", err
	}

	result, ok := finalModel.(inputModel)
	if !ok {
		return "", fmt.Errorf("unexpected model type from input program: %T", finalModel)
	}

	// Ctrl+D on an empty line is EOF
	if result.cancelled && result.textInput.Value() == "" {
		return "", io.EOF
	}

	input := strings.TrimSpace(result.textInput.Value())
	if input != "" {
		r.addToHistory(input)
	}
	return input, nil
}

// addToHistory appends an input to the history buffer, dropping the
// oldest entry past maxHistory and skipping immediate duplicates.
func (r *InteractiveInputReader) addToHistory(input string) {
	if len(r.history) > 0 && r.history[len(r.history)-1] == input {
		return
	}
	r.history = append(r.history, input)
	if len(r.history) > r.maxHistory {
		r.history = r.history[1:]
	}
}

// Init initializes the bubbletea model.
func (m inputModel) Init() tea.Cmd {
	return textinput.Blink
}

// Update handles input events for the bubbletea model.
func (m inputModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmd tea.Cmd

	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.Type {
		case tea.KeyEnter:
			m.done = true
			return m, tea.Quit

		case tea.KeyCtrlC:
			// Discard the draft and return empty
			m.textInput.SetValue("")
			m.done = true
			return m, tea.Quit

		case tea.KeyCtrlD:
			m.cancelled = true
			m.textInput.SetValue("")
			m.done = true
			return m, tea.Quit

		case tea.KeyUp:
			if len(m.history) == 0 {
				return m, nil
			}
			// Save the draft when first entering history
			if m.historyIndex == -1 {
				m.currentInput = m.textInput.Value()
				m.historyIndex = len(m.history) - 1
			} else if m.historyIndex > 0 {
				m.historyIndex--
			}
			m.textInput.SetValue(m.history[m.historyIndex])
			m.textInput.CursorEnd()
			return m, nil

		case tea.KeyDown:
			if m.historyIndex == -1 {
				return m, nil
			}
			if m.historyIndex < len(m.history)-1 {
				m.historyIndex++
				m.textInput.SetValue(m.history[m.historyIndex])
			} else {
				// Back to the draft
				m.historyIndex = -1
				m.textInput.SetValue(m.currentInput)
			}
			m.textInput.CursorEnd()
			return m, nil
		}
	}

	m.textInput, cmd = m.textInput.Update(msg)
	return m, cmd
}

// View renders the input prompt.
func (m inputModel) View() string {
	if m.done {
		return ""
	}
	return m.textInput.View()
}

// =============================================================================
// MockInputReader Implementation (for testing)
// =============================================================================

// MockInputReader implements InputReader for testing.
//
// # Description
//
// MockInputReader returns predetermined inputs in order, then io.EOF.
// It lets tests drive a chat runner without real user input.
//
// # Thread Safety
//
// Not thread-safe. Designed for single-threaded tests.
type MockInputReader struct {
	inputs []string
	index  int
}

// NewMockInputReader creates a MockInputReader with predetermined
// inputs.
//
// # Examples
//
//	mock := NewMockInputReader([]string{"hello", "exit"})
//	line1, _ := mock.ReadLine() // "hello"
//	line2, _ := mock.ReadLine() // "exit"
//	_, err := mock.ReadLine()   // io.EOF
func NewMockInputReader(inputs []string) *MockInputReader {
	return &MockInputReader{
		inputs: inputs,
		index:  0,
	}
}

// ReadLine returns the next predetermined input, then io.EOF.
func (m *MockInputReader) ReadLine() (string, error) {
	if m.index >= len(m.inputs) {
		return "", io.EOF
	}
	line := m.inputs[m.index]
	m.index++
	return line, nil
}

// =============================================================================
// Configuration
// =============================================================================

// AgentChatRunnerConfig holds configuration for creating an
// AgentChatRunner.
//
// # Fields
//
//   - Mode: Agent or note chat, for the header display.
//   - Title: Session title, for the header display.
//   - SourceNote: Vault-relative note path for note chats.
//   - ModelName: Effective model name, for the header display.
//   - ToolCount: Number of server-side tools, for the header display.
//   - ResumeTurns: Transcript length of a resumed session; zero for a
//     fresh session. When positive the runner announces the resume.
//
// The session itself is created or resumed by the command layer before
// the runner starts; the runner only needs display facts.
type AgentChatRunnerConfig struct {
	Mode        ux.ChatMode
	Title       string
	SourceNote  string
	ModelName   string
	ToolCount   int
	ResumeTurns int
}

// =============================================================================
// Helper Functions
// =============================================================================

// isExitCommand checks if the input is an exit command.
//
// # Description
//
// Returns true if the input matches "exit" or "quit" exactly. The
// comparison is case-sensitive so a message about "EXIT codes" does
// not end the session.
//
// # Assumptions
//
//   - Input is already trimmed
func isExitCommand(input string) bool {
	return input == "exit" || input == "quit"
}
