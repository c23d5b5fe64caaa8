// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package safety decides whether a tool call may run under the owning
// session's permission state.
//
// Destructive calls pass only with a standing session grant or an
// explicit per-call confirmation. The execution engine consults the
// gate; it never learns the rules themselves.
//
// Thread Safety:
//
//	All types in this package are safe for concurrent use.
package safety

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
)

// ===== Errors =====

var (
	// ErrPermissionDenied indicates a call rejected by the gate.
	ErrPermissionDenied = errors.New("permission denied")

	// ErrConfirmationFailed indicates the confirmation callback itself
	// errored (distinct from the user answering no).
	ErrConfirmationFailed = errors.New("confirmation callback failed")
)

// ===== Permission state =====

// Grants is a session's standing permission state.
type Grants struct {
	// AllowDestructive bypasses per-call confirmation for destructive
	// tools in this session.
	AllowDestructive bool `json:"allow_destructive" yaml:"allow_destructive"`

	// AllowedTools grants specific destructive tools by name without a
	// blanket destructive grant.
	AllowedTools []string `json:"allowed_tools,omitempty" yaml:"allowed_tools,omitempty"`
}

// Permits reports whether the grants cover the named tool.
func (g Grants) Permits(toolName string) bool {
	if g.AllowDestructive {
		return true
	}
	for _, name := range g.AllowedTools {
		if name == toolName {
			return true
		}
	}
	return false
}

// ===== Requests and decisions =====

// Request describes one call presented to the gate. Category is the
// tool's side-effect class as a plain string so the gate stays free of
// registry types.
type Request struct {
	// SessionID identifies the owning session.
	SessionID string `json:"session_id"`

	// CallID identifies the tool call.
	CallID string `json:"call_id"`

	// ToolName names the tool being invoked.
	ToolName string `json:"tool_name"`

	// Category is the tool's side-effect class ("read_only",
	// "vault_ops", "destructive", "network").
	Category string `json:"category"`

	// Target is the primary path or resource the call touches, when
	// known. Used only for human-readable prompts.
	Target string `json:"target,omitempty"`
}

// Decision is the gate's verdict for one call.
type Decision struct {
	// Allowed is true when the call may execute.
	Allowed bool `json:"allowed"`

	// Reason is the human-readable explanation, always set when the
	// call is not allowed.
	Reason string `json:"reason,omitempty"`

	// Source records what allowed the call: "not_gated",
	// "session_grant", or "confirmation".
	Source string `json:"source,omitempty"`
}

// ConfirmFunc asks for a per-call approval. Implementations range from
// a huh prompt in the CLI to an HTTP round trip in the service. A nil
// ConfirmFunc means no interactive approval path exists.
type ConfirmFunc func(ctx context.Context, req Request) (bool, error)

// ===== Gate =====

// Gate decides whether one call may run.
type Gate interface {
	// Check evaluates a call against the session's grants, invoking
	// confirm when a grant is absent and confirm is non-nil. The
	// returned error is reserved for confirmation transport failures;
	// a plain denial is a Decision with Allowed=false and a Reason.
	Check(ctx context.Context, req Request, grants Grants, confirm ConfirmFunc) (Decision, error)
}

// DefaultGate gates destructive calls on grants or confirmation.
type DefaultGate struct{}

// NewDefaultGate creates the standard gate.
func NewDefaultGate() *DefaultGate {
	return &DefaultGate{}
}

// Check implements Gate.
//
// Non-destructive categories pass untouched. Destructive calls pass on
// a standing grant; otherwise the confirmation callback is consulted.
// With no grant and no callback the call is denied.
func (g *DefaultGate) Check(ctx context.Context, req Request, grants Grants, confirm ConfirmFunc) (Decision, error) {
	if req.Category != "destructive" {
		return Decision{Allowed: true, Source: "not_gated"}, nil
	}

	if grants.Permits(req.ToolName) {
		return Decision{Allowed: true, Source: "session_grant"}, nil
	}

	if confirm == nil {
		return Decision{
			Allowed: false,
			Reason:  fmt.Sprintf("destructive tool %q requires a session grant or confirmation and neither is available", req.ToolName),
		}, nil
	}

	approved, err := confirm(ctx, req)
	if err != nil {
		return Decision{}, fmt.Errorf("%w: %v", ErrConfirmationFailed, err)
	}
	if !approved {
		return Decision{
			Allowed: false,
			Reason:  fmt.Sprintf("destructive tool %q was declined by confirmation", req.ToolName),
		}, nil
	}
	return Decision{Allowed: true, Source: "confirmation"}, nil
}

// ===== Test double =====

// MockGate records checks and returns a scripted decision.
type MockGate struct {
	mu sync.Mutex

	// CheckFunc overrides the default allow-all behavior.
	CheckFunc func(ctx context.Context, req Request, grants Grants, confirm ConfirmFunc) (Decision, error)

	calls atomic.Int64
	seen  []Request
}

// NewMockGate creates a MockGate that allows everything.
func NewMockGate() *MockGate {
	return &MockGate{}
}

// Check implements Gate.
func (m *MockGate) Check(ctx context.Context, req Request, grants Grants, confirm ConfirmFunc) (Decision, error) {
	m.calls.Add(1)
	m.mu.Lock()
	m.seen = append(m.seen, req)
	m.mu.Unlock()
	if m.CheckFunc != nil {
		return m.CheckFunc(ctx, req, grants, confirm)
	}
	return Decision{Allowed: true, Source: "mock"}, nil
}

// CallCount returns how many checks were made.
func (m *MockGate) CallCount() int {
	return int(m.calls.Load())
}

// Seen returns a copy of the observed requests.
func (m *MockGate) Seen() []Request {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Request, len(m.seen))
	copy(out, m.seen)
	return out
}
