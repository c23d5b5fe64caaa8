// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package extensions

import (
	"context"
	"time"
)

// ToolAuditEvent records one tool execution inside an agent turn.
//
// Events exist for compliance review of what the agent did to the
// vault: which tools ran, against which notes, on whose session, and
// how each call ended.
//
// # Compliance Fields
//
// For a useful audit trail, always populate:
//   - Principal: who ran the turn (LocalPrincipal on local deployments)
//   - SessionID and Tool: what acted where
//   - Timestamp: when (always UTC; implementations set it if zero)
//
// Example:
//
//	event := ToolAuditEvent{
//	    Timestamp: time.Now().UTC(),
//	    Principal: extensions.LocalPrincipal,
//	    SessionID: sessionID,
//	    Tool:      "delete_note",
//	    Category:  "destructive",
//	    Outcome:   "success",
//	}
type ToolAuditEvent struct {
	// Timestamp is when the call finished (always use UTC).
	// If zero, implementations should set it to time.Now().UTC().
	Timestamp time.Time

	// Principal is the authenticated caller whose turn ran the tool.
	Principal Principal

	// SessionID is the chat session the turn belongs to.
	SessionID string

	// CallID is the model-assigned identifier of the tool call.
	CallID string

	// Tool is the registered tool name (e.g. "delete_note").
	Tool string

	// Category is the tool's registered category
	// ("read_only", "vault_ops", "destructive", "network").
	Category string

	// Outcome is the call's final status: "success", "error",
	// "skipped_loop", "skipped_permission", or "skipped".
	Outcome string

	// Detail carries the error message for failed calls. Empty on
	// success.
	Detail string
}

// AuditLogger records tool executions for compliance and analysis.
//
// Implementations must be safe for concurrent use. Record runs inside
// the turn pipeline, so it should be non-blocking or buffered; a slow
// audit sink must not slow the agent down.
//
// # Open Source Behavior
//
// The default NopAuditLogger discards all events. A local single-user
// deployment needs no audit trail.
//
// # Enterprise Implementation
//
// Enterprise versions send events to SIEM systems or compliance
// databases. For compliance-critical sinks, buffer in Record and
// persist in Flush.
type AuditLogger interface {
	// Record captures one finished tool call. Implementations should
	// set Timestamp if zero and return quickly.
	Record(ctx context.Context, event ToolAuditEvent) error

	// Flush ensures all buffered events are persisted. Called before
	// shutdown to prevent event loss. For unbuffered implementations
	// this is a no-op.
	Flush(ctx context.Context) error
}

// NopAuditLogger is the default audit logger for open source.
//
// It discards all events without recording them.
//
// Thread-safe: this implementation has no mutable state.
type NopAuditLogger struct{}

// Record discards the event without recording it.
func (l *NopAuditLogger) Record(ctx context.Context, event ToolAuditEvent) error {
	return nil
}

// Flush is a no-op since nothing is buffered.
func (l *NopAuditLogger) Flush(ctx context.Context) error {
	return nil
}

// Compile-time interface compliance check.
var _ AuditLogger = (*NopAuditLogger)(nil)
