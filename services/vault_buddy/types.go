// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package vault_buddy

import (
	"time"

	"github.com/gin-gonic/gin/binding"
	"github.com/go-playground/validator/v10"

	"github.com/AleutianAI/AleutianVault/services/vault_buddy/persistence"
	"github.com/AleutianAI/AleutianVault/services/vault_buddy/session"
)

// MaxMessageBytes caps a single chat message body. Byte length, not
// rune count, so a pathological payload cannot balloon memory before
// it ever reaches the model.
const MaxMessageBytes = 32 * 1024 // 32KB

func init() {
	if v, ok := binding.Validator.Engine().(*validator.Validate); ok {
		_ = v.RegisterValidation("maxbytes", validateMaxBytes)
	}
}

// validateMaxBytes enforces MaxMessageBytes on string fields tagged
// with maxbytes.
func validateMaxBytes(fl validator.FieldLevel) bool {
	return len(fl.Field().String()) <= MaxMessageBytes
}

// ErrorResponse is the uniform error body for all endpoints.
type ErrorResponse struct {
	// Error is the human-readable message.
	Error string `json:"error"`

	// Code is a stable machine-readable error code.
	Code string `json:"code"`
}

// CreateSessionRequest is the body for POST /v1/sessions.
type CreateSessionRequest struct {
	// Title is the requested session title. Empty gets a dated
	// default.
	Title string `json:"title"`
}

// NoteChatRequest is the body for POST /v1/sessions/note-chat.
type NoteChatRequest struct {
	// SourcePath is the vault-relative path of the anchoring note.
	// Required.
	SourcePath string `json:"source_path" binding:"required"`
}

// SessionListResponse is the response for GET /v1/sessions.
type SessionListResponse struct {
	// Sessions lists every session, active first, newest first
	// within each group.
	Sessions []*session.Session `json:"sessions"`

	// Total is the session count.
	Total int `json:"total"`
}

// TurnRecord is one history record on the wire.
type TurnRecord struct {
	// Role is one of "user", "assistant", "system", "tool".
	Role string `json:"role"`

	// Timestamp is when the turn completed.
	Timestamp time.Time `json:"timestamp"`

	// Body is the turn's markdown content.
	Body string `json:"body"`
}

// HistoryResponse is the response for GET /v1/sessions/:id/history.
type HistoryResponse struct {
	// SessionID identifies the session.
	SessionID string `json:"session_id"`

	// Title is the session title.
	Title string `json:"title"`

	// Kind is the session variant.
	Kind string `json:"kind"`

	// Records is the full transcript in append order.
	Records []TurnRecord `json:"records"`
}

// historyRecords converts store records to their wire shape.
func historyRecords(records []persistence.Record) []TurnRecord {
	out := make([]TurnRecord, len(records))
	for i, rec := range records {
		out[i] = TurnRecord{
			Role:      rec.Role,
			Timestamp: rec.Timestamp,
			Body:      rec.Body,
		}
	}
	return out
}

// ChatRequest is the body for POST /v1/sessions/:id/chat.
type ChatRequest struct {
	// Message is the user's message. Required, at most
	// MaxMessageBytes long.
	Message string `json:"message" binding:"required,maxbytes"`
}

// RenameRequest is the body for POST /v1/sessions/:id/rename.
type RenameRequest struct {
	// Title is the new session title. Required; it is sanitized
	// before use.
	Title string `json:"title" binding:"required"`
}

// GrantsRequest is the body for PUT /v1/sessions/:id/permissions.
type GrantsRequest struct {
	// AllowDestructive grants all destructive tools for the session.
	AllowDestructive bool `json:"allow_destructive"`

	// AllowedTools grants specific destructive tools by name.
	AllowedTools []string `json:"allowed_tools,omitempty"`
}

// MetadataRequest is the body for PATCH /v1/sessions/:id/metadata.
type MetadataRequest struct {
	// Metadata holds the keys to merge. Merging is last-write-wins
	// per key. Required.
	Metadata map[string]string `json:"metadata" binding:"required"`
}

// ContextFileRequest is the body for POST /v1/sessions/:id/context.
type ContextFileRequest struct {
	// Path is the vault-relative file to attach. Required.
	Path string `json:"path" binding:"required"`
}

// ArchivePathRequest is the body for archive export and import.
type ArchivePathRequest struct {
	// Path is the archive file location on the service host.
	// Required.
	Path string `json:"path" binding:"required"`
}

// ExportResponse is the response for POST /v1/archive/export.
type ExportResponse struct {
	// ArchivePath is where the archive was written.
	ArchivePath string `json:"archive_path"`

	// Files is the number of history streams exported.
	Files int `json:"files"`

	// Bytes is the total uncompressed stream bytes.
	Bytes int64 `json:"bytes"`
}

// ImportFailureInfo is one stream the import left untouched.
type ImportFailureInfo struct {
	// Path is the store-relative stream path.
	Path string `json:"path"`

	// Reason describes why the stream was aborted.
	Reason string `json:"reason"`
}

// ImportResponse is the response for POST /v1/archive/import.
type ImportResponse struct {
	// Total is the number of streams listed in the archive manifest.
	Total int `json:"total"`

	// Imported is the number of streams written.
	Imported int `json:"imported"`

	// Skipped is the number of streams left untouched because their
	// live checksum already matched.
	Skipped int `json:"skipped"`

	// Failures lists per-stream aborts.
	Failures []ImportFailureInfo `json:"failures,omitempty"`
}

// ToolInfo describes one registered tool for GET /v1/tools.
type ToolInfo struct {
	// Name is the tool's unique name.
	Name string `json:"name"`

	// Description is the tool's purpose.
	Description string `json:"description"`

	// Category is the side-effect class.
	Category string `json:"category"`

	// Parameters lists the tool's arguments.
	Parameters []ToolParamInfo `json:"parameters,omitempty"`
}

// ToolParamInfo describes one tool parameter.
type ToolParamInfo struct {
	Name        string `json:"name"`
	Type        string `json:"type"`
	Description string `json:"description,omitempty"`
	Required    bool   `json:"required,omitempty"`
}

// ToolsResponse is the response for GET /v1/tools.
type ToolsResponse struct {
	Tools []ToolInfo `json:"tools"`
	Total int        `json:"total"`
}

// HealthResponse is the response for GET /healthz.
type HealthResponse struct {
	// Status is "ok" when the service is serving.
	Status string `json:"status"`

	// Version is the service version.
	Version string `json:"version"`

	// Backend names the active model backend.
	Backend string `json:"backend"`

	// MemoryAvailable reports whether transcript recall is live.
	MemoryAvailable bool `json:"memory_available"`

	// QueueState is the persistence queue state: "idle" or
	// "draining".
	QueueState string `json:"queue_state"`

	// QueueDepth is the number of queued persistence operations.
	QueueDepth int `json:"queue_depth"`

	// Watching reports whether the vault watcher is running.
	Watching bool `json:"watching"`
}

// =============================================================================
// WebSocket Envelopes
// =============================================================================

// WSClientMessage is one message from a WebSocket chat client.
type WSClientMessage struct {
	// Type selects the message kind: "chat" or "confirm".
	Type string `json:"type"`

	// Message is the user's chat text, for "chat".
	Message string `json:"message,omitempty"`

	// ConfirmID echoes the pending confirmation, for "confirm".
	ConfirmID string `json:"confirm_id,omitempty"`

	// Approve is the user's decision, for "confirm".
	Approve bool `json:"approve,omitempty"`
}

// WSServerMessage is one message to a WebSocket chat client.
type WSServerMessage struct {
	// Type selects the message kind: "answer", "confirm_request",
	// "note_events", or "error".
	Type string `json:"type"`

	// Report carries the finished turn, for "answer".
	Report *TurnReport `json:"report,omitempty"`

	// ConfirmID identifies a pending confirmation, for
	// "confirm_request".
	ConfirmID string `json:"confirm_id,omitempty"`

	// ToolName names the tool awaiting approval.
	ToolName string `json:"tool_name,omitempty"`

	// Target is the resource the pending call touches.
	Target string `json:"target,omitempty"`

	// Events carries a vault change batch, for "note_events".
	Events []NoteEvent `json:"events,omitempty"`

	// Error is the failure message, for "error".
	Error string `json:"error,omitempty"`
}
