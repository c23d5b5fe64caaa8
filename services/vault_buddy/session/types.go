// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package session

import (
	"time"

	"github.com/AleutianAI/AleutianVault/services/vault_buddy/agent/safety"
)

// ===== Session Kinds =====

// Kind distinguishes freestanding agent sessions from note chats.
type Kind string

const (
	// KindAgent is a freestanding conversation.
	KindAgent Kind = "agent"

	// KindNoteChat is anchored to a source note; at most one note
	// chat exists per source.
	KindNoteChat Kind = "note_chat"
)

// Valid reports whether the kind is a known variant.
func (k Kind) Valid() bool {
	return k == KindAgent || k == KindNoteChat
}

// ===== Context Files =====

// ContextSource records how a file entered the session context.
type ContextSource string

const (
	// ContextAuto marks files the system attached, such as the
	// source note of a note chat.
	ContextAuto ContextSource = "auto"

	// ContextManual marks files the user attached explicitly.
	ContextManual ContextSource = "manual"
)

// ContextFile is one vault file attached to a session's context.
type ContextFile struct {
	// Path is the vault-relative file path.
	Path string `json:"path"`

	// Source records whether the file was auto-added or added by
	// the user.
	Source ContextSource `json:"source"`

	// AddedAt is when the file joined the context.
	AddedAt time.Time `json:"added_at"`
}

// ===== Model Configuration =====

// ModelParams are the resolved model settings for a turn.
type ModelParams struct {
	// Model is the backend model identifier.
	Model string `json:"model" yaml:"model"`

	// Temperature is the sampling temperature.
	Temperature float64 `json:"temperature" yaml:"temperature"`

	// TopP is the nucleus sampling cutoff.
	TopP float64 `json:"top_p" yaml:"top_p"`

	// PromptTemplate names the system prompt template.
	PromptTemplate string `json:"prompt_template" yaml:"prompt_template"`
}

// ModelOverrides is a partial override of ModelParams. A nil field
// inherits the process-wide default; resolution is per-field, with no
// deeper merging.
type ModelOverrides struct {
	Model          *string  `json:"model,omitempty"`
	Temperature    *float64 `json:"temperature,omitempty"`
	TopP           *float64 `json:"top_p,omitempty"`
	PromptTemplate *string  `json:"prompt_template,omitempty"`
}

// Resolve applies the overrides on top of defaults, field by field.
func (o *ModelOverrides) Resolve(defaults ModelParams) ModelParams {
	out := defaults
	if o == nil {
		return out
	}
	if o.Model != nil {
		out.Model = *o.Model
	}
	if o.Temperature != nil {
		out.Temperature = *o.Temperature
	}
	if o.TopP != nil {
		out.TopP = *o.TopP
	}
	if o.PromptTemplate != nil {
		out.PromptTemplate = *o.PromptTemplate
	}
	return out
}

// ===== Session =====

// Session is one persisted conversation thread.
type Session struct {
	// ID is the stable session identifier.
	ID string `json:"id"`

	// Kind is the session variant.
	Kind Kind `json:"kind"`

	// Title is the sanitized display title.
	Title string `json:"title"`

	// HistoryPath is the store-relative history stream path. Unique
	// across all sessions.
	HistoryPath string `json:"history_path"`

	// SourceNotePath is the vault-relative path of the anchoring
	// note. Empty for agent sessions.
	SourceNotePath string `json:"source_note_path,omitempty"`

	// Context lists the files attached to this session.
	Context []ContextFile `json:"context,omitempty"`

	// Overrides carries per-session model settings. Nil means all
	// defaults.
	Overrides *ModelOverrides `json:"overrides,omitempty"`

	// Permissions holds session-scoped grants consulted by the
	// destructive-action gate.
	Permissions safety.Grants `json:"permissions"`

	// Metadata holds free-form string tags. Merges are last-write-
	// wins per key.
	Metadata map[string]string `json:"metadata,omitempty"`

	// Archived sessions are retained but no longer active.
	Archived bool `json:"archived,omitempty"`

	// CreatedAt is when the session was created.
	CreatedAt time.Time `json:"created_at"`

	// UpdatedAt advances on every mutation and appended turn.
	UpdatedAt time.Time `json:"updated_at"`
}

// Clone returns a deep copy. The manager hands clones to callers so
// its internal state cannot be mutated outside the lock.
func (s *Session) Clone() *Session {
	out := *s
	if s.Context != nil {
		out.Context = make([]ContextFile, len(s.Context))
		copy(out.Context, s.Context)
	}
	if s.Metadata != nil {
		out.Metadata = make(map[string]string, len(s.Metadata))
		for k, v := range s.Metadata {
			out.Metadata[k] = v
		}
	}
	if s.Overrides != nil {
		o := ModelOverrides{}
		if s.Overrides.Model != nil {
			v := *s.Overrides.Model
			o.Model = &v
		}
		if s.Overrides.Temperature != nil {
			v := *s.Overrides.Temperature
			o.Temperature = &v
		}
		if s.Overrides.TopP != nil {
			v := *s.Overrides.TopP
			o.TopP = &v
		}
		if s.Overrides.PromptTemplate != nil {
			v := *s.Overrides.PromptTemplate
			o.PromptTemplate = &v
		}
		out.Overrides = &o
	}
	if s.Permissions.AllowedTools != nil {
		out.Permissions.AllowedTools = append([]string(nil), s.Permissions.AllowedTools...)
	}
	return &out
}

// mergeMetadata applies updates onto the session's metadata map.
// Later writes win per key.
func (s *Session) mergeMetadata(updates map[string]string) {
	if len(updates) == 0 {
		return
	}
	if s.Metadata == nil {
		s.Metadata = make(map[string]string, len(updates))
	}
	for k, v := range updates {
		s.Metadata[k] = v
	}
}

// hasContextFile reports whether path is already attached.
func (s *Session) hasContextFile(path string) bool {
	for _, f := range s.Context {
		if f.Path == path {
			return true
		}
	}
	return false
}
