// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package main contains the HTTP client for the Vault Buddy server API.
//
// The structs here mirror the server's wire types field for field so the
// CLI stays decoupled from the service packages. If a response shape
// changes server-side, update the mirror here in the same commit.
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"
)

// defaultServerURL is where a locally started vaultbuddy listens.
const defaultServerURL = "http://localhost:12310"

// resolveServerBaseURL returns the server base URL without a trailing
// slash. Precedence: --server flag, VAULTBUDDY_URL, built-in default.
func resolveServerBaseURL() string {
	if serverURL != "" {
		return strings.TrimRight(serverURL, "/")
	}
	if env := os.Getenv("VAULTBUDDY_URL"); env != "" {
		return strings.TrimRight(env, "/")
	}
	return defaultServerURL
}

// =============================================================================
// Wire Mirrors
// =============================================================================

// SessionGrants mirrors the server's standing permission grants.
type SessionGrants struct {
	AllowDestructive bool     `json:"allow_destructive"`
	AllowedTools     []string `json:"allowed_tools,omitempty"`
}

// ContextFileInfo mirrors one pinned context note.
type ContextFileInfo struct {
	Path    string    `json:"path"`
	Source  string    `json:"source"`
	AddedAt time.Time `json:"added_at"`
}

// SessionInfo mirrors one session record.
type SessionInfo struct {
	ID             string            `json:"id"`
	Kind           string            `json:"kind"`
	Title          string            `json:"title"`
	HistoryPath    string            `json:"history_path"`
	SourceNotePath string            `json:"source_note_path,omitempty"`
	Context        []ContextFileInfo `json:"context,omitempty"`
	Overrides      *ModelOverrides   `json:"overrides,omitempty"`
	Permissions    SessionGrants     `json:"permissions"`
	Metadata       map[string]string `json:"metadata,omitempty"`
	Archived       bool              `json:"archived,omitempty"`
	CreatedAt      time.Time         `json:"created_at"`
	UpdatedAt      time.Time         `json:"updated_at"`
}

// SessionList mirrors the list response.
type SessionList struct {
	Sessions []SessionInfo `json:"sessions"`
	Total    int           `json:"total"`
}

// HistoryEntry mirrors one transcript record.
type HistoryEntry struct {
	Role      string    `json:"role"`
	Timestamp time.Time `json:"timestamp"`
	Body      string    `json:"body"`
}

// SessionHistory mirrors the history response.
type SessionHistory struct {
	SessionID string         `json:"session_id"`
	Title     string         `json:"title"`
	Kind      string         `json:"kind"`
	Records   []HistoryEntry `json:"records"`
}

// ToolResultInfo mirrors one tool call outcome inside a turn.
type ToolResultInfo struct {
	CallID       string `json:"call_id"`
	ToolName     string `json:"tool_name"`
	Status       string `json:"status"`
	ErrorMessage string `json:"error_message,omitempty"`
}

// TokenUsage mirrors the turn's token accounting.
type TokenUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// TurnReport mirrors the server's finished-turn report.
type TurnReport struct {
	SessionID     string           `json:"session_id"`
	Answer        string           `json:"answer"`
	Hops          int              `json:"hops"`
	ToolResults   []ToolResultInfo `json:"tool_results,omitempty"`
	LoopDetected  bool             `json:"loop_detected,omitempty"`
	Halted        bool             `json:"halted,omitempty"`
	HopsExhausted bool             `json:"hops_exhausted,omitempty"`
	Usage         TokenUsage       `json:"usage"`
}

// ToolParameter mirrors one tool argument description.
type ToolParameter struct {
	Name        string `json:"name"`
	Type        string `json:"type"`
	Description string `json:"description,omitempty"`
	Required    bool   `json:"required,omitempty"`
}

// ToolEntry mirrors one registered tool.
type ToolEntry struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Category    string          `json:"category"`
	Parameters  []ToolParameter `json:"parameters,omitempty"`
}

// ToolList mirrors the tool listing response.
type ToolList struct {
	Tools []ToolEntry `json:"tools"`
	Total int         `json:"total"`
}

// ServerHealth mirrors the health endpoint response.
type ServerHealth struct {
	Status          string `json:"status"`
	Version         string `json:"version"`
	Backend         string `json:"backend"`
	MemoryAvailable bool   `json:"memory_available"`
	QueueState      string `json:"queue_state"`
	QueueDepth      int    `json:"queue_depth"`
	Watching        bool   `json:"watching"`
}

// ModelParams mirrors the resolved per-session model settings.
type ModelParams struct {
	Model          string  `json:"model"`
	Temperature    float64 `json:"temperature"`
	TopP           float64 `json:"top_p"`
	PromptTemplate string  `json:"prompt_template"`
}

// ModelOverrides mirrors the per-session override request. Nil fields
// inherit the server defaults.
type ModelOverrides struct {
	Model          *string  `json:"model,omitempty"`
	Temperature    *float64 `json:"temperature,omitempty"`
	TopP           *float64 `json:"top_p,omitempty"`
	PromptTemplate *string  `json:"prompt_template,omitempty"`
}

// ExportResult mirrors the archive export response.
type ExportResult struct {
	ArchivePath string `json:"archive_path"`
	Files       int    `json:"files"`
	Bytes       int64  `json:"bytes"`
}

// ImportFailure mirrors one stream the import left untouched.
type ImportFailure struct {
	Path   string `json:"path"`
	Reason string `json:"reason"`
}

// ImportResult mirrors the archive import response.
type ImportResult struct {
	Total    int             `json:"total"`
	Imported int             `json:"imported"`
	Skipped  int             `json:"skipped"`
	Failures []ImportFailure `json:"failures,omitempty"`
}

// =============================================================================
// Client
// =============================================================================

// apiClient is a thin typed wrapper over the server's REST API.
//
// Thread Safety: safe for concurrent use; it holds no per-request state.
type apiClient struct {
	baseURL string
	http    *http.Client
}

// newAPIClient creates a client for the given base URL. Per-call
// deadlines come from the caller's context, not a client-wide timeout.
func newAPIClient(baseURL string) *apiClient {
	return &apiClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{},
	}
}

// do sends one JSON request and decodes the response into out when the
// status matches. Any other status becomes an error carrying the
// server's message.
func (c *apiClient) do(ctx context.Context, method, path string, body, out any, wantStatus int) error {
	var reqBody io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		reqBody = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reqBody)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("failed to reach server at %s: %w", c.baseURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != wantStatus {
		return decodeErrorBody(resp)
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to parse server response: %w", err)
	}
	return nil
}

// decodeErrorBody turns a non-success response into an error. It
// prefers the server's structured error payload and falls back to the
// raw body.
func decodeErrorBody(resp *http.Response) error {
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 8192))
	var apiErr struct {
		Error string `json:"error"`
		Code  string `json:"code"`
	}
	if err := json.Unmarshal(raw, &apiErr); err == nil && apiErr.Error != "" {
		if apiErr.Code != "" {
			return fmt.Errorf("%s (%s)", apiErr.Error, apiErr.Code)
		}
		return fmt.Errorf("%s", apiErr.Error)
	}
	return fmt.Errorf("server returned an error (status %d): %s", resp.StatusCode, strings.TrimSpace(string(raw)))
}

// Health fetches the server health report.
func (c *apiClient) Health(ctx context.Context) (*ServerHealth, error) {
	var out ServerHealth
	if err := c.do(ctx, http.MethodGet, "/healthz", nil, &out, http.StatusOK); err != nil {
		return nil, err
	}
	return &out, nil
}

// CreateSession creates a fresh agent session. An empty title gets the
// server's dated default.
func (c *apiClient) CreateSession(ctx context.Context, title string) (*SessionInfo, error) {
	var out SessionInfo
	body := map[string]string{"title": title}
	if err := c.do(ctx, http.MethodPost, "/v1/sessions", body, &out, http.StatusCreated); err != nil {
		return nil, err
	}
	return &out, nil
}

// CreateNoteChat creates or resumes the note chat session bound to the
// given vault note.
func (c *apiClient) CreateNoteChat(ctx context.Context, sourcePath string) (*SessionInfo, error) {
	var out SessionInfo
	body := map[string]string{"source_path": sourcePath}
	if err := c.do(ctx, http.MethodPost, "/v1/sessions/note-chat", body, &out, http.StatusOK); err != nil {
		return nil, err
	}
	return &out, nil
}

// ListSessions fetches every session, active first.
func (c *apiClient) ListSessions(ctx context.Context) (*SessionList, error) {
	var out SessionList
	if err := c.do(ctx, http.MethodGet, "/v1/sessions", nil, &out, http.StatusOK); err != nil {
		return nil, err
	}
	return &out, nil
}

// GetSession fetches one session by ID.
func (c *apiClient) GetSession(ctx context.Context, id string) (*SessionInfo, error) {
	var out SessionInfo
	if err := c.do(ctx, http.MethodGet, "/v1/sessions/"+id, nil, &out, http.StatusOK); err != nil {
		return nil, err
	}
	return &out, nil
}

// GetHistory fetches a session's full transcript.
func (c *apiClient) GetHistory(ctx context.Context, id string) (*SessionHistory, error) {
	var out SessionHistory
	if err := c.do(ctx, http.MethodGet, "/v1/sessions/"+id+"/history", nil, &out, http.StatusOK); err != nil {
		return nil, err
	}
	return &out, nil
}

// SendChat runs one chat turn over plain HTTP. Destructive tools only
// run under standing grants here; interactive approval needs the
// WebSocket transport.
func (c *apiClient) SendChat(ctx context.Context, id, message string) (*TurnReport, error) {
	var out TurnReport
	body := map[string]string{"message": message}
	if err := c.do(ctx, http.MethodPost, "/v1/sessions/"+id+"/chat", body, &out, http.StatusOK); err != nil {
		return nil, err
	}
	return &out, nil
}

// RenameSession retitles a session. The server relocates the history
// file and returns the updated record.
func (c *apiClient) RenameSession(ctx context.Context, id, title string) (*SessionInfo, error) {
	var out SessionInfo
	body := map[string]string{"title": title}
	if err := c.do(ctx, http.MethodPost, "/v1/sessions/"+id+"/rename", body, &out, http.StatusOK); err != nil {
		return nil, err
	}
	return &out, nil
}

// ClearHistory erases a session's conversation history.
func (c *apiClient) ClearHistory(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodPost, "/v1/sessions/"+id+"/clear", nil, nil, http.StatusOK)
}

// ArchiveSession marks a session archived. Archived sessions keep
// their history but leave the active list.
func (c *apiClient) ArchiveSession(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodPost, "/v1/sessions/"+id+"/archive", nil, nil, http.StatusOK)
}

// SetGrants replaces a session's standing tool permissions.
func (c *apiClient) SetGrants(ctx context.Context, id string, grants SessionGrants) error {
	return c.do(ctx, http.MethodPut, "/v1/sessions/"+id+"/permissions", grants, nil, http.StatusOK)
}

// SetModelOverrides replaces a session's model overrides and returns
// the resolved effective parameters.
func (c *apiClient) SetModelOverrides(ctx context.Context, id string, ov ModelOverrides) (*ModelParams, error) {
	var out ModelParams
	if err := c.do(ctx, http.MethodPut, "/v1/sessions/"+id+"/model", ov, &out, http.StatusOK); err != nil {
		return nil, err
	}
	return &out, nil
}

// MergeMetadata merges tags into a session's metadata, last write wins
// per key.
func (c *apiClient) MergeMetadata(ctx context.Context, id string, metadata map[string]string) error {
	body := map[string]any{"metadata": metadata}
	return c.do(ctx, http.MethodPatch, "/v1/sessions/"+id+"/metadata", body, nil, http.StatusOK)
}

// AddContext pins a vault note into a session's context set.
func (c *apiClient) AddContext(ctx context.Context, id, notePath string) error {
	body := map[string]string{"path": notePath}
	return c.do(ctx, http.MethodPost, "/v1/sessions/"+id+"/context", body, nil, http.StatusOK)
}

// ListTools fetches the server's registered agent tools.
func (c *apiClient) ListTools(ctx context.Context) (*ToolList, error) {
	var out ToolList
	if err := c.do(ctx, http.MethodGet, "/v1/tools", nil, &out, http.StatusOK); err != nil {
		return nil, err
	}
	return &out, nil
}

// ExportArchive asks the server to write a history archive at the
// given server-local path.
func (c *apiClient) ExportArchive(ctx context.Context, path string) (*ExportResult, error) {
	var out ExportResult
	body := map[string]string{"path": path}
	if err := c.do(ctx, http.MethodPost, "/v1/archive/export", body, &out, http.StatusOK); err != nil {
		return nil, err
	}
	return &out, nil
}

// ImportArchive asks the server to import the archive at the given
// server-local path, replacing changed history streams.
func (c *apiClient) ImportArchive(ctx context.Context, path string) (*ImportResult, error) {
	var out ImportResult
	body := map[string]string{"path": path}
	if err := c.do(ctx, http.MethodPost, "/v1/archive/import", body, &out, http.StatusOK); err != nil {
		return nil, err
	}
	return &out, nil
}
