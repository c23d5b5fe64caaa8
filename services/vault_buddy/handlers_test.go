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
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"

	"github.com/AleutianAI/AleutianVault/pkg/extensions"
	"github.com/AleutianAI/AleutianVault/services/vault_buddy/llm"
	"github.com/AleutianAI/AleutianVault/services/vault_buddy/session"
)

func init() {
	// Set Gin to test mode to reduce noise
	gin.SetMode(gin.TestMode)
}

func doJSON(t *testing.T, router *gin.Engine, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != "" {
		reader = bytes.NewBufferString(body)
	}
	req, err := http.NewRequest(method, path, reader)
	if err != nil {
		t.Fatalf("NewRequest: %v", err)
	}
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func decodeJSON[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	if err := json.Unmarshal(w.Body.Bytes(), &out); err != nil {
		t.Fatalf("failed to unmarshal response %q: %v", w.Body.String(), err)
	}
	return out
}

func createSessionHTTP(t *testing.T, router *gin.Engine, title string) session.Session {
	t.Helper()
	body := ""
	if title != "" {
		body = fmt.Sprintf(`{"title": %q}`, title)
	}
	w := doJSON(t, router, "POST", "/v1/sessions", body)
	if w.Code != http.StatusCreated {
		t.Fatalf("create session status = %d, body %s", w.Code, w.Body.String())
	}
	return decodeJSON[session.Session](t, w)
}

func TestHandlers_HandleHealth(t *testing.T) {
	svc := newTestService(t)

	w := doJSON(t, svc.Router(), "GET", "/healthz", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusOK)
	}

	resp := decodeJSON[HealthResponse](t, w)
	if resp.Status != "ok" {
		t.Errorf("Status = %q, want ok", resp.Status)
	}
	if resp.Version != ServiceVersion {
		t.Errorf("Version = %q, want %q", resp.Version, ServiceVersion)
	}
	if resp.Backend != "local" {
		t.Errorf("Backend = %q, want local", resp.Backend)
	}
	if resp.MemoryAvailable {
		t.Error("MemoryAvailable = true without a memory URL")
	}
	if resp.QueueState != "idle" {
		t.Errorf("QueueState = %q, want idle", resp.QueueState)
	}
	if resp.Watching {
		t.Error("Watching = true with the watcher disabled")
	}
}

func TestHandlers_HandleCreateSession_DefaultTitle(t *testing.T) {
	svc := newTestService(t)

	sess := createSessionHTTP(t, svc.Router(), "")
	if sess.ID == "" {
		t.Error("expected non-empty session ID")
	}
	if sess.Kind != session.KindAgent {
		t.Errorf("Kind = %q, want %q", sess.Kind, session.KindAgent)
	}
	if !strings.HasPrefix(sess.Title, "Agent Session ") {
		t.Errorf("Title = %q, want dated default", sess.Title)
	}
	if sess.HistoryPath == "" {
		t.Error("expected history path to be assigned")
	}
}

func TestHandlers_HandleCreateSession_SanitizesTitle(t *testing.T) {
	svc := newTestService(t)

	sess := createSessionHTTP(t, svc.Router(), "Trip: Planning?")
	if sess.Title != "Trip- Planning-" {
		t.Errorf("Title = %q, want %q", sess.Title, "Trip- Planning-")
	}
}

func TestHandlers_HandleCreateSession_InvalidTitle(t *testing.T) {
	svc := newTestService(t)

	w := doJSON(t, svc.Router(), "POST", "/v1/sessions", `{"title": "   "}`)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusBadRequest)
	}
	resp := decodeJSON[ErrorResponse](t, w)
	if resp.Code != "INVALID_TITLE" {
		t.Errorf("Code = %q, want INVALID_TITLE", resp.Code)
	}
}

func TestHandlers_HandleNoteChat(t *testing.T) {
	svc := newTestService(t)
	writeVaultNote(t, svc, "projects/garden.md", "# Garden\n")

	w := doJSON(t, svc.Router(), "POST", "/v1/sessions/note-chat",
		`{"source_path": "projects/garden.md"}`)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", w.Code, w.Body.String())
	}
	sess := decodeJSON[session.Session](t, w)
	if sess.Kind != session.KindNoteChat {
		t.Errorf("Kind = %q, want %q", sess.Kind, session.KindNoteChat)
	}
	if sess.Title != "garden Chat" {
		t.Errorf("Title = %q, want %q", sess.Title, "garden Chat")
	}
	if sess.SourceNotePath != "projects/garden.md" {
		t.Errorf("SourceNotePath = %q", sess.SourceNotePath)
	}

	// The same note converges on the same session.
	w2 := doJSON(t, svc.Router(), "POST", "/v1/sessions/note-chat",
		`{"source_path": "projects/garden.md"}`)
	if w2.Code != http.StatusOK {
		t.Fatalf("repeat status = %d", w2.Code)
	}
	again := decodeJSON[session.Session](t, w2)
	if again.ID != sess.ID {
		t.Errorf("repeat ID = %q, want %q", again.ID, sess.ID)
	}
}

func TestHandlers_HandleNoteChat_InvalidRequest(t *testing.T) {
	svc := newTestService(t)

	tests := []struct {
		name       string
		body       string
		wantStatus int
		wantCode   string
	}{
		{
			name:       "missing source path",
			body:       "{}",
			wantStatus: http.StatusBadRequest,
			wantCode:   "INVALID_REQUEST",
		},
		{
			name:       "path traversal",
			body:       `{"source_path": "../outside.md"}`,
			wantStatus: http.StatusBadRequest,
			wantCode:   "INVALID_SOURCE_NOTE",
		},
		{
			name:       "absolute path",
			body:       `{"source_path": "/etc/notes.md"}`,
			wantStatus: http.StatusBadRequest,
			wantCode:   "INVALID_SOURCE_NOTE",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := doJSON(t, svc.Router(), "POST", "/v1/sessions/note-chat", tt.body)
			if w.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d", w.Code, tt.wantStatus)
			}
			resp := decodeJSON[ErrorResponse](t, w)
			if resp.Code != tt.wantCode {
				t.Errorf("Code = %q, want %q", resp.Code, tt.wantCode)
			}
		})
	}
}

func TestHandlers_HandleNoteChat_MissingNoteGetsPlaceholderSeed(t *testing.T) {
	svc := newTestService(t)

	// A chat may be opened for a note that does not exist yet; the
	// seed degrades to a pointer at the source path.
	w := doJSON(t, svc.Router(), "POST", "/v1/sessions/note-chat",
		`{"source_path": "drafts/unwritten.md"}`)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", w.Code, w.Body.String())
	}
	sess := decodeJSON[session.Session](t, w)

	hw := doJSON(t, svc.Router(), "GET", "/v1/sessions/"+sess.ID+"/history", "")
	resp := decodeJSON[HistoryResponse](t, hw)
	if len(resp.Records) != 1 {
		t.Fatalf("records = %d, want 1 placeholder seed", len(resp.Records))
	}
	if !strings.Contains(resp.Records[0].Body, "drafts/unwritten.md") {
		t.Errorf("seed body = %q, want source path reference", resp.Records[0].Body)
	}
}

func TestHandlers_HandleListSessions(t *testing.T) {
	svc := newTestService(t)
	createSessionHTTP(t, svc.Router(), "First")
	createSessionHTTP(t, svc.Router(), "Second")

	w := doJSON(t, svc.Router(), "GET", "/v1/sessions", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	resp := decodeJSON[SessionListResponse](t, w)
	if resp.Total != 2 || len(resp.Sessions) != 2 {
		t.Errorf("Total = %d, Sessions = %d, want 2 each", resp.Total, len(resp.Sessions))
	}
}

func TestHandlers_HandleGetSession(t *testing.T) {
	svc := newTestService(t)
	created := createSessionHTTP(t, svc.Router(), "Lookup Me")

	w := doJSON(t, svc.Router(), "GET", "/v1/sessions/"+created.ID, "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	sess := decodeJSON[session.Session](t, w)
	if sess.ID != created.ID || sess.Title != "Lookup Me" {
		t.Errorf("session = %+v", sess)
	}
}

func TestHandlers_HandleGetHistory_NoteChatSeed(t *testing.T) {
	svc := newTestService(t)
	writeVaultNote(t, svc, "ideas.md", "# Ideas\n\nBuild a birdhouse.\n")

	w := doJSON(t, svc.Router(), "POST", "/v1/sessions/note-chat",
		`{"source_path": "ideas.md"}`)
	sess := decodeJSON[session.Session](t, w)

	hw := doJSON(t, svc.Router(), "GET", "/v1/sessions/"+sess.ID+"/history", "")
	if hw.Code != http.StatusOK {
		t.Fatalf("status = %d", hw.Code)
	}
	resp := decodeJSON[HistoryResponse](t, hw)
	if resp.SessionID != sess.ID {
		t.Errorf("SessionID = %q, want %q", resp.SessionID, sess.ID)
	}
	if resp.Kind != string(session.KindNoteChat) {
		t.Errorf("Kind = %q", resp.Kind)
	}
	if len(resp.Records) == 0 {
		t.Fatal("expected seeded records in a fresh note chat")
	}
	if resp.Records[0].Role != "system" {
		t.Errorf("Records[0].Role = %q, want system", resp.Records[0].Role)
	}
}

func TestHandlers_HandleChat(t *testing.T) {
	svc := newTestService(t)
	svc.backend = &scriptedBackend{responses: []*llm.TurnResponse{
		{Content: "All quiet in the vault."},
	}}
	sess := createSessionHTTP(t, svc.Router(), "Chatty")

	w := doJSON(t, svc.Router(), "POST", "/v1/sessions/"+sess.ID+"/chat",
		`{"message": "status?"}`)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", w.Code, w.Body.String())
	}
	report := decodeJSON[TurnReport](t, w)
	if report.Answer != "All quiet in the vault." {
		t.Errorf("Answer = %q", report.Answer)
	}
	if report.SessionID != sess.ID {
		t.Errorf("SessionID = %q, want %q", report.SessionID, sess.ID)
	}
}

func TestHandlers_HandleChat_Errors(t *testing.T) {
	svc := newTestService(t)
	svc.backend = &scriptedBackend{err: fmt.Errorf("upstream down")}
	sess := createSessionHTTP(t, svc.Router(), "Broken")
	archived := createSessionHTTP(t, svc.Router(), "Shelved")
	if w := doJSON(t, svc.Router(), "POST", "/v1/sessions/"+archived.ID+"/archive", ""); w.Code != http.StatusOK {
		t.Fatalf("archive status = %d", w.Code)
	}
	oversized := fmt.Sprintf(`{"message": %q}`, strings.Repeat("a", MaxMessageBytes+1))

	tests := []struct {
		name       string
		path       string
		body       string
		wantStatus int
		wantCode   string
	}{
		{
			name:       "missing body",
			path:       "/v1/sessions/" + sess.ID + "/chat",
			body:       "",
			wantStatus: http.StatusBadRequest,
			wantCode:   "INVALID_REQUEST",
		},
		{
			name:       "oversized message",
			path:       "/v1/sessions/" + sess.ID + "/chat",
			body:       oversized,
			wantStatus: http.StatusBadRequest,
			wantCode:   "INVALID_REQUEST",
		},
		{
			name:       "unknown session",
			path:       "/v1/sessions/nope/chat",
			body:       `{"message": "hi"}`,
			wantStatus: http.StatusNotFound,
			wantCode:   "SESSION_NOT_FOUND",
		},
		{
			name:       "archived session",
			path:       "/v1/sessions/" + archived.ID + "/chat",
			body:       `{"message": "hi"}`,
			wantStatus: http.StatusConflict,
			wantCode:   "SESSION_ARCHIVED",
		},
		{
			name:       "backend failure",
			path:       "/v1/sessions/" + sess.ID + "/chat",
			body:       `{"message": "hi"}`,
			wantStatus: http.StatusBadGateway,
			wantCode:   "TURN_FAILED",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := doJSON(t, svc.Router(), "POST", tt.path, tt.body)
			if w.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d (body %s)", w.Code, tt.wantStatus, w.Body.String())
			}
			resp := decodeJSON[ErrorResponse](t, w)
			if resp.Code != tt.wantCode {
				t.Errorf("Code = %q, want %q", resp.Code, tt.wantCode)
			}
		})
	}
}

func TestHandlers_HandleRename(t *testing.T) {
	svc := newTestService(t)
	sess := createSessionHTTP(t, svc.Router(), "Old Name")

	w := doJSON(t, svc.Router(), "POST", "/v1/sessions/"+sess.ID+"/rename",
		`{"title": "Fresh: Start"}`)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", w.Code, w.Body.String())
	}
	renamed := decodeJSON[session.Session](t, w)
	if renamed.Title != "Fresh- Start" {
		t.Errorf("Title = %q, want %q", renamed.Title, "Fresh- Start")
	}
	if renamed.HistoryPath == sess.HistoryPath {
		t.Errorf("HistoryPath unchanged: %q", renamed.HistoryPath)
	}
	if !strings.Contains(renamed.HistoryPath, "Fresh- Start") {
		t.Errorf("HistoryPath = %q, want new title in path", renamed.HistoryPath)
	}
}

func TestHandlers_HandleClearHistory(t *testing.T) {
	svc := newTestService(t)
	svc.backend = &scriptedBackend{responses: []*llm.TurnResponse{
		{Content: "noted"},
	}}
	sess := createSessionHTTP(t, svc.Router(), "Wipe Me")

	if w := doJSON(t, svc.Router(), "POST", "/v1/sessions/"+sess.ID+"/chat",
		`{"message": "remember this"}`); w.Code != http.StatusOK {
		t.Fatalf("chat status = %d", w.Code)
	}

	w := doJSON(t, svc.Router(), "POST", "/v1/sessions/"+sess.ID+"/clear", "")
	if w.Code != http.StatusOK {
		t.Fatalf("clear status = %d, body %s", w.Code, w.Body.String())
	}

	hw := doJSON(t, svc.Router(), "GET", "/v1/sessions/"+sess.ID+"/history", "")
	resp := decodeJSON[HistoryResponse](t, hw)
	if len(resp.Records) != 0 {
		t.Errorf("records after clear = %d, want 0", len(resp.Records))
	}
}

func TestHandlers_HandlePermissions(t *testing.T) {
	svc := newTestService(t)
	sess := createSessionHTTP(t, svc.Router(), "Trusting")

	w := doJSON(t, svc.Router(), "PUT", "/v1/sessions/"+sess.ID+"/permissions",
		`{"allow_destructive": true, "allowed_tools": ["delete_note"]}`)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", w.Code, w.Body.String())
	}

	gw := doJSON(t, svc.Router(), "GET", "/v1/sessions/"+sess.ID, "")
	updated := decodeJSON[session.Session](t, gw)
	if !updated.Permissions.AllowDestructive {
		t.Error("AllowDestructive not persisted")
	}
	if len(updated.Permissions.AllowedTools) != 1 || updated.Permissions.AllowedTools[0] != "delete_note" {
		t.Errorf("AllowedTools = %v", updated.Permissions.AllowedTools)
	}
}

func TestHandlers_HandleOverrides(t *testing.T) {
	svc := newTestService(t)
	sess := createSessionHTTP(t, svc.Router(), "Tuned")

	w := doJSON(t, svc.Router(), "PUT", "/v1/sessions/"+sess.ID+"/model",
		`{"model": "gpt-5", "temperature": 0.2}`)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", w.Code, w.Body.String())
	}

	params := decodeJSON[session.ModelParams](t, w)
	if params.Model != "gpt-5" {
		t.Errorf("Model = %q, want gpt-5", params.Model)
	}
	if params.Temperature != 0.2 {
		t.Errorf("Temperature = %v, want 0.2", params.Temperature)
	}
	// Unset fields inherit the process defaults.
	if params.TopP != 1.0 {
		t.Errorf("TopP = %v, want inherited 1.0", params.TopP)
	}
}

func TestHandlers_HandleMetadata_LastWriteWins(t *testing.T) {
	svc := newTestService(t)
	sess := createSessionHTTP(t, svc.Router(), "Tagged")

	if w := doJSON(t, svc.Router(), "PATCH", "/v1/sessions/"+sess.ID+"/metadata",
		`{"metadata": {"tag": "work", "mood": "calm"}}`); w.Code != http.StatusOK {
		t.Fatalf("first patch status = %d", w.Code)
	}
	if w := doJSON(t, svc.Router(), "PATCH", "/v1/sessions/"+sess.ID+"/metadata",
		`{"metadata": {"tag": "personal"}}`); w.Code != http.StatusOK {
		t.Fatalf("second patch status = %d", w.Code)
	}

	gw := doJSON(t, svc.Router(), "GET", "/v1/sessions/"+sess.ID, "")
	updated := decodeJSON[session.Session](t, gw)
	if updated.Metadata["tag"] != "personal" {
		t.Errorf("tag = %q, want personal (last write wins)", updated.Metadata["tag"])
	}
	if updated.Metadata["mood"] != "calm" {
		t.Errorf("mood = %q, want calm (untouched key survives)", updated.Metadata["mood"])
	}
}

func TestHandlers_HandleAddContext(t *testing.T) {
	svc := newTestService(t)
	writeVaultNote(t, svc, "ref.md", "reference\n")
	sess := createSessionHTTP(t, svc.Router(), "Reader")

	w := doJSON(t, svc.Router(), "POST", "/v1/sessions/"+sess.ID+"/context",
		`{"path": "ref.md"}`)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", w.Code, w.Body.String())
	}

	gw := doJSON(t, svc.Router(), "GET", "/v1/sessions/"+sess.ID, "")
	updated := decodeJSON[session.Session](t, gw)
	if len(updated.Context) != 1 {
		t.Fatalf("context entries = %d, want 1", len(updated.Context))
	}
	if updated.Context[0].Path != "ref.md" {
		t.Errorf("Context[0].Path = %q", updated.Context[0].Path)
	}
	if updated.Context[0].Source != session.ContextManual {
		t.Errorf("Context[0].Source = %q, want manual", updated.Context[0].Source)
	}
}

func TestHandlers_HandleListTools(t *testing.T) {
	svc := newTestService(t)

	w := doJSON(t, svc.Router(), "GET", "/v1/tools", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	resp := decodeJSON[ToolsResponse](t, w)

	// Without a memory index the recall tool is not registered.
	if resp.Total != 8 {
		t.Errorf("Total = %d, want 8", resp.Total)
	}

	byName := make(map[string]ToolInfo, len(resp.Tools))
	for _, tool := range resp.Tools {
		byName[tool.Name] = tool
	}
	if got := byName["read_note"].Category; got != "read_only" {
		t.Errorf("read_note category = %q", got)
	}
	if got := byName["delete_note"].Category; got != "destructive" {
		t.Errorf("delete_note category = %q", got)
	}
	if got := byName["web_fetch"].Category; got != "network" {
		t.Errorf("web_fetch category = %q", got)
	}
	if len(byName["read_note"].Parameters) == 0 {
		t.Error("read_note should expose parameters")
	}
}

func TestHandlers_ArchiveExportImport(t *testing.T) {
	svc := newTestService(t)
	sess := createSessionHTTP(t, svc.Router(), "Archived Facts")

	pending, err := svc.sessions.AppendTurn(sess.ID, "user", "keep this safe")
	if err != nil {
		t.Fatalf("AppendTurn: %v", err)
	}
	if err := pending.Wait(context.Background()); err != nil {
		t.Fatalf("Wait: %v", err)
	}

	archivePath := filepath.Join(t.TempDir(), "history.tar.gz")
	body := fmt.Sprintf(`{"path": %q}`, archivePath)

	w := doJSON(t, svc.Router(), "POST", "/v1/archive/export", body)
	if w.Code != http.StatusOK {
		t.Fatalf("export status = %d, body %s", w.Code, w.Body.String())
	}
	exported := decodeJSON[ExportResponse](t, w)
	if exported.Files != 1 {
		t.Errorf("Files = %d, want 1", exported.Files)
	}
	if exported.ArchivePath != archivePath {
		t.Errorf("ArchivePath = %q", exported.ArchivePath)
	}

	// Importing right back: the live stream still matches its
	// checksum, so nothing is rewritten.
	iw := doJSON(t, svc.Router(), "POST", "/v1/archive/import", body)
	if iw.Code != http.StatusOK {
		t.Fatalf("import status = %d, body %s", iw.Code, iw.Body.String())
	}
	imported := decodeJSON[ImportResponse](t, iw)
	if imported.Total != 1 {
		t.Errorf("Total = %d, want 1", imported.Total)
	}
	if imported.Skipped != 1 || imported.Imported != 0 {
		t.Errorf("Skipped = %d, Imported = %d, want 1 and 0",
			imported.Skipped, imported.Imported)
	}
}

func TestHandlers_HandleExport_BadPath(t *testing.T) {
	svc := newTestService(t)

	w := doJSON(t, svc.Router(), "POST", "/v1/archive/export",
		`{"path": "/proc/nonexistent/out.tar.gz"}`)
	if w.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusInternalServerError)
	}
	resp := decodeJSON[ErrorResponse](t, w)
	if resp.Code != "EXPORT_FAILED" {
		t.Errorf("Code = %q, want EXPORT_FAILED", resp.Code)
	}
}

func TestHandlers_SessionNotFound(t *testing.T) {
	svc := newTestService(t)

	tests := []struct {
		name   string
		method string
		path   string
		body   string
	}{
		{"get", "GET", "/v1/sessions/nope", ""},
		{"history", "GET", "/v1/sessions/nope/history", ""},
		{"rename", "POST", "/v1/sessions/nope/rename", `{"title": "x"}`},
		{"clear", "POST", "/v1/sessions/nope/clear", ""},
		{"archive", "POST", "/v1/sessions/nope/archive", ""},
		{"permissions", "PUT", "/v1/sessions/nope/permissions", `{"allow_destructive": true}`},
		{"model", "PUT", "/v1/sessions/nope/model", `{"model": "m"}`},
		{"metadata", "PATCH", "/v1/sessions/nope/metadata", `{"metadata": {"a": "b"}}`},
		{"context", "POST", "/v1/sessions/nope/context", `{"path": "a.md"}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := doJSON(t, svc.Router(), tt.method, tt.path, tt.body)
			if w.Code != http.StatusNotFound {
				t.Errorf("status = %d, want %d (body %s)", w.Code, http.StatusNotFound, w.Body.String())
			}
			resp := decodeJSON[ErrorResponse](t, w)
			if resp.Code != "SESSION_NOT_FOUND" {
				t.Errorf("Code = %q, want SESSION_NOT_FOUND", resp.Code)
			}
		})
	}
}

func TestHandlers_RequestIDEcho(t *testing.T) {
	svc := newTestService(t)

	req, _ := http.NewRequest("POST", "/v1/sessions", nil)
	req.Header.Set("X-Request-ID", "req-12345")
	w := httptest.NewRecorder()
	svc.Router().ServeHTTP(w, req)

	if got := w.Header().Get("X-Request-ID"); got != "req-12345" {
		t.Errorf("X-Request-ID = %q, want echoed req-12345", got)
	}

	// Without a caller-provided ID one is generated.
	w2 := doJSON(t, svc.Router(), "POST", "/v1/sessions", "")
	if w2.Header().Get("X-Request-ID") == "" {
		t.Error("expected generated X-Request-ID header")
	}
}

func TestRegisterRoutes_MetricsDisabled(t *testing.T) {
	svc := newTestService(t)

	w := doJSON(t, svc.Router(), "GET", "/metrics", "")
	if w.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusNotFound)
	}
	resp := decodeJSON[ErrorResponse](t, w)
	if resp.Code != "METRICS_DISABLED" {
		t.Errorf("Code = %q, want METRICS_DISABLED", resp.Code)
	}
}

// rejectingAuth refuses every token, standing in for an enterprise
// authenticator with an expired credential.
type rejectingAuth struct{}

func (a *rejectingAuth) Authenticate(ctx context.Context, token string) (extensions.Principal, error) {
	return extensions.Principal{}, fmt.Errorf("token %q: %w", token, extensions.ErrTokenRejected)
}

// capturingAuth admits every request and remembers the last raw token
// it was handed.
type capturingAuth struct {
	lastToken string
}

func (a *capturingAuth) Authenticate(ctx context.Context, token string) (extensions.Principal, error) {
	a.lastToken = token
	return extensions.Principal{ID: "svc-account", Name: "Service Account"}, nil
}

func TestAuthMiddleware_RejectedTokenGets401(t *testing.T) {
	svc := newTestService(t, func(cfg *ServiceConfig) {
		cfg.Extensions = cfg.Extensions.WithTokenAuth(&rejectingAuth{})
	})

	w := doJSON(t, svc.Router(), "GET", "/v1/sessions", "")
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusUnauthorized)
	}
	resp := decodeJSON[ErrorResponse](t, w)
	if resp.Code != "UNAUTHORIZED" {
		t.Errorf("Code = %q, want UNAUTHORIZED", resp.Code)
	}
	if resp.Error != "authentication failed" {
		t.Errorf("Error = %q", resp.Error)
	}
}

func TestAuthMiddleware_StripsBearerPrefix(t *testing.T) {
	auth := &capturingAuth{}
	svc := newTestService(t, func(cfg *ServiceConfig) {
		cfg.Extensions = cfg.Extensions.WithTokenAuth(auth)
	})

	req, err := http.NewRequest("GET", "/v1/sessions", nil)
	if err != nil {
		t.Fatalf("NewRequest: %v", err)
	}
	req.Header.Set("Authorization", "Bearer tok-123")
	w := httptest.NewRecorder()
	svc.Router().ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusOK)
	}
	if auth.lastToken != "tok-123" {
		t.Errorf("lastToken = %q, want tok-123", auth.lastToken)
	}
}

func TestAuthMiddleware_DefaultAcceptsAnonymous(t *testing.T) {
	svc := newTestService(t)

	// No Authorization header at all; the local authenticator admits it.
	w := doJSON(t, svc.Router(), "GET", "/healthz", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusOK)
	}
}
