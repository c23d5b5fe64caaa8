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
	"errors"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/AleutianAI/AleutianVault/services/vault_buddy/agent/safety"
	"github.com/AleutianAI/AleutianVault/services/vault_buddy/session"
)

// Handlers contains the HTTP handlers for Vault Buddy.
type Handlers struct {
	svc *Service
}

// NewHandlers creates handlers for the given service.
func NewHandlers(svc *Service) *Handlers {
	return &Handlers{svc: svc}
}

// getOrCreateRequestID gets or creates a request ID.
func getOrCreateRequestID(c *gin.Context) string {
	requestID := c.GetHeader("X-Request-ID")
	if requestID == "" {
		requestID = uuid.NewString()
	}
	c.Header("X-Request-ID", requestID)
	return requestID
}

// sessionError maps session-layer failures onto HTTP status codes.
func sessionError(c *gin.Context, logger *slog.Logger, err error) {
	statusCode := http.StatusInternalServerError
	errCode := "SESSION_FAILED"

	switch {
	case errors.Is(err, session.ErrSessionNotFound):
		statusCode = http.StatusNotFound
		errCode = "SESSION_NOT_FOUND"
	case errors.Is(err, session.ErrInvalidTitle):
		statusCode = http.StatusBadRequest
		errCode = "INVALID_TITLE"
	case errors.Is(err, session.ErrInvalidSourceNote):
		statusCode = http.StatusBadRequest
		errCode = "INVALID_SOURCE_NOTE"
	case errors.Is(err, session.ErrSessionArchived):
		statusCode = http.StatusConflict
		errCode = "SESSION_ARCHIVED"
	}

	if statusCode == http.StatusInternalServerError {
		logger.Error("session operation failed", "error", err)
	} else {
		logger.Warn("session operation rejected", "error", err)
	}
	c.JSON(statusCode, ErrorResponse{Error: err.Error(), Code: errCode})
}

// HandleHealth handles GET /healthz.
//
// Response:
//
//	200 OK: HealthResponse
func (h *Handlers) HandleHealth(c *gin.Context) {
	memAvailable := h.svc.memory != nil && h.svc.memory.Available()
	watching := h.svc.watcher != nil && h.svc.watcher.IsWatching()

	c.JSON(http.StatusOK, HealthResponse{
		Status:          "ok",
		Version:         ServiceVersion,
		Backend:         h.svc.config.Backend,
		MemoryAvailable: memAvailable,
		QueueState:      h.svc.queue.State(),
		QueueDepth:      h.svc.queue.Depth(),
		Watching:        watching,
	})
}

// HandleCreateSession handles POST /v1/sessions.
//
// Description:
//
//	Creates an agent session. An empty title gets the dated default;
//	any title is sanitized before use.
//
// Request Body:
//
//	CreateSessionRequest
//
// Response:
//
//	201 Created: session.Session
//	400 Bad Request: title empty after sanitization
func (h *Handlers) HandleCreateSession(c *gin.Context) {
	requestID := getOrCreateRequestID(c)
	logger := slog.With("request_id", requestID, "handler", "HandleCreateSession")

	var req CreateSessionRequest
	if err := c.ShouldBindJSON(&req); err != nil && c.Request.ContentLength > 0 {
		logger.Warn("Invalid request body", "error", err)
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error: "Invalid request body",
			Code:  "INVALID_REQUEST",
		})
		return
	}

	sess, err := h.svc.sessions.CreateAgentSession(c.Request.Context(), req.Title)
	if err != nil {
		sessionError(c, logger, err)
		return
	}

	logger.Info("Session created", "session_id", sess.ID, "title", sess.Title)
	c.JSON(http.StatusCreated, sess)
}

// HandleNoteChat handles POST /v1/sessions/note-chat.
//
// Description:
//
//	Returns the note chat bound to the given source note, creating it
//	on first use. Note chats are one per note.
//
// Request Body:
//
//	NoteChatRequest
//
// Response:
//
//	200 OK: session.Session
//	400 Bad Request: unusable source path
func (h *Handlers) HandleNoteChat(c *gin.Context) {
	requestID := getOrCreateRequestID(c)
	logger := slog.With("request_id", requestID, "handler", "HandleNoteChat")

	var req NoteChatRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		logger.Warn("Invalid request body", "error", err)
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error: "Invalid request body",
			Code:  "INVALID_REQUEST",
		})
		return
	}

	sess, err := h.svc.sessions.CreateNoteChatSession(c.Request.Context(), req.SourcePath)
	if err != nil {
		sessionError(c, logger, err)
		return
	}

	logger.Info("Note chat ready", "session_id", sess.ID, "source", sess.SourceNotePath)
	c.JSON(http.StatusOK, sess)
}

// HandleListSessions handles GET /v1/sessions.
//
// Response:
//
//	200 OK: SessionListResponse
func (h *Handlers) HandleListSessions(c *gin.Context) {
	requestID := getOrCreateRequestID(c)
	logger := slog.With("request_id", requestID, "handler", "HandleListSessions")

	sessions, err := h.svc.sessions.ListSessions()
	if err != nil {
		sessionError(c, logger, err)
		return
	}

	c.JSON(http.StatusOK, SessionListResponse{
		Sessions: sessions,
		Total:    len(sessions),
	})
}

// HandleGetSession handles GET /v1/sessions/:id.
//
// Response:
//
//	200 OK: session.Session
//	404 Not Found: unknown session
func (h *Handlers) HandleGetSession(c *gin.Context) {
	requestID := getOrCreateRequestID(c)
	logger := slog.With("request_id", requestID, "handler", "HandleGetSession")

	sess, err := h.svc.sessions.GetSession(c.Param("id"))
	if err != nil {
		sessionError(c, logger, err)
		return
	}
	c.JSON(http.StatusOK, sess)
}

// HandleGetHistory handles GET /v1/sessions/:id/history.
//
// Response:
//
//	200 OK: HistoryResponse
//	404 Not Found: unknown session
func (h *Handlers) HandleGetHistory(c *gin.Context) {
	requestID := getOrCreateRequestID(c)
	logger := slog.With("request_id", requestID, "handler", "HandleGetHistory")

	id := c.Param("id")
	header, records, err := h.svc.sessions.History(id)
	if err != nil {
		sessionError(c, logger, err)
		return
	}

	c.JSON(http.StatusOK, HistoryResponse{
		SessionID: header.ID,
		Title:     header.Title,
		Kind:      header.Kind,
		Records:   historyRecords(records),
	})
}

// HandleChat handles POST /v1/sessions/:id/chat.
//
// Description:
//
//	Runs one synchronous chat turn. There is no interactive approval
//	path on this endpoint, so destructive tools execute only under a
//	standing session grant; everything else is skipped with a
//	permission result the model can relay. Interactive approval lives
//	on the WebSocket endpoint.
//
// Request Body:
//
//	ChatRequest
//
// Response:
//
//	200 OK: TurnReport
//	404 Not Found: unknown session
//	409 Conflict: archived session
//	502 Bad Gateway: model backend failure
func (h *Handlers) HandleChat(c *gin.Context) {
	requestID := getOrCreateRequestID(c)
	logger := slog.With("request_id", requestID, "handler", "HandleChat")

	var req ChatRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		logger.Warn("Invalid request body", "error", err)
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error: "Invalid request body",
			Code:  "INVALID_REQUEST",
		})
		return
	}

	id := c.Param("id")
	logger.Info("Chat turn started", "session_id", id, "message_len", len(req.Message))

	report, err := h.svc.RunTurn(c.Request.Context(), id, req.Message, nil)
	if err != nil {
		if errors.Is(err, session.ErrSessionNotFound) ||
			errors.Is(err, session.ErrSessionArchived) {
			sessionError(c, logger, err)
			return
		}
		logger.Error("Chat turn failed", "session_id", id, "error", err)
		c.JSON(http.StatusBadGateway, ErrorResponse{
			Error: err.Error(),
			Code:  "TURN_FAILED",
		})
		return
	}

	logger.Info("Chat turn finished",
		"session_id", id,
		"hops", report.Hops,
		"tool_calls", len(report.ToolResults),
		"loop_detected", report.LoopDetected,
	)
	c.JSON(http.StatusOK, report)
}

// HandleRename handles POST /v1/sessions/:id/rename.
//
// Request Body:
//
//	RenameRequest
//
// Response:
//
//	200 OK: session.Session (with its relocated history path)
//	400 Bad Request: title empty after sanitization
func (h *Handlers) HandleRename(c *gin.Context) {
	requestID := getOrCreateRequestID(c)
	logger := slog.With("request_id", requestID, "handler", "HandleRename")

	var req RenameRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		logger.Warn("Invalid request body", "error", err)
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error: "Invalid request body",
			Code:  "INVALID_REQUEST",
		})
		return
	}

	sess, err := h.svc.sessions.RenameSession(c.Request.Context(), c.Param("id"), req.Title)
	if err != nil {
		sessionError(c, logger, err)
		return
	}

	logger.Info("Session renamed", "session_id", sess.ID, "title", sess.Title)
	c.JSON(http.StatusOK, sess)
}

// HandleClearHistory handles POST /v1/sessions/:id/clear.
//
// Description:
//
//	Truncates the session's history stream back to its header and
//	drops the session from transcript memory.
//
// Response:
//
//	200 OK: {"status": "cleared"}
func (h *Handlers) HandleClearHistory(c *gin.Context) {
	requestID := getOrCreateRequestID(c)
	logger := slog.With("request_id", requestID, "handler", "HandleClearHistory")

	id := c.Param("id")
	if err := h.svc.sessions.ClearHistory(c.Request.Context(), id); err != nil {
		sessionError(c, logger, err)
		return
	}

	if h.svc.memory != nil && h.svc.memory.Available() {
		if err := h.svc.memory.ForgetSession(c.Request.Context(), id); err != nil {
			logger.Warn("Failed to drop session from memory", "session_id", id, "error", err)
		}
	}

	logger.Info("History cleared", "session_id", id)
	c.JSON(http.StatusOK, gin.H{"status": "cleared"})
}

// HandleArchive handles POST /v1/sessions/:id/archive.
//
// Description:
//
//	Archives the session. Archived sessions are retained and
//	readable; they never get deleted.
//
// Response:
//
//	200 OK: {"status": "archived"}
func (h *Handlers) HandleArchive(c *gin.Context) {
	requestID := getOrCreateRequestID(c)
	logger := slog.With("request_id", requestID, "handler", "HandleArchive")

	id := c.Param("id")
	if err := h.svc.sessions.ArchiveSession(c.Request.Context(), id); err != nil {
		sessionError(c, logger, err)
		return
	}

	logger.Info("Session archived", "session_id", id)
	c.JSON(http.StatusOK, gin.H{"status": "archived"})
}

// HandlePermissions handles PUT /v1/sessions/:id/permissions.
//
// Request Body:
//
//	GrantsRequest
//
// Response:
//
//	200 OK: {"status": "updated"}
func (h *Handlers) HandlePermissions(c *gin.Context) {
	requestID := getOrCreateRequestID(c)
	logger := slog.With("request_id", requestID, "handler", "HandlePermissions")

	var req GrantsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		logger.Warn("Invalid request body", "error", err)
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error: "Invalid request body",
			Code:  "INVALID_REQUEST",
		})
		return
	}

	err := h.svc.sessions.SetPermissions(c.Request.Context(), c.Param("id"), safety.Grants{
		AllowDestructive: req.AllowDestructive,
		AllowedTools:     req.AllowedTools,
	})
	if err != nil {
		sessionError(c, logger, err)
		return
	}

	logger.Info("Permissions updated",
		"session_id", c.Param("id"),
		"allow_destructive", req.AllowDestructive,
		"allowed_tools", len(req.AllowedTools),
	)
	c.JSON(http.StatusOK, gin.H{"status": "updated"})
}

// HandleOverrides handles PUT /v1/sessions/:id/model.
//
// Description:
//
//	Replaces the session's model overrides. Nil fields inherit the
//	process-wide defaults, field by field.
//
// Request Body:
//
//	session.ModelOverrides
//
// Response:
//
//	200 OK: the resolved session.ModelParams
func (h *Handlers) HandleOverrides(c *gin.Context) {
	requestID := getOrCreateRequestID(c)
	logger := slog.With("request_id", requestID, "handler", "HandleOverrides")

	var overrides session.ModelOverrides
	if err := c.ShouldBindJSON(&overrides); err != nil {
		logger.Warn("Invalid request body", "error", err)
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error: "Invalid request body",
			Code:  "INVALID_REQUEST",
		})
		return
	}

	id := c.Param("id")
	if err := h.svc.sessions.SetOverrides(c.Request.Context(), id, &overrides); err != nil {
		sessionError(c, logger, err)
		return
	}
	params, err := h.svc.sessions.ResolveModelParams(id)
	if err != nil {
		sessionError(c, logger, err)
		return
	}

	logger.Info("Model overrides updated", "session_id", id, "model", params.Model)
	c.JSON(http.StatusOK, params)
}

// HandleMetadata handles PATCH /v1/sessions/:id/metadata.
//
// Request Body:
//
//	MetadataRequest
//
// Response:
//
//	200 OK: {"status": "merged"}
func (h *Handlers) HandleMetadata(c *gin.Context) {
	requestID := getOrCreateRequestID(c)
	logger := slog.With("request_id", requestID, "handler", "HandleMetadata")

	var req MetadataRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		logger.Warn("Invalid request body", "error", err)
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error: "Invalid request body",
			Code:  "INVALID_REQUEST",
		})
		return
	}

	if err := h.svc.sessions.MergeMetadata(c.Request.Context(), c.Param("id"), req.Metadata); err != nil {
		sessionError(c, logger, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "merged"})
}

// HandleAddContext handles POST /v1/sessions/:id/context.
//
// Request Body:
//
//	ContextFileRequest
//
// Response:
//
//	200 OK: {"status": "added"}
func (h *Handlers) HandleAddContext(c *gin.Context) {
	requestID := getOrCreateRequestID(c)
	logger := slog.With("request_id", requestID, "handler", "HandleAddContext")

	var req ContextFileRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		logger.Warn("Invalid request body", "error", err)
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error: "Invalid request body",
			Code:  "INVALID_REQUEST",
		})
		return
	}

	err := h.svc.sessions.AddContextFile(c.Request.Context(), c.Param("id"),
		req.Path, session.ContextManual)
	if err != nil {
		sessionError(c, logger, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "added"})
}

// HandleListTools handles GET /v1/tools.
//
// Response:
//
//	200 OK: ToolsResponse
func (h *Handlers) HandleListTools(c *gin.Context) {
	defs := h.svc.registry.List()
	infos := make([]ToolInfo, 0, len(defs))
	for _, def := range defs {
		params := make([]ToolParamInfo, 0, len(def.Schema.Params))
		for _, p := range def.Schema.Params {
			params = append(params, ToolParamInfo{
				Name:        p.Name,
				Type:        p.Type,
				Description: p.Description,
				Required:    p.Required,
			})
		}
		infos = append(infos, ToolInfo{
			Name:        def.Name,
			Description: def.Description,
			Category:    string(def.Category),
			Parameters:  params,
		})
	}
	c.JSON(http.StatusOK, ToolsResponse{Tools: infos, Total: len(infos)})
}

// HandleExport handles POST /v1/archive/export.
//
// Description:
//
//	Writes every history stream into a tar.gz archive and records
//	per-stream checksums in the export ledger. A later import skips
//	streams whose live checksum still matches.
//
// Request Body:
//
//	ArchivePathRequest
//
// Response:
//
//	200 OK: ExportResponse
func (h *Handlers) HandleExport(c *gin.Context) {
	requestID := getOrCreateRequestID(c)
	logger := slog.With("request_id", requestID, "handler", "HandleExport")

	var req ArchivePathRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		logger.Warn("Invalid request body", "error", err)
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error: "Invalid request body",
			Code:  "INVALID_REQUEST",
		})
		return
	}

	report, err := h.svc.sessions.ExportHistory(c.Request.Context(), req.Path)
	if err != nil {
		logger.Error("Export failed", "path", req.Path, "error", err)
		c.JSON(http.StatusInternalServerError, ErrorResponse{
			Error: err.Error(),
			Code:  "EXPORT_FAILED",
		})
		return
	}

	logger.Info("Export complete", "path", report.ArchivePath, "files", report.Files)
	c.JSON(http.StatusOK, ExportResponse{
		ArchivePath: report.ArchivePath,
		Files:       report.Files,
		Bytes:       report.Bytes,
	})
}

// HandleImport handles POST /v1/archive/import.
//
// Description:
//
//	Restores history streams from an archive. Unchanged streams are
//	skipped without any writes; a stream whose clear step fails is
//	aborted on its own and reported in Failures.
//
// Request Body:
//
//	ArchivePathRequest
//
// Response:
//
//	200 OK: ImportResponse
func (h *Handlers) HandleImport(c *gin.Context) {
	requestID := getOrCreateRequestID(c)
	logger := slog.With("request_id", requestID, "handler", "HandleImport")

	var req ArchivePathRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		logger.Warn("Invalid request body", "error", err)
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error: "Invalid request body",
			Code:  "INVALID_REQUEST",
		})
		return
	}

	report, err := h.svc.sessions.ImportHistory(c.Request.Context(), req.Path)
	if err != nil {
		logger.Error("Import failed", "path", req.Path, "error", err)
		c.JSON(http.StatusInternalServerError, ErrorResponse{
			Error: err.Error(),
			Code:  "IMPORT_FAILED",
		})
		return
	}

	failures := make([]ImportFailureInfo, 0, len(report.Failures))
	for _, f := range report.Failures {
		failures = append(failures, ImportFailureInfo{Path: f.Path, Reason: f.Reason})
	}

	logger.Info("Import complete",
		"total", report.Total,
		"imported", report.Imported,
		"skipped", report.Skipped,
		"failed", report.Failed(),
	)
	c.JSON(http.StatusOK, ImportResponse{
		Total:    report.Total,
		Imported: report.Imported,
		Skipped:  report.Skipped,
		Failures: failures,
	})
}
