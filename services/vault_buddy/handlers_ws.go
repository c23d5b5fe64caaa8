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
	"context"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/AleutianAI/AleutianVault/services/vault_buddy/agent/safety"
)

// confirmTimeout bounds how long a destructive call waits for the
// user's decision. An expired wait counts as a denial, not an error.
const confirmTimeout = 60 * time.Second

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		// The service binds to localhost; cross-origin browsers on the
		// same machine are the expected clients.
		return true
	},
	ReadBufferSize:  64 * 1024,
	WriteBufferSize: 64 * 1024,
}

// wsSession is the per-connection state for a chat socket: the write
// lock (gorilla allows one concurrent writer) and the table of
// confirmations awaiting a decision.
type wsSession struct {
	ws     *websocket.Conn
	logger *slog.Logger

	writeMu sync.Mutex

	pendingMu sync.Mutex
	pending   map[string]chan bool

	turnBusy atomic.Bool
}

func newWSSession(ws *websocket.Conn, logger *slog.Logger) *wsSession {
	return &wsSession{
		ws:      ws,
		logger:  logger,
		pending: make(map[string]chan bool),
	}
}

// send writes one message under the connection's write lock.
func (w *wsSession) send(msg WSServerMessage) error {
	w.writeMu.Lock()
	defer w.writeMu.Unlock()
	if err := w.ws.WriteJSON(msg); err != nil {
		w.logger.Warn("Failed to write WebSocket JSON", "error", err)
		return err
	}
	return nil
}

// resolve delivers a user's decision to the waiting confirmation.
// Unknown or already-resolved IDs are ignored.
func (w *wsSession) resolve(confirmID string, approve bool) {
	w.pendingMu.Lock()
	ch, ok := w.pending[confirmID]
	if ok {
		delete(w.pending, confirmID)
	}
	w.pendingMu.Unlock()
	if ok {
		ch <- approve
	}
}

// confirmFunc builds the gate callback for this connection: it pushes
// a confirm_request frame and blocks until the client answers, the
// context ends, or the wait times out.
func (w *wsSession) confirmFunc() safety.ConfirmFunc {
	return func(ctx context.Context, req safety.Request) (bool, error) {
		confirmID := uuid.NewString()
		ch := make(chan bool, 1)

		w.pendingMu.Lock()
		w.pending[confirmID] = ch
		w.pendingMu.Unlock()
		defer func() {
			w.pendingMu.Lock()
			delete(w.pending, confirmID)
			w.pendingMu.Unlock()
		}()

		err := w.send(WSServerMessage{
			Type:      "confirm_request",
			ConfirmID: confirmID,
			ToolName:  req.ToolName,
			Target:    req.Target,
		})
		if err != nil {
			return false, err
		}

		select {
		case approve := <-ch:
			return approve, nil
		case <-ctx.Done():
			return false, ctx.Err()
		case <-time.After(confirmTimeout):
			w.logger.Info("Confirmation timed out, treating as denial",
				"confirm_id", confirmID, "tool", req.ToolName)
			return false, nil
		}
	}
}

// HandleChatSocket handles GET /v1/sessions/:id/chat/ws.
//
// Description:
//
//	Upgrades to a WebSocket and runs chat turns for the session. The
//	client sends {"type":"chat","message":...} frames; each finished
//	turn comes back as {"type":"answer"}. When a destructive tool
//	needs approval the server pushes {"type":"confirm_request"} and
//	the client answers with {"type":"confirm"}. One turn runs at a
//	time per connection.
func (h *Handlers) HandleChatSocket(c *gin.Context) {
	requestID := getOrCreateRequestID(c)
	sessionID := c.Param("id")
	logger := slog.With("request_id", requestID, "handler", "HandleChatSocket",
		"session_id", sessionID)

	if _, err := h.svc.sessions.GetSession(sessionID); err != nil {
		sessionError(c, logger, err)
		return
	}

	ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		logger.Error("failed to upgrade the websocket", "error", err)
		return
	}
	defer ws.Close()
	logger.Info("Chat socket connected")

	ctx, cancel := context.WithCancel(c.Request.Context())
	defer cancel()

	conn := newWSSession(ws, logger)
	confirm := conn.confirmFunc()

	for {
		var msg WSClientMessage
		if err := ws.ReadJSON(&msg); err != nil {
			logger.Info("Chat socket disconnected", "error", err.Error())
			return
		}

		switch msg.Type {
		case "chat":
			if !conn.turnBusy.CompareAndSwap(false, true) {
				_ = conn.send(WSServerMessage{
					Type:  "error",
					Error: "a turn is already running on this connection",
				})
				continue
			}
			go func(text string) {
				defer conn.turnBusy.Store(false)
				report, err := h.svc.RunTurn(ctx, sessionID, text, confirm)
				if err != nil {
					logger.Error("Chat turn failed", "error", err)
					_ = conn.send(WSServerMessage{Type: "error", Error: err.Error()})
					return
				}
				_ = conn.send(WSServerMessage{Type: "answer", Report: report})
			}(msg.Message)

		case "confirm":
			conn.resolve(msg.ConfirmID, msg.Approve)

		default:
			_ = conn.send(WSServerMessage{
				Type:  "error",
				Error: "unknown message type: " + msg.Type,
			})
		}
	}
}

// HandleEventSocket handles GET /v1/vault/events.
//
// Description:
//
//	Upgrades to a WebSocket and streams vault change batches as
//	{"type":"note_events"} frames until the client disconnects. A
//	slow client misses batches rather than stalling the watcher.
func (h *Handlers) HandleEventSocket(c *gin.Context) {
	requestID := getOrCreateRequestID(c)
	logger := slog.With("request_id", requestID, "handler", "HandleEventSocket")

	ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		logger.Error("failed to upgrade the websocket", "error", err)
		return
	}
	defer ws.Close()

	subID, events := h.svc.events.Subscribe()
	if subID == "" {
		logger.Warn("Event hub is closed, dropping connection")
		return
	}
	defer h.svc.events.Unsubscribe(subID)
	logger.Info("Event socket connected", "subscription", subID)

	ctx, cancel := context.WithCancel(c.Request.Context())
	defer cancel()

	// Reads only detect disconnect; clients send nothing meaningful.
	go func() {
		for {
			if _, _, err := ws.ReadMessage(); err != nil {
				cancel()
				return
			}
		}
	}()

	conn := newWSSession(ws, logger)
	for {
		select {
		case batch, ok := <-events:
			if !ok {
				return
			}
			if err := conn.send(WSServerMessage{Type: "note_events", Events: batch}); err != nil {
				return
			}
		case <-ctx.Done():
			logger.Info("Event socket disconnected", "subscription", subID)
			return
		}
	}
}
