// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package main contains the ChatService interface and its WebSocket
// implementation.
//
// The WebSocket transport exists because a chat turn is not a single
// request/response: while a turn runs, the server may ask the client to
// approve a destructive tool call. SendMessage holds the conversation
// until the final answer arrives, answering confirmation requests
// through the injected ConfirmFunc as they come in.
package main

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// ChatService is the transport behind the interactive chat loop.
//
// Implementations send one user message and block until the turn
// completes. The zero-value TurnReport fields carry whatever the server
// chose to report.
type ChatService interface {
	// SendMessage sends a user message and waits for the finished
	// turn. Confirmation requests arriving mid-turn are resolved via
	// the service's ConfirmFunc.
	SendMessage(ctx context.Context, message string) (*TurnReport, error)

	// GetSessionID returns the session this service is attached to.
	GetSessionID() string

	// Close shuts the transport down. Safe to call more than once.
	Close() error
}

// ConfirmFunc decides whether a destructive tool call may proceed.
// It runs synchronously inside a turn; the server waits for the answer.
type ConfirmFunc func(toolName, target string) bool

// wsClientEnvelope is one message to the server.
type wsClientEnvelope struct {
	Type      string `json:"type"`
	Message   string `json:"message,omitempty"`
	ConfirmID string `json:"confirm_id,omitempty"`
	Approve   bool   `json:"approve,omitempty"`
}

// wsServerEnvelope is one message from the server.
type wsServerEnvelope struct {
	Type      string      `json:"type"`
	Report    *TurnReport `json:"report,omitempty"`
	ConfirmID string      `json:"confirm_id,omitempty"`
	ToolName  string      `json:"tool_name,omitempty"`
	Target    string      `json:"target,omitempty"`
	Error     string      `json:"error,omitempty"`
}

// wsChatService implements ChatService over the server's chat socket.
//
// Thread Safety: SendMessage is single-flight; the caller runs one turn
// at a time. Close may be called from any goroutine.
type wsChatService struct {
	conn      *websocket.Conn
	sessionID string
	confirm   ConfirmFunc

	mu     sync.Mutex
	closed bool
}

// NewWSChatService dials the chat socket for the given session.
//
// # Inputs
//
//   - ctx: bounds the dial, not the service lifetime
//   - baseURL: server base URL (http or https scheme)
//   - sessionID: the session to chat in; must already exist
//   - confirm: decides destructive tool approvals; nil denies all
//
// # Outputs
//
//   - ChatService: connected and ready for SendMessage
//   - error: dial failure, including the server's reason when the
//     handshake was rejected (unknown or archived session)
func NewWSChatService(ctx context.Context, baseURL, sessionID string, confirm ConfirmFunc) (ChatService, error) {
	wsURL := httpToWSURL(baseURL) + "/v1/sessions/" + sessionID + "/chat/ws"

	conn, resp, err := websocket.DefaultDialer.DialContext(ctx, wsURL, nil)
	if err != nil {
		if resp != nil {
			defer resp.Body.Close()
			return nil, fmt.Errorf("chat socket rejected: %w", decodeErrorBody(resp))
		}
		return nil, fmt.Errorf("failed to reach server at %s: %w", baseURL, err)
	}

	if confirm == nil {
		confirm = func(string, string) bool { return false }
	}

	return &wsChatService{
		conn:      conn,
		sessionID: sessionID,
		confirm:   confirm,
	}, nil
}

// httpToWSURL rewrites an HTTP base URL to its WebSocket scheme.
func httpToWSURL(baseURL string) string {
	switch {
	case strings.HasPrefix(baseURL, "https://"):
		return "wss://" + strings.TrimPrefix(baseURL, "https://")
	case strings.HasPrefix(baseURL, "http://"):
		return "ws://" + strings.TrimPrefix(baseURL, "http://")
	default:
		return "ws://" + baseURL
	}
}

// SendMessage sends one chat message and waits for the turn's answer.
//
// # Description
//
// Writes the message, then reads server envelopes until the turn
// resolves:
//   - "confirm_request" envelopes are answered via the ConfirmFunc
//   - "answer" returns the turn report
//   - "error" returns the server's failure message
//
// Cancelling the context unblocks the read and returns ctx.Err(); the
// connection is not reusable afterwards.
func (s *wsChatService) SendMessage(ctx context.Context, message string) (*TurnReport, error) {
	if err := s.conn.WriteJSON(wsClientEnvelope{Type: "chat", Message: message}); err != nil {
		return nil, fmt.Errorf("send message: %w", err)
	}

	// A cancelled context forces the blocking read to fail.
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			_ = s.conn.SetReadDeadline(time.Now())
		case <-done:
		}
	}()

	for {
		var msg wsServerEnvelope
		if err := s.conn.ReadJSON(&msg); err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			return nil, fmt.Errorf("read server message: %w", err)
		}

		switch msg.Type {
		case "confirm_request":
			approve := s.confirm(msg.ToolName, msg.Target)
			if err := s.conn.WriteJSON(wsClientEnvelope{
				Type:      "confirm",
				ConfirmID: msg.ConfirmID,
				Approve:   approve,
			}); err != nil {
				return nil, fmt.Errorf("send confirmation: %w", err)
			}

		case "answer":
			if msg.Report == nil {
				return nil, errors.New("server sent an answer without a report")
			}
			return msg.Report, nil

		case "error":
			return nil, errors.New(msg.Error)

		default:
			// Ignore envelope types this client does not know.
		}
	}
}

// GetSessionID returns the session this service chats in.
func (s *wsChatService) GetSessionID() string {
	return s.sessionID
}

// Close sends a close frame and shuts the connection down. Idempotent.
func (s *wsChatService) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true

	deadline := time.Now().Add(time.Second)
	_ = s.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), deadline)
	return s.conn.Close()
}
