// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package llm

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"github.com/AleutianAI/AleutianVault/services/vault_buddy/agent/retry"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testVault(t *testing.T) *KeyVault {
	t.Helper()
	keys, err := NewKeyVault([]byte("sk-test-key"), testLogger())
	if err != nil {
		t.Fatalf("NewKeyVault: %v", err)
	}
	return keys
}

func newBackendAgainst(t *testing.T, server *httptest.Server) *OpenAIBackend {
	t.Helper()
	backend, err := NewOpenAIBackend(OpenAIConfig{
		BaseURL: server.URL + "/v1",
		Logger:  testLogger(),
	}, testVault(t))
	if err != nil {
		t.Fatalf("NewOpenAIBackend: %v", err)
	}
	return backend
}

func TestSendTurn_TextReply(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/chat/completions" {
			t.Errorf("path = %s", r.URL.Path)
		}
		var req openai.ChatCompletionRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("decode request: %v", err)
		}
		if req.Model != "gpt-4o-mini" {
			t.Errorf("model = %s", req.Model)
		}
		if len(req.Messages) != 2 || req.Messages[0].Role != RoleSystem {
			t.Errorf("messages = %+v", req.Messages)
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{
			"choices": []map[string]any{{
				"message":       map[string]any{"role": "assistant", "content": "hello there"},
				"finish_reason": "stop",
			}},
			"usage": map[string]any{"prompt_tokens": 12, "completion_tokens": 3, "total_tokens": 15},
		})
	}))
	defer server.Close()

	backend := newBackendAgainst(t, server)
	resp, err := backend.SendTurn(context.Background(), TurnRequest{
		Messages: []Message{
			{Role: RoleSystem, Content: "You are a note-taking copilot."},
			{Role: RoleUser, Content: "hi"},
		},
		Params: Params{Model: "gpt-4o-mini", Temperature: 0.7},
	})
	if err != nil {
		t.Fatalf("SendTurn: %v", err)
	}
	if resp.Content != "hello there" {
		t.Errorf("Content = %q", resp.Content)
	}
	if resp.FinishReason != "stop" {
		t.Errorf("FinishReason = %q", resp.FinishReason)
	}
	if resp.Usage.TotalTokens != 15 {
		t.Errorf("TotalTokens = %d", resp.Usage.TotalTokens)
	}
}

func TestSendTurn_ToolCallReply(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{
			"choices": []map[string]any{{
				"message": map[string]any{
					"role": "assistant",
					"tool_calls": []map[string]any{{
						"id":   "call_1",
						"type": "function",
						"function": map[string]any{
							"name":      "read_note",
							"arguments": `{"path":"inbox.md"}`,
						},
					}},
				},
				"finish_reason": "tool_calls",
			}},
			"usage": map[string]any{"total_tokens": 20},
		})
	}))
	defer server.Close()

	backend := newBackendAgainst(t, server)
	resp, err := backend.SendTurn(context.Background(), TurnRequest{
		Messages: []Message{{Role: RoleUser, Content: "read my inbox"}},
		Tools: []ToolSchema{{
			Name:        "read_note",
			Description: "Reads a note",
			Parameters: map[string]any{
				"type":       "object",
				"properties": map[string]any{"path": map[string]any{"type": "string"}},
			},
		}},
		Params: Params{Model: "gpt-4o-mini"},
	})
	if err != nil {
		t.Fatalf("SendTurn: %v", err)
	}
	if len(resp.ToolCalls) != 1 {
		t.Fatalf("ToolCalls = %+v", resp.ToolCalls)
	}
	call := resp.ToolCalls[0]
	if call.CallID != "call_1" || call.Name != "read_note" {
		t.Errorf("call = %+v", call)
	}
	if call.Arguments["path"] != "inbox.md" {
		t.Errorf("Arguments = %+v", call.Arguments)
	}
}

func TestSendTurn_RateLimitIsTransient(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusTooManyRequests)
		json.NewEncoder(w).Encode(map[string]any{
			"error": map[string]any{"message": "rate limited", "type": "rate_limit_error"},
		})
	}))
	defer server.Close()

	backend := newBackendAgainst(t, server)
	_, err := backend.SendTurn(context.Background(), TurnRequest{
		Messages: []Message{{Role: RoleUser, Content: "hi"}},
		Params:   Params{Model: "gpt-4o-mini"},
	})
	if err == nil {
		t.Fatal("SendTurn succeeded, want error")
	}
	var statusErr *retry.StatusError
	if !errors.As(err, &statusErr) {
		t.Fatalf("error %v is not a StatusError", err)
	}
	if statusErr.Code != http.StatusTooManyRequests {
		t.Errorf("Code = %d", statusErr.Code)
	}
	if !retry.IsTransient(err) {
		t.Error("429 not classified transient")
	}
}

func TestSendTurn_ThrottleHonorsContext(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{
			"choices": []map[string]any{{
				"message":       map[string]any{"role": "assistant", "content": "ok"},
				"finish_reason": "stop",
			}},
		})
	}))
	defer server.Close()

	backend, err := NewOpenAIBackend(OpenAIConfig{
		BaseURL:           server.URL + "/v1",
		RequestsPerSecond: 0.01,
		Burst:             1,
		Logger:            testLogger(),
	}, testVault(t))
	if err != nil {
		t.Fatalf("NewOpenAIBackend: %v", err)
	}

	req := TurnRequest{
		Messages: []Message{{Role: RoleUser, Content: "hi"}},
		Params:   Params{Model: "gpt-4o-mini"},
	}
	if _, err := backend.SendTurn(context.Background(), req); err != nil {
		t.Fatalf("first turn: %v", err)
	}

	// The burst token is spent; the next token is ~100s away, far past
	// this deadline, so Wait fails without actually sleeping it out.
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	if _, err := backend.SendTurn(ctx, req); err == nil {
		t.Fatal("second turn succeeded, want throttle error")
	}
}

func TestConvertMessages_ToolCallRoundTrip(t *testing.T) {
	messages := []Message{
		{
			Role: RoleAssistant,
			ToolCalls: []ToolCall{{
				CallID:    "call_9",
				Name:      "append_note",
				Arguments: map[string]any{"path": "log.md", "content": "done"},
			}},
		},
		{Role: RoleTool, Content: `{"ok":true}`, ToolCallID: "call_9"},
	}

	converted := convertMessages(messages)
	if len(converted) != 2 {
		t.Fatalf("len = %d", len(converted))
	}
	if len(converted[0].ToolCalls) != 1 {
		t.Fatalf("assistant tool calls = %+v", converted[0].ToolCalls)
	}
	wire := converted[0].ToolCalls[0]
	if wire.ID != "call_9" || wire.Function.Name != "append_note" {
		t.Errorf("wire call = %+v", wire)
	}
	var args map[string]any
	if err := json.Unmarshal([]byte(wire.Function.Arguments), &args); err != nil {
		t.Fatalf("arguments not valid JSON: %v", err)
	}
	if args["path"] != "log.md" {
		t.Errorf("args = %+v", args)
	}
	if converted[1].ToolCallID != "call_9" {
		t.Errorf("tool message = %+v", converted[1])
	}
}

func TestDecodeToolCalls_MalformedArguments(t *testing.T) {
	_, err := decodeToolCalls([]openai.ToolCall{{
		ID:       "call_1",
		Function: openai.FunctionCall{Name: "read_note", Arguments: "{not json"},
	}})
	if err == nil {
		t.Fatal("decode succeeded on malformed JSON")
	}
}

func TestDecodeToolCalls_EmptyArguments(t *testing.T) {
	calls, err := decodeToolCalls([]openai.ToolCall{{
		ID:       "call_1",
		Function: openai.FunctionCall{Name: "list_notes", Arguments: ""},
	}})
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if calls[0].Arguments == nil || len(calls[0].Arguments) != 0 {
		t.Errorf("Arguments = %+v, want empty map", calls[0].Arguments)
	}
}

func TestClassifyAPIError_PassthroughForPlainErrors(t *testing.T) {
	plain := errors.New("dial tcp: connection refused")
	err := classifyAPIError(plain)
	if !errors.Is(err, plain) {
		t.Errorf("wrap lost the cause: %v", err)
	}
	if !retry.IsTransient(err) {
		t.Error("connection refused not classified transient")
	}
}
