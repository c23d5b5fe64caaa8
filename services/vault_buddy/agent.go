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
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/AleutianAI/AleutianVault/pkg/extensions"
	"github.com/AleutianAI/AleutianVault/services/vault_buddy/agent/safety"
	"github.com/AleutianAI/AleutianVault/services/vault_buddy/agent/tools"
	"github.com/AleutianAI/AleutianVault/services/vault_buddy/llm"
	"github.com/AleutianAI/AleutianVault/services/vault_buddy/memory"
	"github.com/AleutianAI/AleutianVault/services/vault_buddy/session"
	"github.com/AleutianAI/AleutianVault/services/vault_buddy/telemetry"
)

// defaultSystemPrompt is the agent's standing instruction set. Session
// prompt templates replace it when configured.
const defaultSystemPrompt = `You are Vault Buddy, an assistant working inside the user's local markdown note vault.
You can read, search, create, and edit notes through the tools provided.
Prefer reading a note before editing it. Destructive operations may require the user's approval.
Answer in concise markdown. When you changed notes, say which ones and how.`

// TurnReport is the outcome of one chat turn: the final answer plus
// the tool activity it took to get there.
type TurnReport struct {
	// SessionID identifies the session the turn ran in.
	SessionID string `json:"session_id"`

	// Answer is the model's final reply.
	Answer string `json:"answer"`

	// Hops is the number of model round trips the turn used.
	Hops int `json:"hops"`

	// ToolResults lists every tool call outcome across all hops, in
	// execution order.
	ToolResults []tools.Result `json:"tool_results,omitempty"`

	// LoopDetected is set when any hop tripped the loop detector.
	LoopDetected bool `json:"loop_detected,omitempty"`

	// Halted is set when fail-fast stopped part of a hop.
	Halted bool `json:"halted,omitempty"`

	// HopsExhausted is set when the turn hit the hop limit before the
	// model produced a final answer.
	HopsExhausted bool `json:"hops_exhausted,omitempty"`

	// Usage sums token accounting over the turn's round trips.
	Usage llm.Usage `json:"usage"`
}

// RunTurn executes one chat turn in the given session.
//
// Description:
//
//	The user message is appended to history first, then the turn loop
//	runs: send the conversation to the model, execute any tool calls
//	it requests, feed the results back, and repeat until the model
//	answers in plain text or the hop limit is reached. The final
//	answer is appended to history and, when memory is available, both
//	sides of the exchange are indexed for recall.
//
// Inputs:
//   - ctx: cancellation for the whole turn.
//   - sessionID: the target session. Must exist and not be archived.
//   - userText: the user's message. Must be non-empty.
//   - confirm: per-call approval callback for destructive tools. Nil
//     means no interactive approval path exists.
//
// Outputs:
//   - *TurnReport: the answer and tool trace. Nil on error.
//   - error: session lookup failures, persistence failures on the
//     user turn, or model transport failures.
func (s *Service) RunTurn(ctx context.Context, sessionID, userText string, confirm safety.ConfirmFunc) (*TurnReport, error) {
	userText = strings.TrimSpace(userText)
	if userText == "" {
		return nil, fmt.Errorf("vault_buddy: empty user message")
	}

	sess, err := s.sessions.GetSession(sessionID)
	if err != nil {
		return nil, err
	}
	if sess.Archived {
		return nil, fmt.Errorf("%w: %s", session.ErrSessionArchived, sessionID)
	}
	params, err := s.sessions.ResolveModelParams(sessionID)
	if err != nil {
		return nil, err
	}
	logger := telemetry.LoggerWithSession(ctx, s.logger, sessionID)

	pending, err := s.sessions.AppendTurn(sessionID, "user", userText)
	if err != nil {
		return nil, err
	}
	if err := pending.Wait(ctx); err != nil {
		return nil, fmt.Errorf("persist user turn: %w", err)
	}

	messages, err := s.buildMessages(sess, params)
	if err != nil {
		return nil, err
	}
	schemas := toolSchemas(s.registry.List())

	report := &TurnReport{SessionID: sessionID}
	for hop := 0; hop < s.config.MaxTurnHops; hop++ {
		report.Hops = hop + 1

		resp, err := s.backend.SendTurn(ctx, llm.TurnRequest{
			Messages: messages,
			Tools:    schemas,
			Params: llm.Params{
				Model:       params.Model,
				Temperature: params.Temperature,
				TopP:        params.TopP,
			},
		})
		if err != nil {
			return nil, fmt.Errorf("model turn failed: %w", err)
		}
		report.Usage.PromptTokens += resp.Usage.PromptTokens
		report.Usage.CompletionTokens += resp.Usage.CompletionTokens
		report.Usage.TotalTokens += resp.Usage.TotalTokens

		if len(resp.ToolCalls) == 0 {
			report.Answer = resp.Content
			break
		}

		logger.Info("model requested tools",
			slog.Int("hop", hop+1),
			slog.Int("calls", len(resp.ToolCalls)),
		)
		messages = append(messages, llm.Message{
			Role:      llm.RoleAssistant,
			Content:   resp.Content,
			ToolCalls: resp.ToolCalls,
		})

		outcome, err := s.engine.ExecuteTurn(ctx, tools.TurnContext{
			SessionID: sessionID,
			Grants:    sess.Permissions,
			Confirm:   confirm,
		}, callRequests(resp.ToolCalls))
		if err != nil {
			return nil, fmt.Errorf("tool execution failed: %w", err)
		}
		report.ToolResults = append(report.ToolResults, outcome.Results...)
		report.LoopDetected = report.LoopDetected || outcome.LoopDetected
		report.Halted = report.Halted || outcome.Halted
		s.auditToolResults(ctx, sessionID, outcome.Results)

		for _, res := range outcome.Results {
			messages = append(messages, llm.Message{
				Role:       llm.RoleTool,
				Content:    encodeResult(res),
				ToolCallID: res.CallID,
			})
		}
	}

	if report.Answer == "" {
		report.HopsExhausted = true
		report.Answer = fmt.Sprintf(
			"I stopped after %d rounds of tool calls without reaching a final answer.",
			s.config.MaxTurnHops)
		logger.Warn("turn hop limit reached", slog.Int("hops", report.Hops))
	}

	pending, err = s.sessions.AppendTurn(sessionID, "assistant", report.Answer)
	if err != nil {
		return nil, err
	}
	if err := pending.Wait(ctx); err != nil {
		return nil, fmt.Errorf("persist assistant turn: %w", err)
	}

	s.indexExchange(sess, userText, report.Answer)
	return report, nil
}

// buildMessages replays the session history as the model-facing
// conversation, prefixed with the system prompt.
func (s *Service) buildMessages(sess *session.Session, params session.ModelParams) ([]llm.Message, error) {
	_, records, err := s.sessions.History(sess.ID)
	if err != nil {
		return nil, fmt.Errorf("load history: %w", err)
	}

	messages := make([]llm.Message, 0, len(records)+1)
	messages = append(messages, llm.Message{
		Role:    llm.RoleSystem,
		Content: systemPrompt(params, sess),
	})
	for _, rec := range records {
		switch rec.Role {
		case "user", "assistant":
			messages = append(messages, llm.Message{Role: rec.Role, Content: rec.Body})
		case "system":
			// Seeded context replays as part of the system side.
			messages = append(messages, llm.Message{Role: llm.RoleSystem, Content: rec.Body})
		}
	}
	return messages, nil
}

// systemPrompt resolves the session's system prompt. A configured
// template name wins; note chats get their anchoring note named.
func systemPrompt(params session.ModelParams, sess *session.Session) string {
	prompt := defaultSystemPrompt
	if params.PromptTemplate != "" {
		prompt = params.PromptTemplate
	}
	if sess.SourceNotePath != "" {
		prompt += "\nThis conversation is anchored to the note: " + sess.SourceNotePath
	}
	return prompt
}

// toolSchemas converts registry definitions into the wire schema the
// model consumes.
func toolSchemas(defs []tools.Definition) []llm.ToolSchema {
	schemas := make([]llm.ToolSchema, 0, len(defs))
	for _, def := range defs {
		props := make(map[string]any, len(def.Schema.Params))
		var required []string
		for _, p := range def.Schema.Params {
			props[p.Name] = map[string]any{
				"type":        p.Type,
				"description": p.Description,
			}
			if p.Required {
				required = append(required, p.Name)
			}
		}
		parameters := map[string]any{
			"type":       "object",
			"properties": props,
		}
		if len(required) > 0 {
			parameters["required"] = required
		}
		schemas = append(schemas, llm.ToolSchema{
			Name:        def.Name,
			Description: def.Description,
			Parameters:  parameters,
		})
	}
	return schemas
}

// callRequests converts model tool calls into engine requests.
func callRequests(calls []llm.ToolCall) []tools.CallRequest {
	reqs := make([]tools.CallRequest, len(calls))
	for i, call := range calls {
		reqs[i] = tools.CallRequest{
			CallID:    call.CallID,
			ToolName:  call.Name,
			Arguments: call.Arguments,
		}
	}
	return reqs
}

// encodeResult renders one tool result as the JSON the model reads
// back. Marshal failures degrade to a plain status line rather than
// losing the hop.
func encodeResult(res tools.Result) string {
	body := map[string]any{"status": string(res.Status)}
	if res.Payload != nil {
		body["result"] = res.Payload
	}
	if res.ErrorMessage != "" {
		body["error"] = res.ErrorMessage
	}
	data, err := json.Marshal(body)
	if err != nil {
		return fmt.Sprintf(`{"status":%q,"error":"result not serializable"}`, res.Status)
	}
	return string(data)
}

// auditToolResults forwards finished tool calls to the audit
// extension. Record failures are logged, never fatal; an audit sink
// outage must not stop the agent.
func (s *Service) auditToolResults(ctx context.Context, sessionID string, results []tools.Result) {
	principal := extensions.PrincipalFrom(ctx)
	now := time.Now().UTC()
	for _, res := range results {
		var category string
		if def, err := s.registry.Lookup(res.ToolName); err == nil {
			category = string(def.Category)
		}
		err := s.ext.Audit.Record(ctx, extensions.ToolAuditEvent{
			Timestamp: now,
			Principal: principal,
			SessionID: sessionID,
			CallID:    res.CallID,
			Tool:      res.ToolName,
			Category:  category,
			Outcome:   string(res.Status),
			Detail:    res.ErrorMessage,
		})
		if err != nil {
			s.logger.Warn("audit record failed",
				slog.String("tool", res.ToolName),
				slog.String("error", err.Error()),
			)
		}
	}
}

// indexExchange pushes both sides of a finished exchange into the
// transcript memory. Indexing is best-effort and runs off the request
// path.
func (s *Service) indexExchange(sess *session.Session, userText, answer string) {
	if s.memory == nil || !s.memory.Available() {
		return
	}
	docs := []memory.TurnDocument{
		{
			SessionID:    sess.ID,
			SessionTitle: sess.Title,
			Kind:         string(sess.Kind),
			Role:         "user",
			Content:      userText,
			TurnAt:       time.Now(),
		},
		{
			SessionID:    sess.ID,
			SessionTitle: sess.Title,
			Kind:         string(sess.Kind),
			Role:         "assistant",
			Content:      answer,
			TurnAt:       time.Now(),
		},
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		for _, doc := range docs {
			if err := s.memory.IndexTurn(ctx, doc); err != nil {
				s.logger.Warn("transcript indexing failed",
					slog.String("session_id", doc.SessionID),
					slog.String("role", doc.Role),
					slog.String("error", err.Error()),
				)
				return
			}
		}
	}()
}
