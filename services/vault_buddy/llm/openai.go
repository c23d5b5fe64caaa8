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
	"fmt"
	"log/slog"

	openai "github.com/sashabaranov/go-openai"
	"golang.org/x/time/rate"

	"github.com/AleutianAI/AleutianVault/services/vault_buddy/agent/retry"
)

// OpenAIConfig configures the OpenAI backend.
type OpenAIConfig struct {
	// BaseURL overrides the API endpoint, for proxies and local
	// OpenAI-compatible servers. Empty uses the public API.
	BaseURL string `json:"base_url,omitempty" yaml:"base_url,omitempty"`

	// RequestsPerSecond throttles model calls across all sessions
	// sharing the backend.
	RequestsPerSecond float64 `json:"requests_per_second,omitempty" yaml:"requests_per_second,omitempty"`

	// Burst is the limiter's burst allowance. It must cover a full
	// tool loop's worth of hops or a turn stalls partway through.
	Burst int `json:"burst,omitempty" yaml:"burst,omitempty"`

	// Logger receives backend diagnostics. Defaults to slog.Default
	// when nil.
	Logger *slog.Logger `json:"-" yaml:"-"`
}

// OpenAIBackend talks to the OpenAI chat completions API.
type OpenAIBackend struct {
	client  *openai.Client
	limiter *rate.Limiter
	logger  *slog.Logger
}

// NewOpenAIBackend builds the backend. The API key comes from the
// keys vault so the raw secret never sits in plain config structs.
func NewOpenAIBackend(config OpenAIConfig, keys *KeyVault) (*OpenAIBackend, error) {
	if keys == nil {
		return nil, errors.New("llm: key vault is required")
	}
	if config.RequestsPerSecond <= 0 {
		config.RequestsPerSecond = 2
	}
	if config.Burst <= 0 {
		config.Burst = 8
	}
	if config.Logger == nil {
		config.Logger = slog.Default()
	}

	buffer, err := keys.Reveal()
	if err != nil {
		return nil, fmt.Errorf("open api key: %w", err)
	}
	defer buffer.Destroy()

	clientConfig := openai.DefaultConfig(buffer.String())
	if config.BaseURL != "" {
		clientConfig.BaseURL = config.BaseURL
	}

	config.Logger.Info("openai backend initialized", slog.String("base_url", clientConfig.BaseURL))
	return &OpenAIBackend{
		client:  openai.NewClientWithConfig(clientConfig),
		limiter: rate.NewLimiter(rate.Limit(config.RequestsPerSecond), config.Burst),
		logger:  config.Logger,
	}, nil
}

// Name identifies the backend.
func (b *OpenAIBackend) Name() string {
	return "openai"
}

// SendTurn sends the conversation and decodes the reply.
//
// Calls wait for rate-limiter admission before reaching the API.
// Upstream API failures come back as retry-classifiable status errors
// so the caller's retry policy sees 429 and 5xx as transient.
func (b *OpenAIBackend) SendTurn(ctx context.Context, req TurnRequest) (*TurnResponse, error) {
	request := openai.ChatCompletionRequest{
		Model:    req.Params.Model,
		Messages: convertMessages(req.Messages),
	}
	if req.Params.Temperature > 0 {
		request.Temperature = float32(req.Params.Temperature)
	}
	if req.Params.TopP > 0 {
		request.TopP = float32(req.Params.TopP)
	}
	if req.Params.MaxTokens > 0 {
		request.MaxCompletionTokens = req.Params.MaxTokens
	}
	if len(req.Tools) > 0 {
		request.Tools = convertTools(req.Tools)
	}

	if err := b.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limit wait: %w", err)
	}

	resp, err := b.client.CreateChatCompletion(ctx, request)
	if err != nil {
		return nil, classifyAPIError(err)
	}
	if len(resp.Choices) == 0 {
		return nil, errors.New("openai returned no choices")
	}

	choice := resp.Choices[0]
	toolCalls, err := decodeToolCalls(choice.Message.ToolCalls)
	if err != nil {
		return nil, err
	}

	b.logger.Debug("model turn complete",
		slog.String("model", req.Params.Model),
		slog.String("finish_reason", string(choice.FinishReason)),
		slog.Int("tool_calls", len(toolCalls)),
		slog.Int("total_tokens", resp.Usage.TotalTokens),
	)
	return &TurnResponse{
		Content:      choice.Message.Content,
		ToolCalls:    toolCalls,
		FinishReason: string(choice.FinishReason),
		Usage: Usage{
			PromptTokens:     resp.Usage.PromptTokens,
			CompletionTokens: resp.Usage.CompletionTokens,
			TotalTokens:      resp.Usage.TotalTokens,
		},
	}, nil
}

// convertMessages maps conversation messages to the wire format.
func convertMessages(messages []Message) []openai.ChatCompletionMessage {
	out := make([]openai.ChatCompletionMessage, 0, len(messages))
	for _, msg := range messages {
		converted := openai.ChatCompletionMessage{
			Role:       msg.Role,
			Content:    msg.Content,
			ToolCallID: msg.ToolCallID,
		}
		for _, call := range msg.ToolCalls {
			arguments, err := json.Marshal(call.Arguments)
			if err != nil {
				arguments = []byte("{}")
			}
			converted.ToolCalls = append(converted.ToolCalls, openai.ToolCall{
				ID:   call.CallID,
				Type: openai.ToolTypeFunction,
				Function: openai.FunctionCall{
					Name:      call.Name,
					Arguments: string(arguments),
				},
			})
		}
		out = append(out, converted)
	}
	return out
}

// convertTools maps tool schemas to the wire format.
func convertTools(schemas []ToolSchema) []openai.Tool {
	out := make([]openai.Tool, 0, len(schemas))
	for _, schema := range schemas {
		out = append(out, openai.Tool{
			Type: openai.ToolTypeFunction,
			Function: &openai.FunctionDefinition{
				Name:        schema.Name,
				Description: schema.Description,
				Parameters:  schema.Parameters,
			},
		})
	}
	return out
}

// decodeToolCalls parses the JSON argument strings the API returns.
func decodeToolCalls(calls []openai.ToolCall) ([]ToolCall, error) {
	if len(calls) == 0 {
		return nil, nil
	}
	out := make([]ToolCall, 0, len(calls))
	for _, call := range calls {
		arguments := map[string]any{}
		if call.Function.Arguments != "" {
			if err := json.Unmarshal([]byte(call.Function.Arguments), &arguments); err != nil {
				return nil, fmt.Errorf("decode arguments for tool %s: %w", call.Function.Name, err)
			}
		}
		out = append(out, ToolCall{
			CallID:    call.ID,
			Name:      call.Function.Name,
			Arguments: arguments,
		})
	}
	return out, nil
}

// classifyAPIError converts the client's APIError into a status error
// the retry classifier understands; other errors pass through wrapped.
func classifyAPIError(err error) error {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return &retry.StatusError{
			Code:    apiErr.HTTPStatusCode,
			Message: apiErr.Message,
		}
	}
	return fmt.Errorf("openai api call failed: %w", err)
}
