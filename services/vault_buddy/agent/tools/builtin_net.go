// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package tools

import (
	"context"
	"fmt"

	"github.com/AleutianAI/AleutianVault/services/vault_buddy/memory"
	"github.com/AleutianAI/AleutianVault/services/vault_buddy/webfetch"
)

// PageFetcher retrieves external web pages. *webfetch.Client
// satisfies it.
type PageFetcher interface {
	Fetch(ctx context.Context, rawURL string) (*webfetch.Page, error)
}

// SessionRecaller searches indexed session transcripts.
// *memory.Index satisfies it.
type SessionRecaller interface {
	Recall(ctx context.Context, query string, limit int) ([]memory.RecalledTurn, error)
}

// RecallPayload is the recall_sessions result.
type RecallPayload struct {
	Turns []memory.RecalledTurn `json:"turns"`
	Total int                   `json:"total"`
}

// RegisterNetworkTools registers the tools that reach outside the
// vault.
//
// Description:
//
//	Adds web_fetch backed by the fetch client, and recall_sessions
//	backed by the transcript memory when one is configured. A nil
//	recaller leaves recall_sessions unregistered: sessions without
//	memory simply do not offer the tool.
//
// Inputs:
//   - reg: the target registry. Must not be sealed.
//   - fetcher: the page fetcher. Must not be nil.
//   - recaller: the transcript memory, or nil when memory is off.
//
// Outputs:
//   - error: the first registration failure, nil otherwise.
func RegisterNetworkTools(reg *Registry, fetcher PageFetcher, recaller SessionRecaller) error {
	err := reg.Register(Definition{
		Name:        "web_fetch",
		Description: "Fetches a web page over HTTP(S) and returns its content.",
		Category:    CategoryNetwork,
		Schema: Schema{Params: []ParamSpec{
			{Name: "url", Type: "string", Description: "Absolute http or https URL", Required: true},
		}},
		Handler: webFetchHandler(fetcher),
	})
	if err != nil {
		return err
	}

	if recaller == nil {
		return nil
	}
	return reg.Register(Definition{
		Name:        "recall_sessions",
		Description: "Searches past session transcripts for relevant turns.",
		Category:    CategoryReadOnly,
		Schema: Schema{Params: []ParamSpec{
			{Name: "query", Type: "string", Description: "Keyword query against past conversations", Required: true},
			{Name: "limit", Type: "number", Description: "Maximum turns to return (default 10)", Required: false},
		}},
		Handler: recallHandler(recaller),
	})
}

func webFetchHandler(fetcher PageFetcher) Handler {
	return func(ctx context.Context, ec *ExecutionContext, args map[string]any) (any, error) {
		page, err := fetcher.Fetch(ctx, stringArg(args, "url"))
		if err != nil {
			return nil, err
		}
		return page, nil
	}
}

func recallHandler(recaller SessionRecaller) Handler {
	return func(ctx context.Context, ec *ExecutionContext, args map[string]any) (any, error) {
		query := stringArg(args, "query")
		if query == "" {
			return nil, fmt.Errorf("query must not be empty")
		}
		turns, err := recaller.Recall(ctx, query, intArg(args, "limit", 10))
		if err != nil {
			return nil, err
		}
		return RecallPayload{Turns: turns, Total: len(turns)}, nil
	}
}
