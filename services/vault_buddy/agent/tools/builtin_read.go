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
	"strings"

	"github.com/AleutianAI/AleutianVault/services/vault_buddy/vault"
)

// ===== Argument helpers =====

// stringArg extracts a string argument. Schema validation has already
// checked presence and type for declared parameters.
func stringArg(args map[string]any, name string) string {
	s, _ := args[name].(string)
	return s
}

// intArg extracts a numeric argument as an int, accepting the float64
// that JSON decoding produces as well as native ints.
func intArg(args map[string]any, name string, fallback int) int {
	switch v := args[name].(type) {
	case float64:
		return int(v)
	case float32:
		return int(v)
	case int:
		return v
	case int32:
		return int(v)
	case int64:
		return int(v)
	default:
		return fallback
	}
}

// boolArg extracts a boolean argument.
func boolArg(args map[string]any, name string, fallback bool) bool {
	if v, ok := args[name].(bool); ok {
		return v
	}
	return fallback
}

// ===== Payloads =====

// NotePayload is the read_note result.
type NotePayload struct {
	Path    string `json:"path"`
	Content string `json:"content"`
	Size    int64  `json:"size"`
}

// NoteListPayload is the list_notes and search_notes result.
type NoteListPayload struct {
	Notes []vault.NoteInfo `json:"notes"`

	// Total is the match count before the limit was applied.
	Total int `json:"total"`

	// Truncated reports whether Notes was cut at the limit.
	Truncated bool `json:"truncated"`
}

const (
	defaultListLimit = 200
	maxNoteBytes     = 1 << 20
)

// RegisterReadTools registers the read-only vault tools.
//
// Description:
//
//	Adds read_note, list_notes, and search_notes backed by the given
//	vault store. These tools never mutate the vault and run in the
//	parallel read phase of a turn.
//
// Inputs:
//   - reg: the target registry. Must not be sealed.
//   - store: the vault to read from.
//
// Outputs:
//   - error: the first registration failure, nil otherwise.
func RegisterReadTools(reg *Registry, store vault.Store) error {
	defs := []Definition{
		{
			Name:        "read_note",
			Description: "Reads the full content of a note at a vault-relative path.",
			Category:    CategoryReadOnly,
			Schema: Schema{Params: []ParamSpec{
				{Name: "path", Type: "string", Description: "Vault-relative note path, e.g. 'projects/plan.md'", Required: true},
			}},
			Handler: readNoteHandler(store),
		},
		{
			Name:        "list_notes",
			Description: "Lists notes in the vault, optionally under a folder.",
			Category:    CategoryReadOnly,
			Schema: Schema{Params: []ParamSpec{
				{Name: "folder", Type: "string", Description: "Folder to list; empty lists the whole vault", Required: false},
				{Name: "limit", Type: "number", Description: "Maximum notes to return (default 200)", Required: false},
			}},
			Handler: listNotesHandler(store),
		},
		{
			Name:        "search_notes",
			Description: "Finds notes whose filename contains the query (case-insensitive).",
			Category:    CategoryReadOnly,
			Schema: Schema{Params: []ParamSpec{
				{Name: "query", Type: "string", Description: "Substring to match against note paths", Required: true},
				{Name: "limit", Type: "number", Description: "Maximum matches to return (default 200)", Required: false},
			}},
			Handler: searchNotesHandler(store),
		},
	}
	for _, def := range defs {
		if err := reg.Register(def); err != nil {
			return err
		}
	}
	return nil
}

func readNoteHandler(store vault.Store) Handler {
	return func(ctx context.Context, ec *ExecutionContext, args map[string]any) (any, error) {
		path := stringArg(args, "path")
		data, err := store.Read(ctx, path)
		if err != nil {
			return nil, err
		}
		if len(data) > maxNoteBytes {
			return nil, fmt.Errorf("note %s exceeds the %d byte read limit", path, maxNoteBytes)
		}
		return NotePayload{Path: path, Content: string(data), Size: int64(len(data))}, nil
	}
}

func listNotesHandler(store vault.Store) Handler {
	return func(ctx context.Context, ec *ExecutionContext, args map[string]any) (any, error) {
		notes, err := store.List(ctx, stringArg(args, "folder"))
		if err != nil {
			return nil, err
		}
		return limitNotes(notes, intArg(args, "limit", defaultListLimit)), nil
	}
}

func searchNotesHandler(store vault.Store) Handler {
	return func(ctx context.Context, ec *ExecutionContext, args map[string]any) (any, error) {
		query := strings.ToLower(stringArg(args, "query"))
		if query == "" {
			return nil, fmt.Errorf("query must not be empty")
		}
		notes, err := store.List(ctx, "")
		if err != nil {
			return nil, err
		}
		var matches []vault.NoteInfo
		for _, note := range notes {
			if strings.Contains(strings.ToLower(note.Path), query) {
				matches = append(matches, note)
			}
		}
		return limitNotes(matches, intArg(args, "limit", defaultListLimit)), nil
	}
}

// limitNotes caps a note slice and records the pre-cap total.
func limitNotes(notes []vault.NoteInfo, limit int) NoteListPayload {
	if limit <= 0 {
		limit = defaultListLimit
	}
	payload := NoteListPayload{Notes: notes, Total: len(notes)}
	if len(notes) > limit {
		payload.Notes = notes[:limit]
		payload.Truncated = true
	}
	return payload
}
