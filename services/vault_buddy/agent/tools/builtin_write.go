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
	"errors"
	"fmt"
	"strings"

	"github.com/pmezard/go-difflib/difflib"
	"github.com/sourcegraph/go-diff/diff"

	"github.com/AleutianAI/AleutianVault/services/vault_buddy/vault"
)

// ===== Payloads =====

// AppendPayload is the append_note result.
type AppendPayload struct {
	Path    string `json:"path"`
	Created bool   `json:"created"`
	Size    int64  `json:"size"`
}

// UpdatePayload is the update_note result. The diff preview shows the
// model what its edit actually changed.
type UpdatePayload struct {
	Path         string `json:"path"`
	Changed      bool   `json:"changed"`
	Diff         string `json:"diff,omitempty"`
	LinesAdded   int    `json:"lines_added"`
	LinesRemoved int    `json:"lines_removed"`
}

// DeletePayload is the delete_note result.
type DeletePayload struct {
	Path string `json:"path"`
}

// MovePayload is the move_note result.
type MovePayload struct {
	From string `json:"from"`
	To   string `json:"to"`
}

// RegisterWriteTools registers the mutating vault tools.
//
// Description:
//
//	Adds append_note and update_note (vault_ops) plus delete_note and
//	move_note (destructive). Destructive tools only run once the
//	permission gate clears them.
//
// Inputs:
//   - reg: the target registry. Must not be sealed.
//   - store: the vault to mutate.
//
// Outputs:
//   - error: the first registration failure, nil otherwise.
func RegisterWriteTools(reg *Registry, store vault.Store) error {
	defs := []Definition{
		{
			Name:        "append_note",
			Description: "Appends content to a note, creating it if missing.",
			Category:    CategoryVaultOps,
			Schema: Schema{Params: []ParamSpec{
				{Name: "path", Type: "string", Description: "Vault-relative note path", Required: true},
				{Name: "content", Type: "string", Description: "Markdown content to append", Required: true},
			}},
			Handler: appendNoteHandler(store),
		},
		{
			Name:        "update_note",
			Description: "Replaces a note's content and returns a unified diff of the change.",
			Category:    CategoryVaultOps,
			Schema: Schema{Params: []ParamSpec{
				{Name: "path", Type: "string", Description: "Vault-relative note path; the note must exist", Required: true},
				{Name: "content", Type: "string", Description: "Full replacement content", Required: true},
			}},
			Handler: updateNoteHandler(store),
		},
		{
			Name:        "delete_note",
			Description: "Permanently deletes a note from the vault.",
			Category:    CategoryDestructive,
			Schema: Schema{Params: []ParamSpec{
				{Name: "path", Type: "string", Description: "Vault-relative note path", Required: true},
			}},
			Handler: deleteNoteHandler(store),
		},
		{
			Name:        "move_note",
			Description: "Moves or renames a note. The destination must be free.",
			Category:    CategoryDestructive,
			Schema: Schema{Params: []ParamSpec{
				{Name: "from", Type: "string", Description: "Current vault-relative path", Required: true},
				{Name: "to", Type: "string", Description: "New vault-relative path", Required: true},
			}},
			Handler: moveNoteHandler(store),
		},
	}
	for _, def := range defs {
		if err := reg.Register(def); err != nil {
			return err
		}
	}
	return nil
}

func appendNoteHandler(store vault.Store) Handler {
	return func(ctx context.Context, ec *ExecutionContext, args map[string]any) (any, error) {
		path := stringArg(args, "path")
		content := stringArg(args, "content")
		if len(content) > maxNoteBytes {
			return nil, fmt.Errorf("content exceeds the %d byte write limit", maxNoteBytes)
		}

		existing, err := store.Read(ctx, path)
		created := false
		switch {
		case err == nil:
		case errors.Is(err, vault.ErrNoteNotFound):
			created = true
		default:
			return nil, err
		}

		var builder strings.Builder
		builder.Write(existing)
		if len(existing) > 0 && !strings.HasSuffix(string(existing), "\n") {
			builder.WriteString("\n")
		}
		builder.WriteString(content)

		merged := builder.String()
		if len(merged) > maxNoteBytes {
			return nil, fmt.Errorf("note %s would exceed the %d byte limit", path, maxNoteBytes)
		}
		if err := store.Write(ctx, path, []byte(merged)); err != nil {
			return nil, err
		}
		return AppendPayload{Path: path, Created: created, Size: int64(len(merged))}, nil
	}
}

func updateNoteHandler(store vault.Store) Handler {
	return func(ctx context.Context, ec *ExecutionContext, args map[string]any) (any, error) {
		path := stringArg(args, "path")
		content := stringArg(args, "content")
		if len(content) > maxNoteBytes {
			return nil, fmt.Errorf("content exceeds the %d byte write limit", maxNoteBytes)
		}

		existing, err := store.Read(ctx, path)
		if err != nil {
			return nil, err
		}
		if string(existing) == content {
			return UpdatePayload{Path: path, Changed: false}, nil
		}

		preview, added, removed, err := diffPreview(path, string(existing), content)
		if err != nil {
			return nil, fmt.Errorf("build diff preview: %w", err)
		}
		if err := store.Write(ctx, path, []byte(content)); err != nil {
			return nil, err
		}
		return UpdatePayload{
			Path:         path,
			Changed:      true,
			Diff:         preview,
			LinesAdded:   added,
			LinesRemoved: removed,
		}, nil
	}
}

func deleteNoteHandler(store vault.Store) Handler {
	return func(ctx context.Context, ec *ExecutionContext, args map[string]any) (any, error) {
		path := stringArg(args, "path")
		if err := store.Delete(ctx, path); err != nil {
			return nil, err
		}
		return DeletePayload{Path: path}, nil
	}
}

func moveNoteHandler(store vault.Store) Handler {
	return func(ctx context.Context, ec *ExecutionContext, args map[string]any) (any, error) {
		from := stringArg(args, "from")
		to := stringArg(args, "to")
		if err := store.Move(ctx, from, to); err != nil {
			return nil, err
		}
		return MovePayload{From: from, To: to}, nil
	}
}

// diffPreview renders a unified diff between two note versions and
// counts the changed lines from the parsed hunks.
func diffPreview(path, before, after string) (string, int, int, error) {
	text, err := difflib.GetUnifiedDiffString(difflib.UnifiedDiff{
		A:        difflib.SplitLines(before),
		B:        difflib.SplitLines(after),
		FromFile: "a/" + path,
		ToFile:   "b/" + path,
		Context:  3,
	})
	if err != nil {
		return "", 0, 0, err
	}
	if text == "" {
		return "", 0, 0, nil
	}

	fileDiff, err := diff.ParseFileDiff([]byte(text))
	if err != nil {
		return "", 0, 0, err
	}
	added, removed := 0, 0
	for _, hunk := range fileDiff.Hunks {
		for _, line := range strings.Split(string(hunk.Body), "\n") {
			if strings.HasPrefix(line, "+") && !strings.HasPrefix(line, "+++") {
				added++
			} else if strings.HasPrefix(line, "-") && !strings.HasPrefix(line, "---") {
				removed++
			}
		}
	}
	return text, added, removed, nil
}
