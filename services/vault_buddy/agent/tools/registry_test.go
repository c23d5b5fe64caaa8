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
	"testing"
)

func noopHandler(ctx context.Context, ec *ExecutionContext, args map[string]any) (any, error) {
	return nil, nil
}

func defNamed(name string, category Category) Definition {
	return Definition{
		Name:     name,
		Category: category,
		Handler:  noopHandler,
	}
}

func TestRegistry_RegisterAndLookup(t *testing.T) {
	r := NewRegistry()

	if err := r.Register(defNamed("read_note", CategoryReadOnly)); err != nil {
		t.Fatalf("Register() error = %v", err)
	}

	def, err := r.Lookup("read_note")
	if err != nil {
		t.Fatalf("Lookup() error = %v", err)
	}
	if def.Name != "read_note" || def.Category != CategoryReadOnly {
		t.Errorf("Lookup() = %+v", def)
	}
}

func TestRegistry_LookupMissing(t *testing.T) {
	r := NewRegistry()

	_, err := r.Lookup("no_such_tool")
	if !errors.Is(err, ErrToolNotFound) {
		t.Errorf("Lookup() error = %v, want ErrToolNotFound", err)
	}
}

func TestRegistry_DuplicateRejected(t *testing.T) {
	r := NewRegistry()

	if err := r.Register(defNamed("read_note", CategoryReadOnly)); err != nil {
		t.Fatalf("first Register() error = %v", err)
	}
	err := r.Register(defNamed("read_note", CategoryVaultOps))
	if !errors.Is(err, ErrDuplicateTool) {
		t.Errorf("second Register() error = %v, want ErrDuplicateTool", err)
	}

	// Original registration must be untouched.
	def, _ := r.Lookup("read_note")
	if def.Category != CategoryReadOnly {
		t.Errorf("duplicate registration overwrote the original: %+v", def)
	}
}

func TestRegistry_SealBlocksRegistration(t *testing.T) {
	r := NewRegistry()
	if err := r.Register(defNamed("read_note", CategoryReadOnly)); err != nil {
		t.Fatalf("Register() error = %v", err)
	}

	r.Seal()
	r.Seal() // idempotent

	err := r.Register(defNamed("late_tool", CategoryReadOnly))
	if !errors.Is(err, ErrRegistrySealed) {
		t.Errorf("Register() after Seal error = %v, want ErrRegistrySealed", err)
	}
	if r.Len() != 1 {
		t.Errorf("Len() = %d, want 1", r.Len())
	}
}

func TestRegistry_InvalidDefinitions(t *testing.T) {
	r := NewRegistry()

	tests := []struct {
		name string
		def  Definition
	}{
		{"empty name", Definition{Category: CategoryReadOnly, Handler: noopHandler}},
		{"nil handler", Definition{Name: "x", Category: CategoryReadOnly}},
		{"unknown category", Definition{Name: "x", Category: "sideways", Handler: noopHandler}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := r.Register(tt.def)
			if !errors.Is(err, ErrInvalidDefinition) {
				t.Errorf("Register() error = %v, want ErrInvalidDefinition", err)
			}
		})
	}
}

func TestRegistry_ListByCategoryKeepsOrder(t *testing.T) {
	r := NewRegistry()
	for _, def := range []Definition{
		defNamed("read_note", CategoryReadOnly),
		defNamed("delete_note", CategoryDestructive),
		defNamed("list_notes", CategoryReadOnly),
		defNamed("append_note", CategoryVaultOps),
		defNamed("search_notes", CategoryReadOnly),
	} {
		if err := r.Register(def); err != nil {
			t.Fatalf("Register(%s) error = %v", def.Name, err)
		}
	}

	reads := r.ListByCategory(CategoryReadOnly)
	want := []string{"read_note", "list_notes", "search_notes"}
	if len(reads) != len(want) {
		t.Fatalf("ListByCategory() returned %d defs, want %d", len(reads), len(want))
	}
	for i, def := range reads {
		if def.Name != want[i] {
			t.Errorf("ListByCategory()[%d] = %s, want %s", i, def.Name, want[i])
		}
	}

	all := r.List()
	if len(all) != 5 || all[0].Name != "read_note" || all[4].Name != "search_notes" {
		t.Errorf("List() order wrong: %v", all)
	}
}
