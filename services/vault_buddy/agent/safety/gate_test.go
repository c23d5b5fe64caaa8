// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package safety

import (
	"context"
	"errors"
	"testing"
)

func TestDefaultGate_NonDestructivePasses(t *testing.T) {
	gate := NewDefaultGate()

	for _, category := range []string{"read_only", "vault_ops", "network"} {
		t.Run(category, func(t *testing.T) {
			dec, err := gate.Check(context.Background(), Request{ToolName: "read_note", Category: category}, Grants{}, nil)
			if err != nil {
				t.Fatalf("Check() error = %v", err)
			}
			if !dec.Allowed {
				t.Errorf("category %s should not be gated, reason: %s", category, dec.Reason)
			}
			if dec.Source != "not_gated" {
				t.Errorf("Source = %q, want not_gated", dec.Source)
			}
		})
	}
}

func TestDefaultGate_DestructiveDeniedWithoutGrantOrConfirm(t *testing.T) {
	gate := NewDefaultGate()

	dec, err := gate.Check(context.Background(), Request{ToolName: "delete_note", Category: "destructive"}, Grants{}, nil)
	if err != nil {
		t.Fatalf("Check() error = %v", err)
	}
	if dec.Allowed {
		t.Fatal("destructive call with no grant and no confirmation must be denied")
	}
	if dec.Reason == "" {
		t.Error("denial must carry a human-readable reason")
	}
}

func TestDefaultGate_SessionGrant(t *testing.T) {
	gate := NewDefaultGate()

	t.Run("blanket grant", func(t *testing.T) {
		dec, err := gate.Check(context.Background(),
			Request{ToolName: "delete_note", Category: "destructive"},
			Grants{AllowDestructive: true}, nil)
		if err != nil {
			t.Fatalf("Check() error = %v", err)
		}
		if !dec.Allowed || dec.Source != "session_grant" {
			t.Errorf("decision = %+v, want allowed by session_grant", dec)
		}
	})

	t.Run("per-tool grant", func(t *testing.T) {
		grants := Grants{AllowedTools: []string{"move_note"}}
		dec, _ := gate.Check(context.Background(),
			Request{ToolName: "move_note", Category: "destructive"}, grants, nil)
		if !dec.Allowed {
			t.Errorf("move_note should be granted, reason: %s", dec.Reason)
		}
		dec, _ = gate.Check(context.Background(),
			Request{ToolName: "delete_note", Category: "destructive"}, grants, nil)
		if dec.Allowed {
			t.Error("delete_note should not be covered by a move_note grant")
		}
	})
}

func TestDefaultGate_Confirmation(t *testing.T) {
	gate := NewDefaultGate()
	req := Request{SessionID: "s1", CallID: "c1", ToolName: "delete_note", Category: "destructive", Target: "inbox/old.md"}

	t.Run("approved", func(t *testing.T) {
		var asked Request
		confirm := func(ctx context.Context, r Request) (bool, error) {
			asked = r
			return true, nil
		}
		dec, err := gate.Check(context.Background(), req, Grants{}, confirm)
		if err != nil {
			t.Fatalf("Check() error = %v", err)
		}
		if !dec.Allowed || dec.Source != "confirmation" {
			t.Errorf("decision = %+v, want allowed by confirmation", dec)
		}
		if asked.Target != "inbox/old.md" {
			t.Errorf("confirmation request target = %q, want inbox/old.md", asked.Target)
		}
	})

	t.Run("declined", func(t *testing.T) {
		confirm := func(ctx context.Context, r Request) (bool, error) { return false, nil }
		dec, err := gate.Check(context.Background(), req, Grants{}, confirm)
		if err != nil {
			t.Fatalf("Check() error = %v", err)
		}
		if dec.Allowed {
			t.Error("declined confirmation must deny the call")
		}
	})

	t.Run("callback failure", func(t *testing.T) {
		confirm := func(ctx context.Context, r Request) (bool, error) {
			return false, errors.New("prompt channel closed")
		}
		_, err := gate.Check(context.Background(), req, Grants{}, confirm)
		if !errors.Is(err, ErrConfirmationFailed) {
			t.Errorf("Check() error = %v, want ErrConfirmationFailed", err)
		}
	})

	t.Run("grant short-circuits confirmation", func(t *testing.T) {
		called := false
		confirm := func(ctx context.Context, r Request) (bool, error) {
			called = true
			return false, nil
		}
		dec, _ := gate.Check(context.Background(), req, Grants{AllowDestructive: true}, confirm)
		if !dec.Allowed {
			t.Error("grant should allow without confirmation")
		}
		if called {
			t.Error("confirmation must not run when a grant exists")
		}
	})
}

func TestMockGate_RecordsCalls(t *testing.T) {
	mock := NewMockGate()
	_, _ = mock.Check(context.Background(), Request{ToolName: "a"}, Grants{}, nil)
	_, _ = mock.Check(context.Background(), Request{ToolName: "b"}, Grants{}, nil)

	if mock.CallCount() != 2 {
		t.Errorf("CallCount() = %d, want 2", mock.CallCount())
	}
	seen := mock.Seen()
	if len(seen) != 2 || seen[1].ToolName != "b" {
		t.Errorf("Seen() = %+v", seen)
	}
}
