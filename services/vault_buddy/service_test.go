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
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestDefaultServiceConfig(t *testing.T) {
	cfg := DefaultServiceConfig()

	if cfg.Port != 12310 {
		t.Errorf("Port = %d, want 12310", cfg.Port)
	}
	if cfg.DataDir != "./data" {
		t.Errorf("DataDir = %q, want ./data", cfg.DataDir)
	}
	if cfg.Backend != "local" {
		t.Errorf("Backend = %q, want local", cfg.Backend)
	}
	if cfg.BackendURL != "http://localhost:11434/v1" {
		t.Errorf("BackendURL = %q", cfg.BackendURL)
	}
	if cfg.MaxTurnHops != 8 {
		t.Errorf("MaxTurnHops = %d, want 8", cfg.MaxTurnHops)
	}
	if cfg.Defaults.Model != "gpt-4o-mini" {
		t.Errorf("Defaults.Model = %q", cfg.Defaults.Model)
	}
	if cfg.Defaults.Temperature != 0.7 {
		t.Errorf("Defaults.Temperature = %v", cfg.Defaults.Temperature)
	}
	if cfg.Defaults.TopP != 1.0 {
		t.Errorf("Defaults.TopP = %v", cfg.Defaults.TopP)
	}
}

func TestLoadServiceConfig(t *testing.T) {
	dir := t.TempDir()

	t.Run("overrides and defaults", func(t *testing.T) {
		path := filepath.Join(dir, "vaultbuddy.yaml")
		content := "port: 9090\nvault_dir: /tmp/notes\nbackend: openai\ndefaults:\n  model: gpt-4o\n"
		if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
			t.Fatalf("write config: %v", err)
		}

		cfg, err := LoadServiceConfig(path)
		if err != nil {
			t.Fatalf("load: %v", err)
		}
		if cfg.Port != 9090 {
			t.Errorf("Port = %d, want 9090", cfg.Port)
		}
		if cfg.VaultDir != "/tmp/notes" {
			t.Errorf("VaultDir = %q", cfg.VaultDir)
		}
		if cfg.Backend != "openai" {
			t.Errorf("Backend = %q, want openai", cfg.Backend)
		}
		if cfg.Defaults.Model != "gpt-4o" {
			t.Errorf("Defaults.Model = %q, want gpt-4o", cfg.Defaults.Model)
		}
		// Untouched fields keep their defaults.
		if cfg.DataDir != "./data" {
			t.Errorf("DataDir = %q, want ./data", cfg.DataDir)
		}
		if cfg.MaxTurnHops != 8 {
			t.Errorf("MaxTurnHops = %d, want 8", cfg.MaxTurnHops)
		}
	})

	t.Run("empty file keeps defaults", func(t *testing.T) {
		path := filepath.Join(dir, "empty.yaml")
		if err := os.WriteFile(path, nil, 0o600); err != nil {
			t.Fatalf("write config: %v", err)
		}

		cfg, err := LoadServiceConfig(path)
		if err != nil {
			t.Fatalf("load: %v", err)
		}
		if cfg.Port != 12310 || cfg.Backend != "local" {
			t.Errorf("defaults not preserved: %+v", cfg)
		}
	})

	t.Run("unknown key rejected", func(t *testing.T) {
		path := filepath.Join(dir, "typo.yaml")
		if err := os.WriteFile(path, []byte("prot: 9090\n"), 0o600); err != nil {
			t.Fatalf("write config: %v", err)
		}

		if _, err := LoadServiceConfig(path); err == nil {
			t.Fatal("expected error for unknown key")
		}
	})

	t.Run("missing file", func(t *testing.T) {
		if _, err := LoadServiceConfig(filepath.Join(dir, "absent.yaml")); err == nil {
			t.Fatal("expected error for missing file")
		}
	})
}

func TestApplyServiceDefaults_Empty(t *testing.T) {
	cfg := applyServiceDefaults(ServiceConfig{})

	if cfg.Port != 12310 {
		t.Errorf("Port = %d, want 12310", cfg.Port)
	}
	if cfg.Backend != "local" {
		t.Errorf("Backend = %q, want local", cfg.Backend)
	}
	if cfg.BackendURL != "http://localhost:11434/v1" {
		t.Errorf("BackendURL = %q, want local default", cfg.BackendURL)
	}
	if cfg.MaxTurnHops != 8 {
		t.Errorf("MaxTurnHops = %d, want 8", cfg.MaxTurnHops)
	}
	if cfg.Defaults.Model == "" {
		t.Error("Defaults.Model not filled")
	}
	if cfg.Logger == nil {
		t.Error("Logger not filled")
	}
}

func TestApplyServiceDefaults_PreservesCustom(t *testing.T) {
	in := ServiceConfig{
		Port:        9999,
		Backend:     "openai",
		MaxTurnHops: 3,
	}
	cfg := applyServiceDefaults(in)

	if cfg.Port != 9999 {
		t.Errorf("Port = %d, want 9999", cfg.Port)
	}
	if cfg.Backend != "openai" {
		t.Errorf("Backend = %q, want openai", cfg.Backend)
	}
	if cfg.MaxTurnHops != 3 {
		t.Errorf("MaxTurnHops = %d, want 3", cfg.MaxTurnHops)
	}
	// The Ollama-style URL default applies only to the local backend.
	if cfg.BackendURL != "" {
		t.Errorf("BackendURL = %q, want empty for openai", cfg.BackendURL)
	}
}

func TestNew_RequiresVaultDir(t *testing.T) {
	_, err := New(ServiceConfig{
		Logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
	if err == nil {
		t.Fatal("expected error without VaultDir")
	}
	if !strings.Contains(err.Error(), "VaultDir") {
		t.Errorf("error = %v, want VaultDir mention", err)
	}
}

func TestNew_UnknownBackend(t *testing.T) {
	cfg := DefaultServiceConfig()
	cfg.VaultDir = t.TempDir()
	cfg.DataDir = t.TempDir()
	cfg.Backend = "azure"
	cfg.DisableWatcher = true
	cfg.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))

	_, err := New(cfg)
	if err == nil {
		t.Fatal("expected error for unknown backend")
	}
	if !strings.Contains(err.Error(), "unknown backend") {
		t.Errorf("error = %v", err)
	}
}

func TestNew_WiresComponents(t *testing.T) {
	svc := newTestService(t)

	if svc.vault == nil || svc.db == nil || svc.queue == nil || svc.store == nil {
		t.Error("storage layer not wired")
	}
	if svc.sessions == nil {
		t.Error("session manager not wired")
	}
	if svc.registry == nil || svc.engine == nil {
		t.Error("tool engine not wired")
	}
	if svc.backend == nil || svc.keys == nil {
		t.Error("model backend not wired")
	}
	if svc.events == nil {
		t.Error("event hub not wired")
	}
	if svc.router == nil {
		t.Error("router not wired")
	}
	if svc.memory != nil {
		t.Error("memory wired without a URL")
	}
	if svc.watcher != nil {
		t.Error("watcher running despite DisableWatcher")
	}
	if got := svc.registry.Len(); got != 8 {
		t.Errorf("registered tools = %d, want 8", got)
	}
}

func TestService_CloseTwice(t *testing.T) {
	cfg := DefaultServiceConfig()
	cfg.VaultDir = t.TempDir()
	cfg.DataDir = t.TempDir()
	cfg.DisableWatcher = true
	cfg.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))

	svc, err := New(cfg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	if err := svc.Close(context.Background()); err != nil {
		t.Errorf("first Close: %v", err)
	}
	if err := svc.Close(context.Background()); err != nil {
		t.Errorf("second Close: %v", err)
	}
}
