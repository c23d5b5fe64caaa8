// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Command vaultbuddy starts the Vault Buddy API server over a local
// markdown vault.
//
// Usage:
//
//	go run ./cmd/vaultbuddy -vault ~/notes
//	go run ./cmd/vaultbuddy -vault ~/notes -port 9090 -debug
//	go run ./cmd/vaultbuddy -vault ~/notes -backend openai -model gpt-4o
//
// Example requests:
//
//	# Health check
//	curl http://localhost:12310/healthz
//
//	# Create an agent session
//	curl -X POST http://localhost:12310/v1/sessions \
//	  -H "Content-Type: application/json" \
//	  -d '{"title": "Trip Planning"}'
//
//	# Chat inside a session
//	curl -X POST http://localhost:12310/v1/sessions/SESSION_ID/chat \
//	  -H "Content-Type: application/json" \
//	  -d '{"message": "What notes mention the cabin?"}'
//
// # Environment Variables
//
//   - VAULTBUDDY_CONFIG: YAML config file; flags and env vars override it
//   - VAULTBUDDY_PORT: HTTP server port (default: 12310)
//   - VAULTBUDDY_VAULT_DIR: markdown vault root (or use -vault)
//   - VAULTBUDDY_DATA_DIR: session state directory (default: ./data)
//   - VAULTBUDDY_BACKEND: model provider - local, openai (default: local)
//   - VAULTBUDDY_BACKEND_URL: OpenAI-compatible endpoint for the local backend
//   - VAULTBUDDY_MODEL: default model name (default: gpt-4o-mini)
//   - WEAVIATE_SERVICE_URL: Weaviate URL for transcript recall (optional)
//   - OPENAI_API_KEY: API key for the openai backend
//   - OTEL_METRICS_EXPORTER: prometheus, stdout, or none (default: prometheus)
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/AleutianAI/AleutianVault/pkg/logging"
	"github.com/AleutianAI/AleutianVault/services/vault_buddy"
	"github.com/AleutianAI/AleutianVault/services/vault_buddy/llm"
	"github.com/AleutianAI/AleutianVault/services/vault_buddy/telemetry"
	"github.com/gin-gonic/gin"
)

func main() {
	configPath := flag.String("config", os.Getenv("VAULTBUDDY_CONFIG"), "YAML config file; flags and env vars override it")
	port := flag.Int("port", getEnvInt("VAULTBUDDY_PORT", 12310), "Port to listen on")
	vaultDir := flag.String("vault", os.Getenv("VAULTBUDDY_VAULT_DIR"), "Markdown vault root (required)")
	dataDir := flag.String("data", getEnvString("VAULTBUDDY_DATA_DIR", "./data"), "Session state directory")
	backend := flag.String("backend", getEnvString("VAULTBUDDY_BACKEND", "local"), "Model provider: local, openai")
	backendURL := flag.String("backend-url", os.Getenv("VAULTBUDDY_BACKEND_URL"), "Override the model API endpoint")
	memoryURL := flag.String("memory-url", os.Getenv("WEAVIATE_SERVICE_URL"), "Weaviate URL for transcript recall")
	model := flag.String("model", getEnvString("VAULTBUDDY_MODEL", "gpt-4o-mini"), "Default model name")
	noWatch := flag.Bool("no-watch", false, "Disable vault change watching")
	debug := flag.Bool("debug", false, "Enable debug mode")
	flag.Parse()

	cfg := vault_buddy.DefaultServiceConfig()
	fromFile := false
	if *configPath != "" {
		loaded, err := vault_buddy.LoadServiceConfig(*configPath)
		if err != nil {
			log.Fatalf("Failed to load config: %v", err)
		}
		cfg = loaded
		fromFile = true
	}

	// Without a config file every flag applies as before. With one,
	// only values given on the command line or in the environment
	// override the file.
	setFlags := map[string]bool{}
	flag.Visit(func(f *flag.Flag) { setFlags[f.Name] = true })
	explicit := func(name, env string) bool {
		return !fromFile || setFlags[name] || (env != "" && os.Getenv(env) != "")
	}

	if explicit("port", "VAULTBUDDY_PORT") {
		cfg.Port = *port
	}
	if explicit("vault", "VAULTBUDDY_VAULT_DIR") {
		cfg.VaultDir = *vaultDir
	}
	if explicit("data", "VAULTBUDDY_DATA_DIR") {
		cfg.DataDir = *dataDir
	}
	if explicit("backend", "VAULTBUDDY_BACKEND") {
		cfg.Backend = *backend
	}
	if explicit("memory-url", "WEAVIATE_SERVICE_URL") {
		cfg.MemoryURL = *memoryURL
	}
	if explicit("model", "VAULTBUDDY_MODEL") {
		cfg.Defaults.Model = *model
	}
	if explicit("no-watch", "") {
		cfg.DisableWatcher = *noWatch
	}
	if *backendURL != "" {
		cfg.BackendURL = *backendURL
	}

	if cfg.VaultDir == "" {
		log.Fatalf("No vault configured: pass -vault, set VAULTBUDDY_VAULT_DIR, or set vault_dir in the config file")
	}

	// Setup structured logging: text on stderr, JSON in the log file.
	level := logging.LevelInfo
	if *debug {
		level = logging.LevelDebug
	}
	logger := logging.New(logging.Config{
		Level:   level,
		LogDir:  "~/.vaultbuddy/logs",
		Service: "vaultbuddy",
	})
	slog.SetDefault(logger.Slog())

	// Telemetry is best-effort. Without it /metrics answers 404 and the
	// server still runs.
	shutdownTelemetry, err := telemetry.Init(context.Background(), telemetry.DefaultConfig())
	if err != nil {
		slog.Warn("Telemetry disabled", "error", err)
		shutdownTelemetry = nil
	}

	cfg.Logger = logger.Slog()
	if *debug {
		cfg.GinMode = gin.DebugMode
	} else {
		cfg.GinMode = gin.ReleaseMode
	}

	svc, err := vault_buddy.New(cfg)
	if err != nil {
		log.Fatalf("Failed to create Vault Buddy service: %v", err)
	}

	slog.Info("Starting Vault Buddy",
		"port", cfg.Port,
		"vault", cfg.VaultDir,
		"backend", cfg.Backend,
		"model", cfg.Defaults.Model,
	)
	printBanner(cfg.Port)

	// Handle graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-quit
		log.Println("\nShutting down Vault Buddy...")
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := svc.Close(ctx); err != nil {
			slog.Error("Shutdown error", "error", err)
		}
		if shutdownTelemetry != nil {
			if err := shutdownTelemetry(ctx); err != nil {
				slog.Error("Telemetry shutdown error", "error", err)
			}
		}
		llm.PurgeSecureMemory()
		_ = logger.Close()
		os.Exit(0)
	}()

	// Start server (blocks until shutdown)
	if err := svc.Run(); err != nil {
		log.Fatalf("Vault Buddy server error: %v", err)
	}
}

func printBanner(port int) {
	banner := `
╔═══════════════════════════════════════════════════════════════════╗
║                          VAULT BUDDY                              ║
╠═══════════════════════════════════════════════════════════════════╣
║                                                                   ║
║  An AI copilot for your local markdown vault.                     ║
║                                                                   ║
║  Quick Start:                                                     ║
║  ┌─────────────────────────────────────────────────────────────┐  ║
║  │ # Health check                                              │  ║
║  │ curl http://localhost:%d/healthz                         │  ║
║  │                                                             │  ║
║  │ # Create a session                                          │  ║
║  │ curl -X POST http://localhost:%d/v1/sessions \           │  ║
║  │   -H "Content-Type: application/json" -d '{}'               │  ║
║  │                                                             │  ║
║  │ # List the agent's tools                                    │  ║
║  │ curl http://localhost:%d/v1/tools | jq                   │  ║
║  └─────────────────────────────────────────────────────────────┘  ║
║                                                                   ║
║  Endpoints:                                                       ║
║  ├── Sessions: /v1/sessions, /:id/chat, /:id/history             ║
║  ├── Vault:    /v1/vault/events (note changes over WebSocket)    ║
║  ├── Tools:    /v1/tools                                         ║
║  └── Archive:  /v1/archive/export, /v1/archive/import            ║
║                                                                   ║
║  Press Ctrl+C to stop                                             ║
╚═══════════════════════════════════════════════════════════════════╝
`
	fmt.Printf(banner, port, port, port)
}

// getEnvString returns the environment variable value or a default.
func getEnvString(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvInt returns the environment variable as int or a default.
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}
